// Package query 串联检索与答案生成，并发出答案审计事件
package query

import (
	"context"
	"sort"
	"strings"

	"shayak-swasth-rag/internal/application/retrieval"
	"shayak-swasth-rag/internal/application/synthesis"
	"shayak-swasth-rag/internal/domain/entity"
	"shayak-swasth-rag/internal/domain/service"
	"shayak-swasth-rag/pkg/logger"
	"shayak-swasth-rag/pkg/tracer"
)

// Searcher 检索端口
type Searcher interface {
	Search(ctx context.Context, in retrieval.SearchInput) (*retrieval.SearchOutput, error)
}

// AnswerSynthesizer 答案生成端口
type AnswerSynthesizer interface {
	Synthesize(ctx context.Context, query string, results []retrieval.Result) (*synthesis.Answer, error)
}

// Request 查询请求
type Request struct {
	Principal     entity.Principal
	Query         string
	DocumentScope []string
	// K 为空时取检索默认值
	K          *int
	WantAnswer bool
}

// Response 查询响应
type Response struct {
	Results        []retrieval.Result
	Answer         *synthesis.Answer
	DegradedReason string
}

// Service 查询编排
type Service struct {
	searcher    Searcher
	synthesizer AnswerSynthesizer
	audit       service.AuditSink
}

// NewService 创建查询服务；synthesizer 为 nil 时忽略 WantAnswer
func NewService(searcher Searcher, synthesizer AnswerSynthesizer, audit service.AuditSink) *Service {
	return &Service{searcher: searcher, synthesizer: synthesizer, audit: audit}
}

// Ask 过滤 → 检索 → 生成（可选）→ 审计
func (s *Service) Ask(ctx context.Context, req Request) (*Response, error) {
	ctx = logger.WithContext(ctx, logger.PrincipalIDKey, req.Principal.ID)
	ctx, span := tracer.Start(ctx, "query.Service.Ask")
	defer span.End()

	out, err := s.searcher.Search(ctx, retrieval.SearchInput{
		Principal:     req.Principal,
		Query:         req.Query,
		DocumentScope: req.DocumentScope,
		K:             req.K,
	})
	if err != nil {
		tracer.RecordError(span, err)
		return nil, err
	}

	resp := &Response{Results: out.Results, DegradedReason: out.DegradedReason}
	if !req.WantAnswer || s.synthesizer == nil {
		return resp, nil
	}

	ans, err := s.synthesizer.Synthesize(ctx, req.Query, out.Results)
	if err != nil {
		tracer.RecordError(span, err)
		s.emit(ctx, req.Principal, out.Results, nil, entity.AuditOutcomeError)
		return nil, err
	}
	resp.Answer = ans
	s.emit(ctx, req.Principal, out.Results, ans, entity.AuditOutcomeAllowed)
	return resp, nil
}

func (s *Service) emit(ctx context.Context, principal entity.Principal, results []retrieval.Result, ans *synthesis.Answer, outcome entity.AuditOutcome) {
	if s.audit == nil {
		return
	}
	docs := documentIDs(results)
	event := entity.NewAuditEvent(principal.ID, entity.AuditActionAnswer, strings.Join(docs, ","), outcome)
	event.Metadata["role"] = string(principal.Role)
	event.Metadata["results"] = len(results)
	if ans != nil {
		event.Metadata["mode"] = string(ans.Mode)
		event.Metadata["confidence"] = string(ans.Confidence)
		event.Metadata["citations"] = len(ans.Citations)
	}
	if err := s.audit.Emit(context.WithoutCancel(ctx), event); err != nil {
		logger.Warn(ctx, "failed to emit answer audit event", "error", err.Error())
	}
}

func documentIDs(results []retrieval.Result) []string {
	seen := make(map[string]struct{}, len(results))
	out := make([]string, 0, len(results))
	for _, r := range results {
		if _, ok := seen[r.DocumentID]; ok {
			continue
		}
		seen[r.DocumentID] = struct{}{}
		out = append(out, r.DocumentID)
	}
	sort.Strings(out)
	return out
}
