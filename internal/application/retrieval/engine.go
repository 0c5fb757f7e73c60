// Package retrieval 在访问控制过滤后的文档集合上做向量检索
package retrieval

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"shayak-swasth-rag/internal/application/vectorindex"
	"shayak-swasth-rag/internal/domain/entity"
	"shayak-swasth-rag/internal/domain/service"
	apperrors "shayak-swasth-rag/pkg/errors"
	"shayak-swasth-rag/pkg/logger"
	"shayak-swasth-rag/pkg/metrics"
	"shayak-swasth-rag/pkg/tracer"
)

const (
	defaultK           = 5
	defaultMaxK        = 50
	defaultMaxParallel = 8
)

// AccessFilter 访问控制端口
type AccessFilter interface {
	Candidates(ctx context.Context, principal entity.Principal) ([]string, error)
	AllowedDocuments(ctx context.Context, principal entity.Principal, candidates []string, action entity.AuditAction) ([]string, error)
}

// IndexLoader 加载文档当前服务版本的索引
type IndexLoader interface {
	Load(ctx context.Context, documentID string) (*vectorindex.Handle, error)
}

// Options 检索配置
type Options struct {
	DefaultK    int
	MaxK        int
	MaxParallel int
}

// Engine 检索引擎
type Engine struct {
	access   AccessFilter
	indexes  IndexLoader
	embedder service.Embedder

	defaultK    int
	maxK        int
	maxParallel int
}

// NewEngine 创建检索引擎
func NewEngine(access AccessFilter, indexes IndexLoader, embedder service.Embedder, opts Options) *Engine {
	e := &Engine{
		access:      access,
		indexes:     indexes,
		embedder:    embedder,
		defaultK:    opts.DefaultK,
		maxK:        opts.MaxK,
		maxParallel: opts.MaxParallel,
	}
	if e.maxK <= 0 {
		e.maxK = defaultMaxK
	}
	if e.defaultK <= 0 {
		e.defaultK = defaultK
	}
	if e.defaultK > e.maxK {
		e.defaultK = e.maxK
	}
	if e.maxParallel <= 0 {
		e.maxParallel = defaultMaxParallel
	}
	return e
}

// Search 过滤 → 查询向量 → 逐文档检索 → 合并
func (e *Engine) Search(ctx context.Context, in SearchInput) (out *SearchOutput, err error) {
	ctx, span := tracer.Start(ctx, "retrieval.Engine.Search")
	defer span.End()

	start := time.Now()
	status := "ok"
	defer func() {
		if err != nil {
			status = "error"
			tracer.RecordError(span, err)
		} else if out != nil && out.DegradedReason != "" {
			status = "degraded"
		}
		metrics.RetrievalDuration.WithLabelValues(status).Observe(time.Since(start).Seconds())
	}()

	query := strings.TrimSpace(in.Query)
	if query == "" {
		return nil, apperrors.New(apperrors.CodeInvalidParam, "query is required")
	}
	k, err := e.resolveK(in.K)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String("principal_id", in.Principal.ID), attribute.Int("k", k))

	scoped := len(in.DocumentScope) > 0
	candidates := in.DocumentScope
	if !scoped {
		candidates, err = e.access.Candidates(ctx, in.Principal)
		if err != nil {
			return nil, err
		}
	}

	allowed, err := e.access.AllowedDocuments(ctx, in.Principal, candidates, entity.AuditActionQuery)
	if err != nil {
		return nil, err
	}
	metrics.RetrievalDocuments.Observe(float64(len(allowed)))
	out = &SearchOutput{Results: []Result{}}
	if len(allowed) == 0 {
		return out, nil
	}

	vectors, err := e.embedder.Embed(ctx, []string{query})
	if err != nil || len(vectors) != 1 {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		if err == nil {
			err = errors.New("embedder returned no vector")
		}
		logger.Warn(ctx, "query embedding failed, returning degraded result", "error", err.Error())
		out.DegradedReason = "query embedding unavailable: " + err.Error()
		return out, nil
	}

	results, searched, skipped, err := e.searchDocuments(ctx, allowed, vectors[0], k)
	if err != nil {
		return nil, err
	}
	// 仅当调用方只指定了这一个文档时才报告缺少索引
	if scoped && distinctCount(in.DocumentScope) == 1 && len(allowed) == 1 && len(skipped) == 1 {
		return nil, apperrors.ErrIndexNotFound.WithDetail(allowed[0])
	}

	out.Results = mergeTopK(results, k)
	out.Searched = searched
	out.Skipped = skipped
	span.SetAttributes(
		attribute.Int("documents_searched", searched),
		attribute.Int("results", len(out.Results)),
	)
	return out, nil
}

func (e *Engine) resolveK(k *int) (int, error) {
	switch {
	case k == nil:
		return e.defaultK, nil
	case *k <= 0:
		return 0, apperrors.Newf(apperrors.CodeInvalidParam, "k must be a positive integer, got %d", *k)
	case *k > e.maxK:
		return 0, apperrors.Newf(apperrors.CodeInvalidParam, "k must not exceed %d, got %d", e.maxK, *k)
	}
	return *k, nil
}

func distinctCount(ids []string) int {
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		seen[id] = struct{}{}
	}
	return len(seen)
}

// searchDocuments 并发加载并检索各文档，单个文档失败时跳过
func (e *Engine) searchDocuments(ctx context.Context, docIDs []string, query []float32, k int) ([]Result, int, []string, error) {
	perDoc := make([][]Result, len(docIDs))
	var (
		mu      sync.Mutex
		skipped []string
	)
	skip := func(id string) {
		mu.Lock()
		skipped = append(skipped, id)
		mu.Unlock()
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.maxParallel)
	for i, id := range docIDs {
		i, id := i, id
		g.Go(func() error {
			h, err := e.indexes.Load(gctx, id)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				if !apperrors.HasCode(err, apperrors.CodeIndexNotFound) {
					logger.Warn(gctx, "failed to load index, skipping document", "document_id", id, "error", err.Error())
				}
				skip(id)
				return nil
			}
			res, err := h.Search(gctx, query, k)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				logger.Warn(gctx, "index search failed, skipping document", "document_id", id, "error", err.Error())
				skip(id)
				return nil
			}
			perDoc[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, 0, nil, err
	}

	var all []Result
	for _, r := range perDoc {
		all = append(all, r...)
	}
	sort.Strings(skipped)
	return all, len(docIDs) - len(skipped), skipped, nil
}

// mergeTopK 分数降序，同分按文档 ID 升序、再按序号升序
func mergeTopK(results []Result, k int) []Result {
	sort.SliceStable(results, func(i, j int) bool {
		a, b := results[i], results[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.DocumentID != b.DocumentID {
			return a.DocumentID < b.DocumentID
		}
		return a.Sequence < b.Sequence
	})
	if len(results) > k {
		results = results[:k]
	}
	if results == nil {
		results = []Result{}
	}
	return results
}
