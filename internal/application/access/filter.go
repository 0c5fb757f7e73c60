// Package access 按所有权、授权与角色过滤候选文档
package access

import (
	"context"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel/attribute"

	"shayak-swasth-rag/internal/domain/entity"
	"shayak-swasth-rag/internal/domain/repository"
	"shayak-swasth-rag/internal/domain/service"
	"shayak-swasth-rag/pkg/logger"
	"shayak-swasth-rag/pkg/metrics"
	"shayak-swasth-rag/pkg/tracer"
)

const (
	reasonOwner   = "owner"
	reasonGrant   = "grant"
	reasonRole    = "role"
	reasonNoGrant = "no_grant"
	reasonUnknown = "unknown_document"
)

// Filter 访问控制过滤器
type Filter struct {
	docs   repository.DocumentRepository
	grants repository.GrantRepository
	audit  service.AuditSink
}

// NewFilter 创建访问控制过滤器
func NewFilter(docs repository.DocumentRepository, grants repository.GrantRepository, audit service.AuditSink) *Filter {
	return &Filter{docs: docs, grants: grants, audit: audit}
}

// Candidates 主体可能访问的全部文档：系统角色为全部文档，否则为本人文档加授权文档
func (f *Filter) Candidates(ctx context.Context, principal entity.Principal) ([]string, error) {
	if principal.HasSystemScope() {
		return f.docs.ListIDs(ctx, "")
	}
	owned, err := f.docs.ListIDs(ctx, principal.ID)
	if err != nil {
		return nil, err
	}
	granted, err := f.grants.DocumentIDsForPrincipal(ctx, principal.ID)
	if err != nil {
		return nil, err
	}
	return dedupe(append(owned, granted...)), nil
}

// AllowedDocuments 返回候选中主体可访问的子集，保持候选顺序并去重
//
// 不存在的文档一律拒绝。拒绝不返回错误，每次调用发出一条汇总审计事件。
func (f *Filter) AllowedDocuments(ctx context.Context, principal entity.Principal, candidates []string, action entity.AuditAction) ([]string, error) {
	ctx, span := tracer.Start(ctx, "access.Filter.AllowedDocuments")
	defer span.End()

	candidates = dedupe(candidates)
	span.SetAttributes(
		attribute.String("principal_id", principal.ID),
		attribute.Int("candidates", len(candidates)),
	)

	allowed, err := f.decide(ctx, principal, candidates)
	if err != nil {
		tracer.RecordError(span, err)
		f.emit(ctx, principal, candidates, nil, action, entity.AuditOutcomeError)
		return nil, err
	}

	outcome := entity.AuditOutcomeAllowed
	if len(candidates) > 0 && len(allowed) == 0 {
		outcome = entity.AuditOutcomeDenied
	}
	f.emit(ctx, principal, candidates, allowed, action, outcome)
	span.SetAttributes(attribute.Int("allowed", len(allowed)))
	return allowed, nil
}

// CanRead 单文档读权限判定，不发审计事件，用于状态查询
func (f *Filter) CanRead(ctx context.Context, principal entity.Principal, documentID string) (bool, error) {
	allowed, err := f.decide(ctx, principal, []string{documentID})
	if err != nil {
		return false, err
	}
	return len(allowed) == 1, nil
}

func (f *Filter) decide(ctx context.Context, principal entity.Principal, candidates []string) ([]string, error) {
	if len(candidates) == 0 {
		return nil, nil
	}

	docs, err := f.docs.GetByIDs(ctx, candidates)
	if err != nil {
		return nil, err
	}

	var grants map[string]*entity.AccessGrant
	if !principal.HasSystemScope() {
		grants, err = f.grants.ActiveForPrincipal(ctx, principal.ID, candidates)
		if err != nil {
			return nil, err
		}
	}

	allowed := make([]string, 0, len(candidates))
	for _, id := range candidates {
		doc, ok := docs[id]
		var reason string
		switch {
		case !ok:
			reason = reasonUnknown
		case principal.ID != "" && doc.OwnerID == principal.ID:
			reason = reasonOwner
		case principal.HasSystemScope():
			reason = reasonRole
		case grants[id].Allows():
			reason = reasonGrant
		default:
			reason = reasonNoGrant
		}

		if reason == reasonUnknown || reason == reasonNoGrant {
			metrics.AccessDecisions.WithLabelValues("denied", reason).Inc()
			continue
		}
		metrics.AccessDecisions.WithLabelValues("allowed", reason).Inc()
		allowed = append(allowed, id)
	}
	return allowed, nil
}

func (f *Filter) emit(ctx context.Context, principal entity.Principal, candidates, allowed []string, action entity.AuditAction, outcome entity.AuditOutcome) {
	if f.audit == nil {
		return
	}
	event := entity.NewAuditEvent(principal.ID, action, resourceFor(candidates), outcome)
	event.Metadata["role"] = string(principal.Role)
	event.Metadata["candidates"] = len(candidates)
	event.Metadata["allowed"] = len(allowed)
	event.Metadata["denied"] = len(candidates) - len(allowed)
	if err := f.audit.Emit(ctx, event); err != nil {
		logger.Warn(ctx, "failed to emit access audit event", "error", err.Error(), "outcome", string(outcome))
	}
}

// resourceFor 单文档时为其 ID，否则为文档集合摘要
func resourceFor(candidates []string) string {
	switch len(candidates) {
	case 0:
		return "documents:none"
	case 1:
		return candidates[0]
	}
	if len(candidates) <= 5 {
		return "documents:" + strings.Join(candidates, ",")
	}
	return fmt.Sprintf("documents:%d", len(candidates))
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
