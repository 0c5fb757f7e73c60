package messaging

import (
	"context"

	"shayak-swasth-rag/internal/domain/entity"
	"shayak-swasth-rag/internal/domain/service"
	"shayak-swasth-rag/pkg/logger"
)

// AuditSink 审计事件写入审计流，同时输出一行日志
type AuditSink struct {
	producer *Producer
}

var _ service.AuditSink = (*AuditSink)(nil)

// NewAuditSink producer 为 nil 时只写日志
func NewAuditSink(producer *Producer) *AuditSink {
	return &AuditSink{producer: producer}
}

// Emit 发出审计事件
func (s *AuditSink) Emit(ctx context.Context, event *entity.AuditEvent) error {
	logger.Info(ctx, "audit",
		"principal_id", event.PrincipalID,
		"action", string(event.Action),
		"resource_id", event.ResourceID,
		"outcome", string(event.Outcome),
		"metadata", event.Metadata,
	)
	if s.producer == nil {
		return nil
	}
	return s.producer.PublishAudit(ctx, event)
}
