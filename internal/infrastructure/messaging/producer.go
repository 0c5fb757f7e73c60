package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"shayak-swasth-rag/internal/domain/entity"
	"shayak-swasth-rag/internal/domain/service"
	"shayak-swasth-rag/pkg/logger"
)

var tracer = otel.Tracer("messaging")

// Producer 消息生产者
type Producer struct {
	client redis.UniversalClient
	maxLen int64
}

var _ service.EventPublisher = (*Producer)(nil)

// NewProducer 创建消息生产者
func NewProducer(client redis.UniversalClient, maxLen int64) *Producer {
	if maxLen <= 0 {
		maxLen = 100000
	}
	return &Producer{
		client: client,
		maxLen: maxLen,
	}
}

// Publish 发布消息到指定流
func (p *Producer) Publish(ctx context.Context, stream Stream, msg *Message) (string, error) {
	ctx, span := tracer.Start(ctx, "producer.Publish",
		trace.WithAttributes(
			attribute.String("stream", string(stream)),
			attribute.String("message.id", msg.ID),
			attribute.String("message.type", msg.Type),
		))
	defer span.End()

	propagate(ctx, msg)
	data, err := json.Marshal(msg)
	if err != nil {
		span.RecordError(err)
		return "", fmt.Errorf("failed to marshal message: %w", err)
	}

	result, err := p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: string(stream),
		MaxLen: p.maxLen,
		Approx: true,
		Values: map[string]interface{}{
			"data": string(data),
		},
	}).Result()
	if err != nil {
		span.RecordError(err)
		return "", fmt.Errorf("failed to publish message: %w", err)
	}

	span.SetAttributes(attribute.String("stream.message_id", result))
	return result, nil
}

// PublishIngestRequest 投递摄取请求
func (p *Producer) PublishIngestRequest(ctx context.Context, req *entity.IngestRequest) error {
	msg, err := NewMessage(uuid.NewString(), TypeIngestRequest, req)
	if err != nil {
		return err
	}
	msg.SetMetadata("document_id", req.DocumentID)
	_, err = p.Publish(ctx, StreamIngestRequest, msg)
	return err
}

// PublishIndexPersisted 发布索引持久化事件
func (p *Producer) PublishIndexPersisted(ctx context.Context, documentID string, version int64) error {
	msg, err := NewMessage(uuid.NewString(), TypeIndexPersisted, &IndexPersistedMessage{
		DocumentID: documentID,
		Version:    version,
	})
	if err != nil {
		return err
	}
	msg.SetMetadata("document_id", documentID)
	msg.SetMetadata("version", strconv.FormatInt(version, 10))
	_, err = p.Publish(ctx, StreamIndexEvents, msg)
	return err
}

// PublishAudit 发布审计事件
func (p *Producer) PublishAudit(ctx context.Context, event *entity.AuditEvent) error {
	msg, err := NewMessage(uuid.NewString(), TypeAudit, event)
	if err != nil {
		return err
	}
	_, err = p.Publish(ctx, StreamAuditLog, msg)
	return err
}

// propagate 把请求与追踪 ID 带到消费端
func propagate(ctx context.Context, msg *Message) {
	if v, ok := ctx.Value(logger.RequestIDKey).(string); ok && v != "" && msg.GetMetadata("request_id") == "" {
		msg.SetMetadata("request_id", v)
	}
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() && msg.GetMetadata("trace_id") == "" {
		msg.SetMetadata("trace_id", sc.TraceID().String())
	}
}
