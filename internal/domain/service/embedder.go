// Package service 定义领域服务端口
package service

import (
	"context"

	"shayak-swasth-rag/internal/domain/entity"
)

// Embedder 嵌入服务端口
//
// 返回的错误按 pkg/errors 的 CodeEmbeddingTransient / CodeEmbeddingPermanent 归类。
type Embedder interface {
	// Embed 对一批文本计算向量，输出顺序与输入一致
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	// Dimension 向量维度，由提供方与模型配置决定
	Dimension() int
	// Name 提供方名称，用于指标与日志
	Name() string
}

// AuditSink 审计事件出口
type AuditSink interface {
	Emit(ctx context.Context, event *entity.AuditEvent) error
}

// EventPublisher 管线事件出口
type EventPublisher interface {
	// PublishIngestRequest 投递摄取请求，由 worker 异步处理
	PublishIngestRequest(ctx context.Context, req *entity.IngestRequest) error
	// PublishIndexPersisted 通知新版本索引已持久化
	PublishIndexPersisted(ctx context.Context, documentID string, version int64) error
}
