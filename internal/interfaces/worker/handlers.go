// Package worker 摄取 worker 的流消息处理与定时任务
package worker

import (
	"context"
	"fmt"
	"time"

	"shayak-swasth-rag/internal/application/ingestion"
	"shayak-swasth-rag/internal/domain/entity"
	"shayak-swasth-rag/internal/infrastructure/messaging"
	apperrors "shayak-swasth-rag/pkg/errors"
	"shayak-swasth-rag/pkg/logger"
)

// Ingestor 同步摄取
type Ingestor interface {
	Ingest(ctx context.Context, req *entity.IngestRequest) (*ingestion.Result, error)
}

// Evictor 旧版本清理
type Evictor interface {
	Evict(ctx context.Context, documentID string, olderThan time.Duration) (int, error)
	EvictAll(ctx context.Context, olderThan time.Duration) (int, error)
}

// IngestHandler 处理 ingest.request 消息
//
// 已记录到文档上的管线失败与 AlreadyProcessing 直接确认；
// 基础设施错误返回给 Consumer 走重试与死信。
func IngestHandler(ing Ingestor) messaging.MessageHandler {
	return func(ctx context.Context, msg *messaging.Message) error {
		var req entity.IngestRequest
		if err := msg.UnmarshalPayload(&req); err != nil {
			return fmt.Errorf("decode ingest request: %w", err)
		}
		ctx = logger.WithDocument(ctx, req.DocumentID)

		res, err := ing.Ingest(ctx, &req)
		if err == nil {
			logger.Info(ctx, "ingest message processed", "version", res.Version, "chunks", res.ChunkCount)
			return nil
		}
		if retryable(err) {
			return err
		}
		logger.Warn(ctx, "ingest message dropped", "error", err.Error())
		return nil
	}
}

// IndexEventHandler 新版本上线后清理超出保留期的旧版本
func IndexEventHandler(ev Evictor, retention time.Duration) messaging.MessageHandler {
	return func(ctx context.Context, msg *messaging.Message) error {
		var payload messaging.IndexPersistedMessage
		if err := msg.UnmarshalPayload(&payload); err != nil {
			return fmt.Errorf("decode index event: %w", err)
		}
		ctx = logger.WithDocument(ctx, payload.DocumentID)

		removed, err := ev.Evict(ctx, payload.DocumentID, retention)
		if err != nil {
			return err
		}
		logger.Debug(ctx, "index event handled", "version", payload.Version, "evicted", removed)
		return nil
	}
}

func retryable(err error) bool {
	if !apperrors.IsAppError(err) {
		return true
	}
	for _, code := range []apperrors.ErrorCode{
		apperrors.CodeDatabaseError,
		apperrors.CodeCacheError,
		apperrors.CodeQueueError,
		apperrors.CodeServiceUnavailable,
	} {
		if apperrors.HasCode(err, code) {
			return true
		}
	}
	return false
}
