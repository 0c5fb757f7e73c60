// Package ingestion 驱动文档从提取文本到可检索索引的状态流转
package ingestion

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.opentelemetry.io/otel/attribute"

	"shayak-swasth-rag/internal/application/chunking"
	"shayak-swasth-rag/internal/application/vectorindex"
	"shayak-swasth-rag/internal/config"
	"shayak-swasth-rag/internal/domain/entity"
	"shayak-swasth-rag/internal/domain/repository"
	"shayak-swasth-rag/internal/domain/service"
	apperrors "shayak-swasth-rag/pkg/errors"
	"shayak-swasth-rag/pkg/logger"
	"shayak-swasth-rag/pkg/metrics"
	"shayak-swasth-rag/pkg/tracer"
)

// IndexWriter 构建并持久化索引版本
type IndexWriter interface {
	Build(ctx context.Context, documentID string, version int64, pairs []entity.ChunkVector) (*vectorindex.Handle, error)
	Persist(ctx context.Context, h *vectorindex.Handle) error
}

// Deps 协调器依赖；Publisher 与 Audit 可为空
type Deps struct {
	Documents repository.DocumentRepository
	Chunker   chunking.Chunker
	Embedder  service.Embedder
	Indexes   IndexWriter
	Locker    Locker
	Publisher service.EventPublisher
	Audit     service.AuditSink
}

// Result 一次成功摄取的结果
type Result struct {
	DocumentID string
	Version    int64
	ChunkCount int
	Duration   time.Duration
}

// Coordinator 摄取协调器
type Coordinator struct {
	Deps
	timeout    time.Duration
	staleAfter time.Duration
	retry      config.RetryConfig
}

// staleGrace 超时后留给原 worker 落库失败状态的时间
const staleGrace = time.Minute

// NewCoordinator 创建摄取协调器
func NewCoordinator(deps Deps, cfg config.IngestionConfig) *Coordinator {
	if deps.Locker == nil {
		deps.Locker = NewLocalLocker()
	}
	retry := cfg.Retry
	if retry.MaxAttempts <= 0 {
		retry.MaxAttempts = 3
	}
	if retry.Initial <= 0 {
		retry.Initial = 500 * time.Millisecond
	}
	if retry.Max <= 0 {
		retry.Max = 10 * time.Second
	}
	if retry.Multiplier <= 1 {
		retry.Multiplier = 2
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Minute
	}
	staleAfter := cfg.StaleAfter
	if staleAfter <= 0 {
		staleAfter = max(timeout, cfg.Lock.TTL) + staleGrace
	}
	return &Coordinator{Deps: deps, timeout: timeout, staleAfter: staleAfter, retry: retry}
}

// StaleAfter processing 超过该时长视为失联
func (c *Coordinator) StaleAfter() time.Duration { return c.staleAfter }

// Submit 标记为 pending 并投递摄取请求，由 worker 异步处理
func (c *Coordinator) Submit(ctx context.Context, req *entity.IngestRequest) (*entity.Document, error) {
	ctx, span := tracer.Start(ctx, "ingestion.Coordinator.Submit")
	defer span.End()

	if err := validate(req); err != nil {
		return nil, err
	}
	if c.Publisher == nil {
		return nil, apperrors.ErrServiceUnavailable.WithDetail("ingestion queue is not configured")
	}
	if _, err := c.ensureDocument(ctx, req); err != nil {
		return nil, err
	}
	doc, err := c.Documents.MarkPending(ctx, req.DocumentID, c.staleAfter)
	if err != nil {
		return nil, err
	}
	if err := c.Publisher.PublishIngestRequest(ctx, req); err != nil {
		tracer.RecordError(span, err)
		return nil, apperrors.Wrap(err, apperrors.CodeQueueError, "failed to enqueue ingestion request")
	}
	logger.Info(ctx, "ingestion request submitted", "document_id", req.DocumentID)
	return doc, nil
}

// Ingest 同步执行一次摄取：分块 → 嵌入 → 构建 → 持久化 → 前移版本
//
// 返回 AlreadyProcessing 时文档状态不变；其余失败都会把文档置为 error 并记录失败类别。
func (c *Coordinator) Ingest(ctx context.Context, req *entity.IngestRequest) (*Result, error) {
	if err := validate(req); err != nil {
		return nil, err
	}
	ctx = logger.WithDocument(ctx, req.DocumentID)
	ctx, span := tracer.Start(ctx, "ingestion.Coordinator.Ingest")
	defer span.End()
	span.SetAttributes(tracer.DocumentAttributes(req.DocumentID, 0)...)

	doc, err := c.ensureDocument(ctx, req)
	if err != nil {
		return nil, err
	}

	release, err := c.Locker.Acquire(ctx, req.DocumentID)
	if err != nil {
		return nil, err
	}
	defer release()

	prevStatus := doc.Status
	doc, err = c.Documents.BeginProcessing(ctx, req.DocumentID, c.staleAfter)
	if err != nil {
		return nil, err
	}
	if prevStatus == entity.DocumentStatusProcessing {
		logger.Warn(ctx, "taking over stale processing", "stale_after", c.staleAfter.String())
	}

	start := time.Now()
	contentType := string(req.ContentType)
	if contentType == "" {
		contentType = string(doc.ContentType)
	}
	version := doc.Version + 1
	span.SetAttributes(attribute.Int64("version", version))

	runCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	chunkCount, kind, err := c.run(runCtx, req, version)
	metrics.IngestionDuration.WithLabelValues(contentType).Observe(time.Since(start).Seconds())
	if err != nil {
		if runCtx.Err() != nil && errors.Is(runCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			kind = entity.FailureTimeout
		}
		tracer.RecordError(span, err)
		c.fail(ctx, doc, kind, err)
		return nil, err
	}

	metrics.IngestionTotal.WithLabelValues("processed", "").Inc()
	metrics.IngestionChunks.Observe(float64(chunkCount))
	logger.Info(ctx, "document ingested",
		"version", version,
		"chunks", chunkCount,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	c.emit(ctx, doc, entity.AuditOutcomeAllowed, map[string]any{"version": version, "chunks": chunkCount})

	if c.Publisher != nil {
		if perr := c.Publisher.PublishIndexPersisted(ctx, req.DocumentID, version); perr != nil {
			logger.Warn(ctx, "failed to publish index persisted event", "error", perr.Error())
		}
	}
	return &Result{DocumentID: req.DocumentID, Version: version, ChunkCount: chunkCount, Duration: time.Since(start)}, nil
}

// RecoverStale 把 worker 失联后遗留的 processing 文档置为 error(timeout)
func (c *Coordinator) RecoverStale(ctx context.Context) (int, error) {
	ctx, span := tracer.Start(ctx, "ingestion.Coordinator.RecoverStale")
	defer span.End()

	reaped, err := c.Documents.FailStale(ctx, c.staleAfter, "processing abandoned after "+c.staleAfter.String())
	for _, doc := range reaped {
		dctx := logger.WithDocument(ctx, doc.ID)
		metrics.IngestionTotal.WithLabelValues("error", string(entity.FailureTimeout)).Inc()
		logger.Warn(dctx, "stale processing recovered", "failure_kind", string(entity.FailureTimeout))
		c.emit(dctx, doc, entity.AuditOutcomeError, map[string]any{"failure_kind": string(entity.FailureTimeout)})
	}
	if err != nil {
		tracer.RecordError(span, err)
		return len(reaped), err
	}
	return len(reaped), nil
}

func (c *Coordinator) run(ctx context.Context, req *entity.IngestRequest, version int64) (int, entity.FailureKind, error) {
	chunks, err := c.Chunker.Chunk(req.DocumentID, version, req.Text)
	if err != nil {
		return 0, entity.FailureInvalidInput, err
	}
	if req.Text == "" {
		return 0, entity.FailureEmptyInput, apperrors.ErrEmptyInput.WithDetail("extracted text is empty")
	}

	texts := make([]string, len(chunks))
	for i, ch := range chunks {
		texts[i] = ch.Text
	}
	vectors, err := c.embedWithRetry(ctx, texts)
	if err != nil {
		return 0, embeddingFailureKind(err), err
	}

	pairs := make([]entity.ChunkVector, len(chunks))
	for i := range chunks {
		pairs[i] = entity.ChunkVector{Chunk: chunks[i], Vector: vectors[i]}
	}
	h, err := c.Indexes.Build(ctx, req.DocumentID, version, pairs)
	if err != nil {
		if apperrors.HasCode(err, apperrors.CodeDimensionMismatch) {
			return 0, entity.FailureDimensionMismatch, err
		}
		return 0, entity.FailureIndexBuild, err
	}
	if err := c.Indexes.Persist(ctx, h); err != nil {
		return 0, entity.FailurePersist, err
	}
	if err := c.Documents.MarkProcessed(ctx, req.DocumentID, version, len(chunks)); err != nil {
		return 0, entity.FailureInternal, err
	}
	return len(chunks), entity.FailureNone, nil
}

// embedWithRetry 瞬时故障按指数退避重试，其余错误立即返回
func (c *Coordinator) embedWithRetry(ctx context.Context, texts []string) ([][]float32, error) {
	attempt := 0
	op := func() ([][]float32, error) {
		attempt++
		vectors, err := c.Embedder.Embed(ctx, texts)
		if err != nil {
			if apperrors.IsTransient(err) && ctx.Err() == nil {
				return nil, err
			}
			return nil, backoff.Permanent(err)
		}
		if len(vectors) != len(texts) {
			return nil, backoff.Permanent(apperrors.ErrEmbeddingPermanent.WithDetail("embedder returned wrong number of vectors"))
		}
		return vectors, nil
	}

	vectors, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(&backoff.ExponentialBackOff{
			InitialInterval:     c.retry.Initial,
			RandomizationFactor: 0.2,
			Multiplier:          c.retry.Multiplier,
			MaxInterval:         c.retry.Max,
		}),
		backoff.WithMaxTries(uint(c.retry.MaxAttempts)),
		backoff.WithMaxElapsedTime(c.timeout),
		backoff.WithNotify(func(err error, next time.Duration) {
			metrics.EmbeddingRetries.Inc()
			logger.Warn(ctx, "transient embedding failure, retrying",
				"attempt", attempt, "next_in", next.String(), "error", err.Error())
		}),
	)
	if err != nil {
		return nil, err
	}
	return vectors, nil
}

func embeddingFailureKind(err error) entity.FailureKind {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return entity.FailureTimeout
	case apperrors.IsTransient(err):
		return entity.FailureEmbeddingExhausted
	case apperrors.HasCode(err, apperrors.CodeDimensionMismatch):
		return entity.FailureDimensionMismatch
	case apperrors.HasCode(err, apperrors.CodeEmbeddingPermanent):
		return entity.FailureEmbeddingPermanent
	}
	return entity.FailureInternal
}

func (c *Coordinator) fail(ctx context.Context, doc *entity.Document, kind entity.FailureKind, cause error) {
	if kind == entity.FailureNone {
		kind = entity.FailureInternal
	}
	// 调用方取消后仍需落库失败状态
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := c.Documents.MarkFailed(wctx, doc.ID, kind, cause.Error()); err != nil {
		logger.Error(wctx, "failed to record ingestion failure", err, "failure_kind", string(kind))
	}
	metrics.IngestionTotal.WithLabelValues("error", string(kind)).Inc()
	logger.Warn(wctx, "document ingestion failed", "failure_kind", string(kind), "error", cause.Error())
	c.emit(wctx, doc, entity.AuditOutcomeError, map[string]any{"failure_kind": string(kind)})
}

func (c *Coordinator) emit(ctx context.Context, doc *entity.Document, outcome entity.AuditOutcome, meta map[string]any) {
	if c.Audit == nil {
		return
	}
	event := entity.NewAuditEvent(doc.OwnerID, entity.AuditActionIngest, doc.ID, outcome)
	for k, v := range meta {
		event.Metadata[k] = v
	}
	if err := c.Audit.Emit(ctx, event); err != nil {
		logger.Warn(ctx, "failed to emit ingest audit event", "error", err.Error())
	}
}

// ensureDocument 首次出现的文档按请求元数据登记
func (c *Coordinator) ensureDocument(ctx context.Context, req *entity.IngestRequest) (*entity.Document, error) {
	doc, err := c.Documents.GetByID(ctx, req.DocumentID)
	if err != nil {
		return nil, err
	}
	if doc != nil {
		return doc, nil
	}
	if req.OwnerID == "" {
		return nil, apperrors.ErrDocumentNotFound.WithDetail(req.DocumentID)
	}

	doc = entity.NewDocument(req.DocumentID, req.OwnerID, req.Filename, req.ContentType)
	doc.TextRef = req.TextRef
	if err := c.Documents.Create(ctx, doc); err != nil {
		if !apperrors.HasCode(err, apperrors.CodeConflict) {
			return nil, err
		}
		// 并发创建
		return c.Documents.GetByID(ctx, req.DocumentID)
	}
	return doc, nil
}

func validate(req *entity.IngestRequest) error {
	if req == nil || strings.TrimSpace(req.DocumentID) == "" {
		return apperrors.New(apperrors.CodeInvalidParam, "document_id is required")
	}
	return nil
}
