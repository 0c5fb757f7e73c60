package ingestion

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shayak-swasth-rag/internal/application/chunking"
	"shayak-swasth-rag/internal/application/vectorindex"
	"shayak-swasth-rag/internal/config"
	"shayak-swasth-rag/internal/domain/entity"
	"shayak-swasth-rag/internal/infrastructure/persistence/memory"
	apperrors "shayak-swasth-rag/pkg/errors"
)

// --- Mock implementations ---

// flakyEmbedder 前 failures 次返回 err，之后返回固定向量
type flakyEmbedder struct {
	failures int32
	err      error
	calls    atomic.Int32
	block    chan struct{}
}

func (e *flakyEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	n := e.calls.Add(1)
	if e.block != nil {
		select {
		case <-e.block:
		case <-ctx.Done():
			return nil, apperrors.ErrEmbeddingTransient.WithError(ctx.Err())
		}
	}
	if e.failures < 0 || n <= e.failures {
		return nil, e.err
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		v := make([]float32, 4)
		v[i%4] = 1
		out[i] = v
	}
	return out, nil
}

func (e *flakyEmbedder) Dimension() int { return 4 }
func (e *flakyEmbedder) Name() string   { return "flaky" }

type recordingPublisher struct {
	mu        sync.Mutex
	requests  []*entity.IngestRequest
	persisted []int64
}

func (p *recordingPublisher) PublishIngestRequest(_ context.Context, req *entity.IngestRequest) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.requests = append(p.requests, req)
	return nil
}

func (p *recordingPublisher) PublishIndexPersisted(_ context.Context, _ string, version int64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.persisted = append(p.persisted, version)
	return nil
}

type recordingSink struct {
	mu     sync.Mutex
	events []*entity.AuditEvent
}

func (s *recordingSink) Emit(_ context.Context, e *entity.AuditEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
	return nil
}

// --- Helpers ---

type fixture struct {
	coord     *Coordinator
	docs      *memory.DocumentRepository
	indexes   *vectorindex.Manager
	embedder  *flakyEmbedder
	publisher *recordingPublisher
	sink      *recordingSink
}

func newFixture(t *testing.T, embedder *flakyEmbedder, timeout time.Duration, opts ...func(*config.IngestionConfig)) *fixture {
	t.Helper()
	docs := memory.NewDocumentRepository()
	indexes := vectorindex.NewManager(vectorindex.NewFlatBackend(), memory.NewIndexStore(), docs, vectorindex.Options{Dimension: 4})
	chunker, err := chunking.NewWindowChunker(10, 2)
	require.NoError(t, err)
	publisher := &recordingPublisher{}
	sink := &recordingSink{}

	cfg := config.IngestionConfig{
		Timeout: timeout,
		Retry: config.RetryConfig{
			MaxAttempts: 5,
			Initial:     time.Millisecond,
			Max:         2 * time.Millisecond,
			Multiplier:  2,
		},
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	coord := NewCoordinator(Deps{
		Documents: docs,
		Chunker:   chunker,
		Embedder:  embedder,
		Indexes:   indexes,
		Locker:    NewLocalLocker(),
		Publisher: publisher,
		Audit:     sink,
	}, cfg)
	return &fixture{coord: coord, docs: docs, indexes: indexes, embedder: embedder, publisher: publisher, sink: sink}
}

func staleAfter(d time.Duration) func(*config.IngestionConfig) {
	return func(cfg *config.IngestionConfig) { cfg.StaleAfter = d }
}

// abandon 模拟 worker 在 BeginProcessing 之后崩溃
func abandon(t *testing.T, f *fixture) {
	t.Helper()
	_, err := f.docs.BeginProcessing(context.Background(), "doc-1", time.Hour)
	require.NoError(t, err)
}

func request(text string) *entity.IngestRequest {
	return &entity.IngestRequest{
		DocumentID:  "doc-1",
		OwnerID:     "patient-a",
		Text:        text,
		ContentType: entity.ContentTypeReport,
	}
}

func getDoc(t *testing.T, f *fixture) *entity.Document {
	t.Helper()
	doc, err := f.docs.GetByID(context.Background(), "doc-1")
	require.NoError(t, err)
	require.NotNil(t, doc)
	return doc
}

// --- Tests ---

func TestIngest_ProcessesDocument(t *testing.T) {
	f := newFixture(t, &flakyEmbedder{}, time.Minute)

	res, err := f.coord.Ingest(context.Background(), request(strings.Repeat("a", 25)))
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.Version)
	assert.Equal(t, 3, res.ChunkCount)

	doc := getDoc(t, f)
	assert.Equal(t, entity.DocumentStatusProcessed, doc.Status)
	assert.Equal(t, int64(1), doc.Version)
	assert.Equal(t, 3, doc.ChunkCount)

	h, err := f.indexes.Load(context.Background(), "doc-1")
	require.NoError(t, err)
	assert.Equal(t, 3, h.Len())

	assert.Equal(t, []int64{1}, f.publisher.persisted)
	require.Len(t, f.sink.events, 1)
	assert.Equal(t, entity.AuditActionIngest, f.sink.events[0].Action)
	assert.Equal(t, entity.AuditOutcomeAllowed, f.sink.events[0].Outcome)
}

func TestIngest_TransientFailuresThenSuccess(t *testing.T) {
	embedder := &flakyEmbedder{failures: 3, err: apperrors.ErrEmbeddingTransient}
	f := newFixture(t, embedder, time.Minute)

	_, err := f.coord.Ingest(context.Background(), request("some clinical text"))
	require.NoError(t, err)
	assert.Equal(t, int32(4), embedder.calls.Load())
	assert.Equal(t, entity.DocumentStatusProcessed, getDoc(t, f).Status)
}

func TestIngest_RetriesExhausted(t *testing.T) {
	embedder := &flakyEmbedder{failures: -1, err: apperrors.ErrEmbeddingTransient}
	f := newFixture(t, embedder, time.Minute)

	_, err := f.coord.Ingest(context.Background(), request("some clinical text"))
	require.Error(t, err)
	assert.True(t, apperrors.IsTransient(err))
	assert.Equal(t, int32(5), embedder.calls.Load())

	doc := getDoc(t, f)
	assert.Equal(t, entity.DocumentStatusError, doc.Status)
	assert.Equal(t, entity.FailureEmbeddingExhausted, doc.FailureKind)
	assert.Empty(t, f.publisher.persisted)
	require.Len(t, f.sink.events, 1)
	assert.Equal(t, entity.AuditOutcomeError, f.sink.events[0].Outcome)
}

func TestIngest_PermanentFailureIsNotRetried(t *testing.T) {
	embedder := &flakyEmbedder{failures: -1, err: apperrors.ErrEmbeddingPermanent}
	f := newFixture(t, embedder, time.Minute)

	_, err := f.coord.Ingest(context.Background(), request("some clinical text"))
	require.Error(t, err)
	assert.Equal(t, int32(1), embedder.calls.Load())
	assert.Equal(t, entity.FailureEmbeddingPermanent, getDoc(t, f).FailureKind)
}

func TestIngest_EmptyText(t *testing.T) {
	f := newFixture(t, &flakyEmbedder{}, time.Minute)

	_, err := f.coord.Ingest(context.Background(), request(""))
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeEmptyInput))

	doc := getDoc(t, f)
	assert.Equal(t, entity.DocumentStatusError, doc.Status)
	assert.Equal(t, entity.FailureEmptyInput, doc.FailureKind)
	assert.Equal(t, int32(0), f.embedder.calls.Load())
}

func TestIngest_AlreadyProcessing(t *testing.T) {
	block := make(chan struct{})
	f := newFixture(t, &flakyEmbedder{block: block}, time.Minute)

	done := make(chan error, 1)
	go func() {
		_, err := f.coord.Ingest(context.Background(), request("some clinical text"))
		done <- err
	}()
	require.Eventually(t, func() bool { return f.embedder.calls.Load() > 0 }, time.Second, time.Millisecond)

	_, err := f.coord.Ingest(context.Background(), request("other text"))
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeAlreadyProcessing))

	_, err = f.coord.Submit(context.Background(), request("other text"))
	assert.True(t, apperrors.HasCode(err, apperrors.CodeAlreadyProcessing))

	close(block)
	require.NoError(t, <-done)
	assert.Equal(t, entity.DocumentStatusProcessed, getDoc(t, f).Status)
}

func TestIngest_ReprocessSupersedesVersion(t *testing.T) {
	f := newFixture(t, &flakyEmbedder{}, time.Minute)
	ctx := context.Background()

	_, err := f.coord.Ingest(ctx, request(strings.Repeat("a", 25)))
	require.NoError(t, err)
	res, err := f.coord.Ingest(ctx, request("short"))
	require.NoError(t, err)
	assert.Equal(t, int64(2), res.Version)

	h, err := f.indexes.Load(ctx, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), h.Key.Version)
	assert.Equal(t, 1, h.Len())
}

func TestIngest_TimeoutRecordsKind(t *testing.T) {
	f := newFixture(t, &flakyEmbedder{block: make(chan struct{})}, 20*time.Millisecond)

	_, err := f.coord.Ingest(context.Background(), request("some clinical text"))
	require.Error(t, err)
	assert.Equal(t, entity.FailureTimeout, getDoc(t, f).FailureKind)
}

func TestIngest_RejectsMissingDocumentID(t *testing.T) {
	f := newFixture(t, &flakyEmbedder{}, time.Minute)

	_, err := f.coord.Ingest(context.Background(), &entity.IngestRequest{})
	assert.True(t, apperrors.HasCode(err, apperrors.CodeInvalidParam))
}

func TestSubmit_MarksPendingAndPublishes(t *testing.T) {
	f := newFixture(t, &flakyEmbedder{}, time.Minute)

	doc, err := f.coord.Submit(context.Background(), request("text"))
	require.NoError(t, err)
	assert.Equal(t, entity.DocumentStatusPending, doc.Status)
	require.Len(t, f.publisher.requests, 1)
	assert.Equal(t, "doc-1", f.publisher.requests[0].DocumentID)
}

func TestIngest_TakesOverStaleProcessing(t *testing.T) {
	f := newFixture(t, &flakyEmbedder{}, 50*time.Millisecond, staleAfter(100*time.Millisecond))
	ctx := context.Background()

	_, err := f.coord.Ingest(ctx, request(strings.Repeat("a", 25)))
	require.NoError(t, err)
	abandon(t, f)

	_, err = f.coord.Ingest(ctx, request("retry text"))
	assert.True(t, apperrors.HasCode(err, apperrors.CodeAlreadyProcessing))

	time.Sleep(150 * time.Millisecond)
	res, err := f.coord.Ingest(ctx, request("retry text"))
	require.NoError(t, err)
	assert.Equal(t, int64(2), res.Version)

	doc := getDoc(t, f)
	assert.Equal(t, entity.DocumentStatusProcessed, doc.Status)
	assert.True(t, doc.Servable())
}

func TestSubmit_TakesOverStaleProcessing(t *testing.T) {
	f := newFixture(t, &flakyEmbedder{}, 50*time.Millisecond, staleAfter(100*time.Millisecond))
	ctx := context.Background()

	require.NoError(t, f.docs.Create(ctx, entity.NewDocument("doc-1", "patient-a", "", entity.ContentTypeReport)))
	abandon(t, f)

	_, err := f.coord.Submit(ctx, request("text"))
	assert.True(t, apperrors.HasCode(err, apperrors.CodeAlreadyProcessing))
	assert.Empty(t, f.publisher.requests)

	time.Sleep(150 * time.Millisecond)
	doc, err := f.coord.Submit(ctx, request("text"))
	require.NoError(t, err)
	assert.Equal(t, entity.DocumentStatusPending, doc.Status)
	assert.Len(t, f.publisher.requests, 1)
}

func TestRecoverStale_FailsAbandonedProcessing(t *testing.T) {
	f := newFixture(t, &flakyEmbedder{}, 50*time.Millisecond, staleAfter(100*time.Millisecond))
	ctx := context.Background()

	_, err := f.coord.Ingest(ctx, request(strings.Repeat("a", 25)))
	require.NoError(t, err)
	abandon(t, f)

	n, err := f.coord.RecoverStale(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, entity.DocumentStatusProcessing, getDoc(t, f).Status)

	time.Sleep(150 * time.Millisecond)
	n, err = f.coord.RecoverStale(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	doc := getDoc(t, f)
	assert.Equal(t, entity.DocumentStatusError, doc.Status)
	assert.Equal(t, entity.FailureTimeout, doc.FailureKind)
	assert.False(t, doc.Servable())

	f.sink.mu.Lock()
	last := f.sink.events[len(f.sink.events)-1]
	f.sink.mu.Unlock()
	assert.Equal(t, entity.AuditOutcomeError, last.Outcome)
	assert.Equal(t, string(entity.FailureTimeout), last.Metadata["failure_kind"])

	// 回收后可重新摄取
	res, err := f.coord.Ingest(ctx, request("again"))
	require.NoError(t, err)
	assert.Equal(t, int64(2), res.Version)
}

func TestNewCoordinator_DerivesStaleAfter(t *testing.T) {
	c := NewCoordinator(Deps{}, config.IngestionConfig{
		Timeout: 10 * time.Minute,
		Lock:    config.LockConfig{TTL: 15 * time.Minute},
	})
	assert.Equal(t, 16*time.Minute, c.staleAfter)

	c = NewCoordinator(Deps{}, config.IngestionConfig{Timeout: time.Minute, StaleAfter: 5 * time.Minute})
	assert.Equal(t, 5*time.Minute, c.staleAfter)
}

func TestLocalLocker(t *testing.T) {
	l := NewLocalLocker()
	release, err := l.Acquire(context.Background(), "d")
	require.NoError(t, err)

	_, err = l.Acquire(context.Background(), "d")
	assert.True(t, apperrors.HasCode(err, apperrors.CodeAlreadyProcessing))

	release()
	release()
	again, err := l.Acquire(context.Background(), "d")
	require.NoError(t, err)
	again()
}
