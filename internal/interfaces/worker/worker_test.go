package worker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shayak-swasth-rag/internal/application/chunking"
	"shayak-swasth-rag/internal/application/ingestion"
	"shayak-swasth-rag/internal/application/vectorindex"
	"shayak-swasth-rag/internal/config"
	"shayak-swasth-rag/internal/domain/entity"
	"shayak-swasth-rag/internal/infrastructure/messaging"
	"shayak-swasth-rag/internal/infrastructure/persistence/memory"
	apperrors "shayak-swasth-rag/pkg/errors"
)

// --- Mock implementations ---

type stubIngestor struct {
	err error
	got *entity.IngestRequest
}

func (s *stubIngestor) Ingest(_ context.Context, req *entity.IngestRequest) (*ingestion.Result, error) {
	s.got = req
	if s.err != nil {
		return nil, s.err
	}
	return &ingestion.Result{DocumentID: req.DocumentID, Version: 1, ChunkCount: 2}, nil
}

type stubEvictor struct {
	mu        sync.Mutex
	evicted   []string
	olderThan time.Duration
	allCalls  atomic.Int32
	err       error
}

func (s *stubEvictor) Evict(_ context.Context, documentID string, olderThan time.Duration) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.evicted = append(s.evicted, documentID)
	s.olderThan = olderThan
	return 1, s.err
}

func (s *stubEvictor) EvictAll(context.Context, time.Duration) (int, error) {
	s.allCalls.Add(1)
	return 0, nil
}

type stubRecoverer struct {
	calls atomic.Int32
}

func (r *stubRecoverer) RecoverStale(context.Context) (int, error) {
	r.calls.Add(1)
	return 0, nil
}

type unitEmbedder struct{}

func (unitEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		v := make([]float32, 4)
		v[i%4] = 1
		out[i] = v
	}
	return out, nil
}

func (unitEmbedder) Dimension() int { return 4 }
func (unitEmbedder) Name() string   { return "unit" }

// --- Helpers ---

func newCoordinator(t *testing.T, staleAfter time.Duration) (*ingestion.Coordinator, *memory.DocumentRepository) {
	t.Helper()
	docs := memory.NewDocumentRepository()
	chunker, err := chunking.NewWindowChunker(10, 2)
	require.NoError(t, err)
	coord := ingestion.NewCoordinator(ingestion.Deps{
		Documents: docs,
		Chunker:   chunker,
		Embedder:  unitEmbedder{},
		Indexes:   vectorindex.NewManager(vectorindex.NewFlatBackend(), memory.NewIndexStore(), docs, vectorindex.Options{Dimension: 4}),
	}, config.IngestionConfig{Timeout: 50 * time.Millisecond, StaleAfter: staleAfter})
	return coord, docs
}

func ingestMessage(t *testing.T, docID string) *messaging.Message {
	t.Helper()
	msg, err := messaging.NewMessage("m-1", messaging.TypeIngestRequest, &entity.IngestRequest{
		DocumentID: docID,
		OwnerID:    "patient-a",
		Text:       "some text",
	})
	require.NoError(t, err)
	return msg
}

// --- Tests ---

func TestIngestHandler_Success(t *testing.T) {
	ing := &stubIngestor{}
	err := IngestHandler(ing)(context.Background(), ingestMessage(t, "d1"))
	require.NoError(t, err)
	require.NotNil(t, ing.got)
	assert.Equal(t, "d1", ing.got.DocumentID)
	assert.Equal(t, "some text", ing.got.Text)
}

func TestIngestHandler_ErrorPolicy(t *testing.T) {
	cases := []struct {
		name  string
		err   error
		retry bool
	}{
		{"already processing", apperrors.ErrAlreadyProcessing.WithDetail("d1"), false},
		{"empty input", apperrors.ErrEmptyInput, false},
		{"embedding exhausted", apperrors.ErrEmbeddingTransient, false},
		{"database", apperrors.Wrap(errors.New("conn reset"), apperrors.CodeDatabaseError, "db"), true},
		{"plain error", errors.New("lock backend down"), true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := IngestHandler(&stubIngestor{err: tc.err})(context.Background(), ingestMessage(t, "d1"))
			if tc.retry {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestIngestHandler_BadPayload(t *testing.T) {
	msg := &messaging.Message{ID: "m-1", Type: messaging.TypeIngestRequest, Payload: []byte("{")}
	assert.Error(t, IngestHandler(&stubIngestor{})(context.Background(), msg))
}

func TestIndexEventHandler(t *testing.T) {
	ev := &stubEvictor{}
	msg, err := messaging.NewMessage("m-2", messaging.TypeIndexPersisted, &messaging.IndexPersistedMessage{DocumentID: "d1", Version: 3})
	require.NoError(t, err)

	require.NoError(t, IndexEventHandler(ev, 48*time.Hour)(context.Background(), msg))
	assert.Equal(t, []string{"d1"}, ev.evicted)
	assert.Equal(t, 48*time.Hour, ev.olderThan)

	ev.err = errors.New("store down")
	assert.Error(t, IndexEventHandler(ev, time.Hour)(context.Background(), msg))
}

func TestEvictionScheduler_RunsOnStart(t *testing.T) {
	ev := &stubEvictor{}
	s, err := NewEvictionScheduler(ev, time.Hour, 24*time.Hour)
	require.NoError(t, err)
	require.Len(t, s.Jobs(), 1)

	s.Start()
	defer s.Stop()

	assert.Eventually(t, func() bool { return ev.allCalls.Load() >= 1 }, 2*time.Second, 10*time.Millisecond)
}

func TestIngestHandler_RedeliveryTakesOverAbandonedRun(t *testing.T) {
	ctx := context.Background()
	coord, docs := newCoordinator(t, 100*time.Millisecond)
	handler := IngestHandler(coord)

	require.NoError(t, handler(ctx, ingestMessage(t, "d1")))
	// worker 在 BeginProcessing 之后崩溃
	_, err := docs.BeginProcessing(ctx, "d1", time.Hour)
	require.NoError(t, err)

	// 消息在文档失联之后才会被其他消费者接管
	time.Sleep(150 * time.Millisecond)
	require.NoError(t, handler(ctx, ingestMessage(t, "d1")))

	doc, err := docs.GetByID(ctx, "d1")
	require.NoError(t, err)
	assert.Equal(t, entity.DocumentStatusProcessed, doc.Status)
	assert.EqualValues(t, 2, doc.Version)
	assert.Equal(t, 100*time.Millisecond, coord.StaleAfter())
}

func TestScheduler_StaleRecovery(t *testing.T) {
	rec := &stubRecoverer{}
	s, err := NewEvictionScheduler(&stubEvictor{}, time.Hour, 24*time.Hour)
	require.NoError(t, err)
	require.NoError(t, s.ScheduleStaleRecovery(rec, time.Hour))
	require.Len(t, s.Jobs(), 2)

	s.Start()
	defer s.Stop()

	assert.Eventually(t, func() bool { return rec.calls.Load() >= 1 }, 2*time.Second, 10*time.Millisecond)
}
