package embedding

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shayak-swasth-rag/internal/config"
	apperrors "shayak-swasth-rag/pkg/errors"
)

// --- Mock implementations ---

type stubProvider struct {
	dim   int
	calls atomic.Int32
	err   error
	delay time.Duration
	sizes []int
}

func (p *stubProvider) Name() string { return "stub" }

func (p *stubProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	p.calls.Add(1)
	p.sizes = append(p.sizes, len(texts))
	if p.delay > 0 {
		select {
		case <-time.After(p.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if p.err != nil {
		return nil, p.err
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = make([]float32, p.dim)
		out[i][0] = float32(len(texts[i]))
	}
	return out, nil
}

func testConfig() *config.EmbeddingConfig {
	return &config.EmbeddingConfig{Dimension: 4, BatchSize: 2, Timeout: time.Second}
}

func TestClient_BatchesInOrder(t *testing.T) {
	p := &stubProvider{dim: 4}
	c, err := NewClient(p, testConfig())
	require.NoError(t, err)

	vecs, err := c.Embed(context.Background(), []string{"a", "bb", "ccc", "dddd", "eeeee"})
	require.NoError(t, err)
	require.Len(t, vecs, 5)
	assert.Equal(t, []int{2, 2, 1}, p.sizes)
	for i, v := range vecs {
		assert.Equal(t, float32(i+1), v[0])
	}
}

func TestClient_DimensionMismatch(t *testing.T) {
	p := &stubProvider{dim: 3}
	c, err := NewClient(p, testConfig())
	require.NoError(t, err)

	_, err = c.Embed(context.Background(), []string{"a"})
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeDimensionMismatch))
	assert.False(t, apperrors.IsTransient(err))
}

func TestClient_TimeoutIsTransient(t *testing.T) {
	p := &stubProvider{dim: 4, delay: 200 * time.Millisecond}
	cfg := testConfig()
	cfg.Timeout = 10 * time.Millisecond
	c, err := NewClient(p, cfg)
	require.NoError(t, err)

	_, err = c.Embed(context.Background(), []string{"a"})
	require.Error(t, err)
	assert.True(t, apperrors.IsTransient(err))
}

func TestClient_BreakerOpensOnTransientFailures(t *testing.T) {
	p := &stubProvider{dim: 4, err: &StatusError{StatusCode: http.StatusServiceUnavailable}}
	cfg := testConfig()
	cfg.Breaker = config.BreakerConfig{MinRequests: 2, FailureRatio: 0.5, Timeout: time.Minute}
	c, err := NewClient(p, cfg)
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		_, err = c.Embed(context.Background(), []string{"a"})
		assert.True(t, apperrors.IsTransient(err))
	}
	callsBefore := p.calls.Load()

	_, err = c.Embed(context.Background(), []string{"a"})
	assert.True(t, apperrors.IsTransient(err))
	assert.Equal(t, callsBefore, p.calls.Load(), "open breaker must not reach the provider")
}

func TestClassify(t *testing.T) {
	cases := []struct {
		err       error
		transient bool
	}{
		{&StatusError{StatusCode: 429}, true},
		{&StatusError{StatusCode: 502}, true},
		{&StatusError{StatusCode: 401}, false},
		{&StatusError{StatusCode: 400}, false},
		{errors.New("error, status code: 403, message: invalid key"), false},
		{errors.New("error, status code: 500, message: overloaded"), true},
		{context.DeadlineExceeded, true},
		{errors.New("connection reset"), true},
	}
	for _, tc := range cases {
		got := Classify(tc.err)
		assert.Equal(t, tc.transient, apperrors.IsTransient(got), tc.err.Error())
		assert.Equal(t, !tc.transient, apperrors.HasCode(got, apperrors.CodeEmbeddingPermanent), tc.err.Error())
	}
	assert.ErrorIs(t, Classify(context.Canceled), context.Canceled)
}

func TestHTTPProvider(t *testing.T) {
	var status atomic.Int32
	status.Store(http.StatusOK)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/embed", r.URL.Path)
		if code := int(status.Load()); code != http.StatusOK {
			w.WriteHeader(code)
			return
		}
		var req embedRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		resp := embedResponse{}
		for range req.Texts {
			resp.Embeddings = append(resp.Embeddings, []float32{1, 0, 0, 0})
		}
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	p, err := NewHTTPProvider(&config.EmbeddingConfig{Endpoint: srv.URL})
	require.NoError(t, err)

	vecs, err := p.EmbedBatch(context.Background(), []string{"x", "y"})
	require.NoError(t, err)
	assert.Len(t, vecs, 2)

	status.Store(http.StatusUnauthorized)
	_, err = p.EmbedBatch(context.Background(), []string{"x"})
	assert.True(t, apperrors.HasCode(err, apperrors.CodeEmbeddingPermanent))

	status.Store(http.StatusTooManyRequests)
	_, err = p.EmbedBatch(context.Background(), []string{"x"})
	assert.True(t, apperrors.IsTransient(err))
}
