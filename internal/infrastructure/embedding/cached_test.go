package embedding

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- Mock implementations ---

type mapCache struct {
	mu   sync.Mutex
	data map[string][]byte
}

func (c *mapCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.data[key]
	return v, ok, nil
}

func (c *mapCache) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[key] = value
	return nil
}

// --- Tests ---

func TestCachedEmbedder_CachesSingleQuery(t *testing.T) {
	provider := &stubProvider{dim: 4}
	client, err := NewClient(provider, testConfig())
	require.NoError(t, err)
	cache := &mapCache{data: map[string][]byte{}}
	e := NewCachedEmbedder(client, cache, "m", time.Minute)

	first, err := e.Embed(context.Background(), []string{"fever"})
	require.NoError(t, err)
	second, err := e.Embed(context.Background(), []string{"fever"})
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, int32(1), provider.calls.Load())
	assert.Len(t, cache.data, 1)
}

func TestCachedEmbedder_BatchBypassesCache(t *testing.T) {
	provider := &stubProvider{dim: 4}
	client, err := NewClient(provider, testConfig())
	require.NoError(t, err)
	cache := &mapCache{data: map[string][]byte{}}
	e := NewCachedEmbedder(client, cache, "m", time.Minute)

	_, err = e.Embed(context.Background(), []string{"a", "b"})
	require.NoError(t, err)
	assert.Empty(t, cache.data)
}

func TestCachedEmbedder_IgnoresMalformedEntry(t *testing.T) {
	provider := &stubProvider{dim: 4}
	client, err := NewClient(provider, testConfig())
	require.NoError(t, err)
	cache := &mapCache{data: map[string][]byte{}}
	e := NewCachedEmbedder(client, cache, "m", time.Minute)
	cache.data[e.key("fever")] = []byte{1, 2, 3}

	vecs, err := e.Embed(context.Background(), []string{"fever"})
	require.NoError(t, err)
	require.Len(t, vecs, 1)
	assert.Len(t, vecs[0], 4)
	assert.Equal(t, int32(1), provider.calls.Load())
}

func TestVectorCodec(t *testing.T) {
	v := []float32{0.25, -1, 3.5, 0}
	got, ok := decodeVector(encodeVector(v), 4)
	require.True(t, ok)
	assert.Equal(t, v, got)

	_, ok = decodeVector(encodeVector(v), 3)
	assert.False(t, ok)
}
