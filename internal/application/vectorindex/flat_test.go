package vectorindex

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFlatIndex_SearchOrdering(t *testing.T) {
	idx, err := NewFlatBackend().Build(Key{"d", 1}, 2, [][]float32{
		{0, 1},
		{1, 0},
		{2, 0}, // 归一化后与位置 1 同分
		{1, 1},
	})
	require.NoError(t, err)

	hits, err := idx.Search(context.Background(), []float32{1, 0}, 3)
	require.NoError(t, err)
	require.Len(t, hits, 3)
	assert.Equal(t, 1, hits[0].Position)
	assert.Equal(t, 2, hits[1].Position)
	assert.Equal(t, 3, hits[2].Position)
	assert.InDelta(t, 1.0, hits[0].Score, 1e-6)
	assert.InDelta(t, 0.7071, hits[2].Score, 1e-3)

	all, err := idx.Search(context.Background(), []float32{1, 0}, 10)
	require.NoError(t, err)
	assert.Len(t, all, 4)

	none, err := idx.Search(context.Background(), []float32{1, 0}, 0)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestFlatIndex_EncodeDecode(t *testing.T) {
	b := NewFlatBackend()
	idx, err := b.Build(Key{"d", 1}, 3, [][]float32{{1, 2, 3}, {-1, 0, 4}})
	require.NoError(t, err)

	blob, err := idx.Encode()
	require.NoError(t, err)

	opened, err := b.Open(context.Background(), Key{"d", 1}, 3, blob)
	require.NoError(t, err)
	assert.Equal(t, 2, opened.Len())

	q := []float32{-1, 0, 4}
	want, _ := idx.Search(context.Background(), q, 2)
	got, err := opened.Search(context.Background(), q, 2)
	require.NoError(t, err)
	assert.Equal(t, want, got)

	_, err = b.Open(context.Background(), Key{"d", 1}, 4, blob)
	assert.Error(t, err)
	_, err = b.Open(context.Background(), Key{"d", 1}, 3, blob[:len(blob)-2])
	assert.Error(t, err)
	_, err = b.Open(context.Background(), Key{"d", 1}, 3, []byte("junk"))
	assert.Error(t, err)
}

func TestHandleCache_EvictsLeastRecentlyUsed(t *testing.T) {
	c := newHandleCache(2)
	c.add(Key{"a", 1}, &Handle{})
	c.add(Key{"b", 1}, &Handle{})
	_, ok := c.get(Key{"a", 1})
	require.True(t, ok)

	c.add(Key{"c", 1}, &Handle{})
	assert.Equal(t, 2, c.len())
	_, ok = c.get(Key{"b", 1})
	assert.False(t, ok)
	_, ok = c.get(Key{"a", 1})
	assert.True(t, ok)

	c.remove(Key{"a", 1})
	assert.Equal(t, 1, c.len())
}
