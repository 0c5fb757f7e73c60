package chunking

import (
	"math/rand"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shayak-swasth-rag/internal/domain/entity"
	apperrors "shayak-swasth-rag/pkg/errors"
)

func TestChunk_ThreeWindowsFor2400Chars(t *testing.T) {
	c, err := NewWindowChunker(1000, 200)
	require.NoError(t, err)

	chunks, err := c.Chunk("doc", 1, strings.Repeat("a", 2400))
	require.NoError(t, err)
	require.Len(t, chunks, 3)

	starts := []int{chunks[0].OffsetStart, chunks[1].OffsetStart, chunks[2].OffsetStart}
	assert.Equal(t, []int{0, 800, 1600}, starts)
	assert.Equal(t, 2400, chunks[2].OffsetEnd)
	for i, ch := range chunks {
		assert.Equal(t, i, ch.Sequence)
	}
}

func TestChunk_ShortTextIsOneChunk(t *testing.T) {
	c, err := NewWindowChunker(1000, 200)
	require.NoError(t, err)

	text := "  blood pressure 120/80  "
	chunks, err := c.Chunk("doc", 1, text)
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, text, chunks[0].Text)
	assert.Equal(t, 0, chunks[0].OffsetStart)
	assert.Equal(t, len([]rune(text)), chunks[0].OffsetEnd)
}

func TestChunk_EmptyText(t *testing.T) {
	c, err := NewWindowChunker(10, 2)
	require.NoError(t, err)

	chunks, err := c.Chunk("doc", 1, "")
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, 0, chunks[0].OffsetStart)
	assert.Equal(t, 0, chunks[0].OffsetEnd)
	assert.Empty(t, chunks[0].Text)
	assert.Equal(t, entity.ChunkID("doc", 1, 0), chunks[0].ID)
}

func TestChunk_InvalidParameters(t *testing.T) {
	for _, tc := range []struct{ window, overlap int }{
		{1000, 1000},
		{100, 200},
		{0, 0},
		{10, -1},
	} {
		_, err := NewWindowChunker(tc.window, tc.overlap)
		require.Error(t, err)
		assert.True(t, apperrors.HasCode(err, apperrors.CodeInvalidParam))
	}

	c := &WindowChunker{WindowSize: 5, Overlap: 5}
	_, err := c.Chunk("doc", 1, "abcdefgh")
	assert.True(t, apperrors.HasCode(err, apperrors.CodeInvalidParam))
}

func TestChunk_CoverageAndOverlap(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	alphabet := []rune("abcdefghij 血压心率 \n")

	for i := 0; i < 200; i++ {
		window := 1 + rng.Intn(60)
		overlap := rng.Intn(window)
		n := rng.Intn(400)
		runes := make([]rune, n)
		for j := range runes {
			runes[j] = alphabet[rng.Intn(len(alphabet))]
		}
		text := string(runes)

		c, err := NewWindowChunker(window, overlap)
		require.NoError(t, err)
		chunks, err := c.Chunk("doc", 1, text)
		require.NoError(t, err)

		require.NotEmpty(t, chunks)
		if n <= window {
			assert.Len(t, chunks, 1)
		}
		assert.Equal(t, 0, chunks[0].OffsetStart)
		assert.Equal(t, n, chunks[len(chunks)-1].OffsetEnd)

		var rebuilt strings.Builder
		rebuilt.WriteString(chunks[0].Text)
		for k := 1; k < len(chunks); k++ {
			prev, cur := chunks[k-1], chunks[k]
			assert.Equal(t, k, cur.Sequence)
			// 无空隙，且重叠不超过配置宽度
			require.LessOrEqual(t, cur.OffsetStart, prev.OffsetEnd)
			assert.LessOrEqual(t, prev.OffsetEnd-cur.OffsetStart, overlap)
			assert.LessOrEqual(t, cur.OffsetEnd-cur.OffsetStart, window)
			rebuilt.WriteString(string([]rune(cur.Text)[prev.OffsetEnd-cur.OffsetStart:]))
		}
		assert.Equal(t, text, rebuilt.String())
	}
}

func TestChunk_Deterministic(t *testing.T) {
	c, err := NewWindowChunker(50, 10)
	require.NoError(t, err)
	text := strings.Repeat("Patient presents with mild fever. ", 20)

	first, err := c.Chunk("doc-7", 3, text)
	require.NoError(t, err)
	second, err := c.Chunk("doc-7", 3, text)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}
