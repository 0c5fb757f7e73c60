package entity

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "shayak-swasth-rag/pkg/errors"
)

func TestDocument_StateMachine(t *testing.T) {
	now := time.Now()
	doc := NewDocument("doc-1", "owner-1", "scan.pdf", ContentTypePDF)
	assert.False(t, doc.Servable())

	require.NoError(t, doc.BeginProcessing(now, time.Hour))
	assert.Equal(t, DocumentStatusProcessing, doc.Status)

	err := doc.BeginProcessing(now, time.Hour)
	assert.ErrorIs(t, err, apperrors.ErrAlreadyProcessing)
	assert.ErrorIs(t, doc.MarkPending(now, time.Hour), apperrors.ErrAlreadyProcessing)

	doc.MarkProcessed(1, 3, now)
	assert.True(t, doc.Servable())
	assert.EqualValues(t, 1, doc.Version)

	// 重新处理期间保持旧版本可用
	require.NoError(t, doc.BeginProcessing(now, time.Hour))
	assert.True(t, doc.Servable())

	doc.MarkFailed(FailureEmbeddingExhausted, "retries exhausted", now)
	assert.False(t, doc.Servable())
	assert.Equal(t, FailureEmbeddingExhausted, doc.FailureKind)

	// error 后允许重新处理，失败信息被清除，但成功前旧版本仍不服务
	require.NoError(t, doc.BeginProcessing(now, time.Hour))
	assert.Empty(t, doc.FailureKind)
	assert.False(t, doc.Servable())

	doc.MarkProcessed(2, 4, now)
	assert.True(t, doc.Servable())
	assert.False(t, doc.Withdrawn)
}

func TestDocument_StaleProcessingTakeover(t *testing.T) {
	start := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	doc := NewDocument("doc-1", "owner-1", "", ContentTypeReport)
	require.NoError(t, doc.BeginProcessing(start, 15*time.Minute))

	within := start.Add(10 * time.Minute)
	assert.False(t, doc.ProcessingStale(within, 15*time.Minute))
	assert.ErrorIs(t, doc.BeginProcessing(within, 15*time.Minute), apperrors.ErrAlreadyProcessing)
	assert.ErrorIs(t, doc.MarkPending(within, 15*time.Minute), apperrors.ErrAlreadyProcessing)

	later := start.Add(20 * time.Minute)
	assert.True(t, doc.ProcessingStale(later, 15*time.Minute))
	require.NoError(t, doc.BeginProcessing(later, 15*time.Minute))
	require.NotNil(t, doc.StartedAt)
	assert.Equal(t, later, *doc.StartedAt)

	// 未配置过期时间时不接管
	assert.False(t, doc.ProcessingStale(later.Add(24*time.Hour), 0))

	stuck := NewDocument("doc-2", "owner-1", "", ContentTypeReport)
	require.NoError(t, stuck.BeginProcessing(start, 15*time.Minute))
	require.NoError(t, stuck.MarkPending(later, 15*time.Minute))
	assert.Equal(t, DocumentStatusPending, stuck.Status)
}

func TestDetectContentType(t *testing.T) {
	cases := []struct {
		filename, mime string
		want           ContentType
	}{
		{"report.PDF", "", ContentTypePDF},
		{"xray.jpeg", "", ContentTypeImage},
		{"slice.dcm", "", ContentTypeDICOM},
		{"notes.txt", "", ContentTypeReport},
		{"", "image/png", ContentTypeImage},
		{"", "application/pdf", ContentTypePDF},
		{"blob", "application/octet-stream", ContentTypeReport},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, DetectContentType(tc.filename, tc.mime), tc.filename+tc.mime)
	}
}

func TestChunkID_Deterministic(t *testing.T) {
	assert.Equal(t, ChunkID("d", 1, 0), ChunkID("d", 1, 0))
	assert.NotEqual(t, ChunkID("d", 1, 0), ChunkID("d", 2, 0))
	assert.NotEqual(t, ChunkID("d", 1, 0), ChunkID("d", 1, 1))
}

func TestParseRole(t *testing.T) {
	r, ok := ParseRole("Doctor")
	require.True(t, ok)
	assert.Equal(t, RoleClinician, r)

	r, ok = ParseRole("hospital_manager")
	require.True(t, ok)
	assert.True(t, Principal{Role: r}.HasSystemScope())

	_, ok = ParseRole("visitor")
	assert.False(t, ok)
}
