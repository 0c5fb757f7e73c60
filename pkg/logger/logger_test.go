package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- Helpers ---

func capture(t *testing.T, level string) *bytes.Buffer {
	t.Helper()
	buf := new(bytes.Buffer)
	InitWithWriter(buf, level, "json")
	t.Cleanup(func() { defaultLogger = nil })
	return buf
}

func lastRecord(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	var rec map[string]any
	require.NoError(t, json.Unmarshal(lines[len(lines)-1], &rec))
	return rec
}

// --- Tests ---

func TestFromContext_CarriesCorrelationIDs(t *testing.T) {
	buf := capture(t, "info")

	ctx := WithContext(context.Background(), RequestIDKey, "req-1")
	ctx = WithDocument(ctx, "doc-1")
	Info(ctx, "chunked", "chunks", 3)

	rec := lastRecord(t, buf)
	assert.Equal(t, "req-1", rec["request_id"])
	assert.Equal(t, "doc-1", rec["document_id"])
	assert.Equal(t, float64(3), rec["chunks"])
	assert.NotContains(t, rec, "trace_id")
}

func TestRedactsSensitiveKeys(t *testing.T) {
	buf := capture(t, "info")

	Info(context.Background(), "ingest", "extracted_text", "Patient has diabetes", "Authorization", "Bearer x", "chunks", 2)

	rec := lastRecord(t, buf)
	assert.Equal(t, redacted, rec["extracted_text"])
	assert.Equal(t, redacted, rec["Authorization"])
	assert.Equal(t, float64(2), rec["chunks"])
}

func TestLevelFiltering(t *testing.T) {
	buf := capture(t, "warn")

	Info(context.Background(), "hidden")
	assert.Empty(t, buf.String())

	Error(context.Background(), "persist failed", nil)
	rec := lastRecord(t, buf)
	assert.Equal(t, "persist failed", rec["msg"])
	assert.NotContains(t, rec, "error")
}

func TestWithDocument_EmptyIsNoop(t *testing.T) {
	ctx := context.Background()
	assert.Equal(t, ctx, WithDocument(ctx, ""))
}
