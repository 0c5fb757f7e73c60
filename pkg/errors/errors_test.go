package errors

import (
	"context"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHasCode_WalksWrappedChain(t *testing.T) {
	inner := Wrap(context.DeadlineExceeded, CodeEmbeddingTransient, "embed timed out")
	outer := fmt.Errorf("batch 2: %w", Wrap(inner, codeIngestFailed, "ingest"))

	assert.True(t, HasCode(outer, CodeEmbeddingTransient))
	assert.True(t, HasCode(outer, codeIngestFailed))
	assert.False(t, HasCode(outer, CodeEmbeddingPermanent))
	assert.True(t, IsTransient(outer))
	assert.ErrorIs(t, outer, context.DeadlineExceeded)
}

const codeIngestFailed ErrorCode = "9999"

func TestIs_MatchesByCode(t *testing.T) {
	err := ErrIndexNotFound.WithDetail("doc-1")
	assert.ErrorIs(t, fmt.Errorf("load: %w", err), ErrIndexNotFound)
	assert.NotErrorIs(t, err, ErrEmptyInput)
	// WithDetail 不修改共享的哨兵错误
	assert.Empty(t, ErrIndexNotFound.Detail)
}

func TestHTTPStatusMapping(t *testing.T) {
	cases := map[ErrorCode]int{
		CodeInvalidParam:         http.StatusBadRequest,
		CodeAlreadyProcessing:    http.StatusConflict,
		CodeIndexNotFound:        http.StatusNotFound,
		CodeEmptyInput:           http.StatusUnprocessableEntity,
		CodeEmbeddingPermanent:   http.StatusBadGateway,
		CodeSynthesisUnavailable: http.StatusServiceUnavailable,
		CodeDatabaseError:        http.StatusInternalServerError,
	}
	for code, status := range cases {
		assert.Equal(t, status, New(code, "x").HTTPStatus, string(code))
	}
}

func TestAsAppError(t *testing.T) {
	plain := fmt.Errorf("boom")
	got := AsAppError(plain)
	require.NotNil(t, got)
	assert.Equal(t, CodeUnknown, got.Code)

	wrapped := fmt.Errorf("ctx: %w", ErrAlreadyProcessing)
	assert.Equal(t, CodeAlreadyProcessing, AsAppError(wrapped).Code)
	assert.True(t, IsAppError(wrapped))
}
