package messaging

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shayak-swasth-rag/internal/config"
)

func TestCalculateBackoff(t *testing.T) {
	b := BackoffConfig{Initial: time.Second, Max: 10 * time.Second, Multiplier: 2}

	assert.Equal(t, time.Second, b.CalculateBackoff(0))
	assert.Equal(t, 2*time.Second, b.CalculateBackoff(1))
	assert.Equal(t, 8*time.Second, b.CalculateBackoff(3))
	assert.Equal(t, 10*time.Second, b.CalculateBackoff(4))
	assert.Equal(t, 10*time.Second, b.CalculateBackoff(50))
}

func TestBackoffFromConfig_Defaults(t *testing.T) {
	assert.Equal(t, DefaultBackoffConfig(), BackoffFromConfig(config.BackoffConfig{}))

	b := BackoffFromConfig(config.BackoffConfig{Initial: 2 * time.Second, Multiplier: 1})
	assert.Equal(t, 2*time.Second, b.Initial)
	assert.Equal(t, 2.0, b.Multiplier)
}

func TestConsumerGroup_WithPrefix(t *testing.T) {
	assert.Equal(t, ConsumerGroupIngestWorker, ConsumerGroupIngestWorker.WithPrefix(""))
	assert.Equal(t, ConsumerGroup("staging-cg-ingest-worker"), ConsumerGroupIngestWorker.WithPrefix("staging-"))
	assert.Equal(t, "dlq:stream:ingest:request", StreamIngestRequest.DLQStream())
}

func TestMessage_PayloadAndMetadata(t *testing.T) {
	msg, err := NewMessage("m-1", TypeIndexPersisted, &IndexPersistedMessage{DocumentID: "d1", Version: 2})
	require.NoError(t, err)

	assert.Empty(t, msg.GetMetadata("document_id"))
	msg.SetMetadata("document_id", "d1")
	assert.Equal(t, "d1", msg.GetMetadata("document_id"))

	var got IndexPersistedMessage
	require.NoError(t, msg.UnmarshalPayload(&got))
	assert.Equal(t, int64(2), got.Version)
}

func TestDecode(t *testing.T) {
	msg, err := NewMessage("m-1", TypeIngestRequest, map[string]string{"document_id": "d1"})
	require.NoError(t, err)
	raw, err := json.Marshal(msg)
	require.NoError(t, err)

	got, err := decode(redis.XMessage{ID: "1-0", Values: map[string]interface{}{"data": string(raw)}})
	require.NoError(t, err)
	assert.Equal(t, "m-1", got.ID)
	assert.Equal(t, TypeIngestRequest, got.Type)

	_, err = decode(redis.XMessage{ID: "1-1", Values: map[string]interface{}{}})
	assert.Error(t, err)

	_, err = decode(redis.XMessage{ID: "1-2", Values: map[string]interface{}{"data": "{"}})
	assert.Error(t, err)
}
