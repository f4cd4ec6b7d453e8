package protocol

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMessage_Defaults(t *testing.T) {
	t.Parallel()

	payload := map[string]any{KeyTaskID: "t-1"}
	msg := NewMessage(MessageTaskAssign, "orchestrator", "supervisor", payload)
	payload[KeyTaskID] = "mutated"

	assert.NotEmpty(t, msg.ID)
	assert.Equal(t, PriorityDefault, msg.Priority)
	assert.Equal(t, 3, msg.MaxRetries)
	assert.Equal(t, 0, msg.Attempts)
	assert.Equal(t, "t-1", msg.String(KeyTaskID))
	assert.WithinDuration(t, time.Now(), msg.Timestamp, time.Second)
}

func TestNewMessage_PriorityIsClamped(t *testing.T) {
	t.Parallel()

	assert.Equal(t, PriorityHighest, NewMessage(MessageHeartbeat, "a", "b", nil, WithPriority(-4)).Priority)
	assert.Equal(t, PriorityLowest, NewMessage(MessageHeartbeat, "a", "b", nil, WithPriority(99)).Priority)
	assert.Equal(t, 2, NewMessage(MessageHeartbeat, "a", "b", nil, WithPriority(2)).Priority)
}

func TestMessage_WithAttemptsCopies(t *testing.T) {
	t.Parallel()

	orig := NewMessage(MessageTaskAssign, "orchestrator", "op-1", map[string]any{KeyAction: "lint"})
	retry := orig.WithAttempts("op-2", 1)

	assert.NotEqual(t, orig.ID, retry.ID)
	assert.Equal(t, "op-2", retry.Receiver)
	assert.Equal(t, 1, retry.Attempts)
	assert.Equal(t, 0, orig.Attempts)
	assert.Equal(t, "op-1", orig.Receiver)

	retry.Payload[KeyAction] = "changed"
	assert.Equal(t, "lint", orig.String(KeyAction))
}

func TestMessage_StringSliceAcceptsJSONShapes(t *testing.T) {
	t.Parallel()

	msg := NewMessage(MessageTaskAssign, "a", "b", map[string]any{
		KeyCapabilities: []any{"go", 3, "review"},
		KeyErrors:       []string{"e1"},
	})
	assert.Equal(t, []string{"go", "review"}, msg.StringSlice(KeyCapabilities))
	assert.Equal(t, []string{"e1"}, msg.StringSlice(KeyErrors))
	assert.Nil(t, msg.StringSlice("missing"))
}

func TestMessage_RecordSerialisation(t *testing.T) {
	t.Parallel()

	ts := time.Date(2026, 3, 1, 12, 30, 0, 0, time.UTC)
	msg := NewMessage(MessageTaskComplete, "op-1", "orchestrator", map[string]any{KeyOutput: "ok"},
		WithCorrelation("req-1"), WithPriority(2))
	msg.Timestamp = ts

	data, err := json.Marshal(msg)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, "task_complete", decoded["type"])
	assert.Equal(t, "2026-03-01T12:30:00Z", decoded["timestamp"])
	assert.Equal(t, "req-1", decoded["correlation_id"])
	assert.Equal(t, float64(2), decoded["priority"])
	assert.Equal(t, float64(0), decoded["attempts"])
}

func TestMessageType_IsValid(t *testing.T) {
	t.Parallel()

	for _, kind := range AllMessageTypes() {
		assert.True(t, kind.IsValid(), kind)
	}
	assert.False(t, MessageType("gossip").IsValid())
}
