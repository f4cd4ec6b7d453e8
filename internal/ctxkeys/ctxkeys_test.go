package ctxkeys

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKeys(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	_, ok := TaskID(ctx)
	assert.False(t, ok)

	ctx = WithTaskID(ctx, "task-1")
	ctx = WithWorkerID(ctx, "worker-a")
	ctx = WithRequestID(ctx, "req-1")

	id, ok := TaskID(ctx)
	assert.True(t, ok)
	assert.Equal(t, "task-1", id)

	id, ok = WorkerID(ctx)
	assert.True(t, ok)
	assert.Equal(t, "worker-a", id)

	id, ok = RequestID(ctx)
	assert.True(t, ok)
	assert.Equal(t, "req-1", id)
}

func TestKeys_EmptyIsAbsent(t *testing.T) {
	t.Parallel()

	_, ok := TaskID(WithTaskID(context.Background(), ""))
	assert.False(t, ok)
}
