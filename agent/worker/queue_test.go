package worker

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTaskQueue_PriorityThenFIFO(t *testing.T) {
	t.Parallel()
	q := NewTaskQueue()

	q.Push(NewTask("a", nil, WithPriority(3)))
	q.Push(NewTask("b", nil, WithPriority(1)))
	q.Push(NewTask("c", nil, WithPriority(2)))
	q.Push(NewTask("d", nil, WithPriority(1)))

	var got []string
	for {
		task, ok := q.TryPop()
		if !ok {
			break
		}
		got = append(got, task.Action)
	}
	assert.Equal(t, []string{"b", "d", "c", "a"}, got)
}

func TestTaskQueue_PopTimesOut(t *testing.T) {
	t.Parallel()
	q := NewTaskQueue()

	start := time.Now()
	task, ok := q.Pop(context.Background(), 30*time.Millisecond)
	assert.False(t, ok)
	assert.Nil(t, task)
	assert.GreaterOrEqual(t, time.Since(start), 25*time.Millisecond)
}

func TestTaskQueue_PopWakesOnPush(t *testing.T) {
	t.Parallel()
	q := NewTaskQueue()

	go func() {
		time.Sleep(20 * time.Millisecond)
		q.Push(NewTask("late", nil))
	}()

	task, ok := q.Pop(context.Background(), 5*time.Second)
	require.True(t, ok)
	assert.Equal(t, "late", task.Action)
}

func TestTaskQueue_PopCancelled(t *testing.T) {
	t.Parallel()
	q := NewTaskQueue()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, ok := q.Pop(ctx, 5*time.Second)
	assert.False(t, ok)
}

func TestTaskQueue_Drain(t *testing.T) {
	t.Parallel()
	q := NewTaskQueue()
	q.Push(NewTask("x", nil, WithPriority(9)))
	q.Push(NewTask("y", nil, WithPriority(2)))

	drained := q.Drain()
	require.Len(t, drained, 2)
	assert.Equal(t, "y", drained[0].Action)
	assert.Equal(t, 0, q.Len())
}

func TestTaskQueue_RestoreKeepsOrder(t *testing.T) {
	t.Parallel()
	q := NewTaskQueue()
	q.Push(NewTask("a", nil, WithPriority(1)))
	q.Push(NewTask("b", nil, WithPriority(1)))

	head, ok := q.tryPopEntry()
	require.True(t, ok)
	require.True(t, q.restore(head))

	drained := q.Drain()
	require.Len(t, drained, 2)
	assert.Equal(t, "a", drained[0].Action)
	assert.Equal(t, "b", drained[1].Action)
}

func TestTaskQueue_Close(t *testing.T) {
	t.Parallel()
	q := NewTaskQueue()
	q.Push(NewTask("a", nil))
	head, ok := q.tryPopEntry()
	require.True(t, ok)
	q.Push(NewTask("b", nil))

	closed := q.Close()
	require.Len(t, closed, 1)
	assert.Equal(t, "b", closed[0].Action)
	assert.False(t, q.Push(NewTask("c", nil)))
	assert.False(t, q.restore(head))
	assert.Equal(t, 0, q.Len())
}
