package persistence

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedisStore(t *testing.T, maxSize int) *RedisMessageStore {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	store := NewRedisMessageStoreWithClient(client, "test:", maxSize)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func newSQLStore(t *testing.T) *SQLTaskStore {
	t.Helper()
	db, err := OpenDatabase(DatabaseConfig{Driver: "sqlite", DSN: ":memory:"}, nil)
	require.NoError(t, err)
	store, err := NewSQLTaskStore(db)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func record(id, kind, sender, receiver string) *MessageRecord {
	return &MessageRecord{
		ID:       id,
		Type:     kind,
		Sender:   sender,
		Receiver: receiver,
		Payload:  map[string]any{"task_id": "t-" + id},
		Priority: 5,
	}
}

// messageStoreContract 对所有 MessageStore 实现运行同一组断言
func messageStoreContract(t *testing.T, store MessageStore) {
	ctx := context.Background()

	require.NoError(t, store.Ping(ctx))

	require.NoError(t, store.SaveMessage(ctx, record("m1", "task_assign", "orch", "op-1")))
	require.NoError(t, store.SaveMessage(ctx, record("m2", "task_complete", "op-1", "orch")))
	require.NoError(t, store.SaveMessage(ctx, record("m3", "task_assign", "orch", "op-2")))

	got, err := store.GetMessage(ctx, "m2")
	require.NoError(t, err)
	assert.Equal(t, "task_complete", got.Type)
	assert.Equal(t, "t-m2", got.Payload["task_id"])
	assert.False(t, got.CreatedAt.IsZero())

	_, err = store.GetMessage(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	all, err := store.ListMessages(ctx, MessageFilter{}, 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, []string{"m1", "m2", "m3"}, ids(all))

	assigns, err := store.ListMessages(ctx, MessageFilter{Type: "task_assign"}, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"m1", "m3"}, ids(assigns))

	tail, err := store.ListMessages(ctx, MessageFilter{}, 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"m2", "m3"}, ids(tail))

	toOp, err := store.ListMessages(ctx, MessageFilter{Receiver: "op-1"}, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"m1"}, ids(toOp))

	count, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), count)

	assert.ErrorIs(t, store.SaveMessage(ctx, &MessageRecord{}), ErrInvalidInput)
}

func ids(recs []*MessageRecord) []string {
	out := make([]string, len(recs))
	for i, r := range recs {
		out[i] = r.ID
	}
	return out
}

func TestMemoryMessageStore(t *testing.T) {
	t.Parallel()
	store := NewMemoryMessageStore(0)
	defer store.Close()
	messageStoreContract(t, store)
}

func TestRedisMessageStore(t *testing.T) {
	t.Parallel()
	messageStoreContract(t, newRedisStore(t, 0))
}

func TestMessageStore_EvictsOldest(t *testing.T) {
	t.Parallel()

	stores := map[string]MessageStore{
		"memory": NewMemoryMessageStore(3),
		"redis":  newRedisStore(t, 3),
	}

	for name, store := range stores {
		store := store
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			for i := 1; i <= 5; i++ {
				require.NoError(t, store.SaveMessage(ctx, record(fmt.Sprintf("m%d", i), "heartbeat", "a", "b")))
			}

			count, err := store.Count(ctx)
			require.NoError(t, err)
			assert.Equal(t, int64(3), count)

			all, err := store.ListMessages(ctx, MessageFilter{}, 0)
			require.NoError(t, err)
			assert.Equal(t, []string{"m3", "m4", "m5"}, ids(all))

			_, err = store.GetMessage(ctx, "m1")
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestMemoryMessageStore_Closed(t *testing.T) {
	t.Parallel()
	store := NewMemoryMessageStore(0)
	require.NoError(t, store.Close())

	ctx := context.Background()
	assert.ErrorIs(t, store.Ping(ctx), ErrStoreClosed)
	assert.ErrorIs(t, store.SaveMessage(ctx, record("x", "heartbeat", "a", "b")), ErrStoreClosed)
	_, err := store.ListMessages(ctx, MessageFilter{}, 0)
	assert.ErrorIs(t, err, ErrStoreClosed)
}

// taskStoreContract 对所有 TaskStore 实现运行同一组断言
func taskStoreContract(t *testing.T, store TaskStore) {
	ctx := context.Background()
	require.NoError(t, store.Ping(ctx))

	base := time.Now().Add(-time.Minute)
	require.NoError(t, store.SaveTask(ctx, &TaskRecord{
		ID: "t1", Action: "build", Status: TaskStatusDispatched, AgentID: "op-1",
		Payload: map[string]any{"action": "build"}, CreatedAt: base,
	}))
	require.NoError(t, store.SaveTask(ctx, &TaskRecord{
		ID: "t2", Action: "test", Status: TaskStatusFailed, AgentID: "op-2",
		Attempts: 3, Errors: []string{"boom", "boom again"}, CreatedAt: base.Add(time.Second),
	}))

	// upsert keeps created_at
	require.NoError(t, store.SaveTask(ctx, &TaskRecord{
		ID: "t1", Action: "build", Status: TaskStatusCompleted, AgentID: "op-1",
		Output: "ok", CreatedAt: base,
	}))

	t1, err := store.GetTask(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, TaskStatusCompleted, t1.Status)
	assert.Equal(t, "ok", t1.Output)
	assert.WithinDuration(t, base, t1.CreatedAt, time.Second)

	t2, err := store.GetTask(ctx, "t2")
	require.NoError(t, err)
	assert.Equal(t, []string{"boom", "boom again"}, t2.Errors)
	assert.Equal(t, 3, t2.Attempts)

	_, err = store.GetTask(ctx, "nope")
	assert.ErrorIs(t, err, ErrNotFound)

	all, err := store.ListTasks(ctx, TaskFilter{})
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "t1", all[0].ID)

	failed, err := store.ListTasks(ctx, TaskFilter{Status: []TaskStatus{TaskStatusFailed}})
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, "t2", failed[0].ID)

	byAgent, err := store.ListTasks(ctx, TaskFilter{AgentID: "op-1"})
	require.NoError(t, err)
	require.Len(t, byAgent, 1)

	limited, err := store.ListTasks(ctx, TaskFilter{Limit: 1})
	require.NoError(t, err)
	assert.Len(t, limited, 1)

	assert.ErrorIs(t, store.SaveTask(ctx, nil), ErrInvalidInput)
}

func TestMemoryTaskStore(t *testing.T) {
	t.Parallel()
	store := NewMemoryTaskStore()
	defer store.Close()
	taskStoreContract(t, store)
}

func TestSQLTaskStore(t *testing.T) {
	t.Parallel()
	taskStoreContract(t, newSQLStore(t))
}

func TestOpenDatabase_UnsupportedDriver(t *testing.T) {
	t.Parallel()
	_, err := OpenDatabase(DatabaseConfig{Driver: "oracle"}, nil)
	assert.Error(t, err)

	_, err = OpenDatabase(DatabaseConfig{}, nil)
	assert.Error(t, err)
}

func TestFactory(t *testing.T) {
	t.Parallel()

	cfg := DefaultStoreConfig()
	ms, err := NewMessageStore(cfg)
	require.NoError(t, err)
	assert.IsType(t, &MemoryMessageStore{}, ms)

	ts, err := NewTaskStore(cfg, nil)
	require.NoError(t, err)
	assert.IsType(t, &MemoryTaskStore{}, ts)

	cfg.MessageStore = StoreTypeNone
	cfg.TaskStore = StoreTypeNone
	ms, err = NewMessageStore(cfg)
	require.NoError(t, err)
	assert.Nil(t, ms)
	ts, err = NewTaskStore(cfg, nil)
	require.NoError(t, err)
	assert.Nil(t, ts)

	cfg.MessageStore = "file"
	_, err = NewMessageStore(cfg)
	assert.Error(t, err)

	cfg.TaskStore = StoreTypeSQL
	cfg.Database = DatabaseConfig{Driver: "sqlite", DSN: ":memory:"}
	ts, err = NewTaskStore(cfg, nil)
	require.NoError(t, err)
	assert.IsType(t, &SQLTaskStore{}, ts)
	_ = ts.Close()
}

func TestTaskStatus_IsTerminal(t *testing.T) {
	t.Parallel()
	assert.False(t, TaskStatusQueued.IsTerminal())
	assert.False(t, TaskStatusDispatched.IsTerminal())
	assert.True(t, TaskStatusCompleted.IsTerminal())
	assert.True(t, TaskStatusEscalated.IsTerminal())
	assert.True(t, TaskStatusFailed.IsTerminal())
}
