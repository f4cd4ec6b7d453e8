package protocol

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/BaSui01/agentcouncil/agent/persistence"
	"github.com/BaSui01/agentcouncil/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestProtocol(opts ...Option) *Protocol {
	return New(DefaultConfig(), zap.NewNop(), opts...)
}

func TestProtocol_HandlersRunInRegistrationOrder(t *testing.T) {
	t.Parallel()
	p := newTestProtocol()

	var mu sync.Mutex
	var order []int
	for i := 1; i <= 3; i++ {
		i := i
		p.RegisterHandler(MessageTaskAssign, func(ctx context.Context, msg *Message) error {
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
			return nil
		})
	}

	require.NoError(t, p.Send(context.Background(), NewMessage(MessageTaskAssign, "orchestrator", "op-1", nil)))
	assert.Equal(t, []int{1, 2, 3}, order)
}

func TestProtocol_HandlerFailureIsIsolated(t *testing.T) {
	t.Parallel()
	p := newTestProtocol()

	var reached atomic.Int32
	p.RegisterHandler(MessageTaskFailed, func(ctx context.Context, msg *Message) error {
		return errors.New("boom")
	})
	p.RegisterHandler(MessageTaskFailed, func(ctx context.Context, msg *Message) error {
		panic("handler exploded")
	})
	p.RegisterHandler(MessageTaskFailed, func(ctx context.Context, msg *Message) error {
		reached.Add(1)
		return nil
	})

	err := p.Send(context.Background(), NewMessage(MessageTaskFailed, "op-1", "orchestrator", nil))
	require.NoError(t, err)
	assert.Equal(t, int32(1), reached.Load())
	assert.Len(t, p.MessageLog(LogFilter{}, 0), 1)
}

func TestProtocol_RejectsMalformedMessages(t *testing.T) {
	t.Parallel()
	p := newTestProtocol()

	assert.Equal(t, types.ErrInvalidMessage, types.GetErrorCode(p.Send(context.Background(), nil)))

	bad := NewMessage("not_a_kind", "a", "b", nil)
	assert.Equal(t, types.ErrInvalidMessage, types.GetErrorCode(p.Send(context.Background(), bad)))

	orphan := NewMessage(MessageTaskComplete, "a", "b", nil, WithCorrelation("missing"))
	assert.Equal(t, types.ErrUnknownCorrelation, types.GetErrorCode(p.Send(context.Background(), orphan)))
	assert.Empty(t, p.MessageLog(LogFilter{}, 0))
}

func TestProtocol_SendAndWaitResolvesOnCorrelatedReply(t *testing.T) {
	t.Parallel()
	p := newTestProtocol()

	p.RegisterHandler(MessageStatusQuery, func(ctx context.Context, msg *Message) error {
		go func() {
			_, _ = p.Reply(ctx, msg, MessageStatusResponse, "op-1", map[string]any{"state": "idle"})
		}()
		return nil
	})

	req := NewMessage(MessageStatusQuery, "orchestrator", "op-1", nil)
	resp, err := p.SendAndWait(context.Background(), req, time.Second)
	require.NoError(t, err)
	assert.Equal(t, req.ID, resp.CorrelationID)
	assert.Equal(t, "orchestrator", resp.Receiver)
	assert.Equal(t, "idle", resp.String("state"))
	assert.Equal(t, 0, p.PendingCount())
}

func TestProtocol_SendAndWaitTimesOut(t *testing.T) {
	t.Parallel()
	p := newTestProtocol()

	req := NewMessage(MessageStatusQuery, "orchestrator", "op-1", nil)
	resp, err := p.SendAndWait(context.Background(), req, 20*time.Millisecond)
	assert.Nil(t, resp)
	require.Error(t, err)
	assert.Equal(t, types.ErrTimeout, types.GetErrorCode(err))
	assert.Equal(t, 0, p.PendingCount())
}

func TestProtocol_SendAndWaitHonoursContext(t *testing.T) {
	t.Parallel()
	p := newTestProtocol()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := p.SendAndWait(ctx, NewMessage(MessageStatusQuery, "a", "b", nil), time.Second)
	assert.Equal(t, types.ErrCancelled, types.GetErrorCode(err))
	assert.Equal(t, 0, p.PendingCount())
}

func TestProtocol_MessageLogFiltersAndTails(t *testing.T) {
	t.Parallel()
	p := newTestProtocol()
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, p.Send(ctx, NewMessage(MessageHeartbeat, "op-1", "orchestrator", map[string]any{"n": i})))
	}
	require.NoError(t, p.Send(ctx, NewMessage(MessageHeartbeat, "op-2", "orchestrator", nil)))
	require.NoError(t, p.Send(ctx, NewMessage(MessageShutdown, "orchestrator", "op-1", nil)))

	fromOp1 := p.MessageLog(LogFilter{Sender: "op-1"}, 2)
	require.Len(t, fromOp1, 2)
	assert.Equal(t, 3, fromOp1[0].Payload["n"])
	assert.Equal(t, 4, fromOp1[1].Payload["n"])

	assert.Len(t, p.MessageLog(LogFilter{Type: MessageHeartbeat}, 0), 6)
	assert.Len(t, p.MessageLog(LogFilter{Receiver: "op-1"}, 10), 1)
}

func TestProtocol_LogEvictionKeepsBound(t *testing.T) {
	t.Parallel()
	p := New(Config{MaxLogSize: 3}, zap.NewNop())
	ctx := context.Background()

	first := NewMessage(MessageHeartbeat, "a", "b", nil)
	require.NoError(t, p.Send(ctx, first))
	for i := 0; i < 5; i++ {
		require.NoError(t, p.Send(ctx, NewMessage(MessageHeartbeat, "a", "b", nil)))
	}

	assert.Len(t, p.MessageLog(LogFilter{}, 0), 3)
	late := NewMessage(MessageHeartbeat, "b", "a", nil, WithCorrelation(first.ID))
	assert.Equal(t, types.ErrUnknownCorrelation, types.GetErrorCode(p.Send(ctx, late)))
}

func TestProtocol_MirrorsIntoStore(t *testing.T) {
	t.Parallel()
	store := persistence.NewMemoryMessageStore(0)
	p := newTestProtocol(WithStore(store))
	ctx := context.Background()

	msg := NewMessage(MessageTaskAssign, "orchestrator", "op-1", map[string]any{KeyTaskID: "t-1"})
	require.NoError(t, p.Send(ctx, msg))

	records, err := store.ListMessages(ctx, persistence.MessageFilter{Receiver: "op-1"}, 0)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, msg.ID, records[0].ID)
	assert.Equal(t, "task_assign", records[0].Type)
	assert.Equal(t, "t-1", records[0].Payload[KeyTaskID])
}
