package council

import (
	"context"
	"sync"
	"time"

	"github.com/BaSui01/agentcouncil/agent/protocol"
	"github.com/BaSui01/agentcouncil/types"
	"go.uber.org/zap"
)

// DefaultAgentID is the sender id the bridge replies with.
const DefaultAgentID = "council"

// Bridge exposes a Council on a Protocol: council_vote_request messages are
// answered with a council_vote_response carrying the ConsensusResult under
// the "result" payload key.
type Bridge struct {
	council  *Council
	protocol *protocol.Protocol
	agentID  string
	logger   *zap.Logger

	// ctx bounds rounds started by the bridge; cancelled by Close
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	mu     sync.Mutex
	closed bool
}

// NewBridge registers the vote request handler on p.
func NewBridge(c *Council, p *protocol.Protocol, agentID string, logger *zap.Logger) *Bridge {
	if logger == nil {
		logger = zap.NewNop()
	}
	if agentID == "" {
		agentID = DefaultAgentID
	}
	ctx, cancel := context.WithCancel(context.Background())
	b := &Bridge{
		council:  c,
		protocol: p,
		agentID:  agentID,
		logger:   logger.With(zap.String("component", "council_bridge")),
		ctx:      ctx,
		cancel:   cancel,
	}
	p.RegisterHandler(protocol.MessageCouncilVoteRequest, b.handleRequest)
	return b
}

// AgentID returns the id replies are sent from.
func (b *Bridge) AgentID() string { return b.agentID }

func (b *Bridge) handleRequest(ctx context.Context, msg *protocol.Message) error {
	if msg.Receiver != "" && msg.Receiver != b.agentID {
		return nil
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return types.NewError(types.ErrCancelled, "council bridge closed")
	}
	b.wg.Add(1)
	b.mu.Unlock()

	prompt := msg.String(protocol.KeyPrompt)
	taskType := TaskType(msg.String(protocol.KeyTaskType))
	promptContext := stringMap(msg.Map(protocol.KeyContext))

	roundCtx, cancel := b.roundContext(ctx)

	// 投票耗时较长，不阻塞 Send
	go func() {
		defer b.wg.Done()
		defer cancel()
		result := b.council.Vote(roundCtx, prompt, taskType, promptContext)
		if _, err := b.protocol.Reply(roundCtx, msg, protocol.MessageCouncilVoteResponse, b.agentID,
			map[string]any{protocol.KeyResult: result}); err != nil {
			b.logger.Warn("failed to deliver council result", zap.String("request_id", msg.ID), zap.Error(err))
		}
	}()
	return nil
}

// roundContext detaches a round from the sender's cancellation. The round
// keeps the sender's values and deadline and ends with the bridge.
func (b *Bridge) roundContext(sendCtx context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.WithoutCancel(sendCtx))
	stop := context.AfterFunc(b.ctx, cancel)
	if deadline, ok := sendCtx.Deadline(); ok {
		var cancelDeadline context.CancelFunc
		ctx, cancelDeadline = context.WithDeadline(ctx, deadline)
		return ctx, func() {
			cancelDeadline()
			stop()
			cancel()
		}
	}
	return ctx, func() {
		stop()
		cancel()
	}
}

// RequestVote sends a vote request from sender and waits for the result.
func (b *Bridge) RequestVote(ctx context.Context, sender, prompt string, taskType TaskType, promptContext map[string]string, timeout time.Duration) (*ConsensusResult, error) {
	payload := map[string]any{
		protocol.KeyPrompt:   prompt,
		protocol.KeyTaskType: string(taskType),
	}
	if len(promptContext) > 0 {
		ctxPayload := make(map[string]any, len(promptContext))
		for k, v := range promptContext {
			ctxPayload[k] = v
		}
		payload[protocol.KeyContext] = ctxPayload
	}

	req := protocol.NewMessage(protocol.MessageCouncilVoteRequest, sender, b.agentID, payload)
	resp, err := b.protocol.SendAndWait(ctx, req, timeout)
	if err != nil {
		return nil, err
	}
	result, ok := resp.Payload[protocol.KeyResult].(*ConsensusResult)
	if !ok {
		return nil, types.Errorf(types.ErrInvalidMessage, "council response %s carries no result", resp.ID)
	}
	return result, nil
}

// Close stops accepting requests and waits for in-flight rounds.
func (b *Bridge) Close() {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()
	b.wg.Wait()
	b.cancel()
}

func stringMap(m map[string]any) map[string]string {
	if len(m) == 0 {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		if s, ok := v.(string); ok {
			out[k] = s
		}
	}
	return out
}
