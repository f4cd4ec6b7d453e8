package protocol

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/BaSui01/agentcouncil/agent/persistence"
	"github.com/BaSui01/agentcouncil/internal/metrics"
	"github.com/BaSui01/agentcouncil/types"
	"go.uber.org/zap"
)

// Handler processes a delivered message. Returned errors are logged and
// isolated; they never stop delivery to other handlers.
type Handler func(ctx context.Context, msg *Message) error

// Config 协议配置
type Config struct {
	// MaxLogSize bounds the in-memory audit log; 0 means unbounded.
	MaxLogSize int `json:"max_log_size" yaml:"max_log_size" env:"MAX_LOG_SIZE"`
	// DefaultWaitTimeout is used by SendAndWait when no timeout is given.
	DefaultWaitTimeout time.Duration `json:"default_wait_timeout" yaml:"default_wait_timeout" env:"DEFAULT_WAIT_TIMEOUT"`
}

// DefaultConfig 默认配置
func DefaultConfig() Config {
	return Config{
		MaxLogSize:         10000,
		DefaultWaitTimeout: 30 * time.Second,
	}
}

// LogFilter narrows MessageLog results. Zero fields match everything.
type LogFilter struct {
	Sender   string
	Receiver string
	Type     MessageType
}

func (f LogFilter) matches(m *Message) bool {
	if f.Sender != "" && m.Sender != f.Sender {
		return false
	}
	if f.Receiver != "" && m.Receiver != f.Receiver {
		return false
	}
	if f.Type != "" && m.Type != f.Type {
		return false
	}
	return true
}

// Protocol is the in-process message router: per-type handlers, best-effort
// delivery, request/response correlation and an audit log.
type Protocol struct {
	config Config

	mu       sync.RWMutex
	handlers map[MessageType][]Handler
	log      []*Message
	known    map[string]struct{}
	pending  map[string]chan *Message

	store   persistence.MessageStore
	metrics *metrics.Collector
	logger  *zap.Logger
}

// Option configures a Protocol.
type Option func(*Protocol)

// WithStore mirrors every sent message into a persistence.MessageStore.
func WithStore(store persistence.MessageStore) Option {
	return func(p *Protocol) { p.store = store }
}

// WithMetrics records message traffic on the collector.
func WithMetrics(c *metrics.Collector) Option {
	return func(p *Protocol) { p.metrics = c }
}

// New 创建协议实例
func New(config Config, logger *zap.Logger, opts ...Option) *Protocol {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.DefaultWaitTimeout <= 0 {
		config.DefaultWaitTimeout = DefaultConfig().DefaultWaitTimeout
	}

	p := &Protocol{
		config:   config,
		handlers: make(map[MessageType][]Handler),
		known:    make(map[string]struct{}),
		pending:  make(map[string]chan *Message),
		logger:   logger.With(zap.String("component", "protocol")),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// RegisterHandler appends a handler for kind. Handlers run in registration order.
func (p *Protocol) RegisterHandler(kind MessageType, h Handler) {
	if h == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.handlers[kind] = append(p.handlers[kind], h)
}

// Send logs the message, resolves a pending request it answers, and calls
// every handler registered for its type. Only malformed messages are rejected.
func (p *Protocol) Send(ctx context.Context, msg *Message) error {
	if err := validate(msg); err != nil {
		return err
	}

	p.mu.Lock()
	if msg.CorrelationID != "" {
		if _, ok := p.known[msg.CorrelationID]; !ok {
			p.mu.Unlock()
			return types.Errorf(types.ErrUnknownCorrelation,
				"message %s correlates to unknown message %s", msg.ID, msg.CorrelationID)
		}
	}
	p.appendLocked(msg)

	var waiter chan *Message
	if msg.CorrelationID != "" {
		if ch, ok := p.pending[msg.CorrelationID]; ok {
			waiter = ch
			delete(p.pending, msg.CorrelationID)
		}
	}
	handlers := append([]Handler(nil), p.handlers[msg.Type]...)
	p.mu.Unlock()

	p.metrics.RecordMessage(string(msg.Type))
	p.logger.Debug("message sent",
		zap.String("msg_id", msg.ID),
		zap.String("type", string(msg.Type)),
		zap.String("from", msg.Sender),
		zap.String("to", msg.Receiver),
	)

	p.mirror(ctx, msg)

	if waiter != nil {
		// 缓冲为 1，且每个等待者只会被解析一次
		waiter <- msg
	}

	for i, h := range handlers {
		if err := p.invoke(ctx, h, msg); err != nil {
			p.metrics.RecordHandlerError(string(msg.Type))
			p.logger.Warn("message handler failed",
				zap.String("msg_id", msg.ID),
				zap.String("type", string(msg.Type)),
				zap.Int("handler", i),
				zap.Error(err),
			)
		}
	}

	return nil
}

// SendAndWait sends msg and waits for the first message correlated to it.
// A timeout or cancelled context removes the pending entry and reports failure.
func (p *Protocol) SendAndWait(ctx context.Context, msg *Message, timeout time.Duration) (*Message, error) {
	if err := validate(msg); err != nil {
		return nil, err
	}
	if timeout <= 0 {
		timeout = p.config.DefaultWaitTimeout
	}

	ch := make(chan *Message, 1)
	p.mu.Lock()
	p.pending[msg.ID] = ch
	p.mu.Unlock()

	if err := p.Send(ctx, msg); err != nil {
		p.dropPending(msg.ID)
		return nil, err
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case resp := <-ch:
		return resp, nil
	case <-timer.C:
		p.dropPending(msg.ID)
		return nil, types.Errorf(types.ErrTimeout, "no response to %s within %s", msg.ID, timeout).
			WithRetryable(true)
	case <-ctx.Done():
		p.dropPending(msg.ID)
		return nil, types.NewError(types.ErrCancelled, "send_and_wait cancelled").WithCause(ctx.Err())
	}
}

// Reply sends a response to req, addressed to its sender and correlated to its id.
func (p *Protocol) Reply(ctx context.Context, req *Message, kind MessageType, sender string, payload map[string]any) (*Message, error) {
	resp := NewMessage(kind, sender, req.Sender, payload,
		WithCorrelation(req.ID),
		WithPriority(req.Priority),
	)
	if err := p.Send(ctx, resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// MessageLog returns up to limit of the most recent messages matching filter,
// oldest first. limit <= 0 returns every match.
func (p *Protocol) MessageLog(filter LogFilter, limit int) []*Message {
	p.mu.RLock()
	defer p.mu.RUnlock()

	matched := make([]*Message, 0)
	for i := len(p.log) - 1; i >= 0; i-- {
		if filter.matches(p.log[i]) {
			matched = append(matched, p.log[i])
			if limit > 0 && len(matched) == limit {
				break
			}
		}
	}

	// 反转为时间正序
	for i, j := 0, len(matched)-1; i < j; i, j = i+1, j-1 {
		matched[i], matched[j] = matched[j], matched[i]
	}
	return matched
}

// PendingCount returns the number of requests still awaiting a response.
func (p *Protocol) PendingCount() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.pending)
}

// appendLocked adds msg to the audit log, evicting the oldest entries past
// MaxLogSize. Ids that still have a pending waiter stay resolvable.
func (p *Protocol) appendLocked(msg *Message) {
	p.log = append(p.log, msg)
	p.known[msg.ID] = struct{}{}

	if p.config.MaxLogSize <= 0 || len(p.log) <= p.config.MaxLogSize {
		return
	}
	overflow := len(p.log) - p.config.MaxLogSize
	for _, old := range p.log[:overflow] {
		if _, waiting := p.pending[old.ID]; !waiting {
			delete(p.known, old.ID)
		}
	}
	p.log = append([]*Message(nil), p.log[overflow:]...)
}

func (p *Protocol) dropPending(id string) {
	p.mu.Lock()
	delete(p.pending, id)
	p.mu.Unlock()
}

func (p *Protocol) mirror(ctx context.Context, msg *Message) {
	if p.store == nil {
		return
	}
	rec := msg.Record()
	if err := p.store.SaveMessage(ctx, &persistence.MessageRecord{
		ID:            rec.ID,
		Type:          rec.Type,
		Sender:        rec.Sender,
		Receiver:      rec.Receiver,
		Payload:       rec.Payload,
		CorrelationID: rec.CorrelationID,
		Priority:      rec.Priority,
		Attempts:      rec.Attempts,
		CreatedAt:     msg.Timestamp,
	}); err != nil {
		// 持久化失败不阻止消息投递
		p.logger.Error("failed to mirror message",
			zap.String("msg_id", msg.ID),
			zap.Error(err),
		)
	}
}

// invoke runs one handler, converting a panic into an error.
func (p *Protocol) invoke(ctx context.Context, h Handler, msg *Message) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panicked: %v", r)
		}
	}()
	return h(ctx, msg)
}

func validate(msg *Message) error {
	if msg == nil {
		return types.NewError(types.ErrInvalidMessage, "message is nil")
	}
	if msg.ID == "" {
		return types.NewError(types.ErrInvalidMessage, "message id is empty")
	}
	if !msg.Type.IsValid() {
		return types.Errorf(types.ErrInvalidMessage, "unknown message type %q", msg.Type)
	}
	return nil
}
