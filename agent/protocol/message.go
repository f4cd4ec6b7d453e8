package protocol

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// MessageType 消息类型
type MessageType string

const (
	MessageTaskAssign          MessageType = "task_assign"           // 分配任务
	MessageTaskAccept          MessageType = "task_accept"           // 接受任务
	MessageTaskReject          MessageType = "task_reject"           // 拒绝任务
	MessageTaskProgress        MessageType = "task_progress"         // 任务进度
	MessageTaskComplete        MessageType = "task_complete"         // 任务完成
	MessageTaskFailed          MessageType = "task_failed"           // 任务失败
	MessageRescueRequest       MessageType = "rescue_request"        // 升级给 Supervisor
	MessageCouncilVoteRequest  MessageType = "council_vote_request"  // 请求委员会投票
	MessageCouncilVoteResponse MessageType = "council_vote_response" // 委员会投票结果
	MessageStatusQuery         MessageType = "status_query"
	MessageStatusResponse      MessageType = "status_response"
	MessageHeartbeat           MessageType = "heartbeat"
	MessageShutdown            MessageType = "shutdown"
)

// AllMessageTypes returns the closed set of message kinds.
func AllMessageTypes() []MessageType {
	return []MessageType{
		MessageTaskAssign, MessageTaskAccept, MessageTaskReject, MessageTaskProgress,
		MessageTaskComplete, MessageTaskFailed, MessageRescueRequest,
		MessageCouncilVoteRequest, MessageCouncilVoteResponse,
		MessageStatusQuery, MessageStatusResponse, MessageHeartbeat, MessageShutdown,
	}
}

// IsValid checks if the type belongs to the closed set.
func (t MessageType) IsValid() bool {
	for _, known := range AllMessageTypes() {
		if known == t {
			return true
		}
	}
	return false
}

// Priority bounds. 1 is the most urgent.
const (
	PriorityHighest = 1
	PriorityDefault = 5
	PriorityLowest  = 10
)

// Payload keys. Each message kind documents which keys it carries:
//
//	task_assign:           task_id, action, params, capabilities
//	task_accept/reject:    task_id, worker_id, error (reject)
//	task_progress:         task_id, progress, output
//	task_complete:         task_id, output, duration, worker_id
//	task_failed:           task_id, error, duration, worker_id
//	rescue_request:        task_id, original_payload, errors, attempts
//	council_vote_request:  prompt, task_type, context
//	council_vote_response: result
const (
	KeyTaskID          = "task_id"
	KeyAction          = "action"
	KeyParams          = "params"
	KeyCapabilities    = "capabilities"
	KeyWorkerID        = "worker_id"
	KeyOutput          = "output"
	KeyError           = "error"
	KeyErrors          = "errors"
	KeyDuration        = "duration"
	KeyProgress        = "progress"
	KeyAttempts        = "attempts"
	KeyOriginalPayload = "original_payload"
	KeyPrompt          = "prompt"
	KeyTaskType        = "task_type"
	KeyContext         = "context"
	KeyResult          = "result"
)

// Message is the envelope exchanged between orchestrator, workers and council.
// Messages are treated as immutable once sent; only Attempts changes, and only
// on a fresh copy produced by WithAttempts.
type Message struct {
	ID            string         `json:"id"`
	Type          MessageType    `json:"type"`
	Sender        string         `json:"sender"`
	Receiver      string         `json:"receiver"`
	Payload       map[string]any `json:"payload,omitempty"`
	Timestamp     time.Time      `json:"timestamp"`
	CorrelationID string         `json:"correlation_id,omitempty"`
	Priority      int            `json:"priority"`
	Attempts      int            `json:"attempts"`
	MaxRetries    int            `json:"max_retries"`
}

// MessageOption customises NewMessage.
type MessageOption func(*Message)

// WithCorrelation links the message to an earlier request.
func WithCorrelation(id string) MessageOption {
	return func(m *Message) { m.CorrelationID = id }
}

// WithPriority sets the priority, clamped to [PriorityHighest, PriorityLowest].
func WithPriority(p int) MessageOption {
	return func(m *Message) { m.Priority = clampPriority(p) }
}

// WithMaxRetries sets the retry budget carried by the message.
func WithMaxRetries(n int) MessageOption {
	return func(m *Message) {
		if n >= 0 {
			m.MaxRetries = n
		}
	}
}

// NewMessage creates a message with a fresh id and timestamp. The payload map
// is copied so later caller mutations do not leak into the envelope.
func NewMessage(kind MessageType, sender, receiver string, payload map[string]any, opts ...MessageOption) *Message {
	m := &Message{
		ID:         uuid.New().String(),
		Type:       kind,
		Sender:     sender,
		Receiver:   receiver,
		Payload:    copyPayload(payload),
		Timestamp:  time.Now(),
		Priority:   PriorityDefault,
		MaxRetries: 3,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Clone returns a shallow copy with its own payload map.
func (m *Message) Clone() *Message {
	c := *m
	c.Payload = copyPayload(m.Payload)
	return &c
}

// WithAttempts returns a copy addressed to receiver with a new id, a new
// timestamp and the given attempt count. Used for redispatch.
func (m *Message) WithAttempts(receiver string, attempts int) *Message {
	c := m.Clone()
	c.ID = uuid.New().String()
	c.Timestamp = time.Now()
	c.Receiver = receiver
	c.Attempts = attempts
	return c
}

// String returns the payload value for key as a string, or "".
func (m *Message) String(key string) string {
	if v, ok := m.Payload[key].(string); ok {
		return v
	}
	return ""
}

// StringSlice returns the payload value for key as a string slice.
func (m *Message) StringSlice(key string) []string {
	switch v := m.Payload[key].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

// Map returns the payload value for key as a map.
func (m *Message) Map(key string) map[string]any {
	if v, ok := m.Payload[key].(map[string]any); ok {
		return v
	}
	return nil
}

// Record is the plain serialisable form of a message, used for logging and
// for the audit mirror. It is not a wire protocol.
type Record struct {
	ID            string         `json:"id"`
	Type          string         `json:"type"`
	Sender        string         `json:"sender"`
	Receiver      string         `json:"receiver"`
	Payload       map[string]any `json:"payload,omitempty"`
	Timestamp     string         `json:"timestamp"`
	CorrelationID string         `json:"correlation_id,omitempty"`
	Priority      int            `json:"priority"`
	Attempts      int            `json:"attempts"`
}

// Record converts the message to its plain form with an ISO-8601 timestamp.
func (m *Message) Record() Record {
	return Record{
		ID:            m.ID,
		Type:          string(m.Type),
		Sender:        m.Sender,
		Receiver:      m.Receiver,
		Payload:       copyPayload(m.Payload),
		Timestamp:     m.Timestamp.UTC().Format(time.RFC3339Nano),
		CorrelationID: m.CorrelationID,
		Priority:      m.Priority,
		Attempts:      m.Attempts,
	}
}

// MarshalJSON implements json.Marshaler using the plain record form.
func (m *Message) MarshalJSON() ([]byte, error) {
	return json.Marshal(m.Record())
}

func copyPayload(src map[string]any) map[string]any {
	dst := make(map[string]any, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}

func clampPriority(p int) int {
	if p < PriorityHighest {
		return PriorityHighest
	}
	if p > PriorityLowest {
		return PriorityLowest
	}
	return p
}
