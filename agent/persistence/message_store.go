package persistence

import (
	"context"
	"time"
)

// MessageStore mirrors the protocol audit log.
type MessageStore interface {
	Store

	// SaveMessage appends a message record
	SaveMessage(ctx context.Context, msg *MessageRecord) error

	// GetMessage retrieves a message by ID
	GetMessage(ctx context.Context, msgID string) (*MessageRecord, error)

	// ListMessages returns up to limit of the newest records matching filter,
	// oldest first. limit <= 0 returns every match.
	ListMessages(ctx context.Context, filter MessageFilter, limit int) ([]*MessageRecord, error)

	// Count returns the number of stored records
	Count(ctx context.Context) (int64, error)
}

// MessageRecord is the persisted form of a protocol message.
type MessageRecord struct {
	ID            string         `json:"id"`
	Type          string         `json:"type"`
	Sender        string         `json:"sender"`
	Receiver      string         `json:"receiver"`
	Payload       map[string]any `json:"payload,omitempty"`
	CorrelationID string         `json:"correlation_id,omitempty"`
	Priority      int            `json:"priority"`
	Attempts      int            `json:"attempts"`
	CreatedAt     time.Time      `json:"created_at"`
}

// MessageFilter narrows ListMessages. Empty fields match everything.
type MessageFilter struct {
	Sender   string
	Receiver string
	Type     string
}

// Matches reports whether rec passes the filter.
func (f MessageFilter) Matches(rec *MessageRecord) bool {
	if f.Sender != "" && rec.Sender != f.Sender {
		return false
	}
	if f.Receiver != "" && rec.Receiver != f.Receiver {
		return false
	}
	if f.Type != "" && rec.Type != f.Type {
		return false
	}
	return true
}
