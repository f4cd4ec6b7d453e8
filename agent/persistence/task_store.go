package persistence

import (
	"context"
	"time"
)

// TaskStore records orchestrator task outcomes. It is a history, not a
// queue: nothing is replayed from it after a restart.
type TaskStore interface {
	Store

	// SaveTask creates or replaces the record with the same ID
	SaveTask(ctx context.Context, task *TaskRecord) error

	// GetTask retrieves a task by ID
	GetTask(ctx context.Context, taskID string) (*TaskRecord, error)

	// ListTasks retrieves tasks matching the filter, oldest first
	ListTasks(ctx context.Context, filter TaskFilter) ([]*TaskRecord, error)
}

// TaskStatus is the orchestrator-side state of a task.
type TaskStatus string

const (
	TaskStatusQueued     TaskStatus = "queued"
	TaskStatusDispatched TaskStatus = "dispatched"
	TaskStatusCompleted  TaskStatus = "completed"
	TaskStatusEscalated  TaskStatus = "escalated"
	TaskStatusFailed     TaskStatus = "failed"
)

// IsTerminal returns true if the orchestrator no longer tracks the task
func (s TaskStatus) IsTerminal() bool {
	switch s {
	case TaskStatusCompleted, TaskStatusEscalated, TaskStatusFailed:
		return true
	default:
		return false
	}
}

// TaskRecord is a snapshot of one task.
type TaskRecord struct {
	ID        string         `json:"id"`
	Action    string         `json:"action"`
	Status    TaskStatus     `json:"status"`
	AgentID   string         `json:"agent_id,omitempty"`
	Attempts  int            `json:"attempts"`
	Errors    []string       `json:"errors,omitempty"`
	Output    any            `json:"output,omitempty"`
	Payload   map[string]any `json:"payload,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// TaskFilter narrows ListTasks. Zero values match everything.
type TaskFilter struct {
	Status  []TaskStatus
	AgentID string
	Limit   int
}

// Matches reports whether rec passes the filter, ignoring Limit.
func (f TaskFilter) Matches(rec *TaskRecord) bool {
	if f.AgentID != "" && rec.AgentID != f.AgentID {
		return false
	}
	if len(f.Status) == 0 {
		return true
	}
	for _, s := range f.Status {
		if rec.Status == s {
			return true
		}
	}
	return false
}
