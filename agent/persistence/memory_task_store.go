package persistence

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryTaskStore 内存任务存储
type MemoryTaskStore struct {
	tasks  map[string]*TaskRecord
	mu     sync.RWMutex
	closed bool
}

// NewMemoryTaskStore 创建内存任务存储
func NewMemoryTaskStore() *MemoryTaskStore {
	return &MemoryTaskStore{
		tasks: make(map[string]*TaskRecord),
	}
}

// Close 关闭存储
func (s *MemoryTaskStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Ping 健康检查
func (s *MemoryTaskStore) Ping(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrStoreClosed
	}
	return nil
}

// SaveTask 保存任务（创建或覆盖）
func (s *MemoryTaskStore) SaveTask(ctx context.Context, task *TaskRecord) error {
	if task == nil || task.ID == "" {
		return ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	now := time.Now()
	rec := *task
	if existing, ok := s.tasks[rec.ID]; ok && rec.CreatedAt.IsZero() {
		rec.CreatedAt = existing.CreatedAt
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	rec.UpdatedAt = now
	rec.Errors = append([]string(nil), task.Errors...)
	s.tasks[rec.ID] = &rec
	return nil
}

// GetTask 获取任务
func (s *MemoryTaskStore) GetTask(ctx context.Context, taskID string) (*TaskRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}
	rec, ok := s.tasks[taskID]
	if !ok {
		return nil, ErrNotFound
	}
	out := *rec
	return &out, nil
}

// ListTasks 按过滤条件列出任务，按创建时间升序
func (s *MemoryTaskStore) ListTasks(ctx context.Context, filter TaskFilter) ([]*TaskRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	out := make([]*TaskRecord, 0, len(s.tasks))
	for _, rec := range s.tasks {
		if !filter.Matches(rec) {
			continue
		}
		cp := *rec
		out = append(out, &cp)
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})

	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}
