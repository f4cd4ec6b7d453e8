package persistence

import (
	"context"
	"sync"
	"time"
)

// MemoryMessageStore 内存消息存储，适合开发和测试，重启后数据丢失
type MemoryMessageStore struct {
	records []*MessageRecord
	index   map[string]*MessageRecord
	maxSize int
	mu      sync.RWMutex
	closed  bool
}

// NewMemoryMessageStore 创建内存消息存储，maxSize 为 0 表示不限制
func NewMemoryMessageStore(maxSize int) *MemoryMessageStore {
	return &MemoryMessageStore{
		index:   make(map[string]*MessageRecord),
		maxSize: maxSize,
	}
}

// Close 关闭存储
func (s *MemoryMessageStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Ping 健康检查
func (s *MemoryMessageStore) Ping(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrStoreClosed
	}
	return nil
}

// SaveMessage 追加一条记录，超过上限时淘汰最旧的记录
func (s *MemoryMessageStore) SaveMessage(ctx context.Context, msg *MessageRecord) error {
	if msg == nil || msg.ID == "" {
		return ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}

	rec := *msg
	s.records = append(s.records, &rec)
	s.index[rec.ID] = &rec

	if s.maxSize > 0 && len(s.records) > s.maxSize {
		overflow := len(s.records) - s.maxSize
		for _, old := range s.records[:overflow] {
			delete(s.index, old.ID)
		}
		s.records = append([]*MessageRecord(nil), s.records[overflow:]...)
	}
	return nil
}

// GetMessage 按 ID 获取记录
func (s *MemoryMessageStore) GetMessage(ctx context.Context, msgID string) (*MessageRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}
	rec, ok := s.index[msgID]
	if !ok {
		return nil, ErrNotFound
	}
	out := *rec
	return &out, nil
}

// ListMessages 按过滤条件返回最新的记录
func (s *MemoryMessageStore) ListMessages(ctx context.Context, filter MessageFilter, limit int) ([]*MessageRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	var out []*MessageRecord
	for i := len(s.records) - 1; i >= 0; i-- {
		if !filter.Matches(s.records[i]) {
			continue
		}
		rec := *s.records[i]
		out = append(out, &rec)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	reverse(out)
	return out, nil
}

// Count 返回记录数
func (s *MemoryMessageStore) Count(ctx context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return 0, ErrStoreClosed
	}
	return int64(len(s.records)), nil
}

func reverse[T any](s []T) {
	for i, j := 0, len(s)-1; i < j; i, j = i+1, j-1 {
		s[i], s[j] = s[j], s[i]
	}
}
