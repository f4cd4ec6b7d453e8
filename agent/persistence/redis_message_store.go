package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/BaSui01/agentcouncil/internal/tlsutil"
	"github.com/redis/go-redis/v9"
)

// RedisMessageStore is a Redis-based implementation of MessageStore.
// Records are stored as JSON strings and ordered through a sorted set whose
// scores come from a monotonically increasing sequence.
type RedisMessageStore struct {
	client    *redis.Client
	keyPrefix string
	maxSize   int
}

// NewRedisMessageStore creates a new Redis-based message store
func NewRedisMessageStore(config RedisStoreConfig, maxSize int) (*RedisMessageStore, error) {
	opts := &redis.Options{
		Addr:     config.Addr,
		Password: config.Password,
		DB:       config.DB,
		PoolSize: config.PoolSize,
	}
	if config.TLS {
		host, _, err := net.SplitHostPort(config.Addr)
		if err != nil {
			host = config.Addr
		}
		opts.TLSConfig = tlsutil.ClientConfig(host)
	}
	client := redis.NewClient(opts)

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return NewRedisMessageStoreWithClient(client, config.KeyPrefix, maxSize), nil
}

// NewRedisMessageStoreWithClient wraps an existing client. The store takes
// ownership and closes the client on Close.
func NewRedisMessageStoreWithClient(client *redis.Client, keyPrefix string, maxSize int) *RedisMessageStore {
	if keyPrefix == "" {
		keyPrefix = "agentcouncil:"
	}
	return &RedisMessageStore{
		client:    client,
		keyPrefix: keyPrefix + "msg:",
		maxSize:   maxSize,
	}
}

// Close closes the store
func (s *RedisMessageStore) Close() error {
	return s.client.Close()
}

// Ping checks if the store is healthy
func (s *RedisMessageStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisMessageStore) messageKey(msgID string) string {
	return s.keyPrefix + "data:" + msgID
}

func (s *RedisMessageStore) logKey() string {
	return s.keyPrefix + "log"
}

func (s *RedisMessageStore) seqKey() string {
	return s.keyPrefix + "seq"
}

// SaveMessage appends a record and trims the log to maxSize
func (s *RedisMessageStore) SaveMessage(ctx context.Context, msg *MessageRecord) error {
	if msg == nil || msg.ID == "" {
		return ErrInvalidInput
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	seq, err := s.client.Incr(ctx, s.seqKey()).Result()
	if err != nil {
		return fmt.Errorf("failed to allocate sequence: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, s.messageKey(msg.ID), data, 0)
	pipe.ZAdd(ctx, s.logKey(), redis.Z{Score: float64(seq), Member: msg.ID})
	if _, err := pipe.Exec(ctx); err != nil {
		return err
	}

	if s.maxSize > 0 {
		return s.trim(ctx)
	}
	return nil
}

// trim drops the oldest records beyond maxSize
func (s *RedisMessageStore) trim(ctx context.Context) error {
	size, err := s.client.ZCard(ctx, s.logKey()).Result()
	if err != nil {
		return err
	}
	overflow := size - int64(s.maxSize)
	if overflow <= 0 {
		return nil
	}

	ids, err := s.client.ZRange(ctx, s.logKey(), 0, overflow-1).Result()
	if err != nil {
		return err
	}

	pipe := s.client.TxPipeline()
	for _, id := range ids {
		pipe.Del(ctx, s.messageKey(id))
	}
	pipe.ZRemRangeByRank(ctx, s.logKey(), 0, overflow-1)
	_, err = pipe.Exec(ctx)
	return err
}

// GetMessage retrieves a message by ID
func (s *RedisMessageStore) GetMessage(ctx context.Context, msgID string) (*MessageRecord, error) {
	data, err := s.client.Get(ctx, s.messageKey(msgID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	var rec MessageRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to unmarshal message: %w", err)
	}
	return &rec, nil
}

// ListMessages walks the log newest-first and returns matches oldest-first
func (s *RedisMessageStore) ListMessages(ctx context.Context, filter MessageFilter, limit int) ([]*MessageRecord, error) {
	const batch = 256

	var out []*MessageRecord
	for start := int64(0); ; start += batch {
		ids, err := s.client.ZRevRange(ctx, s.logKey(), start, start+batch-1).Result()
		if err != nil {
			return nil, err
		}
		if len(ids) == 0 {
			break
		}

		keys := make([]string, len(ids))
		for i, id := range ids {
			keys[i] = s.messageKey(id)
		}
		values, err := s.client.MGet(ctx, keys...).Result()
		if err != nil {
			return nil, err
		}

		for _, v := range values {
			raw, ok := v.(string)
			if !ok {
				continue
			}
			var rec MessageRecord
			if err := json.Unmarshal([]byte(raw), &rec); err != nil {
				continue
			}
			if !filter.Matches(&rec) {
				continue
			}
			out = append(out, &rec)
			if limit > 0 && len(out) == limit {
				reverse(out)
				return out, nil
			}
		}

		if len(ids) < batch {
			break
		}
	}

	reverse(out)
	return out, nil
}

// Count returns the number of stored records
func (s *RedisMessageStore) Count(ctx context.Context) (int64, error) {
	return s.client.ZCard(ctx, s.logKey()).Result()
}
