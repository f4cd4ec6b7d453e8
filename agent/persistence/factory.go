package persistence

import (
	"fmt"

	"go.uber.org/zap"
)

// NewMessageStore creates a MessageStore based on the configuration.
// StoreTypeNone (or empty) yields a nil store and no error.
func NewMessageStore(config StoreConfig) (MessageStore, error) {
	switch config.MessageStore {
	case StoreTypeNone, "":
		return nil, nil
	case StoreTypeMemory:
		return NewMemoryMessageStore(config.MaxMessages), nil
	case StoreTypeRedis:
		store, err := NewRedisMessageStore(config.Redis, config.MaxMessages)
		if err != nil {
			return nil, err
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unsupported message store type: %s", config.MessageStore)
	}
}

// NewTaskStore creates a TaskStore based on the configuration.
// StoreTypeNone (or empty) yields a nil store and no error.
func NewTaskStore(config StoreConfig, logger *zap.Logger) (TaskStore, error) {
	switch config.TaskStore {
	case StoreTypeNone, "":
		return nil, nil
	case StoreTypeMemory:
		return NewMemoryTaskStore(), nil
	case StoreTypeSQL:
		db, err := OpenDatabase(config.Database, logger)
		if err != nil {
			return nil, err
		}
		store, err := NewSQLTaskStore(db)
		if err != nil {
			return nil, err
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unsupported task store type: %s", config.TaskStore)
	}
}

// ValidMessageStore reports whether t names a supported message backend
func ValidMessageStore(t StoreType) bool {
	switch t {
	case StoreTypeNone, StoreTypeMemory, StoreTypeRedis, "":
		return true
	}
	return false
}

// ValidTaskStore reports whether t names a supported task backend
func ValidTaskStore(t StoreType) bool {
	switch t {
	case StoreTypeNone, StoreTypeMemory, StoreTypeSQL, "":
		return true
	}
	return false
}
