package memory

import (
	"context"
	"sketchpad/core"
	"sync"

	"github.com/sirupsen/logrus"
)

type kvStore struct {
	mu    sync.RWMutex
	items map[string][]byte
}

// NewStore creates a new in-memory key-value store.
func NewStore() core.KeyValueStore {
	return &kvStore{
		items: make(map[string][]byte),
	}
}

func (s *kvStore) Get(ctx context.Context, key string) ([]byte, error) {
	log := logrus.WithField("key", key)

	s.mu.RLock()
	value, ok := s.items[key]
	s.mu.RUnlock()

	if !ok {
		log.Debug("Key not found")
		return nil, core.ErrKeyNotFound
	}

	out := make([]byte, len(value))
	copy(out, value)
	log.WithField("data_length", len(out)).Debug("Value retrieved successfully")
	return out, nil
}

func (s *kvStore) Set(ctx context.Context, key string, value []byte) error {
	stored := make([]byte, len(value))
	copy(stored, value)

	s.mu.Lock()
	s.items[key] = stored
	s.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"key":         key,
		"data_length": len(value),
	}).Debug("Value stored successfully")
	return nil
}

func (s *kvStore) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	delete(s.items, key)
	s.mu.Unlock()

	logrus.WithField("key", key).Debug("Value deleted")
	return nil
}
