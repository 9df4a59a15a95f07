package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"sketchpad/core"
	"time"

	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"
)

type kvStore struct {
	db *sql.DB
}

// NewStore creates a new SQLite-based key-value store.
func NewStore(dataSourceName string) core.KeyValueStore {
	db, err := sql.Open("sqlite", dataSourceName)
	if err != nil {
		logrus.Fatalf("failed to open sqlite database: %v", err)
	}

	kvTableStmt := `
	CREATE TABLE IF NOT EXISTS kv (
		key TEXT PRIMARY KEY,
		value BLOB NOT NULL,
		updated_at INTEGER NOT NULL
	);`
	if _, err = db.Exec(kvTableStmt); err != nil {
		logrus.Fatalf("failed to create kv table: %v", err)
	}

	return &kvStore{db}
}

func (s *kvStore) Get(ctx context.Context, key string) ([]byte, error) {
	log := logrus.WithField("key", key)
	log.Debug("Retrieving value by key")

	var value []byte
	err := s.db.QueryRowContext(ctx, "SELECT value FROM kv WHERE key = ?", key).Scan(&value)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			log.Debug("Key not found")
			return nil, core.ErrKeyNotFound
		}
		log.WithError(err).Error("Failed to retrieve value")
		return nil, err
	}

	log.WithField("data_length", len(value)).Debug("Value retrieved successfully")
	return value, nil
}

func (s *kvStore) Set(ctx context.Context, key string, value []byte) error {
	log := logrus.WithFields(logrus.Fields{
		"key":         key,
		"data_length": len(value),
	})
	if value == nil {
		value = []byte{}
	}

	_, err := s.db.ExecContext(ctx,
		"INSERT INTO kv (key, value, updated_at) VALUES (?, ?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at",
		key, value, time.Now().UnixMilli())
	if err != nil {
		log.WithError(err).Error("Failed to store value")
		return err
	}

	log.Debug("Value stored successfully")
	return nil
}

func (s *kvStore) Delete(ctx context.Context, key string) error {
	log := logrus.WithField("key", key)

	if _, err := s.db.ExecContext(ctx, "DELETE FROM kv WHERE key = ?", key); err != nil {
		log.WithError(err).Error("Failed to delete value")
		return err
	}

	log.Debug("Value deleted")
	return nil
}
