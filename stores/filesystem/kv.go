package filesystem

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sketchpad/core"
	"strings"

	"github.com/sirupsen/logrus"
)

type fsStore struct {
	basePath string
}

// NewStore creates a new filesystem-based key-value store. Each key is kept
// in its own file under basePath.
func NewStore(basePath string) core.KeyValueStore {
	if err := os.MkdirAll(basePath, 0755); err != nil {
		logrus.WithField("base_path", basePath).Fatalf("failed to create base directory: %v", err)
	}
	return &fsStore{basePath: basePath}
}

// keyPath maps a key to a file inside the base directory.
func (s *fsStore) keyPath(key string) (string, error) {
	if key == "" || key == "." || key == ".." {
		return "", fmt.Errorf("invalid key %q: must not be empty or a dot directory", key)
	}
	if filepath.Base(key) != key || strings.ContainsAny(key, `/\`) {
		return "", fmt.Errorf("invalid key %q: must not be a path", key)
	}
	return filepath.Join(s.basePath, key), nil
}

func (s *fsStore) Get(ctx context.Context, key string) ([]byte, error) {
	filePath, err := s.keyPath(key)
	if err != nil {
		return nil, err
	}
	log := logrus.WithFields(logrus.Fields{"key": key, "file_path": filePath})

	data, err := os.ReadFile(filePath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			log.Debug("Key file not found")
			return nil, core.ErrKeyNotFound
		}
		log.WithError(err).Error("Failed to read key file")
		return nil, err
	}

	log.WithField("data_length", len(data)).Debug("Value retrieved successfully")
	return data, nil
}

// Set writes to a temporary file in the same directory and renames it over
// the target so readers never observe a partial value.
func (s *fsStore) Set(ctx context.Context, key string, value []byte) error {
	filePath, err := s.keyPath(key)
	if err != nil {
		return err
	}
	log := logrus.WithFields(logrus.Fields{"key": key, "file_path": filePath, "data_length": len(value)})

	tmp, err := os.CreateTemp(s.basePath, "."+key+".*.tmp")
	if err != nil {
		log.WithError(err).Error("Failed to create temporary file")
		return err
	}
	tmpName := tmp.Name()
	cleanup := func() {
		_ = os.Remove(tmpName)
	}

	if _, err := tmp.Write(value); err != nil {
		_ = tmp.Close()
		cleanup()
		log.WithError(err).Error("Failed to write temporary file")
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		cleanup()
		log.WithError(err).Error("Failed to sync temporary file")
		return err
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		log.WithError(err).Error("Failed to close temporary file")
		return err
	}
	if err := os.Rename(tmpName, filePath); err != nil {
		cleanup()
		log.WithError(err).Error("Failed to replace key file")
		return err
	}

	log.Debug("Value stored successfully")
	return nil
}

func (s *fsStore) Delete(ctx context.Context, key string) error {
	filePath, err := s.keyPath(key)
	if err != nil {
		return err
	}
	log := logrus.WithFields(logrus.Fields{"key": key, "file_path": filePath})

	if err := os.Remove(filePath); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			log.Debug("Key file not found for deletion, considered successful")
			return nil
		}
		log.WithError(err).Error("Failed to delete key file")
		return err
	}

	log.Debug("Value deleted")
	return nil
}
