// Package local persists the drawing gallery and display preferences as
// fixed-key blobs in a core.KeyValueStore.
package local

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sketchpad/core"

	"github.com/sirupsen/logrus"
)

// DrawingsKey is the key holding the serialized drawing list.
const DrawingsKey = "draw-app-drawings"

// Drawings implements core.DrawingStore over a single JSON array stored under
// DrawingsKey. Every mutation rewrites the whole list.
type Drawings struct {
	kv core.KeyValueStore
}

var _ core.DrawingStore = (*Drawings)(nil)

// NewDrawings creates a drawing store backed by kv.
func NewDrawings(kv core.KeyValueStore) *Drawings {
	return &Drawings{kv: kv}
}

// List returns every stored drawing. A missing or corrupt blob yields an
// empty list; only backend read failures are reported.
func (s *Drawings) List(ctx context.Context) ([]core.Drawing, error) {
	log := logrus.WithField("key", DrawingsKey)

	data, err := s.kv.Get(ctx, DrawingsKey)
	if err != nil {
		if errors.Is(err, core.ErrKeyNotFound) {
			return []core.Drawing{}, nil
		}
		log.WithError(err).Error("Failed to read drawings")
		return nil, fmt.Errorf("%w: failed to load drawings: %v", core.ErrStorageFailure, err)
	}

	var drawings []core.Drawing
	if err := json.Unmarshal(data, &drawings); err != nil {
		log.WithError(err).Warn("Stored drawings are corrupt, treating as empty")
		return []core.Drawing{}, nil
	}
	if drawings == nil {
		drawings = []core.Drawing{}
	}
	return drawings, nil
}

// Upsert replaces the drawing with the same id in place, or appends it.
func (s *Drawings) Upsert(ctx context.Context, drawing core.Drawing) error {
	log := logrus.WithFields(logrus.Fields{"drawing_id": drawing.ID, "name": drawing.Name})

	drawings, err := s.List(ctx)
	if err != nil {
		log.WithError(err).Error("Failed to save drawing")
		return fmt.Errorf("%w: failed to save drawing: %v", core.ErrStorageFailure, err)
	}

	replaced := false
	for i := range drawings {
		if drawings[i].ID == drawing.ID {
			drawings[i] = drawing
			replaced = true
			break
		}
	}
	if !replaced {
		drawings = append(drawings, drawing)
	}

	if err := s.write(ctx, drawings); err != nil {
		log.WithError(err).Error("Failed to save drawing")
		return fmt.Errorf("%w: failed to save drawing: %v", core.ErrStorageFailure, err)
	}

	log.WithField("replaced", replaced).Info("Drawing saved successfully")
	return nil
}

// DeleteOne removes the drawing with the given id. Removing an unknown id
// rewrites the list unchanged.
func (s *Drawings) DeleteOne(ctx context.Context, id string) error {
	log := logrus.WithField("drawing_id", id)

	drawings, err := s.List(ctx)
	if err != nil {
		log.WithError(err).Error("Failed to delete drawing")
		return fmt.Errorf("%w: failed to delete drawing: %v", core.ErrStorageFailure, err)
	}

	filtered := drawings[:0]
	for _, d := range drawings {
		if d.ID != id {
			filtered = append(filtered, d)
		}
	}

	if err := s.write(ctx, filtered); err != nil {
		log.WithError(err).Error("Failed to delete drawing")
		return fmt.Errorf("%w: failed to delete drawing: %v", core.ErrStorageFailure, err)
	}

	log.Info("Drawing deleted successfully")
	return nil
}

// DeleteAll removes the stored list entirely.
func (s *Drawings) DeleteAll(ctx context.Context) error {
	if err := s.kv.Delete(ctx, DrawingsKey); err != nil {
		logrus.WithError(err).Error("Failed to clear drawings")
		return fmt.Errorf("%w: failed to clear drawings: %v", core.ErrStorageFailure, err)
	}
	logrus.Info("All drawings deleted")
	return nil
}

// GetByID returns the drawing with the given id, or core.ErrDrawingNotFound.
func (s *Drawings) GetByID(ctx context.Context, id string) (core.Drawing, error) {
	drawings, err := s.List(ctx)
	if err != nil {
		return core.Drawing{}, err
	}
	for _, d := range drawings {
		if d.ID == id {
			return d, nil
		}
	}
	logrus.WithField("drawing_id", id).Debug("Drawing not found")
	return core.Drawing{}, fmt.Errorf("%w: %s", core.ErrDrawingNotFound, id)
}

func (s *Drawings) write(ctx context.Context, drawings []core.Drawing) error {
	data, err := json.Marshal(drawings)
	if err != nil {
		return err
	}
	return s.kv.Set(ctx, DrawingsKey, data)
}
