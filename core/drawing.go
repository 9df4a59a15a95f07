package core

import (
	"context"
	"errors"
)

var (
	// ErrKeyNotFound is returned by a KeyValueStore when a key holds no value.
	ErrKeyNotFound = errors.New("key not found")

	// ErrDrawingNotFound is returned when no drawing has the requested id.
	ErrDrawingNotFound = errors.New("drawing not found")

	// ErrStorageFailure wraps every failed read or write against the backing store.
	ErrStorageFailure = errors.New("storage failure")
)

type (
	// Drawing is one persisted gallery entry. Image and Thumbnail are
	// self-contained data URLs. Timestamps are Unix milliseconds.
	Drawing struct {
		ID        string `json:"id"`
		Name      string `json:"name"`
		Image     string `json:"dataUrl"`
		Thumbnail string `json:"thumbnailDataUrl"`
		CreatedAt int64  `json:"createdAt"`
		UpdatedAt int64  `json:"updatedAt"`
		Width     int    `json:"width"`
		Height    int    `json:"height"`
	}

	// DrawingInput holds the caller-supplied fields of a new drawing. The id
	// and both timestamps are assigned on creation.
	DrawingInput struct {
		Name      string `json:"name"`
		Image     string `json:"dataUrl"`
		Thumbnail string `json:"thumbnailDataUrl"`
		Width     int    `json:"width"`
		Height    int    `json:"height"`
	}

	// KeyValueStore is a local string-keyed blob store.
	KeyValueStore interface {
		// Get returns the value under key, or ErrKeyNotFound.
		Get(ctx context.Context, key string) ([]byte, error)

		// Set stores value under key, replacing any previous value.
		Set(ctx context.Context, key string, value []byte) error

		// Delete removes key. Deleting a missing key is not an error.
		Delete(ctx context.Context, key string) error
	}

	// DrawingStore is the persistence layer for the drawing gallery.
	DrawingStore interface {
		// List returns every stored drawing in insertion order.
		List(ctx context.Context) ([]Drawing, error)

		// Upsert replaces the drawing with the same id, or appends it.
		Upsert(ctx context.Context, drawing Drawing) error

		// DeleteOne removes the drawing with the given id.
		DeleteOne(ctx context.Context, id string) error

		// DeleteAll removes every drawing.
		DeleteAll(ctx context.Context) error

		// GetByID returns a single drawing, or ErrDrawingNotFound.
		GetByID(ctx context.Context, id string) (Drawing, error)
	}
)

// Summary returns a copy of d without the full-resolution image, for list views.
func (d Drawing) Summary() Drawing {
	d.Image = ""
	return d
}

// Input returns the caller-supplied fields of d.
func (d Drawing) Input() DrawingInput {
	return DrawingInput{
		Name:      d.Name,
		Image:     d.Image,
		Thumbnail: d.Thumbnail,
		Width:     d.Width,
		Height:    d.Height,
	}
}
