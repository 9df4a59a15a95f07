// Package catalog keeps an in-memory copy of the drawing gallery and routes
// every mutation through a core.DrawingStore, reloading the copy afterwards.
package catalog

import (
	"context"
	"errors"
	"sketchpad/core"
	"sort"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/sirupsen/logrus"
)

// Option configures a Catalog.
type Option func(*Catalog)

// WithClock replaces time.Now for timestamp assignment.
func WithClock(now func() time.Time) Option {
	return func(c *Catalog) { c.now = now }
}

// WithIDGenerator replaces the ULID generator used by Create.
func WithIDGenerator(newID func() string) Option {
	return func(c *Catalog) { c.newID = newID }
}

// Catalog is the cached drawing list plus the mutation API over it.
// It is safe for concurrent use.
type Catalog struct {
	store core.DrawingStore
	now   func() time.Time
	newID func() string

	mu       sync.RWMutex
	drawings []core.Drawing
	selected *core.Drawing
	loading  bool
	err      *core.CatalogError
}

// New creates an empty catalog over store. Call Load to populate it.
func New(store core.DrawingStore, opts ...Option) *Catalog {
	c := &Catalog{
		store:    store,
		now:      time.Now,
		newID:    func() string { return ulid.Make().String() },
		drawings: []core.Drawing{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Load replaces the cached list with the store's contents. On failure the
// list is emptied and a LoadFailure is recorded.
func (c *Catalog) Load(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.loading = true
	defer func() { c.loading = false }()

	drawings, err := c.store.List(ctx)
	if err != nil {
		c.drawings = []core.Drawing{}
		return c.fail(core.LoadFailure, err)
	}
	c.drawings = drawings
	c.err = nil
	logrus.WithField("count", len(drawings)).Info("Drawings loaded")
	return nil
}

// Create assigns a fresh id and timestamps to input, persists it, refreshes
// the list and selects the new record.
func (c *Catalog) Create(ctx context.Context, input core.DrawingInput) (core.Drawing, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	ts := c.now().UnixMilli()
	drawing := core.Drawing{
		ID:        c.newID(),
		Name:      input.Name,
		Image:     input.Image,
		Thumbnail: input.Thumbnail,
		CreatedAt: ts,
		UpdatedAt: ts,
		Width:     input.Width,
		Height:    input.Height,
	}

	if err := c.store.Upsert(ctx, drawing); err != nil {
		return core.Drawing{}, c.fail(core.SaveFailure, err)
	}
	if err := c.refresh(ctx, core.SaveFailure); err != nil {
		return core.Drawing{}, err
	}

	selected := drawing
	c.selected = &selected
	c.err = nil

	logrus.WithFields(logrus.Fields{
		"drawing_id": drawing.ID,
		"name":       drawing.Name,
	}).Info("Drawing created")
	return drawing, nil
}

// Save persists drawing with a refreshed UpdatedAt and returns the stored
// record.
func (c *Catalog) Save(ctx context.Context, drawing core.Drawing) (core.Drawing, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	drawing.UpdatedAt = c.now().UnixMilli()
	if drawing.CreatedAt == 0 {
		drawing.CreatedAt = drawing.UpdatedAt
	}

	if err := c.store.Upsert(ctx, drawing); err != nil {
		return core.Drawing{}, c.fail(core.SaveFailure, err)
	}
	if err := c.refresh(ctx, core.SaveFailure); err != nil {
		return core.Drawing{}, err
	}
	if c.selected != nil && c.selected.ID == drawing.ID {
		selected := drawing
		c.selected = &selected
	}
	c.err = nil

	logrus.WithField("drawing_id", drawing.ID).Debug("Drawing saved")
	return drawing, nil
}

// Remove deletes one drawing and deselects it if it was selected.
func (c *Catalog) Remove(ctx context.Context, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.store.DeleteOne(ctx, id); err != nil {
		return c.fail(core.DeleteFailure, err)
	}
	if err := c.refresh(ctx, core.DeleteFailure); err != nil {
		return err
	}
	if c.selected != nil && c.selected.ID == id {
		c.selected = nil
	}
	c.err = nil

	logrus.WithField("drawing_id", id).Info("Drawing removed")
	return nil
}

// RemoveAll deletes every drawing.
func (c *Catalog) RemoveAll(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.store.DeleteAll(ctx); err != nil {
		return c.fail(core.ClearFailure, err)
	}
	c.drawings = []core.Drawing{}
	c.selected = nil
	c.err = nil

	logrus.Info("All drawings removed")
	return nil
}

// Get reads one drawing straight from the store.
func (c *Catalog) Get(ctx context.Context, id string) (core.Drawing, error) {
	return c.store.GetByID(ctx, id)
}

// Drawings returns a copy of the cached list in store order.
func (c *Catalog) Drawings() []core.Drawing {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]core.Drawing, len(c.drawings))
	copy(out, c.drawings)
	return out
}

// Sorted returns a copy of the cached list, most recently updated first.
// Records with equal UpdatedAt keep their store order.
func (c *Catalog) Sorted() []core.Drawing {
	out := c.Drawings()
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].UpdatedAt > out[j].UpdatedAt
	})
	return out
}

func (c *Catalog) Count() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.drawings)
}

func (c *Catalog) HasDrawings() bool {
	return c.Count() > 0
}

// Selected returns the selected drawing, or nil.
func (c *Catalog) Selected() *core.Drawing {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.selected == nil {
		return nil
	}
	d := *c.selected
	return &d
}

// Select sets the selected drawing. nil clears the selection.
func (c *Catalog) Select(drawing *core.Drawing) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if drawing == nil {
		c.selected = nil
		return
	}
	d := *drawing
	c.selected = &d
}

func (c *Catalog) Loading() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.loading
}

// Err returns the last recorded failure, or nil.
func (c *Catalog) Err() *core.CatalogError {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.err == nil {
		return nil
	}
	e := *c.err
	return &e
}

func (c *Catalog) ClearError() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.err = nil
}

// refresh reloads the cached list after a successful write. A failed reload
// keeps the last good list and records kind.
func (c *Catalog) refresh(ctx context.Context, kind core.ErrorKind) error {
	drawings, err := c.store.List(ctx)
	if err != nil {
		return c.fail(kind, err)
	}
	c.drawings = drawings
	return nil
}

// fail records err under kind and returns the tagged error. Caller holds mu.
func (c *Catalog) fail(kind core.ErrorKind, err error) error {
	var tagged *core.CatalogError
	if !errors.As(err, &tagged) {
		tagged = &core.CatalogError{Kind: kind, Err: err}
	}
	c.err = tagged
	logrus.WithError(err).WithField("kind", string(kind)).Error(kind.Message())
	return tagged
}
