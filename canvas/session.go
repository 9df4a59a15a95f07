// Package canvas implements the raster editing session: pointer-driven
// strokes, text and image compositing, bounded undo/redo and saving the
// bitmap back through the catalog.
package canvas

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sketchpad/confirm"
	"sketchpad/core"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/sirupsen/logrus"
)

var (
	// ErrInvalidState is returned when an operation is not allowed in the
	// session's current interaction state.
	ErrInvalidState = errors.New("operation not allowed in current state")

	// ErrWrongTool is returned when the active tool does not support the operation.
	ErrWrongTool = errors.New("operation not supported by active tool")

	// ErrDecode is returned for image data that cannot be decoded.
	ErrDecode = errors.New("image decode failed")

	// ErrTooLarge is returned for canvases or images wider or taller than
	// MaxDimension.
	ErrTooLarge = errors.New("dimensions exceed limit")

	ErrSessionClosed   = errors.New("session closed")
	ErrSessionNotFound = errors.New("session not found")
)

// State is the pointer/text interaction state of a session.
type State string

const (
	Idle        State = "idle"
	Stroking    State = "stroking"
	TextPending State = "text-pending"
	TextEditing State = "text-editing"
)

// Catalog is the part of the drawing catalog a session saves through.
type Catalog interface {
	Create(ctx context.Context, input core.DrawingInput) (core.Drawing, error)
	Save(ctx context.Context, drawing core.Drawing) (core.Drawing, error)
	Get(ctx context.Context, id string) (core.Drawing, error)
}

// DefaultName is the name of a session not opened from a stored drawing.
const DefaultName = "New drawing"

// Options configures a new session.
type Options struct {
	Width    int
	Height   int
	Name     string
	Autosave time.Duration
}

// Session is one open editing surface. It is safe for concurrent use; all
// bitmap mutation is serialized.
type Session struct {
	id        string
	catalog   Catalog
	confirmer confirm.Confirmer

	mu        sync.Mutex
	drawingID string
	createdAt int64
	name      string
	surface   *surface
	history   *history
	tool      Tool
	state     State
	closed    bool

	// stroke state; the tool is captured at BeginStroke
	strokeTool Tool
	last       image.Point

	textAt image.Point

	saveMu   sync.Mutex
	autosave *autosaver
}

// SessionInfo is the externally visible state of a session.
type SessionInfo struct {
	ID         string `json:"id"`
	DrawingID  string `json:"drawingId,omitempty"`
	Name       string `json:"name"`
	Width      int    `json:"width"`
	Height     int    `json:"height"`
	State      State  `json:"state"`
	Tool       Tool   `json:"tool"`
	HistoryLen int    `json:"historyLength"`
	CanUndo    bool   `json:"canUndo"`
	CanRedo    bool   `json:"canRedo"`
}

// NewSession opens a blank, transparent session with no stored drawing.
func NewSession(catalog Catalog, confirmer confirm.Confirmer, opts Options) *Session {
	if opts.Width <= 0 {
		opts.Width = DefaultWidth
	}
	if opts.Height <= 0 {
		opts.Height = DefaultHeight
	}
	opts.Width = min(opts.Width, MaxDimension)
	opts.Height = min(opts.Height, MaxDimension)
	if opts.Name == "" {
		opts.Name = DefaultName
	}
	if confirmer == nil {
		confirmer = confirm.Always(true)
	}

	s := &Session{
		id:        ulid.Make().String(),
		catalog:   catalog,
		confirmer: confirmer,
		name:      opts.Name,
		surface:   newSurface(opts.Width, opts.Height),
		history:   newHistory(HistoryDepth),
		tool:      DefaultTool(),
		state:     Idle,
	}
	s.history.push(s.surface.snapshot())

	if opts.Autosave > 0 {
		s.autosave = startAutosave(s, opts.Autosave)
	}

	logrus.WithFields(logrus.Fields{
		"session_id": s.id,
		"width":      opts.Width,
		"height":     opts.Height,
	}).Info("Session opened")
	return s
}

// OpenSession opens a session on a stored drawing. The stored image is drawn
// unscaled at the origin and becomes the first history entry.
func OpenSession(catalog Catalog, confirmer confirm.Confirmer, drawing core.Drawing, autosave time.Duration) (*Session, error) {
	var img image.Image
	if drawing.Image != "" {
		var err error
		img, err = DecodeDataURL(drawing.Image)
		if err != nil {
			logrus.WithError(err).WithField("drawing_id", drawing.ID).Warn("Stored drawing image is unreadable")
			if !errors.Is(err, ErrDecode) {
				err = fmt.Errorf("%w: %v", ErrDecode, err)
			}
			return nil, err
		}
	}

	// The stored image is authoritative; a declared size that disagrees would
	// crop it on the next save.
	width, height := drawing.Width, drawing.Height
	if img != nil {
		width, height = img.Bounds().Dx(), img.Bounds().Dy()
	}
	if err := CheckDimensions(width, height); err != nil {
		logrus.WithField("drawing_id", drawing.ID).Warn("Stored drawing is too large to open")
		return nil, err
	}

	s := NewSession(catalog, confirmer, Options{Width: width, Height: height, Name: drawing.Name})
	s.mu.Lock()
	s.drawingID = drawing.ID
	s.createdAt = drawing.CreatedAt
	if img != nil {
		s.surface.load(img)
	}
	s.history = newHistory(HistoryDepth)
	s.history.push(s.surface.snapshot())
	s.mu.Unlock()

	if autosave > 0 {
		s.autosave = startAutosave(s, autosave)
	}

	logrus.WithFields(logrus.Fields{
		"session_id": s.id,
		"drawing_id": drawing.ID,
	}).Info("Session opened on stored drawing")
	return s, nil
}

func (s *Session) ID() string { return s.id }

// DrawingID returns the id of the stored drawing, empty until first save.
func (s *Session) DrawingID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.drawingID
}

func (s *Session) Width() int  { return s.surface.width }
func (s *Session) Height() int { return s.surface.height }

// State returns the interaction state. An idle session with the text tool
// armed reports TextPending.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stateLocked()
}

func (s *Session) stateLocked() State {
	if s.state == Idle && s.tool.Kind == Text {
		return TextPending
	}
	return s.state
}

func (s *Session) Info() SessionInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return SessionInfo{
		ID:         s.id,
		DrawingID:  s.drawingID,
		Name:       s.name,
		Width:      s.surface.width,
		Height:     s.surface.height,
		State:      s.stateLocked(),
		Tool:       s.tool,
		HistoryLen: s.history.len(),
		CanUndo:    s.history.canUndo(),
		CanRedo:    s.history.canRedo(),
	}
}

// Tool returns the active tool.
func (s *Session) Tool() Tool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tool
}

// SetTool replaces the active tool. Size is clamped and color normalized.
// A stroke in progress keeps the tool it started with.
func (s *Session) SetTool(t Tool) error {
	if !t.Kind.Valid() {
		return fmt.Errorf("unknown tool %q", t.Kind)
	}
	c, err := ParseColor(t.Color)
	if err != nil {
		return err
	}
	t.Color = FormatColor(c)
	t.Size = ClampSize(t.Size)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSessionClosed
	}
	s.tool = t
	return nil
}

func (s *Session) SetColor(col string) error {
	c, err := ParseColor(col)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tool.Color = FormatColor(c)
	return nil
}

func (s *Session) SetSize(size int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tool.Size = ClampSize(size)
}

func (s *Session) Name() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.name
}

func (s *Session) SetName(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.name = name
}

// BeginStroke starts a brush or eraser stroke at p.
func (s *Session) BeginStroke(p image.Point) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkOpen(); err != nil {
		return err
	}
	if s.tool.Kind != Brush && s.tool.Kind != Eraser {
		return ErrWrongTool
	}
	if s.state != Idle {
		return ErrInvalidState
	}
	s.state = Stroking
	s.strokeTool = s.tool
	s.last = p
	return nil
}

// ExtendStroke draws a segment from the last point to p.
func (s *Session) ExtendStroke(p image.Point) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkOpen(); err != nil {
		return err
	}
	if s.state != Stroking {
		return ErrInvalidState
	}

	var err error
	if s.strokeTool.Kind == Eraser {
		err = s.surface.eraseSegment(s.last, p, s.strokeTool.Size)
	} else {
		err = s.surface.strokeSegment(s.last, p, s.strokeTool.Size, s.strokeTool.RGBA())
	}
	s.last = p
	return err
}

// EndStroke finishes the stroke and records one history entry. It is a
// no-op when no stroke is in progress, including while text is being edited.
func (s *Session) EndStroke() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkOpen(); err != nil {
		return err
	}
	if s.state != Stroking {
		return nil
	}
	s.state = Idle
	s.history.push(s.surface.snapshot())
	return nil
}

// PlaceText opens text entry at p.
func (s *Session) PlaceText(p image.Point) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkOpen(); err != nil {
		return err
	}
	if s.tool.Kind != Text {
		return ErrWrongTool
	}
	if s.state != Idle {
		return ErrInvalidState
	}
	s.state = TextEditing
	s.textAt = p
	return nil
}

// CommitText renders body at the placed point, one line per newline.
// Blank input closes text entry without drawing.
func (s *Session) CommitText(body string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkOpen(); err != nil {
		return err
	}
	if s.state != TextEditing {
		return ErrInvalidState
	}
	s.state = Idle
	if strings.TrimSpace(body) == "" {
		return nil
	}

	if err := s.surface.drawText(s.textAt, body, s.tool.Size, s.tool.RGBA()); err != nil {
		return err
	}
	s.history.push(s.surface.snapshot())
	return nil
}

func (s *Session) CancelText() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkOpen(); err != nil {
		return err
	}
	if s.state != TextEditing {
		return ErrInvalidState
	}
	s.state = Idle
	return nil
}

// PlaceImage decodes data and composites it centered, scaled down to fit.
// Undecodable data leaves the bitmap untouched and returns ErrDecode.
func (s *Session) PlaceImage(data []byte) (image.Rectangle, error) {
	img, err := DecodeImage(data)

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkOpen(); err != nil {
		return image.Rectangle{}, err
	}
	if s.tool.Kind != Image {
		return image.Rectangle{}, ErrWrongTool
	}
	if err != nil {
		logrus.WithError(err).WithField("session_id", s.id).Warn("Ignoring undecodable image")
		return image.Rectangle{}, err
	}

	r := s.surface.drawImage(img)
	s.history.push(s.surface.snapshot())
	return r, nil
}

// Undo restores the previous snapshot. It reports false when only the
// initial entry remains.
func (s *Session) Undo() (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkOpen(); err != nil {
		return false, err
	}
	snap, ok := s.history.undo()
	if ok {
		s.surface.restore(snap)
	}
	return ok, nil
}

// Redo reapplies the most recently undone snapshot.
func (s *Session) Redo() (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkOpen(); err != nil {
		return false, err
	}
	snap, ok := s.history.redoStep()
	if ok {
		s.surface.restore(snap)
	}
	return ok, nil
}

func (s *Session) CanUndo() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.history.canUndo()
}

func (s *Session) CanRedo() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.history.canRedo()
}

func (s *Session) HistoryLen() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.history.len()
}

// Clear asks for confirmation, then fills the surface with Background.
// It reports whether the surface was cleared.
func (s *Session) Clear(ctx context.Context) (bool, error) {
	if err := s.checkOpenLocked(); err != nil {
		return false, err
	}

	ok, err := s.confirmer.Confirm(ctx, confirm.ClearCanvasPrompt())
	if err != nil || !ok {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return false, err
	}
	s.surface.fill(Background)
	s.history.push(s.surface.snapshot())
	return true, nil
}

// Snapshot returns a copy of the current bitmap.
func (s *Session) Snapshot() *image.RGBA {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.surface.image()
}

// Bitmap returns the current bitmap as PNG.
func (s *Session) Bitmap() ([]byte, error) {
	return EncodePNG(s.Snapshot())
}

// Save persists the bitmap and a thumbnail. The first save creates the
// drawing and the session keeps its id for later saves.
func (s *Session) Save(ctx context.Context) (core.Drawing, error) {
	s.saveMu.Lock()
	defer s.saveMu.Unlock()

	s.mu.Lock()
	if err := s.checkOpen(); err != nil {
		s.mu.Unlock()
		return core.Drawing{}, err
	}
	img := s.surface.image()
	id, name, createdAt := s.drawingID, s.name, s.createdAt
	s.mu.Unlock()

	log := logrus.WithFields(logrus.Fields{
		"session_id": s.id,
		"drawing_id": id,
	})

	input, err := encodeInput(img, name)
	if err != nil {
		log.WithError(err).Error("Failed to encode drawing")
		return core.Drawing{}, err
	}

	if id == "" {
		created, err := s.catalog.Create(ctx, input)
		if err != nil {
			return core.Drawing{}, err
		}
		s.mu.Lock()
		s.drawingID = created.ID
		s.createdAt = created.CreatedAt
		s.mu.Unlock()
		log.WithField("drawing_id", created.ID).Info("Drawing created from session")
		return created, nil
	}

	record, err := s.catalog.Get(ctx, id)
	switch {
	case errors.Is(err, core.ErrDrawingNotFound):
		log.Warn("Drawing was removed, saving it again under the same id")
		record = core.Drawing{ID: id, CreatedAt: createdAt}
	case err != nil:
		return core.Drawing{}, err
	}
	record.Name = input.Name
	record.Image = input.Image
	record.Thumbnail = input.Thumbnail
	record.Width = input.Width
	record.Height = input.Height

	saved, err := s.catalog.Save(ctx, record)
	if err != nil {
		return core.Drawing{}, err
	}
	log.Debug("Drawing saved from session")
	return saved, nil
}

// Close stops autosave and rejects further edits.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	a := s.autosave
	s.mu.Unlock()

	if a != nil {
		a.stop()
	}
	logrus.WithField("session_id", s.id).Info("Session closed")
}

// SaveAndClose saves once more and closes the session even if the save fails.
func (s *Session) SaveAndClose(ctx context.Context) (core.Drawing, error) {
	s.stopAutosave()
	d, err := s.Save(ctx)
	s.Close()
	return d, err
}

func (s *Session) stopAutosave() {
	s.mu.Lock()
	a := s.autosave
	s.mu.Unlock()
	if a != nil {
		a.stop()
	}
}

func (s *Session) checkOpen() error {
	if s.closed {
		return ErrSessionClosed
	}
	return nil
}

func (s *Session) checkOpenLocked() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.checkOpen()
}

func encodeInput(img *image.RGBA, name string) (core.DrawingInput, error) {
	full, err := EncodeDataURL(img)
	if err != nil {
		return core.DrawingInput{}, err
	}
	thumb, err := EncodeDataURL(Thumbnail(img, ThumbnailMax))
	if err != nil {
		return core.DrawingInput{}, err
	}
	return core.DrawingInput{
		Name:      name,
		Image:     full,
		Thumbnail: thumb,
		Width:     img.Bounds().Dx(),
		Height:    img.Bounds().Dy(),
	}, nil
}

// CheckDimensions reports ErrTooLarge when either side exceeds MaxDimension.
func CheckDimensions(width, height int) error {
	if width > MaxDimension || height > MaxDimension {
		return fmt.Errorf("%w: %dx%d, max %d", ErrTooLarge, width, height, MaxDimension)
	}
	return nil
}

// NewBlankDrawing stores a white drawing named after the current gallery
// size, as the gallery's new-drawing action does.
func NewBlankDrawing(ctx context.Context, catalog Catalog, count, width, height int) (core.Drawing, error) {
	if width <= 0 {
		width = DefaultWidth
	}
	if height <= 0 {
		height = DefaultHeight
	}
	if err := CheckDimensions(width, height); err != nil {
		return core.Drawing{}, err
	}
	input, err := encodeInput(BlankImage(width, height, Background), fmt.Sprintf("Drawing %d", count+1))
	if err != nil {
		return core.Drawing{}, err
	}
	return catalog.Create(ctx, input)
}
