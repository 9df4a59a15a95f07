package canvas

import (
	"context"
	"sketchpad/confirm"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Manager tracks the open sessions of the process.
type Manager struct {
	catalog   Catalog
	confirmer confirm.Confirmer
	autosave  time.Duration
	width     int
	height    int

	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewManager creates a registry whose sessions save through catalog, confirm
// destructive actions with confirmer and autosave every interval (0 disables).
func NewManager(catalog Catalog, confirmer confirm.Confirmer, autosave time.Duration, width, height int) *Manager {
	return &Manager{
		catalog:   catalog,
		confirmer: confirmer,
		autosave:  autosave,
		width:     width,
		height:    height,
		sessions:  make(map[string]*Session),
	}
}

// Open starts a session. An empty drawingID opens a blank canvas; otherwise
// the stored drawing is loaded.
func (m *Manager) Open(ctx context.Context, drawingID string) (*Session, error) {
	var s *Session
	if drawingID == "" {
		s = NewSession(m.catalog, m.confirmer, Options{
			Width:    m.width,
			Height:   m.height,
			Autosave: m.autosave,
		})
	} else {
		drawing, err := m.catalog.Get(ctx, drawingID)
		if err != nil {
			return nil, err
		}
		s, err = OpenSession(m.catalog, m.confirmer, drawing, m.autosave)
		if err != nil {
			return nil, err
		}
	}

	m.mu.Lock()
	m.sessions[s.ID()] = s
	m.mu.Unlock()
	return s, nil
}

func (m *Manager) Get(id string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return s, nil
}

// Close saves and closes one session and forgets it.
func (m *Manager) Close(ctx context.Context, id string) error {
	m.mu.Lock()
	s, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()

	if !ok {
		return ErrSessionNotFound
	}
	_, err := s.SaveAndClose(ctx)
	return err
}

// CloseAll saves and closes every open session, logging failures.
func (m *Manager) CloseAll(ctx context.Context) {
	m.mu.Lock()
	sessions := m.sessions
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()

	for id, s := range sessions {
		if _, err := s.SaveAndClose(ctx); err != nil {
			logrus.WithError(err).WithField("session_id", id).Warn("Failed to save session on shutdown")
		}
	}
	logrus.WithField("count", len(sessions)).Info("Sessions closed")
}

func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}
