package local

import (
	"context"
	"errors"
	"fmt"
	"sketchpad/core"

	"github.com/sirupsen/logrus"
)

// ThemeKey is the key holding the light/dark flag.
const ThemeKey = "draw-app-theme"

// Preferences stores display preferences next to the drawing list.
type Preferences struct {
	kv       core.KeyValueStore
	fallback core.Theme
}

// NewPreferences creates a preference store. fallback is returned by Theme
// when nothing valid has been stored yet.
func NewPreferences(kv core.KeyValueStore, fallback core.Theme) *Preferences {
	if fallback == "" {
		fallback = core.ThemeLight
	}
	return &Preferences{kv: kv, fallback: fallback}
}

// Theme returns the stored theme, or the fallback when none is stored or the
// stored value cannot be read.
func (p *Preferences) Theme(ctx context.Context) core.Theme {
	data, err := p.kv.Get(ctx, ThemeKey)
	if err != nil {
		if !errors.Is(err, core.ErrKeyNotFound) {
			logrus.WithError(err).Warn("Failed to read theme, using default")
		}
		return p.fallback
	}

	theme, err := core.ParseTheme(string(data))
	if err != nil {
		logrus.WithError(err).Warn("Stored theme is invalid, using default")
		return p.fallback
	}
	return theme
}

// SetTheme persists theme.
func (p *Preferences) SetTheme(ctx context.Context, theme core.Theme) error {
	if _, err := core.ParseTheme(string(theme)); err != nil {
		return err
	}
	if err := p.kv.Set(ctx, ThemeKey, []byte(theme)); err != nil {
		logrus.WithError(err).WithField("theme", theme).Error("Failed to save theme")
		return fmt.Errorf("%w: failed to save theme: %v", core.ErrStorageFailure, err)
	}
	logrus.WithField("theme", theme).Info("Theme saved")
	return nil
}

// ToggleTheme flips the stored theme and returns the new value.
func (p *Preferences) ToggleTheme(ctx context.Context) (core.Theme, error) {
	next := p.Theme(ctx).Toggled()
	if err := p.SetTheme(ctx, next); err != nil {
		return "", err
	}
	return next, nil
}
