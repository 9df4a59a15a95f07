package preferences

import (
	"context"
	"encoding/json"
	"net/http"
	"sketchpad/core"

	"github.com/go-chi/render"
	"github.com/sirupsen/logrus"
)

type (
	Store interface {
		Theme(ctx context.Context) core.Theme
		SetTheme(ctx context.Context, theme core.Theme) error
		ToggleTheme(ctx context.Context) (core.Theme, error)
	}

	ThemeResponse struct {
		Theme core.Theme `json:"theme"`
		Dark  bool       `json:"dark"`
	}

	ThemeRequest struct {
		Theme string `json:"theme"`
	}
)

func themeResponse(t core.Theme) ThemeResponse {
	return ThemeResponse{Theme: t, Dark: t == core.ThemeDark}
}

func HandleGetTheme(store Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		render.JSON(w, r, themeResponse(store.Theme(r.Context())))
	}
}

func HandleSetTheme(store Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req ThemeRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, map[string]string{"error": "Invalid request body"})
			return
		}

		theme, err := core.ParseTheme(req.Theme)
		if err != nil {
			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, map[string]string{"error": err.Error()})
			return
		}

		if err := store.SetTheme(r.Context(), theme); err != nil {
			logrus.WithError(err).Error("Failed to save theme")
			render.Status(r, http.StatusInternalServerError)
			render.JSON(w, r, map[string]string{"error": "Failed to save theme"})
			return
		}
		render.JSON(w, r, themeResponse(theme))
	}
}

func HandleToggleTheme(store Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		theme, err := store.ToggleTheme(r.Context())
		if err != nil {
			logrus.WithError(err).Error("Failed to toggle theme")
			render.Status(r, http.StatusInternalServerError)
			render.JSON(w, r, map[string]string{"error": "Failed to save theme"})
			return
		}
		render.JSON(w, r, themeResponse(theme))
	}
}
