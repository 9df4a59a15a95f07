package confirmations

import (
	"encoding/json"
	"errors"
	"net/http"
	"sketchpad/confirm"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/sirupsen/logrus"
)

type (
	// Broker holds prompts waiting for an answer.
	Broker interface {
		Pending() []confirm.Prompt
		Resolve(id string, accepted bool) error
	}

	ResolveRequest struct {
		Accepted bool `json:"accepted"`
	}
)

// HandleList returns the prompts waiting for an answer, oldest first.
func HandleList(b Broker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		render.JSON(w, r, b.Pending())
	}
}

// HandleResolve answers one prompt, releasing the request waiting on it.
func HandleResolve(b Broker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")

		var req ResolveRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			logrus.WithError(err).Error("Failed to decode request")
			http.Error(w, "Invalid request body", http.StatusBadRequest)
			return
		}

		if err := b.Resolve(id, req.Accepted); err != nil {
			if errors.Is(err, confirm.ErrPromptNotFound) {
				http.Error(w, "Prompt not found", http.StatusNotFound)
				return
			}
			logrus.WithError(err).WithField("prompt_id", id).Error("Failed to resolve prompt")
			http.Error(w, "Failed to resolve prompt", http.StatusInternalServerError)
			return
		}

		w.WriteHeader(http.StatusNoContent)
	}
}
