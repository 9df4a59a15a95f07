package sessions

import (
	"context"
	"encoding/json"
	"errors"
	"image"
	"io"
	"net/http"
	"sketchpad/canvas"
	"sketchpad/core"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/sirupsen/logrus"
)

// MaxImageBytes bounds uploaded image payloads.
const MaxImageBytes = 20 << 20

type (
	// Manager opens and tracks editing sessions.
	Manager interface {
		Open(ctx context.Context, drawingID string) (*canvas.Session, error)
		Get(id string) (*canvas.Session, error)
		Close(ctx context.Context, id string) error
	}

	OpenSessionRequest struct {
		DrawingID string `json:"drawingId"`
	}

	ToolRequest struct {
		Kind  canvas.ToolKind `json:"kind"`
		Size  int             `json:"size"`
		Color string          `json:"color"`
	}

	NameRequest struct {
		Name string `json:"name"`
	}

	// PointerEvent is one pointer sample. Type is down, move, up or leave.
	PointerEvent struct {
		Type string `json:"type"`
		X    int    `json:"x"`
		Y    int    `json:"y"`
	}

	TextRequest struct {
		Text string `json:"text"`
	}

	ImageRequest struct {
		DataURL string `json:"dataUrl"`
	}

	HistoryResponse struct {
		Changed bool               `json:"changed"`
		Session canvas.SessionInfo `json:"session"`
	}

	ClearResponse struct {
		Cleared bool               `json:"cleared"`
		Session canvas.SessionInfo `json:"session"`
	}

	ImageResponse struct {
		X       int                `json:"x"`
		Y       int                `json:"y"`
		Width   int                `json:"width"`
		Height  int                `json:"height"`
		Session canvas.SessionInfo `json:"session"`
	}
)

func HandleOpen(m Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req OpenSessionRequest
		if r.ContentLength > 0 {
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				badRequest(w, r, err)
				return
			}
		}

		s, err := m.Open(r.Context(), req.DrawingID)
		if err != nil {
			writeError(w, r, err)
			return
		}

		render.Status(r, http.StatusCreated)
		render.JSON(w, r, s.Info())
	}
}

func HandleGet(m Manager) http.HandlerFunc {
	return withSession(m, func(w http.ResponseWriter, r *http.Request, s *canvas.Session) {
		render.JSON(w, r, s.Info())
	})
}

// HandleClose saves the session one last time and closes it.
func HandleClose(m Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sid := chi.URLParam(r, "sid")

		if err := m.Close(r.Context(), sid); err != nil {
			writeError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func HandleBitmap(m Manager) http.HandlerFunc {
	return withSession(m, func(w http.ResponseWriter, r *http.Request, s *canvas.Session) {
		data, err := s.Bitmap()
		if err != nil {
			writeError(w, r, err)
			return
		}
		w.Header().Set("Content-Type", "image/png")
		w.Header().Set("Cache-Control", "no-store")
		w.Write(data)
	})
}

// HandleSetTool updates the active tool. Omitted fields keep their value.
func HandleSetTool(m Manager) http.HandlerFunc {
	return withSession(m, func(w http.ResponseWriter, r *http.Request, s *canvas.Session) {
		var req ToolRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			badRequest(w, r, err)
			return
		}

		tool := s.Tool()
		if req.Kind != "" {
			tool.Kind = req.Kind
		}
		if req.Size != 0 {
			tool.Size = req.Size
		}
		if req.Color != "" {
			tool.Color = req.Color
		}

		if err := s.SetTool(tool); err != nil {
			if errors.Is(err, canvas.ErrSessionClosed) {
				writeError(w, r, err)
				return
			}
			badRequest(w, r, err)
			return
		}
		render.JSON(w, r, s.Info())
	})
}

func HandleSetName(m Manager) http.HandlerFunc {
	return withSession(m, func(w http.ResponseWriter, r *http.Request, s *canvas.Session) {
		var req NameRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			badRequest(w, r, err)
			return
		}
		s.SetName(strings.TrimSpace(req.Name))
		render.JSON(w, r, s.Info())
	})
}

// HandlePointer feeds one pointer sample to the session.
func HandlePointer(m Manager) http.HandlerFunc {
	return withSession(m, func(w http.ResponseWriter, r *http.Request, s *canvas.Session) {
		var ev PointerEvent
		if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
			badRequest(w, r, err)
			return
		}

		if err := ApplyPointer(s, ev); err != nil {
			writeError(w, r, err)
			return
		}
		render.JSON(w, r, s.Info())
	})
}

// ApplyPointer maps a pointer sample onto session operations. A press with
// the text tool opens text entry at the pressed point.
func ApplyPointer(s *canvas.Session, ev PointerEvent) error {
	p := image.Pt(ev.X, ev.Y)
	switch ev.Type {
	case "down":
		if s.Tool().Kind == canvas.Text {
			return s.PlaceText(p)
		}
		return s.BeginStroke(p)
	case "move":
		return s.ExtendStroke(p)
	case "up", "leave":
		return s.EndStroke()
	}
	return &invalidInputError{msg: "unknown pointer event " + ev.Type}
}

func HandleCommitText(m Manager) http.HandlerFunc {
	return withSession(m, func(w http.ResponseWriter, r *http.Request, s *canvas.Session) {
		var req TextRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			badRequest(w, r, err)
			return
		}
		if err := s.CommitText(req.Text); err != nil {
			writeError(w, r, err)
			return
		}
		render.JSON(w, r, s.Info())
	})
}

func HandleCancelText(m Manager) http.HandlerFunc {
	return withSession(m, func(w http.ResponseWriter, r *http.Request, s *canvas.Session) {
		if err := s.CancelText(); err != nil {
			writeError(w, r, err)
			return
		}
		render.JSON(w, r, s.Info())
	})
}

// HandlePlaceImage composites an uploaded image. The body is either raw
// image bytes or JSON carrying a data URL.
func HandlePlaceImage(m Manager) http.HandlerFunc {
	return withSession(m, func(w http.ResponseWriter, r *http.Request, s *canvas.Session) {
		body, err := io.ReadAll(io.LimitReader(r.Body, MaxImageBytes+1))
		if err != nil {
			badRequest(w, r, err)
			return
		}
		if len(body) > MaxImageBytes {
			render.Status(r, http.StatusRequestEntityTooLarge)
			render.JSON(w, r, map[string]string{"error": "Image too large"})
			return
		}

		data := body
		if strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
			var req ImageRequest
			if err := json.Unmarshal(body, &req); err != nil {
				badRequest(w, r, err)
				return
			}
			data, err = canvas.DecodeDataURLBytes(req.DataURL)
			if err != nil {
				writeError(w, r, errors.Join(canvas.ErrDecode, err))
				return
			}
		}

		rect, err := s.PlaceImage(data)
		if err != nil {
			writeError(w, r, err)
			return
		}
		render.JSON(w, r, ImageResponse{
			X:       rect.Min.X,
			Y:       rect.Min.Y,
			Width:   rect.Dx(),
			Height:  rect.Dy(),
			Session: s.Info(),
		})
	})
}

func HandleUndo(m Manager) http.HandlerFunc {
	return withSession(m, func(w http.ResponseWriter, r *http.Request, s *canvas.Session) {
		changed, err := s.Undo()
		if err != nil {
			writeError(w, r, err)
			return
		}
		render.JSON(w, r, HistoryResponse{Changed: changed, Session: s.Info()})
	})
}

func HandleRedo(m Manager) http.HandlerFunc {
	return withSession(m, func(w http.ResponseWriter, r *http.Request, s *canvas.Session) {
		changed, err := s.Redo()
		if err != nil {
			writeError(w, r, err)
			return
		}
		render.JSON(w, r, HistoryResponse{Changed: changed, Session: s.Info()})
	})
}

// HandleClear blocks until the clear prompt is answered.
func HandleClear(m Manager) http.HandlerFunc {
	return withSession(m, func(w http.ResponseWriter, r *http.Request, s *canvas.Session) {
		cleared, err := s.Clear(r.Context())
		if err != nil && !errors.Is(err, context.Canceled) {
			writeError(w, r, err)
			return
		}
		render.JSON(w, r, ClearResponse{Cleared: cleared, Session: s.Info()})
	})
}

func HandleSave(m Manager) http.HandlerFunc {
	return withSession(m, func(w http.ResponseWriter, r *http.Request, s *canvas.Session) {
		drawing, err := s.Save(r.Context())
		if err != nil {
			writeError(w, r, err)
			return
		}
		render.JSON(w, r, drawing.Summary())
	})
}

func withSession(m Manager, next func(http.ResponseWriter, *http.Request, *canvas.Session)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sid := chi.URLParam(r, "sid")

		s, err := m.Get(sid)
		if err != nil {
			writeError(w, r, err)
			return
		}
		next(w, r, s)
	}
}

type invalidInputError struct{ msg string }

func (e *invalidInputError) Error() string { return e.msg }

func badRequest(w http.ResponseWriter, r *http.Request, err error) {
	logrus.WithError(err).Debug("Rejected request")
	render.Status(r, http.StatusBadRequest)
	render.JSON(w, r, map[string]string{"error": "Invalid request body"})
}

// StatusFor maps session and catalog errors to HTTP status codes.
func StatusFor(err error) (int, string) {
	var catErr *core.CatalogError
	var input *invalidInputError
	switch {
	case errors.As(err, &input):
		return http.StatusBadRequest, input.msg
	case errors.Is(err, canvas.ErrSessionNotFound):
		return http.StatusNotFound, "Session not found"
	case errors.Is(err, core.ErrDrawingNotFound):
		return http.StatusNotFound, "Drawing not found"
	case errors.Is(err, canvas.ErrSessionClosed):
		return http.StatusGone, "Session closed"
	case errors.Is(err, canvas.ErrInvalidState), errors.Is(err, canvas.ErrWrongTool):
		return http.StatusConflict, err.Error()
	case errors.Is(err, canvas.ErrTooLarge):
		return http.StatusBadRequest, "Image dimensions too large"
	case errors.Is(err, canvas.ErrDecode):
		return http.StatusUnprocessableEntity, core.DecodeFailure.Message()
	case errors.As(err, &catErr):
		return http.StatusInternalServerError, catErr.Kind.Message()
	}
	return http.StatusInternalServerError, "Internal server error"
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, message := StatusFor(err)
	if status >= http.StatusInternalServerError {
		logrus.WithError(err).Error(message)
	}
	render.Status(r, status)
	render.JSON(w, r, map[string]string{"error": message})
}
