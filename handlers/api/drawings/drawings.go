package drawings

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sketchpad/canvas"
	"sketchpad/confirm"
	"sketchpad/core"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/sirupsen/logrus"
)

type (
	// Catalog is the gallery the handlers operate on.
	Catalog interface {
		Load(ctx context.Context) error
		Sorted() []core.Drawing
		Count() int
		HasDrawings() bool
		Loading() bool
		Selected() *core.Drawing
		Err() *core.CatalogError
		ClearError()
		Get(ctx context.Context, id string) (core.Drawing, error)
		Create(ctx context.Context, input core.DrawingInput) (core.Drawing, error)
		Save(ctx context.Context, drawing core.Drawing) (core.Drawing, error)
		Remove(ctx context.Context, id string) error
		RemoveAll(ctx context.Context) error
	}

	CreateBlankRequest struct {
		Width  int `json:"width"`
		Height int `json:"height"`
	}

	UpdateDrawingRequest struct {
		Name      *string `json:"name"`
		Image     *string `json:"dataUrl"`
		Thumbnail *string `json:"thumbnailDataUrl"`
	}

	DeleteResponse struct {
		Deleted bool `json:"deleted"`
	}

	ErrorView struct {
		Kind    core.ErrorKind `json:"kind"`
		Message string         `json:"message"`
	}

	CatalogState struct {
		Count       int           `json:"count"`
		HasDrawings bool          `json:"hasDrawings"`
		Loading     bool          `json:"loading"`
		Error       *ErrorView    `json:"error"`
		Selected    *core.Drawing `json:"selected"`
	}
)

// HandleList returns every drawing, most recently updated first, without the
// full-resolution image.
func HandleList(cat Catalog) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sorted := cat.Sorted()
		out := make([]core.Drawing, 0, len(sorted))
		for _, d := range sorted {
			out = append(out, d.Summary())
		}
		render.JSON(w, r, out)
	}
}

func HandleGet(cat Catalog) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")

		drawing, err := cat.Get(r.Context(), id)
		if err != nil {
			writeError(w, r, err)
			return
		}
		render.JSON(w, r, drawing)
	}
}

// HandleImage serves the stored full-resolution image.
func HandleImage(cat Catalog) http.HandlerFunc {
	return serveDataURL(cat, func(d core.Drawing) string { return d.Image })
}

func HandleThumbnail(cat Catalog) http.HandlerFunc {
	return serveDataURL(cat, func(d core.Drawing) string { return d.Thumbnail })
}

func serveDataURL(cat Catalog, pick func(core.Drawing) string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")

		drawing, err := cat.Get(r.Context(), id)
		if err != nil {
			writeError(w, r, err)
			return
		}

		dataURL := pick(drawing)
		if dataURL == "" {
			render.Status(r, http.StatusNotFound)
			render.JSON(w, r, map[string]string{"error": "Drawing has no image"})
			return
		}

		data, err := canvas.DecodeDataURLBytes(dataURL)
		if err != nil {
			logrus.WithError(err).WithField("drawing_id", id).Warn("Stored image is unreadable")
			render.Status(r, http.StatusUnprocessableEntity)
			render.JSON(w, r, map[string]string{"error": core.DecodeFailure.Message()})
			return
		}

		w.Header().Set("Content-Type", http.DetectContentType(data))
		w.Write(data)
	}
}

// HandleCreate stores a drawing from caller-supplied fields. A missing
// thumbnail or size is derived from the image.
func HandleCreate(cat Catalog) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var input core.DrawingInput
		if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
			logrus.WithError(err).Error("Failed to decode request")
			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, map[string]string{"error": "Invalid request body"})
			return
		}

		if err := completeInput(&input); err != nil {
			writeError(w, r, err)
			return
		}
		if input.Name == "" {
			input.Name = canvas.DefaultName
		}

		drawing, err := cat.Create(r.Context(), input)
		if err != nil {
			writeError(w, r, err)
			return
		}

		render.Status(r, http.StatusCreated)
		render.JSON(w, r, drawing)
	}
}

// HandleCreateBlank stores a white drawing named after the gallery size.
func HandleCreateBlank(cat Catalog, width, height int) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CreateBlankRequest
		if r.ContentLength > 0 {
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				render.Status(r, http.StatusBadRequest)
				render.JSON(w, r, map[string]string{"error": "Invalid request body"})
				return
			}
		}
		if req.Width <= 0 {
			req.Width = width
		}
		if req.Height <= 0 {
			req.Height = height
		}

		drawing, err := canvas.NewBlankDrawing(r.Context(), cat, cat.Count(), req.Width, req.Height)
		if err != nil {
			writeError(w, r, err)
			return
		}

		render.Status(r, http.StatusCreated)
		render.JSON(w, r, drawing.Summary())
	}
}

func HandleUpdate(cat Catalog) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")

		var req UpdateDrawingRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			logrus.WithError(err).Error("Failed to decode request")
			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, map[string]string{"error": "Invalid request body"})
			return
		}

		drawing, err := cat.Get(r.Context(), id)
		if err != nil {
			writeError(w, r, err)
			return
		}

		if req.Name != nil {
			drawing.Name = *req.Name
		}
		if req.Image != nil {
			input := core.DrawingInput{Image: *req.Image}
			if req.Thumbnail != nil {
				input.Thumbnail = *req.Thumbnail
			}
			if err := completeInput(&input); err != nil {
				writeError(w, r, err)
				return
			}
			drawing.Image = input.Image
			drawing.Thumbnail = input.Thumbnail
			drawing.Width = input.Width
			drawing.Height = input.Height
		} else if req.Thumbnail != nil {
			drawing.Thumbnail = *req.Thumbnail
		}

		saved, err := cat.Save(r.Context(), drawing)
		if err != nil {
			writeError(w, r, err)
			return
		}
		render.JSON(w, r, saved)
	}
}

// HandleDelete removes one drawing after confirmation. The request blocks
// until the prompt is answered or the client goes away.
func HandleDelete(cat Catalog, confirmer confirm.Confirmer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")

		drawing, err := cat.Get(r.Context(), id)
		if err != nil {
			writeError(w, r, err)
			return
		}

		ok, err := confirmer.Confirm(r.Context(), confirm.DeleteDrawingPrompt(drawing.Name))
		if err != nil || !ok {
			render.JSON(w, r, DeleteResponse{Deleted: false})
			return
		}

		if err := cat.Remove(r.Context(), id); err != nil {
			writeError(w, r, err)
			return
		}
		render.JSON(w, r, DeleteResponse{Deleted: true})
	}
}

func HandleDeleteAll(cat Catalog, confirmer confirm.Confirmer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ok, err := confirmer.Confirm(r.Context(), confirm.DeleteAllPrompt())
		if err != nil || !ok {
			render.JSON(w, r, DeleteResponse{Deleted: false})
			return
		}

		if err := cat.RemoveAll(r.Context()); err != nil {
			writeError(w, r, err)
			return
		}
		render.JSON(w, r, DeleteResponse{Deleted: true})
	}
}

// HandleCatalogState reports the catalog's derived views and last error.
func HandleCatalogState(cat Catalog) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		state := CatalogState{
			Count:       cat.Count(),
			HasDrawings: cat.HasDrawings(),
			Loading:     cat.Loading(),
		}
		if e := cat.Err(); e != nil {
			state.Error = &ErrorView{Kind: e.Kind, Message: e.Kind.Message()}
		}
		if sel := cat.Selected(); sel != nil {
			summary := sel.Summary()
			state.Selected = &summary
		}
		render.JSON(w, r, state)
	}
}

func HandleClearError(cat Catalog) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		cat.ClearError()
		w.WriteHeader(http.StatusNoContent)
	}
}

// HandleReload pulls the list from storage again.
func HandleReload(cat Catalog) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := cat.Load(r.Context()); err != nil {
			writeError(w, r, err)
			return
		}
		HandleCatalogState(cat)(w, r)
	}
}

// completeInput validates the image and fills in size and thumbnail. The
// size always comes from the image when there is one.
func completeInput(input *core.DrawingInput) error {
	if input.Image == "" {
		return canvas.CheckDimensions(input.Width, input.Height)
	}
	img, err := canvas.DecodeDataURL(input.Image)
	if err != nil {
		return &core.CatalogError{Kind: core.DecodeFailure, Err: err}
	}

	b := img.Bounds()
	input.Width, input.Height = b.Dx(), b.Dy()
	if input.Thumbnail == "" {
		thumb, err := canvas.EncodeDataURL(canvas.Thumbnail(img, canvas.ThumbnailMax))
		if err != nil {
			return err
		}
		input.Thumbnail = thumb
	}
	return nil
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	message := "Internal server error"

	var catErr *core.CatalogError
	switch {
	case errors.Is(err, core.ErrDrawingNotFound):
		status, message = http.StatusNotFound, "Drawing not found"
	case errors.Is(err, canvas.ErrTooLarge):
		status, message = http.StatusBadRequest, "Drawing dimensions too large"
	case errors.As(err, &catErr) && catErr.Kind == core.DecodeFailure:
		status, message = http.StatusUnprocessableEntity, catErr.Kind.Message()
	case errors.As(err, &catErr):
		message = catErr.Kind.Message()
	}

	if status >= http.StatusInternalServerError {
		logrus.WithError(err).Error(message)
	}
	render.Status(r, status)
	render.JSON(w, r, map[string]string{"error": message})
}
