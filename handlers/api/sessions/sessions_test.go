package sessions

import (
	"bytes"
	"context"
	"encoding/json"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"sketchpad/canvas"
	"sketchpad/catalog"
	"sketchpad/confirm"
	"sketchpad/stores/local"
	"sketchpad/stores/memory"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
)

func setupManager(t *testing.T, confirmer confirm.Confirmer) (*canvas.Manager, *catalog.Catalog) {
	t.Helper()
	cat := catalog.New(local.NewDrawings(memory.NewStore()))
	if err := cat.Load(context.Background()); err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	m := canvas.NewManager(cat, confirmer, 0, 200, 150)
	t.Cleanup(func() { m.CloseAll(context.Background()) })
	return m, cat
}

func openSession(t *testing.T, m *canvas.Manager) *canvas.Session {
	t.Helper()
	s, err := m.Open(context.Background(), "")
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	return s
}

func request(method, target, sid, body string) *http.Request {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add("sid", sid)
	return req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
}

func decodeInfo(t *testing.T, rec *httptest.ResponseRecorder) canvas.SessionInfo {
	t.Helper()
	var info canvas.SessionInfo
	if err := json.NewDecoder(rec.Body).Decode(&info); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	return info
}

func pointer(t *testing.T, m *canvas.Manager, sid, kind string, x, y int) *httptest.ResponseRecorder {
	t.Helper()
	body, _ := json.Marshal(PointerEvent{Type: kind, X: x, Y: y})
	rec := httptest.NewRecorder()
	HandlePointer(m)(rec, request(http.MethodPost, "/api/sessions/"+sid+"/pointer", sid, string(body)))
	return rec
}

func TestHandleOpen_Blank(t *testing.T) {
	m, _ := setupManager(t, nil)

	rec := httptest.NewRecorder()
	HandleOpen(m)(rec, httptest.NewRequest(http.MethodPost, "/api/sessions", nil))

	if rec.Code != http.StatusCreated {
		t.Fatalf("Status code mismatch: got %d, want %d", rec.Code, http.StatusCreated)
	}
	info := decodeInfo(t, rec)
	if info.ID == "" || info.Width != 200 || info.Height != 150 {
		t.Errorf("Unexpected session info: %+v", info)
	}
	if info.HistoryLen != 1 || info.CanUndo {
		t.Errorf("Fresh session history: %+v", info)
	}
}

func TestHandleOpen_UnknownDrawing(t *testing.T) {
	m, _ := setupManager(t, nil)

	rec := httptest.NewRecorder()
	HandleOpen(m)(rec, httptest.NewRequest(http.MethodPost, "/api/sessions", strings.NewReader(`{"drawingId":"nope"}`)))

	if rec.Code != http.StatusNotFound {
		t.Errorf("Status code mismatch: got %d, want %d", rec.Code, http.StatusNotFound)
	}
}

func TestHandleGet_UnknownSession(t *testing.T) {
	m, _ := setupManager(t, nil)

	rec := httptest.NewRecorder()
	HandleGet(m)(rec, request(http.MethodGet, "/api/sessions/x", "x", ""))

	if rec.Code != http.StatusNotFound {
		t.Errorf("Status code mismatch: got %d, want %d", rec.Code, http.StatusNotFound)
	}
}

func TestHandlePointer_StrokeAndUndo(t *testing.T) {
	m, _ := setupManager(t, nil)
	s := openSession(t, m)

	for _, step := range []struct {
		kind string
		x, y int
	}{{"down", 10, 10}, {"move", 100, 100}, {"move", 150, 20}, {"up", 0, 0}} {
		if rec := pointer(t, m, s.ID(), step.kind, step.x, step.y); rec.Code != http.StatusOK {
			t.Fatalf("%s: status %d, body %s", step.kind, rec.Code, rec.Body.String())
		}
	}
	if s.HistoryLen() != 2 {
		t.Fatalf("Expected 2 history entries, got %d", s.HistoryLen())
	}

	rec := httptest.NewRecorder()
	HandleUndo(m)(rec, request(http.MethodPost, "/undo", s.ID(), ""))
	var resp HistoryResponse
	json.NewDecoder(rec.Body).Decode(&resp)
	if !resp.Changed || resp.Session.HistoryLen != 1 || !resp.Session.CanRedo {
		t.Errorf("Undo response: %+v", resp)
	}

	rec = httptest.NewRecorder()
	HandleRedo(m)(rec, request(http.MethodPost, "/redo", s.ID(), ""))
	json.NewDecoder(rec.Body).Decode(&resp)
	if !resp.Changed || resp.Session.HistoryLen != 2 {
		t.Errorf("Redo response: %+v", resp)
	}
}

func TestHandlePointer_Errors(t *testing.T) {
	m, _ := setupManager(t, nil)
	s := openSession(t, m)

	if rec := pointer(t, m, s.ID(), "move", 1, 1); rec.Code != http.StatusConflict {
		t.Errorf("Move without down: got %d, want %d", rec.Code, http.StatusConflict)
	}
	if rec := pointer(t, m, s.ID(), "leave", 1, 1); rec.Code != http.StatusOK {
		t.Errorf("Leave without down: got %d, want %d", rec.Code, http.StatusOK)
	}
	if rec := pointer(t, m, s.ID(), "wiggle", 1, 1); rec.Code != http.StatusBadRequest {
		t.Errorf("Unknown event: got %d, want %d", rec.Code, http.StatusBadRequest)
	}
}

func TestHandleText_Flow(t *testing.T) {
	m, _ := setupManager(t, nil)
	s := openSession(t, m)

	rec := httptest.NewRecorder()
	HandleSetTool(m)(rec, request(http.MethodPut, "/tool", s.ID(), `{"kind":"text","color":"crimson"}`))
	info := decodeInfo(t, rec)
	if info.State != canvas.TextPending || info.Tool.Color != "#dc143c" || info.Tool.Size != 5 {
		t.Fatalf("Unexpected info after set tool: %+v", info)
	}

	if rec := pointer(t, m, s.ID(), "down", 20, 20); rec.Code != http.StatusOK {
		t.Fatalf("Place text: status %d", rec.Code)
	}
	if s.State() != canvas.TextEditing {
		t.Fatalf("Expected text editing, got %s", s.State())
	}

	rec = httptest.NewRecorder()
	HandleCommitText(m)(rec, request(http.MethodPost, "/text", s.ID(), `{"text":"   "}`))
	if info := decodeInfo(t, rec); info.HistoryLen != 1 {
		t.Errorf("Blank text added history: %+v", info)
	}

	pointer(t, m, s.ID(), "down", 20, 20)
	rec = httptest.NewRecorder()
	HandleCancelText(m)(rec, request(http.MethodDelete, "/text", s.ID(), ""))
	if rec.Code != http.StatusOK {
		t.Errorf("Cancel text: status %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	HandleCancelText(m)(rec, request(http.MethodDelete, "/text", s.ID(), ""))
	if rec.Code != http.StatusConflict {
		t.Errorf("Cancel without entry: got %d, want %d", rec.Code, http.StatusConflict)
	}
}

func TestHandleSetTool_Invalid(t *testing.T) {
	m, _ := setupManager(t, nil)
	s := openSession(t, m)

	rec := httptest.NewRecorder()
	HandleSetTool(m)(rec, request(http.MethodPut, "/tool", s.ID(), `{"kind":"spray"}`))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("Status code mismatch: got %d, want %d", rec.Code, http.StatusBadRequest)
	}
}

func TestHandlePlaceImage(t *testing.T) {
	m, _ := setupManager(t, nil)
	s := openSession(t, m)
	s.SetTool(canvas.Tool{Kind: canvas.Image, Size: 5, Color: "#000000"})

	var buf bytes.Buffer
	png.Encode(&buf, canvas.BlankImage(400, 100, color.RGBA{B: 255, A: 255}))

	req := request(http.MethodPost, "/image", s.ID(), buf.String())
	req.Header.Set("Content-Type", "image/png")
	rec := httptest.NewRecorder()
	HandlePlaceImage(m)(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("Status code mismatch: got %d, want %d (%s)", rec.Code, http.StatusOK, rec.Body.String())
	}
	var resp ImageResponse
	json.NewDecoder(rec.Body).Decode(&resp)
	if resp.Width != 200 || resp.Height != 50 || resp.X != 0 || resp.Y != 50 {
		t.Errorf("Placement mismatch: %+v", resp)
	}
}

func TestHandlePlaceImage_DataURLAndDecodeFailure(t *testing.T) {
	m, _ := setupManager(t, nil)
	s := openSession(t, m)
	s.SetTool(canvas.Tool{Kind: canvas.Image, Size: 5, Color: "#000000"})

	url, _ := canvas.EncodeDataURL(canvas.BlankImage(10, 10, color.White))
	body, _ := json.Marshal(ImageRequest{DataURL: url})
	req := request(http.MethodPost, "/image", s.ID(), string(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	HandlePlaceImage(m)(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("Data URL upload: status %d", rec.Code)
	}

	req = request(http.MethodPost, "/image", s.ID(), "garbage")
	req.Header.Set("Content-Type", "application/octet-stream")
	rec = httptest.NewRecorder()
	HandlePlaceImage(m)(rec, req)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("Status code mismatch: got %d, want %d", rec.Code, http.StatusUnprocessableEntity)
	}
	if s.HistoryLen() != 2 {
		t.Errorf("Decode failure changed history: %d", s.HistoryLen())
	}
}

func TestHandleClear(t *testing.T) {
	m, _ := setupManager(t, confirm.Always(false))
	s := openSession(t, m)

	rec := httptest.NewRecorder()
	HandleClear(m)(rec, request(http.MethodPost, "/clear", s.ID(), ""))

	var resp ClearResponse
	json.NewDecoder(rec.Body).Decode(&resp)
	if resp.Cleared || resp.Session.HistoryLen != 1 {
		t.Errorf("Clear without confirmation: %+v", resp)
	}
}

func TestHandleSaveAndClose(t *testing.T) {
	m, cat := setupManager(t, nil)
	s := openSession(t, m)

	rec := httptest.NewRecorder()
	HandleSetName(m)(rec, request(http.MethodPut, "/name", s.ID(), `{"name":"  Harbor  "}`))
	if info := decodeInfo(t, rec); info.Name != "Harbor" {
		t.Errorf("Name not trimmed: %q", info.Name)
	}

	rec = httptest.NewRecorder()
	HandleSave(m)(rec, request(http.MethodPost, "/save", s.ID(), ""))
	if rec.Code != http.StatusOK {
		t.Fatalf("Save: status %d", rec.Code)
	}
	if cat.Count() != 1 {
		t.Errorf("Expected 1 stored drawing, got %d", cat.Count())
	}

	rec = httptest.NewRecorder()
	HandleBitmap(m)(rec, request(http.MethodGet, "/bitmap.png", s.ID(), ""))
	if rec.Header().Get("Content-Type") != "image/png" || rec.Body.Len() == 0 {
		t.Error("Bitmap not served as PNG")
	}

	rec = httptest.NewRecorder()
	HandleClose(m)(rec, request(http.MethodDelete, "/", s.ID(), ""))
	if rec.Code != http.StatusNoContent {
		t.Errorf("Close: got %d, want %d", rec.Code, http.StatusNoContent)
	}
	if cat.Count() != 1 {
		t.Errorf("Close created a duplicate drawing: %d", cat.Count())
	}

	rec = httptest.NewRecorder()
	HandleGet(m)(rec, request(http.MethodGet, "/", s.ID(), ""))
	if rec.Code != http.StatusNotFound {
		t.Errorf("Closed session still reachable: %d", rec.Code)
	}
}

func TestHandlePointer_ReleaseWhileEditingText(t *testing.T) {
	m, _ := setupManager(t, nil)
	s := openSession(t, m)

	rec := httptest.NewRecorder()
	HandleSetTool(m)(rec, request(http.MethodPut, "/tool", s.ID(), `{"kind":"text"}`))
	pointer(t, m, s.ID(), "down", 20, 20)

	for _, kind := range []string{"up", "leave"} {
		rec := pointer(t, m, s.ID(), kind, 20, 20)
		if rec.Code != http.StatusOK {
			t.Errorf("%s while editing text: got %d, want %d", kind, rec.Code, http.StatusOK)
		}
		if info := decodeInfo(t, rec); info.State != canvas.TextEditing {
			t.Errorf("%s left text entry: state %s", kind, info.State)
		}
	}
}
