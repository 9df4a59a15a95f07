package websocket

import (
	"context"
	"errors"
	"net/http"
	"reflect"
	"sketchpad/canvas"
	"sketchpad/catalog"
	"sketchpad/confirm"
	"sketchpad/stores/local"
	"sketchpad/stores/memory"
	"strings"
	"sync"
	"testing"
	"time"
)

type emitted struct {
	event string
	args  []any
}

// recorder stands in for a socket and keeps every emitted event
type recorder struct {
	mu     sync.Mutex
	events []emitted
}

func (r *recorder) Emit(ev string, args ...any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, emitted{event: ev, args: args})
	return nil
}

func (r *recorder) find(event string) (emitted, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.events {
		if e.event == event {
			return e, true
		}
	}
	return emitted{}, false
}

func (r *recorder) count(event string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e.event == event {
			n++
		}
	}
	return n
}

type fixture struct {
	editor  *Editor
	manager *canvas.Manager
	catalog *catalog.Catalog
	socket  *recorder
}

func setup(t *testing.T) *fixture {
	t.Helper()
	cat := catalog.New(local.NewDrawings(memory.NewStore()))
	broker := confirm.NewBroker()
	manager := canvas.NewManager(cat, broker, 0, 200, 150)
	t.Cleanup(func() { manager.CloseAll(context.Background()) })

	editor := NewEditor(manager, broker)
	socket := &recorder{}
	editor.attach("socket-1", socket)
	return &fixture{editor: editor, manager: manager, catalog: cat, socket: socket}
}

func (f *fixture) handle(t *testing.T, event string, arg any) map[string]any {
	t.Helper()
	payload, err := f.editor.Handle(context.Background(), "socket-1", event, arg)
	if err != nil {
		t.Fatalf("%s failed: %v", event, err)
	}
	return payload
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("Condition not met before deadline")
}

func TestHandle_RequiresSession(t *testing.T) {
	f := setup(t)

	_, err := f.editor.Handle(context.Background(), "socket-1", EventPointer, map[string]any{"type": "down"})
	if !errors.Is(err, ErrNoSession) {
		t.Fatalf("Expected ErrNoSession, got %v", err)
	}
	if code := errorPayload(err)["code"]; code != http.StatusConflict {
		t.Errorf("Expected code %d, got %v", http.StatusConflict, code)
	}
}

func TestHandle_OpenAndDraw(t *testing.T) {
	f := setup(t)

	payload := f.handle(t, EventOpenSession, nil)
	info, ok := payload["session"].(canvas.SessionInfo)
	if !ok {
		t.Fatalf("Expected session info, got %T", payload["session"])
	}
	if info.Width != 200 || info.Height != 150 {
		t.Errorf("Unexpected size %dx%d", info.Width, info.Height)
	}
	bitmap, _ := payload["bitmap"].(string)
	if !strings.HasPrefix(bitmap, "data:image/png;base64,") {
		t.Errorf("Expected PNG data URL, got %.30q", bitmap)
	}

	for _, ev := range []map[string]any{
		{"type": "down", "x": 20, "y": 20},
		{"type": "move", "x": 120, "y": 80},
		{"type": "up", "x": 120, "y": 80},
	} {
		payload = f.handle(t, EventPointer, ev)
	}

	info = payload["session"].(canvas.SessionInfo)
	if info.HistoryLen != 2 || !info.CanUndo {
		t.Errorf("Expected one undoable stroke, got %+v", info)
	}
	if n := f.socket.count(EventCanvasUpdated); n != 4 {
		t.Errorf("Expected 4 canvas updates, got %d", n)
	}

	payload = f.handle(t, EventUndo, nil)
	if payload["changed"] != true {
		t.Errorf("Expected undo to change the canvas, got %v", payload["changed"])
	}
	payload = f.handle(t, EventRedo, nil)
	if payload["changed"] != true {
		t.Errorf("Expected redo to change the canvas, got %v", payload["changed"])
	}
}

func TestHandle_SetToolAndText(t *testing.T) {
	f := setup(t)
	f.handle(t, EventOpenSession, map[string]any{})

	payload := f.handle(t, EventSetTool, map[string]any{"kind": "text", "color": "teal"})
	info := payload["session"].(canvas.SessionInfo)
	if info.Tool.Kind != canvas.Text || info.Tool.Color != "#008080" || info.Tool.Size != 5 {
		t.Fatalf("Unexpected tool %+v", info.Tool)
	}

	f.handle(t, EventPointer, map[string]any{"type": "down", "x": 10, "y": 10})
	payload = f.handle(t, EventCommitText, map[string]any{"text": "hello"})
	if info := payload["session"].(canvas.SessionInfo); info.HistoryLen != 2 {
		t.Errorf("Expected committed text in history, got %d", info.HistoryLen)
	}

	f.handle(t, EventPointer, map[string]any{"type": "down", "x": 50, "y": 50})
	payload = f.handle(t, EventCancelText, nil)
	if info := payload["session"].(canvas.SessionInfo); info.State != canvas.TextPending {
		t.Errorf("Expected text pending after cancel, got %s", info.State)
	}
}

func TestHandle_InvalidPayload(t *testing.T) {
	f := setup(t)
	f.handle(t, EventOpenSession, nil)

	_, err := f.editor.Handle(context.Background(), "socket-1", EventPointer, "down")
	if !errors.Is(err, ErrInvalidPayload) {
		t.Fatalf("Expected ErrInvalidPayload, got %v", err)
	}
	if code := errorPayload(err)["code"]; code != http.StatusBadRequest {
		t.Errorf("Expected code %d, got %v", http.StatusBadRequest, code)
	}

	_, err = f.editor.Handle(context.Background(), "socket-1", "paint", nil)
	if !errors.Is(err, ErrUnknownEvent) {
		t.Errorf("Expected ErrUnknownEvent, got %v", err)
	}
}

func TestHandle_StateErrorsMapToConflict(t *testing.T) {
	f := setup(t)
	f.handle(t, EventOpenSession, nil)

	_, err := f.editor.Handle(context.Background(), "socket-1", EventCommitText, map[string]any{"text": "x"})
	if !errors.Is(err, canvas.ErrInvalidState) {
		t.Fatalf("Expected ErrInvalidState, got %v", err)
	}
	if code := errorPayload(err)["code"]; code != http.StatusConflict {
		t.Errorf("Expected code %d, got %v", http.StatusConflict, code)
	}
}

func TestHandle_ClearWaitsForConfirmation(t *testing.T) {
	f := setup(t)
	f.handle(t, EventOpenSession, nil)
	sid, _ := f.editor.SessionFor("socket-1")

	payload := f.handle(t, EventClear, nil)
	if payload["status"] != "pending" {
		t.Fatalf("Expected pending clear, got %v", payload["status"])
	}

	var request emitted
	waitFor(t, func() bool {
		var ok bool
		request, ok = f.socket.find(EventConfirmRequest)
		return ok
	})
	prompt, ok := request.args[0].(confirm.Prompt)
	if !ok {
		t.Fatalf("Expected prompt, got %T", request.args[0])
	}

	f.handle(t, EventConfirmResponse, map[string]any{"id": prompt.ID, "accepted": true})

	s, err := f.manager.Get(sid)
	if err != nil {
		t.Fatalf("Session lost: %v", err)
	}
	waitFor(t, func() bool {
		return s.Snapshot().RGBAAt(5, 5).A == 255
	})
	if c := s.Snapshot().RGBAAt(5, 5); c.R != 255 || c.G != 255 || c.B != 255 {
		t.Errorf("Expected white canvas, got %v", c)
	}
}

func TestHandle_ConfirmResponseUnknown(t *testing.T) {
	f := setup(t)

	_, err := f.editor.Handle(context.Background(), "socket-1", EventConfirmResponse, map[string]any{"id": "missing"})
	if !errors.Is(err, confirm.ErrPromptNotFound) {
		t.Errorf("Expected ErrPromptNotFound, got %v", err)
	}
}

func TestHandle_Save(t *testing.T) {
	f := setup(t)
	f.handle(t, EventOpenSession, nil)

	payload := f.handle(t, EventSave, nil)
	info := payload["session"].(canvas.SessionInfo)
	if info.DrawingID == "" {
		t.Fatal("Expected session to be bound to a drawing")
	}
	if f.catalog.Count() != 1 {
		t.Errorf("Expected one stored drawing, got %d", f.catalog.Count())
	}
}

func TestOpen_ReplacesPreviousSession(t *testing.T) {
	f := setup(t)
	f.handle(t, EventOpenSession, nil)
	first, _ := f.editor.SessionFor("socket-1")
	f.handle(t, EventOpenSession, nil)
	second, _ := f.editor.SessionFor("socket-1")

	if first == second {
		t.Fatal("Expected a new session")
	}
	if f.manager.Len() != 1 {
		t.Errorf("Expected the previous session to be closed, %d open", f.manager.Len())
	}
}

func TestDetach_SavesAndClosesSession(t *testing.T) {
	f := setup(t)
	f.handle(t, EventOpenSession, nil)

	f.editor.Detach(context.Background(), "socket-1")

	if f.manager.Len() != 0 {
		t.Errorf("Expected no open sessions, got %d", f.manager.Len())
	}
	if f.catalog.Count() != 1 {
		t.Errorf("Expected the session to be saved, got %d drawings", f.catalog.Count())
	}
	if _, ok := f.editor.SessionFor("socket-1"); ok {
		t.Error("Expected socket to be unbound")
	}
}

func TestExtractAck(t *testing.T) {
	var got map[string]any
	ack, args := extractAck([]any{"a", func(payload map[string]any) { got = payload }})
	if ack == nil || len(args) != 1 {
		t.Fatalf("Expected ack and one arg, got %v %v", ack != nil, args)
	}
	ack(nil, map[string]any{"status": "ok"})
	if got["status"] != "ok" {
		t.Errorf("Expected payload forwarded, got %v", got)
	}

	ack, args = extractAck([]any{"a", "b"})
	if ack != nil || len(args) != 2 {
		t.Errorf("Expected no ack, got %v %v", ack != nil, args)
	}
}

func TestWrapAck_ErrorFirst(t *testing.T) {
	var gotErr error
	var gotPayload map[string]any
	ack := wrapAck(func(err error, payload map[string]any) {
		gotErr, gotPayload = err, payload
	})

	ack(ErrNoSession, map[string]any{"status": "error"})
	if !errors.Is(gotErr, ErrNoSession) || gotPayload["status"] != "error" {
		t.Errorf("Unexpected ack arguments %v %v", gotErr, gotPayload)
	}
}

func TestConvertMap(t *testing.T) {
	type labels map[string]string
	v := coerceValue(map[string]any{"a": "x", "b": 3.5, "c": nil}, reflect.TypeOf(labels{}))
	out := v.Interface().(labels)
	if out["a"] != "x" || len(out) != 1 {
		t.Errorf("Unexpected conversion %v", out)
	}
}

func TestWrapAck_ArgumentListAck(t *testing.T) {
	var gotArgs []any
	var gotErr error
	ack, _ := extractAck([]any{map[string]any{}, func(args []any, err error) {
		gotArgs, gotErr = args, err
	}})
	if ack == nil {
		t.Fatal("Expected ack")
	}

	ack(nil, map[string]any{"status": "ok", "changed": true})
	if gotErr != nil || len(gotArgs) != 1 {
		t.Fatalf("Unexpected ack arguments %v %v", gotArgs, gotErr)
	}
	if payload, _ := gotArgs[0].(map[string]any); payload["changed"] != true {
		t.Errorf("Expected payload in the argument list, got %v", gotArgs[0])
	}

	ack(ErrNoSession, errorPayload(ErrNoSession))
	if !errors.Is(gotErr, ErrNoSession) || len(gotArgs) != 1 {
		t.Fatalf("Unexpected ack arguments %v %v", gotArgs, gotErr)
	}
	if payload, _ := gotArgs[0].(map[string]any); payload["code"] != http.StatusConflict {
		t.Errorf("Expected error payload in the argument list, got %v", gotArgs[0])
	}
}

func TestWrapAck_Variadic(t *testing.T) {
	var got []any
	ack := wrapAck(func(args ...any) { got = args })

	ack(nil, map[string]any{"status": "ok"})
	if len(got) != 1 {
		t.Fatalf("Expected one argument, got %v", got)
	}
	if payload, _ := got[0].(map[string]any); payload["status"] != "ok" {
		t.Errorf("Unexpected payload %v", got[0])
	}
}

func TestRespond_ErrorsAreAlsoEmitted(t *testing.T) {
	socket := &recorder{}
	var acked []any
	ack := wrapAck(func(args []any, _ error) { acked = args })

	respond(socket, ack, nil, ErrNoSession)

	if _, ok := socket.find(EventError); !ok {
		t.Error("Expected editor-error to be emitted")
	}
	if len(acked) != 1 {
		t.Fatalf("Expected error payload in ack, got %v", acked)
	}
	if payload, _ := acked[0].(map[string]any); payload["status"] != "error" {
		t.Errorf("Unexpected ack payload %v", acked[0])
	}
}

func TestRespond_KeepsPendingStatus(t *testing.T) {
	var acked []any
	ack := wrapAck(func(args []any, _ error) { acked = args })

	respond(&recorder{}, ack, map[string]any{"status": "pending"}, nil)

	if payload, _ := acked[0].(map[string]any); payload["status"] != "pending" {
		t.Errorf("Expected pending status, got %v", acked[0])
	}
}

func TestCORSOrigins(t *testing.T) {
	origins := corsOrigins([]string{"https://draw.example.org"})

	if len(origins) != 2 {
		t.Fatalf("Expected localhost pattern plus one origin, got %v", origins)
	}
	if origins[1] != "https://draw.example.org" {
		t.Errorf("Configured origin missing: %v", origins[1])
	}
	if !localhostOrigin.MatchString("http://localhost:4200") || localhostOrigin.MatchString("https://draw.example.org") {
		t.Error("Localhost pattern mismatch")
	}
}
