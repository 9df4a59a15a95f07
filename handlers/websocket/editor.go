package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"regexp"
	"sketchpad/canvas"
	"sketchpad/confirm"
	"sketchpad/handlers/api/sessions"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/zishang520/engine.io/v2/types"
	socketio "github.com/zishang520/socket.io/v2/socket"
)

// Event names understood and emitted by the editor socket.
const (
	EventOpenSession     = "open-session"
	EventPointer         = "pointer"
	EventSetTool         = "set-tool"
	EventCommitText      = "commit-text"
	EventCancelText      = "cancel-text"
	EventUndo            = "undo"
	EventRedo            = "redo"
	EventClear           = "clear"
	EventSave            = "save"
	EventConfirmResponse = "confirm-response"

	EventCanvasUpdated  = "canvas-updated"
	EventConfirmRequest = "confirm-request"
	EventError          = "editor-error"
)

var (
	// ErrNoSession is returned for editing events sent before open-session.
	ErrNoSession      = errors.New("no session opened on this socket")
	ErrInvalidPayload = errors.New("invalid payload")
	ErrUnknownEvent   = errors.New("unknown event")
)

type ackInvoker func(err error, payload map[string]any)

var errorType = reflect.TypeOf((*error)(nil)).Elem()

type (
	Manager = sessions.Manager

	Broker interface {
		Resolve(id string, accepted bool) error
		Subscribe(fn func(confirm.Prompt)) (unsubscribe func())
	}

	emitter interface {
		Emit(ev string, args ...any) error
	}

	ConfirmResponse struct {
		ID       string `json:"id"`
		Accepted bool   `json:"accepted"`
	}
)

// Editor routes socket events to canvas sessions. Each socket drives at most
// one session at a time.
type Editor struct {
	manager Manager
	broker  Broker
	timeout time.Duration

	mu      sync.Mutex
	bound   map[string]string
	sockets map[string]emitter
}

func NewEditor(manager Manager, broker Broker) *Editor {
	e := &Editor{
		manager: manager,
		broker:  broker,
		timeout: 30 * time.Second,
		bound:   make(map[string]string),
		sockets: make(map[string]emitter),
	}
	if broker != nil {
		broker.Subscribe(e.announce)
	}
	return e
}

// SetupSocketIO serves the editor over Socket.IO. Localhost origins are always
// allowed, plus any exact origins in extraOrigins.
func SetupSocketIO(editor *Editor, extraOrigins []string) *socketio.Server {
	opts := socketio.DefaultServerOptions()
	opts.SetMaxHttpBufferSize(sessions.MaxImageBytes)
	opts.SetPath("/socket.io")
	opts.SetCors(&types.Cors{
		Origin:      corsOrigins(extraOrigins),
		Credentials: true,
	})
	srv := socketio.NewServer(nil, opts)

	//nolint:errcheck // Socket.IO event handlers do not return useful errors
	srv.On("connection", func(clients ...any) {
		socket, ok := clients[0].(*socketio.Socket)
		if !ok {
			return
		}
		id := string(socket.Id())
		editor.attach(id, socket)
		logrus.WithField("socket_id", id).Debug("Editor socket connected")

		for _, event := range []string{
			EventOpenSession, EventPointer, EventSetTool, EventCommitText, EventCancelText,
			EventUndo, EventRedo, EventClear, EventSave, EventConfirmResponse,
		} {
			event := event
			//nolint:errcheck // Socket.IO event handlers do not return useful errors
			socket.On(event, func(datas ...any) {
				ack, args := extractAck(datas)
				var arg any
				if len(args) > 0 {
					arg = args[0]
				}
				payload, err := editor.Handle(context.Background(), id, event, arg)
				respond(socket, ack, payload, err)
			})
		}

		socket.On("disconnect", func(datas ...any) {
			editor.Detach(context.Background(), id)
			socket.RemoveAllListeners("")
		})
	})

	return srv
}

var localhostOrigin = regexp.MustCompile(`^https?://(localhost|127\.0\.0\.1|\[::1\])(:\d+)?$`)

func corsOrigins(extra []string) []any {
	origins := []any{localhostOrigin}
	for _, o := range extra {
		origins = append(origins, o)
	}
	return origins
}

func (e *Editor) attach(socketID string, out emitter) {
	e.mu.Lock()
	e.sockets[socketID] = out
	e.mu.Unlock()
}

// Detach forgets a socket, saving and closing the session it drove.
func (e *Editor) Detach(ctx context.Context, socketID string) {
	e.mu.Lock()
	sid, ok := e.bound[socketID]
	delete(e.bound, socketID)
	delete(e.sockets, socketID)
	e.mu.Unlock()

	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()
	if err := e.manager.Close(ctx, sid); err != nil && !errors.Is(err, canvas.ErrSessionNotFound) {
		logrus.WithError(err).WithFields(logrus.Fields{
			"socket_id":  socketID,
			"session_id": sid,
		}).Warn("Failed to close session on disconnect")
	}
}

func (e *Editor) SessionFor(socketID string) (string, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	sid, ok := e.bound[socketID]
	return sid, ok
}

func (e *Editor) announce(p confirm.Prompt) {
	e.mu.Lock()
	targets := make([]emitter, 0, len(e.sockets))
	for _, out := range e.sockets {
		targets = append(targets, out)
	}
	e.mu.Unlock()

	for _, out := range targets {
		_ = out.Emit(EventConfirmRequest, p)
	}
}

// Handle applies one event from socketID and returns the payload to
// acknowledge with. Changes to the canvas are also pushed as canvas-updated.
func (e *Editor) Handle(ctx context.Context, socketID, event string, arg any) (map[string]any, error) {
	switch event {
	case EventOpenSession:
		return e.open(ctx, socketID, arg)
	case EventConfirmResponse:
		var resp ConfirmResponse
		if err := decodeArg(arg, &resp); err != nil {
			return nil, err
		}
		if err := e.broker.Resolve(resp.ID, resp.Accepted); err != nil {
			return nil, err
		}
		return map[string]any{"status": "ok"}, nil
	}

	sid, ok := e.SessionFor(socketID)
	if !ok {
		return nil, ErrNoSession
	}
	s, err := e.manager.Get(sid)
	if err != nil {
		return nil, err
	}

	result := map[string]any{}
	switch event {
	case EventPointer:
		var ev sessions.PointerEvent
		if err := decodeArg(arg, &ev); err != nil {
			return nil, err
		}
		err = sessions.ApplyPointer(s, ev)
	case EventSetTool:
		var req sessions.ToolRequest
		if err := decodeArg(arg, &req); err != nil {
			return nil, err
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
		err = s.SetTool(tool)
	case EventCommitText:
		var req sessions.TextRequest
		if err := decodeArg(arg, &req); err != nil {
			return nil, err
		}
		err = s.CommitText(req.Text)
	case EventCancelText:
		err = s.CancelText()
	case EventUndo:
		result["changed"], err = s.Undo()
	case EventRedo:
		result["changed"], err = s.Redo()
	case EventClear:
		// Clear blocks until the prompt is answered by confirm-response.
		go e.clear(ctx, socketID, s)
		return map[string]any{"status": "pending"}, nil
	case EventSave:
		saved, saveErr := s.Save(ctx)
		if saveErr != nil {
			return nil, saveErr
		}
		result["drawing"] = saved.Summary()
		result["session"] = s.Info()
		return result, nil
	default:
		return nil, fmt.Errorf("%w %q", ErrUnknownEvent, event)
	}
	if err != nil {
		return nil, err
	}

	update, err := canvasUpdate(s)
	if err != nil {
		return nil, err
	}
	e.push(socketID, update)
	for k, v := range update {
		result[k] = v
	}
	return result, nil
}

func (e *Editor) open(ctx context.Context, socketID string, arg any) (map[string]any, error) {
	var req sessions.OpenSessionRequest
	if arg != nil {
		if err := decodeArg(arg, &req); err != nil {
			return nil, err
		}
	}

	s, err := e.manager.Open(ctx, strings.TrimSpace(req.DrawingID))
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	previous, had := e.bound[socketID]
	e.bound[socketID] = s.ID()
	e.mu.Unlock()

	if had {
		if err := e.manager.Close(ctx, previous); err != nil && !errors.Is(err, canvas.ErrSessionNotFound) {
			logrus.WithError(err).WithField("session_id", previous).Warn("Failed to close replaced session")
		}
	}

	logrus.WithFields(logrus.Fields{
		"socket_id":  socketID,
		"session_id": s.ID(),
		"drawing_id": s.DrawingID(),
	}).Info("Editor session opened")

	update, err := canvasUpdate(s)
	if err != nil {
		return nil, err
	}
	e.push(socketID, update)
	return update, nil
}

func (e *Editor) clear(ctx context.Context, socketID string, s *canvas.Session) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	cleared, err := s.Clear(ctx)
	if err != nil {
		if !errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, context.Canceled) {
			e.pushError(socketID, err)
		}
		return
	}
	if !cleared {
		return
	}
	update, err := canvasUpdate(s)
	if err != nil {
		e.pushError(socketID, err)
		return
	}
	e.push(socketID, update)
}

func (e *Editor) push(socketID string, update map[string]any) {
	e.mu.Lock()
	out, ok := e.sockets[socketID]
	e.mu.Unlock()
	if ok {
		_ = out.Emit(EventCanvasUpdated, update)
	}
}

func (e *Editor) pushError(socketID string, err error) {
	e.mu.Lock()
	out, ok := e.sockets[socketID]
	e.mu.Unlock()
	if ok {
		_ = out.Emit(EventError, errorPayload(err))
	}
}

func canvasUpdate(s *canvas.Session) (map[string]any, error) {
	bitmap, err := canvas.EncodeDataURL(s.Snapshot())
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"session": s.Info(),
		"bitmap":  bitmap,
	}, nil
}

func errorPayload(err error) map[string]any {
	status, message := sessions.StatusFor(err)
	switch {
	case errors.Is(err, ErrNoSession):
		status, message = http.StatusConflict, err.Error()
	case errors.Is(err, ErrInvalidPayload), errors.Is(err, ErrUnknownEvent):
		status, message = http.StatusBadRequest, err.Error()
	}
	return map[string]any{
		"status": "error",
		"code":   status,
		"error":  message,
	}
}

// decodeArg converts a socket payload, usually map[string]any, into v.
func decodeArg(arg any, v any) error {
	raw, err := json.Marshal(arg)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	return nil
}

func respond(socket emitter, ack ackInvoker, payload map[string]any, err error) {
	if err != nil {
		payload = errorPayload(err)
		logrus.WithError(err).Debug("Editor event failed")
		_ = socket.Emit(EventError, payload)
	} else if payload != nil {
		if _, ok := payload["status"]; !ok {
			payload["status"] = "ok"
		}
	}
	if ack != nil {
		ack(err, payload)
	}
}

func extractAck(datas []any) (ack ackInvoker, args []any) {
	if len(datas) == 0 {
		return nil, datas
	}

	candidate := datas[len(datas)-1]
	ack = wrapAck(candidate)
	if ack == nil {
		return nil, datas
	}

	return ack, datas[:len(datas)-1]
}

func wrapAck(candidate any) ackInvoker {
	if candidate == nil {
		return nil
	}

	value := reflect.ValueOf(candidate)
	if !value.IsValid() || value.Kind() != reflect.Func {
		return nil
	}

	typ := value.Type()
	return func(err error, payload map[string]any) {
		args := buildAckArgs(typ, err, payload)
		if typ.IsVariadic() {
			value.CallSlice(args)
			return
		}
		value.Call(args)
	}
}

// buildAckArgs fills ack parameters by type: error slots get err, argument
// lists such as the func([]any, error) acks built by socket.io get the
// payload as their only element, and anything else gets the payload itself.
func buildAckArgs(typ reflect.Type, err error, payload map[string]any) []reflect.Value {
	numIn := typ.NumIn()
	args := make([]reflect.Value, numIn)

	for i := 0; i < numIn; i++ {
		paramType := typ.In(i)
		var argValue any
		switch {
		case paramType == errorType:
			if err != nil {
				argValue = err
			}
		case paramType.Kind() == reflect.Slice && paramType.Elem().Kind() == reflect.Interface:
			argValue = []any{payload}
		default:
			argValue = payload
		}
		args[i] = coerceValue(argValue, paramType)
	}

	return args
}

func coerceValue(value any, targetType reflect.Type) reflect.Value {
	if value == nil {
		return reflect.Zero(targetType)
	}

	rv := reflect.ValueOf(value)
	if rv.Type().AssignableTo(targetType) {
		return rv
	}

	if rv.Type().ConvertibleTo(targetType) {
		return rv.Convert(targetType)
	}

	if targetType.Kind() == reflect.String {
		return reflect.ValueOf(fmt.Sprint(value)).Convert(targetType)
	}

	if targetType.Kind() == reflect.Map && targetType.Key().Kind() == reflect.String {
		if payload, ok := value.(map[string]any); ok {
			return convertMap(payload, targetType)
		}
	}

	return reflect.Zero(targetType)
}

func convertMap(source map[string]any, targetType reflect.Type) reflect.Value {
	result := reflect.MakeMapWithSize(targetType, len(source))
	for key, val := range source {
		if val == nil {
			continue
		}
		keyValue := reflect.ValueOf(key).Convert(targetType.Key())
		valueValue := reflect.ValueOf(val)
		if !valueValue.Type().AssignableTo(targetType.Elem()) {
			if !valueValue.Type().ConvertibleTo(targetType.Elem()) {
				continue
			}
			valueValue = valueValue.Convert(targetType.Elem())
		}
		result.SetMapIndex(keyValue, valueValue)
	}
	return result
}
