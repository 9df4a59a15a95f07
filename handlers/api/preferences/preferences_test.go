package preferences

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sketchpad/core"
	"sketchpad/stores/local"
	"sketchpad/stores/memory"
	"strings"
	"testing"
)

// Key-value store whose writes always fail
type readOnlyKV struct {
	core.KeyValueStore
}

func (readOnlyKV) Set(context.Context, string, []byte) error {
	return errors.New("read-only")
}

func decodeTheme(t *testing.T, rec *httptest.ResponseRecorder) ThemeResponse {
	t.Helper()
	var resp ThemeResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	return resp
}

func TestHandleGetTheme_Default(t *testing.T) {
	store := local.NewPreferences(memory.NewStore(), core.ThemeLight)

	rec := httptest.NewRecorder()
	HandleGetTheme(store)(rec, httptest.NewRequest(http.MethodGet, "/api/preferences/theme", nil))

	resp := decodeTheme(t, rec)
	if resp.Theme != core.ThemeLight || resp.Dark {
		t.Errorf("Unexpected theme: %+v", resp)
	}
}

func TestHandleSetTheme(t *testing.T) {
	store := local.NewPreferences(memory.NewStore(), core.ThemeLight)

	rec := httptest.NewRecorder()
	HandleSetTheme(store)(rec, httptest.NewRequest(http.MethodPut, "/api/preferences/theme", strings.NewReader(`{"theme":"dark"}`)))

	if rec.Code != http.StatusOK {
		t.Fatalf("Status code mismatch: got %d, want %d", rec.Code, http.StatusOK)
	}
	if resp := decodeTheme(t, rec); !resp.Dark {
		t.Errorf("Expected dark theme, got %+v", resp)
	}
	if got := store.Theme(context.Background()); got != core.ThemeDark {
		t.Errorf("Theme not persisted: %s", got)
	}
}

func TestHandleSetTheme_Invalid(t *testing.T) {
	store := local.NewPreferences(memory.NewStore(), core.ThemeLight)

	for _, body := range []string{`{"theme":"sepia"}`, `nope`} {
		rec := httptest.NewRecorder()
		HandleSetTheme(store)(rec, httptest.NewRequest(http.MethodPut, "/api/preferences/theme", strings.NewReader(body)))
		if rec.Code != http.StatusBadRequest {
			t.Errorf("%s: got %d, want %d", body, rec.Code, http.StatusBadRequest)
		}
	}
}

func TestHandleToggleTheme(t *testing.T) {
	store := local.NewPreferences(memory.NewStore(), core.ThemeLight)
	handler := HandleToggleTheme(store)

	for _, want := range []core.Theme{core.ThemeDark, core.ThemeLight} {
		rec := httptest.NewRecorder()
		handler(rec, httptest.NewRequest(http.MethodPost, "/api/preferences/theme/toggle", nil))
		if resp := decodeTheme(t, rec); resp.Theme != want {
			t.Errorf("Toggle: got %s, want %s", resp.Theme, want)
		}
	}
}

func TestHandleToggleTheme_StoreError(t *testing.T) {
	store := local.NewPreferences(readOnlyKV{memory.NewStore()}, core.ThemeLight)

	rec := httptest.NewRecorder()
	HandleToggleTheme(store)(rec, httptest.NewRequest(http.MethodPost, "/api/preferences/theme/toggle", nil))

	if rec.Code != http.StatusInternalServerError {
		t.Errorf("Status code mismatch: got %d, want %d", rec.Code, http.StatusInternalServerError)
	}
}
