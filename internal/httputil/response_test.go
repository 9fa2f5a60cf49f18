package httputil

import (
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/banshee-data/synchro/internal/monitoring"
)

func init() { monitoring.SetLogger(nil) }

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var resp map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	return resp["error"]
}

func TestWriteJSONError(t *testing.T) {
	t.Parallel()

	rec := httptest.NewRecorder()
	WriteJSONError(rec, http.StatusBadRequest, "test error")

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("content-type = %s, want application/json", ct)
	}
	if msg := decodeError(t, rec); msg != "test error" {
		t.Errorf("error = %s, want 'test error'", msg)
	}
}

func TestWriteJSON(t *testing.T) {
	t.Parallel()

	rec := httptest.NewRecorder()
	WriteJSON(rec, http.StatusAccepted, map[string]int{"tick": 7})

	if rec.Code != http.StatusAccepted {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusAccepted)
	}
	var resp map[string]int
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp["tick"] != 7 {
		t.Errorf("tick = %d, want 7", resp["tick"])
	}
}

func TestWriteJSONUnencodable(t *testing.T) {
	t.Parallel()

	rec := httptest.NewRecorder()
	WriteJSON(rec, http.StatusOK, math.NaN())
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}
}

func TestErrorHelpers(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		write  func(http.ResponseWriter)
		status int
		msg    string
	}{
		{"ok", func(w http.ResponseWriter) { WriteJSONOK(w, map[string]string{}) }, http.StatusOK, ""},
		{"bad request", func(w http.ResponseWriter) { BadRequest(w, "bad") }, http.StatusBadRequest, "bad"},
		{"not found", func(w http.ResponseWriter) { NotFound(w, "gone") }, http.StatusNotFound, "gone"},
		{"internal", func(w http.ResponseWriter) { InternalServerError(w, "boom") }, http.StatusInternalServerError, "boom"},
		{"method", func(w http.ResponseWriter) { MethodNotAllowed(w, http.MethodPost) }, http.StatusMethodNotAllowed, "method not allowed"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			tt.write(rec)
			if rec.Code != tt.status {
				t.Errorf("status = %d, want %d", rec.Code, tt.status)
			}
			if msg := decodeError(t, rec); msg != tt.msg {
				t.Errorf("error = %q, want %q", msg, tt.msg)
			}
		})
	}
}

func TestMethodNotAllowedSetsAllow(t *testing.T) {
	t.Parallel()

	rec := httptest.NewRecorder()
	MethodNotAllowed(rec, http.MethodGet)
	if got := rec.Header().Get("Allow"); got != http.MethodGet {
		t.Errorf("Allow = %q, want GET", got)
	}
}

func TestDecodeJSON(t *testing.T) {
	t.Parallel()

	type body struct {
		Agent int `json:"agent"`
	}
	tests := []struct {
		name    string
		in      string
		wantErr bool
	}{
		{"valid", `{"agent": 2}`, false},
		{"unknown field", `{"agent": 2, "lane": 1}`, true},
		{"trailing data", `{"agent": 2} {"agent": 3}`, true},
		{"malformed", `{"agent":`, true},
		{"too large", `{"agent": 2, "pad": "` + strings.Repeat("x", 64) + `"}`, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(tt.in))
			var got body
			err := DecodeJSON(rec, req, &got, 32)
			if (err != nil) != tt.wantErr {
				t.Fatalf("DecodeJSON(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if err == nil && got.Agent != 2 {
				t.Errorf("agent = %d, want 2", got.Agent)
			}
		})
	}
}
