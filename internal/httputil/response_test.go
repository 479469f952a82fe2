package httputil

import (
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestErrorHelpers(t *testing.T) {
	tests := []struct {
		name   string
		write  func(w http.ResponseWriter)
		status int
		msg    string
	}{
		{"WriteJSONError", func(w http.ResponseWriter) { WriteJSONError(w, http.StatusConflict, "taken") }, http.StatusConflict, "taken"},
		{"MethodNotAllowed", MethodNotAllowed, http.StatusMethodNotAllowed, "method not allowed"},
		{"BadRequest", func(w http.ResponseWriter) { BadRequest(w, "bad id") }, http.StatusBadRequest, "bad id"},
		{"NotFound", func(w http.ResponseWriter) { NotFound(w, "no entity") }, http.StatusNotFound, "no entity"},
		{"InternalServerError", func(w http.ResponseWriter) { InternalServerError(w, "db down") }, http.StatusInternalServerError, "db down"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			tt.write(rec)

			if rec.Code != tt.status {
				t.Errorf("status = %d, want %d", rec.Code, tt.status)
			}
			if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
				t.Errorf("content-type = %s, want application/json", ct)
			}
			var resp map[string]string
			if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
				t.Fatalf("failed to decode response: %v", err)
			}
			if resp["error"] != tt.msg {
				t.Errorf("error = %q, want %q", resp["error"], tt.msg)
			}
		})
	}
}

func TestWriteJSONOK(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteJSONOK(rec, []int{1, 2})

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
	if got := rec.Body.String(); got != "[1,2]\n" {
		t.Errorf("body = %q", got)
	}
}

func TestWriteJSON_EncodeFailure(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteJSON(rec, http.StatusCreated, math.Inf(1))

	// The status is already sent when encoding fails.
	if rec.Code != http.StatusCreated {
		t.Errorf("status = %d, want 201", rec.Code)
	}
}
