package httpx

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestWriteError(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteError(rec, http.StatusNotFound, "NOT_FOUND", "not found", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q", ct)
	}
	if got := strings.TrimSpace(rec.Body.String()); got != `{"error":{"code":"NOT_FOUND","message":"not found"}}` {
		t.Errorf("body = %s", got)
	}
}

func TestReadJSON(t *testing.T) {
	type payload struct {
		Reason string `json:"reason"`
	}
	tests := []struct {
		name    string
		body    string
		wantErr bool
	}{
		{"valid", `{"reason":"no"}`, false},
		{"unknown field", `{"reason":"no","x":1}`, true},
		{"empty", ``, true},
		{"trailing object", `{"reason":"a"}{"reason":"b"}`, true},
		{"not json", `reason=no`, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(tt.body))
			var p payload
			err := ReadJSON(httptest.NewRecorder(), r, &p)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestWriteJSON(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteJSON(rec, http.StatusCreated, map[string]string{"id": "x"})
	var out map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if rec.Code != http.StatusCreated || out["id"] != "x" {
		t.Errorf("code=%d out=%v", rec.Code, out)
	}
	if rec.Header().Get("Cache-Control") != "no-store" {
		t.Error("Cache-Control should be no-store")
	}
}

func TestSetRetryAfter(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want string
	}{
		{40 * time.Second, "40"},
		{1400 * time.Millisecond, "1"},
		{0, "1"},
		{-time.Second, "1"},
	}
	for _, tt := range tests {
		rec := httptest.NewRecorder()
		SetRetryAfter(rec, tt.d)
		if got := rec.Header().Get("Retry-After"); got != tt.want {
			t.Errorf("SetRetryAfter(%v) = %q, want %q", tt.d, got, tt.want)
		}
	}
}
