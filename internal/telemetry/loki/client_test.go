package loki

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"
)

func TestPushEventJSON_LabelsAndTimestamp(t *testing.T) {
	var got PushRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/loki/api/v1/push" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("Decode: %v", err)
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	raw := []byte(`{"requestId":"r1","eventType":"SIGNED","status":"SIGNED","source":"orchestrator","occurredAt":"2026-02-01T10:00:00Z"}`)
	if err := NewClient(server.URL+"/").PushEventJSON(context.Background(), raw); err != nil {
		t.Fatalf("PushEventJSON: %v", err)
	}
	if len(got.Streams) != 1 {
		t.Fatalf("streams = %d", len(got.Streams))
	}
	s := got.Streams[0]
	if s.Stream["job"] != "docsign" || s.Stream["event_type"] != "SIGNED" || s.Stream["status"] != "SIGNED" {
		t.Errorf("labels = %v", s.Stream)
	}
	wantTS := time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC).UnixNano()
	if s.Values[0][0] != strconv.FormatInt(wantTS, 10) {
		t.Errorf("timestamp = %s, want %d", s.Values[0][0], wantTS)
	}
	if s.Values[0][1] != string(raw) {
		t.Errorf("line = %s", s.Values[0][1])
	}
}

func TestPushEvent_Errors(t *testing.T) {
	if err := NewClient("").PushEvent(context.Background(), time.Now(), "x", nil); err == nil {
		t.Error("empty base URL should fail")
	}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer server.Close()
	if err := NewClient(server.URL).PushEvent(context.Background(), time.Now(), "x", map[string]string{"event_type": "a b"}); err == nil {
		t.Error("non-2xx should fail")
	}
}
