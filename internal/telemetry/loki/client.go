// Package loki provides a client to push log entries to Grafana Loki.
package loki

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"time"

	"docsign-engine/backend/internal/telemetry/domain"
)

// PushRequest is the Loki push API request body (v1).
type PushRequest struct {
	Streams []Stream `json:"streams"`
}

// Stream is a single stream with labels and log entries.
type Stream struct {
	Stream map[string]string `json:"stream"`
	Values [][]string        `json:"values"` // each entry is [timestamp_ns, log_line]
}

// labelSanitize replaces characters that are invalid in Loki label values.
var labelSanitize = regexp.MustCompile(`[^a-zA-Z0-9_\-:]`)

// Client pushes lines to one Loki instance.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient returns a client for the Loki at baseURL (e.g. http://localhost:3100).
func NewClient(baseURL string) *Client {
	return &Client{baseURL: strings.TrimSuffix(baseURL, "/"), http: &http.Client{Timeout: 10 * time.Second}}
}

// PushEventJSON parses a lifecycle event (Kafka message value), labels it by event type and
// status, and pushes it. Unparseable payloads are pushed raw at the current time.
func (c *Client) PushEventJSON(ctx context.Context, rawJSON []byte) error {
	labels := map[string]string{}
	ts := time.Now().UTC()
	var ev domain.LifecycleEvent
	if err := json.Unmarshal(rawJSON, &ev); err == nil {
		if ev.EventType != "" {
			labels["event_type"] = ev.EventType
		}
		if ev.Status != "" {
			labels["status"] = ev.Status
		}
		if ev.Source != "" {
			labels["source"] = ev.Source
		}
		if !ev.OccurredAt.IsZero() {
			ts = ev.OccurredAt
		}
	}
	return c.PushEvent(ctx, ts, string(rawJSON), labels)
}

// PushEvent sends a single log line. labels are added to the stream next to job=docsign.
// Returns an error if the HTTP request fails or Loki returns non-2xx.
func (c *Client) PushEvent(ctx context.Context, timestamp time.Time, line string, labels map[string]string) error {
	if c.baseURL == "" {
		return fmt.Errorf("loki: base URL is empty")
	}
	streamLabels := make(map[string]string, len(labels)+1)
	streamLabels["job"] = "docsign"
	for k, v := range labels {
		sanitized := labelSanitize.ReplaceAllString(strings.TrimSpace(v), "_")
		if sanitized != "" {
			streamLabels[k] = sanitized
		}
	}
	body := PushRequest{
		Streams: []Stream{{
			Stream: streamLabels,
			Values: [][]string{{fmt.Sprintf("%d", timestamp.UnixNano()), line}},
		}},
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/loki/api/v1/push", bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("loki: push returned %s", resp.Status)
	}
	return nil
}
