package mail

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const defaultTimeout = 15 * time.Second

// HTTPTransport posts messages as JSON to a mail relay API.
type HTTPTransport struct {
	APIKey     string
	BaseURL    string
	HTTPClient *http.Client
}

// NewHTTPTransport returns a transport posting to baseURL with apiKey as bearer token.
func NewHTTPTransport(apiKey, baseURL string) *HTTPTransport {
	return &HTTPTransport{
		APIKey:     apiKey,
		BaseURL:    baseURL,
		HTTPClient: &http.Client{Timeout: defaultTimeout},
	}
}

// Send posts m to the relay. Any non-2xx response is an error.
func (c *HTTPTransport) Send(ctx context.Context, m Message) error {
	if c.BaseURL == "" || c.APIKey == "" {
		return ErrNotConfigured
	}
	body := map[string]string{
		"from":    m.From,
		"to":      m.To,
		"subject": m.Subject,
		"html":    m.HTML,
	}
	raw, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL, bytes.NewReader(raw))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.APIKey)
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("mail: relay request failed status=%d body=%s", resp.StatusCode, string(b))
	}
	return nil
}
