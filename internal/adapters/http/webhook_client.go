package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/ClareAI/voice-sell-agent/pkg/logger"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// WebhookClient posts lead records to the configured business endpoint
type WebhookClient struct {
	URL        string
	HTTPClient *http.Client
}

// NewWebhookClient creates a webhook client
func NewWebhookClient(url string, timeout time.Duration) *WebhookClient {
	return &WebhookClient{
		URL: url,
		HTTPClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// Configured reports whether a webhook URL is set
func (c *WebhookClient) Configured() bool {
	return c != nil && c.URL != ""
}

// Send POSTs body as JSON exactly once and returns the response status.
// A non-2xx status is not an error; transport failures are.
func (c *WebhookClient) Send(ctx context.Context, body interface{}) (int, error) {
	if !c.Configured() {
		return 0, fmt.Errorf("webhook URL is not configured")
	}

	// json.Marshal would re-escape <, > and & in the body
	var payload bytes.Buffer
	enc := json.NewEncoder(&payload)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(body); err != nil {
		return 0, fmt.Errorf("failed to marshal webhook body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.URL, bytes.NewReader(bytes.TrimRight(payload.Bytes(), "\n")))
	if err != nil {
		return 0, fmt.Errorf("failed to create webhook request: %w", err)
	}
	requestID := uuid.NewString()
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Request-ID", requestID)

	start := time.Now()
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("webhook request failed: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	logger.Base().Info("Webhook responded",
		zap.String("request_id", requestID),
		zap.Int("status", resp.StatusCode),
		zap.Duration("duration", time.Since(start)))
	return resp.StatusCode, nil
}

// IsSuccess reports whether status is in [200,300)
func IsSuccess(status int) bool {
	return status >= 200 && status < 300
}
