package detector

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/example/ai-detect/internal/logging"
)

// maxResponseBytes caps how much of an upstream body is read. Verdicts are
// small; anything larger is broken or hostile.
const maxResponseBytes = 1 << 20

// RESTClient posts image URLs to the Winston REST endpoint.
type RESTClient struct {
	endpoint string
	apiKey   string
	client   *http.Client
	logger   *zap.Logger
}

// NewRESTClient creates a REST detector client with its own HTTP timeout.
func NewRESTClient(endpoint, apiKey string, timeout time.Duration, logger *zap.Logger) *RESTClient {
	return &RESTClient{
		endpoint: endpoint,
		apiKey:   strings.TrimSpace(apiKey),
		client:   &http.Client{Timeout: timeout},
		logger:   logger.Named("detector_rest"),
	}
}

// Detect posts the public image URL and returns whatever document the
// service answers with. A non-2xx status is an observation, not an error:
// parseable bodies flow through untouched, unparseable ones are wrapped into
// an error-shaped payload that keeps the status line for diagnostics.
func (c *RESTClient) Detect(ctx context.Context, imageURL string) (*Response, error) {
	if c.apiKey == "" {
		return nil, ErrMissingCredential
	}

	body, err := json.Marshal(map[string]string{"url": imageURL})
	if err != nil {
		return nil, logging.NewOperationError("detector.rest.marshal", "", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, logging.NewOperationError("detector.rest.request", "", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		wrapped := logging.NewTransportError("detector.rest.call", "", 0, err)
		c.logger.Error("detection call failed",
			zap.String("endpoint", c.endpoint),
			zap.Error(wrapped))
		return nil, wrapped
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		wrapped := logging.NewTransportError("detector.rest.read", "", resp.StatusCode, err)
		c.logger.Error("reading detection response failed", zap.Error(wrapped))
		return nil, wrapped
	}

	var payload map[string]any
	if err := json.Unmarshal(data, &payload); err == nil && payload != nil {
		return &Response{Payload: payload, StatusCode: resp.StatusCode}, nil
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		// Success status with a body that is not a JSON object. Nothing to
		// normalize; the neutral fallback takes over downstream.
		c.logger.Warn("unparseable detection response", zap.Int("status", resp.StatusCode))
		return &Response{StatusCode: resp.StatusCode}, nil
	}

	message := fmt.Sprintf("HTTP %d: %s", resp.StatusCode, truncate(string(data), 200))
	return &Response{
		Payload:    map[string]any{"error": map[string]any{"message": message}},
		StatusCode: resp.StatusCode,
	}, nil
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit] + "..."
}
