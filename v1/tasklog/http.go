package tasklog

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// DefaultHTTPTimeout bounds a single post to the logger service.
const DefaultHTTPTimeout = time.Second

// HTTPObserver posts each event to a remote logger service.
type HTTPObserver struct {
	url    string
	client *http.Client
}

// NewHTTPObserver returns an observer posting to url. timeout <= 0 means
// DefaultHTTPTimeout.
func NewHTTPObserver(url string, timeout time.Duration) *HTTPObserver {
	if timeout <= 0 {
		timeout = DefaultHTTPTimeout
	}
	return &HTTPObserver{url: url, client: &http.Client{Timeout: timeout}}
}

// The logger service stores the lifecycle status in its task_type column.
type httpEvent struct {
	CorrelationID string `json:"correlation_id"`
	QueueName     string `json:"queue_name"`
	ServiceName   string `json:"service_name"`
	TaskType      string `json:"task_type"`
	Description   string `json:"description"`
}

// OnEvent posts e as JSON. Non-2xx answers are reported as errors.
func (h *HTTPObserver) OnEvent(ctx context.Context, e Event) error {
	body, err := json.Marshal(httpEvent{
		CorrelationID: e.CorrelationID,
		QueueName:     e.QueueName,
		ServiceName:   e.ServiceName,
		TaskType:      e.Status,
		Description:   e.Description,
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.client.Do(req)
	if err != nil {
		return fmt.Errorf("post lifecycle event: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 300 {
		return fmt.Errorf("post lifecycle event: unexpected status %d", resp.StatusCode)
	}
	return nil
}
