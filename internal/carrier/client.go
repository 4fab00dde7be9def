package carrier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/ariefcatur/go-realtime-fulfillment/internal/tracking"
)

// RejectedError is a 4xx answer from the API. Retrying the same scan will
// not change it.
type RejectedError struct {
	Status int
	Body   string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("api rejected scan: %d %s", e.Status, e.Body)
}

// APIClient forwards scans to the fulfillment API, which owns the ledger.
type APIClient struct {
	BaseURL    string
	HTTPClient *http.Client
}

func NewAPIClient(baseURL string) *APIClient {
	return &APIClient{
		BaseURL:    baseURL,
		HTTPClient: &http.Client{Timeout: 10 * time.Second},
	}
}

func (c *APIClient) Forward(ctx context.Context, s Scan) error {
	path := fmt.Sprintf("%s/tracking/%s/events", c.BaseURL, url.PathEscape(s.OrderID))
	var body any = map[string]string{
		"eventType":   string(s.EventType),
		"description": s.Description,
		"location":    s.Location,
	}
	if s.EventType == tracking.EventDelivered {
		path = fmt.Sprintf("%s/tracking/%s/delivered", c.BaseURL, url.PathEscape(s.OrderID))
		body = map[string]any{
			"deliveryDate": s.ScannedAt,
			"location":     s.Location,
			"deliveredTo":  s.DeliveredTo,
		}
	}
	return c.post(ctx, path, body)
}

func (c *APIClient) post(ctx context.Context, path string, body any) error {
	b, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, path, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 300 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
	if resp.StatusCode < 500 {
		return &RejectedError{Status: resp.StatusCode, Body: string(bytes.TrimSpace(msg))}
	}
	return fmt.Errorf("api %s: %d %s", path, resp.StatusCode, bytes.TrimSpace(msg))
}
