// Package score is the boundary to the external anomaly model. The engine
// never computes confidences itself; it asks a Scorer, and when the model is
// unreachable the event is queued rather than defaulted.
package score

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"path"
	"time"

	"github.com/linnemanlabs/warden/internal/event"
	"github.com/linnemanlabs/warden/internal/fault"
)

// Scorer produces a confidence in [0,1] for an event.
type Scorer interface {
	Score(ctx context.Context, ev *event.SecurityEvent) (float64, error)
}

// ScorerFunc adapts a function to Scorer.
type ScorerFunc func(ctx context.Context, ev *event.SecurityEvent) (float64, error)

// Score implements Scorer.
func (f ScorerFunc) Score(ctx context.Context, ev *event.SecurityEvent) (float64, error) {
	return f(ctx, ev)
}

// Client queries the anomaly-model inference API over HTTP.
type Client struct {
	endpoint   string
	httpClient *http.Client
}

// NewClient creates a scoring client for the given inference endpoint.
func NewClient(endpoint string) *Client {
	return &Client{
		endpoint:   endpoint,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

// Score submits the event's feature vector and returns the model confidence.
// Connection failures and model-side errors surface as unavailable faults so
// the caller queues the event instead of misclassifying it.
func (c *Client) Score(ctx context.Context, ev *event.SecurityEvent) (float64, error) {
	u, err := url.Parse(c.endpoint)
	if err != nil {
		return 0, fault.New(fault.KindValidation, "score: invalid endpoint: %v", err)
	}
	u.Path = path.Join(u.Path, "api/v1/anomaly/score")

	payload, err := json.Marshal(map[string]any{
		"event_id": ev.ID,
		"type":     ev.Type,
		"features": ev.Features,
	})
	if err != nil {
		return 0, fault.Wrap(fault.KindValidation, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), bytes.NewReader(payload))
	if err != nil {
		return 0, fault.Wrap(fault.KindValidation, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req) //nolint:gosec // G704: endpoint is from trusted config, not user input
	if err != nil {
		return 0, fault.New(fault.KindUnavailable, "score: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return 0, fault.New(fault.KindUnavailable, "score: read response: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		return 0, fault.New(fault.KindUnavailable, "score: model returned %d: %s", resp.StatusCode, body)
	}

	var out struct {
		Confidence *float64 `json:"confidence"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return 0, fault.New(fault.KindUnavailable, "score: malformed response: %v", err)
	}
	if out.Confidence == nil || *out.Confidence < 0 || *out.Confidence > 1 {
		return 0, fault.New(fault.KindUnavailable, "score: model returned no usable confidence")
	}
	return *out.Confidence, nil
}
