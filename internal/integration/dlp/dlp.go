// Package dlp is the HTTP client for the data-loss-prevention platform. It
// owns artifact-level remediation: quarantining files implicated in an
// incident.
package dlp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"time"

	"github.com/sony/gobreaker"

	"github.com/linnemanlabs/warden/internal/classify"
	"github.com/linnemanlabs/warden/internal/fault"
	"github.com/linnemanlabs/warden/internal/integration"
)

const httpTimeout = 15 * time.Second

// Client talks to the DLP REST API.
type Client struct {
	baseURL    string
	apiToken   string
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker
}

// New creates a DLP client for the given endpoint.
func New(baseURL, apiToken string) *Client {
	return &Client{
		baseURL:    baseURL,
		apiToken:   apiToken,
		httpClient: &http.Client{Timeout: httpTimeout},
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    "dlp",
			Timeout: 30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures > 5
			},
		}),
	}
}

// Execute implements integration.Executor for artifact quarantine.
func (c *Client) Execute(ctx context.Context, action classify.Action, target integration.Target) error {
	if action != classify.ActionQuarantineArtifact {
		return fault.New(fault.KindValidation, "dlp: unsupported action %q", action)
	}

	payload, err := json.Marshal(map[string]any{
		"incident_id": target.IncidentID,
		"source":      target.SourceAddr,
		"reason":      fmt.Sprintf("automated response to %s", target.EventType),
	})
	if err != nil {
		return fault.Wrap(fault.KindValidation, err)
	}

	_, err = c.breaker.Execute(func() (any, error) {
		u, err := url.Parse(c.baseURL)
		if err != nil {
			return nil, fault.New(fault.KindValidation, "dlp: invalid endpoint: %v", err)
		}
		u.Path = path.Join(u.Path, "api/v1/artifacts/quarantine")

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), bytes.NewReader(payload))
		if err != nil {
			return nil, fault.Wrap(fault.KindValidation, err)
		}
		req.Header.Set("Authorization", "Bearer "+c.apiToken)
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.httpClient.Do(req) //nolint:gosec // G704: baseURL is from trusted config, not user input
		if err != nil {
			return nil, fault.New(fault.KindTransient, "dlp: %v", err)
		}
		defer func() { _ = resp.Body.Close() }()

		body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		switch {
		case resp.StatusCode >= 200 && resp.StatusCode < 300:
			return nil, nil
		case resp.StatusCode == http.StatusNotFound:
			return nil, fault.New(fault.KindNotFound, "dlp returned 404: %s", body)
		case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
			return nil, fault.New(fault.KindTransient, "dlp returned %d: %s", resp.StatusCode, body)
		default:
			return nil, fault.New(fault.KindPermanent, "dlp returned %d: %s", resp.StatusCode, body)
		}
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fault.New(fault.KindTransient, "dlp: circuit open")
	}
	return err
}
