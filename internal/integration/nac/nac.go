// Package nac is the HTTP client for the network-access-control platform.
// It executes device-level remediation primitives (quarantine, VLAN
// isolation) and serves node configuration reads/writes for drift detection.
package nac

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

const (
	httpTimeout     = 15 * time.Second
	maxResponseBody = 1 << 20 // 1 MB
)

// Client talks to the NAC REST API. All calls go through a circuit breaker so
// a dead platform trips fast instead of stacking timeouts.
type Client struct {
	baseURL    string
	username   string
	password   string
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker
}

// New creates a NAC client for the given endpoint.
func New(baseURL, username, password string) *Client {
	return &Client{
		baseURL:    baseURL,
		username:   username,
		password:   password,
		httpClient: &http.Client{Timeout: httpTimeout},
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    "nac",
			Timeout: 30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures > 5
			},
		}),
	}
}

// Execute implements integration.Executor for the device-level actions the
// NAC platform owns.
func (c *Client) Execute(ctx context.Context, action classify.Action, target integration.Target) error {
	switch action {
	case classify.ActionQuarantineDevice:
		return c.post(ctx, "api/v1/anc/quarantine", map[string]any{
			"address": target.SourceAddr,
			"reason":  fmt.Sprintf("security incident %s (%s)", target.IncidentID, target.EventType),
		})
	case classify.ActionIsolateVLAN:
		return c.post(ctx, "api/v1/anc/isolate", map[string]any{
			"address": target.SourceAddr,
		})
	default:
		return fault.New(fault.KindValidation, "nac: unsupported action %q", action)
	}
}

// CurrentConfig fetches the live configuration snapshot for a node.
func (c *Client) CurrentConfig(ctx context.Context, nodeID string) (map[string]any, error) {
	return c.getConfig(ctx, path.Join("api/v1/nodes", nodeID, "config"))
}

// BaselineConfig fetches the stored baseline configuration for a node.
func (c *Client) BaselineConfig(ctx context.Context, nodeID string) (map[string]any, error) {
	return c.getConfig(ctx, path.Join("api/v1/nodes", nodeID, "baseline"))
}

// WriteConfig sets a single configuration field back to the given value.
func (c *Client) WriteConfig(ctx context.Context, nodeID, field string, value any) error {
	return c.post(ctx, path.Join("api/v1/nodes", nodeID, "config"), map[string]any{
		"field": field,
		"value": value,
	})
}

func (c *Client) getConfig(ctx context.Context, p string) (map[string]any, error) {
	body, err := c.do(ctx, http.MethodGet, p, nil)
	if err != nil {
		return nil, err
	}
	var doc struct {
		Settings map[string]any `json:"settings"`
	}
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, fault.New(fault.KindTransient, "nac: malformed config response: %v", err)
	}
	return doc.Settings, nil
}

func (c *Client) post(ctx context.Context, p string, payload map[string]any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fault.Wrap(fault.KindValidation, err)
	}
	_, err = c.do(ctx, http.MethodPost, p, body)
	return err
}

// do issues one request through the breaker and maps the outcome onto the
// fault taxonomy: timeouts and 5xx are transient, 4xx rejections permanent.
func (c *Client) do(ctx context.Context, method, p string, body []byte) ([]byte, error) {
	out, err := c.breaker.Execute(func() (any, error) {
		u, err := url.Parse(c.baseURL)
		if err != nil {
			return nil, fault.New(fault.KindValidation, "nac: invalid endpoint: %v", err)
		}
		u.Path = path.Join(u.Path, p)

		var rd io.Reader = http.NoBody
		if body != nil {
			rd = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, u.String(), rd)
		if err != nil {
			return nil, fault.Wrap(fault.KindValidation, err)
		}
		req.SetBasicAuth(c.username, c.password)
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "application/json")

		resp, err := c.httpClient.Do(req) //nolint:gosec // G704: baseURL is from trusted config, not user input
		if err != nil {
			return nil, fault.New(fault.KindTransient, "nac: %v", err)
		}
		defer func() { _ = resp.Body.Close() }()

		respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
		if err != nil {
			return nil, fault.New(fault.KindTransient, "nac: read response: %v", err)
		}
		if err := classifyStatus(resp.StatusCode, respBody); err != nil {
			return nil, err
		}
		return respBody, nil
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, fault.New(fault.KindTransient, "nac: circuit open")
		}
		return nil, err
	}
	return out.([]byte), nil
}

func classifyStatus(code int, body []byte) error {
	switch {
	case code >= 200 && code < 300:
		return nil
	case code == http.StatusNotFound:
		return fault.New(fault.KindNotFound, "nac returned 404: %s", body)
	case code == http.StatusTooManyRequests || code >= 500:
		return fault.New(fault.KindTransient, "nac returned %d: %s", code, body)
	default:
		// 4xx validation rejection from the platform
		return fault.New(fault.KindPermanent, "nac returned %d: %s", code, body)
	}
}
