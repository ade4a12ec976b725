// Package slack delivers incident notifications to Slack via incoming
// webhooks. It serves two roles: the alerting executor behind the alert_soc
// and notify_team actions, and the escalation channel for incidents that
// exhausted automated remediation.
package slack

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/linnemanlabs/warden/internal/classify"
	"github.com/linnemanlabs/warden/internal/fault"
	"github.com/linnemanlabs/warden/internal/incident"
	"github.com/linnemanlabs/warden/internal/integration"
)

const (
	maxDetailLen = 3000
	httpTimeout  = 10 * time.Second
)

// Notifier posts incident messages to a Slack webhook.
type Notifier struct {
	webhookURL string
	client     *http.Client
}

// New creates a Slack notifier. If webhookURL is empty, every send is a no-op.
func New(webhookURL string) *Notifier {
	return &Notifier{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: httpTimeout},
	}
}

// Execute implements the alerting actions. alert_soc pages the SOC channel
// with full incident detail; notify_team posts a lighter heads-up.
func (n *Notifier) Execute(ctx context.Context, action classify.Action, target integration.Target) error {
	switch action {
	case classify.ActionAlertSOC:
		return n.post(ctx, map[string]any{
			"blocks": []map[string]any{
				header("\U0001f6a8 SOC Alert: " + target.EventType),
				fields(
					field("Source", target.SourceAddr),
					field("Incident", target.IncidentID),
					field("Event type", target.EventType),
				),
				contextLine("warden • incident " + target.IncidentID),
			},
		})
	case classify.ActionNotifyTeam:
		return n.post(ctx, map[string]any{
			"text": fmt.Sprintf("⚠️ %s from %s is being remediated (incident %s)",
				target.EventType, target.SourceAddr, target.IncidentID),
		})
	default:
		return fault.New(fault.KindValidation, "slack: action %q not supported", action)
	}
}

// Escalate posts a failed incident to the manual-intervention channel with
// its full result log.
func (n *Notifier) Escalate(ctx context.Context, inc *incident.Incident) error {
	blocks := []map[string]any{
		header(fmt.Sprintf("\U0001f534 Remediation Failed: %s", inc.EventType)),
		{"type": "divider"},
		fields(
			field("Severity", string(inc.Severity)),
			field("Source", inc.SourceAddr),
			field("Confidence", fmt.Sprintf("%.2f", inc.Confidence)),
			field("Actions", fmt.Sprintf("%d", len(inc.Actions))),
		),
		{"type": "divider"},
		resultsBlock(inc),
		contextLine(fmt.Sprintf("warden • incident %s • %s",
			inc.ID, timestamp(inc).UTC().Format("2006-01-02 15:04 UTC"))),
	}
	return n.post(ctx, map[string]any{"blocks": blocks})
}

func (n *Notifier) post(ctx context.Context, msg map[string]any) error {
	if n.webhookURL == "" {
		return nil
	}

	body, err := json.Marshal(msg)
	if err != nil {
		return fault.Wrap(fault.KindValidation, fmt.Errorf("slack: marshal message: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fault.Wrap(fault.KindValidation, fmt.Errorf("slack: create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req) //nolint:gosec // G704: webhookURL is from trusted config, not user input
	if err != nil {
		return fault.New(fault.KindTransient, "slack: post webhook: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		kind := fault.KindPermanent
		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			kind = fault.KindTransient
		}
		return fault.New(kind, "slack: webhook returned %d: %s", resp.StatusCode, respBody)
	}
	return nil
}

func resultsBlock(inc *incident.Incident) map[string]any {
	text := ""
	for _, r := range inc.Results {
		line := fmt.Sprintf("• `%s` %s (attempt %d)", r.Action, r.Outcome, r.Attempt)
		if r.Detail != "" {
			line += ": " + r.Detail
		}
		text += line + "\n"
	}
	if text == "" {
		text = "_No actions were attempted._"
	}

	return map[string]any{
		"type": "section",
		"text": map[string]any{
			"type": "mrkdwn",
			"text": "*Action log*\n\n" + truncate(text, maxDetailLen),
		},
	}
}

func header(text string) map[string]any {
	return map[string]any{
		"type": "header",
		"text": map[string]any{
			"type": "plain_text",
			"text": text,
		},
	}
}

func fields(fs ...map[string]any) map[string]any {
	return map[string]any{
		"type":   "section",
		"fields": fs,
	}
}

func field(name, value string) map[string]any {
	return map[string]any{
		"type": "mrkdwn",
		"text": fmt.Sprintf("*%s:* %s", name, value),
	}
}

func contextLine(text string) map[string]any {
	return map[string]any{
		"type": "context",
		"elements": []map[string]any{
			{"type": "mrkdwn", "text": text},
		},
	}
}

func timestamp(inc *incident.Incident) time.Time {
	if !inc.CompletedAt.IsZero() {
		return inc.CompletedAt
	}
	return inc.CreatedAt
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit-3] + "..."
}
