// Package drift compares a node's live configuration against its stored
// baseline. Differing fields are classified by a static sensitivity map:
// medium fields are written back to baseline immediately, high fields are
// only reported. Remediation writes land as action results on a synthetic
// incident so the audit trail stays in one place.
package drift

import (
	"context"
	"fmt"
	"reflect"
	"sort"
	"time"

	"github.com/avast/retry-go/v5"
	"github.com/linnemanlabs/go-core/log"
	"github.com/oklog/ulid/v2"

	"github.com/linnemanlabs/warden/internal/classify"
	"github.com/linnemanlabs/warden/internal/fault"
	"github.com/linnemanlabs/warden/internal/incident"
)

// ActionRemediate is the action name drift remediation writes record under.
const ActionRemediate classify.Action = "remediate_config"

// Source provides configuration snapshots and single-field writes for a node.
type Source interface {
	CurrentConfig(ctx context.Context, nodeID string) (map[string]any, error)
	BaselineConfig(ctx context.Context, nodeID string) (map[string]any, error)
	WriteConfig(ctx context.Context, nodeID, field string, value any) error
}

// Record is one drifted field in a detection run.
type Record struct {
	Field      string            `json:"field"`
	Expected   any               `json:"expected"`
	Actual     any               `json:"actual"` // nil when the field is missing
	Missing    bool              `json:"missing"`
	Severity   classify.Severity `json:"severity"`
	Remediated bool              `json:"remediated"`
	Detail     string            `json:"detail,omitempty"`
}

// Report is the outcome of one detection run. IncidentID is empty when no
// remediation was attempted.
type Report struct {
	NodeID     string    `json:"node_id"`
	Records    []Record  `json:"records"`
	IncidentID string    `json:"incident_id,omitempty"`
	CheckedAt  time.Time `json:"checked_at"`
}

// Drifted reports whether any field diverged from baseline.
func (r *Report) Drifted() bool { return len(r.Records) > 0 }

// Detector runs baseline comparisons against a configuration source.
type Detector struct {
	source      Source
	store       incident.Store
	fields      FieldMap
	logger      log.Logger
	metrics     *Metrics
	maxAttempts uint
	baseDelay   time.Duration
}

// DetectorOption customizes remediation retry behavior.
type DetectorOption func(*Detector)

// WithMaxAttempts sets the per-field write attempt cap.
func WithMaxAttempts(n uint) DetectorOption {
	return func(d *Detector) { d.maxAttempts = n }
}

// WithBaseDelay sets the initial backoff delay between write attempts.
func WithBaseDelay(delay time.Duration) DetectorOption {
	return func(d *Detector) { d.baseDelay = delay }
}

// NewDetector creates a drift detector. metrics may be nil.
func NewDetector(source Source, store incident.Store, fields FieldMap, logger log.Logger, metrics *Metrics, opts ...DetectorOption) *Detector {
	d := &Detector{
		source:      source,
		store:       store,
		fields:      fields,
		logger:      logger,
		metrics:     metrics,
		maxAttempts: incident.DefaultMaxAttempts,
		baseDelay:   incident.DefaultBaseDelay,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Detect diffs the node's live configuration against its baseline and
// auto-remediates medium-sensitivity fields. An empty diff produces a report
// with zero records and touches nothing.
func (d *Detector) Detect(ctx context.Context, nodeID string) (*Report, error) {
	if nodeID == "" {
		return nil, fault.New(fault.KindValidation, "drift: empty node id")
	}
	L := d.logger.With("node_id", nodeID)

	baseline, err := d.source.BaselineConfig(ctx, nodeID)
	if err != nil {
		d.countRun("error")
		return nil, fmt.Errorf("drift: load baseline for %s: %w", nodeID, err)
	}
	current, err := d.source.CurrentConfig(ctx, nodeID)
	if err != nil {
		d.countRun("error")
		return nil, fmt.Errorf("drift: load current config for %s: %w", nodeID, err)
	}

	report := &Report{
		NodeID:    nodeID,
		Records:   d.diff(baseline, current),
		CheckedAt: time.Now(),
	}
	if !report.Drifted() {
		d.countRun("clean")
		L.Info(ctx, "configuration matches baseline")
		return report, nil
	}
	d.countRun("drifted")
	for _, r := range report.Records {
		d.countField(r.Severity)
	}

	if err := d.remediate(ctx, L, nodeID, report); err != nil {
		return nil, err
	}

	L.Info(ctx, "drift detected",
		"fields", len(report.Records),
		"incident_id", report.IncidentID,
	)
	return report, nil
}

// diff walks the baseline field set in stable order. Fields absent from the
// live snapshot are always high sensitivity.
func (d *Detector) diff(baseline, current map[string]any) []Record {
	fields := make([]string, 0, len(baseline))
	for f := range baseline {
		fields = append(fields, f)
	}
	sort.Strings(fields)

	var out []Record
	for _, f := range fields {
		expected := baseline[f]
		actual, present := current[f]
		switch {
		case !present:
			out = append(out, Record{
				Field:    f,
				Expected: expected,
				Missing:  true,
				Severity: classify.SeverityHigh,
			})
		case !reflect.DeepEqual(expected, actual):
			out = append(out, Record{
				Field:    f,
				Expected: expected,
				Actual:   actual,
				Severity: d.fields.Severity(f),
			})
		}
	}
	return out
}

// remediate writes baseline values back for every medium record, recording
// each attempt on a synthetic incident. High records are left for review.
func (d *Detector) remediate(ctx context.Context, L log.Logger, nodeID string, report *Report) error {
	medium := 0
	for i := range report.Records {
		if report.Records[i].Severity == classify.SeverityMedium {
			medium++
		}
	}
	if medium == 0 {
		return nil
	}

	inc := &incident.Incident{
		ID:          ulid.Make().String(),
		EventID:     "drift/" + nodeID + "/" + ulid.Make().String(),
		SourceAddr:  nodeID,
		EventType:   "config_drift",
		Severity:    classify.SeverityMedium,
		Status:      incident.StatusDispatching,
		AutoExecute: true,
		Actions:     []classify.Action{ActionRemediate},
		CreatedAt:   time.Now(),
	}
	if err := d.store.Put(ctx, inc); err != nil {
		return err
	}
	report.IncidentID = inc.ID

	failed := 0
	for i := range report.Records {
		rec := &report.Records[i]
		if rec.Severity != classify.SeverityMedium {
			continue
		}
		if err := d.writeBack(ctx, L, nodeID, inc, rec); err != nil {
			return err // store failure only
		}
		if !rec.Remediated {
			failed++
		}
	}

	if failed > 0 {
		inc.Status = incident.StatusFailed
	} else {
		inc.Status = incident.StatusRemediated
	}
	inc.CompletedAt = time.Now()
	return d.store.Put(ctx, inc)
}

// writeBack restores one field with retry/backoff. A field that exhausts its
// attempts is left un-remediated; the error return is reserved for store
// failures.
func (d *Detector) writeBack(ctx context.Context, L log.Logger, nodeID string, inc *incident.Incident, rec *Record) error {
	attempts := 0
	r := retry.New(
		retry.Context(ctx),
		retry.Attempts(d.maxAttempts),
		retry.Delay(d.baseDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(fault.Retryable),
		retry.OnRetry(func(n uint, err error) {
			d.record(inc, incident.OutcomeRetried, int(n)+1, rec.Field+": "+err.Error())
			if putErr := d.store.Put(context.WithoutCancel(ctx), inc); putErr != nil {
				L.Error(ctx, putErr, "failed to persist retry record", "field", rec.Field)
			}
			L.Warn(ctx, "baseline write failed, retrying", "field", rec.Field, "attempt", n+1)
		}),
	)

	err := r.Do(func() error {
		attempts++
		return d.source.WriteConfig(ctx, nodeID, rec.Field, rec.Expected)
	})
	if err != nil {
		rec.Detail = err.Error()
		d.record(inc, incident.OutcomeFailed, attempts, rec.Field+": "+err.Error())
		d.countRemediation("failed")
		L.Error(ctx, err, "field not remediated", "field", rec.Field, "attempts", attempts)
		return d.store.Put(ctx, inc)
	}

	rec.Remediated = true
	d.record(inc, incident.OutcomeExecuted, attempts, rec.Field)
	d.countRemediation("executed")
	L.Info(ctx, "field restored to baseline", "field", rec.Field, "attempts", attempts)
	return d.store.Put(ctx, inc)
}

func (d *Detector) record(inc *incident.Incident, outcome incident.Outcome, attempt int, detail string) {
	inc.Results = append(inc.Results, incident.ActionResult{
		Action:  ActionRemediate,
		Outcome: outcome,
		Attempt: attempt,
		At:      time.Now(),
		Detail:  detail,
	})
}

func (d *Detector) countRun(result string) {
	if d.metrics != nil {
		d.metrics.RunsTotal.WithLabelValues(result).Inc()
	}
}

func (d *Detector) countField(severity classify.Severity) {
	if d.metrics != nil {
		d.metrics.FieldsDrifted.WithLabelValues(string(severity)).Inc()
	}
}

func (d *Detector) countRemediation(outcome string) {
	if d.metrics != nil {
		d.metrics.RemediationsTotal.WithLabelValues(outcome).Inc()
	}
}
