package incident

import (
	"time"

	"github.com/linnemanlabs/warden/internal/classify"
)

// Status tracks where an incident is in its response lifecycle.
type Status string

const (
	// StatusNew means classified, not yet dispatched.
	StatusNew Status = "new"

	// StatusDispatching means actions are being executed.
	StatusDispatching Status = "dispatching"

	// StatusRemediated means every auto-executed action succeeded.
	StatusRemediated Status = "remediated"

	// StatusReview means the incident awaits human follow-up (medium tier).
	StatusReview Status = "review"

	// StatusLogged means the incident was recorded only (low tier).
	StatusLogged Status = "logged"

	// StatusFailed means an auto-executed action exhausted its retries.
	// Failed incidents are surfaced to the manual-intervention queue.
	StatusFailed Status = "failed"
)

// Terminal reports whether s is an end state. Re-dispatching a terminal
// incident is a no-op.
func (s Status) Terminal() bool {
	switch s {
	case StatusRemediated, StatusReview, StatusLogged, StatusFailed:
		return true
	}
	return false
}

// Outcome is the result of one action attempt.
type Outcome string

const (
	OutcomeExecuted Outcome = "executed"
	OutcomeRetried  Outcome = "retried"
	OutcomeFailed   Outcome = "failed"
	// OutcomeRecorded marks an action surfaced for human follow-up; no
	// collaborator was invoked.
	OutcomeRecorded Outcome = "recorded"
)

// ActionResult is one entry in an incident's append-only action log.
type ActionResult struct {
	Action  classify.Action `json:"action"`
	Outcome Outcome         `json:"outcome"`
	Attempt int             `json:"attempt"`
	At      time.Time       `json:"at"`
	Detail  string          `json:"detail,omitempty"`
}

// Incident is the aggregate produced by classification and mutated only by
// the dispatcher. Results is append-only; audit ordering matters.
type Incident struct {
	ID          string           `json:"id"`
	EventID     string           `json:"event_id"`
	SourceAddr  string           `json:"source_addr"`
	EventType   string           `json:"event_type"`
	Severity    classify.Severity `json:"severity"`
	Confidence  float64          `json:"confidence"`
	Status      Status           `json:"status"`
	AutoExecute bool             `json:"auto_execute"`
	Actions     []classify.Action `json:"actions"`
	Results     []ActionResult   `json:"results,omitempty"`
	CreatedAt   time.Time        `json:"created_at"`
	CompletedAt time.Time        `json:"completed_at,omitempty"`
}
