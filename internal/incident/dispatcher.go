package incident

import (
	"context"
	"time"

	"github.com/avast/retry-go/v5"
	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/warden/internal/classify"
	"github.com/linnemanlabs/warden/internal/fault"
	"github.com/linnemanlabs/warden/internal/integration"
)

const (
	// DefaultMaxAttempts bounds attempts per action, first try included.
	DefaultMaxAttempts = 4

	// DefaultBaseDelay seeds the exponential backoff between attempts.
	DefaultBaseDelay = 500 * time.Millisecond

	// DefaultCallTimeout bounds a single collaborator call. A timed-out call
	// is a transient failure, subject to retry.
	DefaultCallTimeout = 10 * time.Second
)

// DispatchHooks receives dispatch lifecycle callbacks, wired to metrics by main.
type DispatchHooks struct {
	OnAction   func(action classify.Action, outcome Outcome, attempts int)
	OnComplete func(inc *Incident, duration float64)
}

// Dispatcher executes an incident's action set against the integration
// registry, in fixed priority order, recording every outcome.
type Dispatcher struct {
	registry    *integration.Registry
	store       Store
	logger      log.Logger
	hooks       DispatchHooks
	maxAttempts uint
	baseDelay   time.Duration
	callTimeout time.Duration
}

// DispatcherOption customizes retry behavior.
type DispatcherOption func(*Dispatcher)

// WithMaxAttempts sets the per-action attempt cap.
func WithMaxAttempts(n uint) DispatcherOption {
	return func(d *Dispatcher) { d.maxAttempts = n }
}

// WithBaseDelay sets the initial backoff delay.
func WithBaseDelay(delay time.Duration) DispatcherOption {
	return func(d *Dispatcher) { d.baseDelay = delay }
}

// WithCallTimeout sets the per-collaborator-call timeout.
func WithCallTimeout(timeout time.Duration) DispatcherOption {
	return func(d *Dispatcher) { d.callTimeout = timeout }
}

// NewDispatcher creates a dispatcher over the given action registry and store.
func NewDispatcher(registry *integration.Registry, store Store, logger log.Logger, hooks DispatchHooks, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		registry:    registry,
		store:       store,
		logger:      logger,
		hooks:       hooks,
		maxAttempts: DefaultMaxAttempts,
		baseDelay:   DefaultBaseDelay,
		callTimeout: DefaultCallTimeout,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Dispatch runs the incident's actions and drives it to a terminal status.
// Dispatching an already-terminal incident is a no-op that returns the
// existing state without touching any collaborator.
func (d *Dispatcher) Dispatch(ctx context.Context, inc *Incident) (*Incident, error) {
	if inc.Status.Terminal() {
		return inc, nil
	}

	start := time.Now()
	L := d.logger.With("incident_id", inc.ID, "severity", inc.Severity, "source", inc.SourceAddr)

	inc.Status = StatusDispatching
	if err := d.store.Put(ctx, inc); err != nil {
		return nil, err
	}

	if !inc.AutoExecute {
		return d.surface(ctx, L, inc, start)
	}

	for _, action := range classify.SortActions(inc.Actions) {
		ok, err := d.runAction(ctx, L, inc, action)
		if err != nil {
			return nil, err // store failure, state not durable
		}
		if !ok {
			// retries exhausted or permanent rejection: the incident goes to
			// the manual-intervention queue, remaining actions are not run
			inc.Status = StatusFailed
			inc.CompletedAt = time.Now()
			if err := d.store.Put(ctx, inc); err != nil {
				return nil, err
			}
			d.complete(inc, start)
			L.Warn(ctx, "incident dispatch failed, queued for manual intervention", "action", action)
			return inc, nil
		}
	}

	inc.Status = StatusRemediated
	inc.CompletedAt = time.Now()
	if err := d.store.Put(ctx, inc); err != nil {
		return nil, err
	}
	d.complete(inc, start)
	L.Info(ctx, "incident remediated", "actions", len(inc.Actions), "results", len(inc.Results))
	return inc, nil
}

// surface handles tiers that are recorded but never auto-executed: low goes
// straight to the log, medium is parked for human review.
func (d *Dispatcher) surface(ctx context.Context, L log.Logger, inc *Incident, start time.Time) (*Incident, error) {
	for _, action := range classify.SortActions(inc.Actions) {
		d.record(inc, action, OutcomeRecorded, 1, "")
	}

	if inc.Severity == classify.SeverityLow {
		inc.Status = StatusLogged
	} else {
		inc.Status = StatusReview
	}
	inc.CompletedAt = time.Now()
	if err := d.store.Put(ctx, inc); err != nil {
		return nil, err
	}
	d.complete(inc, start)
	L.Info(ctx, "incident surfaced for follow-up", "status", inc.Status)
	return inc, nil
}

// runAction executes a single action with retry/backoff. Returns whether the
// action ultimately succeeded; the error return is reserved for store
// failures, which must abort the whole dispatch.
func (d *Dispatcher) runAction(ctx context.Context, L log.Logger, inc *Incident, action classify.Action) (bool, error) {
	ex, ok := d.registry.Get(action)
	if !ok {
		d.record(inc, action, OutcomeFailed, 1, "no executor registered")
		if err := d.store.Put(ctx, inc); err != nil {
			return false, err
		}
		L.Error(ctx, fault.New(fault.KindValidation, "no executor for %q", action), "action not executable", "action", action)
		return false, nil
	}

	target := integration.Target{
		SourceAddr: inc.SourceAddr,
		IncidentID: inc.ID,
		EventType:  inc.EventType,
	}

	attempts := 0
	r := retry.New(
		retry.Context(ctx),
		retry.Attempts(d.maxAttempts),
		retry.Delay(d.baseDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(fault.Retryable),
		retry.OnRetry(func(n uint, err error) {
			// record the failed attempt before the next one runs; audit
			// ordering requires outcomes to land in sequence
			d.record(inc, action, OutcomeRetried, int(n)+1, err.Error())
			if putErr := d.store.Put(context.WithoutCancel(ctx), inc); putErr != nil {
				L.Error(ctx, putErr, "failed to persist retry record", "action", action)
			}
			L.Warn(ctx, "action attempt failed, retrying", "action", action, "attempt", n+1, "error", err.Error())
		}),
	)

	err := r.Do(func() error {
		attempts++
		callCtx, cancel := context.WithTimeout(ctx, d.callTimeout)
		defer cancel()
		callErr := ex.Execute(callCtx, action, target)
		if callCtx.Err() != nil && callErr != nil {
			// a timed-out call counts as transient, not permanent
			return fault.Wrap(fault.KindTransient, callErr)
		}
		return callErr
	})
	if err != nil {
		d.record(inc, action, OutcomeFailed, attempts, err.Error())
		if putErr := d.store.Put(ctx, inc); putErr != nil {
			return false, putErr
		}
		L.Error(ctx, err, "action failed", "action", action, "attempts", attempts, "kind", fault.KindOf(err))
		return false, nil
	}

	d.record(inc, action, OutcomeExecuted, attempts, "")
	if err := d.store.Put(ctx, inc); err != nil {
		return false, err
	}
	L.Info(ctx, "action executed", "action", action, "attempts", attempts)
	return true, nil
}

func (d *Dispatcher) record(inc *Incident, action classify.Action, outcome Outcome, attempt int, detail string) {
	inc.Results = append(inc.Results, ActionResult{
		Action:  action,
		Outcome: outcome,
		Attempt: attempt,
		At:      time.Now(),
		Detail:  detail,
	})
	if d.hooks.OnAction != nil {
		d.hooks.OnAction(action, outcome, attempt)
	}
}

func (d *Dispatcher) complete(inc *Incident, start time.Time) {
	if d.hooks.OnComplete != nil {
		d.hooks.OnComplete(inc, time.Since(start).Seconds())
	}
}
