package incident

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/warden/internal/classify"
	"github.com/linnemanlabs/warden/internal/fault"
	"github.com/linnemanlabs/warden/internal/integration"
)

// mockExecutor returns scripted errors per action, in call order.
type mockExecutor struct {
	mu    sync.Mutex
	errs  map[classify.Action][]error // consumed one per call; nil entry = success
	calls []classify.Action
}

func newMockExecutor() *mockExecutor {
	return &mockExecutor{errs: make(map[classify.Action][]error)}
}

func (m *mockExecutor) fail(action classify.Action, errs ...error) {
	m.errs[action] = append(m.errs[action], errs...)
}

func (m *mockExecutor) Execute(_ context.Context, action classify.Action, _ integration.Target) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, action)
	queue := m.errs[action]
	if len(queue) == 0 {
		return nil
	}
	err := queue[0]
	m.errs[action] = queue[1:]
	return err
}

func (m *mockExecutor) callCount(action classify.Action) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, a := range m.calls {
		if a == action {
			n++
		}
	}
	return n
}

// mockStore implements Store for testing.
type mockStore struct {
	mu        sync.Mutex
	incidents map[string]*Incident
	byEvent   map[string]string
	putErr    error
	puts      int
}

func newMockStore() *mockStore {
	return &mockStore{
		incidents: make(map[string]*Incident),
		byEvent:   make(map[string]string),
	}
}

func (m *mockStore) Get(_ context.Context, id string) (*Incident, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	inc, ok := m.incidents[id]
	if !ok {
		return nil, false, nil
	}
	cp := *inc
	cp.Results = append([]ActionResult(nil), inc.Results...)
	return &cp, true, nil
}

func (m *mockStore) GetByEvent(_ context.Context, eventID string) (*Incident, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.byEvent[eventID]
	if !ok {
		return nil, false, nil
	}
	cp := *m.incidents[id]
	return &cp, true, nil
}

func (m *mockStore) Put(_ context.Context, inc *Incident) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.putErr != nil {
		return m.putErr
	}
	m.puts++
	cp := *inc
	cp.Results = append([]ActionResult(nil), inc.Results...)
	m.incidents[inc.ID] = &cp
	m.byEvent[inc.EventID] = inc.ID
	return nil
}

func (m *mockStore) ListByStatus(_ context.Context, status Status) ([]*Incident, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Incident
	for _, inc := range m.incidents {
		if inc.Status == status {
			cp := *inc
			out = append(out, &cp)
		}
	}
	return out, nil
}

func criticalIncident() *Incident {
	return &Incident{
		ID:          "inc-1",
		EventID:     "ev-1",
		SourceAddr:  "10.1.24.156",
		EventType:   "data_exfiltration",
		Severity:    classify.SeverityCritical,
		Confidence:  0.97,
		Status:      StatusNew,
		AutoExecute: true,
		Actions: []classify.Action{
			classify.ActionQuarantineDevice,
			classify.ActionQuarantineArtifact,
			classify.ActionAlertSOC,
		},
		CreatedAt: time.Now(),
	}
}

func registryFor(ex integration.Executor) *integration.Registry {
	r := integration.NewRegistry()
	r.Register(ex,
		classify.ActionQuarantineDevice,
		classify.ActionQuarantineArtifact,
		classify.ActionAlertSOC,
		classify.ActionIsolateVLAN,
		classify.ActionNotifyTeam,
	)
	return r
}

func fastDispatcher(reg *integration.Registry, store Store) *Dispatcher {
	return NewDispatcher(reg, store, log.Nop(), DispatchHooks{},
		WithBaseDelay(time.Millisecond),
		WithCallTimeout(time.Second),
	)
}

func TestDispatch_AllActionsSucceed(t *testing.T) {
	t.Parallel()

	ex := newMockExecutor()
	store := newMockStore()
	d := fastDispatcher(registryFor(ex), store)

	got, err := d.Dispatch(context.Background(), criticalIncident())
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if got.Status != StatusRemediated {
		t.Errorf("status = %q, want %q", got.Status, StatusRemediated)
	}
	if len(got.Results) != 3 {
		t.Fatalf("results = %d, want 3", len(got.Results))
	}
	for i, r := range got.Results {
		if r.Outcome != OutcomeExecuted {
			t.Errorf("result %d outcome = %q, want executed", i, r.Outcome)
		}
		if r.Attempt != 1 {
			t.Errorf("result %d attempt = %d, want 1", i, r.Attempt)
		}
	}
	if got.CompletedAt.IsZero() {
		t.Error("expected CompletedAt to be set")
	}
}

func TestDispatch_PriorityOrder(t *testing.T) {
	t.Parallel()

	ex := newMockExecutor()
	store := newMockStore()
	d := fastDispatcher(registryFor(ex), store)

	inc := criticalIncident()
	// deliberately scrambled
	inc.Actions = []classify.Action{
		classify.ActionAlertSOC,
		classify.ActionQuarantineDevice,
		classify.ActionQuarantineArtifact,
	}

	if _, err := d.Dispatch(context.Background(), inc); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}

	want := []classify.Action{
		classify.ActionQuarantineDevice,
		classify.ActionQuarantineArtifact,
		classify.ActionAlertSOC,
	}
	for i, a := range want {
		if ex.calls[i] != a {
			t.Errorf("call %d = %q, want %q", i, ex.calls[i], a)
		}
	}
}

func TestDispatch_TransientRetriedThenSucceeds(t *testing.T) {
	t.Parallel()

	ex := newMockExecutor()
	ex.fail(classify.ActionQuarantineDevice,
		fault.New(fault.KindTransient, "timeout"),
		fault.New(fault.KindTransient, "timeout"),
	)
	store := newMockStore()
	d := fastDispatcher(registryFor(ex), store)

	got, err := d.Dispatch(context.Background(), criticalIncident())
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if got.Status != StatusRemediated {
		t.Fatalf("status = %q, want remediated", got.Status)
	}

	// first action: two retried entries then one executed on attempt 3
	if got.Results[0].Outcome != OutcomeRetried || got.Results[0].Attempt != 1 {
		t.Errorf("result 0 = %+v, want retried attempt 1", got.Results[0])
	}
	if got.Results[1].Outcome != OutcomeRetried || got.Results[1].Attempt != 2 {
		t.Errorf("result 1 = %+v, want retried attempt 2", got.Results[1])
	}
	if got.Results[2].Action != classify.ActionQuarantineDevice ||
		got.Results[2].Outcome != OutcomeExecuted || got.Results[2].Attempt != 3 {
		t.Errorf("result 2 = %+v, want quarantine executed attempt 3", got.Results[2])
	}
	if n := ex.callCount(classify.ActionQuarantineDevice); n != 3 {
		t.Errorf("quarantine calls = %d, want 3", n)
	}
}

func TestDispatch_PermanentFailureNotRetried(t *testing.T) {
	t.Parallel()

	ex := newMockExecutor()
	ex.fail(classify.ActionQuarantineDevice, fault.New(fault.KindPermanent, "rejected by platform"))
	store := newMockStore()
	d := fastDispatcher(registryFor(ex), store)

	got, err := d.Dispatch(context.Background(), criticalIncident())
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if got.Status != StatusFailed {
		t.Errorf("status = %q, want failed", got.Status)
	}
	if n := ex.callCount(classify.ActionQuarantineDevice); n != 1 {
		t.Errorf("quarantine calls = %d, want 1 (no retry on permanent)", n)
	}
	// later actions must not run once an earlier one fails
	if n := ex.callCount(classify.ActionAlertSOC); n != 0 {
		t.Errorf("alert_soc calls = %d, want 0", n)
	}
	last := got.Results[len(got.Results)-1]
	if last.Outcome != OutcomeFailed {
		t.Errorf("last outcome = %q, want failed", last.Outcome)
	}
}

func TestDispatch_RetriesExhausted(t *testing.T) {
	t.Parallel()

	ex := newMockExecutor()
	for i := 0; i < DefaultMaxAttempts; i++ {
		ex.fail(classify.ActionQuarantineDevice, fault.New(fault.KindTransient, "still down"))
	}
	store := newMockStore()
	d := fastDispatcher(registryFor(ex), store)

	got, err := d.Dispatch(context.Background(), criticalIncident())
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if got.Status != StatusFailed {
		t.Errorf("status = %q, want failed", got.Status)
	}
	if n := ex.callCount(classify.ActionQuarantineDevice); n != DefaultMaxAttempts {
		t.Errorf("calls = %d, want %d", n, DefaultMaxAttempts)
	}

	var retried, failed int
	for _, r := range got.Results {
		switch r.Outcome {
		case OutcomeRetried:
			retried++
		case OutcomeFailed:
			failed++
		}
	}
	if retried != DefaultMaxAttempts-1 {
		t.Errorf("retried results = %d, want %d", retried, DefaultMaxAttempts-1)
	}
	if failed != 1 {
		t.Errorf("failed results = %d, want 1", failed)
	}
}

func TestDispatch_IdempotentOnTerminal(t *testing.T) {
	t.Parallel()

	ex := newMockExecutor()
	store := newMockStore()
	d := fastDispatcher(registryFor(ex), store)

	inc := criticalIncident()
	first, err := d.Dispatch(context.Background(), inc)
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	callsAfterFirst := len(ex.calls)

	second, err := d.Dispatch(context.Background(), first)
	if err != nil {
		t.Fatalf("re-Dispatch: %v", err)
	}
	if second.Status != first.Status {
		t.Errorf("status changed on re-dispatch: %q -> %q", first.Status, second.Status)
	}
	if len(second.Results) != len(first.Results) {
		t.Errorf("results grew on re-dispatch: %d -> %d", len(first.Results), len(second.Results))
	}
	if len(ex.calls) != callsAfterFirst {
		t.Errorf("re-dispatch invoked collaborators (%d -> %d calls)", callsAfterFirst, len(ex.calls))
	}
}

func TestDispatch_MediumSurfacedForReview(t *testing.T) {
	t.Parallel()

	ex := newMockExecutor()
	store := newMockStore()
	d := fastDispatcher(registryFor(ex), store)

	inc := &Incident{
		ID:         "inc-med",
		EventID:    "ev-med",
		SourceAddr: "10.1.32.78",
		EventType:  "suspicious_transfer",
		Severity:   classify.SeverityMedium,
		Status:     StatusNew,
		Actions:    []classify.Action{classify.ActionCreateAlert},
	}

	got, err := d.Dispatch(context.Background(), inc)
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if got.Status != StatusReview {
		t.Errorf("status = %q, want review", got.Status)
	}
	if len(ex.calls) != 0 {
		t.Errorf("medium incident reached collaborators: %v", ex.calls)
	}
	if len(got.Results) != 1 {
		t.Fatalf("results = %d, want 1", len(got.Results))
	}
	if got.Results[0].Outcome != OutcomeRecorded {
		t.Errorf("outcome = %q, want recorded", got.Results[0].Outcome)
	}
}

func TestDispatch_LowLogged(t *testing.T) {
	t.Parallel()

	ex := newMockExecutor()
	store := newMockStore()
	d := fastDispatcher(registryFor(ex), store)

	inc := &Incident{
		ID:         "inc-low",
		EventID:    "ev-low",
		SourceAddr: "10.1.45.23",
		EventType:  "policy_warning",
		Severity:   classify.SeverityLow,
		Status:     StatusNew,
		Actions:    []classify.Action{classify.ActionLogIncident},
	}

	got, err := d.Dispatch(context.Background(), inc)
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if got.Status != StatusLogged {
		t.Errorf("status = %q, want logged", got.Status)
	}
	if len(ex.calls) != 0 {
		t.Errorf("low incident reached collaborators: %v", ex.calls)
	}
	for _, res := range got.Results {
		if res.Outcome != OutcomeRecorded {
			t.Errorf("outcome for %s = %q, want recorded", res.Action, res.Outcome)
		}
	}
}

func TestDispatch_MissingExecutorFailsAction(t *testing.T) {
	t.Parallel()

	store := newMockStore()
	d := fastDispatcher(integration.NewRegistry(), store) // nothing registered

	got, err := d.Dispatch(context.Background(), criticalIncident())
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if got.Status != StatusFailed {
		t.Errorf("status = %q, want failed", got.Status)
	}
}

func TestDispatch_TimeoutIsTransient(t *testing.T) {
	t.Parallel()

	store := newMockStore()
	var calls int
	var mu sync.Mutex
	slow := integration.ExecutorFunc(func(ctx context.Context, _ classify.Action, _ integration.Target) error {
		mu.Lock()
		calls++
		n := calls
		mu.Unlock()
		if n == 1 {
			<-ctx.Done() // blow the per-call timeout once
			return ctx.Err()
		}
		return nil
	})
	reg := integration.NewRegistry()
	reg.Register(slow, classify.ActionIsolateVLAN)

	d := NewDispatcher(reg, store, log.Nop(), DispatchHooks{},
		WithBaseDelay(time.Millisecond),
		WithCallTimeout(20*time.Millisecond),
	)

	inc := &Incident{
		ID:          "inc-slow",
		EventID:     "ev-slow",
		SourceAddr:  "10.1.18.92",
		EventType:   "policy_violation",
		Severity:    classify.SeverityHigh,
		Status:      StatusNew,
		AutoExecute: true,
		Actions:     []classify.Action{classify.ActionIsolateVLAN},
	}

	got, err := d.Dispatch(context.Background(), inc)
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if got.Status != StatusRemediated {
		t.Errorf("status = %q, want remediated after timed-out call retried", got.Status)
	}
	mu.Lock()
	defer mu.Unlock()
	if calls != 2 {
		t.Errorf("calls = %d, want 2", calls)
	}
}
