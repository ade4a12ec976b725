package incident

import (
	"context"
	"sync"
	"time"

	"github.com/linnemanlabs/go-core/log"
	"github.com/oklog/ulid/v2"

	"github.com/linnemanlabs/warden/internal/classify"
	"github.com/linnemanlabs/warden/internal/event"
	"github.com/linnemanlabs/warden/internal/fault"
	"github.com/linnemanlabs/warden/internal/score"
)

// SubmitResult is the outcome of submitting an event for response.
type SubmitResult struct {
	IncidentID string
	Skipped    bool
	Queued     bool
	Reason     string
}

// Notifier surfaces failed incidents to the manual-intervention channel.
type Notifier interface {
	Escalate(ctx context.Context, inc *Incident) error
}

// Service is the business boundary for incident response: scoring,
// classification, and asynchronous dispatch.
type Service struct {
	store      Store
	table      *classify.Table
	dispatcher *Dispatcher
	scorer     score.Scorer
	notifier   Notifier
	logger     log.Logger
	metrics    *Metrics

	mu      sync.Mutex
	pending []*event.SecurityEvent // events waiting for the scoring model
}

// NewService creates an incident service. notifier may be nil.
func NewService(store Store, table *classify.Table, dispatcher *Dispatcher, scorer score.Scorer, logger log.Logger, metrics *Metrics, notifier Notifier) *Service {
	return &Service{
		store:      store,
		table:      table,
		dispatcher: dispatcher,
		scorer:     scorer,
		notifier:   notifier,
		logger:     logger,
		metrics:    metrics,
	}
}

// Submit classifies an event and kicks off dispatch. Events already tied to
// an incident are deduplicated; unscored events are sent to the scoring
// model first, and queued if the model is unavailable.
func (s *Service) Submit(ctx context.Context, ev *event.SecurityEvent) (*SubmitResult, error) {
	if err := ev.Validate(); err != nil {
		s.count("rejected")
		return nil, err
	}

	// dedup: one incident per event id
	if existing, ok, err := s.store.GetByEvent(ctx, ev.ID); err != nil {
		return nil, err
	} else if ok {
		s.count("duplicate")
		return &SubmitResult{IncidentID: existing.ID, Skipped: true, Reason: "duplicate"}, nil
	}

	confidence, queued, err := s.confidence(ctx, ev)
	if err != nil {
		return nil, err
	}
	if queued {
		s.count("queued")
		return &SubmitResult{Queued: true, Reason: "scoring unavailable"}, nil
	}

	tier, err := s.table.Classify(confidence)
	if err != nil {
		s.count("rejected")
		return nil, err
	}

	inc := &Incident{
		ID:          ulid.Make().String(),
		EventID:     ev.ID,
		SourceAddr:  ev.SourceAddr,
		EventType:   ev.Type,
		Severity:    tier.Severity,
		Confidence:  confidence,
		Status:      StatusNew,
		AutoExecute: tier.AutoExecute,
		Actions:     tier.Actions,
		CreatedAt:   time.Now(),
	}

	if err := s.store.Put(ctx, inc); err != nil {
		return nil, err
	}
	s.count("accepted")

	// async dispatch - pass only the ID to avoid sharing the Incident pointer.
	go s.run(context.WithoutCancel(ctx), inc.ID)

	return &SubmitResult{IncidentID: inc.ID}, nil
}

// Get retrieves an incident by ID.
func (s *Service) Get(ctx context.Context, id string) (*Incident, bool, error) {
	return s.store.Get(ctx, id)
}

// ManualQueue lists incidents awaiting manual intervention.
func (s *Service) ManualQueue(ctx context.Context) ([]*Incident, error) {
	return s.store.ListByStatus(ctx, StatusFailed)
}

// PendingEvents reports how many events are queued for scoring.
func (s *Service) PendingEvents() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// DrainPending re-submits queued events whose scoring previously failed.
// Events that still cannot be scored go back on the queue.
func (s *Service) DrainPending(ctx context.Context) {
	s.mu.Lock()
	batch := s.pending
	s.pending = nil
	s.mu.Unlock()

	for _, ev := range batch {
		if _, err := s.Submit(ctx, ev); err != nil {
			s.logger.Error(ctx, err, "requeued event submit failed", "event_id", ev.ID)
		}
	}
	s.gaugePending()
}

// RunPendingLoop drains the scoring queue on an interval until ctx is done.
func (s *Service) RunPendingLoop(ctx context.Context, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			s.DrainPending(ctx)
		}
	}
}

// confidence resolves the event's score, consulting the model for unscored
// events. Returns queued=true when the model is unavailable.
func (s *Service) confidence(ctx context.Context, ev *event.SecurityEvent) (float64, bool, error) {
	if ev.Scored() {
		return *ev.Confidence, false, nil
	}
	if s.scorer == nil {
		return 0, false, fault.New(fault.KindValidation, "event %s has no confidence and no scorer is configured", ev.ID)
	}

	c, err := s.scorer.Score(ctx, ev)
	if err != nil {
		if fault.Is(err, fault.KindUnavailable) {
			s.enqueue(ev)
			s.logger.Warn(ctx, "scoring unavailable, event queued", "event_id", ev.ID, "pending", s.PendingEvents())
			return 0, true, nil
		}
		return 0, false, err
	}
	return c, false, nil
}

func (s *Service) enqueue(ev *event.SecurityEvent) {
	s.mu.Lock()
	s.pending = append(s.pending, ev)
	s.mu.Unlock()
	s.gaugePending()
}

func (s *Service) run(ctx context.Context, id string) {
	L := s.logger.With("incident_id", id)

	inc, ok, err := s.store.Get(ctx, id)
	if err != nil || !ok {
		L.Error(ctx, err, "failed to fetch incident for dispatch")
		return
	}

	done, err := s.dispatcher.Dispatch(ctx, inc)
	if err != nil {
		L.Error(ctx, err, "dispatch aborted")
		return
	}

	if done.Status == StatusFailed && s.notifier != nil {
		if err := s.notifier.Escalate(ctx, done); err != nil {
			L.Error(ctx, err, "failed to escalate incident")
		}
	}

	L.Info(ctx, "incident dispatch finished",
		"status", done.Status,
		"actions", len(done.Actions),
		"results", len(done.Results),
	)
}

func (s *Service) count(result string) {
	if s.metrics != nil {
		s.metrics.SubmitsTotal.WithLabelValues(result).Inc()
	}
}

func (s *Service) gaugePending() {
	if s.metrics != nil {
		s.metrics.PendingEvents.Set(float64(s.PendingEvents()))
	}
}
