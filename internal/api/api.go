// Package api is the HTTP operation surface: event ingestion, incident
// reads, the policy ledger, drift runs, and bulk batches.
package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/go-core/xerrors"

	"github.com/linnemanlabs/warden/internal/batch"
	"github.com/linnemanlabs/warden/internal/drift"
	"github.com/linnemanlabs/warden/internal/event"
	"github.com/linnemanlabs/warden/internal/fault"
	"github.com/linnemanlabs/warden/internal/incident"
	"github.com/linnemanlabs/warden/internal/policy"
)

// IncidentService defines the incident operations the API needs.
type IncidentService interface {
	Submit(ctx context.Context, ev *event.SecurityEvent) (*incident.SubmitResult, error)
	Get(ctx context.Context, id string) (*incident.Incident, bool, error)
	ManualQueue(ctx context.Context) ([]*incident.Incident, error)
}

// PolicyService defines the ledger operations the API needs.
type PolicyService interface {
	Create(ctx context.Context, actor, id, name string, content json.RawMessage, draft bool) (*policy.Policy, error)
	Update(ctx context.Context, actor, policyID string, content json.RawMessage, breaking bool, note string) (*policy.Version, error)
	Rollback(ctx context.Context, actor, policyID, targetVersion string) (*policy.Version, error)
	Delete(ctx context.Context, actor, policyID string) error
	Get(ctx context.Context, id string) (*policy.Policy, bool, error)
	Versions(ctx context.Context, policyID string) ([]*policy.Version, error)
	Audit(ctx context.Context, policyID string) ([]*policy.AuditEntry, error)
}

// DriftService defines the drift operations the API needs.
type DriftService interface {
	Detect(ctx context.Context, nodeID string) (*drift.Report, error)
}

// BatchService defines the batch operations the API needs.
type BatchService interface {
	Run(ctx context.Context, endpoints []batch.Endpoint, op batch.Operation, batchSize, maxConcurrency int) (*batch.BatchJob, error)
	Get(ctx context.Context, id string) (*batch.BatchJob, bool, error)
	Progress(ctx context.Context, id string) (*batch.Progress, bool, error)
	List(ctx context.Context) ([]*batch.BatchJob, error)
	Cancel(id string) error
}

// API holds dependencies for HTTP handlers.
type API struct {
	logger    log.Logger
	incidents IncidentService
	policies  PolicyService
	drift     DriftService
	batches   BatchService
	// named bulk operations main wires against the integration clients
	operations map[string]batch.Operation
	// defaults applied when a batch request omits its own limits
	batchSize      int
	maxConcurrency int
}

// Option customizes an API.
type Option func(*API)

// WithBatchDefaults sets the chunk size and concurrency limit used for batch
// requests that do not specify their own.
func WithBatchDefaults(batchSize, maxConcurrency int) Option {
	return func(a *API) {
		a.batchSize = batchSize
		a.maxConcurrency = maxConcurrency
	}
}

// New creates a new API handler.
func New(logger log.Logger, incidents IncidentService, policies PolicyService, driftSvc DriftService, batches BatchService, operations map[string]batch.Operation, opts ...Option) *API {
	if logger == nil {
		logger = log.Nop()
	}
	if incidents == nil {
		panic(xerrors.New("incident service is required"))
	}
	if policies == nil {
		panic(xerrors.New("policy service is required"))
	}
	a := &API{
		logger:         logger,
		incidents:      incidents,
		policies:       policies,
		drift:          driftSvc,
		batches:        batches,
		operations:     operations,
		batchSize:      batch.DefaultBatchSize,
		maxConcurrency: batch.DefaultMaxConcurrency,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// RegisterRoutes attaches API endpoints to the router.
func (a *API) RegisterRoutes(r chi.Router) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/events", a.handleSubmitEvent)
		r.Get("/incidents/queue", a.handleManualQueue)
		r.Get("/incidents/{id}", a.handleGetIncident)

		r.Post("/policies", a.handleCreatePolicy)
		r.Get("/policies/{id}", a.handleGetPolicy)
		r.Delete("/policies/{id}", a.handleDeletePolicy)
		r.Post("/policies/{id}/versions", a.handleUpdatePolicy)
		r.Post("/policies/{id}/rollback", a.handleRollbackPolicy)
		r.Get("/policies/{id}/audit", a.handlePolicyAudit)

		if a.drift != nil {
			r.Post("/drift/{node}", a.handleDetectDrift)
		}
		if a.batches != nil {
			r.Post("/batches", a.handleStartBatch)
			r.Get("/batches", a.handleListBatches)
			r.Get("/batches/{id}", a.handleGetBatch)
			r.Delete("/batches/{id}", a.handleCancelBatch)
		}
	})
}

// actor resolves who is performing a ledger mutation for the audit trail.
func actor(r *http.Request) string {
	if a := r.Header.Get("X-Actor"); a != "" {
		return a
	}
	return "api"
}

func (a *API) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeFault maps the fault taxonomy onto HTTP status codes.
func (a *API) writeFault(w http.ResponseWriter, r *http.Request, err error) {
	var status int
	switch fault.KindOf(err) {
	case fault.KindValidation:
		status = http.StatusBadRequest
	case fault.KindNotFound:
		status = http.StatusNotFound
	case fault.KindConflict:
		status = http.StatusConflict
	case fault.KindUnavailable:
		status = http.StatusServiceUnavailable
	default:
		status = http.StatusInternalServerError
	}
	if status == http.StatusInternalServerError {
		a.logger.Error(r.Context(), err, "request failed", "path", r.URL.Path)
		a.writeJSON(w, status, map[string]string{"error": "internal error"})
		return
	}
	a.writeJSON(w, status, map[string]string{"error": err.Error()})
}
