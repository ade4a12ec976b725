package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/linnemanlabs/warden/internal/batch"
	"github.com/linnemanlabs/warden/internal/fault"
)

type startBatchRequest struct {
	Operation string `json:"operation"`
	// endpoints may be listed explicitly, or generated fleet-wide from the
	// store count
	Endpoints      []batch.Endpoint `json:"endpoints,omitempty"`
	StoreCount     int              `json:"store_count,omitempty"`
	BatchSize      int              `json:"batch_size,omitempty"`
	MaxConcurrency int              `json:"max_concurrency,omitempty"`
}

func (a *API) handleStartBatch(w http.ResponseWriter, r *http.Request) {
	var req startBatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.writeFault(w, r, fault.New(fault.KindValidation, "invalid batch payload: %v", err))
		return
	}

	op, ok := a.operations[req.Operation]
	if !ok {
		a.writeFault(w, r, fault.New(fault.KindValidation, "unknown operation %q", req.Operation))
		return
	}

	endpoints := req.Endpoints
	if len(endpoints) == 0 && req.StoreCount > 0 {
		endpoints = batch.GenerateInventory(req.StoreCount)
	}
	batchSize := req.BatchSize
	if batchSize == 0 {
		batchSize = a.batchSize
	}
	maxConcurrency := req.MaxConcurrency
	if maxConcurrency == 0 {
		maxConcurrency = a.maxConcurrency
	}

	span := trace.SpanFromContext(r.Context())
	span.SetAttributes(
		attribute.String("batch.operation", req.Operation),
		attribute.Int("batch.total", len(endpoints)),
	)

	job, err := a.batches.Run(r.Context(), endpoints, op, batchSize, maxConcurrency)
	if err != nil {
		a.writeFault(w, r, err)
		return
	}
	span.SetAttributes(attribute.String("batch.id", job.ID))
	a.writeJSON(w, http.StatusAccepted, job)
}

func (a *API) handleListBatches(w http.ResponseWriter, r *http.Request) {
	jobs, err := a.batches.List(r.Context())
	if err != nil {
		a.writeFault(w, r, err)
		return
	}
	a.writeJSON(w, http.StatusOK, map[string]any{"batches": jobs, "count": len(jobs)})
}

// handleGetBatch serves live progress for a running job and the final record
// afterwards.
func (a *API) handleGetBatch(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	trace.SpanFromContext(r.Context()).SetAttributes(attribute.String("batch.id", id))

	if r.URL.Query().Get("progress") == "true" {
		p, ok, err := a.batches.Progress(r.Context(), id)
		if err != nil {
			a.writeFault(w, r, err)
			return
		}
		if !ok {
			a.writeFault(w, r, fault.New(fault.KindNotFound, "batch %q not found", id))
			return
		}
		a.writeJSON(w, http.StatusOK, p)
		return
	}

	job, ok, err := a.batches.Get(r.Context(), id)
	if err != nil {
		a.writeFault(w, r, err)
		return
	}
	if !ok {
		a.writeFault(w, r, fault.New(fault.KindNotFound, "batch %q not found", id))
		return
	}
	a.writeJSON(w, http.StatusOK, job)
}

func (a *API) handleCancelBatch(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	trace.SpanFromContext(r.Context()).SetAttributes(attribute.String("batch.id", id))

	if err := a.batches.Cancel(id); err != nil {
		a.writeFault(w, r, err)
		return
	}
	a.writeJSON(w, http.StatusAccepted, map[string]string{"status": "cancelling"})
}
