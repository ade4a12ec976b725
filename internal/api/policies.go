package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/linnemanlabs/warden/internal/fault"
)

type createPolicyRequest struct {
	ID      string          `json:"id"`
	Name    string          `json:"name"`
	Content json.RawMessage `json:"content"`
	Draft   bool            `json:"draft,omitempty"`
}

type updatePolicyRequest struct {
	Content  json.RawMessage `json:"content"`
	Breaking bool            `json:"breaking"`
	Note     string          `json:"note"`
}

type rollbackPolicyRequest struct {
	TargetVersion string `json:"target_version"`
}

func (a *API) handleCreatePolicy(w http.ResponseWriter, r *http.Request) {
	var req createPolicyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.writeFault(w, r, fault.New(fault.KindValidation, "invalid policy payload: %v", err))
		return
	}
	trace.SpanFromContext(r.Context()).SetAttributes(attribute.String("policy.id", req.ID))

	p, err := a.policies.Create(r.Context(), actor(r), req.ID, req.Name, req.Content, req.Draft)
	if err != nil {
		a.writeFault(w, r, err)
		return
	}
	a.writeJSON(w, http.StatusCreated, p)
}

func (a *API) handleUpdatePolicy(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req updatePolicyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.writeFault(w, r, fault.New(fault.KindValidation, "invalid version payload: %v", err))
		return
	}
	trace.SpanFromContext(r.Context()).SetAttributes(attribute.String("policy.id", id))

	v, err := a.policies.Update(r.Context(), actor(r), id, req.Content, req.Breaking, req.Note)
	if err != nil {
		a.writeFault(w, r, err)
		return
	}
	a.writeJSON(w, http.StatusCreated, v)
}

func (a *API) handleRollbackPolicy(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req rollbackPolicyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.writeFault(w, r, fault.New(fault.KindValidation, "invalid rollback payload: %v", err))
		return
	}
	if req.TargetVersion == "" {
		a.writeFault(w, r, fault.New(fault.KindValidation, "target_version is required"))
		return
	}
	trace.SpanFromContext(r.Context()).SetAttributes(
		attribute.String("policy.id", id),
		attribute.String("policy.rollback_target", req.TargetVersion),
	)

	v, err := a.policies.Rollback(r.Context(), actor(r), id, req.TargetVersion)
	if err != nil {
		a.writeFault(w, r, err)
		return
	}
	a.writeJSON(w, http.StatusCreated, v)
}

func (a *API) handleDeletePolicy(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	trace.SpanFromContext(r.Context()).SetAttributes(attribute.String("policy.id", id))

	if err := a.policies.Delete(r.Context(), actor(r), id); err != nil {
		a.writeFault(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleGetPolicy returns the policy head; ?versions=true includes the full
// version chain.
func (a *API) handleGetPolicy(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	trace.SpanFromContext(r.Context()).SetAttributes(attribute.String("policy.id", id))

	p, ok, err := a.policies.Get(r.Context(), id)
	if err != nil {
		a.writeFault(w, r, err)
		return
	}
	if !ok {
		a.writeFault(w, r, fault.New(fault.KindNotFound, "policy %q not found", id))
		return
	}

	if r.URL.Query().Get("versions") != "true" {
		a.writeJSON(w, http.StatusOK, p)
		return
	}
	chain, err := a.policies.Versions(r.Context(), id)
	if err != nil {
		a.writeFault(w, r, err)
		return
	}
	a.writeJSON(w, http.StatusOK, map[string]any{"policy": p, "versions": chain})
}

func (a *API) handlePolicyAudit(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	trace.SpanFromContext(r.Context()).SetAttributes(attribute.String("policy.id", id))

	if _, ok, err := a.policies.Get(r.Context(), id); err != nil {
		a.writeFault(w, r, err)
		return
	} else if !ok {
		a.writeFault(w, r, fault.New(fault.KindNotFound, "policy %q not found", id))
		return
	}

	trail, err := a.policies.Audit(r.Context(), id)
	if err != nil {
		a.writeFault(w, r, err)
		return
	}
	a.writeJSON(w, http.StatusOK, map[string]any{"audit": trail, "count": len(trail)})
}
