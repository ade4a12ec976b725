package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// handleDetectDrift runs one drift check against the node's baseline and
// returns the full report, including any auto-remediation outcome.
func (a *API) handleDetectDrift(w http.ResponseWriter, r *http.Request) {
	node := chi.URLParam(r, "node")
	trace.SpanFromContext(r.Context()).SetAttributes(attribute.String("drift.node_id", node))

	report, err := a.drift.Detect(r.Context(), node)
	if err != nil {
		a.writeFault(w, r, err)
		return
	}
	a.writeJSON(w, http.StatusOK, report)
}
