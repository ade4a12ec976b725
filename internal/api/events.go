package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/linnemanlabs/warden/internal/event"
	"github.com/linnemanlabs/warden/internal/fault"
)

type submitResponse struct {
	IncidentID string `json:"incident_id,omitempty"`
	Queued     bool   `json:"queued,omitempty"`
	Duplicate  bool   `json:"duplicate,omitempty"`
	Reason     string `json:"reason,omitempty"`
}

// handleSubmitEvent ingests one security event. Accepted events respond 202
// with the incident ID; remediation runs asynchronously.
func (a *API) handleSubmitEvent(w http.ResponseWriter, r *http.Request) {
	var ev event.SecurityEvent
	if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
		a.writeFault(w, r, fault.New(fault.KindValidation, "invalid event payload: %v", err))
		return
	}

	span := trace.SpanFromContext(r.Context())
	span.SetAttributes(
		attribute.String("event.id", ev.ID),
		attribute.String("event.type", ev.Type),
	)

	res, err := a.incidents.Submit(r.Context(), &ev)
	if err != nil {
		a.writeFault(w, r, err)
		return
	}

	resp := submitResponse{
		IncidentID: res.IncidentID,
		Queued:     res.Queued,
		Duplicate:  res.Skipped,
		Reason:     res.Reason,
	}
	a.writeJSON(w, http.StatusAccepted, resp)
}

func (a *API) handleGetIncident(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	trace.SpanFromContext(r.Context()).SetAttributes(attribute.String("incident.id", id))

	inc, ok, err := a.incidents.Get(r.Context(), id)
	if err != nil {
		a.writeFault(w, r, err)
		return
	}
	if !ok {
		a.writeFault(w, r, fault.New(fault.KindNotFound, "incident %q not found", id))
		return
	}
	a.writeJSON(w, http.StatusOK, inc)
}

// handleManualQueue lists incidents whose automated remediation failed and
// now need a human.
func (a *API) handleManualQueue(w http.ResponseWriter, r *http.Request) {
	queue, err := a.incidents.ManualQueue(r.Context())
	if err != nil {
		a.writeFault(w, r, err)
		return
	}
	a.writeJSON(w, http.StatusOK, map[string]any{"incidents": queue, "count": len(queue)})
}
