// Package event defines the security telemetry record consumed by the
// remediation engine. Events are immutable once created; the engine only
// reads them.
package event

import (
	"encoding/json"
	"net"
	"time"

	"github.com/linnemanlabs/warden/internal/fault"
)

// SecurityEvent is a single scored connection/event record from the
// telemetry pipeline.
type SecurityEvent struct {
	ID         string          `json:"id"`
	Timestamp  time.Time       `json:"timestamp"`
	SourceAddr string          `json:"source_addr"`
	Type       string          `json:"type"`
	Confidence *float64        `json:"confidence,omitempty"` // nil = not yet scored
	Features   json.RawMessage `json:"features,omitempty"`   // opaque model feature vector
}

// Validate checks structural invariants. A present confidence must lie in
// [0,1]; range enforcement for classification happens again at classify time
// so a scored-later event gets the same check.
func (e *SecurityEvent) Validate() error {
	if e.ID == "" {
		return fault.New(fault.KindValidation, "event id is required")
	}
	if e.SourceAddr == "" {
		return fault.New(fault.KindValidation, "event source address is required")
	}
	if net.ParseIP(e.SourceAddr) == nil {
		return fault.New(fault.KindValidation, "event source address %q is not a valid IP", e.SourceAddr)
	}
	if e.Type == "" {
		return fault.New(fault.KindValidation, "event type is required")
	}
	if e.Confidence != nil && (*e.Confidence < 0 || *e.Confidence > 1) {
		return fault.New(fault.KindValidation, "confidence %v outside [0,1]", *e.Confidence)
	}
	return nil
}

// Scored reports whether the event already carries a model confidence.
func (e *SecurityEvent) Scored() bool { return e.Confidence != nil }
