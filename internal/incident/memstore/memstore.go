// Package memstore provides an in-memory implementation of incident.Store.
package memstore

import (
	"context"
	"sync"

	"github.com/linnemanlabs/warden/internal/classify"
	"github.com/linnemanlabs/warden/internal/incident"
)

// Store holds incidents in memory. Suitable for dev/testing.
type Store struct {
	mu        sync.RWMutex
	incidents map[string]*incident.Incident // incident ID -> incident
	byEvent   map[string]string             // event ID -> incident ID (dedup)
}

// New initializes a new in-memory Store.
func New() *Store {
	return &Store{
		incidents: make(map[string]*incident.Incident),
		byEvent:   make(map[string]string),
	}
}

// Get retrieves an incident by its ID. Returns a copy.
func (s *Store) Get(_ context.Context, id string) (*incident.Incident, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	inc, ok := s.incidents[id]
	if !ok {
		return nil, false, nil
	}
	return copyIncident(inc), true, nil
}

// GetByEvent retrieves the incident created for an event ID, for deduplication.
func (s *Store) GetByEvent(_ context.Context, eventID string) (*incident.Incident, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byEvent[eventID]
	if !ok {
		return nil, false, nil
	}
	return copyIncident(s.incidents[id]), true, nil
}

// Put stores a copy of the incident.
func (s *Store) Put(_ context.Context, inc *incident.Incident) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.incidents[inc.ID] = copyIncident(inc)
	s.byEvent[inc.EventID] = inc.ID
	return nil
}

// ListByStatus returns copies of all incidents in the given status.
func (s *Store) ListByStatus(_ context.Context, status incident.Status) ([]*incident.Incident, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*incident.Incident
	for _, inc := range s.incidents {
		if inc.Status == status {
			out = append(out, copyIncident(inc))
		}
	}
	return out, nil
}

// copyIncident deep-copies the result log so callers can't mutate stored state.
func copyIncident(inc *incident.Incident) *incident.Incident {
	cp := *inc
	cp.Actions = append([]classify.Action(nil), inc.Actions...)
	cp.Results = append([]incident.ActionResult(nil), inc.Results...)
	return &cp
}
