package incident

import "context"

// Store is the persistence interface for incidents. Every state transition is
// persisted before the engine considers it complete.
type Store interface {
	Get(ctx context.Context, id string) (*Incident, bool, error)
	GetByEvent(ctx context.Context, eventID string) (*Incident, bool, error)
	Put(ctx context.Context, inc *Incident) error
	ListByStatus(ctx context.Context, status Status) ([]*Incident, error)
}
