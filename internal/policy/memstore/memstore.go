// Package memstore provides an in-memory implementation of policy.Store.
package memstore

import (
	"context"
	"sort"
	"sync"

	"github.com/linnemanlabs/warden/internal/fault"
	"github.com/linnemanlabs/warden/internal/policy"
)

// Store holds policies, version chains, and audit trails in memory.
// Suitable for dev/testing.
type Store struct {
	mu       sync.RWMutex
	policies map[string]*policy.Policy
	versions map[string][]*policy.Version    // policy ID -> chain in seq order
	audit    map[string][]*policy.AuditEntry // policy ID -> trail in append order
}

// New initializes a new in-memory Store.
func New() *Store {
	return &Store{
		policies: make(map[string]*policy.Policy),
		versions: make(map[string][]*policy.Version),
		audit:    make(map[string][]*policy.AuditEntry),
	}
}

// GetPolicy retrieves the policy head by ID. Returns a copy.
func (s *Store) GetPolicy(_ context.Context, id string) (*policy.Policy, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.policies[id]
	if !ok {
		return nil, false, nil
	}
	cp := *p
	return &cp, true, nil
}

// CreatePolicy inserts a new policy with its initial version.
func (s *Store) CreatePolicy(_ context.Context, p *policy.Policy, v *policy.Version) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.policies[p.ID]; exists {
		return fault.New(fault.KindConflict, "memstore: policy %q already exists", p.ID)
	}
	cp := *p
	cv := *v
	s.policies[p.ID] = &cp
	s.versions[p.ID] = append(s.versions[p.ID], &cv)
	return nil
}

// UpdatePolicy writes the policy head, and appends v when non-nil, only if
// the stored sequence still equals expectSeq.
func (s *Store) UpdatePolicy(_ context.Context, p *policy.Policy, v *policy.Version, expectSeq int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.policies[p.ID]
	if !ok {
		return fault.New(fault.KindNotFound, "memstore: policy %q not found", p.ID)
	}
	if cur.CurrentSeq != expectSeq {
		return fault.New(fault.KindConflict, "memstore: policy %q is at seq %d, expected %d", p.ID, cur.CurrentSeq, expectSeq)
	}
	cp := *p
	s.policies[p.ID] = &cp
	if v != nil {
		cv := *v
		s.versions[p.ID] = append(s.versions[p.ID], &cv)
	}
	return nil
}

// GetVersion retrieves one version of a policy by number.
func (s *Store) GetVersion(_ context.Context, policyID, number string) (*policy.Version, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, v := range s.versions[policyID] {
		if v.Number == number {
			cp := *v
			return &cp, true, nil
		}
	}
	return nil, false, nil
}

// ListVersions returns the policy's chain in sequence order.
func (s *Store) ListVersions(_ context.Context, policyID string) ([]*policy.Version, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*policy.Version, 0, len(s.versions[policyID]))
	for _, v := range s.versions[policyID] {
		cp := *v
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out, nil
}

// AppendAudit appends one audit entry.
func (s *Store) AppendAudit(_ context.Context, e *policy.AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *e
	s.audit[e.PolicyID] = append(s.audit[e.PolicyID], &cp)
	return nil
}

// ListAudit returns the policy's audit trail in append order.
func (s *Store) ListAudit(_ context.Context, policyID string) ([]*policy.AuditEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*policy.AuditEntry, 0, len(s.audit[policyID]))
	for _, e := range s.audit[policyID] {
		cp := *e
		out = append(out, &cp)
	}
	return out, nil
}
