package memstore

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/linnemanlabs/warden/internal/fault"
	"github.com/linnemanlabs/warden/internal/policy"
)

func seed(t *testing.T, s *Store) *policy.Policy {
	t.Helper()
	p := &policy.Policy{
		ID:             "p-1",
		Name:           "store quarantine",
		Status:         policy.StatusActive,
		CurrentVersion: "1.0.0",
		CurrentSeq:     1,
	}
	v := &policy.Version{
		PolicyID: "p-1",
		Number:   "1.0.0",
		Seq:      1,
		Content:  json.RawMessage(`{"vlan":999}`),
	}
	if err := s.CreatePolicy(context.Background(), p, v); err != nil {
		t.Fatalf("CreatePolicy: %v", err)
	}
	return p
}

func TestCreateAndGet(t *testing.T) {
	t.Parallel()

	s := New()
	seed(t, s)

	got, ok, err := s.GetPolicy(context.Background(), "p-1")
	if err != nil {
		t.Fatalf("GetPolicy: %v", err)
	}
	if !ok || got.CurrentVersion != "1.0.0" {
		t.Errorf("got %+v, want head at 1.0.0", got)
	}

	v, ok, err := s.GetVersion(context.Background(), "p-1", "1.0.0")
	if err != nil || !ok {
		t.Fatalf("GetVersion: ok=%v err=%v", ok, err)
	}
	if v.Seq != 1 {
		t.Errorf("seq = %d, want 1", v.Seq)
	}
}

func TestCreate_DuplicateConflicts(t *testing.T) {
	t.Parallel()

	s := New()
	p := seed(t, s)

	err := s.CreatePolicy(context.Background(), p, &policy.Version{PolicyID: p.ID, Number: "1.0.0", Seq: 1})
	if !fault.Is(err, fault.KindConflict) {
		t.Errorf("err = %v, want conflict fault", err)
	}
}

func TestUpdate_CASRejectsStaleSeq(t *testing.T) {
	t.Parallel()

	s := New()
	p := seed(t, s)
	ctx := context.Background()

	next := *p
	next.CurrentVersion = "1.1.0"
	next.CurrentSeq = 2
	v := &policy.Version{PolicyID: p.ID, Number: "1.1.0", Seq: 2, Content: json.RawMessage(`{}`)}

	if err := s.UpdatePolicy(ctx, &next, v, 1); err != nil {
		t.Fatalf("UpdatePolicy: %v", err)
	}

	// a second writer holding the old head loses
	stale := *p
	stale.CurrentVersion = "1.1.0"
	stale.CurrentSeq = 2
	err := s.UpdatePolicy(ctx, &stale, v, 1)
	if !fault.Is(err, fault.KindConflict) {
		t.Errorf("err = %v, want conflict fault", err)
	}

	chain, _ := s.ListVersions(ctx, p.ID)
	if len(chain) != 2 {
		t.Errorf("chain length = %d, want 2 (losing write must not append)", len(chain))
	}
}

func TestUpdate_NilVersionArchives(t *testing.T) {
	t.Parallel()

	s := New()
	p := seed(t, s)
	ctx := context.Background()

	archived := *p
	archived.Status = policy.StatusArchived
	if err := s.UpdatePolicy(ctx, &archived, nil, 1); err != nil {
		t.Fatalf("UpdatePolicy: %v", err)
	}

	got, _, _ := s.GetPolicy(ctx, p.ID)
	if got.Status != policy.StatusArchived {
		t.Errorf("status = %q, want archived", got.Status)
	}
	chain, _ := s.ListVersions(ctx, p.ID)
	if len(chain) != 1 {
		t.Errorf("chain length = %d, want 1", len(chain))
	}
}

func TestAuditTrail(t *testing.T) {
	t.Parallel()

	s := New()
	ctx := context.Background()
	for _, op := range []policy.Op{policy.OpCreate, policy.OpUpdate} {
		if err := s.AppendAudit(ctx, &policy.AuditEntry{ID: string(op), PolicyID: "p-1", Op: op}); err != nil {
			t.Fatalf("AppendAudit: %v", err)
		}
	}

	trail, err := s.ListAudit(ctx, "p-1")
	if err != nil {
		t.Fatalf("ListAudit: %v", err)
	}
	if len(trail) != 2 || trail[0].Op != policy.OpCreate || trail[1].Op != policy.OpUpdate {
		t.Errorf("trail = %+v, want create then update", trail)
	}
}
