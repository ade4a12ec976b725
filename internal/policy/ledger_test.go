package policy

import (
	"bytes"
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/warden/internal/fault"
)

// fakeStore implements Store with injectable sequence conflicts.
type fakeStore struct {
	mu       sync.Mutex
	policies map[string]*Policy
	versions map[string][]*Version
	audit    map[string][]*AuditEntry

	// conflicts are consumed one per UpdatePolicy call before the real
	// CAS check runs, simulating a concurrent writer winning the race
	conflicts int
	auditErr  error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		policies: make(map[string]*Policy),
		versions: make(map[string][]*Version),
		audit:    make(map[string][]*AuditEntry),
	}
}

func (f *fakeStore) GetPolicy(_ context.Context, id string) (*Policy, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.policies[id]
	if !ok {
		return nil, false, nil
	}
	cp := *p
	return &cp, true, nil
}

func (f *fakeStore) CreatePolicy(_ context.Context, p *Policy, v *Version) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, exists := f.policies[p.ID]; exists {
		return fault.New(fault.KindConflict, "exists")
	}
	cp, cv := *p, *v
	f.policies[p.ID] = &cp
	f.versions[p.ID] = append(f.versions[p.ID], &cv)
	return nil
}

func (f *fakeStore) UpdatePolicy(_ context.Context, p *Policy, v *Version, expectSeq int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.conflicts > 0 {
		f.conflicts--
		// the concurrent writer also advanced the head
		f.policies[p.ID].CurrentSeq++
		return fault.New(fault.KindConflict, "stale seq")
	}
	cur, ok := f.policies[p.ID]
	if !ok {
		return fault.New(fault.KindNotFound, "not found")
	}
	if cur.CurrentSeq != expectSeq {
		return fault.New(fault.KindConflict, "stale seq")
	}
	cp := *p
	f.policies[p.ID] = &cp
	if v != nil {
		cv := *v
		f.versions[p.ID] = append(f.versions[p.ID], &cv)
	}
	return nil
}

func (f *fakeStore) GetVersion(_ context.Context, policyID, number string) (*Version, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, v := range f.versions[policyID] {
		if v.Number == number {
			cp := *v
			return &cp, true, nil
		}
	}
	return nil, false, nil
}

func (f *fakeStore) ListVersions(_ context.Context, policyID string) ([]*Version, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*Version, 0, len(f.versions[policyID]))
	for _, v := range f.versions[policyID] {
		cp := *v
		out = append(out, &cp)
	}
	return out, nil
}

func (f *fakeStore) AppendAudit(_ context.Context, e *AuditEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.auditErr != nil {
		return f.auditErr
	}
	cp := *e
	f.audit[e.PolicyID] = append(f.audit[e.PolicyID], &cp)
	return nil
}

func (f *fakeStore) ListAudit(_ context.Context, policyID string) ([]*AuditEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*AuditEntry, 0, len(f.audit[policyID]))
	for _, e := range f.audit[policyID] {
		cp := *e
		out = append(out, &cp)
	}
	return out, nil
}

func content(s string) json.RawMessage { return json.RawMessage(s) }

func TestCreate(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	l := NewLedger(store, log.Nop(), nil)

	p, err := l.Create(context.Background(), "ops", "quarantine-store-5432", "Store 5432 quarantine", content(`{"vlan":999}`), false)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if p.CurrentVersion != "1.0.0" {
		t.Errorf("version = %q, want 1.0.0", p.CurrentVersion)
	}
	if p.CurrentSeq != 1 {
		t.Errorf("seq = %d, want 1", p.CurrentSeq)
	}
	if p.Status != StatusActive {
		t.Errorf("status = %q, want active", p.Status)
	}

	trail, _ := l.Audit(context.Background(), p.ID)
	if len(trail) != 1 || trail[0].Op != OpCreate || trail[0].After != "1.0.0" {
		t.Errorf("audit = %+v, want one create entry to 1.0.0", trail)
	}
}

func TestCreate_DraftPromotedByFirstUpdate(t *testing.T) {
	t.Parallel()

	l := NewLedger(newFakeStore(), log.Nop(), nil)
	ctx := context.Background()

	p, err := l.Create(ctx, "ops", "p", "n", content(`{"v":1}`), true)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if p.Status != StatusDraft {
		t.Errorf("status = %q, want draft", p.Status)
	}

	if _, err := l.Update(ctx, "ops", "p", content(`{"v":2}`), false, ""); err != nil {
		t.Fatalf("Update: %v", err)
	}
	p, ok, err := l.Get(ctx, "p")
	if err != nil || !ok {
		t.Fatalf("Get: ok=%v err=%v", ok, err)
	}
	if p.Status != StatusActive {
		t.Errorf("status after update = %q, want active", p.Status)
	}
	if p.CurrentVersion != "1.1.0" {
		t.Errorf("version = %q, want 1.1.0", p.CurrentVersion)
	}

	// archiving a draft works the same as archiving an active policy
	if _, err := l.Create(ctx, "ops", "d2", "n", content(`{}`), true); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := l.Delete(ctx, "ops", "d2"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	d2, _, _ := l.Get(ctx, "d2")
	if d2.Status != StatusArchived {
		t.Errorf("draft after delete = %q, want archived", d2.Status)
	}
}

func TestCreate_Validation(t *testing.T) {
	t.Parallel()

	l := NewLedger(newFakeStore(), log.Nop(), nil)

	cases := []struct {
		name    string
		id      string
		content json.RawMessage
	}{
		{"bad id chars", "Policy With Spaces", content(`{}`)},
		{"uppercase id", "Quarantine", content(`{}`)},
		{"empty content", "ok-id", nil},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, err := l.Create(context.Background(), "ops", tc.id, "n", tc.content, false)
			if !fault.Is(err, fault.KindValidation) {
				t.Errorf("err = %v, want validation fault", err)
			}
		})
	}
}

func TestCreate_DuplicateConflicts(t *testing.T) {
	t.Parallel()

	l := NewLedger(newFakeStore(), log.Nop(), nil)
	ctx := context.Background()

	if _, err := l.Create(ctx, "ops", "dup", "n", content(`{}`), false); err != nil {
		t.Fatalf("first Create: %v", err)
	}
	_, err := l.Create(ctx, "ops", "dup", "n", content(`{}`), false)
	if !fault.Is(err, fault.KindConflict) {
		t.Errorf("err = %v, want conflict fault", err)
	}
}

func TestUpdate_MinorAndMajorBumps(t *testing.T) {
	t.Parallel()

	l := NewLedger(newFakeStore(), log.Nop(), nil)
	ctx := context.Background()

	if _, err := l.Create(ctx, "ops", "p", "n", content(`{"v":1}`), false); err != nil {
		t.Fatalf("Create: %v", err)
	}

	v, err := l.Update(ctx, "ops", "p", content(`{"v":2}`), false, "tighten")
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if v.Number != "1.1.0" || v.Seq != 2 {
		t.Errorf("got %s seq %d, want 1.1.0 seq 2", v.Number, v.Seq)
	}

	v, err = l.Update(ctx, "ops", "p", content(`{"v":3}`), true, "new schema")
	if err != nil {
		t.Fatalf("breaking Update: %v", err)
	}
	if v.Number != "2.0.0" || v.Seq != 3 {
		t.Errorf("got %s seq %d, want 2.0.0 seq 3", v.Number, v.Seq)
	}
}

func TestRollback_AppendsCopy(t *testing.T) {
	t.Parallel()

	l := NewLedger(newFakeStore(), log.Nop(), nil)
	ctx := context.Background()

	original := content(`{"vlan":999}`)
	if _, err := l.Create(ctx, "ops", "quarantine-store-5432", "n", original, false); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := l.Update(ctx, "ops", "quarantine-store-5432", content(`{"vlan":666}`), false, ""); err != nil {
		t.Fatalf("Update: %v", err)
	}

	v, err := l.Rollback(ctx, "ops", "quarantine-store-5432", "1.0.0")
	if err != nil {
		t.Fatalf("Rollback: %v", err)
	}
	if v.Number != "1.2.0" {
		t.Errorf("rollback version = %q, want 1.2.0", v.Number)
	}
	if !bytes.Equal(v.Content, original) {
		t.Errorf("rollback content = %s, want %s", v.Content, original)
	}

	// history is extended, never rewritten: all three versions remain,
	// seq gapless and increasing
	chain, err := l.Versions(ctx, "quarantine-store-5432")
	if err != nil {
		t.Fatalf("Versions: %v", err)
	}
	if len(chain) != 3 {
		t.Fatalf("chain length = %d, want 3", len(chain))
	}
	wantNumbers := []string{"1.0.0", "1.1.0", "1.2.0"}
	for i, ver := range chain {
		if ver.Seq != i+1 {
			t.Errorf("chain[%d].Seq = %d, want %d", i, ver.Seq, i+1)
		}
		if ver.Number != wantNumbers[i] {
			t.Errorf("chain[%d].Number = %q, want %q", i, ver.Number, wantNumbers[i])
		}
	}
}

func TestRollback_UnknownTarget(t *testing.T) {
	t.Parallel()

	l := NewLedger(newFakeStore(), log.Nop(), nil)
	ctx := context.Background()

	if _, err := l.Create(ctx, "ops", "p", "n", content(`{}`), false); err != nil {
		t.Fatalf("Create: %v", err)
	}
	_, err := l.Rollback(ctx, "ops", "p", "9.9.9")
	if !fault.Is(err, fault.KindNotFound) {
		t.Errorf("err = %v, want not-found fault", err)
	}
}

func TestUpdate_UnknownPolicy(t *testing.T) {
	t.Parallel()

	l := NewLedger(newFakeStore(), log.Nop(), nil)
	_, err := l.Update(context.Background(), "ops", "ghost", content(`{}`), false, "")
	if !fault.Is(err, fault.KindNotFound) {
		t.Errorf("err = %v, want not-found fault", err)
	}
}

func TestDelete_ArchivesAndBlocksWrites(t *testing.T) {
	t.Parallel()

	l := NewLedger(newFakeStore(), log.Nop(), nil)
	ctx := context.Background()

	if _, err := l.Create(ctx, "ops", "p", "n", content(`{}`), false); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := l.Delete(ctx, "ops", "p"); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	p, ok, err := l.Get(ctx, "p")
	if err != nil || !ok {
		t.Fatalf("Get: ok=%v err=%v", ok, err)
	}
	if p.Status != StatusArchived {
		t.Errorf("status = %q, want archived", p.Status)
	}

	// versions survive the archive
	chain, _ := l.Versions(ctx, "p")
	if len(chain) != 1 {
		t.Errorf("chain length = %d, want 1", len(chain))
	}

	// archived policies reject further mutation
	if _, err := l.Update(ctx, "ops", "p", content(`{}`), false, ""); !fault.Is(err, fault.KindValidation) {
		t.Errorf("update after archive: err = %v, want validation fault", err)
	}

	// deleting again is a no-op
	if err := l.Delete(ctx, "ops", "p"); err != nil {
		t.Errorf("second Delete: %v", err)
	}
}

func TestUpdate_RetriesOnceOnConflict(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	l := NewLedger(store, log.Nop(), nil)
	ctx := context.Background()

	if _, err := l.Create(ctx, "ops", "p", "n", content(`{}`), false); err != nil {
		t.Fatalf("Create: %v", err)
	}

	store.conflicts = 1
	v, err := l.Update(ctx, "ops", "p", content(`{"v":2}`), false, "")
	if err != nil {
		t.Fatalf("Update after one conflict: %v", err)
	}
	// the concurrent writer took seq 2, the retry lands on 3
	if v.Seq != 3 {
		t.Errorf("seq = %d, want 3", v.Seq)
	}
}

func TestUpdate_SurfacesConflictAfterRetry(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	l := NewLedger(store, log.Nop(), nil)
	ctx := context.Background()

	if _, err := l.Create(ctx, "ops", "p", "n", content(`{}`), false); err != nil {
		t.Fatalf("Create: %v", err)
	}

	store.conflicts = 2
	_, err := l.Update(ctx, "ops", "p", content(`{}`), false, "")
	if !fault.Is(err, fault.KindConflict) {
		t.Errorf("err = %v, want conflict fault after exhausted retry", err)
	}
}

func TestAudit_TrailCoversEveryMutation(t *testing.T) {
	t.Parallel()

	l := NewLedger(newFakeStore(), log.Nop(), nil)
	ctx := context.Background()

	if _, err := l.Create(ctx, "alice", "p", "n", content(`{}`), false); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := l.Update(ctx, "bob", "p", content(`{"v":2}`), false, ""); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if _, err := l.Rollback(ctx, "carol", "p", "1.0.0"); err != nil {
		t.Fatalf("Rollback: %v", err)
	}
	if err := l.Delete(ctx, "dave", "p"); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	trail, err := l.Audit(ctx, "p")
	if err != nil {
		t.Fatalf("Audit: %v", err)
	}
	wantOps := []Op{OpCreate, OpUpdate, OpRollback, OpDelete}
	if len(trail) != len(wantOps) {
		t.Fatalf("trail length = %d, want %d", len(trail), len(wantOps))
	}
	for i, e := range trail {
		if e.Op != wantOps[i] {
			t.Errorf("trail[%d].Op = %q, want %q", i, e.Op, wantOps[i])
		}
		if e.Actor == "" || e.ID == "" {
			t.Errorf("trail[%d] missing actor or id: %+v", i, e)
		}
	}
	if trail[1].Before != "1.0.0" || trail[1].After != "1.1.0" {
		t.Errorf("update entry = %+v, want 1.0.0 -> 1.1.0", trail[1])
	}
}

func TestParseSemver(t *testing.T) {
	t.Parallel()

	for _, bad := range []string{"", "1", "1.2", "1.2.3.4", "a.b.c", "-1.0.0", "1.0.x"} {
		if _, err := parseSemver(bad); err == nil {
			t.Errorf("parseSemver(%q): expected error", bad)
		}
	}
	v, err := parseSemver("2.14.3")
	if err != nil {
		t.Fatalf("parseSemver: %v", err)
	}
	if v.String() != "2.14.3" {
		t.Errorf("round trip = %q", v.String())
	}
	if got := v.bump(false).String(); got != "2.15.0" {
		t.Errorf("minor bump = %q, want 2.15.0", got)
	}
	if got := v.bump(true).String(); got != "3.0.0" {
		t.Errorf("major bump = %q, want 3.0.0", got)
	}
}
