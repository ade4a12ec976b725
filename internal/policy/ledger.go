package policy

import (
	"context"
	"encoding/json"
	"regexp"
	"time"

	"github.com/linnemanlabs/go-core/log"
	"github.com/oklog/ulid/v2"

	"github.com/linnemanlabs/warden/internal/fault"
)

const initialVersion = "1.0.0"

// policy IDs are caller-supplied names, kept DNS-label-ish so they survive
// URLs and config files unquoted
var idRe = regexp.MustCompile(`^[a-z0-9]([a-z0-9-]{0,62}[a-z0-9])?$`)

// Ledger applies mutations to the policy store under optimistic concurrency.
// A writer that loses the sequence race reloads and retries once before
// surfacing a conflict.
type Ledger struct {
	store   Store
	logger  log.Logger
	metrics *Metrics
}

// NewLedger creates a policy ledger. metrics may be nil.
func NewLedger(store Store, logger log.Logger, metrics *Metrics) *Ledger {
	return &Ledger{store: store, logger: logger, metrics: metrics}
}

// Create registers a new policy at version 1.0.0. A draft policy is not yet
// in force; its first update or rollback promotes it to active.
func (l *Ledger) Create(ctx context.Context, actor, id, name string, content json.RawMessage, draft bool) (*Policy, error) {
	if !idRe.MatchString(id) {
		l.count(OpCreate, "rejected")
		return nil, fault.New(fault.KindValidation, "policy: invalid id %q", id)
	}
	if len(content) == 0 {
		l.count(OpCreate, "rejected")
		return nil, fault.New(fault.KindValidation, "policy: empty content")
	}
	if _, ok, err := l.store.GetPolicy(ctx, id); err != nil {
		return nil, err
	} else if ok {
		l.count(OpCreate, "conflict")
		return nil, fault.New(fault.KindConflict, "policy: %q already exists", id)
	}

	status := StatusActive
	if draft {
		status = StatusDraft
	}
	now := time.Now()
	p := &Policy{
		ID:             id,
		Name:           name,
		Status:         status,
		CurrentVersion: initialVersion,
		CurrentSeq:     1,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	v := &Version{
		PolicyID:  id,
		Number:    initialVersion,
		Seq:       1,
		Content:   content,
		Note:      "initial version",
		CreatedAt: now,
	}
	if err := l.store.CreatePolicy(ctx, p, v); err != nil {
		return nil, err
	}
	l.audit(ctx, actor, id, OpCreate, "", initialVersion)
	l.count(OpCreate, "ok")
	l.logger.Info(ctx, "policy created", "policy_id", id, "version", initialVersion, "status", status)
	return p, nil
}

// Update appends a new version with the given content. A breaking change
// bumps the major version and resets minor and patch; otherwise the minor
// version is bumped.
func (l *Ledger) Update(ctx context.Context, actor, policyID string, content json.RawMessage, breaking bool, note string) (*Version, error) {
	if len(content) == 0 {
		l.count(OpUpdate, "rejected")
		return nil, fault.New(fault.KindValidation, "policy: empty content")
	}
	return l.append(ctx, actor, policyID, OpUpdate, func(p *Policy) (string, json.RawMessage, string, error) {
		cur, err := parseSemver(p.CurrentVersion)
		if err != nil {
			return "", nil, "", err
		}
		return cur.bump(breaking).String(), content, note, nil
	})
}

// Rollback appends a new version whose content is copied from the target
// historical version. History is only ever extended, never rewritten.
func (l *Ledger) Rollback(ctx context.Context, actor, policyID, targetVersion string) (*Version, error) {
	target, ok, err := l.store.GetVersion(ctx, policyID, targetVersion)
	if err != nil {
		return nil, err
	}
	if !ok {
		l.count(OpRollback, "rejected")
		return nil, fault.New(fault.KindNotFound, "policy: %s has no version %q", policyID, targetVersion)
	}
	return l.append(ctx, actor, policyID, OpRollback, func(p *Policy) (string, json.RawMessage, string, error) {
		cur, err := parseSemver(p.CurrentVersion)
		if err != nil {
			return "", nil, "", err
		}
		return cur.bump(false).String(), target.Content, "rollback to " + targetVersion, nil
	})
}

// Delete archives a policy. Versions and audit entries are retained.
// Archiving an already-archived policy is a no-op.
func (l *Ledger) Delete(ctx context.Context, actor, policyID string) error {
	for attempt := 0; ; attempt++ {
		p, ok, err := l.store.GetPolicy(ctx, policyID)
		if err != nil {
			return err
		}
		if !ok {
			l.count(OpDelete, "rejected")
			return fault.New(fault.KindNotFound, "policy: %q not found", policyID)
		}
		if p.Status == StatusArchived {
			l.count(OpDelete, "ok")
			return nil
		}

		expect := p.CurrentSeq
		p.Status = StatusArchived
		p.UpdatedAt = time.Now()
		err = l.store.UpdatePolicy(ctx, p, nil, expect)
		if err == nil {
			l.audit(ctx, actor, policyID, OpDelete, p.CurrentVersion, p.CurrentVersion)
			l.count(OpDelete, "ok")
			l.logger.Info(ctx, "policy archived", "policy_id", policyID)
			return nil
		}
		if !fault.Is(err, fault.KindConflict) || attempt >= 1 {
			l.count(OpDelete, "conflict")
			return err
		}
	}
}

// Get retrieves the policy head.
func (l *Ledger) Get(ctx context.Context, id string) (*Policy, bool, error) {
	return l.store.GetPolicy(ctx, id)
}

// Versions lists the policy's full version chain in sequence order.
func (l *Ledger) Versions(ctx context.Context, policyID string) ([]*Version, error) {
	return l.store.ListVersions(ctx, policyID)
}

// Audit lists the policy's mutation trail.
func (l *Ledger) Audit(ctx context.Context, policyID string) ([]*AuditEntry, error) {
	return l.store.ListAudit(ctx, policyID)
}

// append runs one ledger mutation under the reload-and-retry-once protocol.
// next computes the new version number, content, and note from the freshly
// loaded policy head.
func (l *Ledger) append(ctx context.Context, actor, policyID string, op Op, next func(p *Policy) (string, json.RawMessage, string, error)) (*Version, error) {
	for attempt := 0; ; attempt++ {
		p, ok, err := l.store.GetPolicy(ctx, policyID)
		if err != nil {
			return nil, err
		}
		if !ok {
			l.count(op, "rejected")
			return nil, fault.New(fault.KindNotFound, "policy: %q not found", policyID)
		}
		if p.Status == StatusArchived {
			l.count(op, "rejected")
			return nil, fault.New(fault.KindValidation, "policy: %q is archived", policyID)
		}

		number, content, note, err := next(p)
		if err != nil {
			l.count(op, "rejected")
			return nil, err
		}

		before := p.CurrentVersion
		expect := p.CurrentSeq
		v := &Version{
			PolicyID:  policyID,
			Number:    number,
			Seq:       expect + 1,
			Content:   content,
			Note:      note,
			CreatedAt: time.Now(),
		}
		// a draft is promoted by its first successful mutation
		p.Status = StatusActive
		p.CurrentVersion = number
		p.CurrentSeq = v.Seq
		p.UpdatedAt = v.CreatedAt

		err = l.store.UpdatePolicy(ctx, p, v, expect)
		if err == nil {
			l.audit(ctx, actor, policyID, op, before, number)
			l.count(op, "ok")
			l.logger.Info(ctx, "policy version appended",
				"policy_id", policyID, "op", op, "version", number, "seq", v.Seq)
			return v, nil
		}
		if !fault.Is(err, fault.KindConflict) {
			return nil, err
		}
		if attempt >= 1 {
			l.count(op, "conflict")
			l.logger.Warn(ctx, "policy mutation lost the sequence race twice",
				"policy_id", policyID, "op", op)
			return nil, err
		}
		// stale head: reload and retry once
	}
}

func (l *Ledger) audit(ctx context.Context, actor, policyID string, op Op, before, after string) {
	e := &AuditEntry{
		ID:       ulid.Make().String(),
		PolicyID: policyID,
		Actor:    actor,
		Op:       op,
		Before:   before,
		After:    after,
		At:       time.Now(),
	}
	if err := l.store.AppendAudit(ctx, e); err != nil {
		// the mutation itself is durable; a lost audit row is logged, not fatal
		l.logger.Error(ctx, err, "failed to append audit entry", "policy_id", policyID, "op", op)
	}
}

func (l *Ledger) count(op Op, result string) {
	if l.metrics != nil {
		l.metrics.MutationsTotal.WithLabelValues(string(op), result).Inc()
	}
}
