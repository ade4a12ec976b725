package pgstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/linnemanlabs/warden/internal/fault"
	"github.com/linnemanlabs/warden/internal/policy"
)

// PolicyStore persists policies, version chains, and the audit trail in
// PostgreSQL. The sequence CAS in UpdatePolicy is a conditional UPDATE; a
// writer holding a stale head affects zero rows and gets a conflict fault.
type PolicyStore struct {
	pool *pgxpool.Pool
}

// GetPolicy retrieves the policy head by ID.
func (s *PolicyStore) GetPolicy(ctx context.Context, id string) (*policy.Policy, bool, error) {
	ctx, span := tracer.Start(ctx, "pgstore.Policies.GetPolicy", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "SELECT"),
	))
	defer span.End()

	var p policy.Policy
	var status string
	err := s.pool.QueryRow(ctx,
		`SELECT id, name, status, current_version, current_seq, created_at, updated_at
		 FROM policies WHERE id = $1`, id,
	).Scan(&p.ID, &p.Name, &status, &p.CurrentVersion, &p.CurrentSeq, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, false, nil
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, false, fmt.Errorf("scan policy: %w", err)
	}
	p.Status = policy.Status(status)
	return &p, true, nil
}

// CreatePolicy inserts a new policy with its initial version in one
// transaction. A duplicate ID surfaces as a conflict fault.
func (s *PolicyStore) CreatePolicy(ctx context.Context, p *policy.Policy, v *policy.Version) error {
	ctx, span := tracer.Start(ctx, "pgstore.Policies.CreatePolicy", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "INSERT"),
	))
	defer span.End()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is harmless

	_, err = tx.Exec(ctx,
		`INSERT INTO policies (id, name, status, current_version, current_seq, created_at, updated_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		p.ID, p.Name, string(p.Status), p.CurrentVersion, p.CurrentSeq, p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fault.New(fault.KindConflict, "pgstore: policy %q already exists", p.ID)
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("insert policy: %w", err)
	}

	if err := insertVersion(ctx, tx, v); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// UpdatePolicy writes the head and appends v (when non-nil) only if the
// stored sequence still equals expectSeq.
func (s *PolicyStore) UpdatePolicy(ctx context.Context, p *policy.Policy, v *policy.Version, expectSeq int) error {
	ctx, span := tracer.Start(ctx, "pgstore.Policies.UpdatePolicy", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "UPDATE"),
	))
	defer span.End()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is harmless

	tag, err := tx.Exec(ctx,
		`UPDATE policies
		 SET name = $2, status = $3, current_version = $4, current_seq = $5, updated_at = $6
		 WHERE id = $1 AND current_seq = $7`,
		p.ID, p.Name, string(p.Status), p.CurrentVersion, p.CurrentSeq, p.UpdatedAt, expectSeq,
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("update policy: %w", err)
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM policies WHERE id = $1)`, p.ID).Scan(&exists); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return fmt.Errorf("check policy: %w", err)
		}
		if !exists {
			return fault.New(fault.KindNotFound, "pgstore: policy %q not found", p.ID)
		}
		return fault.New(fault.KindConflict, "pgstore: policy %q moved past seq %d", p.ID, expectSeq)
	}

	if v != nil {
		if err := insertVersion(ctx, tx, v); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// GetVersion retrieves one version of a policy by number.
func (s *PolicyStore) GetVersion(ctx context.Context, policyID, number string) (*policy.Version, bool, error) {
	ctx, span := tracer.Start(ctx, "pgstore.Policies.GetVersion", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "SELECT"),
	))
	defer span.End()

	var v policy.Version
	err := s.pool.QueryRow(ctx,
		`SELECT policy_id, number, seq, content, note, created_at
		 FROM policy_versions WHERE policy_id = $1 AND number = $2`,
		policyID, number,
	).Scan(&v.PolicyID, &v.Number, &v.Seq, &v.Content, &v.Note, &v.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, false, nil
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, false, fmt.Errorf("scan version: %w", err)
	}
	return &v, true, nil
}

// ListVersions returns the policy's chain in sequence order.
func (s *PolicyStore) ListVersions(ctx context.Context, policyID string) ([]*policy.Version, error) {
	ctx, span := tracer.Start(ctx, "pgstore.Policies.ListVersions", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "SELECT"),
	))
	defer span.End()

	rows, err := s.pool.Query(ctx,
		`SELECT policy_id, number, seq, content, note, created_at
		 FROM policy_versions WHERE policy_id = $1 ORDER BY seq`, policyID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("query versions: %w", err)
	}
	defer rows.Close()

	var out []*policy.Version
	for rows.Next() {
		var v policy.Version
		if err := rows.Scan(&v.PolicyID, &v.Number, &v.Seq, &v.Content, &v.Note, &v.CreatedAt); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, fmt.Errorf("scan version: %w", err)
		}
		out = append(out, &v)
	}
	if err := rows.Err(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("iterate versions: %w", err)
	}
	return out, nil
}

// AppendAudit appends one audit entry.
func (s *PolicyStore) AppendAudit(ctx context.Context, e *policy.AuditEntry) error {
	ctx, span := tracer.Start(ctx, "pgstore.Policies.AppendAudit", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "INSERT"),
	))
	defer span.End()

	_, err := s.pool.Exec(ctx,
		`INSERT INTO policy_audit (id, policy_id, actor, op, before_version, after_version, at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		e.ID, e.PolicyID, e.Actor, string(e.Op), e.Before, e.After, e.At,
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("insert audit entry: %w", err)
	}
	return nil
}

// ListAudit returns the policy's audit trail in time order.
func (s *PolicyStore) ListAudit(ctx context.Context, policyID string) ([]*policy.AuditEntry, error) {
	ctx, span := tracer.Start(ctx, "pgstore.Policies.ListAudit", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "SELECT"),
	))
	defer span.End()

	rows, err := s.pool.Query(ctx,
		`SELECT id, policy_id, actor, op, before_version, after_version, at
		 FROM policy_audit WHERE policy_id = $1 ORDER BY at, id`, policyID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("query audit: %w", err)
	}
	defer rows.Close()

	var out []*policy.AuditEntry
	for rows.Next() {
		var e policy.AuditEntry
		var op string
		if err := rows.Scan(&e.ID, &e.PolicyID, &e.Actor, &op, &e.Before, &e.After, &e.At); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}
		e.Op = policy.Op(op)
		out = append(out, &e)
	}
	if err := rows.Err(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("iterate audit: %w", err)
	}
	return out, nil
}

func insertVersion(ctx context.Context, tx pgx.Tx, v *policy.Version) error {
	_, err := tx.Exec(ctx,
		`INSERT INTO policy_versions (policy_id, seq, number, content, note, created_at)
		 VALUES ($1,$2,$3,$4,$5,$6)`,
		v.PolicyID, v.Seq, v.Number, []byte(v.Content), v.Note, v.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fault.New(fault.KindConflict, "pgstore: version %s seq %d already written", v.Number, v.Seq)
		}
		return fmt.Errorf("insert version: %w", err)
	}
	return nil
}

// isUniqueViolation reports whether err is a 23505 unique_violation.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
