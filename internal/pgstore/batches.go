package pgstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/linnemanlabs/warden/internal/batch"
)

// BatchStore persists batch job records in PostgreSQL.
type BatchStore struct {
	pool *pgxpool.Pool
}

const batchColumns = `id, operation, total, succeeded, failed, status, cancelled,
	failures, created_at, completed_at`

// Get retrieves a job by ID.
func (s *BatchStore) Get(ctx context.Context, id string) (*batch.BatchJob, bool, error) {
	ctx, span := tracer.Start(ctx, "pgstore.Batches.Get", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "SELECT"),
	))
	defer span.End()

	query := `SELECT ` + batchColumns + ` FROM batch_jobs WHERE id = $1`
	job, err := scanBatchJob(s.pool.QueryRow(ctx, query, id))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, false, err
	}
	if job == nil {
		return nil, false, nil
	}
	return job, true, nil
}

// Put inserts or updates a job snapshot.
func (s *BatchStore) Put(ctx context.Context, job *batch.BatchJob) error {
	ctx, span := tracer.Start(ctx, "pgstore.Batches.Put", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "UPSERT"),
	))
	defer span.End()

	failuresJSON, err := json.Marshal(job.Failures)
	if err != nil {
		return fmt.Errorf("marshal failures: %w", err)
	}

	var completedAt *time.Time
	if !job.CompletedAt.IsZero() {
		completedAt = &job.CompletedAt
	}

	query := `INSERT INTO batch_jobs (
		id, operation, total, succeeded, failed, status, cancelled, failures, created_at, completed_at
	) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
	ON CONFLICT (id) DO UPDATE SET
		succeeded    = EXCLUDED.succeeded,
		failed       = EXCLUDED.failed,
		status       = EXCLUDED.status,
		cancelled    = EXCLUDED.cancelled,
		failures     = EXCLUDED.failures,
		completed_at = EXCLUDED.completed_at`

	_, err = s.pool.Exec(ctx, query,
		job.ID, job.Operation, job.Total, job.Succeeded, job.Failed,
		string(job.Status), job.Cancelled, failuresJSON, job.CreatedAt, completedAt,
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("upsert batch job: %w", err)
	}
	return nil
}

// List returns all job records, newest first.
func (s *BatchStore) List(ctx context.Context) ([]*batch.BatchJob, error) {
	ctx, span := tracer.Start(ctx, "pgstore.Batches.List", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "SELECT"),
	))
	defer span.End()

	query := `SELECT ` + batchColumns + ` FROM batch_jobs ORDER BY created_at DESC`
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("query batch jobs: %w", err)
	}
	defer rows.Close()

	var out []*batch.BatchJob
	for rows.Next() {
		job, err := scanBatchJob(rows)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, err
		}
		out = append(out, job)
	}
	if err := rows.Err(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("iterate batch jobs: %w", err)
	}
	return out, nil
}

// scanBatchJob scans a single row. Returns (nil, nil) when no row is found.
func scanBatchJob(row pgx.Row) (*batch.BatchJob, error) {
	var (
		job          batch.BatchJob
		status       string
		failuresJSON []byte
		completedAt  *time.Time
	)

	err := row.Scan(
		&job.ID, &job.Operation, &job.Total, &job.Succeeded, &job.Failed,
		&status, &job.Cancelled, &failuresJSON, &job.CreatedAt, &completedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan batch job: %w", err)
	}

	job.Status = batch.Status(status)
	if completedAt != nil {
		job.CompletedAt = *completedAt
	}
	if err := json.Unmarshal(failuresJSON, &job.Failures); err != nil {
		return nil, fmt.Errorf("unmarshal failures: %w", err)
	}
	return &job, nil
}
