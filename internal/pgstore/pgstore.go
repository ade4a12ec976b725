// Package pgstore provides the PostgreSQL implementations of the incident,
// policy, and batch stores on one shared pool.
package pgstore

import (
	"context"
	_ "embed"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("github.com/linnemanlabs/warden/internal/pgstore")

//go:embed schema.sql
var schema string

// DB applies the schema and hands out the per-domain stores.
type DB struct {
	pool *pgxpool.Pool
}

// New applies the schema on the given pool and returns a ready DB.
func New(ctx context.Context, pool *pgxpool.Pool) (*DB, error) {
	if _, err := pool.Exec(ctx, schema); err != nil {
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &DB{pool: pool}, nil
}

// Close shuts down the connection pool.
func (d *DB) Close() {
	d.pool.Close()
}

// Incidents returns the incident.Store implementation.
func (d *DB) Incidents() *IncidentStore {
	return &IncidentStore{pool: d.pool}
}

// Policies returns the policy.Store implementation.
func (d *DB) Policies() *PolicyStore {
	return &PolicyStore{pool: d.pool}
}

// Batches returns the batch.Store implementation.
func (d *DB) Batches() *BatchStore {
	return &BatchStore{pool: d.pool}
}
