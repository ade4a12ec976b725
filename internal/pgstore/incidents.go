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

	"github.com/linnemanlabs/warden/internal/classify"
	"github.com/linnemanlabs/warden/internal/incident"
)

// IncidentStore persists incidents in PostgreSQL.
type IncidentStore struct {
	pool *pgxpool.Pool
}

const incidentColumns = `id, event_id, source_addr, event_type, severity, confidence,
	status, auto_execute, actions, results, created_at, completed_at`

// Get retrieves an incident by ID.
func (s *IncidentStore) Get(ctx context.Context, id string) (*incident.Incident, bool, error) {
	ctx, span := tracer.Start(ctx, "pgstore.Incidents.Get", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "SELECT"),
	))
	defer span.End()

	query := `SELECT ` + incidentColumns + ` FROM incidents WHERE id = $1`
	inc, err := scanIncident(s.pool.QueryRow(ctx, query, id))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, false, err
	}
	if inc == nil {
		return nil, false, nil
	}
	return inc, true, nil
}

// GetByEvent retrieves the incident created for an event ID.
func (s *IncidentStore) GetByEvent(ctx context.Context, eventID string) (*incident.Incident, bool, error) {
	ctx, span := tracer.Start(ctx, "pgstore.Incidents.GetByEvent", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "SELECT"),
	))
	defer span.End()

	query := `SELECT ` + incidentColumns + ` FROM incidents WHERE event_id = $1`
	inc, err := scanIncident(s.pool.QueryRow(ctx, query, eventID))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, false, err
	}
	if inc == nil {
		return nil, false, nil
	}
	return inc, true, nil
}

// Put inserts or updates an incident.
func (s *IncidentStore) Put(ctx context.Context, inc *incident.Incident) error {
	ctx, span := tracer.Start(ctx, "pgstore.Incidents.Put", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "UPSERT"),
	))
	defer span.End()

	actionsJSON, err := json.Marshal(inc.Actions)
	if err != nil {
		return fmt.Errorf("marshal actions: %w", err)
	}
	resultsJSON, err := json.Marshal(inc.Results)
	if err != nil {
		return fmt.Errorf("marshal results: %w", err)
	}

	var completedAt *time.Time
	if !inc.CompletedAt.IsZero() {
		completedAt = &inc.CompletedAt
	}

	query := `INSERT INTO incidents (
		id, event_id, source_addr, event_type, severity, confidence,
		status, auto_execute, actions, results, created_at, completed_at
	) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
	ON CONFLICT (id) DO UPDATE SET
		status       = EXCLUDED.status,
		results      = EXCLUDED.results,
		completed_at = EXCLUDED.completed_at`

	_, err = s.pool.Exec(ctx, query,
		inc.ID, inc.EventID, inc.SourceAddr, inc.EventType, string(inc.Severity), inc.Confidence,
		string(inc.Status), inc.AutoExecute, actionsJSON, resultsJSON, inc.CreatedAt, completedAt,
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("upsert incident: %w", err)
	}
	return nil
}

// ListByStatus returns all incidents in the given status, oldest first.
func (s *IncidentStore) ListByStatus(ctx context.Context, status incident.Status) ([]*incident.Incident, error) {
	ctx, span := tracer.Start(ctx, "pgstore.Incidents.ListByStatus", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "SELECT"),
	))
	defer span.End()

	query := `SELECT ` + incidentColumns + ` FROM incidents WHERE status = $1 ORDER BY created_at`
	rows, err := s.pool.Query(ctx, query, string(status))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("query incidents: %w", err)
	}
	defer rows.Close()

	var out []*incident.Incident
	for rows.Next() {
		inc, err := scanIncident(rows)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, err
		}
		out = append(out, inc)
	}
	if err := rows.Err(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("iterate incidents: %w", err)
	}
	return out, nil
}

// scanIncident scans a single row. Returns (nil, nil) when no row is found.
func scanIncident(row pgx.Row) (*incident.Incident, error) {
	var (
		inc         incident.Incident
		severity    string
		status      string
		actionsJSON []byte
		resultsJSON []byte
		completedAt *time.Time
	)

	err := row.Scan(
		&inc.ID, &inc.EventID, &inc.SourceAddr, &inc.EventType, &severity, &inc.Confidence,
		&status, &inc.AutoExecute, &actionsJSON, &resultsJSON, &inc.CreatedAt, &completedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan incident: %w", err)
	}

	inc.Severity = classify.Severity(severity)
	inc.Status = incident.Status(status)
	if completedAt != nil {
		inc.CompletedAt = *completedAt
	}
	if err := json.Unmarshal(actionsJSON, &inc.Actions); err != nil {
		return nil, fmt.Errorf("unmarshal actions: %w", err)
	}
	if err := json.Unmarshal(resultsJSON, &inc.Results); err != nil {
		return nil, fmt.Errorf("unmarshal results: %w", err)
	}
	return &inc, nil
}
