// Package pgstore provides a PostgreSQL implementation of journal.Store.
package pgstore

import (
	"context"
	_ "embed"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/linnemanlabs/queuewatch/internal/board"
	"github.com/linnemanlabs/queuewatch/internal/journal"
)

var tracer = otel.Tracer("github.com/linnemanlabs/queuewatch/internal/journal/pgstore")

//go:embed schema.sql
var schema string

// Store persists journal records in PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

// New applies the schema on pool and returns a ready Store. The caller owns
// the pool and closes it.
func New(ctx context.Context, pool *pgxpool.Pool) (*Store, error) {
	if _, err := pool.Exec(ctx, schema); err != nil {
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{pool: pool}, nil
}

const refreshColumns = `id, generation, trigger_kind, outcome, started_at, finished_at, duration_s,
	record_count, queue_count, attention_count, added, dropped, escalated, error`

const ackColumns = `id, queue_id, server_name, queue_name, acknowledged, severity, at`

func startSpan(ctx context.Context, name, op string) (context.Context, trace.Span) {
	return tracer.Start(ctx, name, trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", op),
	))
}

func fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}

// PutRefresh inserts a refresh record. Re-putting the same id overwrites it.
func (s *Store) PutRefresh(ctx context.Context, r *journal.RefreshRecord) error {
	ctx, span := startSpan(ctx, "journal.PutRefresh", "UPSERT")
	defer span.End()

	query := `INSERT INTO refresh_runs (` + refreshColumns + `)
	VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
	ON CONFLICT (id) DO UPDATE SET
		outcome         = EXCLUDED.outcome,
		finished_at     = EXCLUDED.finished_at,
		duration_s      = EXCLUDED.duration_s,
		record_count    = EXCLUDED.record_count,
		queue_count     = EXCLUDED.queue_count,
		attention_count = EXCLUDED.attention_count,
		added           = EXCLUDED.added,
		dropped         = EXCLUDED.dropped,
		escalated       = EXCLUDED.escalated,
		error           = EXCLUDED.error`

	_, err := s.pool.Exec(ctx, query,
		r.ID, int64(r.Generation), string(r.Trigger), string(r.Outcome), r.StartedAt, r.FinishedAt, r.Duration,
		r.RecordCount, r.QueueCount, r.AttentionCount, r.Added, r.Dropped, r.Escalated, r.Error,
	)
	if err != nil {
		return fail(span, fmt.Errorf("upsert refresh: %w", err))
	}
	return nil
}

// ListRefreshes returns up to limit refresh records, newest first. A
// non-positive limit returns all of them.
func (s *Store) ListRefreshes(ctx context.Context, limit int) ([]journal.RefreshRecord, error) {
	ctx, span := startSpan(ctx, "journal.ListRefreshes", "SELECT")
	defer span.End()

	query := `SELECT ` + refreshColumns + ` FROM refresh_runs ORDER BY started_at DESC, generation DESC`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT $1`
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fail(span, fmt.Errorf("query refreshes: %w", err))
	}
	out, err := pgx.CollectRows(rows, scanRefresh)
	if err != nil {
		return nil, fail(span, fmt.Errorf("collect refreshes: %w", err))
	}
	if out == nil {
		out = []journal.RefreshRecord{}
	}
	return out, nil
}

func scanRefresh(row pgx.CollectableRow) (journal.RefreshRecord, error) {
	var (
		r       journal.RefreshRecord
		gen     int64
		trigger string
		outcome string
	)
	err := row.Scan(
		&r.ID, &gen, &trigger, &outcome, &r.StartedAt, &r.FinishedAt, &r.Duration,
		&r.RecordCount, &r.QueueCount, &r.AttentionCount, &r.Added, &r.Dropped, &r.Escalated, &r.Error,
	)
	if err != nil {
		return r, fmt.Errorf("scan refresh: %w", err)
	}
	r.Generation = uint64(gen) //nolint:gosec // generations are assigned from 1 upwards
	r.Trigger = journal.Trigger(trigger)
	r.Outcome = board.Outcome(outcome)
	return r, nil
}

// PutAck inserts an ack record.
func (s *Store) PutAck(ctx context.Context, a *journal.AckRecord) error {
	ctx, span := startSpan(ctx, "journal.PutAck", "INSERT")
	defer span.End()

	_, err := s.pool.Exec(ctx,
		`INSERT INTO ack_events (`+ackColumns+`) VALUES ($1,$2,$3,$4,$5,$6,$7)
		 ON CONFLICT (id) DO NOTHING`,
		a.ID, a.QueueID, a.ServerName, a.QueueName, a.Acknowledged, a.Severity, a.At,
	)
	if err != nil {
		return fail(span, fmt.Errorf("insert ack: %w", err))
	}
	return nil
}

// ListAcks returns up to limit ack records, newest first. A non-positive
// limit returns all of them.
func (s *Store) ListAcks(ctx context.Context, limit int) ([]journal.AckRecord, error) {
	ctx, span := startSpan(ctx, "journal.ListAcks", "SELECT")
	defer span.End()

	query := `SELECT ` + ackColumns + ` FROM ack_events ORDER BY at DESC, id DESC`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT $1`
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fail(span, fmt.Errorf("query acks: %w", err))
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (journal.AckRecord, error) {
		var a journal.AckRecord
		err := row.Scan(&a.ID, &a.QueueID, &a.ServerName, &a.QueueName, &a.Acknowledged, &a.Severity, &a.At)
		return a, err
	})
	if err != nil {
		return nil, fail(span, fmt.Errorf("collect acks: %w", err))
	}
	if out == nil {
		out = []journal.AckRecord{}
	}
	return out, nil
}
