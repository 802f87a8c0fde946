package queue

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

//go:embed schema.sql
var schemaSQL string

// schemaVersion is the current schema version. Bump this when the schema changes.
const schemaVersion = 2

// ErrSchemaMismatch indicates the database schema version doesn't match the expected version.
var ErrSchemaMismatch = errors.New("queue schema version mismatch")

// Options tunes delivery behavior.
type Options struct {
	VisibilityTimeout time.Duration
	MaxDeliveries     int
}

// Store manages envelope persistence backed by SQLite.
type Store struct {
	db   *sql.DB
	path string
	opts Options

	now func() time.Time
}

// Open initializes or connects to the queue database.
func Open(dbPath string, opts Options) (*Store, error) {
	if opts.VisibilityTimeout <= 0 {
		opts.VisibilityTimeout = 5 * time.Minute
	}
	if opts.MaxDeliveries <= 0 {
		opts.MaxDeliveries = 5
	}

	// Pragmas ride on the DSN so every pooled connection gets them; a
	// single-connection pool serializes writers instead of surfacing
	// SQLITE_BUSY.
	dsn := dbPath + "?_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	db.SetMaxOpenConns(1)

	store := &Store{db: db, path: dbPath, opts: opts, now: time.Now}
	if err := store.initSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// SetNowForTesting overrides the store's clock so tests can expire leases.
func (s *Store) SetNowForTesting(now func() time.Time) {
	s.now = now
}

func (s *Store) initSchema(ctx context.Context) error {
	var tableExists int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(1) FROM sqlite_master WHERE type='table' AND name='schema_version'",
	).Scan(&tableExists)
	if err != nil {
		return fmt.Errorf("check schema_version table: %w", err)
	}

	if tableExists == 0 {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin schema tx: %w", err)
		}
		defer func() { _ = tx.Rollback() }()
		if _, err := tx.ExecContext(ctx, schemaSQL); err != nil {
			return fmt.Errorf("create schema: %w", err)
		}
		if _, err := tx.ExecContext(ctx, "INSERT INTO schema_version (version) VALUES (?)", schemaVersion); err != nil {
			return fmt.Errorf("record schema version: %w", err)
		}
		return tx.Commit()
	}

	var version int
	if err := s.db.QueryRowContext(ctx, "SELECT version FROM schema_version LIMIT 1").Scan(&version); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	if version != schemaVersion {
		return fmt.Errorf("%w: database has version %d, expected %d", ErrSchemaMismatch, version, schemaVersion)
	}
	return nil
}

// Enqueue durably stores a new envelope for a report.
func (s *Store) Enqueue(ctx context.Context, reportID string, dagVersion int) (*Envelope, error) {
	if reportID == "" {
		return nil, errors.New("report id required")
	}
	envelope := &Envelope{
		EnvelopeID: uuid.NewString(),
		ReportID:   reportID,
		DAGVersion: dagVersion,
		EnqueuedAt: s.now().UTC(),
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO envelopes (envelope_id, report_id, dag_version, enqueued_at)
         VALUES (?, ?, ?, ?)`,
		envelope.EnvelopeID,
		envelope.ReportID,
		envelope.DAGVersion,
		envelope.EnqueuedAt.UnixNano(),
	)
	if err != nil {
		return nil, fmt.Errorf("insert envelope: %w", err)
	}
	return envelope, nil
}

// Dequeue leases the oldest deliverable envelope for the given consumer.
// Returns nil when the queue is empty. When envelopes exist but every one is
// leased by a live consumer, returns ErrAlreadyLeased so callers can
// distinguish contention from an empty queue. Envelopes that have exhausted
// their deliveries are moved to the dead-letter table instead of delivered.
func (s *Store) Dequeue(ctx context.Context, owner string) (*Envelope, error) {
	if owner == "" {
		return nil, errors.New("consumer owner id required")
	}
	now := s.now().UTC()
	nowNanos := now.UnixNano()

	for {
		// Oldest deliverable envelope, restricted to per-report heads so FIFO
		// holds within a report. Reports with a live lease are skipped.
		row := s.db.QueryRowContext(ctx,
			`SELECT envelope_id, report_id, dag_version, enqueued_at, delivery_count, lease_owner, visibility_deadline
             FROM envelopes e
             WHERE (lease_owner IS NULL OR visibility_deadline IS NULL OR visibility_deadline <= ?)
               AND NOT EXISTS (
                 SELECT 1 FROM envelopes earlier
                 WHERE earlier.report_id = e.report_id
                   AND (earlier.enqueued_at < e.enqueued_at
                        OR (earlier.enqueued_at = e.enqueued_at AND earlier.envelope_id < e.envelope_id))
             )
             ORDER BY enqueued_at, envelope_id
             LIMIT 1`, nowNanos,
		)
		envelope, err := scanEnvelope(row)
		if errors.Is(err, sql.ErrNoRows) {
			var pending int
			if countErr := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM envelopes`).Scan(&pending); countErr != nil {
				return nil, fmt.Errorf("count envelopes: %w", countErr)
			}
			if pending > 0 {
				return nil, ErrAlreadyLeased
			}
			return nil, nil
		}
		if err != nil {
			return nil, fmt.Errorf("select envelope: %w", err)
		}

		if envelope.DeliveryCount >= s.opts.MaxDeliveries {
			if err := s.DeadLetter(ctx, envelope.EnvelopeID, "max deliveries exhausted"); err != nil {
				return nil, err
			}
			continue
		}

		deadline := now.Add(s.opts.VisibilityTimeout)
		res, err := s.db.ExecContext(ctx,
			`UPDATE envelopes
             SET lease_owner = ?, visibility_deadline = ?, delivery_count = delivery_count + 1
             WHERE envelope_id = ?
               AND (lease_owner IS NULL OR visibility_deadline IS NULL OR visibility_deadline <= ?)`,
			owner, deadline.UnixNano(), envelope.EnvelopeID, nowNanos,
		)
		if err != nil {
			return nil, fmt.Errorf("lease envelope: %w", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return nil, fmt.Errorf("lease rows affected: %w", err)
		}
		if affected == 0 {
			// Lost the claim race to another consumer; try the next candidate.
			continue
		}

		envelope.LeaseOwner = owner
		envelope.VisibilityDeadline = &deadline
		envelope.DeliveryCount++
		return envelope, nil
	}
}

// Heartbeat extends the consumer's lease on an envelope.
func (s *Store) Heartbeat(ctx context.Context, envelopeID, owner string) error {
	deadline := s.now().UTC().Add(s.opts.VisibilityTimeout)
	res, err := s.db.ExecContext(ctx,
		`UPDATE envelopes SET visibility_deadline = ?
         WHERE envelope_id = ? AND lease_owner = ?`,
		deadline.UnixNano(), envelopeID, owner,
	)
	if err != nil {
		return fmt.Errorf("heartbeat envelope: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("heartbeat rows affected: %w", err)
	}
	if affected == 0 {
		return ErrNotLeaseHolder
	}
	return nil
}

// Ack removes a delivered envelope once its report reached a terminal state.
func (s *Store) Ack(ctx context.Context, envelopeID, owner string) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM envelopes WHERE envelope_id = ? AND lease_owner = ?`,
		envelopeID, owner,
	)
	if err != nil {
		return fmt.Errorf("ack envelope: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("ack rows affected: %w", err)
	}
	if affected == 0 {
		return ErrNotLeaseHolder
	}
	return nil
}

// DeadLetter moves an envelope to the dead-letter table for operator review.
func (s *Store) DeadLetter(ctx context.Context, envelopeID, reason string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin dead-letter tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	row := tx.QueryRowContext(ctx,
		`SELECT envelope_id, report_id, dag_version, enqueued_at, delivery_count, lease_owner, visibility_deadline
         FROM envelopes WHERE envelope_id = ?`, envelopeID,
	)
	envelope, err := scanEnvelope(row)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("dead-letter: envelope %s not found", envelopeID)
	}
	if err != nil {
		return fmt.Errorf("dead-letter select: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO dead_letters (envelope_id, report_id, dag_version, enqueued_at, delivery_count, reason, dead_lettered_at)
         VALUES (?, ?, ?, ?, ?, ?, ?)`,
		envelope.EnvelopeID,
		envelope.ReportID,
		envelope.DAGVersion,
		envelope.EnqueuedAt.UnixNano(),
		envelope.DeliveryCount,
		reason,
		s.now().UTC().UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("insert dead letter: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM envelopes WHERE envelope_id = ?`, envelopeID); err != nil {
		return fmt.Errorf("remove dead-lettered envelope: %w", err)
	}
	return tx.Commit()
}

// List returns every live envelope in enqueue order.
func (s *Store) List(ctx context.Context) ([]Envelope, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT envelope_id, report_id, dag_version, enqueued_at, delivery_count, lease_owner, visibility_deadline
         FROM envelopes ORDER BY enqueued_at, envelope_id`,
	)
	if err != nil {
		return nil, fmt.Errorf("query envelopes: %w", err)
	}
	defer rows.Close()

	var envelopes []Envelope
	for rows.Next() {
		envelope, err := scanEnvelope(rows)
		if err != nil {
			return nil, err
		}
		envelopes = append(envelopes, *envelope)
	}
	return envelopes, rows.Err()
}

// DeadLetters lists parked envelopes, newest first.
func (s *Store) DeadLetters(ctx context.Context) ([]DeadLetter, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT envelope_id, report_id, dag_version, enqueued_at, delivery_count, reason, dead_lettered_at
         FROM dead_letters ORDER BY dead_lettered_at DESC`,
	)
	if err != nil {
		return nil, fmt.Errorf("query dead letters: %w", err)
	}
	defer rows.Close()

	var letters []DeadLetter
	for rows.Next() {
		var (
			letter   DeadLetter
			enqueued int64
			deadAt   int64
		)
		if err := rows.Scan(&letter.EnvelopeID, &letter.ReportID, &letter.DAGVersion, &enqueued, &letter.DeliveryCount, &letter.Reason, &deadAt); err != nil {
			return nil, fmt.Errorf("scan dead letter: %w", err)
		}
		letter.EnqueuedAt = time.Unix(0, enqueued).UTC()
		letter.DeadAt = time.Unix(0, deadAt).UTC()
		letters = append(letters, letter)
	}
	return letters, rows.Err()
}

// Health summarizes queue depth for diagnostics.
func (s *Store) Health(ctx context.Context) (HealthSummary, error) {
	var summary HealthSummary
	nowNanos := s.now().UTC().UnixNano()
	err := s.db.QueryRowContext(ctx,
		`SELECT
            COUNT(CASE WHEN lease_owner IS NULL OR visibility_deadline IS NULL OR visibility_deadline <= ? THEN 1 END),
            COUNT(CASE WHEN lease_owner IS NOT NULL AND visibility_deadline > ? THEN 1 END)
         FROM envelopes`, nowNanos, nowNanos,
	).Scan(&summary.Ready, &summary.Leased)
	if err != nil {
		return summary, fmt.Errorf("queue health: %w", err)
	}
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM dead_letters`).Scan(&summary.DeadLetters); err != nil {
		return summary, fmt.Errorf("dead letter count: %w", err)
	}
	return summary, nil
}

func scanEnvelope(scanner interface{ Scan(dest ...any) error }) (*Envelope, error) {
	var (
		envelope   Envelope
		enqueued   int64
		leaseOwner sql.NullString
		deadline   sql.NullInt64
	)
	if err := scanner.Scan(
		&envelope.EnvelopeID,
		&envelope.ReportID,
		&envelope.DAGVersion,
		&enqueued,
		&envelope.DeliveryCount,
		&leaseOwner,
		&deadline,
	); err != nil {
		return nil, err
	}
	envelope.EnqueuedAt = time.Unix(0, enqueued).UTC()
	envelope.LeaseOwner = leaseOwner.String
	if deadline.Valid {
		at := time.Unix(0, deadline.Int64).UTC()
		envelope.VisibilityDeadline = &at
	}
	return &envelope, nil
}
