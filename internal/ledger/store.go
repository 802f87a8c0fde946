package ledger

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

//go:embed schema.sql
var schemaSQL string

// schemaVersion is the current schema version. Bump this when the schema changes.
const schemaVersion = 1

// ErrSchemaMismatch indicates the database schema version doesn't match the expected version.
var ErrSchemaMismatch = errors.New("ledger schema version mismatch")

// Limits supplies default budget limits when no explicit SetLimit override
// exists for a scope.
type Limits struct {
	// DefaultUserUSD applies to any user scope without an override.
	DefaultUserUSD float64
	// GlobalUSD applies to the platform-wide scope.
	GlobalUSD float64
	// AlertThresholds are percentages (1-100) that emit one-shot alerts.
	AlertThresholds []int
}

// Store manages ledger persistence backed by SQLite.
type Store struct {
	db     *sql.DB
	path   string
	limits Limits
}

// Open initializes or connects to the ledger database. Pragmas ride on the
// DSN so every pooled connection gets them, and the pool is capped at a
// single connection so concurrent writers queue instead of hitting
// SQLITE_BUSY.
func Open(dbPath string, limits Limits) (*Store, error) {
	dsn := dbPath + "?_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	db.SetMaxOpenConns(1)

	store := &Store{db: db, path: dbPath, limits: limits}
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

// Record appends a cost event and, in the same transaction, updates the user
// and global rollup counters for the event's own period. It returns any
// budget thresholds crossed for the first time this period.
func (s *Store) Record(ctx context.Context, event CostEvent) ([]Alert, error) {
	if event.USD < 0 {
		return nil, errors.New("cost event usd must not be negative")
	}
	if strings.TrimSpace(event.CostCenter) == "" {
		return nil, errors.New("cost event cost center required")
	}
	if event.EventID == "" {
		event.EventID = uuid.NewString()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}
	period := PeriodOf(event.CreatedAt)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin record tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO cost_events (
            event_id, report_id, user_id, cost_center, feature_name, operation,
            usd, input_tokens, output_tokens, created_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		event.EventID,
		nullableString(event.ReportID),
		nullableString(event.UserID),
		event.CostCenter,
		event.FeatureName,
		event.Operation,
		event.USD,
		event.InputTokens,
		event.OutputTokens,
		event.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return nil, fmt.Errorf("insert cost event: %w", err)
	}

	var alerts []Alert
	scopes := []string{GlobalScope}
	if event.UserID != "" {
		scopes = append(scopes, event.UserID)
	}
	for _, scope := range scopes {
		scopeAlerts, err := s.bumpCounter(ctx, tx, scope, period, event.USD, event.CreatedAt)
		if err != nil {
			return nil, err
		}
		alerts = append(alerts, scopeAlerts...)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit record tx: %w", err)
	}
	return alerts, nil
}

func (s *Store) bumpCounter(ctx context.Context, tx *sql.Tx, scope, period string, usd float64, at time.Time) ([]Alert, error) {
	limit, err := s.limitForScopeTx(ctx, tx, scope)
	if err != nil {
		return nil, err
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO budget_counters (scope, period, spend_usd, limit_usd)
         VALUES (?, ?, ?, ?)
         ON CONFLICT (scope, period) DO UPDATE SET
             spend_usd = spend_usd + excluded.spend_usd,
             limit_usd = excluded.limit_usd`,
		scope, period, usd, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("update budget counter %s/%s: %w", scope, period, err)
	}

	var spent float64
	if err := tx.QueryRowContext(ctx,
		"SELECT spend_usd FROM budget_counters WHERE scope = ? AND period = ?", scope, period,
	).Scan(&spent); err != nil {
		return nil, fmt.Errorf("read budget counter %s/%s: %w", scope, period, err)
	}

	if limit > 0 && spent >= limit {
		_, err = tx.ExecContext(ctx,
			`UPDATE budget_counters SET exceeded = 1, exceeded_at = COALESCE(exceeded_at, ?)
             WHERE scope = ? AND period = ?`,
			at.UTC().Format(time.RFC3339Nano), scope, period,
		)
		if err != nil {
			return nil, fmt.Errorf("mark budget exceeded %s/%s: %w", scope, period, err)
		}
	}

	var alerts []Alert
	if limit <= 0 {
		return nil, nil
	}
	pct := spent / limit * 100
	for _, threshold := range s.limits.AlertThresholds {
		if pct < float64(threshold) {
			continue
		}
		res, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO budget_alerts (scope, period, threshold, created_at)
             VALUES (?, ?, ?, ?)`,
			scope, period, threshold, at.UTC().Format(time.RFC3339Nano),
		)
		if err != nil {
			return nil, fmt.Errorf("record budget alert %s/%s/%d: %w", scope, period, threshold, err)
		}
		inserted, err := res.RowsAffected()
		if err != nil {
			return nil, fmt.Errorf("budget alert rows affected: %w", err)
		}
		if inserted > 0 {
			alerts = append(alerts, Alert{Scope: scope, Period: period, Threshold: threshold, SpentUSD: spent, LimitUSD: limit})
		}
	}
	return alerts, nil
}

// CheckUser reports a user's spend against their monthly limit.
func (s *Store) CheckUser(ctx context.Context, userID string) (BudgetStatus, error) {
	return s.check(ctx, userID)
}

// CheckGlobal reports platform-wide spend against the global monthly limit.
func (s *Store) CheckGlobal(ctx context.Context) (BudgetStatus, error) {
	return s.check(ctx, GlobalScope)
}

func (s *Store) check(ctx context.Context, scope string) (BudgetStatus, error) {
	period := PeriodOf(time.Now())
	status := BudgetStatus{Scope: scope, Period: period}

	limit, err := s.limitForScope(ctx, scope)
	if err != nil {
		return status, err
	}
	status.LimitUSD = limit

	var spent sql.NullFloat64
	err = s.db.QueryRowContext(ctx,
		"SELECT spend_usd FROM budget_counters WHERE scope = ? AND period = ?", scope, period,
	).Scan(&spent)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return status, fmt.Errorf("read budget counter %s/%s: %w", scope, period, err)
	}
	status.SpentUSD = spent.Float64
	status.Exceeded = limit > 0 && status.SpentUSD >= limit
	return status, nil
}

// SetLimit overrides the monthly budget limit for a scope. Administrative.
func (s *Store) SetLimit(ctx context.Context, scope string, usd float64) error {
	if usd < 0 {
		return errors.New("budget limit must not be negative")
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO budget_limits (scope, limit_usd) VALUES (?, ?)
         ON CONFLICT (scope) DO UPDATE SET limit_usd = excluded.limit_usd`,
		scope, usd,
	)
	if err != nil {
		return fmt.Errorf("set limit %s: %w", scope, err)
	}
	return nil
}

// EventsForReport returns a report's events ordered by creation time.
func (s *Store) EventsForReport(ctx context.Context, reportID string) ([]CostEvent, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT event_id, report_id, user_id, cost_center, feature_name, operation,
                usd, input_tokens, output_tokens, created_at
         FROM cost_events WHERE report_id = ? ORDER BY created_at, event_id`,
		reportID,
	)
	if err != nil {
		return nil, fmt.Errorf("query report events: %w", err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

// MonthlyReport aggregates a scope's spend by cost center for a period.
func (s *Store) MonthlyReport(ctx context.Context, userID, period string) ([]MonthlyTotal, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT cost_center, SUM(usd), COUNT(1)
         FROM cost_events
         WHERE user_id = ? AND substr(created_at, 1, 7) = ?
         GROUP BY cost_center ORDER BY cost_center`,
		userID, period,
	)
	if err != nil {
		return nil, fmt.Errorf("query monthly report: %w", err)
	}
	defer rows.Close()

	var totals []MonthlyTotal
	for rows.Next() {
		total := MonthlyTotal{Period: period}
		if err := rows.Scan(&total.CostCenter, &total.USD, &total.Events); err != nil {
			return nil, fmt.Errorf("scan monthly total: %w", err)
		}
		totals = append(totals, total)
	}
	return totals, rows.Err()
}

func (s *Store) limitForScope(ctx context.Context, scope string) (float64, error) {
	var limit float64
	err := s.db.QueryRowContext(ctx,
		"SELECT limit_usd FROM budget_limits WHERE scope = ?", scope,
	).Scan(&limit)
	if err == nil {
		return limit, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("read limit override %s: %w", scope, err)
	}
	return s.defaultLimit(scope), nil
}

func (s *Store) limitForScopeTx(ctx context.Context, tx *sql.Tx, scope string) (float64, error) {
	var limit float64
	err := tx.QueryRowContext(ctx,
		"SELECT limit_usd FROM budget_limits WHERE scope = ?", scope,
	).Scan(&limit)
	if err == nil {
		return limit, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("read limit override %s: %w", scope, err)
	}
	return s.defaultLimit(scope), nil
}

func (s *Store) defaultLimit(scope string) float64 {
	if scope == GlobalScope {
		return s.limits.GlobalUSD
	}
	return s.limits.DefaultUserUSD
}

func scanEvents(rows *sql.Rows) ([]CostEvent, error) {
	var events []CostEvent
	for rows.Next() {
		var (
			event      CostEvent
			reportID   sql.NullString
			userID     sql.NullString
			createdRaw string
		)
		if err := rows.Scan(
			&event.EventID, &reportID, &userID, &event.CostCenter, &event.FeatureName,
			&event.Operation, &event.USD, &event.InputTokens, &event.OutputTokens, &createdRaw,
		); err != nil {
			return nil, fmt.Errorf("scan cost event: %w", err)
		}
		event.ReportID = reportID.String
		event.UserID = userID.String
		if created, err := time.Parse(time.RFC3339Nano, createdRaw); err == nil {
			event.CreatedAt = created
		}
		events = append(events, event)
	}
	return events, rows.Err()
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}
