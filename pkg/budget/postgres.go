package budget

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

// PostgresTracker persists budgets in PostgreSQL. Spend is recorded per run
// so a crashed run can be reconciled later.
//
// Schema:
//
//	CREATE TABLE budgets (
//	    project      TEXT PRIMARY KEY,
//	    cost_limit   DOUBLE PRECISION NOT NULL,
//	    used         DOUBLE PRECISION NOT NULL DEFAULT 0,
//	    last_updated TIMESTAMPTZ NOT NULL
//	);
//	CREATE TABLE budget_spend (
//	    project     TEXT NOT NULL,
//	    run         TEXT NOT NULL,
//	    amount      DOUBLE PRECISION NOT NULL,
//	    recorded_at TIMESTAMPTZ NOT NULL
//	);
type PostgresTracker struct {
	db    *sql.DB
	clock func() time.Time
}

// NewPostgresTracker wraps an open database handle.
func NewPostgresTracker(db *sql.DB) *PostgresTracker {
	return &PostgresTracker{db: db, clock: time.Now}
}

// WithClock overrides the clock for deterministic testing.
func (t *PostgresTracker) WithClock(clock func() time.Time) *PostgresTracker {
	t.clock = clock
	return t
}

// SetLimit upserts a project's budget limit.
func (t *PostgresTracker) SetLimit(ctx context.Context, project string, limit float64) error {
	query := `
		INSERT INTO budgets (project, cost_limit, used, last_updated)
		VALUES ($1, $2, 0, $3)
		ON CONFLICT (project) DO UPDATE SET
			cost_limit = EXCLUDED.cost_limit,
			last_updated = EXCLUDED.last_updated
	`
	if _, err := t.db.ExecContext(ctx, query, project, limit, t.clock().UTC()); err != nil {
		return fmt.Errorf("failed to set budget limit: %w", err)
	}
	return nil
}

// Check classifies an estimated spend against the project's remaining budget.
// A project without a budget row is over budget by definition.
func (t *PostgresTracker) Check(ctx context.Context, project, run string, estimated float64) (*CheckResult, error) {
	_ = run
	row := t.db.QueryRowContext(ctx,
		"SELECT project, cost_limit, used, last_updated FROM budgets WHERE project = $1",
		project)

	var u Usage
	err := row.Scan(&u.Project, &u.Limit, &u.Used, &u.LastUpdated)
	if err == sql.ErrNoRows {
		return &CheckResult{Verdict: VerdictOver, Remaining: 0}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read budget: %w", err)
	}
	return classify(&u, estimated), nil
}

// Record adds actual spend to the project's usage and logs the run's spend.
func (t *PostgresTracker) Record(ctx context.Context, project, run string, actual float64) error {
	if actual < 0 {
		return fmt.Errorf("actual spend must not be negative")
	}
	now := t.clock().UTC()

	tx, err := t.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin spend transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	upsert := `
		INSERT INTO budgets (project, cost_limit, used, last_updated)
		VALUES ($1, 0, $2, $3)
		ON CONFLICT (project) DO UPDATE SET
			used = budgets.used + EXCLUDED.used,
			last_updated = EXCLUDED.last_updated
	`
	if _, err := tx.ExecContext(ctx, upsert, project, actual, now); err != nil {
		return fmt.Errorf("failed to update usage: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		"INSERT INTO budget_spend (project, run, amount, recorded_at) VALUES ($1, $2, $3, $4)",
		project, run, actual, now); err != nil {
		return fmt.Errorf("failed to log spend: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit spend: %w", err)
	}
	return nil
}
