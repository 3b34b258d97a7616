package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"pricewatch/internal/models"
)

// Postgres implements AlertStore on a Postgres database via sqlx.
type Postgres struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewPostgres wraps an open sqlx handle. Every call is bounded by
// timeout so a stuck database cannot starve the evaluation lock.
func NewPostgres(db *sqlx.DB, timeout time.Duration) *Postgres {
	return &Postgres{db: db, timeout: timeout}
}

// Open connects to Postgres and verifies the connection.
func Open(dsn string, maxOpenConns int) (*sqlx.DB, error) {
	db, err := sqlx.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres: %w", err)
	}
	db.SetMaxOpenConns(maxOpenConns)
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}
	return db, nil
}

const activeAlertsQuery = `
SELECT id, user_id, symbol, operator, threshold, active, last_triggered_at
FROM alerts
WHERE active = true
ORDER BY symbol, id`

// ActiveAlerts implements AlertStore.
func (s *Postgres) ActiveAlerts(ctx context.Context) ([]models.Alert, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var alerts []models.Alert
	if err := s.db.SelectContext(ctx, &alerts, activeAlertsQuery); err != nil {
		return nil, fmt.Errorf("failed to load active alerts: %w", err)
	}
	return alerts, nil
}

const markTriggeredQuery = `
UPDATE alerts
SET last_triggered_at = $2
WHERE id = $1
  AND (last_triggered_at IS NULL OR last_triggered_at <= $2)`

// MarkTriggered implements AlertStore. The WHERE guard keeps
// last_triggered_at monotonic even if an older replica replays a stale
// write.
func (s *Postgres) MarkTriggered(ctx context.Context, alertID string, ts time.Time) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if _, err := s.db.ExecContext(ctx, markTriggeredQuery, alertID, ts.UTC()); err != nil {
		return fmt.Errorf("failed to mark alert %s triggered: %w", alertID, err)
	}
	return nil
}

// Ping verifies database connectivity for health checks.
func (s *Postgres) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return s.db.PingContext(ctx)
}
