package store

import (
	"context"
	"time"

	"pricewatch/internal/models"
)

// AlertStore provides read access to active alerts and the single write
// the evaluator performs: advancing an alert's last-triggered timestamp.
type AlertStore interface {
	// ActiveAlerts retrieves all alerts eligible for evaluation.
	ActiveAlerts(ctx context.Context) ([]models.Alert, error)

	// MarkTriggered advances last_triggered_at to ts. The timestamp is
	// monotonic: a write older than the stored value is a no-op.
	MarkTriggered(ctx context.Context, alertID string, ts time.Time) error
}
