package models

import (
	"time"

	"github.com/google/uuid"
)

// TriggerEvent is the notification payload emitted when an alert fires.
// It carries the alert id and trigger timestamp so downstream consumers
// can deduplicate the rare crash-window duplicate.
type TriggerEvent struct {
	ID            string   `json:"id"`
	AlertID       string   `json:"alert_id"`
	UserID        string   `json:"user_id"`
	Symbol        string   `json:"symbol"`
	Operator      Operator `json:"operator"`
	Threshold     float64  `json:"threshold"`
	ObservedPrice float64  `json:"observed_price"`

	TriggeredAt time.Time `json:"triggered_at"`

	// PartitionKey keeps one user's notifications ordered.
	PartitionKey string `json:"partition_key"`
}

// NewTriggerEvent builds a trigger event for an alert that fired at the
// given observed price.
func NewTriggerEvent(a *Alert, observed float64, now time.Time) *TriggerEvent {
	return &TriggerEvent{
		ID:            uuid.New().String(),
		AlertID:       a.ID,
		UserID:        a.UserID,
		Symbol:        a.Symbol,
		Operator:      a.Operator,
		Threshold:     a.Threshold,
		ObservedPrice: observed,
		TriggeredAt:   now.UTC(),
		PartitionKey:  a.UserID,
	}
}
