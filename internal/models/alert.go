package models

import (
	"errors"
	"time"
)

// Operator is the crossing condition between a live price and the
// stored threshold.
type Operator string

const (
	OpGreaterThan    Operator = "greater_than"
	OpLessThan       Operator = "less_than"
	OpGreaterOrEqual Operator = "greater_or_equal"
	OpLessOrEqual    Operator = "less_or_equal"
	OpCrossesUp      Operator = "crosses_up"
	OpCrossesDown    Operator = "crosses_down"
)

// IsValid checks if the operator is one of the supported conditions
func (o Operator) IsValid() bool {
	switch o {
	case OpGreaterThan, OpLessThan, OpGreaterOrEqual, OpLessOrEqual,
		OpCrossesUp, OpCrossesDown:
		return true
	default:
		return false
	}
}

// NeedsPrior reports whether the operator compares against the
// previously observed reference price.
func (o Operator) NeedsPrior() bool {
	return o == OpCrossesUp || o == OpCrossesDown
}

// Alert is the unit of monitoring. Records are created and edited
// outside this service; the evaluator only reads active alerts and
// advances LastTriggeredAt.
type Alert struct {
	ID        string   `json:"id" db:"id"`
	UserID    string   `json:"user_id" db:"user_id"`
	Symbol    string   `json:"symbol" db:"symbol"`
	Operator  Operator `json:"operator" db:"operator"`
	Threshold float64  `json:"threshold" db:"threshold"`
	Active    bool     `json:"active" db:"active"`

	// LastTriggeredAt advances monotonically; it is never rewound.
	LastTriggeredAt *time.Time `json:"last_triggered_at,omitempty" db:"last_triggered_at"`
}

// Validation errors
var (
	ErrEmptyID          = errors.New("alert ID cannot be empty")
	ErrEmptyUserID      = errors.New("user ID cannot be empty")
	ErrEmptySymbol      = errors.New("symbol cannot be empty")
	ErrInvalidOperator  = errors.New("invalid operator")
	ErrInvalidThreshold = errors.New("threshold must be a finite number")
)

// Validate checks if the Alert has all required fields and valid values
func (a *Alert) Validate() error {
	if a.ID == "" {
		return ErrEmptyID
	}

	if a.UserID == "" {
		return ErrEmptyUserID
	}

	if a.Symbol == "" {
		return ErrEmptySymbol
	}

	if !a.Operator.IsValid() {
		return ErrInvalidOperator
	}

	if a.Threshold != a.Threshold || a.Threshold > maxThreshold || a.Threshold < -maxThreshold {
		return ErrInvalidThreshold
	}

	return nil
}

// maxThreshold rejects +/-Inf and absurd values from upstream data.
const maxThreshold = 1e15
