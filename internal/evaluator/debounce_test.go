package evaluator

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestEligible(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	cooldown := 180 * time.Second

	ago := func(d time.Duration) *time.Time {
		ts := now.Add(-d)
		return &ts
	}

	tests := []struct {
		name string
		last *time.Time
		want bool
	}{
		{"never triggered", nil, true},
		{"triggered 1s ago", ago(time.Second), false},
		{"triggered 200s ago", ago(200 * time.Second), true},
		{"cooldown exactly elapsed", ago(cooldown), true},
		{"one tick short of cooldown", ago(cooldown - time.Millisecond), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Eligible(tt.last, now, cooldown))
		})
	}
}
