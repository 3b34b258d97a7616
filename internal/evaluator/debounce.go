package evaluator

import "time"

// Eligible reports whether an alert may trigger again. An alert that
// never triggered is always eligible; otherwise the cooldown window
// must have fully elapsed. This is what keeps a price hovering at the
// threshold from producing a notification on every tick.
func Eligible(lastTriggeredAt *time.Time, now time.Time, cooldown time.Duration) bool {
	if lastTriggeredAt == nil {
		return true
	}
	return now.Sub(*lastTriggeredAt) >= cooldown
}
