package evaluator

import "pricewatch/internal/models"

// Holds reports whether the crossing condition is satisfied for the
// given reference price. prior is the previously observed reference
// price; it is required by the crossing operators and ignored by the
// rest. Without a prior, crosses_up and crosses_down are false: a
// single observation cannot witness a crossing.
func Holds(op models.Operator, threshold, price float64, prior *float64) bool {
	switch op {
	case models.OpGreaterThan:
		return price > threshold
	case models.OpLessThan:
		return price < threshold
	case models.OpGreaterOrEqual:
		return price >= threshold
	case models.OpLessOrEqual:
		return price <= threshold
	case models.OpCrossesUp:
		return prior != nil && *prior <= threshold && threshold < price
	case models.OpCrossesDown:
		return prior != nil && *prior >= threshold && threshold > price
	default:
		return false
	}
}
