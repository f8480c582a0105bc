package shared

import "errors"

// Period statuses reused outside accounting module.
const (
	PeriodStatusOpen   = "OPEN"
	PeriodStatusClosed = "CLOSED"
)

// ErrInvalidPeriodTransition indicates status change not allowed.
var ErrInvalidPeriodTransition = errors.New("period transition invalid")

// ValidatePeriodTransition checks transitions according to policy. A period
// rolled into the next fiscal year can no longer be reopened.
func ValidatePeriodTransition(current, target string, yearClosed bool) error {
	switch current {
	case PeriodStatusOpen:
		if target == PeriodStatusClosed {
			return nil
		}
	case PeriodStatusClosed:
		if target == PeriodStatusOpen && !yearClosed {
			return nil
		}
	}
	return ErrInvalidPeriodTransition
}
