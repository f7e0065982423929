package status

import (
	"math"
	"time"

	"github.com/sells-group/projtrack/internal/model"
)

const (
	// DefaultNeutralWeight is applied to mentions without a usable date.
	DefaultNeutralWeight = 0.75

	recencyFloor = 0.5
	recencyDays  = 365.0
)

// RecencyWeight decays linearly from 1 to a floor of 0.5 over a year.
// Future dates weigh 1 and a nil date weighs neutral.
func RecencyWeight(published *time.Time, now time.Time, neutral float64) float64 {
	if published == nil {
		return neutral
	}
	days := model.DaysBetween(*published, now)
	if days <= 0 {
		return 1
	}
	return math.Max(recencyFloor, 1-days/recencyDays)
}
