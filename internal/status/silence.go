package status

import (
	"time"

	"github.com/sells-group/projtrack/internal/model"
)

// Silence thresholds in days since the last signal.
const (
	StalledAfterDays = 180
	DeadAfterDays    = 365
)

// Silence classifies a project purely by time since its last signal. It is
// a read-only reporting view and never touches StatusCurrent.
func Silence(lastSignalAt *time.Time, now time.Time) model.SilenceClass {
	if lastSignalAt == nil {
		return model.SilenceNeverUpdated
	}
	days := model.DaysBetween(*lastSignalAt, now)
	switch {
	case days > DeadAfterDays:
		return model.SilenceDead
	case days >= StalledAfterDays:
		return model.SilenceStalled
	default:
		return model.SilenceActive
	}
}

// SilenceRow is one line of the silence report.
type SilenceRow struct {
	ProjectID     string             `json:"project_id"`
	StatusCurrent model.Status       `json:"status_current"`
	LastSignalAt  *time.Time         `json:"last_signal_at,omitempty"`
	Silence       model.SilenceClass `json:"silence"`
}

// SilenceReport classifies each status record without modifying it.
func SilenceReport(statuses []model.ProjectStatus, now time.Time) []SilenceRow {
	rows := make([]SilenceRow, 0, len(statuses))
	for _, st := range statuses {
		rows = append(rows, SilenceRow{
			ProjectID:     st.ProjectID,
			StatusCurrent: st.StatusCurrent,
			LastSignalAt:  st.LastSignalAt,
			Silence:       Silence(st.LastSignalAt, now),
		})
	}
	return rows
}
