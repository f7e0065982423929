package status

import (
	"maps"
	"slices"
	"time"

	"github.com/sells-group/projtrack/internal/model"
)

// Apply folds a decision into the previous status record and returns the
// new record. A history entry is appended only when the status changes;
// scores are always refreshed and LastSignalAt follows the decision's most
// recent contributing mention. prev is not modified.
func Apply(prev *model.ProjectStatus, projectID string, d Decision, now time.Time) (*model.ProjectStatus, bool) {
	st := &model.ProjectStatus{ProjectID: projectID}
	if prev != nil {
		*st = *prev
		st.StatusHistory = slices.Clone(prev.StatusHistory)
	}
	now = now.UTC()

	// updated_at is monotonic across history entries
	if n := len(st.StatusHistory); n > 0 && now.Before(st.StatusHistory[n-1].UpdatedAt) {
		now = st.StatusHistory[n-1].UpdatedAt
	}
	if now.Before(st.UpdatedAt) {
		now = st.UpdatedAt
	}

	st.StatusScores = maps.Clone(d.Scores)
	if d.LastSignalAt != nil {
		t := d.LastSignalAt.UTC()
		st.LastSignalAt = &t
	}
	st.UpdatedAt = now

	if d.Status == st.StatusCurrent {
		return st, false
	}

	st.StatusHistory = append(st.StatusHistory, model.StatusEntry{
		Status:     d.Status,
		Confidence: d.Confidence,
		UpdatedAt:  now,
		Evidence:   slices.Clone(d.Evidence),
		Reason:     d.Reason,
	})
	st.StatusCurrent = d.Status
	st.StatusConfidence = d.Confidence
	return st, true
}
