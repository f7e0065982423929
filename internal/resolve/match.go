package resolve

import (
	"math"
	"time"

	"github.com/sells-group/projtrack/internal/model"
)

// DefaultTimeWindowDays is the company+location merge window.
const DefaultTimeWindowDays = 180

// matchKey holds the normalized fields the merge predicate compares.
type matchKey struct {
	company   string
	location  string
	siteHint  string
	announced *time.Time
}

func keyOf(c *model.ProjectCard) matchKey {
	return matchKey{
		company:   NormalizeCompany(model.Deref(c.Company)),
		location:  NormalizePlace(model.Deref(c.LocationText)),
		siteHint:  NormalizePlace(model.Deref(c.SiteHint)),
		announced: c.AnnouncedDate,
	}
}

// mergeable reports whether a key carries any field the predicate can use.
// Cards without one always end up as singletons.
func (k matchKey) mergeable() bool {
	return k.siteHint != "" || (k.company != "" && k.location != "")
}

func (k matchKey) matches(o matchKey, windowDays int) bool {
	if k.siteHint != "" && k.siteHint == o.siteHint {
		return true
	}
	if k.company == "" || k.location == "" {
		return false
	}
	if k.company != o.company || k.location != o.location {
		return false
	}
	// An undated card cannot prove it falls inside the window.
	if k.announced == nil || o.announced == nil {
		return false
	}
	return math.Abs(model.DaysBetween(*k.announced, *o.announced)) <= float64(windowDays)
}

// IsSameProject reports whether two cards describe the same physical
// project: either the same company at the same location announced within
// windowDays of each other, or the same named site regardless of timing.
// Fields missing on either card never match.
func IsSameProject(a, b model.ProjectCard, windowDays int) bool {
	return keyOf(&a).matches(keyOf(&b), windowDays)
}
