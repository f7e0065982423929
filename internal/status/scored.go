package status

import (
	"fmt"
	"time"

	"github.com/sells-group/projtrack/internal/model"
)

// Input is everything an evaluation looks at.
type Input struct {
	Mentions      []model.MentionRecord
	AnnouncedDate *time.Time
	Previous      model.Status
	Now           time.Time
}

// Decision is the outcome of one evaluation.
type Decision struct {
	Status       model.Status             `json:"status"`
	Confidence   model.Confidence         `json:"confidence"`
	Reason       string                   `json:"reason"`
	Scores       map[model.Status]float64 `json:"scores"`
	Evidence     []model.StatusEvidence   `json:"evidence"`
	LastSignalAt *time.Time               `json:"last_signal_at,omitempty"`
}

// Evaluator computes a Decision for a project.
type Evaluator interface {
	Evaluate(in Input) Decision
}

// Score thresholds of the scored strategy.
const (
	deadThreshold       = 1.5
	deadHighThreshold   = 2.5
	uncertainThreshold  = 1.0
	activeThreshold     = 2.0
	activeHighThreshold = 3.0

	tooEarlyDays = 90
	staleDays    = 730
)

// Scored is the canonical strategy: a recency-weighted sum of pattern
// weights per category, thresholded in a fixed order.
type Scored struct {
	Patterns      *Patterns
	NeutralWeight float64
}

// NewScored creates a Scored evaluator. A nil table uses the defaults.
func NewScored(p *Patterns, neutral float64) *Scored {
	if p == nil {
		p = DefaultPatterns()
	}
	if neutral <= 0 {
		neutral = DefaultNeutralWeight
	}
	return &Scored{Patterns: p, NeutralWeight: neutral}
}

// Evaluate implements Evaluator.
func (s *Scored) Evaluate(in Input) Decision {
	d := Decision{Scores: make(map[model.Status]float64, len(model.Statuses))}
	for _, cat := range model.Statuses {
		d.Scores[cat] = 0
	}

	for _, m := range in.Mentions {
		hits := s.Patterns.Match(MentionText(m))
		if len(hits) == 0 {
			continue
		}
		rw := RecencyWeight(m.PublishedAt, in.Now, s.NeutralWeight)
		contributed := false
		for _, h := range hits {
			w := h.Weight * rw
			if w == 0 {
				continue
			}
			contributed = true
			d.Scores[h.Category] += w
			d.Evidence = append(d.Evidence, model.StatusEvidence{
				PatternMatched: h.Matched,
				SourceURL:      m.URL,
				PublishedAt:    m.PublishedAt,
				StatusBucket:   h.Category,
				Weight:         w,
			})
		}
		if contributed {
			d.LastSignalAt = later(d.LastSignalAt, m.PublishedAt)
		}
	}

	active := d.Scores[model.StatusActive]
	dead := d.Scores[model.StatusDeadCandidate]
	uncertain := d.Scores[model.StatusUncertain]
	revived := d.Scores[model.StatusRevived]

	switch {
	case revived > 0:
		d.Status, d.Confidence, d.Reason = model.StatusActive, model.ConfidenceMedium, "revival signal"
	case dead >= deadThreshold:
		d.Status, d.Confidence = model.StatusDeadCandidate, model.ConfidenceMedium
		if dead >= deadHighThreshold {
			d.Confidence = model.ConfidenceHigh
		}
		d.Reason = fmt.Sprintf("dead_candidate score %.2f", dead)
	case uncertain >= uncertainThreshold:
		d.Status, d.Confidence = model.StatusUncertain, model.ConfidenceMedium
		d.Reason = fmt.Sprintf("uncertain score %.2f", uncertain)
	case active >= activeThreshold:
		d.Status, d.Confidence = model.StatusActive, model.ConfidenceMedium
		if active >= activeHighThreshold {
			d.Confidence = model.ConfidenceHigh
		}
		d.Reason = fmt.Sprintf("active score %.2f", active)
	case active > 0:
		d.Status, d.Confidence = model.StatusUncertain, model.ConfidenceLow
		d.Reason = "announcement without progress signal"
	default:
		d.Status, d.Confidence = model.StatusUncertain, model.ConfidenceLow
		d.Reason = ageReason(in.AnnouncedDate, in.Now)
	}
	return d
}

// ageReason explains a no-signal verdict from the project's age. The
// verdict itself is always uncertain/low.
func ageReason(announced *time.Time, now time.Time) string {
	if announced == nil {
		return "no signals"
	}
	age := model.DaysBetween(*announced, now)
	switch {
	case age < tooEarlyDays:
		return "too early to tell"
	case age <= staleDays:
		return "announced, no progress signal"
	default:
		return "stale"
	}
}

func later(cur, t *time.Time) *time.Time {
	if t == nil {
		return cur
	}
	if cur == nil || t.After(*cur) {
		v := *t
		return &v
	}
	return cur
}
