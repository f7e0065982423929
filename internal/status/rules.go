package status

import (
	"time"

	"github.com/sells-group/projtrack/internal/model"
)

// Rules is the most-recent-wins baseline. It is kept for comparison with
// Scored and never writes to the status table.
type Rules struct {
	Patterns *Patterns
}

// NewRules creates a Rules evaluator. A nil table uses the defaults.
func NewRules(p *Patterns) *Rules {
	if p == nil {
		p = DefaultPatterns()
	}
	return &Rules{Patterns: p}
}

type latestHit struct {
	at       time.Time
	evidence model.StatusEvidence
}

// Evaluate implements Evaluator. Undated mentions count as the oldest.
func (r *Rules) Evaluate(in Input) Decision {
	d := Decision{Scores: make(map[model.Status]float64, len(model.Statuses))}
	latest := make(map[model.Status]*latestHit, len(model.Statuses))
	deadSources := make(map[string]bool)

	for _, m := range in.Mentions {
		var at time.Time
		if m.PublishedAt != nil {
			at = *m.PublishedAt
		}
		seen := make(map[model.Status]bool)
		for _, h := range r.Patterns.Match(MentionText(m)) {
			if seen[h.Category] {
				continue
			}
			seen[h.Category] = true
			d.Scores[h.Category]++
			d.LastSignalAt = later(d.LastSignalAt, m.PublishedAt)
			if h.Category == model.StatusDeadCandidate {
				deadSources[model.CanonicalURL(m.URL)+"|"+m.MentionID] = true
			}
			if cur := latest[h.Category]; cur == nil || at.After(cur.at) {
				latest[h.Category] = &latestHit{at: at, evidence: model.StatusEvidence{
					PatternMatched: h.Matched,
					SourceURL:      m.URL,
					PublishedAt:    m.PublishedAt,
					StatusBucket:   h.Category,
					Weight:         h.Weight,
				}}
			}
		}
	}

	for _, cat := range model.Statuses {
		if h := latest[cat]; h != nil {
			d.Evidence = append(d.Evidence, h.evidence)
		}
	}

	dead := latest[model.StatusDeadCandidate]
	newerThanDead := func(h *latestHit) bool {
		return h != nil && (dead == nil || h.at.After(dead.at))
	}

	switch {
	case newerThanDead(latest[model.StatusRevived]):
		d.Status, d.Confidence, d.Reason = model.StatusActive, model.ConfidenceHigh, "revival newer than any dead signal"
	case newerThanDead(latest[model.StatusActive]):
		d.Status, d.Confidence, d.Reason = model.StatusActive, model.ConfidenceHigh, "active signal newer than any dead signal"
	case dead != nil:
		d.Status, d.Confidence, d.Reason = model.StatusDeadCandidate, model.ConfidenceMedium, "dead signal"
		if len(deadSources) >= 2 {
			d.Confidence = model.ConfidenceHigh
		}
	case latest[model.StatusUncertain] != nil:
		d.Status, d.Confidence, d.Reason = model.StatusUncertain, model.ConfidenceMedium, "uncertain signal"
	default:
		d.Status, d.Confidence, d.Reason = in.Previous, model.ConfidenceLow, "no signals, status kept"
	}
	return d
}
