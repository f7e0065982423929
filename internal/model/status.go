package model

import "time"

// Status is a project lifecycle state. The zero value means the project has
// never been evaluated.
type Status string

const (
	StatusUnknown       Status = ""
	StatusActive        Status = "active"
	StatusUncertain     Status = "uncertain"
	StatusDeadCandidate Status = "dead_candidate"
	StatusRevived       Status = "revived"
)

// Statuses lists the four evaluated states in scoring order.
var Statuses = []Status{StatusActive, StatusDeadCandidate, StatusUncertain, StatusRevived}

// StatusEvidence is one textual signal that contributed to a score.
type StatusEvidence struct {
	PatternMatched string     `json:"pattern_matched"`
	SourceURL      string     `json:"source_url"`
	PublishedAt    *time.Time `json:"published_at,omitempty"`
	StatusBucket   Status     `json:"status_bucket"`
	Weight         float64    `json:"weight"`
}

// StatusEntry is one element of the append-only status history.
type StatusEntry struct {
	Status     Status           `json:"status"`
	Confidence Confidence       `json:"confidence"`
	UpdatedAt  time.Time        `json:"updated_at"`
	Evidence   []StatusEvidence `json:"evidence"`
	Reason     string           `json:"reason,omitempty"`
}

// ProjectStatus is the lifecycle record kept 1:1 with a Project.
// StatusCurrent always equals the status of the last history entry.
type ProjectStatus struct {
	ProjectID        string             `json:"project_id"`
	StatusCurrent    Status             `json:"status_current"`
	StatusConfidence Confidence         `json:"status_confidence"`
	StatusHistory    []StatusEntry      `json:"status_history"`
	LastSignalAt     *time.Time         `json:"last_signal_at,omitempty"`
	StatusScores     map[Status]float64 `json:"status_scores"`
	UpdatedAt        time.Time          `json:"updated_at"`
}

// SilenceClass is the purely time-based reporting classification.
type SilenceClass string

const (
	SilenceActive       SilenceClass = "active"
	SilenceStalled      SilenceClass = "stalled"
	SilenceDead         SilenceClass = "dead"
	SilenceNeverUpdated SilenceClass = "never_updated"
)
