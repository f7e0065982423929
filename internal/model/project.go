package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
)

// Confidence is a coarse three-level confidence grade.
type Confidence string

const (
	ConfidenceLow    Confidence = "low"
	ConfidenceMedium Confidence = "medium"
	ConfidenceHigh   Confidence = "high"
)

// Rank orders confidence levels; unknown values rank below low.
func (c Confidence) Rank() int {
	switch c {
	case ConfidenceHigh:
		return 3
	case ConfidenceMedium:
		return 2
	case ConfidenceLow:
		return 1
	default:
		return 0
	}
}

// ParseConfidence converts a string into a Confidence. Empty input maps to low.
func ParseConfidence(s string) (Confidence, error) {
	switch Confidence(s) {
	case ConfidenceLow, ConfidenceMedium, ConfidenceHigh:
		return Confidence(s), nil
	case "":
		return ConfidenceLow, nil
	default:
		return "", eris.Errorf("model: unknown confidence %q (valid: low, medium, high)", s)
	}
}

// ProjectCard is the extractor's best-effort structured guess for a single
// mention. Absent fields are nil; absence is the normal case.
type ProjectCard struct {
	MentionID            string     `json:"mention_id"`
	ProjectName          *string    `json:"project_name,omitempty"`
	Company              *string    `json:"company,omitempty"`
	LocationText         *string    `json:"location_text,omitempty"`
	SiteHint             *string    `json:"site_hint,omitempty"`
	SizeMW               *float64   `json:"size_mw,omitempty"`
	SizeSqft             *float64   `json:"size_sqft,omitempty"`
	SizeAcres            *float64   `json:"size_acres,omitempty"`
	AnnouncedDate        *time.Time `json:"announced_date,omitempty"`
	ExtractionConfidence Confidence `json:"extraction_confidence"`
}

// Project is the canonical, deduplicated entity for one real-world
// construction effort. MentionIDs and SourceURLs are sets.
type Project struct {
	ProjectID            string     `json:"project_id"`
	ProjectName          *string    `json:"project_name,omitempty"`
	Company              *string    `json:"company,omitempty"`
	LocationText         *string    `json:"location_text,omitempty"`
	SiteHint             *string    `json:"site_hint,omitempty"`
	SizeMW               *float64   `json:"size_mw,omitempty"`
	SizeSqft             *float64   `json:"size_sqft,omitempty"`
	SizeAcres            *float64   `json:"size_acres,omitempty"`
	AnnouncedDate        *time.Time `json:"announced_date,omitempty"`
	ExtractionConfidence Confidence `json:"extraction_confidence"`
	MentionIDs           []string   `json:"mention_ids"`
	SourceURLs           []string   `json:"source_urls"`
	CreatedAt            time.Time  `json:"created_at"`
}

// projectNamespace scopes name-based project UUIDs.
var projectNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("https://sells-group/projtrack/project"))

// NewProjectID derives the stable project id from the mention that seeded it.
// Reprocessing the same seed always yields the same id.
func NewProjectID(seedMentionID string) string {
	return uuid.NewSHA1(projectNamespace, []byte(seedMentionID)).String()
}

// AsCard views a project's stored fields as a card so that it can take part
// in the same merge predicate as its seed did.
func (p *Project) AsCard() ProjectCard {
	seed := ""
	if len(p.MentionIDs) > 0 {
		seed = p.MentionIDs[0]
	}
	return ProjectCard{
		MentionID:            seed,
		ProjectName:          p.ProjectName,
		Company:              p.Company,
		LocationText:         p.LocationText,
		SiteHint:             p.SiteHint,
		SizeMW:               p.SizeMW,
		SizeSqft:             p.SizeSqft,
		SizeAcres:            p.SizeAcres,
		AnnouncedDate:        p.AnnouncedDate,
		ExtractionConfidence: p.ExtractionConfidence,
	}
}

// Str returns a pointer to s, or nil when s is empty.
func Str(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// Deref returns the value of p or "" when p is nil.
func Deref(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}
