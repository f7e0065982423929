package ingest

import (
	"bytes"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/projtrack/internal/model"
)

// looseTime accepts any timestamp string model.ParseTime understands.
// Anything else, including numbers, decodes as absent.
type looseTime struct{ t *time.Time }

func (l *looseTime) UnmarshalJSON(b []byte) error {
	s, ok := unquote(b)
	if ok {
		l.t = model.ParseTime(s)
	}
	return nil
}

// looseFloat accepts a JSON number or a numeric string such as "1,200".
// Negative, non-finite and unparseable values decode as absent.
type looseFloat struct{ v *float64 }

func (l *looseFloat) UnmarshalJSON(b []byte) error {
	s, _ := unquote(b)
	s = strings.ReplaceAll(strings.TrimSpace(s), ",", "")
	if s == "" || s == "null" {
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || v < 0 || math.IsInf(v, 0) || math.IsNaN(v) {
		return nil
	}
	l.v = &v
	return nil
}

func unquote(b []byte) (string, bool) {
	b = bytes.TrimSpace(b)
	if len(b) >= 2 && b[0] == '"' && b[len(b)-1] == '"' {
		s, err := strconv.Unquote(string(b))
		return s, err == nil
	}
	return string(b), false
}

// MentionInput is a mention as written by the collector.
type MentionInput struct {
	MentionID   string    `json:"mention_id"`
	Title       string    `json:"title"`
	Snippet     string    `json:"snippet"`
	RawText     *string   `json:"raw_text"`
	PublishedAt looseTime `json:"published_at"`
	URL         string    `json:"url"`
}

// Record converts the input into a MentionRecord, deriving the id from the
// URL when absent.
func (in MentionInput) Record() (model.MentionRecord, error) {
	url := strings.TrimSpace(in.URL)
	id := strings.TrimSpace(in.MentionID)
	if url == "" {
		return model.MentionRecord{}, eris.New("ingest: mention has no url")
	}
	if id == "" {
		id = model.MentionID(url)
	}
	var raw *string
	if in.RawText != nil && strings.TrimSpace(*in.RawText) != "" {
		raw = in.RawText
	}
	return model.MentionRecord{
		MentionID:   id,
		Title:       strings.TrimSpace(in.Title),
		Snippet:     strings.TrimSpace(in.Snippet),
		RawText:     raw,
		PublishedAt: in.PublishedAt.t,
		URL:         url,
	}, nil
}

// CardInput is a card as written by the extractor. A card may reference
// its mention by id or by article url.
type CardInput struct {
	MentionID            string     `json:"mention_id"`
	URL                  string     `json:"url"`
	ProjectName          string     `json:"project_name"`
	Company              string     `json:"company"`
	LocationText         string     `json:"location_text"`
	SiteHint             string     `json:"site_hint"`
	SizeMW               looseFloat `json:"size_mw"`
	SizeSqft             looseFloat `json:"size_sqft"`
	SizeAcres            looseFloat `json:"size_acres"`
	AnnouncedDate        looseTime  `json:"announced_date"`
	ExtractionConfidence string     `json:"extraction_confidence"`
}

// Card converts the input into a ProjectCard. Blank strings are absent and
// an unknown confidence grade is treated as low.
func (in CardInput) Card() (model.ProjectCard, error) {
	id := strings.TrimSpace(in.MentionID)
	if id == "" && strings.TrimSpace(in.URL) != "" {
		id = model.MentionID(in.URL)
	}
	if id == "" {
		return model.ProjectCard{}, eris.New("ingest: card has no mention_id or url")
	}

	conf, err := model.ParseConfidence(strings.ToLower(strings.TrimSpace(in.ExtractionConfidence)))
	if err != nil {
		zap.L().Debug("unknown extraction confidence, using low",
			zap.String("mention_id", id),
			zap.String("confidence", in.ExtractionConfidence),
		)
		conf = model.ConfidenceLow
	}

	return model.ProjectCard{
		MentionID:            id,
		ProjectName:          model.Str(strings.TrimSpace(in.ProjectName)),
		Company:              model.Str(strings.TrimSpace(in.Company)),
		LocationText:         model.Str(strings.TrimSpace(in.LocationText)),
		SiteHint:             model.Str(strings.TrimSpace(in.SiteHint)),
		SizeMW:               in.SizeMW.v,
		SizeSqft:             in.SizeSqft.v,
		SizeAcres:            in.SizeAcres.v,
		AnnouncedDate:        in.AnnouncedDate.t,
		ExtractionConfidence: conf,
	}, nil
}
