// Package status infers a project's lifecycle status from the text of its
// mentions and maintains the append-only status history.
package status

import (
	"os"
	"regexp"
	"strings"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/projtrack/internal/model"
)

// PatternSpec is one row of the declarative pattern table. An omitted
// weight means 1.0; an explicit 0 switches the pattern off.
type PatternSpec struct {
	Name   string   `yaml:"name"`
	Regex  string   `yaml:"regex"`
	Weight *float64 `yaml:"weight,omitempty"`
}

func weight(w float64) *float64 { return &w }

// Pattern is a compiled PatternSpec.
type Pattern struct {
	Name   string
	Weight float64
	re     *regexp.Regexp
}

// Hit is a single pattern match within a mention's text.
type Hit struct {
	Category model.Status
	Pattern  string
	Matched  string
	Weight   float64
}

// Patterns is a compiled pattern table keyed by status category.
type Patterns struct {
	categories map[model.Status][]Pattern
}

// DefaultTable is the built-in pattern table. Only active patterns are
// weight-differentiated.
var DefaultTable = map[model.Status][]PatternSpec{
	model.StatusActive: {
		{Name: "operational", Weight: weight(2.5), Regex: `\b(?:operational|went online|came online|now online|went live|began operations|commenced operations|opened its doors|ribbon[- ]cutting|entered service)\b`},
		{Name: "construction", Weight: weight(2.0), Regex: `\b(?:under construction|broke ground|breaks ground|groundbreaking|construction (?:began|begins|has begun|started|is underway|underway)|topped out|topping out)\b`},
		{Name: "approval", Weight: weight(1.5), Regex: `\b(?:approved|approves|zoning approval|permits? (?:issued|granted)|permitted|rezoning (?:passed|granted)|tax abatement)\b`},
		{Name: "announcement", Weight: weight(1.0), Regex: `(?:\b(?:announced|announces|plans? to build|unveiled|unveils|proposed|will build|to invest|investment of)\b|\$\s?\d[\d.,]*\s*(?:billion|million|bn)\b)`},
	},
	model.StatusDeadCandidate: {
		{Name: "cancelled", Weight: weight(1.0), Regex: `\b(?:cancell?ed|cancels|scrapped|scraps|abandoned|abandons|shelved|terminated)\b`},
		{Name: "withdrawn", Weight: weight(1.0), Regex: `\b(?:withdrew|withdrawn|withdraws|pulled out|pulls out|backed out|walked away)\b`},
		{Name: "denied", Weight: weight(1.0), Regex: `\b(?:denied|rejected|voted down)\b`},
		{Name: "expired", Weight: weight(1.0), Regex: `\b(?:expired|lapsed)\b`},
	},
	model.StatusUncertain: {
		{Name: "delayed", Weight: weight(1.0), Regex: `\b(?:delayed|delays|postponed|postpones|pushed back|on hold|paused|stalled)\b`},
		{Name: "under_review", Weight: weight(1.0), Regex: `\b(?:under review|pending (?:approval|review)|tabled|appealed|lawsuit|litigation)\b`},
		{Name: "reconsidering", Weight: weight(1.0), Regex: `\b(?:reconsider(?:ing|s)?|re-?evaluat(?:e|es|ing)|in doubt)\b`},
	},
	model.StatusRevived: {
		{Name: "resumed", Weight: weight(1.0), Regex: `\b(?:resumed|resumes|resuming|restarted|restarts|back on track|reinstated)\b`},
		{Name: "revived", Weight: weight(1.0), Regex: `\b(?:revived|revives|revival|new life)\b`},
	},
}

var defaultPatterns = mustCompile(DefaultTable)

// DefaultPatterns returns the compiled built-in table.
func DefaultPatterns() *Patterns { return defaultPatterns }

func mustCompile(table map[model.Status][]PatternSpec) *Patterns {
	p, err := CompilePatterns(table)
	if err != nil {
		panic(err)
	}
	return p
}

// CompilePatterns compiles a pattern table. Matching is case-insensitive and
// an omitted weight means 1.0.
func CompilePatterns(table map[model.Status][]PatternSpec) (*Patterns, error) {
	p := &Patterns{categories: make(map[model.Status][]Pattern, len(table))}
	for cat, specs := range table {
		if !validCategory(cat) {
			return nil, eris.Errorf("status: unknown pattern category %q", cat)
		}
		for _, spec := range specs {
			if strings.TrimSpace(spec.Regex) == "" {
				return nil, eris.Errorf("status: pattern %s/%s has no regex", cat, spec.Name)
			}
			w := 1.0
			if spec.Weight != nil {
				w = *spec.Weight
			}
			if w < 0 {
				return nil, eris.Errorf("status: pattern %s/%s has negative weight", cat, spec.Name)
			}
			re, err := regexp.Compile("(?i)" + spec.Regex)
			if err != nil {
				return nil, eris.Wrapf(err, "status: compile pattern %s/%s", cat, spec.Name)
			}
			p.categories[cat] = append(p.categories[cat], Pattern{Name: spec.Name, Weight: w, re: re})
		}
	}
	return p, nil
}

// LoadPatterns reads a pattern table from a YAML file keyed by category.
func LoadPatterns(path string) (*Patterns, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "status: read patterns %s", path)
	}

	var table map[model.Status][]PatternSpec
	if err := yaml.Unmarshal(data, &table); err != nil {
		return nil, eris.Wrap(err, "status: parse patterns")
	}
	if len(table) == 0 {
		return nil, eris.Errorf("status: patterns file %s is empty", path)
	}
	return CompilePatterns(table)
}

// Category returns the compiled patterns of one category.
func (p *Patterns) Category(cat model.Status) []Pattern {
	return p.categories[cat]
}

// Match returns every pattern that matches text, at most one hit per
// pattern, with categories in model.Statuses order.
func (p *Patterns) Match(text string) []Hit {
	if text == "" {
		return nil
	}
	var hits []Hit
	for _, cat := range model.Statuses {
		for _, pat := range p.categories[cat] {
			if pat.Weight == 0 {
				continue
			}
			if m := pat.re.FindString(text); m != "" {
				hits = append(hits, Hit{Category: cat, Pattern: pat.Name, Matched: strings.ToLower(m), Weight: pat.Weight})
			}
		}
	}
	return hits
}

func validCategory(cat model.Status) bool {
	for _, s := range model.Statuses {
		if s == cat {
			return true
		}
	}
	return false
}
