package resolve

import (
	"sort"

	"github.com/sells-group/projtrack/internal/model"
)

// Group is one resolved cluster of cards. Members[0] is the seed.
type Group struct {
	Members []model.ProjectCard
}

// Seed returns the card the group was opened from.
func (g Group) Seed() model.ProjectCard {
	return g.Members[0]
}

// MentionIDs returns the member mention ids in group order.
func (g Group) MentionIDs() []string {
	ids := make([]string, len(g.Members))
	for i, c := range g.Members {
		ids[i] = c.MentionID
	}
	return ids
}

// SortCards orders cards for resolution: announced date ascending, undated
// cards last, ties broken by mention id so the order is total.
func SortCards(cards []model.ProjectCard) {
	sort.SliceStable(cards, func(i, j int) bool {
		a, b := cards[i].AnnouncedDate, cards[j].AnnouncedDate
		switch {
		case a != nil && b != nil && !a.Equal(*b):
			return a.Before(*b)
		case a != nil && b == nil:
			return true
		case a == nil && b != nil:
			return false
		}
		return cards[i].MentionID < cards[j].MentionID
	})
}

// Resolve partitions cards into groups with a single greedy pass. Each
// unconsumed card seeds a group and absorbs every later unconsumed card
// that matches the seed itself; absorbed cards are not used to reach
// further cards. Every input card lands in exactly one group. The input
// slice is not modified.
func Resolve(cards []model.ProjectCard, windowDays int) []Group {
	ordered := make([]model.ProjectCard, len(cards))
	copy(ordered, cards)
	SortCards(ordered)

	keys := make([]matchKey, len(ordered))
	for i := range ordered {
		keys[i] = keyOf(&ordered[i])
	}

	consumed := make([]bool, len(ordered))
	var groups []Group
	for i := range ordered {
		if consumed[i] {
			continue
		}
		consumed[i] = true
		g := Group{Members: []model.ProjectCard{ordered[i]}}

		if keys[i].mergeable() {
			for j := i + 1; j < len(ordered); j++ {
				if consumed[j] || !keys[i].matches(keys[j], windowDays) {
					continue
				}
				consumed[j] = true
				g.Members = append(g.Members, ordered[j])
			}
		}
		groups = append(groups, g)
	}
	return groups
}

// Attachment pairs an unresolved card with the existing project it joins.
type Attachment struct {
	ProjectID string
	MentionID string
}

// AttachToExisting matches unresolved cards against existing projects, whose
// stored fields act as the seed card. Projects are tried in the given order
// and the first match wins. Cards that match nothing are returned in rest.
func AttachToExisting(cards []model.ProjectCard, projects []model.Project, windowDays int) ([]Attachment, []model.ProjectCard) {
	if len(projects) == 0 {
		return nil, cards
	}

	seeds := make([]matchKey, len(projects))
	for i := range projects {
		card := projects[i].AsCard()
		seeds[i] = keyOf(&card)
	}

	var attached []Attachment
	var rest []model.ProjectCard
	for i := range cards {
		k := keyOf(&cards[i])
		matched := false
		if k.mergeable() {
			for p := range projects {
				if seeds[p].matches(k, windowDays) {
					attached = append(attached, Attachment{ProjectID: projects[p].ProjectID, MentionID: cards[i].MentionID})
					matched = true
					break
				}
			}
		}
		if !matched {
			rest = append(rest, cards[i])
		}
	}
	return attached, rest
}

// BuildProject aggregates a group into a project. Descriptive fields come
// from the seed, falling back to the first member that has them. Sizes come
// from the most confident card that reports them and are never summed. The
// announced date is the earliest seen and the extraction confidence the best.
func BuildProject(g Group) model.Project {
	seed := g.Seed()
	p := model.Project{
		ProjectID:            model.NewProjectID(seed.MentionID),
		ProjectName:          firstString(g.Members, func(c *model.ProjectCard) *string { return c.ProjectName }),
		Company:              firstString(g.Members, func(c *model.ProjectCard) *string { return c.Company }),
		LocationText:         firstString(g.Members, func(c *model.ProjectCard) *string { return c.LocationText }),
		SiteHint:             firstString(g.Members, func(c *model.ProjectCard) *string { return c.SiteHint }),
		SizeMW:               bestSize(g.Members, func(c *model.ProjectCard) *float64 { return c.SizeMW }),
		SizeSqft:             bestSize(g.Members, func(c *model.ProjectCard) *float64 { return c.SizeSqft }),
		SizeAcres:            bestSize(g.Members, func(c *model.ProjectCard) *float64 { return c.SizeAcres }),
		ExtractionConfidence: seed.ExtractionConfidence,
		MentionIDs:           g.MentionIDs(),
	}

	for i := range g.Members {
		c := &g.Members[i]
		if c.ExtractionConfidence.Rank() > p.ExtractionConfidence.Rank() {
			p.ExtractionConfidence = c.ExtractionConfidence
		}
		if c.AnnouncedDate != nil && (p.AnnouncedDate == nil || c.AnnouncedDate.Before(*p.AnnouncedDate)) {
			d := *c.AnnouncedDate
			p.AnnouncedDate = &d
		}
	}
	if p.ExtractionConfidence == "" {
		p.ExtractionConfidence = model.ConfidenceLow
	}
	return p
}

func firstString(cards []model.ProjectCard, field func(*model.ProjectCard) *string) *string {
	for i := range cards {
		if v := field(&cards[i]); v != nil && *v != "" {
			s := *v
			return &s
		}
	}
	return nil
}

func bestSize(cards []model.ProjectCard, field func(*model.ProjectCard) *float64) *float64 {
	var best *float64
	bestRank := -1
	for i := range cards {
		v := field(&cards[i])
		if v == nil {
			continue
		}
		if r := cards[i].ExtractionConfidence.Rank(); r > bestRank {
			f := *v
			best, bestRank = &f, r
		}
	}
	return best
}
