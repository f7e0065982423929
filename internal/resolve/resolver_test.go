package resolve

import (
	"fmt"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/projtrack/internal/model"
)

func date(s string) *time.Time {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return &t
}

func fp(f float64) *float64 { return &f }

func card(id, company, location, announced string) model.ProjectCard {
	c := model.ProjectCard{
		MentionID:            id,
		Company:              model.Str(company),
		LocationText:         model.Str(location),
		ExtractionConfidence: model.ConfidenceMedium,
	}
	if announced != "" {
		c.AnnouncedDate = date(announced)
	}
	return c
}

func TestNormalizeCompany(t *testing.T) {
	assert.Equal(t, "Vantage Data Centers", NormalizeCompany("  Vantage   Data\tCenters "))
	assert.NotEqual(t, NormalizeCompany("Vantage"), NormalizeCompany("VANTAGE"))
	// Precomposed and decomposed é are the same company.
	assert.Equal(t, NormalizeCompany("Cafe\u0301 Corp"), NormalizeCompany("Caf\u00e9 Corp"))
	assert.Equal(t, "", NormalizeCompany("   "))
}

func TestNormalizePlace(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"Shackelford County, TX", "shackelfordcountytx"},
		{"shackelford  county tx", "shackelfordcountytx"},
		{"Querétaro", "queretaro"},
		{"Project Stargate - Site #1", "projectstargatesite1"},
		{"  ", ""},
		{"...", ""},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizePlace(tt.in))
		})
	}
}

func TestIsSameProject_WithinWindow(t *testing.T) {
	a := card("m-1", "Vantage", "Shackelford County", "2024-01-10")
	b := card("m-2", "Vantage", "Shackelford County", "2024-03-01")
	assert.True(t, IsSameProject(a, b, DefaultTimeWindowDays))
	assert.True(t, IsSameProject(b, a, DefaultTimeWindowDays))
}

func TestIsSameProject_OutsideWindow(t *testing.T) {
	a := card("m-1", "Vantage", "Shackelford County", "2024-01-10")
	b := card("m-2", "Vantage", "Shackelford County", "2024-07-28") // 200 days later
	assert.False(t, IsSameProject(a, b, DefaultTimeWindowDays))

	a.SiteHint = model.Str("Frontier Campus")
	b.SiteHint = model.Str("frontier campus")
	assert.True(t, IsSameProject(a, b, DefaultTimeWindowDays), "site hint needs no time check")
}

func TestIsSameProject_Normalization(t *testing.T) {
	a := card("m-1", "Vantage ", "Shackelford County, TX", "2024-01-10")
	b := card("m-2", "Vantage", "shackelford county tx", "2024-01-11")
	assert.True(t, IsSameProject(a, b, DefaultTimeWindowDays))

	c := card("m-3", "vantage", "Shackelford County, TX", "2024-01-11")
	assert.False(t, IsSameProject(a, c, DefaultTimeWindowDays), "company match is case-sensitive")
}

func TestIsSameProject_MissingFieldsNeverMatch(t *testing.T) {
	a := card("m-1", "", "Shackelford County", "2024-01-10")
	b := card("m-2", "", "Shackelford County", "2024-01-10")
	assert.False(t, IsSameProject(a, b, DefaultTimeWindowDays))

	undated := card("m-3", "Vantage", "Shackelford County", "")
	dated := card("m-4", "Vantage", "Shackelford County", "2024-01-10")
	assert.False(t, IsSameProject(undated, dated, DefaultTimeWindowDays))

	assert.False(t, IsSameProject(model.ProjectCard{MentionID: "x"}, model.ProjectCard{MentionID: "y"}, DefaultTimeWindowDays))
}

func TestSortCards(t *testing.T) {
	cards := []model.ProjectCard{
		card("m-c", "A", "B", ""),
		card("m-b", "A", "B", "2024-02-01"),
		card("m-a", "A", "B", "2024-02-01"),
		card("m-d", "A", "B", "2023-12-01"),
		card("m-0", "A", "B", ""),
	}
	SortCards(cards)
	var ids []string
	for _, c := range cards {
		ids = append(ids, c.MentionID)
	}
	assert.Equal(t, []string{"m-d", "m-a", "m-b", "m-0", "m-c"}, ids)
}

func TestResolve_MergesWithinWindow(t *testing.T) {
	groups := Resolve([]model.ProjectCard{
		card("m-2", "Vantage", "Shackelford County", "2024-03-01"),
		card("m-1", "Vantage", "Shackelford County", "2024-01-10"),
	}, DefaultTimeWindowDays)

	require.Len(t, groups, 1)
	assert.Equal(t, []string{"m-1", "m-2"}, groups[0].MentionIDs())
	assert.Equal(t, "m-1", groups[0].Seed().MentionID)
}

func TestResolve_NoMergeOutsideWindow(t *testing.T) {
	groups := Resolve([]model.ProjectCard{
		card("m-1", "Vantage", "Shackelford County", "2024-01-10"),
		card("m-2", "Vantage", "Shackelford County", "2024-07-28"),
	}, DefaultTimeWindowDays)
	assert.Len(t, groups, 2)
}

func TestResolve_OneHopSeedAnchored(t *testing.T) {
	// m-3 is within the window of m-2 but not of the seed m-1; absorbed
	// cards do not extend the reach of a group.
	groups := Resolve([]model.ProjectCard{
		card("m-1", "Vantage", "Abilene", "2024-01-01"),
		card("m-2", "Vantage", "Abilene", "2024-06-01"),
		card("m-3", "Vantage", "Abilene", "2024-10-01"),
	}, DefaultTimeWindowDays)

	require.Len(t, groups, 2)
	assert.Equal(t, []string{"m-1", "m-2"}, groups[0].MentionIDs())
	assert.Equal(t, []string{"m-3"}, groups[1].MentionIDs())
}

func TestResolve_SingletonAmongThousand(t *testing.T) {
	cards := make([]model.ProjectCard, 0, 1001)
	for i := range 1000 {
		c := card(fmt.Sprintf("m-%04d", i), fmt.Sprintf("Company %d", i%7), fmt.Sprintf("County %d", i%5), "")
		c.AnnouncedDate = date("2024-01-01")
		shifted := c.AnnouncedDate.AddDate(0, 0, i%300)
		c.AnnouncedDate = &shifted
		if i%50 == 0 {
			c.SiteHint = model.Str("Unknown Project")
		}
		cards = append(cards, c)
	}
	cards = append(cards, model.ProjectCard{
		MentionID:            "lonely",
		ProjectName:          model.Str("Unknown Project"),
		ExtractionConfidence: model.ConfidenceLow,
	})

	groups := Resolve(cards, DefaultTimeWindowDays)

	var found *Group
	for i := range groups {
		for _, id := range groups[i].MentionIDs() {
			if id == "lonely" {
				found = &groups[i]
			}
		}
	}
	require.NotNil(t, found)
	assert.Equal(t, []string{"lonely"}, found.MentionIDs())
}

func TestResolve_PartitionAndIdempotence(t *testing.T) {
	var cards []model.ProjectCard
	for i := range 200 {
		c := card(fmt.Sprintf("m-%03d", i), fmt.Sprintf("Co%d", i%4), fmt.Sprintf("Loc%d", i%3), "")
		if i%9 != 0 {
			d := date("2023-06-01").AddDate(0, 0, (i*37)%500)
			c.AnnouncedDate = &d
		}
		if i%11 == 0 {
			c.SiteHint = model.Str(fmt.Sprintf("Campus %d", i%2))
		}
		cards = append(cards, c)
	}

	first := Resolve(cards, DefaultTimeWindowDays)

	seen := map[string]int{}
	for _, g := range first {
		require.NotEmpty(t, g.Members)
		for _, id := range g.MentionIDs() {
			seen[id]++
		}
	}
	require.Len(t, seen, len(cards))
	for id, n := range seen {
		assert.Equal(t, 1, n, "card %s assigned %d times", id, n)
	}

	// Same input in a different order yields the same partition.
	reversed := make([]model.ProjectCard, len(cards))
	for i := range cards {
		reversed[len(cards)-1-i] = cards[i]
	}
	assert.Equal(t, partition(first), partition(Resolve(reversed, DefaultTimeWindowDays)))
}

func partition(groups []Group) []string {
	var out []string
	for _, g := range groups {
		ids := g.MentionIDs()
		sort.Strings(ids)
		out = append(out, fmt.Sprint(ids))
	}
	sort.Strings(out)
	return out
}

func TestBuildProject(t *testing.T) {
	seed := card("m-1", "Vantage", "Shackelford County", "2024-02-01")
	seed.ExtractionConfidence = model.ConfidenceLow
	seed.SizeMW = fp(100)

	second := card("m-2", "Vantage", "Shackelford County", "2024-01-15")
	second.ProjectName = model.Str("Frontier")
	second.SizeMW = fp(1400)
	second.SizeAcres = fp(1200)
	second.ExtractionConfidence = model.ConfidenceHigh

	third := card("m-3", "Vantage LLC", "Abilene", "")
	third.SizeMW = fp(50)
	third.ExtractionConfidence = model.ConfidenceMedium

	p := BuildProject(Group{Members: []model.ProjectCard{seed, second, third}})

	assert.Equal(t, model.NewProjectID("m-1"), p.ProjectID)
	assert.Equal(t, "Vantage", model.Deref(p.Company))
	assert.Equal(t, "Shackelford County", model.Deref(p.LocationText))
	assert.Equal(t, "Frontier", model.Deref(p.ProjectName), "falls back to first member with a value")
	assert.Nil(t, p.SiteHint)
	require.NotNil(t, p.SizeMW)
	assert.InDelta(t, 1400, *p.SizeMW, 0.001, "size comes from the most confident card, not a sum")
	assert.InDelta(t, 1200, *p.SizeAcres, 0.001)
	assert.Nil(t, p.SizeSqft)
	assert.True(t, date("2024-01-15").Equal(*p.AnnouncedDate), "earliest announced date")
	assert.Equal(t, model.ConfidenceHigh, p.ExtractionConfidence)
	assert.Equal(t, []string{"m-1", "m-2", "m-3"}, p.MentionIDs)
}

func TestBuildProject_Singleton(t *testing.T) {
	p := BuildProject(Group{Members: []model.ProjectCard{{MentionID: "m-9", ProjectName: model.Str("Unknown Project")}}})
	assert.Equal(t, model.ConfidenceLow, p.ExtractionConfidence)
	assert.Equal(t, []string{"m-9"}, p.MentionIDs)
	assert.Nil(t, p.AnnouncedDate)
}

func TestAttachToExisting(t *testing.T) {
	existing := []model.Project{
		{ProjectID: "p-1", Company: model.Str("QTS"), LocationText: model.Str("Fayetteville"), AnnouncedDate: date("2024-01-01"), MentionIDs: []string{"m-0"}},
		{ProjectID: "p-2", SiteHint: model.Str("Project Rainier"), MentionIDs: []string{"m-00"}},
	}
	cards := []model.ProjectCard{
		card("m-1", "QTS", "Fayetteville.", "2024-03-01"),
		card("m-2", "QTS", "Fayetteville", "2025-06-01"),
		{MentionID: "m-3", SiteHint: model.Str("project rainier"), ExtractionConfidence: model.ConfidenceLow},
		{MentionID: "m-4"},
	}

	attached, rest := AttachToExisting(cards, existing, DefaultTimeWindowDays)
	assert.Equal(t, []Attachment{{ProjectID: "p-1", MentionID: "m-1"}, {ProjectID: "p-2", MentionID: "m-3"}}, attached)
	require.Len(t, rest, 2)
	assert.Equal(t, "m-2", rest[0].MentionID)
	assert.Equal(t, "m-4", rest[1].MentionID)
}

func TestAttachToExisting_NoProjects(t *testing.T) {
	cards := []model.ProjectCard{card("m-1", "QTS", "Fayetteville", "2024-03-01")}
	attached, rest := AttachToExisting(cards, nil, DefaultTimeWindowDays)
	assert.Empty(t, attached)
	assert.Equal(t, cards, rest)
}
