package model

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanonicalURL(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"strips www and fragment", "https://www.Example.com/news/a/#top", "https://example.com/news/a"},
		{"drops utm params", "https://example.com/a?utm_source=x&utm_medium=y", "https://example.com/a"},
		{"sorts remaining params", "https://example.com/a?b=2&a=1&fbclid=zzz", "https://example.com/a?a=1&b=2"},
		{"lowercases scheme", "HTTPS://example.com/a", "https://example.com/a"},
		{"unparseable kept", "  not a url  ", "not a url"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CanonicalURL(tt.in))
		})
	}
}

func TestMentionID_StableAcrossTrivialVariants(t *testing.T) {
	a := MentionID("https://www.example.com/story/123/?utm_source=feed")
	b := MentionID("https://example.com/story/123")
	assert.Equal(t, a, b)
	assert.Len(t, a, 32)
	assert.NotEqual(t, a, MentionID("https://example.com/story/124"))
}

func TestNewProjectID_Deterministic(t *testing.T) {
	assert.Equal(t, NewProjectID("m-1"), NewProjectID("m-1"))
	assert.NotEqual(t, NewProjectID("m-1"), NewProjectID("m-2"))
}

func TestParseConfidence(t *testing.T) {
	c, err := ParseConfidence("high")
	require.NoError(t, err)
	assert.Equal(t, ConfidenceHigh, c)

	c, err = ParseConfidence("")
	require.NoError(t, err)
	assert.Equal(t, ConfidenceLow, c)

	_, err = ParseConfidence("certain")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown confidence")
}

func TestConfidenceRank(t *testing.T) {
	assert.Greater(t, ConfidenceHigh.Rank(), ConfidenceMedium.Rank())
	assert.Greater(t, ConfidenceMedium.Rank(), ConfidenceLow.Rank())
	assert.Greater(t, ConfidenceLow.Rank(), Confidence("bogus").Rank())
}

func TestParseTime(t *testing.T) {
	want := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	for _, in := range []string{"2024-03-01", "2024-03-01T00:00:00Z", "2024-03-01 00:00:00", "March 1, 2024"} {
		got := ParseTime(in)
		require.NotNil(t, got, in)
		assert.True(t, want.Equal(*got), in)
	}

	assert.Nil(t, ParseTime(""))
	assert.Nil(t, ParseTime("sometime last spring"))
	assert.Nil(t, ParseTime("2024-13-45"))
}

func TestFormatTime_RoundTrip(t *testing.T) {
	assert.Nil(t, FormatTime(nil))

	ts := time.Date(2024, 1, 10, 12, 30, 0, 0, time.UTC)
	s := FormatTime(&ts)
	require.NotNil(t, s)
	back := ParseTime(*s)
	require.NotNil(t, back)
	assert.True(t, ts.Equal(*back))
}

func TestProjectCard_AbsentFieldsOmitted(t *testing.T) {
	card := ProjectCard{MentionID: "m-1", ExtractionConfidence: ConfidenceLow}
	data, err := json.Marshal(card)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "company")
	assert.NotContains(t, string(data), "size_mw")
}

func TestProject_AsCard(t *testing.T) {
	p := Project{
		ProjectID:    "p",
		Company:      Str("Vantage"),
		LocationText: Str("Shackelford County"),
		MentionIDs:   []string{"m-1", "m-2"},
	}
	card := p.AsCard()
	assert.Equal(t, "m-1", card.MentionID)
	assert.Equal(t, "Vantage", Deref(card.Company))
	assert.Nil(t, card.SiteHint)
}

func TestStrAndDeref(t *testing.T) {
	assert.Nil(t, Str(""))
	assert.Equal(t, "x", Deref(Str("x")))
	assert.Equal(t, "", Deref(nil))
}
