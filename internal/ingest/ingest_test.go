package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/projtrack/internal/batch"
	"github.com/sells-group/projtrack/internal/model"
	"github.com/sells-group/projtrack/internal/store"
)

func newTestStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "ingest.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

func jsonUnmarshal(s string, v any) error { return json.Unmarshal([]byte(s), v) }

type rec struct {
	ID int `json:"id"`
}

func collect(t *testing.T, input string) ([]int, []int, error) {
	t.Helper()
	var ids, bad []int
	err := Decode(context.Background(), strings.NewReader(input), func(r rec) error {
		ids = append(ids, r.ID)
		return nil
	}, func(line int, _ error) { bad = append(bad, line) })
	return ids, bad, err
}

func TestDecode_Lines(t *testing.T) {
	ids, bad, err := collect(t, "{\"id\":1}\n\n{broken\n  {\"id\":3}  \n")
	require.NoError(t, err)
	assert.Equal(t, []int{1, 3}, ids)
	assert.Equal(t, []int{3}, bad)
}

func TestDecode_Array(t *testing.T) {
	ids, bad, err := collect(t, "  \n[{\"id\":1},{\"id\":2}]")
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2}, ids)
	assert.Empty(t, bad)

	_, _, err = collect(t, `[{"id":1},{"id":"x"}]`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decode element 1")
}

func TestDecode_Empty(t *testing.T) {
	ids, _, err := collect(t, "   ")
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestDecode_CallbackErrorStops(t *testing.T) {
	boom := errors.New("boom")
	calls := 0
	err := Decode(context.Background(), strings.NewReader("{\"id\":1}\n{\"id\":2}\n"), func(rec) error {
		calls++
		return boom
	}, nil)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, calls)
}

func TestMentionInput_Tolerant(t *testing.T) {
	var in MentionInput
	require.NoError(t, jsonUnmarshal(`{"url":" https://www.example.com/a?utm_source=x ","title":" T ","published_at":"last tuesday","raw_text":"  "}`, &in))

	m, err := in.Record()
	require.NoError(t, err)
	assert.Equal(t, model.MentionID("https://example.com/a"), m.MentionID)
	assert.Equal(t, "T", m.Title)
	assert.Nil(t, m.PublishedAt)
	assert.Nil(t, m.RawText)

	in = MentionInput{}
	require.NoError(t, jsonUnmarshal(`{"mention_id":"m-1","url":"https://x.example/1","published_at":"2024-03-01"}`, &in))
	m, err = in.Record()
	require.NoError(t, err)
	assert.Equal(t, "m-1", m.MentionID)
	require.NotNil(t, m.PublishedAt)
	assert.True(t, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC).Equal(*m.PublishedAt))

	_, err = MentionInput{Title: "no url"}.Record()
	require.Error(t, err)
}

func TestCardInput_Tolerant(t *testing.T) {
	var in CardInput
	require.NoError(t, jsonUnmarshal(`{
		"mention_id": "m-1",
		"company": "  Vantage ",
		"location_text": "",
		"size_mw": "1,200",
		"size_sqft": -5,
		"size_acres": null,
		"announced_date": "not a date",
		"extraction_confidence": "HIGH"
	}`, &in))

	c, err := in.Card()
	require.NoError(t, err)
	assert.Equal(t, "Vantage", model.Deref(c.Company))
	assert.Nil(t, c.LocationText)
	require.NotNil(t, c.SizeMW)
	assert.InDelta(t, 1200, *c.SizeMW, 1e-9)
	assert.Nil(t, c.SizeSqft)
	assert.Nil(t, c.SizeAcres)
	assert.Nil(t, c.AnnouncedDate)
	assert.Equal(t, model.ConfidenceHigh, c.ExtractionConfidence)

	c, err = CardInput{URL: "https://example.com/a", ExtractionConfidence: "certain"}.Card()
	require.NoError(t, err)
	assert.Equal(t, model.MentionID("https://example.com/a"), c.MentionID)
	assert.Equal(t, model.ConfidenceLow, c.ExtractionConfidence)

	_, err = CardInput{Company: "orphan"}.Card()
	require.Error(t, err)
}

func TestImportMentionsAndCards(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	mentions := strings.Join([]string{
		`{"mention_id":"m-1","url":"https://a.example/1","title":"Vantage breaks ground","published_at":"2024-01-10T08:00:00Z"}`,
		`{"mention_id":"m-2","url":"https://a.example/2","title":"Vantage expands"}`,
		`{"title":"no url"}`,
		`not json`,
		`{"mention_id":"m-3","url":"https://a.example/3"}`,
	}, "\n")
	stats, err := ImportMentions(ctx, st, strings.NewReader(mentions), 2)
	require.NoError(t, err)
	assert.Equal(t, ImportStats{Read: 5, Rejected: 2, Written: 3}, stats)

	cards := `[
		{"mention_id":"m-1","company":"Vantage","location_text":"Shackelford County","announced_date":"2024-01-10","extraction_confidence":"high"},
		{"mention_id":"m-2","company":"Vantage"}
	]`
	stats, err = ImportCards(ctx, st, strings.NewReader(cards), 0)
	require.NoError(t, err)
	assert.Equal(t, ImportStats{Read: 2, Written: 2}, stats)

	got, err := st.GetCards(ctx, []string{"m-1", "m-2"})
	require.NoError(t, err)
	require.Len(t, got, 2)
}

func TestImportCards_OrphansRejected(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	_, err := st.UpsertMentions(ctx, []model.MentionRecord{
		{MentionID: "m-1", URL: "https://a.example/1"},
		{MentionID: "m-2", URL: "https://a.example/2"},
	})
	require.NoError(t, err)

	cards := strings.Join([]string{
		`{"mention_id":"m-1","company":"Vantage"}`,
		`{"mention_id":"ghost","company":"X"}`,
		`{"mention_id":"m-2","company":"Vantage"}`,
	}, "\n")
	stats, err := ImportCards(ctx, st, strings.NewReader(cards), 10)
	require.NoError(t, err)
	assert.Equal(t, ImportStats{Read: 3, Rejected: 1, Written: 2}, stats)

	got, err := st.GetCards(ctx, []string{"m-1", "ghost", "m-2"})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "m-1", got[0].MentionID)
	assert.Equal(t, "m-2", got[1].MentionID)
}

type failingCards struct{}

func (failingCards) KnownMentionIDs(context.Context, []string) ([]string, error) {
	return []string{"m-1"}, nil
}

func (failingCards) UpsertCards(context.Context, []model.ProjectCard) (int, error) {
	return 0, errors.New("disk full")
}

func TestImportCards_StoreErrorPropagates(t *testing.T) {
	_, err := ImportCards(context.Background(), failingCards{}, strings.NewReader(`{"mention_id":"m-1","company":"X"}`), 10)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ingest: store cards")
}

func TestFileExtractor(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cards.jsonl")
	require.NoError(t, os.WriteFile(path, []byte(
		`{"mention_id":"m-1","company":"Old"}`+"\n"+
			`garbage`+"\n"+
			`{"mention_id":"m-1","company":"New"}`+"\n"+
			`{"company":"no id"}`+"\n"), 0644))

	fe, err := NewFileExtractor(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, 1, fe.Len())

	c, err := fe.Extract(context.Background(), model.MentionRecord{MentionID: "m-1"})
	require.NoError(t, err)
	require.NotNil(t, c)
	assert.Equal(t, "New", model.Deref(c.Company))

	c, err = fe.Extract(context.Background(), model.MentionRecord{MentionID: "m-2"})
	require.NoError(t, err)
	assert.Nil(t, c)

	_, err = NewFileExtractor(context.Background(), filepath.Join(t.TempDir(), "missing.jsonl"))
	require.Error(t, err)
}

func TestBackfillJob_PreservesAssignment(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	_, err := st.UpsertMentions(ctx, []model.MentionRecord{
		{MentionID: "m-1", URL: "https://a.example/1"},
		{MentionID: "m-2", URL: "https://a.example/2"},
		{MentionID: "m-3", URL: "https://a.example/3"},
	})
	require.NoError(t, err)
	_, err = st.UpsertCards(ctx, []model.ProjectCard{
		{MentionID: "m-1", Company: model.Str("Vantage"), ExtractionConfidence: model.ConfidenceLow},
		{MentionID: "m-2", Company: model.Str("Other"), ExtractionConfidence: model.ConfidenceLow},
	})
	require.NoError(t, err)
	created, _, err := st.CreateProject(ctx, &model.Project{
		ProjectID:            model.NewProjectID("m-1"),
		Company:              model.Str("Vantage"),
		ExtractionConfidence: model.ConfidenceLow,
		MentionIDs:           []string{"m-1"},
	})
	require.NoError(t, err)
	require.True(t, created)

	ex := NewMapExtractor(
		model.ProjectCard{MentionID: "m-1", Company: model.Str("Vantage Data Centers"), ExtractionConfidence: model.ConfidenceHigh},
		model.ProjectCard{MentionID: "m-3", Company: model.Str("Newco"), ExtractionConfidence: model.ConfidenceMedium},
	)
	job := NewBackfillJob(st, ex, NewLimiter(1000, 10))
	res, err := batch.NewRunner(st, batch.Config{}).Run(ctx, job)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Processed)
	assert.Equal(t, BackfillStats{Extracted: 2, Missing: 1}, job.Stats)

	cards, err := st.GetCards(ctx, []string{"m-1", "m-3"})
	require.NoError(t, err)
	require.Len(t, cards, 2)
	byID := map[string]model.ProjectCard{}
	for _, c := range cards {
		byID[c.MentionID] = c
	}
	assert.Equal(t, "Vantage Data Centers", model.Deref(byID["m-1"].Company))
	assert.Equal(t, "Newco", model.Deref(byID["m-3"].Company))

	p, err := st.GetProject(ctx, model.NewProjectID("m-1"))
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, []string{"m-1"}, p.MentionIDs)

	unresolved, err := st.ListUnresolvedCards(ctx)
	require.NoError(t, err)
	var ids []string
	for _, c := range unresolved {
		ids = append(ids, c.MentionID)
	}
	assert.ElementsMatch(t, []string{"m-2", "m-3"}, ids)
}

type failingExtractor struct{}

func (failingExtractor) Extract(context.Context, model.MentionRecord) (*model.ProjectCard, error) {
	return nil, errors.New("extractor down")
}

func TestBackfillJob_ExtractorErrorIsStructural(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	_, err := st.UpsertMentions(ctx, []model.MentionRecord{{MentionID: "m-1", URL: "https://a.example/1"}})
	require.NoError(t, err)

	job := NewBackfillJob(st, failingExtractor{}, nil)
	err = job.Process(ctx, "m-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "backfill: extract m-1")

	require.NoError(t, job.Process(ctx, "missing"))
}

func TestNewLimiter(t *testing.T) {
	assert.Equal(t, 1, NewLimiter(0, 0).Burst())
	assert.Equal(t, 5.0, float64(NewLimiter(5, 2).Limit()))
}
