// Package store persists mentions, cards, projects, statuses and batch
// checkpoints in SQLite or Postgres.
package store

import (
	"context"
	"encoding/json"
	"time"

	sq "github.com/Masterminds/squirrel"

	"github.com/sells-group/projtrack/internal/model"
)

// ProjectFilter narrows project listings.
type ProjectFilter struct {
	Status  model.Status `json:"status,omitempty"`
	Company string       `json:"company,omitempty"`
	Limit   int          `json:"limit,omitempty"`
}

// Store defines the persistence interface for the project pipeline.
type Store interface {
	// Mentions
	UpsertMentions(ctx context.Context, mentions []model.MentionRecord) (int, error)
	GetMention(ctx context.Context, mentionID string) (*model.MentionRecord, error)
	ListMentionIDs(ctx context.Context) ([]string, error)
	KnownMentionIDs(ctx context.Context, mentionIDs []string) ([]string, error)
	ListProjectMentions(ctx context.Context, projectID string) ([]model.MentionRecord, error)

	// Cards
	UpsertCards(ctx context.Context, cards []model.ProjectCard) (int, error)
	GetCards(ctx context.Context, mentionIDs []string) ([]model.ProjectCard, error)
	ListUnresolvedCards(ctx context.Context) ([]model.ProjectCard, error)

	// Projects
	CreateProject(ctx context.Context, p *model.Project) (created bool, assigned int, err error)
	AttachMentions(ctx context.Context, projectID string, mentionIDs []string) (int, error)
	GetProject(ctx context.Context, projectID string) (*model.Project, error)
	ListProjects(ctx context.Context) ([]model.Project, error)
	ListProjectIDs(ctx context.Context, filter ProjectFilter) ([]string, error)

	// Statuses
	GetStatus(ctx context.Context, projectID string) (*model.ProjectStatus, error)
	SaveStatus(ctx context.Context, st *model.ProjectStatus) error
	ListStatuses(ctx context.Context, filter ProjectFilter) ([]model.ProjectStatus, error)

	// Checkpoints
	LoadCheckpoint(ctx context.Context, job string) (*model.Checkpoint, error)
	SaveCheckpoint(ctx context.Context, cp *model.Checkpoint) error
	DeleteCheckpoint(ctx context.Context, job string) error

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

const cardColumns = "mention_id, project_name, company, location_text, site_hint, size_mw, size_sqft, size_acres, announced_date, extraction_confidence"

const projectColumns = "project_id, seed_mention_id, project_name, company, location_text, site_hint, size_mw, size_sqft, size_acres, announced_date, extraction_confidence, created_at"

// projectIDQuery lists project ids in stable creation order.
func projectIDQuery(filter ProjectFilter, ph sq.PlaceholderFormat) (string, []any, error) {
	q := sq.Select("p.project_id").From("projects p")
	q = applyProjectFilter(q, filter)
	return q.PlaceholderFormat(ph).ToSql()
}

// statusQuery lists every matching project with its status row, if any.
func statusQuery(filter ProjectFilter, ph sq.PlaceholderFormat) (string, []any, error) {
	q := sq.Select(
		"p.project_id", "s.status_current", "s.status_confidence", "s.status_history",
		"s.last_signal_at", "s.status_scores", "s.updated_at",
	).From("projects p")
	q = applyProjectFilter(q, filter)
	return q.PlaceholderFormat(ph).ToSql()
}

func applyProjectFilter(q sq.SelectBuilder, filter ProjectFilter) sq.SelectBuilder {
	q = q.LeftJoin("project_status s ON s.project_id = p.project_id")
	if filter.Status != model.StatusUnknown {
		q = q.Where(sq.Eq{"s.status_current": string(filter.Status)})
	}
	if filter.Company != "" {
		q = q.Where(sq.Eq{"p.company": filter.Company})
	}
	q = q.OrderBy("p.created_at", "p.project_id")
	if filter.Limit > 0 {
		q = q.Limit(uint64(filter.Limit))
	}
	return q
}

// knownMentionsQuery selects which of mentionIDs are stored.
func knownMentionsQuery(mentionIDs []string, ph sq.PlaceholderFormat) (string, []any, error) {
	return sq.Select("mention_id").From("mentions").
		Where(sq.Eq{"mention_id": mentionIDs}).
		OrderBy("mention_id").
		PlaceholderFormat(ph).ToSql()
}

// cardsQuery selects cards by mention id.
func cardsQuery(mentionIDs []string, ph sq.PlaceholderFormat) (string, []any, error) {
	return sq.Select(cardColumns).From("project_cards").
		Where(sq.Eq{"mention_id": mentionIDs}).
		OrderBy("mention_id").
		PlaceholderFormat(ph).ToSql()
}

// assignQuery assigns still-unassigned cards to a project. Cards that
// already belong to a project are never moved.
func assignQuery(projectID string, mentionIDs []string, ph sq.PlaceholderFormat) (string, []any, error) {
	return sq.Update("project_cards").
		Set("project_id", projectID).
		Where(sq.Eq{"mention_id": mentionIDs}).
		Where(sq.Eq{"project_id": nil}).
		PlaceholderFormat(ph).ToSql()
}

// memberRow is one card assignment joined with its mention URL.
type memberRow struct {
	projectID string
	mentionID string
	url       string
}

// fillMembers sets MentionIDs (seed first) and deduplicated SourceURLs on
// each project from its assigned cards.
func fillMembers(projects []model.Project, seeds map[string]string, rows []memberRow) {
	idx := make(map[string]int, len(projects))
	for i := range projects {
		idx[projects[i].ProjectID] = i
		projects[i].MentionIDs = []string{}
		projects[i].SourceURLs = []string{}
	}

	seenURL := make(map[string]map[string]bool, len(projects))
	add := func(p *model.Project, r memberRow, front bool) {
		if front {
			p.MentionIDs = append([]string{r.mentionID}, p.MentionIDs...)
		} else {
			p.MentionIDs = append(p.MentionIDs, r.mentionID)
		}
		if r.url == "" {
			return
		}
		if seenURL[p.ProjectID] == nil {
			seenURL[p.ProjectID] = map[string]bool{}
		}
		canon := model.CanonicalURL(r.url)
		if !seenURL[p.ProjectID][canon] {
			seenURL[p.ProjectID][canon] = true
			p.SourceURLs = append(p.SourceURLs, r.url)
		}
	}

	for _, r := range rows {
		i, ok := idx[r.projectID]
		if !ok {
			continue
		}
		add(&projects[i], r, seeds[r.projectID] == r.mentionID)
	}
}

// decodeTime parses an optional stored text timestamp.
func decodeTime(s *string) *time.Time {
	if s == nil {
		return nil
	}
	return model.ParseTime(*s)
}

// encodeTime renders an optional timestamp for a text column.
func encodeTime(t *time.Time) any {
	if s := model.FormatTime(t); s != nil {
		return *s
	}
	return nil
}

func nowUTC() time.Time {
	return time.Now().UTC()
}

// timeEncoder converts an optional timestamp into a driver argument.
type timeEncoder func(*time.Time) any

func cardArgs(c model.ProjectCard, enc timeEncoder) []any {
	conf := c.ExtractionConfidence
	if conf == "" {
		conf = model.ConfidenceLow
	}
	return []any{
		c.MentionID, c.ProjectName, c.Company, c.LocationText, c.SiteHint,
		c.SizeMW, c.SizeSqft, c.SizeAcres, enc(c.AnnouncedDate), string(conf),
	}
}

func projectArgs(p *model.Project, enc timeEncoder) []any {
	return []any{
		p.ProjectID, p.MentionIDs[0], p.ProjectName, p.Company, p.LocationText, p.SiteHint,
		p.SizeMW, p.SizeSqft, p.SizeAcres, enc(p.AnnouncedDate), string(p.ExtractionConfidence), enc(&p.CreatedAt),
	}
}

func encodeStatusBlobs(st *model.ProjectStatus) (history, scores []byte, err error) {
	h := st.StatusHistory
	if h == nil {
		h = []model.StatusEntry{}
	}
	if history, err = json.Marshal(h); err != nil {
		return nil, nil, err
	}
	sc := st.StatusScores
	if sc == nil {
		sc = map[model.Status]float64{}
	}
	if scores, err = json.Marshal(sc); err != nil {
		return nil, nil, err
	}
	return history, scores, nil
}

func decodeStatusBlobs(st *model.ProjectStatus, history, scores []byte) error {
	if len(history) > 0 {
		if err := json.Unmarshal(history, &st.StatusHistory); err != nil {
			return err
		}
	}
	if len(scores) > 0 {
		if err := json.Unmarshal(scores, &st.StatusScores); err != nil {
			return err
		}
	}
	return nil
}

func encodeCheckpointIDs(cp *model.Checkpoint) (processed, remaining []byte, err error) {
	p, r := cp.Processed, cp.Remaining
	if p == nil {
		p = []string{}
	}
	if r == nil {
		r = []string{}
	}
	if processed, err = json.Marshal(p); err != nil {
		return nil, nil, err
	}
	if remaining, err = json.Marshal(r); err != nil {
		return nil, nil, err
	}
	return processed, remaining, nil
}
