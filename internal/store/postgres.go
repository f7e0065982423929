package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/projtrack/internal/db"
	"github.com/sells-group/projtrack/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(4)
	minConns := int32(1)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS mentions (
	mention_id   TEXT PRIMARY KEY,
	url          TEXT NOT NULL,
	title        TEXT NOT NULL DEFAULT '',
	snippet      TEXT NOT NULL DEFAULT '',
	raw_text     TEXT,
	published_at TIMESTAMPTZ,
	ingested_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS projects (
	project_id            TEXT PRIMARY KEY,
	seed_mention_id       TEXT NOT NULL,
	project_name          TEXT,
	company               TEXT,
	location_text         TEXT,
	site_hint             TEXT,
	size_mw               DOUBLE PRECISION,
	size_sqft             DOUBLE PRECISION,
	size_acres            DOUBLE PRECISION,
	announced_date        TIMESTAMPTZ,
	extraction_confidence TEXT NOT NULL,
	created_at            TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS project_cards (
	mention_id            TEXT PRIMARY KEY REFERENCES mentions(mention_id),
	project_id            TEXT REFERENCES projects(project_id),
	project_name          TEXT,
	company               TEXT,
	location_text         TEXT,
	site_hint             TEXT,
	size_mw               DOUBLE PRECISION,
	size_sqft             DOUBLE PRECISION,
	size_acres            DOUBLE PRECISION,
	announced_date        TIMESTAMPTZ,
	extraction_confidence TEXT NOT NULL DEFAULT 'low',
	extracted_at          TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS project_status (
	project_id        TEXT PRIMARY KEY REFERENCES projects(project_id),
	status_current    TEXT NOT NULL,
	status_confidence TEXT NOT NULL,
	status_history    JSONB NOT NULL,
	last_signal_at    TIMESTAMPTZ,
	status_scores     JSONB NOT NULL,
	updated_at        TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS checkpoints (
	job        TEXT PRIMARY KEY,
	processed  JSONB NOT NULL,
	remaining  JSONB NOT NULL,
	state      JSONB,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_project_cards_project_id ON project_cards(project_id);
CREATE INDEX IF NOT EXISTS idx_project_cards_unresolved ON project_cards(mention_id) WHERE project_id IS NULL;
CREATE INDEX IF NOT EXISTS idx_projects_created_at ON projects(created_at, project_id);
CREATE INDEX IF NOT EXISTS idx_project_status_current ON project_status(status_current);
`

// Migrate creates the schema if it does not exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

// Close releases the pool.
func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func pgTime(t *time.Time) any {
	return t
}

// --- Mentions ---

var mentionCols = []string{"mention_id", "url", "title", "snippet", "raw_text", "published_at"}

func (s *PostgresStore) UpsertMentions(ctx context.Context, mentions []model.MentionRecord) (int, error) {
	rows := make([][]any, len(mentions))
	for i, m := range mentions {
		rows[i] = []any{m.MentionID, m.URL, m.Title, m.Snippet, m.RawText, m.PublishedAt}
	}
	n, err := db.BulkUpsert(ctx, s.pool, db.UpsertConfig{
		Table:        "mentions",
		Columns:      mentionCols,
		ConflictKeys: []string{"mention_id"},
		DoNothing:    true,
	}, rows)
	return int(n), eris.Wrap(err, "postgres: upsert mentions")
}

func (s *PostgresStore) GetMention(ctx context.Context, mentionID string) (*model.MentionRecord, error) {
	var m model.MentionRecord
	err := s.pool.QueryRow(ctx,
		`SELECT mention_id, url, title, snippet, raw_text, published_at FROM mentions WHERE mention_id = $1`,
		mentionID,
	).Scan(&m.MentionID, &m.URL, &m.Title, &m.Snippet, &m.RawText, &m.PublishedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get mention %s", mentionID)
	}
	return &m, nil
}

func (s *PostgresStore) ListMentionIDs(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT mention_id FROM mentions ORDER BY mention_id`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list mention ids")
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	return ids, eris.Wrap(err, "postgres: list mention ids")
}

func (s *PostgresStore) KnownMentionIDs(ctx context.Context, mentionIDs []string) ([]string, error) {
	if len(mentionIDs) == 0 {
		return nil, nil
	}
	query, args, err := knownMentionsQuery(mentionIDs, sq.Dollar)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: build known mentions query")
	}
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: known mention ids")
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	return ids, eris.Wrap(err, "postgres: known mention ids")
}

func (s *PostgresStore) ListProjectMentions(ctx context.Context, projectID string) ([]model.MentionRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT m.mention_id, m.url, m.title, m.snippet, m.raw_text, m.published_at
		 FROM project_cards c JOIN mentions m ON m.mention_id = c.mention_id
		 WHERE c.project_id = $1
		 ORDER BY m.mention_id`,
		projectID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: list mentions for %s", projectID)
	}
	defer rows.Close()

	var out []model.MentionRecord
	for rows.Next() {
		var m model.MentionRecord
		if err := rows.Scan(&m.MentionID, &m.URL, &m.Title, &m.Snippet, &m.RawText, &m.PublishedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan mention")
		}
		out = append(out, m)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list mentions iterate")
}

// --- Cards ---

var cardCols = []string{
	"mention_id", "project_name", "company", "location_text", "site_hint",
	"size_mw", "size_sqft", "size_acres", "announced_date", "extraction_confidence", "extracted_at",
}

func (s *PostgresStore) UpsertCards(ctx context.Context, cards []model.ProjectCard) (int, error) {
	now := nowUTC()
	rows := make([][]any, len(cards))
	for i, c := range cards {
		rows[i] = append(cardArgs(c, pgTime), now)
	}
	// project_id is not a loaded column, so existing assignments survive.
	n, err := db.BulkUpsert(ctx, s.pool, db.UpsertConfig{
		Table:        "project_cards",
		Columns:      cardCols,
		ConflictKeys: []string{"mention_id"},
	}, rows)
	return int(n), eris.Wrap(err, "postgres: upsert cards")
}

func (s *PostgresStore) GetCards(ctx context.Context, mentionIDs []string) ([]model.ProjectCard, error) {
	if len(mentionIDs) == 0 {
		return nil, nil
	}
	query, args, err := cardsQuery(mentionIDs, sq.Dollar)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: build cards query")
	}
	return s.queryCards(ctx, query, args...)
}

func (s *PostgresStore) ListUnresolvedCards(ctx context.Context) ([]model.ProjectCard, error) {
	return s.queryCards(ctx,
		`SELECT `+cardColumns+` FROM project_cards WHERE project_id IS NULL ORDER BY mention_id`)
}

func (s *PostgresStore) queryCards(ctx context.Context, query string, args ...any) ([]model.ProjectCard, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: query cards")
	}
	defer rows.Close()

	var cards []model.ProjectCard
	for rows.Next() {
		var c model.ProjectCard
		var conf string
		if err := rows.Scan(&c.MentionID, &c.ProjectName, &c.Company, &c.LocationText, &c.SiteHint,
			&c.SizeMW, &c.SizeSqft, &c.SizeAcres, &c.AnnouncedDate, &conf); err != nil {
			return nil, eris.Wrap(err, "postgres: scan card")
		}
		c.ExtractionConfidence = model.Confidence(conf)
		cards = append(cards, c)
	}
	return cards, eris.Wrap(rows.Err(), "postgres: query cards iterate")
}

// --- Projects ---

func (s *PostgresStore) CreateProject(ctx context.Context, p *model.Project) (bool, int, error) {
	if len(p.MentionIDs) == 0 {
		return false, 0, eris.Errorf("postgres: project %s has no mentions", p.ProjectID)
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = nowUTC()
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return false, 0, eris.Wrap(err, "postgres: begin project tx")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	tag, err := tx.Exec(ctx,
		`INSERT INTO projects (`+projectColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		 ON CONFLICT (project_id) DO NOTHING`,
		projectArgs(p, pgTime)...,
	)
	if err != nil {
		return false, 0, eris.Wrapf(err, "postgres: insert project %s", p.ProjectID)
	}
	created := tag.RowsAffected() == 1

	assigned, err := pgAssign(ctx, tx, p.ProjectID, p.MentionIDs)
	if err != nil {
		return false, 0, err
	}
	if created && assigned == 0 {
		return false, 0, nil
	}

	if err := tx.Commit(ctx); err != nil {
		return false, 0, eris.Wrap(err, "postgres: commit project")
	}
	return created, assigned, nil
}

func (s *PostgresStore) AttachMentions(ctx context.Context, projectID string, mentionIDs []string) (int, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: begin attach tx")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	var exists int
	err = tx.QueryRow(ctx, `SELECT 1 FROM projects WHERE project_id = $1`, projectID).Scan(&exists)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, eris.Errorf("postgres: project not found: %s", projectID)
	}
	if err != nil {
		return 0, eris.Wrapf(err, "postgres: lookup project %s", projectID)
	}

	n, err := pgAssign(ctx, tx, projectID, mentionIDs)
	if err != nil {
		return 0, err
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, eris.Wrap(err, "postgres: commit attach")
	}
	return n, nil
}

func pgAssign(ctx context.Context, tx pgx.Tx, projectID string, mentionIDs []string) (int, error) {
	query, args, err := assignQuery(projectID, mentionIDs, sq.Dollar)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: build assign query")
	}
	tag, err := tx.Exec(ctx, query, args...)
	if err != nil {
		return 0, eris.Wrapf(err, "postgres: assign cards to %s", projectID)
	}
	return int(tag.RowsAffected()), nil
}

func (s *PostgresStore) GetProject(ctx context.Context, projectID string) (*model.Project, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+projectColumns+` FROM projects WHERE project_id = $1`, projectID)
	p, seed, err := scanPgProject(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get project %s", projectID)
	}

	members, err := s.members(ctx, `WHERE c.project_id = $1`, projectID)
	if err != nil {
		return nil, err
	}
	projects := []model.Project{*p}
	fillMembers(projects, map[string]string{p.ProjectID: seed}, members)
	return &projects[0], nil
}

func (s *PostgresStore) ListProjects(ctx context.Context) ([]model.Project, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+projectColumns+` FROM projects ORDER BY created_at, project_id`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list projects")
	}
	defer rows.Close()

	var projects []model.Project
	seeds := map[string]string{}
	for rows.Next() {
		p, seed, err := scanPgProject(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan project")
		}
		seeds[p.ProjectID] = seed
		projects = append(projects, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "postgres: list projects iterate")
	}

	members, err := s.members(ctx, `WHERE c.project_id IS NOT NULL`)
	if err != nil {
		return nil, err
	}
	fillMembers(projects, seeds, members)
	return projects, nil
}

func (s *PostgresStore) members(ctx context.Context, where string, args ...any) ([]memberRow, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT c.project_id, c.mention_id, m.url
		 FROM project_cards c JOIN mentions m ON m.mention_id = c.mention_id `+where+`
		 ORDER BY c.project_id, c.mention_id`, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list project members")
	}
	defer rows.Close()

	var out []memberRow
	for rows.Next() {
		var r memberRow
		if err := rows.Scan(&r.projectID, &r.mentionID, &r.url); err != nil {
			return nil, eris.Wrap(err, "postgres: scan project member")
		}
		out = append(out, r)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list project members iterate")
}

func (s *PostgresStore) ListProjectIDs(ctx context.Context, filter ProjectFilter) ([]string, error) {
	query, args, err := projectIDQuery(filter, sq.Dollar)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: build project id query")
	}
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list project ids")
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	return ids, eris.Wrap(err, "postgres: list project ids")
}

// --- Statuses ---

func (s *PostgresStore) GetStatus(ctx context.Context, projectID string) (*model.ProjectStatus, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT project_id, status_current, status_confidence, status_history, last_signal_at, status_scores, updated_at
		 FROM project_status WHERE project_id = $1`,
		projectID,
	)
	st, err := scanPgStatus(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get status %s", projectID)
	}
	return st, nil
}

func (s *PostgresStore) SaveStatus(ctx context.Context, st *model.ProjectStatus) error {
	history, scores, err := encodeStatusBlobs(st)
	if err != nil {
		return eris.Wrap(err, "postgres: encode status")
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO project_status
		 (project_id, status_current, status_confidence, status_history, last_signal_at, status_scores, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (project_id) DO UPDATE SET
			status_current = $2, status_confidence = $3, status_history = $4,
			last_signal_at = $5, status_scores = $6, updated_at = $7`,
		st.ProjectID, string(st.StatusCurrent), string(st.StatusConfidence), history,
		st.LastSignalAt, scores, st.UpdatedAt,
	)
	return eris.Wrapf(err, "postgres: save status %s", st.ProjectID)
}

func (s *PostgresStore) ListStatuses(ctx context.Context, filter ProjectFilter) ([]model.ProjectStatus, error) {
	query, args, err := statusQuery(filter, sq.Dollar)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: build status query")
	}
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list statuses")
	}
	defer rows.Close()

	var out []model.ProjectStatus
	for rows.Next() {
		st, err := scanPgStatus(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan status")
		}
		out = append(out, *st)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list statuses iterate")
}

// --- Checkpoints ---

func (s *PostgresStore) LoadCheckpoint(ctx context.Context, job string) (*model.Checkpoint, error) {
	cp := &model.Checkpoint{Job: job}
	var processed, remaining, state []byte
	err := s.pool.QueryRow(ctx,
		`SELECT processed, remaining, state, updated_at FROM checkpoints WHERE job = $1`, job,
	).Scan(&processed, &remaining, &state, &cp.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: load checkpoint %s", job)
	}
	if err := json.Unmarshal(processed, &cp.Processed); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal processed ids")
	}
	if err := json.Unmarshal(remaining, &cp.Remaining); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal remaining ids")
	}
	if len(state) > 0 {
		cp.State = json.RawMessage(state)
	}
	return cp, nil
}

func (s *PostgresStore) SaveCheckpoint(ctx context.Context, cp *model.Checkpoint) error {
	processed, remaining, err := encodeCheckpointIDs(cp)
	if err != nil {
		return eris.Wrap(err, "postgres: encode checkpoint")
	}
	var state []byte
	if len(cp.State) > 0 {
		state = cp.State
	}
	updated := cp.UpdatedAt
	if updated.IsZero() {
		updated = nowUTC()
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO checkpoints (job, processed, remaining, state, updated_at)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (job) DO UPDATE SET processed = $2, remaining = $3, state = $4, updated_at = $5`,
		cp.Job, processed, remaining, state, updated,
	)
	return eris.Wrapf(err, "postgres: save checkpoint %s", cp.Job)
}

func (s *PostgresStore) DeleteCheckpoint(ctx context.Context, job string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM checkpoints WHERE job = $1`, job)
	return eris.Wrapf(err, "postgres: delete checkpoint %s", job)
}

// --- helpers ---

func scanPgProject(row pgx.Row) (*model.Project, string, error) {
	var p model.Project
	var seed, conf string
	if err := row.Scan(&p.ProjectID, &seed, &p.ProjectName, &p.Company, &p.LocationText, &p.SiteHint,
		&p.SizeMW, &p.SizeSqft, &p.SizeAcres, &p.AnnouncedDate, &conf, &p.CreatedAt); err != nil {
		return nil, "", err
	}
	p.ExtractionConfidence = model.Confidence(conf)
	return &p, seed, nil
}

func scanPgStatus(row pgx.Row) (*model.ProjectStatus, error) {
	var st model.ProjectStatus
	var cur, conf *string
	var history, scores []byte
	var updated *time.Time
	if err := row.Scan(&st.ProjectID, &cur, &conf, &history, &st.LastSignalAt, &scores, &updated); err != nil {
		return nil, err
	}
	st.StatusCurrent = model.Status(model.Deref(cur))
	st.StatusConfidence = model.Confidence(model.Deref(conf))
	if updated != nil {
		st.UpdatedAt = *updated
	}
	if err := decodeStatusBlobs(&st, history, scores); err != nil {
		return nil, eris.Wrapf(err, "postgres: decode status %s", st.ProjectID)
	}
	return &st, nil
}
