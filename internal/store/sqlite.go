package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/projtrack/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	// Pragmas apply per connection; a single connection keeps them in force.
	db.SetMaxOpenConns(1)
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close() //nolint:errcheck
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS mentions (
	mention_id   TEXT PRIMARY KEY,
	url          TEXT NOT NULL,
	title        TEXT NOT NULL DEFAULT '',
	snippet      TEXT NOT NULL DEFAULT '',
	raw_text     TEXT,
	published_at TEXT,
	ingested_at  TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS projects (
	project_id            TEXT PRIMARY KEY,
	seed_mention_id       TEXT NOT NULL,
	project_name          TEXT,
	company               TEXT,
	location_text         TEXT,
	site_hint             TEXT,
	size_mw               REAL,
	size_sqft             REAL,
	size_acres            REAL,
	announced_date        TEXT,
	extraction_confidence TEXT NOT NULL,
	created_at            TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS project_cards (
	mention_id            TEXT PRIMARY KEY REFERENCES mentions(mention_id),
	project_id            TEXT REFERENCES projects(project_id),
	project_name          TEXT,
	company               TEXT,
	location_text         TEXT,
	site_hint             TEXT,
	size_mw               REAL,
	size_sqft             REAL,
	size_acres            REAL,
	announced_date        TEXT,
	extraction_confidence TEXT NOT NULL DEFAULT 'low',
	extracted_at          TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS project_status (
	project_id        TEXT PRIMARY KEY REFERENCES projects(project_id),
	status_current    TEXT NOT NULL,
	status_confidence TEXT NOT NULL,
	status_history    TEXT NOT NULL,
	last_signal_at    TEXT,
	status_scores     TEXT NOT NULL,
	updated_at        TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS checkpoints (
	job        TEXT PRIMARY KEY,
	processed  TEXT NOT NULL,
	remaining  TEXT NOT NULL,
	state      TEXT,
	updated_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_project_cards_project_id ON project_cards(project_id);
CREATE INDEX IF NOT EXISTS idx_projects_created_at ON projects(created_at, project_id);
CREATE INDEX IF NOT EXISTS idx_project_status_current ON project_status(status_current);
`

// Migrate creates the schema if it does not exist.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// --- Mentions ---

func (s *SQLiteStore) UpsertMentions(ctx context.Context, mentions []model.MentionRecord) (int, error) {
	if len(mentions) == 0 {
		return 0, nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: begin mentions tx")
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO mentions (mention_id, url, title, snippet, raw_text, published_at, ingested_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(mention_id) DO NOTHING`)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: prepare insert mention")
	}
	defer stmt.Close() //nolint:errcheck

	now := encodeTime(ptrTime(nowUTC()))
	inserted := 0
	for _, m := range mentions {
		res, err := stmt.ExecContext(ctx, m.MentionID, m.URL, m.Title, m.Snippet, m.RawText, encodeTime(m.PublishedAt), now)
		if err != nil {
			return 0, eris.Wrapf(err, "sqlite: insert mention %s", m.MentionID)
		}
		n, _ := res.RowsAffected()
		inserted += int(n)
	}
	if err := tx.Commit(); err != nil {
		return 0, eris.Wrap(err, "sqlite: commit mentions")
	}
	return inserted, nil
}

func (s *SQLiteStore) GetMention(ctx context.Context, mentionID string) (*model.MentionRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT mention_id, url, title, snippet, raw_text, published_at FROM mentions WHERE mention_id = ?`,
		mentionID,
	)
	m, err := scanSQLiteMention(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get mention %s", mentionID)
	}
	return m, nil
}

func (s *SQLiteStore) ListMentionIDs(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT mention_id FROM mentions ORDER BY mention_id`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list mention ids")
	}
	defer rows.Close() //nolint:errcheck
	return scanStrings(rows, "sqlite: list mention ids")
}

func (s *SQLiteStore) KnownMentionIDs(ctx context.Context, mentionIDs []string) ([]string, error) {
	if len(mentionIDs) == 0 {
		return nil, nil
	}
	query, args, err := knownMentionsQuery(mentionIDs, sq.Question)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: build known mentions query")
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: known mention ids")
	}
	defer rows.Close() //nolint:errcheck
	return scanStrings(rows, "sqlite: known mention ids")
}

func (s *SQLiteStore) ListProjectMentions(ctx context.Context, projectID string) ([]model.MentionRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT m.mention_id, m.url, m.title, m.snippet, m.raw_text, m.published_at
		 FROM project_cards c JOIN mentions m ON m.mention_id = c.mention_id
		 WHERE c.project_id = ?
		 ORDER BY m.mention_id`,
		projectID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: list mentions for %s", projectID)
	}
	defer rows.Close() //nolint:errcheck

	var out []model.MentionRecord
	for rows.Next() {
		m, err := scanSQLiteMention(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan mention")
		}
		out = append(out, *m)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list mentions iterate")
}

// --- Cards ---

func (s *SQLiteStore) UpsertCards(ctx context.Context, cards []model.ProjectCard) (int, error) {
	if len(cards) == 0 {
		return 0, nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: begin cards tx")
	}
	defer tx.Rollback() //nolint:errcheck

	// project_id is deliberately absent from the update set.
	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO project_cards (`+cardColumns+`, extracted_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(mention_id) DO UPDATE SET
			project_name = excluded.project_name,
			company = excluded.company,
			location_text = excluded.location_text,
			site_hint = excluded.site_hint,
			size_mw = excluded.size_mw,
			size_sqft = excluded.size_sqft,
			size_acres = excluded.size_acres,
			announced_date = excluded.announced_date,
			extraction_confidence = excluded.extraction_confidence,
			extracted_at = excluded.extracted_at`)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: prepare upsert card")
	}
	defer stmt.Close() //nolint:errcheck

	now := encodeTime(ptrTime(nowUTC()))
	for _, c := range cards {
		args := append(cardArgs(c, encodeTime), now)
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			return 0, eris.Wrapf(err, "sqlite: upsert card %s", c.MentionID)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, eris.Wrap(err, "sqlite: commit cards")
	}
	return len(cards), nil
}

func (s *SQLiteStore) GetCards(ctx context.Context, mentionIDs []string) ([]model.ProjectCard, error) {
	if len(mentionIDs) == 0 {
		return nil, nil
	}
	query, args, err := cardsQuery(mentionIDs, sq.Question)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: build cards query")
	}
	return s.queryCards(ctx, query, args...)
}

func (s *SQLiteStore) ListUnresolvedCards(ctx context.Context) ([]model.ProjectCard, error) {
	return s.queryCards(ctx,
		`SELECT `+cardColumns+` FROM project_cards WHERE project_id IS NULL ORDER BY mention_id`)
}

func (s *SQLiteStore) queryCards(ctx context.Context, query string, args ...any) ([]model.ProjectCard, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: query cards")
	}
	defer rows.Close() //nolint:errcheck

	var cards []model.ProjectCard
	for rows.Next() {
		var c model.ProjectCard
		var announced *string
		var conf string
		if err := rows.Scan(&c.MentionID, &c.ProjectName, &c.Company, &c.LocationText, &c.SiteHint,
			&c.SizeMW, &c.SizeSqft, &c.SizeAcres, &announced, &conf); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan card")
		}
		c.AnnouncedDate = decodeTime(announced)
		c.ExtractionConfidence = model.Confidence(conf)
		cards = append(cards, c)
	}
	return cards, eris.Wrap(rows.Err(), "sqlite: query cards iterate")
}

// --- Projects ---

func (s *SQLiteStore) CreateProject(ctx context.Context, p *model.Project) (bool, int, error) {
	if len(p.MentionIDs) == 0 {
		return false, 0, eris.Errorf("sqlite: project %s has no mentions", p.ProjectID)
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = nowUTC()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, 0, eris.Wrap(err, "sqlite: begin project tx")
	}
	defer tx.Rollback() //nolint:errcheck

	res, err := tx.ExecContext(ctx,
		`INSERT INTO projects (`+projectColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(project_id) DO NOTHING`,
		projectArgs(p, encodeTime)...,
	)
	if err != nil {
		return false, 0, eris.Wrapf(err, "sqlite: insert project %s", p.ProjectID)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, 0, eris.Wrap(err, "sqlite: rows affected")
	}
	created := n == 1

	assigned, err := s.assign(ctx, tx, p.ProjectID, p.MentionIDs)
	if err != nil {
		return false, 0, err
	}
	// A project must own at least one mention.
	if created && assigned == 0 {
		return false, 0, nil
	}

	if err := tx.Commit(); err != nil {
		return false, 0, eris.Wrap(err, "sqlite: commit project")
	}
	return created, assigned, nil
}

func (s *SQLiteStore) AttachMentions(ctx context.Context, projectID string, mentionIDs []string) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: begin attach tx")
	}
	defer tx.Rollback() //nolint:errcheck

	var exists int
	err = tx.QueryRowContext(ctx, `SELECT 1 FROM projects WHERE project_id = ?`, projectID).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, eris.Errorf("sqlite: project not found: %s", projectID)
	}
	if err != nil {
		return 0, eris.Wrapf(err, "sqlite: lookup project %s", projectID)
	}

	n, err := s.assign(ctx, tx, projectID, mentionIDs)
	if err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, eris.Wrap(err, "sqlite: commit attach")
	}
	return n, nil
}

func (s *SQLiteStore) assign(ctx context.Context, tx *sql.Tx, projectID string, mentionIDs []string) (int, error) {
	query, args, err := assignQuery(projectID, mentionIDs, sq.Question)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: build assign query")
	}
	res, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, eris.Wrapf(err, "sqlite: assign cards to %s", projectID)
	}
	n, err := res.RowsAffected()
	return int(n), eris.Wrap(err, "sqlite: rows affected")
}

func (s *SQLiteStore) GetProject(ctx context.Context, projectID string) (*model.Project, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+projectColumns+` FROM projects WHERE project_id = ?`, projectID)
	p, seed, err := scanSQLiteProject(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get project %s", projectID)
	}

	members, err := s.members(ctx, `WHERE c.project_id = ?`, projectID)
	if err != nil {
		return nil, err
	}
	projects := []model.Project{*p}
	fillMembers(projects, map[string]string{p.ProjectID: seed}, members)
	return &projects[0], nil
}

func (s *SQLiteStore) ListProjects(ctx context.Context) ([]model.Project, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+projectColumns+` FROM projects ORDER BY created_at, project_id`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list projects")
	}
	defer rows.Close() //nolint:errcheck

	var projects []model.Project
	seeds := map[string]string{}
	for rows.Next() {
		p, seed, err := scanSQLiteProject(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan project")
		}
		seeds[p.ProjectID] = seed
		projects = append(projects, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "sqlite: list projects iterate")
	}

	members, err := s.members(ctx, `WHERE c.project_id IS NOT NULL`)
	if err != nil {
		return nil, err
	}
	fillMembers(projects, seeds, members)
	return projects, nil
}

func (s *SQLiteStore) members(ctx context.Context, where string, args ...any) ([]memberRow, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT c.project_id, c.mention_id, m.url
		 FROM project_cards c JOIN mentions m ON m.mention_id = c.mention_id `+where+`
		 ORDER BY c.project_id, c.mention_id`, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list project members")
	}
	defer rows.Close() //nolint:errcheck

	var out []memberRow
	for rows.Next() {
		var r memberRow
		if err := rows.Scan(&r.projectID, &r.mentionID, &r.url); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan project member")
		}
		out = append(out, r)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list project members iterate")
}

func (s *SQLiteStore) ListProjectIDs(ctx context.Context, filter ProjectFilter) ([]string, error) {
	query, args, err := projectIDQuery(filter, sq.Question)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: build project id query")
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list project ids")
	}
	defer rows.Close() //nolint:errcheck
	return scanStrings(rows, "sqlite: list project ids")
}

// --- Statuses ---

func (s *SQLiteStore) GetStatus(ctx context.Context, projectID string) (*model.ProjectStatus, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT project_id, status_current, status_confidence, status_history, last_signal_at, status_scores, updated_at
		 FROM project_status WHERE project_id = ?`,
		projectID,
	)
	var id string
	var cur, conf, history, scores, updated *string
	var last *string
	err := row.Scan(&id, &cur, &conf, &history, &last, &scores, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get status %s", projectID)
	}
	return decodeSQLiteStatus(id, cur, conf, history, last, scores, updated)
}

func (s *SQLiteStore) SaveStatus(ctx context.Context, st *model.ProjectStatus) error {
	history, scores, err := encodeStatusBlobs(st)
	if err != nil {
		return eris.Wrap(err, "sqlite: encode status")
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO project_status
		 (project_id, status_current, status_confidence, status_history, last_signal_at, status_scores, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		st.ProjectID, string(st.StatusCurrent), string(st.StatusConfidence), string(history),
		encodeTime(st.LastSignalAt), string(scores), encodeTime(&st.UpdatedAt),
	)
	return eris.Wrapf(err, "sqlite: save status %s", st.ProjectID)
}

func (s *SQLiteStore) ListStatuses(ctx context.Context, filter ProjectFilter) ([]model.ProjectStatus, error) {
	query, args, err := statusQuery(filter, sq.Question)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: build status query")
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list statuses")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.ProjectStatus
	for rows.Next() {
		var id string
		var cur, conf, history, last, scores, updated *string
		if err := rows.Scan(&id, &cur, &conf, &history, &last, &scores, &updated); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan status")
		}
		st, err := decodeSQLiteStatus(id, cur, conf, history, last, scores, updated)
		if err != nil {
			return nil, err
		}
		out = append(out, *st)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list statuses iterate")
}

func decodeSQLiteStatus(id string, cur, conf, history, last, scores, updated *string) (*model.ProjectStatus, error) {
	st := &model.ProjectStatus{
		ProjectID:        id,
		StatusCurrent:    model.Status(model.Deref(cur)),
		StatusConfidence: model.Confidence(model.Deref(conf)),
		LastSignalAt:     decodeTime(last),
	}
	if t := decodeTime(updated); t != nil {
		st.UpdatedAt = *t
	}
	if err := decodeStatusBlobs(st, []byte(model.Deref(history)), []byte(model.Deref(scores))); err != nil {
		return nil, eris.Wrapf(err, "sqlite: decode status %s", id)
	}
	return st, nil
}

// --- Checkpoints ---

func (s *SQLiteStore) LoadCheckpoint(ctx context.Context, job string) (*model.Checkpoint, error) {
	var processed, remaining string
	var state, updated *string
	err := s.db.QueryRowContext(ctx,
		`SELECT processed, remaining, state, updated_at FROM checkpoints WHERE job = ?`, job,
	).Scan(&processed, &remaining, &state, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: load checkpoint %s", job)
	}

	cp := &model.Checkpoint{Job: job}
	if err := json.Unmarshal([]byte(processed), &cp.Processed); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal processed ids")
	}
	if err := json.Unmarshal([]byte(remaining), &cp.Remaining); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal remaining ids")
	}
	if state != nil {
		cp.State = json.RawMessage(*state)
	}
	if t := decodeTime(updated); t != nil {
		cp.UpdatedAt = *t
	}
	return cp, nil
}

func (s *SQLiteStore) SaveCheckpoint(ctx context.Context, cp *model.Checkpoint) error {
	processed, remaining, err := encodeCheckpointIDs(cp)
	if err != nil {
		return eris.Wrap(err, "sqlite: encode checkpoint")
	}
	var state any
	if len(cp.State) > 0 {
		state = string(cp.State)
	}
	updated := cp.UpdatedAt
	if updated.IsZero() {
		updated = nowUTC()
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO checkpoints (job, processed, remaining, state, updated_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(job) DO UPDATE SET processed = excluded.processed, remaining = excluded.remaining,
			state = excluded.state, updated_at = excluded.updated_at`,
		cp.Job, string(processed), string(remaining), state, encodeTime(&updated),
	)
	return eris.Wrapf(err, "sqlite: save checkpoint %s", cp.Job)
}

func (s *SQLiteStore) DeleteCheckpoint(ctx context.Context, job string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM checkpoints WHERE job = ?`, job)
	return eris.Wrapf(err, "sqlite: delete checkpoint %s", job)
}

// --- helpers ---

type scannable interface {
	Scan(dest ...any) error
}

func scanSQLiteMention(row scannable) (*model.MentionRecord, error) {
	var m model.MentionRecord
	var published *string
	if err := row.Scan(&m.MentionID, &m.URL, &m.Title, &m.Snippet, &m.RawText, &published); err != nil {
		return nil, err
	}
	m.PublishedAt = decodeTime(published)
	return &m, nil
}

func scanSQLiteProject(row scannable) (*model.Project, string, error) {
	var p model.Project
	var seed, conf, created string
	var announced *string
	if err := row.Scan(&p.ProjectID, &seed, &p.ProjectName, &p.Company, &p.LocationText, &p.SiteHint,
		&p.SizeMW, &p.SizeSqft, &p.SizeAcres, &announced, &conf, &created); err != nil {
		return nil, "", err
	}
	p.AnnouncedDate = decodeTime(announced)
	p.ExtractionConfidence = model.Confidence(conf)
	if t := model.ParseTime(created); t != nil {
		p.CreatedAt = *t
	}
	return &p, seed, nil
}

func scanStrings(rows *sql.Rows, op string) ([]string, error) {
	var out []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, eris.Wrap(err, op)
		}
		out = append(out, s)
	}
	return out, eris.Wrap(rows.Err(), op)
}

func ptrTime(t time.Time) *time.Time {
	return &t
}
