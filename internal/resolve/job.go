package resolve

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/projtrack/internal/model"
)

// JobName identifies the resolver in checkpoints and logs.
const JobName = "resolve"

const attachPrefix = "attach:"

// Store is the persistence the resolver needs.
type Store interface {
	ListUnresolvedCards(ctx context.Context) ([]model.ProjectCard, error)
	ListProjects(ctx context.Context) ([]model.Project, error)
	GetCards(ctx context.Context, mentionIDs []string) ([]model.ProjectCard, error)
	// CreateProject inserts p, skipping silently if the id exists, and
	// assigns its still-unassigned member cards in the same transaction.
	CreateProject(ctx context.Context, p *model.Project) (created bool, assigned int, err error)
	// AttachMentions assigns unassigned cards to an existing project.
	AttachMentions(ctx context.Context, projectID string, mentionIDs []string) (int, error)
}

// Options configures a resolver Job.
type Options struct {
	TimeWindowDays int
	AttachExisting bool
}

// Stats counts what a Job did during one invocation.
type Stats struct {
	Created  int
	Skipped  int
	Attached int
}

// plan is the frozen outcome of Load. A resumed run persists exactly the
// groups the interrupted run planned, even if new cards arrived since.
type plan struct {
	Groups map[string][]string `json:"groups"`
	Attach map[string]string   `json:"attach"`
}

// Job runs entity resolution as a batch job. Items are group seeds and
// attachment ids, in resolution order.
type Job struct {
	store Store
	opts  Options
	plan  plan
	Stats Stats
	log   *zap.Logger
}

// NewJob creates a resolver Job.
func NewJob(store Store, opts Options) *Job {
	if opts.TimeWindowDays <= 0 {
		opts.TimeWindowDays = DefaultTimeWindowDays
	}
	return &Job{
		store: store,
		opts:  opts,
		log:   zap.L().With(zap.String("component", "resolve")),
	}
}

// Name implements batch.Job.
func (j *Job) Name() string { return JobName }

// Load computes the plan over all unresolved cards.
func (j *Job) Load(ctx context.Context) ([]string, error) {
	cards, err := j.store.ListUnresolvedCards(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "resolve: list unresolved cards")
	}

	var attachments []Attachment
	rest := cards
	if j.opts.AttachExisting {
		projects, err := j.store.ListProjects(ctx)
		if err != nil {
			return nil, eris.Wrap(err, "resolve: list projects")
		}
		attachments, rest = AttachToExisting(cards, projects, j.opts.TimeWindowDays)
	}

	groups := Resolve(rest, j.opts.TimeWindowDays)

	j.plan = plan{Groups: make(map[string][]string, len(groups)), Attach: make(map[string]string, len(attachments))}
	items := make([]string, 0, len(attachments)+len(groups))
	for _, a := range attachments {
		j.plan.Attach[a.MentionID] = a.ProjectID
		items = append(items, attachPrefix+a.MentionID)
	}
	for _, g := range groups {
		seed := g.Seed().MentionID
		j.plan.Groups[seed] = g.MentionIDs()
		items = append(items, seed)
	}

	j.log.Info("resolution planned",
		zap.Int("unresolved_cards", len(cards)),
		zap.Int("attachments", len(attachments)),
		zap.Int("groups", len(groups)),
	)
	return items, nil
}

// Process persists one planned attachment or group.
func (j *Job) Process(ctx context.Context, id string) error {
	if mentionID, ok := strings.CutPrefix(id, attachPrefix); ok {
		projectID, ok := j.plan.Attach[mentionID]
		if !ok {
			return eris.Errorf("resolve: no planned attachment for %s", mentionID)
		}
		n, err := j.store.AttachMentions(ctx, projectID, []string{mentionID})
		if err != nil {
			return eris.Wrapf(err, "resolve: attach %s to %s", mentionID, projectID)
		}
		j.Stats.Attached += n
		return nil
	}

	members, ok := j.plan.Groups[id]
	if !ok {
		return eris.Errorf("resolve: no planned group for seed %s", id)
	}
	cards, err := j.store.GetCards(ctx, members)
	if err != nil {
		return eris.Wrapf(err, "resolve: load cards for seed %s", id)
	}
	if len(cards) == 0 {
		return eris.Errorf("resolve: cards for seed %s vanished", id)
	}

	p := BuildProject(Group{Members: orderLike(cards, members)})
	created, assigned, err := j.store.CreateProject(ctx, &p)
	if err != nil {
		return eris.Wrapf(err, "resolve: create project for seed %s", id)
	}
	if created {
		j.Stats.Created++
	} else {
		j.Stats.Skipped++
		j.log.Debug("project exists, skipped", zap.String("project_id", p.ProjectID), zap.Int("assigned", assigned))
	}
	return nil
}

// State implements batch.Stateful.
func (j *Job) State() (json.RawMessage, error) {
	data, err := json.Marshal(j.plan)
	return data, eris.Wrap(err, "resolve: marshal plan")
}

// Restore implements batch.Stateful.
func (j *Job) Restore(state json.RawMessage) error {
	return eris.Wrap(json.Unmarshal(state, &j.plan), "resolve: unmarshal plan")
}

// orderLike returns cards in the order of ids, dropping ids with no card.
func orderLike(cards []model.ProjectCard, ids []string) []model.ProjectCard {
	byID := make(map[string]model.ProjectCard, len(cards))
	for _, c := range cards {
		byID[c.MentionID] = c
	}
	out := make([]model.ProjectCard, 0, len(ids))
	for _, id := range ids {
		if c, ok := byID[id]; ok {
			out = append(out, c)
		}
	}
	return out
}
