package status

import (
	"context"
	"strconv"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/projtrack/internal/model"
	"github.com/sells-group/projtrack/internal/store"
)

// JobName identifies the inference pass in checkpoints and logs.
const JobName = "infer"

// Store is the persistence the inference job needs. GetProject and
// GetStatus return nil, nil when the row does not exist.
type Store interface {
	ListProjectIDs(ctx context.Context, filter store.ProjectFilter) ([]string, error)
	GetProject(ctx context.Context, projectID string) (*model.Project, error)
	ListProjectMentions(ctx context.Context, projectID string) ([]model.MentionRecord, error)
	GetStatus(ctx context.Context, projectID string) (*model.ProjectStatus, error)
	SaveStatus(ctx context.Context, st *model.ProjectStatus) error
}

// Transition is a status change recorded by a Job.
type Transition struct {
	ProjectID string       `json:"project_id"`
	From      model.Status `json:"from"`
	To        model.Status `json:"to"`
}

// Stats counts what a Job did during one invocation.
type Stats struct {
	Evaluated   int
	Unchanged   int
	Transitions []Transition
}

// Job re-evaluates every project's status as a batch job. Items are project
// ids in stable creation order.
type Job struct {
	store     Store
	evaluator Evaluator
	name      string
	filter    store.ProjectFilter
	now       func() time.Time
	Stats     Stats
	log       *zap.Logger
}

// JobOption configures a Job.
type JobOption func(*Job)

// WithClock overrides the evaluation clock.
func WithClock(now func() time.Time) JobOption {
	return func(j *Job) { j.now = now }
}

// WithName overrides the checkpoint name, so that a reprocess run does not
// resume an interrupted regular pass.
func WithName(name string) JobOption {
	return func(j *Job) { j.name = name }
}

// WithFilter restricts the pass to matching projects. A filtered pass
// checkpoints under its own name, so an unfiltered run never resumes its
// subset.
func WithFilter(f store.ProjectFilter) JobOption {
	return func(j *Job) { j.filter = f }
}

// NewJob creates an inference Job.
func NewJob(s Store, evaluator Evaluator, opts ...JobOption) *Job {
	j := &Job{
		store:     s,
		evaluator: evaluator,
		name:      JobName,
		now:       time.Now,
		log:       zap.L().With(zap.String("component", "status")),
	}
	for _, o := range opts {
		o(j)
	}
	j.name = filteredName(j.name, j.filter)
	return j
}

// filteredName qualifies a checkpoint name with the filter, e.g.
// infer:dead_candidate.
func filteredName(name string, f store.ProjectFilter) string {
	if f.Status != model.StatusUnknown {
		name += ":" + string(f.Status)
	}
	if f.Company != "" {
		name += ":company=" + f.Company
	}
	if f.Limit > 0 {
		name += ":limit=" + strconv.Itoa(f.Limit)
	}
	return name
}

// Name implements batch.Job.
func (j *Job) Name() string { return j.name }

// Load lists all project ids.
func (j *Job) Load(ctx context.Context) ([]string, error) {
	ids, err := j.store.ListProjectIDs(ctx, j.filter)
	if err != nil {
		return nil, eris.Wrap(err, "status: list projects")
	}
	j.log.Info("inference planned", zap.Int("projects", len(ids)))
	return ids, nil
}

// Process evaluates one project and saves its status record.
func (j *Job) Process(ctx context.Context, projectID string) error {
	p, err := j.store.GetProject(ctx, projectID)
	if err != nil {
		return eris.Wrapf(err, "status: get project %s", projectID)
	}
	if p == nil {
		j.log.Warn("project vanished, skipping", zap.String("project_id", projectID))
		return nil
	}
	mentions, err := j.store.ListProjectMentions(ctx, projectID)
	if err != nil {
		return eris.Wrapf(err, "status: list mentions for %s", projectID)
	}
	prev, err := j.store.GetStatus(ctx, projectID)
	if err != nil {
		return eris.Wrapf(err, "status: get status %s", projectID)
	}

	var previous model.Status
	if prev != nil {
		previous = prev.StatusCurrent
	}
	now := j.now()
	d := j.evaluator.Evaluate(Input{
		Mentions:      mentions,
		AnnouncedDate: p.AnnouncedDate,
		Previous:      previous,
		Now:           now,
	})

	st, changed := Apply(prev, projectID, d, now)
	if err := j.store.SaveStatus(ctx, st); err != nil {
		return eris.Wrapf(err, "status: save status %s", projectID)
	}

	j.Stats.Evaluated++
	if changed {
		j.Stats.Transitions = append(j.Stats.Transitions, Transition{ProjectID: projectID, From: previous, To: d.Status})
		j.log.Debug("status changed",
			zap.String("project_id", projectID),
			zap.String("from", string(previous)),
			zap.String("to", string(d.Status)),
			zap.String("confidence", string(d.Confidence)),
			zap.String("reason", d.Reason),
		)
	} else {
		j.Stats.Unchanged++
	}
	return nil
}

// Comparison is the side-by-side output of both strategies for one project.
type Comparison struct {
	ProjectID string             `json:"project_id"`
	Current   *model.Status      `json:"status_current,omitempty"`
	Scored    Decision           `json:"scored"`
	Rules     Decision           `json:"rules"`
	Silence   model.SilenceClass `json:"silence"`
	Agree     bool               `json:"agree"`
}

// Compare evaluates one project with both strategies without writing.
func Compare(ctx context.Context, s Store, projectID string, scored, rules Evaluator, now time.Time) (*Comparison, error) {
	p, err := s.GetProject(ctx, projectID)
	if err != nil {
		return nil, eris.Wrapf(err, "status: get project %s", projectID)
	}
	if p == nil {
		return nil, eris.Errorf("status: project %s not found", projectID)
	}
	mentions, err := s.ListProjectMentions(ctx, projectID)
	if err != nil {
		return nil, eris.Wrapf(err, "status: list mentions for %s", projectID)
	}
	prev, err := s.GetStatus(ctx, projectID)
	if err != nil {
		return nil, eris.Wrapf(err, "status: get status %s", projectID)
	}

	in := Input{Mentions: mentions, AnnouncedDate: p.AnnouncedDate, Now: now}
	c := &Comparison{ProjectID: projectID}
	var lastSignal *time.Time
	if prev != nil {
		cur := prev.StatusCurrent
		c.Current = &cur
		in.Previous = cur
		lastSignal = prev.LastSignalAt
	}
	c.Scored = scored.Evaluate(in)
	c.Rules = rules.Evaluate(in)
	if c.Scored.LastSignalAt != nil {
		lastSignal = c.Scored.LastSignalAt
	}
	c.Silence = Silence(lastSignal, now)
	c.Agree = c.Scored.Status == c.Rules.Status
	return c, nil
}
