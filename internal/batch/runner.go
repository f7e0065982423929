package batch

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/projtrack/internal/model"
	"github.com/sells-group/projtrack/internal/resilience"
)

// Job is a pass over a deterministic list of item ids. Process must commit
// its own writes before returning so that an interruption loses at most the
// in-flight item.
type Job interface {
	Name() string
	Load(ctx context.Context) ([]string, error)
	Process(ctx context.Context, id string) error
}

// Stateful jobs persist extra state alongside the checkpoint, e.g. a plan
// computed in Load that a resumed run must reuse instead of recomputing.
type Stateful interface {
	State() (json.RawMessage, error)
	Restore(state json.RawMessage) error
}

// CheckpointStore persists one checkpoint per job name.
type CheckpointStore interface {
	LoadCheckpoint(ctx context.Context, job string) (*model.Checkpoint, error)
	SaveCheckpoint(ctx context.Context, cp *model.Checkpoint) error
	DeleteCheckpoint(ctx context.Context, job string) error
}

// Config tunes a Runner.
type Config struct {
	Budget     time.Duration
	CheckEvery int
	Retry      resilience.RetryConfig
	Now        func() time.Time
}

// Result summarizes one invocation. Partial is a successful outcome: the
// caller re-invokes to continue from the saved checkpoint.
type Result struct {
	Job       string        `json:"job"`
	Processed int           `json:"processed"`
	Remaining int           `json:"remaining"`
	Partial   bool          `json:"partial"`
	Resumed   bool          `json:"resumed"`
	Elapsed   time.Duration `json:"elapsed"`
}

// Runner executes jobs one item at a time under a wall-clock budget.
type Runner struct {
	store CheckpointStore
	cfg   Config
}

// NewRunner creates a Runner.
func NewRunner(store CheckpointStore, cfg Config) *Runner {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Runner{store: store, cfg: cfg}
}

// Run resumes the job from its checkpoint, or loads a fresh item list, and
// processes items until done, the budget expires or ctx is cancelled.
//
// On budget expiry the remaining items are checkpointed and Run returns a
// partial Result with a nil error. On cancellation the checkpoint is written
// with a non-cancellable context and the context error is returned alongside
// the partial Result. An item that keeps failing after retries is a
// structural failure: the checkpoint is saved and the error returned.
func (r *Runner) Run(ctx context.Context, job Job) (*Result, error) {
	start := r.cfg.Now()
	budget := NewBudget(r.cfg.Budget, r.cfg.CheckEvery, r.cfg.Now)
	log := zap.L().With(zap.String("component", "batch"), zap.String("job", job.Name()))
	res := &Result{Job: job.Name()}

	items, done, err := r.begin(ctx, job, res, log)
	if err != nil {
		return nil, err
	}

	for i, id := range items {
		if ctx.Err() != nil {
			return r.stop(ctx, job, res, done, items[i:], start, log, ctx.Err())
		}
		if budget.Due(i) && budget.Expired() {
			log.Info("budget exhausted, checkpointing",
				zap.Int("processed", res.Processed),
				zap.Int("remaining", len(items)-i),
			)
			return r.stop(ctx, job, res, done, items[i:], start, log, nil)
		}

		retry := r.cfg.Retry
		retry.OnRetry = resilience.RetryLogger(job.Name(), id)
		err := resilience.Do(ctx, retry, func(ctx context.Context) error {
			return job.Process(ctx, id)
		})
		if err != nil {
			if ctx.Err() != nil {
				return r.stop(ctx, job, res, done, items[i:], start, log, ctx.Err())
			}
			_, saveErr := r.stop(ctx, job, res, done, items[i:], start, log, nil)
			if saveErr != nil {
				log.Error("checkpoint after failure", zap.Error(saveErr))
			}
			return res, eris.Wrapf(err, "batch: %s: process %s", job.Name(), id)
		}

		done = append(done, id)
		res.Processed++
	}

	if err := r.store.DeleteCheckpoint(context.WithoutCancel(ctx), job.Name()); err != nil {
		return res, eris.Wrapf(err, "batch: %s: delete checkpoint", job.Name())
	}
	res.Elapsed = r.cfg.Now().Sub(start)
	log.Info("batch complete",
		zap.Int("processed", res.Processed),
		zap.Duration("elapsed", res.Elapsed),
	)
	return res, nil
}

// begin returns the items to process and the ids a previous invocation
// already finished.
func (r *Runner) begin(ctx context.Context, job Job, res *Result, log *zap.Logger) ([]string, []string, error) {
	cp, err := r.store.LoadCheckpoint(ctx, job.Name())
	if err != nil {
		return nil, nil, eris.Wrapf(err, "batch: %s: load checkpoint", job.Name())
	}

	if cp != nil {
		if sj, ok := job.(Stateful); ok && len(cp.State) > 0 {
			if err := sj.Restore(cp.State); err != nil {
				return nil, nil, eris.Wrapf(err, "batch: %s: restore state", job.Name())
			}
		}
		res.Resumed = true
		log.Info("resuming from checkpoint",
			zap.Int("already_processed", len(cp.Processed)),
			zap.Int("remaining", len(cp.Remaining)),
			zap.Time("checkpointed_at", cp.UpdatedAt),
		)
		return cp.Remaining, cp.Processed, nil
	}

	items, err := job.Load(ctx)
	if err != nil {
		return nil, nil, eris.Wrapf(err, "batch: %s: load items", job.Name())
	}
	log.Info("batch loaded", zap.Int("items", len(items)))
	return items, nil, nil
}

// stop persists the checkpoint with a context that survives cancellation
// and finalizes the partial result.
func (r *Runner) stop(ctx context.Context, job Job, res *Result, done, remaining []string, start time.Time, log *zap.Logger, cause error) (*Result, error) {
	cp := &model.Checkpoint{
		Job:       job.Name(),
		Processed: done,
		Remaining: remaining,
		UpdatedAt: r.cfg.Now().UTC(),
	}
	if sj, ok := job.(Stateful); ok {
		state, err := sj.State()
		if err != nil {
			return res, eris.Wrapf(err, "batch: %s: snapshot state", job.Name())
		}
		cp.State = state
	}

	saveCtx := context.WithoutCancel(ctx)
	err := resilience.Do(saveCtx, r.cfg.Retry, func(ctx context.Context) error {
		return r.store.SaveCheckpoint(ctx, cp)
	})
	if err != nil {
		return res, eris.Wrapf(err, "batch: %s: save checkpoint", job.Name())
	}

	res.Partial = true
	res.Remaining = len(remaining)
	res.Elapsed = r.cfg.Now().Sub(start)
	log.Info("batch checkpointed",
		zap.Int("processed", res.Processed),
		zap.Int("remaining", res.Remaining),
		zap.Duration("elapsed", res.Elapsed),
	)

	if cause != nil {
		return res, eris.Wrapf(cause, "batch: %s: interrupted", job.Name())
	}
	return res, nil
}
