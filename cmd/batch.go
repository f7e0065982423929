package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/projtrack/internal/ingest"
	"github.com/sells-group/projtrack/internal/model"
	"github.com/sells-group/projtrack/internal/resolve"
	"github.com/sells-group/projtrack/internal/status"
	"github.com/sells-group/projtrack/internal/store"
)

// reprocessJobName keeps a reprocess pass from resuming a regular
// inference checkpoint.
const reprocessJobName = "reprocess"

var (
	inferStatus     string
	backfillCards   string
	reprocessFresh  bool
	resolveNoAttach bool
)

var resolveCmd = &cobra.Command{
	Use:   "resolve",
	Short: "Group unresolved project cards into projects",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := batchContext(cmd)
		defer stop()

		e, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer e.Close()

		job := newResolveJob(e.Store)
		if _, err := runJob(ctx, cmd.OutOrStdout(), e, job, cfg.Batch.ResolveCheckEvery); err != nil {
			return err
		}
		logResolveStats(e, job)
		return nil
	},
}

var inferCmd = &cobra.Command{
	Use:   "infer",
	Short: "Re-evaluate the lifecycle status of every project",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := batchContext(cmd)
		defer stop()

		filter := store.ProjectFilter{Status: model.Status(inferStatus)}
		if err := validStatusFilter(filter.Status); err != nil {
			return err
		}

		e, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer e.Close()

		scored, _, err := evaluators()
		if err != nil {
			return err
		}
		job := status.NewJob(e.Store, scored, status.WithFilter(filter))
		_, err = runJob(ctx, cmd.OutOrStdout(), e, job, cfg.Batch.InferCheckEvery)
		e.Metrics.ObserveTransitions(job.Stats.Transitions)
		if err != nil {
			return err
		}
		zap.L().Info("inference stats",
			zap.Int("evaluated", job.Stats.Evaluated),
			zap.Int("unchanged", job.Stats.Unchanged),
			zap.Int("transitions", len(job.Stats.Transitions)),
		)
		return nil
	},
}

var backfillCmd = &cobra.Command{
	Use:   "backfill",
	Short: "Re-extract the card of every stored mention",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := batchContext(cmd)
		defer stop()

		path := backfillCards
		if path == "" {
			path = cfg.Extract.CardsFile
		}
		if path == "" {
			return eris.New("backfill needs an extractor output file (--cards or extract.cards_file)")
		}

		e, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer e.Close()

		ex, err := ingest.NewFileExtractor(ctx, path)
		if err != nil {
			return err
		}
		job := ingest.NewBackfillJob(e.Store, ex, ingest.NewLimiter(cfg.Extract.RatePerSec, cfg.Extract.Burst))
		if _, err := runJob(ctx, cmd.OutOrStdout(), e, job, cfg.Batch.BackfillCheckEvery); err != nil {
			return err
		}
		zap.L().Info("backfill stats",
			zap.Int("extracted", job.Stats.Extracted),
			zap.Int("missing", job.Stats.Missing),
		)
		return nil
	},
}

var reprocessCmd = &cobra.Command{
	Use:   "reprocess",
	Short: "Resolve pending cards, then re-evaluate every project",
	Long:  "Runs resolution and then a full inference pass under its own checkpoint. Re-invoke after a partial run to continue.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := batchContext(cmd)
		defer stop()

		e, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer e.Close()

		if reprocessFresh {
			for _, name := range []string{resolve.JobName, reprocessJobName} {
				if err := e.Store.DeleteCheckpoint(ctx, name); err != nil {
					return eris.Wrapf(err, "clear checkpoint %s", name)
				}
			}
		}

		rj := newResolveJob(e.Store)
		res, err := runJob(ctx, cmd.OutOrStdout(), e, rj, cfg.Batch.ResolveCheckEvery)
		if err != nil {
			return err
		}
		logResolveStats(e, rj)
		if res.Partial {
			return nil
		}

		scored, _, err := evaluators()
		if err != nil {
			return err
		}
		ij := status.NewJob(e.Store, scored, status.WithName(reprocessJobName))
		_, err = runJob(ctx, cmd.OutOrStdout(), e, ij, cfg.Batch.InferCheckEvery)
		e.Metrics.ObserveTransitions(ij.Stats.Transitions)
		return err
	},
}

func newResolveJob(st store.Store) *resolve.Job {
	return resolve.NewJob(st, resolve.Options{
		TimeWindowDays: cfg.Resolve.TimeWindowDays,
		AttachExisting: cfg.Resolve.AttachExisting && !resolveNoAttach,
	})
}

func logResolveStats(e *env, job *resolve.Job) {
	e.Metrics.ObserveResolve(job.Stats.Created, job.Stats.Attached, job.Stats.Skipped)
	zap.L().Info("resolution stats",
		zap.Int("created", job.Stats.Created),
		zap.Int("skipped", job.Stats.Skipped),
		zap.Int("attached", job.Stats.Attached),
	)
}

func validStatusFilter(s model.Status) error {
	if s == model.StatusUnknown {
		return nil
	}
	for _, v := range model.Statuses {
		if s == v {
			return nil
		}
	}
	return eris.Errorf("unknown status %q", s)
}

func init() {
	resolveCmd.Flags().BoolVar(&resolveNoAttach, "no-attach", false, "do not attach new cards to existing projects")
	inferCmd.Flags().StringVar(&inferStatus, "status", "", "only re-evaluate projects currently in this status (checkpointed as infer:<status>)")
	backfillCmd.Flags().StringVar(&backfillCards, "cards", "", "extractor output file (JSONL or JSON array)")
	reprocessCmd.Flags().BoolVar(&reprocessFresh, "fresh", false, "discard existing checkpoints and start over")
	reprocessCmd.Flags().BoolVar(&resolveNoAttach, "no-attach", false, "do not attach new cards to existing projects")
	rootCmd.AddCommand(resolveCmd, inferCmd, backfillCmd, reprocessCmd)
}
