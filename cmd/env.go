package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/projtrack/internal/batch"
	"github.com/sells-group/projtrack/internal/metrics"
	"github.com/sells-group/projtrack/internal/resilience"
	"github.com/sells-group/projtrack/internal/status"
	"github.com/sells-group/projtrack/internal/store"
)

// env holds the dependencies shared by commands.
type env struct {
	Store   store.Store
	Metrics *metrics.Recorder
}

func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		dsn := cfg.Store.DatabaseURL
		if dsn == "" {
			dsn = "projtrack.db"
		}
		return store.NewSQLite(dsn)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, &store.PoolConfig{
			MaxConns: cfg.Store.MaxConns,
			MinConns: cfg.Store.MinConns,
		})
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

// initEnv opens the store and ensures the schema exists.
func initEnv(ctx context.Context) (*env, error) {
	st, err := initStore(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "init store")
	}
	if err := st.Migrate(ctx); err != nil {
		st.Close() //nolint:errcheck
		return nil, eris.Wrap(err, "migrate store")
	}
	rec := metrics.NewRecorder()
	if cfg.Metrics.Textfile != "" {
		if err := rec.WatchStatuses(st); err != nil {
			st.Close() //nolint:errcheck
			return nil, err
		}
	}
	return &env{Store: st, Metrics: rec}, nil
}

// Close flushes metrics and closes the store.
func (e *env) Close() {
	if err := e.Metrics.WriteTextfile(cfg.Metrics.Textfile); err != nil {
		zap.L().Warn("failed to write metrics", zap.Error(err))
	}
	if err := e.Store.Close(); err != nil {
		zap.L().Warn("failed to close store", zap.Error(err))
	}
}

// batchContext cancels on interrupt, termination and host alarm, so that a
// batch gets its last-chance checkpoint before the process exits.
func batchContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM, syscall.SIGALRM)
}

func newRunner(st batch.CheckpointStore, checkEvery int) *batch.Runner {
	return batch.NewRunner(st, batch.Config{
		Budget:     cfg.Batch.Budget(),
		CheckEvery: checkEvery,
		Retry:      resilience.DefaultRetryConfig().WithAttempts(cfg.Batch.RetryAttempts),
	})
}

// runJob runs one batch job, records its metrics and prints the summary
// line. A partial run is a success.
func runJob(ctx context.Context, out io.Writer, e *env, job batch.Job, checkEvery int) (*batch.Result, error) {
	res, err := newRunner(e.Store, checkEvery).Run(ctx, job)
	e.Metrics.ObserveBatch(res)
	if res != nil {
		printSummary(out, res)
	}
	if err != nil {
		return res, eris.Wrapf(err, "%s", job.Name())
	}
	return res, nil
}

func printSummary(out io.Writer, res *batch.Result) {
	_, _ = fmt.Fprintf(out, "%s: processed %d, remaining %d, partial=%t\n", res.Job, res.Processed, res.Remaining, res.Partial)
}

// evaluators builds the scored evaluator, and the rules baseline for
// comparisons, from the configured pattern table.
func evaluators() (*status.Scored, *status.Rules, error) {
	patterns := status.DefaultPatterns()
	if cfg.Status.PatternsFile != "" {
		p, err := status.LoadPatterns(cfg.Status.PatternsFile)
		if err != nil {
			return nil, nil, err
		}
		patterns = p
	}
	return status.NewScored(patterns, cfg.Status.NeutralRecencyWeight), status.NewRules(patterns), nil
}

func printJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return eris.Wrap(enc.Encode(v), "encode output")
}

// openInput opens path, or stdin for "-".
func openInput(path string) (io.ReadCloser, error) {
	if path == "-" {
		return io.NopCloser(os.Stdin), nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "open %s", path)
	}
	return f, nil
}
