package main

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/projtrack/internal/model"
	"github.com/sells-group/projtrack/internal/status"
	"github.com/sells-group/projtrack/internal/store"
)

var (
	silenceStatus  string
	silenceCompany string
	silenceLimit   int
)

var statusCmd = &cobra.Command{
	Use:   "status <project_id>",
	Short: "Show a project with its status record",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		e, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer e.Close()

		p, err := e.Store.GetProject(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "get project")
		}
		if p == nil {
			return eris.Errorf("project %s not found", args[0])
		}
		st, err := e.Store.GetStatus(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "get status")
		}

		view := struct {
			Project *model.Project       `json:"project"`
			Status  *model.ProjectStatus `json:"status"`
			Silence model.SilenceClass   `json:"silence"`
		}{Project: p, Status: st}
		var last *time.Time
		if st != nil {
			last = st.LastSignalAt
		}
		view.Silence = status.Silence(last, time.Now())
		return printJSON(cmd.OutOrStdout(), view)
	},
}

var silenceCmd = &cobra.Command{
	Use:   "silence",
	Short: "Classify projects by time since their last signal",
	Long:  "Read-only report: active (<180 days), stalled (180-365 days), dead (>365 days) or never_updated. Stored statuses are not modified.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		filter := store.ProjectFilter{Status: model.Status(silenceStatus), Company: silenceCompany, Limit: silenceLimit}
		if err := validStatusFilter(filter.Status); err != nil {
			return err
		}

		e, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer e.Close()

		statuses, err := e.Store.ListStatuses(ctx, filter)
		if err != nil {
			return eris.Wrap(err, "list statuses")
		}
		formatSilence(cmd.OutOrStdout(), status.SilenceReport(statuses, time.Now()))
		return nil
	},
}

var compareCmd = &cobra.Command{
	Use:   "compare <project_id>",
	Short: "Evaluate a project with the scored and rule-based strategies",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		e, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer e.Close()

		scored, rules, err := evaluators()
		if err != nil {
			return err
		}
		c, err := status.Compare(ctx, e.Store, args[0], scored, rules, time.Now())
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), c)
	},
}

var checkpointCmd = &cobra.Command{
	Use:   "checkpoint",
	Short: "Inspect or discard batch checkpoints",
}

var checkpointShowCmd = &cobra.Command{
	Use:   "show <job>",
	Short: "Show a job's checkpoint",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		e, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer e.Close()

		cp, err := e.Store.LoadCheckpoint(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "load checkpoint")
		}
		if cp == nil {
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "no checkpoint for %s\n", args[0])
			return nil
		}
		_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s: processed %d, remaining %d, saved %s\n",
			cp.Job, len(cp.Processed), len(cp.Remaining), cp.UpdatedAt.Format(time.RFC3339))
		return nil
	},
}

var checkpointClearCmd = &cobra.Command{
	Use:   "clear <job>",
	Short: "Discard a job's checkpoint so the next run starts fresh",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		e, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer e.Close()

		if err := e.Store.DeleteCheckpoint(ctx, args[0]); err != nil {
			return eris.Wrap(err, "delete checkpoint")
		}
		_, _ = fmt.Fprintf(cmd.OutOrStdout(), "cleared checkpoint for %s\n", args[0])
		return nil
	},
}

// formatSilence writes a tabular silence report to w.
func formatSilence(out io.Writer, rows []status.SilenceRow) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "PROJECT\tSTATUS\tLAST SIGNAL\tSILENCE")
	_, _ = fmt.Fprintln(w, "-------\t------\t-----------\t-------")

	for _, r := range rows {
		cur := string(r.StatusCurrent)
		if cur == "" {
			cur = "-"
		}
		last := "-"
		if r.LastSignalAt != nil {
			last = r.LastSignalAt.Format("2006-01-02")
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", r.ProjectID, cur, last, r.Silence)
	}
	_ = w.Flush()
}

func init() {
	silenceCmd.Flags().StringVar(&silenceStatus, "status", "", "only projects currently in this status")
	silenceCmd.Flags().StringVar(&silenceCompany, "company", "", "only projects of this company")
	silenceCmd.Flags().IntVar(&silenceLimit, "limit", 0, "max rows (0 for all)")
	checkpointCmd.AddCommand(checkpointShowCmd, checkpointClearCmd)
	rootCmd.AddCommand(statusCmd, silenceCmd, compareCmd, checkpointCmd)
}
