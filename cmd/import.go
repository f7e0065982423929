package main

import (
	"fmt"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/projtrack/internal/ingest"
)

var importChunk int

var importCmd = &cobra.Command{
	Use:   "import",
	Short: "Import collector and extractor output",
}

var importMentionsCmd = &cobra.Command{
	Use:   "mentions <file>",
	Short: "Import mentions from a JSONL or JSON array file (- for stdin)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		e, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer e.Close()

		in, err := openInput(args[0])
		if err != nil {
			return err
		}
		defer in.Close() //nolint:errcheck

		stats, err := ingest.ImportMentions(ctx, e.Store, in, importChunk)
		e.Metrics.ObserveImport("mentions", stats.Written, stats.Rejected)
		if err != nil {
			return eris.Wrap(err, "import mentions")
		}
		_, _ = fmt.Fprintf(cmd.OutOrStdout(), "mentions: read %d, rejected %d, new %d\n", stats.Read, stats.Rejected, stats.Written)
		return nil
	},
}

var importCardsCmd = &cobra.Command{
	Use:   "cards <file>",
	Short: "Import project cards from a JSONL or JSON array file (- for stdin)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		e, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer e.Close()

		in, err := openInput(args[0])
		if err != nil {
			return err
		}
		defer in.Close() //nolint:errcheck

		stats, err := ingest.ImportCards(ctx, e.Store, in, importChunk)
		e.Metrics.ObserveImport("cards", stats.Written, stats.Rejected)
		if err != nil {
			return eris.Wrap(err, "import cards")
		}
		_, _ = fmt.Fprintf(cmd.OutOrStdout(), "cards: read %d, rejected %d, written %d\n", stats.Read, stats.Rejected, stats.Written)
		return nil
	},
}

func init() {
	importCmd.PersistentFlags().IntVar(&importChunk, "chunk", ingest.DefaultChunkSize, "records per write")
	importCmd.AddCommand(importMentionsCmd, importCardsCmd)
	rootCmd.AddCommand(importCmd)
}
