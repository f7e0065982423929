package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/projtrack/internal/batch"
	"github.com/sells-group/projtrack/internal/model"
	"github.com/sells-group/projtrack/internal/status"
)

func TestRootCommand_HasSubcommands(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}

	expected := []string{"migrate", "import", "resolve", "infer", "backfill", "reprocess", "status", "silence", "compare", "checkpoint"}
	for _, name := range expected {
		assert.True(t, names[name], "expected subcommand %q not found", name)
	}
}

func TestRootCommand_Metadata(t *testing.T) {
	assert.Equal(t, "projtrack", rootCmd.Use)
	assert.NotEmpty(t, rootCmd.Short)
	assert.NotEmpty(t, rootCmd.Long)
}

func TestImportCommand_HasSubcommands(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range importCmd.Commands() {
		names[c.Name()] = true
	}
	assert.True(t, names["mentions"])
	assert.True(t, names["cards"])

	flag := importCmd.PersistentFlags().Lookup("chunk")
	require.NotNil(t, flag)
	assert.Equal(t, "500", flag.DefValue)
}

func TestCheckpointCommand_HasSubcommands(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range checkpointCmd.Commands() {
		names[c.Name()] = true
	}
	assert.True(t, names["show"])
	assert.True(t, names["clear"])
}

func TestBatchCommand_Flags(t *testing.T) {
	assert.NotNil(t, resolveCmd.Flags().Lookup("no-attach"))
	assert.NotNil(t, inferCmd.Flags().Lookup("status"))
	assert.NotNil(t, backfillCmd.Flags().Lookup("cards"))
	assert.NotNil(t, reprocessCmd.Flags().Lookup("fresh"))
	assert.NotNil(t, silenceCmd.Flags().Lookup("limit"))
}

func TestPrintSummary(t *testing.T) {
	var buf bytes.Buffer
	printSummary(&buf, &batch.Result{Job: "resolve", Processed: 10, Remaining: 90, Partial: true})
	assert.Equal(t, "resolve: processed 10, remaining 90, partial=true\n", buf.String())
}

func TestValidStatusFilter(t *testing.T) {
	assert.NoError(t, validStatusFilter(""))
	assert.NoError(t, validStatusFilter(model.StatusDeadCandidate))
	assert.Error(t, validStatusFilter("finished"))
}

func TestFormatSilence(t *testing.T) {
	last := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	var buf bytes.Buffer
	formatSilence(&buf, []status.SilenceRow{
		{ProjectID: "p-1", StatusCurrent: model.StatusActive, LastSignalAt: &last, Silence: model.SilenceDead},
		{ProjectID: "p-2", Silence: model.SilenceNeverUpdated},
	})

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 4)
	assert.Contains(t, lines[0], "LAST SIGNAL")
	assert.Contains(t, lines[2], "2024-03-01")
	assert.Contains(t, lines[2], "dead")
	assert.Contains(t, lines[3], "never_updated")
}

// runCLI executes the root command and captures its output.
func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	t.Cleanup(func() { rootCmd.SetArgs(nil) })
	err := rootCmd.Execute()
	return out.String(), err
}

func TestCLI_EndToEnd(t *testing.T) {
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) }) //nolint:errcheck
	t.Setenv("PROJTRACK_STORE_DATABASE_URL", filepath.Join(dir, "e2e.db"))
	t.Setenv("PROJTRACK_LOG_LEVEL", "error")

	mentions := filepath.Join(dir, "mentions.jsonl")
	require.NoError(t, os.WriteFile(mentions, []byte(strings.Join([]string{
		`{"mention_id":"m-1","url":"https://a.example/1","title":"Vantage breaks ground in Shackelford County","published_at":"2024-01-10"}`,
		`{"mention_id":"m-2","url":"https://a.example/2","title":"Vantage campus approved","published_at":"2024-03-01"}`,
	}, "\n")), 0644))
	cards := filepath.Join(dir, "cards.jsonl")
	require.NoError(t, os.WriteFile(cards, []byte(strings.Join([]string{
		`{"mention_id":"m-1","company":"Vantage","location_text":"Shackelford County","announced_date":"2024-01-10","extraction_confidence":"high"}`,
		`{"mention_id":"m-2","company":"Vantage","location_text":"Shackelford County","announced_date":"2024-03-01","extraction_confidence":"medium"}`,
	}, "\n")), 0644))

	out, err := runCLI(t, "import", "mentions", mentions)
	require.NoError(t, err)
	assert.Contains(t, out, "mentions: read 2, rejected 0, new 2")

	out, err = runCLI(t, "import", "cards", cards)
	require.NoError(t, err)
	assert.Contains(t, out, "cards: read 2")

	out, err = runCLI(t, "resolve")
	require.NoError(t, err)
	assert.Contains(t, out, "resolve: processed 1, remaining 0, partial=false")

	out, err = runCLI(t, "infer")
	require.NoError(t, err)
	assert.Contains(t, out, "infer: processed 1, remaining 0, partial=false")

	out, err = runCLI(t, "status", model.NewProjectID("m-1"))
	require.NoError(t, err)
	// Both mentions are long past, so decayed signals stay below the active threshold.
	assert.Contains(t, out, `"status_current": "uncertain"`)
	assert.Contains(t, out, `"m-2"`)

	out, err = runCLI(t, "checkpoint", "show", "resolve")
	require.NoError(t, err)
	assert.Contains(t, out, "no checkpoint for resolve")

	_, err = runCLI(t, "status", "missing")
	require.Error(t, err)
}
