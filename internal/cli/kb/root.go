package kb

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/cloo-solutions/resolvekb/internal/telemetry"
)

// NewRootCmd builds the resolvekb command tree. open is called once per
// command that needs the engine.
func NewRootCmd(open Opener, version string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "resolvekb",
		Short: "Resolution knowledge base for IT incidents",
		Long: `resolvekb stores resolved incidents, suggests resolutions for new ones
and groups batches of incidents into recurring problems.

Environment variables:
  RESOLVEKB_STORE_BACKEND      file, s3 or postgres (default: file)
  RESOLVEKB_STORE_PATH         knowledge base file (default: knowledge_base.json)
  RESOLVEKB_EMBEDDING_BACKEND  openai or hashing (default: openai)
  RESOLVEKB_OPENAI_API_KEY     API key for the embedding endpoint`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().Bool("output", false, "Output as JSON")

	rootCmd.AddCommand(SuggestCmd(open))
	rootCmd.AddCommand(AddCmd(open))
	rootCmd.AddCommand(ImportCmd(open))
	rootCmd.AddCommand(UpdateCmd(open))
	rootCmd.AddCommand(RemoveCmd(open))
	rootCmd.AddCommand(ListCmd(open))
	rootCmd.AddCommand(StatsCmd(open))
	rootCmd.AddCommand(ClusterCmd(open))
	rootCmd.AddCommand(ReembedCmd(open))

	return rootCmd
}

// withApp runs fn inside a command transaction with a freshly opened App
func withApp(cmd *cobra.Command, open Opener, fn func(ctx context.Context, app *App) error) error {
	ctx, tx := telemetry.StartTransaction(cmd.Context(), "resolvekb "+cmd.Name(), "cli.command")
	defer tx.End()

	app, err := open(ctx)
	if err != nil {
		tx.MarkFailed(err)
		return err
	}
	defer app.Close()

	if err := fn(ctx, app); err != nil {
		tx.MarkFailed(err)
		return err
	}
	return nil
}

// readInput reads a named file, or stdin when name is "-"
func readInput(cmd *cobra.Command, name string) ([]byte, error) {
	if name == "-" {
		data, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return nil, fmt.Errorf("failed to read stdin: %w", err)
		}
		return data, nil
	}
	data, err := os.ReadFile(name)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", name, err)
	}
	return data, nil
}

var timestampLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// parseTimestamp accepts ISO-8601 timestamps; naive ones are read as UTC
func parseTimestamp(flag, s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("--%s: not an ISO-8601 timestamp: %q", flag, s)
}
