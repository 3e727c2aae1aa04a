package kb

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/cloo-solutions/resolvekb/internal/domain"
	"github.com/cloo-solutions/resolvekb/internal/repository"
	"github.com/cloo-solutions/resolvekb/internal/service"
)

type dedupeFlags struct {
	force     bool
	threshold float64
}

func (f *dedupeFlags) register(cmd *cobra.Command) {
	cmd.Flags().BoolVar(&f.force, "force", false, "Skip duplicate screening")
	cmd.Flags().Float64Var(&f.threshold, "dedupe-threshold", service.DefaultDedupeThreshold, "Similarity at or above which an incident is a duplicate")
}

func (f *dedupeFlags) options(cmd *cobra.Command, cfg float64) []service.AppendOption {
	threshold := cfg
	if cmd.Flags().Changed("dedupe-threshold") {
		threshold = f.threshold
	}
	opts := []service.AppendOption{service.WithDedupeThreshold(threshold)}
	if f.force {
		opts = append(opts, service.WithForce())
	}
	return opts
}

// AddCmd creates the add command.
func AddCmd(open Opener) *cobra.Command {
	var (
		inc                domain.Incident
		category, priority string
		created, resolved  string
		dedupe             dedupeFlags
	)

	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add a resolved incident",
		Long: `Adds one resolved incident to the knowledge base. An incident too similar to
a stored one is reported as a duplicate and not added unless --force is given.`,
		Example: `  resolvekb add -s "VPN connection timeout" -r "Updated VPN client to version 3.5" -c network -p 2`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			entry := inc
			entry.Category = domain.Category(category)
			entry.Priority = domain.Priority(priority)
			if created != "" {
				t, err := parseTimestamp("created", created)
				if err != nil {
					return err
				}
				entry.CreatedAt = t
			}
			if resolved != "" {
				t, err := parseTimestamp("resolved", resolved)
				if err != nil {
					return err
				}
				entry.ResolvedAt = t
			}

			return withApp(cmd, open, func(ctx context.Context, app *App) error {
				return runAdd(ctx, cmd, app, &entry, dedupe.options(cmd, app.Config.DedupeThreshold))
			})
		},
	}

	cmd.Flags().StringVar(&inc.ID, "number", "", "Incident number (generated when empty)")
	cmd.Flags().StringVarP(&inc.ShortDescription, "short-description", "s", "", "One-line summary of the incident")
	cmd.Flags().StringVarP(&inc.Description, "description", "d", "", "Full description of the incident")
	cmd.Flags().StringVarP(&inc.ResolutionNotes, "resolution", "r", "", "How the incident was resolved")
	cmd.Flags().StringVarP(&category, "category", "c", "", "Incident category")
	cmd.Flags().StringVarP(&priority, "priority", "p", "", "Incident priority, e.g. 2 or \"3 - Moderate\"")
	cmd.Flags().StringVar(&created, "created", "", "Creation time (ISO-8601, default now)")
	cmd.Flags().StringVar(&resolved, "resolved", "", "Resolution time (ISO-8601, default now)")
	dedupe.register(cmd)
	_ = cmd.MarkFlagRequired("short-description")
	_ = cmd.MarkFlagRequired("resolution")

	return cmd
}

func runAdd(ctx context.Context, cmd *cobra.Command, app *App, entry *domain.Incident, opts []service.AppendOption) error {
	res, err := app.Store.Append(ctx, entry, opts...)
	if _, dup := domain.AsDuplicate(err); !dup && err != nil {
		return fmt.Errorf("add failed: %w", err)
	}

	out := cmd.OutOrStdout()
	if outputJSON(cmd) {
		return writeJSON(out, appendView(*res))
	}
	if res.Status == service.AppendDuplicate {
		fmt.Fprintf(out, "Not added: duplicate of %s (similarity %.3f). Use --force to add anyway.\n", res.DuplicateOf, res.Similarity)
		return nil
	}
	fmt.Fprintf(out, "Added %s (version %d)\n", res.ID, res.Version)
	return nil
}

// ImportResponse is the JSON output of the import command
type ImportResponse struct {
	Accepted   int          `json:"accepted"`
	Duplicates int          `json:"duplicates"`
	Rejected   int          `json:"rejected"`
	Version    int64        `json:"version"`
	Results    []AppendView `json:"results"`
}

// ImportCmd creates the import command.
func ImportCmd(open Opener) *cobra.Command {
	var dedupe dedupeFlags

	cmd := &cobra.Command{
		Use:   "import <file>",
		Short: "Import resolved incidents in bulk",
		Long: `Imports incidents from a JSON array, a knowledge base document or JSON lines.
Use - to read from stdin. Each record is screened for duplicates against the
knowledge base and the records before it; invalid records are reported and
skipped. The knowledge base is saved once for the whole file.`,
		Example: `  resolvekb import incidents.json
  servicenow-export | resolvekb import - --output`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := readInput(cmd, args[0])
			if err != nil {
				return err
			}
			entries, err := repository.DecodeIncidents(data)
			if err != nil {
				return fmt.Errorf("invalid import file: %w", err)
			}

			return withApp(cmd, open, func(ctx context.Context, app *App) error {
				return runImport(ctx, cmd, app, entries, dedupe.options(cmd, app.Config.DedupeThreshold))
			})
		},
	}

	dedupe.register(cmd)

	return cmd
}

func runImport(ctx context.Context, cmd *cobra.Command, app *App, entries []*domain.Incident, opts []service.AppendOption) error {
	start := time.Now()
	results, err := app.Store.AppendBatch(ctx, entries, opts...)
	if err != nil {
		return fmt.Errorf("import failed: %w", err)
	}

	resp := ImportResponse{
		Version: app.Store.Snapshot().Version,
		Results: make([]AppendView, 0, len(results)),
	}
	for _, r := range results {
		switch r.Status {
		case service.AppendAccepted:
			resp.Accepted++
		case service.AppendDuplicate:
			resp.Duplicates++
		case service.AppendRejected:
			resp.Rejected++
		}
		resp.Results = append(resp.Results, appendView(r))
	}

	out := cmd.OutOrStdout()
	if outputJSON(cmd) {
		return writeJSON(out, resp)
	}

	fmt.Fprintf(out, "Imported %d of %d incidents in %s (%d duplicates, %d rejected), version %d\n",
		resp.Accepted, len(results), time.Since(start).Round(time.Millisecond), resp.Duplicates, resp.Rejected, resp.Version)
	for i, r := range results {
		switch r.Status {
		case service.AppendDuplicate:
			fmt.Fprintf(out, "  record %d (%s): duplicate of %s (%.3f)\n", i, r.ID, r.DuplicateOf, r.Similarity)
		case service.AppendRejected:
			fmt.Fprintf(out, "  record %d (%s): %v\n", i, r.ID, r.Err)
		}
	}
	return nil
}
