package kb

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cloo-solutions/resolvekb/internal/domain"
	"github.com/cloo-solutions/resolvekb/internal/service"
)

// UpdateCmd creates the update command.
func UpdateCmd(open Opener) *cobra.Command {
	var (
		shortDesc, desc, category string
		priority, resolution      string
		resolved                  string
	)

	cmd := &cobra.Command{
		Use:   "update <number>",
		Short: "Update a stored incident",
		Long: `Changes fields of a stored incident. Only the flags given are changed. The
incident is re-encoded when its description or category changes.`,
		Example: `  resolvekb update INC0010001 -r "Replaced the docking station and updated firmware"`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var patch service.IncidentPatch
			flags := cmd.Flags()
			if flags.Changed("short-description") {
				patch.ShortDescription = &shortDesc
			}
			if flags.Changed("description") {
				patch.Description = &desc
			}
			if flags.Changed("category") {
				patch.Category = &category
			}
			if flags.Changed("priority") {
				p := domain.Priority(priority)
				patch.Priority = &p
			}
			if flags.Changed("resolution") {
				patch.ResolutionNotes = &resolution
			}
			if flags.Changed("resolved") {
				t, err := parseTimestamp("resolved", resolved)
				if err != nil {
					return err
				}
				patch.ResolvedAt = &t
			}
			if patch.IsEmpty() {
				return fmt.Errorf("nothing to update: give at least one field flag")
			}

			return withApp(cmd, open, func(ctx context.Context, app *App) error {
				return runUpdate(ctx, cmd, app, args[0], patch)
			})
		},
	}

	cmd.Flags().StringVarP(&shortDesc, "short-description", "s", "", "One-line summary of the incident")
	cmd.Flags().StringVarP(&desc, "description", "d", "", "Full description of the incident")
	cmd.Flags().StringVarP(&resolution, "resolution", "r", "", "How the incident was resolved")
	cmd.Flags().StringVarP(&category, "category", "c", "", "Incident category")
	cmd.Flags().StringVarP(&priority, "priority", "p", "", "Incident priority")
	cmd.Flags().StringVar(&resolved, "resolved", "", "Resolution time (ISO-8601)")

	return cmd
}

func runUpdate(ctx context.Context, cmd *cobra.Command, app *App, id string, patch service.IncidentPatch) error {
	inc, err := app.Store.Update(ctx, id, patch)
	if err != nil {
		return fmt.Errorf("update failed: %w", err)
	}

	out := cmd.OutOrStdout()
	if outputJSON(cmd) {
		return writeJSON(out, incidentView(inc))
	}
	fmt.Fprintf(out, "Updated %s (version %d)\n", inc.ID, app.Store.Snapshot().Version)
	return nil
}

// RemoveCmd creates the remove command.
func RemoveCmd(open Opener) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "remove <number>",
		Aliases: []string{"rm", "delete"},
		Short:   "Remove an incident from the knowledge base",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, open, func(ctx context.Context, app *App) error {
				if err := app.Store.Remove(ctx, args[0]); err != nil {
					return fmt.Errorf("remove failed: %w", err)
				}

				version := app.Store.Snapshot().Version
				out := cmd.OutOrStdout()
				if outputJSON(cmd) {
					return writeJSON(out, map[string]any{"number": args[0], "removed": true, "version": version})
				}
				fmt.Fprintf(out, "Removed %s (version %d)\n", args[0], version)
				return nil
			})
		},
	}

	return cmd
}

// ReembedCmd creates the reembed command.
func ReembedCmd(open Opener) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reembed",
		Short: "Recompute every stored embedding",
		Long: `Re-encodes every stored incident with the configured embedding model. Run it
after changing the model; the knowledge base is replaced in one save.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, open, func(ctx context.Context, app *App) error {
				n, err := app.Store.Reembed(ctx)
				if err != nil {
					return fmt.Errorf("reembed failed: %w", err)
				}

				kb := app.Store.Snapshot()
				out := cmd.OutOrStdout()
				if outputJSON(cmd) {
					return writeJSON(out, map[string]any{
						"reembedded": n,
						"dimension":  kb.Dimension(),
						"model":      app.Provider.Model(),
						"version":    kb.Version,
					})
				}
				fmt.Fprintf(out, "Re-embedded %d incidents with %s (dimension %d, version %d)\n", n, app.Provider.Model(), kb.Dimension(), kb.Version)
				return nil
			})
		},
	}

	return cmd
}
