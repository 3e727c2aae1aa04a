package kb

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"

	"github.com/cloo-solutions/resolvekb/internal/domain"
	"github.com/cloo-solutions/resolvekb/internal/service"
)

// ListCmd creates the list command.
func ListCmd(open Opener) *cobra.Command {
	var (
		category string
		priority string
		limit    int
		cursor   string
	)

	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List stored incidents",
		Long:    "Lists stored incidents in the order they were added, one page at a time.",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			filter := service.Filter{
				Category: domain.Category(category),
				Priority: domain.Priority(priority),
			}
			return withApp(cmd, open, func(ctx context.Context, app *App) error {
				return runList(cmd, app, filter, cursor, limit)
			})
		},
	}

	cmd.Flags().StringVarP(&category, "category", "c", "", "Filter by category")
	cmd.Flags().StringVarP(&priority, "priority", "p", "", "Filter by priority")
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum number of incidents")
	cmd.Flags().StringVar(&cursor, "cursor", "", "Pagination cursor from previous response")

	return cmd
}

func runList(cmd *cobra.Command, app *App, filter service.Filter, cursor string, limit int) error {
	page, err := app.Store.QueryPage(filter, cursor, limit)
	if err != nil {
		return fmt.Errorf("list failed: %w", err)
	}

	out := cmd.OutOrStdout()
	if outputJSON(cmd) {
		resp := PageView{
			Incidents: make([]IncidentView, 0, len(page.Items)),
			Cursor:    page.Cursor,
			HasMore:   page.HasMore,
		}
		for _, inc := range page.Items {
			resp.Incidents = append(resp.Incidents, incidentView(inc))
		}
		return writeJSON(out, resp)
	}

	if len(page.Items) == 0 {
		fmt.Fprintln(out, "No incidents found.")
		return nil
	}
	rows := make([][]string, 0, len(page.Items))
	for _, inc := range page.Items {
		rows = append(rows, []string{inc.ID, string(inc.Category), string(inc.Priority), truncate(inc.ShortDescription, 60)})
	}
	fmt.Fprintln(out, newTable("Number", "Category", "Priority", "Short description").Rows(rows...))
	if page.HasMore && page.Cursor != "" {
		fmt.Fprintf(out, "\n%s\n", strings.Repeat("-", 40))
		fmt.Fprintf(out, "More incidents available. Use --cursor %s\n", page.Cursor)
	}
	return nil
}

// StatsCmd creates the stats command.
func StatsCmd(open Opener) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show knowledge base statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, open, func(ctx context.Context, app *App) error {
				stats := app.Store.Stats()
				out := cmd.OutOrStdout()
				if outputJSON(cmd) {
					return writeJSON(out, statsView(stats))
				}

				fmt.Fprintf(out, "Version:    %d\n", stats.Version)
				if !stats.LastUpdated.IsZero() {
					fmt.Fprintf(out, "Updated:    %s\n", formatTime(stats.LastUpdated))
				}
				fmt.Fprintf(out, "Incidents:  %d\n", stats.IncidentCount)
				fmt.Fprintf(out, "Dimension:  %d\n", stats.Dimension)
				if len(stats.Categories) > 0 {
					t := newTable("Category", "Incidents")
					for _, c := range stats.Categories {
						t.Row(string(c.Category), strconv.Itoa(c.Count))
					}
					fmt.Fprintln(out, t)
				}
				return nil
			})
		},
	}

	return cmd
}

func newTable(headers ...string) *table.Table {
	return table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("99"))).
		Headers(headers...)
}
