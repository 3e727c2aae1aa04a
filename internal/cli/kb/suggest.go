package kb

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/cloo-solutions/resolvekb/internal/domain"
	"github.com/cloo-solutions/resolvekb/internal/service"
)

// SuggestCmd creates the suggest command.
func SuggestCmd(open Opener) *cobra.Command {
	var (
		topK      int
		threshold float64
		category  string
		symptoms  string
	)

	cmd := &cobra.Command{
		Use:   "suggest <description>",
		Short: "Suggest a resolution for a new incident",
		Long: `Finds the most similar resolved incidents and returns the best resolution
when its similarity reaches the confidence threshold. Otherwise the incident
should be escalated.`,
		Example: `  resolvekb suggest "Cannot connect to VPN"
  resolvekb suggest "Outlook keeps asking for password" --category email --output`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			query := strings.Join(args, " ")
			return withApp(cmd, open, func(ctx context.Context, app *App) error {
				opts := []service.SuggestOption{
					service.WithTopK(app.Config.TopK),
					service.WithConfidenceThreshold(app.Config.ConfidenceThreshold),
				}
				if cmd.Flags().Changed("top-k") {
					opts = append(opts, service.WithTopK(topK))
				}
				if cmd.Flags().Changed("threshold") {
					opts = append(opts, service.WithConfidenceThreshold(threshold))
				}
				if category != "" {
					opts = append(opts, service.WithCategory(category))
				}
				if symptoms != "" {
					opts = append(opts, service.WithSymptoms(symptoms))
				}
				return runSuggest(ctx, cmd, app, query, opts)
			})
		},
	}

	cmd.Flags().IntVarP(&topK, "top-k", "k", service.DefaultTopK, "Number of candidates to rank")
	cmd.Flags().Float64Var(&threshold, "threshold", service.DefaultConfidenceThreshold, "Minimum similarity for a confident match")
	cmd.Flags().StringVarP(&category, "category", "c", "", "Only consider incidents in this category")
	cmd.Flags().StringVar(&symptoms, "symptoms", "", "Additional symptoms appended to the description")

	return cmd
}

func runSuggest(ctx context.Context, cmd *cobra.Command, app *App, query string, opts []service.SuggestOption) error {
	s, err := app.Retriever.Suggest(ctx, query, opts...)
	if err != nil {
		return fmt.Errorf("suggest failed: %w", err)
	}

	out := cmd.OutOrStdout()
	if outputJSON(cmd) {
		return writeJSON(out, suggestionView(s))
	}
	printSuggestion(out, s)
	return nil
}

func printSuggestion(w io.Writer, s *domain.Suggestion) {
	if !s.Matched() {
		fmt.Fprintf(w, "No confident match (best similarity %.2f). Escalate to a human agent.\n", s.BestScore)
		return
	}

	fmt.Fprintf(w, "Suggested resolution (confidence %.2f, from %s):\n", s.Confidence, s.SourceID)
	fmt.Fprintf(w, "  %s\n", s.Resolution)
	if s.Note != "" {
		fmt.Fprintf(w, "\n%s\n", s.Note)
	}
	if len(s.Alternatives) == 0 {
		return
	}

	fmt.Fprintf(w, "\nAlternatives:\n")
	for i, a := range s.Alternatives {
		fmt.Fprintf(w, "%d. %s (%.2f) %s\n", i+1, a.IncidentID, a.Similarity, a.Category)
		fmt.Fprintf(w, "   %s\n", truncate(a.ResolutionNotes, 100))
	}
}
