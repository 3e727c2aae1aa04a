package kb

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/cloo-solutions/resolvekb/internal/domain"
	"github.com/cloo-solutions/resolvekb/internal/service"
)

// batchRecord is one clustering input record. Text wins over the
// description fields when both are present.
type batchRecord struct {
	Number           string          `json:"number"`
	Text             string          `json:"text"`
	ShortDescription string          `json:"short_description"`
	Description      string          `json:"description"`
	ResolutionNotes  string          `json:"resolution_notes"`
	Category         string          `json:"category"`
	Priority         domain.Priority `json:"priority"`
	CreatedAt        string          `json:"sys_created_on"`
	ResolvedAt       string          `json:"resolved_at"`
}

func (r batchRecord) toText() (domain.IncidentText, error) {
	item := domain.IncidentText{
		ID:              strings.TrimSpace(r.Number),
		Text:            strings.TrimSpace(r.Text),
		ResolutionNotes: strings.TrimSpace(r.ResolutionNotes),
		Category:        domain.NormalizeCategory(r.Category),
		Priority:        r.Priority,
	}
	if item.Text == "" {
		item.Text = strings.TrimSpace(strings.TrimSpace(r.ShortDescription) + " " + strings.TrimSpace(r.Description))
	}
	if r.Category == "" {
		item.Category = ""
	}
	var err error
	if r.CreatedAt != "" {
		if item.CreatedAt, err = parseTimestamp("sys_created_on", r.CreatedAt); err != nil {
			return item, err
		}
	}
	if r.ResolvedAt != "" {
		if item.ResolvedAt, err = parseTimestamp("resolved_at", r.ResolvedAt); err != nil {
			return item, err
		}
	}
	return item, nil
}

// maxBatchLine bounds one plain-text batch line
const maxBatchLine = 16 << 20

// parseBatch reads a JSON array of records or strings, or one text per line
func parseBatch(data []byte) ([]domain.IncidentText, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var raw []json.RawMessage
		if err := json.Unmarshal(trimmed, &raw); err != nil {
			return nil, fmt.Errorf("malformed JSON array: %w", err)
		}
		batch := make([]domain.IncidentText, 0, len(raw))
		for i, msg := range raw {
			var s string
			if err := json.Unmarshal(msg, &s); err == nil {
				batch = append(batch, domain.IncidentText{Text: s})
				continue
			}
			var r batchRecord
			if err := json.Unmarshal(msg, &r); err != nil {
				return nil, fmt.Errorf("item %d: %w", i, err)
			}
			item, err := r.toText()
			if err != nil {
				return nil, fmt.Errorf("item %d: %w", i, err)
			}
			batch = append(batch, item)
		}
		return batch, nil
	}

	var batch []domain.IncidentText
	scanner := bufio.NewScanner(bytes.NewReader(trimmed))
	scanner.Buffer(make([]byte, 0, 64*1024), maxBatchLine)
	for scanner.Scan() {
		if line := strings.TrimSpace(scanner.Text()); line != "" {
			batch = append(batch, domain.IncidentText{Text: line})
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return batch, nil
}

// storedBatch clusters the knowledge base itself
func storedBatch(store *service.KnowledgeStore) ([]domain.IncidentText, []string) {
	incidents := store.QueryAll(service.Filter{})
	batch := make([]domain.IncidentText, len(incidents))
	ids := make([]string, len(incidents))
	for i, inc := range incidents {
		batch[i] = domain.IncidentText{
			ID:              inc.ID,
			Text:            inc.EmbeddingText(),
			ResolutionNotes: inc.ResolutionNotes,
			Category:        inc.Category,
			Priority:        inc.Priority,
			CreatedAt:       inc.CreatedAt,
			ResolvedAt:      inc.ResolvedAt,
		}
		ids[i] = inc.ID
	}
	return batch, ids
}

// ClusterCmd creates the cluster command.
func ClusterCmd(open Opener) *cobra.Command {
	var (
		minClusterSize int
		minSamples     int
		keywords       int
	)

	cmd := &cobra.Command{
		Use:   "cluster [file]",
		Short: "Group incidents into recurring problems",
		Long: `Groups a batch of incidents by semantic density. The batch is a JSON array of
records or strings, or plain text with one incident per line; use - for stdin.
Without a file the stored incidents are clustered. Incidents that belong to no
dense group are reported as noise.`,
		Example: `  resolvekb cluster tickets.json --min-cluster-size 3
  resolvekb cluster --output`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var batch []domain.IncidentText
			if len(args) == 1 {
				data, err := readInput(cmd, args[0])
				if err != nil {
					return err
				}
				if batch, err = parseBatch(data); err != nil {
					return fmt.Errorf("invalid batch: %w", err)
				}
			}

			return withApp(cmd, open, func(ctx context.Context, app *App) error {
				var ids []string
				if len(args) == 0 {
					batch, ids = storedBatch(app.Store)
				}

				opts := []service.ClusterOption{
					service.WithMinClusterSize(app.Config.MinClusterSize),
					service.WithMinSamples(app.Config.MinSamples),
				}
				if cmd.Flags().Changed("min-cluster-size") {
					opts = append(opts, service.WithMinClusterSize(minClusterSize))
				}
				if cmd.Flags().Changed("min-samples") {
					opts = append(opts, service.WithMinSamples(minSamples))
				}
				if cmd.Flags().Changed("keywords") {
					opts = append(opts, service.WithKeywordLimit(keywords))
				}
				return runCluster(ctx, cmd, app, batch, ids, opts)
			})
		},
	}

	cmd.Flags().IntVar(&minClusterSize, "min-cluster-size", 2, "Smallest group reported as a cluster")
	cmd.Flags().IntVar(&minSamples, "min-samples", 1, "Density neighbourhood size, counting the incident itself")
	cmd.Flags().IntVar(&keywords, "keywords", 5, "Keywords reported per cluster")

	return cmd
}

func runCluster(ctx context.Context, cmd *cobra.Command, app *App, batch []domain.IncidentText, ids []string, opts []service.ClusterOption) error {
	res, err := app.Clusterer.Cluster(ctx, batch, opts...)
	if err != nil {
		return fmt.Errorf("cluster failed: %w", err)
	}

	out := cmd.OutOrStdout()
	view := clusterResultView(res, batch)
	if outputJSON(cmd) {
		return writeJSON(out, view)
	}
	printClusters(out, view, batch, ids)
	return nil
}

func printClusters(w io.Writer, v ClusterResultView, batch []domain.IncidentText, ids []string) {
	label := func(i int) string {
		if ids != nil {
			return ids[i]
		}
		return fmt.Sprintf("#%d", i)
	}

	fmt.Fprintf(w, "%d incidents, %d clusters, %d noise\n", len(batch), len(v.Clusters), v.Noise)
	for _, c := range v.Clusters {
		fmt.Fprintf(w, "\nCluster %d (%d incidents): %s\n", c.Label, c.Size, strings.Join(c.Keywords, ", "))
		if c.RepresentativeID != "" {
			fmt.Fprintf(w, "  Representative: %s %s\n", c.RepresentativeID, truncate(c.Representative, 70))
		} else {
			fmt.Fprintf(w, "  Representative: %s\n", truncate(c.Representative, 80))
		}
		if len(c.ResolutionPatterns) > 0 {
			fmt.Fprintf(w, "  Fix patterns:   %s\n", strings.Join(c.ResolutionPatterns, ", "))
		}
		if c.AveragePriority != nil {
			fmt.Fprintf(w, "  Avg priority:   %.1f\n", *c.AveragePriority)
		}
		if c.AvgResolutionHours != nil {
			fmt.Fprintf(w, "  Avg resolution: %.1fh\n", *c.AvgResolutionHours)
		}
		members := make([]string, len(c.Members))
		for i, m := range c.Members {
			members[i] = label(m)
		}
		fmt.Fprintf(w, "  Members:        %s\n", strings.Join(members, " "))
	}
}
