package kb

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/cloo-solutions/resolvekb/internal/domain"
	"github.com/cloo-solutions/resolvekb/internal/service"
)

// IncidentView is the JSON rendering of a stored incident
type IncidentView struct {
	Number           string          `json:"number"`
	ShortDescription string          `json:"short_description"`
	Description      string          `json:"description,omitempty"`
	Category         string          `json:"category"`
	Priority         domain.Priority `json:"priority,omitempty"`
	ResolutionNotes  string          `json:"resolution_notes"`
	CreatedOn        string          `json:"sys_created_on,omitempty"`
	ResolvedAt       string          `json:"resolved_at,omitempty"`
	UpdatedOn        string          `json:"sys_updated_on,omitempty"`
	Source           string          `json:"source,omitempty"`
}

// AlternativeView is one ranked candidate of a suggestion
type AlternativeView struct {
	Number          string  `json:"number"`
	Category        string  `json:"category"`
	Similarity      float64 `json:"similarity"`
	ResolutionNotes string  `json:"resolution_notes"`
}

// SuggestionView is the JSON rendering of a suggestion
type SuggestionView struct {
	Status       string            `json:"status"`
	Resolution   string            `json:"resolution,omitempty"`
	Confidence   float64           `json:"confidence,omitempty"`
	Source       string            `json:"source_incident,omitempty"`
	BestScore    float64           `json:"best_score"`
	Note         string            `json:"note,omitempty"`
	Alternatives []AlternativeView `json:"alternatives"`
}

// AppendView is the JSON rendering of one append outcome
type AppendView struct {
	Number      string  `json:"number,omitempty"`
	Status      string  `json:"status"`
	DuplicateOf string  `json:"duplicate_of,omitempty"`
	Similarity  float64 `json:"similarity,omitempty"`
	Version     int64   `json:"version"`
	Error       string  `json:"error,omitempty"`
}

// ClusterView is the JSON rendering of one cluster summary
type ClusterView struct {
	Label                int            `json:"label"`
	Size                 int            `json:"size"`
	Keywords             []string       `json:"keywords"`
	Representative       string         `json:"representative"`
	RepresentativeIndex  int            `json:"representative_index"`
	RepresentativeID     string         `json:"representative_incident,omitempty"`
	ResolutionPatterns   []string       `json:"resolution_patterns,omitempty"`
	Members              []int          `json:"members"`
	AveragePriority      *float64       `json:"avg_priority"`
	CategoryDistribution map[string]int `json:"category_distribution,omitempty"`
	PriorityDistribution map[string]int `json:"priority_distribution,omitempty"`
	AvgResolutionHours   *float64       `json:"avg_resolution_hours"`
}

// ClusterResultView is the JSON rendering of a clustering pass
type ClusterResultView struct {
	Labels   []int         `json:"labels"`
	Noise    int           `json:"noise"`
	Clusters []ClusterView `json:"clusters"`
}

// StatsView is the JSON rendering of the knowledge base statistics
type StatsView struct {
	Version       int64          `json:"version"`
	LastUpdated   string         `json:"last_updated,omitempty"`
	IncidentCount int            `json:"incident_count"`
	Dimension     int            `json:"dimension"`
	Categories    map[string]int `json:"categories"`
}

// PageView is the JSON rendering of a listing page
type PageView struct {
	Incidents []IncidentView `json:"incidents"`
	Cursor    string         `json:"cursor,omitempty"`
	HasMore   bool           `json:"has_more"`
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func incidentView(inc *domain.Incident) IncidentView {
	return IncidentView{
		Number:           inc.ID,
		ShortDescription: inc.ShortDescription,
		Description:      inc.Description,
		Category:         string(inc.Category),
		Priority:         inc.Priority,
		ResolutionNotes:  inc.ResolutionNotes,
		CreatedOn:        formatTime(inc.CreatedAt),
		ResolvedAt:       formatTime(inc.ResolvedAt),
		UpdatedOn:        formatTime(inc.UpdatedAt),
		Source:           string(inc.Source),
	}
}

func suggestionView(s *domain.Suggestion) SuggestionView {
	v := SuggestionView{
		Status:       string(s.Status),
		Resolution:   s.Resolution,
		Confidence:   s.Confidence,
		Source:       s.SourceID,
		BestScore:    s.BestScore,
		Note:         s.Note,
		Alternatives: make([]AlternativeView, 0, len(s.Alternatives)),
	}
	if s.Matched() {
		v.BestScore = s.Confidence
	}
	for _, a := range s.Alternatives {
		v.Alternatives = append(v.Alternatives, AlternativeView{
			Number:          a.IncidentID,
			Category:        string(a.Category),
			Similarity:      a.Similarity,
			ResolutionNotes: a.ResolutionNotes,
		})
	}
	return v
}

func appendView(r service.AppendResult) AppendView {
	v := AppendView{
		Number:      r.ID,
		Status:      string(r.Status),
		DuplicateOf: r.DuplicateOf,
		Similarity:  r.Similarity,
		Version:     r.Version,
	}
	if r.Err != nil {
		v.Error = r.Err.Error()
	}
	return v
}

func clusterResultView(res *domain.ClusterResult, batch []domain.IncidentText) ClusterResultView {
	v := ClusterResultView{
		Labels:   make([]int, len(res.Assignments)),
		Noise:    res.NoiseCount(),
		Clusters: make([]ClusterView, 0, len(res.Summaries)),
	}
	for _, a := range res.Assignments {
		v.Labels[a.Index] = a.Label
	}

	groups := res.Groups()
	for _, s := range res.Summaries {
		cv := ClusterView{
			Label:                s.Label,
			Size:                 s.Size,
			Keywords:             s.Keywords,
			Representative:       batch[s.RepresentativeIndex].Text,
			RepresentativeIndex:  s.RepresentativeIndex,
			RepresentativeID:     s.RepresentativeID,
			ResolutionPatterns:   s.ResolutionPatterns,
			Members:              groups[s.Label],
			AveragePriority:      s.AveragePriority,
			PriorityDistribution: s.PriorityDistribution,
			AvgResolutionHours:   s.AvgResolutionHours,
		}
		if len(s.Categories) > 0 {
			cv.CategoryDistribution = make(map[string]int, len(s.Categories))
			for _, c := range s.Categories {
				cv.CategoryDistribution[string(c.Category)] = c.Count
			}
		}
		v.Clusters = append(v.Clusters, cv)
	}
	return v
}

func statsView(s service.Stats) StatsView {
	v := StatsView{
		Version:       s.Version,
		LastUpdated:   formatTime(s.LastUpdated),
		IncidentCount: s.IncidentCount,
		Dimension:     s.Dimension,
		Categories:    make(map[string]int, len(s.Categories)),
	}
	for _, c := range s.Categories {
		v.Categories[string(c.Category)] = c.Count
	}
	return v
}

func outputJSON(cmd *cobra.Command) bool {
	v, _ := cmd.Flags().GetBool("output")
	return v
}

func writeJSON(w io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode output: %w", err)
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}
