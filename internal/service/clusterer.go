package service

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/cloo-solutions/resolvekb/internal/cluster"
	"github.com/cloo-solutions/resolvekb/internal/domain"
	"github.com/cloo-solutions/resolvekb/internal/embedding"
	"github.com/cloo-solutions/resolvekb/internal/metrics"
	"github.com/cloo-solutions/resolvekb/internal/telemetry"
	"github.com/cloo-solutions/resolvekb/internal/textproc"
)

// BatchEncoder embeds many texts in one call
type BatchEncoder interface {
	EncodeBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// Clusterer groups a batch of incidents into density-based clusters and
// summarises each group
type Clusterer struct {
	encoder BatchEncoder
	logger  *zap.Logger
}

// NewClusterer creates a Clusterer. A nil logger discards output.
func NewClusterer(encoder BatchEncoder, logger *zap.Logger) *Clusterer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Clusterer{encoder: encoder, logger: logger}
}

type clusterConfig struct {
	params       cluster.Params
	keywordLimit int
}

// ClusterOption tunes a clustering pass
type ClusterOption func(*clusterConfig)

// WithMinClusterSize sets the smallest group reported as a cluster
func WithMinClusterSize(n int) ClusterOption {
	return func(c *clusterConfig) {
		c.params.MinClusterSize = n
	}
}

// WithMinSamples sets the density neighbourhood, counting the point itself
func WithMinSamples(n int) ClusterOption {
	return func(c *clusterConfig) {
		c.params.MinSamples = n
	}
}

// WithKeywordLimit sets how many keywords each summary carries
func WithKeywordLimit(n int) ClusterOption {
	return func(c *clusterConfig) {
		c.keywordLimit = n
	}
}

// Cluster labels every batch item with a cluster or domain.NoiseLabel and
// summarises the clusters. The grouping depends only on the batch contents,
// not on its order; labels are numbered by each cluster's lowest index.
func (c *Clusterer) Cluster(ctx context.Context, batch []domain.IncidentText, opts ...ClusterOption) (*domain.ClusterResult, error) {
	cfg := clusterConfig{params: cluster.DefaultParams(), keywordLimit: textproc.DefaultKeywordLimit}
	for _, opt := range opts {
		opt(&cfg)
	}
	if err := cfg.params.Validate(); err != nil {
		return nil, domain.InvalidInput(err)
	}

	texts := make([]string, len(batch))
	for i, item := range batch {
		texts[i] = strings.TrimSpace(item.Text)
		if texts[i] == "" {
			return nil, domain.InvalidInput(fmt.Errorf("batch item %d: %w", i, domain.ErrEmptyText))
		}
	}

	n := len(batch)
	result := &domain.ClusterResult{
		Assignments: make([]domain.ClusterAssignment, n),
		Summaries:   []domain.ClusterSummary{},
	}
	for i := range result.Assignments {
		result.Assignments[i] = domain.ClusterAssignment{Index: i, Label: domain.NoiseLabel}
	}
	if n <= 1 || n < 2*cfg.params.MinClusterSize {
		c.logger.Debug("batch too small to cluster",
			zap.Int("items", n),
			zap.Int("min_cluster_size", cfg.params.MinClusterSize),
		)
		c.record(result, n)
		return result, nil
	}

	ctx, span := telemetry.StartSpan(ctx, "Clusterer.Cluster", telemetry.SpanAttributes{
		Operation: "cluster",
		BatchSize: n,
	})
	defer span.End()

	vecs, err := c.encoder.EncodeBatch(ctx, texts)
	if err != nil {
		metrics.ClusterRunsTotal.WithLabelValues(metrics.StatusError).Inc()
		span.SetError(err)
		c.logger.Warn("failed to encode cluster batch", zap.Int("items", n), zap.Error(err))
		return nil, err
	}

	points := make([]cluster.Point, n)
	for i := range batch {
		points[i] = cluster.Point{Vector: vecs[i], Key: texts[i]}
	}
	labels, err := cluster.Fit(points, cfg.params)
	if err != nil {
		metrics.ClusterRunsTotal.WithLabelValues(metrics.StatusError).Inc()
		err = domain.ModelUnavailable(err)
		span.SetError(err)
		return nil, err
	}

	groups := make(map[int][]int)
	for i, l := range labels {
		result.Assignments[i].Label = l
		if l != domain.NoiseLabel {
			groups[l] = append(groups[l], i)
		}
	}

	keys := make([]int, 0, len(groups))
	for l := range groups {
		keys = append(keys, l)
	}
	sort.Ints(keys)
	for _, l := range keys {
		result.Summaries = append(result.Summaries, summarize(l, groups[l], batch, texts, vecs, cfg.keywordLimit))
	}

	span.SetData("clusters", len(result.Summaries))
	c.record(result, n)
	return result, nil
}

func (c *Clusterer) record(result *domain.ClusterResult, n int) {
	metrics.ClusterRunsTotal.WithLabelValues(metrics.StatusSuccess).Inc()
	metrics.ClustersFound.Observe(float64(len(result.Summaries)))
	ratio := 0.0
	if n > 0 {
		ratio = float64(result.NoiseCount()) / float64(n)
		metrics.ClusterNoiseRatio.Observe(ratio)
	}
	c.logger.Info("clustering finished",
		zap.Int("items", n),
		zap.Int("clusters", len(result.Summaries)),
		zap.Float64("noise_ratio", ratio),
	)
}

// summarize builds the summary of one cluster; members are ascending batch indexes
func summarize(label int, members []int, batch []domain.IncidentText, texts []string, vecs [][]float32, keywordLimit int) domain.ClusterSummary {
	memberTexts := make([]string, len(members))
	var notes []string
	for j, i := range members {
		memberTexts[j] = texts[i]
		if n := strings.TrimSpace(batch[i].ResolutionNotes); n != "" {
			notes = append(notes, n)
		}
	}

	rep := representative(members, vecs)
	s := domain.ClusterSummary{
		Label:                label,
		Size:                 len(members),
		Keywords:             textproc.TopKeywords(memberTexts, keywordLimit),
		RepresentativeIndex:  rep,
		RepresentativeID:     batch[rep].ID,
		PriorityDistribution: map[string]int{},
	}
	if len(notes) > 0 {
		s.ResolutionPatterns = textproc.TopKeywords(notes, keywordLimit)
	}

	categories := make(map[domain.Category]int)
	prioritySum, priorityCount := 0.0, 0
	hoursSum, hoursCount := 0.0, 0
	for _, i := range members {
		item := batch[i]
		if item.Category != "" {
			categories[domain.NormalizeCategory(string(item.Category))]++
		}
		if p := strings.TrimSpace(string(item.Priority)); p != "" {
			s.PriorityDistribution[p]++
		}
		if n, ok := item.Priority.Number(); ok {
			prioritySum += float64(n)
			priorityCount++
		}
		inc := domain.Incident{CreatedAt: item.CreatedAt, ResolvedAt: item.ResolvedAt}
		if h, ok := inc.ResolutionHours(); ok {
			hoursSum += h
			hoursCount++
		}
	}
	s.Categories = sortedCategoryCounts(categories)
	if priorityCount > 0 {
		avg := prioritySum / float64(priorityCount)
		s.AveragePriority = &avg
	}
	if hoursCount > 0 {
		avg := hoursSum / float64(hoursCount)
		s.AvgResolutionHours = &avg
	}
	return s
}

// representative returns the member closest to the cluster centroid. The
// centroid is not normalised; scaling does not change the arg max.
func representative(members []int, vecs [][]float32) int {
	centroid := make([]float32, len(vecs[members[0]]))
	for _, i := range members {
		for d, x := range vecs[i] {
			centroid[d] += x
		}
	}

	best, bestScore := members[0], embedding.Dot(vecs[members[0]], centroid)
	for _, i := range members[1:] {
		if score := embedding.Dot(vecs[i], centroid); score > bestScore {
			best, bestScore = i, score
		}
	}
	return best
}
