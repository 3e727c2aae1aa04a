package service

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/cloo-solutions/resolvekb/internal/domain"
	"github.com/cloo-solutions/resolvekb/internal/embedding"
	"github.com/cloo-solutions/resolvekb/internal/metrics"
	"github.com/cloo-solutions/resolvekb/internal/telemetry"
)

const (
	DefaultTopK                = 5
	DefaultConfidenceThreshold = 0.60

	// scoreEpsilon is the margin below which two similarities are treated as tied
	scoreEpsilon = 1e-9
	// noteSimilarity is the runner-up score above which the suggestion notes
	// how many similar incidents agree
	noteSimilarity = 0.8
)

// SnapshotSource publishes the knowledge base to read from
type SnapshotSource interface {
	Snapshot() *domain.KnowledgeBase
}

// QueryEncoder embeds a query text
type QueryEncoder interface {
	Encode(ctx context.Context, text string) ([]float32, error)
}

// Retriever suggests the resolution of the most similar stored incident
type Retriever struct {
	source  SnapshotSource
	encoder QueryEncoder
	logger  *zap.Logger
}

// NewRetriever creates a Retriever. A nil logger discards output.
func NewRetriever(source SnapshotSource, encoder QueryEncoder, logger *zap.Logger) *Retriever {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Retriever{source: source, encoder: encoder, logger: logger}
}

type suggestConfig struct {
	topK      int
	threshold float64
	category  domain.Category
	symptoms  string
}

// SuggestOption tunes a single lookup
type SuggestOption func(*suggestConfig)

// WithTopK sets how many candidates are returned, best first
func WithTopK(k int) SuggestOption {
	return func(c *suggestConfig) {
		c.topK = k
	}
}

// WithConfidenceThreshold sets the similarity the best candidate must reach
func WithConfidenceThreshold(t float64) SuggestOption {
	return func(c *suggestConfig) {
		c.threshold = t
	}
}

// WithCategory restricts candidates to one category and adds it to the query
// text. raw is normalised.
func WithCategory(raw string) SuggestOption {
	return func(c *suggestConfig) {
		if strings.TrimSpace(raw) != "" {
			c.category = domain.NormalizeCategory(raw)
		}
	}
}

// WithSymptoms appends observed symptoms to the query text before encoding
func WithSymptoms(symptoms string) SuggestOption {
	return func(c *suggestConfig) {
		c.symptoms = strings.TrimSpace(symptoms)
	}
}

type candidate struct {
	inc   *domain.Incident
	order int
	score float64
}

// Suggest looks up the stored incident most similar to query. A best score
// below the confidence threshold, or an empty knowledge base, yields a
// Suggestion with Status SuggestionNoConfidentMatch rather than an error.
func (r *Retriever) Suggest(ctx context.Context, query string, opts ...SuggestOption) (*domain.Suggestion, error) {
	cfg := suggestConfig{topK: DefaultTopK, threshold: DefaultConfidenceThreshold}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.topK < 1 {
		return nil, domain.InvalidInput(fmt.Errorf("top k must be at least 1, got %d", cfg.topK))
	}
	if cfg.threshold < -1 || cfg.threshold > 1 || math.IsNaN(cfg.threshold) {
		return nil, domain.InvalidInput(fmt.Errorf("confidence threshold must be in [-1, 1], got %v", cfg.threshold))
	}

	kb := r.source.Snapshot()
	if kb.IsEmpty() {
		metrics.SuggestionsTotal.WithLabelValues(string(domain.SuggestionNoConfidentMatch)).Inc()
		r.logger.Debug("suggest on empty knowledge base")
		return domain.NoConfidentMatch(0), nil
	}

	text := strings.TrimSpace(query)
	if text == "" {
		return nil, domain.InvalidInput(domain.ErrEmptyText)
	}
	if cfg.symptoms != "" {
		text = text + " " + cfg.symptoms
	}
	// stored embeddings carry the category the same way
	if cfg.category != "" && cfg.category != domain.CategoryOther {
		text = text + " " + string(cfg.category)
	}

	ctx, span := telemetry.StartSpan(ctx, "Retriever.Suggest", telemetry.SpanAttributes{
		Operation: "suggest",
	})
	defer span.End()

	candidates := make([]candidate, 0, len(kb.Entries))
	for i, e := range kb.Entries {
		if cfg.category != "" && e.Category != cfg.category {
			continue
		}
		candidates = append(candidates, candidate{inc: e, order: i})
	}
	if len(candidates) == 0 {
		metrics.SuggestionsTotal.WithLabelValues(string(domain.SuggestionNoConfidentMatch)).Inc()
		r.logger.Debug("no incidents in requested category", zap.String("category", string(cfg.category)))
		return domain.NoConfidentMatch(0), nil
	}

	q, err := r.encoder.Encode(ctx, text)
	if err != nil {
		metrics.SuggestionsTotal.WithLabelValues(metrics.StatusError).Inc()
		span.SetError(err)
		if domain.IsCode(err, domain.ErrCodeInvalidInput) {
			r.logger.Debug("suggest rejected query", zap.Error(err))
		} else {
			r.logger.Warn("suggest failed to encode query", zap.Error(err))
		}
		return nil, err
	}
	if d := kb.Dimension(); len(q) != d {
		err := domain.ModelUnavailable(fmt.Errorf("%w: query has %d, knowledge base has %d",
			domain.ErrDimensionMismatch, len(q), d))
		metrics.SuggestionsTotal.WithLabelValues(metrics.StatusError).Inc()
		span.SetError(err)
		r.logger.Warn("suggest query dimension does not match knowledge base",
			zap.Int("query_dimension", len(q)),
			zap.Int("dimension", d),
		)
		return nil, err
	}

	for i := range candidates {
		candidates[i].score = embedding.Dot(candidates[i].inc.Embedding, q)
	}
	rankCandidates(candidates)
	if len(candidates) > cfg.topK {
		candidates = candidates[:cfg.topK]
	}

	best := candidates[0]
	metrics.SuggestionBestScore.Observe(best.score)
	span.SetData("best_score", best.score)

	if best.score < cfg.threshold {
		metrics.SuggestionsTotal.WithLabelValues(string(domain.SuggestionNoConfidentMatch)).Inc()
		r.logger.Debug("no confident match",
			zap.Float64("best_score", best.score),
			zap.Float64("threshold", cfg.threshold),
		)
		return domain.NoConfidentMatch(best.score), nil
	}

	alternatives := make([]domain.ScoredIncident, 0, len(candidates)-1)
	for _, c := range candidates[1:] {
		alternatives = append(alternatives, domain.ScoredIncident{
			IncidentID:      c.inc.ID,
			ResolutionNotes: c.inc.ResolutionNotes,
			Category:        c.inc.Category,
			Similarity:      c.score,
		})
	}

	metrics.SuggestionsTotal.WithLabelValues(string(domain.SuggestionMatched)).Inc()
	r.logger.Debug("suggestion found",
		zap.String("source_id", best.inc.ID),
		zap.Float64("confidence", best.score),
	)
	return &domain.Suggestion{
		Status:       domain.SuggestionMatched,
		Resolution:   best.inc.ResolutionNotes,
		Confidence:   best.score,
		SourceID:     best.inc.ID,
		Alternatives: alternatives,
		Note:         agreementNote(candidates, cfg.threshold),
		BestScore:    best.score,
	}, nil
}

// rankCandidates sorts by score descending. Scores within scoreEpsilon keep
// insertion order.
func rankCandidates(cs []candidate) {
	sort.SliceStable(cs, func(i, j int) bool {
		if math.Abs(cs[i].score-cs[j].score) > scoreEpsilon {
			return cs[i].score > cs[j].score
		}
		return cs[i].order < cs[j].order
	})
}

func agreementNote(ranked []candidate, threshold float64) string {
	above := 0
	for _, c := range ranked {
		if c.score >= threshold {
			above++
		}
	}
	if above > 1 && ranked[1].score > noteSimilarity {
		return fmt.Sprintf("Based on %d similar resolved incidents", above)
	}
	return ""
}
