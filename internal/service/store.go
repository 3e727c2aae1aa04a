package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/cloo-solutions/resolvekb/internal/domain"
	"github.com/cloo-solutions/resolvekb/internal/embedding"
	"github.com/cloo-solutions/resolvekb/internal/metrics"
	"github.com/cloo-solutions/resolvekb/internal/repository"
	"github.com/cloo-solutions/resolvekb/internal/telemetry"
)

const (
	// DefaultDedupeThreshold is the similarity at or above which an incident is a duplicate
	DefaultDedupeThreshold = 0.95
	// DefaultMinResolutionLength is the shortest resolution note accepted
	DefaultMinResolutionLength = 20
)

// KnowledgeBaseRepository persists the whole knowledge base.
// Load returns repository.ErrNotFound when nothing was saved yet and a
// *repository.CorruptError when the saved content fails validation.
// Save must either replace the persisted state entirely or leave it untouched.
type KnowledgeBaseRepository interface {
	Load(ctx context.Context) (*domain.KnowledgeBase, error)
	Save(ctx context.Context, kb *domain.KnowledgeBase) error
}

// EmbeddingProvider turns incident text into normalised vectors
type EmbeddingProvider interface {
	Encode(ctx context.Context, text string) ([]float32, error)
	EncodeBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimension() int
}

// IDGenerator generates incident numbers for entries added without one
type IDGenerator interface {
	NewID() string
}

// DefaultIDGenerator generates KB-<uuid> numbers using google/uuid
type DefaultIDGenerator struct{}

func (g *DefaultIDGenerator) NewID() string {
	return "KB-" + uuid.NewString()
}

// KnowledgeStore owns the published knowledge base. Readers get an immutable
// snapshot without locking; writers are serialised and publish a new snapshot
// only after it has been saved.
type KnowledgeStore struct {
	repo     KnowledgeBaseRepository
	provider EmbeddingProvider
	logger   *zap.Logger
	idGen    IDGenerator
	now      func() time.Time
	backend  string

	minResolutionLength int

	mu      sync.Mutex
	current atomic.Pointer[domain.KnowledgeBase]
}

// StoreOption configures a KnowledgeStore
type StoreOption func(*KnowledgeStore)

func WithStoreLogger(l *zap.Logger) StoreOption {
	return func(s *KnowledgeStore) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithMinResolutionLength sets the shortest accepted resolution note, in characters
func WithMinResolutionLength(n int) StoreOption {
	return func(s *KnowledgeStore) {
		if n >= 0 {
			s.minResolutionLength = n
		}
	}
}

func WithIDGenerator(g IDGenerator) StoreOption {
	return func(s *KnowledgeStore) {
		if g != nil {
			s.idGen = g
		}
	}
}

// WithClock replaces time.Now for timestamps written by the store
func WithClock(now func() time.Time) StoreOption {
	return func(s *KnowledgeStore) {
		if now != nil {
			s.now = now
		}
	}
}

// WithBackendName labels spans and logs with the persistence backend
func WithBackendName(name string) StoreOption {
	return func(s *KnowledgeStore) {
		s.backend = name
	}
}

// NewKnowledgeStore creates a store holding an empty knowledge base.
// Call Load to read the persisted state.
func NewKnowledgeStore(repo KnowledgeBaseRepository, provider EmbeddingProvider, opts ...StoreOption) *KnowledgeStore {
	s := &KnowledgeStore{
		repo:                repo,
		provider:            provider,
		logger:              zap.NewNop(),
		idGen:               &DefaultIDGenerator{},
		now:                 func() time.Time { return time.Now().UTC() },
		minResolutionLength: DefaultMinResolutionLength,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.publish(domain.NewKnowledgeBase())
	return s
}

// OpenKnowledgeStore creates a store and loads the persisted knowledge base
func OpenKnowledgeStore(ctx context.Context, repo KnowledgeBaseRepository, provider EmbeddingProvider, opts ...StoreOption) (*KnowledgeStore, error) {
	s := NewKnowledgeStore(repo, provider, opts...)
	if _, err := s.Load(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// Load reads the persisted knowledge base and publishes it. Nothing persisted
// yields an empty knowledge base at version 0. Corrupted content is reported
// and also replaced by an empty knowledge base; it is overwritten by the next
// successful mutation.
func (s *KnowledgeStore) Load(ctx context.Context) (*domain.KnowledgeBase, error) {
	ctx, span := telemetry.StartSpan(ctx, "KnowledgeStore.Load", telemetry.SpanAttributes{
		Backend:   s.backend,
		Operation: "load",
	})
	defer span.End()

	s.mu.Lock()
	defer s.mu.Unlock()

	kb, err := s.repo.Load(ctx)
	switch {
	case err == nil:
	case errors.Is(err, repository.ErrNotFound):
		s.logger.Info("no persisted knowledge base, starting empty", zap.String("backend", s.backend))
		kb = domain.NewKnowledgeBase()
	default:
		if ce, ok := repository.AsCorrupt(err); ok {
			metrics.StoreCorruptLoadsTotal.Inc()
			corrupted := domain.StoreCorrupted(ce)
			telemetry.CaptureError(ctx, corrupted)
			s.logger.Warn("persisted knowledge base is corrupted, starting empty",
				zap.String("source", ce.Source),
				zap.Error(ce.Err),
			)
			kb = domain.NewKnowledgeBase()
			break
		}
		perr := domain.PersistenceFailed("load", "", err)
		span.SetError(perr)
		s.logger.Error("failed to load knowledge base", zap.String("backend", s.backend), zap.Error(err))
		return nil, perr
	}

	s.publish(kb)
	s.logger.Info("knowledge base loaded",
		zap.Int64("version", kb.Version),
		zap.Int("incidents", kb.IncidentCount()),
	)
	return kb, nil
}

// Reload discards the published snapshot and reads the persisted state again
func (s *KnowledgeStore) Reload(ctx context.Context) (*domain.KnowledgeBase, error) {
	return s.Load(ctx)
}

// Snapshot returns the published knowledge base. It must not be modified.
func (s *KnowledgeStore) Snapshot() *domain.KnowledgeBase {
	return s.current.Load()
}

func (s *KnowledgeStore) publish(kb *domain.KnowledgeBase) {
	s.current.Store(kb)
	metrics.StoreIncidents.Set(float64(kb.IncidentCount()))
	metrics.StoreVersion.Set(float64(kb.Version))
}

// commit bumps the version of next, saves it and publishes it.
// On failure the published snapshot is left as it was.
func (s *KnowledgeStore) commit(ctx context.Context, op, id string, next *domain.KnowledgeBase) error {
	next.Touch(s.now())

	start := time.Now()
	err := s.repo.Save(ctx, next)
	metrics.PersistDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		perr := domain.PersistenceFailed(op, id, err)
		metrics.StoreMutationsTotal.WithLabelValues(op, "failed").Inc()
		s.logger.Error("failed to persist knowledge base",
			zap.String("operation", op),
			zap.String("incident_id", id),
			zap.Error(err),
		)
		return perr
	}

	s.publish(next)
	metrics.StoreMutationsTotal.WithLabelValues(op, "accepted").Inc()
	s.logger.Info("knowledge base updated",
		zap.String("operation", op),
		zap.String("incident_id", id),
		zap.Int64("version", next.Version),
		zap.Int("incidents", next.IncidentCount()),
	)
	return nil
}

// prepare validates and normalises an entry for insertion. The returned
// incident is a copy; its embedding is normalised when one was supplied.
func (s *KnowledgeStore) prepare(in *domain.Incident) (*domain.Incident, error) {
	if in == nil {
		return nil, domain.InvalidInput(errors.New("incident cannot be nil"))
	}

	inc := in.Clone()
	inc.ID = strings.TrimSpace(inc.ID)
	if inc.ID == "" {
		inc.ID = s.idGen.NewID()
	}
	inc.Category = domain.NormalizeCategory(string(inc.Category))
	if inc.Source == "" {
		inc.Source = domain.IncidentSourceManual
	}

	if err := s.checkResolution(inc); err != nil {
		return nil, err
	}

	now := s.now()
	if inc.CreatedAt.IsZero() {
		inc.CreatedAt = now
	}
	if inc.ResolvedAt.IsZero() {
		inc.ResolvedAt = now
	}

	if err := domain.ValidateIncident(inc); err != nil {
		return nil, domain.InvalidInput(err)
	}

	if len(inc.Embedding) > 0 {
		v, err := embedding.Normalize(inc.Embedding)
		if err != nil {
			return nil, domain.InvalidInput(fmt.Errorf("incident %s embedding: %w", inc.ID, err))
		}
		inc.Embedding = v
	}
	return inc, nil
}

func (s *KnowledgeStore) checkResolution(inc *domain.Incident) error {
	notes := strings.TrimSpace(inc.ResolutionNotes)
	if utf8.RuneCountInString(notes) < s.minResolutionLength {
		return domain.InvalidInput(fmt.Errorf("incident %s resolution notes must be at least %d characters", inc.ID, s.minResolutionLength))
	}
	return nil
}

// checkDimension rejects vectors that do not match the knowledge base
func checkDimension(kb *domain.KnowledgeBase, inc *domain.Incident) error {
	if d := kb.Dimension(); d > 0 && len(inc.Embedding) != d {
		return fmt.Errorf("%w: incident %s has %d, knowledge base has %d",
			domain.ErrDimensionMismatch, inc.ID, len(inc.Embedding), d)
	}
	return nil
}

// bestMatch returns the entry most similar to v. Ties keep the earliest entry.
func bestMatch(entries []*domain.Incident, v []float32) (*domain.Incident, float64) {
	var best *domain.Incident
	bestScore := 0.0
	for _, e := range entries {
		score := embedding.Dot(e.Embedding, v)
		if best == nil || score > bestScore {
			best, bestScore = e, score
		}
	}
	return best, bestScore
}
