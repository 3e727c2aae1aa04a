// Package embedding turns incident text into L2-normalised vectors.
//
// A Provider owns one Encoder, loaded on first use. The load is serialised so
// concurrent first callers share a single model; a failed load is not cached.
package embedding

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/cloo-solutions/resolvekb/internal/domain"
	"github.com/cloo-solutions/resolvekb/internal/metrics"
	"github.com/cloo-solutions/resolvekb/internal/telemetry"
)

// DefaultBatchSize bounds the number of texts sent to the encoder per call
const DefaultBatchSize = 64

// Encoder is an embedding model backend. Implementations return one vector
// per input text, in input order.
type Encoder interface {
	Encode(ctx context.Context, texts []string) ([][]float32, error)
}

// Loader performs the expensive one-time model load
type Loader func(ctx context.Context) (Encoder, error)

// Cache stores normalised vectors by content key
type Cache interface {
	Get(ctx context.Context, key string) ([]float32, bool, error)
	Set(ctx context.Context, key string, vec []float32) error
}

// Provider is the process-wide embedding service
type Provider struct {
	loader    Loader
	model     string
	batchSize int
	cache     Cache
	logger    *zap.Logger

	mu      sync.Mutex
	encoder Encoder
	loaded  atomic.Bool
	dim     atomic.Int64
}

// Option configures a Provider
type Option func(*Provider)

// WithBatchSize sets the per-call chunk size
func WithBatchSize(n int) Option {
	return func(p *Provider) {
		if n > 0 {
			p.batchSize = n
		}
	}
}

// WithDimension pins D up front instead of learning it from the first output
func WithDimension(d int) Option {
	return func(p *Provider) {
		if d > 0 {
			p.dim.Store(int64(d))
		}
	}
}

// WithModelName names the model; it namespaces cache keys
func WithModelName(name string) Option {
	return func(p *Provider) {
		p.model = name
	}
}

// WithCache enables the content-addressed vector cache
func WithCache(c Cache) Option {
	return func(p *Provider) {
		p.cache = c
	}
}

// WithLogger sets the logger
func WithLogger(l *zap.Logger) Option {
	return func(p *Provider) {
		if l != nil {
			p.logger = l
		}
	}
}

// NewProvider creates a Provider that loads its encoder with loader on first use
func NewProvider(loader Loader, opts ...Option) *Provider {
	p := &Provider{
		loader:    loader,
		batchSize: DefaultBatchSize,
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Dimension returns D, or 0 while it is still unknown
func (p *Provider) Dimension() int {
	return int(p.dim.Load())
}

// Model returns the configured model name
func (p *Provider) Model() string {
	return p.model
}

// Loaded reports whether the encoder has been loaded
func (p *Provider) Loaded() bool {
	return p.loaded.Load()
}

// Encode embeds a single text
func (p *Provider) Encode(ctx context.Context, text string) ([]float32, error) {
	out, err := p.EncodeBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return out[0], nil
}

// EncodeBatch embeds texts in order. Either every text is encoded or an error
// is returned and no vectors are.
func (p *Provider) EncodeBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}
	for i, t := range texts {
		if strings.TrimSpace(t) == "" {
			return nil, domain.InvalidInput(fmt.Errorf("text %d: %w", i, domain.ErrEmptyText))
		}
	}

	ctx, span := telemetry.StartSpan(ctx, "EmbeddingProvider.EncodeBatch", telemetry.SpanAttributes{
		Operation: "encode",
		BatchSize: len(texts),
	})
	defer span.End()

	out := make([][]float32, len(texts))
	missing := make([]int, 0, len(texts))
	for i, t := range texts {
		if v, ok := p.lookup(ctx, t); ok {
			out[i] = v
			continue
		}
		missing = append(missing, i)
	}

	if len(missing) == 0 {
		return out, nil
	}

	enc, err := p.load(ctx)
	if err != nil {
		span.SetError(err)
		return nil, err
	}

	for start := 0; start < len(missing); start += p.batchSize {
		end := min(start+p.batchSize, len(missing))
		idx := missing[start:end]

		chunk := make([]string, len(idx))
		for j, i := range idx {
			chunk[j] = texts[i]
		}

		vecs, err := p.run(ctx, enc, chunk)
		if err != nil {
			span.SetError(err)
			return nil, err
		}
		for j, i := range idx {
			out[i] = vecs[j]
		}
	}

	for _, i := range missing {
		p.remember(ctx, texts[i], out[i])
	}

	return out, nil
}

func (p *Provider) load(ctx context.Context) (Encoder, error) {
	if p.loaded.Load() {
		return p.encoder, nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.encoder != nil {
		return p.encoder, nil
	}
	if p.loader == nil {
		return nil, domain.ModelUnavailable(errors.New("no encoder configured"))
	}

	start := time.Now()
	enc, err := p.loader(ctx)
	if err == nil && enc == nil {
		err = errors.New("loader returned no encoder")
	}
	metrics.ModelLoadsTotal.WithLabelValues(metrics.StatusOf(err)).Inc()
	if err != nil {
		p.logger.Warn("embedding model load failed",
			zap.String("model", p.model),
			zap.Error(err))
		return nil, domain.ModelUnavailable(fmt.Errorf("load model %s: %w", p.model, err))
	}

	p.encoder = enc
	p.loaded.Store(true)
	p.logger.Info("embedding model loaded",
		zap.String("model", p.model),
		zap.Duration("duration", time.Since(start)))

	return enc, nil
}

func (p *Provider) run(ctx context.Context, enc Encoder, texts []string) ([][]float32, error) {
	start := time.Now()
	vecs, err := enc.Encode(ctx, texts)
	metrics.EncodeDuration.Observe(time.Since(start).Seconds())
	metrics.EncodeTextsTotal.Add(float64(len(texts)))

	if err == nil && len(vecs) != len(texts) {
		err = fmt.Errorf("encoder returned %d vectors for %d texts", len(vecs), len(texts))
	}

	out := make([][]float32, len(vecs))
	for i := 0; err == nil && i < len(vecs); i++ {
		out[i], err = Normalize(vecs[i])
		if err == nil {
			err = p.checkDimension(len(out[i]))
		}
	}

	metrics.EncodeRequestsTotal.WithLabelValues(metrics.StatusOf(err)).Inc()
	if err != nil {
		p.logger.Warn("encode failed",
			zap.String("model", p.model),
			zap.Int("texts", len(texts)),
			zap.Error(err))
		return nil, domain.ModelUnavailable(err)
	}

	return out, nil
}

// checkDimension fixes D on first use and rejects any later deviation
func (p *Provider) checkDimension(n int) error {
	if p.dim.CompareAndSwap(0, int64(n)) {
		return nil
	}
	if d := p.dim.Load(); int64(n) != d {
		return fmt.Errorf("encoder returned dimension %d, expected %d", n, d)
	}
	return nil
}

func (p *Provider) lookup(ctx context.Context, text string) ([]float32, bool) {
	if p.cache == nil {
		return nil, false
	}

	v, ok, err := p.cache.Get(ctx, CacheKey(p.model, text))
	switch {
	case err != nil:
		metrics.EmbeddingCacheTotal.WithLabelValues("error").Inc()
		p.logger.Warn("embedding cache read failed", zap.Error(err))
		return nil, false
	case !ok:
		metrics.EmbeddingCacheTotal.WithLabelValues("miss").Inc()
		return nil, false
	}

	if d := p.Dimension(); d != 0 && len(v) != d {
		metrics.EmbeddingCacheTotal.WithLabelValues("miss").Inc()
		return nil, false
	}
	metrics.EmbeddingCacheTotal.WithLabelValues("hit").Inc()
	return v, true
}

func (p *Provider) remember(ctx context.Context, text string, v []float32) {
	if p.cache == nil {
		return
	}
	if err := p.cache.Set(ctx, CacheKey(p.model, text), v); err != nil {
		p.logger.Warn("embedding cache write failed", zap.Error(err))
	}
}
