// Package kb implements the resolvekb commands on top of the knowledge engine.
package kb

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/cloo-solutions/resolvekb/internal/cache"
	"github.com/cloo-solutions/resolvekb/internal/config"
	"github.com/cloo-solutions/resolvekb/internal/database"
	"github.com/cloo-solutions/resolvekb/internal/embedding"
	"github.com/cloo-solutions/resolvekb/internal/openai"
	"github.com/cloo-solutions/resolvekb/internal/repository"
	"github.com/cloo-solutions/resolvekb/internal/service"
)

// App holds the engine components a command works with
type App struct {
	Config    *config.Config
	Logger    *zap.Logger
	Store     *service.KnowledgeStore
	Retriever *service.Retriever
	Clusterer *service.Clusterer
	Provider  *embedding.Provider

	closers []func()
}

// Opener builds the App for one command run
type Opener func(ctx context.Context) (*App, error)

// Close releases connections held by the App
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

// New assembles an App from an already constructed repository and provider
// and loads the knowledge base
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger, repo service.KnowledgeBaseRepository, backend string, provider *embedding.Provider) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	store, err := service.OpenKnowledgeStore(ctx, repo, provider,
		service.WithStoreLogger(logger.Named("store")),
		service.WithMinResolutionLength(cfg.MinResolutionLength),
		service.WithBackendName(backend),
	)
	if err != nil {
		return nil, err
	}

	return &App{
		Config:    cfg,
		Logger:    logger,
		Store:     store,
		Retriever: service.NewRetriever(store, provider, logger.Named("retriever")),
		Clusterer: service.NewClusterer(provider, logger.Named("clusterer")),
		Provider:  provider,
	}, nil
}

// Open builds the configured repository and embedding provider and
// assembles an App from them
func Open(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	var closers []func()
	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	provider, closeCache, err := NewProvider(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	closers = append(closers, closeCache)

	repo, closeRepo, err := NewRepository(ctx, cfg, logger)
	if err != nil {
		closeAll()
		return nil, err
	}
	closers = append(closers, closeRepo)

	app, err := New(ctx, cfg, logger, repo, cfg.StoreBackend, provider)
	if err != nil {
		closeAll()
		return nil, err
	}
	app.closers = closers
	return app, nil
}

// NewRepository builds the persistence backend selected by cfg
func NewRepository(ctx context.Context, cfg *config.Config, logger *zap.Logger) (service.KnowledgeBaseRepository, func(), error) {
	noop := func() {}

	switch cfg.StoreBackend {
	case config.StoreFile:
		logger.Debug("using file store", zap.String("path", cfg.StorePath))
		return repository.NewFileRepository(cfg.StorePath), noop, nil

	case config.StoreS3:
		s3Cfg := repository.S3ClientConfig{
			Endpoint:     cfg.S3Endpoint,
			Region:       cfg.S3Region,
			Bucket:       cfg.S3Bucket,
			Key:          cfg.S3Key,
			UsePathStyle: cfg.S3Endpoint != "",
		}
		if cfg.HasS3Credentials() {
			s3Cfg.AccessKeyID = cfg.S3AccessKey
			s3Cfg.SecretAccessKey = cfg.S3SecretKey
		}
		repo, err := repository.NewS3Repository(ctx, s3Cfg)
		if err != nil {
			return nil, nil, err
		}
		if err := repo.EnsureBucket(ctx); err != nil {
			return nil, nil, err
		}
		logger.Debug("using s3 store", zap.String("bucket", cfg.S3Bucket), zap.String("key", cfg.S3Key))
		return repo, noop, nil

	case config.StorePostgres:
		if err := repository.Migrate(cfg.DatabaseURL, logger); err != nil {
			return nil, nil, err
		}
		pool, err := database.NewPool(ctx, database.Config{URL: cfg.DatabaseURL, ConnectTimeout: 10 * time.Second})
		if err != nil {
			return nil, nil, err
		}
		logger.Debug("using postgres store")
		return repository.NewPostgresRepository(pool), pool.Close, nil
	}

	return nil, nil, fmt.Errorf("unknown store backend: %s", cfg.StoreBackend)
}

// NewProvider builds the embedding provider selected by cfg. The model is
// loaded on first use. A Redis cache that cannot be reached is skipped.
func NewProvider(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*embedding.Provider, func(), error) {
	opts := []embedding.Option{
		embedding.WithBatchSize(cfg.EmbeddingBatchSize),
		embedding.WithLogger(logger.Named("embedding")),
	}

	var loader embedding.Loader
	switch cfg.EmbeddingBackend {
	case config.EmbeddingHashing:
		dim := cfg.EmbeddingDimensions
		if dim <= 0 {
			dim = embedding.DefaultHashingDimension
		}
		loader = embedding.HashingLoader(dim)
		opts = append(opts, embedding.WithModelName(fmt.Sprintf("hashing-%d", dim)), embedding.WithDimension(dim))

	case config.EmbeddingOpenAI:
		if !cfg.HasOpenAI() {
			return nil, nil, errors.New("RESOLVEKB_OPENAI_API_KEY or RESOLVEKB_OPENAI_BASE_URL is required for the openai embedding backend")
		}
		loader = openAILoader(cfg, logger)
		opts = append(opts, embedding.WithModelName(cfg.EmbeddingModel))
		if cfg.EmbeddingDimensions > 0 {
			opts = append(opts, embedding.WithDimension(cfg.EmbeddingDimensions))
		}

	default:
		return nil, nil, fmt.Errorf("unknown embedding backend: %s", cfg.EmbeddingBackend)
	}

	closeCache := func() {}
	if cfg.HasRedis() {
		c, err := cache.NewEmbeddingCache(ctx, cfg.RedisURL, cache.DefaultTTL, logger.Named("cache"))
		if err != nil {
			logger.Warn("embedding cache unavailable, continuing without it", zap.Error(err))
		} else {
			opts = append(opts, embedding.WithCache(c))
			closeCache = func() { _ = c.Close() }
		}
	}

	return embedding.NewProvider(loader, opts...), closeCache, nil
}

// openAILoader builds the client and probes the endpoint once, so a
// misconfigured endpoint fails at load time
func openAILoader(cfg *config.Config, logger *zap.Logger) embedding.Loader {
	return func(ctx context.Context) (embedding.Encoder, error) {
		client := openai.NewClientWithConfig(openai.Config{
			APIKey:              cfg.OpenAIAPIKey,
			BaseURL:             cfg.OpenAIBaseURL,
			EmbeddingModel:      cfg.EmbeddingModel,
			EmbeddingDimensions: cfg.EmbeddingDimensions,
		})
		dim, err := client.Probe(ctx)
		if err != nil {
			return nil, fmt.Errorf("embedding endpoint probe failed: %w", err)
		}
		logger.Info("embedding model reachable",
			zap.String("model", client.Model()),
			zap.Int("dimension", dim),
		)
		return client, nil
	}
}
