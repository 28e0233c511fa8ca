// Package app wires the configured components together and owns their lifetime.
package app

import (
	"context"
	"fmt"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/hyperjump/docqa/internal/config"
	"github.com/hyperjump/docqa/internal/embedding"
	"github.com/hyperjump/docqa/internal/indexer"
	"github.com/hyperjump/docqa/internal/keyword"
	"github.com/hyperjump/docqa/internal/models"
	"github.com/hyperjump/docqa/internal/search"
	"github.com/hyperjump/docqa/internal/status"
	"github.com/hyperjump/docqa/internal/storage"
	"github.com/hyperjump/docqa/internal/synthesis"
	"github.com/hyperjump/docqa/internal/watcher"
	"github.com/hyperjump/docqa/pkg/utils"
)

// App holds initialized services.
type App struct {
	Config       *config.Config
	Store        storage.Store
	Embedder     embedding.Embedder
	Synthesizer  synthesis.Synthesizer
	KeywordIndex *keyword.BleveIndex
	Pipeline     *indexer.Pipeline
	Engine       *search.Engine
	Reporter     *status.Reporter
	Watcher      *watcher.Watcher

	logger *zap.Logger
}

// Option customizes New.
type Option func(*options)

type options struct {
	embedder    embedding.Embedder
	synthesizer synthesis.Synthesizer
}

// WithEmbedder replaces the configured embedding provider.
func WithEmbedder(e embedding.Embedder) Option {
	return func(o *options) { o.embedder = e }
}

// WithSynthesizer replaces the configured answer synthesizer.
func WithSynthesizer(s synthesis.Synthesizer) Option {
	return func(o *options) { o.synthesizer = s }
}

// New builds every component from cfg. Persisted index state is reopened, and
// the keyword index is rebuilt when it disagrees with the store.
func New(cfg *config.Config, logger *zap.Logger, opts ...Option) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	logger = utils.OrNop(logger)
	a := &App{Config: cfg, logger: logger}
	ok := false
	defer func() {
		if !ok {
			a.Close()
		}
	}()

	store, err := storage.New(storage.Options{
		Backend:    cfg.Storage.Backend,
		Dir:        cfg.Storage.IndexDir,
		Collection: cfg.Storage.CollectionName,
		Dimensions: cfg.Embedding.Dimensions,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}
	a.Store = store

	provider := o.embedder
	if provider == nil {
		if provider, err = newEmbedder(cfg.Embedding); err != nil {
			return nil, fmt.Errorf("failed to initialize embedder: %w", err)
		}
	}
	if provider.Dimensions() != cfg.Embedding.Dimensions {
		_ = provider.Close()
		return nil, fmt.Errorf("embedder produces %d dimensions, config says %d", provider.Dimensions(), cfg.Embedding.Dimensions)
	}
	a.Embedder = embedding.NewGuard(provider, embedding.GuardConfig{
		Timeout:           cfg.Embedding.Timeout(),
		RequestsPerSecond: cfg.Embedding.RequestsPerSecond,
		CacheSize:         cfg.Embedding.CacheSize,
		BatchSize:         cfg.Embedding.BatchSize,
	}, embedding.WithLogger(logger))

	synth := o.synthesizer
	if synth == nil {
		if synth, err = newSynthesizer(cfg.LLM); err != nil {
			return nil, fmt.Errorf("failed to initialize synthesizer: %w", err)
		}
	}
	a.Synthesizer = synthesis.WithTimeout(synth, cfg.LLM.Timeout())

	pipelineOpts := []indexer.PipelineOption{indexer.WithLogger(logger)}
	engineOpts := []search.EngineOption{search.WithLogger(logger)}
	if cfg.Retrieval.Hybrid {
		kw, err := keyword.NewBleveIndex(cfg.Storage.KeywordIndexPath)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize keyword index: %w", err)
		}
		a.KeywordIndex = kw
		if err := RebuildKeywordIndex(context.Background(), store, kw, logger); err != nil {
			return nil, err
		}
		pipelineOpts = append(pipelineOpts, indexer.WithKeywordIndex(kw))
		engineOpts = append(engineOpts, search.WithKeywordIndex(kw))
	}

	a.Pipeline = indexer.NewPipeline(store, a.Embedder, indexer.PipelineConfig{
		ChunkSize:     cfg.Chunking.ChunkSize,
		ChunkOverlap:  cfg.Chunking.Overlap(),
		Extension:     cfg.Documents.Extension,
		SkipUnchanged: cfg.Sync.SkipUnchanged,
	}, pipelineOpts...)
	a.Engine = search.NewEngine(store, a.Embedder, a.Synthesizer, search.EngineConfig{
		ExcerptLength:     cfg.Retrieval.ExcerptLength,
		DefaultMaxResults: cfg.Retrieval.DefaultMaxResults,
		Hybrid:            cfg.Retrieval.Hybrid,
		Fusion:            cfg.Retrieval.Fusion,
		KeywordWeight:     cfg.Retrieval.KeywordWeight,
		SemanticWeight:    cfg.Retrieval.SemanticWeight,
		Candidates:        cfg.Retrieval.Candidates,
		RRFK:              cfg.Retrieval.RRFK,
		KeywordFuzziness:  cfg.Retrieval.KeywordFuzziness,
	}, engineOpts...)
	a.Reporter = status.NewReporter(store, cfg.Documents.DataDir, cfg.Documents.Extension)

	logger.Info("components initialized",
		zap.String("backend", store.Backend()),
		zap.String("collection", store.Name()),
		zap.String("embedder", cfg.Embedding.Provider),
		zap.String("synthesizer", a.Synthesizer.Name()),
		zap.Bool("hybrid", cfg.Retrieval.Hybrid))
	ok = true
	return a, nil
}

func newEmbedder(cfg config.EmbeddingConfig) (embedding.Embedder, error) {
	switch cfg.Provider {
	case config.ProviderOpenAI:
		return embedding.NewOpenAIEmbedder(embedding.OpenAIConfig{
			APIKey:     cfg.APIKey(),
			BaseURL:    cfg.BaseURL,
			Model:      cfg.Model,
			Dimensions: cfg.Dimensions,
			BatchSize:  cfg.BatchSize,
		})
	case config.ProviderONNX:
		return embedding.NewONNXEmbedder(embedding.ONNXConfig{
			ModelPath:  cfg.ModelPath,
			Dimensions: cfg.Dimensions,
			MaxTokens:  cfg.MaxTokens,
		})
	case config.ProviderHash:
		return embedding.NewHashEmbedder(cfg.Dimensions)
	default:
		return nil, fmt.Errorf("unknown embedding provider %q", cfg.Provider)
	}
}

func newSynthesizer(cfg config.LLMConfig) (synthesis.Synthesizer, error) {
	switch cfg.Provider {
	case config.ProviderOpenAI:
		return synthesis.NewOpenAISynthesizer(synthesis.OpenAIConfig{
			APIKey:      cfg.APIKey(),
			BaseURL:     cfg.BaseURL,
			Model:       cfg.Model,
			Temperature: cfg.TemperatureOrDefault(),
		})
	case config.ProviderExtractive:
		return synthesis.NewExtractiveSynthesizer(cfg.MaxSentences), nil
	default:
		return nil, fmt.Errorf("unknown llm provider %q", cfg.Provider)
	}
}

// RebuildKeywordIndex repopulates kw from the store when their chunk counts
// differ. The store is the system of record.
func RebuildKeywordIndex(ctx context.Context, store storage.Store, kw keyword.Index, logger *zap.Logger) error {
	logger = utils.OrNop(logger)
	want, err := store.Count(ctx)
	if err != nil {
		return fmt.Errorf("count chunks: %w", err)
	}
	have, err := kw.DocCount()
	if err != nil {
		return fmt.Errorf("count keyword documents: %w", err)
	}
	if uint64(want) == have {
		return nil
	}
	logger.Info("rebuilding keyword index", zap.Int("store_chunks", want), zap.Uint64("keyword_docs", have))
	if err := kw.Reset(); err != nil {
		return fmt.Errorf("reset keyword index: %w", err)
	}
	docs, err := store.Documents(ctx)
	if err != nil {
		return fmt.Errorf("list documents: %w", err)
	}
	for _, d := range docs {
		chunks, err := store.Get(ctx, models.FilenameFilter(d.Filename))
		if err != nil {
			return fmt.Errorf("read chunks of %s: %w", d.Filename, err)
		}
		if err := kw.Index(ctx, chunks); err != nil {
			return fmt.Errorf("index chunks of %s: %w", d.Filename, err)
		}
	}
	return nil
}

// StartWatcher watches the data directory and mirrors file changes into the
// index through the pipeline. It is a no-op unless watch.enabled is set.
func (a *App) StartWatcher(ctx context.Context) error {
	if !a.Config.Watch.Enabled || a.Watcher != nil {
		return nil
	}
	w := watcher.NewWatcher(a.Config.Documents.DataDir, a.Config.Documents.Extension,
		func(path string) {
			res, err := a.Pipeline.UpsertFile(context.Background(), path)
			if err != nil {
				a.logger.Warn("watch ingest failed", zap.String("path", path), zap.Error(err))
				return
			}
			a.logger.Info("watch ingested file", zap.String("filename", res.Filename), zap.Int("chunks", res.NewChunks))
		},
		func(path string) {
			res, err := a.Pipeline.DeleteDocument(context.Background(), filepath.Base(path))
			if err != nil {
				a.logger.Warn("watch delete failed", zap.String("path", path), zap.Error(err))
				return
			}
			a.logger.Info("watch removed document", zap.String("filename", res.Filename), zap.Int("chunks", res.DeletedChunks))
		},
		watcher.WithLogger(a.logger),
		watcher.WithDebounce(a.Config.Watch.Debounce()),
	)
	if err := w.Start(ctx); err != nil {
		return fmt.Errorf("failed to start watcher: %w", err)
	}
	a.Watcher = w
	return nil
}

// Close tears components down in reverse order of construction.
func (a *App) Close() {
	if a.Watcher != nil {
		a.Watcher.Stop()
	}
	if a.KeywordIndex != nil {
		_ = a.KeywordIndex.Close()
	}
	if a.Embedder != nil {
		_ = a.Embedder.Close()
	}
	if a.Store != nil {
		_ = a.Store.Close()
	}
}
