package embedding

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/hyperjump/docqa/internal/apperr"
	"github.com/hyperjump/docqa/pkg/utils"
)

// GuardConfig bounds how a provider is called.
type GuardConfig struct {
	// Timeout applies to each provider call; zero disables it.
	Timeout time.Duration
	// RequestsPerSecond throttles provider calls; zero disables throttling.
	RequestsPerSecond float64
	// CacheSize is the number of embeddings kept in memory; zero disables caching.
	CacheSize int
	// BatchSize caps the number of texts sent per provider call.
	BatchSize int
}

// Guard wraps an Embedder with a per-call deadline, throttling, caching and
// output validation. Every error it returns carries an apperr kind.
type Guard struct {
	next    Embedder
	cfg     GuardConfig
	limiter *rate.Limiter
	cache   *EmbeddingCache
	logger  *zap.Logger
}

// GuardOption configures a Guard.
type GuardOption func(*Guard)

// WithLogger sets the logger used for provider diagnostics.
func WithLogger(l *zap.Logger) GuardOption {
	return func(g *Guard) { g.logger = utils.OrNop(l) }
}

// NewGuard wraps next.
func NewGuard(next Embedder, cfg GuardConfig, opts ...GuardOption) *Guard {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 32
	}
	g := &Guard{
		next:   next,
		cfg:    cfg,
		cache:  NewEmbeddingCache(cfg.CacheSize),
		logger: zap.NewNop(),
	}
	if cfg.RequestsPerSecond > 0 {
		burst := int(cfg.RequestsPerSecond)
		if burst < 1 {
			burst = 1
		}
		g.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Embed returns the embedding for text.
func (g *Guard) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := g.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch returns one embedding per text, in order. Either every text is
// embedded or an error is returned.
func (g *Guard) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	var missing []int
	for i, text := range texts {
		if v, ok := g.cache.Get(text); ok {
			out[i] = clone(v)
			continue
		}
		missing = append(missing, i)
	}

	for start := 0; start < len(missing); start += g.cfg.BatchSize {
		end := start + g.cfg.BatchSize
		if end > len(missing) {
			end = len(missing)
		}
		idx := missing[start:end]
		batch := make([]string, len(idx))
		for j, i := range idx {
			batch[j] = texts[i]
		}
		vecs, err := g.call(ctx, batch)
		if err != nil {
			return nil, err
		}
		for j, i := range idx {
			if err := g.check(vecs[j]); err != nil {
				return nil, err
			}
			g.cache.Set(texts[i], clone(vecs[j]))
			out[i] = vecs[j]
		}
	}
	return out, nil
}

type embedResult struct {
	vecs [][]float32
	err  error
}

// call invokes the provider and returns once it answers or the deadline passes,
// whichever comes first. A provider that ignores ctx cannot hang the caller.
func (g *Guard) call(ctx context.Context, texts []string) ([][]float32, error) {
	if g.limiter != nil {
		if err := g.limiter.Wait(ctx); err != nil {
			return nil, apperr.FromProvider("embedding", err)
		}
	}
	cctx, cancel := ctx, context.CancelFunc(func() {})
	if g.cfg.Timeout > 0 {
		cctx, cancel = context.WithTimeout(ctx, g.cfg.Timeout)
	}
	defer cancel()

	started := time.Now()
	done := make(chan embedResult, 1)
	go func() {
		var r embedResult
		if len(texts) == 1 {
			var v []float32
			v, r.err = g.next.Embed(cctx, texts[0])
			if r.err == nil {
				r.vecs = [][]float32{v}
			}
		} else {
			r.vecs, r.err = g.next.EmbedBatch(cctx, texts)
		}
		done <- r
	}()

	select {
	case r := <-done:
		if r.err != nil {
			if cctx.Err() != nil {
				r.err = cctx.Err()
			}
			g.logger.Warn("embedding request failed", zap.Int("texts", len(texts)), zap.Error(r.err))
			return nil, apperr.FromProvider("embedding", r.err)
		}
		if len(r.vecs) != len(texts) {
			return nil, apperr.New(apperr.ProviderFailure, "embedding provider returned %d vectors for %d texts", len(r.vecs), len(texts))
		}
		g.logger.Debug("embedded texts", zap.Int("texts", len(texts)), zap.Duration("took", time.Since(started)))
		return r.vecs, nil
	case <-cctx.Done():
		g.logger.Warn("embedding request abandoned", zap.Int("texts", len(texts)), zap.Error(cctx.Err()))
		return nil, apperr.FromProvider("embedding", cctx.Err())
	}
}

func (g *Guard) check(v []float32) error {
	if want := g.next.Dimensions(); want > 0 && len(v) != want {
		return apperr.New(apperr.ProviderFailure, "embedding has %d dimensions, want %d", len(v), want)
	}
	if utils.IsDegenerate(v) {
		return apperr.New(apperr.ProviderFailure, "embedding provider returned a degenerate vector")
	}
	return nil
}

// Dimensions returns the wrapped provider's dimension.
func (g *Guard) Dimensions() int {
	return g.next.Dimensions()
}

// Close closes the wrapped provider.
func (g *Guard) Close() error {
	return g.next.Close()
}

func clone(v []float32) []float32 {
	out := make([]float32, len(v))
	copy(out, v)
	return out
}
