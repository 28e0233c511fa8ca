// Package search answers questions from the indexed chunks: it retrieves the
// most similar chunks and hands them to an answer synthesizer.
package search

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/docqa/internal/apperr"
	"github.com/hyperjump/docqa/internal/embedding"
	"github.com/hyperjump/docqa/internal/keyword"
	"github.com/hyperjump/docqa/internal/models"
	"github.com/hyperjump/docqa/internal/storage"
	"github.com/hyperjump/docqa/internal/synthesis"
	"github.com/hyperjump/docqa/pkg/utils"
)

// Messages returned in unsuccessful or empty answers.
const (
	MessageNotInitialized = "query engine is not initialized"
	MessageEmptyIndex     = "no documents have been indexed"
	MessageNoResults      = "no relevant documents found"
)

// EngineConfig controls retrieval.
type EngineConfig struct {
	ExcerptLength     int
	DefaultMaxResults int
	// Hybrid fuses keyword hits into the vector results when a keyword index is set.
	Hybrid           bool
	Fusion           string
	KeywordWeight    float64
	SemanticWeight   float64
	Candidates       int
	RRFK             int
	KeywordFuzziness int
}

// Engine is a read-only consumer of the store.
type Engine struct {
	store    storage.Store
	embedder embedding.Embedder
	synth    synthesis.Synthesizer
	keywords keyword.Index
	cfg      EngineConfig
	logger   *zap.Logger
	now      func() time.Time
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithKeywordIndex enables the keyword side of hybrid retrieval.
func WithKeywordIndex(idx keyword.Index) EngineOption {
	return func(e *Engine) { e.keywords = idx }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) EngineOption {
	return func(e *Engine) { e.logger = utils.OrNop(l) }
}

// NewEngine creates a query engine.
func NewEngine(store storage.Store, embedder embedding.Embedder, synth synthesis.Synthesizer, cfg EngineConfig, opts ...EngineOption) *Engine {
	if cfg.DefaultMaxResults <= 0 {
		cfg.DefaultMaxResults = 5
	}
	if cfg.Fusion == "" {
		cfg.Fusion = FusionWeighted
	}
	e := &Engine{
		store:    store,
		embedder: embedder,
		synth:    synth,
		cfg:      cfg,
		logger:   zap.NewNop(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// DefaultMaxResults is used by callers when a request omits max_results.
func (e *Engine) DefaultMaxResults() int {
	if e == nil {
		return 5
	}
	return e.cfg.DefaultMaxResults
}

// Answer retrieves the chunks most similar to the question and synthesizes an
// answer from them.
//
// An empty index is not an error: the answer has Success=false and no sources.
// Validation and provider failures return a structured error; provider
// failures also return a non-nil answer describing the failure.
func (e *Engine) Answer(ctx context.Context, req *models.QueryRequest) (*models.Answer, error) {
	if e == nil || e.store == nil || e.embedder == nil || e.synth == nil {
		return &models.Answer{Success: false, Message: MessageNotInitialized, Sources: []models.Source{}},
			apperr.New(apperr.NotInitialized, MessageNotInitialized)
	}
	start := e.now()
	if req == nil {
		return nil, apperr.New(apperr.ValidationFailure, "query request is required")
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}
	answer := &models.Answer{Sources: []models.Source{}}
	finish := func() *models.Answer {
		answer.ProcessingTime = e.now().Sub(start).Seconds()
		return answer
	}

	count, err := e.store.Count(ctx)
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, err, "cannot count indexed chunks")
	}
	if count == 0 {
		answer.Message = MessageEmptyIndex
		return finish(), nil
	}

	results, err := e.Retrieve(ctx, req.Query, req.MaxResults, models.Filter(req.Filters), req.SimilarityThreshold)
	if err != nil {
		answer.Message = apperr.MessageOf(err)
		return finish(), err
	}
	if len(results) == 0 {
		answer.Success = true
		answer.Message = MessageNoResults
		return finish(), nil
	}

	texts := make([]string, len(results))
	for i, r := range results {
		texts[i] = r.Chunk.Text
		answer.Sources = append(answer.Sources, models.Source{
			Filename: r.Chunk.Filename(),
			Excerpt:  Excerpt(r.Chunk.Text, e.cfg.ExcerptLength),
			Score:    r.Score,
		})
	}
	answer.TotalSources = len(answer.Sources)

	text, err := e.synth.Synthesize(ctx, req.Query, texts)
	if err != nil {
		err = apperr.FromProvider("answer synthesis", err)
		e.logger.Warn("answer synthesis failed", zap.String("synthesizer", e.synth.Name()), zap.Error(err))
		answer.Message = apperr.MessageOf(err)
		return finish(), err
	}
	answer.Success = true
	answer.Answer = text
	e.logger.Debug("question answered",
		zap.Int("sources", answer.TotalSources),
		zap.Duration("took", e.now().Sub(start)))
	return finish(), nil
}

// Retrieve returns up to topK chunks for question, best first. A non-nil
// threshold drops chunks whose cosine similarity is below it.
func (e *Engine) Retrieve(ctx context.Context, question string, topK int, filter models.Filter, threshold *float64) ([]*models.ScoredChunk, error) {
	if e == nil || e.store == nil || e.embedder == nil {
		return nil, apperr.New(apperr.NotInitialized, MessageNotInitialized)
	}
	if topK <= 0 {
		return nil, nil
	}
	hybrid := e.cfg.Hybrid && e.keywords != nil
	candidates := topK
	if hybrid && e.cfg.Candidates > candidates {
		candidates = e.cfg.Candidates
	}

	var (
		semantic    []*models.ScoredChunk
		keywordHits []*keyword.Result
		semErr      error
		kwErr       error
		wg          sync.WaitGroup
	)

	wg.Add(1)
	go func() {
		defer wg.Done()
		semantic, semErr = e.semanticSearch(ctx, question, candidates, filter)
	}()
	if hybrid {
		wg.Add(1)
		go func() {
			defer wg.Done()
			keywordHits, kwErr = e.keywords.Search(ctx, question, candidates, &keyword.SearchOptions{
				Filename:  filter[models.MetaFilename],
				Fuzziness: e.cfg.KeywordFuzziness,
			})
		}()
	}
	wg.Wait()

	if semErr != nil {
		return nil, semErr
	}
	if threshold != nil {
		kept := semantic[:0]
		for _, r := range semantic {
			if r.Score >= *threshold {
				kept = append(kept, r)
			}
		}
		semantic = kept
	}
	if kwErr != nil {
		e.logger.Warn("keyword search failed; using vector results only", zap.Error(kwErr))
		hybrid = false
	}
	if !hybrid {
		if len(semantic) > topK {
			semantic = semantic[:topK]
		}
		return semantic, nil
	}
	return e.fuse(semantic, keywordHits, topK, filter, threshold), nil
}

func (e *Engine) semanticSearch(ctx context.Context, question string, k int, filter models.Filter) ([]*models.ScoredChunk, error) {
	vec, err := e.embedder.Embed(ctx, question)
	if err != nil {
		return nil, apperr.FromProvider("query embedding", err)
	}
	results, err := e.store.Query(ctx, vec, k, filter)
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, err, "vector query failed")
	}
	return results, nil
}

// fuse merges vector and keyword hits. Keyword-only hits are kept only when
// they can be checked against the request: no threshold and no filter beyond
// filename.
func (e *Engine) fuse(semantic []*models.ScoredChunk, hits []*keyword.Result, topK int, filter models.Filter, threshold *float64) []*models.ScoredChunk {
	chunks := make(map[string]*models.Chunk, len(semantic)+len(hits))
	semRanked := make([]Ranked, len(semantic))
	for i, r := range semantic {
		chunks[r.Chunk.ID] = r.Chunk
		semRanked[i] = Ranked{ID: r.Chunk.ID, Score: r.Score}
	}
	keywordOnlyAllowed := threshold == nil && onlyFilename(filter)
	kwRanked := make([]Ranked, 0, len(hits))
	for _, h := range hits {
		if _, ok := chunks[h.ID]; !ok {
			if !keywordOnlyAllowed {
				continue
			}
			chunks[h.ID] = &models.Chunk{
				ID:       h.ID,
				Text:     h.Text,
				Metadata: map[string]string{models.MetaFilename: h.Filename},
			}
		}
		kwRanked = append(kwRanked, Ranked{ID: h.ID, Score: h.Score})
	}

	var fused []*FusedResult
	if e.cfg.Fusion == FusionRRF {
		fused = FuseRRF(kwRanked, semRanked, e.cfg.RRFK)
	} else {
		fused = Fuse(kwRanked, semRanked, e.cfg.KeywordWeight, e.cfg.SemanticWeight)
	}
	if len(fused) > topK {
		fused = fused[:topK]
	}
	out := make([]*models.ScoredChunk, len(fused))
	for i, f := range fused {
		out[i] = &models.ScoredChunk{Chunk: chunks[f.ID], Score: f.Score}
	}
	return out
}

func onlyFilename(filter models.Filter) bool {
	for k := range filter {
		if k != models.MetaFilename {
			return false
		}
	}
	return true
}
