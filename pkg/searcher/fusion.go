package searcher

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"
)

// FusionSearcher combines multiple searchers by min-max normalizing each
// list's scores independently and blending them by configured weight.
//
// Supports three modes:
//   - Hybrid: Both BM25 and Vector searchers (full fusion)
//   - BM25-only: Just BM25 searcher (lexical search)
//   - Vector-only: Just Vector searcher (semantic search)
//
// Thread-safe for concurrent use.
type FusionSearcher struct {
	bm25   Searcher
	vector Searcher
	config FusionConfig
	mu     sync.RWMutex
}

// FusionOption configures FusionSearcher.
type FusionOption func(*FusionSearcher)

// WithBM25Searcher sets the BM25 searcher for lexical search.
func WithBM25Searcher(s Searcher) FusionOption {
	return func(f *FusionSearcher) {
		f.bm25 = s
	}
}

// WithVectorSearcher sets the Vector searcher for semantic search.
func WithVectorSearcher(s Searcher) FusionOption {
	return func(f *FusionSearcher) {
		f.vector = s
	}
}

// WithFusionConfig sets the fusion blend configuration.
func WithFusionConfig(config FusionConfig) FusionOption {
	return func(f *FusionSearcher) {
		f.config = config
	}
}

// NewFusionSearcher creates a new fusion searcher.
//
// At least one searcher (BM25 or Vector) must be provided.
// Returns ErrNoSearchers if no searchers are configured.
func NewFusionSearcher(opts ...FusionOption) (*FusionSearcher, error) {
	f := &FusionSearcher{
		config: DefaultFusionConfig(),
	}

	for _, opt := range opts {
		opt(f)
	}

	if f.bm25 == nil && f.vector == nil {
		return nil, ErrNoSearchers
	}

	return f, nil
}

// Search executes search on all configured searchers and fuses results.
//
// Behavior by mode:
//   - Hybrid: Parallel BM25 + Vector search, then min-max blend
//   - BM25-only: Direct BM25 search
//   - Vector-only: Direct Vector search
//
// Graceful degradation: If one searcher fails, returns results from the other.
// Returns error only if all searchers fail.
func (f *FusionSearcher) Search(ctx context.Context, query string, limit int) ([]Result, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	// Single searcher modes
	if f.bm25 == nil {
		return f.vector.Search(ctx, query, limit)
	}
	if f.vector == nil {
		return f.bm25.Search(ctx, query, limit)
	}

	// Hybrid mode: parallel search with graceful degradation
	return f.hybridSearch(ctx, query, limit)
}

// hybridSearch runs both searchers in parallel and fuses results.
func (f *FusionSearcher) hybridSearch(ctx context.Context, query string, limit int) ([]Result, error) {
	var (
		bm25Results   []Result
		vectorResults []Result
		bm25Err       error
		vectorErr     error
	)

	// Fetch more results for fusion (2x limit)
	fetchLimit := limit * 2
	if fetchLimit < 20 {
		fetchLimit = 20 // Minimum for good fusion
	}

	// Run searches in parallel
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		var err error
		bm25Results, err = f.bm25.Search(gctx, query, fetchLimit)
		bm25Err = err
		return nil // Don't fail the group, we handle errors below
	})

	g.Go(func() error {
		var err error
		vectorResults, err = f.vector.Search(gctx, query, fetchLimit)
		vectorErr = err
		return nil // Don't fail the group, we handle errors below
	})

	// Wait for both to complete
	_ = g.Wait()

	// Handle errors with graceful degradation
	if bm25Err != nil && vectorErr != nil {
		return nil, fmt.Errorf("all searchers failed: BM25: %v, Vector: %v", bm25Err, vectorErr)
	}

	// Single-source fallback
	if bm25Err != nil {
		return truncateResults(vectorResults, limit), nil
	}
	if vectorErr != nil {
		return truncateResults(bm25Results, limit), nil
	}

	// Fuse results using the min-max blend
	fused := f.fuseResults(bm25Results, vectorResults)

	return truncateResults(fused, limit), nil
}

// fusedScore tracks score accumulation during the blend.
type fusedScore struct {
	ID           string
	BM25Score    float64
	VecScore     float64
	InBM25       bool
	InVector     bool
	MatchedTerms []string
}

// fuseResults min-max normalizes each result list independently, then
// blends the normalized scores by configured weight.
//
// A document absent from a list is treated as having no score for that
// list; if it is the only list present for that document, the lone list
// normalizes to 1.0, so its full per-list weight carries through.
func (f *FusionSearcher) fuseResults(bm25Results, vectorResults []Result) []Result {
	scores := make(map[string]*fusedScore)

	for _, r := range bm25Results {
		scores[r.ID] = &fusedScore{
			ID:           r.ID,
			BM25Score:    r.Score,
			InBM25:       true,
			MatchedTerms: r.MatchedTerms,
		}
	}

	for _, r := range vectorResults {
		if existing, ok := scores[r.ID]; ok {
			existing.VecScore = r.Score
			existing.InVector = true
		} else {
			scores[r.ID] = &fusedScore{
				ID:       r.ID,
				VecScore: r.Score,
				InVector: true,
			}
		}
	}

	minBM25, maxBM25 := minMaxScore(bm25Results)
	minVec, maxVec := minMaxScore(vectorResults)

	results := make([]Result, 0, len(scores))
	for _, s := range scores {
		var bm25Norm, vecNorm float64
		if s.InBM25 {
			bm25Norm = normalizeScore(s.BM25Score, minBM25, maxBM25)
		}
		if s.InVector {
			vecNorm = normalizeScore(s.VecScore, minVec, maxVec)
		}
		blended := f.config.SemanticWeight*vecNorm + f.config.BM25Weight*bm25Norm
		results = append(results, Result{
			ID:           s.ID,
			Score:        blended,
			MatchedTerms: s.MatchedTerms,
		})
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		// Stable sort by ID for deterministic ordering
		return results[i].ID < results[j].ID
	})

	return results
}

// minMaxScore returns the minimum and maximum Score across results.
func minMaxScore(results []Result) (min, max float64) {
	if len(results) == 0 {
		return 0, 0
	}
	min, max = results[0].Score, results[0].Score
	for _, r := range results[1:] {
		if r.Score < min {
			min = r.Score
		}
		if r.Score > max {
			max = r.Score
		}
	}
	return min, max
}

// normalizeScore scales score into [0, 1] given the list's min/max.
// A degenerate range (single result or all-tied scores) normalizes to 1.0.
func normalizeScore(score, min, max float64) float64 {
	if max == min {
		return 1.0
	}
	return (score - min) / (max - min)
}

// truncateResults returns at most limit results.
func truncateResults(results []Result, limit int) []Result {
	if len(results) <= limit {
		return results
	}
	return results[:limit]
}
