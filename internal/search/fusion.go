// Package search provides hybrid search functionality combining BM25 and semantic search.
// Results are fused by min-max normalizing each ranked list independently and
// blending the normalized scores by configured weight.
package search

import (
	"sort"

	"github.com/aman-cerp/codeindex-mcp/internal/store"
)

// FusedResult represents a single result after blending BM25 and vector scores.
type FusedResult struct {
	ChunkID      string   // Chunk identifier
	Score        float64  // Combined blended score (0-1)
	BM25Score    float64  // Original BM25 score (preserved, pre-normalization)
	BM25Rank     int      // Position in BM25 list (1-indexed, 0 if absent)
	VecScore     float64  // Original vector similarity score (preserved, pre-normalization)
	VecRank      int      // Position in vector list (1-indexed, 0 if absent)
	InBothLists  bool     // Document appeared in both result lists
	MatchedTerms []string // BM25 matched terms (for highlighting)
}

// HybridBlender combines BM25 and vector search results by min-max normalizing
// each list independently to [0, 1] and blending by weight:
//
//	score(d) = w_vec * vec_norm(d) + w_bm25 * bm25_norm(d)
//
// A document absent from a list contributes 0 for that list's term. Weights
// are supplied per call via Weights and are expected to sum to 1.0; callers
// validate that invariant at config load time, not here.
type HybridBlender struct{}

// NewHybridBlender creates a blender. It carries no state: unlike rank-based
// fusion, min-max blending needs no smoothing constant.
func NewHybridBlender() *HybridBlender {
	return &HybridBlender{}
}

// Fuse blends BM25 and vector results into a single ranking.
//
// Results are sorted by: Score (desc) → VecScore (desc) → ChunkID (asc).
func (f *HybridBlender) Fuse(
	bm25 []*store.BM25Result,
	vec []*store.VectorResult,
	weights Weights,
) []*FusedResult {
	// Return empty slice, not nil, for consistent API behavior.
	if len(bm25) == 0 && len(vec) == 0 {
		return []*FusedResult{}
	}

	capacity := len(bm25) + len(vec)
	scores := make(map[string]*FusedResult, capacity)

	minBM25, maxBM25 := minMaxBM25(bm25)
	minVec, maxVec := minMaxVec(vec)

	for rank, r := range bm25 {
		result := f.getOrCreate(scores, r.DocID)
		result.BM25Score = r.Score
		result.BM25Rank = rank + 1
		result.MatchedTerms = r.MatchedTerms
	}

	for rank, r := range vec {
		result := f.getOrCreate(scores, r.ID)
		result.VecScore = float64(r.Score)
		result.VecRank = rank + 1
		if result.BM25Rank > 0 {
			result.InBothLists = true
		}
	}

	for _, r := range scores {
		var bm25Norm, vecNorm float64
		if r.BM25Rank > 0 {
			bm25Norm = normalize(r.BM25Score, minBM25, maxBM25)
		}
		if r.VecRank > 0 {
			vecNorm = normalize(r.VecScore, minVec, maxVec)
		}
		r.Score = weights.Semantic*vecNorm + weights.BM25*bm25Norm
	}

	return f.toSortedSlice(scores)
}

// getOrCreate returns existing result or creates new one.
func (f *HybridBlender) getOrCreate(m map[string]*FusedResult, id string) *FusedResult {
	if r, ok := m[id]; ok {
		return r
	}
	r := &FusedResult{ChunkID: id}
	m[id] = r
	return r
}

// minMaxBM25 returns the min and max BM25 score across the list, used to
// normalize the list independently of the vector list's scale.
func minMaxBM25(results []*store.BM25Result) (min, max float64) {
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

// minMaxVec returns the min and max vector similarity score across the list.
func minMaxVec(results []*store.VectorResult) (min, max float64) {
	if len(results) == 0 {
		return 0, 0
	}
	min, max = float64(results[0].Score), float64(results[0].Score)
	for _, r := range results[1:] {
		s := float64(r.Score)
		if s < min {
			min = s
		}
		if s > max {
			max = s
		}
	}
	return min, max
}

// normalize scales a score to [0, 1] given the min/max of its source list.
// A degenerate list (min == max, e.g. a single result) normalizes to 1.0:
// the sole candidate is the best available in its list.
func normalize(score, min, max float64) float64 {
	if max == min {
		return 1.0
	}
	return (score - min) / (max - min)
}

// toSortedSlice converts map to slice and sorts by blended score with tie-breaking.
func (f *HybridBlender) toSortedSlice(m map[string]*FusedResult) []*FusedResult {
	results := make([]*FusedResult, 0, len(m))
	for _, r := range m {
		results = append(results, r)
	}

	sort.Slice(results, func(i, j int) bool {
		return f.compare(results[i], results[j])
	})

	return results
}

// compare implements deterministic comparison for sorting.
// Returns true if a should rank before b.
//
// Priority:
//  1. Higher blended score
//  2. Higher vector score (tie-break order: vector, then id)
//  3. Lexicographically smaller ChunkID (deterministic)
func (f *HybridBlender) compare(a, b *FusedResult) bool {
	if a.Score != b.Score {
		return a.Score > b.Score
	}
	if a.VecScore != b.VecScore {
		return a.VecScore > b.VecScore
	}
	return a.ChunkID < b.ChunkID
}
