package search

import (
	"testing"

	"github.com/aman-cerp/codeindex-mcp/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Hybrid blend (min-max normalization + weighted sum) fusion tests.
// =============================================================================
// AC01: blend with configurable weights, weights sum to 1.0
// AC02: deterministic tie-breaking (Score -> VecScore -> ID)
// AC03: documents in only one list get 0 for the missing list's term
// AC04: each list normalized independently to [0, 1], originals preserved
// AC05: performance < 1ms for 100 results per list, O(n) space
// =============================================================================

// --- Test Helpers ---

func createBM25Results(ids []string, scores []float64) []*store.BM25Result {
	results := make([]*store.BM25Result, len(ids))
	for i, id := range ids {
		score := 1.0
		if i < len(scores) {
			score = scores[i]
		}
		results[i] = &store.BM25Result{
			DocID:        id,
			Score:        score,
			MatchedTerms: []string{"term"},
		}
	}
	return results
}

func createVecResults(ids []string, scores []float32) []*store.VectorResult {
	results := make([]*store.VectorResult, len(ids))
	for i, id := range ids {
		score := float32(0.9)
		if i < len(scores) {
			score = scores[i]
		}
		results[i] = &store.VectorResult{
			ID:    id,
			Score: score,
		}
	}
	return results
}

// --- TS01: Basic Blend ---
// Tests: AC01 (weighted blend)

func TestHybridBlender_Basic(t *testing.T) {
	// Given: BM25 results [A, B, C] and Vector results [C, A, D]
	bm25 := createBM25Results([]string{"A", "B", "C"}, []float64{2.5, 2.0, 1.5})
	vec := createVecResults([]string{"C", "A", "D"}, []float32{0.95, 0.90, 0.85})
	weights := DefaultWeights() // BM25: 0.35, Semantic: 0.65
	blender := NewHybridBlender()

	results := blender.Fuse(bm25, vec, weights)

	require.NotEmpty(t, results)
	require.Len(t, results, 4) // A, B, C, D

	ids := make([]string, len(results))
	for i, r := range results {
		ids[i] = r.ChunkID
	}
	assert.Contains(t, ids, "A")
	assert.Contains(t, ids, "B")
	assert.Contains(t, ids, "C")
	assert.Contains(t, ids, "D")

	for _, r := range results {
		assert.GreaterOrEqual(t, r.Score, 0.0, "blended score should be >= 0")
		assert.LessOrEqual(t, r.Score, 1.0, "blended score should be <= 1")
	}
}

// --- TS02: Document in One List Only ---
// Tests: AC03 (missing-list term contributes 0)

func TestHybridBlender_DocumentInOneListOnly(t *testing.T) {
	// Given: B only in BM25, D only in Vector
	bm25 := createBM25Results([]string{"A", "B"}, []float64{2.0, 1.5})
	vec := createVecResults([]string{"A", "D"}, []float32{0.9, 0.8})
	weights := DefaultWeights()
	blender := NewHybridBlender()

	results := blender.Fuse(bm25, vec, weights)

	require.Len(t, results, 3) // A, B, D

	resultMap := make(map[string]*FusedResult)
	for _, r := range results {
		resultMap[r.ChunkID] = r
	}

	assert.True(t, resultMap["A"].InBothLists)
	assert.Equal(t, 1, resultMap["A"].BM25Rank)
	assert.Equal(t, 1, resultMap["A"].VecRank)

	assert.False(t, resultMap["B"].InBothLists)
	assert.Equal(t, 2, resultMap["B"].BM25Rank)
	assert.Equal(t, 0, resultMap["B"].VecRank) // 0 means not in list

	assert.False(t, resultMap["D"].InBothLists)
	assert.Equal(t, 0, resultMap["D"].BM25Rank) // 0 means not in list
	assert.Equal(t, 2, resultMap["D"].VecRank)

	// B has only BM25's contribution (min-max normalizes its solitary score to 1.0,
	// weighted by weights.BM25); D analogously gets only weights.Semantic.
	assert.InDelta(t, weights.BM25, resultMap["B"].Score, 1e-9)
	assert.InDelta(t, weights.Semantic, resultMap["D"].Score, 1e-9)
}

// --- TS03: Tie-Breaking - Vector Score ---
// Tests: AC02 (deterministic tie-breaking)

func TestHybridBlender_TieBreaking_PreferHigherVecScore(t *testing.T) {
	// Two documents tied on blended score but different vector scores.
	blender := NewHybridBlender()
	a := &FusedResult{ChunkID: "A", Score: 0.5, VecScore: 0.9}
	b := &FusedResult{ChunkID: "B", Score: 0.5, VecScore: 0.5}
	assert.True(t, blender.compare(a, b), "higher vector score should win a Score tie")
	assert.False(t, blender.compare(b, a))
}

// --- TS04: Tie-Breaking - Lexicographic by ChunkID ---
// Tests: AC02 (deterministic tie-breaking)

func TestHybridBlender_TieBreaking_LexicographicByID(t *testing.T) {
	blender := NewHybridBlender()
	a := &FusedResult{ChunkID: "A", Score: 0.5, VecScore: 0.5}
	z := &FusedResult{ChunkID: "Z", Score: 0.5, VecScore: 0.5}
	assert.True(t, blender.compare(a, z), "lexicographically smaller ID should win a full tie")
	assert.False(t, blender.compare(z, a))
}

// --- TS05: Empty Inputs ---
// Tests: AC01 (edge case handling)

func TestHybridBlender_EmptyInputs(t *testing.T) {
	blender := NewHybridBlender()
	weights := DefaultWeights()

	t.Run("both empty", func(t *testing.T) {
		results := blender.Fuse(nil, nil, weights)
		assert.NotNil(t, results, "should return empty slice, not nil")
		assert.Empty(t, results)
	})

	t.Run("BM25 empty", func(t *testing.T) {
		vec := createVecResults([]string{"A", "B"}, []float32{0.9, 0.8})
		results := blender.Fuse(nil, vec, weights)
		require.Len(t, results, 2)
		for _, r := range results {
			assert.Equal(t, 0, r.BM25Rank)
			assert.False(t, r.InBothLists)
		}
	})

	t.Run("Vector empty", func(t *testing.T) {
		bm25 := createBM25Results([]string{"A", "B"}, []float64{2.0, 1.5})
		results := blender.Fuse(bm25, nil, weights)
		require.Len(t, results, 2)
		for _, r := range results {
			assert.Equal(t, 0, r.VecRank)
			assert.False(t, r.InBothLists)
		}
	})
}

// --- TS06: Per-List Min-Max Normalization ---
// Tests: AC04 (normalize independently per list, preserve originals)

func TestHybridBlender_PerListNormalization(t *testing.T) {
	// Given: BM25 and vector scores on very different scales.
	bm25 := createBM25Results([]string{"A", "B", "C"}, []float64{10.0, 5.0, 2.0})
	vec := createVecResults([]string{"A", "B", "C"}, []float32{0.95, 0.80, 0.60})
	weights := DefaultWeights()
	blender := NewHybridBlender()

	results := blender.Fuse(bm25, vec, weights)
	require.Len(t, results, 3)

	// The document at the max of both lists (A) blends to exactly 1.0.
	resultMap := make(map[string]*FusedResult)
	for _, r := range results {
		resultMap[r.ChunkID] = r
	}
	assert.InDelta(t, 1.0, resultMap["A"].Score, 1e-9)
	// The document at the min of both lists (C) blends to exactly 0.0.
	assert.InDelta(t, 0.0, resultMap["C"].Score, 1e-9)

	for _, r := range results {
		assert.GreaterOrEqual(t, r.Score, 0.0)
		assert.LessOrEqual(t, r.Score, 1.0)
	}

	// Original (pre-normalization) scores are preserved.
	assert.Equal(t, 10.0, resultMap["A"].BM25Score)
	assert.Equal(t, 5.0, resultMap["B"].BM25Score)
	assert.Equal(t, 2.0, resultMap["C"].BM25Score)
	assert.InDelta(t, 0.95, resultMap["A"].VecScore, 0.001)
	assert.InDelta(t, 0.80, resultMap["B"].VecScore, 0.001)
	assert.InDelta(t, 0.60, resultMap["C"].VecScore, 0.001)
}

// --- TS07: Degenerate Single-Result List Normalizes To 1.0 ---

func TestHybridBlender_SingleResultListNormalizesToOne(t *testing.T) {
	bm25 := createBM25Results([]string{"A"}, []float64{3.3})
	vec := createVecResults([]string{"A"}, []float32{0.42})
	weights := Weights{BM25: 0.3, Semantic: 0.7}
	blender := NewHybridBlender()

	results := blender.Fuse(bm25, vec, weights)
	require.Len(t, results, 1)
	assert.InDelta(t, 1.0, results[0].Score, 1e-9)
}

// --- TS08: Weight Sensitivity ---
// Tests: AC01 (weighted blend)

func TestHybridBlender_WeightSensitivity(t *testing.T) {
	// A: BM25 rank 1 (best), Vec rank 3 (worst)
	// C: BM25 rank 3 (worst), Vec rank 1 (best)
	bm25 := createBM25Results([]string{"A", "B", "C"}, []float64{3.0, 2.0, 1.0})
	vec := createVecResults([]string{"C", "B", "A"}, []float32{0.95, 0.85, 0.75})
	blender := NewHybridBlender()

	t.Run("high BM25 weight favors BM25 ranking", func(t *testing.T) {
		weights := Weights{BM25: 0.8, Semantic: 0.2}
		results := blender.Fuse(bm25, vec, weights)
		require.Len(t, results, 3)
		assert.Equal(t, "A", results[0].ChunkID)
	})

	t.Run("high Semantic weight favors Vector ranking", func(t *testing.T) {
		weights := Weights{BM25: 0.2, Semantic: 0.8}
		results := blender.Fuse(bm25, vec, weights)
		require.Len(t, results, 3)
		assert.Equal(t, "C", results[0].ChunkID)
	})
}

// --- TS09: Deterministic Ordering ---
// Tests: AC02 (same input -> same output)

func TestHybridBlender_Deterministic(t *testing.T) {
	bm25 := createBM25Results([]string{"A", "B", "C", "D", "E"}, []float64{5.0, 4.0, 3.0, 2.0, 1.0})
	vec := createVecResults([]string{"E", "D", "C", "B", "A"}, []float32{0.95, 0.90, 0.85, 0.80, 0.75})
	weights := DefaultWeights()
	blender := NewHybridBlender()

	results1 := blender.Fuse(bm25, vec, weights)
	results2 := blender.Fuse(bm25, vec, weights)
	results3 := blender.Fuse(bm25, vec, weights)

	require.Len(t, results1, 5)
	require.Len(t, results2, 5)
	require.Len(t, results3, 5)

	for i := range results1 {
		assert.Equal(t, results1[i].ChunkID, results2[i].ChunkID)
		assert.Equal(t, results2[i].ChunkID, results3[i].ChunkID)
		assert.Equal(t, results1[i].Score, results2[i].Score)
		assert.Equal(t, results2[i].Score, results3[i].Score)
	}
}

// --- Additional Test: MatchedTerms Preservation ---

func TestHybridBlender_PreservesMatchedTerms(t *testing.T) {
	bm25 := []*store.BM25Result{
		{DocID: "A", Score: 2.0, MatchedTerms: []string{"foo", "bar"}},
		{DocID: "B", Score: 1.5, MatchedTerms: []string{"baz"}},
	}
	vec := createVecResults([]string{"A"}, []float32{0.9})
	weights := DefaultWeights()
	blender := NewHybridBlender()

	results := blender.Fuse(bm25, vec, weights)

	resultMap := make(map[string]*FusedResult)
	for _, r := range results {
		resultMap[r.ChunkID] = r
	}

	assert.Equal(t, []string{"foo", "bar"}, resultMap["A"].MatchedTerms)
	assert.Equal(t, []string{"baz"}, resultMap["B"].MatchedTerms)
}

func TestHybridBlender_Compare_AllTieBreakingBranches(t *testing.T) {
	blender := NewHybridBlender()

	t.Run("higher blended score wins", func(t *testing.T) {
		a := &FusedResult{ChunkID: "A", Score: 0.9, VecScore: 0.1}
		b := &FusedResult{ChunkID: "B", Score: 0.8, VecScore: 0.9}
		assert.True(t, blender.compare(a, b), "higher blended score should win")
		assert.False(t, blender.compare(b, a), "lower blended score should lose")
	})

	t.Run("equal score - higher vector score wins", func(t *testing.T) {
		a := &FusedResult{ChunkID: "A", Score: 0.8, VecScore: 0.9}
		b := &FusedResult{ChunkID: "B", Score: 0.8, VecScore: 0.1}
		assert.True(t, blender.compare(a, b), "higher vector score should win")
		assert.False(t, blender.compare(b, a), "lower vector score should lose")
	})

	t.Run("all equal - lexicographic ChunkID wins", func(t *testing.T) {
		a := &FusedResult{ChunkID: "A", Score: 0.8, VecScore: 0.5}
		b := &FusedResult{ChunkID: "Z", Score: 0.8, VecScore: 0.5}
		assert.True(t, blender.compare(a, b), "lexicographically smaller ID should win")
		assert.False(t, blender.compare(b, a), "lexicographically larger ID should lose")
	})
}

func TestNormalize_DegenerateRangeReturnsOne(t *testing.T) {
	assert.Equal(t, 1.0, normalize(5.0, 5.0, 5.0))
}

func TestNormalize_ScalesWithinRange(t *testing.T) {
	assert.InDelta(t, 0.5, normalize(5.0, 0.0, 10.0), 1e-9)
	assert.InDelta(t, 0.0, normalize(0.0, 0.0, 10.0), 1e-9)
	assert.InDelta(t, 1.0, normalize(10.0, 0.0, 10.0), 1e-9)
}

// =============================================================================
// MultiRRFFusion Tests — unaffected by the BM25/vector blend redesign; this
// component fuses multiple already-blended sub-query rankings and keeps true
// reciprocal-rank fusion (see multi_fusion.go).
// =============================================================================

func TestNewMultiRRFFusionWithParams(t *testing.T) {
	t.Run("valid params", func(t *testing.T) {
		fusion := NewMultiRRFFusionWithParams(30, 0.2)
		assert.Equal(t, 30, fusion.K)
		assert.Equal(t, 0.2, fusion.ConsensusBoost)
	})

	t.Run("invalid k defaults to 60", func(t *testing.T) {
		fusion := NewMultiRRFFusionWithParams(0, 0.2)
		assert.Equal(t, defaultMultiQueryRRFConstant, fusion.K)

		fusion2 := NewMultiRRFFusionWithParams(-5, 0.2)
		assert.Equal(t, defaultMultiQueryRRFConstant, fusion2.K)
	})

	t.Run("negative consensusBoost defaults to 0.1", func(t *testing.T) {
		fusion := NewMultiRRFFusionWithParams(60, -0.5)
		assert.Equal(t, 0.1, fusion.ConsensusBoost)
	})

	t.Run("zero consensusBoost is valid", func(t *testing.T) {
		fusion := NewMultiRRFFusionWithParams(60, 0.0)
		assert.Equal(t, 0.0, fusion.ConsensusBoost)
	})
}

func TestMultiRRFFusion_Compare_AllTieBreakingBranches(t *testing.T) {
	fusion := NewMultiRRFFusion()

	t.Run("higher RRF score wins", func(t *testing.T) {
		a := &MultiFusedResult{FusedResult: FusedResult{ChunkID: "A", Score: 0.9, InBothLists: false, BM25Score: 1.0}, SubQueryHits: 1}
		b := &MultiFusedResult{FusedResult: FusedResult{ChunkID: "B", Score: 0.8, InBothLists: true, BM25Score: 5.0}, SubQueryHits: 3}
		assert.True(t, fusion.compare(a, b), "higher RRF score should win")
	})

	t.Run("equal RRF - more SubQueryHits wins", func(t *testing.T) {
		a := &MultiFusedResult{FusedResult: FusedResult{ChunkID: "A", Score: 0.8, InBothLists: false, BM25Score: 1.0}, SubQueryHits: 3}
		b := &MultiFusedResult{FusedResult: FusedResult{ChunkID: "B", Score: 0.8, InBothLists: true, BM25Score: 5.0}, SubQueryHits: 1}
		assert.True(t, fusion.compare(a, b), "more SubQueryHits should win")
	})

	t.Run("equal RRF and SubQueryHits - InBothLists wins", func(t *testing.T) {
		a := &MultiFusedResult{FusedResult: FusedResult{ChunkID: "A", Score: 0.8, InBothLists: true, BM25Score: 1.0}, SubQueryHits: 2}
		b := &MultiFusedResult{FusedResult: FusedResult{ChunkID: "B", Score: 0.8, InBothLists: false, BM25Score: 5.0}, SubQueryHits: 2}
		assert.True(t, fusion.compare(a, b), "InBothLists=true should win")
	})

	t.Run("equal RRF, SubQueryHits, InBothLists - higher BM25 wins", func(t *testing.T) {
		a := &MultiFusedResult{FusedResult: FusedResult{ChunkID: "Z", Score: 0.8, InBothLists: true, BM25Score: 5.0}, SubQueryHits: 2}
		b := &MultiFusedResult{FusedResult: FusedResult{ChunkID: "A", Score: 0.8, InBothLists: true, BM25Score: 1.0}, SubQueryHits: 2}
		assert.True(t, fusion.compare(a, b), "higher BM25 should win")
	})

	t.Run("all equal - lexicographic ChunkID wins", func(t *testing.T) {
		a := &MultiFusedResult{FusedResult: FusedResult{ChunkID: "A", Score: 0.8, InBothLists: true, BM25Score: 5.0}, SubQueryHits: 2}
		b := &MultiFusedResult{FusedResult: FusedResult{ChunkID: "Z", Score: 0.8, InBothLists: true, BM25Score: 5.0}, SubQueryHits: 2}
		assert.True(t, fusion.compare(a, b), "lexicographically smaller ID should win")
	})
}

func TestMultiRRFFusion_Normalize_ZeroMaxScore(t *testing.T) {
	fusion := NewMultiRRFFusion()

	results := []*MultiFusedResult{
		{FusedResult: FusedResult{ChunkID: "A", Score: 0.0}},
		{FusedResult: FusedResult{ChunkID: "B", Score: 0.0}},
	}

	fusion.normalize(results)

	assert.Equal(t, 0.0, results[0].Score)
	assert.Equal(t, 0.0, results[1].Score)
}

func TestMultiRRFFusion_EmptySubResults(t *testing.T) {
	fusion := NewMultiRRFFusion()

	results := fusion.FuseMultiQuery([]SubQueryResult{})
	assert.NotNil(t, results)
	assert.Empty(t, results)

	results = fusion.FuseMultiQuery(nil)
	assert.NotNil(t, results)
	assert.Empty(t, results)
}

func TestMultiRRFFusion_ConsensusBoost(t *testing.T) {
	fusion := NewMultiRRFFusion() // ConsensusBoost = 0.1

	// Document A appears in 3 sub-queries, B appears in 1
	subResults := []SubQueryResult{
		{
			SubQuery: SubQuery{Query: "query1", Weight: 1.0},
			Results: []*FusedResult{
				{ChunkID: "A", Score: 0.8},
				{ChunkID: "B", Score: 0.7},
			},
		},
		{
			SubQuery: SubQuery{Query: "query2", Weight: 1.0},
			Results: []*FusedResult{
				{ChunkID: "A", Score: 0.75},
			},
		},
		{
			SubQuery: SubQuery{Query: "query3", Weight: 1.0},
			Results: []*FusedResult{
				{ChunkID: "A", Score: 0.7},
			},
		},
	}

	results := fusion.FuseMultiQuery(subResults)

	require.NotEmpty(t, results)
	assert.Equal(t, "A", results[0].ChunkID)
	assert.Equal(t, 3, results[0].SubQueryHits)

	require.Len(t, results, 2)
	assert.Equal(t, "B", results[1].ChunkID)
	assert.Equal(t, 1, results[1].SubQueryHits)
}

func TestMultiRRFFusion_ZeroWeight(t *testing.T) {
	fusion := NewMultiRRFFusion()

	// Sub-query with zero weight should use 1.0 as default
	subResults := []SubQueryResult{
		{
			SubQuery: SubQuery{Query: "query1", Weight: 0.0},
			Results: []*FusedResult{
				{ChunkID: "A", Score: 0.8},
			},
		},
	}

	results := fusion.FuseMultiQuery(subResults)
	require.Len(t, results, 1)
	assert.Equal(t, "A", results[0].ChunkID)
	assert.Greater(t, results[0].Score, 0.0)
}

// =============================================================================
// Benchmarks
// =============================================================================
// Tests: AC05 (performance requirements)

func BenchmarkHybridBlender_20x20(b *testing.B) {
	bm25 := make([]*store.BM25Result, 20)
	vec := make([]*store.VectorResult, 20)
	for i := 0; i < 20; i++ {
		bm25[i] = &store.BM25Result{DocID: string(rune('A' + i)), Score: float64(20 - i)}
		vec[i] = &store.VectorResult{ID: string(rune('A' + i)), Score: float32(0.9 - float32(i)*0.01)}
	}
	weights := DefaultWeights()
	blender := NewHybridBlender()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		blender.Fuse(bm25, vec, weights)
	}
}

func BenchmarkHybridBlender_100x100(b *testing.B) {
	bm25 := make([]*store.BM25Result, 100)
	vec := make([]*store.VectorResult, 100)
	for i := 0; i < 100; i++ {
		bm25[i] = &store.BM25Result{DocID: string(rune(i)), Score: float64(100 - i)}
		vec[i] = &store.VectorResult{ID: string(rune(i)), Score: float32(0.9 - float32(i)*0.001)}
	}
	weights := DefaultWeights()
	blender := NewHybridBlender()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		blender.Fuse(bm25, vec, weights)
	}
}

func BenchmarkHybridBlender_1000x1000(b *testing.B) {
	bm25 := make([]*store.BM25Result, 1000)
	vec := make([]*store.VectorResult, 1000)
	for i := 0; i < 1000; i++ {
		bm25[i] = &store.BM25Result{DocID: string(rune(i)), Score: float64(1000 - i)}
		vec[i] = &store.VectorResult{ID: string(rune(i)), Score: float32(0.9 - float32(i)*0.0001)}
	}
	weights := DefaultWeights()
	blender := NewHybridBlender()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		blender.Fuse(bm25, vec, weights)
	}
}
