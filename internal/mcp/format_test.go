package mcp

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/aman-cerp/codeindex-mcp/internal/search"
	"github.com/aman-cerp/codeindex-mcp/internal/store"
)

func TestClampLimit_Default(t *testing.T) {
	assert.Equal(t, 10, clampLimit(0, 10, 1, 50))
	assert.Equal(t, 10, clampLimit(-1, 10, 1, 50))
}

func TestClampLimit_BelowMin(t *testing.T) {
	assert.Equal(t, 1, clampLimit(0, 0, 1, 50))
}

func TestClampLimit_AboveMax(t *testing.T) {
	assert.Equal(t, 50, clampLimit(500, 10, 1, 50))
}

func TestClampLimit_WithinRange(t *testing.T) {
	assert.Equal(t, 25, clampLimit(25, 10, 1, 50))
}

func TestGenerateMatchReason_Nil(t *testing.T) {
	assert.Empty(t, generateMatchReason(nil))
	assert.Empty(t, generateMatchReason(&search.SearchResult{}))
}

func TestGenerateMatchReason_Symbol(t *testing.T) {
	r := &search.SearchResult{
		Chunk: &store.Chunk{
			Symbols: []*store.Symbol{
				{Name: "AuthMiddleware", Type: store.SymbolTypeFunction},
			},
		},
	}
	reason := generateMatchReason(r)
	assert.Contains(t, reason, "AuthMiddleware")
}

func TestGenerateMatchReason_SymbolWithDocComment(t *testing.T) {
	r := &search.SearchResult{
		Chunk: &store.Chunk{
			Symbols: []*store.Symbol{
				{Name: "Parse", Type: store.SymbolTypeFunction, DocComment: "Parse reads the input.\nIt never blocks."},
			},
		},
	}
	reason := generateMatchReason(r)
	assert.Contains(t, reason, "documented as: Parse reads the input.")
	assert.NotContains(t, reason, "It never blocks.")
}

func TestGenerateMatchReason_TruncatesLongDocComment(t *testing.T) {
	long := strings.Repeat("x", 80)
	r := &search.SearchResult{
		Chunk: &store.Chunk{
			Symbols: []*store.Symbol{{Name: "F", Type: store.SymbolTypeFunction, DocComment: long}},
		},
	}
	reason := generateMatchReason(r)
	assert.Contains(t, reason, "...")
}

func TestGenerateMatchReason_MatchedTerms(t *testing.T) {
	r := &search.SearchResult{
		Chunk:        &store.Chunk{},
		MatchedTerms: []string{"auth", "token", "session", "login", "oauth", "refresh"},
	}
	reason := generateMatchReason(r)
	assert.Contains(t, reason, "matched:")
	assert.NotContains(t, reason, "refresh")
}

func TestGenerateMatchReason_InBothLists(t *testing.T) {
	r := &search.SearchResult{
		Chunk:       &store.Chunk{},
		InBothLists: true,
	}
	reason := generateMatchReason(r)
	assert.Contains(t, reason, "found in both keyword and semantic search")
}

func TestGenerateMatchReason_NoSignalFallsBack(t *testing.T) {
	r := &search.SearchResult{Chunk: &store.Chunk{}}
	assert.Equal(t, "matched content", generateMatchReason(r))
}
