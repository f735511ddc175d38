package mcp

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aman-cerp/codeindex-mcp/internal/config"
)

// mockEmbedder implements embed.Embedder with fixed-size zero vectors, enough
// to exercise the storage/search plumbing without a real model.
type mockEmbedder struct {
	dimensions int
}

func (m *mockEmbedder) Embed(_ context.Context, _ string) ([]float32, error) {
	return make([]float32, m.Dimensions()), nil
}

func (m *mockEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = make([]float32, m.Dimensions())
	}
	return out, nil
}

func (m *mockEmbedder) Dimensions() int {
	if m.dimensions == 0 {
		return 8
	}
	return m.dimensions
}

func (m *mockEmbedder) ModelName() string                { return "mock-model" }
func (m *mockEmbedder) Available(_ context.Context) bool { return true }
func (m *mockEmbedder) Close() error                      { return nil }
func (m *mockEmbedder) SetBatchIndex(_ int)               {}
func (m *mockEmbedder) SetFinalBatch(_ bool)              {}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	s, err := NewServer(&mockEmbedder{}, config.NewConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestNewServer_RequiresEmbedder(t *testing.T) {
	_, err := NewServer(nil, config.NewConfig())
	assert.Error(t, err)
}

func TestNewServer_DefaultsConfigWhenNil(t *testing.T) {
	s, err := NewServer(&mockEmbedder{}, nil)
	require.NoError(t, err)
	assert.NotNil(t, s.config)
}

func TestCanonicalPath_ValidDirectory(t *testing.T) {
	dir := t.TempDir()
	abs, err := canonicalPath(dir)
	require.NoError(t, err)
	assert.Equal(t, filepath.Clean(dir), abs)
}

func TestCanonicalPath_EmptyPath(t *testing.T) {
	_, err := canonicalPath("   ")
	assert.Error(t, err)
}

func TestCanonicalPath_NonExistentPath(t *testing.T) {
	_, err := canonicalPath(filepath.Join(t.TempDir(), "does-not-exist"))
	assert.Error(t, err)
}

func TestCanonicalPath_FileIsNotDirectory(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "f.txt")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o644))

	_, err := canonicalPath(file)
	assert.Error(t, err)
}

func TestProjectIDFor_DeterministicAndDistinct(t *testing.T) {
	a := projectIDFor("/repo/one")
	b := projectIDFor("/repo/one")
	c := projectIDFor("/repo/two")

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
}

func TestExistingDataDir_FalseWhenNeverIndexed(t *testing.T) {
	dir := t.TempDir()
	_, indexed := existingDataDir(dir)
	assert.False(t, indexed)
}

func TestExistingDataDir_TrueWhenMetadataPresent(t *testing.T) {
	dir := t.TempDir()
	dataDir := filepath.Join(dir, dataDirName)
	require.NoError(t, os.MkdirAll(dataDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dataDir, "metadata.db"), []byte{}, 0o644))

	got, indexed := existingDataDir(dir)
	assert.True(t, indexed)
	assert.Equal(t, dataDir, got)
}

func TestChunkerForSplitter_Lines(t *testing.T) {
	c := chunkerForSplitter("lines")
	assert.NotNil(t, c)
}

func TestChunkerForSplitter_DefaultsToAST(t *testing.T) {
	c := chunkerForSplitter("")
	assert.NotNil(t, c)
	c2 := chunkerForSplitter("ast")
	assert.NotNil(t, c2)
}

func TestWipeDataDir_RemovesKnownArtifacts(t *testing.T) {
	dir := t.TempDir()
	files := []string{"metadata.db", "bm25.db", "vectors.hnsw", "snapshot.json", ".index.lock"}
	for _, f := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, f), []byte("x"), 0o644))
	}

	require.NoError(t, wipeDataDir(dir))

	for _, f := range files {
		_, err := os.Stat(filepath.Join(dir, f))
		assert.True(t, os.IsNotExist(err), "expected %s to be removed", f)
	}
}

func TestWipeDataDir_NoErrorWhenNothingToRemove(t *testing.T) {
	assert.NoError(t, wipeDataDir(t.TempDir()))
}

func TestIndexCodebase_ThenSearch_ThenStatus_ThenClear(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()
	repo := t.TempDir()

	require.NoError(t, os.WriteFile(filepath.Join(repo, "main.go"),
		[]byte("package main\n\nfunc Greet() string {\n\treturn \"hello\"\n}\n"), 0o644))

	_, indexOut, err := s.indexCodebaseHandler(ctx, nil, IndexCodebaseInput{Path: repo})
	require.NoError(t, err)
	assert.Equal(t, "indexed", indexOut.Status)
	assert.GreaterOrEqual(t, indexOut.Files, 1)

	_, statusOut, err := s.getIndexingStatusHandler(ctx, nil, GetIndexingStatusInput{Path: repo})
	require.NoError(t, err)
	assert.Equal(t, "indexed", statusOut.Status)
	require.NotNil(t, statusOut.Counts)
	assert.GreaterOrEqual(t, statusOut.Counts.Files, 1)

	_, searchOut, err := s.searchCodeHandler(ctx, nil, SearchCodeInput{Path: repo, Query: "Greet"})
	require.NoError(t, err)
	assert.NotNil(t, searchOut)

	_, clearOut, err := s.clearIndexHandler(ctx, nil, ClearIndexInput{Path: repo})
	require.NoError(t, err)
	assert.True(t, clearOut.Cleared)

	_, statusAfterClear, err := s.getIndexingStatusHandler(ctx, nil, GetIndexingStatusInput{Path: repo})
	require.NoError(t, err)
	assert.Equal(t, "unindexed", statusAfterClear.Status)
}

func TestSearchCodeHandler_RejectsEmptyQuery(t *testing.T) {
	s := newTestServer(t)
	_, _, err := s.searchCodeHandler(context.Background(), nil, SearchCodeInput{Path: t.TempDir(), Query: "  "})
	assert.Error(t, err)
}

func TestSearchCodeHandler_RequiresPriorIndexing(t *testing.T) {
	s := newTestServer(t)
	_, _, err := s.searchCodeHandler(context.Background(), nil, SearchCodeInput{Path: t.TempDir(), Query: "anything"})
	assert.Error(t, err)
	mapped, ok := err.(*MCPError)
	require.True(t, ok)
	assert.Contains(t, mapped.Message, "index_codebase")
}

func TestGetIndexingStatusHandler_NeverIndexedRepo(t *testing.T) {
	s := newTestServer(t)
	_, out, err := s.getIndexingStatusHandler(context.Background(), nil, GetIndexingStatusInput{Path: t.TempDir()})
	require.NoError(t, err)
	assert.Equal(t, "unindexed", out.Status)
	assert.Nil(t, out.Counts)
}

func TestClearIndexHandler_NeverIndexedRepoIsNoop(t *testing.T) {
	s := newTestServer(t)
	_, out, err := s.clearIndexHandler(context.Background(), nil, ClearIndexInput{Path: t.TempDir()})
	require.NoError(t, err)
	assert.False(t, out.Cleared)
}

func TestIndexCodebase_ForceRebuildClearsExistingIndex(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()
	repo := t.TempDir()

	require.NoError(t, os.WriteFile(filepath.Join(repo, "a.go"), []byte("package main\n"), 0o644))
	_, _, err := s.indexCodebaseHandler(ctx, nil, IndexCodebaseInput{Path: repo})
	require.NoError(t, err)

	_, out, err := s.indexCodebaseHandler(ctx, nil, IndexCodebaseInput{Path: repo, Force: true})
	require.NoError(t, err)
	assert.Equal(t, "indexed", out.Status)
}

func TestIndexCodebase_RejectsMissingPath(t *testing.T) {
	s := newTestServer(t)
	_, _, err := s.indexCodebaseHandler(context.Background(), nil,
		IndexCodebaseInput{Path: filepath.Join(t.TempDir(), "missing")})
	assert.Error(t, err)
}

func TestOpenRepo_ReusesHandleForSamePath(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()
	repo := t.TempDir()

	h1, err := s.openRepo(ctx, repo)
	require.NoError(t, err)
	h2, err := s.openRepo(ctx, repo)
	require.NoError(t, err)

	assert.Same(t, h1, h2)
}

func TestServerInfo(t *testing.T) {
	s := newTestServer(t)
	name, ver := s.Info()
	assert.Equal(t, "CodeIndexMCP", name)
	assert.NotEmpty(t, ver)
}

// TestNewServer_MultipleInstancesDoNotCollideOnMetrics guards against
// reintroducing a shared/global Prometheus registerer: each Server must own
// an independent registry, or constructing a second one in the same test
// binary would panic on duplicate metric registration.
func TestNewServer_MultipleInstancesDoNotCollideOnMetrics(t *testing.T) {
	assert.NotPanics(t, func() {
		_ = newTestServer(t)
		_ = newTestServer(t)
	})
}

func TestMetricsRegistry_ReturnsPerServerRegistry(t *testing.T) {
	a := newTestServer(t)
	b := newTestServer(t)
	require.NotNil(t, a.MetricsRegistry())
	require.NotNil(t, b.MetricsRegistry())
	assert.NotSame(t, a.MetricsRegistry(), b.MetricsRegistry())
}

func TestIndexCodebase_RecordsToolCallMetric(t *testing.T) {
	s := newTestServer(t)
	repo := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(repo, "main.go"),
		[]byte("package main\n\nfunc Greet() string { return \"hi\" }\n"), 0o644))

	_, _, err := s.indexCodebaseHandler(context.Background(), nil, IndexCodebaseInput{Path: repo})
	require.NoError(t, err)

	families, err := s.MetricsRegistry().Gather()
	require.NoError(t, err)

	var sawIndexDuration bool
	for _, f := range families {
		if f.GetName() == "codeindexmcp_index_duration_seconds" {
			sawIndexDuration = true
		}
	}
	assert.True(t, sawIndexDuration, "expected index_duration_seconds to be recorded after indexing")
}
