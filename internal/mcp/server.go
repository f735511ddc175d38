package mcp

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/aman-cerp/codeindex-mcp/internal/async"
	"github.com/aman-cerp/codeindex-mcp/internal/chunk"
	"github.com/aman-cerp/codeindex-mcp/internal/config"
	"github.com/aman-cerp/codeindex-mcp/internal/embed"
	codeindexerrors "github.com/aman-cerp/codeindex-mcp/internal/errors"
	"github.com/aman-cerp/codeindex-mcp/internal/index"
	"github.com/aman-cerp/codeindex-mcp/internal/scanner"
	"github.com/aman-cerp/codeindex-mcp/internal/search"
	"github.com/aman-cerp/codeindex-mcp/internal/store"
	"github.com/aman-cerp/codeindex-mcp/internal/telemetry"
	"github.com/aman-cerp/codeindex-mcp/pkg/version"
)

// dataDirName is the per-repository directory holding the metadata store,
// BM25 index, vector store, and Merkle snapshot.
const dataDirName = ".codeindexmcp"

// Server is the MCP server for CodeIndexMCP. Unlike a single-project server,
// every tool call is keyed by an absolute repository path, so Server holds a
// registry of per-repository handles rather than a single bound project.
type Server struct {
	mcp      *mcp.Server
	embedder embed.Embedder // Shared across all repositories; fixed dimension.
	config   *config.Config
	logger   *slog.Logger
	registry *prometheus.Registry
	metrics  *metricsCollector

	mu    sync.Mutex
	repos map[string]*repoHandle

	bgCtx    context.Context
	bgCancel context.CancelFunc
}

// repoHandle bundles the open storage/search/indexing handles for one
// repository, keyed by its canonicalized absolute path.
type repoHandle struct {
	absPath   string
	projectID string
	dataDir   string

	metadata store.MetadataStore
	bm25     store.BM25Index
	vector   store.VectorStore
	engine   *search.Engine
	scanner  *scanner.Scanner
	metrics  *telemetry.QueryMetrics // Per-repository query telemetry, backed by this repo's metadata.db

	progress *async.IndexProgress
	sync     *index.SyncManager
}

// NewServer creates an MCP server backed by a shared embedder. cfg supplies
// search/embedding/chunking defaults applied to every repository opened
// through this server.
func NewServer(embedder embed.Embedder, cfg *config.Config) (*Server, error) {
	if embedder == nil {
		return nil, fmt.Errorf("embedder is required")
	}
	if cfg == nil {
		cfg = config.NewConfig()
	}

	bgCtx, bgCancel := context.WithCancel(context.Background())
	registry := prometheus.NewRegistry()
	s := &Server{
		embedder: embedder,
		config:   cfg,
		logger:   slog.Default(),
		registry: registry,
		metrics:  newMetricsCollector(registry),
		repos:    make(map[string]*repoHandle),
		bgCtx:    bgCtx,
		bgCancel: bgCancel,
	}

	s.mcp = mcp.NewServer(
		&mcp.Implementation{
			Name:    "CodeIndexMCP",
			Version: version.Version,
		},
		nil, // ServerOptions - capabilities are inferred from registered tools
	)

	s.registerTools()

	return s, nil
}

// MCPServer returns the underlying MCP server instance.
func (s *Server) MCPServer() *mcp.Server {
	return s.mcp
}

// MetricsRegistry returns the Prometheus registry this server's tool, index,
// and search metrics are collected on, for wiring an admin HTTP surface.
func (s *Server) MetricsRegistry() *prometheus.Registry {
	return s.registry
}

// Info returns the server name and version.
func (s *Server) Info() (name, ver string) {
	return "CodeIndexMCP", version.Version
}

// registerTools registers the four path-keyed tools with the MCP server.
func (s *Server) registerTools() {
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "index_codebase",
		Description: "Build or refresh the search index for a repository. Pass the absolute path to the repository root. Incremental by default (only changed files are reprocessed); pass force=true to rebuild from scratch.",
	}, instrumentTool(s, "index_codebase", s.indexCodebaseHandler))

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "search_code",
		Description: "Search an already-indexed repository with a natural-language or code query. Returns ranked chunks combining BM25 keyword and semantic vector search.",
	}, instrumentTool(s, "search_code", s.searchCodeHandler))

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "get_indexing_status",
		Description: "Check whether a repository is indexed, currently indexing, or has never been indexed, including progress and file/chunk counts.",
	}, instrumentTool(s, "get_indexing_status", s.getIndexingStatusHandler))

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "clear_index",
		Description: "Delete all indexed data for a repository (metadata, BM25 index, vector store, and Merkle snapshot).",
	}, instrumentTool(s, "clear_index", s.clearIndexHandler))

	s.logger.Info("MCP tools registered", slog.Int("count", 4))
}

// instrumentTool wraps a tool handler so every call is recorded on the
// server's Prometheus metrics, regardless of which tool or repository it
// targets.
func instrumentTool[In, Out any](
	s *Server,
	name string,
	h func(context.Context, *mcp.CallToolRequest, In) (*mcp.CallToolResult, Out, error),
) func(context.Context, *mcp.CallToolRequest, In) (*mcp.CallToolResult, Out, error) {
	return func(ctx context.Context, req *mcp.CallToolRequest, input In) (*mcp.CallToolResult, Out, error) {
		start := time.Now()
		result, output, err := h(ctx, req, input)
		s.metrics.recordToolCall(name, start, err)
		return result, output, err
	}
}

// canonicalPath resolves path to an absolute, cleaned form and verifies it
// names an existing directory.
func canonicalPath(path string) (string, error) {
	if strings.TrimSpace(path) == "" {
		return "", codeindexerrors.Validation("path is required", nil)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", codeindexerrors.Validation(fmt.Sprintf("cannot resolve path %q", path), err)
	}
	abs = filepath.Clean(abs)
	info, err := os.Stat(abs)
	if err != nil {
		return "", codeindexerrors.NotFound(fmt.Sprintf("path %q does not exist", abs), err)
	}
	if !info.IsDir() {
		return "", codeindexerrors.Validation(fmt.Sprintf("path %q is not a directory", abs), nil)
	}
	return abs, nil
}

// projectID derives the stable project identifier for an absolute path.
func projectIDFor(absPath string) string {
	sum := sha256.Sum256([]byte(absPath))
	return hex.EncodeToString(sum[:])
}

// existingDataDir reports whether a repository has ever been indexed, i.e.
// whether its data directory already holds a metadata store.
func existingDataDir(absPath string) (string, bool) {
	dataDir := filepath.Join(absPath, dataDirName)
	_, err := os.Stat(filepath.Join(dataDir, "metadata.db"))
	return dataDir, err == nil
}

// openRepo returns the repoHandle for absPath, opening (and if needed,
// creating) its data directory. Safe for concurrent callers; each absPath
// is only opened once per server lifetime.
func (s *Server) openRepo(ctx context.Context, absPath string) (*repoHandle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if h, ok := s.repos[absPath]; ok {
		return h, nil
	}

	dataDir := filepath.Join(absPath, dataDirName)
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, codeindexerrors.IoError(fmt.Sprintf("create data directory %s", dataDir), err)
	}

	metadata, err := store.NewSQLiteStore(filepath.Join(dataDir, "metadata.db"))
	if err != nil {
		return nil, codeindexerrors.IoError("open metadata store", err)
	}

	bm25, err := store.NewBM25IndexWithBackend(filepath.Join(dataDir, "bm25"), store.DefaultBM25Config(), s.config.Search.BM25Backend)
	if err != nil {
		_ = metadata.Close()
		return nil, codeindexerrors.VectorStoreError("open BM25 index", err)
	}

	vectorCfg := store.DefaultVectorStoreConfig(s.embedder.Dimensions())
	vector, err := store.NewHNSWStore(vectorCfg)
	if err != nil {
		_ = metadata.Close()
		_ = bm25.Close()
		return nil, codeindexerrors.VectorStoreError("open vector store", err)
	}
	if vecPath := filepath.Join(dataDir, "vectors.hnsw"); fileExists(vecPath) {
		if err := vector.Load(vecPath); err != nil {
			s.logger.Warn("failed to load existing vector store", slog.String("error", err.Error()))
		}
	}

	var queryMetrics *telemetry.QueryMetrics
	if err := telemetry.InitTelemetrySchema(metadata.DB()); err != nil {
		s.logger.Warn("failed to init telemetry schema", slog.String("repo", absPath), slog.String("error", err.Error()))
	} else if metricsStore, err := telemetry.NewSQLiteMetricsStore(metadata.DB()); err != nil {
		s.logger.Warn("failed to open telemetry store", slog.String("repo", absPath), slog.String("error", err.Error()))
	} else {
		queryMetrics = telemetry.NewQueryMetrics(metricsStore)
	}

	engineCfg := search.DefaultConfig()
	engineCfg.DefaultWeights = search.Weights{BM25: s.config.Search.BM25Weight, Semantic: s.config.Search.SemanticWeight}
	if s.config.Search.MaxResults > 0 {
		engineCfg.DefaultLimit = s.config.Search.MaxResults
	}
	engineOpts := []search.EngineOption{}
	if queryMetrics != nil {
		engineOpts = append(engineOpts, search.WithMetrics(queryMetrics))
	}
	engine, err := search.NewEngine(bm25, vector, s.embedder, metadata, engineCfg, engineOpts...)
	if err != nil {
		_ = metadata.Close()
		_ = bm25.Close()
		_ = vector.Close()
		return nil, codeindexerrors.Internal("construct search engine", err)
	}

	fileScanner, err := scanner.New()
	if err != nil {
		_ = metadata.Close()
		_ = bm25.Close()
		_ = vector.Close()
		return nil, codeindexerrors.Internal("construct file scanner", err)
	}

	id := projectIDFor(absPath)
	projectType := string(config.ProjectTypeUnknown)
	if err := metadata.SaveProject(ctx, &store.Project{
		ID:          id,
		Name:        filepath.Base(absPath),
		RootPath:    absPath,
		ProjectType: projectType,
		Version:     version.Version,
	}); err != nil {
		s.logger.Warn("failed to register project row", slog.String("error", err.Error()))
	}

	h := &repoHandle{
		absPath:   absPath,
		projectID: id,
		dataDir:   dataDir,
		metadata:  metadata,
		bm25:      bm25,
		vector:    vector,
		engine:    engine,
		scanner:   fileScanner,
		metrics:   queryMetrics,
	}
	s.repos[absPath] = h
	s.metrics.setReposOpen(len(s.repos))

	if s.config.Sync.Enabled {
		coord := s.newCoordinator(h, nil, nil, "")
		h.sync = index.NewSyncManager(coord, s.config.Sync.Interval)
		go func() {
			if err := h.sync.Start(s.bgCtx); err != nil && err != context.Canceled {
				s.logger.Debug("background sync stopped", slog.String("repo", absPath), slog.String("error", err.Error()))
			}
		}()
	}

	return h, nil
}

// closeRepo releases a repository's open handles and forgets it, so a
// subsequent call reopens from disk.
func (s *Server) closeRepo(absPath string) {
	s.mu.Lock()
	h, ok := s.repos[absPath]
	if ok {
		delete(s.repos, absPath)
	}
	reposOpen := len(s.repos)
	s.mu.Unlock()

	if !ok {
		return
	}
	s.metrics.setReposOpen(reposOpen)
	if h.sync != nil {
		h.sync.Stop()
	}
	if h.metrics != nil {
		_ = h.metrics.Close()
	}
	_ = h.metadata.Close()
	_ = h.bm25.Close()
	_ = h.vector.Close()
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// newCoordinator builds an index.Coordinator for h, overridden with the
// per-call splitter/customExtensions/ignorePatterns from an index_codebase
// request. Cheap to construct; holds no resources of its own.
func (s *Server) newCoordinator(h *repoHandle, customExtensions, ignorePatterns []string, splitter string) *index.Coordinator {
	codeChunker := chunkerForSplitter(splitter)
	return index.NewCoordinator(index.CoordinatorConfig{
		ProjectID:        h.projectID,
		RootPath:         h.absPath,
		DataDir:          h.dataDir,
		Engine:           h.engine,
		Metadata:         h.metadata,
		CodeChunker:      codeChunker,
		MDChunker:        chunk.NewMarkdownChunker(),
		Scanner:          h.scanner,
		ExcludePatterns:  append(append([]string{}, s.config.Paths.Exclude...), ignorePatterns...),
		CustomExtensions: customExtensions,
	})
}

func chunkerForSplitter(splitter string) chunk.Chunker {
	if splitter == "lines" {
		return chunk.NewLineChunker()
	}
	return chunk.NewCodeChunker()
}

// indexCodebaseHandler implements the index_codebase tool.
func (s *Server) indexCodebaseHandler(ctx context.Context, _ *mcp.CallToolRequest, input IndexCodebaseInput) (
	*mcp.CallToolResult, IndexCodebaseOutput, error,
) {
	absPath, err := canonicalPath(input.Path)
	if err != nil {
		return nil, IndexCodebaseOutput{}, MapError(err)
	}

	if input.Force {
		s.closeRepo(absPath)
		if dataDir, existed := existingDataDir(absPath); existed {
			if err := wipeDataDir(dataDir); err != nil {
				return nil, IndexCodebaseOutput{}, MapError(codeindexerrors.IoError("clear existing index", err))
			}
		}
	}

	h, err := s.openRepo(ctx, absPath)
	if err != nil {
		return nil, IndexCodebaseOutput{}, MapError(err)
	}

	coord := s.newCoordinator(h, input.CustomExtensions, input.IgnorePatterns, input.Splitter)

	progress := async.NewIndexProgress()
	h.progress = progress

	mode := "full"
	if input.Force {
		mode = "force"
	}

	start := time.Now()
	runErr := coord.RunFullIndex(ctx, progress)
	elapsed := time.Since(start)
	h.progress = nil

	if runErr != nil {
		s.metrics.recordIndexRun(mode, elapsed, 0, 0)
		return nil, IndexCodebaseOutput{Status: "failed", ElapsedMs: elapsed.Milliseconds()}, MapError(runErr)
	}

	if err := h.vector.Save(filepath.Join(h.dataDir, "vectors.hnsw")); err != nil {
		s.logger.Warn("failed to persist vector store", slog.String("error", err.Error()))
	}

	project, err := h.metadata.GetProject(ctx, h.projectID)
	if err != nil || project == nil {
		s.metrics.recordIndexRun(mode, elapsed, 0, 0)
		return nil, IndexCodebaseOutput{Status: "indexed", ElapsedMs: elapsed.Milliseconds()}, nil
	}

	s.metrics.recordIndexRun(mode, elapsed, project.FileCount, project.ChunkCount)

	return nil, IndexCodebaseOutput{
		Status:    "indexed",
		Files:     project.FileCount,
		Chunks:    project.ChunkCount,
		ElapsedMs: elapsed.Milliseconds(),
	}, nil
}

// searchCodeHandler implements the search_code tool.
func (s *Server) searchCodeHandler(ctx context.Context, _ *mcp.CallToolRequest, input SearchCodeInput) (
	*mcp.CallToolResult, SearchCodeOutput, error,
) {
	if strings.TrimSpace(input.Query) == "" {
		return nil, SearchCodeOutput{}, MapError(codeindexerrors.Validation("query is required", nil))
	}

	absPath, err := canonicalPath(input.Path)
	if err != nil {
		return nil, SearchCodeOutput{}, MapError(err)
	}

	if _, indexed := existingDataDir(absPath); !indexed {
		return nil, SearchCodeOutput{}, MapError(
			codeindexerrors.NotFound(fmt.Sprintf("repository %q has not been indexed", absPath), nil).
				WithSuggestion("call index_codebase first"))
	}

	h, err := s.openRepo(ctx, absPath)
	if err != nil {
		return nil, SearchCodeOutput{}, MapError(err)
	}

	limit := clampLimit(input.Limit, 10, 1, 50)
	fetchLimit := limit
	if len(input.ExtensionFilter) > 0 {
		fetchLimit = clampLimit(limit*4, 40, 1, 100)
	}

	searchStart := time.Now()
	results, err := h.engine.Search(ctx, input.Query, search.SearchOptions{Limit: fetchLimit})
	if err != nil {
		return nil, SearchCodeOutput{}, MapError(err)
	}
	s.metrics.recordSearch(time.Since(searchStart), len(results))

	extSet := make(map[string]bool, len(input.ExtensionFilter))
	for _, ext := range input.ExtensionFilter {
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		extSet[strings.ToLower(ext)] = true
	}

	output := SearchCodeOutput{Results: make([]SearchCodeResult, 0, limit)}
	for _, r := range results {
		if r == nil || r.Chunk == nil {
			continue
		}
		if len(extSet) > 0 && !extSet[strings.ToLower(filepath.Ext(r.Chunk.FilePath))] {
			continue
		}
		output.Results = append(output.Results, SearchCodeResult{
			Path:       r.Chunk.FilePath,
			StartLine:  r.Chunk.StartLine,
			EndLine:    r.Chunk.EndLine,
			Score:      r.Score,
			Excerpt:    r.Chunk.Content,
			Provenance: generateMatchReason(r),
		})
		if len(output.Results) >= limit {
			break
		}
	}

	return nil, output, nil
}

// getIndexingStatusHandler implements the get_indexing_status tool.
func (s *Server) getIndexingStatusHandler(ctx context.Context, _ *mcp.CallToolRequest, input GetIndexingStatusInput) (
	*mcp.CallToolResult, GetIndexingStatusOutput, error,
) {
	absPath, err := canonicalPath(input.Path)
	if err != nil {
		return nil, GetIndexingStatusOutput{}, MapError(err)
	}

	_, indexed := existingDataDir(absPath)
	if !indexed {
		return nil, GetIndexingStatusOutput{Status: "unindexed"}, nil
	}

	s.mu.Lock()
	h, open := s.repos[absPath]
	s.mu.Unlock()

	if open && h.progress != nil && h.progress.IsIndexing() {
		snap := h.progress.Snapshot()
		return nil, GetIndexingStatusOutput{
			Status: "indexing",
			Progress: &IndexingProgress{
				Stage:          snap.Stage,
				FilesTotal:     snap.FilesTotal,
				FilesProcessed: snap.FilesProcessed,
				ChunksTotal:    snap.ChunksTotal,
				ChunksIndexed:  snap.ChunksIndexed,
				ProgressPct:    snap.ProgressPct,
			},
		}, nil
	}

	h, err = s.openRepo(ctx, absPath)
	if err != nil {
		return nil, GetIndexingStatusOutput{}, MapError(err)
	}

	coord := s.newCoordinator(h, nil, nil, "")
	full, err := coord.GetFullIndexStatus(ctx)
	if err != nil {
		return nil, GetIndexingStatusOutput{}, MapError(codeindexerrors.IoError("read indexing status", err))
	}

	status := full.Status
	if status == "" {
		status = "unindexed"
	}

	output := GetIndexingStatusOutput{Status: status}

	project, err := h.metadata.GetProject(ctx, h.projectID)
	if err == nil && project != nil {
		output.Counts = &IndexCountsOutput{Files: project.FileCount, Chunks: project.ChunkCount}
		if !project.IndexedAt.IsZero() {
			output.LastIndexed = project.IndexedAt.Format(time.RFC3339)
		}
	}

	return nil, output, nil
}

// clearIndexHandler implements the clear_index tool.
func (s *Server) clearIndexHandler(ctx context.Context, _ *mcp.CallToolRequest, input ClearIndexInput) (
	*mcp.CallToolResult, ClearIndexOutput, error,
) {
	absPath, err := canonicalPath(input.Path)
	if err != nil {
		return nil, ClearIndexOutput{}, MapError(err)
	}

	dataDir, indexed := existingDataDir(absPath)
	s.closeRepo(absPath)

	if !indexed {
		return nil, ClearIndexOutput{Cleared: false}, nil
	}

	if err := wipeDataDir(dataDir); err != nil {
		return nil, ClearIndexOutput{}, MapError(codeindexerrors.IoError("clear index", err))
	}

	return nil, ClearIndexOutput{Cleared: true}, nil
}

// wipeDataDir removes every persisted artifact for a repository's index:
// metadata store, BM25 index (both SQLite and legacy Bleve layouts), vector
// store, and the Merkle snapshot used for incremental reindexing.
func wipeDataDir(dataDir string) error {
	paths := []string{
		filepath.Join(dataDir, "metadata.db"),
		filepath.Join(dataDir, "metadata.db-shm"),
		filepath.Join(dataDir, "metadata.db-wal"),
		filepath.Join(dataDir, "bm25.bleve"),
		filepath.Join(dataDir, "bm25.db"),
		filepath.Join(dataDir, "bm25.db-wal"),
		filepath.Join(dataDir, "bm25.db-shm"),
		filepath.Join(dataDir, "vectors.hnsw"),
		filepath.Join(dataDir, ".index.lock"),
	}
	for _, p := range paths {
		if err := os.RemoveAll(p); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("remove %s: %w", filepath.Base(p), err)
		}
	}
	snapshotPath := filepath.Join(dataDir, "snapshot.json")
	if err := os.Remove(snapshotPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove snapshot: %w", err)
	}
	return nil
}

// Serve runs the MCP server over the given transport until ctx is canceled.
func (s *Server) Serve(ctx context.Context, transport string) error {
	s.logger.Info("starting MCP server", slog.String("transport", transport))

	switch transport {
	case "stdio":
		err := s.mcp.Run(ctx, &mcp.StdioTransport{})
		if err != nil && err != context.Canceled {
			s.logger.Error("MCP server stopped with error", slog.String("error", err.Error()))
		} else {
			s.logger.Info("MCP server stopped gracefully")
		}
		return err
	default:
		return fmt.Errorf("unknown transport: %s (supported: stdio)", transport)
	}
}

// WarmRepo opens path's repository handle (if it has already been indexed)
// without running a tool call, so its background sync loop starts even
// before the first explicit index_codebase/search_code request arrives.
// It is a no-op if path has never been indexed.
func (s *Server) WarmRepo(ctx context.Context, path string) error {
	absPath, err := canonicalPath(path)
	if err != nil {
		return err
	}
	if _, indexed := existingDataDir(absPath); !indexed {
		return nil
	}
	_, err = s.openRepo(ctx, absPath)
	return err
}

// SearchCode runs the same lookup as the search_code tool, for callers inside
// the process (e.g. dogfooding validation) that want results without going
// through the MCP transport.
func (s *Server) SearchCode(ctx context.Context, path, query string, limit int) (SearchCodeOutput, error) {
	_, out, err := s.searchCodeHandler(ctx, nil, SearchCodeInput{Path: path, Query: query, Limit: limit})
	if err != nil {
		return SearchCodeOutput{}, err
	}
	return out, nil
}

// IndexCodebase runs the same flow as the index_codebase tool, for in-process callers.
func (s *Server) IndexCodebase(ctx context.Context, path string, force bool) (IndexCodebaseOutput, error) {
	_, out, err := s.indexCodebaseHandler(ctx, nil, IndexCodebaseInput{Path: path, Force: force})
	if err != nil {
		return IndexCodebaseOutput{}, err
	}
	return out, nil
}

// Close releases every open repository handle and stops all background
// sync loops.
func (s *Server) Close() error {
	s.bgCancel()

	s.mu.Lock()
	paths := make([]string, 0, len(s.repos))
	for p := range s.repos {
		paths = append(paths, p)
	}
	s.mu.Unlock()

	for _, p := range paths {
		s.closeRepo(p)
	}
	return nil
}
