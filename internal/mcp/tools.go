package mcp

// IndexCodebaseInput defines the input schema for the index_codebase tool.
// Path identifies which repository to index; every call is keyed by it so a
// single server instance can hold indexes for many repositories at once.
type IndexCodebaseInput struct {
	Path             string   `json:"path" jsonschema:"absolute path to the repository root"`
	Force            bool     `json:"force,omitempty" jsonschema:"discard any existing index and rebuild from scratch"`
	Splitter         string   `json:"splitter,omitempty" jsonschema:"chunking strategy: ast (syntax-aware, default) or lines (fixed-size line windows)"`
	CustomExtensions []string `json:"customExtensions,omitempty" jsonschema:"additional file extensions (e.g. .proto) to treat as indexable code"`
	IgnorePatterns   []string `json:"ignorePatterns,omitempty" jsonschema:"additional glob patterns to exclude from scanning"`
}

// IndexCodebaseOutput defines the output schema for the index_codebase tool.
type IndexCodebaseOutput struct {
	Status    string `json:"status" jsonschema:"indexed or failed"`
	Files     int    `json:"files" jsonschema:"number of files in the index after this run"`
	Chunks    int    `json:"chunks" jsonschema:"number of chunks in the index after this run"`
	ElapsedMs int64  `json:"elapsedMs" jsonschema:"wall-clock duration of the indexing run in milliseconds"`
}

// SearchCodeInput defines the input schema for the search_code tool.
type SearchCodeInput struct {
	Path            string   `json:"path" jsonschema:"absolute path to the repository to search"`
	Query           string   `json:"query" jsonschema:"the natural-language or code search query"`
	Limit           int      `json:"limit,omitempty" jsonschema:"maximum number of results, 1-50, default 10"`
	ExtensionFilter []string `json:"extensionFilter,omitempty" jsonschema:"restrict results to files with one of these extensions"`
}

// SearchCodeOutput defines the output schema for the search_code tool.
type SearchCodeOutput struct {
	Results []SearchCodeResult `json:"results"`
}

// SearchCodeResult is a single ranked code chunk returned by search_code.
type SearchCodeResult struct {
	Path       string  `json:"path" jsonschema:"file path relative to the repository root"`
	StartLine  int     `json:"startLine"`
	EndLine    int     `json:"endLine"`
	Score      float64 `json:"score" jsonschema:"blended BM25/semantic relevance score"`
	Excerpt    string  `json:"excerpt" jsonschema:"the matched chunk content"`
	Provenance string  `json:"provenance,omitempty" jsonschema:"human-readable explanation of why this chunk matched"`
}

// GetIndexingStatusInput defines the input schema for the get_indexing_status tool.
type GetIndexingStatusInput struct {
	Path string `json:"path" jsonschema:"absolute path to the repository"`
}

// GetIndexingStatusOutput defines the output schema for the get_indexing_status tool.
type GetIndexingStatusOutput struct {
	Status      string             `json:"status" jsonschema:"unindexed, indexing, indexed, or failed"`
	Progress    *IndexingProgress  `json:"progress,omitempty" jsonschema:"present while status is indexing"`
	LastIndexed string             `json:"lastIndexed,omitempty" jsonschema:"RFC3339 timestamp of the last completed run"`
	Counts      *IndexCountsOutput `json:"counts,omitempty"`
}

// IndexingProgress contains information about an in-progress indexing run.
type IndexingProgress struct {
	Stage          string  `json:"stage,omitempty"`
	FilesTotal     int     `json:"filesTotal"`
	FilesProcessed int     `json:"filesProcessed"`
	ChunksTotal    int     `json:"chunksTotal"`
	ChunksIndexed  int     `json:"chunksIndexed"`
	ProgressPct    float64 `json:"progressPct"`
}

// IndexCountsOutput reports the size of a completed index.
type IndexCountsOutput struct {
	Files  int `json:"files"`
	Chunks int `json:"chunks"`
}

// ClearIndexInput defines the input schema for the clear_index tool.
type ClearIndexInput struct {
	Path string `json:"path" jsonschema:"absolute path to the repository"`
}

// ClearIndexOutput defines the output schema for the clear_index tool.
type ClearIndexOutput struct {
	Cleared bool `json:"cleared"`
}
