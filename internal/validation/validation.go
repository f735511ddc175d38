// Package validation provides test infrastructure for dogfooding validation.
// It runs the standard query set against a repository's real index using the
// MCP server's in-process search facade, avoiding the need to spin up a
// stdio transport just to exercise the search path.
//
// Validation queries are data-driven, loaded from testdata/queries.yaml, so
// they can be tuned without rebuilding the application.
package validation

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/aman-cerp/codeindex-mcp/internal/config"
	"github.com/aman-cerp/codeindex-mcp/internal/embed"
	"github.com/aman-cerp/codeindex-mcp/internal/mcp"
)

// QuerySpec defines a test query with expected results.
type QuerySpec struct {
	ID       string   `yaml:"id"`       // e.g., "T1-Q7"
	Name     string   `yaml:"name"`     // Human-readable name
	Query    string   `yaml:"query"`    // The search query
	Tool     string   `yaml:"tool"`     // retained for query-set provenance; all queries run through search_code
	Expected []string `yaml:"expected"` // File paths or prefixes that should appear in results
	Notes    string   `yaml:"notes"`    // Optional explanation for maintainers
	Tier     int      `yaml:"-"`        // Set programmatically based on section
}

// QueryConfig holds all validation queries loaded from YAML.
type QueryConfig struct {
	Tier1    []QuerySpec `yaml:"tier1"`
	Tier2    []QuerySpec `yaml:"tier2"`
	Negative []QuerySpec `yaml:"negative"`
}

var (
	queriesOnce sync.Once
	queriesData *QueryConfig
	queriesErr  error
)

// LoadQueries loads validation queries from the testdata/queries.yaml file.
// Results are cached after first load (singleton pattern).
func LoadQueries() (*QueryConfig, error) {
	queriesOnce.Do(func() {
		_, filename, _, ok := runtime.Caller(0)
		if !ok {
			queriesErr = fmt.Errorf("failed to get current file path")
			return
		}

		dir := filepath.Dir(filename)
		path := filepath.Join(dir, "testdata", "queries.yaml")

		data, err := os.ReadFile(path)
		if err != nil {
			queriesErr = fmt.Errorf("failed to read queries file %s: %w", path, err)
			return
		}

		var cfg QueryConfig
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			queriesErr = fmt.Errorf("failed to parse queries YAML: %w", err)
			return
		}

		for i := range cfg.Tier1 {
			cfg.Tier1[i].Tier = 1
		}
		for i := range cfg.Tier2 {
			cfg.Tier2[i].Tier = 2
		}
		for i := range cfg.Negative {
			cfg.Negative[i].Tier = 0
		}

		queriesData = &cfg
	})

	return queriesData, queriesErr
}

// ResetQueries clears the cached queries (for testing).
func ResetQueries() {
	queriesOnce = sync.Once{}
	queriesData = nil
	queriesErr = nil
}

// TestResult captures the outcome of a single query test.
type TestResult struct {
	Spec       QuerySpec     `json:"spec"`
	Passed     bool          `json:"passed"`
	Duration   time.Duration `json:"duration_ms"`
	TopResults []string      `json:"top_results"`
	MatchedAt  int           `json:"matched_at"` // Position of first match (-1 if not found)
	Error      string        `json:"error,omitempty"`
}

// ValidationResult captures results of a full validation run.
type ValidationResult struct {
	Timestamp   time.Time    `json:"timestamp"`
	Tier1       []TestResult `json:"tier1"`
	Tier2       []TestResult `json:"tier2"`
	Negative    []TestResult `json:"negative"`
	Tier1Pass   int          `json:"tier1_pass"`
	Tier1Total  int          `json:"tier1_total"`
	Tier2Pass   int          `json:"tier2_pass"`
	Tier2Total  int          `json:"tier2_total"`
	NegPass     int          `json:"negative_pass"`
	NegTotal    int          `json:"negative_total"`
	Embedder    string       `json:"embedder"`
	IndexChunks int          `json:"index_chunks"`
}

// Tier1Queries returns the standard Tier 1 validation queries.
func Tier1Queries() []QuerySpec {
	cfg, err := LoadQueries()
	if err != nil {
		return nil
	}
	return cfg.Tier1
}

// Tier2Queries returns the Tier 2 validation queries.
func Tier2Queries() []QuerySpec {
	cfg, err := LoadQueries()
	if err != nil {
		return nil
	}
	return cfg.Tier2
}

// NegativeQueries returns negative test cases that should not crash.
func NegativeQueries() []QuerySpec {
	cfg, err := LoadQueries()
	if err != nil {
		return nil
	}
	return cfg.Negative
}

// Validator runs validation queries against a repository's real index
// through the same path-keyed search path the MCP server exposes.
type Validator struct {
	server      *mcp.Server
	embedder    embed.Embedder
	projectRoot string
}

// ErrIndexLocked indicates another process has the index locked.
var ErrIndexLocked = fmt.Errorf("index is locked by another process (stop MCP serve or Claude Code first)")

// NewValidator creates a validator for the given project root. It assumes
// the repository has already been indexed (via index_codebase) at
// projectRoot/.codeindexmcp.
func NewValidator(ctx context.Context, projectRoot string) (*Validator, error) {
	dataDir := filepath.Join(projectRoot, ".codeindexmcp")
	metadataPath := filepath.Join(dataDir, "metadata.db")
	if _, err := os.Stat(metadataPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("no index found at %s - run index_codebase first", dataDir)
	}

	cfg, err := config.Load(projectRoot)
	if err != nil {
		cfg = config.NewConfig()
	}

	embed.SetMLXConfig(embed.MLXServerConfig{
		Endpoint: cfg.Embeddings.MLXEndpoint,
		Model:    cfg.Embeddings.MLXModel,
	})

	provider := embed.ParseProvider(cfg.Embeddings.Provider)
	embedder, err := embed.NewEmbedder(ctx, provider, cfg.Embeddings.Model)
	if err != nil {
		return nil, fmt.Errorf("failed to create embedder: %w", err)
	}

	server, err := mcp.NewServer(embedder, cfg)
	if err != nil {
		embedder.Close()
		return nil, fmt.Errorf("failed to create MCP server: %w", err)
	}

	return &Validator{
		server:      server,
		embedder:    embedder,
		projectRoot: projectRoot,
	}, nil
}

// Close releases resources.
func (v *Validator) Close() error {
	if v.server != nil {
		_ = v.server.Close()
	}
	if v.embedder != nil {
		v.embedder.Close()
	}
	return nil
}

// RunQuery executes a single query and returns the result.
func (v *Validator) RunQuery(ctx context.Context, spec QuerySpec) TestResult {
	start := time.Now()
	result := TestResult{
		Spec:      spec,
		MatchedAt: -1,
	}

	out, err := v.server.SearchCode(ctx, v.projectRoot, spec.Query, 10)
	result.Duration = time.Since(start)

	if err != nil {
		if spec.Tier == 0 {
			result.Passed = true
		} else {
			result.Error = err.Error()
		}
		return result
	}

	for _, r := range out.Results {
		result.TopResults = append(result.TopResults, r.Path)
	}

	if len(spec.Expected) == 0 {
		result.Passed = true
	} else {
		result.Passed, result.MatchedAt = checkExpected(result.TopResults, spec.Expected)
	}

	return result
}

// RunAll executes all validation queries and returns results.
func (v *Validator) RunAll(ctx context.Context) *ValidationResult {
	result := &ValidationResult{
		Timestamp: time.Now(),
		Embedder:  v.embedder.ModelName(),
	}

	for _, spec := range Tier1Queries() {
		tr := v.RunQuery(ctx, spec)
		result.Tier1 = append(result.Tier1, tr)
		result.Tier1Total++
		if tr.Passed {
			result.Tier1Pass++
		}
	}

	for _, spec := range Tier2Queries() {
		tr := v.RunQuery(ctx, spec)
		result.Tier2 = append(result.Tier2, tr)
		result.Tier2Total++
		if tr.Passed {
			result.Tier2Pass++
		}
	}

	for _, spec := range NegativeQueries() {
		tr := v.RunQuery(ctx, spec)
		result.Negative = append(result.Negative, tr)
		result.NegTotal++
		if tr.Passed {
			result.NegPass++
		}
	}

	return result
}

// checkExpected verifies if any expected file appears in results.
func checkExpected(results []string, expected []string) (bool, int) {
	for i, path := range results {
		for _, exp := range expected {
			if strings.HasPrefix(path, exp) || strings.Contains(path, exp) {
				return true, i
			}
		}
	}
	return false, -1
}

