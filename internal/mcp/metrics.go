package mcp

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	codeindexerrors "github.com/aman-cerp/codeindex-mcp/internal/errors"
)

// metricsCollector holds the Prometheus instrumentation for the MCP server.
// One collector is shared across every repository a Server serves; the repo
// itself is not a label, since cardinality would grow unbounded with the
// number of distinct absolute paths ever indexed.
type metricsCollector struct {
	toolCalls    *prometheus.CounterVec
	toolDuration *prometheus.HistogramVec
	toolErrors   *prometheus.CounterVec

	indexDuration  *prometheus.HistogramVec
	indexedFiles   prometheus.Counter
	indexedChunks  prometheus.Counter
	searchDuration prometheus.Histogram
	searchResults  prometheus.Histogram

	reposOpen           prometheus.Gauge
	providerUnavailable *prometheus.CounterVec
}

// newMetricsCollector creates and registers the MCP server's Prometheus
// metrics against reg. Passing prometheus.NewRegistry() in tests avoids
// colliding with the global DefaultRegisterer across test cases.
func newMetricsCollector(reg prometheus.Registerer) *metricsCollector {
	f := promauto.With(reg)

	return &metricsCollector{
		toolCalls: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "codeindexmcp",
			Name:      "tool_calls_total",
			Help:      "Total number of MCP tool calls by tool name and outcome.",
		}, []string{"tool", "outcome"}),
		toolDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "codeindexmcp",
			Name:      "tool_call_duration_seconds",
			Help:      "MCP tool call duration in seconds.",
			Buckets:   []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		}, []string{"tool"}),
		toolErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "codeindexmcp",
			Name:      "tool_errors_total",
			Help:      "Total number of MCP tool call errors by tool name and error category.",
		}, []string{"tool", "category"}),
		indexDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "codeindexmcp",
			Name:      "index_duration_seconds",
			Help:      "Duration of a full or incremental index run.",
			Buckets:   []float64{.5, 1, 5, 15, 30, 60, 180, 600},
		}, []string{"mode"}),
		indexedFiles: f.NewCounter(prometheus.CounterOpts{
			Namespace: "codeindexmcp",
			Name:      "indexed_files_total",
			Help:      "Total number of files indexed across all repositories.",
		}),
		indexedChunks: f.NewCounter(prometheus.CounterOpts{
			Namespace: "codeindexmcp",
			Name:      "indexed_chunks_total",
			Help:      "Total number of chunks indexed across all repositories.",
		}),
		searchDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: "codeindexmcp",
			Name:      "search_duration_seconds",
			Help:      "search_code query latency in seconds.",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		}),
		searchResults: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: "codeindexmcp",
			Name:      "search_results_count",
			Help:      "Number of results returned per search_code call.",
			Buckets:   []float64{0, 1, 5, 10, 20, 50, 100},
		}),
		reposOpen: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "codeindexmcp",
			Name:      "repos_open",
			Help:      "Number of repository handles currently open.",
		}),
		providerUnavailable: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "codeindexmcp",
			Name:      "provider_unavailable_total",
			Help:      "Total number of times an embedding provider was reported unavailable.",
		}, []string{"provider"}),
	}
}

// recordToolCall records the outcome and latency of one MCP tool call.
func (m *metricsCollector) recordToolCall(tool string, start time.Time, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
		m.toolErrors.WithLabelValues(tool, errorCategory(err)).Inc()
	}
	m.toolCalls.WithLabelValues(tool, outcome).Inc()
	m.toolDuration.WithLabelValues(tool).Observe(time.Since(start).Seconds())
}

// recordIndexRun records the duration of an index_codebase call.
func (m *metricsCollector) recordIndexRun(mode string, duration time.Duration, filesIndexed, chunksIndexed int) {
	if m == nil {
		return
	}
	m.indexDuration.WithLabelValues(mode).Observe(duration.Seconds())
	m.indexedFiles.Add(float64(filesIndexed))
	m.indexedChunks.Add(float64(chunksIndexed))
}

// recordSearch records the latency and result count of a search_code call.
func (m *metricsCollector) recordSearch(duration time.Duration, resultCount int) {
	if m == nil {
		return
	}
	m.searchDuration.Observe(duration.Seconds())
	m.searchResults.Observe(float64(resultCount))
}

// setReposOpen sets the gauge tracking currently open repository handles.
func (m *metricsCollector) setReposOpen(n int) {
	if m == nil {
		return
	}
	m.reposOpen.Set(float64(n))
}

// recordProviderUnavailable records that an embedding provider was reported
// unavailable, e.g. after a health check or a failed embed call.
func (m *metricsCollector) recordProviderUnavailable(provider string) {
	if m == nil {
		return
	}
	m.providerUnavailable.WithLabelValues(provider).Inc()
}

// errorCategory maps an error to a coarse label for the tool_errors_total
// counter, falling back to the IndexError taxonomy when available.
func errorCategory(err error) string {
	var ie *codeindexerrors.IndexError
	if errors.As(err, &ie) {
		return string(ie.Category)
	}
	return "unknown"
}

// MetricsServer serves the Prometheus exposition format for a Server's
// metrics, as a thin ambient admin surface separate from the MCP transport
// itself (stdio). It is opt-in: callers only start it when config.Metrics
// is enabled, since it binds a TCP port.
type MetricsServer struct {
	http *http.Server
}

// NewMetricsServer builds (but does not start) an HTTP server exposing reg's
// collected metrics at addr/path.
func NewMetricsServer(reg *prometheus.Registry, addr, path string) *MetricsServer {
	if path == "" {
		path = "/metrics"
	}
	mux := http.NewServeMux()
	mux.Handle(path, promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"healthy"}`))
	})

	return &MetricsServer{
		http: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
	}
}

// Serve blocks, listening until ctx is canceled or the server errors.
func (m *MetricsServer) Serve(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		if err := m.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("metrics server: %w", err)
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = m.http.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}
