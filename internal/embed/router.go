package embed

import (
	"context"
	"sync"
	"time"

	codeindexerrors "github.com/aman-cerp/codeindex-mcp/internal/errors"
)

// emaAlpha weights the most recent latency sample against the running
// average. 0.3 responds to regime changes within a handful of calls
// without being noisy on a single slow request.
const emaAlpha = 0.3

// RoutedProvider is a named Embedder entry in a ProviderRouter's ordered
// preference list, with an estimated per-call cost used as a tie-break.
type RoutedProvider struct {
	Name         string
	Embedder     Embedder
	EstimatedCost float64 // relative cost per embedding call; lower is cheaper

	breaker *codeindexerrors.CircuitBreaker

	mu         sync.Mutex
	emaLatency time.Duration
}

// Router selects among a configured, ordered set of embedding providers
// using the eligibility and tie-break rules: a provider is eligible when
// its circuit is closed or half-open, its dimension matches the bound
// collection dimension (when one is bound), and its last health check
// passed within the breaker's health TTL. Eligible providers are ranked by
// ascending EMA latency, then by ascending estimated cost.
type Router struct {
	mu        sync.RWMutex
	providers []*RoutedProvider
	boundDims int // 0 means unbound, any dimension is acceptable
}

// NewRouter creates a router over the given ordered preference list. Each
// provider gets its own circuit breaker with the router's defaults; pass
// distinct RoutedProvider.Name values to distinguish them in logs/metrics.
func NewRouter(providers ...*RoutedProvider) *Router {
	for _, p := range providers {
		if p.breaker == nil {
			p.breaker = codeindexerrors.NewCircuitBreaker(p.Name)
		}
	}
	return &Router{providers: providers}
}

// BindDimensions fixes the dimension a collection was created with; only
// providers whose declared Dimensions() match are subsequently eligible.
// Pass 0 to unbind (e.g. before a repository has ever been indexed).
func (r *Router) BindDimensions(dims int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.boundDims = dims
}

func (r *Router) eligible(p *RoutedProvider) bool {
	state := p.breaker.State()
	if state == codeindexerrors.StateOpen {
		return false
	}
	r.mu.RLock()
	bound := r.boundDims
	r.mu.RUnlock()
	if bound != 0 && p.Embedder.Dimensions() != bound {
		return false
	}
	return p.breaker.HealthEligible()
}

// candidates returns the eligible providers ordered by ascending EMA
// latency, then ascending estimated cost.
func (r *Router) candidates() []*RoutedProvider {
	r.mu.RLock()
	all := make([]*RoutedProvider, len(r.providers))
	copy(all, r.providers)
	r.mu.RUnlock()

	var elig []*RoutedProvider
	for _, p := range all {
		if r.eligible(p) {
			elig = append(elig, p)
		}
	}

	for i := 1; i < len(elig); i++ {
		j := i
		for j > 0 && less(elig[j], elig[j-1]) {
			elig[j], elig[j-1] = elig[j-1], elig[j]
			j--
		}
	}
	return elig
}

func less(a, b *RoutedProvider) bool {
	a.mu.Lock()
	al := a.emaLatency
	a.mu.Unlock()
	b.mu.Lock()
	bl := b.emaLatency
	b.mu.Unlock()

	if al != bl {
		return al < bl
	}
	return a.EstimatedCost < b.EstimatedCost
}

// HealthCheck runs Available against every provider and records the result
// on its circuit breaker, refreshing the health-TTL window. Call this
// periodically (e.g. from the sync manager) so eligibility reflects
// current reachability rather than only failure-count history.
func (r *Router) HealthCheck(ctx context.Context) {
	r.mu.RLock()
	all := make([]*RoutedProvider, len(r.providers))
	copy(all, r.providers)
	r.mu.RUnlock()

	for _, p := range all {
		ok := p.Embedder.Available(ctx)
		p.breaker.RecordHealthCheck(ok)
	}
}

// EmbedBatch invokes the highest-ranked eligible provider's EmbedBatch,
// failing over to the next eligible provider on error until the
// preference list is exhausted (NoHealthyProvider) or one succeeds.
func (r *Router) EmbedBatch(ctx context.Context, texts []string) ([][]float32, string, error) {
	candidates := r.candidates()
	if len(candidates) == 0 {
		return nil, "", codeindexerrors.NoHealthyProvider("no embedding provider is eligible")
	}

	var lastErr error
	for _, p := range candidates {
		start := time.Now()
		vecs, err := p.Embedder.EmbedBatch(ctx, texts)
		elapsed := time.Since(start)

		if err == nil {
			p.breaker.RecordSuccess()
			p.recordLatency(elapsed)
			return vecs, p.Name, nil
		}

		lastErr = err
		p.breaker.RecordFailure()
	}

	return nil, "", codeindexerrors.NoHealthyProvider("all eligible providers failed: " + lastErr.Error())
}

func (p *RoutedProvider) recordLatency(d time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.emaLatency == 0 {
		p.emaLatency = d
		return
	}
	p.emaLatency = time.Duration(emaAlpha*float64(d) + (1-emaAlpha)*float64(p.emaLatency))
}

// Close closes every provider's underlying embedder.
func (r *Router) Close() error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var firstErr error
	for _, p := range r.providers {
		if err := p.Embedder.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
