package index

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	codeindexerrors "github.com/aman-cerp/codeindex-mcp/internal/errors"
)

// DefaultSyncInterval is how often the sync manager re-checks the
// repository for drift when no explicit interval is configured.
const DefaultSyncInterval = 5 * time.Minute

// SyncManager periodically reconciles the coordinator's repository against
// the filesystem, generalizing the teacher's event-driven watcher into a
// time.Ticker-driven background poll (SPEC_FULL §4.10): every tick it runs
// a full (Merkle-diffed) index pass, skips entirely if the repository is
// already being indexed elsewhere, and logs-and-continues on failure
// rather than tearing down the loop.
type SyncManager struct {
	coordinator *Coordinator
	interval    time.Duration

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// NewSyncManager creates a sync manager for coordinator. A zero or negative
// interval falls back to DefaultSyncInterval.
func NewSyncManager(coordinator *Coordinator, interval time.Duration) *SyncManager {
	if interval <= 0 {
		interval = DefaultSyncInterval
	}
	return &SyncManager{
		coordinator: coordinator,
		interval:    interval,
	}
}

// Start runs the sync loop until ctx is cancelled or Stop is called. It is
// an error to call Start while already running.
func (m *SyncManager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return errors.New("sync manager already running")
	}
	m.running = true
	m.stopCh = make(chan struct{})
	m.doneCh = make(chan struct{})
	m.mu.Unlock()

	defer close(m.doneCh)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.setStopped()
			return ctx.Err()
		case <-m.stopCh:
			m.setStopped()
			return nil
		case <-ticker.C:
			m.tick(ctx)
		}
	}
}

// Stop signals the sync loop to exit and waits for it to finish.
func (m *SyncManager) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	stopCh := m.stopCh
	doneCh := m.doneCh
	m.mu.Unlock()

	close(stopCh)
	<-doneCh
}

func (m *SyncManager) setStopped() {
	m.mu.Lock()
	m.running = false
	m.mu.Unlock()
}

// tick runs a single reconciliation pass, swallowing non-fatal errors so a
// single bad tick never stops the loop.
func (m *SyncManager) tick(ctx context.Context) {
	err := m.coordinator.RunFullIndex(ctx, nil)
	if err == nil {
		return
	}

	var idxErr *codeindexerrors.IndexError
	if errors.As(err, &idxErr) && idxErr.Category == codeindexerrors.CategoryAlreadyIndexing {
		slog.Debug("sync tick skipped, repository already indexing",
			slog.String("project", m.coordinator.config.ProjectID))
		return
	}

	slog.Warn("sync tick failed",
		slog.String("project", m.coordinator.config.ProjectID),
		slog.String("error", err.Error()))
}
