package index

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/aman-cerp/codeindex-mcp/internal/async"
	codeindexerrors "github.com/aman-cerp/codeindex-mcp/internal/errors"
	"github.com/aman-cerp/codeindex-mcp/internal/merkle"
)

// State keys for the persisted full-index status, read by the
// get_indexing_status operation across server restarts. Distinct from the
// StateKeyCheckpoint* keys above, which track progress within a single
// embedding resume rather than the snapshot-level indexed/failed outcome.
const (
	stateKeyIndexStatus        = "full_index_status"
	stateKeyIndexFailureReason = "full_index_failure_reason"
)

const (
	// IndexStatusIndexing means a full index run is currently in progress.
	IndexStatusIndexing = "indexing"
	// IndexStatusIndexed means the last full index run completed successfully.
	IndexStatusIndexed = "indexed"
	// IndexStatusFailed means the last full index run ended in a fatal error.
	IndexStatusFailed = "failed"
)

func (c *Coordinator) snapshotPath() string {
	return filepath.Join(c.config.DataDir, "snapshot.json")
}

// RunFullIndex performs a full, incremental (Merkle-diffed) index of the
// repository, following the coordinator's full-index protocol: acquire the
// per-repository lock, mark the snapshot status, diff the current file
// tree against the previous snapshot, apply removed/modified/added
// changes, persist the new snapshot, and mark the outcome. It returns
// errors.AlreadyIndexing if another run already holds the repository lock.
func (c *Coordinator) RunFullIndex(ctx context.Context, progress *async.IndexProgress) error {
	lock := AcquireRepoLock(c.config.DataDir)
	acquired, err := lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire repo lock: %w", err)
	}
	if !acquired {
		return codeindexerrors.AlreadyIndexing(fmt.Sprintf("project %s is already being indexed", c.config.ProjectID))
	}
	defer lock.Unlock()

	if err := c.config.Metadata.SetState(ctx, stateKeyIndexStatus, IndexStatusIndexing); err != nil {
		return fmt.Errorf("mark indexing: %w", err)
	}

	if err := c.runFullIndexLocked(ctx, progress); err != nil {
		if setErr := c.config.Metadata.SetState(ctx, stateKeyIndexStatus, IndexStatusFailed); setErr != nil {
			slog.Warn("failed to persist failed index status", slog.String("error", setErr.Error()))
		}
		if setErr := c.config.Metadata.SetState(ctx, stateKeyIndexFailureReason, err.Error()); setErr != nil {
			slog.Warn("failed to persist index failure reason", slog.String("error", setErr.Error()))
		}
		if progress != nil {
			progress.SetError(err.Error())
		}
		return err
	}

	if err := c.config.Metadata.SetState(ctx, stateKeyIndexStatus, IndexStatusIndexed); err != nil {
		return fmt.Errorf("mark indexed: %w", err)
	}
	if progress != nil {
		progress.SetReady()
	}
	return nil
}

func (c *Coordinator) runFullIndexLocked(ctx context.Context, progress *async.IndexProgress) error {
	prevSnap, err := merkle.Load(c.snapshotPath())
	if err != nil {
		return fmt.Errorf("load previous snapshot: %w", err)
	}

	if progress != nil {
		progress.SetStage(async.StageScanning, 0)
	}
	current, err := c.scanCurrentFiles(ctx)
	if err != nil {
		return fmt.Errorf("walk tree: %w", err)
	}

	curr := merkle.New()
	for path, info := range current {
		if prevSnap != nil && merkle.UnchangedByFastFilter(prevSnap, path, info.Size, info.ModTime) {
			curr.Add(path, prevSnap.Entries[path].Hash, info.Size, info.ModTime)
			continue
		}
		content, err := os.ReadFile(info.AbsPath)
		if err != nil {
			slog.Warn("skipping unreadable file during full index",
				slog.String("path", path), slog.String("error", err.Error()))
			continue
		}
		curr.Add(path, merkle.HashFile(content), info.Size, info.ModTime)
	}
	curr.Finalize()

	diff := merkle.DiffSnapshots(prevSnap, curr)
	if progress != nil {
		progress.SetStage(async.StageIndexing, len(diff.Added)+len(diff.Removed)+len(diff.Modified))
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	for _, path := range diff.Removed {
		if err := c.removeFile(ctx, path); err != nil {
			slog.Warn("failed to remove deleted file during full index",
				slog.String("path", path), slog.String("error", err.Error()))
		}
	}

	processed := 0
	for _, path := range append(append([]string{}, diff.Modified...), diff.Added...) {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if err := c.indexFile(ctx, path); err != nil {
			return fmt.Errorf("index %s: %w", path, err)
		}
		processed++
		if progress != nil {
			progress.UpdateFiles(processed)
		}
	}

	if err := merkle.Save(c.snapshotPath(), curr); err != nil {
		return fmt.Errorf("persist snapshot: %w", err)
	}

	if err := c.config.Metadata.RefreshProjectStats(ctx, c.config.ProjectID); err != nil {
		slog.Warn("failed to refresh project stats after full index", slog.String("error", err.Error()))
	}

	slog.Info("full index completed",
		slog.Int("added", len(diff.Added)),
		slog.Int("removed", len(diff.Removed)),
		slog.Int("modified", len(diff.Modified)))
	return nil
}

// FullIndexStatus reports the persisted outcome of the last full index run,
// surfaced by the get_indexing_status operation.
type FullIndexStatus struct {
	Status        string
	FailureReason string
}

// GetFullIndexStatus reads the persisted full-index status. It returns a
// zero-value status (empty Status) if no full index has ever run.
func (c *Coordinator) GetFullIndexStatus(ctx context.Context) (FullIndexStatus, error) {
	status, err := c.config.Metadata.GetState(ctx, stateKeyIndexStatus)
	if err != nil {
		return FullIndexStatus{}, fmt.Errorf("read index status: %w", err)
	}
	reason, err := c.config.Metadata.GetState(ctx, stateKeyIndexFailureReason)
	if err != nil {
		return FullIndexStatus{}, fmt.Errorf("read index failure reason: %w", err)
	}
	return FullIndexStatus{Status: status, FailureReason: reason}, nil
}
