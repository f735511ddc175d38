package index

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSyncManager_RunsTickOnInterval(t *testing.T) {
	coord, tempDir, cleanup := setupTestCoordinator(t)
	defer cleanup()
	require.NoError(t, os.WriteFile(filepath.Join(tempDir, "a.go"), []byte("package main\n"), 0o644))

	mgr := NewSyncManager(coord, 20*time.Millisecond)
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	err := mgr.Start(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	status, statusErr := coord.GetFullIndexStatus(context.Background())
	require.NoError(t, statusErr)
	assert.Equal(t, IndexStatusIndexed, status.Status)
}

func TestSyncManager_Stop_EndsLoop(t *testing.T) {
	coord, _, cleanup := setupTestCoordinator(t)
	defer cleanup()

	mgr := NewSyncManager(coord, 10*time.Millisecond)
	done := make(chan error, 1)
	go func() {
		done <- mgr.Start(context.Background())
	}()

	time.Sleep(30 * time.Millisecond)
	mgr.Stop()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("sync manager did not stop in time")
	}
}

func TestSyncManager_Start_TwiceErrors(t *testing.T) {
	coord, _, cleanup := setupTestCoordinator(t)
	defer cleanup()

	mgr := NewSyncManager(coord, time.Minute)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() { _ = mgr.Start(ctx) }()
	time.Sleep(20 * time.Millisecond)

	err := mgr.Start(context.Background())
	assert.Error(t, err)
}

func TestNewSyncManager_NonPositiveIntervalUsesDefault(t *testing.T) {
	coord, _, cleanup := setupTestCoordinator(t)
	defer cleanup()

	mgr := NewSyncManager(coord, 0)
	assert.Equal(t, DefaultSyncInterval, mgr.interval)
}
