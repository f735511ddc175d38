package index

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRepoLock_TryLock_SucceedsWhenFree(t *testing.T) {
	dir := t.TempDir()
	lock := AcquireRepoLock(dir)

	acquired, err := lock.TryLock()
	require.NoError(t, err)
	assert.True(t, acquired)

	require.NoError(t, lock.Unlock())
}

func TestRepoLock_TryLock_FailsWhenAlreadyHeld(t *testing.T) {
	dir := t.TempDir()
	lock := AcquireRepoLock(dir)

	acquired, err := lock.TryLock()
	require.NoError(t, err)
	require.True(t, acquired)
	defer lock.Unlock()

	acquired2, err := lock.TryLock()
	require.NoError(t, err)
	assert.False(t, acquired2)
}

func TestRepoLock_AcquireRepoLock_DedupesByCanonicalPath(t *testing.T) {
	dir := t.TempDir()

	a := AcquireRepoLock(dir)
	b := AcquireRepoLock(filepath.Clean(dir) + "/")

	assert.Same(t, a, b)
}

func TestRepoLock_UnlockThenRelock_Succeeds(t *testing.T) {
	dir := t.TempDir()
	lock := AcquireRepoLock(dir)

	acquired, err := lock.TryLock()
	require.NoError(t, err)
	require.True(t, acquired)
	require.NoError(t, lock.Unlock())

	acquired, err = lock.TryLock()
	require.NoError(t, err)
	assert.True(t, acquired)
	require.NoError(t, lock.Unlock())
}

func TestRepoLock_Unlock_WithoutLock_IsNoOp(t *testing.T) {
	dir := t.TempDir()
	lock := AcquireRepoLock(filepath.Join(dir, "nested"))
	assert.NoError(t, lock.Unlock())
}
