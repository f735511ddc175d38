// Package merkle builds per-repository content-hash snapshots and diffs
// them against the previous run to produce added/removed/modified file
// sets for incremental reindexing.
package merkle

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"time"

	codeindexerrors "github.com/aman-cerp/codeindex-mcp/internal/errors"
)

// Entry records one file's content hash alongside the (size, mtime) pair
// used as a cheap pre-filter before re-hashing unchanged files.
type Entry struct {
	Path    string    `json:"path"`
	Hash    string    `json:"hash"`
	Size    int64     `json:"size"`
	ModTime time.Time `json:"mtime"`
}

// Snapshot is the persisted per-repository content-hash tree: a sorted set
// of per-file entries and the root hash over them.
type Snapshot struct {
	Root    string           `json:"root"`
	Entries map[string]Entry `json:"entries"`
}

// New builds an empty snapshot.
func New() *Snapshot {
	return &Snapshot{Entries: make(map[string]Entry)}
}

// HashFile computes the content hash for a single file's bytes.
func HashFile(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Add records an entry and returns the snapshot for chaining. Call
// Finalize once all entries are added to compute the root hash.
func (s *Snapshot) Add(path, hash string, size int64, modTime time.Time) {
	s.Entries[path] = Entry{Path: path, Hash: hash, Size: size, ModTime: modTime}
}

// Finalize computes the Merkle root as the hash of the sorted,
// length-prefixed per-file entries, and sets s.Root.
func (s *Snapshot) Finalize() string {
	paths := make([]string, 0, len(s.Entries))
	for p := range s.Entries {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	h := sha256.New()
	for _, p := range paths {
		e := s.Entries[p]
		writeLengthPrefixed(h, []byte(e.Path))
		writeLengthPrefixed(h, []byte(e.Hash))
	}
	s.Root = hex.EncodeToString(h.Sum(nil))
	return s.Root
}

func writeLengthPrefixed(h interface{ Write([]byte) (int, error) }, b []byte) {
	var lenBuf [8]byte
	binary.BigEndian.PutUint64(lenBuf[:], uint64(len(b)))
	h.Write(lenBuf[:])
	h.Write(b)
}

// Diff describes the three disjoint sets produced by comparing two
// snapshots: files present only in the new snapshot, files present only
// in the old snapshot, and files present in both with a different hash.
type Diff struct {
	Added    []string
	Removed  []string
	Modified []string
}

// IsEmpty reports whether the diff contains no changes at all, used by
// the sync manager to skip a reconciliation pass with nothing to do.
func (d Diff) IsEmpty() bool {
	return len(d.Added) == 0 && len(d.Removed) == 0 && len(d.Modified) == 0
}

// DiffSnapshots computes added/removed/modified sets between a previous
// snapshot (nil if none exists, in which case every current file is
// "added") and the current snapshot.
func DiffSnapshots(prev, curr *Snapshot) Diff {
	var d Diff
	if prev == nil {
		for path := range curr.Entries {
			d.Added = append(d.Added, path)
		}
		sort.Strings(d.Added)
		return d
	}

	for path, entry := range curr.Entries {
		old, existed := prev.Entries[path]
		if !existed {
			d.Added = append(d.Added, path)
			continue
		}
		if old.Hash != entry.Hash {
			d.Modified = append(d.Modified, path)
		}
	}
	for path := range prev.Entries {
		if _, stillPresent := curr.Entries[path]; !stillPresent {
			d.Removed = append(d.Removed, path)
		}
	}

	sort.Strings(d.Added)
	sort.Strings(d.Removed)
	sort.Strings(d.Modified)
	return d
}

// UnchangedByFastFilter reports whether a file can skip re-hashing because
// its size and mtime both match the previous snapshot's entry. A mismatch
// here does not prove the content changed; it only forces a re-hash.
func UnchangedByFastFilter(prev *Snapshot, path string, size int64, modTime time.Time) bool {
	if prev == nil {
		return false
	}
	entry, ok := prev.Entries[path]
	if !ok {
		return false
	}
	return entry.Size == size && entry.ModTime.Equal(modTime)
}

// Load reads a snapshot from disk. A missing or corrupt file is treated as
// if no snapshot existed, per the "next index is a full rebuild" rule:
// the error is swallowed and (nil, nil) is returned rather than failing
// the caller's index run.
func Load(path string) (*Snapshot, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, nil
	}

	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, nil
	}
	return &snap, nil
}

// Save writes a snapshot atomically: write-to-temp, fsync, rename.
func Save(path string, snap *Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return codeindexerrors.Internal("merkle: failed to marshal snapshot", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return codeindexerrors.IoError("merkle: failed to create snapshot directory", err)
	}

	tmp, err := os.CreateTemp(dir, ".snapshot-*.tmp")
	if err != nil {
		return codeindexerrors.IoError("merkle: failed to create temp snapshot file", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return codeindexerrors.IoError("merkle: failed to write temp snapshot file", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return codeindexerrors.IoError("merkle: failed to fsync temp snapshot file", err)
	}
	if err := tmp.Close(); err != nil {
		return codeindexerrors.IoError("merkle: failed to close temp snapshot file", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return codeindexerrors.IoError("merkle: failed to rename snapshot into place", err)
	}
	return nil
}
