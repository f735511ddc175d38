package store

import (
	"context"
	"database/sql"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver (no CGO)
)

// StoreConfig tunes the SQLite connection underlying SQLiteStore.
type StoreConfig struct {
	// CacheSizeMB is the SQLite page cache size in megabytes. Zero means
	// the default (64MB) is used.
	CacheSizeMB int
}

// DefaultStoreConfig returns the default metadata store configuration.
func DefaultStoreConfig() StoreConfig {
	return StoreConfig{CacheSizeMB: 64}
}

// SQLiteStore implements MetadataStore on top of a single SQLite database,
// following the same pure-Go-driver, WAL-mode conventions as SQLiteBM25Index.
type SQLiteStore struct {
	mu     sync.RWMutex
	db     *sql.DB
	path   string
	closed bool
}

var _ MetadataStore = (*SQLiteStore)(nil)

// NewSQLiteStore opens (or creates) the metadata database at path using the
// default store configuration. If path is empty, an in-memory database is
// used.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	return NewSQLiteStoreWithConfig(path, DefaultStoreConfig())
}

// NewSQLiteStoreWithConfig opens the metadata database at path with the
// given configuration. A zero CacheSizeMB falls back to the default.
func NewSQLiteStoreWithConfig(path string, cfg StoreConfig) (*SQLiteStore, error) {
	cacheMB := cfg.CacheSizeMB
	if cacheMB <= 0 {
		cacheMB = DefaultStoreConfig().CacheSizeMB
	}

	var dsn string
	if path == "" {
		dsn = ":memory:"
	} else {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create directory %s: %w", dir, err)
		}
		dsn = path
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// Single writer, matching the rest of the package's SQLite usage.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
		fmt.Sprintf("PRAGMA cache_size = -%d", cacheMB*1024),
		"PRAGMA foreign_keys = ON",
		"PRAGMA temp_store = MEMORY",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("set pragma %q: %w", pragma, err)
		}
	}

	s := &SQLiteStore{db: db, path: path}
	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return s, nil
}

// DB exposes the underlying connection pool for diagnostics.
func (s *SQLiteStore) DB() *sql.DB {
	return s.db
}

func (s *SQLiteStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY
	);

	CREATE TABLE IF NOT EXISTS projects (
		id            TEXT PRIMARY KEY,
		name          TEXT NOT NULL,
		root_path     TEXT NOT NULL,
		project_type  TEXT,
		chunk_count   INTEGER NOT NULL DEFAULT 0,
		file_count    INTEGER NOT NULL DEFAULT 0,
		indexed_at    INTEGER,
		version       TEXT
	);

	CREATE TABLE IF NOT EXISTS files (
		id            TEXT PRIMARY KEY,
		project_id    TEXT NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
		path          TEXT NOT NULL,
		size          INTEGER NOT NULL DEFAULT 0,
		mod_time      INTEGER,
		content_hash  TEXT,
		language      TEXT,
		content_type  TEXT,
		indexed_at    INTEGER,
		UNIQUE(project_id, path)
	);
	CREATE INDEX IF NOT EXISTS idx_files_project ON files(project_id);
	CREATE INDEX IF NOT EXISTS idx_files_mod_time ON files(project_id, mod_time);

	CREATE TABLE IF NOT EXISTS chunks (
		id            TEXT PRIMARY KEY,
		file_id       TEXT NOT NULL REFERENCES files(id) ON DELETE CASCADE,
		file_path     TEXT NOT NULL,
		content       TEXT NOT NULL,
		raw_content   TEXT,
		context       TEXT,
		content_type  TEXT,
		language      TEXT,
		start_line    INTEGER NOT NULL,
		end_line      INTEGER NOT NULL,
		symbols_json  TEXT,
		metadata_json TEXT,
		embedding     BLOB,
		embedder      TEXT,
		created_at    INTEGER,
		updated_at    INTEGER
	);
	CREATE INDEX IF NOT EXISTS idx_chunks_file ON chunks(file_id);

	CREATE TABLE IF NOT EXISTS kv_state (
		key   TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS index_checkpoint (
		id             INTEGER PRIMARY KEY CHECK (id = 1),
		stage          TEXT NOT NULL,
		total          INTEGER NOT NULL,
		embedded_count INTEGER NOT NULL,
		embedder_model TEXT,
		updated_at     INTEGER
	);

	INSERT OR IGNORE INTO schema_version (version) VALUES (1);
	`
	_, err := s.db.Exec(schema)
	return err
}

// --- Project operations ---

func (s *SQLiteStore) SaveProject(ctx context.Context, project *Project) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO projects (id, name, root_path, project_type, chunk_count, file_count, indexed_at, version)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			root_path = excluded.root_path,
			project_type = excluded.project_type,
			chunk_count = excluded.chunk_count,
			file_count = excluded.file_count,
			indexed_at = excluded.indexed_at,
			version = excluded.version
	`, project.ID, project.Name, project.RootPath, project.ProjectType,
		project.ChunkCount, project.FileCount, timeToUnix(project.IndexedAt), project.Version)
	if err != nil {
		return fmt.Errorf("save project: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetProject(ctx context.Context, id string) (*Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, root_path, project_type, chunk_count, file_count, indexed_at, version
		FROM projects WHERE id = ?
	`, id)

	var p Project
	var indexedAt sql.NullInt64
	var projectType, version sql.NullString
	err := row.Scan(&p.ID, &p.Name, &p.RootPath, &projectType, &p.ChunkCount, &p.FileCount, &indexedAt, &version)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get project: %w", err)
	}
	p.ProjectType = projectType.String
	p.Version = version.String
	p.IndexedAt = unixToTime(indexedAt.Int64)
	return &p, nil
}

func (s *SQLiteStore) UpdateProjectStats(ctx context.Context, id string, fileCount, chunkCount int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		UPDATE projects SET file_count = ?, chunk_count = ?, indexed_at = ? WHERE id = ?
	`, fileCount, chunkCount, time.Now().Unix(), id)
	if err != nil {
		return fmt.Errorf("update project stats: %w", err)
	}
	return nil
}

func (s *SQLiteStore) RefreshProjectStats(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var fileCount, chunkCount int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM files WHERE project_id = ?`, id).Scan(&fileCount); err != nil {
		return fmt.Errorf("count files: %w", err)
	}
	if err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM chunks WHERE file_id IN (SELECT id FROM files WHERE project_id = ?)
	`, id).Scan(&chunkCount); err != nil {
		return fmt.Errorf("count chunks: %w", err)
	}

	_, err := s.db.ExecContext(ctx, `
		UPDATE projects SET file_count = ?, chunk_count = ?, indexed_at = ? WHERE id = ?
	`, fileCount, chunkCount, time.Now().Unix(), id)
	if err != nil {
		return fmt.Errorf("refresh project stats: %w", err)
	}
	return nil
}

// --- File operations ---

func (s *SQLiteStore) SaveFiles(ctx context.Context, files []*File) error {
	if len(files) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO files (id, project_id, path, size, mod_time, content_hash, language, content_type, indexed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			project_id = excluded.project_id,
			path = excluded.path,
			size = excluded.size,
			mod_time = excluded.mod_time,
			content_hash = excluded.content_hash,
			language = excluded.language,
			content_type = excluded.content_type,
			indexed_at = excluded.indexed_at
	`)
	if err != nil {
		return fmt.Errorf("prepare file upsert: %w", err)
	}
	defer stmt.Close()

	for _, f := range files {
		if _, err := stmt.ExecContext(ctx, f.ID, f.ProjectID, f.Path, f.Size,
			timeToUnix(f.ModTime), f.ContentHash, f.Language, f.ContentType, timeToUnix(f.IndexedAt)); err != nil {
			return fmt.Errorf("save file %s: %w", f.Path, err)
		}
	}

	return tx.Commit()
}

func (s *SQLiteStore) scanFile(row interface{ Scan(...any) error }) (*File, error) {
	var f File
	var modTime, indexedAt sql.NullInt64
	var contentHash, language, contentType sql.NullString
	err := row.Scan(&f.ID, &f.ProjectID, &f.Path, &f.Size, &modTime, &contentHash, &language, &contentType, &indexedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	f.ModTime = unixToTime(modTime.Int64)
	f.ContentHash = contentHash.String
	f.Language = language.String
	f.ContentType = contentType.String
	f.IndexedAt = unixToTime(indexedAt.Int64)
	return &f, nil
}

func (s *SQLiteStore) GetFileByPath(ctx context.Context, projectID, path string) (*File, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, `
		SELECT id, project_id, path, size, mod_time, content_hash, language, content_type, indexed_at
		FROM files WHERE project_id = ? AND path = ?
	`, projectID, path)

	f, err := s.scanFile(row)
	if err != nil {
		return nil, fmt.Errorf("get file by path: %w", err)
	}
	return f, nil
}

func (s *SQLiteStore) GetChangedFiles(ctx context.Context, projectID string, since time.Time) ([]*File, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, project_id, path, size, mod_time, content_hash, language, content_type, indexed_at
		FROM files WHERE project_id = ? AND mod_time > ?
		ORDER BY mod_time ASC
	`, projectID, since.Unix())
	if err != nil {
		return nil, fmt.Errorf("get changed files: %w", err)
	}
	defer rows.Close()

	var result []*File
	for rows.Next() {
		f, err := s.scanFile(rows)
		if err != nil {
			return nil, fmt.Errorf("scan changed file: %w", err)
		}
		result = append(result, f)
	}
	return result, rows.Err()
}

const listFilesCursorPrefix = "offset:"

func encodeFilesCursor(offset int) string {
	return base64.StdEncoding.EncodeToString([]byte(fmt.Sprintf("%s%d", listFilesCursorPrefix, offset)))
}

func decodeFilesCursor(cursor string) (int, error) {
	if cursor == "" {
		return 0, nil
	}
	raw, err := base64.StdEncoding.DecodeString(cursor)
	if err != nil {
		return 0, fmt.Errorf("invalid cursor: %w", err)
	}
	s := string(raw)
	if !strings.HasPrefix(s, listFilesCursorPrefix) {
		return 0, fmt.Errorf("invalid cursor: malformed prefix")
	}
	offset, err := strconv.Atoi(strings.TrimPrefix(s, listFilesCursorPrefix))
	if err != nil {
		return 0, fmt.Errorf("invalid cursor: %w", err)
	}
	if offset < 0 {
		return 0, fmt.Errorf("invalid cursor: offset must be non-negative")
	}
	return offset, nil
}

func (s *SQLiteStore) ListFiles(ctx context.Context, projectID string, cursor string, limit int) ([]*File, string, error) {
	offset, err := decodeFilesCursor(cursor)
	if err != nil {
		return nil, "", err
	}
	if limit <= 0 {
		limit = 100
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, project_id, path, size, mod_time, content_hash, language, content_type, indexed_at
		FROM files WHERE project_id = ?
		ORDER BY path ASC
		LIMIT ? OFFSET ?
	`, projectID, limit+1, offset)
	if err != nil {
		return nil, "", fmt.Errorf("list files: %w", err)
	}
	defer rows.Close()

	var result []*File
	for rows.Next() {
		f, err := s.scanFile(rows)
		if err != nil {
			return nil, "", fmt.Errorf("scan file: %w", err)
		}
		result = append(result, f)
	}
	if err := rows.Err(); err != nil {
		return nil, "", err
	}

	nextCursor := ""
	if len(result) > limit {
		result = result[:limit]
		nextCursor = encodeFilesCursor(offset + limit)
	}
	return result, nextCursor, nil
}

func (s *SQLiteStore) GetFilePathsByProject(ctx context.Context, projectID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `SELECT path FROM files WHERE project_id = ?`, projectID)
	if err != nil {
		return nil, fmt.Errorf("get file paths: %w", err)
	}
	defer rows.Close()

	paths := []string{}
	for rows.Next() {
		var path string
		if err := rows.Scan(&path); err != nil {
			return nil, err
		}
		paths = append(paths, path)
	}
	return paths, rows.Err()
}

func (s *SQLiteStore) GetFilesForReconciliation(ctx context.Context, projectID string) (map[string]*File, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, project_id, path, size, mod_time, content_hash, language, content_type, indexed_at
		FROM files WHERE project_id = ?
	`, projectID)
	if err != nil {
		return nil, fmt.Errorf("get files for reconciliation: %w", err)
	}
	defer rows.Close()

	result := make(map[string]*File)
	for rows.Next() {
		f, err := s.scanFile(rows)
		if err != nil {
			return nil, err
		}
		result[f.Path] = f
	}
	return result, rows.Err()
}

func (s *SQLiteStore) ListFilePathsUnder(ctx context.Context, projectID, dirPrefix string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	prefix := strings.TrimSuffix(dirPrefix, "/")
	paths := []string{}

	var rows *sql.Rows
	var err error
	if prefix == "" {
		rows, err = s.db.QueryContext(ctx, `SELECT path FROM files WHERE project_id = ?`, projectID)
	} else {
		rows, err = s.db.QueryContext(ctx, `
			SELECT path FROM files WHERE project_id = ? AND (path = ? OR path LIKE ?)
		`, projectID, prefix, prefix+"/%")
	}
	if err != nil {
		return nil, fmt.Errorf("list file paths under %s: %w", dirPrefix, err)
	}
	defer rows.Close()

	for rows.Next() {
		var path string
		if err := rows.Scan(&path); err != nil {
			return nil, err
		}
		paths = append(paths, path)
	}
	return paths, rows.Err()
}

func (s *SQLiteStore) DeleteFile(ctx context.Context, fileID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `DELETE FROM files WHERE id = ?`, fileID)
	if err != nil {
		return fmt.Errorf("delete file: %w", err)
	}
	return nil
}

func (s *SQLiteStore) DeleteFilesByProject(ctx context.Context, projectID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `DELETE FROM files WHERE project_id = ?`, projectID)
	if err != nil {
		return fmt.Errorf("delete files by project: %w", err)
	}
	return nil
}

// --- Chunk operations ---

func (s *SQLiteStore) SaveChunks(ctx context.Context, chunks []*Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO chunks (id, file_id, file_path, content, raw_content, context, content_type,
			language, start_line, end_line, symbols_json, metadata_json, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			file_id = excluded.file_id,
			file_path = excluded.file_path,
			content = excluded.content,
			raw_content = excluded.raw_content,
			context = excluded.context,
			content_type = excluded.content_type,
			language = excluded.language,
			start_line = excluded.start_line,
			end_line = excluded.end_line,
			symbols_json = excluded.symbols_json,
			metadata_json = excluded.metadata_json,
			updated_at = excluded.updated_at
	`)
	if err != nil {
		return fmt.Errorf("prepare chunk upsert: %w", err)
	}
	defer stmt.Close()

	for _, c := range chunks {
		symbolsJSON, err := json.Marshal(c.Symbols)
		if err != nil {
			return fmt.Errorf("marshal symbols for chunk %s: %w", c.ID, err)
		}
		metadataJSON, err := json.Marshal(c.Metadata)
		if err != nil {
			return fmt.Errorf("marshal metadata for chunk %s: %w", c.ID, err)
		}
		if _, err := stmt.ExecContext(ctx, c.ID, c.FileID, c.FilePath, c.Content, c.RawContent, c.Context,
			string(c.ContentType), c.Language, c.StartLine, c.EndLine, string(symbolsJSON), string(metadataJSON),
			timeToUnix(c.CreatedAt), timeToUnix(c.UpdatedAt)); err != nil {
			return fmt.Errorf("save chunk %s: %w", c.ID, err)
		}
	}

	return tx.Commit()
}

func (s *SQLiteStore) scanChunk(row interface{ Scan(...any) error }) (*Chunk, error) {
	var c Chunk
	var rawContent, ctxField, contentType, language, symbolsJSON, metadataJSON sql.NullString
	var createdAt, updatedAt sql.NullInt64
	err := row.Scan(&c.ID, &c.FileID, &c.FilePath, &c.Content, &rawContent, &ctxField, &contentType,
		&language, &c.StartLine, &c.EndLine, &symbolsJSON, &metadataJSON, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	c.RawContent = rawContent.String
	c.Context = ctxField.String
	c.ContentType = ContentType(contentType.String)
	c.Language = language.String
	c.CreatedAt = unixToTime(createdAt.Int64)
	c.UpdatedAt = unixToTime(updatedAt.Int64)

	if symbolsJSON.String != "" {
		var symbols []*Symbol
		if err := json.Unmarshal([]byte(symbolsJSON.String), &symbols); err == nil {
			c.Symbols = symbols
		}
	}
	if metadataJSON.String != "" {
		var md map[string]string
		if err := json.Unmarshal([]byte(metadataJSON.String), &md); err == nil {
			c.Metadata = md
		}
	}
	return &c, nil
}

const chunkSelectColumns = `id, file_id, file_path, content, raw_content, context, content_type,
	language, start_line, end_line, symbols_json, metadata_json, created_at, updated_at`

func (s *SQLiteStore) GetChunk(ctx context.Context, id string) (*Chunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, `SELECT `+chunkSelectColumns+` FROM chunks WHERE id = ?`, id)
	c, err := s.scanChunk(row)
	if err != nil {
		return nil, fmt.Errorf("get chunk: %w", err)
	}
	return c, nil
}

func (s *SQLiteStore) GetChunks(ctx context.Context, ids []string) ([]*Chunk, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	placeholders := make([]string, len(ids))
	args := make([]any, len(ids))
	for i, id := range ids {
		placeholders[i] = "?"
		args[i] = id
	}

	rows, err := s.db.QueryContext(ctx, `SELECT `+chunkSelectColumns+` FROM chunks WHERE id IN (`+
		strings.Join(placeholders, ",")+`)`, args...)
	if err != nil {
		return nil, fmt.Errorf("get chunks: %w", err)
	}
	defer rows.Close()

	result := []*Chunk{}
	for rows.Next() {
		c, err := s.scanChunk(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, c)
	}
	return result, rows.Err()
}

func (s *SQLiteStore) GetChunksByFile(ctx context.Context, fileID string) ([]*Chunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `SELECT `+chunkSelectColumns+` FROM chunks WHERE file_id = ? ORDER BY start_line ASC`, fileID)
	if err != nil {
		return nil, fmt.Errorf("get chunks by file: %w", err)
	}
	defer rows.Close()

	result := []*Chunk{}
	for rows.Next() {
		c, err := s.scanChunk(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, c)
	}
	return result, rows.Err()
}

func (s *SQLiteStore) DeleteChunks(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	placeholders := make([]string, len(ids))
	args := make([]any, len(ids))
	for i, id := range ids {
		placeholders[i] = "?"
		args[i] = id
	}
	_, err := s.db.ExecContext(ctx, `DELETE FROM chunks WHERE id IN (`+strings.Join(placeholders, ",")+`)`, args...)
	if err != nil {
		return fmt.Errorf("delete chunks: %w", err)
	}
	return nil
}

func (s *SQLiteStore) DeleteChunksByFile(ctx context.Context, fileID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `DELETE FROM chunks WHERE file_id = ?`, fileID)
	if err != nil {
		return fmt.Errorf("delete chunks by file: %w", err)
	}
	return nil
}

// --- Symbol operations ---

// SearchSymbols scans chunk symbol payloads for a substring match. Symbol
// names are not indexed separately since the working set is small enough
// (thousands, not millions, of chunks per project) for a linear scan over
// the already-denormalized JSON to stay well under interactive latency.
func (s *SQLiteStore) SearchSymbols(ctx context.Context, name string, limit int) ([]*Symbol, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `SELECT symbols_json FROM chunks WHERE symbols_json IS NOT NULL AND symbols_json != ''`)
	if err != nil {
		return nil, fmt.Errorf("search symbols: %w", err)
	}
	defer rows.Close()

	needle := strings.ToLower(name)
	result := []*Symbol{}
	for rows.Next() {
		var symbolsJSON string
		if err := rows.Scan(&symbolsJSON); err != nil {
			return nil, err
		}
		var symbols []*Symbol
		if err := json.Unmarshal([]byte(symbolsJSON), &symbols); err != nil {
			continue
		}
		for _, sym := range symbols {
			if strings.Contains(strings.ToLower(sym.Name), needle) {
				result = append(result, sym)
				if len(result) >= limit {
					return result, nil
				}
			}
		}
	}
	return result, rows.Err()
}

// --- State operations ---

func (s *SQLiteStore) GetState(ctx context.Context, key string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM kv_state WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get state: %w", err)
	}
	return value, nil
}

func (s *SQLiteStore) SetState(ctx context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO kv_state (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, key, value)
	if err != nil {
		return fmt.Errorf("set state: %w", err)
	}
	return nil
}

// --- Embedding operations ---

func (s *SQLiteStore) SaveChunkEmbeddings(ctx context.Context, chunkIDs []string, embeddings [][]float32, model string) error {
	if len(chunkIDs) != len(embeddings) {
		return fmt.Errorf("save chunk embeddings: chunkIDs and embeddings length mismatch (%d vs %d)", len(chunkIDs), len(embeddings))
	}
	if len(chunkIDs) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `UPDATE chunks SET embedding = ?, embedder = ? WHERE id = ?`)
	if err != nil {
		return fmt.Errorf("prepare embedding update: %w", err)
	}
	defer stmt.Close()

	for i, id := range chunkIDs {
		if _, err := stmt.ExecContext(ctx, embeddingToBytes(embeddings[i]), model, id); err != nil {
			return fmt.Errorf("save embedding for chunk %s: %w", id, err)
		}
	}

	return tx.Commit()
}

func (s *SQLiteStore) GetAllEmbeddings(ctx context.Context) (map[string][]float32, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `SELECT id, embedding FROM chunks WHERE embedding IS NOT NULL`)
	if err != nil {
		return nil, fmt.Errorf("get all embeddings: %w", err)
	}
	defer rows.Close()

	result := make(map[string][]float32)
	for rows.Next() {
		var id string
		var raw []byte
		if err := rows.Scan(&id, &raw); err != nil {
			return nil, err
		}
		vec := bytesToEmbedding(raw)
		if vec == nil {
			continue
		}
		result[id] = vec
	}
	return result, rows.Err()
}

func (s *SQLiteStore) GetEmbeddingStats(ctx context.Context) (withEmbedding, withoutEmbedding int, err error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if err = s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM chunks WHERE embedding IS NOT NULL`).Scan(&withEmbedding); err != nil {
		return 0, 0, fmt.Errorf("count embedded chunks: %w", err)
	}
	if err = s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM chunks WHERE embedding IS NULL`).Scan(&withoutEmbedding); err != nil {
		return 0, 0, fmt.Errorf("count unembedded chunks: %w", err)
	}
	return withEmbedding, withoutEmbedding, nil
}

// --- Checkpoint operations ---

func (s *SQLiteStore) SaveIndexCheckpoint(ctx context.Context, stage string, total, embeddedCount int, embedderModel string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO index_checkpoint (id, stage, total, embedded_count, embedder_model, updated_at)
		VALUES (1, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			stage = excluded.stage,
			total = excluded.total,
			embedded_count = excluded.embedded_count,
			embedder_model = excluded.embedder_model,
			updated_at = excluded.updated_at
	`, stage, total, embeddedCount, embedderModel, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("save index checkpoint: %w", err)
	}
	return nil
}

func (s *SQLiteStore) LoadIndexCheckpoint(ctx context.Context) (*IndexCheckpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var ck IndexCheckpoint
	var updatedAt sql.NullInt64
	var embedderModel sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT stage, total, embedded_count, embedder_model, updated_at FROM index_checkpoint WHERE id = 1
	`).Scan(&ck.Stage, &ck.Total, &ck.EmbeddedCount, &embedderModel, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load index checkpoint: %w", err)
	}
	if ck.Stage == "complete" {
		return nil, nil
	}
	ck.EmbedderModel = embedderModel.String
	ck.Timestamp = unixToTime(updatedAt.Int64)
	return &ck, nil
}

func (s *SQLiteStore) ClearIndexCheckpoint(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `DELETE FROM index_checkpoint WHERE id = 1`)
	if err != nil {
		return fmt.Errorf("clear index checkpoint: %w", err)
	}
	return nil
}

// --- Lifecycle ---

func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

// --- helpers ---

func timeToUnix(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.Unix()
}

func unixToTime(unix int64) time.Time {
	if unix == 0 {
		return time.Time{}
	}
	return time.Unix(unix, 0).UTC()
}

// embeddingToBytes serializes a float32 embedding to a little-endian byte
// slice for BLOB storage.
func embeddingToBytes(floats []float32) []byte {
	if len(floats) == 0 {
		return []byte{}
	}
	buf := make([]byte, len(floats)*4)
	for i, f := range floats {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

// bytesToEmbedding is the inverse of embeddingToBytes. It returns nil for
// empty or nil input.
func bytesToEmbedding(raw []byte) []float32 {
	if len(raw) == 0 {
		return nil
	}
	floats := make([]float32, len(raw)/4)
	for i := range floats {
		floats[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[i*4:]))
	}
	return floats
}
