package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// FileRecord is the checkpoint state of one indexed file.
type FileRecord struct {
	SourceID string
	// Path is relative to the source root, slash-separated.
	Path    string
	AbsPath string
	Size    int64
	// ModTime is truncated to whole seconds before storage.
	ModTime time.Time
	// ContentHash is the hex-encoded SHA-256 of the raw bytes.
	ContentHash string
	Language    string
	ChunkCount  int
	IndexedAt   time.Time
}

// SourceStats is the aggregated indexing state of one source. The
// Initial fields describe the first completed run and never change
// afterwards; the Last fields track the most recent run.
type SourceStats struct {
	SourceID          string
	FileCount         int
	ChunkCount        int
	TotalBytes        int64
	InitialIndexedAt  time.Time
	InitialDurationMS int64
	LastRunType       string
	LastRunStatus     string
	LastIndexedAt     time.Time
	LastDurationMS    int64
}

// UpsertFiles writes checkpoint rows for a batch of files in one
// transaction.
func (s *SQLiteStore) UpsertFiles(ctx context.Context, files []*FileRecord) error {
	if len(files) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO file_metadata
			(source_id, path, abs_path, size, mod_time, content_hash, language, chunk_count, indexed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(source_id, path) DO UPDATE SET
			abs_path = excluded.abs_path,
			size = excluded.size,
			mod_time = excluded.mod_time,
			content_hash = excluded.content_hash,
			language = excluded.language,
			chunk_count = excluded.chunk_count,
			indexed_at = excluded.indexed_at
	`)
	if err != nil {
		return fmt.Errorf("prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, f := range files {
		indexedAt := f.IndexedAt
		if indexedAt.IsZero() {
			indexedAt = time.Now().UTC()
		}
		if _, err := stmt.ExecContext(ctx,
			f.SourceID, f.Path, f.AbsPath, f.Size,
			f.ModTime.Truncate(time.Second).Unix(),
			f.ContentHash, f.Language, f.ChunkCount, indexedAt,
		); err != nil {
			return fmt.Errorf("upsert file %s: %w", f.Path, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// GetFile returns the checkpoint row for one file, or nil when absent.
func (s *SQLiteStore) GetFile(ctx context.Context, sourceID, path string) (*FileRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT source_id, path, abs_path, size, mod_time, content_hash, language, chunk_count, indexed_at
		FROM file_metadata
		WHERE source_id = ? AND path = ?
	`, sourceID, path)

	rec, err := scanFileRecord(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get file: %w", err)
	}
	return rec, nil
}

// ListFiles returns all checkpoint rows of a source keyed by path.
// Used by reconciliation to diff against a fresh scan.
func (s *SQLiteStore) ListFiles(ctx context.Context, sourceID string) (map[string]*FileRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT source_id, path, abs_path, size, mod_time, content_hash, language, chunk_count, indexed_at
		FROM file_metadata
		WHERE source_id = ?
	`, sourceID)
	if err != nil {
		return nil, fmt.Errorf("list files: %w", err)
	}
	defer rows.Close()

	out := make(map[string]*FileRecord)
	for rows.Next() {
		rec, err := scanFileRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan file row: %w", err)
		}
		out[rec.Path] = rec
	}
	return out, rows.Err()
}

// DeleteFiles removes checkpoint rows for the given paths.
func (s *SQLiteStore) DeleteFiles(ctx context.Context, sourceID string, paths []string) error {
	if len(paths) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx,
		`DELETE FROM file_metadata WHERE source_id = ? AND path = ?`)
	if err != nil {
		return fmt.Errorf("prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, path := range paths {
		if _, err := stmt.ExecContext(ctx, sourceID, path); err != nil {
			return fmt.Errorf("delete file %s: %w", path, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// DeleteSourceFiles removes every checkpoint row of a source.
func (s *SQLiteStore) DeleteSourceFiles(ctx context.Context, sourceID string) error {
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM file_metadata WHERE source_id = ?`, sourceID); err != nil {
		return fmt.Errorf("delete source files: %w", err)
	}
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM source_stats WHERE source_id = ?`, sourceID); err != nil {
		return fmt.Errorf("delete source stats: %w", err)
	}
	return nil
}

// UpdateSourceStats records the outcome of an indexing run.
func (s *SQLiteStore) UpdateSourceStats(ctx context.Context, stats *SourceStats) error {
	var initialAt interface{}
	if !stats.InitialIndexedAt.IsZero() {
		initialAt = stats.InitialIndexedAt
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO source_stats
			(source_id, file_count, chunk_count, total_bytes,
			 initial_indexed_at, initial_duration_ms,
			 last_run_type, last_run_status, last_indexed_at, last_duration_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(source_id) DO UPDATE SET
			file_count = excluded.file_count,
			chunk_count = excluded.chunk_count,
			total_bytes = excluded.total_bytes,
			initial_indexed_at = excluded.initial_indexed_at,
			initial_duration_ms = excluded.initial_duration_ms,
			last_run_type = excluded.last_run_type,
			last_run_status = excluded.last_run_status,
			last_indexed_at = excluded.last_indexed_at,
			last_duration_ms = excluded.last_duration_ms
	`, stats.SourceID, stats.FileCount, stats.ChunkCount, stats.TotalBytes,
		initialAt, stats.InitialDurationMS,
		stats.LastRunType, stats.LastRunStatus, stats.LastIndexedAt, stats.LastDurationMS)
	if err != nil {
		return fmt.Errorf("update source stats: %w", err)
	}
	return nil
}

// RefreshSourceStats recomputes file, chunk, and byte totals from the
// checkpoint rows. The initial_* columns are left untouched.
func (s *SQLiteStore) RefreshSourceStats(ctx context.Context, sourceID string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO source_stats (source_id, file_count, chunk_count, total_bytes, last_indexed_at)
		SELECT ?, COUNT(*), COALESCE(SUM(chunk_count), 0), COALESCE(SUM(size), 0), CURRENT_TIMESTAMP
		FROM file_metadata WHERE source_id = ?
		ON CONFLICT(source_id) DO UPDATE SET
			file_count = excluded.file_count,
			chunk_count = excluded.chunk_count,
			total_bytes = excluded.total_bytes,
			last_indexed_at = excluded.last_indexed_at
	`, sourceID, sourceID)
	if err != nil {
		return fmt.Errorf("refresh source stats: %w", err)
	}
	return nil
}

// GetSourceStats returns the stats row for a source, or nil.
func (s *SQLiteStore) GetSourceStats(ctx context.Context, sourceID string) (*SourceStats, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT source_id, file_count, chunk_count, total_bytes,
		       initial_indexed_at, initial_duration_ms,
		       last_run_type, last_run_status, last_indexed_at, last_duration_ms
		FROM source_stats WHERE source_id = ?
	`, sourceID)

	stats, err := scanSourceStats(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get source stats: %w", err)
	}
	return stats, nil
}

// ListSourceStats returns stats for every source that has them.
func (s *SQLiteStore) ListSourceStats(ctx context.Context) ([]*SourceStats, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT source_id, file_count, chunk_count, total_bytes,
		       initial_indexed_at, initial_duration_ms,
		       last_run_type, last_run_status, last_indexed_at, last_duration_ms
		FROM source_stats ORDER BY source_id
	`)
	if err != nil {
		return nil, fmt.Errorf("list source stats: %w", err)
	}
	defer rows.Close()

	var out []*SourceStats
	for rows.Next() {
		stats, err := scanSourceStats(rows)
		if err != nil {
			return nil, fmt.Errorf("scan stats row: %w", err)
		}
		out = append(out, stats)
	}
	return out, rows.Err()
}

// SetMeta upserts a system metadata key.
func (s *SQLiteStore) SetMeta(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO system_metadata (key, value, updated_at)
		VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(key) DO UPDATE SET
			value = excluded.value,
			updated_at = CURRENT_TIMESTAMP
	`, key, value)
	if err != nil {
		return fmt.Errorf("set meta %s: %w", key, err)
	}
	return nil
}

// GetMeta reads a system metadata key; missing keys return "".
func (s *SQLiteStore) GetMeta(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM system_metadata WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get meta %s: %w", key, err)
	}
	return value, nil
}

// ClearMeta drops every system metadata key. A full rebuild of all
// sources uses it so stale markers cannot outlive the data they
// describe.
func (s *SQLiteStore) ClearMeta(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM system_metadata`); err != nil {
		return fmt.Errorf("clear meta: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanFileRecord(row rowScanner) (*FileRecord, error) {
	var rec FileRecord
	var modTime int64
	var indexedAt sql.NullTime

	if err := row.Scan(
		&rec.SourceID, &rec.Path, &rec.AbsPath, &rec.Size, &modTime,
		&rec.ContentHash, &rec.Language, &rec.ChunkCount, &indexedAt,
	); err != nil {
		return nil, err
	}

	rec.ModTime = time.Unix(modTime, 0).UTC()
	if indexedAt.Valid {
		rec.IndexedAt = indexedAt.Time
	}
	return &rec, nil
}

func scanSourceStats(row rowScanner) (*SourceStats, error) {
	var stats SourceStats
	var initialIndexed, lastIndexed sql.NullTime

	if err := row.Scan(
		&stats.SourceID, &stats.FileCount, &stats.ChunkCount, &stats.TotalBytes,
		&initialIndexed, &stats.InitialDurationMS,
		&stats.LastRunType, &stats.LastRunStatus, &lastIndexed, &stats.LastDurationMS,
	); err != nil {
		return nil, err
	}

	if initialIndexed.Valid {
		stats.InitialIndexedAt = initialIndexed.Time
	}
	if lastIndexed.Valid {
		stats.LastIndexedAt = lastIndexed.Time
	}
	return &stats, nil
}
