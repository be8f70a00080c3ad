package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/lballaty/myragdb/internal/config"
	"github.com/lballaty/myragdb/internal/source"
)

var _ source.Store = (*SQLiteStore)(nil)

// SaveSource upserts a catalogue entry. Globs are stored as JSON arrays.
func (s *SQLiteStore) SaveSource(src *source.Source) error {
	include, err := json.Marshal(globsOrEmpty(src.Include))
	if err != nil {
		return fmt.Errorf("marshal include globs: %w", err)
	}
	exclude, err := json.Marshal(globsOrEmpty(src.Exclude))
	if err != nil {
		return fmt.Errorf("marshal exclude globs: %w", err)
	}

	_, err = s.db.ExecContext(context.Background(), `
		INSERT INTO sources
			(id, name, kind, path, remote_url, priority, include_globs, exclude_globs, enabled, added_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			kind = excluded.kind,
			path = excluded.path,
			remote_url = excluded.remote_url,
			priority = excluded.priority,
			include_globs = excluded.include_globs,
			exclude_globs = excluded.exclude_globs,
			enabled = excluded.enabled
	`, src.ID, src.Name, string(src.Kind), src.Path, src.RemoteURL,
		string(src.EffectivePriority()), string(include), string(exclude),
		boolToInt(src.Enabled), src.AddedAt)
	if err != nil {
		return fmt.Errorf("save source %s: %w", src.Name, err)
	}
	return nil
}

// DeleteSource removes a catalogue entry by id.
func (s *SQLiteStore) DeleteSource(id string) error {
	if _, err := s.db.ExecContext(context.Background(),
		`DELETE FROM sources WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete source %s: %w", id, err)
	}
	return nil
}

// ListSources returns every catalogue entry ordered by name.
func (s *SQLiteStore) ListSources() ([]*source.Source, error) {
	rows, err := s.db.QueryContext(context.Background(), `
		SELECT id, name, kind, path, remote_url, priority, include_globs, exclude_globs, enabled, added_at
		FROM sources ORDER BY name
	`)
	if err != nil {
		return nil, fmt.Errorf("list sources: %w", err)
	}
	defer rows.Close()

	var out []*source.Source
	for rows.Next() {
		src, err := scanSource(rows)
		if err != nil {
			return nil, fmt.Errorf("scan source row: %w", err)
		}
		out = append(out, src)
	}
	return out, rows.Err()
}

func scanSource(row rowScanner) (*source.Source, error) {
	var (
		src              source.Source
		kind, priority   string
		include, exclude string
		enabled          int
		addedAt          sql.NullTime
	)

	if err := row.Scan(
		&src.ID, &src.Name, &kind, &src.Path, &src.RemoteURL,
		&priority, &include, &exclude, &enabled, &addedAt,
	); err != nil {
		return nil, err
	}

	src.Kind = source.Kind(kind)
	src.Priority = config.Priority(priority)
	src.Enabled = enabled != 0
	if addedAt.Valid {
		src.AddedAt = addedAt.Time
	}

	if err := json.Unmarshal([]byte(include), &src.Include); err != nil {
		return nil, fmt.Errorf("decode include globs for %s: %w", src.Name, err)
	}
	if err := json.Unmarshal([]byte(exclude), &src.Exclude); err != nil {
		return nil, fmt.Errorf("decode exclude globs for %s: %w", src.Name, err)
	}
	if len(src.Include) == 0 {
		src.Include = nil
	}
	if len(src.Exclude) == 0 {
		src.Exclude = nil
	}
	return &src, nil
}

func globsOrEmpty(globs []string) []string {
	if globs == nil {
		return []string{}
	}
	return globs
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
