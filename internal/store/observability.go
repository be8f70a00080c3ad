package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	ragerr "github.com/lballaty/myragdb/internal/errors"
)

// SearchMetric is one recorded query execution.
type SearchMetric struct {
	Query       string
	Rewritten   string
	Limit       int
	ResultCount int
	KeywordMS   int64
	VectorMS    int64
	TotalMS     int64
}

// IndexingEvent is one lifecycle event of an indexing run.
type IndexingEvent struct {
	SourceID   string
	RunType    string
	Kind       string
	Event      string
	Files      int
	Chunks     int
	DurationMS int64
	Error      string
}

// RecordSearchMetric appends a query execution row.
func (s *SQLiteStore) RecordSearchMetric(ctx context.Context, m *SearchMetric) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO search_metrics
			(query, rewritten, limit_n, result_count, keyword_ms, vector_ms, total_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, m.Query, m.Rewritten, m.Limit, m.ResultCount, m.KeywordMS, m.VectorMS, m.TotalMS)
	if err != nil {
		return fmt.Errorf("record search metric: %w", err)
	}
	return nil
}

// RecordError appends a coded error row. Non-coded errors are recorded
// as internal errors so nothing is silently dropped.
func (s *SQLiteStore) RecordError(ctx context.Context, err error) error {
	var re *ragerr.RagError
	if !errors.As(err, &re) {
		re = ragerr.InternalError(err.Error(), err)
	}

	details := "{}"
	if len(re.Details) > 0 {
		if raw, merr := json.Marshal(re.Details); merr == nil {
			details = string(raw)
		}
	}

	_, dberr := s.db.ExecContext(ctx, `
		INSERT INTO error_log (code, category, severity, message, details)
		VALUES (?, ?, ?, ?, ?)
	`, re.Code, string(re.Category), string(re.Severity), re.Message, details)
	if dberr != nil {
		return fmt.Errorf("record error: %w", dberr)
	}
	return nil
}

// RecordIndexingEvent appends an indexing lifecycle row.
func (s *SQLiteStore) RecordIndexingEvent(ctx context.Context, ev *IndexingEvent) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO indexing_events
			(source_id, run_type, kind, event, files, chunks, duration_ms, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, ev.SourceID, ev.RunType, ev.Kind, ev.Event, ev.Files, ev.Chunks, ev.DurationMS, ev.Error)
	if err != nil {
		return fmt.Errorf("record indexing event: %w", err)
	}
	return nil
}

// ResolveErrors marks every logged occurrence of a code as resolved so
// retention can reclaim the rows.
func (s *SQLiteStore) ResolveErrors(ctx context.Context, code string) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE error_log SET resolved = 1 WHERE code = ? AND resolved = 0`, code)
	if err != nil {
		return 0, fmt.Errorf("resolve errors: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// CountUnresolvedErrors returns the number of open error rows.
func (s *SQLiteStore) CountUnresolvedErrors(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM error_log WHERE resolved = 0`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count unresolved errors: %w", err)
	}
	return n, nil
}

// PruneObservability deletes observability rows older than cutoff.
// Unresolved error rows are kept regardless of age.
func (s *SQLiteStore) PruneObservability(ctx context.Context, cutoff time.Time) (int64, error) {
	var total int64

	for _, q := range []string{
		`DELETE FROM search_metrics WHERE ts < ?`,
		`DELETE FROM indexing_events WHERE ts < ?`,
		`DELETE FROM error_log WHERE ts < ? AND resolved = 1`,
	} {
		res, err := s.db.ExecContext(ctx, q, cutoff.UTC())
		if err != nil {
			return total, fmt.Errorf("prune observability: %w", err)
		}
		n, _ := res.RowsAffected()
		total += n
	}
	return total, nil
}
