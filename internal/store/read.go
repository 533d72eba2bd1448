package store

import (
	"context"
	"database/sql"
	"fmt"
)

// Run is one audited pipeline invocation.
type Run struct {
	ID          string
	Kind        string // "protect" | "verify"
	InputPath   string
	Threshold   sql.NullInt64
	Passed      sql.NullInt64
	OverheadPct sql.NullFloat64
	CreatedAt   string
}

// Decision is one per-comparison protect/skip decision.
type Decision struct {
	Function   string
	Result     string
	Score      int
	Protected  bool
	SkipReason string
}

// ListRuns returns the most recent runs, newest first.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, kind, input_path, threshold, passed, overhead_pct, created_at
		FROM runs
		ORDER BY created_at DESC, id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var r Run
		if err := rows.Scan(&r.ID, &r.Kind, &r.InputPath, &r.Threshold, &r.Passed, &r.OverheadPct, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// Decisions returns a run's per-comparison decisions in insertion order.
func (s *Store) Decisions(ctx context.Context, runID string) ([]Decision, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT function, result, score, protected, COALESCE(skip_reason, '')
		FROM decisions
		WHERE run_id = ?
		ORDER BY function, result
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("list decisions: %w", err)
	}
	defer rows.Close()

	var ds []Decision
	for rows.Next() {
		var d Decision
		var protected int
		if err := rows.Scan(&d.Function, &d.Result, &d.Score, &protected, &d.SkipReason); err != nil {
			return nil, fmt.Errorf("scan decision: %w", err)
		}
		d.Protected = protected != 0
		ds = append(ds, d)
	}
	return ds, rows.Err()
}
