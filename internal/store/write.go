package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/roach88/faultguard/internal/transformer"
	"github.com/roach88/faultguard/internal/verifier"
)

// RecordProtection writes one protection run with its per-comparison
// decisions and returns the run id. All rows land in one transaction: an
// audit record is either complete or absent.
func (s *Store) RecordProtection(ctx context.Context, inputPath string, threshold int, res *transformer.Result) (string, error) {
	runID := uuid.Must(uuid.NewV7()).String()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("record protection: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO runs (id, kind, input_path, threshold)
		VALUES (?, 'protect', ?, ?)
	`, runID, inputPath, threshold)
	if err != nil {
		return "", fmt.Errorf("record protection run: %w", err)
	}

	for _, rec := range res.Protected {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO decisions (run_id, function, result, score, protected, skip_reason)
			VALUES (?, ?, ?, ?, 1, NULL)
		`, runID, rec.Function, rec.OriginalResult, rec.Score.Value)
		if err != nil {
			return "", fmt.Errorf("record protection decision: %w", err)
		}
	}
	for _, skip := range res.Skipped {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO decisions (run_id, function, result, score, protected, skip_reason)
			VALUES (?, ?, ?, ?, 0, ?)
		`, runID, skip.Function, skip.Result, skip.Score, string(skip.Reason))
		if err != nil {
			return "", fmt.Errorf("record skip decision: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("record protection: %w", err)
	}
	return runID, nil
}

// RecordVerification writes one verification run with its per-category
// counts and returns the run id.
func (s *Store) RecordVerification(ctx context.Context, inputPath string, report *verifier.Report) (string, error) {
	runID := uuid.Must(uuid.NewV7()).String()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("record verification: %w", err)
	}
	defer tx.Rollback()

	passed := 0
	if report.Pass {
		passed = 1
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO runs (id, kind, input_path, passed, overhead_pct)
		VALUES (?, 'verify', ?, ?, ?)
	`, runID, inputPath, passed, report.OverheadPct)
	if err != nil {
		return "", fmt.Errorf("record verification run: %w", err)
	}

	for _, c := range report.Categories {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO verdicts (run_id, category, before_count, after_count)
			VALUES (?, ?, ?, ?)
		`, runID, c.Name, c.Before, c.After)
		if err != nil {
			return "", fmt.Errorf("record verdict: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("record verification: %w", err)
	}
	return runID, nil
}
