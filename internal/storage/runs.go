package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/Veraticus/mailtally/internal/common"
	"github.com/Veraticus/mailtally/internal/model"
)

const runColumns = `run_id, trigger, range_start, range_end, status, total_candidates, processed_count,
	extracted_count, failed_count, skipped_count, halted, last_error, started_at, finished_at`

// SaveRun upserts the audit record for a run.
func (s *SQLiteStorage) SaveRun(ctx context.Context, run model.RunState) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateRun(run); err != nil {
		return err
	}

	var finished sql.NullTime
	if !run.FinishedAt.IsZero() {
		finished = sql.NullTime{Time: run.FinishedAt, Valid: true}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO runs (`+runColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id) DO UPDATE SET
			status = excluded.status,
			total_candidates = excluded.total_candidates,
			processed_count = excluded.processed_count,
			extracted_count = excluded.extracted_count,
			failed_count = excluded.failed_count,
			skipped_count = excluded.skipped_count,
			halted = excluded.halted,
			last_error = excluded.last_error,
			finished_at = excluded.finished_at`,
		run.RunID, string(run.Trigger), run.Range.Start.Format(model.DateLayout), run.Range.End.Format(model.DateLayout),
		string(run.Status), run.TotalCandidates, run.ProcessedCount, run.ExtractedCount, run.FailedCount,
		run.SkippedCount, run.Halted, nullString(run.LastError), run.StartedAt, finished,
	)
	if err != nil {
		return classifySQLiteError(fmt.Errorf("failed to save run %s: %w", run.RunID, err))
	}
	return nil
}

// LastSuccessfulRun returns the most recent run of the given trigger that finished
// without failing or being halted, or common.ErrNotFound.
func (s *SQLiteStorage) LastSuccessfulRun(ctx context.Context, trigger model.Trigger) (*model.RunState, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	row := s.db.QueryRowContext(ctx, `
		SELECT `+runColumns+`
		FROM runs
		WHERE trigger = ? AND status = ? AND halted = 0
		ORDER BY finished_at DESC
		LIMIT 1`,
		string(trigger), string(model.RunDone),
	)

	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("successful %s run: %w", trigger, common.ErrNotFound)
	}
	if err != nil {
		return nil, classifySQLiteError(err)
	}
	return run, nil
}

func scanRun(row rowScanner) (*model.RunState, error) {
	var (
		run        model.RunState
		trigger    string
		status     string
		rangeStart string
		rangeEnd   string
		lastError  sql.NullString
		finished   sql.NullTime
	)
	err := row.Scan(&run.RunID, &trigger, &rangeStart, &rangeEnd, &status, &run.TotalCandidates,
		&run.ProcessedCount, &run.ExtractedCount, &run.FailedCount, &run.SkippedCount, &run.Halted,
		&lastError, &run.StartedAt, &finished)
	if err != nil {
		return nil, err
	}
	return decodeRun(&run, trigger, status, rangeStart, rangeEnd, lastError.String, finished)
}

func decodeRun(run *model.RunState, trigger, status, rangeStart, rangeEnd, lastError string, finished sql.NullTime) (*model.RunState, error) {
	start, err := time.Parse(model.DateLayout, rangeStart)
	if err != nil {
		return nil, fmt.Errorf("invalid stored run range start %q: %w", rangeStart, err)
	}
	end, err := time.Parse(model.DateLayout, rangeEnd)
	if err != nil {
		return nil, fmt.Errorf("invalid stored run range end %q: %w", rangeEnd, err)
	}
	run.Range = model.DateRange{Start: start, End: end}
	run.Trigger = model.Trigger(trigger)
	run.Status = model.RunStatus(status)
	run.LastError = lastError
	if finished.Valid {
		run.FinishedAt = finished.Time
	}
	return run, nil
}
