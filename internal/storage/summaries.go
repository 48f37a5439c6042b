package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Veraticus/mailtally/internal/common"
	"github.com/Veraticus/mailtally/internal/model"
)

const summaryColumns = `date, total_amount, transaction_count, currency_breakdown, summary_text, updated_at`

// SummaryFor returns the stored summary for day, or common.ErrNotFound.
func (s *SQLiteStorage) SummaryFor(ctx context.Context, day time.Time) (*model.DailySummary, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	row := s.db.QueryRowContext(ctx,
		`SELECT `+summaryColumns+` FROM daily_summaries WHERE date = ?`,
		model.TruncateDay(day).Format(model.DateLayout),
	)
	summary, err := scanSummary(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("summary for %s: %w", day.Format(model.DateLayout), common.ErrNotFound)
	}
	if err != nil {
		return nil, classifySQLiteError(err)
	}
	return summary, nil
}

// SaveSummary upserts the summary for its date.
func (s *SQLiteStorage) SaveSummary(ctx context.Context, summary *model.DailySummary) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if summary == nil {
		return common.Permanent(fmt.Errorf("%w: summary", ErrNilParameter))
	}
	if summary.Date.IsZero() {
		return common.Permanent(fmt.Errorf("%w: summary date", ErrNilParameter))
	}
	if summary.UpdatedAt.IsZero() {
		summary.UpdatedAt = time.Now().UTC()
	}

	breakdown, err := marshalBreakdown(summary.CurrencyBreakdown)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO daily_summaries (`+summaryColumns+`)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(date) DO UPDATE SET
			total_amount = excluded.total_amount,
			transaction_count = excluded.transaction_count,
			currency_breakdown = excluded.currency_breakdown,
			summary_text = excluded.summary_text,
			updated_at = excluded.updated_at`,
		model.TruncateDay(summary.Date).Format(model.DateLayout), summary.TotalAmount.String(),
		summary.TransactionCount, breakdown, summary.SummaryText, summary.UpdatedAt,
	)
	if err != nil {
		return classifySQLiteError(fmt.Errorf("failed to save summary: %w", err))
	}
	return nil
}

// SummariesInRange returns stored summaries for dates within r in ascending date order.
func (s *SQLiteStorage) SummariesInRange(ctx context.Context, r model.DateRange) ([]model.DailySummary, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateRange(r); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+summaryColumns+`
		FROM daily_summaries
		WHERE date >= ? AND date <= ?
		ORDER BY date`,
		r.Start.Format(model.DateLayout), r.End.Format(model.DateLayout),
	)
	if err != nil {
		return nil, classifySQLiteError(fmt.Errorf("failed to query summaries: %w", err))
	}
	defer func() { _ = rows.Close() }()

	var summaries []model.DailySummary
	for rows.Next() {
		summary, scanErr := scanSummary(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		summaries = append(summaries, *summary)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating summaries: %w", err)
	}
	return summaries, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSummary(row rowScanner) (*model.DailySummary, error) {
	var (
		summary   model.DailySummary
		date      string
		total     string
		breakdown string
	)
	if err := row.Scan(&date, &total, &summary.TransactionCount, &breakdown,
		&summary.SummaryText, &summary.UpdatedAt); err != nil {
		return nil, err
	}
	return decodeSummary(&summary, date, total, breakdown)
}

func decodeSummary(summary *model.DailySummary, date, total, breakdown string) (*model.DailySummary, error) {
	var err error
	summary.Date, err = time.Parse(model.DateLayout, date)
	if err != nil {
		return nil, fmt.Errorf("invalid stored summary date %q: %w", date, err)
	}
	summary.TotalAmount, err = decimal.NewFromString(total)
	if err != nil {
		return nil, fmt.Errorf("invalid stored summary total %q: %w", total, err)
	}
	summary.CurrencyBreakdown = map[string]model.CurrencyTotal{}
	if breakdown != "" {
		if err := json.Unmarshal([]byte(breakdown), &summary.CurrencyBreakdown); err != nil {
			return nil, fmt.Errorf("invalid stored currency breakdown: %w", err)
		}
	}
	return summary, nil
}

func marshalBreakdown(breakdown map[string]model.CurrencyTotal) (string, error) {
	if breakdown == nil {
		breakdown = map[string]model.CurrencyTotal{}
	}
	data, err := json.Marshal(breakdown)
	if err != nil {
		return "", common.Permanent(fmt.Errorf("failed to encode currency breakdown: %w", err))
	}
	return string(data), nil
}
