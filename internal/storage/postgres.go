package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/Veraticus/mailtally/internal/common"
	"github.com/Veraticus/mailtally/internal/model"
	"github.com/Veraticus/mailtally/internal/service"
)

var _ service.Store = (*PostgresStorage)(nil)

// PostgresStorage implements the Store interface on a pgx connection pool.
type PostgresStorage struct {
	pool *pgxpool.Pool
}

// NewPostgresStorage connects to the database at connString.
func NewPostgresStorage(ctx context.Context, connString string) (*PostgresStorage, error) {
	if err := validateString(connString, "connString"); err != nil {
		return nil, err
	}

	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("%w: failed to ping database: %w", common.ErrStoreUnavailable, err)
	}

	return &PostgresStorage{pool: pool}, nil
}

// Close releases the pool.
func (p *PostgresStorage) Close() error {
	p.pool.Close()
	return nil
}

var postgresMigrations = []Migration{
	{Version: 1, Description: "Initial schema"},
	{Version: 2, Description: "Add run audit table"},
	{Version: 3, Description: "Index processed messages by outcome"},
}

var postgresSchema = map[int][]string{
	1: {
		`CREATE TABLE IF NOT EXISTS transactions (
			id TEXT PRIMARY KEY,
			source_message_id TEXT UNIQUE NOT NULL,
			date DATE NOT NULL,
			vendor TEXT NOT NULL,
			amount NUMERIC NOT NULL,
			currency TEXT NOT NULL,
			direction TEXT NOT NULL CHECK (direction IN ('credit', 'debit')),
			category TEXT NOT NULL,
			reference TEXT,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_transactions_date ON transactions(date)`,
		`CREATE TABLE IF NOT EXISTS processed_messages (
			message_id TEXT PRIMARY KEY,
			outcome TEXT NOT NULL,
			reason TEXT,
			processed_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS daily_summaries (
			date DATE PRIMARY KEY,
			total_amount NUMERIC NOT NULL,
			transaction_count INTEGER NOT NULL,
			currency_breakdown JSONB NOT NULL,
			summary_text TEXT NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
	},
	2: {
		`CREATE TABLE IF NOT EXISTS runs (
			run_id TEXT PRIMARY KEY,
			trigger TEXT NOT NULL,
			range_start DATE NOT NULL,
			range_end DATE NOT NULL,
			status TEXT NOT NULL,
			total_candidates INTEGER NOT NULL DEFAULT 0,
			processed_count INTEGER NOT NULL DEFAULT 0,
			extracted_count INTEGER NOT NULL DEFAULT 0,
			failed_count INTEGER NOT NULL DEFAULT 0,
			skipped_count INTEGER NOT NULL DEFAULT 0,
			halted BOOLEAN NOT NULL DEFAULT false,
			last_error TEXT,
			started_at TIMESTAMPTZ NOT NULL,
			finished_at TIMESTAMPTZ
		)`,
		`CREATE INDEX IF NOT EXISTS idx_runs_trigger_status ON runs(trigger, status)`,
	},
	3: {
		`CREATE INDEX IF NOT EXISTS idx_processed_messages_outcome ON processed_messages(outcome)`,
	},
}

// Migrate applies pending migrations, tracking the version in schema_version.
func (p *PostgresStorage) Migrate(ctx context.Context) error {
	if err := validateContext(ctx); err != nil {
		return err
	}

	if _, err := p.pool.Exec(ctx, `CREATE TABLE IF NOT EXISTS schema_version (version INTEGER NOT NULL)`); err != nil {
		return fmt.Errorf("failed to create schema_version table: %w", err)
	}

	var current int
	if err := p.pool.QueryRow(ctx, `SELECT COALESCE(MAX(version), 0) FROM schema_version`).Scan(&current); err != nil {
		return fmt.Errorf("failed to get schema version: %w", err)
	}

	for _, migration := range postgresMigrations {
		if migration.Version <= current {
			continue
		}

		err := pgx.BeginFunc(ctx, p.pool, func(tx pgx.Tx) error {
			for _, query := range postgresSchema[migration.Version] {
				if _, err := tx.Exec(ctx, query); err != nil {
					return fmt.Errorf("failed to execute query: %w", err)
				}
			}
			_, err := tx.Exec(ctx, `INSERT INTO schema_version (version) VALUES ($1)`, migration.Version)
			return err
		})
		if err != nil {
			return fmt.Errorf("migration %d failed: %w", migration.Version, err)
		}

		slog.Info("Applied migration",
			"version", migration.Version,
			"description", migration.Description)
	}
	return nil
}

// Has reports whether a message has already been processed.
func (p *PostgresStorage) Has(ctx context.Context, messageID string) (bool, error) {
	if err := validateString(messageID, "messageID"); err != nil {
		return false, err
	}

	var exists bool
	err := p.pool.QueryRow(ctx, `
		SELECT EXISTS(SELECT 1 FROM processed_messages WHERE message_id = $1)
		    OR EXISTS(SELECT 1 FROM transactions WHERE source_message_id = $1)`,
		messageID,
	).Scan(&exists)
	if err != nil {
		return false, classifyPostgresError(fmt.Errorf("failed to check message %s: %w", messageID, err))
	}
	return exists, nil
}

// MarkProcessedNoExtraction records that a message yielded no transaction.
func (p *PostgresStorage) MarkProcessedNoExtraction(ctx context.Context, messageID, reason string) error {
	if err := validateString(messageID, "messageID"); err != nil {
		return err
	}

	_, err := p.pool.Exec(ctx, `
		INSERT INTO processed_messages (message_id, outcome, reason)
		VALUES ($1, 'no_extraction', NULLIF($2, ''))
		ON CONFLICT (message_id) DO NOTHING`,
		messageID, reason,
	)
	return classifyPostgresError(err)
}

// Commit records the transaction and its processed marker atomically.
func (p *PostgresStorage) Commit(ctx context.Context, txn *model.Transaction) error {
	if err := validateTransaction(txn); err != nil {
		return err
	}
	if txn.ID == "" {
		txn.ID = uuid.NewString()
	}
	if txn.CreatedAt.IsZero() {
		txn.CreatedAt = time.Now().UTC()
	}

	err := pgx.BeginFunc(ctx, p.pool, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO transactions (`+transactionColumns+`)
			VALUES ($1, $2, $3, $4, $5::numeric, $6, $7, $8, NULLIF($9, ''), $10)
			ON CONFLICT DO NOTHING`,
			txn.ID, txn.SourceMessageID, txn.Day(), txn.Vendor, txn.Amount.String(), txn.Currency,
			string(txn.Direction), txn.Category, txn.Reference, txn.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to insert transaction %s: %w", txn.SourceMessageID, err)
		}

		_, err = tx.Exec(ctx, `
			INSERT INTO processed_messages (message_id, outcome, processed_at)
			VALUES ($1, 'extracted', $2)
			ON CONFLICT (message_id) DO NOTHING`,
			txn.SourceMessageID, txn.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to mark message %s processed: %w", txn.SourceMessageID, err)
		}
		return nil
	})
	return classifyPostgresError(err)
}

// Replace overwrites the transaction for txn.SourceMessageID, inserting it if absent.
func (p *PostgresStorage) Replace(ctx context.Context, txn *model.Transaction) error {
	if err := validateTransaction(txn); err != nil {
		return err
	}

	tag, err := p.pool.Exec(ctx, `
		UPDATE transactions
		SET date = $1, vendor = $2, amount = $3::numeric, currency = $4, direction = $5,
		    category = $6, reference = NULLIF($7, '')
		WHERE source_message_id = $8`,
		txn.Day(), txn.Vendor, txn.Amount.String(), txn.Currency, string(txn.Direction),
		txn.Category, txn.Reference, txn.SourceMessageID,
	)
	if err != nil {
		return classifyPostgresError(fmt.Errorf("failed to replace transaction %s: %w", txn.SourceMessageID, err))
	}
	if tag.RowsAffected() == 0 {
		return p.Commit(ctx, txn)
	}
	return nil
}

// TransactionsInRange returns transactions within r ordered by date then creation time.
func (p *PostgresStorage) TransactionsInRange(ctx context.Context, r model.DateRange) ([]model.Transaction, error) {
	if err := validateRange(r); err != nil {
		return nil, err
	}

	rows, err := p.pool.Query(ctx, `
		SELECT id, source_message_id, date, vendor, amount::text, currency, direction, category,
		       COALESCE(reference, ''), created_at
		FROM transactions
		WHERE date >= $1 AND date <= $2
		ORDER BY date, created_at, id`,
		r.Start, r.End,
	)
	if err != nil {
		return nil, classifyPostgresError(fmt.Errorf("failed to query transactions: %w", err))
	}
	defer rows.Close()

	var txns []model.Transaction
	for rows.Next() {
		var (
			txn       model.Transaction
			amount    string
			direction string
		)
		if err := rows.Scan(&txn.ID, &txn.SourceMessageID, &txn.Date, &txn.Vendor, &amount,
			&txn.Currency, &direction, &txn.Category, &txn.Reference, &txn.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		txn.Amount, err = decimal.NewFromString(amount)
		if err != nil {
			return nil, fmt.Errorf("invalid stored amount %q: %w", amount, err)
		}
		txn.Date = model.TruncateDay(txn.Date)
		txn.Direction = model.Direction(direction)
		txns = append(txns, txn)
	}
	return txns, rows.Err()
}

// SummaryFor returns the stored summary for day, or common.ErrNotFound.
func (p *PostgresStorage) SummaryFor(ctx context.Context, day time.Time) (*model.DailySummary, error) {
	row := p.pool.QueryRow(ctx, `
		SELECT to_char(date, 'YYYY-MM-DD'), total_amount::text, transaction_count,
		       currency_breakdown::text, summary_text, updated_at
		FROM daily_summaries WHERE date = $1`,
		model.TruncateDay(day),
	)
	summary, err := scanSummary(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("summary for %s: %w", day.Format(model.DateLayout), common.ErrNotFound)
	}
	if err != nil {
		return nil, classifyPostgresError(err)
	}
	return summary, nil
}

// SaveSummary upserts the summary for its date.
func (p *PostgresStorage) SaveSummary(ctx context.Context, summary *model.DailySummary) error {
	if summary == nil || summary.Date.IsZero() {
		return common.Permanent(fmt.Errorf("%w: summary", ErrNilParameter))
	}
	if summary.UpdatedAt.IsZero() {
		summary.UpdatedAt = time.Now().UTC()
	}

	breakdown, err := marshalBreakdown(summary.CurrencyBreakdown)
	if err != nil {
		return err
	}

	_, err = p.pool.Exec(ctx, `
		INSERT INTO daily_summaries (`+summaryColumns+`)
		VALUES ($1, $2::numeric, $3, $4::jsonb, $5, $6)
		ON CONFLICT (date) DO UPDATE SET
			total_amount = EXCLUDED.total_amount,
			transaction_count = EXCLUDED.transaction_count,
			currency_breakdown = EXCLUDED.currency_breakdown,
			summary_text = EXCLUDED.summary_text,
			updated_at = EXCLUDED.updated_at`,
		model.TruncateDay(summary.Date), summary.TotalAmount.String(), summary.TransactionCount,
		breakdown, summary.SummaryText, summary.UpdatedAt,
	)
	return classifyPostgresError(err)
}

// SummariesInRange returns stored summaries within r in ascending date order.
func (p *PostgresStorage) SummariesInRange(ctx context.Context, r model.DateRange) ([]model.DailySummary, error) {
	if err := validateRange(r); err != nil {
		return nil, err
	}

	rows, err := p.pool.Query(ctx, `
		SELECT to_char(date, 'YYYY-MM-DD'), total_amount::text, transaction_count,
		       currency_breakdown::text, summary_text, updated_at
		FROM daily_summaries
		WHERE date >= $1 AND date <= $2
		ORDER BY date`,
		r.Start, r.End,
	)
	if err != nil {
		return nil, classifyPostgresError(fmt.Errorf("failed to query summaries: %w", err))
	}
	defer rows.Close()

	var summaries []model.DailySummary
	for rows.Next() {
		summary, err := scanSummary(rows)
		if err != nil {
			return nil, err
		}
		summaries = append(summaries, *summary)
	}
	return summaries, rows.Err()
}

// SaveRun upserts the audit record for a run.
func (p *PostgresStorage) SaveRun(ctx context.Context, run model.RunState) error {
	if err := validateRun(run); err != nil {
		return err
	}

	var finished *time.Time
	if !run.FinishedAt.IsZero() {
		finished = &run.FinishedAt
	}

	_, err := p.pool.Exec(ctx, `
		INSERT INTO runs (`+runColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, NULLIF($12, ''), $13, $14)
		ON CONFLICT (run_id) DO UPDATE SET
			status = EXCLUDED.status,
			total_candidates = EXCLUDED.total_candidates,
			processed_count = EXCLUDED.processed_count,
			extracted_count = EXCLUDED.extracted_count,
			failed_count = EXCLUDED.failed_count,
			skipped_count = EXCLUDED.skipped_count,
			halted = EXCLUDED.halted,
			last_error = EXCLUDED.last_error,
			finished_at = EXCLUDED.finished_at`,
		run.RunID, string(run.Trigger), run.Range.Start, run.Range.End, string(run.Status),
		run.TotalCandidates, run.ProcessedCount, run.ExtractedCount, run.FailedCount, run.SkippedCount,
		run.Halted, run.LastError, run.StartedAt, finished,
	)
	return classifyPostgresError(err)
}

// LastSuccessfulRun returns the latest completed, unhalted run of trigger, or common.ErrNotFound.
func (p *PostgresStorage) LastSuccessfulRun(ctx context.Context, trigger model.Trigger) (*model.RunState, error) {
	var (
		run        model.RunState
		trig       string
		status     string
		rangeStart time.Time
		rangeEnd   time.Time
		lastError  string
		finished   *time.Time
	)
	err := p.pool.QueryRow(ctx, `
		SELECT run_id, trigger, range_start, range_end, status, total_candidates, processed_count,
		       extracted_count, failed_count, skipped_count, halted, COALESCE(last_error, ''),
		       started_at, finished_at
		FROM runs
		WHERE trigger = $1 AND status = $2 AND NOT halted
		ORDER BY finished_at DESC NULLS LAST
		LIMIT 1`,
		string(trigger), string(model.RunDone),
	).Scan(&run.RunID, &trig, &rangeStart, &rangeEnd, &status, &run.TotalCandidates, &run.ProcessedCount,
		&run.ExtractedCount, &run.FailedCount, &run.SkippedCount, &run.Halted, &lastError,
		&run.StartedAt, &finished)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("successful %s run: %w", trigger, common.ErrNotFound)
	}
	if err != nil {
		return nil, classifyPostgresError(err)
	}

	run.Trigger = model.Trigger(trig)
	run.Status = model.RunStatus(status)
	run.Range = model.DateRange{Start: model.TruncateDay(rangeStart), End: model.TruncateDay(rangeEnd)}
	run.LastError = lastError
	if finished != nil {
		run.FinishedAt = *finished
	}
	return &run, nil
}

// classifyPostgresError tags connection loss and serialization conflicts as transient.
func classifyPostgresError(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", "40P01", "53300", "57P03":
			return fmt.Errorf("%w: %w", common.ErrStoreUnavailable, err)
		}
		return err
	}
	if pgconn.SafeToRetry(err) || pgconn.Timeout(err) {
		return fmt.Errorf("%w: %w", common.ErrStoreUnavailable, err)
	}
	return err
}
