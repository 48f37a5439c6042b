package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/Veraticus/mailtally/internal/model"
)

const transactionColumns = `id, source_message_id, date, vendor, amount, currency, direction, category, reference, created_at`

// Commit records the transaction and marks its source message processed in one database transaction.
// Committing the same source message twice leaves exactly one row.
func (s *SQLiteStorage) Commit(ctx context.Context, txn *model.Transaction) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateTransaction(txn); err != nil {
		return err
	}
	if txn.ID == "" {
		txn.ID = uuid.NewString()
	}
	if txn.CreatedAt.IsZero() {
		txn.CreatedAt = time.Now().UTC()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return classifySQLiteError(fmt.Errorf("failed to begin transaction: %w", err))
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	_, err = tx.ExecContext(ctx, `
		INSERT OR IGNORE INTO transactions (`+transactionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		txn.ID, txn.SourceMessageID, txn.Day().Format(model.DateLayout), txn.Vendor,
		txn.Amount.String(), txn.Currency, string(txn.Direction), txn.Category,
		nullString(txn.Reference), txn.CreatedAt,
	)
	if err != nil {
		return classifySQLiteError(fmt.Errorf("failed to insert transaction %s: %w", txn.SourceMessageID, err))
	}

	_, err = tx.ExecContext(ctx, `
		INSERT OR IGNORE INTO processed_messages (message_id, outcome, reason, processed_at)
		VALUES (?, 'extracted', NULL, ?)`,
		txn.SourceMessageID, txn.CreatedAt,
	)
	if err != nil {
		return classifySQLiteError(fmt.Errorf("failed to mark message %s processed: %w", txn.SourceMessageID, err))
	}

	if err = tx.Commit(); err != nil {
		return classifySQLiteError(fmt.Errorf("failed to commit transaction: %w", err))
	}
	return nil
}

// Replace overwrites the transaction recorded for txn.SourceMessageID, inserting it if absent.
// The stored row keeps its original ID.
func (s *SQLiteStorage) Replace(ctx context.Context, txn *model.Transaction) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateTransaction(txn); err != nil {
		return err
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE transactions
		SET date = ?, vendor = ?, amount = ?, currency = ?, direction = ?, category = ?, reference = ?
		WHERE source_message_id = ?`,
		txn.Day().Format(model.DateLayout), txn.Vendor, txn.Amount.String(), txn.Currency,
		string(txn.Direction), txn.Category, nullString(txn.Reference), txn.SourceMessageID,
	)
	if err != nil {
		return classifySQLiteError(fmt.Errorf("failed to replace transaction %s: %w", txn.SourceMessageID, err))
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rows == 0 {
		return s.Commit(ctx, txn)
	}
	return nil
}

// TransactionsInRange returns transactions dated within r, ordered by date then creation time.
func (s *SQLiteStorage) TransactionsInRange(ctx context.Context, r model.DateRange) ([]model.Transaction, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateRange(r); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+transactionColumns+`
		FROM transactions
		WHERE date >= ? AND date <= ?
		ORDER BY date, created_at, id`,
		r.Start.Format(model.DateLayout), r.End.Format(model.DateLayout),
	)
	if err != nil {
		return nil, classifySQLiteError(fmt.Errorf("failed to query transactions: %w", err))
	}
	defer func() { _ = rows.Close() }()

	var txns []model.Transaction
	for rows.Next() {
		txn, scanErr := scanTransaction(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		txns = append(txns, txn)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating transactions: %w", err)
	}
	return txns, nil
}

func scanTransaction(rows *sql.Rows) (model.Transaction, error) {
	var (
		txn       model.Transaction
		date      string
		amount    string
		direction string
		reference sql.NullString
	)
	err := rows.Scan(&txn.ID, &txn.SourceMessageID, &date, &txn.Vendor, &amount,
		&txn.Currency, &direction, &txn.Category, &reference, &txn.CreatedAt)
	if err != nil {
		return txn, fmt.Errorf("failed to scan transaction: %w", err)
	}

	txn.Date, err = time.Parse(model.DateLayout, date)
	if err != nil {
		return txn, fmt.Errorf("invalid stored date %q: %w", date, err)
	}
	txn.Amount, err = decimal.NewFromString(amount)
	if err != nil {
		return txn, fmt.Errorf("invalid stored amount %q: %w", amount, err)
	}
	txn.Direction = model.Direction(direction)
	txn.Reference = reference.String
	return txn, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
