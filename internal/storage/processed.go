package storage

import (
	"context"
	"fmt"
	"time"
)

// Has reports whether a message has already been processed, with or without a transaction.
func (s *SQLiteStorage) Has(ctx context.Context, messageID string) (bool, error) {
	if err := validateContext(ctx); err != nil {
		return false, err
	}
	if err := validateString(messageID, "messageID"); err != nil {
		return false, err
	}

	var exists bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM processed_messages WHERE message_id = ?)
		    OR EXISTS(SELECT 1 FROM transactions WHERE source_message_id = ?)`,
		messageID, messageID,
	).Scan(&exists)
	if err != nil {
		return false, classifySQLiteError(fmt.Errorf("failed to check message %s: %w", messageID, err))
	}
	return exists, nil
}

// MarkProcessedNoExtraction records that a message yielded no transaction so it is not retried.
func (s *SQLiteStorage) MarkProcessedNoExtraction(ctx context.Context, messageID, reason string) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateString(messageID, "messageID"); err != nil {
		return err
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO processed_messages (message_id, outcome, reason, processed_at)
		VALUES (?, 'no_extraction', ?, ?)`,
		messageID, nullString(reason), time.Now().UTC(),
	)
	if err != nil {
		return classifySQLiteError(fmt.Errorf("failed to mark message %s processed: %w", messageID, err))
	}
	return nil
}
