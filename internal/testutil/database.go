// Package testutil provides shared fixtures for package tests.
package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Veraticus/mailtally/internal/model"
	"github.com/Veraticus/mailtally/internal/storage"
)

// SetupTestDB creates a migrated in-memory SQLite store that is closed when the test ends.
func SetupTestDB(t *testing.T) *storage.SQLiteStorage {
	t.Helper()

	store, err := storage.NewSQLiteStorage(":memory:")
	if err != nil {
		t.Fatalf("failed to create test database: %v", err)
	}

	if err := store.Migrate(context.Background()); err != nil {
		t.Fatalf("failed to run migrations: %v", err)
	}

	t.Cleanup(func() {
		_ = store.Close()
	})

	return store
}

// Day parses a YYYY-MM-DD string or fails the test.
func Day(t *testing.T, s string) time.Time {
	t.Helper()
	d, err := time.Parse(model.DateLayout, s)
	if err != nil {
		t.Fatalf("invalid test date %q: %v", s, err)
	}
	return d
}

// Txn builds a transaction for messageID on day.
func Txn(t *testing.T, messageID, day, vendor, amount, currency string, dir model.Direction, category string) *model.Transaction {
	t.Helper()
	return &model.Transaction{
		SourceMessageID: messageID,
		Date:            Day(t, day),
		Vendor:          vendor,
		Amount:          decimal.RequireFromString(amount),
		Currency:        currency,
		Direction:       dir,
		Category:        category,
	}
}

// Message builds a raw message received at noon UTC on day.
func Message(t *testing.T, id, day, sender, subject, body string) model.RawMessage {
	t.Helper()
	return model.RawMessage{
		MessageID:  id,
		ReceivedAt: Day(t, day).Add(12 * time.Hour),
		Sender:     sender,
		Subject:    subject,
		BodyText:   body,
	}
}
