// Package service defines the interfaces for all application services.
package service

import (
	"context"
	"time"

	"github.com/Veraticus/mailtally/internal/model"
)

// Store defines the contract for our persistence layer.
// It is used from the single pipeline executor; no concurrent writers are assumed.
type Store interface {
	// Dedup
	Has(ctx context.Context, messageID string) (bool, error)
	MarkProcessedNoExtraction(ctx context.Context, messageID, reason string) error

	// Transactions
	Commit(ctx context.Context, txn *model.Transaction) error
	Replace(ctx context.Context, txn *model.Transaction) error
	TransactionsInRange(ctx context.Context, r model.DateRange) ([]model.Transaction, error)

	// Summaries
	SummaryFor(ctx context.Context, day time.Time) (*model.DailySummary, error)
	SaveSummary(ctx context.Context, summary *model.DailySummary) error
	SummariesInRange(ctx context.Context, r model.DateRange) ([]model.DailySummary, error)

	// Run audit
	SaveRun(ctx context.Context, run model.RunState) error
	LastSuccessfulRun(ctx context.Context, trigger model.Trigger) (*model.RunState, error)

	// Database management
	Migrate(ctx context.Context) error
	Close() error
}
