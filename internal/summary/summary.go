// Package summary derives per-day spending summaries from stored transactions.
package summary

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Veraticus/mailtally/internal/model"
	"github.com/Veraticus/mailtally/internal/service"
)

// ErrNoTransactions is returned by Recompute for a day without transactions.
// Such days never get a summary row.
var ErrNoTransactions = errors.New("no transactions on day")

// Aggregator recomputes and stores daily summaries.
type Aggregator struct {
	store  service.Store
	logger *slog.Logger
	now    func() time.Time
}

// NewAggregator creates an Aggregator backed by store.
func NewAggregator(store service.Store, logger *slog.Logger) *Aggregator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Aggregator{store: store, logger: logger, now: time.Now}
}

// Recompute rebuilds the summary for day from the store's transactions and saves it.
func (a *Aggregator) Recompute(ctx context.Context, day time.Time) (*model.DailySummary, error) {
	txns, err := a.store.TransactionsInRange(ctx, model.SingleDay(day))
	if err != nil {
		return nil, fmt.Errorf("failed to load transactions for %s: %w", day.Format(model.DateLayout), err)
	}
	if len(txns) == 0 {
		return nil, ErrNoTransactions
	}

	summary := Build(day, txns)
	summary.UpdatedAt = a.now().UTC()

	if err := a.store.SaveSummary(ctx, summary); err != nil {
		return nil, fmt.Errorf("failed to save summary for %s: %w", day.Format(model.DateLayout), err)
	}

	a.logger.Debug("Recomputed daily summary",
		"date", day.Format(model.DateLayout),
		"transactions", summary.TransactionCount,
		"total", summary.TotalAmount.StringFixed(2))
	return summary, nil
}

// Build projects txns into a summary for day. TotalAmount is the sum of debit
// amounts across currencies; credits are reported only in the breakdown and text.
func Build(day time.Time, txns []model.Transaction) *model.DailySummary {
	summary := &model.DailySummary{
		Date:              model.TruncateDay(day),
		CurrencyBreakdown: make(map[string]model.CurrencyTotal),
		TotalAmount:       decimal.Zero,
		TransactionCount:  len(txns),
	}

	for _, txn := range txns {
		total := summary.CurrencyBreakdown[txn.Currency]
		total.Count++
		switch txn.Direction {
		case model.DirectionDebit:
			total.Debit = total.Debit.Add(txn.Amount)
			summary.TotalAmount = summary.TotalAmount.Add(txn.Amount)
		case model.DirectionCredit:
			total.Credit = total.Credit.Add(txn.Amount)
		}
		summary.CurrencyBreakdown[txn.Currency] = total
	}

	summary.SummaryText = Text(summary, txns)
	return summary
}

// Text renders the plain-text block stored with a summary.
func Text(summary *model.DailySummary, txns []model.Transaction) string {
	var b strings.Builder

	b.WriteString("Total Spending:\n")
	currencies := make([]string, 0, len(summary.CurrencyBreakdown))
	for currency := range summary.CurrencyBreakdown {
		currencies = append(currencies, currency)
	}
	slices.Sort(currencies)

	wrote := false
	for _, currency := range currencies {
		if debit := summary.CurrencyBreakdown[currency].Debit; debit.IsPositive() {
			fmt.Fprintf(&b, "%s %s\n", debit.StringFixed(2), currency)
			wrote = true
		}
	}
	if !wrote {
		b.WriteString("0.00\n")
	}

	var (
		order      []string
		byCategory = map[string][]model.Transaction{}
		credits    []model.Transaction
	)
	for _, txn := range txns {
		if txn.Direction == model.DirectionCredit {
			credits = append(credits, txn)
			continue
		}
		if _, seen := byCategory[txn.Category]; !seen {
			order = append(order, txn.Category)
		}
		byCategory[txn.Category] = append(byCategory[txn.Category], txn)
	}

	for _, category := range order {
		fmt.Fprintf(&b, "\n%s:\n", category)
		for _, txn := range byCategory[category] {
			writeLine(&b, txn)
		}
	}

	if len(credits) > 0 {
		b.WriteString("\nCredits:\n")
		for _, txn := range credits {
			writeLine(&b, txn)
		}
	}

	return strings.TrimRight(b.String(), "\n")
}

func writeLine(b *strings.Builder, txn model.Transaction) {
	fmt.Fprintf(b, "- %s: %s %s\n", txn.Vendor, txn.Amount.StringFixed(2), txn.Currency)
}
