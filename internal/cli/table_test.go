package cli

import (
	"bytes"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Veraticus/mailtally/internal/model"
)

func TestRenderTransactions(t *testing.T) {
	day := time.Date(2025, 1, 10, 0, 0, 0, 0, time.UTC)
	txns := []model.Transaction{
		{Date: day, Vendor: "Corner Cafe", Amount: decimal.RequireFromString("12.5"), Currency: "USD", Direction: model.DirectionDebit, Category: "Food & Dining"},
		{Date: day, Vendor: "Employer", Amount: decimal.RequireFromString("1000"), Currency: "USD", Direction: model.DirectionCredit, Category: "Income", Reference: "PAY-1"},
	}

	var buf bytes.Buffer
	require.NoError(t, RenderTransactions(&buf, txns))

	out := buf.String()
	assert.Contains(t, out, "Corner Cafe")
	assert.Contains(t, out, "-12.50 USD")
	assert.Contains(t, out, "+1000.00 USD")
	assert.Contains(t, out, "PAY-1")
	assert.Contains(t, out, "2025-01-10")
}

func TestRenderTransactions_Empty(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, RenderTransactions(&buf, nil))
	assert.Contains(t, buf.String(), "No transactions")
}

func TestRenderSummaries(t *testing.T) {
	summaries := []model.DailySummary{{
		Date:             time.Date(2025, 1, 10, 0, 0, 0, 0, time.UTC),
		TotalAmount:      decimal.RequireFromString("52.5"),
		TransactionCount: 3,
		CurrencyBreakdown: map[string]model.CurrencyTotal{
			"USD": {Debit: decimal.RequireFromString("52.5"), Credit: decimal.RequireFromString("10"), Count: 2},
			"EUR": {Debit: decimal.Zero, Credit: decimal.Zero, Count: 1},
		},
	}}

	var buf bytes.Buffer
	require.NoError(t, RenderSummaries(&buf, summaries))

	out := buf.String()
	assert.Contains(t, out, "52.50")
	assert.Contains(t, out, "EUR -0.00, USD -52.50 +10.00")
}

func TestRenderRun(t *testing.T) {
	started := time.Date(2025, 1, 12, 9, 0, 0, 0, time.UTC)
	base := model.RunState{
		Range:           model.SingleDay(started),
		StartedAt:       started,
		FinishedAt:      started.Add(3 * time.Second),
		TotalCandidates: 3,
		ProcessedCount:  3,
		ExtractedCount:  2,
		FailedCount:     1,
	}

	tests := []struct {
		mutate func(*model.RunState)
		name   string
		want   []string
	}{
		{name: "done", mutate: func(*model.RunState) {}, want: []string{"Run Complete", "Transactions: 2", "Failed extractions: 1"}},
		{name: "halted", mutate: func(r *model.RunState) { r.Halted = true }, want: []string{"Run Halted", "Stopped before"}},
		{name: "failed", mutate: func(r *model.RunState) {
			r.Status = model.RunFailed
			r.LastError = "email source unavailable"
		}, want: []string{"Run Failed", "email source unavailable"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			run := base
			run.Status = model.RunDone
			tt.mutate(&run)
			out := RenderRun(run)
			for _, w := range tt.want {
				assert.Contains(t, out, w)
			}
		})
	}
}
