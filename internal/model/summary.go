package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// CurrencyTotal aggregates one currency's movements for a day.
type CurrencyTotal struct {
	Debit  decimal.Decimal `json:"debit"`
	Credit decimal.Decimal `json:"credit"`
	Count  int             `json:"count"`
}

// DailySummary is derived entirely from the day's transactions.
// TotalAmount is the sum of debit amounts (spending) across currencies;
// credits only appear in CurrencyBreakdown.
type DailySummary struct {
	Date              time.Time                `json:"date"`
	UpdatedAt         time.Time                `json:"updated_at"`
	CurrencyBreakdown map[string]CurrencyTotal `json:"currency_breakdown"`
	SummaryText       string                   `json:"summary_text"`
	TotalAmount       decimal.Decimal          `json:"total_amount"`
	TransactionCount  int                      `json:"transaction_count"`
}
