package model

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Direction indicates whether money entered or left the account.
type Direction string

// Direction constants.
const (
	DirectionCredit Direction = "credit"
	DirectionDebit  Direction = "debit"
)

// IsValid reports whether d is a known direction.
func (d Direction) IsValid() bool {
	return d == DirectionCredit || d == DirectionDebit
}

// ParseDirection normalizes the loose spellings models tend to produce.
func ParseDirection(s string) (Direction, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "credit", "cr", "credited", "income", "in":
		return DirectionCredit, nil
	case "debit", "dr", "debited", "expense", "out", "spent":
		return DirectionDebit, nil
	default:
		return "", fmt.Errorf("unknown direction %q", s)
	}
}

// Transaction is a single extracted money movement.
// SourceMessageID is the dedup key: at most one Transaction exists per message.
type Transaction struct {
	Date            time.Time       `json:"date"`
	CreatedAt       time.Time       `json:"created_at"`
	ID              string          `json:"id"`
	SourceMessageID string          `json:"source_message_id"`
	Vendor          string          `json:"vendor"`
	Currency        string          `json:"currency"`
	Direction       Direction       `json:"direction"`
	Category        string          `json:"category"`
	Reference       string          `json:"reference,omitempty"`
	Amount          decimal.Decimal `json:"amount"`
}

// Day returns the calendar day of the transaction in UTC.
func (t Transaction) Day() time.Time {
	return TruncateDay(t.Date)
}
