package extract

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Veraticus/mailtally/internal/model"
)

// Kind is the outcome of an extraction.
type Kind int

// Extraction outcomes.
const (
	KindExtracted Kind = iota
	KindNoTransaction
	KindFailed
)

func (k Kind) String() string {
	switch k {
	case KindExtracted:
		return "extracted"
	case KindNoTransaction:
		return "no-transaction"
	case KindFailed:
		return "failed"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// FailureKind classifies why a reply could not be turned into a transaction.
type FailureKind string

// Failure kinds.
const (
	FailureMalformedResponse    FailureKind = "malformed_response"
	FailureIncompleteExtraction FailureKind = "incomplete_extraction"
	FailureImplausibleDate      FailureKind = "implausible_date"
)

// retryable reports whether a stricter second prompt might fix the failure.
func (k FailureKind) retryable() bool {
	return k == FailureMalformedResponse || k == FailureIncompleteExtraction
}

// Failure is a terminal extraction failure for one message.
type Failure struct {
	Kind     FailureKind
	Reason   string
	Attempts int
}

func (f *Failure) Error() string {
	return fmt.Sprintf("%s: %s (after %d attempts)", f.Kind, f.Reason, f.Attempts)
}

// Fields are the validated values of an extracted transaction.
type Fields struct {
	Date      time.Time
	Vendor    string
	Currency  string
	Direction model.Direction
	Category  string
	Reference string
	Amount    decimal.Decimal
}

// Result is the tagged outcome of Extract. Fields is set for KindExtracted,
// Failure for KindFailed and Reason for KindNoTransaction.
type Result struct {
	Failure *Failure
	Reason  string
	Fields  Fields
	Kind    Kind
}

// Transaction builds the transaction for an extracted result.
func (r Result) Transaction(messageID string) *model.Transaction {
	return &model.Transaction{
		SourceMessageID: messageID,
		Date:            r.Fields.Date,
		Vendor:          r.Fields.Vendor,
		Amount:          r.Fields.Amount,
		Currency:        r.Fields.Currency,
		Direction:       r.Fields.Direction,
		Category:        r.Fields.Category,
		Reference:       r.Fields.Reference,
	}
}
