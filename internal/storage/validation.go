// Package storage provides the data persistence layer for mailtally.
package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/Veraticus/mailtally/internal/common"
	"github.com/Veraticus/mailtally/internal/model"
)

// Validation errors.
var (
	ErrNilContext         = errors.New("context cannot be nil")
	ErrEmptyString        = errors.New("string parameter cannot be empty")
	ErrNilParameter       = errors.New("parameter cannot be nil")
	ErrInvalidDateRange   = errors.New("start date must be before end date")
	ErrInvalidTransaction = errors.New("invalid transaction")
	ErrInvalidRun         = errors.New("invalid run")
)

// validateContext ensures the context is not nil.
func validateContext(ctx context.Context) error {
	if ctx == nil {
		return ErrNilContext
	}
	return nil
}

// validateString ensures a string parameter is not empty.
func validateString(s string, paramName string) error {
	if strings.TrimSpace(s) == "" {
		return fmt.Errorf("%w: %s", ErrEmptyString, paramName)
	}
	return nil
}

// validateTransaction validates a single transaction. Failures are permanent.
func validateTransaction(txn *model.Transaction) error {
	if txn == nil {
		return common.Permanent(fmt.Errorf("%w: transaction", ErrNilParameter))
	}

	var problem string
	switch {
	case strings.TrimSpace(txn.SourceMessageID) == "":
		problem = "missing source message ID"
	case txn.Date.IsZero():
		problem = "missing date"
	case strings.TrimSpace(txn.Vendor) == "":
		problem = "missing vendor"
	case txn.Amount.IsNegative():
		problem = "negative amount"
	case strings.TrimSpace(txn.Currency) == "":
		problem = "missing currency"
	case !txn.Direction.IsValid():
		problem = fmt.Sprintf("invalid direction %q", txn.Direction)
	case strings.TrimSpace(txn.Category) == "":
		problem = "missing category"
	}

	if problem != "" {
		return common.Permanent(fmt.Errorf("%w: %s", ErrInvalidTransaction, problem))
	}
	return nil
}

// validateRange validates a date range.
func validateRange(r model.DateRange) error {
	if r.Start.IsZero() || r.End.IsZero() {
		return fmt.Errorf("%w: zero bound", ErrInvalidDateRange)
	}
	if r.End.Before(r.Start) {
		return fmt.Errorf("%w: end date %v is before start date %v", ErrInvalidDateRange, r.End, r.Start)
	}
	return nil
}

// validateRun validates a run before it is audited.
func validateRun(run model.RunState) error {
	if strings.TrimSpace(run.RunID) == "" {
		return common.Permanent(fmt.Errorf("%w: missing run ID", ErrInvalidRun))
	}
	if run.StartedAt.IsZero() {
		return common.Permanent(fmt.Errorf("%w: missing start time", ErrInvalidRun))
	}
	return nil
}
