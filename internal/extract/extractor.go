// Package extract turns candidate emails into validated transactions using a language model.
package extract

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Veraticus/mailtally/internal/common"
	"github.com/Veraticus/mailtally/internal/llm"
	"github.com/Veraticus/mailtally/internal/model"
)

// Options configures an Extractor.
type Options struct {
	DefaultCurrency string
	DateSlack       time.Duration
	Timeout         time.Duration
	MaxBodyChars    int
	Retry           common.RetryOptions
}

// DefaultOptions returns the stock extraction settings.
func DefaultOptions() Options {
	return Options{
		DefaultCurrency: "USD",
		DateSlack:       72 * time.Hour,
		Timeout:         90 * time.Second,
		MaxBodyChars:    6000,
		Retry: common.RetryOptions{
			MaxAttempts:  2,
			InitialDelay: time.Second,
			MaxDelay:     10 * time.Second,
			Multiplier:   2,
		},
	}
}

// Extractor asks the model for a transaction and validates the reply locally.
type Extractor struct {
	client llm.Client
	logger *slog.Logger
	opts   Options
}

// New creates an Extractor.
func New(client llm.Client, opts Options, logger *slog.Logger) *Extractor {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.DefaultCurrency == "" {
		opts.DefaultCurrency = "USD"
	}
	return &Extractor{client: client, opts: opts, logger: logger}
}

// Extract returns the tagged outcome for c. A malformed or incomplete reply is
// retried once with a stricter instruction. The returned error is non-nil only
// when the inference service itself is unreachable; it wraps
// common.ErrInferenceUnavailable and the message should be left unprocessed.
func (e *Extractor) Extract(ctx context.Context, c model.Candidate) (Result, error) {
	if e.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.opts.Timeout)
		defer cancel()
	}

	userPrompt := buildUserPrompt(c.RawMessage, e.opts.MaxBodyChars)

	var (
		result   Result
		previous string
	)
	for attempt := 1; attempt <= 2; attempt++ {
		reply, err := e.complete(ctx, llm.Request{
			System: buildSystemPrompt(previous),
			User:   userPrompt,
			Schema: responseSchema,
		})
		if err != nil {
			return Result{}, fmt.Errorf("%w: extracting %s: %w", common.ErrInferenceUnavailable, c.MessageID, err)
		}

		result = e.parse(reply, c.ReceivedAt)
		if result.Kind != KindFailed {
			return result, nil
		}

		result.Failure.Attempts = attempt
		if !result.Failure.Kind.retryable() {
			break
		}

		e.logger.Debug("Extraction rejected, retrying with stricter prompt",
			"message_id", c.MessageID,
			"kind", result.Failure.Kind,
			"reason", result.Failure.Reason)
		previous = result.Failure.Reason
	}

	return result, nil
}

func (e *Extractor) complete(ctx context.Context, req llm.Request) (string, error) {
	var reply string
	err := common.WithRetry(ctx, func() error {
		var err error
		reply, err = e.client.Complete(ctx, req)
		return err
	}, e.opts.Retry)
	return reply, err
}

type modelReply struct {
	IsTransaction *bool           `json:"is_transaction"`
	Amount        json.RawMessage `json:"amount"`
	Currency      string          `json:"currency"`
	Direction     string          `json:"direction"`
	Type          string          `json:"type"`
	Vendor        string          `json:"vendor"`
	Date          string          `json:"date"`
	Reference     string          `json:"reference"`
	Ref           string          `json:"ref"`
	Category      string          `json:"category"`
}

var dateLayouts = []string{model.DateLayout, "2006/01/02", time.RFC3339}

// parse validates a raw model reply. It never trusts the model's types or ranges.
func (e *Extractor) parse(raw string, receivedAt time.Time) Result {
	var r modelReply
	if err := json.Unmarshal([]byte(llm.CleanJSON(raw)), &r); err != nil {
		return failed(FailureMalformedResponse, "reply is not a JSON object: %v", err)
	}

	if r.IsTransaction != nil && !*r.IsTransaction {
		return Result{Kind: KindNoTransaction, Reason: "model reported no transaction"}
	}

	var missing []string
	vendor := strings.TrimSpace(r.Vendor)
	if vendor == "" {
		missing = append(missing, "vendor")
	}
	if strings.TrimSpace(r.Date) == "" {
		missing = append(missing, "date")
	}
	if len(r.Amount) == 0 || string(r.Amount) == "null" {
		missing = append(missing, "amount")
	}
	dirText := r.Direction
	if dirText == "" {
		dirText = r.Type
	}
	if strings.TrimSpace(dirText) == "" {
		missing = append(missing, "direction")
	}
	if len(missing) > 0 {
		return failed(FailureIncompleteExtraction, "missing %s", strings.Join(missing, ", "))
	}

	amount, err := parseAmount(r.Amount)
	if err != nil {
		return failed(FailureIncompleteExtraction, "%v", err)
	}
	if amount.IsZero() {
		return Result{Kind: KindNoTransaction, Reason: "zero amount"}
	}

	direction, err := model.ParseDirection(dirText)
	if err != nil {
		return failed(FailureIncompleteExtraction, "%v", err)
	}

	date, err := parseDate(r.Date)
	if err != nil {
		return failed(FailureIncompleteExtraction, "%v", err)
	}

	if !receivedAt.IsZero() && e.opts.DateSlack > 0 {
		diff := date.Sub(model.TruncateDay(receivedAt))
		if diff < 0 {
			diff = -diff
		}
		if diff > e.opts.DateSlack {
			return failed(FailureImplausibleDate, "date %s is more than %s from receipt on %s",
				date.Format(model.DateLayout), e.opts.DateSlack, receivedAt.Format(model.DateLayout))
		}
	}

	currency := strings.ToUpper(strings.TrimSpace(r.Currency))
	if currency == "" {
		currency = e.opts.DefaultCurrency
	}

	reference := r.Reference
	if reference == "" {
		reference = r.Ref
	}

	return Result{
		Kind: KindExtracted,
		Fields: Fields{
			Date:      date,
			Vendor:    vendor,
			Amount:    amount,
			Currency:  currency,
			Direction: direction,
			Category:  normalizeCategory(r.Category),
			Reference: strings.TrimSpace(reference),
		},
	}
}

func failed(kind FailureKind, format string, args ...any) Result {
	return Result{
		Kind:    KindFailed,
		Failure: &Failure{Kind: kind, Reason: fmt.Sprintf(format, args...), Attempts: 1},
	}
}

// parseAmount accepts a JSON number or a numeric string. Commas are read as
// thousands separators, except a single comma before exactly two trailing
// digits, which is a decimal comma ("5,00", "1.234,56").
func parseAmount(raw json.RawMessage) (decimal.Decimal, error) {
	s := strings.TrimSpace(strings.Trim(strings.TrimSpace(string(raw)), `"`))

	normalized, ok := normalizeSeparators(s)
	if !ok {
		return decimal.Decimal{}, fmt.Errorf("amount %s has ambiguous separators", string(raw))
	}
	amount, err := decimal.NewFromString(normalized)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("amount %s is not a number", string(raw))
	}
	if amount.IsNegative() {
		return decimal.Decimal{}, fmt.Errorf("amount %s is negative", amount)
	}
	return amount, nil
}

func normalizeSeparators(s string) (string, bool) {
	comma := strings.LastIndex(s, ",")
	if comma < 0 {
		return s, true
	}
	dot := strings.LastIndex(s, ".")

	if strings.Count(s, ",") == 1 && len(s)-comma-1 == 2 && dot < comma {
		return strings.ReplaceAll(s[:comma], ".", "") + "." + s[comma+1:], true
	}
	whole, frac := s, ""
	if dot > comma {
		whole, frac = s[:dot], s[dot:]
	}
	return strings.ReplaceAll(whole, ",", "") + frac, validGroups(strings.Split(whole, ","))
}

// validGroups accepts western (1,234,567) and Indian (12,34,567) digit grouping.
func validGroups(groups []string) bool {
	if groups[0] == "" || len(groups[len(groups)-1]) != 3 {
		return false
	}
	for _, g := range groups[1 : len(groups)-1] {
		if len(g) != 2 && len(g) != 3 {
			return false
		}
	}
	return true
}

func parseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return model.TruncateDay(t), nil
		}
	}
	return time.Time{}, fmt.Errorf("date %q is not YYYY-MM-DD", s)
}

func normalizeCategory(s string) string {
	s = strings.TrimSpace(s)
	for _, c := range Categories {
		if strings.EqualFold(c, s) {
			return c
		}
	}
	return CategoryOther
}
