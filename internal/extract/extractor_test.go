package extract

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Veraticus/mailtally/internal/common"
	"github.com/Veraticus/mailtally/internal/llm"
	"github.com/Veraticus/mailtally/internal/model"
)

// scriptedClient returns replies in order and records requests.
type scriptedClient struct {
	errs     []error
	replies  []string
	requests []llm.Request
	mu       sync.Mutex
}

func (c *scriptedClient) Complete(_ context.Context, req llm.Request) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	i := len(c.requests)
	c.requests = append(c.requests, req)
	if i < len(c.errs) && c.errs[i] != nil {
		return "", c.errs[i]
	}
	if i < len(c.replies) {
		return c.replies[i], nil
	}
	return "", errors.New("no scripted reply")
}

func testOptions() Options {
	opts := DefaultOptions()
	opts.DefaultCurrency = "INR"
	opts.Retry = common.RetryOptions{MaxAttempts: 2, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond}
	return opts
}

func candidate() model.Candidate {
	return model.Candidate{
		IsCandidate: true,
		RawMessage: model.RawMessage{
			MessageID:  "m1",
			ReceivedAt: time.Date(2025, 6, 3, 9, 30, 0, 0, time.UTC),
			Sender:     "alerts@bank.example",
			Subject:    "Debit alert",
			BodyText:   "Rs.67.53 has been debited from your card to APOLLO PHARMACY on 03-06-25.",
		},
	}
}

func TestExtractor_Extract(t *testing.T) {
	tests := []struct {
		name        string
		replies     []string
		wantKind    Kind
		wantFailure FailureKind
		wantCalls   int
		check       func(t *testing.T, r Result)
	}{
		{
			name:      "valid reply",
			replies:   []string{`{"is_transaction":true,"amount":67.53,"currency":"inr","direction":"debit","vendor":"APOLLO PHARMACY","date":"2025-06-03","reference":"438453534","category":"shopping"}`},
			wantKind:  KindExtracted,
			wantCalls: 1,
			check: func(t *testing.T, r Result) {
				assert.True(t, decimal.RequireFromString("67.53").Equal(r.Fields.Amount))
				assert.Equal(t, "INR", r.Fields.Currency)
				assert.Equal(t, model.DirectionDebit, r.Fields.Direction)
				assert.Equal(t, "Shopping", r.Fields.Category)
				assert.Equal(t, "438453534", r.Fields.Reference)
				assert.Equal(t, time.Date(2025, 6, 3, 0, 0, 0, 0, time.UTC), r.Fields.Date)
			},
		},
		{
			name:      "fenced reply with think block and legacy field names",
			replies:   []string{"<think>reasoning</think>\n```json\n{\"amount\":\"1,250.00\",\"type\":\"credit\",\"vendor\":\"ACME Payroll\",\"date\":\"2025-06-02\",\"ref\":\"R1\",\"category\":\"Salary\"}\n```"},
			wantKind:  KindExtracted,
			wantCalls: 1,
			check: func(t *testing.T, r Result) {
				assert.True(t, decimal.RequireFromString("1250").Equal(r.Fields.Amount))
				assert.Equal(t, "INR", r.Fields.Currency, "default currency")
				assert.Equal(t, model.DirectionCredit, r.Fields.Direction)
				assert.Equal(t, CategoryOther, r.Fields.Category)
				assert.Equal(t, "R1", r.Fields.Reference)
			},
		},
		{
			name:      "model says no transaction",
			replies:   []string{`{"is_transaction":false}`},
			wantKind:  KindNoTransaction,
			wantCalls: 1,
		},
		{
			name:      "zero amount means no transaction",
			replies:   []string{`{"amount":0,"direction":"debit","vendor":"X","date":"2025-06-03"}`},
			wantKind:  KindNoTransaction,
			wantCalls: 1,
		},
		{
			name:      "malformed then valid",
			replies:   []string{"I think this is a payment", `{"amount":5,"direction":"debit","vendor":"Cafe","date":"2025-06-03"}`},
			wantKind:  KindExtracted,
			wantCalls: 2,
		},
		{
			name:        "malformed twice",
			replies:     []string{"nope", "still nope"},
			wantKind:    KindFailed,
			wantFailure: FailureMalformedResponse,
			wantCalls:   2,
		},
		{
			name:        "incomplete twice",
			replies:     []string{`{"amount":5,"date":"2025-06-03"}`, `{"amount":5,"vendor":"","date":"2025-06-03","direction":"debit"}`},
			wantKind:    KindFailed,
			wantFailure: FailureIncompleteExtraction,
			wantCalls:   2,
		},
		{
			name:        "negative amount is incomplete",
			replies:     []string{`{"amount":-5,"direction":"debit","vendor":"X","date":"2025-06-03"}`, `{"amount":"abc","direction":"debit","vendor":"X","date":"2025-06-03"}`},
			wantKind:    KindFailed,
			wantFailure: FailureIncompleteExtraction,
			wantCalls:   2,
		},
		{
			name:        "implausible date is not retried",
			replies:     []string{`{"amount":5,"direction":"debit","vendor":"X","date":"2024-01-01"}`},
			wantKind:    KindFailed,
			wantFailure: FailureImplausibleDate,
			wantCalls:   1,
		},
		{
			name:        "unknown direction",
			replies:     []string{`{"amount":5,"direction":"sideways","vendor":"X","date":"2025-06-03"}`, `{"amount":5,"direction":"sideways","vendor":"X","date":"2025-06-03"}`},
			wantKind:    KindFailed,
			wantFailure: FailureIncompleteExtraction,
			wantCalls:   2,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := &scriptedClient{replies: tt.replies}
			e := New(client, testOptions(), nil)

			result, err := e.Extract(context.Background(), candidate())
			require.NoError(t, err)
			assert.Equal(t, tt.wantKind, result.Kind)
			assert.Len(t, client.requests, tt.wantCalls)

			if tt.wantKind == KindFailed {
				require.NotNil(t, result.Failure)
				assert.Equal(t, tt.wantFailure, result.Failure.Kind)
				assert.Equal(t, tt.wantCalls, result.Failure.Attempts)
			}
			if tt.check != nil {
				tt.check(t, result)
			}
		})
	}
}

func TestExtractor_StricterRetryPrompt(t *testing.T) {
	client := &scriptedClient{replies: []string{"garbage", `{"amount":5,"direction":"debit","vendor":"Cafe","date":"2025-06-03"}`}}
	e := New(client, testOptions(), nil)

	_, err := e.Extract(context.Background(), candidate())
	require.NoError(t, err)
	require.Len(t, client.requests, 2)

	assert.NotContains(t, client.requests[0].System, "previous reply was rejected")
	assert.Contains(t, client.requests[1].System, "previous reply was rejected")
	assert.Equal(t, client.requests[0].User, client.requests[1].User)
	assert.Contains(t, client.requests[0].User, "Subject: Debit alert")
	assert.NotNil(t, client.requests[0].Schema)
}

func TestExtractor_InferenceUnavailable(t *testing.T) {
	down := errors.New("connection refused")
	client := &scriptedClient{errs: []error{down, down}}
	e := New(client, testOptions(), nil)

	_, err := e.Extract(context.Background(), candidate())
	require.Error(t, err)
	assert.ErrorIs(t, err, common.ErrInferenceUnavailable)
	assert.ErrorIs(t, err, down)
	assert.Len(t, client.requests, 2, "transport failures are retried once")
}

func TestExtractor_TransportRecovers(t *testing.T) {
	client := &scriptedClient{
		errs:    []error{errors.New("timeout")},
		replies: []string{"", `{"amount":5,"direction":"debit","vendor":"Cafe","date":"2025-06-03"}`},
	}
	e := New(client, testOptions(), nil)

	result, err := e.Extract(context.Background(), candidate())
	require.NoError(t, err)
	assert.Equal(t, KindExtracted, result.Kind)
}

func TestBuildUserPrompt_TruncatesBody(t *testing.T) {
	msg := candidate().RawMessage
	msg.BodyText = strings.Repeat("é", 100)

	prompt := buildUserPrompt(msg, 11)
	body := prompt[strings.LastIndex(prompt, "\n")+1:]
	assert.Equal(t, strings.Repeat("é", 5), body)
}

func TestResult_Transaction(t *testing.T) {
	r := Result{Kind: KindExtracted, Fields: Fields{Vendor: "Cafe", Amount: decimal.NewFromInt(3), Currency: "USD",
		Direction: model.DirectionDebit, Category: "Food & Drink"}}
	txn := r.Transaction("m1")
	assert.Equal(t, "m1", txn.SourceMessageID)
	assert.Equal(t, "Cafe", txn.Vendor)
	assert.Equal(t, "extracted", KindExtracted.String())
}

func TestParseAmount(t *testing.T) {
	tests := []struct {
		raw     string
		want    string
		wantErr bool
	}{
		{raw: `67.53`, want: "67.53"},
		{raw: `"1,250.00"`, want: "1250"},
		{raw: `"1,234"`, want: "1234"},
		{raw: `"1,23,456.50"`, want: "123456.5"},
		{raw: `"5,00"`, want: "5"},
		{raw: `"12,50"`, want: "12.5"},
		{raw: `"1.234,56"`, want: "1234.56"},
		{raw: `"12,5"`, wantErr: true},
		{raw: `",500"`, wantErr: true},
		{raw: `"1,2345.00"`, wantErr: true},
		{raw: `"-4.00"`, wantErr: true},
		{raw: `"abc"`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, err := parseAmount([]byte(tt.raw))
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.True(t, decimal.RequireFromString(tt.want).Equal(got), "got %s", got)
		})
	}
}
