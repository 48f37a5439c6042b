package prefilter

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/Veraticus/mailtally/internal/model"
)

func TestFilter_Classify(t *testing.T) {
	f := New(Options{})

	tests := []struct {
		name      string
		msg       model.RawMessage
		reason    string
		candidate bool
	}{
		{
			name: "bank debit alert",
			msg: model.RawMessage{
				Sender:   "alerts@hdfcbank.net",
				Subject:  "Transaction alert",
				BodyText: "Dear Customer, Rs.67.53 has been debited from your card to APOLLO PHARMACY on 03-06-25.",
			},
			candidate: true,
			reason:    ReasonAmount,
		},
		{
			name:      "pound amount",
			msg:       model.RawMessage{BodyText: "You received a payment of £150.00."},
			candidate: true,
			reason:    ReasonAmount,
		},
		{
			name:      "trailing currency code",
			msg:       model.RawMessage{BodyText: "A transfer of 200 EUR was made from your account."},
			candidate: true,
			reason:    ReasonAmount,
		},
		{
			name:      "keyword without amount",
			msg:       model.RawMessage{Subject: "Your refund has been issued"},
			candidate: true,
			reason:    "keyword:refund",
		},
		{
			name:      "sender hint only",
			msg:       model.RawMessage{Sender: "noreply@billing.example.com", Subject: "Your monthly update"},
			candidate: true,
			reason:    ReasonSender,
		},
		{
			name:      "failed transaction",
			msg:       model.RawMessage{BodyText: "Your transaction of $20 has failed."},
			candidate: false,
			reason:    "negative:has failed",
		},
		{
			name:      "could not be completed",
			msg:       model.RawMessage{BodyText: "Your payment of $50 could not be completed successfully at this time."},
			candidate: false,
			reason:    "negative:could not be completed",
		},
		{
			name:      "invoice due",
			msg:       model.RawMessage{BodyText: "Invoice #123 for $200 is due on 2024-12-31."},
			candidate: false,
			reason:    "negative:is due on",
		},
		{
			name:      "meeting invite",
			msg:       model.RawMessage{Sender: "colleague@example.com", BodyText: "Meeting tomorrow at 10 AM."},
			candidate: false,
			reason:    ReasonNoSignal,
		},
		{
			name:      "single word pending in footer is not decisive",
			msg:       model.RawMessage{BodyText: "INR 1000 credited to your account. Pending items are listed online."},
			candidate: true,
			reason:    ReasonAmount,
		},
		{
			name:      "keyword inside another word does not match",
			msg:       model.RawMessage{Subject: "Unpaid-ish prepaidness"},
			candidate: false,
			reason:    ReasonNoSignal,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := f.Classify(tt.msg)
			assert.Equal(t, tt.candidate, got.IsCandidate)
			assert.Equal(t, tt.reason, got.FilterReason)
			assert.Equal(t, tt.msg, got.RawMessage)
			assert.Equal(t, tt.candidate, f.IsCandidate(tt.msg))
		})
	}
}

func TestFilter_ConfiguredWords(t *testing.T) {
	f := New(Options{
		Keywords:        []string{"Topped Up"},
		NegativePhrases: []string{"  Test Message "},
	})

	got := f.Classify(model.RawMessage{Subject: "Wallet topped up"})
	assert.True(t, got.IsCandidate)
	assert.Equal(t, "keyword:topped up", got.FilterReason)

	got = f.Classify(model.RawMessage{Subject: "test message", BodyText: "$5 charged"})
	assert.False(t, got.IsCandidate)
	assert.Equal(t, "negative:test message", got.FilterReason)
}
