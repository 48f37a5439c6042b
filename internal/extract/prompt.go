package extract

import (
	"fmt"
	"strings"

	"github.com/Veraticus/mailtally/internal/model"
)

// CategoryOther is used when the model omits the category or invents one.
const CategoryOther = "Other"

// Categories are the allowed transaction categories.
var Categories = []string{
	"Food & Drink", "Shopping", "Bills", "Travel", "Entertainment", "Transfers", "Income", CategoryOther,
}

const systemPrompt = `You extract transaction details from bank and payment emails.
Reply with a single JSON object and nothing else:
{
  "is_transaction": true or false,
  "amount": number (positive, no currency symbol),
  "currency": "ISO 4217 code, e.g. USD or INR",
  "direction": "debit" or "credit",
  "vendor": "merchant, payee or payer",
  "date": "YYYY-MM-DD",
  "reference": "transaction id or reference number, or empty",
  "category": one of %s
}
Set is_transaction to false if the email does not confirm a completed payment,
transfer, deposit, withdrawal or refund. Failed, declined, pending or scheduled
payments are not transactions.`

const strictSuffix = `

Your previous reply was rejected: %s.
Reply with exactly one JSON object containing every field above. No prose, no markdown.`

var responseSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"is_transaction": map[string]any{"type": "boolean"},
		"amount":         map[string]any{"type": "number"},
		"currency":       map[string]any{"type": "string"},
		"direction":      map[string]any{"type": "string", "enum": []string{"debit", "credit"}},
		"vendor":         map[string]any{"type": "string"},
		"date":           map[string]any{"type": "string"},
		"reference":      map[string]any{"type": "string"},
		"category":       map[string]any{"type": "string", "enum": Categories},
	},
	"required": []string{"is_transaction", "amount", "direction", "vendor", "date"},
}

func buildSystemPrompt(previousError string) string {
	quoted := make([]string, len(Categories))
	for i, c := range Categories {
		quoted[i] = `"` + c + `"`
	}
	prompt := fmt.Sprintf(systemPrompt, strings.Join(quoted, ", "))
	if previousError != "" {
		prompt += fmt.Sprintf(strictSuffix, previousError)
	}
	return prompt
}

func buildUserPrompt(msg model.RawMessage, maxBodyChars int) string {
	body := strings.TrimSpace(msg.BodyText)
	if maxBodyChars > 0 && len(body) > maxBodyChars {
		body = truncateUTF8(body, maxBodyChars)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Subject: %s\n", msg.Subject)
	fmt.Fprintf(&b, "From: %s\n", msg.Sender)
	if !msg.ReceivedAt.IsZero() {
		fmt.Fprintf(&b, "Received: %s\n", msg.ReceivedAt.Format(model.DateLayout))
	}
	b.WriteString("\n")
	b.WriteString(body)
	return b.String()
}

// truncateUTF8 cuts s to at most n bytes without splitting a rune.
func truncateUTF8(s string, n int) string {
	for n > 0 && n < len(s) && s[n]&0xC0 == 0x80 {
		n--
	}
	return s[:n]
}
