// Package prefilter decides cheaply, without I/O, whether an email is worth
// sending to the extractor.
package prefilter

import (
	"regexp"
	"strings"

	"github.com/Veraticus/mailtally/internal/model"
)

// Filter reasons.
const (
	ReasonAmount   = "amount"
	ReasonSender   = "sender"
	ReasonNoSignal = "no-signal"

	keywordPrefix  = "keyword:"
	negativePrefix = "negative:"
)

// DefaultNegativePhrases mark messages about money movements that did not complete.
// Only multi-word phrases are used so a stray "pending" in a footer does not hide a real alert.
var DefaultNegativePhrases = []string{
	"transaction failed",
	"payment failed",
	"has failed",
	"was declined",
	"was unsuccessful",
	"was cancelled",
	"was canceled",
	"on hold",
	"payment due",
	"is due on",
	"will be processed",
	"yet to be processed",
	"currently processing",
	"scheduled for",
	"could not be completed",
	"not completed",
	"not successful",
	"unable to complete",
	"unable to process",
	"did not complete",
	"was not processed",
}

// DefaultKeywords indicate a completed money movement.
var DefaultKeywords = []string{
	"debited", "credited", "payment", "transfer", "withdrawal", "deposit",
	"paid", "received", "spent", "charged", "purchase", "refund", "receipt",
	"transaction", "upi", "invoice",
}

var defaultSenderHints = []string{
	"bank", "alert", "payments", "billing", "receipt", "statement", "paypal", "venmo",
}

var amountPattern = regexp.MustCompile(`(?i)` +
	`(?:[$€£¥₹]\s?\d[\d,]*(?:\.\d{1,2})?)` +
	`|(?:\b(?:rs|inr|usd|eur|gbp|jpy|aud|cad|chf|sgd)\.?\s?\d[\d,]*(?:\.\d{1,2})?)` +
	`|(?:\d[\d,]*(?:\.\d{1,2})?\s?(?:usd|eur|gbp|inr|jpy|aud|cad|chf|sgd)\b)`)

// Options extends the built-in word lists.
type Options struct {
	Keywords        []string
	NegativePhrases []string
}

// Filter classifies raw messages. It is safe for concurrent use.
type Filter struct {
	keywords  *regexp.Regexp
	negatives []string
}

// New builds a Filter from the defaults plus opts.
func New(opts Options) *Filter {
	negatives := make([]string, 0, len(DefaultNegativePhrases)+len(opts.NegativePhrases))
	for _, phrase := range append(append([]string{}, DefaultNegativePhrases...), opts.NegativePhrases...) {
		if phrase = strings.ToLower(strings.TrimSpace(phrase)); phrase != "" {
			negatives = append(negatives, phrase)
		}
	}

	var quoted []string
	for _, kw := range append(append([]string{}, DefaultKeywords...), opts.Keywords...) {
		if kw = strings.ToLower(strings.TrimSpace(kw)); kw != "" {
			quoted = append(quoted, regexp.QuoteMeta(kw))
		}
	}

	return &Filter{
		negatives: negatives,
		keywords:  regexp.MustCompile(`\b(` + strings.Join(quoted, "|") + `)\b`),
	}
}

// Classify tags msg with a candidate decision and the rule that made it.
// The first decisive rule wins: negative phrases, amounts, keywords, sender hints.
func (f *Filter) Classify(msg model.RawMessage) model.Candidate {
	text := strings.ToLower(msg.Subject + "\n" + msg.BodyText)

	decide := func(ok bool, reason string) model.Candidate {
		return model.Candidate{RawMessage: msg, IsCandidate: ok, FilterReason: reason}
	}

	for _, phrase := range f.negatives {
		if strings.Contains(text, phrase) {
			return decide(false, negativePrefix+phrase)
		}
	}

	if amountPattern.MatchString(text) {
		return decide(true, ReasonAmount)
	}

	if m := f.keywords.FindStringSubmatch(text); m != nil {
		return decide(true, keywordPrefix+m[1])
	}

	sender := strings.ToLower(msg.Sender)
	for _, hint := range defaultSenderHints {
		if strings.Contains(sender, hint) {
			return decide(true, ReasonSender)
		}
	}

	return decide(false, ReasonNoSignal)
}

// IsCandidate reports whether msg should be sent to the extractor.
func (f *Filter) IsCandidate(msg model.RawMessage) bool {
	return f.Classify(msg).IsCandidate
}
