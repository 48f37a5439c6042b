// Package notify delivers daily summaries by email.
package notify

import (
	"bytes"
	"fmt"
	"html/template"
	"io"
	"slices"
	"strings"
	"time"

	"github.com/emersion/go-message/mail"

	"github.com/Veraticus/mailtally/internal/model"
)

var htmlTemplate = template.Must(template.New("summary").Parse(`<html>
<head>
<style>
body { font-family: Arial, sans-serif; line-height: 1.6; }
.container { max-width: 800px; margin: 0 auto; padding: 20px; }
.header { background-color: #f8f9fa; padding: 15px; border-radius: 5px; }
.total { margin-top: 20px; font-weight: bold; }
table { border-collapse: collapse; margin-top: 10px; }
td, th { padding: 4px 12px; border-bottom: 1px solid #ddd; text-align: left; }
pre { font-family: inherit; white-space: pre-wrap; }
</style>
</head>
<body>
<div class="container">
<div class="header"><h2>Daily Transaction Summary</h2><p>Date: {{.Date}}</p></div>
<div class="total"><h3>Total Spending</h3>
<table>
<tr><th>Currency</th><th>Spent</th><th>Received</th><th>Transactions</th></tr>
{{range .Rows}}<tr><td>{{.Currency}}</td><td>{{.Debit}}</td><td>{{.Credit}}</td><td>{{.Count}}</td></tr>
{{end}}</table>
</div>
<pre>{{.Text}}</pre>
</div>
</body>
</html>`))

type htmlRow struct {
	Currency string
	Debit    string
	Credit   string
	Count    int
}

// Subject returns the email subject for a summary.
func Subject(s *model.DailySummary) string {
	return "Daily Transaction Summary - " + s.Date.Format("January 02, 2006")
}

// RenderHTML renders the HTML body for a summary.
func RenderHTML(s *model.DailySummary) (string, error) {
	currencies := make([]string, 0, len(s.CurrencyBreakdown))
	for c := range s.CurrencyBreakdown {
		currencies = append(currencies, c)
	}
	slices.Sort(currencies)

	rows := make([]htmlRow, 0, len(currencies))
	for _, c := range currencies {
		t := s.CurrencyBreakdown[c]
		rows = append(rows, htmlRow{Currency: c, Debit: t.Debit.StringFixed(2), Credit: t.Credit.StringFixed(2), Count: t.Count})
	}

	var buf bytes.Buffer
	err := htmlTemplate.Execute(&buf, map[string]any{
		"Date": s.Date.Format("January 02, 2006"),
		"Rows": rows,
		"Text": s.SummaryText,
	})
	if err != nil {
		return "", fmt.Errorf("failed to render summary html: %w", err)
	}
	return buf.String(), nil
}

// BuildMessage writes a multipart/alternative RFC 822 message for a summary.
func BuildMessage(w io.Writer, from string, to []string, s *model.DailySummary, now time.Time) error {
	htmlBody, err := RenderHTML(s)
	if err != nil {
		return err
	}

	var h mail.Header
	h.SetDate(now)
	h.SetSubject(Subject(s))
	h.SetAddressList("From", []*mail.Address{{Address: from}})
	recipients := make([]*mail.Address, 0, len(to))
	for _, addr := range to {
		recipients = append(recipients, &mail.Address{Address: strings.TrimSpace(addr)})
	}
	h.SetAddressList("To", recipients)
	if err := h.GenerateMessageID(); err != nil {
		return fmt.Errorf("failed to generate message id: %w", err)
	}

	mw, err := mail.CreateWriter(w, h)
	if err != nil {
		return fmt.Errorf("failed to create message: %w", err)
	}

	alt, err := mw.CreateInline()
	if err != nil {
		return fmt.Errorf("failed to create message body: %w", err)
	}
	if err := writePart(alt, "text/plain", s.SummaryText); err != nil {
		return err
	}
	if err := writePart(alt, "text/html", htmlBody); err != nil {
		return err
	}
	if err := alt.Close(); err != nil {
		return fmt.Errorf("failed to finish message body: %w", err)
	}
	return mw.Close()
}

func writePart(alt *mail.InlineWriter, contentType, body string) error {
	var h mail.InlineHeader
	h.SetContentType(contentType, map[string]string{"charset": "utf-8"})
	pw, err := alt.CreatePart(h)
	if err != nil {
		return fmt.Errorf("failed to create %s part: %w", contentType, err)
	}
	if _, err := io.WriteString(pw, body); err != nil {
		return fmt.Errorf("failed to write %s part: %w", contentType, err)
	}
	return pw.Close()
}
