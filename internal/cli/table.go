package cli

import (
	"fmt"
	"io"
	"slices"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/Veraticus/mailtally/internal/model"
)

// RenderTransactions writes txns as an aligned table.
func RenderTransactions(w io.Writer, txns []model.Transaction) error {
	if len(txns) == 0 {
		_, err := fmt.Fprintln(w, InfoStyle.Render("No transactions in this range."))
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
		TableHeaderStyle.Render("Date"),
		TableHeaderStyle.Render("Vendor"),
		TableHeaderStyle.Render("Amount"),
		TableHeaderStyle.Render("Category"),
		TableHeaderStyle.Render("Reference"))

	for _, txn := range txns {
		amount := txn.Amount.StringFixed(2) + " " + txn.Currency
		if txn.Direction == model.DirectionCredit {
			amount = CreditStyle.Render("+" + amount)
		} else {
			amount = DebitStyle.Render("-" + amount)
		}
		ref := txn.Reference
		if ref == "" {
			ref = SubtleStyle.Render("-")
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			txn.Date.Format(model.DateLayout), txn.Vendor, amount, txn.Category, ref)
	}
	return tw.Flush()
}

// RenderSummaries writes one row per day with a per-currency breakdown.
func RenderSummaries(w io.Writer, summaries []model.DailySummary) error {
	if len(summaries) == 0 {
		_, err := fmt.Fprintln(w, InfoStyle.Render("No daily summaries in this range."))
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n",
		TableHeaderStyle.Render("Date"),
		TableHeaderStyle.Render("Spent"),
		TableHeaderStyle.Render("Transactions"),
		TableHeaderStyle.Render("By currency"))

	for _, s := range summaries {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\n",
			s.Date.Format(model.DateLayout),
			s.TotalAmount.StringFixed(2),
			s.TransactionCount,
			breakdown(s.CurrencyBreakdown))
	}
	return tw.Flush()
}

func breakdown(totals map[string]model.CurrencyTotal) string {
	currencies := make([]string, 0, len(totals))
	for c := range totals {
		currencies = append(currencies, c)
	}
	slices.Sort(currencies)

	parts := make([]string, 0, len(currencies))
	for _, c := range currencies {
		t := totals[c]
		part := fmt.Sprintf("%s -%s", c, t.Debit.StringFixed(2))
		if t.Credit.IsPositive() {
			part += fmt.Sprintf(" +%s", t.Credit.StringFixed(2))
		}
		parts = append(parts, part)
	}
	return strings.Join(parts, ", ")
}

// RenderRun formats the outcome of a finished run as a box.
func RenderRun(run model.RunState) string {
	var b strings.Builder
	fmt.Fprintf(&b, "  • Range: %s\n", run.Range)
	fmt.Fprintf(&b, "  • Candidates: %d\n", run.TotalCandidates)
	fmt.Fprintf(&b, "  • Processed: %d\n", run.ProcessedCount)
	fmt.Fprintf(&b, "  • Transactions: %d\n", run.ExtractedCount)
	fmt.Fprintf(&b, "  • Already seen: %d\n", run.SkippedCount)
	fmt.Fprintf(&b, "  • Failed extractions: %d\n", run.FailedCount)
	if !run.FinishedAt.IsZero() && !run.StartedAt.IsZero() {
		fmt.Fprintf(&b, "  • %s %s\n", ClockIcon, run.FinishedAt.Sub(run.StartedAt).Round(100*time.Millisecond))
	}

	switch {
	case run.Status == model.RunFailed:
		b.WriteString("\n" + FormatError(run.LastError))
		return RenderBox("Run Failed", b.String())
	case run.Halted:
		b.WriteString("\n" + FormatWarning("Stopped before all messages were processed."))
		return RenderBox("Run Halted", b.String())
	default:
		return RenderBox("Run Complete", b.String())
	}
}
