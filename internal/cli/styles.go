// Package cli renders tally's terminal output: status lines, ledgers, run
// progress and interrupt handling.
package cli

import (
	"github.com/charmbracelet/lipgloss"
)

// Palette.
var (
	accent = lipgloss.Color("#5B8DEF")
	green  = lipgloss.Color("#4ECDC4")
	amber  = lipgloss.Color("#FFE66D")
	red    = lipgloss.Color("#FF6B6B")
	teal   = lipgloss.Color("#95E1D3")
	gray   = lipgloss.Color("#666666")
	border = lipgloss.Color("#333333")
)

var (
	// InfoStyle formats informational text.
	InfoStyle = lipgloss.NewStyle().Foreground(teal)
	// SubtleStyle formats secondary details such as summary text.
	SubtleStyle = lipgloss.NewStyle().Foreground(gray)
	// TableHeaderStyle formats ledger column headers.
	TableHeaderStyle = lipgloss.NewStyle().Bold(true).Underline(true)
	// DebitStyle colors money leaving the account.
	DebitStyle = lipgloss.NewStyle().Foreground(red)
	// CreditStyle colors money entering the account.
	CreditStyle = lipgloss.NewStyle().Foreground(green)

	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(accent)
	boxStyle   = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(border).
			Padding(1, 2)
)

// ClockIcon prefixes durations.
const ClockIcon = "⏱️"

type statusKind struct {
	style lipgloss.Style
	icon  string
}

var (
	success = statusKind{lipgloss.NewStyle().Foreground(green), "✓"}
	failure = statusKind{lipgloss.NewStyle().Foreground(red), "✗"}
	warning = statusKind{lipgloss.NewStyle().Foreground(amber), "⚠️"}
	info    = statusKind{InfoStyle, "ℹ️"}
)

func (k statusKind) format(message string) string {
	return k.style.Render(k.icon + " " + message)
}

// FormatSuccess formats a success line.
func FormatSuccess(message string) string { return success.format(message) }

// FormatError formats an error line.
func FormatError(message string) string { return failure.format(message) }

// FormatWarning formats a warning line.
func FormatWarning(message string) string { return warning.format(message) }

// FormatInfo formats an informational line.
func FormatInfo(message string) string { return info.format(message) }

// FormatTitle formats a section title.
func FormatTitle(title string) string {
	return titleStyle.MarginBottom(1).Render("📬 " + title)
}

// RenderBox draws content under a title inside a rounded border.
func RenderBox(title, content string) string {
	return boxStyle.Render(lipgloss.JoinVertical(lipgloss.Left, titleStyle.Render(title), content))
}
