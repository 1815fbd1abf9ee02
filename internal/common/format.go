package common

import (
	"fmt"
	"strings"

	"credit-ledger-go/internal/models"
)

const (
	// Report widths
	DefaultWidth = 80
	WideWidth    = 100

	markOK   = "✓"
	markSkip = "-"
	markFail = "✗"
)

func rule(char string, width int) string {
	return strings.Repeat(char, width)
}

// PrintHeader prints a report title framed by "=" rules
func PrintHeader(title string, width int) {
	fmt.Println("\n" + rule("=", width))
	fmt.Println(title)
	fmt.Println(rule("=", width))
}

// PrintFooter prints the report summary line framed by "=" rules
func PrintFooter(message string, width int) {
	fmt.Println("\n" + rule("=", width))
	fmt.Println(message)
	fmt.Println(rule("=", width) + "\n")
}

// PrintBoxSeparator closes an account header block
func PrintBoxSeparator(width int) {
	fmt.Println("├" + rule("─", width))
}

// BoxPrefix returns the tree prefix for a row under an account or run
func BoxPrefix(isLast bool) string {
	if isLast {
		return "└  "
	}
	return "│  "
}

// OutcomeMark is the one-character status column of a batch report row
func OutcomeMark(status models.OutcomeStatus) string {
	switch status {
	case models.OutcomeApplied:
		return markOK
	case models.OutcomeSkipped:
		return markSkip
	default:
		return markFail
	}
}

// FormatOutcomeRow renders one account of a batch refresh run.
// Failures show the error, skips show the reason in parentheses.
func FormatOutcomeRow(o models.RefreshOutcome, isLast bool) string {
	row := fmt.Sprintf("%s %s %-36s %-5s %10s", BoxPrefix(isLast), OutcomeMark(o.Status), o.UserId, o.Tier, o.Amount.String())
	switch {
	case o.Error != "":
		row += "  " + o.Error
	case o.Reason != "":
		row += "  (" + o.Reason + ")"
	}
	return row
}

// FormatTransactionRow renders a ledger entry with the balance movement it caused
func FormatTransactionRow(t models.Transaction, isLast bool) string {
	id := t.Id
	switch {
	case id == "":
		id = "none"
	case len(id) > 8:
		id = id[:8] + "..."
	}
	return fmt.Sprintf("%s %-16s %-7s %12s  %12s -> %-12s (%s, %s)",
		BoxPrefix(isLast),
		t.Type,
		t.Effect,
		t.Amount.String(),
		t.BalanceBefore.String(),
		t.BalanceAfter.String(),
		id,
		t.CreatedAt.Format("2006-01-02 15:04:05"))
}

// FormatReconcileRow renders the result of replaying an account's log
func FormatReconcileRow(r models.ReconcileReport) string {
	if r.Consistent {
		return fmt.Sprintf("%s %s log replay matches (%d transactions)", BoxPrefix(true), markOK, r.TransactionCount)
	}
	return fmt.Sprintf("%s %s log replay %s != stored %s", BoxPrefix(true), markFail,
		r.CalculatedBalance.String(), r.StoredBalance.String())
}
