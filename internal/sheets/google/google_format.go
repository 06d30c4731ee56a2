package google

import (
	"strings"
	"time"

	"jobdesk/internal/core"
)

// Header is the column order of exported rows.
var Header = []string{"Job", "Client", "Description", "Total", "Paid", "Committed at"}

// invoiceRow renders an invoice as sheet cells in Header order.
func invoiceRow(job core.Job, inv core.Invoice) []any {
	committed := inv.UpdatedAt
	if committed.IsZero() {
		committed = time.Now()
	}
	return []any{
		job.ID,
		job.Client,
		job.Description,
		inv.Total().Units(),
		inv.Paid,
		committed.UTC().Format(time.RFC3339),
	}
}

// sheetRange builds an A1 range, quoting sheet names that need it.
func sheetRange(sheet, cells string) string {
	if strings.ContainsAny(sheet, " '!:") {
		sheet = "'" + strings.ReplaceAll(sheet, "'", "''") + "'"
	}
	return sheet + "!" + cells
}
