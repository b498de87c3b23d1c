package tui

import (
	"fmt"
	"strconv"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/amishk599/jobflow/internal/model"
)

var (
	tableHeaderStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39")).Padding(0, 1)
	tableCellStyle   = lipgloss.NewStyle().Padding(0, 1)
)

// SummaryTable renders execution records as a bordered table for the
// non-interactive run output.
func SummaryTable(records []model.ExecutionRecord) string {
	rows := make([][]string, 0, len(records))
	for _, r := range records {
		status := string(r.Status)
		if r.Reason != model.ReasonNone {
			status += " (" + string(r.Reason) + ")"
		}
		detail := r.Destination
		if r.Error != "" {
			detail = r.Error
			if r.FailedStep != "" {
				detail = fmt.Sprintf("%s after %d attempt(s): %s", r.FailedStep, r.Attempts, r.Error)
			}
		}
		rows = append(rows, []string{
			r.Workflow,
			status,
			strconv.Itoa(r.Listings),
			strconv.Itoa(r.Persistence.Inserted),
			strconv.Itoa(r.Persistence.SkippedDuplicate),
			strconv.Itoa(r.Persistence.Failed),
			r.Duration().Round(time.Millisecond).String(),
			truncate(detail, 70),
		})
	}

	statusCol := 1
	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("240"))).
		Headers("WORKFLOW", "STATUS", "LISTINGS", "NEW", "DUP", "FAILED", "DURATION", "DETAIL").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return tableHeaderStyle
			}
			if col == statusCol && row >= 0 && row < len(records) {
				return statusStyles[records[row].Status].Padding(0, 1)
			}
			return tableCellStyle
		})
	return t.Render()
}

// ListingTable renders stored records for the jobs list command.
func ListingTable(records []model.StoredRecord) string {
	rows := make([][]string, 0, len(records))
	for _, r := range records {
		rows = append(rows, []string{
			string(r.Listing.Source),
			r.Listing.Reference,
			truncate(orNA(r.Listing.Title), 50),
			orNA(r.Listing.Location),
			r.CreatedAt.Format("2006-01-02 15:04"),
		})
	}
	return table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("240"))).
		Headers("SOURCE", "REFERENCE", "TITLE", "LOCATION", "STORED").
		Rows(rows...).
		StyleFunc(func(row, _ int) lipgloss.Style {
			if row == table.HeaderRow {
				return tableHeaderStyle
			}
			return tableCellStyle
		}).
		Render()
}
