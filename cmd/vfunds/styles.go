package main

import (
	"strconv"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/rxtech-lab/vfunds/internal/crossval"
	"github.com/rxtech-lab/vfunds/internal/types"
	"github.com/rxtech-lab/vfunds/internal/workspace"
	"github.com/shopspring/decimal"
)

// Style definitions.
var (
	// TitleStyle for headers.
	TitleStyle = lipgloss.NewStyle().Bold(true)

	// HelpStyle for hints.
	HelpStyle = lipgloss.NewStyle().Faint(true)

	// ErrorStyle for error messages.
	ErrorStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("9"))

	headerStyle = lipgloss.NewStyle().Bold(true).Padding(0, 1)
	cellStyle   = lipgloss.NewStyle().Padding(0, 1)
)

func newTable(headers ...string) *table.Table {
	return table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("240"))).
		StyleFunc(func(row, _ int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}

			return cellStyle
		}).
		Headers(headers...)
}

// percent formats a fraction as a percentage with two decimals.
func percent(v float64) string {
	return decimal.NewFromFloat(v).Shift(2).StringFixed(2) + "%"
}

// ratio formats a ratio with three decimals.
func ratio(v float64) string {
	return decimal.NewFromFloat(v).StringFixed(3)
}

// resultsTable lists one row per result.
func resultsTable(results []*types.BacktestResult) *table.Table {
	t := newTable("Fund", "Window", "Return", "ARR", "Max DD", "Sharpe", "Sortino", "Calmar", "Rebal.", "Costs")

	for _, r := range results {
		m := r.Metrics
		t.Row(r.FundID, r.Window.Name(), percent(m.TotalReturn), percent(m.AnnualizedReturn), percent(m.MaxDrawdown),
			ratio(m.Sharpe), ratio(m.Sortino), ratio(m.Calmar), strconv.Itoa(r.Rebalances), percent(r.Costs))
	}

	return t
}

// summaryTable lists the per fund aggregates.
func summaryTable(summaries []crossval.FundSummary) *table.Table {
	t := newTable("Fund", "Windows", "Failed", "Mean ARR", "Min ARR", "Mean Sharpe", "Min Sharpe", "Worst DD")

	for _, s := range summaries {
		t.Row(s.FundID, strconv.Itoa(s.Windows), strconv.Itoa(s.Failures),
			percent(s.MeanARR), percent(s.MinARR), ratio(s.MeanSharpe), ratio(s.MinSharpe), percent(s.WorstDrawdown))
	}

	return t
}

// failuresTable lists failed (fund, window) pairs.
func failuresTable(failures []types.Failure) *table.Table {
	t := newTable("Fund", "Window", "Code", "Error")

	for _, f := range failures {
		t.Row(f.FundID, f.Window.Name(), strconv.Itoa(f.Code), f.Message)
	}

	return t
}

// fundsTable lists fund definition files.
func fundsTable(entries []workspace.Entry) *table.Table {
	t := newTable("ID", "Title", "Holdings", "File")

	for _, e := range entries {
		holdings := strconv.Itoa(e.Holdings)
		if e.Err != nil {
			holdings = ErrorStyle.Render("invalid")
		}

		t.Row(e.ID, e.Title, holdings, e.Path)
	}

	return t
}

func formatDate(t time.Time) string {
	return t.Format(time.DateOnly)
}
