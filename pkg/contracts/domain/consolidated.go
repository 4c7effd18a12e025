package domain

import (
	"encoding/json"
	"time"
)

// ConsolidatedRow is one symbol's slice of a consolidated table. Values
// is aligned with the owning table's Dates; a missing (symbol, date)
// combination is a missing cell, never a shorter slice. FreeFloat is
// aligned the same way and nil for report types without a free-float
// column.
type ConsolidatedRow struct {
	Symbol           string `json:"symbol"`
	CompanyName      string `json:"company_name"`
	DaysWithData     int    `json:"days_with_data"`
	Average          Cell   `json:"average"`
	AverageFreeFloat Cell   `json:"average_free_float,omitempty"` // mcap only
	Values           []Cell `json:"values"`
	FreeFloat        []Cell `json:"free_float,omitempty"` // mcap only
}

// ConsolidatedTable is the wide, per-symbol, per-date pivot produced by
// one consolidation run. Rows are sorted by Average descending with
// missing averages last; Dates are chronological.
type ConsolidatedTable struct {
	Type  ReportType        `json:"type"`
	Dates []time.Time       `json:"dates"`
	Rows  []ConsolidatedRow `json:"rows"`
}

// DateLabels returns the date columns formatted the way the source
// reports name them (DD-MM-YYYY).
func (t *ConsolidatedTable) DateLabels() []string {
	labels := make([]string, len(t.Dates))
	for i, d := range t.Dates {
		labels[i] = d.Format("02-01-2006")
	}
	return labels
}

// Headers returns the full column header row for export, identifier and
// derived columns first, then one column per date.
func (t *ConsolidatedTable) Headers() []string {
	headers := []string{"Symbol", "Company Name", "Days With Data", t.AverageHeader()}
	if t.Type == ReportMarketCap {
		headers = append(headers, "Average Free Float")
	}
	return append(headers, t.DateLabels()...)
}

// AverageHeader returns the report-specific name of the average column.
func (t *ConsolidatedTable) AverageHeader() string {
	if t.Type == ReportTradedValue {
		return "Average Net Traded Value"
	}
	return "Average Market Cap"
}

// Symbols returns the row symbols in table order.
func (t *ConsolidatedTable) Symbols() []string {
	symbols := make([]string, len(t.Rows))
	for i, row := range t.Rows {
		symbols[i] = row.Symbol
	}
	return symbols
}

// MarshalJSON emits the table with date columns as DD-MM-YYYY strings so
// API consumers see the same labels the spreadsheet export uses.
func (t *ConsolidatedTable) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type  ReportType        `json:"type"`
		Dates []string          `json:"dates"`
		Rows  []ConsolidatedRow `json:"rows"`
	}{
		Type:  t.Type,
		Dates: t.DateLabels(),
		Rows:  t.Rows,
	})
}
