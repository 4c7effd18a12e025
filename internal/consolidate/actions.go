package consolidate

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"nsecli/pkg/contracts/domain"
)

// Adjuster erases the part of a symbol's history that a corporate
// action makes non-comparable: splits and name changes blank cells
// strictly before the effective date, delistings blank cells from the
// delisting date onward. Derived columns are recomputed afterwards so
// averages reflect only the surviving cells.
type Adjuster struct {
	actions domain.CorporateActions
	logger  *slog.Logger
}

// NewAdjuster creates an Adjuster.
func NewAdjuster(actions domain.CorporateActions, logger *slog.Logger) *Adjuster {
	if logger == nil {
		logger = slog.Default()
	}
	return &Adjuster{actions: actions, logger: logger}
}

// Empty reports whether there are no actions to apply.
func (a *Adjuster) Empty() bool {
	return len(a.actions.Splits) == 0 &&
		len(a.actions.NameChanges) == 0 &&
		len(a.actions.Delistings) == 0
}

// Apply rewrites the table in place and returns the number of cells
// blanked. Actions whose symbol is absent or whose date does not parse
// are skipped with a log line; they never fail the run.
func (a *Adjuster) Apply(table *domain.ConsolidatedTable) int {
	if a.Empty() || table == nil || len(table.Rows) == 0 {
		return 0
	}

	rowIndex := make(map[string]int, len(table.Rows))
	for i, row := range table.Rows {
		rowIndex[row.Symbol] = i
	}

	blanked := 0
	for _, split := range a.actions.Splits {
		blanked += a.blankBefore(table, rowIndex, split.OldSymbol, split.SplitDate, "split")
	}
	for _, change := range a.actions.NameChanges {
		blanked += a.blankBefore(table, rowIndex, change.OldSymbol, change.ChangeDate, "name_change")
	}
	for _, delisting := range a.actions.Delistings {
		blanked += a.blankFrom(table, rowIndex, delisting.Symbol, delisting.DelistingDate, "delisting")
	}

	if blanked > 0 {
		Recompute(table)
		a.logger.Info("corporate actions applied",
			slog.Int("cells_blanked", blanked),
			slog.String("type", string(table.Type)))
	}
	return blanked
}

// blankBefore blanks a symbol's cells strictly before the effective date.
func (a *Adjuster) blankBefore(table *domain.ConsolidatedTable, rowIndex map[string]int, symbol, rawDate, kind string) int {
	row, effective, ok := a.resolve(table, rowIndex, symbol, rawDate, kind)
	if !ok {
		return 0
	}
	blanked := 0
	for col, date := range table.Dates {
		if date.Before(effective) {
			blanked += blankCell(row, col)
		}
	}
	return blanked
}

// blankFrom blanks a symbol's cells on and after the effective date.
func (a *Adjuster) blankFrom(table *domain.ConsolidatedTable, rowIndex map[string]int, symbol, rawDate, kind string) int {
	row, effective, ok := a.resolve(table, rowIndex, symbol, rawDate, kind)
	if !ok {
		return 0
	}
	blanked := 0
	for col, date := range table.Dates {
		if !date.Before(effective) {
			blanked += blankCell(row, col)
		}
	}
	return blanked
}

// blankCell erases one date column of a row, the free-float cell
// included, and returns the number of cells that held a value.
func blankCell(row *domain.ConsolidatedRow, col int) int {
	blanked := 0
	if !row.Values[col].IsMissing() {
		row.Values[col] = domain.MissingCell()
		blanked++
	}
	if col < len(row.FreeFloat) && !row.FreeFloat[col].IsMissing() {
		row.FreeFloat[col] = domain.MissingCell()
		blanked++
	}
	return blanked
}

func (a *Adjuster) resolve(table *domain.ConsolidatedTable, rowIndex map[string]int, symbol, rawDate, kind string) (*domain.ConsolidatedRow, time.Time, bool) {
	symbol = strings.TrimSpace(symbol)
	idx, ok := rowIndex[symbol]
	if !ok {
		return nil, time.Time{}, false
	}
	effective, err := domain.ParseActionDate(rawDate)
	if err != nil {
		a.logger.Warn("skipping corporate action with bad date",
			slog.String("kind", kind),
			slog.String("symbol", symbol),
			slog.String("date", rawDate))
		return nil, time.Time{}, false
	}
	return &table.Rows[idx], effective, true
}

// LoadActions reads a corporate-actions JSON file. A missing file is an
// empty action set, not an error.
func LoadActions(path string) (domain.CorporateActions, error) {
	var actions domain.CorporateActions
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return actions, nil
	}
	if err != nil {
		return actions, fmt.Errorf("failed to read corporate actions file: %w", err)
	}
	if err := json.Unmarshal(data, &actions); err != nil {
		return actions, fmt.Errorf("failed to parse corporate actions file: %w", err)
	}
	return actions, nil
}

// WriteActionsTemplate writes an empty, commented corporate-actions
// file so operators can fill it in.
func WriteActionsTemplate(path string) error {
	template := domain.CorporateActions{
		Splits: []domain.SplitAction{{
			OldSymbol:   "EXAMPLE",
			SplitDate:   "01-01-2024",
			Description: "Remove this example entry",
		}},
		NameChanges: []domain.NameChangeAction{},
		Delistings:  []domain.DelistingAction{},
	}
	data, err := json.MarshalIndent(template, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(data, '\n'), 0644)
}
