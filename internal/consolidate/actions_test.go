package consolidate

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nsecli/pkg/contracts/domain"
)

func actionTable() *domain.ConsolidatedTable {
	dates := []time.Time{day(11), day(12), day(13)}
	table := &domain.ConsolidatedTable{
		Type:  domain.ReportMarketCap,
		Dates: dates,
		Rows: []domain.ConsolidatedRow{
			{Symbol: "SPLITCO", CompanyName: "Split Co", Values: []domain.Cell{10, 20, 30}},
			{Symbol: "STEADY", CompanyName: "Steady Co", Values: []domain.Cell{100, 100, 100}},
		},
	}
	Recompute(table)
	return table
}

func TestAdjusterSplitBlanksBeforeDate(t *testing.T) {
	table := actionTable()
	adjuster := NewAdjuster(domain.CorporateActions{
		Splits: []domain.SplitAction{{OldSymbol: "SPLITCO", SplitDate: day(13).Format(domain.ActionDateFormat)}},
	}, nil)

	blanked := adjuster.Apply(table)
	assert.Equal(t, 2, blanked)

	var splitco domain.ConsolidatedRow
	for _, row := range table.Rows {
		if row.Symbol == "SPLITCO" {
			splitco = row
		}
	}
	assert.True(t, splitco.Values[0].IsMissing())
	assert.True(t, splitco.Values[1].IsMissing())
	assert.Equal(t, 30.0, cellValue(t, splitco.Values[2]), "the effective date itself survives")

	// Derived columns are recomputed from the surviving cells.
	assert.Equal(t, 1, splitco.DaysWithData)
	assert.Equal(t, 30.0, cellValue(t, splitco.Average))
}

func TestAdjusterDelistingBlanksFromDate(t *testing.T) {
	table := actionTable()
	adjuster := NewAdjuster(domain.CorporateActions{
		Delistings: []domain.DelistingAction{{Symbol: "STEADY", DelistingDate: day(12).Format(domain.ActionDateFormat)}},
	}, nil)

	blanked := adjuster.Apply(table)
	assert.Equal(t, 2, blanked)

	var steady domain.ConsolidatedRow
	for _, row := range table.Rows {
		if row.Symbol == "STEADY" {
			steady = row
		}
	}
	assert.Equal(t, 100.0, cellValue(t, steady.Values[0]))
	assert.True(t, steady.Values[1].IsMissing())
	assert.True(t, steady.Values[2].IsMissing())
	assert.Equal(t, 1, steady.DaysWithData)
}

func TestAdjusterUnknownSymbolAndBadDate(t *testing.T) {
	table := actionTable()
	adjuster := NewAdjuster(domain.CorporateActions{
		Splits: []domain.SplitAction{
			{OldSymbol: "NOSUCH", SplitDate: "01-01-2024"},
			{OldSymbol: "SPLITCO", SplitDate: "2024/01/01"},
		},
	}, nil)

	assert.Zero(t, adjuster.Apply(table), "unknown symbols and bad dates are skipped")
	assert.Equal(t, 3, table.Rows[0].DaysWithData)
}

func TestAdjusterResortsAfterBlanking(t *testing.T) {
	table := actionTable()
	// STEADY averages 100, SPLITCO 20, so STEADY leads initially.
	require.Equal(t, []string{"STEADY", "SPLITCO"}, table.Symbols())

	adjuster := NewAdjuster(domain.CorporateActions{
		Delistings: []domain.DelistingAction{{Symbol: "STEADY", DelistingDate: day(11).Format(domain.ActionDateFormat)}},
	}, nil)
	adjuster.Apply(table)

	assert.Equal(t, []string{"SPLITCO", "STEADY"}, table.Symbols(), "a now-empty row sorts last")
	var steady domain.ConsolidatedRow
	for _, row := range table.Rows {
		if row.Symbol == "STEADY" {
			steady = row
		}
	}
	assert.True(t, steady.Average.IsMissing())
	assert.Zero(t, steady.DaysWithData)
}

func TestAdjusterRecomputesFreeFloatAverage(t *testing.T) {
	table := &domain.ConsolidatedTable{
		Type:  domain.ReportMarketCap,
		Dates: []time.Time{day(11), day(12)},
		Rows: []domain.ConsolidatedRow{{
			Symbol:      "OLDCO",
			CompanyName: "Old Co",
			Values:      []domain.Cell{100, 200},
			FreeFloat:   []domain.Cell{10, 90},
		}},
	}
	Recompute(table)
	require.Equal(t, 50.0, cellValue(t, table.Rows[0].AverageFreeFloat))

	adjuster := NewAdjuster(domain.CorporateActions{
		Splits: []domain.SplitAction{{OldSymbol: "OLDCO", SplitDate: day(12).Format(domain.ActionDateFormat)}},
	}, nil)
	assert.Equal(t, 2, adjuster.Apply(table), "the value and free-float cells both blank")

	row := table.Rows[0]
	assert.True(t, row.Values[0].IsMissing())
	assert.True(t, row.FreeFloat[0].IsMissing())
	assert.Equal(t, 200.0, cellValue(t, row.Average))
	assert.Equal(t, 90.0, cellValue(t, row.AverageFreeFloat),
		"the free-float average reflects only the surviving cells")
}

func TestLoadActions(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "corporate_actions.json")

	// Missing file is an empty set.
	actions, err := LoadActions(path)
	require.NoError(t, err)
	assert.Empty(t, actions.Splits)

	payload := `{"splits":[{"old_symbol":"ABC","split_date":"15-03-2024"}],"name_changes":[],"delistings":[]}`
	require.NoError(t, os.WriteFile(path, []byte(payload), 0644))

	actions, err = LoadActions(path)
	require.NoError(t, err)
	require.Len(t, actions.Splits, 1)
	assert.Equal(t, "ABC", actions.Splits[0].OldSymbol)

	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0644))
	_, err = LoadActions(path)
	require.Error(t, err)
}

func TestWriteActionsTemplate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "corporate_actions.json")
	require.NoError(t, WriteActionsTemplate(path))

	actions, err := LoadActions(path)
	require.NoError(t, err)
	require.Len(t, actions.Splits, 1)
	assert.Equal(t, "EXAMPLE", actions.Splits[0].OldSymbol)
}
