// Package exporter renders consolidated tables into styled xlsx
// workbooks. Presentation only; no business logic.
package exporter

import (
	"archive/zip"
	"bytes"
	"fmt"
	"log/slog"
	"sort"

	"github.com/xuri/excelize/v2"

	"nsecli/pkg/contracts/domain"
)

const (
	headerFillColor = "4472C4"
	headerFontColor = "FFFFFF"
	valueNumFmt     = "#,##0.00"
)

// SheetName returns the conventional sheet name for a report type.
func SheetName(reportType domain.ReportType) string {
	if reportType == domain.ReportTradedValue {
		return "Net Traded Value"
	}
	return "Market Cap Data"
}

// Workbook renders tables to spreadsheet bytes.
type Workbook struct {
	logger *slog.Logger
}

// NewWorkbook creates a Workbook renderer.
func NewWorkbook(logger *slog.Logger) *Workbook {
	if logger == nil {
		logger = slog.Default()
	}
	return &Workbook{logger: logger}
}

// Render writes one worksheet per named table, each paired with an
// "<name> Averages" summary sheet. Zero-row tables render their header
// row only. Sheet order follows the sorted names so output is
// deterministic.
func (w *Workbook) Render(tables map[string]*domain.ConsolidatedTable) ([]byte, error) {
	if len(tables) == 0 {
		return nil, fmt.Errorf("no tables to render")
	}

	names := make([]string, 0, len(tables))
	for name := range tables {
		names = append(names, name)
	}
	sort.Strings(names)

	f := excelize.NewFile()
	defer f.Close()

	for _, name := range names {
		table := tables[name]
		if err := w.writeTableSheet(f, name, table); err != nil {
			return nil, fmt.Errorf("failed to render sheet %s: %w", name, err)
		}
		if err := w.writeAveragesSheet(f, name+" Averages", table); err != nil {
			return nil, fmt.Errorf("failed to render averages for %s: %w", name, err)
		}
	}

	// The implicit first sheet was never written to.
	if err := f.DeleteSheet("Sheet1"); err != nil {
		return nil, err
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("failed to serialize workbook: %w", err)
	}
	return buf.Bytes(), nil
}

func (w *Workbook) writeTableSheet(f *excelize.File, name string, table *domain.ConsolidatedTable) error {
	if _, err := f.NewSheet(name); err != nil {
		return err
	}

	headers := table.Headers()
	headerRow := make([]interface{}, len(headers))
	for i, h := range headers {
		headerRow[i] = h
	}
	if err := f.SetSheetRow(name, "A1", &headerRow); err != nil {
		return err
	}

	identifierCols := 2 // Symbol, Company Name
	for rowIdx, row := range table.Rows {
		cells := make([]interface{}, 0, len(headers))
		cells = append(cells, row.Symbol, row.CompanyName, row.DaysWithData, cellValue(row.Average))
		if table.Type == domain.ReportMarketCap {
			cells = append(cells, cellValue(row.AverageFreeFloat))
		}
		for _, c := range row.Values {
			cells = append(cells, cellValue(c))
		}
		anchor, err := excelize.CoordinatesToCellName(1, rowIdx+2)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(name, anchor, &cells); err != nil {
			return err
		}
	}

	if err := w.applyStyles(f, name, len(headers), len(table.Rows), identifierCols); err != nil {
		return err
	}

	// Freeze the header row and the identifier columns.
	return f.SetPanes(name, &excelize.Panes{
		Freeze:      true,
		XSplit:      identifierCols,
		YSplit:      1,
		TopLeftCell: "C2",
		ActivePane:  "bottomRight",
	})
}

func (w *Workbook) writeAveragesSheet(f *excelize.File, name string, table *domain.ConsolidatedTable) error {
	if _, err := f.NewSheet(name); err != nil {
		return err
	}

	headers := []interface{}{"Symbol", "Company Name", "Days With Data", table.AverageHeader()}
	if err := f.SetSheetRow(name, "A1", &headers); err != nil {
		return err
	}
	for rowIdx, row := range table.Rows {
		cells := []interface{}{row.Symbol, row.CompanyName, row.DaysWithData, cellValue(row.Average)}
		anchor, err := excelize.CoordinatesToCellName(1, rowIdx+2)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(name, anchor, &cells); err != nil {
			return err
		}
	}

	if err := w.applyStyles(f, name, len(headers), len(table.Rows), 2); err != nil {
		return err
	}
	return f.SetPanes(name, &excelize.Panes{
		Freeze:      true,
		YSplit:      1,
		TopLeftCell: "A2",
		ActivePane:  "bottomLeft",
	})
}

// applyStyles sets the header band, left-aligned identifier columns and
// the numeric format on value columns.
func (w *Workbook) applyStyles(f *excelize.File, sheet string, cols, rows, identifierCols int) error {
	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true, Color: headerFontColor},
		Fill: excelize.Fill{Type: "pattern", Color: []string{headerFillColor}, Pattern: 1},
		Alignment: &excelize.Alignment{
			Horizontal: "center",
			Vertical:   "center",
		},
	})
	if err != nil {
		return err
	}
	lastHeader, err := excelize.CoordinatesToCellName(cols, 1)
	if err != nil {
		return err
	}
	if err := f.SetCellStyle(sheet, "A1", lastHeader, headerStyle); err != nil {
		return err
	}

	if rows == 0 {
		return nil
	}

	textStyle, err := f.NewStyle(&excelize.Style{
		Alignment: &excelize.Alignment{Horizontal: "left"},
	})
	if err != nil {
		return err
	}
	lastIdent, err := excelize.CoordinatesToCellName(identifierCols, rows+1)
	if err != nil {
		return err
	}
	if err := f.SetCellStyle(sheet, "A2", lastIdent, textStyle); err != nil {
		return err
	}

	numFmt := valueNumFmt
	numberStyle, err := f.NewStyle(&excelize.Style{CustomNumFmt: &numFmt})
	if err != nil {
		return err
	}
	firstValue, err := excelize.CoordinatesToCellName(identifierCols+2, 2)
	if err != nil {
		return err
	}
	lastValue, err := excelize.CoordinatesToCellName(cols, rows+1)
	if err != nil {
		return err
	}
	return f.SetCellStyle(sheet, firstValue, lastValue, numberStyle)
}

// cellValue converts a Cell to what excelize should write: a float for
// present values, an empty cell for missing ones.
func cellValue(c domain.Cell) interface{} {
	if v, ok := c.Float(); ok {
		return v
	}
	return nil
}

// Archive bundles rendered workbooks into a single zip, used when both
// report types are produced together. Entries are written in sorted
// name order.
func Archive(files map[string][]byte) ([]byte, error) {
	if len(files) == 0 {
		return nil, fmt.Errorf("no files to archive")
	}

	names := make([]string, 0, len(files))
	for name := range files {
		names = append(names, name)
	}
	sort.Strings(names)

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, name := range names {
		entry, err := zw.Create(name)
		if err != nil {
			return nil, fmt.Errorf("failed to create archive entry %s: %w", name, err)
		}
		if _, err := entry.Write(files[name]); err != nil {
			return nil, fmt.Errorf("failed to write archive entry %s: %w", name, err)
		}
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
