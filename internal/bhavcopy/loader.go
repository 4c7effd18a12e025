// Package bhavcopy parses the raw daily NSE report files (market
// capitalization and net traded value) into normalized records.
package bhavcopy

import (
	"encoding/csv"
	"fmt"
	"io"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"time"

	apperrors "nsecli/internal/errors"
	"nsecli/pkg/contracts/domain"
)

// columnMap names the header columns a report type is read from.
type columnMap struct {
	symbol    string
	name      string
	value     string
	freeFloat string // empty when the type has no free-float column
}

var columnMaps = map[domain.ReportType]columnMap{
	domain.ReportMarketCap: {
		symbol:    "Symbol",
		name:      "Security Name",
		value:     "Market Cap(Rs.)",
		freeFloat: "Free Float Market Cap",
	},
	domain.ReportTradedValue: {
		// The PR report has no ticker column; SECURITY doubles as both
		// the row key and the display name until reconciliation.
		symbol: "SECURITY",
		name:   "SECURITY",
		value:  "NET_TRDVAL",
	},
}

var nonAlnumUpper = regexp.MustCompile(`[^A-Z0-9]`)

// Loader parses raw report files into RawRecord slices.
type Loader struct {
	logger *slog.Logger
}

// NewLoader creates a Loader.
func NewLoader(logger *slog.Logger) *Loader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Loader{logger: logger}
}

// Load parses one raw CSV report of the given type. The returned records
// carry the supplied snapshot date. Summary rows (exchange-wide totals)
// are dropped, ragged data rows are skipped, and unparseable numeric
// values become missing cells. A header missing required columns is a
// MalformedInputError.
func (l *Loader) Load(r io.Reader, reportType domain.ReportType, date time.Time, source string) ([]domain.RawRecord, error) {
	cols, ok := columnMaps[reportType]
	if !ok {
		return nil, fmt.Errorf("unknown report type %q", reportType)
	}

	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read %s header: %w", reportType, err)
	}

	index := make(map[string]int, len(header))
	for i, h := range header {
		index[strings.TrimSpace(h)] = i
	}

	var missing []string
	for _, required := range []string{cols.symbol, cols.name, cols.value} {
		if _, ok := index[required]; !ok {
			missing = append(missing, required)
		}
	}
	if len(missing) > 0 {
		return nil, &apperrors.MalformedInputError{
			Type:    string(reportType),
			Source:  source,
			Missing: dedupe(missing),
		}
	}

	symbolIdx := index[cols.symbol]
	nameIdx := index[cols.name]
	valueIdx := index[cols.value]
	ffIdx, hasFF := -1, false
	if cols.freeFloat != "" {
		if i, ok := index[cols.freeFloat]; ok {
			ffIdx, hasFF = i, true
		}
	}

	var (
		records []domain.RawRecord
		skipped int
		summary int
	)
	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			skipped++
			continue
		}
		if len(row) <= symbolIdx || len(row) <= nameIdx || len(row) <= valueIdx {
			skipped++
			continue
		}

		symbol := strings.TrimSpace(row[symbolIdx])
		if symbol == "" {
			skipped++
			continue
		}
		if IsSummaryRow(symbol) {
			summary++
			continue
		}

		rec := domain.RawRecord{
			Symbol:      symbol,
			CompanyName: strings.TrimSpace(row[nameIdx]),
			Value:       parseNumeric(row[valueIdx]),
			FreeFloat:   domain.MissingCell(),
			Date:        date,
		}
		if hasFF && len(row) > ffIdx {
			rec.FreeFloat = parseNumeric(row[ffIdx])
		}
		records = append(records, rec)
	}

	if skipped > 0 || summary > 0 {
		l.logger.Debug("parsed raw report",
			slog.String("type", string(reportType)),
			slog.String("source", source),
			slog.Int("rows", len(records)),
			slog.Int("ragged_skipped", skipped),
			slog.Int("summary_dropped", summary))
	}

	return records, nil
}

// IsSummaryRow reports whether a row key names an exchange-wide total
// rather than an instrument. Matches TOTAL/LISTED and their combined
// variants after stripping punctuation, plus any TOTAL*/LISTED* prefix.
func IsSummaryRow(symbol string) bool {
	text := strings.ToUpper(strings.TrimSpace(symbol))
	if text == "" {
		return false
	}
	normalized := nonAlnumUpper.ReplaceAllString(text, "")
	switch normalized {
	case "TOTAL", "LISTED", "TOTALLISTED", "LISTEDTOTAL":
		return true
	}
	return strings.HasPrefix(text, "TOTAL") || strings.HasPrefix(text, "LISTED")
}

// parseNumeric coerces a raw cell to a numeric value. Commas and
// surrounding whitespace are tolerated; anything unparseable is a
// missing cell, never an error.
func parseNumeric(raw string) domain.Cell {
	s := strings.ReplaceAll(strings.TrimSpace(raw), ",", "")
	if s == "" || s == "-" {
		return domain.MissingCell()
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return domain.MissingCell()
	}
	return domain.Cell(f)
}

func dedupe(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := in[:0]
	for _, s := range in {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
