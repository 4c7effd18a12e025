package services

import (
	"bytes"
	"fmt"
	"sort"

	"nsecli/internal/bhavcopy"
	"nsecli/internal/consolidate"
	"nsecli/pkg/contracts/domain"
)

// UploadedFile is one raw report file supplied by the caller instead of
// the exchange.
type UploadedFile struct {
	Name string
	Data []byte
}

// ConsolidateFiles consolidates caller-supplied daily report files into
// a rendered spreadsheet artifact, without touching the download path or
// the snapshot cache. File names must follow the mcapDDMMYYYY.csv /
// prDDMMYYYY.csv convention; files that do not are reported as warnings
// and skipped.
func (s *ReportService) ConsolidateFiles(files []UploadedFile, actions domain.CorporateActions) (*RangeResult, error) {
	result, err := s.PreviewFiles(files, actions)
	if err != nil {
		return nil, err
	}
	if err := s.renderArtifact(result); err != nil {
		return nil, err
	}
	return result, nil
}

// PreviewFiles consolidates caller-supplied daily report files but
// leaves the result unrendered: no workbook, no artifact. Used by dry
// runs that only need the tables.
func (s *ReportService) PreviewFiles(files []UploadedFile, actions domain.CorporateActions) (*RangeResult, error) {
	byType := make(map[domain.ReportType][]domain.Snapshot)
	var warnings []string

	for _, file := range files {
		reportType, date, ok := bhavcopy.ParseFileName(file.Name)
		if !ok {
			warnings = append(warnings, fmt.Sprintf("%s: unrecognized file name, expected mcapDDMMYYYY.csv or prDDMMYYYY.csv", file.Name))
			continue
		}
		rows, err := s.loader.Load(bytes.NewReader(file.Data), reportType, date, file.Name)
		if err != nil {
			return nil, err
		}
		byType[reportType] = append(byType[reportType], domain.Snapshot{
			Date: date,
			Type: reportType,
			Rows: rows,
		})
	}

	if len(byType) == 0 {
		return nil, fmt.Errorf("no usable report files in upload")
	}

	result := &RangeResult{
		Tables:   make(map[domain.ReportType]*domain.ConsolidatedTable),
		Warnings: warnings,
	}
	adjuster := consolidate.NewAdjuster(actions, s.logger)

	var reconciler *consolidate.Reconciler
	if mcapSnaps := byType[domain.ReportMarketCap]; len(mcapSnaps) > 0 {
		reconciler = consolidate.NewReconciler(latestSnapshot(mcapSnaps).Rows, s.logger)
	}

	var universe []string
	for _, reportType := range orderTypes(typesOf(byType)) {
		opts := consolidate.Options{RestrictTo: restrictFor(reportType, universe)}
		if reportType == domain.ReportTradedValue {
			opts.Reconciler = reconciler
		}
		table, dropped, err := consolidate.BuildTable(reportType, byType[reportType], opts)
		if err != nil {
			return nil, err
		}
		if dropped > 0 {
			result.Warnings = append(result.Warnings,
				fmt.Sprintf("%d traded-value rows had no market-cap match and were dropped", dropped))
		}

		adjuster.Apply(table)
		result.Tables[reportType] = table
		if reportType == domain.ReportMarketCap {
			universe = table.Symbols()
		}
	}

	return result, nil
}

// PreviewSummary is the JSON shape of a consolidation dry run.
type PreviewSummary struct {
	Type         domain.ReportType        `json:"type"`
	Symbols      int                      `json:"symbols"`
	Dates        []string                 `json:"dates"`
	Warnings     []string                 `json:"warnings,omitempty"`
	SampleRows   []domain.ConsolidatedRow `json:"sample_rows"`
	TotalAverage domain.Cell              `json:"total_average"`
}

// Preview summarizes a consolidated table without rendering the
// spreadsheet: row count, date columns, the top rows and the grand
// average.
func Preview(table *domain.ConsolidatedTable, warnings []string, sampleSize int) *PreviewSummary {
	if sampleSize <= 0 {
		sampleSize = 10
	}
	if sampleSize > len(table.Rows) {
		sampleSize = len(table.Rows)
	}

	var (
		sum   float64
		count int
	)
	for _, row := range table.Rows {
		if v, ok := row.Average.Float(); ok {
			sum += v
			count++
		}
	}
	total := domain.MissingCell()
	if count > 0 {
		total = domain.Cell(sum / float64(count))
	}

	return &PreviewSummary{
		Type:         table.Type,
		Symbols:      len(table.Rows),
		Dates:        table.DateLabels(),
		Warnings:     warnings,
		SampleRows:   table.Rows[:sampleSize],
		TotalAverage: total,
	}
}

func latestSnapshot(snapshots []domain.Snapshot) domain.Snapshot {
	latest := snapshots[0]
	for _, snap := range snapshots[1:] {
		if snap.Date.After(latest.Date) {
			latest = snap
		}
	}
	return latest
}

func typesOf(byType map[domain.ReportType][]domain.Snapshot) []domain.ReportType {
	types := make([]domain.ReportType, 0, len(byType))
	for t := range byType {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	return types
}
