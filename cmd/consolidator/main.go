package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"nsecli/internal/bhavcopy"
	"nsecli/internal/consolidate"
	"nsecli/internal/exporter"
	"nsecli/internal/services"
	"nsecli/pkg/contracts/domain"
)

func main() {
	dataDir := flag.String("data", "data", "directory containing mcapDDMMYYYY.csv / prDDMMYYYY.csv files")
	outputDir := flag.String("out", ".", "output directory for the finished report")
	reportType := flag.String("type", "both", "report type to consolidate: mcap, pr or both")
	actionsFile := flag.String("actions", "corporate_actions.json", "corporate actions JSON file")
	initActions := flag.Bool("init-actions", false, "write a corporate actions template and exit")
	flag.Parse()

	if *initActions {
		if err := consolidate.WriteActionsTemplate(*actionsFile); err != nil {
			slog.Error("Failed to write actions template", "error", err)
			os.Exit(1)
		}
		slog.Info("Actions template written", "path", *actionsFile)
		return
	}

	wanted, err := wantedTypes(*reportType)
	if err != nil {
		slog.Error("Invalid report type", "type", *reportType)
		os.Exit(1)
	}

	files, skipped, err := collectFiles(*dataDir, wanted)
	if err != nil {
		slog.Error("Failed to read data directory", "dir", *dataDir, "error", err)
		os.Exit(1)
	}
	if len(files) == 0 {
		slog.Error("No report files found",
			"dir", *dataDir,
			"hint", "expected files named mcapDDMMYYYY.csv or prDDMMYYYY.csv")
		os.Exit(1)
	}
	slog.Info("Loaded report files", "count", len(files), "skipped", skipped)

	actions, err := consolidate.LoadActions(*actionsFile)
	if err != nil {
		slog.Error("Failed to load corporate actions", "path", *actionsFile, "error", err)
		os.Exit(1)
	}

	service := services.NewReportService(nil, bhavcopy.NewLoader(nil), nil, nil,
		nil, nil, exporter.NewWorkbook(nil), nil, slog.Default(), nil, 1)

	result, err := service.ConsolidateFiles(files, actions)
	if err != nil {
		slog.Error("Consolidation failed", "error", err)
		os.Exit(1)
	}
	for _, warning := range result.Warnings {
		slog.Warn("Consolidation warning", "warning", warning)
	}

	outPath := filepath.Join(*outputDir, result.FileName)
	if err := os.WriteFile(outPath, result.Artifact, 0644); err != nil {
		slog.Error("Failed to write report", "path", outPath, "error", err)
		os.Exit(1)
	}

	for reportType, table := range result.Tables {
		slog.Info("Consolidated",
			"type", string(reportType),
			"symbols", len(table.Rows),
			"dates", len(table.Dates))
	}
	slog.Info("Report written", "path", outPath)
}

// wantedTypes resolves the -type flag into the set of report types to
// pick up from the data directory.
func wantedTypes(value string) (map[domain.ReportType]bool, error) {
	switch value {
	case "mcap":
		return map[domain.ReportType]bool{domain.ReportMarketCap: true}, nil
	case "pr":
		return map[domain.ReportType]bool{domain.ReportTradedValue: true}, nil
	case "both":
		return map[domain.ReportType]bool{
			domain.ReportMarketCap:   true,
			domain.ReportTradedValue: true,
		}, nil
	default:
		return nil, fmt.Errorf("unknown report type %q", value)
	}
}

// collectFiles reads every recognized report file under dir. Files whose
// names do not match the naming convention, or whose type was not
// requested, are counted as skipped.
func collectFiles(dir string, wanted map[domain.ReportType]bool) ([]services.UploadedFile, int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, 0, err
	}

	var (
		files   []services.UploadedFile
		skipped int
	)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		reportType, _, ok := bhavcopy.ParseFileName(entry.Name())
		if !ok || !wanted[reportType] {
			skipped++
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, 0, err
		}
		files = append(files, services.UploadedFile{Name: entry.Name(), Data: data})
	}
	return files, skipped, nil
}
