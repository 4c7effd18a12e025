// Package services orchestrates downloads, consolidation, enrichment
// and export into user-facing report operations.
package services

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"nsecli/internal/bhavcopy"
	"nsecli/internal/consolidate"
	"nsecli/internal/drive"
	"nsecli/internal/enrich"
	"nsecli/internal/exporter"
	"nsecli/internal/infrastructure"
	"nsecli/internal/nse"
	"nsecli/internal/store"
	"nsecli/pkg/contracts/domain"
)

// CachePolicy controls how a range download treats cached dates.
type CachePolicy string

const (
	// PolicyMissingOnly fetches only dates absent from the cache.
	PolicyMissingOnly CachePolicy = "missing_only"
	// PolicyForce refetches every date and overwrites the cache.
	PolicyForce CachePolicy = "force"
)

// Valid reports whether p is a known policy.
func (p CachePolicy) Valid() bool {
	return p == PolicyMissingOnly || p == PolicyForce
}

// Downloader fetches one day's raw reports.
type Downloader interface {
	DownloadDaily(ctx context.Context, date time.Time) (*nse.DailyReport, error)
}

// ReportService wires the pipeline together.
type ReportService struct {
	downloader Downloader
	loader     *bhavcopy.Loader
	snapshots  *store.SnapshotStore
	aggregates *store.AggregateStore
	engine     *consolidate.Engine
	enricher   *enrich.Enricher
	workbook   *exporter.Workbook
	uploader   *drive.Uploader // nil disables uploads
	logger     *slog.Logger
	metrics    *infrastructure.Metrics
	workers    int
}

// NewReportService creates a ReportService. uploader and metrics may be
// nil; downloadWorkers below 1 defaults to 4.
func NewReportService(
	downloader Downloader,
	loader *bhavcopy.Loader,
	snapshots *store.SnapshotStore,
	aggregates *store.AggregateStore,
	engine *consolidate.Engine,
	enricher *enrich.Enricher,
	workbook *exporter.Workbook,
	uploader *drive.Uploader,
	logger *slog.Logger,
	metrics *infrastructure.Metrics,
	downloadWorkers int,
) *ReportService {
	if logger == nil {
		logger = slog.Default()
	}
	if downloadWorkers < 1 {
		downloadWorkers = 4
	}
	return &ReportService{
		downloader: downloader,
		loader:     loader,
		snapshots:  snapshots,
		aggregates: aggregates,
		engine:     engine,
		enricher:   enricher,
		workbook:   workbook,
		uploader:   uploader,
		logger:     logger,
		metrics:    metrics,
		workers:    downloadWorkers,
	}
}

// DownloadSummary accounts for one range download.
type DownloadSummary struct {
	Requested int      `json:"requested"`
	Fetched   int      `json:"fetched"`
	CacheHits int      `json:"cache_hits"`
	Failed    int      `json:"failed"`
	Warnings  []string `json:"warnings,omitempty"`
}

// EnsureRange makes sure snapshots exist for the given dates, fetching
// what the policy requires with a bounded worker pool. Per-date
// failures are warnings, never fatal: a holiday or one bad download
// must not sink the range.
func (s *ReportService) EnsureRange(ctx context.Context, dates []time.Time, policy CachePolicy) (*DownloadSummary, error) {
	if !policy.Valid() {
		return nil, fmt.Errorf("unknown cache policy %q", policy)
	}

	summary := &DownloadSummary{Requested: len(dates)}

	toFetch := dates
	if policy == PolicyMissingOnly {
		_, missingMcap := s.snapshots.GetMany(ctx, dates, domain.ReportMarketCap)
		_, missingPr := s.snapshots.GetMany(ctx, dates, domain.ReportTradedValue)
		missing := make(map[time.Time]struct{}, len(missingMcap)+len(missingPr))
		for _, d := range missingMcap {
			missing[d] = struct{}{}
		}
		for _, d := range missingPr {
			missing[d] = struct{}{}
		}
		toFetch = toFetch[:0:0]
		for _, d := range dates {
			if _, ok := missing[d]; ok {
				toFetch = append(toFetch, d)
			}
		}
		summary.CacheHits = len(dates) - len(toFetch)
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)
	for _, date := range toFetch {
		date := date
		g.Go(func() error {
			warning, err := s.fetchAndStore(gctx, date)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				summary.Failed++
				summary.Warnings = append(summary.Warnings, err.Error())
				return nil
			}
			if warning != "" {
				summary.Warnings = append(summary.Warnings, warning)
			}
			summary.Fetched++
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return summary, err
	}

	s.logger.InfoContext(ctx, "range download finished",
		slog.Int("requested", summary.Requested),
		slog.Int("fetched", summary.Fetched),
		slog.Int("cache_hits", summary.CacheHits),
		slog.Int("failed", summary.Failed))
	return summary, nil
}

// fetchAndStore downloads one date and stores whatever members the
// archive carried. Returns a warning string for partial days.
func (s *ReportService) fetchAndStore(ctx context.Context, date time.Time) (string, error) {
	report, err := s.downloader.DownloadDaily(ctx, date)
	if errors.Is(err, nse.ErrNotAvailable) {
		return fmt.Sprintf("%s: no report published (holiday?)", date.Format("02-01-2006")), nil
	}
	if err != nil {
		return "", fmt.Errorf("%s: %w", date.Format("02-01-2006"), err)
	}

	for _, reportType := range []domain.ReportType{domain.ReportMarketCap, domain.ReportTradedValue} {
		payload := report.ReportBytes(reportType)
		if payload == nil {
			continue
		}
		rows, err := s.loader.Load(bytes.NewReader(payload), reportType, date, bhavcopy.FileName(reportType, date))
		if err != nil {
			return "", fmt.Errorf("%s %s: %w", date.Format("02-01-2006"), reportType, err)
		}
		if err := s.snapshots.Put(ctx, domain.Snapshot{Date: date, Type: reportType, Rows: rows}); err != nil {
			return "", fmt.Errorf("%s %s: %w", date.Format("02-01-2006"), reportType, err)
		}
	}
	return "", nil
}

// RangeRequest describes a full report-generation run.
type RangeRequest struct {
	From         time.Time
	To           time.Time
	Types        []domain.ReportType
	Policy       CachePolicy
	AllowMissing bool
	Enrich       bool
	Actions      domain.CorporateActions
	Upload       bool // push the finished artifact to Drive
}

// RangeResult is the artifact plus everything that went sideways on
// the way: the caller gets as much report as could be computed and a
// precise account of what could not.
type RangeResult struct {
	Artifact    []byte
	FileName    string
	ContentType string
	Tables      map[domain.ReportType]*domain.ConsolidatedTable
	Download    *DownloadSummary
	Enrichment  *enrich.Result
	Warnings    []string
}

// GenerateRange downloads, consolidates, adjusts, enriches and renders
// a date range into a spreadsheet artifact.
func (s *ReportService) GenerateRange(ctx context.Context, req RangeRequest) (*RangeResult, error) {
	if len(req.Types) == 0 {
		req.Types = []domain.ReportType{domain.ReportMarketCap, domain.ReportTradedValue}
	}
	dates := nse.TradingDates(req.From, req.To)
	if len(dates) == 0 {
		return nil, fmt.Errorf("no trading dates between %s and %s",
			req.From.Format("02-01-2006"), req.To.Format("02-01-2006"))
	}

	result := &RangeResult{Tables: make(map[domain.ReportType]*domain.ConsolidatedTable)}

	download, err := s.EnsureRange(ctx, dates, req.Policy)
	if err != nil {
		return nil, err
	}
	result.Download = download
	result.Warnings = append(result.Warnings, download.Warnings...)

	adjuster := consolidate.NewAdjuster(req.Actions, s.logger)

	// Consolidate mcap first so its universe can align the pr table.
	var universe []string
	for _, reportType := range orderTypes(req.Types) {
		consolidated, err := s.engine.Consolidate(ctx, consolidate.Request{
			Type:         reportType,
			Dates:        dates,
			AllowMissing: req.AllowMissing,
			RestrictTo:   restrictFor(reportType, universe),
		})
		if err != nil {
			return nil, err
		}
		for _, missed := range consolidated.MissingDates {
			result.Warnings = append(result.Warnings,
				fmt.Sprintf("%s: no %s data", missed.Format("02-01-2006"), reportType))
		}
		if consolidated.DroppedUnreconciled > 0 {
			result.Warnings = append(result.Warnings,
				fmt.Sprintf("%d traded-value rows had no market-cap match and were dropped", consolidated.DroppedUnreconciled))
		}

		adjuster.Apply(consolidated.Table)
		result.Tables[reportType] = consolidated.Table
		if reportType == domain.ReportMarketCap {
			universe = consolidated.Table.Symbols()
		}

		s.persistAggregates(ctx, consolidated.Table)
	}

	if req.Enrich {
		symbols := primaryTable(result.Tables).Symbols()
		result.Enrichment = s.enricher.Enrich(ctx, symbols)
		for _, skipped := range result.Enrichment.Skipped {
			result.Warnings = append(result.Warnings, fmt.Sprintf("%s: enrichment skipped (time budget)", skipped))
		}
	}

	if err := s.renderArtifact(result); err != nil {
		return nil, err
	}

	if s.uploader != nil && req.Upload {
		name := uploadFileName(req.From, req.To, result.FileName)
		if _, err := s.uploader.Upload(ctx, name, result.Artifact, result.ContentType); err != nil {
			// Upload is best effort; the artifact still goes back to the caller.
			result.Warnings = append(result.Warnings, fmt.Sprintf("drive upload failed: %v", err))
		}
	}

	return result, nil
}

// uploadFileName stamps the artifact name with the report range so runs
// do not overwrite each other in Drive. The extension follows whatever
// was rendered: a single-type run uploads an .xlsx, a combined run a .zip.
func uploadFileName(from, to time.Time, artifactName string) string {
	ext := filepath.Ext(artifactName)
	base := strings.TrimSuffix(artifactName, ext)
	return fmt.Sprintf("%s_%s_%s%s", base, from.Format("02-01-2006"), to.Format("02-01-2006"), ext)
}

// renderArtifact renders one workbook per report type and bundles them
// into a zip when more than one was produced.
func (s *ReportService) renderArtifact(result *RangeResult) error {
	rendered := make(map[string][]byte, len(result.Tables))
	for reportType, table := range result.Tables {
		data, err := s.workbook.Render(map[string]*domain.ConsolidatedTable{
			exporter.SheetName(reportType): table,
		})
		if err != nil {
			return err
		}
		rendered[fmt.Sprintf("Finished_Product_%s.xlsx", reportType)] = data
	}
	if s.metrics != nil {
		s.metrics.ReportsExported.Add(float64(len(rendered)))
	}

	if len(rendered) == 1 {
		for name, data := range rendered {
			result.Artifact = data
			result.FileName = name
			result.ContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
		}
		return nil
	}

	archive, err := exporter.Archive(rendered)
	if err != nil {
		return err
	}
	result.Artifact = archive
	result.FileName = "Finished_Product.zip"
	result.ContentType = "application/zip"
	return nil
}

// persistAggregates stores the per-symbol summary and daily values of a
// finished table. Best effort: failures are logged, not propagated.
func (s *ReportService) persistAggregates(ctx context.Context, table *domain.ConsolidatedTable) {
	if s.aggregates == nil || len(table.Rows) == 0 {
		return
	}

	rangeStart := table.Dates[0]
	rangeEnd := table.Dates[len(table.Dates)-1]

	aggregates := make([]domain.SymbolAggregate, 0, len(table.Rows))
	var dailies []domain.SymbolDaily
	for _, row := range table.Rows {
		avg, _ := row.Average.Float()
		aggregates = append(aggregates, domain.SymbolAggregate{
			Symbol:       row.Symbol,
			Type:         table.Type,
			Average:      avg,
			DaysWithData: row.DaysWithData,
			RangeStart:   rangeStart,
			RangeEnd:     rangeEnd,
		})
		for col, cell := range row.Values {
			if v, ok := cell.Float(); ok {
				dailies = append(dailies, domain.SymbolDaily{
					Symbol: row.Symbol,
					Date:   table.Dates[col],
					Type:   table.Type,
					Value:  v,
				})
			}
		}
	}

	if err := s.aggregates.PutAggregates(ctx, aggregates); err != nil {
		s.logger.WarnContext(ctx, "aggregate persistence failed", slog.String("error", err.Error()))
	}
	s.aggregates.PutDailies(ctx, dailies)
}

// orderTypes puts the market-cap report first so the traded-value run
// can reuse its universe.
func orderTypes(types []domain.ReportType) []domain.ReportType {
	ordered := make([]domain.ReportType, 0, len(types))
	for _, t := range types {
		if t == domain.ReportMarketCap {
			ordered = append(ordered, t)
		}
	}
	for _, t := range types {
		if t != domain.ReportMarketCap {
			ordered = append(ordered, t)
		}
	}
	return ordered
}

func restrictFor(reportType domain.ReportType, universe []string) []string {
	if reportType == domain.ReportTradedValue {
		return universe
	}
	return nil
}

func primaryTable(tables map[domain.ReportType]*domain.ConsolidatedTable) *domain.ConsolidatedTable {
	if table, ok := tables[domain.ReportMarketCap]; ok {
		return table
	}
	for _, table := range tables {
		return table
	}
	return &domain.ConsolidatedTable{}
}
