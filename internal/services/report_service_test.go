package services

import (
	"archive/zip"
	"bytes"
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nsecli/internal/bhavcopy"
	"nsecli/internal/config"
	"nsecli/internal/consolidate"
	"nsecli/internal/enrich"
	"nsecli/internal/exporter"
	"nsecli/internal/nse"
	"nsecli/internal/store"
	"nsecli/pkg/contracts/domain"
)

type fakeDownloader struct {
	mu      sync.Mutex
	reports map[time.Time]*nse.DailyReport
	calls   []time.Time
}

func (f *fakeDownloader) DownloadDaily(_ context.Context, date time.Time) (*nse.DailyReport, error) {
	f.mu.Lock()
	f.calls = append(f.calls, date)
	f.mu.Unlock()
	if report, ok := f.reports[date]; ok {
		return report, nil
	}
	return nil, nse.ErrNotAvailable
}

type fakeQuotes struct{}

func (fakeQuotes) Quote(_ context.Context, symbol string) (domain.SymbolMetrics, error) {
	if symbol == "FAILCO" {
		return domain.SymbolMetrics{}, fmt.Errorf("no equityResponse for %s", symbol)
	}
	return domain.SymbolMetrics{
		Symbol:         symbol,
		PrimaryIndex:   "NIFTY 50",
		FreeFloatMcap:  domain.Cell(50),
		TotalMarketCap: domain.Cell(100),
	}, nil
}

func mcapCSV(rows string) []byte {
	return []byte("Symbol,Security Name,Market Cap(Rs.),Free Float Market Cap\n" + rows)
}

func prCSV(rows string) []byte {
	return []byte("SECURITY,NET_TRDVAL\n" + rows)
}

func dailyReport(date time.Time, mcap, pr []byte) *nse.DailyReport {
	return &nse.DailyReport{Date: date, Mcap: mcap, Pr: pr}
}

func newTestService(t *testing.T, downloader Downloader) (*ReportService, *store.AggregateStore) {
	t.Helper()
	db, err := store.Open(config.StoreConfig{Dir: t.TempDir()}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	snapshots := store.NewSnapshotStore(db, nil, nil)
	aggregates := store.NewAggregateStore(db, nil)
	engine := consolidate.NewEngine(snapshots, nil, nil)
	enricher := enrich.NewEnricher(fakeQuotes{}, config.EnrichConfig{Workers: 2, ChunkSize: 10, ChunkBudget: time.Second}, nil, nil)
	workbook := exporter.NewWorkbook(nil)

	svc := NewReportService(downloader, bhavcopy.NewLoader(nil), snapshots, aggregates, engine, enricher, workbook, nil, nil, nil, 2)
	return svc, aggregates
}

func tradingDay(d int) time.Time {
	// March 2024: the 11th through the 15th are Monday..Friday.
	return time.Date(2024, 3, d, 0, 0, 0, 0, time.UTC)
}

func TestEnsureRangeMissingOnly(t *testing.T) {
	d1, d2 := tradingDay(11), tradingDay(12)
	downloader := &fakeDownloader{reports: map[time.Time]*nse.DailyReport{
		d2: dailyReport(d2, mcapCSV("TCS,Tata Consultancy Services Ltd.,200,120\n"), nil),
	}}
	svc, _ := newTestService(t, downloader)
	ctx := context.Background()

	// d1 is already cached for both types.
	require.NoError(t, svc.snapshots.Put(ctx, domain.Snapshot{Date: d1, Type: domain.ReportMarketCap}))
	require.NoError(t, svc.snapshots.Put(ctx, domain.Snapshot{Date: d1, Type: domain.ReportTradedValue}))

	summary, err := svc.EnsureRange(ctx, []time.Time{d1, d2}, PolicyMissingOnly)
	require.NoError(t, err)

	assert.Equal(t, 1, summary.CacheHits)
	assert.Equal(t, 1, summary.Fetched)
	assert.Equal(t, []time.Time{d2}, downloader.calls, "cached dates are not refetched")
}

func TestEnsureRangeForceRefetches(t *testing.T) {
	d1 := tradingDay(11)
	downloader := &fakeDownloader{reports: map[time.Time]*nse.DailyReport{
		d1: dailyReport(d1, mcapCSV("TCS,Tata Consultancy Services Ltd.,200,120\n"), nil),
	}}
	svc, _ := newTestService(t, downloader)
	ctx := context.Background()

	require.NoError(t, svc.snapshots.Put(ctx, domain.Snapshot{Date: d1, Type: domain.ReportMarketCap}))
	require.NoError(t, svc.snapshots.Put(ctx, domain.Snapshot{Date: d1, Type: domain.ReportTradedValue}))

	summary, err := svc.EnsureRange(ctx, []time.Time{d1}, PolicyForce)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Fetched)
	assert.Len(t, downloader.calls, 1)

	snap, found, err := svc.snapshots.Get(ctx, d1, domain.ReportMarketCap)
	require.NoError(t, err)
	require.True(t, found)
	assert.NotEmpty(t, snap.Rows, "force overwrote the empty cached snapshot")
}

func TestEnsureRangeHolidayIsWarningNotFailure(t *testing.T) {
	d1 := tradingDay(11)
	downloader := &fakeDownloader{}
	svc, _ := newTestService(t, downloader)

	summary, err := svc.EnsureRange(context.Background(), []time.Time{d1}, PolicyMissingOnly)
	require.NoError(t, err)
	assert.Equal(t, 0, summary.Failed)
	require.Len(t, summary.Warnings, 1)
	assert.Contains(t, summary.Warnings[0], "no report published")
}

func TestEnsureRangeRejectsUnknownPolicy(t *testing.T) {
	svc, _ := newTestService(t, &fakeDownloader{})
	_, err := svc.EnsureRange(context.Background(), nil, CachePolicy("sometimes"))
	require.Error(t, err)
}

func TestGenerateRangeEndToEnd(t *testing.T) {
	d1, d2 := tradingDay(11), tradingDay(12)
	downloader := &fakeDownloader{reports: map[time.Time]*nse.DailyReport{
		d1: dailyReport(d1,
			mcapCSV("RELIANCE,Reliance Industries Limited,1000,600\nTCS,Tata Consultancy Services Ltd.,2000,900\n"),
			prCSV("Reliance Industries Limited,111\nUnlisted Name,999\n")),
		d2: dailyReport(d2,
			mcapCSV("RELIANCE,Reliance Industries Limited,1100,620\nTCS,Tata Consultancy Services Ltd.,2100,910\n"),
			prCSV("Reliance Industries Limited,122\n")),
	}}
	svc, aggregates := newTestService(t, downloader)
	ctx := context.Background()

	result, err := svc.GenerateRange(ctx, RangeRequest{
		From:   d1,
		To:     d2,
		Policy: PolicyMissingOnly,
		Enrich: true,
	})
	require.NoError(t, err)

	// Both tables produced, pr aligned to the mcap universe.
	require.Len(t, result.Tables, 2)
	mcap := result.Tables[domain.ReportMarketCap]
	pr := result.Tables[domain.ReportTradedValue]
	assert.Equal(t, []string{"TCS", "RELIANCE"}, mcap.Symbols())
	assert.Equal(t, []string{"RELIANCE"}, pr.Symbols())

	// The unreconciled pr row shows up as a warning, not an error.
	joined := fmt.Sprint(result.Warnings)
	assert.Contains(t, joined, "no market-cap match")

	// Two workbooks bundled into a zip.
	assert.Equal(t, "Finished_Product.zip", result.FileName)
	assert.Equal(t, "application/zip", result.ContentType)
	reader, err := zip.NewReader(bytes.NewReader(result.Artifact), int64(len(result.Artifact)))
	require.NoError(t, err)
	assert.Len(t, reader.File, 2)

	// Aggregates were persisted for the run.
	agg, found, err := aggregates.GetAggregate(ctx, "TCS", domain.ReportMarketCap)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, 2050.0, agg.Average)
	assert.Equal(t, 2, agg.DaysWithData)

	history, err := aggregates.SymbolHistory(ctx, "RELIANCE", domain.ReportMarketCap)
	require.NoError(t, err)
	assert.Len(t, history, 2)

	// Enrichment ran over the mcap universe.
	require.NotNil(t, result.Enrichment)
	assert.Len(t, result.Enrichment.Metrics, 2)
}

func TestGenerateRangeSingleTypeIsXlsx(t *testing.T) {
	d1 := tradingDay(11)
	downloader := &fakeDownloader{reports: map[time.Time]*nse.DailyReport{
		d1: dailyReport(d1, mcapCSV("TCS,Tata Consultancy Services Ltd.,2000,900\n"), nil),
	}}
	svc, _ := newTestService(t, downloader)

	result, err := svc.GenerateRange(context.Background(), RangeRequest{
		From:   d1,
		To:     d1,
		Types:  []domain.ReportType{domain.ReportMarketCap},
		Policy: PolicyMissingOnly,
	})
	require.NoError(t, err)
	assert.Equal(t, "Finished_Product_mcap.xlsx", result.FileName)
	assert.Contains(t, result.ContentType, "spreadsheetml")
}

func TestGenerateRangeNoTradingDates(t *testing.T) {
	svc, _ := newTestService(t, &fakeDownloader{})
	// Saturday to Sunday.
	_, err := svc.GenerateRange(context.Background(), RangeRequest{
		From:   time.Date(2024, 3, 16, 0, 0, 0, 0, time.UTC),
		To:     time.Date(2024, 3, 17, 0, 0, 0, 0, time.UTC),
		Policy: PolicyMissingOnly,
	})
	require.Error(t, err)
}

func TestUploadFileName(t *testing.T) {
	from := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)

	assert.Equal(t, "Finished_Product_mcap_01-03-2024_15-03-2024.xlsx",
		uploadFileName(from, to, "Finished_Product_mcap.xlsx"),
		"a single-type run keeps its spreadsheet extension")
	assert.Equal(t, "Finished_Product_01-03-2024_15-03-2024.zip",
		uploadFileName(from, to, "Finished_Product.zip"))
}

func TestConsolidateFiles(t *testing.T) {
	svc, _ := newTestService(t, &fakeDownloader{})

	result, err := svc.ConsolidateFiles([]UploadedFile{
		{Name: "mcap11032024.csv", Data: mcapCSV("TCS,Tata Consultancy Services Ltd.,2000,900\n")},
		{Name: "mcap12032024.csv", Data: mcapCSV("TCS,Tata Consultancy Services Ltd.,2100,910\n")},
		{Name: "pr12032024.csv", Data: prCSV("Tata Consultancy Services Ltd.,555\n")},
		{Name: "notes.txt", Data: []byte("ignore")},
	}, domain.CorporateActions{})
	require.NoError(t, err)

	require.Len(t, result.Tables, 2)
	assert.Equal(t, []string{"TCS"}, result.Tables[domain.ReportMarketCap].Symbols())
	assert.Equal(t, []string{"TCS"}, result.Tables[domain.ReportTradedValue].Symbols())

	joined := fmt.Sprint(result.Warnings)
	assert.Contains(t, joined, "notes.txt")
	assert.NotEmpty(t, result.Artifact)
}

func TestConsolidateFilesAppliesActions(t *testing.T) {
	svc, _ := newTestService(t, &fakeDownloader{})

	actions := domain.CorporateActions{
		Splits: []domain.SplitAction{{OldSymbol: "TCS", SplitDate: "12-03-2024"}},
	}
	result, err := svc.ConsolidateFiles([]UploadedFile{
		{Name: "mcap11032024.csv", Data: mcapCSV("TCS,Tata Consultancy Services Ltd.,2000,900\n")},
		{Name: "mcap12032024.csv", Data: mcapCSV("TCS,Tata Consultancy Services Ltd.,2100,910\n")},
	}, actions)
	require.NoError(t, err)

	table := result.Tables[domain.ReportMarketCap]
	require.Len(t, table.Rows, 1)
	row := table.Rows[0]
	assert.True(t, row.Values[0].IsMissing(), "pre-split history is erased")
	assert.Equal(t, 1, row.DaysWithData, "derived columns reflect the adjustment")
	avg, ok := row.Average.Float()
	require.True(t, ok)
	assert.Equal(t, 2100.0, avg)
}

func TestConsolidateFilesNothingUsable(t *testing.T) {
	svc, _ := newTestService(t, &fakeDownloader{})
	_, err := svc.ConsolidateFiles([]UploadedFile{{Name: "junk.bin", Data: []byte{1}}}, domain.CorporateActions{})
	require.Error(t, err)
}

func TestPreviewFilesLeavesResultUnrendered(t *testing.T) {
	svc, _ := newTestService(t, &fakeDownloader{})

	result, err := svc.PreviewFiles([]UploadedFile{
		{Name: "mcap11032024.csv", Data: mcapCSV("TCS,Tata Consultancy Services Ltd.,2000,900\n")},
	}, domain.CorporateActions{})
	require.NoError(t, err)

	require.Len(t, result.Tables, 1)
	assert.Equal(t, []string{"TCS"}, result.Tables[domain.ReportMarketCap].Symbols())
	assert.Nil(t, result.Artifact, "a dry run renders no spreadsheet")
	assert.Empty(t, result.FileName)
}

func TestPreview(t *testing.T) {
	table := &domain.ConsolidatedTable{
		Type:  domain.ReportMarketCap,
		Dates: []time.Time{tradingDay(11)},
		Rows: []domain.ConsolidatedRow{
			{Symbol: "A", Average: domain.Cell(100)},
			{Symbol: "B", Average: domain.Cell(200)},
			{Symbol: "C", Average: domain.MissingCell()},
		},
	}

	preview := Preview(table, []string{"heads up"}, 2)
	assert.Equal(t, 3, preview.Symbols)
	assert.Equal(t, []string{"11-03-2024"}, preview.Dates)
	assert.Len(t, preview.SampleRows, 2)
	assert.Equal(t, []string{"heads up"}, preview.Warnings)

	total, ok := preview.TotalAverage.Float()
	require.True(t, ok)
	assert.Equal(t, 150.0, total, "grand average ignores missing averages")
}
