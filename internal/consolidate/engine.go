// Package consolidate pivots raw daily snapshots into wide per-symbol,
// per-date tables, reconciles traded-value names onto tickers, and
// applies corporate actions.
package consolidate

import (
	"context"
	"log/slog"
	"math"
	"sort"
	"time"

	"nsecli/internal/bhavcopy"
	apperrors "nsecli/internal/errors"
	"nsecli/internal/infrastructure"
	"nsecli/pkg/contracts/domain"
)

// SnapshotSource resolves snapshots for a batch of dates. Dates the
// source cannot produce come back in the second return value.
type SnapshotSource interface {
	GetMany(ctx context.Context, dates []time.Time, reportType domain.ReportType) (map[time.Time]domain.Snapshot, []time.Time)
}

// Request describes one consolidation run.
type Request struct {
	Type domain.ReportType
	// Dates is the requested trading-date range. Duplicates are
	// tolerated and removed.
	Dates []time.Time
	// AllowMissing proceeds with whatever dates resolve instead of
	// failing on absent ones.
	AllowMissing bool
	// RestrictTo limits the output to a symbol universe when non-empty.
	RestrictTo []string
}

// Result is a finished consolidation plus its soft conditions.
type Result struct {
	Table *domain.ConsolidatedTable
	// MissingDates lists requested dates with no snapshot (AllowMissing
	// runs only; strict runs fail instead).
	MissingDates []time.Time
	// DroppedUnreconciled counts traded-value rows with no market-cap
	// match.
	DroppedUnreconciled int
}

// Engine turns cached snapshots into consolidated tables.
type Engine struct {
	snapshots SnapshotSource
	logger    *slog.Logger
	metrics   *infrastructure.Metrics
}

// NewEngine creates an Engine. metrics may be nil.
func NewEngine(snapshots SnapshotSource, logger *slog.Logger, metrics *infrastructure.Metrics) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{snapshots: snapshots, logger: logger, metrics: metrics}
}

// Consolidate resolves the requested dates from the snapshot source and
// builds the wide table. In strict mode (AllowMissing=false) any absent
// date fails the run with a MissingDataError naming the dates.
func (e *Engine) Consolidate(ctx context.Context, req Request) (*Result, error) {
	start := time.Now()

	dates := uniqueSortedDates(req.Dates)
	found, missing := e.snapshots.GetMany(ctx, dates, req.Type)

	if len(missing) > 0 && !req.AllowMissing {
		return nil, &apperrors.MissingDataError{Type: string(req.Type), Dates: missing}
	}
	if len(found) == 0 {
		return nil, &apperrors.MissingDataError{Type: string(req.Type), Dates: dates}
	}

	snapshots := make([]domain.Snapshot, 0, len(found))
	for _, snap := range found {
		snapshots = append(snapshots, snap)
	}

	var reconciler *Reconciler
	if req.Type == domain.ReportTradedValue {
		reconciler = e.buildReconciler(ctx, dates)
	}

	table, dropped, err := BuildTable(req.Type, snapshots, Options{
		RestrictTo: req.RestrictTo,
		Reconciler: reconciler,
	})
	if err != nil {
		return nil, err
	}

	if e.metrics != nil {
		e.metrics.ConsolidateDuration.WithLabelValues(string(req.Type)).Observe(time.Since(start).Seconds())
		e.metrics.ConsolidateRows.WithLabelValues(string(req.Type)).Set(float64(len(table.Rows)))
	}
	e.logger.InfoContext(ctx, "consolidation complete",
		slog.String("type", string(req.Type)),
		slog.Int("dates", len(table.Dates)),
		slog.Int("rows", len(table.Rows)),
		slog.Int("missing_dates", len(missing)),
		slog.Int("dropped_unreconciled", dropped))

	return &Result{Table: table, MissingDates: missing, DroppedUnreconciled: dropped}, nil
}

// buildReconciler loads the newest market-cap snapshot in the range and
// uses its rows as the name-to-ticker authority. No market-cap context
// means traded-value rows pass through on their raw names.
func (e *Engine) buildReconciler(ctx context.Context, dates []time.Time) *Reconciler {
	found, _ := e.snapshots.GetMany(ctx, dates, domain.ReportMarketCap)
	if len(found) == 0 {
		return nil
	}
	var latest domain.Snapshot
	for _, snap := range found {
		if snap.Date.After(latest.Date) {
			latest = snap
		}
	}
	return NewReconciler(latest.Rows, e.logger)
}

// Options tunes a table build.
type Options struct {
	RestrictTo []string
	Reconciler *Reconciler
}

// BuildTable pivots raw snapshots into a ConsolidatedTable. Snapshots
// may arrive in any order; within one (symbol, date) the last snapshot
// in date order wins, and within a snapshot the last row wins. Rows
// whose cells are all missing are dropped, and the result is sorted by
// Average descending with missing averages last.
func BuildTable(reportType domain.ReportType, snapshots []domain.Snapshot, opts Options) (*domain.ConsolidatedTable, int, error) {
	sort.Slice(snapshots, func(i, j int) bool { return snapshots[i].Date.Before(snapshots[j].Date) })

	dates := make([]time.Time, 0, len(snapshots))
	dateIndex := make(map[time.Time]int, len(snapshots))
	for _, snap := range snapshots {
		if _, ok := dateIndex[snap.Date]; ok {
			continue
		}
		dateIndex[snap.Date] = len(dates)
		dates = append(dates, snap.Date)
	}

	var universe map[string]struct{}
	if len(opts.RestrictTo) > 0 {
		universe = make(map[string]struct{}, len(opts.RestrictTo))
		for _, symbol := range opts.RestrictTo {
			universe[symbol] = struct{}{}
		}
	}

	type pivotRow struct {
		symbol    string
		name      string
		values    []domain.Cell
		freeFloat []domain.Cell
	}

	var (
		rows      []*pivotRow
		rowIndex  = make(map[string]*pivotRow)
		dropped   int
		withFF    = reportType == domain.ReportMarketCap
		dateCount = len(dates)
	)

	for _, snap := range snapshots {
		col := dateIndex[snap.Date]
		records := snap.Rows
		if opts.Reconciler != nil {
			var d int
			records, d = opts.Reconciler.Apply(records)
			dropped += d
		}
		for _, rec := range records {
			if rec.Symbol == "" || bhavcopy.IsSummaryRow(rec.Symbol) {
				continue
			}
			if universe != nil {
				if _, ok := universe[rec.Symbol]; !ok {
					continue
				}
			}

			row, ok := rowIndex[rec.Symbol]
			if !ok {
				row = &pivotRow{symbol: rec.Symbol, values: newMissingRow(dateCount)}
				if withFF {
					row.freeFloat = newMissingRow(dateCount)
				}
				rowIndex[rec.Symbol] = row
				rows = append(rows, row)
			}
			// Later snapshots and later rows overwrite: keep-last.
			row.values[col] = rec.Value
			if withFF {
				row.freeFloat[col] = rec.FreeFloat
			}
			if rec.CompanyName != "" {
				row.name = rec.CompanyName
			}
		}
	}

	if universe != nil && len(rows) == 0 {
		return nil, dropped, &apperrors.NoDataForUniverseError{
			Type:     string(reportType),
			Universe: len(universe),
		}
	}

	table := &domain.ConsolidatedTable{Type: reportType, Dates: dates}
	for _, row := range rows {
		out := domain.ConsolidatedRow{
			Symbol:      row.symbol,
			CompanyName: row.name,
			Values:      row.values,
		}
		if out.CompanyName == "" {
			out.CompanyName = row.symbol
		}
		out.DaysWithData, out.Average = summarize(row.values)
		if withFF {
			out.FreeFloat = row.freeFloat
			_, out.AverageFreeFloat = summarize(row.freeFloat)
		} else {
			out.AverageFreeFloat = domain.MissingCell()
		}
		if out.DaysWithData == 0 {
			continue // all-missing rows carry no information
		}
		table.Rows = append(table.Rows, out)
	}

	SortByAverage(table)
	return table, dropped, nil
}

// Recompute refreshes the derived columns of every row from its cells,
// the free-float average included. Used after corporate actions rewrite
// cell values.
func Recompute(table *domain.ConsolidatedTable) {
	for i := range table.Rows {
		row := &table.Rows[i]
		row.DaysWithData, row.Average = summarize(row.Values)
		if row.FreeFloat != nil {
			_, row.AverageFreeFloat = summarize(row.FreeFloat)
		}
	}
	SortByAverage(table)
}

// SortByAverage orders rows by Average descending with missing
// averages last. The sort is stable so equal averages keep their
// relative order.
func SortByAverage(table *domain.ConsolidatedTable) {
	sort.SliceStable(table.Rows, func(i, j int) bool {
		a, aok := table.Rows[i].Average.Float()
		b, bok := table.Rows[j].Average.Float()
		if aok != bok {
			return aok
		}
		return a > b
	})
}

// summarize returns the count and mean of the non-missing cells. The
// mean is a missing cell when no cell has a value.
func summarize(cells []domain.Cell) (int, domain.Cell) {
	var (
		sum  float64
		days int
	)
	for _, c := range cells {
		if v, ok := c.Float(); ok {
			sum += v
			days++
		}
	}
	if days == 0 {
		return 0, domain.MissingCell()
	}
	return days, domain.Cell(sum / float64(days))
}

func newMissingRow(n int) []domain.Cell {
	cells := make([]domain.Cell, n)
	missing := domain.Cell(math.NaN())
	for i := range cells {
		cells[i] = missing
	}
	return cells
}

func uniqueSortedDates(dates []time.Time) []time.Time {
	seen := make(map[time.Time]struct{}, len(dates))
	out := make([]time.Time, 0, len(dates))
	for _, d := range dates {
		d = d.Truncate(24 * time.Hour)
		if _, ok := seen[d]; ok {
			continue
		}
		seen[d] = struct{}{}
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out
}
