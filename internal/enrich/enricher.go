// Package enrich joins consolidated symbols with per-symbol point
// metrics fetched from the exchange, with bounded concurrency and
// graceful per-symbol failure.
package enrich

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"nsecli/internal/config"
	"nsecli/internal/infrastructure"
	"nsecli/pkg/contracts/domain"
)

// QuoteClient fetches point-in-time metrics for one symbol.
type QuoteClient interface {
	Quote(ctx context.Context, symbol string) (domain.SymbolMetrics, error)
}

// Result is a (possibly partial) enrichment outcome. One symbol's
// failure never aborts the batch; it lands in Errors instead. Symbols
// a chunk ran out of time for land in Skipped.
type Result struct {
	Metrics []domain.SymbolMetrics `json:"metrics"`
	Errors  []domain.SymbolError   `json:"errors,omitempty"`
	Skipped []string               `json:"skipped,omitempty"`
}

// Enricher fans quote fetches out over a bounded worker pool in
// fixed-size chunks, each chunk under its own wall-clock budget.
type Enricher struct {
	client  QuoteClient
	cfg     config.EnrichConfig
	logger  *slog.Logger
	metrics *infrastructure.Metrics
	now     func() time.Time
}

// NewEnricher creates an Enricher. metrics may be nil.
func NewEnricher(client QuoteClient, cfg config.EnrichConfig, logger *slog.Logger, metrics *infrastructure.Metrics) *Enricher {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Workers < 1 {
		cfg.Workers = 16
	}
	if cfg.ChunkSize < 1 {
		cfg.ChunkSize = 50
	}
	return &Enricher{client: client, cfg: cfg, logger: logger, metrics: metrics, now: time.Now}
}

// Enrich fetches metrics for every symbol. The order of Metrics follows
// the input order of the symbols that succeeded.
func (e *Enricher) Enrich(ctx context.Context, symbols []string) *Result {
	result := &Result{}

	for start := 0; start < len(symbols); start += e.cfg.ChunkSize {
		end := start + e.cfg.ChunkSize
		if end > len(symbols) {
			end = len(symbols)
		}
		e.enrichChunk(ctx, symbols[start:end], result)

		if ctx.Err() != nil {
			// The caller gave up; everything not yet attempted is skipped.
			result.Skipped = append(result.Skipped, symbols[end:]...)
			break
		}
	}

	if e.metrics != nil {
		e.metrics.EnrichErrors.Add(float64(len(result.Errors)))
		e.metrics.EnrichSkipped.Add(float64(len(result.Skipped)))
	}
	e.logger.InfoContext(ctx, "enrichment finished",
		slog.Int("requested", len(symbols)),
		slog.Int("enriched", len(result.Metrics)),
		slog.Int("errors", len(result.Errors)),
		slog.Int("skipped", len(result.Skipped)))

	return result
}

type symbolOutcome struct {
	metrics domain.SymbolMetrics
	err     error
	skipped bool
}

func (e *Enricher) enrichChunk(ctx context.Context, chunk []string, result *Result) {
	chunkCtx := ctx
	var cancel context.CancelFunc
	if e.cfg.ChunkBudget > 0 {
		chunkCtx, cancel = context.WithTimeout(ctx, e.cfg.ChunkBudget)
		defer cancel()
	}

	outcomes := make([]symbolOutcome, len(chunk))

	g, gctx := errgroup.WithContext(chunkCtx)
	g.SetLimit(e.cfg.Workers)
	for i, symbol := range chunk {
		i, symbol := i, symbol
		g.Go(func() error {
			if gctx.Err() != nil {
				outcomes[i].skipped = true
				return nil
			}
			start := e.now()
			metrics, err := e.client.Quote(gctx, symbol)
			if e.metrics != nil {
				e.metrics.QuoteFetchDuration.Observe(time.Since(start).Seconds())
			}
			if err != nil {
				if gctx.Err() != nil {
					outcomes[i].skipped = true
					return nil
				}
				outcomes[i].err = err
				return nil
			}
			e.derive(&metrics)
			outcomes[i].metrics = metrics
			return nil
		})
	}
	g.Wait()

	for i, outcome := range outcomes {
		switch {
		case outcome.skipped:
			result.Skipped = append(result.Skipped, chunk[i])
		case outcome.err != nil:
			result.Errors = append(result.Errors, domain.SymbolError{
				Symbol: chunk[i],
				Reason: outcome.err.Error(),
			})
		default:
			result.Metrics = append(result.Metrics, outcome.metrics)
		}
	}
}

// broaderIndexMembers is the qualifying set whose members roll up to
// NIFTY 500.
var broaderIndexMembers = map[string]struct{}{
	"NIFTY 50":           {},
	"NIFTY NEXT 50":      {},
	"NIFTY MIDCAP 150":   {},
	"NIFTY SMALLCAP 250": {},
}

// derive fills the computed fields of a fetched metrics record.
func (e *Enricher) derive(m *domain.SymbolMetrics) {
	if _, ok := broaderIndexMembers[m.PrimaryIndex]; ok {
		m.BroaderIndex = "NIFTY 500"
	}

	m.ListedOver6Months = false
	m.ListedOver1Month = false
	if m.ListingDate != nil {
		now := e.now()
		// Calendar-month arithmetic, not 30xN days.
		m.ListedOver6Months = !m.ListingDate.After(now.AddDate(0, -6, 0))
		m.ListedOver1Month = !m.ListingDate.After(now.AddDate(0, -1, 0))
	}

	m.FreeFloatRatio = domain.MissingCell()
	ff, ffOK := m.FreeFloatMcap.Float()
	total, totalOK := m.TotalMarketCap.Float()
	if ffOK && totalOK && total > 0 {
		m.FreeFloatRatio = domain.Cell(ff / total)
	}
}
