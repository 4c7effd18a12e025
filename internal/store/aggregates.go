package store

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/timshannon/badgerhold/v4"

	"nsecli/pkg/contracts/domain"
)

// AggregateStore persists per-symbol consolidation summaries and daily
// values for later lookup. Writes are upserts by key: the latest run
// wins, concurrent runs race harmlessly.
type AggregateStore struct {
	db     *DB
	logger *slog.Logger
}

// NewAggregateStore creates an AggregateStore.
func NewAggregateStore(db *DB, logger *slog.Logger) *AggregateStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &AggregateStore{db: db, logger: logger}
}

// PutAggregates overwrites the (symbol, type) aggregates for one run.
func (s *AggregateStore) PutAggregates(ctx context.Context, aggregates []domain.SymbolAggregate) error {
	now := time.Now().UTC()
	for _, agg := range aggregates {
		agg.Key = domain.AggregateKey(agg.Symbol, agg.Type)
		agg.UpdatedAt = now
		if err := s.db.Store().Upsert(agg.Key, &agg); err != nil {
			return fmt.Errorf("failed to store aggregate %s: %w", agg.Key, err)
		}
	}
	return nil
}

// GetAggregate returns the stored aggregate for one (symbol, type).
func (s *AggregateStore) GetAggregate(ctx context.Context, symbol string, reportType domain.ReportType) (domain.SymbolAggregate, bool, error) {
	var agg domain.SymbolAggregate
	err := s.db.Store().Get(domain.AggregateKey(symbol, reportType), &agg)
	if err == badgerhold.ErrNotFound {
		return domain.SymbolAggregate{}, false, nil
	}
	if err != nil {
		return domain.SymbolAggregate{}, false, fmt.Errorf("failed to read aggregate: %w", err)
	}
	return agg, true, nil
}

// PutDailies upserts per-symbol per-date values, best effort: a failed
// write is logged and the rest of the batch continues.
func (s *AggregateStore) PutDailies(ctx context.Context, dailies []domain.SymbolDaily) {
	var failed int
	for _, daily := range dailies {
		daily.Key = domain.DailyKey(daily.Symbol, daily.Date, daily.Type)
		if err := s.db.Store().Upsert(daily.Key, &daily); err != nil {
			failed++
		}
	}
	if failed > 0 {
		s.logger.WarnContext(ctx, "some daily values were not persisted",
			slog.Int("failed", failed),
			slog.Int("total", len(dailies)))
	}
}

// SymbolHistory returns the stored daily values for one symbol and type,
// unordered.
func (s *AggregateStore) SymbolHistory(ctx context.Context, symbol string, reportType domain.ReportType) ([]domain.SymbolDaily, error) {
	var dailies []domain.SymbolDaily
	err := s.db.Store().Find(&dailies,
		badgerhold.Where("Symbol").Eq(symbol).And("Type").Eq(reportType))
	if err != nil {
		return nil, fmt.Errorf("failed to read symbol history: %w", err)
	}
	return dailies, nil
}
