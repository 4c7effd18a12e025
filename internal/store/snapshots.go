package store

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/timshannon/badgerhold/v4"

	"nsecli/internal/infrastructure"
	"nsecli/pkg/contracts/domain"
)

// SnapshotStore caches raw daily report snapshots keyed by (date, type).
type SnapshotStore struct {
	db      *DB
	logger  *slog.Logger
	metrics *infrastructure.Metrics
}

// NewSnapshotStore creates a SnapshotStore. metrics may be nil in tests.
func NewSnapshotStore(db *DB, logger *slog.Logger, metrics *infrastructure.Metrics) *SnapshotStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &SnapshotStore{db: db, logger: logger, metrics: metrics}
}

// Put stores a snapshot, fully replacing any prior payload for the same
// (date, type). Storing the same snapshot twice is a no-op for readers.
func (s *SnapshotStore) Put(ctx context.Context, snapshot domain.Snapshot) error {
	if !snapshot.Type.Valid() {
		return fmt.Errorf("invalid report type %q", snapshot.Type)
	}
	snapshot.Key = domain.SnapshotKey(snapshot.Date, snapshot.Type)
	snapshot.StoredAt = time.Now().UTC()

	if err := s.db.Store().Upsert(snapshot.Key, &snapshot); err != nil {
		return fmt.Errorf("failed to store snapshot %s: %w", snapshot.Key, err)
	}
	if s.metrics != nil {
		s.metrics.SnapshotPuts.WithLabelValues(string(snapshot.Type)).Inc()
	}
	return nil
}

// Get returns the snapshot for one (date, type), or found=false on a miss.
func (s *SnapshotStore) Get(ctx context.Context, date time.Time, reportType domain.ReportType) (domain.Snapshot, bool, error) {
	var snapshot domain.Snapshot
	err := s.db.Store().Get(domain.SnapshotKey(date, reportType), &snapshot)
	if err == badgerhold.ErrNotFound {
		return domain.Snapshot{}, false, nil
	}
	if err != nil {
		return domain.Snapshot{}, false, fmt.Errorf("failed to read snapshot: %w", err)
	}
	return snapshot, true, nil
}

// GetMany resolves a batch of dates for one report type in a single
// pass. It returns the snapshots found keyed by date and the dates that
// were absent. A store read failure degrades to all-miss rather than
// failing the caller; the condition is logged and counted.
func (s *SnapshotStore) GetMany(ctx context.Context, dates []time.Time, reportType domain.ReportType) (map[time.Time]domain.Snapshot, []time.Time) {
	found := make(map[time.Time]domain.Snapshot, len(dates))
	var missing []time.Time

	for _, date := range dates {
		var snapshot domain.Snapshot
		err := s.db.Store().Get(domain.SnapshotKey(date, reportType), &snapshot)
		switch {
		case err == badgerhold.ErrNotFound:
			missing = append(missing, date)
			if s.metrics != nil {
				s.metrics.SnapshotCacheMisses.WithLabelValues(string(reportType)).Inc()
			}
		case err != nil:
			// Degraded store: treat as a miss so callers can fall back
			// to re-fetching the date.
			s.logger.WarnContext(ctx, "snapshot read failed, treating as miss",
				slog.String("type", string(reportType)),
				slog.String("date", date.Format("2006-01-02")),
				slog.String("error", err.Error()))
			missing = append(missing, date)
			if s.metrics != nil {
				s.metrics.SnapshotCacheMisses.WithLabelValues(string(reportType)).Inc()
			}
		default:
			found[date] = snapshot
			if s.metrics != nil {
				s.metrics.SnapshotCacheHits.WithLabelValues(string(reportType)).Inc()
			}
		}
	}

	return found, missing
}

// Dates lists the dates with a stored snapshot of the given type,
// unordered.
func (s *SnapshotStore) Dates(ctx context.Context, reportType domain.ReportType) ([]time.Time, error) {
	var snapshots []domain.Snapshot
	err := s.db.Store().Find(&snapshots, badgerhold.Where("Type").Eq(reportType))
	if err != nil {
		return nil, fmt.Errorf("failed to list snapshots: %w", err)
	}
	dates := make([]time.Time, len(snapshots))
	for i, snap := range snapshots {
		dates[i] = snap.Date
	}
	return dates, nil
}
