// Package store persists raw daily snapshots and per-symbol aggregates
// in an embedded Badger database.
package store

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/timshannon/badgerhold/v4"

	"nsecli/internal/config"
)

// DB manages the Badger database connection shared by the snapshot and
// aggregate stores.
type DB struct {
	store  *badgerhold.Store
	logger *slog.Logger
	stopGC chan struct{}
}

// Open opens (or creates) the embedded database described by cfg.
func Open(cfg config.StoreConfig, logger *slog.Logger) (*DB, error) {
	if logger == nil {
		logger = slog.Default()
	}

	options := badgerhold.DefaultOptions
	options.Logger = nil
	if cfg.InMemory {
		options.InMemory = true
	} else {
		if err := os.MkdirAll(cfg.Dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create store directory: %w", err)
		}
		options.Dir = cfg.Dir
		options.ValueDir = cfg.Dir
	}

	store, err := badgerhold.Open(options)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger store: %w", err)
	}

	db := &DB{
		store:  store,
		logger: logger,
		stopGC: make(chan struct{}),
	}

	if !cfg.InMemory && cfg.GCInterval > 0 {
		go db.runGC(cfg.GCInterval, cfg.GCThreshold)
	}

	logger.Info("snapshot store opened",
		slog.String("dir", cfg.Dir),
		slog.Bool("in_memory", cfg.InMemory))

	return db, nil
}

// runGC periodically reclaims value-log space.
func (db *DB) runGC(interval time.Duration, threshold float64) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			err := db.store.Badger().RunValueLogGC(threshold)
			if err != nil && !errors.Is(err, badger.ErrNoRewrite) {
				db.logger.Warn("value log gc failed", slog.String("error", err.Error()))
			}
		case <-db.stopGC:
			return
		}
	}
}

// Store returns the underlying badgerhold store.
func (db *DB) Store() *badgerhold.Store {
	return db.store
}

// Close stops background work and closes the database.
func (db *DB) Close() error {
	close(db.stopGC)
	if db.store != nil {
		return db.store.Close()
	}
	return nil
}
