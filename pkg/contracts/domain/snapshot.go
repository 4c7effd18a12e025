package domain

import (
	"fmt"
	"time"
)

// ReportType identifies which daily bhavcopy report a snapshot came from.
type ReportType string

const (
	// ReportMarketCap is the daily market-capitalization report, keyed by
	// ticker symbol (mcapDDMMYYYY.csv).
	ReportMarketCap ReportType = "mcap"
	// ReportTradedValue is the daily net-traded-value report, keyed by
	// free-text security name (prDDMMYYYY.csv).
	ReportTradedValue ReportType = "pr"
)

// Valid reports whether t is a known report type.
func (t ReportType) Valid() bool {
	return t == ReportMarketCap || t == ReportTradedValue
}

// RawRecord is one normalized instrument row from a daily report.
// For mcap snapshots Symbol is the ticker; for pr snapshots it is the
// raw SECURITY name, to be reconciled onto tickers later.
type RawRecord struct {
	Symbol      string    `json:"symbol"`
	CompanyName string    `json:"company_name"`
	Value       Cell      `json:"value"`
	FreeFloat   Cell      `json:"free_float,omitempty"` // mcap only
	Date        time.Time `json:"date"`
}

// Snapshot is one cached (date, type) raw tabular payload. Identity is
// the (date, type) pair; a put fully replaces any prior snapshot for
// that key.
type Snapshot struct {
	Key      string       `badgerhold:"key" json:"key"`
	Date     time.Time    `json:"date"`
	Type     ReportType   `json:"type"`
	Rows     []RawRecord  `json:"rows"`
	StoredAt time.Time    `json:"stored_at"`
}

// SnapshotKey builds the store key for a (date, type) pair.
func SnapshotKey(date time.Time, t ReportType) string {
	return fmt.Sprintf("%s|%s", date.Format("2006-01-02"), t)
}
