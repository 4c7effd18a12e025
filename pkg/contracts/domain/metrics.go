package domain

import (
	"fmt"
	"time"
)

// SymbolMetrics is the point-in-time quote record fetched per symbol
// from the exchange, plus the fields derived from it during enrichment.
type SymbolMetrics struct {
	Symbol      string `json:"symbol"`
	CompanyName string `json:"company_name,omitempty"`
	Series      string `json:"series,omitempty"`
	Status      string `json:"status,omitempty"`

	PrimaryIndex string   `json:"index,omitempty"`
	Indices      []string `json:"index_list,omitempty"`

	ImpactCost       Cell `json:"impact_cost"`
	FreeFloatMcap    Cell `json:"free_float_mcap"`
	TotalMarketCap   Cell `json:"total_market_cap"`
	TotalTradedValue Cell `json:"total_traded_value"`
	LastPrice        Cell `json:"last_price"`

	ListingDate *time.Time `json:"listing_date,omitempty"`

	// Derived during enrichment.
	BroaderIndex      string `json:"broader_index,omitempty"`
	ListedOver6Months bool   `json:"listed_over_6_months"`
	ListedOver1Month  bool   `json:"listed_over_1_month"`
	FreeFloatRatio    Cell   `json:"free_float_ratio"`
}

// SymbolError records one symbol whose enrichment lookup failed.
type SymbolError struct {
	Symbol string `json:"symbol"`
	Reason string `json:"reason"`
}

// SymbolAggregate is the persisted per-symbol summary of the most
// recent consolidation run. Key = (symbol, type); overwritten, not
// appended, so a symbol has at most one live aggregate per type.
type SymbolAggregate struct {
	Key          string     `badgerhold:"key" json:"key"`
	Symbol       string     `json:"symbol"`
	Type         ReportType `json:"type"`
	Average      float64    `json:"average"`
	DaysWithData int        `json:"days_with_data"`
	RangeStart   time.Time  `json:"range_start"`
	RangeEnd     time.Time  `json:"range_end"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// AggregateKey builds the store key for a (symbol, type) pair.
func AggregateKey(symbol string, t ReportType) string {
	return fmt.Sprintf("%s|%s", symbol, t)
}

// SymbolDaily is one persisted per-symbol per-date value, upserted
// best-effort for later dashboarding.
type SymbolDaily struct {
	Key    string     `badgerhold:"key" json:"key"`
	Symbol string     `json:"symbol"`
	Date   time.Time  `json:"date"`
	Type   ReportType `json:"type"`
	Value  float64    `json:"value"`
}

// DailyKey builds the store key for a (symbol, date, type) triple.
func DailyKey(symbol string, date time.Time, t ReportType) string {
	return fmt.Sprintf("%s|%s|%s", symbol, date.Format("2006-01-02"), t)
}
