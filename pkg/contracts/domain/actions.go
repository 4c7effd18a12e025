package domain

import (
	"fmt"
	"time"
)

// ActionDateFormat is the date layout used in corporate-actions config
// files, matching the DD-MM-YYYY convention of the daily reports.
const ActionDateFormat = "02-01-2006"

// CorporateActions is the JSON-shaped configuration of symbol-level
// events that require erasing part of a symbol's history. Supplied by
// configuration, not derived.
type CorporateActions struct {
	Splits      []SplitAction      `json:"splits"`
	NameChanges []NameChangeAction `json:"name_changes"`
	Delistings  []DelistingAction  `json:"delistings"`
}

// SplitAction blanks the old symbol's values before the split date.
// No ratio rescaling is applied; pre-event history is simply erased so
// averages are not computed across a discontinuity.
type SplitAction struct {
	OldSymbol   string   `json:"old_symbol"`
	NewSymbols  []string `json:"new_symbols,omitempty"`
	SplitDate   string   `json:"split_date"`
	Description string   `json:"description,omitempty"`
}

// NameChangeAction blanks the old symbol's values before the change date.
type NameChangeAction struct {
	OldSymbol   string `json:"old_symbol"`
	NewSymbol   string `json:"new_symbol,omitempty"`
	ChangeDate  string `json:"change_date"`
	Description string `json:"description,omitempty"`
}

// DelistingAction blanks a symbol's values from the delisting date onward.
type DelistingAction struct {
	Symbol        string `json:"symbol"`
	DelistingDate string `json:"delisting_date"`
	Description   string `json:"description,omitempty"`
}

// ParseActionDate parses a corporate-actions config date.
func ParseActionDate(s string) (time.Time, error) {
	t, err := time.Parse(ActionDateFormat, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid corporate action date %q: %w", s, err)
	}
	return t, nil
}
