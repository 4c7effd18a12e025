package errors

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// MalformedInputError reports a daily report file whose header row is
// missing columns the loader requires for that report type.
type MalformedInputError struct {
	Type    string
	Source  string
	Missing []string
}

func (e *MalformedInputError) Error() string {
	return fmt.Sprintf("malformed %s report %s: missing columns %s",
		e.Type, e.Source, strings.Join(e.Missing, ", "))
}

// MissingDataError reports trading dates for which no snapshot exists in
// the store and no source file could be loaded.
type MissingDataError struct {
	Type  string
	Dates []time.Time
}

func (e *MissingDataError) Error() string {
	labels := make([]string, len(e.Dates))
	for i, d := range e.Dates {
		labels[i] = d.Format("02-01-2006")
	}
	return fmt.Sprintf("no %s data for dates: %s", e.Type, strings.Join(labels, ", "))
}

// NoDataForUniverseError reports a consolidation whose symbol universe
// restriction eliminated every row.
type NoDataForUniverseError struct {
	Type     string
	Universe int
}

func (e *NoDataForUniverseError) Error() string {
	return fmt.Sprintf("no %s rows matched the %d-symbol universe", e.Type, e.Universe)
}

// IsMalformedInput reports whether err wraps a MalformedInputError.
func IsMalformedInput(err error) bool {
	var target *MalformedInputError
	return errors.As(err, &target)
}

// IsMissingData reports whether err wraps a MissingDataError.
func IsMissingData(err error) bool {
	var target *MissingDataError
	return errors.As(err, &target)
}

// IsNoDataForUniverse reports whether err wraps a NoDataForUniverseError.
func IsNoDataForUniverse(err error) bool {
	var target *NoDataForUniverseError
	return errors.As(err, &target)
}
