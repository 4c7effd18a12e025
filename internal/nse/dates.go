package nse

import "time"

// TradingDates lists the weekdays in [from, to], oldest first. Exchange
// holidays are not filtered here; an absent report for a listed date is
// a normal download outcome.
func TradingDates(from, to time.Time) []time.Time {
	from = midnight(from)
	to = midnight(to)
	if to.Before(from) {
		return nil
	}

	var dates []time.Time
	for d := from; !d.After(to); d = d.AddDate(0, 0, 1) {
		switch d.Weekday() {
		case time.Saturday, time.Sunday:
			continue
		}
		dates = append(dates, d)
	}
	return dates
}

// RecentTradingDates lists the last two years of weekdays, newest
// first, matching what date pickers expect.
func RecentTradingDates(now time.Time) []time.Time {
	dates := TradingDates(now.AddDate(-2, 0, 0), now)
	for i, j := 0, len(dates)-1; i < j; i, j = i+1, j-1 {
		dates[i], dates[j] = dates[j], dates[i]
	}
	return dates
}

func midnight(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
