package bhavcopy

import (
	"regexp"
	"time"

	"nsecli/pkg/contracts/domain"
)

var fileNamePattern = regexp.MustCompile(`^(mcap|pr)(\d{8})`)

// ParseFileName extracts the report type and date from a daily report
// file name of the form mcapDDMMYYYY.csv or prDDMMYYYY.csv. The second
// return is false when the name does not follow the convention.
func ParseFileName(name string) (domain.ReportType, time.Time, bool) {
	m := fileNamePattern.FindStringSubmatch(name)
	if m == nil {
		return "", time.Time{}, false
	}
	date, err := time.Parse("02012006", m[2])
	if err != nil {
		return "", time.Time{}, false
	}
	return domain.ReportType(m[1]), date, true
}

// FileName builds the conventional daily report file name for a type
// and date.
func FileName(reportType domain.ReportType, date time.Time) string {
	return string(reportType) + date.Format("02012006") + ".csv"
}
