package domain

import "time"

// Date formats used across the on-disk artifacts and the upstream API.
const (
	DateFormatCompact = "20060102"   // YYYYMMDD, the flat-file row format
	DateFormatISO     = "2006-01-02" // Upstream payload dates
)

// EarliestDate is the anchor for all generated series. Corporate-action and
// price history queries start here, and every artifact's first sentinel row
// carries this date.
func EarliestDate() time.Time {
	return time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)
}

// FarFutureDate marks a still-active security in a map file.
func FarFutureDate() time.Time {
	return time.Date(2050, 12, 31, 0, 0, 0, 0, time.UTC)
}

// Midnight truncates a time to its UTC date.
func Midnight(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// SameDate reports whether two times fall on the same UTC date.
func SameDate(a, b time.Time) bool {
	return Midnight(a).Equal(Midnight(b))
}
