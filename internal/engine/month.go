package engine

import (
	"fmt"
	"time"
)

// MonthWindow resolves a YYYY-MM month key to its half-open UTC window
// [first-of-month 00:00 tz, first-of-next-month 00:00 tz).
func MonthWindow(ym string, loc *time.Location) (time.Time, time.Time, error) {
	if loc == nil {
		loc = time.UTC
	}
	start, err := time.ParseInLocation("2006-01", ym, loc)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid month %q (want YYYY-MM): %w", ym, err)
	}
	return start.UTC(), start.AddDate(0, 1, 0).UTC(), nil
}

// MonthOf returns the YYYY-MM key of an instant in the given timezone.
func MonthOf(t time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	return t.In(loc).Format("2006-01")
}
