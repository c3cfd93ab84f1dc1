package utils

import (
	"fmt"
	"time"
)

// FormatDDMMYY renders t as day, month and two-digit year, e.g. 030126.
func FormatDDMMYY(t time.Time) string {
	return t.Format("020106")
}

// HumanizeDuration renders whole minutes or seconds, e.g. "5 minutes".
func HumanizeDuration(d time.Duration) string {
	switch {
	case d >= time.Minute && d%time.Minute == 0:
		m := int(d / time.Minute)
		if m == 1 {
			return "1 minute"
		}
		return fmt.Sprintf("%d minutes", m)
	case d >= time.Second:
		s := int(d.Round(time.Second) / time.Second)
		if s == 1 {
			return "1 second"
		}
		return fmt.Sprintf("%d seconds", s)
	default:
		return d.String()
	}
}
