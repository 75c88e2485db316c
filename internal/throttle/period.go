package throttle

import (
	"fmt"
	"strings"
	"time"
)

// Period is the length of a publication budget window. Windows are aligned to
// calendar boundaries in UTC.
type Period string

const (
	Hour  Period = "hour"
	Day   Period = "day"
	Month Period = "month"
)

func ParsePeriod(s string) (Period, error) {
	switch p := Period(strings.ToLower(strings.TrimSpace(s))); p {
	case Hour, Day, Month:
		return p, nil
	case "":
		return Day, nil
	default:
		return "", fmt.Errorf("throttle: unknown period %q (want hour, day or month)", s)
	}
}

// Start returns the beginning of the window containing t.
func (p Period) Start(t time.Time) time.Time {
	t = t.UTC()
	switch p {
	case Hour:
		return t.Truncate(time.Hour)
	case Month:
		return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
	default:
		return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	}
}

// Next returns the beginning of the window after the one containing t.
func (p Period) Next(t time.Time) time.Time {
	s := p.Start(t)
	switch p {
	case Hour:
		return s.Add(time.Hour)
	case Month:
		return s.AddDate(0, 1, 0)
	default:
		return s.AddDate(0, 0, 1)
	}
}
