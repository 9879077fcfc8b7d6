package generic

import (
	"fmt"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
)

// =============================================================================
// MONTH - Calendar month used for repayment schedules
// =============================================================================

type Month struct {
	Year  int
	Month time.Month
}

func NewMonth(year int, month time.Month) Month {
	return Month{Year: year, Month: month}
}

func MonthOf(t time.Time) Month {
	return Month{Year: t.Year(), Month: t.Month()}
}

// ParseMonth accepts "2006-01".
func ParseMonth(s string) (Month, error) {
	t, err := time.Parse("2006-01", strings.TrimSpace(s))
	if err != nil {
		return Month{}, errors.Wrapf(err, "parse month %q", s)
	}
	return MonthOf(t), nil
}

func (m Month) IsZero() bool { return m.Year == 0 }

// Start is midnight UTC on the first day of the month.
func (m Month) Start() time.Time {
	return time.Date(m.Year, m.Month, 1, 0, 0, 0, 0, time.UTC)
}

func (m Month) AddMonths(n int) Month {
	return MonthOf(m.Start().AddDate(0, n, 0))
}

func (m Month) Before(other Month) bool {
	return m.Start().Before(other.Start())
}

func (m Month) String() string {
	if m.IsZero() {
		return ""
	}
	return m.Start().Format("2006-01")
}

// =============================================================================
// TIME UTILITIES
// =============================================================================

// StartOfDay truncates t to midnight UTC.
func StartOfDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// AddMonthsClamped adds n calendar months, clamping the day to the end of
// the target month (Jan 31 + 1 month = Feb 28/29).
func AddMonthsClamped(t time.Time, n int) time.Time {
	first := time.Date(t.Year(), t.Month(), 1, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
	target := first.AddDate(0, n, 0)
	last := target.AddDate(0, 1, -1).Day()
	day := t.Day()
	if day > last {
		day = last
	}
	return time.Date(target.Year(), target.Month(), day, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
}

// WholeMonthsBetween counts complete calendar months from `from` to `to`.
// Negative when `to` is before `from`.
func WholeMonthsBetween(from, to time.Time) int {
	from, to = StartOfDay(from), StartOfDay(to)
	if to.Before(from) {
		return -WholeMonthsBetween(to, from)
	}
	months := (to.Year()-from.Year())*12 + int(to.Month()-from.Month())
	if AddMonthsClamped(from, months).After(to) {
		months--
	}
	return months
}

// FormatDuration renders a stage duration for display, e.g. "2d 3h" or "45m".
func FormatDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	days := int(d / (24 * time.Hour))
	hours := int(d%(24*time.Hour)) / int(time.Hour)
	minutes := int(d%time.Hour) / int(time.Minute)
	switch {
	case days > 0:
		return fmt.Sprintf("%dd %dh", days, hours)
	case hours > 0:
		return fmt.Sprintf("%dh %dm", hours, minutes)
	default:
		return fmt.Sprintf("%dm", minutes)
	}
}
