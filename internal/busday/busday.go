package busday

import (
	"fmt"
	"time"
)

// Day is a calendar date used as the ledger's time partition. It carries no
// time-of-day or location and is comparable, so it can key maps directly.
type Day struct {
	Year  int
	Month time.Month
	Date  int
}

// DayOf truncates an instant to its calendar date in the instant's location.
func DayOf(t time.Time) Day {
	y, m, d := t.Date()
	return Day{Year: y, Month: m, Date: d}
}

// ParseDay reads the canonical YYYY-MM-DD form produced by String.
func ParseDay(s string) (Day, error) {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return Day{}, fmt.Errorf("parse day %q: %w", s, err)
	}
	return DayOf(t), nil
}

// String renders the canonical YYYY-MM-DD form used as persistence keys.
func (d Day) String() string {
	return fmt.Sprintf("%04d-%02d-%02d", d.Year, int(d.Month), d.Date)
}

// IsZero reports whether d is the zero value.
func (d Day) IsZero() bool {
	return d == Day{}
}

// AddDays returns the date n days after d (n may be negative).
func (d Day) AddDays(n int) Day {
	t := time.Date(d.Year, d.Month, d.Date, 0, 0, 0, 0, time.UTC)
	return DayOf(t.AddDate(0, 0, n))
}

// Before reports whether d is strictly earlier than other.
func (d Day) Before(other Day) bool {
	if d.Year != other.Year {
		return d.Year < other.Year
	}
	if d.Month != other.Month {
		return d.Month < other.Month
	}
	return d.Date < other.Date
}

// After reports whether d is strictly later than other.
func (d Day) After(other Day) bool {
	return other.Before(d)
}

// MarshalText makes Day usable as a JSON object key.
func (d Day) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// UnmarshalText parses the canonical form back into a Day.
func (d *Day) UnmarshalText(data []byte) error {
	parsed, err := ParseDay(string(data))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// Cutoff is a time of day expressed as minutes since local midnight.
type Cutoff int

// ParseCutoff reads an "HH:MM" string into a Cutoff.
func ParseCutoff(s string) (Cutoff, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, fmt.Errorf("parse cutoff %q: %w", s, err)
	}
	return Cutoff(t.Hour()*60 + t.Minute()), nil
}

// String renders the cutoff back as "HH:MM".
func (c Cutoff) String() string {
	return fmt.Sprintf("%02d:%02d", int(c)/60, int(c)%60)
}

func minutesOfDay(t time.Time) int {
	return t.Hour()*60 + t.Minute()
}

// Effective answers which business day a submission at the given instant
// belongs to. Strictly before the cutoff the submission counts for the local
// calendar date; at or after the cutoff it rolls forward to the next date.
func Effective(instant time.Time, cutoff Cutoff, loc *time.Location) Day {
	local := instant.In(loc)
	day := DayOf(local)
	if minutesOfDay(local) >= int(cutoff) {
		return day.AddDays(1)
	}
	return day
}

// ForReport answers which business day a report generated at the given
// instant covers. At or after the cutoff the report covers the local date;
// strictly before it covers the previous date. Together with Effective this
// guarantees that a submission accepted at T is visible in the next report
// generated at or after the day's report time.
func ForReport(instant time.Time, cutoff Cutoff, loc *time.Location) Day {
	local := instant.In(loc)
	day := DayOf(local)
	if minutesOfDay(local) >= int(cutoff) {
		return day
	}
	return day.AddDays(-1)
}
