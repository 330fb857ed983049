package frame

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ErrInvalidFrequency is returned when a frequency alias cannot be parsed
var ErrInvalidFrequency = errors.New("invalid frequency")

// Unit is the base unit of a frequency
type Unit int

const (
	// UnitSecond buckets by n seconds
	UnitSecond Unit = iota
	// UnitMinute buckets by n minutes
	UnitMinute
	// UnitHour buckets by n hours
	UnitHour
	// UnitDay buckets by n days
	UnitDay
	// UnitWeek buckets by Sunday-anchored weeks
	UnitWeek
	// UnitMonthStart buckets by calendar month, labelled with the first day
	UnitMonthStart
	// UnitMonthEnd buckets by calendar month, labelled with the last day
	UnitMonthEnd
	// UnitYearStart buckets by calendar year, labelled with January 1st
	UnitYearStart
	// UnitYearEnd buckets by calendar year, labelled with December 31st
	UnitYearEnd
)

// Frequency is a parsed time bucket alias such as "15T", "1H", "D" or "W"
type Frequency struct {
	N    int
	Unit Unit
	raw  string
}

// ParseFrequency parses a frequency alias
func ParseFrequency(s string) (Frequency, error) {
	raw := strings.TrimSpace(s)
	if raw == "" {
		return Frequency{}, fmt.Errorf("%w: empty", ErrInvalidFrequency)
	}

	i := 0
	for i < len(raw) && raw[i] >= '0' && raw[i] <= '9' {
		i++
	}

	n := 1
	if i > 0 {
		v, err := strconv.Atoi(raw[:i])
		if err != nil || v <= 0 {
			return Frequency{}, fmt.Errorf("%w: %s", ErrInvalidFrequency, s)
		}

		n = v
	}

	var unit Unit

	switch strings.ToUpper(raw[i:]) {
	case "S":
		unit = UnitSecond
	case "T", "MIN":
		unit = UnitMinute
	case "H":
		unit = UnitHour
	case "D":
		unit = UnitDay
	case "W", "W-SUN":
		unit = UnitWeek
	case "MS":
		unit = UnitMonthStart
	case "M":
		unit = UnitMonthEnd
	case "AS", "YS":
		unit = UnitYearStart
	case "A", "Y":
		unit = UnitYearEnd
	default:
		return Frequency{}, fmt.Errorf("%w: %s", ErrInvalidFrequency, s)
	}

	if n != 1 && unit > UnitDay {
		return Frequency{}, fmt.Errorf("%w: multiples of %s are not supported", ErrInvalidFrequency, raw[i:])
	}

	return Frequency{N: n, Unit: unit, raw: raw}, nil
}

// MustParseFrequency is ParseFrequency that panics on error
func MustParseFrequency(s string) Frequency {
	f, err := ParseFrequency(s)
	if err != nil {
		panic(err)
	}

	return f
}

// String returns the alias the frequency was parsed from
func (f Frequency) String() string {
	return f.raw
}

// Duration returns the fixed bucket length, zero for calendar units
func (f Frequency) Duration() time.Duration {
	switch f.Unit {
	case UnitSecond:
		return time.Duration(f.N) * time.Second
	case UnitMinute:
		return time.Duration(f.N) * time.Minute
	case UnitHour:
		return time.Duration(f.N) * time.Hour
	case UnitDay:
		return time.Duration(f.N) * 24 * time.Hour
	case UnitWeek:
		return 7 * 24 * time.Hour
	default:
		return 0
	}
}

// PeriodStart returns the start of the bucket containing t
func (f Frequency) PeriodStart(t time.Time) time.Time {
	t = t.UTC()
	day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)

	switch f.Unit {
	case UnitSecond, UnitMinute, UnitHour:
		step := f.Duration()
		return day.Add(t.Sub(day) / step * step)
	case UnitDay:
		days := day.Unix() / 86400
		days -= days % int64(f.N)

		return time.Unix(days*86400, 0).UTC()
	case UnitWeek:
		return day.AddDate(0, 0, -int(day.Weekday()))
	case UnitMonthStart, UnitMonthEnd:
		return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
	default:
		return time.Date(t.Year(), time.January, 1, 0, 0, 0, 0, time.UTC)
	}
}

// Label returns the group label of the bucket containing t. Month end and
// year end buckets are labelled with their last day, every other bucket with
// its start.
func (f Frequency) Label(t time.Time) time.Time {
	start := f.PeriodStart(t)

	switch f.Unit {
	case UnitMonthEnd:
		return start.AddDate(0, 1, -1)
	case UnitYearEnd:
		return start.AddDate(1, 0, -1)
	default:
		return start
	}
}
