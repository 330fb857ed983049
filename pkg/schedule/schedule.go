// Package schedule decides which KPIs are due in a run and how far back a
// run has to recompute.
package schedule

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/ethpandaops/kpt/pkg/frame"
	"github.com/ethpandaops/kpt/pkg/models"
)

var (
	// ErrMissingStartingAt is returned when a schedule has no anchor
	ErrMissingStartingAt = errors.New("schedule is incomplete because starting_at is missing")
	// ErrInvalidStartingAt is returned when the anchor cannot be parsed
	ErrInvalidStartingAt = errors.New("invalid schedule starting_at")
	// ErrInvalidEvery is returned when the interval is not a frequency alias
	ErrInvalidEvery = errors.New("invalid schedule interval")
	// ErrInvalidBacktrack is returned for unknown backtrack units
	ErrInvalidBacktrack = errors.New("invalid backtrack offset")
)

//nolint:gochecknoglobals // compiled once
var timeOfDay = regexp.MustCompile(`^\d{1,2}:\d{2}(:\d{2})?$`)

// Anchor is a parsed starting_at. Date is nil when only a time of day is given.
type Anchor struct {
	Date   *time.Time
	Hour   int
	Minute int
	Second int
}

// ParseStartingAt parses `HH:MM[:SS]` or `YYYY-MM-DD HH:MM:SS`
func ParseStartingAt(s string) (Anchor, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Anchor{}, ErrMissingStartingAt
	}

	if timeOfDay.MatchString(s) {
		parts := strings.Split(s, ":")

		values := [3]int{}
		for i, p := range parts {
			v, err := strconv.Atoi(p)
			if err != nil {
				return Anchor{}, fmt.Errorf("%w: %s", ErrInvalidStartingAt, s)
			}

			values[i] = v
		}

		if values[0] > 23 || values[1] > 59 || values[2] > 59 {
			return Anchor{}, fmt.Errorf("%w: %s", ErrInvalidStartingAt, s)
		}

		return Anchor{Hour: values[0], Minute: values[1], Second: values[2]}, nil
	}

	ts, err := time.ParseInLocation("2006-01-02 15:04:05", s, time.UTC)
	if err != nil {
		return Anchor{}, fmt.Errorf("%w: %s", ErrInvalidStartingAt, s)
	}

	day := time.Date(ts.Year(), ts.Month(), ts.Day(), 0, 0, 0, 0, time.UTC)

	return Anchor{Date: &day, Hour: ts.Hour(), Minute: ts.Minute(), Second: ts.Second()}, nil
}

func (a Anchor) on(day time.Time) time.Time {
	return time.Date(day.Year(), day.Month(), day.Day(), a.Hour, a.Minute, a.Second, 0, time.UTC)
}

// Latest returns the newest schedule instant not after t
func Latest(s *models.Schedule, t time.Time) (time.Time, error) {
	anchor, err := ParseStartingAt(s.StartingAt)
	if err != nil {
		return time.Time{}, err
	}

	every, err := frame.ParseFrequency(s.Every)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %s: %w", ErrInvalidEvery, s.Every, err)
	}

	t = t.UTC()

	if step := every.Duration(); step > 0 {
		day := t
		if step >= 24*time.Hour {
			day = every.PeriodStart(t)
		}

		base := anchor.on(day)
		if anchor.Date != nil {
			base = anchor.on(*anchor.Date)
		}

		diff := t.Sub(base)
		k := diff / step

		if diff < 0 && diff%step != 0 {
			k--
		}

		return base.Add(k * step), nil
	}

	// calendar intervals step by whole months or years from the anchor
	months := 12
	if every.Unit == frame.UnitMonthStart || every.Unit == frame.UnitMonthEnd {
		months = 1
	}

	base := anchor.on(every.Label(t))
	if anchor.Date != nil {
		base = anchor.on(*anchor.Date)
	}

	k := ((t.Year()-base.Year())*12 + int(t.Month()) - int(base.Month())) / months

	candidate := base.AddDate(0, k*months, 0)
	for candidate.After(t) {
		k--
		candidate = base.AddDate(0, k*months, 0)
	}

	return candidate, nil
}

// IsDue reports whether a schedule instant falls in (last, launch]. A KPI
// that never ran is due.
func IsDue(s *models.Schedule, last *time.Time, launch time.Time) (bool, error) {
	if s == nil {
		return true, nil
	}

	latest, err := Latest(s, launch)
	if err != nil {
		return false, err
	}

	if last == nil {
		return true, nil
	}

	return latest.After(*last), nil
}
