package schedule

import (
	"fmt"
	"sort"
	"time"

	"github.com/ethpandaops/kpt/pkg/models"
)

// absolute units in decreasing size; once one is given the smaller ones default to zero
//
//nolint:gochecknoglobals // unit tables
var absoluteUnits = []string{"year", "month", "day", "hour", "minute", "second"}

//nolint:gochecknoglobals // unit tables
var relativeUnits = map[string]bool{
	"years": true, "months": true, "weeks": true, "days": true,
	"hours": true, "minutes": true, "seconds": true,
}

// BacktrackPoint returns how far back from launch a KPI has to recompute.
// Absolute units replace the fields of launch first, then relative units are
// subtracted. A schedule anchor overrides the time of day.
func BacktrackPoint(backtrack map[string]int, s *models.Schedule, launch time.Time) (time.Time, error) {
	values := make(map[string]int, len(backtrack)+3)

	var unknown []string

	for unit, v := range backtrack {
		if !relativeUnits[unit] && !isAbsolute(unit) {
			unknown = append(unknown, unit)
			continue
		}

		values[unit] = v
	}

	if len(unknown) > 0 {
		sort.Strings(unknown)
		return time.Time{}, fmt.Errorf("%w: unknown units %v", ErrInvalidBacktrack, unknown)
	}

	found := false

	for _, unit := range absoluteUnits[3:] {
		if _, ok := values[unit]; ok {
			found = true
		} else if found {
			values[unit] = 0
		}
	}

	if s != nil {
		anchor, err := ParseStartingAt(s.StartingAt)
		if err != nil {
			return time.Time{}, err
		}

		values["hour"], values["minute"], values["second"] = anchor.Hour, anchor.Minute, anchor.Second
	}

	t := launch.UTC()

	field := func(unit string, current int) int {
		if v, ok := values[unit]; ok {
			return v
		}

		return current
	}

	nanos := t.Nanosecond()
	if found || s != nil {
		nanos = 0
	}

	t = time.Date(
		field("year", t.Year()),
		time.Month(field("month", int(t.Month()))),
		field("day", t.Day()),
		field("hour", t.Hour()),
		field("minute", t.Minute()),
		field("second", t.Second()),
		nanos,
		time.UTC,
	)

	t = t.AddDate(-values["years"], -values["months"], -(values["days"] + 7*values["weeks"]))

	return t.Add(-(time.Duration(values["hours"])*time.Hour +
		time.Duration(values["minutes"])*time.Minute +
		time.Duration(values["seconds"])*time.Second)), nil
}

func isAbsolute(unit string) bool {
	for _, u := range absoluteUnits {
		if u == unit {
			return true
		}
	}

	return false
}
