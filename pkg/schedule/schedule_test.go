package schedule

import (
	"io"
	"testing"
	"time"

	"github.com/ethpandaops/kpt/pkg/models"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func at(s string) time.Time {
	t, err := time.ParseInLocation("2006-01-02 15:04:05", s, time.UTC)
	if err != nil {
		panic(err)
	}

	return t
}

func ptr(t time.Time) *time.Time { return &t }

func TestLatest(t *testing.T) {
	tests := []struct {
		name     string
		schedule models.Schedule
		at       string
		want     string
	}{
		{"daily time of day", models.Schedule{Every: "1D", StartingAt: "06:00"}, "2024-03-05 07:00:00", "2024-03-05 06:00:00"},
		{"daily before anchor", models.Schedule{Every: "1D", StartingAt: "06:00"}, "2024-03-05 05:00:00", "2024-03-04 06:00:00"},
		{"quarter hour", models.Schedule{Every: "15T", StartingAt: "00:00"}, "2024-03-05 12:20:00", "2024-03-05 12:15:00"},
		{"hourly with seconds", models.Schedule{Every: "1H", StartingAt: "00:30:15"}, "2024-03-05 12:20:00", "2024-03-05 11:30:15"},
		{"weekly anchored on sunday", models.Schedule{Every: "W", StartingAt: "08:00"}, "2024-03-06 10:00:00", "2024-03-03 08:00:00"},
		{"future date anchor", models.Schedule{Every: "1D", StartingAt: "2024-03-10 00:00:00"}, "2024-03-05 12:00:00", "2024-03-05 00:00:00"},
		{"monthly date anchor", models.Schedule{Every: "MS", StartingAt: "2024-01-15 00:00:00"}, "2024-03-20 00:00:00", "2024-03-15 00:00:00"},
		{"monthly before day", models.Schedule{Every: "MS", StartingAt: "2024-01-15 00:00:00"}, "2024-03-10 00:00:00", "2024-02-15 00:00:00"},
		{"monthly time of day", models.Schedule{Every: "MS", StartingAt: "01:00"}, "2024-03-20 00:00:00", "2024-03-01 01:00:00"},
		{"yearly", models.Schedule{Every: "AS", StartingAt: "2020-06-01 00:00:00"}, "2024-03-20 00:00:00", "2023-06-01 00:00:00"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Latest(&tt.schedule, at(tt.at))
			require.NoError(t, err)
			assert.Equal(t, at(tt.want), got)
		})
	}
}

func TestIsDue(t *testing.T) {
	daily := &models.Schedule{Every: "1D", StartingAt: "06:00"}
	launch := at("2024-03-05 07:00:00")

	due, err := IsDue(daily, ptr(at("2024-03-05 05:00:00")), launch)
	require.NoError(t, err)
	assert.True(t, due)

	due, err = IsDue(daily, ptr(at("2024-03-05 06:30:00")), launch)
	require.NoError(t, err)
	assert.False(t, due)

	due, err = IsDue(daily, ptr(at("2024-03-05 06:00:00")), launch)
	require.NoError(t, err)
	assert.False(t, due, "an instant equal to the last execution was already served")

	due, err = IsDue(daily, nil, launch)
	require.NoError(t, err)
	assert.True(t, due)

	due, err = IsDue(nil, ptr(launch), launch)
	require.NoError(t, err)
	assert.True(t, due)
}

func TestScheduleErrors(t *testing.T) {
	launch := at("2024-03-05 07:00:00")

	_, err := IsDue(&models.Schedule{Every: "1D"}, nil, launch)
	require.ErrorIs(t, err, ErrMissingStartingAt)

	_, err = IsDue(&models.Schedule{Every: "fortnightly", StartingAt: "06:00"}, nil, launch)
	require.ErrorIs(t, err, ErrInvalidEvery)

	_, err = IsDue(&models.Schedule{Every: "1D", StartingAt: "25:00"}, nil, launch)
	require.ErrorIs(t, err, ErrInvalidStartingAt)

	_, err = IsDue(&models.Schedule{Every: "1D", StartingAt: "yesterday"}, nil, launch)
	require.ErrorIs(t, err, ErrInvalidStartingAt)
}

func TestBacktrackPoint(t *testing.T) {
	launch := at("2024-03-05 12:34:56")

	tests := []struct {
		name      string
		backtrack map[string]int
		schedule  *models.Schedule
		want      string
	}{
		{"relative days", map[string]int{"days": 1}, nil, "2024-03-04 12:34:56"},
		{"weeks", map[string]int{"weeks": 1}, nil, "2024-02-27 12:34:56"},
		{"absolute hour zero fills", map[string]int{"days": 0, "hour": 6}, nil, "2024-03-05 06:00:00"},
		{"absolute then relative", map[string]int{"days": 1, "hour": 6, "minute": 30}, nil, "2024-03-04 06:30:00"},
		{"month start", map[string]int{"months": 1, "day": 1, "hour": 0}, nil, "2024-02-01 00:00:00"},
		{"schedule overrides time", map[string]int{"days": 1, "hour": 3}, &models.Schedule{Every: "1D", StartingAt: "22:00"}, "2024-03-04 22:00:00"},
		{"relative hours", map[string]int{"hours": 2, "minutes": 4}, nil, "2024-03-05 10:30:56"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := BacktrackPoint(tt.backtrack, tt.schedule, launch)
			require.NoError(t, err)
			assert.Equal(t, at(tt.want), got)
		})
	}

	_, err := BacktrackPoint(map[string]int{"fortnights": 1}, nil, launch)
	require.ErrorIs(t, err, ErrInvalidBacktrack)
}

func testLogger() logrus.FieldLogger {
	log := logrus.New()
	log.SetOutput(io.Discard)

	return log
}

func TestApply(t *testing.T) {
	undue := &models.Schedule{Every: "1D", StartingAt: "06:00"}

	tree := models.NewTree()

	add := func(name string, d *models.Declaration, deps ...string) {
		t.Helper()

		_, err := tree.AddNode(name, d)
		require.NoError(t, err)

		for _, dep := range deps {
			require.NoError(t, tree.Link(name, dep))
		}
	}

	add("speed", nil)
	add("a", &models.Declaration{Name: "a", Output: map[string]any{"name": "a"}, Schedule: undue}, "speed")
	add("b", &models.Declaration{Name: "b", Output: map[string]any{"name": "b"}}, "a")
	add("c", &models.Declaration{Name: "c", Output: map[string]any{"name": "c"}, Schedule: undue, Backtrack: map[string]int{"days": 5}}, "speed")
	add("d", &models.Declaration{Name: "d", Output: map[string]any{"name": "d"}, Backtrack: map[string]int{"days": 2}}, "speed")
	add("e", &models.Declaration{Name: "e", Output: map[string]any{"name": "e"}, Backtrack: map[string]int{"eons": 2}}, "speed")

	launch := at("2024-03-05 07:00:00")
	last := at("2024-03-05 06:30:00")

	res, err := Apply(testLogger(), tree, []string{"a", "c", "d", "e", "b"}, &last, launch)
	require.NoError(t, err)

	assert.Equal(t, []string{"a", "d", "e", "b"}, res.Queue)
	assert.Equal(t, []string{"c"}, res.Skipped)
	assert.Equal(t, []string{"a"}, res.Held)
	require.True(t, res.Backtracking())
	assert.Equal(t, at("2024-03-03 07:00:00"), *res.Start)
}

func TestApplyFirstRun(t *testing.T) {
	tree := models.NewTree()
	_, err := tree.AddNode("a", &models.Declaration{Name: "a", Schedule: &models.Schedule{Every: "1D", StartingAt: "06:00"}})
	require.NoError(t, err)

	res, err := Apply(testLogger(), tree, []string{"a"}, nil, at("2024-03-05 07:00:00"))
	require.NoError(t, err)

	assert.Equal(t, []string{"a"}, res.Queue)
	assert.Empty(t, res.Skipped)
	assert.False(t, res.Backtracking())
}
