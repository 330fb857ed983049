package frame

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFrequency(t *testing.T) {
	tests := []struct {
		in      string
		n       int
		unit    Unit
		wantErr bool
	}{
		{in: "15T", n: 15, unit: UnitMinute},
		{in: "5min", n: 5, unit: UnitMinute},
		{in: "1H", n: 1, unit: UnitHour},
		{in: "D", n: 1, unit: UnitDay},
		{in: "30S", n: 30, unit: UnitSecond},
		{in: "W", n: 1, unit: UnitWeek},
		{in: "MS", n: 1, unit: UnitMonthStart},
		{in: "M", n: 1, unit: UnitMonthEnd},
		{in: "AS", n: 1, unit: UnitYearStart},
		{in: "Y", n: 1, unit: UnitYearEnd},
		{in: "", wantErr: true},
		{in: "3X", wantErr: true},
		{in: "2W", wantErr: true},
		{in: "0H", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			f, err := ParseFrequency(tt.in)
			if tt.wantErr {
				require.ErrorIs(t, err, ErrInvalidFrequency)
				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.n, f.N)
			assert.Equal(t, tt.unit, f.Unit)
			assert.Equal(t, tt.in, f.String())
		})
	}
}

func TestFrequencyBuckets(t *testing.T) {
	tests := []struct {
		freq  string
		at    string
		start string
		label string
	}{
		{freq: "15T", at: "2024-03-13T10:37:12Z", start: "2024-03-13T10:30:00Z", label: "2024-03-13T10:30:00Z"},
		{freq: "1H", at: "2024-03-13T10:37:12Z", start: "2024-03-13T10:00:00Z", label: "2024-03-13T10:00:00Z"},
		{freq: "D", at: "2024-03-13T10:37:12Z", start: "2024-03-13T00:00:00Z", label: "2024-03-13T00:00:00Z"},
		// 2024-03-13 is a Wednesday, the week starts on Sunday the 10th.
		{freq: "W", at: "2024-03-13T10:37:12Z", start: "2024-03-10T00:00:00Z", label: "2024-03-10T00:00:00Z"},
		{freq: "MS", at: "2024-02-13T10:37:12Z", start: "2024-02-01T00:00:00Z", label: "2024-02-01T00:00:00Z"},
		{freq: "M", at: "2024-02-13T10:37:12Z", start: "2024-02-01T00:00:00Z", label: "2024-02-29T00:00:00Z"},
		{freq: "AS", at: "2024-02-13T10:37:12Z", start: "2024-01-01T00:00:00Z", label: "2024-01-01T00:00:00Z"},
		{freq: "A", at: "2024-02-13T10:37:12Z", start: "2024-01-01T00:00:00Z", label: "2024-12-31T00:00:00Z"},
	}

	for _, tt := range tests {
		t.Run(tt.freq, func(t *testing.T) {
			f := MustParseFrequency(tt.freq)
			assert.Equal(t, ts(tt.start), f.PeriodStart(ts(tt.at)))
			assert.Equal(t, ts(tt.label), f.Label(ts(tt.at)))
		})
	}
}
