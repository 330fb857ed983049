package builtin

import (
	"context"
	"testing"

	"github.com/ethpandaops/kpt/pkg/catalog"
	"github.com/ethpandaops/kpt/pkg/frame"
	"github.com/ethpandaops/kpt/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSimpleReducers(t *testing.T) {
	values := []any{1.0, nil, 2.0, 3.0, true}

	tests := []struct {
		function    string
		values      []any
		want        any
		numericOnly bool
	}{
		{function: "Sum", values: values, want: 7.0, numericOnly: true},
		{function: "Sum", values: []any{}, want: 0.0, numericOnly: true},
		{function: "Mean", values: []any{1.0, 2.0, 3.0}, want: 2.0, numericOnly: true},
		{function: "Mean", values: []any{nil}, want: nil, numericOnly: true},
		{function: "Variance", values: []any{1.0, 2.0, 3.0}, want: 1.0, numericOnly: true},
		{function: "StandardDeviation", values: []any{2.0, 4.0}, want: 1.4142135623730951, numericOnly: true},
		{function: "StandardDeviation", values: []any{2.0}, want: nil, numericOnly: true},
		{function: "Product", values: []any{2.0, 3.0, nil}, want: 6.0, numericOnly: true},
		{function: "Minimum", values: []any{"b", nil, "a"}, want: "a"},
		{function: "Maximum", values: []any{1.0, 5.0, 3.0}, want: 5.0},
		{function: "Count", values: values, want: 4.0},
		{function: "DistinctCount", values: []any{"a", "a", "b", nil}, want: 2.0},
		{function: "First", values: []any{nil, "x", "y"}, want: "x"},
		{function: "Last", values: []any{"x", "y", nil}, want: "y"},
	}

	for _, tt := range tests {
		t.Run(tt.function, func(t *testing.T) {
			entry, err := catalog.Default().Lookup(tt.function)
			require.NoError(t, err)
			require.Equal(t, catalog.AggregationSimple, entry.Aggregation)

			r := entry.NewSimple()
			assert.Equal(t, tt.numericOnly, r.NumericOnly())

			got := r.Reduce(tt.values)
			if f, ok := tt.want.(float64); ok {
				require.IsType(t, 0.0, got)
				assert.InDelta(t, f, got.(float64), 1e-9)
				return
			}

			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRange(t *testing.T) {
	r, err := newRange(catalog.Params{"source": "speed", "name": "speed_range"})
	require.NoError(t, err)

	group, err := frame.New(nil, frame.NewColumn("speed", frame.KindFloat, 4.0, 1.0, nil, 9.0))
	require.NoError(t, err)

	row, err := r.Reduce(group)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"speed_range": 8.0}, row)

	_, err = newRange(catalog.Params{"source": "speed"})
	require.ErrorIs(t, err, catalog.ErrInvalidParams)
}

func TestMedian(t *testing.T) {
	m, err := newMedian(catalog.Params{"source": "v", "name": "v_median"})
	require.NoError(t, err)

	f, err := frame.New(nil,
		frame.NewColumn("id", frame.KindString, "A", "A", "A", "A", "B"),
		frame.NewColumn("v", frame.KindFloat, 4.0, 1.0, 3.0, 2.0, 7.0),
	)
	require.NoError(t, err)

	out, err := m.Aggregate(f, []frame.Grouper{frame.ColumnGrouper{Column: "id"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"id"}, out.Index())

	c, ok := out.Column("v_median")
	require.True(t, ok)
	assert.Equal(t, []any{2.5, 7.0}, c.Values)
}

func TestTransformers(t *testing.T) {
	input, err := frame.New([]string{"id"},
		frame.NewColumn("id", frame.KindString, "A", "B", "C"),
		frame.NewColumn("a", frame.KindFloat, 2.0, nil, 5.0),
		frame.NewColumn("b", frame.KindFloat, 3.0, 1.0, 1.0),
	)
	require.NoError(t, err)

	tests := []struct {
		name     string
		function string
		params   catalog.Params
		output   string
		want     []any
	}{
		{
			name:     "multiply with factor",
			function: "Multiply",
			params:   catalog.Params{"input_items": []any{"a", "b"}, "factor": 2.0, "output_item": "m"},
			output:   "m",
			want:     []any{12.0, nil, 10.0},
		},
		{
			name:     "difference",
			function: "Difference",
			params:   catalog.Params{"minuend": "a", "subtrahend": "b", "output_item": "d"},
			output:   "d",
			want:     []any{-1.0, nil, 4.0},
		},
		{
			name:     "threshold above",
			function: "ThresholdAlert",
			params:   catalog.Params{"source": "a", "threshold": 3, "alert_name": "high"},
			output:   "high",
			want:     []any{false, nil, true},
		},
		{
			name:     "threshold below",
			function: "ThresholdAlert",
			params:   catalog.Params{"source": "b", "threshold": "2", "direction": "below", "alert_name": "low"},
			output:   "low",
			want:     []any{false, true, true},
		},
		{
			name:     "coalesce",
			function: "Coalesce",
			params:   catalog.Params{"input_items": "a, b", "output_item": "c"},
			output:   "c",
			want:     []any{2.0, 1.0, 5.0},
		},
		{
			name:     "entity constants",
			function: "EntityConstants",
			params:   catalog.Params{"constants": map[string]any{"max_speed": 120.0}},
			output:   "max_speed",
			want:     []any{120.0, 120.0, 120.0},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			entry, err := catalog.Default().Lookup(tt.function)
			require.NoError(t, err)

			tr, err := entry.NewTransformer(tt.params)
			require.NoError(t, err)

			out, err := tr.Execute(context.Background(), input)
			require.NoError(t, err)

			c, ok := out.Column(tt.output)
			require.True(t, ok)
			assert.Equal(t, tt.want, c.Values)
			assert.False(t, input.Has(tt.output))
		})
	}
}

func TestThresholdAlertRejectsDirection(t *testing.T) {
	_, err := newThresholdAlert(catalog.Params{"source": "a", "threshold": 1.0, "alert_name": "x", "direction": "sideways"})
	require.ErrorIs(t, err, catalog.ErrInvalidParams)
}

func TestCatalogBinding(t *testing.T) {
	c := catalog.New([]models.CatalogFunction{
		{Name: "Sum", Inputs: []models.FunctionParam{{Name: "source", Type: models.ParamDataItem}}},
		{Name: "RemoteOnly"},
		{Name: "EntityConstants", Inputs: []models.FunctionParam{{Name: "constants", Type: models.ParamConstant}}},
	}, nil)

	assert.True(t, c.IsAggregator("Sum"))
	assert.False(t, c.Has("RemoteOnly"))
	assert.True(t, c.Has("Multiply"))

	fn, ok := c.Get("Multiply")
	require.True(t, ok)

	decl := &models.Declaration{
		FunctionName: "Multiply",
		Input:        map[string]any{"input_items": []any{"a", "b"}},
		Output:       map[string]any{"output_item": "m"},
		Scope:        &models.Scope{Type: models.ScopeFormula, Expression: "${site} == 'x' and ${a} > 1"},
	}
	assert.Equal(t, []string{"a", "b", "site"}, fn.Sources(decl))

	loader := &models.Declaration{
		FunctionName: "EntityConstants",
		Input:        map[string]any{"constants": []any{"max_speed"}},
		Output:       map[string]any{"names": "max_speed"},
	}
	p := c.Params(loader, map[string]any{"max_speed": 120.0, "other": 1.0})
	assert.Equal(t, map[string]any{"max_speed": 120.0}, p.Map("constants"))
}
