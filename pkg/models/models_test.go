package models

import (
	"encoding/json"
	"testing"

	"github.com/ethpandaops/kpt/pkg/frame"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeclarationTargets(t *testing.T) {
	tests := []struct {
		name   string
		output map[string]any
		want   []string
	}{
		{
			name:   "comma separated string",
			output: map[string]any{"name": " a, b ,,c"},
			want:   []string{"a", "b", "c"},
		},
		{
			name:   "list of strings",
			output: map[string]any{"outputs": []any{"x", "y", 3}},
			want:   []string{"x", "y"},
		},
		{
			name:   "ordered by parameter name",
			output: map[string]any{"z_out": "late", "a_out": "early"},
			want:   []string{"early", "late"},
		},
		{
			name:   "no outputs",
			output: map[string]any{},
			want:   nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := &Declaration{Output: tt.output}
			assert.Equal(t, tt.want, d.Targets())
		})
	}
}

func TestScopeSources(t *testing.T) {
	dims := &Scope{Type: ScopeDimensions, Dimensions: map[string]any{"region": []string{"eu"}, "model": "x"}}
	assert.Equal(t, []string{"model", "region"}, dims.Sources())

	formula := &Scope{Type: "formula", Expression: "${speed} > 3 and ${load} < ${speed}"}
	assert.Equal(t, []string{"speed", "load"}, formula.Sources())

	var none *Scope
	assert.Empty(t, none.Sources())
}

func TestGranularityKey(t *testing.T) {
	var raw *Granularity
	assert.Equal(t, NoGranularity, raw.Key())

	daily := &Granularity{Frequency: "D", Dimensions: []string{"region", "site"}, EntityFirst: true}
	assert.Equal(t, "D_region_site_true", daily.Key())
	assert.Equal(t, []string{EntityIDColumn, TimestampColumn, "region", "site"}, daily.IndexColumns())

	byDim := &Granularity{Dimensions: []string{"region"}}
	assert.Equal(t, "None_region_false", byDim.Key())
	assert.Equal(t, []string{"region"}, byDim.IndexColumns())
}

func TestGranularityUnmarshalDefaultsEntityFirst(t *testing.T) {
	var g Granularity
	require.NoError(t, json.Unmarshal([]byte(`{"name":"daily","frequency":"D","dataItems":["site"]}`), &g))
	assert.True(t, g.EntityFirst)
	assert.Equal(t, []string{"site"}, g.Dimensions)

	require.NoError(t, json.Unmarshal([]byte(`{"name":"site","entityFirst":false}`), &g))
	assert.False(t, g.EntityFirst)
}

func TestResolveDeclarations(t *testing.T) {
	disabled := false
	input := &EngineInput{
		Granularities: []Granularity{{Name: "daily", Frequency: "D", EntityFirst: true}},
		Declarations: []Declaration{
			{Name: "a", FunctionName: "Sum", GranularityName: "daily"},
			{Name: "b", FunctionName: "Sum", Enabled: &disabled},
			{Name: "c", FunctionName: "Multiply"},
		},
	}

	decls, err := input.ResolveDeclarations()
	require.NoError(t, err)
	require.Len(t, decls, 2)
	assert.Equal(t, "D", decls[0].Granularity.Frequency)
	assert.Nil(t, decls[1].Granularity)

	input.Declarations = append(input.Declarations, Declaration{Name: "d", GranularityName: "weekly"})
	_, err = input.ResolveDeclarations()
	require.ErrorIs(t, err, ErrUnknownGranularity)
}

func TestDataItems(t *testing.T) {
	items := NewDataItems([]DataItem{
		{Name: "speed", Type: DataItemMetric, ColumnType: ColumnNumber},
		{Name: "site", Type: DataItemDimension, ColumnType: ColumnLiteral},
		{Name: "alarm", Type: DataItemDerived, ColumnType: ColumnBoolean, Tags: []string{TagAlert}},
		{Name: "door", Type: DataItemEvent, ColumnType: ColumnLiteral},
	})

	assert.Equal(t, []string{"door", "speed"}, items.RawMetrics())
	assert.Equal(t, []string{"alarm"}, items.DerivedMetrics())
	assert.Equal(t, []string{"site"}, items.Dimensions())
	assert.Equal(t, []string{"door", "site", "speed"}, items.Raw())
	assert.Equal(t, frame.KindFloat, items.Kind("speed"))
	assert.Equal(t, frame.KindAny, items.Kind("missing"))

	alarm, ok := items.Get("alarm")
	require.True(t, ok)
	assert.True(t, alarm.HasTag(TagAlert))
	assert.Equal(t, "alarm", alarm.Column())
}

func TestTreeLevels(t *testing.T) {
	tree := NewTree()
	d1 := &Declaration{Name: "d1"}
	d2 := &Declaration{Name: "d2"}
	d3 := &Declaration{Name: "d3"}

	for _, add := range []struct {
		name string
		decl *Declaration
	}{{"x", nil}, {"y", d1}, {"z", d2}, {"w", d3}} {
		_, err := tree.AddNode(add.name, add.decl)
		require.NoError(t, err)
	}

	require.NoError(t, tree.Link("y", "x"))
	require.NoError(t, tree.Link("z", "y"))
	require.NoError(t, tree.Link("w", "z"))

	assert.Equal(t, 0, tree.Level("x"))
	assert.Equal(t, 1, tree.Level("y"))
	assert.Equal(t, 2, tree.Level("z"))
	assert.Equal(t, 3, tree.Level("w"))

	// A shallower extra dependency does not change the level.
	require.NoError(t, tree.Link("w", "x"))
	assert.Equal(t, 3, tree.Level("w"))

	assert.Equal(t, []string{"z", "x", "y"}, tree.AllDependencies("w"))
	assert.Equal(t, []string{"y", "w", "z"}, tree.AllDescendants("x"))
	assert.Equal(t, []string{"z", "x"}, tree.Dependencies("w"))
	assert.Equal(t, -1, tree.Level("missing"))
}

func TestTreeRejectsCycles(t *testing.T) {
	tree := NewTree()
	for _, name := range []string{"a", "b", "c"} {
		_, err := tree.AddNode(name, &Declaration{Name: name})
		require.NoError(t, err)
	}

	require.NoError(t, tree.Link("b", "a"))
	require.NoError(t, tree.Link("c", "b"))
	require.ErrorIs(t, tree.Link("a", "c"), ErrCyclicDependency)
	require.ErrorIs(t, tree.Link("a", "a"), ErrCyclicDependency)
	require.ErrorIs(t, tree.Link("a", "missing"), ErrNodeNotFound)
}

func TestTreeWithout(t *testing.T) {
	tree := NewTree()
	for _, name := range []string{"raw", "a", "b", "c"} {
		var decl *Declaration
		if name != "raw" {
			decl = &Declaration{Name: name}
		}

		_, err := tree.AddNode(name, decl)
		require.NoError(t, err)
	}

	require.NoError(t, tree.Link("a", "raw"))
	require.NoError(t, tree.Link("b", "a"))
	require.NoError(t, tree.Link("c", "raw"))

	pruned, removed, err := tree.Without([]string{"a", "unknown"})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a", "b"}, removed)
	assert.Equal(t, []string{"raw", "c"}, pruned.Names())
	assert.Equal(t, []string{"c"}, pruned.Children("raw"))
	assert.Equal(t, 1, pruned.Level("c"))
}
