package builtin

import (
	"sort"

	"github.com/ethpandaops/kpt/pkg/catalog"
	"github.com/ethpandaops/kpt/pkg/frame"
)

// rangeReducer returns max - min of the source column per group
type rangeReducer struct {
	source string
	name   string
}

func newRange(p catalog.Params) (catalog.ComplexReducer, error) {
	source, err := p.RequireString(catalog.SourceParam)
	if err != nil {
		return nil, err
	}

	name, err := p.RequireString(catalog.NameParam)
	if err != nil {
		return nil, err
	}

	return &rangeReducer{source: source, name: name}, nil
}

func (r *rangeReducer) Reduce(group *frame.Frame) (map[string]any, error) {
	c, ok := group.Column(r.source)
	if !ok {
		return map[string]any{r.name: nil}, nil
	}

	x := numbers(c.Values)
	if len(x) == 0 {
		return map[string]any{r.name: nil}, nil
	}

	lo, hi := x[0], x[0]
	for _, v := range x[1:] {
		lo = min(lo, v)
		hi = max(hi, v)
	}

	return map[string]any{r.name: hi - lo}, nil
}

// median computes the per-group median of the source column itself
type median struct {
	source string
	name   string
}

func newMedian(p catalog.Params) (catalog.DirectAggregator, error) {
	source, err := p.RequireString(catalog.SourceParam)
	if err != nil {
		return nil, err
	}

	name, err := p.RequireString(catalog.NameParam)
	if err != nil {
		return nil, err
	}

	return &median{source: source, name: name}, nil
}

func (m *median) Aggregate(f *frame.Frame, groupers []frame.Grouper) (*frame.Frame, error) {
	groups, err := frame.GroupBy(f, groupers)
	if err != nil {
		return nil, err
	}

	out := groups.KeyFrame()
	values := make([]any, groups.Len())

	c, ok := f.Column(m.source)
	if ok {
		for i, rows := range groups.Rows {
			x := make([]float64, 0, len(rows))
			for _, r := range rows {
				if v, ok := frame.ToFloat(c.Values[r]); ok {
					x = append(x, v)
				}
			}

			values[i] = medianOf(x)
		}
	}

	if err := out.Set(frame.NewColumn(m.name, frame.KindFloat, values...)); err != nil {
		return nil, err
	}

	return out, nil
}

func medianOf(x []float64) any {
	if len(x) == 0 {
		return nil
	}

	sort.Float64s(x)

	mid := len(x) / 2
	if len(x)%2 == 1 {
		return x[mid]
	}

	return (x[mid-1] + x[mid]) / 2
}
