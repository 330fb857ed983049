// Package builtin registers the functions shipped with the engine.
package builtin

import (
	"math"

	"github.com/ethpandaops/kpt/pkg/catalog"
	"github.com/ethpandaops/kpt/pkg/frame"
	"github.com/ethpandaops/kpt/pkg/models"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

type reducer struct {
	name        string
	numericOnly bool
	reduce      func(values []any) any
}

func (r reducer) Name() string            { return r.name }
func (r reducer) NumericOnly() bool       { return r.numericOnly }
func (r reducer) Reduce(values []any) any { return r.reduce(values) }

func numbers(values []any) []float64 {
	out := make([]float64, 0, len(values))
	for _, v := range values {
		if f, ok := frame.ToFloat(v); ok {
			out = append(out, f)
		}
	}

	return out
}

func nonNull(values []any) []any {
	out := make([]any, 0, len(values))
	for _, v := range values {
		if v == nil {
			continue
		}

		if f, ok := v.(float64); ok && math.IsNaN(f) {
			continue
		}

		out = append(out, v)
	}

	return out
}

func sum(values []any) any {
	return floats.Sum(numbers(values))
}

func mean(values []any) any {
	x := numbers(values)
	if len(x) == 0 {
		return nil
	}

	return stat.Mean(x, nil)
}

func variance(values []any) any {
	x := numbers(values)
	if len(x) < 2 {
		return nil
	}

	return stat.Variance(x, nil)
}

func stdDev(values []any) any {
	x := numbers(values)
	if len(x) < 2 {
		return nil
	}

	return stat.StdDev(x, nil)
}

func product(values []any) any {
	return floats.Prod(numbers(values))
}

func extreme(values []any, want int) any {
	var best any
	for _, v := range nonNull(values) {
		if best == nil || frame.Compare(v, best) == want {
			best = v
		}
	}

	return best
}

func count(values []any) any {
	return float64(len(nonNull(values)))
}

func distinct(values []any) any {
	seen := make(map[string]bool)
	for _, v := range nonNull(values) {
		seen[frame.FormatValue(v)+"\x00"+frame.KindOf(v).String()] = true
	}

	return float64(len(seen))
}

func first(values []any) any {
	if vals := nonNull(values); len(vals) > 0 {
		return vals[0]
	}

	return nil
}

func last(values []any) any {
	if vals := nonNull(values); len(vals) > 0 {
		return vals[len(vals)-1]
	}

	return nil
}

func registerSimple(name string, r reducer) {
	catalog.Register(name, catalog.Entry{
		Kind:        catalog.KindAggregator,
		Aggregation: catalog.AggregationSimple,
		Inputs:      []models.FunctionParam{sourceParam},
		NewSimple:   func() catalog.SimpleReducer { return r },
	})
}
