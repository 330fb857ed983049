package builtin

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/ethpandaops/kpt/pkg/catalog"
	"github.com/ethpandaops/kpt/pkg/frame"
)

// Transformer parameter names
const (
	paramInputItems = "input_items"
	paramOutputItem = "output_item"
	paramFactor     = "factor"
	paramMinuend    = "minuend"
	paramSubtrahend = "subtrahend"
	paramThreshold  = "threshold"
	paramDirection  = "direction"
	paramAlertName  = "alert_name"
	paramConstants  = "constants"
	paramNames      = "names"
)

// rowFunc computes one output value per row
type rowFunc struct {
	output string
	kind   frame.Kind
	inputs []string
	fn     func(values []any) any
}

func (r *rowFunc) Execute(_ context.Context, f *frame.Frame) (*frame.Frame, error) {
	out := f.Clone()
	n := out.NumRows()

	cols := make([]*frame.Column, len(r.inputs))
	for i, name := range r.inputs {
		c, ok := out.Column(name)
		if !ok {
			c = frame.NullColumn(name, frame.KindAny, n)
		}

		cols[i] = c
	}

	values := make([]any, n)
	row := make([]any, len(cols))

	for i := 0; i < n; i++ {
		for j, c := range cols {
			row[j] = c.Values[i]
		}

		values[i] = r.fn(row)
	}

	if err := out.Set(frame.NewColumn(r.output, r.kind, values...)); err != nil {
		return nil, err
	}

	return out, nil
}

func newMultiply(p catalog.Params) (catalog.Transformer, error) {
	inputs := p.Strings(paramInputItems)
	if len(inputs) == 0 {
		return nil, fmt.Errorf("%w: %s is empty", catalog.ErrInvalidParams, paramInputItems)
	}

	output, err := p.RequireString(paramOutputItem)
	if err != nil {
		return nil, err
	}

	factor, ok := p.Float(paramFactor)
	if !ok {
		factor = 1
	}

	return &rowFunc{
		output: output,
		kind:   frame.KindFloat,
		inputs: inputs,
		fn: func(values []any) any {
			result := factor
			for _, v := range values {
				x, ok := frame.ToFloat(v)
				if !ok {
					return nil
				}

				result *= x
			}

			return result
		},
	}, nil
}

func newDifference(p catalog.Params) (catalog.Transformer, error) {
	minuend, err := p.RequireString(paramMinuend)
	if err != nil {
		return nil, err
	}

	subtrahend, err := p.RequireString(paramSubtrahend)
	if err != nil {
		return nil, err
	}

	output, err := p.RequireString(paramOutputItem)
	if err != nil {
		return nil, err
	}

	return &rowFunc{
		output: output,
		kind:   frame.KindFloat,
		inputs: []string{minuend, subtrahend},
		fn: func(values []any) any {
			a, okA := frame.ToFloat(values[0])
			b, okB := frame.ToFloat(values[1])

			if !okA || !okB {
				return nil
			}

			return a - b
		},
	}, nil
}

func newThresholdAlert(p catalog.Params) (catalog.Transformer, error) {
	source, err := p.RequireString(catalog.SourceParam)
	if err != nil {
		return nil, err
	}

	threshold, ok := p.Float(paramThreshold)
	if !ok {
		return nil, fmt.Errorf("%w: %s must be numeric", catalog.ErrInvalidParams, paramThreshold)
	}

	output, err := p.RequireString(paramAlertName)
	if err != nil {
		return nil, err
	}

	below := false

	if direction, ok := p.String(paramDirection); ok {
		switch strings.ToLower(direction) {
		case "above":
		case "below":
			below = true
		default:
			return nil, fmt.Errorf("%w: %s must be above or below", catalog.ErrInvalidParams, paramDirection)
		}
	}

	return &rowFunc{
		output: output,
		kind:   frame.KindBool,
		inputs: []string{source},
		fn: func(values []any) any {
			x, ok := frame.ToFloat(values[0])
			if !ok {
				return nil
			}

			if below {
				return x < threshold
			}

			return x > threshold
		},
	}, nil
}

func newCoalesce(p catalog.Params) (catalog.Transformer, error) {
	inputs := p.Strings(paramInputItems)
	if len(inputs) == 0 {
		return nil, fmt.Errorf("%w: %s is empty", catalog.ErrInvalidParams, paramInputItems)
	}

	output, err := p.RequireString(paramOutputItem)
	if err != nil {
		return nil, err
	}

	return &rowFunc{
		output: output,
		kind:   frame.KindAny,
		inputs: inputs,
		fn: func(values []any) any {
			for _, v := range values {
				if v != nil {
					return v
				}
			}

			return nil
		},
	}, nil
}

// entityConstants adds entity type constants as columns
type entityConstants struct {
	columns []string
	values  []any
}

func newEntityConstants(p catalog.Params) (catalog.Transformer, error) {
	constants := p.Map(paramConstants)

	names := p.Strings(paramNames)
	if len(names) == 0 {
		for k := range constants {
			names = append(names, k)
		}

		sort.Strings(names)
	}

	if len(names) == 0 {
		return nil, fmt.Errorf("%w: no constants to load", catalog.ErrInvalidParams)
	}

	e := &entityConstants{}
	for _, name := range names {
		e.columns = append(e.columns, name)
		e.values = append(e.values, constants[name])
	}

	return e, nil
}

func (e *entityConstants) Execute(_ context.Context, f *frame.Frame) (*frame.Frame, error) {
	out := f.Clone()
	n := out.NumRows()

	for i, name := range e.columns {
		values := make([]any, n)
		for r := range values {
			values[r] = e.values[i]
		}

		kind := frame.KindAny
		if e.values[i] != nil {
			kind = frame.KindOf(e.values[i])
		}

		if err := out.Set(frame.NewColumn(name, kind, values...)); err != nil {
			return nil, err
		}
	}

	return out, nil
}
