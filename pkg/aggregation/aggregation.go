// Package aggregation reduces frames to a granularity and keeps the inputs of
// each aggregation cached between runs so buckets can be updated incrementally.
package aggregation

import (
	"context"
	"fmt"

	"github.com/ethpandaops/kpt/pkg/catalog"
	"github.com/ethpandaops/kpt/pkg/frame"
	"github.com/ethpandaops/kpt/pkg/models"
	"github.com/sirupsen/logrus"
)

// SimpleAggregator applies a reducer to one source column
type SimpleAggregator struct {
	Source  string
	Reducer catalog.SimpleReducer
	Output  string
}

// ComplexAggregator reduces whole groups to rows
type ComplexAggregator struct {
	Reducer catalog.ComplexReducer
	Outputs []string
}

// DirectAggregator computes its grouped result from the ungrouped frame
type DirectAggregator struct {
	Aggregator catalog.DirectAggregator
	Outputs    []string
}

// Aggregation reduces a frame to one row per group of a granularity
type Aggregation struct {
	log   logrus.FieldLogger
	items *models.DataItems
	grain *models.Granularity
	freq  *frame.Frequency

	Simple  []SimpleAggregator
	Complex []ComplexAggregator
	Direct  []DirectAggregator
}

// New creates an aggregation at grain
func New(log logrus.FieldLogger, items *models.DataItems, grain *models.Granularity) (*Aggregation, error) {
	if grain == nil {
		return nil, fmt.Errorf("%w: aggregation requires a granularity", models.ErrUnknownGranularity)
	}

	a := &Aggregation{
		log:   log.WithFields(logrus.Fields{"component": "aggregation", "grain": grain.Name}),
		items: items,
		grain: grain,
	}

	if grain.HasFrequency() {
		freq, err := grain.ParsedFrequency()
		if err != nil {
			return nil, err
		}

		a.freq = &freq
	}

	return a, nil
}

// Name implements the pipeline stage interface
func (a *Aggregation) Name() string {
	return "Aggregation"
}

// Outputs returns every output column, simple aggregators first
func (a *Aggregation) Outputs() []string {
	var out []string
	for _, s := range a.Simple {
		out = append(out, s.Output)
	}

	for _, c := range a.Complex {
		out = append(out, c.Outputs...)
	}

	for _, d := range a.Direct {
		out = append(out, d.Outputs...)
	}

	return out
}

// Groupers returns the group keys: entity id when the grain is entity first,
// the timestamp bucket when it has a frequency, then the dimensions.
func (a *Aggregation) Groupers() []frame.Grouper {
	groupers := make([]frame.Grouper, 0, len(a.grain.Dimensions)+2)

	if a.grain.EntityFirst {
		groupers = append(groupers, frame.ColumnGrouper{Column: models.EntityIDColumn})
	}

	if a.freq != nil {
		groupers = append(groupers, frame.TimeGrouper{Column: models.TimestampColumn, Freq: *a.freq})
	}

	for _, dim := range a.grain.Dimensions {
		groupers = append(groupers, frame.ColumnGrouper{Column: dim})
	}

	return groupers
}

// Execute groups f and joins the results of all aggregators on the group keys
func (a *Aggregation) Execute(ctx context.Context, f *frame.Frame) (*frame.Frame, error) {
	groupers := a.Groupers()

	groups, err := frame.GroupBy(f, groupers)
	if err != nil {
		return nil, fmt.Errorf("failed to group by %s: %w", a.grain.Name, err)
	}

	simple, err := a.executeSimple(ctx, f, groups)
	if err != nil {
		return nil, err
	}

	results := []*frame.Frame{simple}

	for _, c := range a.Complex {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		res, err := a.executeComplex(f, groups, c)
		if err != nil {
			return nil, err
		}

		results = append(results, res)
	}

	for _, d := range a.Direct {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		res, err := d.Aggregator.Aggregate(f, groupers)
		if err != nil {
			return nil, fmt.Errorf("direct aggregation of %v failed: %w", d.Outputs, err)
		}

		if res == nil || len(res.ValueColumns()) == 0 {
			res = a.nullResult(groups, 0, d.Outputs)
		}

		results = append(results, res)
	}

	out, err := frame.Join(results...)
	if err != nil {
		return nil, err
	}

	a.log.WithFields(logrus.Fields{
		"groups":  groups.Len(),
		"columns": len(out.ValueColumns()),
	}).Debug("Aggregated frame")

	return out, nil
}

// executeSimple collects each source column once per group and applies every
// reducer declared on it
func (a *Aggregation) executeSimple(ctx context.Context, f *frame.Frame, groups *frame.Groups) (*frame.Frame, error) {
	out := groups.KeyFrame()

	var sources []string

	bySource := make(map[string][]SimpleAggregator)
	for _, s := range a.Simple {
		if _, ok := bySource[s.Source]; !ok {
			sources = append(sources, s.Source)
		}

		bySource[s.Source] = append(bySource[s.Source], s)
	}

	for _, source := range sources {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		col, ok := f.Column(source)
		if !ok {
			a.log.WithField("source", source).Warn("Aggregation source column is missing")
			continue
		}

		numeric := isNumeric(col)

		var aggs []SimpleAggregator
		for _, s := range bySource[source] {
			if s.Reducer.NumericOnly() && !numeric {
				a.log.WithFields(logrus.Fields{
					"source":   source,
					"function": s.Reducer.Name(),
				}).Warn("Skipping numeric aggregation of a non-numeric column")

				continue
			}

			aggs = append(aggs, s)
		}

		results := make(map[string][]any, len(aggs))
		for _, s := range aggs {
			results[resultName(s)] = make([]any, groups.Len())
		}

		for g, rows := range groups.Rows {
			values := make([]any, len(rows))
			for i, r := range rows {
				values[i] = col.Values[r]
			}

			for _, s := range aggs {
				results[resultName(s)][g] = s.Reducer.Reduce(values)
			}
		}

		for _, s := range aggs {
			values := results[resultName(s)]
			if err := out.Set(frame.NewColumn(s.Output, a.kindOf(s.Output, values), values...)); err != nil {
				return nil, err
			}
		}
	}

	return out, nil
}

func (a *Aggregation) executeComplex(f *frame.Frame, groups *frame.Groups, c ComplexAggregator) (*frame.Frame, error) {
	if groups.Len() == 0 {
		return a.nullResult(groups, 0, c.Outputs), nil
	}

	values := make(map[string][]any, len(c.Outputs))
	for _, name := range c.Outputs {
		values[name] = make([]any, groups.Len())
	}

	for g, rows := range groups.Rows {
		row, err := c.Reducer.Reduce(f.Take(rows))
		if err != nil {
			return nil, fmt.Errorf("complex aggregation of %v failed: %w", c.Outputs, err)
		}

		for _, name := range c.Outputs {
			values[name][g] = row[name]
		}
	}

	out := groups.KeyFrame()
	for _, name := range c.Outputs {
		if err := out.Set(frame.NewColumn(name, a.kindOf(name, values[name]), values[name]...)); err != nil {
			return nil, err
		}
	}

	return out, nil
}

// nullResult builds a result holding n rows of typed NULLs for names
func (a *Aggregation) nullResult(groups *frame.Groups, n int, names []string) *frame.Frame {
	kinds := make(map[string]frame.Kind, len(groups.Names))
	for i, name := range groups.Names {
		kinds[name] = groups.Kinds[i]
	}

	out := frame.Empty(groups.Names, kinds)
	for _, name := range names {
		_ = out.Set(frame.NullColumn(name, a.declaredKind(name), n))
	}

	return out
}

// declaredKind is the kind of an output data item, string when unknown
func (a *Aggregation) declaredKind(name string) frame.Kind {
	if k := a.items.Kind(name); k != frame.KindAny {
		return k
	}

	return frame.KindString
}

// kindOf infers a result column kind from its values, falling back to the
// declared kind when every value is NULL
func (a *Aggregation) kindOf(name string, values []any) frame.Kind {
	kind := frame.KindAny
	seen := false

	for _, v := range values {
		if v == nil {
			continue
		}

		k := frame.KindOf(v)
		switch {
		case !seen:
			kind, seen = k, true
		case k != kind:
			return frame.KindAny
		}
	}

	if !seen {
		return a.declaredKind(name)
	}

	return kind
}

func resultName(s SimpleAggregator) string {
	return s.Source + "|" + s.Reducer.Name()
}

func isNumeric(c *frame.Column) bool {
	if c.Kind.IsNumeric() {
		return true
	}

	if c.Kind != frame.KindAny {
		return false
	}

	for _, v := range c.Values {
		if v != nil && !frame.KindOf(v).IsNumeric() {
			return false
		}
	}

	return true
}
