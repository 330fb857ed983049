package frame

import (
	"fmt"
	"sort"
	"time"
)

// Grouper derives one component of a group key from a row
type Grouper interface {
	// Name is the name of the key column in grouped results
	Name() string
	// Key returns the key value of row, false when the row has no key
	Key(f *Frame, row int) (any, bool)
	// Kind is the kind of the produced key column
	Kind(f *Frame) Kind
}

// ColumnGrouper groups by the values of a column
type ColumnGrouper struct {
	Column string
}

var _ Grouper = ColumnGrouper{}

// Name returns the column name
func (g ColumnGrouper) Name() string { return g.Column }

// Key returns the column value
func (g ColumnGrouper) Key(f *Frame, row int) (any, bool) {
	v := f.Value(g.Column, row)
	return v, v != nil
}

// Kind returns the column kind
func (g ColumnGrouper) Kind(f *Frame) Kind {
	if c, ok := f.Column(g.Column); ok {
		return c.Kind
	}

	return KindAny
}

// TimeGrouper groups a time column into frequency buckets
type TimeGrouper struct {
	Column string
	Freq   Frequency
}

var _ Grouper = TimeGrouper{}

// Name returns the time column name
func (g TimeGrouper) Name() string { return g.Column }

// Key returns the bucket label of the row's timestamp
func (g TimeGrouper) Key(f *Frame, row int) (any, bool) {
	t, ok := f.Value(g.Column, row).(time.Time)
	if !ok {
		return nil, false
	}

	return g.Freq.Label(t), true
}

// Kind is always KindTime
func (g TimeGrouper) Kind(*Frame) Kind { return KindTime }

// Groups is the result of a group-by: one entry per distinct key, sorted by key
type Groups struct {
	Names []string
	Kinds []Kind
	Keys  [][]any
	Rows  [][]int
}

// Len returns the number of groups
func (g *Groups) Len() int {
	return len(g.Keys)
}

// GroupBy partitions the rows of f by the keys produced by groupers. Rows with
// a NULL key component are dropped.
func GroupBy(f *Frame, groupers []Grouper) (*Groups, error) {
	out := &Groups{
		Names: make([]string, len(groupers)),
		Kinds: make([]Kind, len(groupers)),
	}

	for i, g := range groupers {
		if _, ok := f.Column(g.Name()); !ok {
			return nil, fmt.Errorf("%w: group key %s", ErrUnknownColumn, g.Name())
		}

		out.Names[i] = g.Name()
		out.Kinds[i] = g.Kind(f)
	}

	slot := make(map[string]int)

	for row := 0; row < f.NumRows(); row++ {
		key := make([]any, len(groupers))
		complete := true

		for i, g := range groupers {
			v, ok := g.Key(f, row)
			if !ok {
				complete = false
				break
			}

			key[i] = v
		}

		if !complete {
			continue
		}

		k := encodeKey(key)
		i, ok := slot[k]
		if !ok {
			i = len(out.Keys)
			slot[k] = i
			out.Keys = append(out.Keys, key)
			out.Rows = append(out.Rows, nil)
		}

		out.Rows[i] = append(out.Rows[i], row)
	}

	order := make([]int, len(out.Keys))
	for i := range order {
		order[i] = i
	}

	sort.SliceStable(order, func(a, b int) bool {
		ka, kb := out.Keys[order[a]], out.Keys[order[b]]
		for i := range ka {
			if c := Compare(ka[i], kb[i]); c != 0 {
				return c < 0
			}
		}

		return false
	})

	keys := make([][]any, len(order))
	rows := make([][]int, len(order))

	for i, o := range order {
		keys[i] = out.Keys[o]
		rows[i] = out.Rows[o]
	}

	out.Keys, out.Rows = keys, rows

	return out, nil
}

// KeyFrame returns a frame holding one row per group with the key columns as index
func (g *Groups) KeyFrame() *Frame {
	columns := make([]*Column, len(g.Names))
	for i, name := range g.Names {
		values := make([]any, len(g.Keys))
		for r, key := range g.Keys {
			values[r] = key[i]
		}

		columns[i] = &Column{Name: name, Kind: g.Kinds[i], Values: values}
	}

	f, _ := New(g.Names, columns...)

	return f
}

func encodeKey(key []any) string {
	b := make([]byte, 0, 32)
	for i, v := range key {
		if i > 0 {
			b = append(b, 0x1f)
		}

		b = append(b, keyPart(v)...)
	}

	return string(b)
}
