package frame

import (
	"fmt"
	"sort"
)

// Concat stacks frames row-wise. Columns missing in a frame are NULL-filled,
// columns whose kinds disagree become KindAny. The index of the first
// non-nil frame is kept.
func Concat(frames ...*Frame) *Frame {
	var (
		index []string
		order []string
		kinds = make(map[string]Kind)
		total int
	)

	for _, f := range frames {
		if f == nil {
			continue
		}

		if index == nil {
			index = f.Index()
		}

		for _, c := range f.columns {
			k, seen := kinds[c.Name]
			switch {
			case !seen:
				kinds[c.Name] = c.Kind
				order = append(order, c.Name)
			case k != c.Kind && f.NumRows() > 0:
				kinds[c.Name] = mergeKind(k, c.Kind)
			}
		}

		total += f.NumRows()
	}

	columns := make([]*Column, 0, len(order))
	for _, name := range order {
		values := make([]any, 0, total)
		for _, f := range frames {
			if f == nil {
				continue
			}

			c, ok := f.Column(name)
			if !ok {
				values = append(values, make([]any, f.NumRows())...)
				continue
			}

			values = append(values, c.Values...)
		}

		columns = append(columns, &Column{Name: name, Kind: kinds[name], Values: values})
	}

	out, err := New(index, columns...)
	if err != nil {
		out, _ = New(nil, columns...)
	}

	return out
}

func mergeKind(a, b Kind) Kind {
	if a == b {
		return a
	}

	return KindAny
}

// Join combines frames column-wise on their index (outer join). All frames
// must share the same set of index columns.
func Join(frames ...*Frame) (*Frame, error) {
	live := make([]*Frame, 0, len(frames))
	for _, f := range frames {
		if f != nil {
			live = append(live, f)
		}
	}

	if len(live) == 0 {
		return nil, nil
	}

	index := live[0].Index()
	for _, f := range live[1:] {
		if !SameIndex(index, f.Index()) {
			return nil, fmt.Errorf("%w: %v vs %v", ErrIndexMismatch, index, f.Index())
		}
	}

	keys := make([]string, 0)
	rowOf := make(map[string]int)
	keyValues := make(map[string][]any)

	for _, f := range live {
		for r := 0; r < f.NumRows(); r++ {
			k := f.RowKey(r, index)
			if _, ok := rowOf[k]; ok {
				continue
			}

			rowOf[k] = len(keys)
			keys = append(keys, k)

			vals := make([]any, len(index))
			for i, name := range index {
				vals[i] = f.Value(name, r)
			}

			keyValues[k] = vals
		}
	}

	columns := make([]*Column, 0)
	for i, name := range index {
		kind := KindAny
		if c, ok := live[0].Column(name); ok {
			kind = c.Kind
		}

		values := make([]any, len(keys))
		for r, k := range keys {
			values[r] = keyValues[k][i]
		}

		columns = append(columns, &Column{Name: name, Kind: kind, Values: values})
	}

	seen := make(map[string]bool)
	for _, f := range live {
		for _, c := range f.columns {
			if f.IsIndex(c.Name) || seen[c.Name] {
				continue
			}

			seen[c.Name] = true

			values := make([]any, len(keys))
			for r := 0; r < f.NumRows(); r++ {
				values[rowOf[f.RowKey(r, index)]] = c.Values[r]
			}

			columns = append(columns, &Column{Name: c.Name, Kind: c.Kind, Values: values})
		}
	}

	return New(index, columns...)
}

// Coalesce merges newer and older on their index (outer join). For columns
// present in both, the newer value wins and NULLs are backfilled from older.
func Coalesce(newer, older *Frame) (*Frame, error) {
	if older == nil || older.IsEmpty() {
		return newer.Clone(), nil
	}

	if newer == nil || newer.IsEmpty() {
		return older.Clone(), nil
	}

	index := newer.Index()
	if !SameIndex(index, older.Index()) {
		return nil, fmt.Errorf("%w: %v vs %v", ErrIndexMismatch, index, older.Index())
	}

	renamed := make(map[string]string)
	for _, name := range older.ValueColumns() {
		if newer.Has(name) {
			renamed[name] = name + coalesceSuffix
		}
	}

	joined, err := Join(newer, older.Rename(renamed))
	if err != nil {
		return nil, err
	}

	for name, shadow := range renamed {
		c, _ := joined.Column(name)
		s, _ := joined.Column(shadow)

		for i, v := range c.Values {
			if v == nil {
				c.Values[i] = s.Values[i]
			}
		}

		if c.Kind != s.Kind {
			c.Kind = mergeKind(c.Kind, s.Kind)
		}
	}

	shadows := make([]string, 0, len(renamed))
	for _, shadow := range renamed {
		shadows = append(shadows, shadow)
	}

	return joined.Drop(shadows...), nil
}

const coalesceSuffix = "_kpt_cached"

// SameIndex reports whether two index definitions hold the same set of names
func SameIndex(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}

	x := append([]string(nil), a...)
	y := append([]string(nil), b...)
	sort.Strings(x)
	sort.Strings(y)

	for i := range x {
		if x[i] != y[i] {
			return false
		}
	}

	return true
}
