// Package frame provides the in-memory table the KPI pipeline stages operate on.
//
// A Frame is a set of equally sized, typed columns. Some of the columns are
// marked as index columns; rows are identified by the tuple of their index
// values when frames are joined or merged. A nil value is NULL.
package frame

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

var (
	// ErrLengthMismatch is returned when columns of a frame differ in length
	ErrLengthMismatch = errors.New("column length mismatch")
	// ErrUnknownColumn is returned when a referenced column does not exist
	ErrUnknownColumn = errors.New("unknown column")
	// ErrIndexMismatch is returned when frames with different index columns are combined
	ErrIndexMismatch = errors.New("index columns do not match")
)

// Kind is the value type of a column
type Kind int

const (
	// KindString holds string values
	KindString Kind = iota
	// KindFloat holds float64 values
	KindFloat
	// KindBool holds bool values
	KindBool
	// KindTime holds time.Time values
	KindTime
	// KindAny holds values of mixed types
	KindAny
)

// String returns the kind name
func (k Kind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindFloat:
		return "float"
	case KindBool:
		return "bool"
	case KindTime:
		return "time"
	default:
		return "any"
	}
}

// IsNumeric reports whether values of the kind can feed numeric-only reducers
func (k Kind) IsNumeric() bool {
	return k == KindFloat || k == KindBool
}

// Column is a named, typed vector of values
type Column struct {
	Name   string
	Kind   Kind
	Values []any
}

// NewColumn creates a column
func NewColumn(name string, kind Kind, values ...any) *Column {
	if values == nil {
		values = []any{}
	}

	return &Column{Name: name, Kind: kind, Values: values}
}

// NullColumn creates a column of n NULL values
func NullColumn(name string, kind Kind, n int) *Column {
	return &Column{Name: name, Kind: kind, Values: make([]any, n)}
}

func (c *Column) clone() *Column {
	values := make([]any, len(c.Values))
	copy(values, c.Values)

	return &Column{Name: c.Name, Kind: c.Kind, Values: values}
}

// Frame is an indexed collection of columns
type Frame struct {
	index   []string
	columns []*Column
	lookup  map[string]int
}

// New creates a frame from columns, marking the given names as index columns
func New(index []string, columns ...*Column) (*Frame, error) {
	f := &Frame{lookup: make(map[string]int, len(columns))}

	for _, c := range columns {
		if len(f.columns) > 0 && len(c.Values) != len(f.columns[0].Values) {
			return nil, fmt.Errorf("%w: %s has %d rows, expected %d", ErrLengthMismatch, c.Name, len(c.Values), len(f.columns[0].Values))
		}

		if i, ok := f.lookup[c.Name]; ok {
			f.columns[i] = c
			continue
		}

		f.lookup[c.Name] = len(f.columns)
		f.columns = append(f.columns, c)
	}

	if err := f.SetIndex(index); err != nil {
		return nil, err
	}

	return f, nil
}

// Empty creates a frame without rows holding only the index columns
func Empty(index []string, kinds map[string]Kind) *Frame {
	columns := make([]*Column, 0, len(index))
	for _, name := range index {
		columns = append(columns, NewColumn(name, kinds[name]))
	}

	f, _ := New(index, columns...)

	return f
}

// NumRows returns the number of rows
func (f *Frame) NumRows() int {
	if f == nil || len(f.columns) == 0 {
		return 0
	}

	return len(f.columns[0].Values)
}

// IsEmpty reports whether the frame has no rows
func (f *Frame) IsEmpty() bool {
	return f.NumRows() == 0
}

// Index returns the index column names
func (f *Frame) Index() []string {
	out := make([]string, len(f.index))
	copy(out, f.index)

	return out
}

// SetIndex marks the given columns as the index
func (f *Frame) SetIndex(names []string) error {
	for _, name := range names {
		if _, ok := f.lookup[name]; !ok {
			return fmt.Errorf("%w: index %s", ErrUnknownColumn, name)
		}
	}

	f.index = append([]string(nil), names...)

	return nil
}

// IsIndex reports whether name is an index column
func (f *Frame) IsIndex(name string) bool {
	for _, n := range f.index {
		if n == name {
			return true
		}
	}

	return false
}

// Has reports whether the frame has the column
func (f *Frame) Has(name string) bool {
	_, ok := f.lookup[name]
	return ok
}

// Column returns a column by name
func (f *Frame) Column(name string) (*Column, bool) {
	i, ok := f.lookup[name]
	if !ok {
		return nil, false
	}

	return f.columns[i], true
}

// Columns returns all columns, index columns included
func (f *Frame) Columns() []*Column {
	return f.columns
}

// ColumnNames returns the names of all columns in order
func (f *Frame) ColumnNames() []string {
	names := make([]string, 0, len(f.columns))
	for _, c := range f.columns {
		names = append(names, c.Name)
	}

	return names
}

// ValueColumns returns the names of the non-index columns
func (f *Frame) ValueColumns() []string {
	names := make([]string, 0, len(f.columns))
	for _, c := range f.columns {
		if !f.IsIndex(c.Name) {
			names = append(names, c.Name)
		}
	}

	return names
}

// Value returns the value at row of the named column, nil if absent
func (f *Frame) Value(name string, row int) any {
	c, ok := f.Column(name)
	if !ok || row >= len(c.Values) {
		return nil
	}

	return c.Values[row]
}

// Set replaces or appends a column. The column must match the row count.
func (f *Frame) Set(c *Column) error {
	if len(f.columns) > 0 && len(c.Values) != f.NumRows() {
		return fmt.Errorf("%w: %s has %d rows, expected %d", ErrLengthMismatch, c.Name, len(c.Values), f.NumRows())
	}

	if i, ok := f.lookup[c.Name]; ok {
		f.columns[i] = c
		return nil
	}

	f.lookup[c.Name] = len(f.columns)
	f.columns = append(f.columns, c)

	return nil
}

// Drop returns a copy without the named columns. Index columns are kept.
func (f *Frame) Drop(names ...string) *Frame {
	drop := make(map[string]bool, len(names))
	for _, n := range names {
		drop[n] = true
	}

	columns := make([]*Column, 0, len(f.columns))
	for _, c := range f.columns {
		if drop[c.Name] && !f.IsIndex(c.Name) {
			continue
		}

		columns = append(columns, c.clone())
	}

	out, _ := New(f.index, columns...)

	return out
}

// Rename returns a copy with columns renamed according to mapping
func (f *Frame) Rename(mapping map[string]string) *Frame {
	columns := make([]*Column, 0, len(f.columns))
	for _, c := range f.columns {
		cc := c.clone()
		if to, ok := mapping[c.Name]; ok {
			cc.Name = to
		}

		columns = append(columns, cc)
	}

	index := make([]string, 0, len(f.index))
	for _, n := range f.index {
		if to, ok := mapping[n]; ok {
			n = to
		}

		index = append(index, n)
	}

	out, _ := New(index, columns...)

	return out
}

// Select returns a copy holding the index columns and the named columns that exist
func (f *Frame) Select(names []string) *Frame {
	want := make(map[string]bool, len(names))
	for _, n := range names {
		want[n] = true
	}

	columns := make([]*Column, 0, len(names)+len(f.index))
	for _, c := range f.columns {
		if want[c.Name] || f.IsIndex(c.Name) {
			columns = append(columns, c.clone())
		}
	}

	out, _ := New(f.index, columns...)

	return out
}

// Filter returns a copy holding the rows for which keep returns true
func (f *Frame) Filter(keep func(row int) bool) *Frame {
	rows := make([]int, 0, f.NumRows())
	for i := 0; i < f.NumRows(); i++ {
		if keep(i) {
			rows = append(rows, i)
		}
	}

	return f.Take(rows)
}

// Take returns a copy holding the given rows in the given order
func (f *Frame) Take(rows []int) *Frame {
	columns := make([]*Column, 0, len(f.columns))
	for _, c := range f.columns {
		values := make([]any, len(rows))
		for i, r := range rows {
			values[i] = c.Values[r]
		}

		columns = append(columns, &Column{Name: c.Name, Kind: c.Kind, Values: values})
	}

	out, _ := New(f.index, columns...)

	return out
}

// Clone returns a deep copy of the frame
func (f *Frame) Clone() *Frame {
	columns := make([]*Column, 0, len(f.columns))
	for _, c := range f.columns {
		columns = append(columns, c.clone())
	}

	out, _ := New(f.index, columns...)

	return out
}

// DropNull removes rows where any of the named existing columns is NULL
func (f *Frame) DropNull(names []string) *Frame {
	present := make([]*Column, 0, len(names))
	for _, n := range names {
		if c, ok := f.Column(n); ok {
			present = append(present, c)
		}
	}

	return f.Filter(func(row int) bool {
		for _, c := range present {
			if c.Values[row] == nil {
				return false
			}
		}

		return true
	})
}

// StringifyMixed converts every KindAny column to strings
func (f *Frame) StringifyMixed() *Frame {
	out := f.Clone()
	for _, c := range out.columns {
		if c.Kind != KindAny {
			continue
		}

		for i, v := range c.Values {
			if v != nil {
				c.Values[i] = FormatValue(v)
			}
		}

		c.Kind = KindString
	}

	return out
}

// RowKey encodes the values of cols at row into a comparable key
func (f *Frame) RowKey(row int, cols []string) string {
	var b strings.Builder
	for i, name := range cols {
		if i > 0 {
			b.WriteByte(0x1f)
		}

		b.WriteString(keyPart(f.Value(name, row)))
	}

	return b.String()
}

// SortByIndex returns a copy sorted ascending by the index columns
func (f *Frame) SortByIndex() *Frame {
	return f.SortBy(f.index)
}

// SortBy returns a copy sorted ascending by cols, NULL first
func (f *Frame) SortBy(cols []string) *Frame {
	rows := make([]int, f.NumRows())
	for i := range rows {
		rows[i] = i
	}

	sort.SliceStable(rows, func(a, b int) bool {
		for _, name := range cols {
			if c := Compare(f.Value(name, rows[a]), f.Value(name, rows[b])); c != 0 {
				return c < 0
			}
		}

		return false
	})

	return f.Take(rows)
}

// MinValue returns the smallest non-NULL value of a column
func (f *Frame) MinValue(name string) (any, bool) {
	c, ok := f.Column(name)
	if !ok {
		return nil, false
	}

	var minValue any
	for _, v := range c.Values {
		if v == nil {
			continue
		}

		if minValue == nil || Compare(v, minValue) < 0 {
			minValue = v
		}
	}

	return minValue, minValue != nil
}

// MaxValue returns the largest non-NULL value of a column
func (f *Frame) MaxValue(name string) (any, bool) {
	c, ok := f.Column(name)
	if !ok {
		return nil, false
	}

	var maxValue any
	for _, v := range c.Values {
		if v == nil {
			continue
		}

		if maxValue == nil || Compare(v, maxValue) > 0 {
			maxValue = v
		}
	}

	return maxValue, maxValue != nil
}

// Cast converts a column to kind. Values that cannot be converted become NULL.
func (f *Frame) Cast(name string, kind Kind) error {
	c, ok := f.Column(name)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownColumn, name)
	}

	for i, v := range c.Values {
		c.Values[i] = Convert(v, kind)
	}

	c.Kind = kind

	return nil
}

func keyPart(v any) string {
	switch t := v.(type) {
	case nil:
		return "\x00"
	case time.Time:
		return "t" + t.UTC().Format(time.RFC3339Nano)
	case float64:
		return fmt.Sprintf("f%v", t)
	case bool:
		return fmt.Sprintf("b%t", t)
	default:
		return "s" + fmt.Sprint(t)
	}
}
