// Package models holds the metadata an entity type exposes to the KPI engine:
// data items, granularities, KPI declarations, the function catalog
// description and the KPI dependency tree built from them.
package models

import (
	"errors"
	"sort"

	"github.com/ethpandaops/kpt/pkg/frame"
)

var (
	// ErrUnknownGranularity is returned when a declaration references an undefined granularity
	ErrUnknownGranularity = errors.New("unknown granularity")
	// ErrCyclicDependency is returned when linking two nodes would close a loop
	ErrCyclicDependency = errors.New("cyclic dependency")
	// ErrNodeNotFound is returned when a tree node does not exist
	ErrNodeNotFound = errors.New("node not found")
	// ErrInvalidFrequency is returned when a granularity frequency cannot be parsed
	ErrInvalidFrequency = errors.New("invalid granularity frequency")
)

const (
	// EntityIDColumn is the frame index column holding the entity id
	EntityIDColumn = "id"
	// TimestampColumn is the frame index column holding the event timestamp
	TimestampColumn = "timestamp"
	// SourceEntityIDColumn is the entity id column of the raw metrics table
	SourceEntityIDColumn = "deviceid"
	// ShiftDayDimension is the dimension name used as time watermark when no
	// dimension is typed as a timestamp
	ShiftDayDimension = "shift_day"
	// TagAlert marks data items that carry alert flags
	TagAlert = "ALERT"
)

// DataItemType classifies a data item
type DataItemType string

const (
	// DataItemDimension is a per-entity attribute
	DataItemDimension DataItemType = "DIMENSION"
	// DataItemMetric is a raw time series
	DataItemMetric DataItemType = "METRIC"
	// DataItemEvent is a raw event series
	DataItemEvent DataItemType = "EVENT"
	// DataItemDerived is a KPI output
	DataItemDerived DataItemType = "DERIVED_METRIC"
)

// ColumnType is the storage type of a data item
type ColumnType string

const (
	// ColumnBoolean holds booleans
	ColumnBoolean ColumnType = "BOOLEAN"
	// ColumnNumber holds numbers
	ColumnNumber ColumnType = "NUMBER"
	// ColumnLiteral holds strings
	ColumnLiteral ColumnType = "LITERAL"
	// ColumnTimestamp holds timestamps
	ColumnTimestamp ColumnType = "TIMESTAMP"
	// ColumnJSON holds JSON documents
	ColumnJSON ColumnType = "JSON"
)

// Kind maps the column type onto a frame kind
func (c ColumnType) Kind() frame.Kind {
	switch c {
	case ColumnNumber:
		return frame.KindFloat
	case ColumnBoolean:
		return frame.KindBool
	case ColumnTimestamp:
		return frame.KindTime
	default:
		return frame.KindString
	}
}

// DataItem is a named column of an entity type
type DataItem struct {
	Name            string       `json:"name"`
	Type            DataItemType `json:"type"`
	ColumnName      string       `json:"columnName"`
	ColumnType      ColumnType   `json:"columnType"`
	Transient       bool         `json:"transient"`
	SourceTableName string       `json:"sourceTableName"`
	Tags            []string     `json:"tags"`
}

// IsRaw reports whether the item is loaded from storage rather than computed
func (d DataItem) IsRaw() bool {
	return d.Type == DataItemMetric || d.Type == DataItemEvent || d.Type == DataItemDimension
}

// IsDerived reports whether the item is a KPI output
func (d DataItem) IsDerived() bool {
	return d.Type == DataItemDerived
}

// HasTag reports whether the item carries tag
func (d DataItem) HasTag(tag string) bool {
	for _, t := range d.Tags {
		if t == tag {
			return true
		}
	}

	return false
}

// Column returns the storage column, falling back to the item name
func (d DataItem) Column() string {
	if d.ColumnName != "" {
		return d.ColumnName
	}

	return d.Name
}

// DataItems is the read-only set of data items of an entity type
type DataItems struct {
	items  []DataItem
	byName map[string]int
}

// NewDataItems indexes items by name. Later duplicates replace earlier ones.
func NewDataItems(items []DataItem) *DataItems {
	d := &DataItems{byName: make(map[string]int, len(items))}
	for _, item := range items {
		if i, ok := d.byName[item.Name]; ok {
			d.items[i] = item
			continue
		}

		d.byName[item.Name] = len(d.items)
		d.items = append(d.items, item)
	}

	return d
}

// Get returns an item by name
func (d *DataItems) Get(name string) (DataItem, bool) {
	i, ok := d.byName[name]
	if !ok {
		return DataItem{}, false
	}

	return d.items[i], true
}

// All returns every item in definition order
func (d *DataItems) All() []DataItem {
	return d.items
}

// Names returns the sorted names of the items of the given types, all items when none given
func (d *DataItems) Names(types ...DataItemType) []string {
	want := make(map[DataItemType]bool, len(types))
	for _, t := range types {
		want[t] = true
	}

	names := make([]string, 0, len(d.items))
	for _, item := range d.items {
		if len(want) == 0 || want[item.Type] {
			names = append(names, item.Name)
		}
	}

	sort.Strings(names)

	return names
}

// Raw returns the names of all raw items, dimensions included
func (d *DataItems) Raw() []string {
	return d.Names(DataItemMetric, DataItemEvent, DataItemDimension)
}

// RawMetrics returns the names of the raw metric and event items
func (d *DataItems) RawMetrics() []string {
	return d.Names(DataItemMetric, DataItemEvent)
}

// DerivedMetrics returns the names of the KPI outputs
func (d *DataItems) DerivedMetrics() []string {
	return d.Names(DataItemDerived)
}

// Dimensions returns the names of the dimension items
func (d *DataItems) Dimensions() []string {
	return d.Names(DataItemDimension)
}

// Kind returns the frame kind of the named item, KindAny when unknown
func (d *DataItems) Kind(name string) frame.Kind {
	item, ok := d.Get(name)
	if !ok {
		return frame.KindAny
	}

	return item.ColumnType.Kind()
}
