// Package catalog maps KPI function names onto their implementations.
//
// Implementations register an Entry from an init function. An engine run binds
// the registry to the function metadata of the entity type with New; functions
// without a registered implementation are absent from the resulting Catalog.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/ethpandaops/kpt/pkg/frame"
	"github.com/ethpandaops/kpt/pkg/models"
)

var (
	// ErrFunctionNotRegistered is returned when no implementation is registered for a name
	ErrFunctionNotRegistered = errors.New("function not registered")
	// ErrInvalidParams is returned when a declaration's parameters cannot build the function
	ErrInvalidParams = errors.New("invalid function parameters")
	// ErrWrongKind is returned when a function is used as a kind it does not implement
	ErrWrongKind = errors.New("function kind mismatch")
)

// Kind is the role a function plays in a pipeline
type Kind int

const (
	// KindTransformer maps a frame to a frame with added columns
	KindTransformer Kind = iota
	// KindAggregator reduces groups of rows
	KindAggregator
	// KindLoader adds columns before the pipeline runs
	KindLoader
)

// String returns the kind name
func (k Kind) String() string {
	switch k {
	case KindTransformer:
		return "transformer"
	case KindAggregator:
		return "aggregator"
	case KindLoader:
		return "loader"
	default:
		return "unknown"
	}
}

// AggregationKind distinguishes the three aggregator variants
type AggregationKind int

const (
	// AggregationSimple reduces one column of a group to one value
	AggregationSimple AggregationKind = iota
	// AggregationComplex reduces a whole group to a row
	AggregationComplex
	// AggregationDirect receives the ungrouped frame and the group keys
	AggregationDirect
)

// String returns the aggregation kind name
func (k AggregationKind) String() string {
	switch k {
	case AggregationSimple:
		return "simple"
	case AggregationComplex:
		return "complex"
	default:
		return "direct"
	}
}

// Transformer adds columns to a frame. Loaders implement it too.
type Transformer interface {
	Execute(ctx context.Context, f *frame.Frame) (*frame.Frame, error)
}

// SimpleReducer reduces the values of one column in one group
type SimpleReducer interface {
	// Name is the function suffix of result columns, as in "speed|mean"
	Name() string
	// NumericOnly reducers are only applied to numeric and boolean columns
	NumericOnly() bool
	// Reduce receives the group's values, NULLs included
	Reduce(values []any) any
}

// ComplexReducer reduces a whole group to one output row keyed by output name
type ComplexReducer interface {
	Reduce(group *frame.Frame) (map[string]any, error)
}

// DirectAggregator produces its own grouped result. The result is indexed by
// the grouper names and holds one column per output.
type DirectAggregator interface {
	Aggregate(f *frame.Frame, groupers []frame.Grouper) (*frame.Frame, error)
}

// Entry is a registered implementation
type Entry struct {
	Kind        Kind
	Aggregation AggregationKind
	// Inputs is the default parameter metadata, used when the entity type
	// does not describe the function
	Inputs []models.FunctionParam

	NewTransformer func(p Params) (Transformer, error)
	NewSimple      func() SimpleReducer
	NewComplex     func(p Params) (ComplexReducer, error)
	NewDirect      func(p Params) (DirectAggregator, error)
}

// Registry holds entries by function name
type Registry struct {
	mu      sync.RWMutex
	entries map[string]Entry
}

// globalRegistry is the singleton registry built by init functions
//
//nolint:gochecknoglobals // Required for the factory registration pattern
var globalRegistry = NewRegistry()

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]Entry)}
}

// Register adds or replaces an entry
func (r *Registry) Register(name string, entry Entry) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.entries[name] = entry
}

// Lookup returns the entry registered under name
func (r *Registry) Lookup(name string) (Entry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, ok := r.entries[name]
	if !ok {
		return Entry{}, fmt.Errorf("%w: %s", ErrFunctionNotRegistered, name)
	}

	return entry, nil
}

// Names returns the sorted registered names
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.entries))
	for name := range r.entries {
		names = append(names, name)
	}

	sort.Strings(names)

	return names
}

// Register adds an entry to the global registry
func Register(name string, entry Entry) {
	globalRegistry.Register(name, entry)
}

// Default returns the global registry
func Default() *Registry {
	return globalRegistry
}
