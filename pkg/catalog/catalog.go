package catalog

import (
	"github.com/ethpandaops/kpt/pkg/models"
)

// Standard aggregator parameter names
const (
	// SourceParam names the input column of an aggregator
	SourceParam = "source"
	// NameParam names the output column of an aggregator
	NameParam = "name"
)

// Function is a registered implementation bound to its metadata
type Function struct {
	Name  string
	Meta  models.CatalogFunction
	Entry Entry
}

// IsAggregator reports whether the function reduces groups
func (f Function) IsAggregator() bool { return f.Entry.Kind == KindAggregator }

// IsLoader reports whether the function is a preload stage
func (f Function) IsLoader() bool { return f.Entry.Kind == KindLoader }

// IsTransformer reports whether the function maps frames
func (f Function) IsTransformer() bool { return f.Entry.Kind == KindTransformer }

// Sources returns the data items a declaration of this function reads: its
// DATA_ITEM inputs followed by the items its scope references.
func (f Function) Sources(decl *models.Declaration) []string {
	out := decl.InputItems(f.Meta.DataItemInputs())

	for _, s := range decl.Scope.Sources() {
		found := false
		for _, o := range out {
			if o == s {
				found = true
				break
			}
		}

		if !found {
			out = append(out, s)
		}
	}

	return out
}

// Catalog is the set of functions usable by one entity type
type Catalog struct {
	functions map[string]Function
}

// New binds registered implementations to the entity type's function
// metadata. Registered functions missing from meta use their default
// parameter description; metadata without an implementation is dropped.
func New(meta []models.CatalogFunction, reg *Registry) *Catalog {
	if reg == nil {
		reg = Default()
	}

	described := make(map[string]models.CatalogFunction, len(meta))
	for _, m := range meta {
		described[m.Name] = m
	}

	c := &Catalog{functions: make(map[string]Function)}

	for _, name := range reg.Names() {
		entry, err := reg.Lookup(name)
		if err != nil {
			continue
		}

		m, ok := described[name]
		if !ok {
			m = models.CatalogFunction{Name: name, Category: entry.Kind.String(), Inputs: entry.Inputs}
		}

		c.functions[name] = Function{Name: name, Meta: m, Entry: entry}
	}

	return c
}

// Get returns a function by name
func (c *Catalog) Get(name string) (Function, bool) {
	f, ok := c.functions[name]
	return f, ok
}

// Has reports whether a function exists
func (c *Catalog) Has(name string) bool {
	_, ok := c.functions[name]
	return ok
}

// IsAggregator reports whether name is a known aggregator
func (c *Catalog) IsAggregator(name string) bool {
	f, ok := c.functions[name]
	return ok && f.IsAggregator()
}

// Params returns the declaration's parameters with CONSTANT inputs replaced
// by their values. A single constant name resolves to its value, a list of
// names resolves to a map of name to value.
func (c *Catalog) Params(decl *models.Declaration, constants map[string]any) Params {
	p := Params(decl.Params())

	f, ok := c.functions[decl.FunctionName]
	if !ok {
		return p
	}

	for _, in := range f.Meta.Inputs {
		if in.Type != models.ParamConstant {
			continue
		}

		switch v := p[in.Name].(type) {
		case string:
			if val, ok := constants[v]; ok {
				p[in.Name] = val
			}
		case []any, []string:
			resolved := make(map[string]any)
			for _, name := range p.Strings(in.Name) {
				resolved[name] = constants[name]
			}

			p[in.Name] = resolved
		}
	}

	return p
}
