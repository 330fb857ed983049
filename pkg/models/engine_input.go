package models

import (
	"fmt"
)

// FunctionParam is one formal parameter of a catalog function
type FunctionParam struct {
	Name     string `json:"name"`
	Type     string `json:"type"`
	Required bool   `json:"required"`
}

// CatalogFunction is the metadata of a function available to declarations
type CatalogFunction struct {
	Name     string          `json:"name"`
	Category string          `json:"category"`
	Inputs   []FunctionParam `json:"input"`
	Outputs  []FunctionParam `json:"output"`
}

// DataItemInputs returns the names of the inputs typed DATA_ITEM
func (c CatalogFunction) DataItemInputs() []string {
	var out []string
	for _, p := range c.Inputs {
		if p.Type == ParamDataItem {
			out = append(out, p.Name)
		}
	}

	return out
}

// Constant is an entity type constant
type Constant struct {
	Name  string `json:"name"`
	Value any    `json:"value"`
}

// EngineInput is everything the engine needs to know about an entity type
type EngineInput struct {
	EntityTypeName        string            `json:"entityTypeName"`
	EntityTypeID          int               `json:"entityTypeId"`
	SchemaName            string            `json:"schemaName"`
	MetricsTableName      string            `json:"metricsTableName"`
	MetricTimestampColumn string            `json:"metricTimestampColumn"`
	DimensionsTable       string            `json:"dimensionsTable"`
	DataItems             []DataItem        `json:"dataItems"`
	Granularities         []Granularity     `json:"granularities"`
	Declarations          []Declaration     `json:"kpiDeclarations"`
	Constants             []Constant        `json:"constants"`
	CatalogFunctions      []CatalogFunction `json:"catalogFunctions"`
}

// Items returns the indexed data items
func (e *EngineInput) Items() *DataItems {
	return NewDataItems(e.DataItems)
}

// ConstantValues returns the constants keyed by name
func (e *EngineInput) ConstantValues() map[string]any {
	out := make(map[string]any, len(e.Constants))
	for _, c := range e.Constants {
		out[c.Name] = c.Value
	}

	return out
}

// ResolveDeclarations returns the enabled declarations with their granularity
// resolved. An unknown granularity reference is a configuration error.
func (e *EngineInput) ResolveDeclarations() ([]*Declaration, error) {
	grains := make(map[string]*Granularity, len(e.Granularities))
	for i := range e.Granularities {
		g := e.Granularities[i]
		grains[g.Name] = &g
	}

	out := make([]*Declaration, 0, len(e.Declarations))
	for i := range e.Declarations {
		d := e.Declarations[i]
		if !d.IsEnabled() {
			continue
		}

		if d.GranularityName != "" {
			g, ok := grains[d.GranularityName]
			if !ok {
				return nil, fmt.Errorf("%w: %s referenced by %s", ErrUnknownGranularity, d.GranularityName, d.Label())
			}

			d.Granularity = g
		}

		out = append(out, &d)
	}

	return out, nil
}
