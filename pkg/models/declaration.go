package models

import (
	"regexp"
	"sort"
	"strings"
)

// Scope types
const (
	ScopeDimensions = "DIMENSIONS"
	ScopeFormula    = "FORMULA"
)

// Catalog parameter types
const (
	ParamDataItem = "DATA_ITEM"
	ParamConstant = "CONSTANT"
)

//nolint:gochecknoglobals // compiled once
var formulaReference = regexp.MustCompile(`\$\{([^}]+)\}`)

// Schedule restricts how often a declaration runs
type Schedule struct {
	Every      string `json:"every"`
	StartingAt string `json:"starting_at"`
}

// Scope limits a declaration to the rows matching a dimension filter or formula
type Scope struct {
	Type       string         `json:"type"`
	Dimensions map[string]any `json:"dimensions,omitempty"`
	Expression string         `json:"expression,omitempty"`
}

// Sources returns the data items the scope references
func (s *Scope) Sources() []string {
	if s == nil {
		return nil
	}

	var out []string

	switch strings.ToUpper(s.Type) {
	case ScopeDimensions:
		for name := range s.Dimensions {
			out = append(out, name)
		}

		sort.Strings(out)
	case ScopeFormula:
		for _, m := range formulaReference.FindAllStringSubmatch(s.Expression, -1) {
			out = appendUnique(out, strings.TrimSpace(m[1]))
		}
	}

	return out
}

// Declaration describes one KPI computation
type Declaration struct {
	Name            string         `json:"name"`
	FunctionName    string         `json:"functionName"`
	FunctionID      int            `json:"kpiFunctionId"`
	Enabled         *bool          `json:"enabled,omitempty"`
	GranularityName string         `json:"granularity,omitempty"`
	Input           map[string]any `json:"input"`
	Output          map[string]any `json:"output"`
	Scope           *Scope         `json:"scope,omitempty"`
	Schedule        *Schedule      `json:"schedule,omitempty"`
	Backtrack       map[string]int `json:"backtrack,omitempty"`

	// Granularity is resolved from GranularityName, or inferred for transformers
	Granularity *Granularity `json:"-"`
}

// IsEnabled reports whether the declaration should run, true when unset
func (d *Declaration) IsEnabled() bool {
	return d.Enabled == nil || *d.Enabled
}

// Targets returns the output data item names in output parameter order
func (d *Declaration) Targets() []string {
	keys := make([]string, 0, len(d.Output))
	for k := range d.Output {
		keys = append(keys, k)
	}

	sort.Strings(keys)

	var out []string
	for _, k := range keys {
		for _, name := range itemNames(d.Output[k], true) {
			out = appendUnique(out, name)
		}
	}

	return out
}

// InputItems returns the data items bound to the given parameters
func (d *Declaration) InputItems(params []string) []string {
	var out []string
	for _, p := range params {
		for _, name := range itemNames(d.Input[p], false) {
			out = appendUnique(out, name)
		}
	}

	return out
}

// Params merges input and output parameters; outputs win on conflict
func (d *Declaration) Params() map[string]any {
	out := make(map[string]any, len(d.Input)+len(d.Output))
	for k, v := range d.Input {
		out[k] = v
	}

	for k, v := range d.Output {
		out[k] = v
	}

	return out
}

// Label names the declaration in logs
func (d *Declaration) Label() string {
	if d.Name != "" {
		return d.Name
	}

	return d.FunctionName
}

func itemNames(v any, splitCommas bool) []string {
	var out []string

	switch t := v.(type) {
	case string:
		if !splitCommas {
			if s := strings.TrimSpace(t); s != "" {
				out = append(out, s)
			}

			return out
		}

		for _, part := range strings.Split(t, ",") {
			if s := strings.TrimSpace(part); s != "" {
				out = append(out, s)
			}
		}
	case []string:
		for _, s := range t {
			out = append(out, itemNames(s, splitCommas)...)
		}
	case []any:
		for _, e := range t {
			if s, ok := e.(string); ok {
				out = append(out, itemNames(s, splitCommas)...)
			}
		}
	}

	return out
}

func appendUnique(list []string, name string) []string {
	for _, n := range list {
		if n == name {
			return list
		}
	}

	return append(list, name)
}
