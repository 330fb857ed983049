package catalog

import (
	"fmt"
	"strconv"
	"strings"
)

// Params are the merged input and output parameters of a declaration
type Params map[string]any

// String returns a string parameter
func (p Params) String(name string) (string, bool) {
	s, ok := p[name].(string)
	if !ok {
		return "", false
	}

	s = strings.TrimSpace(s)

	return s, s != ""
}

// RequireString returns a string parameter or ErrInvalidParams
func (p Params) RequireString(name string) (string, error) {
	s, ok := p.String(name)
	if !ok {
		return "", fmt.Errorf("%w: %s must be a non-empty string", ErrInvalidParams, name)
	}

	return s, nil
}

// Strings returns a list parameter. A string value is split on commas.
func (p Params) Strings(name string) []string {
	var out []string

	switch t := p[name].(type) {
	case string:
		for _, part := range strings.Split(t, ",") {
			if s := strings.TrimSpace(part); s != "" {
				out = append(out, s)
			}
		}
	case []string:
		out = append(out, t...)
	case []any:
		for _, v := range t {
			if s, ok := v.(string); ok {
				out = append(out, s)
			}
		}
	}

	return out
}

// Float returns a numeric parameter
func (p Params) Float(name string) (float64, bool) {
	switch t := p[name].(type) {
	case float64:
		return t, true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		return f, err == nil
	default:
		return 0, false
	}
}

// Map returns a map parameter, typically resolved constants
func (p Params) Map(name string) map[string]any {
	m, _ := p[name].(map[string]any)
	return m
}
