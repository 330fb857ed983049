package models

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/ethpandaops/kpt/pkg/frame"
)

// NoGranularity is the key of the raw (ungrouped) level
const NoGranularity = "None"

// Granularity is an aggregation level: an optional time frequency, grouping
// dimensions and whether the entity id is the first group key.
type Granularity struct {
	ID          int      `json:"granularitySetId"`
	Name        string   `json:"name"`
	Frequency   string   `json:"frequency"`
	Dimensions  []string `json:"dataItems"`
	EntityFirst bool     `json:"entityFirst"`
}

// UnmarshalJSON decodes a granularity, defaulting entityFirst to true
func (g *Granularity) UnmarshalJSON(data []byte) error {
	type plain Granularity

	aux := struct {
		*plain
		EntityFirst *bool `json:"entityFirst"`
	}{plain: (*plain)(g)}

	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	g.EntityFirst = aux.EntityFirst == nil || *aux.EntityFirst

	return nil
}

// Key renders the granularity as used in cache keys and grain maps
func (g *Granularity) Key() string {
	if g == nil {
		return NoGranularity
	}

	freq := g.Frequency
	if freq == "" {
		freq = NoGranularity
	}

	return fmt.Sprintf("%s_%s_%s", freq, strings.Join(g.Dimensions, "_"), strconv.FormatBool(g.EntityFirst))
}

// HasFrequency reports whether the granularity groups by time
func (g *Granularity) HasFrequency() bool {
	return g != nil && g.Frequency != ""
}

// ParsedFrequency parses the frequency alias
func (g *Granularity) ParsedFrequency() (frame.Frequency, error) {
	f, err := frame.ParseFrequency(g.Frequency)
	if err != nil {
		return frame.Frequency{}, fmt.Errorf("%w: granularity %s: %w", ErrInvalidFrequency, g.Name, err)
	}

	return f, nil
}

// IndexColumns returns the index of frames aggregated at this granularity
func (g *Granularity) IndexColumns() []string {
	if g == nil {
		return []string{EntityIDColumn, TimestampColumn}
	}

	cols := make([]string, 0, len(g.Dimensions)+2)
	if g.EntityFirst {
		cols = append(cols, EntityIDColumn)
	}

	if g.HasFrequency() {
		cols = append(cols, TimestampColumn)
	}

	return append(cols, g.Dimensions...)
}

// HasDimension reports whether name is a grouping dimension
func (g *Granularity) HasDimension(name string) bool {
	if g == nil {
		return false
	}

	for _, d := range g.Dimensions {
		if d == name {
			return true
		}
	}

	return false
}
