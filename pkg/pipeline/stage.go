// Package pipeline turns the KPI declarations of one granularity into an
// ordered list of stages and runs them over a frame.
package pipeline

import (
	"context"
	"fmt"

	"github.com/ethpandaops/kpt/pkg/catalog"
	"github.com/ethpandaops/kpt/pkg/frame"
)

// Stage is one step of a pipeline
type Stage interface {
	Name() string
	Execute(ctx context.Context, f *frame.Frame) (*frame.Frame, error)
}

// ProjectColumns keeps the index and the named columns
type ProjectColumns struct {
	Columns []string
}

// Name returns the stage name
func (p *ProjectColumns) Name() string { return "ProjectColumns" }

// Execute selects the columns
func (p *ProjectColumns) Execute(_ context.Context, f *frame.Frame) (*frame.Frame, error) {
	return f.Select(p.Columns), nil
}

// TransformerStage runs one KPI transformer and remembers the columns it produces
type TransformerStage struct {
	KPI         string
	Function    string
	Outputs     []string
	Transformer catalog.Transformer
}

// Name returns the function name
func (t *TransformerStage) Name() string { return t.Function }

// Execute runs the transformer
func (t *TransformerStage) Execute(ctx context.Context, f *frame.Frame) (*frame.Frame, error) {
	out, err := t.Transformer.Execute(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("%s (%s) failed: %w", t.Function, t.KPI, err)
	}

	return out, nil
}
