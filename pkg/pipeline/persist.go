package pipeline

import (
	"context"
	"fmt"

	"github.com/ethpandaops/kpt/pkg/frame"
	"github.com/ethpandaops/kpt/pkg/models"
	"github.com/ethpandaops/kpt/pkg/observability"
	"github.com/sirupsen/logrus"
)

// Persister writes derived metric columns of a frame to the KPI store
type Persister interface {
	Persist(ctx context.Context, f *frame.Frame, columns []string, grain *models.Granularity) error
}

// PersistColumns writes the derived metrics among Columns. Transient items
// and columns the frame does not hold are skipped.
type PersistColumns struct {
	log       logrus.FieldLogger
	persister Persister
	items     *models.DataItems
	grain     *models.Granularity
	Columns   []string
}

// Name returns the stage name
func (p *PersistColumns) Name() string { return "PersistColumns" }

// Execute persists and returns f unchanged
func (p *PersistColumns) Execute(ctx context.Context, f *frame.Frame) (*frame.Frame, error) {
	cols := p.persistable(f)
	if len(cols) == 0 || f.IsEmpty() || p.persister == nil {
		return f, nil
	}

	if err := p.persister.Persist(ctx, f, cols, p.grain); err != nil {
		return nil, fmt.Errorf("failed to persist %v: %w", cols, err)
	}

	observability.RecordPersistedValues(p.grain.Key(), f.NumRows()*len(cols))

	p.log.WithFields(logrus.Fields{
		"columns": cols,
		"rows":    f.NumRows(),
		"grain":   p.grain.Key(),
	}).Debug("Persisted derived metrics")

	return f, nil
}

func (p *PersistColumns) persistable(f *frame.Frame) []string {
	var cols []string

	for _, name := range p.Columns {
		item, ok := p.items.Get(name)
		if !ok || !item.IsDerived() || item.Transient || !f.Has(name) {
			continue
		}

		cols = append(cols, name)
	}

	return cols
}
