package source

import (
	"context"
	"fmt"
	"time"

	"github.com/ethpandaops/kpt/pkg/checkpoint"
	"github.com/ethpandaops/kpt/pkg/frame"
	"github.com/ethpandaops/kpt/pkg/models"
	"github.com/ethpandaops/kpt/pkg/observability"
	"github.com/sirupsen/logrus"
)

// CacheCleaner drops every cached aggregation input of an entity type
type CacheCleaner interface {
	DeleteAll(ctx context.Context) (int, error)
}

// LoadOptions restricts a load. Any restriction makes the load forced:
// checkpoints of the loaded items are cleaned and the cache is bypassed.
type LoadOptions struct {
	Force    bool
	Entities []string
	Start    *time.Time
	End      *time.Time
}

func (o LoadOptions) forced() bool {
	return o.Force || len(o.Entities) > 0 || o.Start != nil || o.End != nil
}

// Loaded is the outcome of an incremental load
type Loaded struct {
	// Frame is indexed by entity id and timestamp
	Frame *frame.Frame
	// IgnoreCache is set when cached aggregation inputs can no longer be trusted
	IgnoreCache bool
	// Start is the lower bound used for the common read, nil when unbounded
	Start *time.Time
	// End is the upper bound of every read
	End   time.Time
	State *checkpoint.State
}

// Loader reads the raw data a run needs, skipping what earlier runs processed
type Loader struct {
	log            logrus.FieldLogger
	reader         *Reader
	tracker        *checkpoint.Tracker
	cache          CacheCleaner
	items          *models.DataItems
	entityType     string
	productionMode bool
}

// NewLoader creates a loader. cache may be nil.
func NewLoader(log logrus.FieldLogger, reader *Reader, tracker *checkpoint.Tracker, cache CacheCleaner, items *models.DataItems, entityType string, productionMode bool) *Loader {
	return &Loader{
		log:            log.WithFields(logrus.Fields{"component": "loader", "entity_type": entityType}),
		reader:         reader,
		tracker:        tracker,
		cache:          cache,
		items:          items,
		entityType:     entityType,
		productionMode: productionMode,
	}
}

// Load reads metrics and dimensions among names up to launch (or opts.End)
func (l *Loader) Load(ctx context.Context, names []string, launch time.Time, opts LoadOptions) (*Loaded, error) {
	metrics, dimensions := l.split(names)

	end := launch
	if opts.End != nil {
		end = *opts.End
	}

	out := &Loaded{End: end}

	index := []string{models.EntityIDColumn, models.TimestampColumn}
	schema := []*frame.Column{
		frame.NewColumn(models.EntityIDColumn, frame.KindString),
		frame.NewColumn(models.TimestampColumn, frame.KindTime),
	}

	for _, m := range metrics {
		schema = append(schema, frame.NewColumn(m, l.items.Kind(m)))
	}

	f, err := frame.New(index, schema...)
	if err != nil {
		return nil, err
	}

	if len(metrics) > 0 {
		var loaded *frame.Frame

		if opts.forced() {
			loaded, err = l.loadForced(ctx, metrics, end, opts, out)
		} else {
			loaded, err = l.loadIncremental(ctx, metrics, launch, end, out)
		}

		if err != nil {
			return nil, err
		}

		f = frame.Concat(f, loaded)
	}

	if len(dimensions) > 0 {
		dims, err := l.reader.Dimensions(ctx, dimensions, opts.Entities)
		if err != nil {
			return nil, err
		}

		f, err = mergeDimensions(f, dims, dimensions)
		if err != nil {
			return nil, err
		}
	}

	out.Frame = f

	l.log.WithFields(logrus.Fields{
		"metrics":      len(metrics),
		"dimensions":   len(dimensions),
		"rows":         f.NumRows(),
		"ignore_cache": out.IgnoreCache,
	}).Info("Loaded raw data")

	return out, nil
}

func (l *Loader) loadForced(ctx context.Context, metrics []string, end time.Time, opts LoadOptions, out *Loaded) (*frame.Frame, error) {
	if err := l.tracker.Clean(ctx, metrics, opts.Entities); err != nil {
		l.log.WithError(err).Warn("Failed to clean checkpoints")
	}

	out.IgnoreCache = true
	out.Start = opts.Start
	l.dropCache(ctx)

	return l.reader.Metrics(ctx, metrics, opts.Start, &end, opts.Entities)
}

func (l *Loader) loadIncremental(ctx context.Context, metrics []string, launch, end time.Time, out *Loaded) (*frame.Frame, error) {
	latest, err := l.reader.LatestTimestamps(ctx, metrics)
	if err != nil {
		return nil, err
	}

	state, err := l.tracker.Load(ctx, metrics, latest, launch)
	if err != nil {
		return nil, fmt.Errorf("failed to load checkpoints: %w", err)
	}

	out.State = state
	observability.RecordEntitiesLoaded(l.entityType, len(state.Updated), len(state.Stale), len(state.New))

	if state.Empty() {
		out.IgnoreCache = true
		l.dropCache(ctx)
	}

	out.Start = state.UpdatedStart
	if out.Start == nil {
		out.Start = state.StaleStart
	}

	var parts []*frame.Frame

	reads := []struct {
		entities []string
		start    *time.Time
	}{
		{state.Updated, state.UpdatedStart},
		{state.Stale, state.StaleStart},
		{state.New, nil},
	}

	for _, r := range reads {
		if len(r.entities) == 0 {
			continue
		}

		part, err := l.reader.Metrics(ctx, metrics, r.start, &end, r.entities)
		if err != nil {
			return nil, err
		}

		parts = append(parts, part)
	}

	if len(parts) == 0 {
		return nil, nil
	}

	f := frame.Concat(parts...)

	if state.Empty() {
		return f, nil
	}

	// Entities share a common start, so rows an entity already processed are
	// read again and must be dropped.
	return f.Filter(func(row int) bool {
		entity, _ := f.Value(models.EntityIDColumn, row).(string)

		last, ok := state.Checkpoint(entity)
		if !ok {
			return true
		}

		ts, ok := f.Value(models.TimestampColumn, row).(time.Time)

		return ok && ts.After(last)
	}), nil
}

func (l *Loader) dropCache(ctx context.Context) {
	if !l.productionMode || l.cache == nil {
		return
	}

	if _, err := l.cache.DeleteAll(ctx); err != nil {
		l.log.WithError(err).Warn("Failed to delete aggregation cache")
	}
}

func (l *Loader) split(names []string) (metrics, dimensions []string) {
	for _, name := range names {
		item, ok := l.items.Get(name)
		if !ok {
			continue
		}

		switch item.Type {
		case models.DataItemMetric, models.DataItemEvent:
			if !contains(metrics, name) {
				metrics = append(metrics, name)
			}
		case models.DataItemDimension:
			if !contains(dimensions, name) {
				dimensions = append(dimensions, name)
			}
		}
	}

	return metrics, dimensions
}

// mergeDimensions left joins dims onto f by entity id
func mergeDimensions(f, dims *frame.Frame, names []string) (*frame.Frame, error) {
	rows := make(map[string]int, dims.NumRows())

	for i := 0; i < dims.NumRows(); i++ {
		if id, ok := dims.Value(models.EntityIDColumn, i).(string); ok {
			if _, seen := rows[id]; !seen {
				rows[id] = i
			}
		}
	}

	out := f.Clone()

	for _, name := range names {
		src, ok := dims.Column(name)
		if !ok {
			continue
		}

		values := make([]any, out.NumRows())

		for i := range values {
			id, _ := out.Value(models.EntityIDColumn, i).(string)
			if r, ok := rows[id]; ok {
				values[i] = src.Values[r]
			}
		}

		if err := out.Set(frame.NewColumn(name, src.Kind, values...)); err != nil {
			return nil, err
		}
	}

	return out, nil
}
