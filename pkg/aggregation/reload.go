package aggregation

import (
	"context"
	"fmt"
	"time"

	"github.com/ethpandaops/kpt/pkg/frame"
	"github.com/ethpandaops/kpt/pkg/models"
	"github.com/sirupsen/logrus"
)

// Cache stores the input frame of an aggregation from dep grain to grain.
// Retrieve returns nil without error when nothing is cached. The legacy flag
// addresses the key layout used before entity type names were part of keys.
type Cache interface {
	Retrieve(ctx context.Context, depGrain, grain *models.Granularity, legacy bool) (*frame.Frame, error)
	Store(ctx context.Context, depGrain, grain *models.Granularity, f *frame.Frame) error
	Delete(ctx context.Context, depGrain, grain *models.Granularity, legacy bool) error
}

// ReloadOptions are the per-run switches of the reloader
type ReloadOptions struct {
	// Backtrack disables the cache entirely
	Backtrack bool
	// IgnoreCache skips loading but still stores in production mode
	IgnoreCache bool
	// ConcatOnly appends cached rows instead of merging them on the index
	ConcatOnly bool
	// ProductionMode persists the merged frame
	ProductionMode bool
}

// Reloader merges an aggregation input with the rows cached by earlier runs.
// Cached rows older than the first bucket touched by the new input are
// evicted, so only buckets that can still change are recomputed.
type Reloader struct {
	log   logrus.FieldLogger
	items *models.DataItems
	cache Cache
	opts  ReloadOptions
}

// NewReloader creates a reloader
func NewReloader(log logrus.FieldLogger, items *models.DataItems, cache Cache, opts ReloadOptions) *Reloader {
	return &Reloader{
		log:   log.WithField("component", "aggregation_reload"),
		items: items,
		cache: cache,
		opts:  opts,
	}
}

// Name implements the pipeline stage interface
func (r *Reloader) Name() string {
	return "AggregationReloadUpdate"
}

// Execute returns f merged with the cached input of the dep grain to grain
// aggregation. Index mismatches between f and the cache are fatal.
func (r *Reloader) Execute(ctx context.Context, f *frame.Frame, depGrain, grain *models.Granularity) (*frame.Frame, error) {
	log := r.log.WithFields(logrus.Fields{"source": depGrain.Key(), "target": grain.Key()})

	f = f.DropNull(grain.Dimensions)
	if f.IsEmpty() {
		return f, nil
	}

	if r.opts.Backtrack {
		log.Info("Backtrack is active, cached data is neither loaded nor stored")
		return f, nil
	}

	var (
		cached       *frame.Frame
		removeLegacy bool
	)

	if r.opts.IgnoreCache {
		log.Info("Cache is ignored in the current mode, no cached data is loaded")
	} else {
		cached = r.retrieve(ctx, log, depGrain, grain, false)
		if cached == nil {
			cached = r.retrieve(ctx, log, depGrain, grain, true)
			removeLegacy = cached != nil
		}
	}

	if cached != nil && !cached.IsEmpty() {
		if !frame.SameIndex(f.Index(), cached.Index()) {
			return nil, fmt.Errorf("%w: current frame index %v does not match cached index %v of %s, the cache must be cleaned",
				frame.ErrIndexMismatch, f.Index(), cached.Index(), depGrain.Key())
		}

		cached = r.evict(log, f, cached, grain)

		if r.opts.ConcatOnly {
			f = frame.Concat(cached, f)
		} else {
			merged, err := frame.Coalesce(f, cached)
			if err != nil {
				return nil, err
			}

			f = merged
		}

		log.WithField("rows", f.NumRows()).Debug("Merged cached data into aggregation input")
	}

	f = f.StringifyMixed()

	if !r.opts.ProductionMode {
		return f, nil
	}

	if err := r.cache.Store(ctx, depGrain, grain, f); err != nil {
		log.WithError(err).Warn("Failed to store aggregation cache")
		return f, nil
	}

	if removeLegacy {
		if err := r.cache.Delete(ctx, depGrain, grain, true); err != nil {
			log.WithError(err).Warn("Failed to delete legacy aggregation cache")
		}
	}

	return f, nil
}

func (r *Reloader) retrieve(ctx context.Context, log logrus.FieldLogger, depGrain, grain *models.Granularity, legacy bool) *frame.Frame {
	cached, err := r.cache.Retrieve(ctx, depGrain, grain, legacy)
	if err != nil {
		log.WithError(err).WithField("legacy", legacy).Warn("Failed to load aggregation cache")
		return nil
	}

	return cached
}

// evict drops cached rows that fall before the earliest period of f
func (r *Reloader) evict(log logrus.FieldLogger, f, cached *frame.Frame, grain *models.Granularity) *frame.Frame {
	if grain.HasFrequency() {
		freq, err := grain.ParsedFrequency()
		if err != nil {
			log.WithError(err).Warn("Cannot evict cached data")
			return cached
		}

		earliest, ok := f.MinValue(models.TimestampColumn)
		t, isTime := earliest.(time.Time)

		if !ok || !isTime {
			return cached
		}

		start := freq.PeriodStart(t)

		return cached.Filter(func(row int) bool {
			ts, ok := cached.Value(models.TimestampColumn, row).(time.Time)
			return ok && !ts.Before(start)
		})
	}

	if dim := r.timestampDimension(grain); dim != "" {
		earliest, ok := f.MinValue(dim)
		if !ok {
			return cached
		}

		return cached.Filter(func(row int) bool {
			return frame.Compare(cached.Value(dim, row), earliest) >= 0
		})
	}

	log.Warn("Incremental update by reloading does not support non-time-based aggregation, keeping all cached data")

	return cached
}

// timestampDimension returns the first grouping dimension typed as timestamp,
// falling back to the shift day dimension
func (r *Reloader) timestampDimension(grain *models.Granularity) string {
	for _, dim := range grain.Dimensions {
		if item, ok := r.items.Get(dim); ok && item.ColumnType == models.ColumnTimestamp {
			return dim
		}
	}

	if grain.HasDimension(models.ShiftDayDimension) {
		return models.ShiftDayDimension
	}

	return ""
}
