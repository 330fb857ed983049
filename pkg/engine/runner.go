package engine

import (
	"context"
	"fmt"
	"sort"

	"github.com/ethpandaops/kpt/pkg/aggregation"
	"github.com/ethpandaops/kpt/pkg/cache"
	"github.com/ethpandaops/kpt/pkg/catalog"
	"github.com/ethpandaops/kpt/pkg/dependencies"
	"github.com/ethpandaops/kpt/pkg/frame"
	"github.com/ethpandaops/kpt/pkg/models"
	"github.com/ethpandaops/kpt/pkg/pipeline"
	"github.com/ethpandaops/kpt/pkg/schedule"
	"github.com/ethpandaops/kpt/pkg/source"
	"github.com/sirupsen/logrus"
)

// runner carries one run through loading, the raw level and every grain
type runner struct {
	*Service

	log   logrus.FieldLogger
	rc    *RunContext
	prog  *progress
	tree  *dependencies.Result
	plan  *dependencies.Plan
	cat   *catalog.Catalog
	cache *cache.FrameCache

	generator *pipeline.Generator
}

func (r *runner) run(ctx context.Context, scheduled *schedule.Result, opts RunOptions) error {
	input := r.rc.Input

	r.generator = pipeline.NewGenerator(r.log, pipeline.GeneratorConfig{
		Catalog:      r.cat,
		Items:        r.rc.Items,
		Constants:    input.ConstantValues(),
		Persister:    r.persister(),
		Alerts:       r.deps.Alerts,
		EntityTypeID: input.EntityTypeID,
	})

	raw, err := r.load(ctx, scheduled, opts)
	if err != nil {
		return err
	}

	if err := r.rawLevel(ctx, raw); err != nil {
		return err
	}

	for _, step := range r.plan.Steps {
		if err := r.grain(ctx, step); err != nil {
			return fmt.Errorf("grain %s: %w", step.Grain.Key(), err)
		}
	}

	r.prog.StageStarted(ctx, StageFinalize)

	if err := r.rc.Checkpoints.Flush(ctx, r.rc.Launch); err != nil {
		return err
	}

	if r.cfg.ProductionMode && len(r.plan.Steps) > 0 && r.deps.Metadata != nil {
		if err := r.deps.Metadata.SetPipelineStatus(ctx, opts.Tenant, input.EntityTypeName); err != nil {
			r.log.WithError(err).Warn("Failed to set pipeline status")
		}
	}

	return nil
}

func (r *runner) persister() pipeline.Persister {
	if !r.cfg.ProductionMode || r.deps.ClickHouse == nil {
		return nil
	}

	return source.NewPersister(r.deps.ClickHouse, r.rc.Input.SchemaName, r.rc.Items)
}

// rawNames returns the raw items the queued KPIs depend on
func (r *runner) rawNames(queue []string) []string {
	seen := make(map[string]bool)

	var out []string

	for _, name := range queue {
		for _, dep := range r.tree.Tree.AllDependencies(name) {
			item, ok := r.rc.Items.Get(dep)
			if !ok || !item.IsRaw() || seen[dep] {
				continue
			}

			seen[dep] = true
			out = append(out, dep)
		}
	}

	sort.Strings(out)

	return out
}

func (r *runner) load(ctx context.Context, scheduled *schedule.Result, opts RunOptions) (*frame.Frame, error) {
	names := r.rawNames(scheduled.Queue)

	if len(names) == 0 || r.deps.ClickHouse == nil {
		return emptyRaw()
	}

	reader := source.NewReader(r.log, r.deps.ClickHouse, source.TablesOf(r.rc.Input), r.rc.Items)
	loader := source.NewLoader(r.log, reader, r.rc.Checkpoints, r.cache, r.rc.Items, r.rc.Input.EntityTypeName, r.cfg.ProductionMode)

	load := source.LoadOptions{
		Force:    opts.Force,
		Entities: opts.Entities,
		Start:    opts.Start,
		End:      opts.End,
	}

	if load.Start == nil && scheduled.Backtracking() {
		load.Start = scheduled.Start
	}

	r.rc.Backtrack = r.rc.Backtrack || opts.Start != nil

	r.prog.StageStarted(ctx, StageLoadingRawMetrics)

	loaded, err := loader.Load(ctx, names, r.rc.Launch, load)
	if err != nil {
		return nil, fmt.Errorf("failed to load raw data: %w", err)
	}

	r.rc.IgnoreCache = loaded.IgnoreCache
	r.rc.Checkpoints.Record(loaded.Frame, r.rc.Items.RawMetrics())

	return loaded.Frame, nil
}

func emptyRaw() (*frame.Frame, error) {
	return frame.New([]string{models.EntityIDColumn, models.TimestampColumn},
		frame.NewColumn(models.EntityIDColumn, frame.KindString),
		frame.NewColumn(models.TimestampColumn, frame.KindTime),
	)
}

func (r *runner) rawLevel(ctx context.Context, raw *frame.Frame) error {
	stages := r.generator.Loaders(r.plan.Raw)

	generated, err := r.generator.Generate(r.plan.Raw, nil)
	if err != nil {
		return err
	}

	if len(r.plan.Raw) > 0 {
		stages = append(stages, generated...)
	}

	out, err := pipeline.New(r.log, models.NoGranularity, stages, r.prog).Execute(ctx, raw)
	if err != nil {
		return err
	}

	r.rc.Results[models.NoGranularity] = out

	return nil
}

// grain aggregates every input of step and runs the transformers of the
// grain on the joined result. A missing input leaves the grain incomplete.
func (r *runner) grain(ctx context.Context, step *dependencies.GrainStep) error {
	key := step.Grain.Key()
	log := r.log.WithField("grain", key)

	r.prog.StageStarted(ctx, StageInitializeGrain)

	reloader := aggregation.NewReloader(r.log, r.rc.Items, r.cache, aggregation.ReloadOptions{
		Backtrack:      r.rc.Backtrack,
		IgnoreCache:    r.rc.IgnoreCache,
		ConcatOnly:     r.cfg.ConcatOnly,
		ProductionMode: r.cfg.ProductionMode,
	})

	parts := make([]*frame.Frame, 0, len(step.Inputs))

	for _, in := range step.Inputs {
		src := r.rc.Results[in.DepGrain.Key()]
		if src == nil {
			log.WithField("source", in.DepGrain.Key()).Warn("Source grain is incomplete, skipping grain")
			r.rc.Results[key] = nil

			return nil
		}

		r.prog.StageStarted(ctx, StageReload)

		reloaded, err := reloader.Execute(ctx, src, in.DepGrain, step.Grain)
		if err != nil {
			return err
		}

		stages, err := r.generator.Generate(in.Aggregators, step.Grain)
		if err != nil {
			return err
		}

		label := in.DepGrain.Key() + "->" + key

		out, err := pipeline.New(r.log, label, stages, r.prog).Execute(ctx, reloaded)
		if err != nil {
			return err
		}

		parts = append(parts, out)
	}

	joined, err := frame.Join(parts...)
	if err != nil {
		return err
	}

	if joined != nil && len(step.Transformers) > 0 {
		stages, err := r.generator.Generate(step.Transformers, step.Grain)
		if err != nil {
			return err
		}

		if joined, err = pipeline.New(r.log, key, stages, r.prog).Execute(ctx, joined); err != nil {
			return err
		}
	}

	r.rc.Results[key] = joined

	rows := 0
	if joined != nil {
		rows = joined.NumRows()
	}

	log.WithField("rows", rows).Debug("Grain computed")

	return nil
}
