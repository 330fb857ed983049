package pipeline

import (
	"errors"
	"fmt"

	"github.com/ethpandaops/kpt/pkg/aggregation"
	"github.com/ethpandaops/kpt/pkg/catalog"
	"github.com/ethpandaops/kpt/pkg/models"
	"github.com/sirupsen/logrus"
)

// ErrAggregatorWithoutGranularity is returned when aggregators are generated for the raw level
var ErrAggregatorWithoutGranularity = errors.New("aggregators require a granularity")

// Generator builds pipeline stages for one entity type
type Generator struct {
	log          logrus.FieldLogger
	catalog      *catalog.Catalog
	items        *models.DataItems
	constants    map[string]any
	persister    Persister
	alerts       AlertSink
	entityTypeID int
}

// GeneratorConfig holds the dependencies of a Generator
type GeneratorConfig struct {
	Catalog      *catalog.Catalog
	Items        *models.DataItems
	Constants    map[string]any
	Persister    Persister
	Alerts       AlertSink
	EntityTypeID int
}

// NewGenerator creates a stage generator
func NewGenerator(log logrus.FieldLogger, cfg GeneratorConfig) *Generator {
	return &Generator{
		log:          log.WithField("component", "pipeline_generator"),
		catalog:      cfg.Catalog,
		items:        cfg.Items,
		constants:    cfg.Constants,
		persister:    cfg.Persister,
		alerts:       cfg.Alerts,
		entityTypeID: cfg.EntityTypeID,
	}
}

// Generate returns the stages computing decls at grain, nil grain meaning raw
// data. Loaders are skipped. Transformers become one stage each in
// declaration order. Aggregators are combined into one projection and one
// aggregation stage placed first. Persistence and alerting close every
// pipeline.
func (g *Generator) Generate(decls []*models.Declaration, grain *models.Granularity) ([]Stage, error) {
	var (
		stages  []Stage
		outputs []string
		sources []string
	)

	var agg *aggregation.Aggregation

	order, grouped := g.groupAggregators(decls)

	for _, d := range decls {
		fn, ok := g.catalog.Get(d.FunctionName)
		if !ok || fn.IsLoader() || fn.IsAggregator() {
			continue
		}

		stage, err := g.transformer(fn, d)
		if err != nil {
			return nil, err
		}

		stages = append(stages, stage)

		for _, t := range d.Targets() {
			outputs = appendUnique(outputs, t)
		}
	}

	for _, name := range order {
		fn, _ := g.catalog.Get(name)

		for _, d := range grouped[name] {
			if grain == nil {
				return nil, fmt.Errorf("%w: %s", ErrAggregatorWithoutGranularity, d.Label())
			}

			if agg == nil {
				var err error
				if agg, err = aggregation.New(g.log, g.items, grain); err != nil {
					return nil, err
				}
			}

			if err := g.addAggregator(agg, fn, d); err != nil {
				return nil, err
			}

			for _, s := range fn.Sources(d) {
				sources = appendUnique(sources, s)
			}
		}
	}

	if agg != nil {
		projected := append([]string(nil), sources...)
		projected = appendUnique(projected, models.TimestampColumn)

		for _, dim := range grain.Dimensions {
			projected = appendUnique(projected, dim)
		}

		stages = append([]Stage{&ProjectColumns{Columns: projected}, agg}, stages...)

		for _, o := range agg.Outputs() {
			outputs = appendUnique(outputs, o)
		}
	}

	stages = append(stages,
		&PersistColumns{
			log:       g.log.WithField("stage", "persist"),
			persister: g.persister,
			items:     g.items,
			grain:     grain,
			Columns:   outputs,
		},
		&ProduceAlerts{
			log:          g.log.WithField("stage", "alerts"),
			sink:         g.alerts,
			items:        g.items,
			entityTypeID: g.entityTypeID,
			Columns:      outputs,
		},
	)

	return stages, nil
}

// Loaders returns one stage per loader declaration. Declarations whose
// loader cannot be built are logged and skipped.
func (g *Generator) Loaders(decls []*models.Declaration) []Stage {
	var stages []Stage

	for _, d := range decls {
		fn, ok := g.catalog.Get(d.FunctionName)
		if !ok || !fn.IsLoader() {
			continue
		}

		stage, err := g.transformer(fn, d)
		if err != nil {
			g.log.WithError(err).WithField("kpi", d.Label()).Warn("Failed to initialize loader")
			continue
		}

		stages = append(stages, stage)
	}

	return stages
}

func (g *Generator) transformer(fn catalog.Function, d *models.Declaration) (*TransformerStage, error) {
	if fn.Entry.NewTransformer == nil {
		return nil, fmt.Errorf("%w: %s has no transformer constructor", catalog.ErrWrongKind, fn.Name)
	}

	tr, err := fn.Entry.NewTransformer(g.catalog.Params(d, g.constants))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize function %s for %s: %w", fn.Name, d.Label(), err)
	}

	return &TransformerStage{
		KPI:         d.Label(),
		Function:    fn.Name,
		Outputs:     d.Targets(),
		Transformer: tr,
	}, nil
}

// groupAggregators groups aggregator declarations by function, keeping the
// order in which functions first appear
func (g *Generator) groupAggregators(decls []*models.Declaration) ([]string, map[string][]*models.Declaration) {
	var order []string

	grouped := make(map[string][]*models.Declaration)

	for _, d := range decls {
		if !g.catalog.IsAggregator(d.FunctionName) {
			continue
		}

		if _, ok := grouped[d.FunctionName]; !ok {
			order = append(order, d.FunctionName)
		}

		grouped[d.FunctionName] = append(grouped[d.FunctionName], d)
	}

	return order, grouped
}

func (g *Generator) addAggregator(agg *aggregation.Aggregation, fn catalog.Function, d *models.Declaration) error {
	params := g.catalog.Params(d, g.constants)

	switch fn.Entry.Aggregation {
	case catalog.AggregationSimple:
		if fn.Entry.NewSimple == nil {
			return fmt.Errorf("%w: %s is not a simple aggregator", catalog.ErrWrongKind, fn.Name)
		}

		sources := params.Strings(catalog.SourceParam)
		if len(sources) == 0 {
			return fmt.Errorf("%w: %s of %s", catalog.ErrInvalidParams, catalog.SourceParam, d.Label())
		}

		names := params.Strings(catalog.NameParam)

		for i, src := range sources {
			out := src
			if i < len(names) {
				out = names[i]
			}

			agg.Simple = append(agg.Simple, aggregation.SimpleAggregator{
				Source:  src,
				Reducer: fn.Entry.NewSimple(),
				Output:  out,
			})
		}
	case catalog.AggregationComplex:
		if fn.Entry.NewComplex == nil {
			return fmt.Errorf("%w: %s is not a complex aggregator", catalog.ErrWrongKind, fn.Name)
		}

		r, err := fn.Entry.NewComplex(params)
		if err != nil {
			return fmt.Errorf("failed to initialize aggregator %s for %s: %w", fn.Name, d.Label(), err)
		}

		agg.Complex = append(agg.Complex, aggregation.ComplexAggregator{Reducer: r, Outputs: d.Targets()})
	case catalog.AggregationDirect:
		if fn.Entry.NewDirect == nil {
			return fmt.Errorf("%w: %s is not a direct aggregator", catalog.ErrWrongKind, fn.Name)
		}

		a, err := fn.Entry.NewDirect(params)
		if err != nil {
			return fmt.Errorf("failed to initialize aggregator %s for %s: %w", fn.Name, d.Label(), err)
		}

		agg.Direct = append(agg.Direct, aggregation.DirectAggregator{Aggregator: a, Outputs: d.Targets()})
	}

	return nil
}

// Outputs returns the columns the stages persist
func Outputs(stages []Stage) []string {
	for _, s := range stages {
		if p, ok := s.(*PersistColumns); ok {
			return append([]string(nil), p.Columns...)
		}
	}

	return nil
}

func appendUnique(list []string, name string) []string {
	for _, n := range list {
		if n == name {
			return list
		}
	}

	return append(list, name)
}
