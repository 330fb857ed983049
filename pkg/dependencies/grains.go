package dependencies

import (
	"sort"

	"github.com/ethpandaops/kpt/pkg/catalog"
	"github.com/ethpandaops/kpt/pkg/models"
	"github.com/sirupsen/logrus"
)

// GrainInput is the set of aggregators fed by one source grain
type GrainInput struct {
	// DepGrain is the grain of the aggregated frame, nil for raw data
	DepGrain    *models.Granularity
	Aggregators []*models.Declaration
}

// GrainStep is everything computed at one destination grain
type GrainStep struct {
	Grain  *models.Granularity
	Inputs []*GrainInput
	// Transformers run on the combined aggregation result
	Transformers []*models.Declaration
	// Ignored are aggregators declared on top of their own grain
	Ignored []*models.Declaration
}

// Plan splits the processing queue into raw-level declarations and an
// ordered list of grain steps
type Plan struct {
	Raw   []*models.Declaration
	Steps []*GrainStep
}

// HasLoader reports whether any raw-level declaration is a loader
func (p *Plan) HasLoader(cat *catalog.Catalog) bool {
	for _, d := range p.Raw {
		if fn, ok := cat.Get(d.FunctionName); ok && fn.IsLoader() {
			return true
		}
	}

	return false
}

// TotalStages estimates the number of stages reported to the run log
func (p *Plan) TotalStages(cat *catalog.Catalog) int {
	// FinalizePipeline, LoadingDimensions, LoadingRawMetrics, WritingUnmatchedEntities
	total := 4

	if len(p.Raw) > 0 {
		total += len(p.Raw) + 2
		if p.HasLoader(cat) {
			total++
		}
	}

	// AggregationReloadUpdate, ProjectColumns, Aggregation, PersistColumns, ProduceAlerts
	for _, step := range p.Steps {
		total += 5 * len(step.Inputs)
		if len(step.Transformers) > 0 {
			total += len(step.Transformers) + 3
		}
	}

	return total
}

// BuildPlan groups the queue by granularity. Aggregators and declarations with a
// granularity belong to the grain of their declaration and are fed by the
// grain of their first derived dependency. Everything else runs on raw data.
func BuildPlan(log logrus.FieldLogger, res *Result, queue []string, cat *catalog.Catalog) (*Plan, error) {
	log = log.WithField("component", "grain_planner")

	plan := &Plan{}
	grains := make(map[string]*models.Granularity)
	configs := make(map[string]map[string][]*models.Declaration)
	depOrder := make(map[string][]string)

	grainTree := models.NewTree()
	if _, err := grainTree.AddNode(models.NoGranularity, nil); err != nil {
		return nil, err
	}

	for _, name := range queue {
		node, ok := res.Tree.Node(name)
		if !ok || node.Declaration == nil {
			continue
		}

		d := node.Declaration

		if !cat.IsAggregator(d.FunctionName) && d.Granularity == nil {
			if len(node.Dependencies) == 0 {
				plan.Raw = append([]*models.Declaration{d}, plan.Raw...)
			} else {
				plan.Raw = append(plan.Raw, d)
			}

			continue
		}

		if d.Granularity == nil {
			log.WithField("kpi", d.Label()).Warn("Aggregator without granularity is ignored")
			continue
		}

		var dep *models.Granularity

		for _, depName := range res.Tree.Dependencies(name) {
			dn, _ := res.Tree.Node(depName)
			if dn.Declaration != nil && dn.Declaration.Granularity != nil {
				dep = dn.Declaration.Granularity
				break
			}
		}

		grainKey, depKey := d.Granularity.Key(), dep.Key()
		grains[grainKey] = d.Granularity
		grains[depKey] = dep

		if _, ok := configs[grainKey]; !ok {
			configs[grainKey] = make(map[string][]*models.Declaration)
		}

		if _, ok := configs[grainKey][depKey]; !ok {
			depOrder[grainKey] = append(depOrder[grainKey], depKey)
		}

		configs[grainKey][depKey] = append(configs[grainKey][depKey], d)

		for _, key := range []string{depKey, grainKey} {
			if _, err := grainTree.AddNode(key, nil); err != nil {
				return nil, err
			}
		}

		if depKey != grainKey {
			if err := grainTree.Link(grainKey, depKey); err != nil {
				return nil, err
			}
		}
	}

	sequence := make([]string, 0, grainTree.Len())
	for _, name := range grainTree.Names() {
		if name != models.NoGranularity {
			sequence = append(sequence, name)
		}
	}

	sort.SliceStable(sequence, func(i, j int) bool {
		return grainTree.Level(sequence[i]) < grainTree.Level(sequence[j])
	})

	for _, grainKey := range sequence {
		step := &GrainStep{Grain: grains[grainKey]}

		for _, depKey := range depOrder[grainKey] {
			input := &GrainInput{DepGrain: grains[depKey]}

			for _, d := range configs[grainKey][depKey] {
				switch {
				case !cat.IsAggregator(d.FunctionName):
					if dependsOnlyOnDimensions(res.Tree, d, step.Grain) {
						step.Transformers = append([]*models.Declaration{d}, step.Transformers...)
					} else {
						step.Transformers = append(step.Transformers, d)
					}
				case depKey == grainKey:
					step.Ignored = append(step.Ignored, d)
				default:
					input.Aggregators = append(input.Aggregators, d)
				}
			}

			if len(input.Aggregators) > 0 {
				step.Inputs = append(step.Inputs, input)
			}
		}

		if len(step.Ignored) > 0 {
			log.WithFields(logrus.Fields{
				"grain": grainKey,
				"kpis":  labels(step.Ignored),
			}).Warn("An aggregation on top of the same aggregation is not supported, ignoring KPIs")
		}

		plan.Steps = append(plan.Steps, step)
	}

	return plan, nil
}

func dependsOnlyOnDimensions(tree *models.Tree, d *models.Declaration, grain *models.Granularity) bool {
	targets := d.Targets()
	if len(targets) == 0 {
		return false
	}

	for _, dep := range tree.Dependencies(targets[0]) {
		if !grain.HasDimension(dep) {
			return false
		}
	}

	return true
}

func labels(decls []*models.Declaration) []string {
	out := make([]string, len(decls))
	for i, d := range decls {
		out[i] = d.Label()
	}

	return out
}
