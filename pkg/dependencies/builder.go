// Package dependencies builds the KPI dependency tree of an entity type and
// derives the order in which KPIs and aggregation grains are processed.
package dependencies

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/ethpandaops/kpt/pkg/catalog"
	"github.com/ethpandaops/kpt/pkg/models"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

var (
	// ErrCyclicDeclaration is returned when a declaration consumes one of its own outputs
	ErrCyclicDeclaration = errors.New("incorrect cyclic definition of KPI function")
	// ErrMissingSource is returned when a declaration input is neither raw, derived nor produced
	ErrMissingSource = errors.New("KPI input data item is not defined")
)

// Result is a validated dependency tree
type Result struct {
	Tree *models.Tree
	// Sidecars are secondary outputs computed together with their primary output
	Sidecars map[string]bool
	// Front holds declarations without inputs and outputs, always processed first
	Front []string
}

// Builder turns declarations into a dependency tree
type Builder struct {
	log     logrus.FieldLogger
	catalog *catalog.Catalog
	items   *models.DataItems
}

// NewBuilder creates a builder for an entity type
func NewBuilder(log logrus.FieldLogger, cat *catalog.Catalog, items *models.DataItems) *Builder {
	return &Builder{
		log:     log.WithField("component", "dependencies"),
		catalog: cat,
		items:   items,
	}
}

type parsed struct {
	decl    *models.Declaration
	targets []string
	sources []string
}

// Build parses declarations into a tree. Cyclic self references and missing
// inputs are configuration errors; declarations whose function is unknown are
// pruned together with everything depending on them.
func (b *Builder) Build(decls []*models.Declaration) (*Result, error) {
	produced := make(map[string]bool)
	for _, d := range decls {
		for _, t := range d.Targets() {
			produced[t] = true
		}
	}

	all := make([]parsed, 0, len(decls))

	for _, d := range decls {
		p := parsed{decl: d, targets: d.Targets(), sources: b.sources(d, produced)}

		if overlap := intersect(p.targets, p.sources); len(overlap) > 0 {
			return nil, fmt.Errorf("%w: the KPI function that calculates %s must not require %s as input",
				ErrCyclicDeclaration, strings.Join(p.targets, ", "), strings.Join(overlap, ", "))
		}

		if d.Granularity != nil {
			for _, dim := range d.Granularity.Dimensions {
				p.sources = appendUnique(p.sources, dim)
			}
		}

		var missing []string
		for _, s := range p.sources {
			if _, known := b.items.Get(s); !known && !produced[s] {
				missing = append(missing, s)
			}
		}

		if len(missing) > 0 {
			sort.Strings(missing)

			return nil, fmt.Errorf("%w: the KPI function which calculates %v requires %v, which is neither a raw metric, a derived metric nor a dimension",
				ErrMissingSource, p.targets, missing)
		}

		all = append(all, p)
	}

	res := &Result{Tree: models.NewTree(), Sidecars: make(map[string]bool)}

	if err := b.addNodes(res, all); err != nil {
		return nil, err
	}

	b.inferGranularity(res.Tree)

	if err := b.prune(res); err != nil {
		return nil, err
	}

	return res, nil
}

func (b *Builder) sources(d *models.Declaration, produced map[string]bool) []string {
	if fn, ok := b.catalog.Get(d.FunctionName); ok {
		return fn.Sources(d)
	}

	// Without metadata every input value naming a data item counts.
	keys := make([]string, 0, len(d.Input))
	for k := range d.Input {
		keys = append(keys, k)
	}

	sort.Strings(keys)

	var out []string
	for _, name := range d.InputItems(keys) {
		if _, known := b.items.Get(name); known || produced[name] {
			out = appendUnique(out, name)
		}
	}

	for _, s := range d.Scope.Sources() {
		out = appendUnique(out, s)
	}

	return out
}

func (b *Builder) addNodes(res *Result, all []parsed) error {
	tree := res.Tree

	for _, p := range all {
		for idx, target := range p.targets {
			if n, ok := tree.Node(target); ok && n.Declaration != nil {
				b.log.WithFields(logrus.Fields{
					"data_item": target,
					"kpi":       p.decl.Label(),
				}).Warn("Data item is produced by more than one KPI, keeping the first")

				continue
			}

			if _, err := tree.AddNode(target, p.decl); err != nil {
				return err
			}

			if idx > 0 {
				res.Sidecars[target] = true
			}
		}

		if len(p.targets) == 0 {
			name := fmt.Sprintf("%s_%s", p.decl.FunctionName, uuid.New().String()[:8])
			if _, err := tree.AddNode(name, p.decl); err != nil {
				return err
			}

			p.targets = []string{name}

			if len(p.sources) == 0 {
				res.Front = append(res.Front, name)
			}
		}

		for _, s := range p.sources {
			if _, err := tree.AddNode(s, nil); err != nil {
				return err
			}
		}

		for _, target := range p.targets {
			n, _ := tree.Node(target)
			if n.Declaration != p.decl {
				continue
			}

			for _, s := range p.sources {
				if err := tree.Link(target, s); err != nil {
					return err
				}
			}
		}
	}

	return nil
}

// inferGranularity copies the granularity of the nearest dependency onto
// transformers declared without one
func (b *Builder) inferGranularity(tree *models.Tree) {
	nodes := append([]*models.Node(nil), tree.Nodes()...)
	sort.SliceStable(nodes, func(i, j int) bool {
		return tree.Level(nodes[i].Name) < tree.Level(nodes[j].Name)
	})

	for _, n := range nodes {
		d := n.Declaration
		if d == nil || d.Granularity != nil || b.catalog.IsAggregator(d.FunctionName) {
			continue
		}

		derivedInput := false

		for _, dep := range tree.AllDependencies(n.Name) {
			dn, _ := tree.Node(dep)
			if dn.Declaration == nil {
				continue
			}

			derivedInput = true

			if dn.Declaration.Granularity != nil {
				d.Granularity = dn.Declaration.Granularity
				b.log.WithFields(logrus.Fields{
					"data_item":   n.Name,
					"granularity": d.Granularity.Name,
				}).Debug("Inherited granularity from dependency")

				break
			}
		}

		if d.Granularity == nil && derivedInput {
			b.log.WithField("data_item", n.Name).Warn("Found transformer without granularity")
		}
	}
}

// prune removes nodes whose function is unknown along with their descendants
func (b *Builder) prune(res *Result) error {
	var unknown []string
	for _, n := range res.Tree.Nodes() {
		if n.Declaration != nil && !b.catalog.Has(n.Declaration.FunctionName) {
			unknown = append(unknown, n.Name)
		}
	}

	if len(unknown) == 0 {
		return nil
	}

	tree, removed, err := res.Tree.Without(unknown)
	if err != nil {
		return err
	}

	b.log.WithField("removed", removed).Warn("Removed KPIs using unknown functions and everything depending on them")

	gone := make(map[string]bool, len(removed))
	for _, r := range removed {
		gone[r] = true
		delete(res.Sidecars, r)
	}

	front := res.Front[:0]
	for _, f := range res.Front {
		if !gone[f] {
			front = append(front, f)
		}
	}

	res.Tree, res.Front = tree, front

	return nil
}

// ProcessingQueue orders the tree for execution: front declarations first,
// then primary outputs by ascending level. Leaves and sidecars are excluded.
func ProcessingQueue(res *Result) []string {
	queue := append([]string(nil), res.Front...)

	front := make(map[string]bool, len(res.Front))
	for _, f := range res.Front {
		front[f] = true
	}

	leveled := make(map[int][]string)
	maxLevel := 0

	for _, n := range res.Tree.Nodes() {
		if n.IsLeaf() || res.Sidecars[n.Name] || front[n.Name] {
			continue
		}

		l := res.Tree.Level(n.Name)
		leveled[l] = append(leveled[l], n.Name)
		maxLevel = max(maxLevel, l)
	}

	for l := 1; l <= maxLevel; l++ {
		queue = append(queue, leveled[l]...)
	}

	return queue
}

func intersect(a, b []string) []string {
	set := make(map[string]bool, len(b))
	for _, s := range b {
		set[s] = true
	}

	var out []string
	for _, s := range a {
		if set[s] {
			out = append(out, s)
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
