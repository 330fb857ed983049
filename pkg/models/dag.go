package models

import (
	"fmt"

	"github.com/heimdalr/dag"
)

// Node is one data item in the KPI tree. Relations are stored as arena
// indices in both directions.
type Node struct {
	Name string
	// Declaration produces the item, nil for raw and already persisted items
	Declaration  *Declaration
	Dependencies []int
	Children     []int

	level int
}

// IsLeaf reports whether the node is not produced by a declaration
func (n *Node) IsLeaf() bool {
	return n.Declaration == nil
}

// Tree is an arena of nodes addressed by index or name. Every edge is also
// mirrored into a DAG so loops are refused when they are introduced.
type Tree struct {
	nodes []*Node
	index map[string]int
	graph *dag.DAG
}

// NewTree creates an empty tree
func NewTree() *Tree {
	return &Tree{
		index: make(map[string]int),
		graph: dag.NewDAG(),
	}
}

// Len returns the number of nodes
func (t *Tree) Len() int {
	return len(t.nodes)
}

// AddNode adds a node or, when it exists, attaches decl to it if it has none.
// The node index is returned.
func (t *Tree) AddNode(name string, decl *Declaration) (int, error) {
	if i, ok := t.index[name]; ok {
		if t.nodes[i].Declaration == nil {
			t.nodes[i].Declaration = decl
			t.resetLevels()
		}

		return i, nil
	}

	if err := t.graph.AddVertexByID(name, name); err != nil {
		return 0, fmt.Errorf("failed to add vertex %s: %w", name, err)
	}

	t.index[name] = len(t.nodes)
	t.nodes = append(t.nodes, &Node{Name: name, Declaration: decl, level: -1})

	return len(t.nodes) - 1, nil
}

// Link records that dependent depends on dependency. Both nodes must exist.
func (t *Tree) Link(dependent, dependency string) error {
	di, ok := t.index[dependent]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNodeNotFound, dependent)
	}

	pi, ok := t.index[dependency]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNodeNotFound, dependency)
	}

	for _, existing := range t.nodes[di].Dependencies {
		if existing == pi {
			return nil
		}
	}

	if err := t.graph.AddEdge(dependency, dependent); err != nil {
		return fmt.Errorf("%w: %s -> %s: %w", ErrCyclicDependency, dependency, dependent, err)
	}

	t.nodes[di].Dependencies = append(t.nodes[di].Dependencies, pi)
	t.nodes[pi].Children = append(t.nodes[pi].Children, di)
	t.resetLevels()

	return nil
}

// At returns the node at index i
func (t *Tree) At(i int) *Node {
	return t.nodes[i]
}

// Node returns a node by name
func (t *Tree) Node(name string) (*Node, bool) {
	i, ok := t.index[name]
	if !ok {
		return nil, false
	}

	return t.nodes[i], true
}

// Nodes returns the nodes in insertion order
func (t *Tree) Nodes() []*Node {
	return t.nodes
}

// Names returns the node names in insertion order
func (t *Tree) Names() []string {
	out := make([]string, len(t.nodes))
	for i, n := range t.nodes {
		out[i] = n.Name
	}

	return out
}

// Dependencies returns the direct dependency names of a node
func (t *Tree) Dependencies(name string) []string {
	n, ok := t.Node(name)
	if !ok {
		return nil
	}

	return t.names(n.Dependencies)
}

// Children returns the direct dependent names of a node
func (t *Tree) Children(name string) []string {
	n, ok := t.Node(name)
	if !ok {
		return nil
	}

	return t.names(n.Children)
}

// Level returns the tree level of a node: 0 for leaves without
// dependencies, otherwise one more than the deepest dependency.
func (t *Tree) Level(name string) int {
	i, ok := t.index[name]
	if !ok {
		return -1
	}

	return t.level(i)
}

func (t *Tree) level(i int) int {
	n := t.nodes[i]
	if n.level >= 0 {
		return n.level
	}

	if n.Declaration == nil && len(n.Dependencies) == 0 {
		n.level = 0
		return 0
	}

	deepest := 0
	for _, d := range n.Dependencies {
		if l := t.level(d); l > deepest {
			deepest = l
		}
	}

	n.level = deepest + 1

	return n.level
}

func (t *Tree) resetLevels() {
	for _, n := range t.nodes {
		n.level = -1
	}
}

// AllDependencies returns every transitive dependency in breadth-first order
func (t *Tree) AllDependencies(name string) []string {
	return t.walk(name, func(n *Node) []int { return n.Dependencies })
}

// AllDescendants returns every transitive dependent in breadth-first order
func (t *Tree) AllDescendants(name string) []string {
	return t.walk(name, func(n *Node) []int { return n.Children })
}

func (t *Tree) walk(name string, next func(*Node) []int) []string {
	start, ok := t.index[name]
	if !ok {
		return nil
	}

	seen := map[int]bool{start: true}
	queue := []int{start}

	var out []int

	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]

		for _, n := range next(t.nodes[cur]) {
			if seen[n] {
				continue
			}

			seen[n] = true
			out = append(out, n)
			queue = append(queue, n)
		}
	}

	return t.names(out)
}

// Without returns a copy of the tree without the named nodes and everything
// that transitively depends on them. The removed names are returned too.
func (t *Tree) Without(names []string) (*Tree, []string, error) {
	drop := make(map[string]bool)

	for _, name := range names {
		if _, ok := t.index[name]; !ok {
			continue
		}

		drop[name] = true

		descendants, err := t.graph.GetDescendants(name)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to get descendants of %s: %w", name, err)
		}

		for id := range descendants {
			drop[id] = true
		}
	}

	out := NewTree()
	removed := make([]string, 0, len(drop))

	for _, n := range t.nodes {
		if drop[n.Name] {
			removed = append(removed, n.Name)
			continue
		}

		if _, err := out.AddNode(n.Name, n.Declaration); err != nil {
			return nil, nil, err
		}
	}

	for _, n := range t.nodes {
		if drop[n.Name] {
			continue
		}

		for _, d := range n.Dependencies {
			if err := out.Link(n.Name, t.nodes[d].Name); err != nil {
				return nil, nil, err
			}
		}
	}

	return out, removed, nil
}

func (t *Tree) names(indices []int) []string {
	out := make([]string, len(indices))
	for i, idx := range indices {
		out[i] = t.nodes[idx].Name
	}

	return out
}
