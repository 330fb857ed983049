package dependencies

import (
	"fmt"
	"sort"
	"strings"
)

// TreeInfo contains KPI tree visualization information
type TreeInfo struct {
	Levels     map[int][]string
	MaxLevel   int
	RootNodes  []string
	Sidecars   []string
	Front      []string
	TotalNodes int
	Dependents map[string][]string
}

// GetTreeInfo returns the tree grouped by level
func GetTreeInfo(res *Result) *TreeInfo {
	info := &TreeInfo{
		Levels:     make(map[int][]string),
		Dependents: make(map[string][]string),
		Front:      append([]string(nil), res.Front...),
		TotalNodes: res.Tree.Len(),
	}

	for _, n := range res.Tree.Nodes() {
		level := res.Tree.Level(n.Name)
		info.Levels[level] = append(info.Levels[level], n.Name)
		info.MaxLevel = max(info.MaxLevel, level)

		if n.IsLeaf() {
			info.RootNodes = append(info.RootNodes, n.Name)
		}

		children := res.Tree.Children(n.Name)
		sort.Strings(children)
		info.Dependents[n.Name] = children
	}

	for level := range info.Levels {
		sort.Strings(info.Levels[level])
	}

	for name := range res.Sidecars {
		info.Sidecars = append(info.Sidecars, name)
	}

	sort.Strings(info.RootNodes)
	sort.Strings(info.Sidecars)

	return info
}

// GenerateDOTFormat generates a DOT format representation of the tree
func GenerateDOTFormat(res *Result) string {
	var sb strings.Builder
	sb.WriteString("digraph kpis {\n")
	sb.WriteString("  rankdir=LR;\n")

	for _, n := range res.Tree.Nodes() {
		switch {
		case n.IsLeaf():
			fmt.Fprintf(&sb, "  \"%s\" [shape=box, style=filled, fillcolor=lightblue];\n", n.Name)
		case res.Sidecars[n.Name]:
			fmt.Fprintf(&sb, "  \"%s\" [style=dashed, label=\"%s\\n%s\"];\n", n.Name, n.Name, n.Declaration.FunctionName)
		default:
			fmt.Fprintf(&sb, "  \"%s\" [label=\"%s\\n%s\"];\n", n.Name, n.Name, n.Declaration.FunctionName)
		}

		for _, dep := range res.Tree.Dependencies(n.Name) {
			fmt.Fprintf(&sb, "  \"%s\" -> \"%s\";\n", dep, n.Name)
		}
	}

	sb.WriteString("}")

	return sb.String()
}
