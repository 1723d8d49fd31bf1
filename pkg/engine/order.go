package engine

import (
	"fmt"
	"sort"
	"strings"

	"github.com/openfroyo/daqconf/pkg/dal"
)

// Graph is a dependency graph between resolved applications, grouped into
// levels. Applications of one level only depend on applications of lower
// levels and can be handled together.
type Graph struct {
	Nodes  map[string]*Node
	Levels [][]string
}

// Node is one application of a Graph.
type Node struct {
	ID    string
	Level int

	// DependsOn lists the applications handled before this one.
	DependsOn []string

	// Dependents lists the applications waiting for this one.
	Dependents []string
}

// Depth returns the number of levels.
func (g *Graph) Depth() int { return len(g.Levels) }

// buildGraph computes the levels of ids where deps[id] lists what id
// depends on. Unknown dependencies are ignored.
func buildGraph(ids []string, deps map[string][]string) (*Graph, error) {
	g := &Graph{Nodes: make(map[string]*Node, len(ids))}
	for _, id := range ids {
		g.Nodes[id] = &Node{ID: id, Level: -1}
	}

	inDegree := make(map[string]int, len(ids))
	for _, id := range ids {
		seen := make(map[string]struct{})
		for _, d := range deps[id] {
			target, ok := g.Nodes[d]
			if !ok {
				continue
			}
			if _, dup := seen[d]; dup {
				continue
			}
			seen[d] = struct{}{}
			g.Nodes[id].DependsOn = append(g.Nodes[id].DependsOn, d)
			target.Dependents = append(target.Dependents, id)
			inDegree[id]++
		}
	}

	if cycle := findCycle(g, ids); cycle != nil {
		return nil, dal.NewBadConfigurationError(
			fmt.Sprintf("circular application dependency: %s", strings.Join(cycle, " -> ")), nil).
			WithCode(dal.ErrCodeCircularDependency).
			WithChain(cycle)
	}

	var current []string
	for _, id := range ids {
		if inDegree[id] == 0 {
			current = append(current, id)
		}
	}
	for len(current) > 0 {
		sort.Strings(current)
		level := len(g.Levels)
		g.Levels = append(g.Levels, current)

		var next []string
		for _, id := range current {
			g.Nodes[id].Level = level
			for _, dependent := range g.Nodes[id].Dependents {
				inDegree[dependent]--
				if inDegree[dependent] == 0 {
					next = append(next, dependent)
				}
			}
		}
		current = next
	}
	return g, nil
}

// findCycle returns one dependency cycle, first node repeated at the end,
// or nil.
func findCycle(g *Graph, ids []string) []string {
	const (
		unvisited = iota
		active
		done
	)
	state := make(map[string]int, len(ids))
	var stack []string

	var visit func(id string) []string
	visit = func(id string) []string {
		state[id] = active
		stack = append(stack, id)
		for _, d := range g.Nodes[id].DependsOn {
			switch state[d] {
			case active:
				for i, s := range stack {
					if s == d {
						return append(append([]string(nil), stack[i:]...), d)
					}
				}
			case unvisited:
				if c := visit(d); c != nil {
					return c
				}
			}
		}
		stack = stack[:len(stack)-1]
		state[id] = done
		return nil
	}

	for _, id := range ids {
		if state[id] == unvisited {
			if c := visit(id); c != nil {
				return c
			}
		}
	}
	return nil
}

// DOT renders the graph in Graphviz format, one cluster per level.
func (g *Graph) DOT() string {
	var sb strings.Builder

	sb.WriteString("digraph Applications {\n")
	sb.WriteString("  rankdir=TB;\n")
	sb.WriteString("  node [shape=box, style=rounded];\n\n")

	for level, ids := range g.Levels {
		fmt.Fprintf(&sb, "  subgraph cluster_level_%d {\n", level)
		fmt.Fprintf(&sb, "    label=\"Level %d\";\n", level)
		sb.WriteString("    style=dashed;\n")
		for _, id := range ids {
			fmt.Fprintf(&sb, "    %q;\n", id)
		}
		sb.WriteString("  }\n\n")
	}

	for _, ids := range g.Levels {
		for _, id := range ids {
			for _, d := range g.Nodes[id].DependsOn {
				fmt.Fprintf(&sb, "  %q -> %q;\n", d, id)
			}
		}
	}

	sb.WriteString("}\n")
	return sb.String()
}
