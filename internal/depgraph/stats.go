package depgraph

import (
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"
)

// Stats holds computed metrics about a dependency graph
type Stats struct {
	TotalModules        int        `json:"total_modules" yaml:"total_modules"`
	TotalEdges          int        `json:"total_edges" yaml:"total_edges"`
	TotalBytes          int64      `json:"total_bytes" yaml:"total_bytes"`
	Roots               int        `json:"roots" yaml:"roots"`   // modules nothing imports
	Leaves              int        `json:"leaves" yaml:"leaves"` // modules importing nothing
	MaxFanOut           int        `json:"max_fan_out" yaml:"max_fan_out"`
	MaxFanIn            int        `json:"max_fan_in" yaml:"max_fan_in"`
	HotspotModule       string     `json:"hotspot_module" yaml:"hotspot_module"`             // most outgoing edges
	MostImportedModule  string     `json:"most_imported_module" yaml:"most_imported_module"` // most incoming edges
	ConnectedComponents int        `json:"connected_components" yaml:"connected_components"`
	Cycles              [][]string `json:"cycles,omitempty" yaml:"cycles,omitempty"`
}

// ComputeStats derives Stats from a built graph. Ties are broken by the lower id
// so the result is stable for a given input.
func ComputeStats(g DependencyGraph, modules ModuleTable) Stats {
	var st Stats
	ids := g.IDs()
	st.TotalModules = len(ids)

	hotspot, mostImported := ModuleID(-1), ModuleID(-1)
	for _, id := range ids {
		v := g[id]
		out, in := v.Dependencies.Len(), v.InverseDependencies.Len()
		st.TotalEdges += out
		st.TotalBytes += modules[id].Bytes
		if in == 0 {
			st.Roots++
		}
		if out == 0 {
			st.Leaves++
		}
		if out > st.MaxFanOut {
			st.MaxFanOut = out
			hotspot = id
		}
		if in > st.MaxFanIn {
			st.MaxFanIn = in
			mostImported = id
		}
	}
	if hotspot >= 0 {
		st.HotspotModule = modules[hotspot].Path
	}
	if mostImported >= 0 {
		st.MostImportedModule = modules[mostImported].Path
	}

	st.ConnectedComponents = countComponents(g, ids)
	for _, cycle := range findCycles(g, ids) {
		paths := make([]string, len(cycle))
		for i, id := range cycle {
			paths[i] = modules[id].Path
		}
		st.Cycles = append(st.Cycles, paths)
	}
	return st
}

// countComponents counts weakly connected components via union-find
func countComponents(g DependencyGraph, ids []ModuleID) int {
	parent := make(map[ModuleID]ModuleID, len(ids))
	var find func(ModuleID) ModuleID
	find = func(x ModuleID) ModuleID {
		p, ok := parent[x]
		if !ok {
			parent[x] = x
			return x
		}
		if p != x {
			parent[x] = find(p)
		}
		return parent[x]
	}
	union := func(a, b ModuleID) {
		fa, fb := find(a), find(b)
		if fa != fb {
			parent[fa] = fb
		}
	}

	for _, id := range ids {
		find(id)
	}
	for _, id := range ids {
		for _, dep := range g[id].Dependencies.ids {
			union(id, dep)
		}
	}

	roots := make(map[ModuleID]bool)
	for _, id := range ids {
		roots[find(id)] = true
	}
	return len(roots)
}

// findCycles lists the back-edge cycles met by a depth-first walk over
// dependencies. Cycles are reported for information only; they never stop
// graph construction or traversal.
func findCycles(g DependencyGraph, ids []ModuleID) [][]ModuleID {
	const (
		unvisited = iota
		inProgress
		done
	)
	state := make(map[ModuleID]int, len(ids))

	type frame struct {
		id   ModuleID
		next int
	}

	var cycles [][]ModuleID
	for _, root := range ids {
		if state[root] != unvisited {
			continue
		}
		state[root] = inProgress
		path := []ModuleID{root}
		stack := []frame{{id: root}}

		for len(stack) > 0 {
			top := &stack[len(stack)-1]
			deps := g[top.id].Dependencies.ids
			if top.next >= len(deps) {
				state[top.id] = done
				stack = stack[:len(stack)-1]
				path = path[:len(path)-1]
				continue
			}
			next := deps[top.next]
			top.next++

			switch state[next] {
			case inProgress:
				// Found a cycle - extract it from the current path
				start := len(path) - 1
				for start > 0 && path[start] != next {
					start--
				}
				cycle := make([]ModuleID, len(path)-start)
				copy(cycle, path[start:])
				cycles = append(cycles, cycle)
			case unvisited:
				if _, ok := g[next]; !ok {
					continue
				}
				state[next] = inProgress
				path = append(path, next)
				stack = append(stack, frame{id: next})
			}
		}
	}
	return cycles
}

// FormatStats returns a human-readable summary of graph statistics.
func FormatStats(st Stats) string {
	var b strings.Builder
	b.WriteString("Dependency Graph Statistics\n")
	b.WriteString("==========================\n\n")
	b.WriteString(fmt.Sprintf("Modules:     %d (%s)\n", st.TotalModules, humanize.Bytes(uint64(st.TotalBytes))))
	b.WriteString(fmt.Sprintf("Edges:       %d\n", st.TotalEdges))
	b.WriteString(fmt.Sprintf("Roots:       %d\n", st.Roots))
	b.WriteString(fmt.Sprintf("Leaves:      %d\n", st.Leaves))
	b.WriteString(fmt.Sprintf("Max Fan-Out: %d (%s)\n", st.MaxFanOut, st.HotspotModule))
	b.WriteString(fmt.Sprintf("Max Fan-In:  %d (%s)\n", st.MaxFanIn, st.MostImportedModule))
	b.WriteString(fmt.Sprintf("Components:  %d\n", st.ConnectedComponents))

	if len(st.Cycles) > 0 {
		b.WriteString(fmt.Sprintf("\nImport Cycles: %d\n", len(st.Cycles)))
		for i, cycle := range st.Cycles {
			b.WriteString(fmt.Sprintf("  %d: %s -> %s\n", i+1, strings.Join(cycle, " -> "), cycle[0]))
		}
	}

	return b.String()
}
