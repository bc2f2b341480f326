package depgraph

import (
	"errors"
	"fmt"
)

// ErrUnknownModule is returned when an id or path has no entry in the graph.
var ErrUnknownModule = errors.New("unknown module")

// Ancestors returns id followed by every module that transitively imports it,
// in depth-first discovery order.
//
// A module already in the result is never visited again, no matter which
// chain leads to it, so each ancestor appears once and the walk terminates on
// cyclic graphs. Modules with no importers end a chain.
func Ancestors(g DependencyGraph, id ModuleID) ([]ModuleID, error) {
	start, ok := g[id]
	if !ok {
		return nil, fmt.Errorf("%w: id %d", ErrUnknownModule, id)
	}

	type frame struct {
		parents []ModuleID
		next    int
	}

	result := []ModuleID{id}
	seen := NewIDSet(id)
	stack := []frame{{parents: start.InverseDependencies.ids}}

	for len(stack) > 0 {
		top := &stack[len(stack)-1]
		if top.next >= len(top.parents) {
			stack = stack[:len(stack)-1]
			continue
		}
		parent := top.parents[top.next]
		top.next++

		if !seen.Add(parent) {
			continue
		}
		result = append(result, parent)

		v, ok := g[parent]
		if !ok || v.InverseDependencies.Len() == 0 {
			continue
		}
		stack = append(stack, frame{parents: v.InverseDependencies.ids})
	}

	return result, nil
}
