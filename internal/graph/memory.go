package graph

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/efebarandurmaz/metagraph/internal/depgraph"
)

// MemoryRepository keeps a single snapshot in process. It backs the CLI when
// no Neo4j URI is configured and serves as the reference for the Neo4j query
// semantics.
type MemoryRepository struct {
	mu    sync.RWMutex
	snap  *Snapshot
	index map[string]depgraph.ModuleID
}

// NewMemory creates an empty in-memory repository.
func NewMemory() *MemoryRepository {
	return &MemoryRepository{}
}

func (r *MemoryRepository) StoreGraph(_ context.Context, snap *Snapshot) error {
	if snap == nil {
		return fmt.Errorf("store graph: %w", ErrNoGraph)
	}
	index := make(map[string]depgraph.ModuleID, len(snap.Modules))
	for id, m := range snap.Modules {
		index[m.Path] = id
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.snap = snap
	r.index = index
	return nil
}

func (r *MemoryRepository) LoadGraph(_ context.Context) (*Snapshot, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.snap == nil {
		return nil, ErrNoGraph
	}
	return r.snap, nil
}

func (r *MemoryRepository) lookup(path string) (*Snapshot, depgraph.ModuleID, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.snap == nil {
		return nil, 0, ErrNoGraph
	}
	id, ok := r.index[path]
	if !ok {
		return nil, 0, fmt.Errorf("%w: %s", depgraph.ErrUnknownModule, path)
	}
	return r.snap, id, nil
}

func (r *MemoryRepository) QueryDependents(_ context.Context, path string) ([]string, error) {
	snap, id, err := r.lookup(path)
	if err != nil {
		return nil, err
	}
	var paths []string
	for _, parent := range snap.Graph[id].InverseDependencies.IDs() {
		paths = append(paths, snap.Modules[parent].Path)
	}
	return paths, nil
}

func (r *MemoryRepository) QueryAncestors(_ context.Context, path string) ([]string, error) {
	snap, id, err := r.lookup(path)
	if err != nil {
		return nil, err
	}
	ids, err := depgraph.Ancestors(snap.Graph, id)
	if err != nil {
		return nil, err
	}
	slices.Sort(ids)
	paths := make([]string, len(ids))
	for i, a := range ids {
		paths[i] = snap.Modules[a].Path
	}
	return paths, nil
}

func (r *MemoryRepository) Close(_ context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.snap = nil
	r.index = nil
	return nil
}

var _ Repository = (*MemoryRepository)(nil)
