package graph

import (
	"context"
	"errors"

	"github.com/efebarandurmaz/metagraph/internal/depgraph"
)

// ErrNoGraph is returned by queries against a repository that holds no graph.
var ErrNoGraph = errors.New("no dependency graph stored")

// Snapshot is a built dependency graph together with its module records.
type Snapshot struct {
	EntryPath string
	Graph     depgraph.DependencyGraph
	Modules   depgraph.ModuleTable
}

// NewSnapshot captures the graph and modules of a build result.
func NewSnapshot(r *depgraph.Result) *Snapshot {
	return &Snapshot{
		EntryPath: r.IDs.EntryPath(),
		Graph:     r.Graph,
		Modules:   r.Modules,
	}
}

// Repository provides persistent storage for a dependency graph.
type Repository interface {
	// StoreGraph replaces the stored graph with snap.
	StoreGraph(ctx context.Context, snap *Snapshot) error
	// LoadGraph retrieves the stored graph.
	LoadGraph(ctx context.Context) (*Snapshot, error)
	// QueryDependents returns the paths of modules that import path directly.
	QueryDependents(ctx context.Context, path string) ([]string, error)
	// QueryAncestors returns path and every module that transitively imports
	// it, ordered by module id.
	QueryAncestors(ctx context.Context, path string) ([]string, error)
	// Close releases resources.
	Close(ctx context.Context) error
}
