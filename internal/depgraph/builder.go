package depgraph

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/efebarandurmaz/metagraph/internal/metafile"
)

// ErrNilMetafile is returned when Build is handed no metafile.
var ErrNilMetafile = errors.New("metafile is nil")

// Result is the output of a single graph construction.
type Result struct {
	Graph   DependencyGraph
	Modules ModuleTable
	IDs     *Allocator
	Report  BuildReport
}

// BuildReport counts what happened while building.
type BuildReport struct {
	Modules        int `json:"modules"`
	Edges          int `json:"edges"`
	IgnoredEdges   int `json:"ignored_edges"`  // import kinds outside the graph set
	DanglingEdges  int `json:"dangling_edges"` // targets missing from the metafile
	SkippedModules int `json:"skipped_modules"`
}

// Option configures a Builder or Session.
type Option func(*Builder)

// WithLogger sets the logger used for build warnings.
func WithLogger(l *slog.Logger) Option {
	return func(b *Builder) {
		if l != nil {
			b.logger = l
		}
	}
}

// WithKinds replaces the set of import kinds that produce edges.
func WithKinds(kinds ...ImportKind) Option {
	return func(b *Builder) {
		b.kinds = make(map[ImportKind]bool, len(kinds))
		for _, k := range kinds {
			b.kinds[k] = true
		}
	}
}

// Builder turns a metafile into a dependency graph.
type Builder struct {
	logger *slog.Logger
	kinds  map[ImportKind]bool
}

// NewBuilder creates a Builder linking GraphKinds edges.
func NewBuilder(opts ...Option) *Builder {
	b := &Builder{logger: slog.Default()}
	WithKinds(GraphKinds...)(b)
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Build makes one pass over the metafile inputs in document order. Every input
// gets a vertex; edges whose kind is linked and whose target is a known input
// are recorded in both directions. Unknown targets are logged and dropped.
//
// An error is returned only for malformed input, and then no graph is produced.
func (b *Builder) Build(meta *metafile.Metafile, entryPath string) (*Result, error) {
	if meta == nil {
		return nil, ErrNilMetafile
	}
	if err := meta.Validate(); err != nil {
		return nil, fmt.Errorf("invalid metafile: %w", err)
	}

	ids := NewAllocator(entryPath)
	graph := make(DependencyGraph, meta.Inputs.Len())
	modules := make(ModuleTable, meta.Inputs.Len())
	var report BuildReport

	register := func(path string, input metafile.Input) (ModuleID, *Vertex) {
		id := ids.IDFor(path)
		v, ok := graph[id]
		if !ok {
			v = &Vertex{}
			graph[id] = v
			modules[id] = newModule(path, input)
		}
		return id, v
	}

	for _, path := range meta.Inputs.Paths() {
		input, ok := meta.Inputs.Get(path)
		if !ok {
			b.logger.Warn("module not found in metafile, skipping", "path", path)
			report.SkippedModules++
			continue
		}

		id, vertex := register(path, input)

		for _, imp := range input.Imports {
			if !b.kinds[ImportKind(imp.Kind)] {
				report.IgnoredEdges++
				continue
			}
			target, ok := meta.Inputs.Get(imp.Path)
			if !ok {
				b.logger.Warn("import target not found in metafile",
					"importer", path, "path", imp.Path, "kind", imp.Kind, "external", imp.External)
				report.DanglingEdges++
				continue
			}

			targetID, targetVertex := register(imp.Path, target)
			if vertex.Dependencies.Add(targetID) {
				report.Edges++
			}
			targetVertex.InverseDependencies.Add(id)
		}
	}

	report.Modules = len(graph)
	b.logger.Debug("dependency graph built",
		"entry", entryPath,
		"modules", report.Modules,
		"edges", report.Edges,
		"dangling", report.DanglingEdges)

	return &Result{
		Graph:   graph,
		Modules: modules,
		IDs:     ids,
		Report:  report,
	}, nil
}
