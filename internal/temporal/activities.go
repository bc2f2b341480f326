package temporal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"go.temporal.io/sdk/temporal"

	"github.com/efebarandurmaz/metagraph/internal/depgraph"
	"github.com/efebarandurmaz/metagraph/internal/graph"
	"github.com/efebarandurmaz/metagraph/internal/metafile"
)

// ErrTypeInvalidMetafile marks build failures that retrying cannot fix.
const ErrTypeInvalidMetafile = "InvalidMetafile"

// BuildResult is the serializable result of BuildGraphActivity.
type BuildResult struct {
	Artifacts []string
	Report    depgraph.BuildReport
	Ancestors map[string][]string
	Errors    []string
}

// StoreResult is the serializable result of StoreGraphActivity.
type StoreResult struct {
	Modules int
}

// Dependencies holds shared resources injected into activities.
type Dependencies struct {
	Repository graph.Repository
	Logger     *slog.Logger
}

var deps *Dependencies

// SetDependencies injects shared resources (called during worker setup).
func SetDependencies(d *Dependencies) {
	deps = d
}

func logger() *slog.Logger {
	if deps != nil && deps.Logger != nil {
		return deps.Logger
	}
	return slog.Default()
}

func BuildGraphActivity(ctx context.Context, input GraphInput) (BuildResult, error) {
	data, err := os.ReadFile(input.MetafilePath)
	if err != nil {
		return BuildResult{}, fmt.Errorf("read metafile: %w", err)
	}
	meta, err := metafile.Parse(data, metafile.WithSchemaValidation(input.ValidateSchema))
	if err != nil {
		return BuildResult{}, invalidMetafile(input.MetafilePath, err)
	}

	session := depgraph.NewSession(depgraph.WithLogger(logger()))
	if err := session.Init(meta, input.EntryPath); err != nil {
		return BuildResult{}, invalidMetafile(input.MetafilePath, err)
	}

	g, _ := session.DependencyGraph()
	modules, _ := session.ModuleTable()
	report, _ := session.Report()

	artifacts, err := depgraph.WriteArtifacts(input.OutputDir, g, modules)
	if err != nil {
		return BuildResult{}, err
	}

	result := BuildResult{
		Artifacts: artifacts,
		Report:    report,
		Ancestors: make(map[string][]string, len(input.QueryPaths)),
	}
	for _, path := range input.QueryPaths {
		paths, err := ancestorPaths(session, path)
		if err != nil {
			result.Errors = append(result.Errors, err.Error())
			continue
		}
		result.Ancestors[path] = paths
	}

	logger().Info("dependency graph built",
		"metafile", input.MetafilePath,
		"modules", report.Modules,
		"edges", report.Edges,
		"output", input.OutputDir)
	return result, nil
}

// invalidMetafile wraps a parse or build failure so the workflow does not retry it.
func invalidMetafile(path string, err error) error {
	return temporal.NewNonRetryableApplicationError(fmt.Sprintf("%s: %v", path, err), ErrTypeInvalidMetafile, err)
}

func ancestorPaths(s *depgraph.Session, path string) ([]string, error) {
	id, err := s.ModuleID(path)
	if err != nil {
		return nil, err
	}
	ids, err := s.InverseDependencies(id)
	if err != nil {
		return nil, fmt.Errorf("ancestors of %s: %w", path, err)
	}
	paths := make([]string, len(ids))
	for i, a := range ids {
		p, err := s.Path(a)
		if err != nil {
			return nil, err
		}
		paths[i] = p
	}
	return paths, nil
}

func StoreGraphActivity(ctx context.Context, input GraphInput) (StoreResult, error) {
	if deps == nil || deps.Repository == nil {
		return StoreResult{}, errors.New("no graph repository configured")
	}

	g, modules, err := depgraph.ReadArtifacts(input.OutputDir)
	if err != nil {
		return StoreResult{}, err
	}

	snap := &graph.Snapshot{EntryPath: input.EntryPath, Graph: g, Modules: modules}
	if err := deps.Repository.StoreGraph(ctx, snap); err != nil {
		return StoreResult{}, err
	}

	logger().Info("dependency graph stored", "modules", len(modules))
	return StoreResult{Modules: len(modules)}, nil
}
