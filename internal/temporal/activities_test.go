package temporal

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"go.temporal.io/sdk/temporal"

	"github.com/efebarandurmaz/metagraph/internal/depgraph"
	"github.com/efebarandurmaz/metagraph/internal/graph"
)

const sampleMetafile = `{
  "inputs": {
    "a.js": {"bytes": 10, "imports": [
      {"path": "b.js", "kind": "import-statement"},
      {"path": "c.js", "kind": "import-statement"},
      {"path": "react", "kind": "import-statement", "external": true}
    ]},
    "b.js": {"bytes": 20, "imports": [{"path": "c.js", "kind": "require-call"}]},
    "c.js": {"bytes": 30, "imports": []}
  },
  "outputs": {}
}`

// setupTestDeps installs a quiet logger and an in-memory repository.
func setupTestDeps(t *testing.T) *graph.MemoryRepository {
	t.Helper()
	repo := graph.NewMemory()
	SetDependencies(&Dependencies{
		Repository: repo,
		Logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	t.Cleanup(func() { SetDependencies(nil) })
	return repo
}

func writeMetafile(t *testing.T, content string) (string, string) {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "meta.json")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path, filepath.Join(dir, "out")
}

func TestSetDependencies(t *testing.T) {
	repo := setupTestDeps(t)
	if deps == nil {
		t.Fatal("SetDependencies failed: deps is nil")
	}
	if deps.Repository != repo {
		t.Error("SetDependencies did not set repository correctly")
	}
}

func TestBuildGraphActivity(t *testing.T) {
	setupTestDeps(t)
	metaPath, outDir := writeMetafile(t, sampleMetafile)

	result, err := BuildGraphActivity(context.Background(), GraphInput{
		MetafilePath:   metaPath,
		EntryPath:      "a.js",
		OutputDir:      outDir,
		ValidateSchema: true,
		QueryPaths:     []string{"c.js", "missing.js"},
	})
	if err != nil {
		t.Fatalf("BuildGraphActivity failed: %v", err)
	}

	if len(result.Artifacts) != 2 {
		t.Fatalf("expected 2 artifacts, got %v", result.Artifacts)
	}
	for _, a := range result.Artifacts {
		if _, err := os.Stat(a); err != nil {
			t.Errorf("artifact %s not written: %v", a, err)
		}
	}

	if result.Report.Modules != 3 || result.Report.Edges != 3 || result.Report.DanglingEdges != 1 {
		t.Errorf("unexpected report: %+v", result.Report)
	}

	got := result.Ancestors["c.js"]
	want := []string{"c.js", "a.js", "b.js"}
	if len(got) != len(want) {
		t.Fatalf("ancestors of c.js = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("ancestors[%d] = %s, want %s", i, got[i], want[i])
		}
	}

	if len(result.Errors) != 1 {
		t.Errorf("expected one error for the unknown query path, got %v", result.Errors)
	}
}

func TestBuildGraphActivity_MissingFile(t *testing.T) {
	setupTestDeps(t)

	_, err := BuildGraphActivity(context.Background(), GraphInput{
		MetafilePath: filepath.Join(t.TempDir(), "nope.json"),
		OutputDir:    t.TempDir(),
	})
	if err == nil {
		t.Fatal("expected error for missing metafile")
	}
	var appErr *temporal.ApplicationError
	if errors.As(err, &appErr) {
		t.Error("a read failure should stay retryable")
	}
}

func TestBuildGraphActivity_InvalidMetafile(t *testing.T) {
	setupTestDeps(t)
	metaPath, outDir := writeMetafile(t, `{"inputs": {"a.js": {"bytes": -1, "imports": []}}}`)

	_, err := BuildGraphActivity(context.Background(), GraphInput{
		MetafilePath:   metaPath,
		EntryPath:      "a.js",
		OutputDir:      outDir,
		ValidateSchema: true,
	})
	var appErr *temporal.ApplicationError
	if !errors.As(err, &appErr) {
		t.Fatalf("expected application error, got %v", err)
	}
	if !appErr.NonRetryable() || appErr.Type() != ErrTypeInvalidMetafile {
		t.Errorf("expected non-retryable %s, got %v", ErrTypeInvalidMetafile, appErr)
	}
	if _, err := os.Stat(outDir); !os.IsNotExist(err) {
		t.Error("no artifacts should be written for an invalid metafile")
	}
}

func TestStoreGraphActivity(t *testing.T) {
	repo := setupTestDeps(t)
	metaPath, outDir := writeMetafile(t, sampleMetafile)
	input := GraphInput{MetafilePath: metaPath, EntryPath: "a.js", OutputDir: outDir}

	if _, err := BuildGraphActivity(context.Background(), input); err != nil {
		t.Fatal(err)
	}
	result, err := StoreGraphActivity(context.Background(), input)
	if err != nil {
		t.Fatalf("StoreGraphActivity failed: %v", err)
	}
	if result.Modules != 3 {
		t.Errorf("expected 3 stored modules, got %d", result.Modules)
	}

	dependents, err := repo.QueryDependents(context.Background(), "c.js")
	if err != nil {
		t.Fatal(err)
	}
	if len(dependents) != 2 || dependents[0] != "a.js" || dependents[1] != "b.js" {
		t.Errorf("unexpected dependents: %v", dependents)
	}
	snap, err := repo.LoadGraph(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if snap.EntryPath != "a.js" || snap.Graph[depgraph.EntryID] == nil {
		t.Errorf("unexpected stored snapshot: %+v", snap)
	}
}

func TestStoreGraphActivity_NoRepository(t *testing.T) {
	SetDependencies(nil)
	if _, err := StoreGraphActivity(context.Background(), GraphInput{OutputDir: t.TempDir()}); err == nil {
		t.Error("expected error without a repository")
	}
}

func TestStoreGraphActivity_NoArtifacts(t *testing.T) {
	setupTestDeps(t)
	if _, err := StoreGraphActivity(context.Background(), GraphInput{OutputDir: t.TempDir()}); err == nil {
		t.Error("expected error when artifacts are missing")
	}
}
