package depgraph

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"gopkg.in/yaml.v3"
)

func cyclicResult(t *testing.T) *Result {
	t.Helper()
	meta := makeMetafile(
		testInput{path: "main.js", bytes: 1024, imports: []testImport{imp("a.js"), imp("b.js")}},
		testInput{path: "a.js", bytes: 512, imports: []testImport{imp("b.js")}},
		testInput{path: "b.js", bytes: 256, imports: []testImport{imp("a.js"), imp("c.js")}},
		testInput{path: "c.js", bytes: 128},
		testInput{path: "island.js", bytes: 64},
	)
	return mustBuild(t, meta, "main.js")
}

// Stats Tests

func TestComputeStats(t *testing.T) {
	r := cyclicResult(t)
	st := ComputeStats(r.Graph, r.Modules)

	if st.TotalModules != 5 {
		t.Errorf("expected 5 modules, got %d", st.TotalModules)
	}
	if st.TotalEdges != 5 {
		t.Errorf("expected 5 edges, got %d", st.TotalEdges)
	}
	if st.TotalBytes != 1984 {
		t.Errorf("expected 1984 bytes, got %d", st.TotalBytes)
	}
	// main.js and island.js have no importers
	if st.Roots != 2 {
		t.Errorf("expected 2 roots, got %d", st.Roots)
	}
	// c.js and island.js import nothing
	if st.Leaves != 2 {
		t.Errorf("expected 2 leaves, got %d", st.Leaves)
	}
	if st.MaxFanOut != 2 || st.HotspotModule != "main.js" {
		t.Errorf("expected hotspot main.js with fan-out 2, got %s (%d)", st.HotspotModule, st.MaxFanOut)
	}
	if st.MaxFanIn != 2 || st.MostImportedModule != "a.js" {
		t.Errorf("expected most imported a.js with fan-in 2, got %s (%d)", st.MostImportedModule, st.MaxFanIn)
	}
	if st.ConnectedComponents != 2 {
		t.Errorf("expected 2 components, got %d", st.ConnectedComponents)
	}
	if len(st.Cycles) != 1 {
		t.Fatalf("expected 1 cycle, got %v", st.Cycles)
	}
	if strings.Join(st.Cycles[0], ",") != "a.js,b.js" {
		t.Errorf("unexpected cycle %v", st.Cycles[0])
	}
}

func TestComputeStats_Empty(t *testing.T) {
	st := ComputeStats(DependencyGraph{}, ModuleTable{})
	if st.TotalModules != 0 || st.ConnectedComponents != 0 || len(st.Cycles) != 0 {
		t.Errorf("expected zero stats, got %+v", st)
	}
	if st.HotspotModule != "" {
		t.Errorf("expected no hotspot, got %q", st.HotspotModule)
	}
}

func TestFormatStats(t *testing.T) {
	r := cyclicResult(t)
	out := FormatStats(ComputeStats(r.Graph, r.Modules))

	for _, want := range []string{"Modules:     5", "Edges:       5", "Components:  2", "Import Cycles: 1", "a.js -> b.js -> a.js", "kB"} {
		if !strings.Contains(out, want) {
			t.Errorf("FormatStats output missing %q:\n%s", want, out)
		}
	}
}

// Export Tests

func TestExportDOT(t *testing.T) {
	r := cyclicResult(t)
	dot := ExportDOT(r.Graph, r.Modules)

	if !strings.HasPrefix(dot, "digraph dependencies {") {
		t.Error("DOT output should start with digraph declaration")
	}
	for _, want := range []string{`m0 [label="main.js"`, "m0 -> m1;", "m2 -> m1;", "m2 -> m3;"} {
		if !strings.Contains(dot, want) {
			t.Errorf("DOT output missing %q", want)
		}
	}
	if strings.Count(dot, "->") != 5 {
		t.Errorf("expected 5 edges in DOT, got %d", strings.Count(dot, "->"))
	}
}

func TestExportDOT_EscapesLabels(t *testing.T) {
	meta := makeMetafile(testInput{path: `weird"name.js`})
	r := mustBuild(t, meta, `weird"name.js`)
	if !strings.Contains(ExportDOT(r.Graph, r.Modules), `label="weird\"name.js"`) {
		t.Error("DOT label quotes should be escaped")
	}
}

func TestExportMermaid(t *testing.T) {
	r := cyclicResult(t)
	out := ExportMermaid(r.Graph, r.Modules)

	if !strings.HasPrefix(out, "graph LR\n") {
		t.Error("Mermaid output should start with graph LR")
	}
	if !strings.Contains(out, `m0[["main.js"]]`) {
		t.Error("entry module should use the subroutine shape")
	}
	if !strings.Contains(out, "m1 --> m2") {
		t.Error("Mermaid output missing a.js -> b.js edge")
	}
}

func TestExportYAML(t *testing.T) {
	r := cyclicResult(t)
	data, err := ExportYAML(r.Graph, r.Modules)
	if err != nil {
		t.Fatalf("ExportYAML: %v", err)
	}

	var doc struct {
		Modules []struct {
			ID           int    `yaml:"id"`
			Path         string `yaml:"path"`
			Dependencies []int  `yaml:"dependencies"`
		} `yaml:"modules"`
		Stats struct {
			TotalModules int `yaml:"total_modules"`
		} `yaml:"stats"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		t.Fatalf("unmarshal YAML: %v", err)
	}
	if len(doc.Modules) != 5 || doc.Stats.TotalModules != 5 {
		t.Fatalf("unexpected YAML document: %+v", doc)
	}
	if doc.Modules[0].Path != "main.js" || len(doc.Modules[0].Dependencies) != 2 {
		t.Errorf("unexpected first module: %+v", doc.Modules[0])
	}
}

func TestWriteAndReadArtifacts(t *testing.T) {
	r := cyclicResult(t)
	dir := filepath.Join(t.TempDir(), "out")

	written, err := WriteArtifacts(dir, r.Graph, r.Modules)
	if err != nil {
		t.Fatalf("WriteArtifacts: %v", err)
	}
	if len(written) != 2 {
		t.Fatalf("expected 2 files, got %v", written)
	}
	for _, p := range written {
		if _, err := os.Stat(p); err != nil {
			t.Errorf("missing artifact %s: %v", p, err)
		}
	}

	raw, err := os.ReadFile(filepath.Join(dir, ModulesFileName))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(raw), `"path": "main.js"`) {
		t.Error("module table should carry each module's path")
	}

	g, modules, err := ReadArtifacts(dir)
	if err != nil {
		t.Fatalf("ReadArtifacts: %v", err)
	}
	if len(g) != 5 || len(modules) != 5 {
		t.Fatalf("expected 5 vertices and modules, got %d and %d", len(g), len(modules))
	}
	assertIDs(t, "deps(b)", g[2].Dependencies.IDs(), r.Graph[2].Dependencies.IDs())
	assertIDs(t, "inverse(a)", g[1].InverseDependencies.IDs(), []ModuleID{0, 2})

	anc, err := Ancestors(g, 3)
	if err != nil {
		t.Fatal(err)
	}
	assertIDs(t, "ancestors(c) from artifacts", anc, []ModuleID{3, 2, 0, 1})
}

func TestReadArtifacts_Missing(t *testing.T) {
	if _, _, err := ReadArtifacts(t.TempDir()); err == nil {
		t.Error("expected error reading from an empty directory")
	}
}
