package depgraph

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Artifact file names written by WriteArtifacts.
const (
	GraphFileName   = "dependency-graph.json"
	ModulesFileName = "module-table.json"
)

// ExportDOT generates a Graphviz DOT representation of the graph.
func ExportDOT(g DependencyGraph, modules ModuleTable) string {
	var b strings.Builder
	b.WriteString("digraph dependencies {\n")
	b.WriteString("  rankdir=LR;\n")
	b.WriteString("  node [fontname=\"Helvetica\" shape=box style=filled];\n")
	b.WriteString("  edge [fontname=\"Helvetica\" fontsize=10];\n\n")

	ids := g.IDs()
	for _, id := range ids {
		m := modules[id]
		b.WriteString(fmt.Sprintf("  m%d [label=\"%s\" fillcolor=\"%s\"];\n",
			id, escapeDOT(m.Path), nodeColor(id, g[id])))
	}
	b.WriteString("\n")

	for _, id := range ids {
		for _, dep := range g[id].Dependencies.ids {
			b.WriteString(fmt.Sprintf("  m%d -> m%d;\n", id, dep))
		}
	}

	b.WriteString("}\n")
	return b.String()
}

// ExportMermaid generates a Mermaid diagram of the graph.
func ExportMermaid(g DependencyGraph, modules ModuleTable) string {
	var b strings.Builder
	b.WriteString("graph LR\n")

	ids := g.IDs()
	for _, id := range ids {
		b.WriteString(fmt.Sprintf("  m%d%s\n", id, mermaidNodeShape(id, modules[id].Path)))
	}
	for _, id := range ids {
		for _, dep := range g[id].Dependencies.ids {
			b.WriteString(fmt.Sprintf("  m%d --> m%d\n", id, dep))
		}
	}

	return b.String()
}

// ExportJSON serializes the graph to JSON.
func ExportJSON(g DependencyGraph) ([]byte, error) {
	return json.MarshalIndent(g, "", "  ")
}

// ExportModulesJSON serializes the module table to JSON.
func ExportModulesJSON(modules ModuleTable) ([]byte, error) {
	return json.MarshalIndent(modules, "", "  ")
}

type yamlModule struct {
	ID                  ModuleID   `yaml:"id"`
	Path                string     `yaml:"path"`
	Bytes               int64      `yaml:"bytes"`
	Format              string     `yaml:"format,omitempty"`
	Dependencies        []ModuleID `yaml:"dependencies,flow"`
	InverseDependencies []ModuleID `yaml:"inverse_dependencies,flow"`
}

type yamlDocument struct {
	Modules []yamlModule `yaml:"modules"`
	Stats   Stats        `yaml:"stats"`
}

// ExportYAML renders the graph as a YAML module listing followed by its stats.
func ExportYAML(g DependencyGraph, modules ModuleTable) ([]byte, error) {
	doc := yamlDocument{Stats: ComputeStats(g, modules)}
	for _, id := range g.IDs() {
		m := modules[id]
		doc.Modules = append(doc.Modules, yamlModule{
			ID:                  id,
			Path:                m.Path,
			Bytes:               m.Bytes,
			Format:              m.Format,
			Dependencies:        g[id].Dependencies.IDs(),
			InverseDependencies: g[id].InverseDependencies.IDs(),
		})
	}
	return yaml.Marshal(doc)
}

// WriteArtifacts writes the dependency graph and module table as indented JSON
// files into dir, creating it if needed. It returns the written paths.
func WriteArtifacts(dir string, g DependencyGraph, modules ModuleTable) ([]string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create output directory %s: %w", dir, err)
	}

	graphData, err := ExportJSON(g)
	if err != nil {
		return nil, fmt.Errorf("marshal dependency graph: %w", err)
	}
	modulesData, err := ExportModulesJSON(modules)
	if err != nil {
		return nil, fmt.Errorf("marshal module table: %w", err)
	}

	files := []struct {
		name string
		data []byte
	}{
		{GraphFileName, graphData},
		{ModulesFileName, modulesData},
	}

	written := make([]string, 0, len(files))
	for _, f := range files {
		path := filepath.Join(dir, f.name)
		if err := os.WriteFile(path, append(f.data, '\n'), 0o644); err != nil {
			return nil, fmt.Errorf("write %s: %w", path, err)
		}
		written = append(written, path)
	}
	return written, nil
}

// ReadArtifacts loads the files produced by WriteArtifacts.
func ReadArtifacts(dir string) (DependencyGraph, ModuleTable, error) {
	var g DependencyGraph
	var modules ModuleTable

	data, err := os.ReadFile(filepath.Join(dir, GraphFileName))
	if err != nil {
		return nil, nil, fmt.Errorf("read dependency graph: %w", err)
	}
	if err := json.Unmarshal(data, &g); err != nil {
		return nil, nil, fmt.Errorf("parse dependency graph: %w", err)
	}

	data, err = os.ReadFile(filepath.Join(dir, ModulesFileName))
	if err != nil {
		return nil, nil, fmt.Errorf("read module table: %w", err)
	}
	if err := json.Unmarshal(data, &modules); err != nil {
		return nil, nil, fmt.Errorf("parse module table: %w", err)
	}
	return g, modules, nil
}

func escapeDOT(s string) string {
	return strings.NewReplacer(`\`, `\\`, `"`, `\"`).Replace(s)
}

func nodeColor(id ModuleID, v *Vertex) string {
	switch {
	case id == EntryID:
		return "#1f6feb"
	case v.InverseDependencies.Len() == 0:
		return "#d29922"
	case v.Dependencies.Len() == 0:
		return "#238636"
	default:
		return "#30363d"
	}
}

func mermaidNodeShape(id ModuleID, path string) string {
	label := strings.ReplaceAll(path, `"`, "#quot;")
	if id == EntryID {
		return fmt.Sprintf("[[\"%s\"]]", label)
	}
	return fmt.Sprintf("[\"%s\"]", label)
}
