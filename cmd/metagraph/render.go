package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/efebarandurmaz/metagraph/internal/depgraph"
)

func printStatus(format string, args ...any) {
	color.New(color.FgGreen).Fprintf(os.Stdout, format+"\n", args...)
}

func printWarning(format string, args ...any) {
	color.New(color.FgYellow).Fprintf(os.Stdout, "Warning: "+format+"\n", args...)
}

func newTable() table.Writer {
	tbl := table.NewWriter()
	tbl.SetStyle(table.StyleLight)
	tbl.Style().Options.SeparateRows = false
	return tbl
}

// renderAncestors lists ids in traversal order with their sizes and direct
// importer counts.
func renderAncestors(s *depgraph.Session, ids []depgraph.ModuleID) (string, error) {
	g, err := s.DependencyGraph()
	if err != nil {
		return "", err
	}

	tbl := newTable()
	tbl.AppendHeader(table.Row{"#", "ID", "Module", "Size", "Imported By"})

	var total int64
	for i, id := range ids {
		m, err := s.ModuleByID(id)
		if err != nil {
			return "", err
		}
		importers := 0
		if v, ok := g[id]; ok {
			importers = v.InverseDependencies.Len()
		}
		total += m.Bytes
		tbl.AppendRow(table.Row{i, int(id), m.Path, humanize.Bytes(uint64(m.Bytes)), importers})
	}

	tbl.AppendFooter(table.Row{"", "", fmt.Sprintf("Total: %d modules", len(ids)), humanize.Bytes(uint64(total)), ""})
	return tbl.Render(), nil
}

// renderModule shows one module's record and its adjacency.
func renderModule(id depgraph.ModuleID, m depgraph.Module, v *depgraph.Vertex) string {
	var sb strings.Builder

	info := newTable()
	info.AppendRows([]table.Row{
		{"ID", int(id)},
		{"Path", m.Path},
		{"Size", humanize.Bytes(uint64(m.Bytes))},
		{"Format", m.Format},
	})
	if v != nil {
		info.AppendRows([]table.Row{
			{"Dependencies", joinIDs(v.Dependencies.IDs())},
			{"Imported By", joinIDs(v.InverseDependencies.IDs())},
		})
	}
	sb.WriteString(info.Render())
	sb.WriteString("\n")

	if len(m.Imports) > 0 {
		imports := newTable()
		imports.AppendHeader(table.Row{"Import", "Kind"})
		for _, imp := range m.Imports {
			imports.AppendRow(table.Row{imp.Path, string(imp.Kind)})
		}
		imports.AppendFooter(table.Row{fmt.Sprintf("Total: %d imports", len(m.Imports)), ""})
		sb.WriteString(imports.Render())
		sb.WriteString("\n")
	}
	return sb.String()
}

// renderDependents shows the direct and transitive importers reported by a
// graph repository.
func renderDependents(path string, direct, all []string) string {
	tbl := newTable()
	tbl.SetTitle(path)
	tbl.AppendHeader(table.Row{"Module", "Relation"})

	isDirect := make(map[string]bool, len(direct))
	for _, d := range direct {
		isDirect[d] = true
	}
	for _, p := range all {
		relation := "transitive"
		switch {
		case p == path:
			relation = "self"
		case isDirect[p]:
			relation = "direct"
		}
		tbl.AppendRow(table.Row{p, relation})
	}
	return tbl.Render()
}

func joinIDs(ids []depgraph.ModuleID) string {
	if len(ids) == 0 {
		return "-"
	}
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = id.String()
	}
	return strings.Join(parts, ", ")
}
