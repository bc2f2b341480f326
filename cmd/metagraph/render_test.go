package main

import (
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/efebarandurmaz/metagraph/internal/depgraph"
	"github.com/efebarandurmaz/metagraph/internal/metafile"
)

const chainMetafile = `{
  "inputs": {
    "a.js": {"bytes": 1000, "format": "esm", "imports": [
      {"path": "b.js", "kind": "import-statement"},
      {"path": "a.css", "kind": "import-rule"}
    ]},
    "b.js": {"bytes": 2000, "imports": [{"path": "c.js", "kind": "require-call"}]},
    "c.js": {"bytes": 500, "imports": []}
  },
  "outputs": {}
}`

func newSession(t *testing.T) *depgraph.Session {
	t.Helper()
	meta, err := metafile.Parse([]byte(chainMetafile))
	require.NoError(t, err)
	s := depgraph.NewSession(depgraph.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	require.NoError(t, s.Init(meta, "a.js"))
	return s
}

func TestRenderAncestors(t *testing.T) {
	s := newSession(t)
	ids, err := s.InverseDependencies(2)
	require.NoError(t, err)
	require.Equal(t, []depgraph.ModuleID{2, 1, 0}, ids)

	out, err := renderAncestors(s, ids)
	require.NoError(t, err)

	for _, want := range []string{"Module", "c.js", "b.js", "a.js", "500 B", "2.0 kB", "Total: 3 modules", "3.5 kB"} {
		assert.Contains(t, out, want)
	}
	assert.Less(t, strings.Index(out, "c.js"), strings.Index(out, "a.js"), "rows should follow traversal order")
}

func TestRenderAncestors_UnknownID(t *testing.T) {
	s := newSession(t)
	_, err := renderAncestors(s, []depgraph.ModuleID{42})
	assert.ErrorIs(t, err, depgraph.ErrUnknownModule)
}

func TestRenderModule(t *testing.T) {
	s := newSession(t)
	m, ok, err := s.Module("a.js")
	require.NoError(t, err)
	require.True(t, ok)
	g, err := s.DependencyGraph()
	require.NoError(t, err)

	out := renderModule(0, m, g[0])
	for _, want := range []string{"a.js", "1.0 kB", "esm", "b.js", "import-rule", "a.css", "Total: 2 imports"} {
		assert.Contains(t, out, want)
	}
}

func TestRenderDependents(t *testing.T) {
	out := renderDependents("c.js", []string{"b.js"}, []string{"a.js", "b.js", "c.js"})
	assert.Contains(t, out, "transitive")
	assert.Contains(t, out, "direct")
	assert.Contains(t, out, "self")
}

func TestJoinIDs(t *testing.T) {
	assert.Equal(t, "-", joinIDs(nil))
	assert.Equal(t, "2, 0", joinIDs([]depgraph.ModuleID{2, 0}))
}

func TestExportGraph(t *testing.T) {
	s := newSession(t)
	g, err := s.DependencyGraph()
	require.NoError(t, err)
	modules, err := s.ModuleTable()
	require.NoError(t, err)

	tests := []struct {
		format string
		want   string
	}{
		{"dot", "digraph"},
		{"mermaid", "graph"},
		{"json", `"inverseDependencies"`},
		{"modules", `"path": "b.js"`},
		{"YAML", "modules:"},
	}
	for _, tt := range tests {
		t.Run(tt.format, func(t *testing.T) {
			data, err := exportGraph(tt.format, g, modules)
			require.NoError(t, err)
			assert.Contains(t, string(data), tt.want)
		})
	}

	_, err = exportGraph("svg", g, modules)
	assert.Error(t, err)
}
