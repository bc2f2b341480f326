package neo4j

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/efebarandurmaz/metagraph/internal/depgraph"
	"github.com/efebarandurmaz/metagraph/internal/graph"
	"github.com/efebarandurmaz/metagraph/internal/metafile"
)

// lib.js is listed before the entry, so util.js's importers are not in id order.
const fixture = `{
  "inputs": {
    "lib.js": {"bytes": 5, "format": "esm", "with": {"type": "js"}, "imports": [
      {"path": "util.js", "kind": "import-statement", "original": "./util", "with": {"type": "js"}}
    ]},
    "util.js": {"bytes": 7, "imports": []},
    "main.js": {"bytes": 9, "imports": [
      {"path": "util.js", "kind": "import-statement"},
      {"path": "lib.js", "kind": "dynamic-import"},
      {"path": "style.css", "kind": "import-rule"},
      {"path": "react", "kind": "import-statement", "external": true}
    ]}
  },
  "outputs": {}
}`

func buildSnapshot(t *testing.T) *graph.Snapshot {
	t.Helper()
	meta, err := metafile.Parse([]byte(fixture))
	require.NoError(t, err)
	b := depgraph.NewBuilder(depgraph.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	res, err := b.Build(meta, "main.js")
	require.NoError(t, err)
	return graph.NewSnapshot(res)
}

// asDriverRows converts parameter rows into the shapes the driver returns:
// lists come back as []any.
func asDriverRows(rows []map[string]any) []map[string]any {
	out := make([]map[string]any, len(rows))
	for i, row := range rows {
		converted := make(map[string]any, len(row))
		for k, v := range row {
			switch list := v.(type) {
			case []string:
				anyList := make([]any, len(list))
				for j, s := range list {
					anyList[j] = s
				}
				v = anyList
			case []bool:
				anyList := make([]any, len(list))
				for j, b := range list {
					anyList[j] = b
				}
				v = anyList
			}
			converted[k] = v
		}
		out[i] = converted
	}
	return out
}

func TestModuleRows(t *testing.T) {
	snap := buildSnapshot(t)
	rows, err := moduleRows(snap)
	require.NoError(t, err)
	require.Len(t, rows, 3)

	assert.Equal(t, int64(0), rows[0]["id"])
	assert.Equal(t, "main.js", rows[0]["path"])
	assert.Equal(t, true, rows[0]["entry"])
	assert.Equal(t, []string{"util.js", "lib.js", "style.css", "react"}, rows[0]["import_paths"])
	assert.Equal(t, []bool{false, false, false, true}, rows[0]["import_external"])
	assert.Equal(t, "", rows[0]["attributes"])
	assert.Equal(t, "lib.js", rows[1]["path"])
	assert.Equal(t, false, rows[1]["entry"])
	assert.Equal(t, "esm", rows[1]["format"])
	assert.Equal(t, `{"type":"js"}`, rows[1]["attributes"])
	assert.Equal(t, []string{"./util"}, rows[1]["import_originals"])
	assert.Equal(t, []string{`{"type":"js"}`}, rows[1]["import_attributes"])
}

func TestEdgeRows(t *testing.T) {
	snap := buildSnapshot(t)
	rows := edgeRows(snap.Graph)
	require.Len(t, rows, 3)

	// main.js -> util.js is util.js's second importer.
	assert.Equal(t, map[string]any{
		"from": int64(0), "to": int64(2), "dep_index": int64(0), "inv_index": int64(1),
	}, rows[0])
}

func TestSnapshotFromRows_RoundTrip(t *testing.T) {
	snap := buildSnapshot(t)

	modules, err := moduleRows(snap)
	require.NoError(t, err)
	loaded, err := snapshotFromRows(asDriverRows(modules), asDriverRows(edgeRows(snap.Graph)))
	require.NoError(t, err)

	assert.Equal(t, "main.js", loaded.EntryPath)
	assert.Equal(t, snap.Modules, loaded.Modules)

	want, err := json.Marshal(snap.Graph)
	require.NoError(t, err)
	got, err := json.Marshal(loaded.Graph)
	require.NoError(t, err)
	assert.JSONEq(t, string(want), string(got))
	assert.Equal(t, []depgraph.ModuleID{1, 0}, loaded.Graph[2].InverseDependencies.IDs())
}

func TestSnapshotFromRows_KeepsImportDetails(t *testing.T) {
	snap := buildSnapshot(t)
	modules, err := moduleRows(snap)
	require.NoError(t, err)
	loaded, err := snapshotFromRows(asDriverRows(modules), nil)
	require.NoError(t, err)

	lib := loaded.Modules[1]
	assert.Equal(t, map[string]string{"type": "js"}, lib.With)
	assert.Equal(t, depgraph.ImportEdge{
		Path:     "util.js",
		Kind:     depgraph.KindImportStatement,
		Original: "./util",
		With:     map[string]string{"type": "js"},
	}, lib.Imports[0])
	assert.True(t, loaded.Modules[0].Imports[3].External)
	assert.Nil(t, loaded.Modules[0].With)
}

// layeredImporters returns an importer lookup for a graph of layers
// modules each, where every module imports every module of the layer below.
// Module 0 is the bottom; ids grow upward.
func layeredImporters(layers, width int) func(int64) []int64 {
	return func(id int64) []int64 {
		if id == 0 {
			out := make([]int64, width)
			for i := range out {
				out[i] = int64(1 + i)
			}
			return out
		}
		layer := (id - 1) / int64(width)
		if int(layer)+1 >= layers {
			return nil
		}
		first := 1 + (layer+1)*int64(width)
		out := make([]int64, width)
		for i := range out {
			out[i] = first + int64(i)
		}
		return out
	}
}

func TestCloseAncestors_LayeredDiamonds(t *testing.T) {
	const layers, width = 30, 2
	importers := layeredImporters(layers, width)

	calls := 0
	fetched := map[int64]int{}
	expand := func(frontier, seen []int64) ([]moduleRef, error) {
		calls++
		skip := map[int64]bool{}
		for _, id := range seen {
			skip[id] = true
		}
		var refs []moduleRef
		added := map[int64]bool{}
		for _, id := range frontier {
			for _, a := range importers(id) {
				if skip[a] || added[a] {
					continue
				}
				added[a] = true
				fetched[a]++
				refs = append(refs, moduleRef{id: a, path: fmt.Sprintf("m%d.js", a)})
			}
		}
		return refs, nil
	}

	paths, err := closeAncestors(moduleRef{id: 0, path: "m0.js"}, expand)
	require.NoError(t, err)

	require.Len(t, paths, 1+layers*width)
	assert.Equal(t, "m0.js", paths[0])
	assert.Equal(t, fmt.Sprintf("m%d.js", layers*width), paths[len(paths)-1])
	// One round per layer plus the empty final round.
	assert.Equal(t, layers+1, calls)
	for id, n := range fetched {
		assert.Equal(t, 1, n, "module %d fetched more than once", id)
	}
}

func TestCloseAncestors_CycleAndError(t *testing.T) {
	// 0 <- 1 <- 2 <- 0
	importers := map[int64][]int64{0: {1}, 1: {2}, 2: {0}}
	expand := func(frontier, seen []int64) ([]moduleRef, error) {
		var refs []moduleRef
		for _, id := range frontier {
			for _, a := range importers[id] {
				refs = append(refs, moduleRef{id: a, path: fmt.Sprintf("m%d.js", a)})
			}
		}
		return refs, nil
	}
	paths, err := closeAncestors(moduleRef{id: 1, path: "m1.js"}, expand)
	require.NoError(t, err)
	assert.Equal(t, []string{"m0.js", "m1.js", "m2.js"}, paths)

	boom := errors.New("connection reset")
	_, err = closeAncestors(moduleRef{id: 0}, func([]int64, []int64) ([]moduleRef, error) {
		return nil, boom
	})
	assert.ErrorIs(t, err, boom)
}

func TestSnapshotFromRows_BadRows(t *testing.T) {
	_, err := snapshotFromRows([]map[string]any{{"path": "a.js"}}, nil)
	assert.Error(t, err)

	_, err = snapshotFromRows(nil, []map[string]any{{"from": int64(0)}})
	assert.Error(t, err)
}
