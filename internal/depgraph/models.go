package depgraph

import (
	"bytes"
	"encoding/json"
	"fmt"
	"maps"
	"sort"
	"strconv"

	"github.com/efebarandurmaz/metagraph/internal/metafile"
)

// ImportKind classifies how one module references another
type ImportKind string

const (
	KindEntryPoint      ImportKind = "entry-point"
	KindImportStatement ImportKind = "import-statement"
	KindRequireCall     ImportKind = "require-call"
	KindDynamicImport   ImportKind = "dynamic-import"
	KindRequireResolve  ImportKind = "require-resolve"
	KindImportRule      ImportKind = "import-rule"
	KindComposesFrom    ImportKind = "composes-from"
	KindURLToken        ImportKind = "url-token"
)

// GraphKinds are the import kinds that produce dependency edges by default.
var GraphKinds = []ImportKind{KindImportStatement, KindDynamicImport, KindRequireCall}

// ModuleID is the dense integer identity of a module. The entry module is always 0.
type ModuleID int

// EntryID is the identity reserved for the entry path.
const EntryID ModuleID = 0

// String returns the decimal form used as a JSON object key.
func (id ModuleID) String() string {
	return strconv.Itoa(int(id))
}

// ImportEdge is one reference from a module to another file.
type ImportEdge struct {
	Path     string            `json:"path"`
	Kind     ImportKind        `json:"kind"`
	External bool              `json:"external,omitempty"`
	Original string            `json:"original,omitempty"`
	With     map[string]string `json:"with,omitempty"`
}

// Module is the graph's copy of a metafile input, with its path attached.
type Module struct {
	Bytes   int64             `json:"bytes"`
	Format  string            `json:"format,omitempty"`
	Imports []ImportEdge      `json:"imports"`
	Path    string            `json:"path"`
	With    map[string]string `json:"with,omitempty"`
}

// newModule copies the fields of input into a fresh record so the caller's
// metafile is never modified.
func newModule(path string, input metafile.Input) Module {
	imports := make([]ImportEdge, len(input.Imports))
	for i, imp := range input.Imports {
		imports[i] = ImportEdge{
			Path:     imp.Path,
			Kind:     ImportKind(imp.Kind),
			External: imp.External,
			Original: imp.Original,
			With:     maps.Clone(imp.With),
		}
	}
	return Module{
		Bytes:   input.Bytes,
		Format:  input.Format,
		Imports: imports,
		Path:    path,
		With:    maps.Clone(input.With),
	}
}

// Vertex holds the forward and inverse adjacency of one module.
type Vertex struct {
	Dependencies        IDSet `json:"dependencies"`
	InverseDependencies IDSet `json:"inverseDependencies"`
}

// DependencyGraph maps module ids to their adjacency.
type DependencyGraph map[ModuleID]*Vertex

// ModuleTable maps module ids to module records. Its keys match the
// DependencyGraph built alongside it.
type ModuleTable map[ModuleID]Module

// IDs returns the graph's module ids in ascending order.
func (g DependencyGraph) IDs() []ModuleID {
	return sortedIDs(g)
}

// IDs returns the table's module ids in ascending order.
func (t ModuleTable) IDs() []ModuleID {
	return sortedIDs(t)
}

// MarshalJSON encodes the graph as an object keyed by decimal id, in id order.
func (g DependencyGraph) MarshalJSON() ([]byte, error) {
	return marshalByID(g)
}

// UnmarshalJSON decodes the object form produced by MarshalJSON.
func (g *DependencyGraph) UnmarshalJSON(data []byte) error {
	raw := map[string]*Vertex{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	out := make(DependencyGraph, len(raw))
	for key, v := range raw {
		id, err := parseID(key)
		if err != nil {
			return err
		}
		if v == nil {
			v = &Vertex{}
		}
		out[id] = v
	}
	*g = out
	return nil
}

// MarshalJSON encodes the table as an object keyed by decimal id, in id order.
func (t ModuleTable) MarshalJSON() ([]byte, error) {
	return marshalByID(t)
}

// UnmarshalJSON decodes the object form produced by MarshalJSON.
func (t *ModuleTable) UnmarshalJSON(data []byte) error {
	raw := map[string]Module{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	out := make(ModuleTable, len(raw))
	for key, m := range raw {
		id, err := parseID(key)
		if err != nil {
			return err
		}
		out[id] = m
	}
	*t = out
	return nil
}

func parseID(key string) (ModuleID, error) {
	n, err := strconv.Atoi(key)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid module id %q", key)
	}
	return ModuleID(n), nil
}

func sortedIDs[V any](m map[ModuleID]V) []ModuleID {
	ids := make([]ModuleID, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func marshalByID[V any](m map[ModuleID]V) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, id := range sortedIDs(m) {
		if i > 0 {
			buf.WriteByte(',')
		}
		value, err := json.Marshal(m[id])
		if err != nil {
			return nil, fmt.Errorf("module %d: %w", id, err)
		}
		buf.WriteString(strconv.Quote(id.String()))
		buf.WriteByte(':')
		buf.Write(value)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}
