package neo4j

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/efebarandurmaz/metagraph/internal/depgraph"
	"github.com/efebarandurmaz/metagraph/internal/graph"
)

// Neo4jRepository implements graph.Repository using Neo4j. Modules are
// stored as (:Module) nodes keyed by path and imports as [:IMPORTS]
// relationships carrying their position in both adjacency lists.
type Neo4jRepository struct {
	driver   neo4j.DriverWithContext
	database string
}

// NewNeo4j creates a Neo4j-backed repository.
func NewNeo4j(ctx context.Context, uri, username, password, database string) (*Neo4jRepository, error) {
	driver, err := neo4j.NewDriverWithContext(uri, neo4j.BasicAuth(username, password, ""))
	if err != nil {
		return nil, fmt.Errorf("neo4j driver: %w", err)
	}
	if err := driver.VerifyConnectivity(ctx); err != nil {
		return nil, fmt.Errorf("neo4j connectivity: %w", err)
	}
	return &Neo4jRepository{driver: driver, database: database}, nil
}

func (r *Neo4jRepository) session(ctx context.Context, mode neo4j.AccessMode) neo4j.SessionWithContext {
	return r.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: mode, DatabaseName: r.database})
}

// schemaQueries run before every store. Edges are matched by id and modules
// merged by path, so both need an index.
var schemaQueries = []string{
	"CREATE CONSTRAINT module_path IF NOT EXISTS FOR (m:Module) REQUIRE m.path IS UNIQUE",
	"CREATE INDEX module_id IF NOT EXISTS FOR (m:Module) ON (m.id)",
}

const (
	clearQuery = "MATCH (m:Module) DETACH DELETE m"

	storeModulesQuery = "UNWIND $modules AS row " +
		"MERGE (m:Module {path: row.path}) " +
		"SET m.id = row.id, m.bytes = row.bytes, m.format = row.format, m.attributes = row.attributes, " +
		"m.entry = row.entry, m.import_paths = row.import_paths, m.import_kinds = row.import_kinds, " +
		"m.import_external = row.import_external, m.import_originals = row.import_originals, " +
		"m.import_attributes = row.import_attributes"

	storeEdgesQuery = "UNWIND $edges AS row " +
		"MATCH (a:Module {id: row.from}) " +
		"MATCH (b:Module {id: row.to}) " +
		"MERGE (a)-[e:IMPORTS]->(b) " +
		"SET e.dep_index = row.dep_index, e.inv_index = row.inv_index"

	loadModulesQuery = "MATCH (m:Module) " +
		"RETURN m.id AS id, m.path AS path, m.bytes AS bytes, m.format AS format, m.attributes AS attributes, " +
		"m.entry AS entry, m.import_paths AS import_paths, m.import_kinds AS import_kinds, " +
		"m.import_external AS import_external, m.import_originals AS import_originals, " +
		"m.import_attributes AS import_attributes"

	loadEdgesQuery = "MATCH (a:Module)-[e:IMPORTS]->(b:Module) " +
		"RETURN a.id AS from, b.id AS to, e.dep_index AS dep_index, e.inv_index AS inv_index"

	dependentsQuery = "MATCH (:Module {path: $path})<-[e:IMPORTS]-(d:Module) " +
		"RETURN d.path AS path ORDER BY e.inv_index"

	moduleByPathQuery = "MATCH (m:Module {path: $path}) RETURN m.id AS id, m.path AS path"

	// importersQuery expands one hop. Callers pass every id already reached
	// so no module is returned twice.
	importersQuery = "MATCH (m:Module)<-[:IMPORTS]-(a:Module) " +
		"WHERE m.id IN $frontier AND NOT a.id IN $seen " +
		"RETURN DISTINCT a.id AS id, a.path AS path"
)

func (r *Neo4jRepository) StoreGraph(ctx context.Context, snap *graph.Snapshot) error {
	if snap == nil {
		return fmt.Errorf("store graph: %w", graph.ErrNoGraph)
	}
	modules, err := moduleRows(snap)
	if err != nil {
		return fmt.Errorf("store graph: %w", err)
	}

	session := r.session(ctx, neo4j.AccessModeWrite)
	defer session.Close(ctx)

	// Schema changes cannot share a transaction with data writes.
	for _, q := range schemaQueries {
		if _, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
			res, err := tx.Run(ctx, q, nil)
			if err != nil {
				return nil, err
			}
			return res.Consume(ctx)
		}); err != nil {
			return fmt.Errorf("store graph schema: %w", err)
		}
	}

	_, err = session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		if _, err := tx.Run(ctx, clearQuery, nil); err != nil {
			return nil, err
		}
		if _, err := tx.Run(ctx, storeModulesQuery, map[string]any{"modules": modules}); err != nil {
			return nil, err
		}
		if _, err := tx.Run(ctx, storeEdgesQuery, map[string]any{"edges": edgeRows(snap.Graph)}); err != nil {
			return nil, err
		}
		return nil, nil
	})
	if err != nil {
		return fmt.Errorf("store graph: %w", err)
	}
	return nil
}

func (r *Neo4jRepository) LoadGraph(ctx context.Context) (*graph.Snapshot, error) {
	session := r.session(ctx, neo4j.AccessModeRead)
	defer session.Close(ctx)

	result, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		var modules, edges []map[string]any

		records, err := tx.Run(ctx, loadModulesQuery, nil)
		if err != nil {
			return nil, err
		}
		for records.Next(ctx) {
			modules = append(modules, records.Record().AsMap())
		}
		if err := records.Err(); err != nil {
			return nil, err
		}

		records, err = tx.Run(ctx, loadEdgesQuery, nil)
		if err != nil {
			return nil, err
		}
		for records.Next(ctx) {
			edges = append(edges, records.Record().AsMap())
		}
		if err := records.Err(); err != nil {
			return nil, err
		}
		return snapshotFromRows(modules, edges)
	})
	if err != nil {
		return nil, fmt.Errorf("load graph: %w", err)
	}
	return result.(*graph.Snapshot), nil
}

func (r *Neo4jRepository) QueryDependents(ctx context.Context, path string) ([]string, error) {
	return r.queryPaths(ctx, dependentsQuery, path)
}

func (r *Neo4jRepository) QueryAncestors(ctx context.Context, path string) ([]string, error) {
	session := r.session(ctx, neo4j.AccessModeRead)
	defer session.Close(ctx)

	result, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		start, err := collectModuleRows(ctx, tx, moduleByPathQuery, map[string]any{"path": path})
		if err != nil {
			return nil, err
		}
		if len(start) == 0 {
			return nil, fmt.Errorf("%w: %s", depgraph.ErrUnknownModule, path)
		}
		return closeAncestors(start[0], func(frontier, seen []int64) ([]moduleRef, error) {
			return collectModuleRows(ctx, tx, importersQuery, map[string]any{
				"frontier": frontier,
				"seen":     seen,
			})
		})
	})
	if err != nil {
		return nil, err
	}
	return result.([]string), nil
}

// moduleRef is an (id, path) pair read back from the database.
type moduleRef struct {
	id   int64
	path string
}

func collectModuleRows(ctx context.Context, tx neo4j.ManagedTransaction, query string, params map[string]any) ([]moduleRef, error) {
	records, err := tx.Run(ctx, query, params)
	if err != nil {
		return nil, err
	}
	var refs []moduleRef
	for records.Next(ctx) {
		rec := records.Record()
		id, _ := rec.Get("id")
		p, _ := rec.Get("path")
		n, ok := id.(int64)
		if !ok {
			return nil, fmt.Errorf("module row without id: %v", rec.AsMap())
		}
		s, _ := p.(string)
		refs = append(refs, moduleRef{id: n, path: s})
	}
	return refs, records.Err()
}

// closeAncestors walks importers outward from start one hop per call to
// expand, passing the ids already reached so each module is fetched once.
// The result includes start and is ordered by id.
func closeAncestors(start moduleRef, expand func(frontier, seen []int64) ([]moduleRef, error)) ([]string, error) {
	found := []moduleRef{start}
	reached := map[int64]bool{start.id: true}
	seen := []int64{start.id}
	frontier := []int64{start.id}

	for len(frontier) > 0 {
		refs, err := expand(frontier, seen)
		if err != nil {
			return nil, err
		}
		var next []int64
		for _, ref := range refs {
			if reached[ref.id] {
				continue
			}
			reached[ref.id] = true
			seen = append(seen, ref.id)
			next = append(next, ref.id)
			found = append(found, ref)
		}
		frontier = next
	}

	sort.Slice(found, func(i, j int) bool { return found[i].id < found[j].id })
	paths := make([]string, len(found))
	for i, ref := range found {
		paths[i] = ref.path
	}
	return paths, nil
}

func (r *Neo4jRepository) queryPaths(ctx context.Context, query, path string) ([]string, error) {
	session := r.session(ctx, neo4j.AccessModeRead)
	defer session.Close(ctx)

	result, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		records, err := tx.Run(ctx, query, map[string]any{"path": path})
		if err != nil {
			return nil, err
		}
		var paths []string
		for records.Next(ctx) {
			p, _ := records.Record().Get("path")
			if s, ok := p.(string); ok {
				paths = append(paths, s)
			}
		}
		return paths, records.Err()
	})
	if err != nil {
		return nil, err
	}
	return result.([]string), nil
}

// Ping checks that the database is reachable.
func (r *Neo4jRepository) Ping(ctx context.Context) error {
	return r.driver.VerifyConnectivity(ctx)
}

func (r *Neo4jRepository) Close(ctx context.Context) error {
	return r.driver.Close(ctx)
}

var _ graph.Repository = (*Neo4jRepository)(nil)

// moduleRows flattens the module table into Cypher parameters. Neo4j
// properties cannot hold maps, so attribute maps travel as JSON strings and
// an absent map is the empty string.
func moduleRows(snap *graph.Snapshot) ([]map[string]any, error) {
	rows := make([]map[string]any, 0, len(snap.Modules))
	for _, id := range snap.Modules.IDs() {
		m := snap.Modules[id]
		paths := make([]string, len(m.Imports))
		kinds := make([]string, len(m.Imports))
		external := make([]bool, len(m.Imports))
		originals := make([]string, len(m.Imports))
		with := make([]string, len(m.Imports))
		for i, imp := range m.Imports {
			paths[i] = imp.Path
			kinds[i] = string(imp.Kind)
			external[i] = imp.External
			originals[i] = imp.Original
			w, err := encodeWith(imp.With)
			if err != nil {
				return nil, fmt.Errorf("module %s import %d: %w", m.Path, i, err)
			}
			with[i] = w
		}
		moduleWith, err := encodeWith(m.With)
		if err != nil {
			return nil, fmt.Errorf("module %s: %w", m.Path, err)
		}
		rows = append(rows, map[string]any{
			"id":                int64(id),
			"path":              m.Path,
			"bytes":             m.Bytes,
			"format":            m.Format,
			"attributes":        moduleWith,
			"entry":             id == depgraph.EntryID,
			"import_paths":      paths,
			"import_kinds":      kinds,
			"import_external":   external,
			"import_originals":  originals,
			"import_attributes": with,
		})
	}
	return rows, nil
}

func encodeWith(with map[string]string) (string, error) {
	if len(with) == 0 {
		return "", nil
	}
	data, err := json.Marshal(with)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func decodeWith(raw any) (map[string]string, error) {
	s, _ := raw.(string)
	if s == "" {
		return nil, nil
	}
	var with map[string]string
	if err := json.Unmarshal([]byte(s), &with); err != nil {
		return nil, fmt.Errorf("decode with attributes: %w", err)
	}
	return with, nil
}

// edgeRows lists every forward edge with its position in the importer's
// dependencies and in the target's inverse dependencies.
func edgeRows(g depgraph.DependencyGraph) []map[string]any {
	var rows []map[string]any
	for _, from := range g.IDs() {
		for i, to := range g[from].Dependencies.IDs() {
			inv := -1
			if target, ok := g[to]; ok {
				for j, p := range target.InverseDependencies.IDs() {
					if p == from {
						inv = j
						break
					}
				}
			}
			rows = append(rows, map[string]any{
				"from":      int64(from),
				"to":        int64(to),
				"dep_index": int64(i),
				"inv_index": int64(inv),
			})
		}
	}
	return rows
}

// snapshotFromRows rebuilds a snapshot from stored node and relationship rows.
func snapshotFromRows(nodes, rels []map[string]any) (*graph.Snapshot, error) {
	snap := &graph.Snapshot{
		Graph:   make(depgraph.DependencyGraph, len(nodes)),
		Modules: make(depgraph.ModuleTable, len(nodes)),
	}

	for _, row := range nodes {
		id, ok := row["id"].(int64)
		if !ok {
			return nil, fmt.Errorf("module row without id: %v", row)
		}
		path, _ := row["path"].(string)
		bytes, _ := row["bytes"].(int64)
		format, _ := row["format"].(string)
		paths, _ := row["import_paths"].([]any)
		kinds, _ := row["import_kinds"].([]any)
		external, _ := row["import_external"].([]any)
		originals, _ := row["import_originals"].([]any)
		with, _ := row["import_attributes"].([]any)

		imports := make([]depgraph.ImportEdge, 0, len(paths))
		for i := range paths {
			imp := depgraph.ImportEdge{}
			imp.Path, _ = paths[i].(string)
			if i < len(kinds) {
				k, _ := kinds[i].(string)
				imp.Kind = depgraph.ImportKind(k)
			}
			if i < len(external) {
				imp.External, _ = external[i].(bool)
			}
			if i < len(originals) {
				imp.Original, _ = originals[i].(string)
			}
			if i < len(with) {
				w, err := decodeWith(with[i])
				if err != nil {
					return nil, fmt.Errorf("module %s import %d: %w", path, i, err)
				}
				imp.With = w
			}
			imports = append(imports, imp)
		}
		moduleWith, err := decodeWith(row["attributes"])
		if err != nil {
			return nil, fmt.Errorf("module %s: %w", path, err)
		}

		mid := depgraph.ModuleID(id)
		snap.Modules[mid] = depgraph.Module{Bytes: bytes, Format: format, Imports: imports, Path: path, With: moduleWith}
		snap.Graph[mid] = &depgraph.Vertex{}
		if entry, _ := row["entry"].(bool); entry {
			snap.EntryPath = path
		}
	}

	type edge struct {
		from, to       depgraph.ModuleID
		depIdx, invIdx int64
	}
	edges := make([]edge, 0, len(rels))
	for _, row := range rels {
		from, ok1 := row["from"].(int64)
		to, ok2 := row["to"].(int64)
		if !ok1 || !ok2 {
			return nil, fmt.Errorf("edge row without endpoints: %v", row)
		}
		depIdx, _ := row["dep_index"].(int64)
		invIdx, _ := row["inv_index"].(int64)
		edges = append(edges, edge{depgraph.ModuleID(from), depgraph.ModuleID(to), depIdx, invIdx})
	}

	sort.SliceStable(edges, func(i, j int) bool {
		if edges[i].from != edges[j].from {
			return edges[i].from < edges[j].from
		}
		return edges[i].depIdx < edges[j].depIdx
	})
	for _, e := range edges {
		if v, ok := snap.Graph[e.from]; ok {
			v.Dependencies.Add(e.to)
		}
	}

	sort.SliceStable(edges, func(i, j int) bool {
		if edges[i].to != edges[j].to {
			return edges[i].to < edges[j].to
		}
		return edges[i].invIdx < edges[j].invIdx
	})
	for _, e := range edges {
		if v, ok := snap.Graph[e.to]; ok {
			v.InverseDependencies.Add(e.from)
		}
	}

	return snap, nil
}
