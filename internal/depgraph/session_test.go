package depgraph

import (
	"bytes"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleSession(t *testing.T, logs *bytes.Buffer) *Session {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(logs, nil))
	s := NewSession(WithLogger(logger))
	meta := makeMetafile(
		testInput{path: "src/index.ts", bytes: 100, imports: []testImport{imp("src/app.ts"), imp("src/util.ts")}},
		testInput{path: "src/app.ts", bytes: 80, imports: []testImport{imp("src/util.ts")}},
		testInput{path: "src/util.ts", bytes: 20},
	)
	require.NoError(t, s.Init(meta, "src/index.ts"))
	return s
}

func TestSession_QueriesBeforeInitFail(t *testing.T) {
	s := NewSession(WithLogger(quietLogger()))
	assert.False(t, s.Initialized())

	// Every query fails, and keeps failing on repeat calls.
	for i := 0; i < 2; i++ {
		_, _, err := s.Module("a.js")
		assert.ErrorIs(t, err, ErrNotInitialized)

		_, err = s.ModuleID("a.js")
		assert.ErrorIs(t, err, ErrNotInitialized)

		_, err = s.ModuleByID(0)
		assert.ErrorIs(t, err, ErrNotInitialized)

		_, err = s.DependencyGraph()
		assert.ErrorIs(t, err, ErrNotInitialized)

		_, err = s.ModuleTable()
		assert.ErrorIs(t, err, ErrNotInitialized)

		_, err = s.InverseDependencies(0)
		assert.ErrorIs(t, err, ErrNotInitialized)

		_, err = s.Report()
		assert.ErrorIs(t, err, ErrNotInitialized)

		_, err = s.EntryPath()
		assert.ErrorIs(t, err, ErrNotInitialized)

		_, err = s.Path(0)
		assert.ErrorIs(t, err, ErrNotInitialized)
	}
}

func TestSession_FailedInitStaysUninitialized(t *testing.T) {
	s := NewSession(WithLogger(quietLogger()))
	bad := makeMetafile(testInput{path: "a.js", imports: []testImport{{path: "", kind: "require-call"}}})

	require.Error(t, s.Init(bad, "a.js"))
	assert.False(t, s.Initialized())

	_, err := s.DependencyGraph()
	assert.ErrorIs(t, err, ErrNotInitialized)

	// A good metafile can still initialize it afterwards.
	require.NoError(t, s.Init(makeMetafile(testInput{path: "a.js"}), "a.js"))
	assert.True(t, s.Initialized())
}

func TestSession_InitOnlyOnce(t *testing.T) {
	var logs bytes.Buffer
	s := sampleSession(t, &logs)

	err := s.Init(makeMetafile(testInput{path: "other.js"}), "other.js")
	assert.ErrorIs(t, err, ErrAlreadyInitialized)

	entry, err := s.EntryPath()
	require.NoError(t, err)
	assert.Equal(t, "src/index.ts", entry)
}

func TestSession_Lookups(t *testing.T) {
	var logs bytes.Buffer
	s := sampleSession(t, &logs)

	id, err := s.ModuleID("src/index.ts")
	require.NoError(t, err)
	assert.Equal(t, EntryID, id)

	utilID, err := s.ModuleID("src/util.ts")
	require.NoError(t, err)
	util, err := s.ModuleByID(utilID)
	require.NoError(t, err)
	assert.Equal(t, "src/util.ts", util.Path)
	assert.Equal(t, int64(20), util.Bytes)

	m, ok, err := s.Module("src/app.ts")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "src/app.ts", m.Path)
	assert.Len(t, m.Imports, 1)

	_, err = s.ModuleID("nope.ts")
	assert.ErrorIs(t, err, ErrUnknownModule)

	_, err = s.ModuleByID(42)
	assert.ErrorIs(t, err, ErrUnknownModule)

	_, err = s.InverseDependencies(42)
	assert.ErrorIs(t, err, ErrUnknownModule)
}

func TestSession_ModuleMissingWarns(t *testing.T) {
	var logs bytes.Buffer
	s := sampleSession(t, &logs)

	m, ok, err := s.Module("src/missing.ts")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Empty(t, m.Path)
	assert.Contains(t, logs.String(), "module not found in metafile")
	assert.Contains(t, logs.String(), "src/missing.ts")
}

func TestSession_BijectionAndAncestors(t *testing.T) {
	var logs bytes.Buffer
	s := sampleSession(t, &logs)

	table, err := s.ModuleTable()
	require.NoError(t, err)
	graph, err := s.DependencyGraph()
	require.NoError(t, err)
	assert.ElementsMatch(t, table.IDs(), graph.IDs())

	for id, m := range table {
		got, err := s.ModuleID(m.Path)
		require.NoError(t, err)
		assert.Equal(t, id, got)

		back, err := s.ModuleByID(got)
		require.NoError(t, err)
		assert.Equal(t, m.Path, back.Path)

		path, err := s.Path(got)
		require.NoError(t, err)
		assert.Equal(t, m.Path, path)
	}

	_, err = s.Path(42)
	assert.ErrorIs(t, err, ErrUnknownModule)

	utilID, _ := s.ModuleID("src/util.ts")
	anc, err := s.InverseDependencies(utilID)
	require.NoError(t, err)
	// util is imported by index (0) first, then app (1); app's own importer
	// index is already recorded.
	assert.Equal(t, []ModuleID{utilID, 0, 1}, anc)

	report, err := s.Report()
	require.NoError(t, err)
	assert.Equal(t, BuildReport{Modules: 3, Edges: 3}, report)
}

func TestSession_ConcurrentReaders(t *testing.T) {
	var logs bytes.Buffer
	s := sampleSession(t, &logs)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				anc, err := s.InverseDependencies(2)
				assert.NoError(t, err)
				assert.Len(t, anc, 3)
			}
		}()
	}
	wg.Wait()
}

func TestSession_PathOfEntryWithoutRecord(t *testing.T) {
	s := NewSession(WithLogger(quietLogger()))
	meta := makeMetafile(testInput{path: "lib/x.js"})
	require.NoError(t, s.Init(meta, "src/main.js"))

	path, err := s.Path(EntryID)
	require.NoError(t, err)
	assert.Equal(t, "src/main.js", path)

	_, err = s.ModuleByID(EntryID)
	assert.ErrorIs(t, err, ErrUnknownModule)
}
