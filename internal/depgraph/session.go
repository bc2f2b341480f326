package depgraph

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/efebarandurmaz/metagraph/internal/metafile"
)

var (
	// ErrNotInitialized is returned by every query made before Init succeeds.
	// It signals a usage bug and should not be retried.
	ErrNotInitialized = errors.New("dependency graph not initialized")

	// ErrAlreadyInitialized is returned by a second Init; a graph is built once.
	ErrAlreadyInitialized = errors.New("dependency graph already initialized")
)

// Session owns one dependency graph and answers queries about it. It starts
// uninitialized; Init builds the graph exactly once, after which the session
// is read-only and safe for concurrent use.
type Session struct {
	mu      sync.RWMutex
	builder *Builder
	result  *Result
}

// NewSession creates an uninitialized session.
func NewSession(opts ...Option) *Session {
	return &Session{builder: NewBuilder(opts...)}
}

// Init builds the graph from meta with entryPath at id 0. A failed build
// leaves the session uninitialized.
func (s *Session) Init(meta *metafile.Metafile, entryPath string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.result != nil {
		return ErrAlreadyInitialized
	}
	result, err := s.builder.Build(meta, entryPath)
	if err != nil {
		return fmt.Errorf("build dependency graph: %w", err)
	}
	s.result = result
	return nil
}

// Initialized reports whether Init has completed.
func (s *Session) Initialized() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.result != nil
}

func (s *Session) ready(op string) (*Result, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.result == nil {
		return nil, fmt.Errorf("%s: %w", op, ErrNotInitialized)
	}
	return s.result, nil
}

func (s *Session) logger() *slog.Logger {
	return s.builder.logger
}

// Module returns the module recorded for path. A path that is not in the
// metafile is logged and reported with ok == false.
func (s *Session) Module(path string) (Module, bool, error) {
	r, err := s.ready("Module")
	if err != nil {
		return Module{}, false, err
	}
	if id, ok := r.IDs.Lookup(path); ok {
		if m, ok := r.Modules[id]; ok {
			return m, true, nil
		}
	}
	s.logger().Warn("module not found in metafile", "path", path)
	return Module{}, false, nil
}

// ModuleID returns the id assigned to path. The entry path is always 0.
func (s *Session) ModuleID(path string) (ModuleID, error) {
	r, err := s.ready("ModuleID")
	if err != nil {
		return 0, err
	}
	id, ok := r.IDs.Lookup(path)
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnknownModule, path)
	}
	return id, nil
}

// Path returns the path assigned to id. The entry path resolves even when
// the metafile has no record for it.
func (s *Session) Path(id ModuleID) (string, error) {
	r, err := s.ready("Path")
	if err != nil {
		return "", err
	}
	path, ok := r.IDs.Path(id)
	if !ok {
		return "", fmt.Errorf("%w: id %d", ErrUnknownModule, id)
	}
	return path, nil
}

// ModuleByID returns the module registered under id.
func (s *Session) ModuleByID(id ModuleID) (Module, error) {
	r, err := s.ready("ModuleByID")
	if err != nil {
		return Module{}, err
	}
	m, ok := r.Modules[id]
	if !ok {
		return Module{}, fmt.Errorf("%w: id %d", ErrUnknownModule, id)
	}
	return m, nil
}

// DependencyGraph returns the built graph. Callers must not modify it.
func (s *Session) DependencyGraph() (DependencyGraph, error) {
	r, err := s.ready("DependencyGraph")
	if err != nil {
		return nil, err
	}
	return r.Graph, nil
}

// ModuleTable returns the module table. Callers must not modify it.
func (s *Session) ModuleTable() (ModuleTable, error) {
	r, err := s.ready("ModuleTable")
	if err != nil {
		return nil, err
	}
	return r.Modules, nil
}

// InverseDependencies returns id and all of its transitive importers. See Ancestors.
func (s *Session) InverseDependencies(id ModuleID) ([]ModuleID, error) {
	r, err := s.ready("InverseDependencies")
	if err != nil {
		return nil, err
	}
	return Ancestors(r.Graph, id)
}

// Report returns the build counters.
func (s *Session) Report() (BuildReport, error) {
	r, err := s.ready("Report")
	if err != nil {
		return BuildReport{}, err
	}
	return r.Report, nil
}

// EntryPath returns the path reserved at id 0.
func (s *Session) EntryPath() (string, error) {
	r, err := s.ready("EntryPath")
	if err != nil {
		return "", err
	}
	return r.IDs.EntryPath(), nil
}
