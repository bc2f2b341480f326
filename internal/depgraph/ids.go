package depgraph

// Allocator hands out module ids. The entry path owns id 0 from construction;
// every other path gets the next free id the first time it is seen. Ids are
// never reassigned or released.
//
// An Allocator is not safe for concurrent use.
type Allocator struct {
	entry string
	ids   map[string]ModuleID
	paths []string
}

// NewAllocator reserves id 0 for entryPath.
func NewAllocator(entryPath string) *Allocator {
	return &Allocator{
		entry: entryPath,
		ids:   map[string]ModuleID{entryPath: EntryID},
		paths: []string{entryPath},
	}
}

// IDFor returns the id of path, minting one on first use.
func (a *Allocator) IDFor(path string) ModuleID {
	if id, ok := a.ids[path]; ok {
		return id
	}
	id := ModuleID(len(a.paths))
	a.ids[path] = id
	a.paths = append(a.paths, path)
	return id
}

// Lookup returns the id already assigned to path without minting.
func (a *Allocator) Lookup(path string) (ModuleID, bool) {
	id, ok := a.ids[path]
	return id, ok
}

// Path returns the path assigned to id.
func (a *Allocator) Path(id ModuleID) (string, bool) {
	if id < 0 || int(id) >= len(a.paths) {
		return "", false
	}
	return a.paths[id], true
}

// EntryPath returns the path reserved at id 0.
func (a *Allocator) EntryPath() string {
	return a.entry
}

// size returns how many ids have been assigned, the entry included.
func (a *Allocator) size() int {
	return len(a.paths)
}
