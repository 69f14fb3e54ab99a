package pkgdb

import (
	"sync"

	"github.com/etnz/dpkgcore/fsnamespace"
)

// Diversion is a persistent mapping that redirects filesystem writes
// destined for CameFrom into UseInstead, unless the writer is Owner.
type Diversion struct {
	CameFrom   string
	UseInstead string
	Owner      *Package // nil if unowned (a local diversion with no package exemption)
}

// DiversionTable owns every diversion record, keyed by the diverted
// ("came-from") path.
type DiversionTable struct {
	mu  sync.Mutex
	byPath map[string]*Diversion
}

func newDiversionTable() *DiversionTable {
	return &DiversionTable{byPath: make(map[string]*Diversion)}
}

// Add registers a diversion. It replaces any existing diversion for the
// same came-from path.
func (t *DiversionTable) Add(d *Diversion) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.byPath[d.CameFrom] = d
}

// Remove deletes the diversion for the given came-from path, if any.
func (t *DiversionTable) Remove(cameFrom string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.byPath, cameFrom)
}

// Lookup returns the diversion for the given path (whether it names the
// diversion's came-from side), and whether one exists.
func (t *DiversionTable) Lookup(path string) (*Diversion, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	d, ok := t.byPath[path]
	return d, ok
}

// UseTarget implements the diversion query of spec.md §4.4: it returns the
// path a write by actingPackage should actually target. When path is
// diverted and actingPackage is not the diversion's owner, writes go to
// UseInstead; otherwise (no diversion, or the acting package owns it)
// writes go to path itself.
func (t *DiversionTable) UseTarget(path string, actingPackage *Package) string {
	d, ok := t.Lookup(path)
	if !ok {
		return path
	}
	if d.Owner != nil && actingPackage != nil && d.Owner.Name == actingPackage.Name {
		return path
	}
	return d.UseInstead
}

// SyncNode refreshes node's cached DiversionRef from this table's
// authoritative record for node's path. The table owns diversion records;
// the namespace node holds only this non-owning, denormalized copy so that
// unpack-time path lookups don't need a pkgdb reference. Call this whenever
// a node is looked up for writing, or after Add/Remove changes the
// diversion affecting its path.
func (t *DiversionTable) SyncNode(node *fsnamespace.Node) {
	d, ok := t.Lookup(node.Path)
	if !ok {
		node.Diversion = fsnamespace.DiversionRef{}
		return
	}
	ref := fsnamespace.DiversionRef{
		Present:    true,
		CameFrom:   d.CameFrom,
		UseInstead: d.UseInstead,
	}
	if d.Owner != nil {
		ref.OwnerName = d.Owner.Name
	}
	node.Diversion = ref
}
