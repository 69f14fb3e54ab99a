package pkgdb

import (
	"fmt"
	"sort"
	"sync"
)

// Database is the process-wide directory of packages, keyed by name, plus
// the diversion table. Packages are created lazily on first mention and
// retained for the process lifetime.
type Database struct {
	mu         sync.Mutex
	packages   map[string]*Package
	diversions *DiversionTable
}

// New returns an empty database.
func New() *Database {
	return &Database{
		packages:   make(map[string]*Package),
		diversions: newDiversionTable(),
	}
}

// Diversions returns the database's diversion table.
func (db *Database) Diversions() *DiversionTable {
	return db.diversions
}

// FindOrCreate returns the package named name, creating an empty record on
// first mention.
func (db *Database) FindOrCreate(name string) *Package {
	db.mu.Lock()
	defer db.mu.Unlock()
	if pkg, ok := db.packages[name]; ok {
		return pkg
	}
	pkg := NewPackage(name)
	db.packages[name] = pkg
	return pkg
}

// Find returns the package named name, or nil if it has never been
// mentioned.
func (db *Database) Find(name string) *Package {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.packages[name]
}

// Iterate returns every package in the database, ordered by name for
// deterministic iteration (the underlying directory is a hash map with no
// inherent order).
func (db *Database) Iterate() []*Package {
	db.mu.Lock()
	defer db.mu.Unlock()
	names := make([]string, 0, len(db.packages))
	for name := range db.packages {
		names = append(names, name)
	}
	sort.Strings(names)
	out := make([]*Package, len(names))
	for i, name := range names {
		out[i] = db.packages[name]
	}
	return out
}

// AttachPossibility records owner, target and relation type on poss and
// threads it onto the target package's reverse list. It does not add poss
// to owner's forward list: the caller appends it to the owning clause.
// The target package is created lazily if it has not been mentioned
// before (a forward declaration of a not-yet-parsed dependency).
func (db *Database) AttachPossibility(owner *Package, kind RelationType, clauseIndex int, poss *Possibility) {
	target := db.FindOrCreate(poss.Possibility.Target)
	poss.Owner = owner
	poss.Target = target
	poss.Type = kind
	target.ReverseRelations = append(target.ReverseRelations, poss)
}

// DetachPossibility unthreads poss from its target's reverse list. It must
// be called whenever a possibility is removed from an owner's forward
// list, preserving the reverse-index invariant.
func (db *Database) DetachPossibility(poss *Possibility) {
	if poss.Target == nil {
		return
	}
	rev := poss.Target.ReverseRelations
	for i, candidate := range rev {
		if candidate == poss {
			poss.Target.ReverseRelations = append(rev[:i], rev[i+1:]...)
			return
		}
	}
}

// ReverseRelationsOf returns every possibility, across every package's
// forward list, that targets pkg under the given relation type.
func (pkg *Package) ReverseRelationsOf(kind RelationType) []*Possibility {
	var out []*Possibility
	for _, poss := range pkg.ReverseRelations {
		if poss.Type == kind {
			out = append(out, poss)
		}
	}
	return out
}

// errDatabase wraps a database-layer I/O or format failure.
func errDatabase(format string, args ...any) error {
	return fmt.Errorf(format, args...)
}
