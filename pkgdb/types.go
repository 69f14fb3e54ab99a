// Package pkgdb implements the in-memory package database: packages keyed
// by name, their installed/available snapshots, the reverse-dependency
// index threaded through relationship possibilities, and the diversion
// table, together with crash-safe persistence to the status/available
// files.
package pkgdb

import "github.com/etnz/dpkgcore/control"

// RelationType names one of the typed relationship fields a snapshot
// carries.
type RelationType string

const (
	RelPreDepends RelationType = "Pre-Depends"
	RelDepends    RelationType = "Depends"
	RelRecommends RelationType = "Recommends"
	RelSuggests   RelationType = "Suggests"
	RelConflicts  RelationType = "Conflicts"
	RelEnhances   RelationType = "Enhances"
	RelReplaces   RelationType = "Replaces"
	RelProvides   RelationType = "Provides"
)

// relationOrder fixes the iteration order used when serializing a
// snapshot's relationships, matching the field catalog order.
var relationOrder = []RelationType{
	RelPreDepends, RelDepends, RelRecommends, RelSuggests,
	RelEnhances, RelConflicts, RelProvides, RelReplaces,
}

// Possibility is one alternative in a relationship clause, annotated with
// its owning package and the resolved target so it can be threaded onto
// the target's reverse-relation list. The reverse index invariant (pkgdb
// §4.3): every possibility appears exactly once on its owner's forward
// list and exactly once on its target's reverse list.
type Possibility struct {
	control.Possibility
	Owner  *Package
	Target *Package
	Type   RelationType
}

// Clause is a disjunction of possibilities, one item of a relationship
// field's comma-separated list.
type Clause struct {
	Possibilities []*Possibility
}

// Conffile is a path/hash pair recording a configuration file's expected
// content at the time the snapshot was taken.
type Conffile struct {
	Path string
	Hash string
}

// Disposition is the per-package scratch flag set during an operation to
// record its planned outcome.
type Disposition int

const (
	DispositionNormal Disposition = iota
	DispositionRemove
	DispositionDeconfigure
)

// Snapshot is one of a package's two per-file records (installed or
// available). It is "valid" when any field has been populated.
type Snapshot struct {
	Version     string
	Revision    string
	Essential   bool
	Relations   map[RelationType][]Clause
	Conffiles   []Conffile
	ExtraFields map[string]string
}

// Valid reports whether the snapshot carries any information at all.
func (s *Snapshot) Valid() bool {
	if s == nil {
		return false
	}
	if s.Version != "" || s.Revision != "" || s.Essential {
		return true
	}
	for _, clauses := range s.Relations {
		if len(clauses) > 0 {
			return true
		}
	}
	if len(s.Conffiles) > 0 || len(s.ExtraFields) > 0 {
		return true
	}
	return false
}

func newSnapshot() *Snapshot {
	return &Snapshot{
		Relations:   make(map[RelationType][]Clause),
		ExtraFields: make(map[string]string),
	}
}

// Package is the database's unit of identity: a name, the tri-state
// want/eflag/status tuple, and the two snapshots.
type Package struct {
	Name   string
	Want   control.Want
	Eflag  control.Eflag
	Status control.Status

	Installed *Snapshot
	Available *Snapshot

	// ConfigVersion is present iff Status is one of unpacked, half-configured,
	// half-installed, config-files.
	ConfigVersion string

	Section        string
	Priority       control.Priority
	PriorityOther  string // free-form value when Priority == PriorityOther
	ExtraFields    map[string]string

	// ReverseRelations holds non-owning back-references: possibilities,
	// owned by other packages' forward lists, that name this package as
	// their target. A possibility naming a virtual package is threaded onto
	// that virtual package's own record, not onto its providers.
	ReverseRelations []*Possibility

	// Files lists the canonical paths this package claims, independent of
	// the shared fsnamespace node bookkeeping.
	Files []string

	// IsTobe is scratch state set during conflict resolution / an
	// in-progress operation; it is never persisted.
	IsTobe Disposition

	// replacingAnnounced records, per other-package name, that this
	// package's Replaces clause has already been consulted and announced
	// for that package during the current unpack operation.
	replacingAnnounced map[string]bool
}

// NewPackage creates an empty package record for the given name.
func NewPackage(name string) *Package {
	return &Package{
		Name:               name,
		Installed:          newSnapshot(),
		Available:          newSnapshot(),
		ExtraFields:        make(map[string]string),
		replacingAnnounced: make(map[string]bool),
	}
}

// AnnouncedReplacing reports whether this package has already announced it
// is replacing files from the named package during the current operation.
func (p *Package) AnnouncedReplacing(other string) bool {
	return p.replacingAnnounced[other]
}

// AnnounceReplacing marks that this package is replacing files from the
// named package, for the remainder of the current operation.
func (p *Package) AnnounceReplacing(other string) {
	if p.replacingAnnounced == nil {
		p.replacingAnnounced = make(map[string]bool)
	}
	p.replacingAnnounced[other] = true
}

// snapshotOf returns the requested snapshot.
func (p *Package) snapshotOf(kind SnapshotKind) *Snapshot {
	if kind == Installed {
		return p.Installed
	}
	return p.Available
}

// SnapshotKind selects which of a package's two snapshots an operation
// targets.
type SnapshotKind int

const (
	Installed SnapshotKind = iota
	Available
)
