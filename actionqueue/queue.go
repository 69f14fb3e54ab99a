// Package actionqueue drives packages through the 6-state lifecycle machine
// of spec.md §4.8: unpack, configure, remove, purge, each with its named
// hook sequence, plus the queue-level scan-for-configure and cascading
// removal/deconfigure passes.
package actionqueue

import (
	"fmt"

	"github.com/etnz/dpkgcore/control"
	"github.com/etnz/dpkgcore/event"
	"github.com/etnz/dpkgcore/pkgdb"
	"github.com/etnz/dpkgcore/resolver"
)

// ScriptRunner executes one maintainer-script hook for a package. The
// maintainer-script executor itself is out of scope (spec.md §1 names only
// the hooks into it); this is the seam the embedder fills in.
type ScriptRunner interface {
	Run(pkg *pkgdb.Package, script string, arg string) error
}

// Op names one of the four top-level operations spec.md §4.8 defines
// transitions for.
type Op int

const (
	OpUnpack Op = iota
	OpConfigure
	OpRemove
	OpPurge
)

func (o Op) String() string {
	switch o {
	case OpUnpack:
		return "unpack"
	case OpConfigure:
		return "configure"
	case OpRemove:
		return "remove"
	case OpPurge:
		return "purge"
	default:
		return "unknown"
	}
}

// Queue drives packages through the state machine and notifies events as it
// goes.
type Queue struct {
	runner ScriptRunner
	events event.Listener
	// Unlink performs the filesystem removal side effect for Remove and for
	// cascaded removals; it is the seam into the unpack engine's file
	// namespace bookkeeping.
	Unlink func(pkg *pkgdb.Package) error
}

// New returns a Queue driven by runner, notifying listener (which may be
// nil).
func New(runner ScriptRunner, listener event.Listener) *Queue {
	return &Queue{runner: runner, events: listener}
}

func (q *Queue) emit(e event.Event) {
	if q.events != nil {
		q.events(e)
	}
}

func (q *Queue) transition(pkg *pkgdb.Package, op Op, from, to control.Status) {
	pkg.Status = to
	q.emit(event.PackageStateChanged{Package: pkg.Name, FromState: from.String(), ToState: to.String(), Op: op.String()})
}

// Unpack drives pkg from not-installed/config-files through
// preinst(install) → extract → postrm(old, if upgrade), per the first row
// of spec.md §4.8's transition table.
func (q *Queue) Unpack(pkg *pkgdb.Package, isUpgrade bool, extract func() error) error {
	from := pkg.Status
	if from != control.StatusNotInstalled && from != control.StatusConfigFiles {
		return fmt.Errorf("actionqueue: cannot unpack package %q from state %s", pkg.Name, from)
	}
	if err := q.runner.Run(pkg, "preinst", "install"); err != nil {
		q.transition(pkg, OpUnpack, from, control.StatusHalfInstalled)
		return fmt.Errorf("preinst failed for %s: %w", pkg.Name, err)
	}
	if err := extract(); err != nil {
		q.transition(pkg, OpUnpack, from, control.StatusHalfInstalled)
		return fmt.Errorf("extracting %s: %w", pkg.Name, err)
	}
	if isUpgrade {
		if err := q.runner.Run(pkg, "postrm", "upgrade"); err != nil {
			q.transition(pkg, OpUnpack, from, control.StatusHalfInstalled)
			return fmt.Errorf("postrm(old) failed for %s: %w", pkg.Name, err)
		}
	}
	q.transition(pkg, OpUnpack, from, control.StatusUnpacked)
	return nil
}

// Configure drives pkg from unpacked to installed via postinst(configure).
func (q *Queue) Configure(pkg *pkgdb.Package) error {
	if pkg.Status != control.StatusUnpacked {
		return fmt.Errorf("actionqueue: cannot configure package %q from state %s", pkg.Name, pkg.Status)
	}
	if err := q.runner.Run(pkg, "postinst", "configure"); err != nil {
		q.transition(pkg, OpConfigure, control.StatusUnpacked, control.StatusHalfConfigured)
		return fmt.Errorf("postinst failed for %s: %w", pkg.Name, err)
	}
	q.transition(pkg, OpConfigure, control.StatusUnpacked, control.StatusInstalled)
	return nil
}

// Remove drives pkg from installed/unpacked/half-configured to config-files
// via prerm(remove) → unlink files → postrm(remove).
func (q *Queue) Remove(pkg *pkgdb.Package, unlink func() error) error {
	from := pkg.Status
	if from != control.StatusInstalled && from != control.StatusUnpacked && from != control.StatusHalfConfigured {
		return fmt.Errorf("actionqueue: cannot remove package %q from state %s", pkg.Name, from)
	}
	if err := q.runner.Run(pkg, "prerm", "remove"); err != nil {
		q.transition(pkg, OpRemove, from, control.StatusHalfInstalled)
		return fmt.Errorf("prerm failed for %s: %w", pkg.Name, err)
	}
	if err := unlink(); err != nil {
		q.transition(pkg, OpRemove, from, control.StatusHalfInstalled)
		return fmt.Errorf("unlinking files for %s: %w", pkg.Name, err)
	}
	if err := q.runner.Run(pkg, "postrm", "remove"); err != nil {
		q.transition(pkg, OpRemove, from, control.StatusHalfInstalled)
		return fmt.Errorf("postrm failed for %s: %w", pkg.Name, err)
	}
	q.transition(pkg, OpRemove, from, control.StatusConfigFiles)
	return nil
}

// Purge drives pkg from config-files to not-installed via postrm(purge).
func (q *Queue) Purge(pkg *pkgdb.Package) error {
	if pkg.Status != control.StatusConfigFiles {
		return fmt.Errorf("actionqueue: cannot purge package %q from state %s", pkg.Name, pkg.Status)
	}
	if err := q.runner.Run(pkg, "postrm", "purge"); err != nil {
		return fmt.Errorf("postrm(purge) failed for %s: %w", pkg.Name, err)
	}
	q.transition(pkg, OpPurge, control.StatusConfigFiles, control.StatusNotInstalled)
	return nil
}

// UnpackTarget is one package to unpack in an ordered batch operation.
type UnpackTarget struct {
	Package   *pkgdb.Package
	IsUpgrade bool
	Extract   func() error
}

// RunBatch executes targets' unpack hook sequences in the order given, then
// repeatedly scans for unpacked packages whose dependencies are now
// satisfied and configures them, then cascades removal/deconfiguration for
// packages the resolver marked during conflict resolution.
func (q *Queue) RunBatch(db *pkgdb.Database, targets []UnpackTarget) error {
	for _, t := range targets {
		if err := q.Unpack(t.Package, t.IsUpgrade, t.Extract); err != nil {
			return err
		}
	}
	q.configurePass(db)
	return q.cascade(db)
}

// configurePass repeatedly configures every unpacked package whose
// Pre-Depends/Depends are satisfied, until a full pass makes no progress.
func (q *Queue) configurePass(db *pkgdb.Database) {
	for {
		progressed := false
		for _, pkg := range db.Iterate() {
			if pkg.Status != control.StatusUnpacked {
				continue
			}
			if !dependenciesSatisfied(db, pkg) {
				continue
			}
			if err := q.Configure(pkg); err == nil {
				progressed = true
			}
		}
		if !progressed {
			return
		}
	}
}

func dependenciesSatisfied(db *pkgdb.Database, pkg *pkgdb.Package) bool {
	if pkg.Available == nil {
		return true
	}
	for _, kind := range []pkgdb.RelationType{pkgdb.RelPreDepends, pkgdb.RelDepends} {
		for i := range pkg.Available.Relations[kind] {
			if !resolver.ClauseSatisfied(db, &pkg.Available.Relations[kind][i]) {
				return false
			}
		}
	}
	return true
}

// cascade removes packages marked istobe=remove and deconfigures packages
// marked istobe=deconfigure, repeating until no package remains marked,
// since removing one package can itself trigger further conflict
// resolution upstream.
func (q *Queue) cascade(db *pkgdb.Database) error {
	for {
		progressed := false
		for _, pkg := range db.Iterate() {
			switch pkg.IsTobe {
			case pkgdb.DispositionRemove:
				unlink := func() error { return nil }
				if q.Unlink != nil {
					unlink = func() error { return q.Unlink(pkg) }
				}
				if err := q.Remove(pkg, unlink); err != nil {
					return err
				}
				pkg.IsTobe = pkgdb.DispositionNormal
				progressed = true
			case pkgdb.DispositionDeconfigure:
				from := pkg.Status
				q.transition(pkg, OpConfigure, from, control.StatusHalfConfigured)
				pkg.IsTobe = pkgdb.DispositionNormal
				progressed = true
			}
		}
		if !progressed {
			return nil
		}
	}
}
