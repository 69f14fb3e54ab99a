// Package engine bundles the mutable collaborators every operation needs
// (database, file namespace, diversion table, cleanup stack, force-flag
// policy, event listener) into one explicitly-passed struct, per spec.md
// §9's design note against package-level global state, generalizing the
// teacher's manifest.Repository "one struct holding all collaborators"
// shape.
package engine

import (
	"time"

	"github.com/etnz/dpkgcore/event"
	"github.com/etnz/dpkgcore/fsnamespace"
	"github.com/etnz/dpkgcore/pkgdb"
	"github.com/etnz/dpkgcore/resolver"
	"github.com/etnz/dpkgcore/unwind"
)

// Clock abstracts the current time so tests can supply a fixed instant
// instead of depending on the real clock.
type Clock func() time.Time

// Context bundles every piece of global mutable state an engine operation
// touches. Callers construct one per invocation (or reuse one across an
// entire CLI run) and pass it explicitly to unpack/actionqueue operations.
type Context struct {
	DB         *pkgdb.Database
	NS         *fsnamespace.Namespace
	Diversions *pkgdb.DiversionTable
	Stack      *unwind.Stack
	Policy     resolver.Policy
	Events     event.Listener
	Now        Clock

	// Root is the single configured install prefix every placement path is
	// resolved under.
	Root string
}

// New assembles a Context around a fresh database and namespace.
func New(root string, policy resolver.Policy, events event.Listener) *Context {
	db := pkgdb.New()
	return &Context{
		DB:         db,
		NS:         fsnamespace.New(),
		Diversions: db.Diversions(),
		Stack:      &unwind.Stack{},
		Policy:     policy,
		Events:     events,
		Now:        time.Now,
		Root:       root,
	}
}

// Emit notifies the configured listener, if any.
func (c *Context) Emit(e event.Event) {
	if c.Events != nil {
		c.Events(e)
	}
}
