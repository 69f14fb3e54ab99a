package engine

import "fmt"

// Kind is one of the exhaustive error categories of spec.md §7. Call sites
// match on kind via errors.Is against the sentinel Kind values rather than
// comparing formatted strings.
type Kind int

const (
	KindDatabaseFormat Kind = iota
	KindDatabaseIO
	KindArchiveFormat
	KindArchiveIO
	KindFilesystemIO
	KindDependencyUnsatisfied
	KindConflict
	KindFileConflict
	KindHold
	KindMaintainerScriptFailed
	KindInternal
)

func (k Kind) String() string {
	switch k {
	case KindDatabaseFormat:
		return "database-format"
	case KindDatabaseIO:
		return "database-io"
	case KindArchiveFormat:
		return "archive-format"
	case KindArchiveIO:
		return "archive-io"
	case KindFilesystemIO:
		return "filesystem-io"
	case KindDependencyUnsatisfied:
		return "dependency-unsatisfied"
	case KindConflict:
		return "conflict"
	case KindFileConflict:
		return "file-conflict"
	case KindHold:
		return "hold"
	case KindMaintainerScriptFailed:
		return "maintainer-script-failed"
	case KindInternal:
		return "internal"
	default:
		return "unknown"
	}
}

// Error is the engine's wrapped error type: every failure surfaced to a
// caller of an engine operation carries one of the Kind values above, so
// the CLI can translate it to an exit code (spec.md §6) without parsing
// message text.
type Error struct {
	Kind    Kind
	Package string // package name the error concerns, if any
	Path    string // filesystem path the error concerns, if any
	Err     error
}

func (e *Error) Error() string {
	switch {
	case e.Package != "" && e.Path != "":
		return fmt.Sprintf("%s: %s (%s): %v", e.Kind, e.Package, e.Path, e.Err)
	case e.Package != "":
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Package, e.Err)
	case e.Path != "":
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Path, e.Err)
	default:
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Is supports errors.Is(err, engine.Kind) style matching by comparing the
// wrapped Kind against a sentinel *Error carrying only a Kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// Sentinel returns a bare *Error usable as the target of errors.Is(err,
// engine.Sentinel(engine.KindFileConflict)).
func Sentinel(k Kind) error { return &Error{Kind: k} }

// Wrap builds an *Error of the given kind around err, with optional
// package/path context.
func Wrap(k Kind, pkg, path string, err error) *Error {
	return &Error{Kind: k, Package: pkg, Path: path, Err: err}
}
