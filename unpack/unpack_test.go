package unpack

import (
	"archive/tar"
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/etnz/dpkgcore/archive"
	"github.com/etnz/dpkgcore/control"
	"github.com/etnz/dpkgcore/engine"
	"github.com/etnz/dpkgcore/pkgdb"
	"github.com/etnz/dpkgcore/resolver"
)

func buildTar(t *testing.T, hdrs []tar.Header, contents []string) *archive.Reader {
	t.Helper()
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	for i := range hdrs {
		h := hdrs[i]
		if err := tw.WriteHeader(&h); err != nil {
			t.Fatal(err)
		}
		if i < len(contents) && contents[i] != "" {
			if _, err := tw.Write([]byte(contents[i])); err != nil {
				t.Fatal(err)
			}
		}
	}
	if err := tw.Close(); err != nil {
		t.Fatal(err)
	}
	return archive.NewReader(&buf)
}

func nextEntry(t *testing.T, r *archive.Reader) *archive.Entry {
	t.Helper()
	e, err := r.Next()
	if err != nil {
		t.Fatalf("Next() error = %v", err)
	}
	return e
}

func newTestContext(t *testing.T, force resolver.ForceFlags) *engine.Context {
	t.Helper()
	root := t.TempDir()
	return engine.New(root, resolver.Policy{Force: force}, nil)
}

func TestPlaceEntryNormalFileRenamesIntoPlace(t *testing.T) {
	ctx := newTestContext(t, resolver.ForceFlags{})
	eng := New(ctx)

	if err := os.MkdirAll(filepath.Join(ctx.Root, "usr/bin"), 0755); err != nil {
		t.Fatal(err)
	}

	r := buildTar(t, []tar.Header{
		{Name: "usr/bin/t", Mode: 0755, Size: 5, Typeflag: tar.TypeReg, Uid: os.Getuid(), Gid: os.Getgid()},
	}, []string{"hello"})
	entry := nextEntry(t, r)

	pkg := ctx.DB.FindOrCreate("foo")
	if err := eng.PlaceEntry(pkg, entry, false); err != nil {
		t.Fatalf("PlaceEntry() error = %v", err)
	}

	content, err := os.ReadFile(filepath.Join(ctx.Root, "usr/bin/t"))
	if err != nil {
		t.Fatalf("reading placed file: %v", err)
	}
	if string(content) != "hello" {
		t.Errorf("content = %q, want %q", content, "hello")
	}
	if _, err := os.Lstat(filepath.Join(ctx.Root, "usr/bin/t.dpkg-new")); !os.IsNotExist(err) {
		t.Errorf("expected .dpkg-new to be gone after commit")
	}
}

func TestPlaceEntryDirectoryOverDirectoryIsNoop(t *testing.T) {
	ctx := newTestContext(t, resolver.ForceFlags{})
	eng := New(ctx)

	if err := os.MkdirAll(filepath.Join(ctx.Root, "usr"), 0755); err != nil {
		t.Fatal(err)
	}

	r := buildTar(t, []tar.Header{
		{Name: "usr", Mode: 0755, Typeflag: tar.TypeDir},
	}, nil)
	entry := nextEntry(t, r)

	pkg := ctx.DB.FindOrCreate("foo")
	if err := eng.PlaceEntry(pkg, entry, false); err != nil {
		t.Fatalf("PlaceEntry() error = %v", err)
	}

	node := ctx.NS.Find("/usr")
	if node == nil {
		t.Fatal("expected a node to be interned for /usr")
	}
	claimants := node.Claimants()
	if len(claimants) != 1 || claimants[0] != "foo" {
		t.Errorf("claimants = %v, want [foo]", claimants)
	}
}

// TestFileConflictWithoutReplacesRefuses covers scenario S3: a second
// package claims an already-owned path with no Replaces, and the original
// file must be left untouched.
func TestFileConflictWithoutReplacesRefuses(t *testing.T) {
	ctx := newTestContext(t, resolver.ForceFlags{})
	eng := New(ctx)

	other := ctx.DB.FindOrCreate("other")
	other.Status = control.StatusInstalled
	other.Installed = &pkgdb.Snapshot{Version: "1", Relations: map[pkgdb.RelationType][]pkgdb.Clause{}}
	node := ctx.NS.FindOrCreate("/usr/bin/t")
	node.AddClaimant("other")

	if err := os.MkdirAll(filepath.Join(ctx.Root, "usr/bin"), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(ctx.Root, "usr/bin/t"), []byte("original"), 0644); err != nil {
		t.Fatal(err)
	}

	r := buildTar(t, []tar.Header{
		{Name: "usr/bin/t", Mode: 0644, Size: 3, Typeflag: tar.TypeReg, Uid: os.Getuid(), Gid: os.Getgid()},
	}, []string{"new"})
	entry := nextEntry(t, r)

	pkg := ctx.DB.FindOrCreate("installing")
	pkg.Available = &pkgdb.Snapshot{Version: "1", Relations: map[pkgdb.RelationType][]pkgdb.Clause{}}

	err := eng.PlaceEntry(pkg, entry, false)
	if err == nil {
		t.Fatal("expected a file-conflict error")
	}
	var engErr *engine.Error
	if !errorsAs(err, &engErr) || engErr.Kind != engine.KindFileConflict {
		t.Errorf("error = %v, want a FileConflict engine.Error", err)
	}

	content, err := os.ReadFile(filepath.Join(ctx.Root, "usr/bin/t"))
	if err != nil {
		t.Fatal(err)
	}
	if string(content) != "original" {
		t.Errorf("content = %q, want the original file left untouched", content)
	}
}

// TestFileConflictWithSatisfiedReplacesSucceeds covers scenario S4: the
// same setup, but the installing package's available snapshot declares a
// satisfied Replaces on the claimant.
func TestFileConflictWithSatisfiedReplacesSucceeds(t *testing.T) {
	ctx := newTestContext(t, resolver.ForceFlags{})
	eng := New(ctx)

	other := ctx.DB.FindOrCreate("other")
	other.Status = control.StatusInstalled
	other.Installed = &pkgdb.Snapshot{Version: "1", Relations: map[pkgdb.RelationType][]pkgdb.Clause{}}
	node := ctx.NS.FindOrCreate("/usr/bin/t")
	node.AddClaimant("other")

	if err := os.MkdirAll(filepath.Join(ctx.Root, "usr/bin"), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(ctx.Root, "usr/bin/t"), []byte("original"), 0644); err != nil {
		t.Fatal(err)
	}

	pkg := ctx.DB.FindOrCreate("installing")
	pkg.Available = &pkgdb.Snapshot{
		Version: "1",
		Relations: map[pkgdb.RelationType][]pkgdb.Clause{
			pkgdb.RelReplaces: {{Possibilities: []*pkgdb.Possibility{
				{Possibility: control.Possibility{Target: "other", Op: control.OpLT, Version: "2"}, Target: other},
			}}},
		},
	}

	r := buildTar(t, []tar.Header{
		{Name: "usr/bin/t", Mode: 0644, Size: 3, Typeflag: tar.TypeReg, Uid: os.Getuid(), Gid: os.Getgid()},
	}, []string{"new"})
	entry := nextEntry(t, r)

	if err := eng.PlaceEntry(pkg, entry, false); err != nil {
		t.Fatalf("PlaceEntry() error = %v", err)
	}
	if !pkg.AnnouncedReplacing(other.Name) {
		t.Errorf("expected the installing package to have announced replacing %q", other.Name)
	}

	content, err := os.ReadFile(filepath.Join(ctx.Root, "usr/bin/t"))
	if err != nil {
		t.Fatal(err)
	}
	if string(content) != "new" {
		t.Errorf("content = %q, want %q", content, "new")
	}
}

// TestCommitRecoversInterruptedBackup covers scenario S5: a process killed
// after rename(live, live.dpkg-tmp) but before rename(live.dpkg-new, live)
// must, on a subsequent run, recover by renaming live.dpkg-tmp back to
// live before proceeding.
func TestCommitRecoversInterruptedBackup(t *testing.T) {
	ctx := newTestContext(t, resolver.ForceFlags{})
	eng := New(ctx)

	liveDir := filepath.Join(ctx.Root, "usr/bin")
	if err := os.MkdirAll(liveDir, 0755); err != nil {
		t.Fatal(err)
	}
	live := filepath.Join(liveDir, "t")
	dpkgTmp := live + ".dpkg-tmp"
	// Simulate the crash point: live renamed away, live.dpkg-new never
	// created (prior run never reached step 7, or was killed before it).
	if err := os.WriteFile(dpkgTmp, []byte("original"), 0644); err != nil {
		t.Fatal(err)
	}

	r := buildTar(t, []tar.Header{
		{Name: "usr/bin/t", Mode: 0644, Size: 3, Typeflag: tar.TypeReg, Uid: os.Getuid(), Gid: os.Getgid()},
	}, []string{"new"})
	entry := nextEntry(t, r)

	pkg := ctx.DB.FindOrCreate("foo")
	if err := eng.PlaceEntry(pkg, entry, false); err != nil {
		t.Fatalf("PlaceEntry() error = %v", err)
	}

	content, err := os.ReadFile(live)
	if err != nil {
		t.Fatal(err)
	}
	if string(content) != "new" {
		t.Errorf("content = %q, want %q (new content placed after tmp recovery)", content, "new")
	}
	// The recovery rename consumed the stale .dpkg-tmp; the commit then
	// backed the recovered live file up to a fresh .dpkg-tmp.
	backup, err := os.ReadFile(dpkgTmp)
	if err != nil {
		t.Fatalf("expected .dpkg-tmp to hold the backup of the recovered file: %v", err)
	}
	if string(backup) != "original" {
		t.Errorf(".dpkg-tmp content = %q, want %q (backup of the recovered live file)", backup, "original")
	}
}

// TestDiversionRedirectsPlacement covers property 7: a diverted path is
// placed at its use-instead target rather than its nominal path.
func TestDiversionRedirectsPlacement(t *testing.T) {
	ctx := newTestContext(t, resolver.ForceFlags{})
	eng := New(ctx)

	ctx.Diversions.Add(&pkgdb.Diversion{CameFrom: "/etc/foo.conf", UseInstead: "/etc/foo.conf.distrib"})
	if err := os.MkdirAll(filepath.Join(ctx.Root, "etc"), 0755); err != nil {
		t.Fatal(err)
	}

	r := buildTar(t, []tar.Header{
		{Name: "etc/foo.conf", Mode: 0644, Size: 4, Typeflag: tar.TypeReg, Uid: os.Getuid(), Gid: os.Getgid()},
	}, []string{"data"})
	entry := nextEntry(t, r)

	pkg := ctx.DB.FindOrCreate("foo")
	if err := eng.PlaceEntry(pkg, entry, false); err != nil {
		t.Fatalf("PlaceEntry() error = %v", err)
	}

	if _, err := os.Lstat(filepath.Join(ctx.Root, "etc/foo.conf")); !os.IsNotExist(err) {
		t.Errorf("expected the diverted-away path to remain absent")
	}
	content, err := os.ReadFile(filepath.Join(ctx.Root, "etc/foo.conf.distrib"))
	if err != nil {
		t.Fatalf("reading diverted target: %v", err)
	}
	if string(content) != "data" {
		t.Errorf("content = %q, want %q", content, "data")
	}
}

func TestPlaceEntrySymlink(t *testing.T) {
	ctx := newTestContext(t, resolver.ForceFlags{})
	eng := New(ctx)

	if err := os.MkdirAll(filepath.Join(ctx.Root, "usr/bin"), 0755); err != nil {
		t.Fatal(err)
	}

	r := buildTar(t, []tar.Header{
		{Name: "usr/bin/t", Linkname: "t.real", Typeflag: tar.TypeSymlink, Uid: os.Getuid(), Gid: os.Getgid()},
	}, nil)
	entry := nextEntry(t, r)

	pkg := ctx.DB.FindOrCreate("foo")
	if err := eng.PlaceEntry(pkg, entry, false); err != nil {
		t.Fatalf("PlaceEntry() error = %v", err)
	}

	target, err := os.Readlink(filepath.Join(ctx.Root, "usr/bin/t"))
	if err != nil {
		t.Fatalf("Readlink() error = %v", err)
	}
	if target != "t.real" {
		t.Errorf("symlink target = %q, want %q", target, "t.real")
	}
}

// errorsAs is a tiny local shim so this file doesn't need to decide
// between errors.As and a type switch at every call site.
func errorsAs(err error, target **engine.Error) bool {
	for err != nil {
		if e, ok := err.(*engine.Error); ok {
			*target = e
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
