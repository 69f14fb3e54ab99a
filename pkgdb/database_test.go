package pkgdb

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/etnz/dpkgcore/control"
)

func TestFindOrCreateIsLazy(t *testing.T) {
	db := New()
	if db.Find("foo") != nil {
		t.Fatalf("Find() on unmentioned package should return nil")
	}
	pkg := db.FindOrCreate("foo")
	if pkg.Name != "foo" {
		t.Errorf("Name = %q, want foo", pkg.Name)
	}
	if again := db.FindOrCreate("foo"); again != pkg {
		t.Errorf("FindOrCreate() should return the same instance on repeat calls")
	}
}

func TestReverseIndexConsistency(t *testing.T) {
	db := New()
	a := db.FindOrCreate("a")
	poss := &Possibility{Possibility: control.Possibility{Target: "b"}}
	db.AttachPossibility(a, RelDepends, 0, poss)

	b := db.Find("b")
	if b == nil {
		t.Fatalf("target package b should have been created lazily")
	}
	rev := b.ReverseRelationsOf(RelDepends)
	if len(rev) != 1 || rev[0] != poss {
		t.Fatalf("reverse list = %v, want [poss]", rev)
	}

	db.DetachPossibility(poss)
	if rev := b.ReverseRelationsOf(RelDepends); len(rev) != 0 {
		t.Errorf("reverse list after detach = %v, want empty", rev)
	}
}

func TestLoadParsesScenarioS1(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "status")
	content := "Package: foo\nStatus: install ok installed\nVersion: 1.2-3\n\n"
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	db := New()
	if err := db.Load(path, Installed); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	pkg := db.Find("foo")
	if pkg == nil {
		t.Fatal("package foo not found after load")
	}
	if pkg.Want != control.WantInstall || pkg.Eflag != control.EflagOk || pkg.Status != control.StatusInstalled {
		t.Errorf("want=%v eflag=%v status=%v", pkg.Want, pkg.Eflag, pkg.Status)
	}
	if pkg.Installed.Version != "1.2" || pkg.Installed.Revision != "3" {
		t.Errorf("version/revision parsed as %q/%q", pkg.Installed.Version, pkg.Installed.Revision)
	}
}

func TestDumpThenLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "status")

	db := New()
	pkg := db.FindOrCreate("foo")
	pkg.Want = control.WantInstall
	pkg.Eflag = control.EflagOk
	pkg.Status = control.StatusInstalled
	pkg.Priority = control.PriorityRequired
	pkg.Section = "base"
	pkg.Installed.Version = "1.2"
	pkg.Installed.Revision = "3"

	if err := db.Dump(path, Installed, false); err != nil {
		t.Fatalf("Dump() error = %v", err)
	}

	db2 := New()
	if err := db2.Load(path, Installed); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	got := db2.Find("foo")
	if got == nil {
		t.Fatal("package foo missing after round trip")
	}
	if got.Status != control.StatusInstalled || got.Installed.Version != "1.2" {
		t.Errorf("round trip mismatch: status=%v version=%q", got.Status, got.Installed.Version)
	}
}

func TestDumpCrashSafeProtocolLeavesBackup(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "status")

	db := New()
	pkg := db.FindOrCreate("foo")
	pkg.Status = control.StatusInstalled
	pkg.Want = control.WantInstall
	if err := db.Dump(path, Installed, false); err != nil {
		t.Fatal(err)
	}

	pkg.Installed.Version = "2.0"
	if err := db.Dump(path, Installed, false); err != nil {
		t.Fatal(err)
	}

	oldContent, err := os.ReadFile(path + ".old")
	if err != nil {
		t.Fatalf("expected a .old backup after the second dump: %v", err)
	}
	if strings.Contains(string(oldContent), "2.0") {
		t.Errorf(".old backup should hold the pre-update content, got %q", oldContent)
	}
}

func TestEmptyPackageOmittedFromDump(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "status")

	db := New()
	db.FindOrCreate("bystander") // mentioned only as a relation target, never populated

	real := db.FindOrCreate("foo")
	real.Status = control.StatusInstalled
	real.Want = control.WantInstall

	if err := db.Dump(path, Installed, false); err != nil {
		t.Fatal(err)
	}
	content, _ := os.ReadFile(path)
	if strings.Contains(string(content), "bystander") {
		t.Errorf("empty package should be omitted from dump, got %q", content)
	}
}
