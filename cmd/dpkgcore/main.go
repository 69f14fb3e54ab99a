// Command dpkgcore is the CLI front-end for the package-operation engine,
// grounded on cmd/deb-pm/main.go's subcommand/flag.FlagSet dispatch.
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/etnz/dpkgcore/actionqueue"
	"github.com/etnz/dpkgcore/archive"
	"github.com/etnz/dpkgcore/control"
	"github.com/etnz/dpkgcore/engine"
	"github.com/etnz/dpkgcore/event"
	"github.com/etnz/dpkgcore/pkgdb"
	"github.com/etnz/dpkgcore/resolver"
	"github.com/etnz/dpkgcore/unpack"
)

// forceSet is a repeated -force <name> flag accumulated into a set,
// mirroring the teacher's kvFlags repeated-flag idiom.
type forceSet map[string]bool

func (f forceSet) String() string {
	var names []string
	for k := range f {
		names = append(names, k)
	}
	return strings.Join(names, ", ")
}

func (f forceSet) Set(value string) error {
	f[value] = true
	return nil
}

func (f forceSet) toFlags() resolver.ForceFlags {
	return resolver.ForceFlags{
		Overwrite:         f["overwrite"],
		OverwriteDiverted: f["overwrite-diverted"],
		Depends:           f["depends"],
		Conflicts:         f["conflicts"],
		RemoveEssential:   f["remove-essential"],
		RemoveReinstreq:   f["remove-reinstreq"],
		Hold:              f["hold"],
	}
}

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	var err error
	switch os.Args[1] {
	case "unpack":
		err = runUnpack(os.Args[2:])
	case "configure":
		err = runConfigure(os.Args[2:])
	case "remove":
		err = runRemove(os.Args[2:])
	case "purge":
		err = runPurge(os.Args[2:])
	case "status":
		err = runStatus(os.Args[2:])
	default:
		printUsage()
		os.Exit(1)
	}

	if err == nil {
		return
	}
	var engErr *engine.Error
	if asEngineError(err, &engErr) && engErr.Kind == engine.KindInternal {
		log.Print(err)
		os.Exit(2)
	}
	log.Print(err)
	os.Exit(1)
}

func asEngineError(err error, target **engine.Error) bool {
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

func printUsage() {
	fmt.Println("Usage: dpkgcore <command> [flags]")
	fmt.Println("\nCommands:")
	fmt.Println("  unpack     Unpack an archive onto the install root")
	fmt.Println("  configure  Configure an unpacked package")
	fmt.Println("  remove     Remove an installed package, leaving config files")
	fmt.Println("  purge      Remove a package's config files too")
	fmt.Println("  status     Dump the package database")
}

// commonFlags are the flags every subcommand that touches the database
// needs.
type commonFlags struct {
	root     string
	adminDir string
	force    forceSet
	auto     bool
}

func bindCommon(fs *flag.FlagSet) *commonFlags {
	c := &commonFlags{force: make(forceSet)}
	fs.StringVar(&c.root, "root", "/", "install root")
	fs.StringVar(&c.adminDir, "admin-dir", "/var/lib/dpkg", "admin directory holding status/available/diversions")
	fs.Var(c.force, "force", "force override (repeatable): overwrite, overwrite-diverted, depends, conflicts, remove-essential, remove-reinstreq, hold")
	fs.BoolVar(&c.auto, "auto-deconfigure", false, "deconfigure dependents instead of refusing a conflict")
	return c
}

func statusPath(adminDir string) string    { return filepath.Join(adminDir, "status") }
func availablePath(adminDir string) string { return filepath.Join(adminDir, "available") }

func newContext(c *commonFlags) (*engine.Context, error) {
	policy := resolver.Policy{Force: c.force.toFlags(), AutoDeconfigure: c.auto}
	listener := func(e event.Event) { fmt.Fprintln(os.Stderr, e) }
	ctx := engine.New(c.root, policy, listener)
	if err := ctx.DB.Load(statusPath(c.adminDir), pkgdb.Installed); err != nil {
		return nil, err
	}
	if err := ctx.DB.Load(availablePath(c.adminDir), pkgdb.Available); err != nil {
		return nil, err
	}
	return ctx, nil
}

func persist(ctx *engine.Context, c *commonFlags) error {
	if err := ctx.DB.Dump(statusPath(c.adminDir), pkgdb.Installed, true); err != nil {
		return err
	}
	ctx.Emit(event.DatabaseCommitted{Path: statusPath(c.adminDir)})
	return nil
}

// execRunner invokes a package's maintainer script, if present under
// admin-dir/info, via os/exec. The maintainer-script executor itself is
// out of the engine's scope; this is the CLI's own minimal wiring.
type execRunner struct {
	adminDir string
}

func (r execRunner) Run(pkg *pkgdb.Package, script, arg string) error {
	path := filepath.Join(r.adminDir, "info", pkg.Name+"."+script)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}
	cmd := exec.Command(path, arg)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	return cmd.Run()
}

func runUnpack(args []string) error {
	fs := flag.NewFlagSet("unpack", flag.ExitOnError)
	c := bindCommon(fs)
	var archivePath string
	fs.StringVar(&archivePath, "archive", "", "path to the .deb-format archive to unpack")
	fs.Parse(args)

	if archivePath == "" {
		return fmt.Errorf("dpkgcore unpack: -archive is required")
	}

	ctx, err := newContext(c)
	if err != nil {
		return err
	}

	f, err := os.Open(archivePath)
	if err != nil {
		return engine.Wrap(engine.KindArchiveIO, "", archivePath, err)
	}
	defer f.Close()

	members, err := archive.ReadContainer(f)
	if err != nil {
		return engine.Wrap(engine.KindArchiveFormat, "", archivePath, err)
	}

	controlStream, err := members.ControlReader()
	if err != nil {
		return engine.Wrap(engine.KindArchiveFormat, "", archivePath, err)
	}
	pkg, conffilePaths, err := loadControlMembers(ctx, controlStream, c.adminDir)
	if err != nil {
		return err
	}

	ctx.Emit(event.UnpackStarted{Package: pkg.Name, Version: pkg.Available.Version})
	isUpgrade := pkg.Installed != nil && pkg.Installed.Valid()

	dataStream, err := members.DataReader()
	if err != nil {
		return engine.Wrap(engine.KindArchiveFormat, pkg.Name, archivePath, err)
	}
	unpacker := unpack.New(ctx)
	extract := func() error {
		r := archive.NewReader(dataStream)
		for {
			entry, err := r.Next()
			if errors.Is(err, io.EOF) {
				return nil
			}
			if err != nil {
				return engine.Wrap(engine.KindArchiveFormat, pkg.Name, archivePath, err)
			}
			isConffile := conffilePaths["/"+strings.TrimPrefix(entry.Name, "/")]
			if err := unpacker.PlaceEntry(pkg, entry, isConffile); err != nil {
				return err
			}
		}
	}

	queue := actionqueue.New(execRunner{adminDir: c.adminDir}, ctx.Events)
	if err := queue.Unpack(pkg, isUpgrade, extract); err != nil {
		return err
	}
	return persist(ctx, c)
}

// loadControlMembers reads the control record and maintainer scripts out of
// the control.tar stream, populating pkg's available snapshot and writing
// scripts to admin-dir/info for the execRunner to find later.
func loadControlMembers(ctx *engine.Context, controlStream io.Reader, adminDir string) (*pkgdb.Package, map[string]bool, error) {
	r := archive.NewReader(controlStream)
	var pkg *pkgdb.Package
	conffiles := make(map[string]bool)
	for {
		entry, err := r.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, nil, engine.Wrap(engine.KindArchiveFormat, "", "control.tar", err)
		}
		name := strings.TrimPrefix(strings.TrimPrefix(entry.Name, "./"), "/")
		switch name {
		case "control":
			rec, err := control.NewDecoder(entry).Next()
			if err != nil {
				return nil, nil, engine.Wrap(engine.KindArchiveFormat, "", "control", err)
			}
			pkg, err = pkgdb.LoadRecord(ctx.DB, rec, pkgdb.Available)
			if err != nil {
				return nil, nil, engine.Wrap(engine.KindArchiveFormat, "", "control", err)
			}
		case "conffiles":
			buf, err := io.ReadAll(entry)
			if err != nil {
				return nil, nil, engine.Wrap(engine.KindArchiveFormat, "", "conffiles", err)
			}
			for _, line := range strings.Split(string(buf), "\n") {
				line = strings.TrimSpace(line)
				if line != "" {
					conffiles[line] = true
				}
			}
		case "preinst", "postinst", "prerm", "postrm":
			if pkg == nil {
				continue
			}
			if err := writeScript(adminDir, pkg.Name, name, entry); err != nil {
				return nil, nil, err
			}
		}
	}
	if pkg == nil {
		return nil, nil, fmt.Errorf("archive: control.tar has no control member")
	}
	return pkg, conffiles, nil
}

func writeScript(adminDir, pkgName, script string, entry *archive.Entry) error {
	infoDir := filepath.Join(adminDir, "info")
	if err := os.MkdirAll(infoDir, 0755); err != nil {
		return err
	}
	path := filepath.Join(infoDir, pkgName+"."+script)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0755)
	if err != nil {
		return err
	}
	defer f.Close()
	if _, err := io.Copy(f, entry); err != nil {
		return err
	}
	return nil
}

func runConfigure(args []string) error {
	fs := flag.NewFlagSet("configure", flag.ExitOnError)
	c := bindCommon(fs)
	fs.Parse(args)
	if fs.NArg() != 1 {
		return fmt.Errorf("dpkgcore configure: expected exactly one package name")
	}
	name := fs.Arg(0)

	ctx, err := newContext(c)
	if err != nil {
		return err
	}
	pkg := ctx.DB.Find(name)
	if pkg == nil {
		return fmt.Errorf("dpkgcore configure: unknown package %q", name)
	}
	queue := actionqueue.New(execRunner{adminDir: c.adminDir}, ctx.Events)
	if err := queue.Configure(pkg); err != nil {
		return err
	}
	return persist(ctx, c)
}

func runRemove(args []string) error {
	return removeOrPurge(args, "remove")
}

func runPurge(args []string) error {
	return removeOrPurge(args, "purge")
}

func removeOrPurge(args []string, mode string) error {
	fs := flag.NewFlagSet(mode, flag.ExitOnError)
	c := bindCommon(fs)
	fs.Parse(args)
	if fs.NArg() != 1 {
		return fmt.Errorf("dpkgcore %s: expected exactly one package name", mode)
	}
	name := fs.Arg(0)

	ctx, err := newContext(c)
	if err != nil {
		return err
	}
	pkg := ctx.DB.Find(name)
	if pkg == nil {
		return fmt.Errorf("dpkgcore %s: unknown package %q", mode, name)
	}
	queue := actionqueue.New(execRunner{adminDir: c.adminDir}, ctx.Events)

	if mode == "remove" || pkg.Status != control.StatusConfigFiles {
		unlink := func() error { return unlinkPackageFiles(ctx, pkg) }
		if err := queue.Remove(pkg, unlink); err != nil {
			return err
		}
	}
	if mode == "purge" {
		if err := queue.Purge(pkg); err != nil {
			return err
		}
	}
	return persist(ctx, c)
}

// unlinkPackageFiles removes every path the package claims that no other
// package also claims, and drops its claim from the ones that remain.
func unlinkPackageFiles(ctx *engine.Context, pkg *pkgdb.Package) error {
	for _, path := range pkg.Files {
		node := ctx.NS.Find(path)
		if node == nil {
			continue
		}
		node.RemoveClaimant(pkg.Name)
		if len(node.OtherClaimants(pkg.Name)) == 0 {
			live := filepath.Join(ctx.Root, path)
			if err := os.Remove(live); err != nil && !os.IsNotExist(err) {
				return engine.Wrap(engine.KindFilesystemIO, pkg.Name, live, err)
			}
		}
	}
	return nil
}

func runStatus(args []string) error {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	c := bindCommon(fs)
	fs.Parse(args)

	ctx, err := newContext(c)
	if err != nil {
		return err
	}
	for _, pkg := range ctx.DB.Iterate() {
		version := ""
		if pkg.Installed != nil {
			version = pkg.Installed.Version
		}
		fmt.Printf("%-30s %-16s %s\n", pkg.Name, pkg.Status, version)
	}
	return nil
}
