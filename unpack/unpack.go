// Package unpack implements the unpack transaction of spec.md §4.6: for
// each archive entry, it resolves the placement path through any
// diversion, detects conflicts with files already claimed by other
// packages, and materializes the new object via the three-name protocol
// (live / live.dpkg-tmp / live.dpkg-new) guarded by an unwind stack so a
// crash at any point leaves either the old or the new content in place,
// never a half-written file. Grounded on
// _examples/original_source/main/archives.c's tarobject().
package unpack

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sys/unix"

	"github.com/etnz/dpkgcore/archive"
	"github.com/etnz/dpkgcore/engine"
	"github.com/etnz/dpkgcore/event"
	"github.com/etnz/dpkgcore/fsnamespace"
	"github.com/etnz/dpkgcore/pkgdb"
	"github.com/etnz/dpkgcore/resolver"
	"github.com/etnz/dpkgcore/unwind"
)

// Engine places archive entries onto the live filesystem for one engine
// context.
type Engine struct {
	ctx *engine.Context
}

// New returns an Engine driven by ctx.
func New(ctx *engine.Context) *Engine {
	return &Engine{ctx: ctx}
}

// PlaceEntry runs steps 1-11 of the unpack transaction for one archive
// entry belonging to pkg. isNewConffile marks an entry whose installation
// is deferred to configure time (spec.md §4.6 step 8).
func (e *Engine) PlaceEntry(pkg *pkgdb.Package, entry *archive.Entry, isNewConffile bool) error {
	placement, err := e.resolvePlacement(pkg, entry, isNewConffile)
	if err != nil {
		return engine.Wrap(engine.KindFilesystemIO, pkg.Name, entry.Name, err)
	}
	node := e.ctx.NS.FindOrCreate(placement)
	e.ctx.Diversions.SyncNode(node)

	live := filepath.Join(e.ctx.Root, placement)
	dpkgTmp := live + ".dpkg-tmp"
	dpkgNew := live + ".dpkg-new"

	liveExists, liveIsDir, err := lstatRecovering(live, dpkgTmp)
	if err != nil {
		return engine.Wrap(engine.KindFilesystemIO, pkg.Name, live, err)
	}

	entryIsDir := entry.Type == archive.TypeDirectory
	if (entryIsDir || entry.Type == archive.TypeSymlink) && liveExists && liveIsDir {
		node.AddClaimant(pkg.Name)
		return nil
	}

	if err := e.checkConflicts(pkg, node); err != nil {
		return err
	}

	if err := os.RemoveAll(dpkgNew); err != nil {
		return engine.Wrap(engine.KindFilesystemIO, pkg.Name, dpkgNew, err)
	}
	if err := os.RemoveAll(dpkgTmp); err != nil {
		return engine.Wrap(engine.KindFilesystemIO, pkg.Name, dpkgTmp, err)
	}

	mark := e.ctx.Stack.Mark()
	e.ctx.Stack.Push(func(ctx any) {
		os.RemoveAll(ctx.(string))
	}, unwind.ModeError, dpkgNew)

	if err := e.materialize(entry, dpkgNew); err != nil {
		e.ctx.Stack.UnwindTo(mark, unwind.ModeError)
		return engine.Wrap(engine.KindFilesystemIO, pkg.Name, dpkgNew, err)
	}

	if isNewConffile {
		node.SetFlag(fsnamespace.FlagNewConffile)
		e.ctx.Stack.UnwindTo(mark, unwind.ModeNormal)
		return nil
	}

	if err := commit(node, live, dpkgTmp, dpkgNew, liveExists, entryIsDir); err != nil {
		e.ctx.Stack.UnwindTo(mark, unwind.ModeError)
		return engine.Wrap(engine.KindFilesystemIO, pkg.Name, live, err)
	}
	e.ctx.Stack.UnwindTo(mark, unwind.ModeNormal)

	node.SetFlag(fsnamespace.FlagNewInArchive)
	node.SetFlag(fsnamespace.FlagElideOtherLists)
	node.AddClaimant(pkg.Name)
	return nil
}

// resolvePlacement implements step 1: diversion redirection, and (for a
// new conffile only) following live symlinks so the extracted file
// replaces the symlink's target rather than the symlink itself.
func (e *Engine) resolvePlacement(pkg *pkgdb.Package, entry *archive.Entry, isNewConffile bool) (string, error) {
	path := "/" + trimLeadingSlash(entry.Name)
	node := e.ctx.NS.FindOrCreate(path)
	e.ctx.Diversions.SyncNode(node)
	target := node.UseTarget(pkg.Name)

	if !isNewConffile {
		return target, nil
	}
	live := filepath.Join(e.ctx.Root, target)
	resolved, err := followSymlinks(live, e.ctx.Root)
	if err != nil {
		return "", err
	}
	rel, err := filepath.Rel(e.ctx.Root, resolved)
	if err != nil {
		return "", err
	}
	return "/" + rel, nil
}

func trimLeadingSlash(s string) string {
	for len(s) > 0 && s[0] == '/' {
		s = s[1:]
	}
	return s
}

// followSymlinks resolves path through any chain of symlinks, stopping as
// soon as the target does not exist or is not itself a symlink.
func followSymlinks(path, root string) (string, error) {
	for i := 0; i < 40; i++ {
		var st unix.Stat_t
		if err := unix.Lstat(path, &st); err != nil {
			return path, nil
		}
		if st.Mode&unix.S_IFMT != unix.S_IFLNK {
			return path, nil
		}
		link, err := growingReadlink(path)
		if err != nil {
			return "", err
		}
		if filepath.IsAbs(link) {
			path = filepath.Join(root, link)
		} else {
			path = filepath.Join(filepath.Dir(path), link)
		}
	}
	return "", fmt.Errorf("unpack: symlink chain too deep resolving %s", path)
}

// lstatRecovering implements step 3: lstat(live), and on ENOENT attempts to
// recover an interrupted earlier operation by renaming live.dpkg-tmp onto
// live.
func lstatRecovering(live, dpkgTmp string) (exists, isDir bool, err error) {
	var st unix.Stat_t
	statErr := unix.Lstat(live, &st)
	if statErr != nil {
		if statErr == unix.ENOENT {
			var tmpSt unix.Stat_t
			if unix.Lstat(dpkgTmp, &tmpSt) == nil {
				if renameErr := os.Rename(dpkgTmp, live); renameErr == nil {
					statErr = unix.Lstat(live, &st)
				}
			}
		}
	}
	if statErr != nil {
		if statErr == unix.ENOENT {
			return false, false, nil
		}
		return false, false, statErr
	}
	return true, st.Mode&unix.S_IFMT == unix.S_IFDIR, nil
}

// checkConflicts implements step 5: for every other claimant of node's
// path, decide whether the conflict is already resolved, resolvable via
// Replaces, forcibly overridable, or fatal.
func (e *Engine) checkConflicts(pkg *pkgdb.Package, node *fsnamespace.Node) error {
	for _, otherName := range node.OtherClaimants(pkg.Name) {
		if node.Diversion.Present && (node.Diversion.OwnerName == pkg.Name || node.Diversion.OwnerName == otherName) {
			continue
		}
		other := e.ctx.DB.Find(otherName)
		if other == nil {
			continue
		}
		if other.IsTobe == pkgdb.DispositionRemove {
			continue
		}
		if pkg.AnnouncedReplacing(other.Name) {
			continue
		}
		if resolver.ReplacesSatisfied(pkg, other) {
			pkg.AnnounceReplacing(other.Name)
			e.ctx.Emit(event.ConflictResolved{ActingPackage: pkg.Name, FixByRM: other.Name, Decision: "replaced", Reason: "Replaces satisfied"})
			continue
		}
		if e.ctx.Policy.Force.Overwrite {
			pkg.AnnounceReplacing(other.Name)
			e.ctx.Emit(event.FileConflictDetected{Path: node.Path, InstallingPkg: pkg.Name, ExistingClaim: other.Name, Forced: true})
			e.ctx.Emit(event.ForceOverrideApplied{Flag: "overwrite", Reason: fmt.Sprintf("%s claims %s", other.Name, node.Path)})
			continue
		}
		e.ctx.Emit(event.FileConflictDetected{Path: node.Path, InstallingPkg: pkg.Name, ExistingClaim: other.Name})
		return engine.Wrap(engine.KindFileConflict, pkg.Name, node.Path,
			fmt.Errorf("%s is already claimed by %s with no satisfied Replaces", node.Path, other.Name))
	}
	return nil
}

// materialize implements step 7: create live.dpkg-new as the typed object
// named by entry.
func (e *Engine) materialize(entry *archive.Entry, dpkgNew string) error {
	now := time.Now()
	if e.ctx.Now != nil {
		now = e.ctx.Now()
	}
	switch entry.Type {
	case archive.TypeNormalFile:
		f, err := os.OpenFile(dpkgNew, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0600)
		if err != nil {
			return err
		}
		if _, err := io.CopyN(f, entry, entry.Size); err != nil {
			f.Close()
			return err
		}
		if err := f.Close(); err != nil {
			return err
		}
		if err := os.Chown(dpkgNew, entry.UID, entry.GID); err != nil {
			return err
		}
		if err := os.Chmod(dpkgNew, os.FileMode(entry.Mode).Perm()); err != nil {
			return err
		}
		return os.Chtimes(dpkgNew, now, entry.ModTime)

	case archive.TypeCharDevice, archive.TypeBlockDevice:
		mode := uint32(os.FileMode(entry.Mode).Perm())
		if entry.Type == archive.TypeCharDevice {
			mode |= unix.S_IFCHR
		} else {
			mode |= unix.S_IFBLK
		}
		dev := unix.Mkdev(uint32(entry.DeviceMajor), uint32(entry.DeviceMinor))
		if err := unix.Mknod(dpkgNew, mode, int(dev)); err != nil {
			return err
		}
		if err := os.Chown(dpkgNew, entry.UID, entry.GID); err != nil {
			return err
		}
		return os.Chtimes(dpkgNew, now, entry.ModTime)

	case archive.TypeHardlink:
		target := filepath.Join(e.ctx.Root, entry.LinkTarget)
		return os.Link(target, dpkgNew)

	case archive.TypeSymlink:
		if err := os.Symlink(entry.LinkTarget, dpkgNew); err != nil {
			return err
		}
		if err := unix.Lchown(dpkgNew, entry.UID, entry.GID); err != nil {
			return err
		}
		return lutimes(dpkgNew, now, entry.ModTime)

	case archive.TypeDirectory:
		if err := os.Mkdir(dpkgNew, 0500); err != nil {
			return err
		}
		if err := os.Chown(dpkgNew, entry.UID, entry.GID); err != nil {
			return err
		}
		if err := os.Chmod(dpkgNew, os.FileMode(entry.Mode).Perm()); err != nil {
			return err
		}
		return os.Chtimes(dpkgNew, now, entry.ModTime)

	default:
		return fmt.Errorf("unpack: unsupported entry type %s", entry.Type)
	}
}

// lutimes sets atime/mtime on a symlink without following it, since
// os.Chtimes always follows symlinks.
func lutimes(path string, atime, mtime time.Time) error {
	tv := []unix.Timeval{
		unix.NsecToTimeval(atime.UnixNano()),
		unix.NsecToTimeval(mtime.UnixNano()),
	}
	return unix.Lutimes(path, tv)
}

// commit implements steps 9-10: rename live.dpkg-new into place, backing
// live up to live.dpkg-tmp first when it already existed.
func commit(node *fsnamespace.Node, live, dpkgTmp, dpkgNew string, liveExisted, entryIsDir bool) error {
	if !liveExisted {
		return os.Rename(dpkgNew, live)
	}

	var st unix.Stat_t
	if err := unix.Lstat(live, &st); err != nil {
		return err
	}
	liveIsDir := st.Mode&unix.S_IFMT == unix.S_IFDIR
	liveIsSymlink := st.Mode&unix.S_IFMT == unix.S_IFLNK

	switch {
	case liveIsDir || entryIsDir:
		if err := os.Rename(live, dpkgTmp); err != nil {
			return err
		}
		if err := os.Rename(dpkgNew, live); err != nil {
			os.Rename(dpkgTmp, live)
			return err
		}
		node.SetFlag(fsnamespace.FlagNoAtomicOverwrite)
		return nil

	case liveIsSymlink:
		target, err := growingReadlink(live)
		if err != nil {
			return err
		}
		if err := os.Symlink(target, dpkgTmp); err != nil {
			return err
		}
		if err := unix.Lchown(dpkgTmp, int(st.Uid), int(st.Gid)); err != nil {
			os.Remove(dpkgTmp)
			return err
		}
		if err := os.Rename(dpkgNew, live); err != nil {
			os.Rename(dpkgTmp, live)
			return err
		}
		return nil

	default:
		if err := os.Link(live, dpkgTmp); err != nil {
			return err
		}
		if err := os.Rename(dpkgNew, live); err != nil {
			os.Rename(dpkgTmp, live)
			return err
		}
		return nil
	}
}

// growingReadlink reads a symlink's target, doubling its buffer until the
// returned length is strictly less than the buffer size, per spec.md
// §4.6's edge case note.
func growingReadlink(path string) (string, error) {
	size := 128
	for {
		buf := make([]byte, size)
		n, err := unix.Readlink(path, buf)
		if err != nil {
			return "", err
		}
		if n < size {
			return string(buf[:n]), nil
		}
		size *= 2
	}
}
