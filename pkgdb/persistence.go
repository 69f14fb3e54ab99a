package pkgdb

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/etnz/dpkgcore/control"
)

// relationFieldOf maps a RelationType to its control-record field name.
var relationFieldOf = map[RelationType]control.Field{
	RelPreDepends: control.FieldPreDepends,
	RelDepends:    control.FieldDepends,
	RelRecommends: control.FieldRecommends,
	RelSuggests:   control.FieldSuggests,
	RelEnhances:   control.FieldEnhances,
	RelConflicts:  control.FieldConflicts,
	RelReplaces:   control.FieldReplaces,
	RelProvides:   control.FieldProvides,
}

// toControlRelation converts a snapshot's clauses for one relation type
// into a control.Relation ready for serialization.
func toControlRelation(clauses []Clause) control.Relation {
	var rel control.Relation
	for _, c := range clauses {
		var cc control.Clause
		for _, p := range c.Possibilities {
			cc.Possibilities = append(cc.Possibilities, p.Possibility)
		}
		rel.Clauses = append(rel.Clauses, cc)
	}
	return rel
}

// ToRecord marshals a package's given snapshot into a control.Record,
// dispatching each known field to its storage location per the static
// field-registry design (spec.md §9's "heterogeneous field dispatch").
// statusFields controls whether the Status/Config-Version fields (which
// only belong in the status file, never in the available file) are
// written.
func ToRecord(pkg *Package, kind SnapshotKind, statusFields bool) *control.Record {
	rec := &control.Record{}
	snap := pkg.snapshotOf(kind)

	rec.Set(control.FieldPackage, pkg.Name)

	if statusFields {
		rec.Set(control.FieldStatus, fmt.Sprintf("%s %s %s", pkg.Want, pkg.Eflag, pkg.Status))
		if pkg.ConfigVersion != "" && pkg.Status != control.StatusInstalled && pkg.Status != control.StatusNotInstalled {
			rec.Set(control.FieldConfigVersion, pkg.ConfigVersion)
		}
	}

	if pkg.Priority != control.PriorityUnset {
		if pkg.Priority == control.PriorityOther {
			rec.Set(control.FieldPriority, pkg.PriorityOther)
		} else {
			rec.Set(control.FieldPriority, pkg.Priority.String())
		}
	}
	if pkg.Section != "" {
		rec.Set(control.FieldSection, pkg.Section)
	}

	if snap.Essential {
		rec.Set(control.FieldEssential, "yes")
	}
	if snap.Version != "" {
		if snap.Revision != "" {
			rec.Set(control.FieldVersion, snap.Version+"-"+snap.Revision)
		} else {
			rec.Set(control.FieldVersion, snap.Version)
		}
	}

	for _, rt := range relationOrder {
		if clauses, ok := snap.Relations[rt]; ok && len(clauses) > 0 {
			rec.Set(relationFieldOf[rt], toControlRelation(clauses).String())
		}
	}

	if len(snap.Conffiles) > 0 {
		var b strings.Builder
		for _, cf := range snap.Conffiles {
			fmt.Fprintf(&b, "%s %s\n", cf.Path, cf.Hash)
		}
		rec.Set(control.FieldConffiles, strings.TrimRight(b.String(), "\n"))
	}

	for k, v := range snap.ExtraFields {
		rec.Set(control.Field(k), v)
	}
	for k, v := range pkg.ExtraFields {
		rec.Set(control.Field(k), v)
	}

	return rec
}

// mergeRecord populates a package's given snapshot from a parsed record.
// db is used to resolve relationship targets and thread the reverse index.
func mergeRecord(db *Database, rec *control.Record, kind SnapshotKind) (*Package, error) {
	name, ok := rec.Get(control.FieldPackage)
	if !ok || name == "" {
		return nil, &control.Error{Kind: control.MissingField, Field: control.FieldPackage, Msg: "missing in record"}
	}
	if err := control.ValidatePackageName(name); err != nil {
		return nil, err
	}
	pkg := db.FindOrCreate(name)
	snap := pkg.snapshotOf(kind)

	if statusVal, ok := rec.Get(control.FieldStatus); ok {
		parts := strings.Fields(statusVal)
		if len(parts) != 3 {
			return nil, &control.Error{Kind: control.BadEnum, Field: control.FieldStatus, Msg: "expected '<want> <eflag> <status>'"}
		}
		want, ok := control.ParseWant(parts[0])
		if !ok {
			return nil, &control.Error{Kind: control.BadEnum, Field: control.FieldStatus, Msg: "bad want: " + parts[0]}
		}
		eflag, ok := control.ParseEflag(parts[1])
		if !ok {
			return nil, &control.Error{Kind: control.BadEnum, Field: control.FieldStatus, Msg: "bad eflag: " + parts[1]}
		}
		status, ok := control.ParseStatus(parts[2])
		if !ok {
			return nil, &control.Error{Kind: control.BadEnum, Field: control.FieldStatus, Msg: "bad status: " + parts[2]}
		}
		pkg.Want, pkg.Eflag, pkg.Status = want, eflag, status
	} else if kind == Installed {
		return nil, &control.Error{Kind: control.MissingField, Field: control.FieldStatus, Msg: "missing in installed record"}
	}

	if v, ok := rec.Get(control.FieldConfigVersion); ok {
		pkg.ConfigVersion = v
	}
	if v, ok := rec.Get(control.FieldPriority); ok {
		if p, known := control.ParsePriority(v); known {
			pkg.Priority = p
		} else {
			pkg.Priority = control.PriorityOther
			pkg.PriorityOther = v
		}
	}
	if v, ok := rec.Get(control.FieldSection); ok {
		pkg.Section = v
	}
	if v, ok := rec.Get(control.FieldEssential); ok {
		snap.Essential = v == "yes"
	}
	if v, ok := rec.Get(control.FieldVersion); ok {
		if idx := strings.LastIndexByte(v, '-'); idx >= 0 {
			snap.Version, snap.Revision = v[:idx], v[idx+1:]
		} else {
			snap.Version = v
		}
	}
	if v, ok := rec.Get(control.FieldRevision); ok {
		snap.Revision = v
	}

	for rt, field := range relationFieldOf {
		v, ok := rec.Get(field)
		if !ok || v == "" {
			continue
		}
		ctlRel, err := control.ParseRelation(v)
		if err != nil {
			return nil, err
		}
		for _, cc := range ctlRel.Clauses {
			var clause Clause
			for _, p := range cc.Possibilities {
				poss := &Possibility{Possibility: p}
				db.AttachPossibility(pkg, rt, len(snap.Relations[rt]), poss)
				clause.Possibilities = append(clause.Possibilities, poss)
			}
			snap.Relations[rt] = append(snap.Relations[rt], clause)
		}
	}

	if v, ok := rec.Get(control.FieldConffiles); ok && v != "" {
		for _, line := range strings.Split(v, "\n") {
			line = strings.TrimSpace(line)
			if line == "" {
				continue
			}
			idx := strings.LastIndexByte(line, ' ')
			if idx == -1 {
				snap.Conffiles = append(snap.Conffiles, Conffile{Path: line})
				continue
			}
			snap.Conffiles = append(snap.Conffiles, Conffile{Path: line[:idx], Hash: line[idx+1:]})
		}
	}

	known := map[control.Field]bool{
		control.FieldPackage: true, control.FieldStatus: true, control.FieldConfigVersion: true,
		control.FieldPriority: true, control.FieldSection: true, control.FieldEssential: true,
		control.FieldVersion: true, control.FieldRevision: true, control.FieldConffiles: true,
	}
	for _, field := range relationFieldOf {
		known[field] = true
	}
	for _, e := range rec.Entries {
		if known[e.Name] {
			continue
		}
		snap.ExtraFields[string(e.Name)] = e.Value
	}

	return pkg, nil
}

// LoadRecord merges one already-decoded control record into the database,
// populating the given snapshot kind of the package it names. Exported for
// callers that parse a single incoming package's control record directly
// from an archive member (the unpack CLI) rather than a status/available
// file.
func LoadRecord(db *Database, rec *control.Record, kind SnapshotKind) (*Package, error) {
	return mergeRecord(db, rec, kind)
}

// Load reads every record from path into the database, populating the
// given snapshot kind of each mentioned package.
func (db *Database) Load(path string, kind SnapshotKind) error {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return errDatabase("opening %s: %w", path, err)
	}
	defer f.Close()

	recs, err := control.DecodeAll(bufio.NewReader(f))
	if err != nil {
		return errDatabase("reading %s: %w", path, err)
	}
	for _, rec := range recs {
		if _, err := mergeRecord(db, rec, kind); err != nil {
			return errDatabase("parsing %s: %w", path, err)
		}
	}
	return nil
}

// Dump serializes every package's given snapshot to path using the
// crash-safe write protocol: write path.new, optionally fsync, unlink
// path.old, hardlink path to path.old, rename path.new to path. A package
// is omitted when neither its package-level fields nor the requested
// snapshot carries useful information.
func (db *Database) Dump(path string, kind SnapshotKind, fsyncRequired bool) error {
	newPath := path + ".new"
	oldPath := path + ".old"

	f, err := os.OpenFile(newPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
	if err != nil {
		return errDatabase("creating %s: %w", newPath, err)
	}

	enc := control.NewEncoder(f)
	for _, pkg := range db.Iterate() {
		snap := pkg.snapshotOf(kind)
		hasPackageInfo := pkg.Section != "" || pkg.Priority != control.PriorityUnset || len(pkg.ExtraFields) > 0
		if kind == Installed {
			hasPackageInfo = hasPackageInfo || pkg.Want != control.WantUnknown || pkg.Eflag != control.EflagOk || pkg.Status != control.StatusNotInstalled
		}
		if !snap.Valid() && !hasPackageInfo {
			continue
		}
		rec := ToRecord(pkg, kind, kind == Installed)
		if err := enc.Encode(rec); err != nil {
			f.Close()
			return errDatabase("writing %s: %w", newPath, err)
		}
	}

	if fsyncRequired {
		if err := f.Sync(); err != nil {
			f.Close()
			return errDatabase("fsyncing %s: %w", newPath, err)
		}
	}
	if err := f.Close(); err != nil {
		return errDatabase("closing %s: %w", newPath, err)
	}

	_ = os.Remove(oldPath)
	if _, err := os.Stat(path); err == nil {
		if err := os.Link(path, oldPath); err != nil {
			return errDatabase("linking %s to %s: %w", path, oldPath, err)
		}
	}
	if err := os.Rename(newPath, path); err != nil {
		return errDatabase("renaming %s to %s: %w", newPath, path, err)
	}
	return nil
}
