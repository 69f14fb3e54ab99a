package resolver

import (
	"github.com/etnz/dpkgcore/control"
	"github.com/etnz/dpkgcore/pkgdb"
)

// ForceFlags is the named-boolean set of force overrides from spec.md §7,
// queried at the decision sites below rather than caught as typed
// exceptions, per spec.md §9's "forced continuation" design note.
type ForceFlags struct {
	Overwrite         bool `yaml:"overwrite"`
	OverwriteDiverted bool `yaml:"overwrite_diverted"`
	Depends           bool `yaml:"depends"`
	Conflicts         bool `yaml:"conflicts"`
	RemoveEssential   bool `yaml:"remove_essential"`
	RemoveReinstreq   bool `yaml:"remove_reinstreq"`
	Hold              bool `yaml:"hold"`
}

// Policy bundles the force-flag set with the auto-deconfigure toggle that
// governs step 4 of check_conflict.
type Policy struct {
	Force           ForceFlags
	AutoDeconfigure bool
}

// snapshotVersion builds a Version from a snapshot's Version/Revision pair.
func snapshotVersion(snap *pkgdb.Snapshot) Version {
	if snap == nil {
		return Version{}
	}
	v := snap.Version
	if snap.Revision != "" {
		v += "-" + snap.Revision
	}
	return ParseVersion(v)
}

// possibilityVersion builds the Version a possibility's constraint names.
func possibilityVersion(poss *pkgdb.Possibility) Version {
	v := poss.Possibility.Version
	if poss.Possibility.Revision != "" {
		v += "-" + poss.Possibility.Revision
	}
	return ParseVersion(v)
}

// PossibilitySatisfied evaluates one possibility against the database, per
// spec.md §4.7: either its target's installed snapshot meets the version
// constraint, or (only when unversioned) some package's installed snapshot
// declares Provides: target.
func PossibilitySatisfied(db *pkgdb.Database, poss *pkgdb.Possibility) bool {
	target := poss.Target
	if target != nil && target.Installed != nil && target.Installed.Valid() && target.Installed.Version != "" {
		if !poss.HasVersion() {
			return true
		}
		if Satisfies(snapshotVersion(target.Installed), Op(poss.Possibility.Op), possibilityVersion(poss)) {
			return true
		}
	}
	if poss.HasVersion() {
		return false
	}
	for _, pkg := range db.Iterate() {
		if pkg.Installed == nil {
			continue
		}
		for _, clause := range pkg.Installed.Relations[pkgdb.RelProvides] {
			for _, p := range clause.Possibilities {
				if p.Possibility.Target == poss.Possibility.Target {
					return true
				}
			}
		}
	}
	return false
}

// ClauseSatisfied reports whether any possibility in clause is satisfied.
func ClauseSatisfied(db *pkgdb.Database, clause *pkgdb.Clause) bool {
	for _, p := range clause.Possibilities {
		if PossibilitySatisfied(db, p) {
			return true
		}
	}
	return false
}

// clauseSatisfiedExcluding re-evaluates clause as if excluded's matching
// possibility did not exist, per step 4's "re-check with fixbyrm notionally
// removed".
func clauseSatisfiedExcluding(db *pkgdb.Database, clause *pkgdb.Clause, excluded *pkgdb.Package) bool {
	for _, p := range clause.Possibilities {
		if p.Target == excluded {
			continue
		}
		if PossibilitySatisfied(db, p) {
			return true
		}
	}
	return false
}

// findClauseContaining locates the clause on pkg's snapshots (installed or
// available) that owns poss, needed because a reverse-relation entry only
// points at the possibility itself, not its enclosing disjunction.
func findClauseContaining(pkg *pkgdb.Package, kind pkgdb.RelationType, poss *pkgdb.Possibility) (*pkgdb.Clause, bool) {
	for _, snap := range []*pkgdb.Snapshot{pkg.Installed, pkg.Available} {
		if snap == nil {
			continue
		}
		for i, clause := range snap.Relations[kind] {
			for _, p := range clause.Possibilities {
				if p == poss {
					return &snap.Relations[kind][i], true
				}
			}
		}
	}
	return nil, false
}

// dependentsBrokenByRemoval returns every package whose Depends/Pre-Depends
// on fixbyrm (directly, or via a virtual name fixbyrm provides) would no
// longer be satisfied if fixbyrm were removed.
func dependentsBrokenByRemoval(db *pkgdb.Database, fixbyrm *pkgdb.Package) []*pkgdb.Package {
	var broken []*pkgdb.Package
	seen := make(map[*pkgdb.Package]bool)

	checkTarget := func(target *pkgdb.Package) {
		for _, rt := range []pkgdb.RelationType{pkgdb.RelDepends, pkgdb.RelPreDepends} {
			for _, rev := range target.ReverseRelationsOf(rt) {
				dependent := rev.Owner
				if dependent == nil || seen[dependent] {
					continue
				}
				clause, ok := findClauseContaining(dependent, rt, rev)
				if !ok {
					continue
				}
				if !clauseSatisfiedExcluding(db, clause, fixbyrm) {
					broken = append(broken, dependent)
					seen[dependent] = true
				}
			}
		}
	}

	checkTarget(fixbyrm)
	if fixbyrm.Installed != nil {
		for _, clause := range fixbyrm.Installed.Relations[pkgdb.RelProvides] {
			for _, p := range clause.Possibilities {
				if p.Target != nil {
					checkTarget(p.Target)
				}
			}
		}
	}
	return broken
}

// ReplacesSatisfied reports whether acting's available Replaces clause
// covers other's installed version, per step 2 of check_conflict and step 5
// of the unpack engine's file-conflict check.
func ReplacesSatisfied(acting, other *pkgdb.Package) bool {
	if acting.Available == nil {
		return false
	}
	for _, clause := range acting.Available.Relations[pkgdb.RelReplaces] {
		for _, p := range clause.Possibilities {
			if p.Target != other {
				continue
			}
			if !p.HasVersion() {
				return true
			}
			if Satisfies(snapshotVersion(other.Installed), Op(p.Possibility.Op), possibilityVersion(p)) {
				return true
			}
		}
	}
	return false
}

// Decision is the outcome of CheckConflict for one unsatisfied Conflicts
// possibility.
type Decision int

const (
	// DecisionNone means no possibility of the clause matches an installed
	// package, or its candidate was already resolved by a prior clause
	// this operation (the tie-break rule) — no conflict remains to resolve.
	DecisionNone Decision = iota
	// DecisionScheduleRemoval marks FixByRM for removal.
	DecisionScheduleRemoval
	// DecisionDeconfigureDependents marks FixByRM for removal and
	// Dependents for deconfiguration. The order in which the two are
	// carried out is not fixed here.
	DecisionDeconfigureDependents
	// DecisionRefuse means the operation must abort (or warn, with the
	// "conflicts" force flag) without removing FixByRM.
	DecisionRefuse
	// DecisionWarnAndContinue is DecisionRefuse downgraded by the
	// "conflicts" force flag.
	DecisionWarnAndContinue
)

// ConflictResult is the outcome of CheckConflict.
type ConflictResult struct {
	FixByRM    *pkgdb.Package
	Decision   Decision
	Dependents []*pkgdb.Package // populated only for DecisionDeconfigureDependents
	Reason     string
}

// CheckConflict implements the check_conflict decision procedure of
// spec.md §4.7 for one Conflicts clause, nominating the single conflicting
// installed package and deciding whether to schedule its removal.
func CheckConflict(db *pkgdb.Database, clause *pkgdb.Clause, acting *pkgdb.Package, policy Policy) *ConflictResult {
	var fixbyrm *pkgdb.Package
	for _, poss := range clause.Possibilities {
		target := poss.Target
		if target == nil || target.Installed == nil || !target.Installed.Valid() {
			continue
		}
		if target.IsTobe == pkgdb.DispositionRemove {
			// Tie-break: a prior clause this operation already resolved
			// this candidate; do not reconsider it.
			continue
		}
		if !PossibilitySatisfied(db, poss) {
			continue
		}
		fixbyrm = target
		break
	}
	if fixbyrm == nil {
		return &ConflictResult{Decision: DecisionNone}
	}

	actingEssential := acting.Available != nil && acting.Available.Essential
	fixbyrmEssential := fixbyrm.Installed != nil && fixbyrm.Installed.Essential

	// 1. Never auto-remove an essential package unless both sides are
	// essential, or the override is enabled.
	if fixbyrmEssential && !(actingEssential && fixbyrmEssential) && !policy.Force.RemoveEssential {
		return refuse(fixbyrm, policy, "conflicting package is essential")
	}

	// 2. fixbyrm.want == install and no Replaces satisfies => refuse.
	if fixbyrm.Want == control.WantInstall && !ReplacesSatisfied(acting, fixbyrm) {
		return refuse(fixbyrm, policy, "conflicting package is wanted installed and not replaced")
	}

	// 3-4-5. Reverse-dependency check, skipped when fixbyrm is already
	// broken. Dependents whose clause would no longer be satisfied are
	// either scheduled for deconfiguration (if the policy allows) or refuse
	// the whole operation.
	var toDeconfigure []*pkgdb.Package
	if fixbyrm.Status == control.StatusInstalled {
		broken := dependentsBrokenByRemoval(db, fixbyrm)
		if len(broken) > 0 {
			if !policy.AutoDeconfigure {
				return refuse(fixbyrm, policy, "removal would break reverse dependencies")
			}
			for _, dep := range broken {
				depEssential := dep.Installed != nil && dep.Installed.Essential
				if depEssential && !policy.Force.RemoveEssential {
					return refuse(fixbyrm, policy, "auto-deconfigure candidate is essential")
				}
			}
			toDeconfigure = broken
		}
	}

	// 6. Held or reinstall-required: refuse unless forced.
	if fixbyrm.Eflag&control.EflagHold != 0 && !policy.Force.Hold {
		return refuse(fixbyrm, policy, "conflicting package is held")
	}
	if fixbyrm.Eflag&control.EflagReinstreq != 0 && !policy.Force.RemoveReinstreq {
		return refuse(fixbyrm, policy, "conflicting package requires reinstallation")
	}

	// 7. Success: mark for removal, and mark any dependents for
	// deconfiguration.
	fixbyrm.IsTobe = pkgdb.DispositionRemove
	for _, dep := range toDeconfigure {
		dep.IsTobe = pkgdb.DispositionDeconfigure
	}
	if len(toDeconfigure) > 0 {
		return &ConflictResult{FixByRM: fixbyrm, Decision: DecisionDeconfigureDependents, Dependents: toDeconfigure}
	}
	return &ConflictResult{FixByRM: fixbyrm, Decision: DecisionScheduleRemoval}
}

func refuse(fixbyrm *pkgdb.Package, policy Policy, reason string) *ConflictResult {
	if policy.Force.Conflicts {
		return &ConflictResult{FixByRM: fixbyrm, Decision: DecisionWarnAndContinue, Reason: reason}
	}
	return &ConflictResult{FixByRM: fixbyrm, Decision: DecisionRefuse, Reason: reason}
}
