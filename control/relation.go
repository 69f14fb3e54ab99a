package control

import (
	"strings"
)

// Op is a version-constraint comparison operator.
type Op string

const (
	OpEQ Op = "="
	OpGE Op = ">="
	OpLE Op = "<="
	OpGT Op = ">>"
	OpLT Op = "<<"
)

// Possibility is one alternative in a relationship clause: a target package
// name and an optional version constraint.
type Possibility struct {
	Target   string
	Op       Op
	Version  string
	Revision string
}

// HasVersion reports whether this possibility carries a version constraint.
func (p Possibility) HasVersion() bool {
	return p.Op != ""
}

// Clause is a disjunction ("|"-separated alternatives) of possibilities,
// one entry in a comma-separated relationship field.
type Clause struct {
	Possibilities []Possibility
}

// Relation is a full relationship field value: a list of clauses.
type Relation struct {
	Clauses []Clause
}

// ParseRelation parses a relationship field value such as
// "libc (>= 6.0), libgcc | libgcc1".
func ParseRelation(s string) (Relation, error) {
	var rel Relation
	s = strings.TrimSpace(s)
	if s == "" {
		return rel, nil
	}
	for _, clauseStr := range strings.Split(s, ",") {
		clauseStr = strings.TrimSpace(clauseStr)
		if clauseStr == "" {
			continue
		}
		var clause Clause
		for _, possStr := range strings.Split(clauseStr, "|") {
			poss, err := parsePossibility(strings.TrimSpace(possStr))
			if err != nil {
				return rel, err
			}
			clause.Possibilities = append(clause.Possibilities, poss)
		}
		rel.Clauses = append(rel.Clauses, clause)
	}
	return rel, nil
}

func parsePossibility(s string) (Possibility, error) {
	if s == "" {
		return Possibility{}, newError(BadRelationSyntax, "", "empty possibility")
	}
	open := strings.IndexByte(s, '(')
	if open == -1 {
		name := strings.TrimSpace(s)
		if err := ValidatePackageName(name); err != nil {
			return Possibility{}, newError(BadRelationSyntax, "", "invalid target package name: "+name)
		}
		return Possibility{Target: name}, nil
	}
	close := strings.IndexByte(s, ')')
	if close == -1 || close < open {
		return Possibility{}, newError(BadRelationSyntax, "", "unterminated version constraint in "+s)
	}
	name := strings.TrimSpace(s[:open])
	if err := ValidatePackageName(name); err != nil {
		return Possibility{}, newError(BadRelationSyntax, "", "invalid target package name: "+name)
	}
	constraint := strings.TrimSpace(s[open+1 : close])

	var op Op
	for _, candidate := range []Op{OpGE, OpLE, OpEQ, OpGT, OpLT} {
		if strings.HasPrefix(constraint, string(candidate)) {
			op = candidate
			constraint = strings.TrimSpace(strings.TrimPrefix(constraint, string(candidate)))
			break
		}
	}
	if op == "" {
		return Possibility{}, newError(BadRelationSyntax, "", "missing comparison operator in "+s)
	}

	version, revision := constraint, ""
	if idx := strings.LastIndex(constraint, "-"); idx != -1 {
		version, revision = constraint[:idx], constraint[idx+1:]
	}

	return Possibility{Target: name, Op: op, Version: version, Revision: revision}, nil
}

// String serializes a Relation back into the "clause [, clause]*" form,
// with "target [| target]*" per clause and a version suffix rendered as
// " (<op> <version>[-<revision>])".
func (r Relation) String() string {
	var clauses []string
	for _, c := range r.Clauses {
		var possibilities []string
		for _, p := range c.Possibilities {
			possibilities = append(possibilities, p.String())
		}
		clauses = append(clauses, strings.Join(possibilities, " | "))
	}
	return strings.Join(clauses, ", ")
}

func (p Possibility) String() string {
	if !p.HasVersion() {
		return p.Target
	}
	version := p.Version
	if p.Revision != "" {
		version = version + "-" + p.Revision
	}
	// A space always separates the operator from the version leader, which
	// keeps a non-alphanumeric leader from running into the operator's own
	// characters.
	return p.Target + " (" + string(p.Op) + " " + version + ")"
}
