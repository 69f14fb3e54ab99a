// Package control implements the paragraph-structured, field-oriented text
// record format used throughout the package database and archive metadata:
// parsing, alias normalization, and serialization in a fixed field order.
package control

import "strings"

// Field is a control-record field name, e.g. "Package" or "Pre-Depends".
type Field string

// Standard field names, matching the catalog in the field catalog reference.
const (
	FieldPackage       Field = "Package"
	FieldEssential     Field = "Essential"
	FieldStatus        Field = "Status"
	FieldPriority      Field = "Priority"
	FieldSection       Field = "Section"
	FieldMaintainer    Field = "Maintainer"
	FieldSource        Field = "Source"
	FieldVersion       Field = "Version"
	FieldRevision      Field = "Revision"
	FieldArchitecture  Field = "Architecture"
	FieldPreDepends    Field = "Pre-Depends"
	FieldDepends       Field = "Depends"
	FieldRecommends    Field = "Recommends"
	FieldSuggests      Field = "Suggests"
	FieldEnhances      Field = "Enhances"
	FieldConflicts     Field = "Conflicts"
	FieldProvides      Field = "Provides"
	FieldReplaces      Field = "Replaces"
	FieldInstalledSize Field = "Installed-Size"
	FieldDescription   Field = "Description"
	FieldConffiles     Field = "Conffiles"
	FieldConfigVersion Field = "Config-Version"
	FieldFilename      Field = "Filename"
	FieldMSDOSFilename Field = "MSDOS-Filename"
	FieldSize          Field = "Size"
	FieldMD5sum        Field = "MD5sum"
)

// registryOrder is the fixed field emission order used by the serializer,
// per the field catalog.
var registryOrder = []Field{
	FieldPackage, FieldEssential, FieldStatus, FieldPriority, FieldSection,
	FieldMaintainer, FieldSource, FieldVersion, FieldRevision, FieldArchitecture,
	FieldPreDepends, FieldDepends, FieldRecommends, FieldSuggests, FieldEnhances,
	FieldConflicts, FieldProvides, FieldReplaces, FieldInstalledSize,
	FieldDescription, FieldConffiles, FieldConfigVersion, FieldFilename,
	FieldMSDOSFilename, FieldSize, FieldMD5sum,
}

// aliases maps a legacy or alternate field spelling to its canonical name.
// Grounded on original_source/lib/parsehelp.c's nicknames[] table.
var aliases = map[string]Field{
	"recommended":       FieldRecommends,
	"optional":          FieldSuggests,
	"class":             FieldPriority,
	"package-revision":  FieldRevision,
	"package_revision":  FieldRevision,
}

// CanonicalFieldName resolves aliases and normalizes case. Lookup is
// case-insensitive, matching the source format's field-name matching.
func CanonicalFieldName(name string) Field {
	lower := strings.ToLower(name)
	if canon, ok := aliases[lower]; ok {
		return canon
	}
	// Match against the known registry case-insensitively so that e.g.
	// "package" and "PACKAGE" both resolve to "Package".
	for _, f := range registryOrder {
		if strings.EqualFold(string(f), name) {
			return f
		}
	}
	return Field(name)
}

// Entry is one field/value pair as it appears (or will appear) in a record.
type Entry struct {
	Name  Field
	Value string
}

// Record is an ordered sequence of field entries forming one paragraph.
// Order is preserved on both parse and serialize so that unknown
// (carry-over) fields round-trip in their original relative order.
type Record struct {
	Entries []Entry
}

// Get returns the value of the first entry with the given field name
// (case-insensitive, alias-resolved), and whether it was found.
func (r *Record) Get(name Field) (string, bool) {
	canon := CanonicalFieldName(string(name))
	for _, e := range r.Entries {
		if CanonicalFieldName(string(e.Name)) == canon {
			return e.Value, true
		}
	}
	return "", false
}

// Set replaces the value of the first entry with the given field name, or
// appends a new entry if none exists.
func (r *Record) Set(name Field, value string) {
	canon := CanonicalFieldName(string(name))
	for i, e := range r.Entries {
		if CanonicalFieldName(string(e.Name)) == canon {
			r.Entries[i].Value = value
			return
		}
	}
	r.Entries = append(r.Entries, Entry{Name: canon, Value: value})
}

// Delete removes all entries with the given field name.
func (r *Record) Delete(name Field) {
	canon := CanonicalFieldName(string(name))
	out := r.Entries[:0]
	for _, e := range r.Entries {
		if CanonicalFieldName(string(e.Name)) != canon {
			out = append(out, e)
		}
	}
	r.Entries = out
}
