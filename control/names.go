package control

import "strings"

// packageNameChars are the characters permitted anywhere in a package name
// after the mandatory leading alphanumeric, per illegal_packagename() in
// original_source/lib/parsehelp.c.
const packageNameChars = "abcdefghijklmnopqrstuvwxyz0123456789-+._@:=%"

func isAlnum(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}

// ValidatePackageName checks a package name against the identity rule: it
// must be nonempty, begin with an alphanumeric character, use only
// characters in packageNameChars (case-insensitive) thereafter, and be at
// least two characters long.
func ValidatePackageName(name string) error {
	if name == "" {
		return newError(BadPackageName, FieldPackage, "empty package name")
	}
	if !isAlnum(name[0]) {
		return newError(BadPackageName, FieldPackage, "must start with an alphanumeric character")
	}
	lower := strings.ToLower(name)
	for i := 0; i < len(lower); i++ {
		if strings.IndexByte(packageNameChars, lower[i]) == -1 {
			return newError(BadPackageName, FieldPackage, "contains an illegal character: "+string(name[i]))
		}
	}
	if len(name) < 2 {
		return newError(BadPackageName, FieldPackage, "must be at least two characters long")
	}
	return nil
}
