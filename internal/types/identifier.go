package types

import (
	"regexp"
	"strconv"
	"strings"
)

var identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// reservedWords cannot be used as identifiers in the target expression grammar.
var reservedWords = map[string]struct{}{
	"False": {}, "None": {}, "True": {}, "and": {}, "as": {}, "assert": {},
	"async": {}, "await": {}, "break": {}, "class": {}, "continue": {},
	"def": {}, "del": {}, "elif": {}, "else": {}, "except": {}, "finally": {},
	"for": {}, "from": {}, "global": {}, "if": {}, "import": {}, "in": {},
	"is": {}, "lambda": {}, "nonlocal": {}, "not": {}, "or": {}, "pass": {},
	"raise": {}, "return": {}, "try": {}, "while": {}, "with": {}, "yield": {},
}

// IsValidIdentifier reports whether name can be substituted into a compiled
// expression as-is.
func IsValidIdentifier(name string) bool {
	if !identifierPattern.MatchString(name) {
		return false
	}
	_, reserved := reservedWords[name]
	return !reserved
}

// SanitizeIdentifier maps an arbitrary display string onto the identifier grammar.
// Invalid runes become '_', a leading digit gets a '_' prefix and reserved
// words get a '_' suffix. The result always satisfies IsValidIdentifier.
func SanitizeIdentifier(name string) string {
	var b strings.Builder
	for _, r := range strings.TrimSpace(name) {
		switch {
		case r == '_', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	s := b.String()
	if s == "" {
		return "variable"
	}
	if s[0] >= '0' && s[0] <= '9' {
		s = "_" + s
	}
	if _, reserved := reservedWords[s]; reserved {
		s += "_"
	}
	return s
}

// UniqueName returns name, or name with the smallest "_N" suffix (N >= 2)
// that does not collide case-insensitively with any entry of taken.
func UniqueName(name string, taken []string) string {
	used := make(map[string]struct{}, len(taken))
	for _, t := range taken {
		used[strings.ToLower(t)] = struct{}{}
	}
	if _, ok := used[strings.ToLower(name)]; !ok {
		return name
	}
	for i := 2; ; i++ {
		candidate := name + "_" + strconv.Itoa(i)
		if _, ok := used[strings.ToLower(candidate)]; !ok {
			return candidate
		}
	}
}
