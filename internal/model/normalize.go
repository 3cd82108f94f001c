package model

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// NormalizeSubject returns the comparison form of a username or scope name:
// trimmed, NFC-normalized and case-folded. A leading "u/" or "r/" prefix is
// removed.
func NormalizeSubject(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "/")
	if len(s) > 2 && (s[:2] == "u/" || s[:2] == "r/" || s[:2] == "U/" || s[:2] == "R/") {
		s = s[2:]
	}
	return cases.Fold().String(norm.NFC.String(s))
}

// SameSubject reports whether a and b name the same account or scope.
func SameSubject(a, b string) bool {
	if a == "" || b == "" {
		return false
	}
	return NormalizeSubject(a) == NormalizeSubject(b)
}
