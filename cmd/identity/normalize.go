package identity

import (
	"strings"

	"golang.org/x/text/unicode/norm"
)

// NormalizeEmail is the lookup key for an email: NFKC, trimmed, lower-cased.
// NFKC folds compatibility forms (full-width letters, ligatures) so visually
// identical addresses cannot register twice.
func NormalizeEmail(s string) string {
	return strings.ToLower(strings.TrimSpace(norm.NFKC.String(s)))
}

// NormalizeFullName trims and collapses internal whitespace runs.
func NormalizeFullName(s string) string {
	return strings.Join(strings.Fields(norm.NFC.String(s)), " ")
}
