// Package names provides the canonical name normalisation used for
// equality, substring matching and fuzzy scoring across the system.
package names

import (
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// Normalize returns the canonical form of a display name: lower-case,
// Unicode NFD with combining marks stripped, non-alphanumeric characters
// (other than whitespace) removed, whitespace collapsed to single spaces.
// Normalize is idempotent.
func Normalize(s string) string {
	s = strings.ToLower(s)
	s = norm.NFD.String(s)

	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case unicode.Is(unicode.Mn, r):
			// combining mark from the NFD decomposition
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
		case unicode.IsSpace(r):
			b.WriteRune(' ')
		}
	}

	return strings.Join(strings.Fields(b.String()), " ")
}
