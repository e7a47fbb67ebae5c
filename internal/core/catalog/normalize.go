package catalog

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

var titleCaser = cases.Title(language.Und)

// NormalizeName canonicalizes a product name before any uniqueness lookup:
// Title Case per word, with ё folded to е so spelling drift in AI responses
// collapses to one Product row.
func NormalizeName(name string) string {
	name = strings.TrimSpace(name)
	name = FoldLetterVariants(name)
	name = strings.Join(strings.Fields(name), " ")
	return titleCaser.String(strings.ToLower(name))
}

// FoldLetterVariants replaces the ё/Ё letter variant with its base form.
func FoldLetterVariants(s string) string {
	s = strings.ReplaceAll(s, "ё", "е")
	s = strings.ReplaceAll(s, "Ё", "Е")
	return s
}

// NormalizedEqual reports whether two names collapse to the same canonical
// product name.
func NormalizedEqual(a, b string) bool {
	return NormalizeName(a) == NormalizeName(b)
}
