// Package fuzzy fills in coordinates and neighborhoods for listings that
// were never geocoded, by matching their street against the street cache.
package fuzzy

import (
	"slices"
	"strings"
	"unicode/utf8"

	"github.com/agext/levenshtein"
)

// indel counts insertions and deletions only; a substitution costs both.
var indel = levenshtein.NewParams().SubCost(2)

// TokenSortRatio scores a and b from 0 to 100 ignoring word order. Words are
// split on whitespace, sorted and re-joined before comparison. It does not
// fold case.
func TokenSortRatio(a, b string) float64 {
	return Ratio(sortTokens(a), sortTokens(b))
}

// Ratio is the normalized indel similarity of a and b on a 0 to 100 scale.
func Ratio(a, b string) float64 {
	total := utf8.RuneCountInString(a) + utf8.RuneCountInString(b)
	if total == 0 {
		return 100
	}
	dist := levenshtein.Distance(a, b, indel)
	return 100 * (1 - float64(dist)/float64(total))
}

func sortTokens(s string) string {
	tokens := strings.Fields(s)
	slices.Sort(tokens)
	return strings.Join(tokens, " ")
}
