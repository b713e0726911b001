package resolver

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// normalize folds s to a space separated sequence of lowercase words with
// diacritics stripped, so that "Café LIVE!" and "cafe live" compare equal.
func normalize(s string) string {
	t := transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)), cases.Fold())
	folded, _, err := transform.String(t, s)
	if nil != err {
		folded = strings.ToLower(s)
	}

	words := strings.FieldsFunc(folded, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})

	return strings.Join(words, " ")
}

// containsTerm matches whole words only, so "live" does not match "oliver".
func containsTerm(normalized, term string) bool {
	if term == "" {
		return false
	}

	return strings.Contains(" "+normalized+" ", " "+term+" ")
}
