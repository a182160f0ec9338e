// Package dedup merges duplicate resolved entities and relationship triples.
// Entities go through an exact phase on folded names followed by a semantic
// phase on name similarity and shared canonical ids.
package dedup

import (
	"math"
	"strings"
	"unicode"

	"github.com/agext/levenshtein"
	"golang.org/x/text/cases"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Normalize folds case, strips diacritics, and collapses whitespace, so that
// "  Zürich " and "zurich" compare equal.
func Normalize(s string) string {
	// Transformers carry state and are built per call.
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, s)
	if err != nil {
		folded = s
	}
	folded = cases.Fold().String(folded)
	return strings.Join(strings.Fields(folded), " ")
}

// Similarity scores two labels in [0, 1] after normalization: the larger of
// the Levenshtein ratio and the trigram Jaccard index.
func Similarity(a, b string) float64 {
	na, nb := Normalize(a), Normalize(b)
	if na == nb {
		return 1
	}
	if na == "" || nb == "" {
		return 0
	}
	return math.Max(levenshtein.Similarity(na, nb, nil), trigramJaccard(na, nb))
}

func trigrams(s string) map[string]struct{} {
	r := []rune("  " + s + " ")
	out := make(map[string]struct{}, len(r))
	for i := 0; i+3 <= len(r); i++ {
		out[string(r[i:i+3])] = struct{}{}
	}
	return out
}

func trigramJaccard(a, b string) float64 {
	ta, tb := trigrams(a), trigrams(b)
	inter := 0
	for g := range ta {
		if _, ok := tb[g]; ok {
			inter++
		}
	}
	union := len(ta) + len(tb) - inter
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}
