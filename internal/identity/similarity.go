package identity

import (
	"strings"

	"github.com/agext/levenshtein"
)

// NameSimilarity scores two names in [0,1] after normalization
// (accent/punctuation stripping, token sort). Exact normalized matches
// score 1.0 regardless of original formatting.
func NameSimilarity(a, b string) float64 {
	na, nb := NormalizeName(a), NormalizeName(b)
	if na == "" || nb == "" {
		return 0
	}
	if na == nb {
		return 1.0
	}
	return levenshtein.Similarity(na, nb, nil)
}

// TokenJaccard is the Jaccard similarity of the normalized token sets.
// Used as a secondary signal when names differ in length (e.g. middle
// names present on one side only).
func TokenJaccard(a, b string) float64 {
	setA := tokenSet(a)
	setB := tokenSet(b)
	if len(setA) == 0 || len(setB) == 0 {
		return 0
	}

	inter := 0
	for t := range setA {
		if setB[t] {
			inter++
		}
	}
	union := len(setA) + len(setB) - inter
	return float64(inter) / float64(union)
}

func tokenSet(s string) map[string]bool {
	out := make(map[string]bool)
	for _, t := range strings.Fields(NormalizeName(s)) {
		out[t] = true
	}
	return out
}

// bestNameScore combines edit-distance and token-overlap signals,
// keeping whichever is higher. Both are symmetric and deterministic.
func bestNameScore(a, b string) float64 {
	s := NameSimilarity(a, b)
	if j := TokenJaccard(a, b); j > s {
		return j
	}
	return s
}
