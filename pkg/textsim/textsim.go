// Package textsim provides text similarity utilities.
package textsim

import "strings"

// WordSet tokenizes text into a set of lower-cased words, split on
// whitespace.
func WordSet(text string) map[string]bool {
	words := strings.Fields(strings.ToLower(text))
	set := make(map[string]bool, len(words))
	for _, w := range words {
		set[w] = true
	}
	return set
}

// Jaccard returns the Jaccard index of the two sets: |A∩B| / |A∪B|.
// Two empty sets are considered identical (1.0).
func Jaccard(a, b map[string]bool) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1
	}
	if len(a) == 0 || len(b) == 0 {
		return 0
	}

	intersection := 0
	for w := range a {
		if b[w] {
			intersection++
		}
	}
	union := len(a) + len(b) - intersection
	return float64(intersection) / float64(union)
}

// Similarity is a convenience wrapper comparing two texts directly.
// Identical strings score 1 without tokenizing.
func Similarity(a, b string) float64 {
	if a == b {
		return 1
	}
	if a == "" || b == "" {
		return 0
	}
	return Jaccard(WordSet(a), WordSet(b))
}
