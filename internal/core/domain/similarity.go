package domain

import (
	"math"
	"strings"
)

// NameSimilarity scores two normalized product names from 0 to 100.
// It blends pg_trgm style trigram overlap with Jaro-Winkler so the
// in-memory catalog ranks close to the PostgreSQL one.
func NameSimilarity(a, b string) float64 {
	if a == "" || b == "" {
		return 0
	}
	if a == b {
		return 100
	}
	return percent(0.6*TrigramSimilarity(a, b) + 0.4*JaroWinkler(a, b))
}

// percent scales a 0..1 score to 0..100 truncated to two decimals, so a
// reported score never exceeds the real one. The epsilon absorbs float
// error on exact values such as 0.85.
func percent(score float64) float64 {
	return math.Floor(score*10000+1e-9) / 100
}

// TrigramSimilarity mirrors pg_trgm similarity(): shared trigrams over
// the union, with each word padded by two leading and one trailing space.
func TrigramSimilarity(a, b string) float64 {
	ta, tb := trigrams(a), trigrams(b)
	if len(ta) == 0 || len(tb) == 0 {
		return 0
	}
	shared := 0
	for g := range ta {
		if _, ok := tb[g]; ok {
			shared++
		}
	}
	return float64(shared) / float64(len(ta)+len(tb)-shared)
}

func trigrams(s string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, word := range strings.Fields(s) {
		padded := []rune("  " + word + " ")
		for i := 0; i+3 <= len(padded); i++ {
			set[string(padded[i:i+3])] = struct{}{}
		}
	}
	return set
}

// JaroWinkler returns the Jaro-Winkler similarity between 0 and 1.
func JaroWinkler(a, b string) float64 {
	if a == b {
		return 1
	}
	jaro := Jaro(a, b)

	prefix := 0
	for i := 0; i < len(a) && i < len(b) && i < 4; i++ {
		if a[i] != b[i] {
			break
		}
		prefix++
	}
	return jaro + float64(prefix)*0.1*(1-jaro)
}

// Jaro returns the Jaro similarity between 0 and 1.
func Jaro(a, b string) float64 {
	if a == b {
		return 1
	}
	if len(a) == 0 || len(b) == 0 {
		return 0
	}

	matchDist := max(max(len(a), len(b))/2-1, 0)
	aMatches := make([]bool, len(a))
	bMatches := make([]bool, len(b))

	matches := 0
	for i := 0; i < len(a); i++ {
		start := max(0, i-matchDist)
		end := min(len(b), i+matchDist+1)
		for j := start; j < end; j++ {
			if bMatches[j] || a[i] != b[j] {
				continue
			}
			aMatches[i] = true
			bMatches[j] = true
			matches++
			break
		}
	}
	if matches == 0 {
		return 0
	}

	transpositions := 0
	k := 0
	for i := 0; i < len(a); i++ {
		if !aMatches[i] {
			continue
		}
		for !bMatches[k] {
			k++
		}
		if a[i] != b[k] {
			transpositions++
		}
		k++
	}

	m := float64(matches)
	t := float64(transpositions) / 2
	return (m/float64(len(a)) + m/float64(len(b)) + (m-t)/m) / 3
}
