package fuzzy

import (
	"math"
	"strings"
	"unicode"
)

// Tokenize lowercases text and splits it on any non-letter/non-digit rune.
func Tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// LexicalRank scores how well text matches query as a normalized
// term-frequency relevance value in [0,1]. Each unique query term contributes
// its term frequency in the text, saturating once the term makes up an eighth
// of the tokens; the contributions are averaged over the query terms, so a
// text containing every query term prominently approaches 1 and a text
// containing none of them scores exactly 0.
func LexicalRank(query, text string) float64 {
	terms := uniqueTerms(query)
	tokens := Tokenize(text)
	if len(terms) == 0 || len(tokens) == 0 {
		return 0
	}

	counts := make(map[string]int, len(tokens))
	for _, tok := range tokens {
		counts[tok]++
	}

	var total float64
	for _, term := range terms {
		tf := float64(counts[term]) / float64(len(tokens))
		total += math.Min(1, tf*8)
	}
	return total / float64(len(terms))
}

// ContainsAnyTerm reports whether text contains at least one query term.
// Used as a cheap pre-filter before ranking.
func ContainsAnyTerm(query, text string) bool {
	textLower := strings.ToLower(text)
	for _, term := range uniqueTerms(query) {
		if strings.Contains(textLower, term) {
			return true
		}
	}
	return false
}

func uniqueTerms(query string) []string {
	seen := make(map[string]struct{})
	var terms []string
	for _, tok := range Tokenize(query) {
		if _, ok := seen[tok]; ok {
			continue
		}
		seen[tok] = struct{}{}
		terms = append(terms, tok)
	}
	return terms
}
