package pricing

import (
	"strings"
	"unicode"

	"github.com/kljensen/snowball"
	"golang.org/x/text/unicode/norm"
)

var stopwords = map[string]bool{
	"a": true, "an": true, "and": true, "the": true, "of": true, "for": true,
	"with": true, "in": true, "on": true, "to": true, "by": true, "at": true,
	"or": true, "as": true, "per": true, "including": true, "incl": true,
}

// Terms splits text into lower-cased, stemmed, de-duplicated search terms.
func Terms(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(norm.NFKC.String(text)), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	seen := make(map[string]bool, len(fields))
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if len(f) < 2 || stopwords[f] {
			continue
		}
		term := stem(f)
		if !seen[term] {
			seen[term] = true
			out = append(out, term)
		}
	}
	return out
}

func stem(word string) string {
	if !isAlpha(word) {
		return word
	}
	s, err := snowball.Stem(word, "english", true)
	if err != nil || s == "" {
		return word
	}
	return s
}

func isAlpha(s string) bool {
	for _, r := range s {
		if !unicode.IsLetter(r) {
			return false
		}
	}
	return true
}

// Overlap returns the share of query terms present in candidate.
func Overlap(query, candidate []string) float64 {
	if len(query) == 0 {
		return 0
	}
	return float64(Hits(query, candidate)) / float64(len(query))
}

// Hits counts the query terms present in candidate.
func Hits(query, candidate []string) int {
	set := make(map[string]bool, len(candidate))
	for _, t := range candidate {
		set[t] = true
	}
	hits := 0
	for _, t := range query {
		if set[t] {
			hits++
		}
	}
	return hits
}
