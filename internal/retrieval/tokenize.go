package retrieval

import (
	"regexp"
	"strings"
)

var wordRe = regexp.MustCompile(`[\p{L}\p{N}]+`)

// stopwords covers both languages the rest of this repo's text-processing
// components (addressing, episode boundaries) are bilingual over.
var stopwords = map[string]struct{}{
	"the": {}, "and": {}, "for": {}, "are": {}, "but": {}, "not": {}, "you": {},
	"with": {}, "this": {}, "that": {}, "have": {}, "from": {}, "was": {}, "were": {},
	"what": {}, "when": {}, "where": {}, "which": {}, "who": {}, "why": {}, "how": {},
	"і": {}, "та": {}, "але": {}, "для": {}, "це": {}, "що": {}, "як": {}, "на": {},
	"від": {}, "був": {}, "була": {}, "було": {},
}

// Tokenize extracts non-stopword tokens longer than 2 characters, lower-cased.
func Tokenize(text string) []string {
	var out []string
	for _, w := range wordRe.FindAllString(strings.ToLower(text), -1) {
		if len([]rune(w)) <= 2 {
			continue
		}
		if _, stop := stopwords[w]; stop {
			continue
		}
		out = append(out, w)
	}
	return out
}
