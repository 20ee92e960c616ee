// Package narrative tracks story elements across turns: extraction of
// people, places, items, and plot threads from turn text, dormancy
// bookkeeping, and detection of callbacks to long-dormant elements.
//
// The matching and dormancy logic in this file is pure (no provider, no
// storage) so it can be tested in isolation.
package narrative

import (
	"strings"
	"unicode"

	"storyweave/internal/types"
)

// Match describes how a piece of turn text referenced an element.
type Match struct {
	Type Type

	// Context is the text window surrounding the match.
	Context string
}

// Type aliases types.MatchType for brevity inside this package.
type Type = types.MatchType

// minFuzzyTokenLen guards short names from fuzzy matching: within edit
// distance 2, "key" would match "hey" and "ken". Short names get exact
// matching only.
const minFuzzyTokenLen = 5

// minKeywordLen filters description words considered significant.
const minKeywordLen = 5

// contextRadius is how many characters of surrounding text a match
// context keeps on each side.
const contextRadius = 60

var stopwords = map[string]struct{}{
	"about": {}, "after": {}, "again": {}, "their": {}, "there": {},
	"these": {}, "thing": {}, "those": {}, "through": {}, "under": {},
	"where": {}, "which": {}, "while": {}, "would": {}, "could": {},
	"should": {}, "before": {}, "between": {}, "against": {}, "because": {},
}

// token is one word of text with its byte offsets in the source.
type token struct {
	word  string // lowercased
	start int
	end   int
}

// tokenize splits text into lowercase word tokens. Word boundaries come
// from the tokenization itself, so a name can never match inside a larger
// word ("Key" never matches "Turkey").
func tokenize(text string) []token {
	var toks []token
	start := -1
	for i, r := range text {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '\'' {
			if start < 0 {
				start = i
			}
			continue
		}
		if start >= 0 {
			toks = append(toks, token{word: strings.ToLower(text[start:i]), start: start, end: i})
			start = -1
		}
	}
	if start >= 0 {
		toks = append(toks, token{word: strings.ToLower(text[start:]), start: start, end: len(text)})
	}
	return toks
}

// MatchElement scans text for a reference to the element. Exact name
// match, fuzzy name match, and keyword match are tried in that order; the
// first hit wins.
func MatchElement(text string, el types.NarrativeElement, fuzzyDist int) (Match, bool) {
	toks := tokenize(text)
	if len(toks) == 0 {
		return Match{}, false
	}
	nameToks := tokenize(el.Name)
	if len(nameToks) == 0 {
		return Match{}, false
	}

	if at, ok := exactMatch(toks, nameToks); ok {
		return Match{Type: types.MatchExact, Context: window(text, toks[at].start, toks[at+len(nameToks)-1].end)}, true
	}
	if at, ok := fuzzyMatch(toks, nameToks, fuzzyDist); ok {
		return Match{Type: types.MatchFuzzy, Context: window(text, toks[at].start, toks[at+len(nameToks)-1].end)}, true
	}
	if at, ok := keywordMatch(toks, el.Description); ok {
		return Match{Type: types.MatchKeyword, Context: window(text, toks[at].start, toks[at].end)}, true
	}
	return Match{}, false
}

// exactMatch finds the name token sequence as consecutive text tokens,
// case-insensitive.
func exactMatch(toks, name []token) (int, bool) {
	for i := 0; i+len(name) <= len(toks); i++ {
		hit := true
		for j := range name {
			if toks[i+j].word != name[j].word {
				hit = false
				break
			}
		}
		if hit {
			return i, true
		}
	}
	return 0, false
}

// fuzzyMatch slides the name across the text allowing a bounded edit
// distance per token. Tokens shorter than minFuzzyTokenLen must match
// exactly; for multi-word names a majority of tokens must be exact.
func fuzzyMatch(toks, name []token, maxDist int) (int, bool) {
	if maxDist <= 0 {
		return 0, false
	}
	for i := 0; i+len(name) <= len(toks); i++ {
		exactHits := 0
		hit := true
		for j := range name {
			tw, nw := toks[i+j].word, name[j].word
			if tw == nw {
				exactHits++
				continue
			}
			if len(nw) < minFuzzyTokenLen {
				hit = false
				break
			}
			if levenshtein(tw, nw) > maxDist {
				hit = false
				break
			}
		}
		if !hit {
			continue
		}
		if exactHits == len(name) {
			// Fully exact sequences are the exact matcher's business.
			continue
		}
		if len(name) > 1 && exactHits*2 < len(name) {
			continue
		}
		return i, true
	}
	return 0, false
}

// keywordMatch looks for significant words from the element description
// appearing as whole tokens in the text. Two distinct keyword hits are
// required (one when the description only yields a single keyword).
func keywordMatch(toks []token, description string) (int, bool) {
	keywords := make(map[string]struct{})
	for _, kt := range tokenize(description) {
		if len(kt.word) < minKeywordLen {
			continue
		}
		if _, stop := stopwords[kt.word]; stop {
			continue
		}
		keywords[kt.word] = struct{}{}
	}
	if len(keywords) == 0 {
		return 0, false
	}
	need := 2
	if len(keywords) < need {
		need = len(keywords)
	}

	seen := make(map[string]struct{})
	first := -1
	for i, tk := range toks {
		if _, ok := keywords[tk.word]; !ok {
			continue
		}
		if first < 0 {
			first = i
		}
		seen[tk.word] = struct{}{}
		if len(seen) >= need {
			return first, true
		}
	}
	return 0, false
}

// levenshtein computes the edit distance between two strings.
func levenshtein(a, b string) int {
	ra, rb := []rune(a), []rune(b)
	if len(ra) == 0 {
		return len(rb)
	}
	if len(rb) == 0 {
		return len(ra)
	}
	prev := make([]int, len(rb)+1)
	cur := make([]int, len(rb)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(ra); i++ {
		cur[0] = i
		for j := 1; j <= len(rb); j++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}
			cur[j] = min3(prev[j]+1, cur[j-1]+1, prev[j-1]+cost)
		}
		prev, cur = cur, prev
	}
	return prev[len(rb)]
}

func min3(a, b, c int) int {
	if b < a {
		a = b
	}
	if c < a {
		a = c
	}
	return a
}

// window extracts the match context snippet around [start, end).
func window(text string, start, end int) string {
	lo := start - contextRadius
	if lo < 0 {
		lo = 0
	}
	hi := end + contextRadius
	if hi > len(text) {
		hi = len(text)
	}
	// Snap to rune boundaries.
	for lo > 0 && lo < len(text) && !utf8RuneStart(text[lo]) {
		lo--
	}
	for hi < len(text) && !utf8RuneStart(text[hi]) {
		hi++
	}
	return strings.TrimSpace(text[lo:hi])
}

func utf8RuneStart(b byte) bool { return b&0xC0 != 0x80 }

// UpdateDormancy recomputes the dormancy counters for one element against
// the current turn. Pure function; called once per round for every element.
func UpdateDormancy(el *types.NarrativeElement, currentTurn, threshold int) {
	el.DormancyTurns = currentTurn - el.LastReferencedTurn
	if el.DormancyTurns < 0 {
		el.DormancyTurns = 0
	}
	el.Dormant = el.DormancyTurns > threshold
}

// MarkReferenced updates an element's reference counters for a sighting at
// turn. Counters are monotonic: an out-of-order turn number never moves
// LastReferencedTurn backwards.
func MarkReferenced(el *types.NarrativeElement, turn int) {
	el.TimesReferenced++
	if turn > el.LastReferencedTurn {
		el.LastReferencedTurn = turn
	}
	el.DormancyTurns = 0
	el.Dormant = false
}
