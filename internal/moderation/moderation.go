// Package moderation implements the pluggable blocked-term predicate
// prompt values are checked against, kept as a predicate the room state
// machine calls rather than baked into it so a hosted moderation
// service can stand in for it later without touching callers.
package moderation

import (
	"strings"
)

// Checker decides whether a submitted value contains a blocked term.
// Swappable without touching room state-machine code.
type Checker interface {
	IsBlocked(value string) bool
}

var leetFold = map[rune]rune{
	'@': 'a', '$': 's', '0': 'o', '1': 'i', '3': 'e',
	'4': 'a', '5': 's', '7': 't', '8': 'b', '9': 'g',
	'!': 'i', '+': 't',
	// 'v' standing in for 'u' ("fvck").
	'v': 'u',
	// Common diacritic evasions ("fûck") fold to their base Latin letter
	// alongside the numeric/symbol substitutions above.
	'à': 'a', 'á': 'a', 'â': 'a', 'ã': 'a', 'ä': 'a', 'å': 'a',
	'è': 'e', 'é': 'e', 'ê': 'e', 'ë': 'e',
	'ì': 'i', 'í': 'i', 'î': 'i', 'ï': 'i',
	'ò': 'o', 'ó': 'o', 'ô': 'o', 'õ': 'o', 'ö': 'o',
	'ù': 'u', 'ú': 'u', 'û': 'u', 'ü': 'u',
	'ý': 'y', 'ÿ': 'y', 'ñ': 'n', 'ç': 'c',
}

// WordListChecker blocks whole-word matches against a fixed set of
// terms, after folding common leetspeak substitutions and collapsing
// non-letter separators so "f u c k", "fûck" and "fvck"-style variants
// fold to a comparable form.
type WordListChecker struct {
	blocked map[string]struct{}
}

// NewWordListChecker builds a checker from a list of blocked terms,
// lowercased at construction time.
func NewWordListChecker(terms []string) *WordListChecker {
	blocked := make(map[string]struct{}, len(terms))
	for _, t := range terms {
		blocked[strings.ToLower(t)] = struct{}{}
	}
	return &WordListChecker{blocked: blocked}
}

// IsBlocked reports whether any word in value, after normalization,
// matches a blocked term exactly. Besides ordinary whole-word matches,
// runs of single-letter words are merged before comparison so
// letter-spaced evasion ("f u c k") is still caught, without merging
// ordinary short words into one another.
func (c *WordListChecker) IsBlocked(value string) bool {
	words := strings.Fields(normalize(value))
	for _, word := range words {
		if _, ok := c.blocked[word]; ok {
			return true
		}
	}
	for _, run := range mergeSingleLetterRuns(words) {
		if _, ok := c.blocked[run]; ok {
			return true
		}
	}
	return false
}

// mergeSingleLetterRuns joins consecutive one-character words into a
// single candidate word, e.g. ["f", "u", "c", "k"] -> ["fuck"].
func mergeSingleLetterRuns(words []string) []string {
	var runs []string
	var cur strings.Builder
	flush := func() {
		if cur.Len() > 1 {
			runs = append(runs, cur.String())
		}
		cur.Reset()
	}
	for _, w := range words {
		if len(w) == 1 {
			cur.WriteString(w)
			continue
		}
		flush()
	}
	flush()
	return runs
}

// normalize lowercases, folds leetspeak substitutions, strips
// punctuation/diacritics-adjacent marks that are commonly used to
// evade whole-word filters, and collapses the result to ASCII letters
// and spaces so "fûck" and "f*u*c*k" compare equal to "fuck".
func normalize(value string) string {
	var b strings.Builder
	b.Grow(len(value))
	prevSpace := false
	for _, r := range strings.ToLower(value) {
		if folded, ok := leetFold[r]; ok {
			r = folded
		}
		switch {
		case r >= 'a' && r <= 'z':
			b.WriteRune(r)
			prevSpace = false
		default:
			if !prevSpace {
				b.WriteByte(' ')
				prevSpace = true
			}
		}
	}
	return b.String()
}

// DefaultBlockedTerms is a minimal seed list; production deployments
// are expected to supply their own via NewWordListChecker.
var DefaultBlockedTerms = []string{
	"fuck", "shit", "bitch", "asshole", "cunt", "nigger", "faggot",
}

// Default returns a Checker built from DefaultBlockedTerms.
func Default() Checker {
	return NewWordListChecker(DefaultBlockedTerms)
}
