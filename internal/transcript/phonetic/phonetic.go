// Package phonetic finds which vocabulary term an STT phrase was meant to be.
//
// A term is a candidate when any Double Metaphone code of its words is also
// a code of the phrase's words. The candidate with the best Jaro-Winkler
// score wins if it reaches the phonetic threshold. Terms that share no code
// can still win on a stricter fuzzy threshold, as long as no phonetic
// candidate qualified. Text is compared accent-folded and lowercase, so
// "autorizacao" and "Autorização" are the same word.
package phonetic

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/antzucaro/matchr"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Default thresholds. They are stricter than for free-form names because
// Portuguese call transcripts are full of short common words that must never
// be rewritten.
const (
	DefaultPhoneticThreshold = 0.85
	DefaultFuzzyThreshold    = 0.96
)

// maxJoinedLengthDiff bounds the length difference, in runes, between a
// phrase and a term with a different word count.
const maxJoinedLengthDiff = 2

// Option configures a [Matcher].
type Option func(*Matcher)

// WithPhoneticThreshold sets the minimum Jaro-Winkler score required for a
// phonetically matched term to be accepted. Default: 0.85.
func WithPhoneticThreshold(threshold float64) Option {
	return func(m *Matcher) {
		m.phoneticThreshold = threshold
	}
}

// WithFuzzyThreshold sets the minimum Jaro-Winkler score required when no
// phonetic match is found. Default: 0.96.
func WithFuzzyThreshold(threshold float64) Option {
	return func(m *Matcher) {
		m.fuzzyThreshold = threshold
	}
}

// Matcher is a phonetic vocabulary matcher. It implements
// [transcript.PhoneticMatcher]. It is read-only after construction and safe
// for concurrent use.
type Matcher struct {
	phoneticThreshold float64
	fuzzyThreshold    float64
}

// New returns a new [Matcher] configured with the supplied options.
func New(opts ...Option) *Matcher {
	m := &Matcher{
		phoneticThreshold: DefaultPhoneticThreshold,
		fuzzyThreshold:    DefaultFuzzyThreshold,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// ── Vocabulary ────────────────────────────────────────────────────────────────

type term struct {
	text   string
	folded string
	tokens []string
	codes  codeSet
}

// Vocabulary is a list of terms with their phonetic codes precomputed. Build
// it once with [NewVocabulary] and share it; it is never modified.
type Vocabulary struct {
	terms    []term
	maxWords int
}

// NewVocabulary prepares terms for matching. Blank terms and case- or
// accent-insensitive duplicates are dropped; the first spelling wins.
func NewVocabulary(terms []string) *Vocabulary {
	v := &Vocabulary{}
	seen := make(map[string]struct{}, len(terms))
	for _, t := range terms {
		t = strings.TrimSpace(t)
		folded := Fold(t)
		if folded == "" {
			continue
		}
		if _, dup := seen[folded]; dup {
			continue
		}
		seen[folded] = struct{}{}
		tokens := strings.Fields(folded)
		v.terms = append(v.terms, term{
			text:   t,
			folded: folded,
			tokens: tokens,
			codes:  metaphones(tokens),
		})
		v.maxWords = max(v.maxWords, len(tokens))
	}
	return v
}

// Len returns the number of distinct terms.
func (v *Vocabulary) Len() int { return len(v.terms) }

// MaxWords returns the word count of the longest term, or 0 when empty.
func (v *Vocabulary) MaxWords() int { return v.maxWords }

// ── Matching ──────────────────────────────────────────────────────────────────

// Match attempts to find the term from terms that is most phonetically
// similar to phrase. It prepares terms on every call; use
// [Matcher.MatchVocabulary] when matching many phrases against the same list.
//
// Return values follow the [transcript.PhoneticMatcher] contract: when
// matched is false, corrected equals phrase unchanged and confidence is 0.
func (m *Matcher) Match(phrase string, terms []string) (corrected string, confidence float64, matched bool) {
	return m.MatchVocabulary(phrase, NewVocabulary(terms))
}

// MatchVocabulary is [Matcher.Match] against a prepared vocabulary.
func (m *Matcher) MatchVocabulary(phrase string, v *Vocabulary) (corrected string, confidence float64, matched bool) {
	folded := Fold(phrase)
	if v == nil || len(v.terms) == 0 || folded == "" {
		return phrase, 0, false
	}
	tokens := strings.Fields(folded)
	inputCodes := metaphones(tokens)

	var (
		best         *term
		bestScore    float64
		bestPhonetic bool
	)
	for i := range v.terms {
		t := &v.terms[i]
		if t.folded == folded {
			return t.text, 1, true
		}
		score := similarity(tokens, t.tokens, folded, t.folded)
		if inputCodes.shares(t.codes) {
			if score >= m.phoneticThreshold && (!bestPhonetic || score > bestScore) {
				best, bestScore, bestPhonetic = t, score, true
			}
		} else if !bestPhonetic && score >= m.fuzzyThreshold && score > bestScore {
			best, bestScore = t, score
		}
	}

	if best != nil {
		return best.text, bestScore, true
	}
	return phrase, 0, false
}

// Fold lowercases s, strips diacritics and collapses inner whitespace.
func Fold(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		out = s
	}
	return strings.Join(strings.Fields(strings.ToLower(out)), " ")
}

// codeSet is the set of non-empty Double Metaphone codes of some words.
type codeSet map[string]bool

func metaphones(words []string) codeSet {
	set := make(codeSet, 2*len(words))
	for _, w := range words {
		primary, alt := matchr.DoubleMetaphone(w)
		for _, c := range [2]string{primary, alt} {
			if c != "" {
				set[c] = true
			}
		}
	}
	return set
}

func (s codeSet) shares(other codeSet) bool {
	if len(s) > len(other) {
		s, other = other, s
	}
	for c := range s {
		if other[c] {
			return true
		}
	}
	return false
}

// similarity computes the Jaro-Winkler similarity between the phrase and a
// term. Phrases with the same word count are compared as written. Otherwise
// only the space-stripped forms are compared, and only when their lengths
// are close, so "car glass" can become "Carglass" but "carglass obrigado"
// never can.
func similarity(inputTokens, termTokens []string, inputFull, termFull string) float64 {
	if len(inputTokens) == len(termTokens) {
		return matchr.JaroWinkler(inputFull, termFull, false)
	}
	a := strings.Join(inputTokens, "")
	b := strings.Join(termTokens, "")
	if d := utf8.RuneCountInString(a) - utf8.RuneCountInString(b); d > maxJoinedLengthDiff || d < -maxJoinedLengthDiff {
		return 0
	}
	return matchr.JaroWinkler(a, b, false)
}
