package transcript

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/MrWong99/monitorai/internal/transcript/phonetic"
)

const (
	// DefaultMinLength is the shortest phrase, in runes, that is considered
	// for correction.
	DefaultMinLength = 4

	// minJoinTokenLength is the shortest token allowed in a multi-word window.
	// It keeps articles like "a" or "da" from being merged into a term.
	minJoinTokenLength = 3
)

// CorrectorOption configures a [Corrector].
type CorrectorOption func(*Corrector)

// WithMatcher replaces the default [phonetic.Matcher].
func WithMatcher(m PhoneticMatcher) CorrectorOption {
	return func(c *Corrector) {
		c.matcher = m
	}
}

// WithMinLength sets the shortest phrase, in runes, that may be corrected.
// Default: [DefaultMinLength].
func WithMinLength(n int) CorrectorOption {
	return func(c *Corrector) {
		c.minLen = n
	}
}

// Corrector replaces misheard vocabulary terms in a transcript. It is
// read-only after construction and safe for concurrent use.
type Corrector struct {
	terms   []string
	vocab   *phonetic.Vocabulary
	matcher PhoneticMatcher
	minLen  int
}

// NewCorrector returns a Corrector for the given vocabulary. An empty
// vocabulary yields a Corrector that never changes anything.
func NewCorrector(terms []string, opts ...CorrectorOption) *Corrector {
	c := &Corrector{
		terms:   append([]string(nil), terms...),
		vocab:   phonetic.NewVocabulary(terms),
		matcher: phonetic.New(),
		minLen:  DefaultMinLength,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Correct returns text with every recognised vocabulary term restored to its
// canonical spelling.
func (c *Corrector) Correct(text string) Result {
	res := Result{Text: text, Corrections: []Correction{}}
	if c == nil || c.vocab.Len() == 0 || text == "" {
		return res
	}

	lines := strings.Split(text, "\n")
	changed := false
	for i, line := range lines {
		out, corrections := c.correctLine(line, i+1)
		if len(corrections) == 0 {
			continue
		}
		lines[i] = out
		res.Corrections = append(res.Corrections, corrections...)
		changed = true
	}
	if changed {
		res.Text = strings.Join(lines, "\n")
	}
	return res
}

// correctLine rewrites a single line. Lines without corrections are returned
// untouched so their spacing survives.
func (c *Corrector) correctLine(line string, lineNo int) (string, []Correction) {
	tokens := strings.Fields(line)
	if len(tokens) == 0 {
		return line, nil
	}

	// A term may have been split into one more word than it has.
	window := c.vocab.MaxWords() + 1

	var (
		out         []string
		corrections []Correction
	)
	for i := 0; i < len(tokens); {
		n, corr, replaced, ok := c.matchAt(tokens[i:], window)
		if !ok {
			out = append(out, tokens[i])
			i++
			continue
		}
		corr.Line = lineNo
		out = append(out, replaced)
		corrections = append(corrections, corr)
		i += n
	}
	if len(corrections) == 0 {
		return line, nil
	}

	lead := line[:len(line)-len(strings.TrimLeftFunc(line, unicode.IsSpace))]
	trail := line[len(strings.TrimRightFunc(line, unicode.IsSpace)):]
	return lead + strings.Join(out, " ") + trail, corrections
}

// matchAt tries the longest window first and returns the number of tokens
// consumed together with the rewritten text.
func (c *Corrector) matchAt(tokens []string, window int) (n int, corr Correction, replaced string, ok bool) {
	for n = min(window, len(tokens)); n >= 1; n-- {
		if n > 1 && hasShortToken(tokens[:n]) {
			continue
		}
		prefix, phrase, suffix := splitPunct(strings.Join(tokens[:n], " "))
		if utf8.RuneCountInString(phrase) < c.minLen {
			continue
		}
		got, conf, matched := c.match(phrase)
		if !matched || got == phrase {
			continue
		}
		return n, Correction{Original: phrase, Corrected: got, Confidence: conf}, prefix + got + suffix, true
	}
	return 0, Correction{}, "", false
}

func (c *Corrector) match(phrase string) (string, float64, bool) {
	if m, ok := c.matcher.(*phonetic.Matcher); ok {
		return m.MatchVocabulary(phrase, c.vocab)
	}
	return c.matcher.Match(phrase, c.terms)
}

func hasShortToken(tokens []string) bool {
	for _, t := range tokens {
		_, core, _ := splitPunct(t)
		if utf8.RuneCountInString(core) < minJoinTokenLength {
			return true
		}
	}
	return false
}

// splitPunct separates leading and trailing punctuation from s.
func splitPunct(s string) (prefix, core, suffix string) {
	isPunct := func(r rune) bool { return unicode.IsPunct(r) || unicode.IsSymbol(r) }
	core = strings.TrimLeftFunc(s, isPunct)
	prefix = s[:len(s)-len(core)]
	trimmed := strings.TrimRightFunc(core, isPunct)
	suffix = core[len(trimmed):]
	return prefix, trimmed, suffix
}
