// Package transcript repairs speech-to-text output before it is graded.
//
// Transcription engines regularly mishear proper nouns such as the company
// name or the insurers the attendant must mention. A [Corrector] scans the
// transcript for phrases that sound like a configured vocabulary term and
// replaces them with the canonical spelling, so the grader sees "Carglass"
// instead of "car glass". Line breaks, speaker labels and punctuation are
// kept as they were.
package transcript

// PhoneticMatcher finds the vocabulary term that sounds most like phrase.
//
// When matched is false, corrected equals phrase and confidence is 0.
// Implementations must be safe for concurrent use.
type PhoneticMatcher interface {
	Match(phrase string, terms []string) (corrected string, confidence float64, matched bool)
}

// Correction records one replacement made by a [Corrector].
type Correction struct {
	// Original is the text as transcribed, without surrounding punctuation.
	Original string `json:"original"`

	// Corrected is the vocabulary term that replaced Original.
	Corrected string `json:"corrected"`

	// Confidence is the matcher's similarity score in [0, 1].
	Confidence float64 `json:"confidence"`

	// Line is the 1-based line number of the replacement.
	Line int `json:"line"`
}

// Result is the outcome of [Corrector.Correct].
type Result struct {
	// Text is the corrected transcript. It equals the input when Corrections
	// is empty.
	Text string

	// Corrections lists every replacement in reading order. Never nil.
	Corrections []Correction
}
