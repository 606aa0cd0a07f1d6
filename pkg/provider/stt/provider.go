// Package stt defines the Provider interface for Speech-to-Text backends.
//
// An STT provider wraps a batch transcription service (OpenAI Whisper, a
// local whisper.cpp server, or Deepgram's pre-recorded API) and turns one
// complete call recording into a [Transcript].
//
// Implementations must be safe for concurrent use and must return promptly
// when the supplied context is cancelled.
package stt

import (
	"context"
	"errors"
	"io"
	"path/filepath"
	"strings"
	"time"
)

// ErrEmptyTranscript is returned when the backend recognised no speech.
var ErrEmptyTranscript = errors.New("stt: empty transcript")

// Request is one recording to transcribe.
type Request struct {
	// Audio is the encoded recording (mp3, wav, m4a, ogg). It is read once.
	Audio io.Reader

	// FileName is the original upload name. Backends use its extension to
	// infer the container format.
	FileName string

	// ContentType is the MIME type of Audio. When empty it is derived from
	// FileName via [ContentTypeFor].
	ContentType string

	// Language is the BCP-47 language tag for recognition (e.g., "pt", "pt-BR").
	// An empty string lets the provider auto-detect the language, if supported.
	Language string

	// Keywords are vocabulary hints that raise recognition probability for
	// domain terms such as product or company names. Providers without
	// keyword support ignore them.
	Keywords []KeywordBoost
}

// KeywordBoost represents a keyword to boost in recognition.
type KeywordBoost struct {
	// Keyword is the text to boost (e.g., "LGPD").
	Keyword string

	// Boost is the intensity of the boost (provider-specific scale).
	Boost float64
}

// Transcript is the result of transcribing a whole recording.
type Transcript struct {
	// Text is the full transcription. When the backend separates speakers it
	// holds one "Falante N: ..." line per utterance.
	Text string

	// Language is the detected or requested language, when reported.
	Language string

	// Duration is the audio length, when reported.
	Duration time.Duration

	// Confidence is the overall confidence score (0.0–1.0). Zero if the
	// provider does not report it.
	Confidence float64

	// Segments holds per-utterance detail when the backend provides it.
	Segments []Segment
}

// Segment is one utterance within a transcript.
type Segment struct {
	Text       string
	Speaker    string
	Start      time.Duration
	End        time.Duration
	Confidence float64
}

// Provider is the abstraction over any STT backend.
type Provider interface {
	// Transcribe reads req.Audio to completion and returns its transcript.
	// A recording without recognisable speech yields [ErrEmptyTranscript].
	Transcribe(ctx context.Context, req Request) (*Transcript, error)
}

// contentTypes maps supported upload extensions to MIME types.
var contentTypes = map[string]string{
	".mp3":  "audio/mpeg",
	".wav":  "audio/wav",
	".m4a":  "audio/mp4",
	".ogg":  "audio/ogg",
	".webm": "audio/webm",
	".flac": "audio/flac",
}

// ContentTypeFor returns the MIME type for a recording file name, or
// "application/octet-stream" when the extension is unknown.
func ContentTypeFor(fileName string) string {
	if ct, ok := contentTypes[strings.ToLower(filepath.Ext(fileName))]; ok {
		return ct
	}
	return "application/octet-stream"
}

// Supported reports whether fileName has a recognised audio extension.
func Supported(fileName string) bool {
	_, ok := contentTypes[strings.ToLower(filepath.Ext(fileName))]
	return ok
}
