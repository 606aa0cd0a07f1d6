package resilience

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/MrWong99/monitorai/pkg/provider/stt"
)

// STTFallback implements [stt.Provider] over a primary transcription backend
// and ordered fallbacks.
type STTFallback struct {
	group *FallbackGroup[stt.Provider]
}

var _ stt.Provider = (*STTFallback)(nil)

// NewSTTFallback creates an [STTFallback] with primary as the preferred backend.
func NewSTTFallback(primary stt.Provider, primaryName string, cfg BreakerConfig) *STTFallback {
	return &STTFallback{group: NewFallbackGroup(primary, primaryName, cfg)}
}

// AddFallback registers another backend, tried after those already added.
func (f *STTFallback) AddFallback(name string, provider stt.Provider) {
	f.group.AddFallback(name, provider)
}

// Transcribe sends the recording to the first healthy backend. With more than
// one backend the audio is buffered so each attempt reads it from the start.
func (f *STTFallback) Transcribe(ctx context.Context, req stt.Request) (*stt.Transcript, error) {
	var audio []byte
	if f.group.Len() > 1 && req.Audio != nil {
		var err error
		if audio, err = io.ReadAll(req.Audio); err != nil {
			return nil, fmt.Errorf("resilience: read audio: %w", err)
		}
	}
	return ExecuteWithResult(ctx, f.group, func(p stt.Provider) (*stt.Transcript, error) {
		attempt := req
		if audio != nil {
			attempt.Audio = bytes.NewReader(audio)
		}
		return p.Transcribe(ctx, attempt)
	})
}

// OpenCircuits lists the backends whose breaker currently rejects calls.
func (f *STTFallback) OpenCircuits() []string { return f.group.OpenCircuits() }
