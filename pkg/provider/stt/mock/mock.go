// Package mock provides a test double for the stt.Provider interface.
//
// Set Result or TranscribeFunc to control what the mock returns, then inspect
// Calls to verify the requests the caller made.
//
// Example:
//
//	p := &mock.Provider{Result: &stt.Transcript{Text: "olá"}}
//	tr, _ := p.Transcribe(ctx, stt.Request{Audio: r})
package mock

import (
	"bytes"
	"context"
	"io"
	"sync"

	"github.com/MrWong99/monitorai/pkg/provider/stt"
)

// TranscribeCall records a single invocation of Provider.Transcribe.
type TranscribeCall struct {
	// Req is the request passed to Transcribe. Req.Audio is replaced by a
	// reader over Audio so the original stream is not consumed twice.
	Req stt.Request

	// Audio is a copy of the bytes read from the request.
	Audio []byte
}

// Provider is a mock implementation of stt.Provider.
type Provider struct {
	mu sync.Mutex

	// Result is returned by Transcribe when TranscribeFunc is nil.
	Result *stt.Transcript

	// Err, if non-nil, is returned as the error from Transcribe.
	Err error

	// TranscribeFunc, if set, overrides Result and Err. It runs outside the
	// mock's lock so it may block.
	TranscribeFunc func(ctx context.Context, req stt.Request) (*stt.Transcript, error)

	// Calls records every call to Transcribe.
	Calls []TranscribeCall
}

// Transcribe drains req.Audio, records the call and returns the configured
// response.
func (p *Provider) Transcribe(ctx context.Context, req stt.Request) (*stt.Transcript, error) {
	var audio []byte
	if req.Audio != nil {
		audio, _ = io.ReadAll(req.Audio)
	}
	req.Audio = bytes.NewReader(audio)

	p.mu.Lock()
	p.Calls = append(p.Calls, TranscribeCall{Req: req, Audio: audio})
	fn, res, err := p.TranscribeFunc, p.Result, p.Err
	p.mu.Unlock()

	if fn != nil {
		return fn(ctx, req)
	}
	if err != nil {
		return nil, err
	}
	if res == nil {
		return &stt.Transcript{}, nil
	}
	cp := *res
	return &cp, nil
}

// CallCount returns the number of Transcribe calls. Thread-safe.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Calls)
}

// Reset clears all recorded calls. Thread-safe.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Calls = nil
}

// Ensure Provider implements stt.Provider at compile time.
var _ stt.Provider = (*Provider)(nil)
