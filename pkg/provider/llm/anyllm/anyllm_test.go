package anyllm

import (
	"slices"
	"testing"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/MrWong99/monitorai/pkg/provider/llm"
)

func TestParams(t *testing.T) {
	t.Parallel()

	p := &Provider{backend: "anthropic", model: "claude-3-5-sonnet-latest"}
	got := p.params(llm.Request{
		System:      "Responda apenas JSON.",
		Messages:    []llm.Message{{Role: llm.RoleUser, Content: "TRANSCRIÇÃO"}},
		Temperature: 0.3,
		MaxTokens:   2048,
		JSON:        true,
	})

	if got.Model != "claude-3-5-sonnet-latest" || len(got.Messages) != 2 {
		t.Fatalf("params = %+v", got)
	}
	if got.Messages[0].Role != anyllmlib.RoleSystem || got.Messages[0].ContentString() != "Responda apenas JSON." {
		t.Errorf("system turn = %+v", got.Messages[0])
	}
	if got.Messages[1].Role != llm.RoleUser || got.Messages[1].ContentString() != "TRANSCRIÇÃO" {
		t.Errorf("user turn = %+v", got.Messages[1])
	}
	if got.Temperature == nil || *got.Temperature != 0.3 || got.MaxTokens == nil || *got.MaxTokens != 2048 {
		t.Errorf("sampling = %v / %v", got.Temperature, got.MaxTokens)
	}

	bare := p.params(llm.Request{Messages: []llm.Message{{Role: llm.RoleUser, Content: "x"}}})
	if bare.Temperature != nil || bare.MaxTokens != nil || len(bare.Messages) != 1 {
		t.Errorf("zero request params = %+v", bare)
	}
}

func TestLimits(t *testing.T) {
	t.Parallel()

	tests := []struct {
		model     string
		window    int
		maxOutput int
	}{
		{"gpt-4o-mini", 128_000, 16_384},
		{"GPT-4O", 128_000, 16_384},
		{"gpt-4", 8_192, 4_096},
		{"claude-3-5-sonnet-latest", 200_000, 8_192},
		{"claude-3-opus-20240229", 200_000, 4_096},
		{"gemini-1.5-pro", 2_097_152, 8_192},
		{"models/gemini-2.0-flash", 1_048_576, 8_192},
		{"llama3.1:8b", 128_000, 4_096},
	}
	for _, tt := range tests {
		t.Run(tt.model, func(t *testing.T) {
			t.Parallel()
			l := (&Provider{model: tt.model}).Limits()
			if l.ContextWindow != tt.window || l.MaxOutput != tt.maxOutput {
				t.Errorf("Limits = %+v, want %d/%d", l, tt.window, tt.maxOutput)
			}
			if l.JSON {
				t.Error("JSON mode reported but never forwarded")
			}
		})
	}
}

func TestBackends(t *testing.T) {
	t.Parallel()

	got := Backends()
	if !slices.IsSorted(got) || !slices.Contains(got, "anthropic") || !slices.Contains(got, "ollama") {
		t.Errorf("Backends = %v", got)
	}
}

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		backend string
		model   string
		opts    []anyllmlib.Option
		wantErr bool
	}{
		{"no backend", "", "gpt-4o", nil, true},
		{"no model", "openai", "", nil, true},
		{"unknown backend", "fakecloud", "m", []anyllmlib.Option{anyllmlib.WithAPIKey("k")}, true},
		{"openai without key", "openai", "gpt-4o", nil, true},
		{"openai", "openai", "gpt-4o", []anyllmlib.Option{anyllmlib.WithAPIKey("sk-test")}, false},
		{"mixed case", "Anthropic", "claude-3-5-sonnet-latest", []anyllmlib.Option{anyllmlib.WithAPIKey("sk-ant")}, false},
		{"local ollama", "ollama", "llama3", nil, false},
		{"llamacpp", "llamacpp", "llama3", nil, false},
	}
	t.Setenv("OPENAI_API_KEY", "")
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := New(tt.backend, tt.model, tt.opts...)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if err == nil && p.ModelID() != tt.model {
				t.Errorf("ModelID = %q", p.ModelID())
			}
		})
	}
}
