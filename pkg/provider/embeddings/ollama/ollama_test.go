package ollama_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/MrWong99/monitorai/pkg/provider/embeddings"
	"github.com/MrWong99/monitorai/pkg/provider/embeddings/ollama"
)

type embedCall struct {
	Model     string   `json:"model"`
	Input     []string `json:"input"`
	KeepAlive string   `json:"keep_alive"`
	Truncate  *bool    `json:"truncate"`
}

// fakeOllama answers /api/embed with reply and records every request body.
type fakeOllama struct {
	mu     sync.Mutex
	calls  []embedCall
	status int
	reply  string
}

func (f *fakeOllama) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost || r.URL.Path != "/api/embed" {
		http.NotFound(w, r)
		return
	}
	var c embedCall
	_ = json.NewDecoder(r.Body).Decode(&c)
	f.mu.Lock()
	f.calls = append(f.calls, c)
	f.mu.Unlock()
	if f.status != 0 {
		w.WriteHeader(f.status)
	}
	_, _ = w.Write([]byte(f.reply))
}

func newServer(t *testing.T, f *fakeOllama) string {
	t.Helper()
	srv := httptest.NewServer(f)
	t.Cleanup(srv.Close)
	return srv.URL + "/"
}

func TestNew(t *testing.T) {
	t.Parallel()

	if _, err := ollama.New("", ""); err == nil {
		t.Error("empty model should be rejected")
	}
	p, err := ollama.New("", "nomic-embed-text:latest")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if p.ModelID() != "nomic-embed-text:latest" || p.Dimensions() != 768 {
		t.Errorf("ModelID=%q Dimensions=%d", p.ModelID(), p.Dimensions())
	}
}

func TestEmbed(t *testing.T) {
	t.Parallel()

	f := &fakeOllama{reply: `{"model":"bge-m3","embeddings":[[0.1,0.2,0.3]]}`}
	p, _ := ollama.New(newServer(t, f), "bge-m3",
		ollama.WithDimensions(3),
		ollama.WithKeepAlive("10m"),
		ollama.WithTruncate(true),
	)

	vec, err := p.Embed(context.Background(), "Atendente: Bom dia, Carglass.")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(vec) != 3 || vec[2] != 0.3 {
		t.Errorf("vec = %v", vec)
	}
	c := f.calls[0]
	if c.Model != "bge-m3" || len(c.Input) != 1 || c.Input[0] != "Atendente: Bom dia, Carglass." {
		t.Errorf("request = %+v", c)
	}
	if c.KeepAlive != "10m" || c.Truncate == nil || !*c.Truncate {
		t.Errorf("options not sent: %+v", c)
	}
}

func TestEmbed_LearnsDimensions(t *testing.T) {
	t.Parallel()

	f := &fakeOllama{reply: `{"embeddings":[[1,0,0,0]]}`}
	p, _ := ollama.New(newServer(t, f), "custom-embed")
	if p.Dimensions() != 0 {
		t.Fatalf("Dimensions before first call = %d, want 0", p.Dimensions())
	}
	if _, err := p.Embed(context.Background(), "x"); err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if p.Dimensions() != 4 {
		t.Errorf("Dimensions = %d, want 4", p.Dimensions())
	}
}

func TestEmbedBatch(t *testing.T) {
	t.Parallel()

	f := &fakeOllama{reply: `{"embeddings":[[1,0],[0,1]]}`}
	p, _ := ollama.New(newServer(t, f), "custom-embed")

	vecs, err := p.EmbedBatch(context.Background(), []string{"a", "b"})
	if err != nil {
		t.Fatalf("EmbedBatch: %v", err)
	}
	if len(vecs) != 2 || vecs[1][1] != 1 {
		t.Errorf("vecs = %v", vecs)
	}

	if vecs, err := p.EmbedBatch(context.Background(), nil); vecs != nil || err != nil {
		t.Errorf("empty batch = %v, %v", vecs, err)
	}
	if len(f.calls) != 1 {
		t.Errorf("server calls = %d, want 1", len(f.calls))
	}
}

func TestEmbed_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		f       *fakeOllama
		opts    []ollama.Option
		wantMsg string
	}{
		{
			name:    "server error message",
			f:       &fakeOllama{status: http.StatusNotFound, reply: `{"error":"model \"bge-m3\" not found"}`},
			wantMsg: "not found",
		},
		{
			name:    "status without body",
			f:       &fakeOllama{status: http.StatusBadGateway},
			wantMsg: "status 502",
		},
		{
			name:    "malformed body",
			f:       &fakeOllama{reply: `{"embeddings":`},
			wantMsg: "decode response",
		},
		{
			name:    "missing vectors",
			f:       &fakeOllama{reply: `{"embeddings":[]}`},
			wantMsg: "got 0 embeddings",
		},
		{
			name:    "dimension mismatch",
			f:       &fakeOllama{reply: `{"embeddings":[[1,2]]}`},
			opts:    []ollama.Option{ollama.WithDimensions(3)},
			wantMsg: "2 dimensions, want 3",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			p, _ := ollama.New(newServer(t, tt.f), "bge-m3", tt.opts...)
			_, err := p.Embed(context.Background(), "x")
			if !errors.Is(err, embeddings.ErrService) {
				t.Fatalf("err = %v, want ErrService", err)
			}
			if !strings.Contains(err.Error(), tt.wantMsg) {
				t.Errorf("err = %v, want it to mention %q", err, tt.wantMsg)
			}
		})
	}
}

func TestEmbed_ContextCancelled(t *testing.T) {
	t.Parallel()

	p, _ := ollama.New(newServer(t, &fakeOllama{reply: `{"embeddings":[[1]]}`}), "bge-m3")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := p.Embed(ctx, "x")
	if !errors.Is(err, embeddings.ErrService) || !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want ErrService wrapping context.Canceled", err)
	}
}
