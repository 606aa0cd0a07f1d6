package openai_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/MrWong99/monitorai/pkg/provider/embeddings"
	"github.com/MrWong99/monitorai/pkg/provider/embeddings/openai"
)

// fakeEmbeddings answers /v1/embeddings with reply and keeps the last body.
func fakeEmbeddings(t *testing.T, status int, reply string) (string, *map[string]any) {
	t.Helper()
	body := &map[string]any{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/embeddings" {
			t.Errorf("path = %q", r.URL.Path)
		}
		_ = json.NewDecoder(r.Body).Decode(body)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(reply))
	}))
	t.Cleanup(srv.Close)
	return srv.URL + "/v1/", body
}

func list(data string) string {
	return `{"object":"list","model":"text-embedding-3-small","data":[` + data + `],"usage":{"prompt_tokens":3,"total_tokens":3}}`
}

func newProvider(t *testing.T, url string, opts ...openai.Option) *openai.Provider {
	t.Helper()
	p, err := openai.New("sk-test", "", append([]openai.Option{openai.WithBaseURL(url), openai.WithMaxRetries(0)}, opts...)...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return p
}

func TestNew(t *testing.T) {
	t.Parallel()

	if _, err := openai.New("", ""); err == nil {
		t.Error("empty api key accepted")
	}

	tests := []struct {
		model string
		opts  []openai.Option
		want  int
	}{
		{"", nil, 1536},
		{"text-embedding-3-large", nil, 3072},
		{"text-embedding-ada-002", nil, 1536},
		{"text-embedding-3-large", []openai.Option{openai.WithDimensions(256)}, 256},
		{"bge-m3", nil, 0},
	}
	for _, tt := range tests {
		p, err := openai.New("sk-test", tt.model, tt.opts...)
		if err != nil {
			t.Fatalf("New(%q): %v", tt.model, err)
		}
		if p.Dimensions() != tt.want {
			t.Errorf("Dimensions(%q) = %d, want %d", tt.model, p.Dimensions(), tt.want)
		}
	}
	if p, _ := openai.New("sk-test", ""); p.ModelID() != openai.DefaultModel {
		t.Errorf("ModelID = %q, want the snapshot model", p.ModelID())
	}
}

func TestEmbed(t *testing.T) {
	t.Parallel()

	url, body := fakeEmbeddings(t, http.StatusOK, list(`{"object":"embedding","index":0,"embedding":[0.25,-0.5,1]}`))
	p := newProvider(t, url, openai.WithDimensions(3))

	vec, err := p.Embed(context.Background(), "Cliente: bom dia")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(vec) != 3 || vec[0] != 0.25 || vec[1] != -0.5 || vec[2] != 1 {
		t.Errorf("vec = %v", vec)
	}
	if (*body)["input"] != "Cliente: bom dia" || (*body)["dimensions"] != float64(3) {
		t.Errorf("request = %v", *body)
	}
}

func TestEmbed_NativeSizeNotSent(t *testing.T) {
	t.Parallel()

	url, body := fakeEmbeddings(t, http.StatusOK, list(`{"object":"embedding","index":0,"embedding":[1,2]}`))
	p, _ := openai.New("sk-test", "custom-embed", openai.WithBaseURL(url), openai.WithMaxRetries(0))

	if _, err := p.Embed(context.Background(), "x"); err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if _, ok := (*body)["dimensions"]; ok {
		t.Errorf("dimensions sent without WithDimensions: %v", *body)
	}
}

func TestEmbedBatch_OrdersByIndex(t *testing.T) {
	t.Parallel()

	url, body := fakeEmbeddings(t, http.StatusOK, list(
		`{"object":"embedding","index":1,"embedding":[0,1]},{"object":"embedding","index":0,"embedding":[1,0]}`))
	p := newProvider(t, url, openai.WithDimensions(2))

	vecs, err := p.EmbedBatch(context.Background(), []string{"primeira", "segunda"})
	if err != nil {
		t.Fatalf("EmbedBatch: %v", err)
	}
	if vecs[0][0] != 1 || vecs[1][1] != 1 {
		t.Errorf("vecs = %v", vecs)
	}
	if in, _ := (*body)["input"].([]any); len(in) != 2 {
		t.Errorf("input = %v", (*body)["input"])
	}

	if vecs, err := p.EmbedBatch(context.Background(), nil); vecs != nil || err != nil {
		t.Errorf("empty batch = %v, %v", vecs, err)
	}
}

func TestEmbed_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		status  int
		reply   string
		wantMsg string
	}{
		{"api error", http.StatusBadRequest, `{"error":{"message":"bad input","type":"invalid_request_error"}}`, "bad input"},
		{"no vectors", http.StatusOK, list(""), "got 0 embeddings"},
		{"wrong size", http.StatusOK, list(`{"object":"embedding","index":0,"embedding":[1,2]}`), "2 dimensions, want 3"},
		{"bad index", http.StatusOK, list(`{"object":"embedding","index":4,"embedding":[1,2,3]}`), "bad embedding index 4"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			url, _ := fakeEmbeddings(t, tt.status, tt.reply)
			_, err := newProvider(t, url, openai.WithDimensions(3)).Embed(context.Background(), "x")
			if !errors.Is(err, embeddings.ErrService) {
				t.Fatalf("err = %v, want ErrService", err)
			}
			if !strings.Contains(err.Error(), tt.wantMsg) {
				t.Errorf("err = %v, want it to mention %q", err, tt.wantMsg)
			}
		})
	}
}
