package config

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/MrWong99/monitorai/pkg/provider/embeddings"
	"github.com/MrWong99/monitorai/pkg/provider/llm"
	"github.com/MrWong99/monitorai/pkg/provider/stt"
)

// ErrProviderNotRegistered is returned by the Create methods for a name
// nothing was registered under.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// Factory builds a provider from its config entry.
type Factory[P any] func(ProviderEntry) (P, error)

// factories is one kind's name table.
type factories[P any] struct {
	kind   string
	mu     sync.RWMutex
	byName map[string]Factory[P]
}

func newFactories[P any](kind string) *factories[P] {
	return &factories[P]{kind: kind, byName: map[string]Factory[P]{}}
}

func (f *factories[P]) set(name string, fn Factory[P]) {
	f.mu.Lock()
	f.byName[name] = fn
	f.mu.Unlock()
}

func (f *factories[P]) build(entry ProviderEntry) (P, error) {
	f.mu.RLock()
	fn := f.byName[entry.Name]
	f.mu.RUnlock()

	var zero P
	if fn == nil {
		return zero, fmt.Errorf("%w: %s/%q", ErrProviderNotRegistered, f.kind, entry.Name)
	}
	p, err := fn(entry)
	if err != nil {
		return zero, fmt.Errorf("config: create %s/%q: %w", f.kind, entry.Name, err)
	}
	return p, nil
}

func (f *factories[P]) names() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return slices.Sorted(maps.Keys(f.byName))
}

// Registry resolves provider names from the config file to constructors for
// the grader LLM, the transcriber and the embedder. Registering a name again
// replaces the earlier factory. It is safe for concurrent use.
type Registry struct {
	llm        *factories[llm.Provider]
	stt        *factories[stt.Provider]
	embeddings *factories[embeddings.Provider]
}

// NewRegistry returns an empty [Registry].
func NewRegistry() *Registry {
	return &Registry{
		llm:        newFactories[llm.Provider]("llm"),
		stt:        newFactories[stt.Provider]("stt"),
		embeddings: newFactories[embeddings.Provider]("embeddings"),
	}
}

// RegisterLLM registers a grader model factory under name.
func (r *Registry) RegisterLLM(name string, fn Factory[llm.Provider]) { r.llm.set(name, fn) }

// RegisterSTT registers a transcriber factory under name.
func (r *Registry) RegisterSTT(name string, fn Factory[stt.Provider]) { r.stt.set(name, fn) }

// RegisterEmbeddings registers an embedder factory under name.
func (r *Registry) RegisterEmbeddings(name string, fn Factory[embeddings.Provider]) {
	r.embeddings.set(name, fn)
}

// CreateLLM builds the grader model named by entry.Name.
func (r *Registry) CreateLLM(entry ProviderEntry) (llm.Provider, error) { return r.llm.build(entry) }

// CreateSTT builds the transcriber named by entry.Name.
func (r *Registry) CreateSTT(entry ProviderEntry) (stt.Provider, error) { return r.stt.build(entry) }

// CreateEmbeddings builds the embedder named by entry.Name.
func (r *Registry) CreateEmbeddings(entry ProviderEntry) (embeddings.Provider, error) {
	return r.embeddings.build(entry)
}

// Names returns the sorted registered names keyed by kind.
func (r *Registry) Names() map[string][]string {
	return map[string][]string{
		r.llm.kind:        r.llm.names(),
		r.stt.kind:        r.stt.names(),
		r.embeddings.kind: r.embeddings.names(),
	}
}
