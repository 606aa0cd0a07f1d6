package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/MrWong99/monitorai/internal/app"
	"github.com/MrWong99/monitorai/internal/config"
	"github.com/MrWong99/monitorai/internal/observe"
	"github.com/MrWong99/monitorai/internal/resilience"
	"github.com/MrWong99/monitorai/pkg/provider/embeddings"
	ollamaembed "github.com/MrWong99/monitorai/pkg/provider/embeddings/ollama"
	oaembed "github.com/MrWong99/monitorai/pkg/provider/embeddings/openai"
	"github.com/MrWong99/monitorai/pkg/provider/llm"
	"github.com/MrWong99/monitorai/pkg/provider/llm/anyllm"
	oallm "github.com/MrWong99/monitorai/pkg/provider/llm/openai"
	"github.com/MrWong99/monitorai/pkg/provider/stt"
	"github.com/MrWong99/monitorai/pkg/provider/stt/deepgram"
	oastt "github.com/MrWong99/monitorai/pkg/provider/stt/openai"
	"github.com/MrWong99/monitorai/pkg/provider/stt/whisper"
)

// ── Provider wiring ───────────────────────────────────────────────────────────

// registerBuiltinProviders wires all built-in provider factories into reg.
// Each factory receives a config.ProviderEntry and constructs the appropriate
// provider from the real implementation packages.
func registerBuiltinProviders(reg *config.Registry) {
	// ── LLM ───────────────────────────────────────────────────────────────────

	// openai talks to the API directly so the grader gets JSON mode.
	reg.RegisterLLM("openai", func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []oallm.Option
		if entry.BaseURL != "" {
			opts = append(opts, oallm.WithBaseURL(entry.BaseURL))
		}
		if org := optString(entry.Options, "organization"); org != "" {
			opts = append(opts, oallm.WithOrganization(org))
		}
		if _, ok := entry.Options["seed"]; ok {
			opts = append(opts, oallm.WithSeed(int64(optInt(entry.Options, "seed"))))
		}
		return oallm.New(entry.APIKey, entry.Model, opts...)
	})

	// Every other vendor goes through any-llm with an optional key and
	// endpoint. A local ollama has no key.
	for _, backend := range anyllm.Backends() {
		if backend == "openai" {
			continue
		}
		reg.RegisterLLM(backend, func(entry config.ProviderEntry) (llm.Provider, error) {
			var opts []anyllmlib.Option
			if entry.APIKey != "" {
				opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
			}
			if entry.BaseURL != "" {
				opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
			}
			return anyllm.New(backend, entry.Model, opts...)
		})
	}

	// ── STT ───────────────────────────────────────────────────────────────────

	reg.RegisterSTT("openai", func(entry config.ProviderEntry) (stt.Provider, error) {
		var opts []oastt.Option
		if entry.BaseURL != "" {
			opts = append(opts, oastt.WithBaseURL(entry.BaseURL))
		}
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, oastt.WithLanguage(lang))
		}
		return oastt.New(entry.APIKey, entry.Model, opts...)
	})

	reg.RegisterSTT("deepgram", func(entry config.ProviderEntry) (stt.Provider, error) {
		var opts []deepgram.Option
		if entry.Model != "" {
			opts = append(opts, deepgram.WithModel(entry.Model))
		}
		if entry.BaseURL != "" {
			opts = append(opts, deepgram.WithEndpoint(entry.BaseURL))
		}
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, deepgram.WithLanguage(lang))
		}
		if on, ok := entry.Options["diarize"].(bool); ok {
			opts = append(opts, deepgram.WithDiarize(on))
		}
		return deepgram.New(entry.APIKey, opts...)
	})

	reg.RegisterSTT("whisper", func(entry config.ProviderEntry) (stt.Provider, error) {
		var opts []whisper.Option
		if entry.Model != "" {
			opts = append(opts, whisper.WithModel(entry.Model))
		}
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, whisper.WithLanguage(lang))
		}
		return whisper.New(entry.BaseURL, opts...)
	})

	// ── Embeddings ────────────────────────────────────────────────────────────

	reg.RegisterEmbeddings("openai", func(entry config.ProviderEntry) (embeddings.Provider, error) {
		var opts []oaembed.Option
		if entry.BaseURL != "" {
			opts = append(opts, oaembed.WithBaseURL(entry.BaseURL))
		}
		if dims := optInt(entry.Options, "dimensions"); dims > 0 {
			opts = append(opts, oaembed.WithDimensions(dims))
		}
		return oaembed.New(entry.APIKey, entry.Model, opts...)
	})

	reg.RegisterEmbeddings("ollama", func(entry config.ProviderEntry) (embeddings.Provider, error) {
		var opts []ollamaembed.Option
		if dims := optInt(entry.Options, "dimensions"); dims > 0 {
			opts = append(opts, ollamaembed.WithDimensions(dims))
		}
		return ollamaembed.New(entry.BaseURL, entry.Model, opts...)
	})

	for kind, names := range reg.Names() {
		slog.Debug("registered providers", "kind", kind, "names", names)
	}
}

// buildProviders instantiates all providers named in cfg using the registry.
// LLM and STT providers with fallbacks are wrapped in a fallback group so a
// failing backend is skipped behind its circuit breaker.
func buildProviders(cfg *config.Config, reg *config.Registry) (*app.Providers, error) {
	ps := &app.Providers{}

	if entry := cfg.Providers.LLM; entry.Name != "" {
		p, err := reg.CreateLLM(entry)
		if err != nil {
			return nil, fmt.Errorf("create llm provider %q: %w", entry.Name, err)
		}
		ps.LLM = p
		if len(cfg.Providers.LLMFallbacks) > 0 {
			fb := resilience.NewLLMFallback(p, entry.Name, breakerConfig())
			for _, fe := range cfg.Providers.LLMFallbacks {
				fp, err := reg.CreateLLM(fe)
				if err != nil {
					return nil, fmt.Errorf("create llm fallback %q: %w", fe.Name, err)
				}
				fb.AddFallback(fe.Name, fp)
			}
			ps.LLM = fb
		}
		slog.Info("provider created", "kind", "llm", "name", entry.Name, "fallbacks", len(cfg.Providers.LLMFallbacks))
	}

	if entry := cfg.Providers.STT; entry.Name != "" {
		p, err := reg.CreateSTT(entry)
		if err != nil {
			return nil, fmt.Errorf("create stt provider %q: %w", entry.Name, err)
		}
		ps.STT = p
		if len(cfg.Providers.STTFallbacks) > 0 {
			fb := resilience.NewSTTFallback(p, entry.Name, breakerConfig())
			for _, fe := range cfg.Providers.STTFallbacks {
				fp, err := reg.CreateSTT(fe)
				if err != nil {
					return nil, fmt.Errorf("create stt fallback %q: %w", fe.Name, err)
				}
				fb.AddFallback(fe.Name, fp)
			}
			ps.STT = fb
		}
		slog.Info("provider created", "kind", "stt", "name", entry.Name, "fallbacks", len(cfg.Providers.STTFallbacks))
	}

	if entry := cfg.Providers.Embeddings; entry.Name != "" {
		p, err := reg.CreateEmbeddings(entry)
		if errors.Is(err, config.ErrProviderNotRegistered) {
			// Calibration is optional; an unknown embedder only disables it.
			slog.Warn("embeddings provider not registered, calibration disabled", "name", entry.Name)
		} else if err != nil {
			return nil, fmt.Errorf("create embeddings provider %q: %w", entry.Name, err)
		} else {
			ps.Embeddings = p
			slog.Info("provider created", "kind", "embeddings", "name", entry.Name, "model", p.ModelID())
		}
	}

	return ps, nil
}

// ── Helpers ───────────────────────────────────────────────────────────────────

// breakerConfig uses the breaker defaults and counts every transition.
func breakerConfig() resilience.BreakerConfig {
	return resilience.BreakerConfig{
		OnChange: func(name string, _, to resilience.State) {
			observe.DefaultMetrics().RecordCircuitChange(context.Background(), name, to.String())
		},
	}
}

// optString extracts a string value from a provider Options map[string]any.
// Returns "" if the map is nil, the key is absent, or the value is not a string.
func optString(opts map[string]any, key string) string {
	s, _ := opts[key].(string)
	return s
}

// optInt extracts an integer value from a provider Options map. YAML decodes
// integers as int; anything else yields 0.
func optInt(opts map[string]any, key string) int {
	n, _ := opts[key].(int)
	return n
}
