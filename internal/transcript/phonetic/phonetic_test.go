package phonetic_test

import (
	"testing"

	"github.com/MrWong99/monitorai/internal/transcript/phonetic"
)

func TestMatcher_Match(t *testing.T) {
	t.Parallel()

	terms := []string{"Carglass", "Porto Seguro", "Autorização"}
	tests := []struct {
		phrase   string
		want     string
		wantConf float64 // minimum
		matched  bool
	}{
		{"carglas", "Carglass", 0.96, true},
		{"CARGLASS", "Carglass", 1, true},
		{"car glass", "Carglass", 0.96, true},
		{"porto seguros", "Porto Seguro", 0.96, true},
		{"autorizacao", "Autorização", 1, true},
		{"obrigado", "obrigado", 0, false},
		{"carglass obrigado", "carglass obrigado", 0, false},
		{"porto", "porto", 0, false},
		{"", "", 0, false},
	}
	m := phonetic.New()
	for _, tt := range tests {
		t.Run(tt.phrase, func(t *testing.T) {
			t.Parallel()
			got, conf, ok := m.Match(tt.phrase, terms)
			if ok != tt.matched || got != tt.want {
				t.Fatalf("Match(%q) = %q, %v; want %q, %v", tt.phrase, got, ok, tt.want, tt.matched)
			}
			if ok && conf < tt.wantConf {
				t.Errorf("confidence = %f, want >= %f", conf, tt.wantConf)
			}
			if !ok && conf != 0 {
				t.Errorf("confidence = %f for a miss, want 0", conf)
			}
		})
	}
}

func TestMatcher_ThresholdFiltering(t *testing.T) {
	t.Parallel()

	m := phonetic.New(
		phonetic.WithPhoneticThreshold(0.99),
		phonetic.WithFuzzyThreshold(0.99),
	)
	if _, _, ok := m.Match("carglas", []string{"Carglass"}); ok {
		t.Fatal("near match accepted with threshold 0.99")
	}
	if got, _, ok := m.Match("carglass", []string{"Carglass"}); !ok || got != "Carglass" {
		t.Fatalf("exact match rejected: %q, %v", got, ok)
	}
}

func TestMatcher_EmptyVocabulary(t *testing.T) {
	t.Parallel()

	m := phonetic.New()
	got, conf, ok := m.Match("carglass", nil)
	if ok || got != "carglass" || conf != 0 {
		t.Errorf("Match with no terms = %q, %f, %v", got, conf, ok)
	}
	if _, _, ok := m.MatchVocabulary("carglass", nil); ok {
		t.Error("nil vocabulary matched")
	}
}

func TestNewVocabulary(t *testing.T) {
	t.Parallel()

	v := phonetic.NewVocabulary([]string{"Carglass", "carglass", "  ", "CARGLASS", "Porto Seguro"})
	if v.Len() != 2 {
		t.Errorf("Len = %d, want 2", v.Len())
	}
	if v.MaxWords() != 2 {
		t.Errorf("MaxWords = %d, want 2", v.MaxWords())
	}
	if got, _, _ := phonetic.New().MatchVocabulary("carglass", v); got != "Carglass" {
		t.Errorf("first spelling should win, got %q", got)
	}
	if phonetic.NewVocabulary(nil).MaxWords() != 0 {
		t.Error("empty vocabulary MaxWords != 0")
	}
}

func TestFold(t *testing.T) {
	t.Parallel()

	if got := phonetic.Fold("  Autorização   Prévia "); got != "autorizacao previa" {
		t.Errorf("Fold = %q", got)
	}
}
