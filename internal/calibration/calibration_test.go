package calibration_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math"
	"math/rand/v2"
	"strings"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/MrWong99/monitorai/internal/calibration"
	"github.com/MrWong99/monitorai/internal/observe"
	"github.com/MrWong99/monitorai/internal/reference"
	"github.com/MrWong99/monitorai/internal/rubric"
	"github.com/MrWong99/monitorai/pkg/provider/embeddings"
	"github.com/MrWong99/monitorai/pkg/provider/embeddings/mock"
)

func testMetrics(t *testing.T) *observe.Metrics {
	t.Helper()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(sdkmetric.NewManualReader()))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func checklist(pairs map[rubric.Key]bool) rubric.Checklist {
	var c rubric.Checklist
	for k, v := range pairs {
		c.Set(string(k), v)
	}
	return c
}

// twoCaseStore is case A at [1,0] scoring 75 and case B at [0,1] scoring 40.
func twoCaseStore(t *testing.T) *reference.Store {
	t.Helper()
	s, err := reference.NewStore([]reference.Case{
		{ID: "A", Embedding: []float32{1, 0}, Metadata: reference.Metadata{
			ExpectedScore: 75,
			Checklist:     checklist(map[rubric.Key]bool{rubric.KeyGreeting: true, rubric.KeySatisfaction: false}),
		}},
		{ID: "B", Embedding: []float32{0, 1}, Metadata: reference.Metadata{ExpectedScore: 40}},
	})
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	return s
}

func randomStore(t *testing.T, r *rand.Rand, n, dims int) *reference.Store {
	t.Helper()
	cases := make([]reference.Case, n)
	for i := range cases {
		cases[i] = reference.Case{ID: string(rune('a'+i%26)) + strings.Repeat("x", i/26), Embedding: randomVec(r, dims)}
	}
	s, err := reference.NewStore(cases)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	return s
}

func randomVec(r *rand.Rand, dims int) []float32 {
	v := make([]float32, dims)
	for i := range v {
		v[i] = float32(r.NormFloat64())
	}
	return v
}

// ── Cosine ──────────────────────────────────────────────────────────────────

func TestCosine(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		a, b []float32
		want float64
	}{
		{"identical", []float32{1, 2, 3}, []float32{1, 2, 3}, 1},
		{"opposite", []float32{1, 0}, []float32{-1, 0}, -1},
		{"orthogonal", []float32{1, 0}, []float32{0, 1}, 0},
		{"scale invariant", []float32{1, 1}, []float32{5, 5}, 1},
		{"zero query", []float32{0, 0}, []float32{1, 0}, 0},
		{"zero reference", []float32{1, 0}, []float32{0, 0}, 0},
		{"both zero", []float32{0, 0}, []float32{0, 0}, 0},
		{"worked example", []float32{0.9, 0.1}, []float32{1, 0}, 0.9 / math.Sqrt(0.82)},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got, err := calibration.Cosine(tc.a, tc.b)
			if err != nil {
				t.Fatalf("Cosine: %v", err)
			}
			if math.Abs(got-tc.want) > 1e-6 {
				t.Errorf("Cosine = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestCosine_DimensionMismatch(t *testing.T) {
	t.Parallel()

	_, err := calibration.Cosine([]float32{1, 2}, []float32{1, 2, 3})
	if !errors.Is(err, calibration.ErrDimensionMismatch) {
		t.Errorf("err = %v, want ErrDimensionMismatch", err)
	}
}

// ── Rank ────────────────────────────────────────────────────────────────────

func TestRank_WorkedExample(t *testing.T) {
	t.Parallel()

	matches, err := calibration.Rank([]float32{0.9, 0.1}, twoCaseStore(t), 1)
	if err != nil {
		t.Fatalf("Rank: %v", err)
	}
	if len(matches) != 1 {
		t.Fatalf("len(matches) = %d, want 1", len(matches))
	}
	if matches[0].Case.ID != "A" || matches[0].Index != 0 {
		t.Errorf("best match = %q (index %d), want A (index 0)", matches[0].Case.ID, matches[0].Index)
	}
	if math.Abs(matches[0].Score-0.994) > 0.0005 {
		t.Errorf("score = %v, want ≈0.994", matches[0].Score)
	}

	block := calibration.Format(matches)
	for _, want := range []string{"ID A", "99.4%", "75/81"} {
		if !strings.Contains(block, want) {
			t.Errorf("block missing %q:\n%s", want, block)
		}
	}
}

func TestRank_EmptyStore(t *testing.T) {
	t.Parallel()

	empty, err := reference.NewStore(nil)
	if err != nil {
		t.Fatalf("NewStore(nil): %v", err)
	}
	stores := map[string]*reference.Store{"absent": nil, "zero entries": empty}
	for name, store := range stores {
		for _, k := range []int{0, 1, 3, 100} {
			got, err := calibration.Rank([]float32{1, 0}, store, k)
			if err != nil {
				t.Errorf("%s k=%d: err = %v", name, k, err)
			}
			if got == nil || len(got) != 0 {
				t.Errorf("%s k=%d: got %v, want empty non-nil slice", name, k, got)
			}
		}
	}
}

func TestRank_NonPositiveK(t *testing.T) {
	t.Parallel()

	for _, k := range []int{0, -1} {
		got, err := calibration.Rank([]float32{1, 0}, twoCaseStore(t), k)
		if err != nil || len(got) != 0 {
			t.Errorf("k=%d: got %v, %v; want empty", k, got, err)
		}
	}
}

func TestRank_KExceedsStore(t *testing.T) {
	t.Parallel()

	got, err := calibration.Rank([]float32{1, 1}, twoCaseStore(t), 10)
	if err != nil {
		t.Fatalf("Rank: %v", err)
	}
	if len(got) != 2 {
		t.Errorf("len = %d, want 2", len(got))
	}
}

func TestRank_DimensionMismatch(t *testing.T) {
	t.Parallel()

	_, err := calibration.Rank([]float32{1, 0, 0}, twoCaseStore(t), 3)
	if !errors.Is(err, calibration.ErrDimensionMismatch) {
		t.Errorf("err = %v, want ErrDimensionMismatch", err)
	}
}

func TestRank_TieBreakKeepsStoreOrder(t *testing.T) {
	t.Parallel()

	store, err := reference.NewStore([]reference.Case{
		{ID: "low", Embedding: []float32{0, 1}},
		{ID: "first", Embedding: []float32{2, 0}},
		{ID: "second", Embedding: []float32{1, 0}},
		{ID: "zero", Embedding: []float32{0, 0}},
		{ID: "third", Embedding: []float32{3, 0}},
	})
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	got, err := calibration.Rank([]float32{1, 0}, store, 5)
	if err != nil {
		t.Fatalf("Rank: %v", err)
	}
	want := []string{"first", "second", "third", "low", "zero"}
	for i, m := range got {
		if m.Case.ID != want[i] {
			t.Errorf("rank %d = %q, want %q", i, m.Case.ID, want[i])
		}
	}
}

func TestRank_Properties(t *testing.T) {
	t.Parallel()

	r := rand.New(rand.NewPCG(1, 2))
	for trial := range 50 {
		n := 1 + r.IntN(40)
		dims := 1 + r.IntN(8)
		store := randomStore(t, r, n, dims)
		query := randomVec(r, dims)
		k := r.IntN(n + 2)

		got, err := calibration.Rank(query, store, k)
		if err != nil {
			t.Fatalf("trial %d: Rank: %v", trial, err)
		}
		if want := min(k, n); len(got) != want {
			t.Fatalf("trial %d: len = %d, want %d", trial, len(got), want)
		}

		// Descending order.
		for i := 1; i < len(got); i++ {
			if got[i-1].Score < got[i].Score {
				t.Fatalf("trial %d: scores not descending at %d: %v < %v", trial, i, got[i-1].Score, got[i].Score)
			}
		}

		// Every returned score is at least every omitted score.
		returned := make(map[int]bool, len(got))
		for _, m := range got {
			returned[m.Index] = true
		}
		if len(got) > 0 {
			floor := got[len(got)-1].Score
			for i, c := range store.All() {
				if returned[i] {
					continue
				}
				s, _ := calibration.Cosine(query, c.Embedding)
				if s > floor {
					t.Fatalf("trial %d: omitted case %d scores %v above floor %v", trial, i, s, floor)
				}
			}
		}

		// Deterministic.
		again, _ := calibration.Rank(query, store, k)
		for i := range got {
			if got[i].Index != again[i].Index || got[i].Score != again[i].Score {
				t.Fatalf("trial %d: second call differs at %d", trial, i)
			}
		}
	}
}

// ── Format ──────────────────────────────────────────────────────────────────

func TestFormat_Empty(t *testing.T) {
	t.Parallel()

	if got := calibration.Format(nil); got != "" {
		t.Errorf("Format(nil) = %q, want empty", got)
	}
	if got := calibration.Format([]calibration.Match{}); got != "" {
		t.Errorf("Format([]) = %q, want empty", got)
	}
}

func TestFormat_Block(t *testing.T) {
	t.Parallel()

	store := twoCaseStore(t)
	matches := []calibration.Match{
		{Score: 0.9939, Case: store.At(0), Index: 0},
		{Score: 0.1104, Case: store.At(1), Index: 1},
	}
	got := calibration.Format(matches)

	if !strings.HasPrefix(got, "\n\n=== REFERÊNCIA DO GABARITO VALIDADO ===\n") {
		t.Errorf("block does not start with the header:\n%s", got)
	}
	if !strings.HasSuffix(got, calibration.Trailer) {
		t.Errorf("block does not end with the trailer:\n%s", got)
	}
	wantLines := []string{
		"CASO SIMILAR #1 - ID A (Similaridade: 99.4%):",
		"Pontuação correta: 75/81 pontos",
		"  • 1. Atendimento e saudação (10 pts): ✓ SIM",
		"  • 12. Pesquisa de satisfação (6 pts): ✗ NÃO",
		"CASO SIMILAR #2 - ID B (Similaridade: 11.0%):",
		"Pontuação correta: 40/81 pontos",
	}
	for _, line := range wantLines {
		if !strings.Contains(got, line+"\n") {
			t.Errorf("block missing line %q:\n%s", line, got)
		}
	}
	if n := strings.Count(got, "ID A "); n != 1 {
		t.Errorf("case A appears %d times, want 1", n)
	}
	if n := strings.Count(got, "99.4%"); n != 1 {
		t.Errorf("99.4%% appears %d times, want 1", n)
	}
	// Every case lists all twelve criteria, answered or not.
	if n := strings.Count(got, "  • "); n != 2*rubric.Count {
		t.Errorf("bullet count = %d, want %d", n, 2*rubric.Count)
	}
	if strings.Index(got, "#1 - ID A") > strings.Index(got, "#2 - ID B") {
		t.Error("cases are not in input order")
	}
}

func TestFormat_UnknownKeyUsesRawLabel(t *testing.T) {
	t.Parallel()

	var cl rubric.Checklist
	cl.Set("13_bonus_cortesia", true)
	matches := []calibration.Match{{
		Score: 0.5,
		Case:  reference.Case{ID: "X", Metadata: reference.Metadata{ExpectedScore: 10, Checklist: cl}},
	}}
	got := calibration.Format(matches)
	if !strings.Contains(got, "  • 13_bonus_cortesia: ✓ SIM\n") {
		t.Errorf("unknown key not rendered with raw label:\n%s", got)
	}
}

func TestFormat_NegativeSimilarity(t *testing.T) {
	t.Parallel()

	got := calibration.Format([]calibration.Match{{Score: -0.25, Case: reference.Case{ID: "N"}}})
	if !strings.Contains(got, "(Similaridade: -25.0%)") {
		t.Errorf("negative similarity not rendered:\n%s", got)
	}
}

// ── Calibrator ──────────────────────────────────────────────────────────────

func newCalibrator(t *testing.T, emb *mock.Provider, store *reference.Store, opts ...calibration.Option) *calibration.Calibrator {
	t.Helper()
	opts = append([]calibration.Option{
		calibration.WithLogger(discardLogger()),
		calibration.WithMetrics(testMetrics(t)),
	}, opts...)
	return calibration.New(emb, reference.StaticSource{Store: store}, opts...)
}

func TestGuidance_Applied(t *testing.T) {
	t.Parallel()

	emb := &mock.Provider{Vector: []float32{0.9, 0.1}}
	c := newCalibrator(t, emb, twoCaseStore(t), calibration.WithTopK(1))

	res := c.Guidance(context.Background(), "transcrição")
	if res.Degraded != nil {
		t.Fatalf("Degraded = %v", res.Degraded)
	}
	if len(res.Matches) != 1 || res.Matches[0].Case.ID != "A" {
		t.Fatalf("Matches = %+v", res.Matches)
	}
	if res.Block != calibration.Format(res.Matches) {
		t.Error("Block differs from Format(Matches)")
	}
	if got := emb.Texts(); len(got) != 1 || got[0] != "transcrição" {
		t.Errorf("embedded texts = %q", got)
	}
}

func TestGuidance_AbsentStoreSkipsEmbedding(t *testing.T) {
	t.Parallel()

	emb := &mock.Provider{Vector: []float32{1, 0}}
	c := newCalibrator(t, emb, nil)

	res := c.Guidance(context.Background(), "text")
	if res.Block != "" || len(res.Matches) != 0 || res.Degraded != nil {
		t.Errorf("Result = %+v, want zero", res)
	}
	if n := emb.EmbedCount(); n != 0 {
		t.Errorf("embedder called %d times for absent store", n)
	}
}

func TestGuidance_EmbedFailureDegrades(t *testing.T) {
	t.Parallel()

	emb := &mock.Provider{Err: embeddings.ServiceError("mock: embed", errors.New("503"))}
	c := newCalibrator(t, emb, twoCaseStore(t))

	res := c.Guidance(context.Background(), "text")
	if res.Block != "" {
		t.Errorf("Block = %q, want empty", res.Block)
	}
	if !errors.Is(res.Degraded, embeddings.ErrService) {
		t.Errorf("Degraded = %v, want ErrService", res.Degraded)
	}
}

func TestGuidance_EmbedTimeoutDegrades(t *testing.T) {
	t.Parallel()

	emb := &mock.Provider{Func: func(ctx context.Context, _ string) ([]float32, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}}
	c := newCalibrator(t, emb, twoCaseStore(t), calibration.WithTimeout(10*time.Millisecond))

	start := time.Now()
	res := c.Guidance(context.Background(), "text")
	if time.Since(start) > 5*time.Second {
		t.Fatal("Guidance did not honour the embed timeout")
	}
	if res.Block != "" {
		t.Errorf("Block = %q, want empty", res.Block)
	}
	if !errors.Is(res.Degraded, context.DeadlineExceeded) || !errors.Is(res.Degraded, embeddings.ErrService) {
		t.Errorf("Degraded = %v, want DeadlineExceeded wrapped in ErrService", res.Degraded)
	}
}

func TestGuidance_DimensionMismatchDegrades(t *testing.T) {
	t.Parallel()

	emb := &mock.Provider{Vector: []float32{1, 0, 0}}
	c := newCalibrator(t, emb, twoCaseStore(t))

	res := c.Guidance(context.Background(), "text")
	if res.Block != "" || !errors.Is(res.Degraded, calibration.ErrDimensionMismatch) {
		t.Errorf("Result = %+v, want empty block with ErrDimensionMismatch", res)
	}
}

func TestGuidance_DisabledAndRuntimeChanges(t *testing.T) {
	t.Parallel()

	emb := &mock.Provider{Vector: []float32{1, 1}}
	c := newCalibrator(t, emb, twoCaseStore(t), calibration.WithEnabled(false))

	if res := c.Guidance(context.Background(), "text"); res.Block != "" {
		t.Error("disabled calibrator produced a block")
	}
	if emb.EmbedCount() != 0 {
		t.Error("disabled calibrator called the embedder")
	}

	c.SetEnabled(true)
	c.SetTopK(2)
	if c.TopK() != 2 {
		t.Fatalf("TopK = %d, want 2", c.TopK())
	}
	res := c.Guidance(context.Background(), "text")
	if len(res.Matches) != 2 {
		t.Errorf("len(Matches) = %d, want 2", len(res.Matches))
	}
}

func TestGuidance_AbsentStoreBuildsPromptWithoutCalibration(t *testing.T) {
	t.Parallel()

	c := newCalibrator(t, &mock.Provider{Vector: []float32{0.3, 0.7}}, nil, calibration.WithTopK(5))
	res := c.Guidance(context.Background(), "Olá, bom dia")

	prompt := rubric.BuildPrompt("Olá, bom dia", res.Block)
	if strings.Contains(prompt, "REFERÊNCIA DO GABARITO") {
		t.Error("prompt contains a calibration section for an absent store")
	}
	if prompt != rubric.BuildPrompt("Olá, bom dia", "") {
		t.Error("prompt with absent store differs from prompt without calibration")
	}
}
