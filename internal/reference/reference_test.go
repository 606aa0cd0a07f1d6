package reference_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/MrWong99/monitorai/internal/reference"
	"github.com/MrWong99/monitorai/internal/rubric"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

const validJSON = `[
  {"id": "A", "embedding": [1, 0],
   "metadata": {"expected_score": 75, "checklist": {"1_atendimento_saudacao": true, "bonus": true}}},
  {"id": 42, "embedding": [0, 1],
   "metadata": {"expected_score": 40, "checklist": {"1_atendimento_saudacao": false}}}
]`

func TestDecode_JSON(t *testing.T) {
	t.Parallel()

	store, err := reference.Decode(strings.NewReader(validJSON), reference.FormatJSON)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if store.Len() != 2 || store.Dimensions() != 2 {
		t.Fatalf("Len=%d Dimensions=%d, want 2/2", store.Len(), store.Dimensions())
	}
	a, b := store.At(0), store.At(1)
	if a.ID != "A" || b.ID != "42" {
		t.Errorf("IDs = %q, %q", a.ID, b.ID)
	}
	if a.Metadata.ExpectedScore != 75 || !a.Metadata.Checklist.Get(rubric.KeyGreeting) {
		t.Errorf("case A metadata = %+v", a.Metadata)
	}
	if extras := a.Metadata.Checklist.Extras(); len(extras) != 1 || extras[0].Key != "bonus" {
		t.Errorf("case A extras = %+v", extras)
	}
}

func TestDecode_YAML(t *testing.T) {
	t.Parallel()

	src := `
- id: 7
  embedding: [0.5, 0.5, 0]
  metadata:
    expected_score: 81
    checklist:
      11_script_encerramento: true
- id: "B-2"
  embedding: [1, 1, 1]
  metadata:
    expected_score: 0
    checklist: {}
`
	store, err := reference.Decode(strings.NewReader(src), reference.FormatYAML)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if store.At(0).ID != "7" || store.At(1).ID != "B-2" {
		t.Errorf("IDs = %q, %q", store.At(0).ID, store.At(1).ID)
	}
	if got := store.At(0).Metadata.Checklist.Score(); got != 15 {
		t.Errorf("Score = %d, want 15", got)
	}
}

func TestDecode_Corrupt(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		format  reference.Format
		input   string
		wantMsg string
	}{
		{"not json", reference.FormatJSON, "{{{", "decode json"},
		{"unknown field", reference.FormatJSON, `[{"id":"A","embedding":[1],"metadata":{"expected_score":1,"checklist":{}},"extra":1}]`, "unknown field"},
		{"float id", reference.FormatJSON, `[{"id":1.5,"embedding":[1],"metadata":{"expected_score":1,"checklist":{}}}]`, "neither a string nor an integer"},
		{"missing score", reference.FormatJSON, `[{"id":"A","embedding":[1],"metadata":{"checklist":{}}}]`, "expected_score is required"},
		{"non-bool checklist", reference.FormatJSON, `[{"id":"A","embedding":[1],"metadata":{"expected_score":1,"checklist":{"x":"yes"}}}]`, "not a boolean"},
		{"dimension mismatch", reference.FormatJSON, `[
			{"id":"A","embedding":[1,0],"metadata":{"expected_score":1,"checklist":{}}},
			{"id":"B","embedding":[1],"metadata":{"expected_score":1,"checklist":{}}}]`, "want 2"},
		{"duplicate id", reference.FormatJSON, `[
			{"id":"A","embedding":[1],"metadata":{"expected_score":1,"checklist":{}}},
			{"id":"A","embedding":[1],"metadata":{"expected_score":1,"checklist":{}}}]`, "duplicate"},
		{"empty embedding", reference.FormatJSON, `[{"id":"A","embedding":[],"metadata":{"expected_score":1,"checklist":{}}}]`, "embedding is empty"},
		{"yaml unknown field", reference.FormatYAML, "- id: A\n  vector: [1]\n", "decode yaml"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, err := reference.Decode(strings.NewReader(tc.input), tc.format)
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			if !errors.Is(err, reference.ErrCorruptSnapshot) {
				t.Errorf("error %v should wrap ErrCorruptSnapshot", err)
			}
			if !strings.Contains(err.Error(), tc.wantMsg) {
				t.Errorf("error %q should mention %q", err, tc.wantMsg)
			}
		})
	}
}

func TestNewStore_CopiesEmbeddings(t *testing.T) {
	t.Parallel()

	emb := []float32{1, 2}
	store, err := reference.NewStore([]reference.Case{{ID: "A", Embedding: emb}})
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	emb[0] = 99
	if store.At(0).Embedding[0] != 1 {
		t.Error("store must not alias caller-owned embeddings")
	}
}

func TestNilStore(t *testing.T) {
	t.Parallel()

	var s *reference.Store
	if s.Len() != 0 || s.Dimensions() != 0 {
		t.Error("nil store should report zero length and dimensions")
	}
	for range s.All() {
		t.Error("nil store should yield nothing")
	}
	if issues := s.Lint(); len(issues) != 0 {
		t.Errorf("Lint() = %v", issues)
	}
}

func TestLint(t *testing.T) {
	t.Parallel()

	var cl rubric.Checklist
	cl.Set("unknown_key", true)
	store, err := reference.NewStore([]reference.Case{
		{ID: "A", Embedding: []float32{1}, Metadata: reference.Metadata{ExpectedScore: 90, Checklist: cl}},
	})
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	issues := store.Lint()
	if len(issues) != 3 {
		t.Fatalf("Lint() returned %d issues, want 3: %v", len(issues), issues)
	}
	for _, is := range issues {
		if is.CaseID != "A" {
			t.Errorf("issue case id = %q", is.CaseID)
		}
	}
}

func TestFileSource(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	t.Run("missing file", func(t *testing.T) {
		t.Parallel()
		src := reference.FileSource{Path: filepath.Join(dir, "absent.json")}
		_, err := src.Load(context.Background())
		if !errors.Is(err, reference.ErrSnapshotNotFound) {
			t.Fatalf("err = %v, want ErrSnapshotNotFound", err)
		}
		store, err := reference.Open(context.Background(), src, discardLogger())
		if store != nil || err != nil {
			t.Errorf("Open = %v, %v; want nil, nil", store, err)
		}
	})

	t.Run("corrupt file", func(t *testing.T) {
		t.Parallel()
		path := filepath.Join(dir, "corrupt.json")
		if err := os.WriteFile(path, []byte("not json"), 0o600); err != nil {
			t.Fatal(err)
		}
		store, err := reference.Open(context.Background(), reference.FileSource{Path: path}, discardLogger())
		if store != nil {
			t.Error("corrupt snapshot should yield the absent store")
		}
		if !errors.Is(err, reference.ErrCorruptSnapshot) {
			t.Errorf("err = %v, want ErrCorruptSnapshot", err)
		}
	})

	t.Run("yaml by extension", func(t *testing.T) {
		t.Parallel()
		path := filepath.Join(dir, "cases.yml")
		data := "- id: A\n  embedding: [1, 0]\n  metadata:\n    expected_score: 10\n    checklist: {}\n"
		if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
			t.Fatal(err)
		}
		store, err := reference.Open(context.Background(), reference.FileSource{Path: path}, discardLogger())
		if err != nil {
			t.Fatalf("Open: %v", err)
		}
		if store.Len() != 1 {
			t.Errorf("Len = %d, want 1", store.Len())
		}
	})
}

func TestEncodeDecode(t *testing.T) {
	t.Parallel()

	store, err := reference.Decode(strings.NewReader(validJSON), reference.FormatJSON)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	var buf bytes.Buffer
	if err := reference.Encode(&buf, store); err != nil {
		t.Fatalf("Encode: %v", err)
	}
	again, err := reference.Decode(&buf, reference.FormatJSON)
	if err != nil {
		t.Fatalf("Decode(Encode()): %v", err)
	}
	if again.Len() != store.Len() || again.At(1).ID != "42" {
		t.Errorf("round trip lost data: %d cases, second id %q", again.Len(), again.At(1).ID)
	}
	if extras := again.At(0).Metadata.Checklist.Extras(); len(extras) != 1 {
		t.Errorf("round trip lost extras: %+v", extras)
	}
}

// countingSource counts Load calls.
type countingSource struct {
	calls atomic.Int32
	store *reference.Store
	err   error
}

func (c *countingSource) Load(context.Context) (*reference.Store, error) {
	c.calls.Add(1)
	return c.store, c.err
}

func TestLoader_LoadsOnce(t *testing.T) {
	t.Parallel()

	store, _ := reference.NewStore([]reference.Case{{ID: "A", Embedding: []float32{1}}})
	src := &countingSource{store: store}
	l := reference.NewLoader(src, discardLogger())

	if st, _ := l.Status(); st != reference.StatusPending {
		t.Errorf("initial status = %v, want pending", st)
	}

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, err := l.Load(context.Background())
			if err != nil || got != store {
				t.Errorf("Load = %p, %v; want %p", got, err, store)
			}
		}()
	}
	wg.Wait()

	if n := src.calls.Load(); n != 1 {
		t.Errorf("source loaded %d times, want 1", n)
	}
	if st, n := l.Status(); st != reference.StatusLoaded || n != 1 {
		t.Errorf("Status = %v, %d", st, n)
	}
}

func TestLoader_CachesFailure(t *testing.T) {
	t.Parallel()

	src := &countingSource{err: reference.ErrCorruptSnapshot}
	l := reference.NewLoader(src, discardLogger())
	for range 3 {
		store, err := l.Load(context.Background())
		if store != nil || !errors.Is(err, reference.ErrCorruptSnapshot) {
			t.Fatalf("Load = %v, %v", store, err)
		}
	}
	if n := src.calls.Load(); n != 1 {
		t.Errorf("source loaded %d times, want 1", n)
	}
	if st, _ := l.Status(); st != reference.StatusDegraded {
		t.Errorf("Status = %v, want degraded", st)
	}
}

func TestLoader_Absent(t *testing.T) {
	t.Parallel()

	l := reference.NewLoader(&countingSource{err: reference.ErrSnapshotNotFound}, discardLogger())
	store, err := l.Load(context.Background())
	if store != nil || err != nil {
		t.Fatalf("Load = %v, %v; want nil, nil", store, err)
	}
	if st, n := l.Status(); st != reference.StatusAbsent || n != 0 {
		t.Errorf("Status = %v, %d", st, n)
	}
}
