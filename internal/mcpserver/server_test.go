package mcpserver_test

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/MrWong99/monitorai/internal/calibration"
	"github.com/MrWong99/monitorai/internal/mcpserver"
	"github.com/MrWong99/monitorai/internal/reference"
	"github.com/MrWong99/monitorai/internal/rubric"
	embedmock "github.com/MrWong99/monitorai/pkg/provider/embeddings/mock"
)

func testStore(t *testing.T) *reference.Store {
	t.Helper()
	var cl rubric.Checklist
	cl.Set(string(rubric.KeyGreeting), true)
	store, err := reference.NewStore([]reference.Case{
		{ID: "a", Embedding: []float32{1, 0}, Metadata: reference.Metadata{ExpectedScore: 70, Checklist: cl}},
		{ID: "b", Embedding: []float32{0, 1}, Metadata: reference.Metadata{ExpectedScore: 40, Checklist: cl}},
		{ID: "c", Embedding: []float32{1, 1}, Metadata: reference.Metadata{ExpectedScore: 55, Checklist: cl}},
	})
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	return store
}

func connect(t *testing.T, cal mcpserver.Calibrator) *mcp.ClientSession {
	t.Helper()
	ctx := context.Background()
	srv := mcpserver.New(cal, "test")
	ct, st := mcp.NewInMemoryTransports()
	ss, err := srv.Connect(ctx, st, nil)
	if err != nil {
		t.Fatalf("server Connect: %v", err)
	}
	t.Cleanup(func() { _ = ss.Close() })

	client := mcp.NewClient(&mcp.Implementation{Name: "test-client", Version: "1.0.0"}, nil)
	cs, err := client.Connect(ctx, ct, nil)
	if err != nil {
		t.Fatalf("client Connect: %v", err)
	}
	t.Cleanup(func() { _ = cs.Close() })
	return cs
}

func call(t *testing.T, cs *mcp.ClientSession, name string, args map[string]any, out any) *mcp.CallToolResult {
	t.Helper()
	res, err := cs.CallTool(context.Background(), &mcp.CallToolParams{Name: name, Arguments: args})
	if err != nil {
		t.Fatalf("CallTool %s: %v", name, err)
	}
	if out != nil && !res.IsError {
		data, err := json.Marshal(res.StructuredContent)
		if err != nil {
			t.Fatal(err)
		}
		if err := json.Unmarshal(data, out); err != nil {
			t.Fatalf("decode %s output: %v", name, err)
		}
	}
	return res
}

func newCalibrator(t *testing.T) *calibration.Calibrator {
	t.Helper()
	emb := &embedmock.Provider{Vector: []float32{1, 0.1}}
	return calibration.New(emb, reference.StaticSource{Store: testStore(t)})
}

func TestListTools(t *testing.T) {
	t.Parallel()

	cs := connect(t, newCalibrator(t))
	var names []string
	for tool, err := range cs.Tools(context.Background(), nil) {
		if err != nil {
			t.Fatal(err)
		}
		names = append(names, tool.Name)
	}
	want := map[string]bool{"find_similar_cases": true, "calibration_block": true, "rubric": true}
	if len(names) != len(want) {
		t.Fatalf("tools = %v", names)
	}
	for _, n := range names {
		if !want[n] {
			t.Errorf("unexpected tool %q", n)
		}
	}
}

func TestFindSimilarCases(t *testing.T) {
	t.Parallel()

	cs := connect(t, newCalibrator(t))

	var out mcpserver.SimilarOutput
	call(t, cs, "find_similar_cases", map[string]any{"transcript": "Bom dia", "k": 2}, &out)
	if len(out.Matches) != 2 {
		t.Fatalf("matches = %+v", out.Matches)
	}
	if out.Matches[0].ID != "a" || out.Matches[0].ExpectedScore != 70 {
		t.Errorf("best match = %+v", out.Matches[0])
	}
	if out.Matches[1].ID != "c" {
		t.Errorf("second match = %+v", out.Matches[1])
	}

	call(t, cs, "find_similar_cases", map[string]any{"transcript": "Bom dia"}, &out)
	if len(out.Matches) != calibration.DefaultTopK {
		t.Errorf("default k returned %d matches", len(out.Matches))
	}
}

func TestFindSimilarCases_EmptyTranscript(t *testing.T) {
	t.Parallel()

	cs := connect(t, newCalibrator(t))
	res := call(t, cs, "find_similar_cases", map[string]any{"transcript": " "}, nil)
	if !res.IsError {
		t.Error("expected tool error for blank transcript")
	}
}

func TestFindSimilarCases_Degraded(t *testing.T) {
	t.Parallel()

	emb := &embedmock.Provider{Vector: []float32{1, 0, 0}}
	cal := calibration.New(emb, reference.StaticSource{Store: testStore(t)})
	cs := connect(t, cal)

	var out mcpserver.SimilarOutput
	call(t, cs, "find_similar_cases", map[string]any{"transcript": "x"}, &out)
	if len(out.Matches) != 0 || out.Degraded == "" {
		t.Errorf("out = %+v, want no matches and a degraded reason", out)
	}
}

func TestCalibrationBlock(t *testing.T) {
	t.Parallel()

	cal := newCalibrator(t)
	cs := connect(t, cal)

	var out mcpserver.BlockOutput
	call(t, cs, "calibration_block", map[string]any{"transcript": "Bom dia"}, &out)
	want := cal.Guidance(context.Background(), "Bom dia").Block
	if out.Block == "" || out.Block != want {
		t.Errorf("block = %q, want %q", out.Block, want)
	}
}

func TestCalibrationBlock_AbsentStore(t *testing.T) {
	t.Parallel()

	emb := &embedmock.Provider{Vector: []float32{1, 0}}
	cs := connect(t, calibration.New(emb, reference.StaticSource{}))

	var out mcpserver.BlockOutput
	call(t, cs, "calibration_block", map[string]any{"transcript": "Bom dia"}, &out)
	if out.Block != "" {
		t.Errorf("block = %q, want empty", out.Block)
	}
	if emb.EmbedCount() != 0 {
		t.Errorf("embedder called %d times for an absent store", emb.EmbedCount())
	}
}

func TestRubric(t *testing.T) {
	t.Parallel()

	cs := connect(t, newCalibrator(t))
	var out mcpserver.RubricOutput
	call(t, cs, "rubric", map[string]any{}, &out)
	if len(out.Criteria) != rubric.Count || out.MaxScore != rubric.MaxScore {
		t.Fatalf("rubric = %d criteria, max %d", len(out.Criteria), out.MaxScore)
	}
	total := 0
	for _, c := range out.Criteria {
		total += c.Points
	}
	if total != rubric.MaxScore {
		t.Errorf("points sum = %d, want %d", total, rubric.MaxScore)
	}
	if out.Criteria[0].Number != 1 || out.Criteria[0].Key != string(rubric.KeyGreeting) {
		t.Errorf("first criterion = %+v", out.Criteria[0])
	}
	if len(out.Eliminatory) != 7 {
		t.Errorf("eliminatory = %d, want 7", len(out.Eliminatory))
	}
}
