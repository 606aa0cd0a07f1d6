// Package mcpserver exposes calibration and the rubric as MCP tools so
// assistants can look up validated reference cases while reviewing calls.
package mcpserver

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/MrWong99/monitorai/internal/calibration"
	"github.com/MrWong99/monitorai/internal/evaluate"
	"github.com/MrWong99/monitorai/internal/rubric"
)

// maxK bounds the number of cases find_similar_cases returns.
const maxK = 20

// Calibrator is implemented by [*calibration.Calibrator].
type Calibrator interface {
	Guidance(ctx context.Context, transcript string) calibration.Result
	Similar(ctx context.Context, transcript string, k int) calibration.Result
}

var _ Calibrator = (*calibration.Calibrator)(nil)

// ── Tool payloads ───────────────────────────────────────────────────────────

type SimilarInput struct {
	Transcript string `json:"transcript" jsonschema:"full call transcript to compare against the reference cases"`
	K          int    `json:"k,omitempty" jsonschema:"number of cases to return (default 3, max 20)"`
}

type SimilarOutput struct {
	Matches  []evaluate.MatchSummary `json:"matches"`
	Degraded string                  `json:"degraded,omitempty"`
}

type BlockInput struct {
	Transcript string `json:"transcript" jsonschema:"full call transcript"`
}

type BlockOutput struct {
	Block string `json:"block"`
}

type RubricInput struct{}

type Criterion struct {
	Number   int    `json:"number"`
	Key      string `json:"key"`
	Label    string `json:"label"`
	Points   int    `json:"points"`
	Question string `json:"question"`
}

type RubricOutput struct {
	Criteria    []Criterion `json:"criteria"`
	MaxScore    int         `json:"max_score"`
	Eliminatory []string    `json:"eliminatory"`
}

// New returns an MCP server with the find_similar_cases, calibration_block
// and rubric tools.
func New(cal Calibrator, version string) *mcp.Server {
	srv := mcp.NewServer(&mcp.Implementation{Name: "monitorai", Version: version}, nil)
	h := handlers{cal: cal}

	mcp.AddTool(srv, &mcp.Tool{
		Name:        "find_similar_cases",
		Description: "Find validated reference calls most similar to a transcript, ranked by cosine similarity of their embeddings.",
	}, h.findSimilar)
	mcp.AddTool(srv, &mcp.Tool{
		Name:        "calibration_block",
		Description: "Build the calibration text that is appended to the grading prompt for a transcript.",
	}, h.calibrationBlock)
	mcp.AddTool(srv, &mcp.Tool{
		Name:        "rubric",
		Description: "List the grading checklist criteria with their weights and the eliminatory criteria.",
	}, h.rubric)
	return srv
}

// Handler serves srv over the streamable HTTP transport.
func Handler(srv *mcp.Server) http.Handler {
	return mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server { return srv }, nil)
}

type handlers struct {
	cal Calibrator
}

var errNoTranscript = errors.New("transcript is required")

func (h handlers) findSimilar(ctx context.Context, _ *mcp.CallToolRequest, in SimilarInput) (*mcp.CallToolResult, SimilarOutput, error) {
	if strings.TrimSpace(in.Transcript) == "" {
		return nil, SimilarOutput{}, errNoTranscript
	}
	var res calibration.Result
	if in.K <= 0 {
		res = h.cal.Guidance(ctx, in.Transcript)
	} else {
		res = h.cal.Similar(ctx, in.Transcript, min(in.K, maxK))
	}
	sum := (&evaluate.Result{Calibration: res}).CalibrationSummary()
	return nil, SimilarOutput{Matches: sum.Matches, Degraded: sum.Degraded}, nil
}

func (h handlers) calibrationBlock(ctx context.Context, _ *mcp.CallToolRequest, in BlockInput) (*mcp.CallToolResult, BlockOutput, error) {
	if strings.TrimSpace(in.Transcript) == "" {
		return nil, BlockOutput{}, errNoTranscript
	}
	return nil, BlockOutput{Block: h.cal.Guidance(ctx, in.Transcript).Block}, nil
}

func (handlers) rubric(context.Context, *mcp.CallToolRequest, RubricInput) (*mcp.CallToolResult, RubricOutput, error) {
	out := RubricOutput{MaxScore: rubric.MaxScore}
	for _, c := range rubric.Criteria() {
		out.Criteria = append(out.Criteria, Criterion{
			Number:   c.Number,
			Key:      string(c.Key),
			Label:    c.Label,
			Points:   c.Points,
			Question: c.Question,
		})
	}
	for _, e := range rubric.EliminatoryCriteria() {
		out.Eliminatory = append(out.Eliminatory, e.Question)
	}
	return nil, out, nil
}
