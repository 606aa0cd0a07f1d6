package evaluate

import (
	"encoding/json"
	"time"

	"github.com/MrWong99/monitorai/internal/grader"
	"github.com/MrWong99/monitorai/internal/transcript"
)

// MatchSummary is a reference case used for calibration, without its
// embedding.
type MatchSummary struct {
	ID            string  `json:"id"`
	Similarity    float64 `json:"similarity"`
	ExpectedScore int     `json:"expected_score"`
}

// CalibrationSummary describes how the prompt was calibrated.
type CalibrationSummary struct {
	Applied  bool           `json:"applied"`
	Degraded string         `json:"degraded,omitempty"`
	Matches  []MatchSummary `json:"matches"`
}

// CalibrationSummary returns the calibration details for API responses.
func (r *Result) CalibrationSummary() CalibrationSummary {
	s := CalibrationSummary{
		Applied: r.Calibration.Block != "",
		Matches: make([]MatchSummary, 0, len(r.Calibration.Matches)),
	}
	if r.Calibration.Degraded != nil {
		s.Degraded = r.Calibration.Degraded.Error()
	}
	for _, m := range r.Calibration.Matches {
		s.Matches = append(s.Matches, MatchSummary{
			ID:            m.Case.ID,
			Similarity:    m.Score,
			ExpectedScore: m.Case.Metadata.ExpectedScore,
		})
	}
	return s
}

type resultJSON struct {
	ID          string                  `json:"id"`
	FileName    string                  `json:"file_name,omitempty"`
	Transcript  string                  `json:"transcript"`
	Corrections []transcript.Correction `json:"corrections,omitempty"`
	Calibration CalibrationSummary      `json:"calibration"`
	Evaluation  *grader.Evaluation      `json:"evaluation"`
	StartedAt   time.Time               `json:"started_at"`
	DurationMS  int64                   `json:"duration_ms"`
}

// MarshalJSON encodes the result for API responses and archives. Reference
// embeddings are left out.
func (r *Result) MarshalJSON() ([]byte, error) {
	return json.Marshal(resultJSON{
		ID:          r.ID,
		FileName:    r.FileName,
		Transcript:  r.Transcript,
		Corrections: r.Corrections,
		Calibration: r.CalibrationSummary(),
		Evaluation:  r.Evaluation,
		StartedAt:   r.StartedAt,
		DurationMS:  r.Duration.Milliseconds(),
	})
}
