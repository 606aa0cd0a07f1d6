// Package report renders finished evaluations as an HTML page or a PDF
// document, both in Portuguese.
package report

import (
	"fmt"
	"time"

	"github.com/MrWong99/monitorai/internal/evaluate"
	"github.com/MrWong99/monitorai/internal/grader"
	"github.com/MrWong99/monitorai/internal/rubric"
)

// FileName returns the download name for a PDF report created at t.
func FileName(t time.Time) string {
	return "MonitorAI_Relatorio_" + t.Format("20060102_150405") + ".pdf"
}

// view is the template-facing projection of an evaluation result.
type view struct {
	ID         string
	FileName   string
	Model      string
	Date       string
	Status     grader.StatusFinal
	Script     grader.ScriptResult
	Violations []grader.EliminatoryResult
	Eliminated bool

	Score          int
	ChecklistScore int
	MaxScore       int
	ScorePercent   int
	ScoreClass     string
	ReportedScore  string

	Items      []grader.ItemResult
	Summary    string
	Transcript string
	Matches    []matchView
}

type matchView struct {
	ID            string
	Similarity    string
	ExpectedScore int
}

func newView(r *evaluate.Result) view {
	ev := r.Evaluation
	if ev == nil {
		ev = &grader.Evaluation{}
	}
	v := view{
		ID:             r.ID,
		FileName:       r.FileName,
		Model:          orNA(ev.Model),
		Date:           r.StartedAt.Format("02/01/2006 15:04"),
		Status:         ev.Status,
		Script:         ev.Script,
		Eliminated:     ev.Eliminated(),
		Score:          ev.TotalScore,
		ChecklistScore: ev.ChecklistScore,
		MaxScore:       rubric.MaxScore,
		ScorePercent:   ev.TotalScore * 100 / rubric.MaxScore,
		ScoreClass:     scoreClass(ev.TotalScore),
		Items:          ev.Checklist,
		Summary:        ev.Summary,
		Transcript:     r.Transcript,
	}
	if ev.ReportedScore != nil {
		v.ReportedScore = fmt.Sprintf("%g", *ev.ReportedScore)
	}
	for _, el := range ev.Eliminatory {
		if el.Occurred {
			v.Violations = append(v.Violations, el)
		}
	}
	for _, m := range r.Calibration.Matches {
		v.Matches = append(v.Matches, matchView{
			ID:            m.Case.ID,
			Similarity:    fmt.Sprintf("%.1f%%", m.Score*100),
			ExpectedScore: m.Case.Metadata.ExpectedScore,
		})
	}
	return v
}

// scoreClass buckets a score for colouring: 70 and above is high, 50 and
// above medium.
func scoreClass(score int) string {
	switch {
	case score >= 70:
		return "progress-high"
	case score >= 50:
		return "progress-medium"
	default:
		return "progress-low"
	}
}

func orNA(s string) string {
	if s == "" {
		return "N/A"
	}
	return s
}
