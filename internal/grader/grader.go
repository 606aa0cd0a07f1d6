// Package grader turns a call transcript into a structured [Evaluation] by
// asking a language model to apply the rubric.
//
// The model is treated as an opaque service: its reply is parsed leniently
// (see [Parse]), answers are normalised, and the total score is recomputed
// from the checklist so a miscounting model cannot inflate a result.
package grader

import (
	"context"
	"errors"

	"github.com/MrWong99/monitorai/internal/rubric"
)

// ErrMalformedResponse is returned when the model reply contains no usable
// JSON evaluation.
var ErrMalformedResponse = errors.New("grader: malformed response")

// Grader produces an evaluation for one transcript.
type Grader interface {
	// Grade evaluates req. Any error means the evaluation failed and must be
	// reported to the caller; implementations never return a partial result.
	Grade(ctx context.Context, req Request) (*Evaluation, error)
}

// Request is the input to a single grading call.
type Request struct {
	// Transcript is the call transcript to evaluate.
	Transcript string

	// Calibration is the optional calibration block appended verbatim to the
	// prompt. Empty means no calibration section.
	Calibration string
}

// StatusFinal is the model's overall assessment of the call.
type StatusFinal struct {
	Satisfacao string `json:"satisfacao"`
	Risco      string `json:"risco"`
	Desfecho   string `json:"desfecho"`
}

// ItemResult is the normalised answer for one checklist line.
type ItemResult struct {
	// Number is the 1-based criterion number, or 0 when the line could not
	// be mapped to a rubric criterion.
	Number int `json:"item"`

	// Key is the rubric key the line was mapped to, or "" when unmapped.
	Key rubric.Key `json:"key,omitempty"`

	// Criterion is the criterion text as returned by the model.
	Criterion string `json:"criterio"`

	// Points is the rubric weight of the mapped criterion.
	Points int `json:"pontos"`

	// Answer is the raw answer text ("Sim", "NÃO", ...).
	Answer string `json:"resposta"`

	// Satisfied is the normalised answer.
	Satisfied bool `json:"satisfeito"`

	Justification string `json:"justificativa"`
}

// EliminatoryResult records whether an eliminatory criterion occurred.
type EliminatoryResult struct {
	Criterion     string `json:"criterio"`
	Occurred      bool   `json:"ocorreu"`
	Justification string `json:"justificativa"`
}

// ScriptResult is the closing-script assessment.
type ScriptResult struct {
	Status        string `json:"status"`
	Justification string `json:"justificativa"`

	// Used is true when Status is "completo" or "sim".
	Used bool `json:"utilizado"`
}

// Evaluation is the structured grading result.
type Evaluation struct {
	Status      StatusFinal         `json:"status_final"`
	Checklist   []ItemResult        `json:"checklist"`
	Eliminatory []EliminatoryResult `json:"criterios_eliminatorios"`
	Script      ScriptResult        `json:"uso_script"`

	// ChecklistScore is the sum of the points of satisfied criteria.
	ChecklistScore int `json:"pontuacao_checklist"`

	// TotalScore is ChecklistScore, or 0 when an eliminatory criterion occurred.
	TotalScore int `json:"pontuacao_total"`

	// ReportedScore is the total the model claimed, nil when absent or
	// unparsable. It is kept for comparison only.
	ReportedScore *float64 `json:"pontuacao_informada,omitempty"`

	Summary string `json:"resumo_geral"`

	// Model identifies the backend that produced the evaluation.
	Model string `json:"modelo,omitempty"`
}

// Answers returns the evaluation as a rubric checklist. Unmapped lines are
// omitted.
func (e *Evaluation) Answers() rubric.Checklist {
	var c rubric.Checklist
	for _, it := range e.Checklist {
		if it.Key != "" {
			c.Set(string(it.Key), it.Satisfied)
		}
	}
	return c
}

// Eliminated reports whether any eliminatory criterion occurred.
func (e *Evaluation) Eliminated() bool {
	for _, el := range e.Eliminatory {
		if el.Occurred {
			return true
		}
	}
	return false
}

// ScoreMismatch reports whether the model's own total disagrees with the
// recomputed one.
func (e *Evaluation) ScoreMismatch() bool {
	if e.ReportedScore == nil {
		return false
	}
	return int(*e.ReportedScore+0.5) != e.TotalScore
}
