package evaluate

import (
	"sync"
	"time"
)

// Stage names a step of the pipeline as reported to progress listeners.
type Stage string

const (
	StageTranscribing Stage = "transcribing"
	StageCalibrating  Stage = "calibrating"
	StageGrading      Stage = "grading"
	StageDone         Stage = "done"
	StageFailed       Stage = "failed"
)

// Terminal reports whether no further events follow s.
func (s Stage) Terminal() bool {
	return s == StageDone || s == StageFailed
}

// Event is one progress notification.
type Event struct {
	EvaluationID string    `json:"evaluation_id"`
	Seq          int       `json:"seq"`
	Stage        Stage     `json:"stage"`
	Message      string    `json:"message,omitempty"`
	Time         time.Time `json:"time"`
}

// ProgressFunc receives progress events. It is called synchronously from the
// evaluating goroutine and must not block for long.
type ProgressFunc func(Event)

func newEmitter(id string, fn ProgressFunc, now func() time.Time) func(Stage, string) {
	var (
		mu  sync.Mutex
		seq int
	)
	return func(stage Stage, msg string) {
		if fn == nil {
			return
		}
		mu.Lock()
		seq++
		ev := Event{EvaluationID: id, Seq: seq, Stage: stage, Message: msg, Time: now()}
		mu.Unlock()
		fn(ev)
	}
}
