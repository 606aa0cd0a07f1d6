// Package feedback records reviewer verdicts on finished evaluations.
//
// Records are appended as JSON lines to a local file. Agreed or corrected
// evaluations are the raw material for rebuilding the reference snapshot
// offline; [FileStore.ReadAll] returns them in write order.
package feedback

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/MrWong99/monitorai/internal/rubric"
)

// ErrInvalid is returned for records that fail validation.
var ErrInvalid = errors.New("feedback: invalid record")

// Store persists reviewer feedback.
type Store interface {
	Save(ctx context.Context, r Record) error
}

var _ Store = (*FileStore)(nil)

// Record is one reviewer verdict.
type Record struct {
	Timestamp    time.Time `json:"timestamp"`
	EvaluationID string    `json:"evaluation_id"`

	// Agree is true when the reviewer accepts the grader's result as is.
	Agree bool `json:"agree"`

	// CorrectedScore is the reviewer's total when they disagree.
	CorrectedScore *int `json:"corrected_score,omitempty"`

	// Checklist holds the reviewer's per-criterion answers, when given.
	Checklist *rubric.Checklist `json:"checklist,omitempty"`

	Reviewer string `json:"reviewer,omitempty"`
	Notes    string `json:"notes,omitempty"`
}

// Validate reports every problem with r.
func (r Record) Validate() error {
	var errs []error
	if r.EvaluationID == "" {
		errs = append(errs, errors.New("evaluation_id is required"))
	}
	if s := r.CorrectedScore; s != nil && (*s < 0 || *s > rubric.MaxScore) {
		errs = append(errs, fmt.Errorf("corrected_score %d outside [0, %d]", *s, rubric.MaxScore))
	}
	if r.Agree && r.CorrectedScore != nil {
		errs = append(errs, errors.New("corrected_score given for an agreeing review"))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	return nil
}

// FileStore persists feedback as JSON lines in a local file. It is safe for
// concurrent use within one process.
type FileStore struct {
	mu   sync.Mutex
	path string
	now  func() time.Time
}

// NewFileStore creates a FileStore that appends to path. The file is created
// on the first write.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path, now: time.Now}
}

// Path returns the backing file path.
func (fs *FileStore) Path() string { return fs.path }

// Save validates r, stamps it when Timestamp is zero and appends it.
func (fs *FileStore) Save(_ context.Context, r Record) error {
	if err := r.Validate(); err != nil {
		return err
	}
	if r.Timestamp.IsZero() {
		r.Timestamp = fs.now().UTC()
	}

	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("feedback: marshal: %w", err)
	}
	data = append(data, '\n')

	fs.mu.Lock()
	defer fs.mu.Unlock()

	f, err := os.OpenFile(fs.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("feedback: open file: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(data); err != nil {
		return fmt.Errorf("feedback: write: %w", err)
	}
	return nil
}

// ReadAll returns every stored record in write order. A missing file yields
// no records. A corrupt line fails with its line number.
func (fs *FileStore) ReadAll() ([]Record, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	f, err := os.Open(fs.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("feedback: open file: %w", err)
	}
	defer f.Close()

	var out []Record
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for n := 1; sc.Scan(); n++ {
		if len(sc.Bytes()) == 0 {
			continue
		}
		var r Record
		if err := json.Unmarshal(sc.Bytes(), &r); err != nil {
			return nil, fmt.Errorf("feedback: line %d: %w", n, err)
		}
		out = append(out, r)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("feedback: read: %w", err)
	}
	return out, nil
}
