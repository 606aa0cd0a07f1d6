package reference

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/MrWong99/monitorai/internal/rubric"
)

// Format selects the snapshot encoding.
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// FormatForPath infers the snapshot format from a file extension.
// Anything other than .yaml or .yml is treated as JSON.
func FormatForPath(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML
	default:
		return FormatJSON
	}
}

// FileSource loads a snapshot from the local filesystem.
//
// The snapshot is an ordered list of records:
//
//	[{"id": "A", "embedding": [1, 0],
//	  "metadata": {"expected_score": 75, "checklist": {"1_atendimento_saudacao": true, ...}}}]
//
// IDs may be strings or integers.
type FileSource struct {
	Path string
}

var _ Source = FileSource{}

// Load implements [Source]. A missing file yields [ErrSnapshotNotFound].
func (f FileSource) Load(_ context.Context) (*Store, error) {
	file, err := os.Open(f.Path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrSnapshotNotFound, f.Path)
	}
	if err != nil {
		return nil, fmt.Errorf("reference: open %q: %w", f.Path, err)
	}
	defer file.Close()

	store, err := Decode(file, FormatForPath(f.Path))
	if err != nil {
		return nil, fmt.Errorf("reference: load %q: %w", f.Path, err)
	}
	return store, nil
}

// String implements fmt.Stringer for log output.
func (f FileSource) String() string { return "file:" + f.Path }

// Decode reads a snapshot in the given format and validates it with [NewStore].
// Unknown record fields are rejected. Every failure wraps [ErrCorruptSnapshot].
func Decode(r io.Reader, format Format) (*Store, error) {
	var records []record
	switch format {
	case FormatYAML:
		dec := yaml.NewDecoder(r)
		dec.KnownFields(true)
		if err := dec.Decode(&records); err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: decode yaml: %w", ErrCorruptSnapshot, err)
		}
	case FormatJSON:
		dec := json.NewDecoder(r)
		dec.DisallowUnknownFields()
		if err := dec.Decode(&records); err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: decode json: %w", ErrCorruptSnapshot, err)
		}
	default:
		return nil, fmt.Errorf("%w: unsupported format %q", ErrCorruptSnapshot, format)
	}

	cases := make([]Case, 0, len(records))
	var errs []error
	for i, rec := range records {
		if rec.Metadata.ExpectedScore == nil {
			errs = append(errs, fmt.Errorf("case[%d] %q: metadata.expected_score is required", i, rec.ID))
			continue
		}
		cases = append(cases, Case{
			ID:        string(rec.ID),
			Embedding: rec.Embedding,
			Metadata: Metadata{
				ExpectedScore: *rec.Metadata.ExpectedScore,
				Checklist:     rec.Metadata.Checklist,
			},
		})
	}
	if len(errs) > 0 {
		return nil, fmt.Errorf("%w: %w", ErrCorruptSnapshot, errors.Join(errs...))
	}
	return NewStore(cases)
}

// Encode writes store as a JSON snapshot that [Decode] reads back unchanged.
func Encode(w io.Writer, store *Store) error {
	records := make([]record, 0, store.Len())
	for _, c := range store.All() {
		score := c.Metadata.ExpectedScore
		rec := record{ID: caseID(c.ID), Embedding: c.Embedding}
		rec.Metadata.ExpectedScore = &score
		rec.Metadata.Checklist = c.Metadata.Checklist
		records = append(records, rec)
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(records); err != nil {
		return fmt.Errorf("reference: encode: %w", err)
	}
	return nil
}

type record struct {
	ID        caseID    `json:"id" yaml:"id"`
	Embedding []float32 `json:"embedding" yaml:"embedding"`
	Metadata  struct {
		ExpectedScore *int             `json:"expected_score" yaml:"expected_score"`
		Checklist     rubric.Checklist `json:"checklist" yaml:"checklist"`
	} `json:"metadata" yaml:"metadata"`
}

// caseID accepts either a string or an integer and normalises it to a string.
type caseID string

func (id *caseID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = caseID(s)
		return nil
	}
	n, err := strconv.ParseInt(string(data), 10, 64)
	if err != nil {
		return fmt.Errorf("id %s is neither a string nor an integer", data)
	}
	*id = caseID(strconv.FormatInt(n, 10))
	return nil
}

func (id *caseID) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: id must be a scalar", node.Line)
	}
	switch node.ShortTag() {
	case "!!str":
		*id = caseID(node.Value)
	case "!!int":
		var n int64
		if err := node.Decode(&n); err != nil {
			return err
		}
		*id = caseID(strconv.FormatInt(n, 10))
	default:
		return fmt.Errorf("line %d: id %q is neither a string nor an integer", node.Line, node.Value)
	}
	return nil
}
