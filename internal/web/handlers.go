package web

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/monitorai/internal/evaluate"
	"github.com/MrWong99/monitorai/internal/feedback"
	"github.com/MrWong99/monitorai/internal/report"
	"github.com/MrWong99/monitorai/internal/rubric"
	"github.com/MrWong99/monitorai/pkg/provider/stt"
)

// ── Upload page ─────────────────────────────────────────────────────────────

func (s *Server) handleIndex(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	data := struct {
		MaxUploadMB int64
		Criteria    int
		MaxScore    int
	}{s.cfg.MaxUploadBytes >> 20, rubric.Count, rubric.MaxScore}
	if err := indexTemplate.Execute(w, data); err != nil {
		s.log.Error("web: render index", "err", err)
	}
}

// ── Evaluations ─────────────────────────────────────────────────────────────

type createResponse struct {
	ID string `json:"id"`
}

// handleCreate accepts a multipart upload with an "audio" file or a
// "transcript" field and starts an evaluation job.
func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	if s.jobs.full() {
		s.busy(w)
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) || strings.Contains(err.Error(), "request body too large") {
			writeError(w, http.StatusRequestEntityTooLarge, ErrCodeTooLarge,
				fmt.Sprintf("upload exceeds %d MiB", s.cfg.MaxUploadBytes>>20))
			return
		}
		writeError(w, http.StatusBadRequest, ErrCodeBadRequest, "expected multipart/form-data")
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	in := evaluate.Input{ID: uuid.NewString()}
	if text := strings.TrimSpace(r.FormValue("transcript")); text != "" {
		in.Transcript = text
		in.FileName = "transcricao.txt"
	} else {
		file, hdr, err := r.FormFile("audio")
		if err != nil {
			writeError(w, http.StatusBadRequest, ErrCodeBadRequest, "missing audio file or transcript")
			return
		}
		defer file.Close()
		if !stt.Supported(hdr.Filename) {
			writeError(w, http.StatusUnsupportedMediaType, ErrCodeUnsupportedType,
				"supported formats: mp3, wav, m4a, ogg, webm, flac")
			return
		}
		// The multipart temp file is removed when the request ends.
		data, err := io.ReadAll(file)
		if err != nil {
			writeError(w, http.StatusBadRequest, ErrCodeBadRequest, "read upload: "+err.Error())
			return
		}
		in.FileName = hdr.Filename
		in.Audio = bytes.NewReader(data)
		in.ContentType = stt.ContentTypeFor(hdr.Filename)
	}

	j, ok := s.start(r, in)
	if !ok {
		s.busy(w)
		return
	}
	s.log.Info("web: evaluation queued", "evaluation_id", j.id, "file", j.fileName)
	w.Header().Set("Location", "/api/evaluations/"+j.id)
	writeJSON(w, http.StatusAccepted, createResponse{ID: j.id})
}

// busy refuses an upload without reading its body.
func (s *Server) busy(w http.ResponseWriter) {
	s.log.Warn("web: evaluation refused, queue full", "max_jobs", s.jobs.max)
	w.Header().Set("Retry-After", "30")
	writeError(w, http.StatusTooManyRequests, ErrCodeBusy, "too many evaluations in progress, try again later")
}

type statusResponse struct {
	ID        string           `json:"id"`
	State     State            `json:"state"`
	FileName  string           `json:"file_name,omitempty"`
	CreatedAt time.Time        `json:"created_at"`
	Stage     evaluate.Stage   `json:"stage,omitempty"`
	Error     *ErrorDetail     `json:"error,omitempty"`
	Result    *evaluate.Result `json:"result,omitempty"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	j, ok := s.job(w, r)
	if !ok {
		return
	}
	state, res, err := j.snapshot()
	resp := statusResponse{
		ID:        j.id,
		State:     state,
		FileName:  j.fileName,
		CreatedAt: j.createdAt,
		Stage:     j.stage(),
		Result:    res,
	}
	if err != nil {
		_, code := classify(err)
		resp.Error = &ErrorDetail{Code: code, Message: err.Error()}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	res, ok := s.finished(w, r)
	if !ok {
		return
	}
	var buf bytes.Buffer
	if err := report.HTML(&buf, res); err != nil {
		s.log.Error("web: render report", "evaluation_id", res.ID, "err", err)
		writeError(w, http.StatusInternalServerError, ErrCodeInternal, "render report failed")
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = buf.WriteTo(w)
}

func (s *Server) handlePDF(w http.ResponseWriter, r *http.Request) {
	res, ok := s.finished(w, r)
	if !ok {
		return
	}
	var buf bytes.Buffer
	if err := report.PDF(&buf, res); err != nil {
		s.log.Error("web: render pdf", "evaluation_id", res.ID, "err", err)
		writeError(w, http.StatusInternalServerError, ErrCodeInternal, "render pdf failed")
		return
	}
	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, report.FileName(res.StartedAt)))
	_, _ = buf.WriteTo(w)
}

// job resolves the {id} path value, writing 404 when unknown.
func (s *Server) job(w http.ResponseWriter, r *http.Request) (*job, bool) {
	j, ok := s.jobs.get(r.PathValue("id"))
	if !ok {
		writeError(w, http.StatusNotFound, ErrCodeNotFound, "evaluation not found")
	}
	return j, ok
}

// finished returns the result of a completed job. A running job is 409 and a
// failed one is reported with the status from [classify].
func (s *Server) finished(w http.ResponseWriter, r *http.Request) (*evaluate.Result, bool) {
	j, ok := s.job(w, r)
	if !ok {
		return nil, false
	}
	state, res, err := j.snapshot()
	switch state {
	case StateRunning:
		writeError(w, http.StatusConflict, ErrCodeNotReady, "evaluation still running")
		return nil, false
	case StateFailed:
		status, code := classify(err)
		writeError(w, status, code, err.Error())
		return nil, false
	}
	return res, true
}

// ── Calibration preview ─────────────────────────────────────────────────────

type previewRequest struct {
	Transcript string `json:"transcript"`
}

type previewResponse struct {
	Block    string                  `json:"block"`
	Matches  []evaluate.MatchSummary `json:"matches"`
	Degraded string                  `json:"degraded,omitempty"`
}

func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Calibrator == nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "calibration is not configured")
		return
	}
	var req previewRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Transcript) == "" {
		writeError(w, http.StatusBadRequest, ErrCodeBadRequest, "transcript is required")
		return
	}
	cr := s.cfg.Calibrator.Guidance(r.Context(), req.Transcript)
	sum := (&evaluate.Result{Calibration: cr}).CalibrationSummary()
	writeJSON(w, http.StatusOK, previewResponse{Block: cr.Block, Matches: sum.Matches, Degraded: sum.Degraded})
}

// ── Reviewer feedback ───────────────────────────────────────────────────────

type feedbackRequest struct {
	Agree          bool              `json:"agree"`
	CorrectedScore *int              `json:"corrected_score"`
	Checklist      *rubric.Checklist `json:"checklist"`
	Reviewer       string            `json:"reviewer"`
	Notes          string            `json:"notes"`
}

// handleFeedback appends a reviewer verdict. Evaluations no longer in the
// job registry (for example ones from the CLI) are accepted as well.
func (s *Server) handleFeedback(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Feedback == nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "feedback store is not configured")
		return
	}
	id := r.PathValue("id")
	if j, ok := s.jobs.get(id); ok {
		if state, _, _ := j.snapshot(); state == StateRunning {
			writeError(w, http.StatusConflict, ErrCodeNotReady, "evaluation still running")
			return
		}
	}
	var req feedbackRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	rec := feedback.Record{
		Timestamp:      s.now().UTC(),
		EvaluationID:   id,
		Agree:          req.Agree,
		CorrectedScore: req.CorrectedScore,
		Checklist:      req.Checklist,
		Reviewer:       req.Reviewer,
		Notes:          req.Notes,
	}
	if err := s.cfg.Feedback.Save(r.Context(), rec); err != nil {
		if errors.Is(err, feedback.ErrInvalid) {
			writeError(w, http.StatusBadRequest, ErrCodeBadRequest, err.Error())
			return
		}
		s.log.Error("web: save feedback", "evaluation_id", id, "err", err)
		writeError(w, http.StatusInternalServerError, ErrCodeInternal, "save feedback failed")
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body: "+err.Error())
		return false
	}
	return true
}
