package grader

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"github.com/antzucaro/matchr"
	"golang.org/x/text/unicode/norm"

	"github.com/MrWong99/monitorai/internal/rubric"
)

// criterionMatchThreshold is the minimum Jaro-Winkler similarity for a
// checklist line without a usable item number to be mapped by its text.
const criterionMatchThreshold = 0.85

// Parse decodes a model reply into an Evaluation.
//
// The reply is decoded as JSON directly; failing that, the text between the
// first '{' and the last '}' is tried, which strips code fences and chatter.
// Checklist lines are mapped to rubric criteria and the total is recomputed.
func Parse(reply string) (*Evaluation, error) {
	raw, err := extractJSON(reply)
	if err != nil {
		return nil, err
	}

	ev := &Evaluation{
		Status: StatusFinal{
			Satisfacao: raw.StatusFinal.Satisfacao.String(),
			Risco:      raw.StatusFinal.Risco.String(),
			Desfecho:   raw.StatusFinal.Desfecho.String(),
		},
		Script: ScriptResult{
			Status:        raw.Script.Status.String(),
			Justification: raw.Script.Justificativa.String(),
		},
		Summary: raw.Resumo.String(),
	}
	ev.Script.Used = scriptUsed(ev.Script.Status)

	seen := make(map[rubric.Key]bool, rubric.Count)
	for _, it := range raw.Checklist {
		res := ItemResult{
			Criterion:     it.Criterio.String(),
			Answer:        it.Resposta.String(),
			Satisfied:     IsYes(it.Resposta.String()),
			Justification: it.Justificativa.String(),
		}
		if c, ok := mapCriterion(int(it.Item), res.Criterion); ok && !seen[c.Key] {
			seen[c.Key] = true
			res.Number = c.Number
			res.Key = c.Key
			res.Points = c.Points
			if res.Criterion == "" {
				res.Criterion = c.Question
			}
		}
		ev.Checklist = append(ev.Checklist, res)
	}

	for _, el := range raw.Eliminatory {
		ev.Eliminatory = append(ev.Eliminatory, EliminatoryResult{
			Criterion:     el.Criterio.String(),
			Occurred:      bool(el.Ocorreu),
			Justification: el.Justificativa.String(),
		})
	}

	for _, it := range ev.Checklist {
		if it.Key != "" && it.Satisfied {
			ev.ChecklistScore += it.Points
		}
	}
	ev.TotalScore = ev.ChecklistScore
	if ev.Eliminated() {
		ev.TotalScore = 0
	}
	if s, ok := parseScore(raw.Total); ok {
		ev.ReportedScore = &s
	}
	return ev, nil
}

// extractJSON decodes reply, falling back to its outermost braces.
func extractJSON(reply string) (*rawEvaluation, error) {
	var raw rawEvaluation
	if err := json.Unmarshal([]byte(strings.TrimSpace(reply)), &raw); err == nil {
		return &raw, nil
	}

	start := strings.Index(reply, "{")
	end := strings.LastIndex(reply, "}")
	if start < 0 || end <= start {
		return nil, fmt.Errorf("%w: no JSON object in reply", ErrMalformedResponse)
	}
	raw = rawEvaluation{}
	if err := json.Unmarshal([]byte(reply[start:end+1]), &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	return &raw, nil
}

// mapCriterion resolves a checklist line to a rubric criterion, by number
// first and by fuzzy text match second.
func mapCriterion(number int, text string) (rubric.Criterion, bool) {
	if c, ok := rubric.ByNumber(number); ok {
		return c, true
	}
	folded := Fold(text)
	if folded == "" {
		return rubric.Criterion{}, false
	}
	var (
		best      rubric.Criterion
		bestScore float64
	)
	for _, c := range rubric.Criteria() {
		for _, candidate := range []string{c.Question, c.Label, string(c.Key)} {
			if s := matchr.JaroWinkler(folded, Fold(candidate), false); s > bestScore {
				best, bestScore = c, s
			}
		}
	}
	if bestScore < criterionMatchThreshold {
		return rubric.Criterion{}, false
	}
	return best, true
}

// Fold lower-cases s, strips diacritics and surrounding punctuation or
// symbols, so that "NÃO.", "Nao" and "não" compare equal.
func Fold(s string) string {
	decomposed := norm.NFD.String(s)
	stripped := strings.Map(func(r rune) rune {
		if unicode.Is(unicode.Mn, r) {
			return -1
		}
		return unicode.ToLower(r)
	}, decomposed)
	return strings.TrimFunc(stripped, func(r rune) bool {
		return unicode.IsSpace(r) || unicode.IsPunct(r) || unicode.IsSymbol(r)
	})
}

// IsYes reports whether a free-text answer means "yes". Only the first word
// counts, so "Sim, parcialmente" is yes and "Não se aplica" is no.
func IsYes(answer string) bool {
	first, _, _ := strings.Cut(Fold(answer), " ")
	first = strings.TrimRightFunc(first, unicode.IsPunct)
	switch first {
	case "sim", "yes", "s", "true":
		return true
	}
	return false
}

func scriptUsed(status string) bool {
	switch Fold(status) {
	case "completo", "sim":
		return true
	}
	return false
}

// scoreNumber is the first number in a reported total. A decimal comma is
// accepted.
var scoreNumber = regexp.MustCompile(`\d+(?:[.,]\d+)?`)

// parseScore reads the first number of values such as 75, 75.0, "75 pontos",
// "75/81" or "Total: 75 pontos de 81".
func parseScore(v flexString) (float64, bool) {
	m := scoreNumber.FindString(string(v))
	if m == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(strings.Replace(m, ",", ".", 1), 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

// ── Wire format ─────────────────────────────────────────────────────────────

type rawEvaluation struct {
	StatusFinal struct {
		Satisfacao flexString `json:"satisfacao"`
		Risco      flexString `json:"risco"`
		Desfecho   flexString `json:"desfecho"`
	} `json:"status_final"`
	Checklist []struct {
		Item          flexInt    `json:"item"`
		Criterio      flexString `json:"criterio"`
		Resposta      flexString `json:"resposta"`
		Justificativa flexString `json:"justificativa"`
	} `json:"checklist"`
	Eliminatory []struct {
		Criterio      flexString `json:"criterio"`
		Ocorreu       flexBool   `json:"ocorreu"`
		Justificativa flexString `json:"justificativa"`
	} `json:"criterios_eliminatorios"`
	Script struct {
		Status        flexString `json:"status"`
		Justificativa flexString `json:"justificativa"`
	} `json:"uso_script"`
	Total  flexString `json:"pontuacao_total"`
	Resumo flexString `json:"resumo_geral"`
}

// flexString accepts any JSON scalar and keeps its text form.
type flexString string

func (s *flexString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*s = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var v string
		if err := json.Unmarshal(data, &v); err != nil {
			return err
		}
		*s = flexString(v)
		return nil
	}
	*s = flexString(data)
	return nil
}

func (s flexString) String() string { return strings.TrimSpace(string(s)) }

// flexInt accepts 3, 3.0 and "3". Anything else decodes as 0.
type flexInt int

func (n *flexInt) UnmarshalJSON(data []byte) error {
	var s flexString
	if err := s.UnmarshalJSON(data); err != nil {
		return err
	}
	f, err := strconv.ParseFloat(strings.TrimSuffix(s.String(), "."), 64)
	if err != nil {
		*n = 0
		return nil
	}
	*n = flexInt(f)
	return nil
}

// flexBool accepts true, "true", "sim" and "yes".
type flexBool bool

func (b *flexBool) UnmarshalJSON(data []byte) error {
	var s flexString
	if err := s.UnmarshalJSON(data); err != nil {
		return err
	}
	*b = flexBool(IsYes(s.String()))
	return nil
}
