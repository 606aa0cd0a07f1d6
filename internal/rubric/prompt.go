package rubric

import (
	_ "embed"
	"fmt"
	"strings"
)

// SystemPrompt is the system message sent with every grading request.
const SystemPrompt = "Você é um analista especializado em atendimento. Responda APENAS com o JSON solicitado, sem texto adicional, sem marcadores de código como ```json, e sem explicações."

//go:embed instructions.txt
var instructions string

const responseSchema = `{
  "status_final": {"satisfacao": "...", "risco": "...", "desfecho": "..."},
  "checklist": [
    {"item": 1, "criterio": "%s", "pontos": %d, "resposta": "...", "justificativa": "..."},
    ...
  ],
  "criterios_eliminatorios": [
    {"criterio": "%s", "ocorreu": true/false, "justificativa": "..."},
    ...
  ],
  "uso_script": {"status": "completo/parcial/não utilizado", "justificativa": "..."},
  "pontuacao_total": ...,
  "resumo_geral": "..."
}`

const scoringRules = `Scoring logic (mandatory):
*Only add points for items marked as "yes".
*If the answer is "no", assign 0 points.
*Never display 81 points by default.
*Final score = sum of all "yes" items only.`

// BuildPrompt assembles the user message for a grading request.
//
// calibration is inserted verbatim right after the transcript. An empty
// calibration block is omitted entirely, leaving no placeholder behind.
func BuildPrompt(transcript, calibration string) string {
	var sb strings.Builder

	// ── Transcript ───────────────────────────────────────────────────────────
	sb.WriteString("Você é um especialista em atendimento ao cliente. Avalie a transcrição a seguir:\n\n")
	sb.WriteString("TRANSCRIÇÃO:\n\"\"\"")
	sb.WriteString(transcript)
	sb.WriteString("\"\"\"\n")

	// ── Calibration ──────────────────────────────────────────────────────────
	if calibration != "" {
		sb.WriteString(calibration)
		sb.WriteString("\n")
	}

	// ── Response schema ──────────────────────────────────────────────────────
	sb.WriteString("\nRetorne APENAS um JSON com os seguintes campos, sem texto adicional antes ou depois:\n\n")
	fmt.Fprintf(&sb, responseSchema, criteria[0].Question, criteria[0].Points, eliminatory[0].Question)
	sb.WriteString("\n\n")
	sb.WriteString(scoringRules)

	// ── Checklist ────────────────────────────────────────────────────────────
	fmt.Fprintf(&sb, "\n\nChecklist (%d pts totais):\n", MaxScore)
	for _, c := range criteria {
		fmt.Fprintf(&sb, "%d. %s (%d Pontos)\n", c.Number, c.Question, c.Points)
	}
	sb.WriteString("\n")
	sb.WriteString(scoringRules)
	sb.WriteString("\n\n")
	sb.WriteString(strings.TrimSpace(instructions))

	// ── Eliminatory criteria ─────────────────────────────────────────────────
	sb.WriteString("\n\nCritérios Eliminatórios (cada um resulta em 0 pontos se ocorrer):\n")
	for _, e := range eliminatory {
		fmt.Fprintf(&sb, "- %s\n  Exemplos: %s\n", e.Question, e.Examples)
	}
	sb.WriteString("\nATENÇÃO: Avalie com rigor frases como \"Não teria problema em mexer na lataria e o senhor perder a garantia?\" ou \"provavelmente a sua garantia é motor e câmbio\" - estas constituem informações incorretas ou suposições sem confirmação que podem confundir o cliente e são consideradas violações de critérios eliminatórios.\n")

	// ── Closing script ───────────────────────────────────────────────────────
	fmt.Fprintf(&sb, "\nO script correto para a pergunta %d é:\n\"%s\"\n", criteria[10].Number, ClosingScript)
	sb.WriteString("\nAvalie se o script acima foi utilizado completamente ou não foi utilizado.\n")
	sb.WriteString("\nIMPORTANTE: Retorne APENAS o JSON, sem nenhum texto adicional, sem decoradores de código como ```json ou ```, e sem explicações adicionais.\n")

	return sb.String()
}
