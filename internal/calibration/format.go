package calibration

import (
	"fmt"
	"strings"

	"github.com/MrWong99/monitorai/internal/rubric"
)

const header = "\n\n=== REFERÊNCIA DO GABARITO VALIDADO ===\n" +
	"Casos similares identificados (use como calibração de rigor):\n\n"

// Trailer closes every non-empty calibration block.
const Trailer = "INSTRUÇÕES CRÍTICAS DE CALIBRAÇÃO:\n" +
	"1. Use estes casos como PADRÃO DE RIGOR - mantenha o mesmo nível de exigência\n" +
	"2. Avalie a transcrição atual de forma INDEPENDENTE mas CONSISTENTE com o gabarito\n" +
	"3. Se houver dúvida entre SIM/NÃO, compare com casos similares acima\n" +
	"4. A pontuação final deve refletir APENAS os critérios que foram REALMENTE cumpridos\n" +
	"5. Seja RIGOROSO como demonstrado nos casos validados\n" +
	"=== FIM DA REFERÊNCIA DO GABARITO ===\n"

// Format renders matches as the calibration block appended to the grading
// prompt. It returns "" when there are no matches.
//
// Each case lists all twelve criteria in rubric order, with unanswered ones
// shown as not satisfied, followed by any unknown keys labelled by the raw
// key. The output depends only on its input.
func Format(matches []Match) string {
	if len(matches) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString(header)
	for i, m := range matches {
		fmt.Fprintf(&b, "CASO SIMILAR #%d - ID %s (Similaridade: %.1f%%):\n", i+1, m.Case.ID, m.Score*100)
		fmt.Fprintf(&b, "Pontuação correta: %d/%d pontos\n", m.Case.Metadata.ExpectedScore, rubric.MaxScore)
		b.WriteString("Respostas corretas validadas:\n")
		for _, e := range m.Case.Metadata.Checklist.Entries() {
			fmt.Fprintf(&b, "  • %s: %s\n", e.Label, marker(e.Value))
		}
		b.WriteString("\n")
	}
	b.WriteString(Trailer)
	return b.String()
}

func marker(v bool) string {
	if v {
		return "✓ SIM"
	}
	return "✗ NÃO"
}
