package report

import (
	"fmt"
	"io"

	"github.com/go-pdf/fpdf"

	"github.com/MrWong99/monitorai/internal/evaluate"
)

// PDF writes a PDF report for r to w. Text is converted to cp1252 for the
// core fonts; characters outside it are dropped.
func PDF(w io.Writer, r *evaluate.Result) error {
	v := newView(r)

	pdf := fpdf.New("P", "mm", "A4", "")
	tr := pdf.UnicodeTranslatorFromDescriptor("")
	pdf.SetTitle(tr("MonitorAI - Relatório de Atendimento"), false)
	pdf.AddPage()

	// ── Header ───────────────────────────────────────────────────────────────
	pdf.SetFont("Arial", "B", 16)
	pdf.SetFillColor(193, 0, 0)
	pdf.SetTextColor(255, 255, 255)
	pdf.CellFormat(0, 10, tr("MonitorAI - Relatório de Atendimento"), "1", 1, "C", true, 0, "")
	pdf.Ln(5)

	pdf.SetTextColor(0, 0, 0)
	pdf.SetFont("Arial", "B", 12)
	line(pdf, tr("Data da análise: "+v.Date))
	line(pdf, tr("Modelo utilizado: "+v.Model))
	if v.FileName != "" {
		line(pdf, tr("Arquivo: "+v.FileName))
	}
	pdf.Ln(5)

	// ── Summary page ─────────────────────────────────────────────────────────
	heading(pdf, tr("Status Final"))
	line(pdf, tr("Cliente: "+orNA(v.Status.Satisfacao)))
	line(pdf, tr("Desfecho: "+orNA(v.Status.Desfecho)))
	line(pdf, tr("Risco: "+orNA(v.Status.Risco)))
	pdf.Ln(5)

	heading(pdf, tr("Script de Encerramento"))
	line(pdf, tr("Status: "+orNA(v.Script.Status)))
	pdf.MultiCell(0, 8, tr("Justificativa: "+orNA(v.Script.Justification)), "", "", false)
	pdf.Ln(5)

	if len(v.Violations) > 0 {
		heading(pdf, tr("Critérios Eliminatórios Violados"))
		for _, el := range v.Violations {
			pdf.SetFont("Arial", "B", 12)
			pdf.MultiCell(0, 8, tr(el.Criterion), "", "", false)
			pdf.SetFont("Arial", "", 12)
			pdf.MultiCell(0, 8, tr(el.Justification), "", "", false)
		}
		pdf.Ln(5)
	}

	heading(pdf, tr("Pontuação Total"))
	pdf.SetFont("Arial", "B", 12)
	line(pdf, tr(fmt.Sprintf("%d pontos de %d", v.Score, v.MaxScore)))
	pdf.Ln(5)

	heading(pdf, tr("Resumo Geral"))
	pdf.MultiCell(0, 8, tr(orNA(v.Summary)), "", "", false)

	// ── Checklist ────────────────────────────────────────────────────────────
	pdf.AddPage()
	heading(pdf, tr("Checklist Técnico"))
	pdf.Ln(3)
	for _, it := range v.Items {
		pdf.SetFont("Arial", "B", 12)
		title := fmt.Sprintf("%s (%d pts)", it.Criterion, it.Points)
		if it.Number > 0 {
			title = fmt.Sprintf("%d. %s", it.Number, title)
		}
		pdf.MultiCell(0, 8, tr(title), "", "", false)
		pdf.SetFont("Arial", "", 12)
		line(pdf, tr("Resposta: "+it.Answer))
		pdf.MultiCell(0, 8, tr("Justificativa: "+it.Justification), "", "", false)
		pdf.Ln(3)
	}

	// ── Transcript ───────────────────────────────────────────────────────────
	pdf.AddPage()
	heading(pdf, tr("Transcrição da Ligação"))
	pdf.SetFont("Arial", "", 10)
	pdf.MultiCell(0, 6, tr(v.Transcript), "", "", false)

	if err := pdf.Output(w); err != nil {
		return fmt.Errorf("report: render pdf: %w", err)
	}
	return nil
}

func heading(pdf *fpdf.Fpdf, text string) {
	pdf.SetFont("Arial", "B", 14)
	line(pdf, text)
	pdf.SetFont("Arial", "", 12)
}

func line(pdf *fpdf.Fpdf, text string) {
	pdf.CellFormat(0, 10, text, "", 1, "", false, 0, "")
}
