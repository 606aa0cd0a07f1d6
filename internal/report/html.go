package report

import (
	"embed"
	"fmt"
	"html/template"
	"io"

	"github.com/MrWong99/monitorai/internal/evaluate"
)

//go:embed templates/*.html
var templateFS embed.FS

var pageTemplate = template.Must(template.New("report.html").Funcs(template.FuncMap{
	"orNA": orNA,
}).ParseFS(templateFS, "templates/report.html"))

// HTML writes a self-contained HTML report for r to w.
func HTML(w io.Writer, r *evaluate.Result) error {
	if err := pageTemplate.Execute(w, newView(r)); err != nil {
		return fmt.Errorf("report: render html: %w", err)
	}
	return nil
}
