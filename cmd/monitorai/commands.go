package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/MrWong99/monitorai/internal/config"
	"github.com/MrWong99/monitorai/internal/evaluate"
	"github.com/MrWong99/monitorai/internal/reference"
	"github.com/MrWong99/monitorai/internal/reference/postgres"
	"github.com/MrWong99/monitorai/internal/report"
	"github.com/MrWong99/monitorai/internal/rubric"
)

// ── evaluate ──────────────────────────────────────────────────────────────────

// evaluateFiles grades each file and writes a PDF and an HTML report next to
// each other in the output directory. Files ending in .txt are read as
// transcripts; anything else is transcribed. It returns 1 if any evaluation
// failed.
func evaluateFiles(ctx context.Context, cfg *config.Config, level *slog.LevelVar, args []string) int {
	fs := flag.NewFlagSet("evaluate", flag.ContinueOnError)
	outDir := fs.String("out", ".", "directory for the generated reports")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	files := fs.Args()
	if len(files) == 0 {
		fmt.Fprintln(os.Stderr, "monitorai: evaluate needs at least one file")
		return 2
	}
	if err := os.MkdirAll(*outDir, 0o755); err != nil {
		slog.Error("failed to create output directory", "dir", *outDir, "err", err)
		return 1
	}

	application, err := newApp(ctx, cfg, level)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		_ = application.Shutdown(shutdownCtx)
	}()

	inputs, closeInputs, err := openInputs(files)
	if err != nil {
		slog.Error("failed to open input", "err", err)
		return 1
	}
	defer closeInputs()

	progress := func(e evaluate.Event) {
		slog.Debug("evaluation progress", "evaluation_id", e.EvaluationID, "stage", e.Stage, "message", e.Message)
	}
	outcomes := application.Pipeline().Batch(ctx, inputs, cfg.Batch.Concurrency, progress)

	for i, o := range outcomes {
		if o.Err != nil {
			fmt.Fprintf(os.Stderr, "%s: FAILED: %v\n", files[i], o.Err)
			continue
		}
		if err := writeReports(*outDir, files[i], o.Result); err != nil {
			fmt.Fprintf(os.Stderr, "%s: write report: %v\n", files[i], err)
			o.Err = err
			outcomes[i] = o
			continue
		}
		cal := "uncalibrated"
		if sum := o.Result.CalibrationSummary(); sum.Applied {
			cal = fmt.Sprintf("calibrated with %d cases", len(sum.Matches))
		}
		fmt.Printf("%s: %d/%d (%s)\n", files[i], o.Result.Evaluation.TotalScore, rubric.MaxScore, cal)
	}

	if n := evaluate.Failed(outcomes); n > 0 {
		slog.Error("batch finished with failures", "failed", n, "total", len(outcomes))
		return 1
	}
	return 0
}

// openInputs turns file paths into pipeline inputs. The returned func closes
// every opened audio file.
func openInputs(files []string) ([]evaluate.Input, func(), error) {
	var closers []io.Closer
	closeAll := func() {
		for _, c := range closers {
			_ = c.Close()
		}
	}

	inputs := make([]evaluate.Input, 0, len(files))
	for _, path := range files {
		in := evaluate.Input{FileName: filepath.Base(path)}
		if strings.EqualFold(filepath.Ext(path), ".txt") {
			data, err := os.ReadFile(path)
			if err != nil {
				closeAll()
				return nil, nil, err
			}
			in.Transcript = string(data)
		} else {
			f, err := os.Open(path)
			if err != nil {
				closeAll()
				return nil, nil, err
			}
			closers = append(closers, f)
			in.Audio = f
			in.ContentType = mime.TypeByExtension(filepath.Ext(path))
		}
		inputs = append(inputs, in)
	}
	return inputs, closeAll, nil
}

// writeReports writes <stem>.pdf and <stem>.html for the input file.
func writeReports(dir, input string, r *evaluate.Result) error {
	stem := strings.TrimSuffix(filepath.Base(input), filepath.Ext(input))
	write := func(name string, render func(io.Writer, *evaluate.Result) error) error {
		f, err := os.Create(filepath.Join(dir, name))
		if err != nil {
			return err
		}
		if err := render(f, r); err != nil {
			_ = f.Close()
			return err
		}
		return f.Close()
	}
	return errors.Join(
		write(stem+".pdf", report.PDF),
		write(stem+".html", report.HTML),
	)
}

// ── import-references ─────────────────────────────────────────────────────────

// importReferences loads a snapshot file and upserts it into the Postgres
// table named by reference.table.
func importReferences(ctx context.Context, cfg *config.Config, args []string) int {
	fs := flag.NewFlagSet("import-references", flag.ContinueOnError)
	snapshot := fs.String("snapshot", "", "JSON or YAML reference snapshot to import")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *snapshot == "" {
		fmt.Fprintln(os.Stderr, "monitorai: import-references needs -snapshot")
		return 2
	}
	if cfg.Reference.PostgresDSN == "" {
		fmt.Fprintln(os.Stderr, "monitorai: reference.postgres_dsn is not configured")
		return 1
	}

	store, err := reference.FileSource{Path: *snapshot}.Load(ctx)
	if err != nil {
		slog.Error("failed to load snapshot", "path", *snapshot, "err", err)
		return 1
	}
	for _, issue := range store.Lint() {
		slog.Warn("reference: "+issue.Message, "case_id", issue.CaseID)
	}
	if store.Len() == 0 {
		slog.Warn("snapshot has no cases, nothing to import", "path", *snapshot)
		return 0
	}

	pool, err := postgres.Connect(ctx, cfg.Reference.PostgresDSN)
	if err != nil {
		slog.Error("failed to connect to postgres", "err", err)
		return 1
	}
	defer pool.Close()

	src := postgres.NewSource(pool, postgres.WithTable(cfg.Reference.Table))
	if err := src.Migrate(ctx, store.Dimensions()); err != nil {
		slog.Error("failed to migrate reference table", "table", cfg.Reference.Table, "err", err)
		return 1
	}
	n, err := src.Import(ctx, store)
	if err != nil {
		slog.Error("failed to import references", "err", err)
		return 1
	}
	slog.Info("references imported", "rows", n, "table", cfg.Reference.Table, "dimensions", store.Dimensions())
	return 0
}
