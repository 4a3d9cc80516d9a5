package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/dgallion1/pdftrans/internal/app"
	"github.com/dgallion1/pdftrans/internal/logger"
	"github.com/dgallion1/pdftrans/internal/pipeline"
)

type translateOptions struct {
	output      string
	reportPath  string
	comparePath string
	yes         bool
}

func newTranslateCmd() *cobra.Command {
	opts := translateOptions{}
	cmd := &cobra.Command{
		Use:   "translate <input.pdf>",
		Short: "Translate a PDF and write the rebuilt document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTranslate(cmd, args[0], &opts)
		},
		SilenceUsage: true,
	}
	addTranslateFlags(cmd.Flags())
	cmd.Flags().StringVarP(&opts.output, "output", "o", "", "Output PDF (default <input>_translated.pdf)")
	cmd.Flags().StringVar(&opts.reportPath, "report", "", "Write the translation report as JSON to this path")
	cmd.Flags().StringVar(&opts.comparePath, "compare", "", "Also write a side-by-side source/translation PDF to this path")
	cmd.Flags().BoolVarP(&opts.yes, "yes", "y", false, "Overwrite the output file without asking")
	return cmd
}

func runTranslate(cmd *cobra.Command, input string, opts *translateOptions) error {
	output := opts.output
	if output == "" {
		output = defaultOutputPath(input)
	}
	if err := checkPaths(input, output, opts.yes); err != nil {
		return err
	}
	if opts.comparePath != "" {
		if err := checkPaths(input, opts.comparePath, opts.yes); err != nil {
			return fmt.Errorf("compare: %w", err)
		}
		if filepath.Clean(opts.comparePath) == filepath.Clean(output) {
			return errors.New("compare path must differ from output path")
		}
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	log := logger.NewCLI(logger.ParseLevel(cfg.LogLevel))

	data, err := os.ReadFile(input)
	if err != nil {
		return fmt.Errorf("read input: %w", err)
	}

	p, err := app.NewPipeline(cmd.Context(), cfg, log)
	if err != nil {
		return err
	}
	defer p.Close()

	res, err := p.Run(cmd.Context(), pipeline.Input{
		PDF:    data,
		Source: cfg.SourceLang,
		Target: cfg.TargetLang,
	}, progressPrinter(cmd.ErrOrStderr()))
	if err != nil {
		return err
	}

	if err := os.WriteFile(output, res.PDF, 0o644); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	if opts.reportPath != "" {
		if err := writeReport(opts.reportPath, res); err != nil {
			return err
		}
	}
	if opts.comparePath != "" {
		cmp, err := app.NewRenderer(cfg, log).RenderComparison(res.Source, res.Document)
		if err != nil {
			return fmt.Errorf("comparison: %w", err)
		}
		if err := os.WriteFile(opts.comparePath, cmp, 0o644); err != nil {
			return fmt.Errorf("write comparison: %w", err)
		}
	}

	out := cmd.OutOrStdout()
	rep := res.Document.Report
	fmt.Fprintf(out, "Wrote %s (%d page(s), %d chunk(s), %s)\n", output, res.Document.Pages, res.Chunks, res.Duration.Round(time.Millisecond))
	if opts.comparePath != "" {
		fmt.Fprintf(out, "Wrote comparison %s\n", opts.comparePath)
	}
	if rep.Partial() {
		fmt.Fprintf(out, "Warning: %d chunk(s) failed, %d block(s) left untranslated, %d page(s) skipped\n",
			len(rep.FailedChunks), len(rep.UntranslatedBlocks), len(rep.FailedPages))
	}
	return nil
}

func progressPrinter(w io.Writer) pipeline.Emit {
	last := -1
	return func(ev pipeline.Event) {
		pct := ev.Percent()
		if ev.Stage != pipeline.StageError && pct == last {
			return
		}
		last = pct
		switch {
		case ev.Stage == pipeline.StageError:
			fmt.Fprintf(w, "[%3d%%] failed during %s: %s\n", pct, ev.FailedStage, ev.Message)
		case ev.Total > 0:
			fmt.Fprintf(w, "[%3d%%] %s %d/%d\n", pct, ev.Stage, ev.Done, ev.Total)
		case ev.Message != "":
			fmt.Fprintf(w, "[%3d%%] %s\n", pct, ev.Message)
		default:
			fmt.Fprintf(w, "[%3d%%] %s\n", pct, ev.Stage)
		}
	}
}

func writeReport(path string, res *pipeline.Result) error {
	data, err := json.MarshalIndent(map[string]any{
		"run_id":          res.RunID,
		"pages":           res.Document.Pages,
		"source_language": res.Document.SourceLanguage,
		"target_language": res.Document.TargetLanguage,
		"chunks":          res.Chunks,
		"duration_ms":     res.Duration.Milliseconds(),
		"report":          res.Document.Report,
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal report: %w", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	return nil
}

func defaultOutputPath(input string) string {
	ext := filepath.Ext(input)
	return strings.TrimSuffix(input, ext) + "_translated.pdf"
}

func checkPaths(input, output string, overwrite bool) error {
	if !strings.EqualFold(filepath.Ext(input), ".pdf") {
		return fmt.Errorf("unsupported input extension %q", filepath.Ext(input))
	}
	if filepath.Clean(input) == filepath.Clean(output) {
		return errors.New("output path must differ from input path")
	}
	if _, err := os.Stat(input); err != nil {
		return fmt.Errorf("input file: %w", err)
	}
	if !overwrite {
		if _, err := os.Stat(output); err == nil {
			return fmt.Errorf("output file %s already exists (use --yes to overwrite)", output)
		}
	}
	return nil
}
