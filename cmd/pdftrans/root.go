package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/dgallion1/pdftrans/internal/app"
	"github.com/dgallion1/pdftrans/internal/config"
	"github.com/dgallion1/pdftrans/internal/ocr"
)

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "pdftrans",
		Short:        "Translate PDF documents while preserving their structure",
		SilenceUsage: true,
	}
	cmd.Version = app.Version
	cmd.SetVersionTemplate("pdftrans {{.Version}}\n")

	cmd.AddCommand(
		newTranslateCmd(),
		newExtractCmd(),
		newServeCmd(),
	)
	return cmd
}

// Flag names match the configuration keys so config.Load can bind them;
// the defaults shown here are informational and mirror config's own.
func addExtractFlags(fs *pflag.FlagSet) {
	fs.SetNormalizeFunc(languageAliases)
	fs.StringP("source-lang", "s", "gu", "Source language (BCP-47)")
	fs.Bool("ocr", true, "Fall back to OCR for scanned pages")
	fs.Int("ocr-dpi", 200, "Rasterization resolution for OCR")
	fs.String("tesseract-path", "tesseract", "Path to the tesseract binary")
	fs.String("pdftoppm-path", "pdftoppm", "Path to the pdftoppm binary")
	fs.String("log-level", "info", "Log level (debug, info, warn, error)")
}

func addTranslateFlags(fs *pflag.FlagSet) {
	addExtractFlags(fs)
	fs.StringP("target-lang", "t", "en", "Target language (BCP-47)")
	fs.String("backend", config.BackendHTTP, "Translation backend (http or gemini)")
	fs.String("translate-url", "", "Base URL of the http translation backend")
	fs.String("translate-model", "gemini-2.0-flash", "Model name for the gemini backend")
	fs.Int("char-limit", 1000, "Maximum characters per translation request")
	fs.Int("max-in-flight", 4, "Concurrent translation requests")
	fs.Int("max-attempts", 3, "Attempts per chunk before it is left untranslated")
	fs.Float64("qps", 2, "Request starts per second (0 disables spacing)")
	fs.String("font", "", "UTF-8 TrueType font for the output")
	fs.String("bold-font", "", "Bold variant of --font")
	fs.String("watermark", "", "Watermark stamped on every output page")
}

// languageAliases accepts --from and --to for the language flags.
func languageAliases(_ *pflag.FlagSet, name string) pflag.NormalizedName {
	switch name {
	case "from":
		name = "source-lang"
	case "to":
		name = "target-lang"
	}
	return pflag.NormalizedName(name)
}

// loadConfig resolves configuration from the environment and the flags the
// user set. Missing OCR binaries downgrade to text-layer extraction.
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	cfg, err := config.Load(cmd.Flags())
	if err != nil {
		return config.Config{}, err
	}
	if cfg.OCREnabled {
		if err := ocr.Available(cfg.TesseractPath, cfg.PdftoppmPath); err != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "Warning: OCR disabled: %v\n", err)
			cfg.OCREnabled = false
		}
	}
	return cfg, nil
}

