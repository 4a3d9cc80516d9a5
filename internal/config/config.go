// Package config resolves settings from defaults, PDFTRANS_* environment
// variables and command-line flags, in increasing precedence.
package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/dgallion1/pdftrans/internal/chunker"
	"github.com/dgallion1/pdftrans/internal/layout"
)

// EnvPrefix is prepended to every environment variable, e.g. PDFTRANS_PORT.
const EnvPrefix = "PDFTRANS"

const (
	BackendHTTP   = "http"
	BackendGemini = "gemini"
)

type Config struct {
	Port     string
	APIKey   string // Bearer key for the HTTP API.
	LogLevel string

	// Translation service
	Backend        string
	TranslateURL   string
	TranslateKey   string
	TranslateModel string
	SourceLang     string
	TargetLang     string
	CharLimit      int
	MaxInFlight    int
	MaxAttempts    int
	BaseDelay      time.Duration
	MaxDelay       time.Duration
	RequestTimeout time.Duration
	QPS            float64

	// OCR fallback
	OCREnabled    bool
	OCRDPI        int
	TesseractPath string
	PdftoppmPath  string

	Layout         layout.Thresholds
	MinTextDensity float64

	// Output
	FontPath     string
	BoldFontPath string
	Watermark    string

	// Worker pool
	WorkerCount    int
	MaxQueueSize   int
	JobTTL         time.Duration
	MaxUploadBytes int64

	// Object storage and job rows
	StorageURL   string
	StorageKey   string
	SourceBucket string
	ResultBucket string
	StatsWindow  time.Duration
}

func setDefaults(v *viper.Viper) {
	th := layout.DefaultThresholds()

	v.SetDefault("port", "8090")
	v.SetDefault("api-key", "")
	v.SetDefault("log-level", "info")

	v.SetDefault("backend", BackendHTTP)
	v.SetDefault("translate-url", "")
	v.SetDefault("translate-key", "")
	v.SetDefault("translate-model", "gemini-2.0-flash")
	v.SetDefault("source-lang", "gu")
	v.SetDefault("target-lang", "en")
	v.SetDefault("char-limit", chunker.DefaultConfig().Limit)
	v.SetDefault("max-in-flight", 4)
	v.SetDefault("max-attempts", 3)
	v.SetDefault("base-delay", time.Second)
	v.SetDefault("max-delay", 30*time.Second)
	v.SetDefault("request-timeout", 30*time.Second)
	v.SetDefault("qps", 2.0)

	v.SetDefault("ocr", true)
	v.SetDefault("ocr-dpi", 200)
	v.SetDefault("tesseract-path", "tesseract")
	v.SetDefault("pdftoppm-path", "pdftoppm")

	v.SetDefault("heading-ratio", th.HeadingRatio)
	v.SetDefault("line-gap-tolerance", th.LineGapTolerance)
	v.SetDefault("margin-tolerance", th.MarginTolerance)
	v.SetDefault("indent-step", th.IndentStep)
	v.SetDefault("column-tolerance", th.ColumnTolerance)
	v.SetDefault("min-table-rows", th.MinTableRows)
	v.SetDefault("keyword-headings", th.KeywordHeadings)
	v.SetDefault("min-text-density", 1.0)

	v.SetDefault("font", "")
	v.SetDefault("bold-font", "")
	v.SetDefault("watermark", "")

	v.SetDefault("workers", 4)
	v.SetDefault("queue-size", 100)
	v.SetDefault("job-ttl", time.Hour)
	v.SetDefault("max-upload-bytes", int64(50<<20))

	v.SetDefault("storage-url", "")
	v.SetDefault("storage-key", "")
	v.SetDefault("source-bucket", "uploads")
	v.SetDefault("result-bucket", "translations")
	v.SetDefault("stats-window", time.Hour)
}

// Load resolves the configuration. Flags in fs, when non-nil, override the
// environment; only flags the user actually set take effect.
func Load(fs *pflag.FlagSet) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if fs != nil {
		if err := v.BindPFlags(fs); err != nil {
			return Config{}, fmt.Errorf("bind flags: %w", err)
		}
	}

	th := layout.DefaultThresholds()
	th.HeadingRatio = v.GetFloat64("heading-ratio")
	th.LineGapTolerance = v.GetFloat64("line-gap-tolerance")
	th.MarginTolerance = v.GetFloat64("margin-tolerance")
	th.IndentStep = v.GetFloat64("indent-step")
	th.ColumnTolerance = v.GetFloat64("column-tolerance")
	th.MinTableRows = v.GetInt("min-table-rows")
	th.KeywordHeadings = v.GetBool("keyword-headings")

	cfg := Config{
		Port:     v.GetString("port"),
		APIKey:   v.GetString("api-key"),
		LogLevel: strings.ToLower(v.GetString("log-level")),

		Backend:        strings.ToLower(v.GetString("backend")),
		TranslateURL:   v.GetString("translate-url"),
		TranslateKey:   v.GetString("translate-key"),
		TranslateModel: v.GetString("translate-model"),
		SourceLang:     v.GetString("source-lang"),
		TargetLang:     v.GetString("target-lang"),
		CharLimit:      v.GetInt("char-limit"),
		MaxInFlight:    v.GetInt("max-in-flight"),
		MaxAttempts:    v.GetInt("max-attempts"),
		BaseDelay:      v.GetDuration("base-delay"),
		MaxDelay:       v.GetDuration("max-delay"),
		RequestTimeout: v.GetDuration("request-timeout"),
		QPS:            v.GetFloat64("qps"),

		OCREnabled:    v.GetBool("ocr"),
		OCRDPI:        v.GetInt("ocr-dpi"),
		TesseractPath: v.GetString("tesseract-path"),
		PdftoppmPath:  v.GetString("pdftoppm-path"),

		Layout:         th,
		MinTextDensity: v.GetFloat64("min-text-density"),

		FontPath:     v.GetString("font"),
		BoldFontPath: v.GetString("bold-font"),
		Watermark:    v.GetString("watermark"),

		WorkerCount:    v.GetInt("workers"),
		MaxQueueSize:   v.GetInt("queue-size"),
		JobTTL:         v.GetDuration("job-ttl"),
		MaxUploadBytes: v.GetInt64("max-upload-bytes"),

		StorageURL:   v.GetString("storage-url"),
		StorageKey:   v.GetString("storage-key"),
		SourceBucket: v.GetString("source-bucket"),
		ResultBucket: v.GetString("result-bucket"),
		StatsWindow:  v.GetDuration("stats-window"),
	}
	return cfg, nil
}

// Validate checks the settings every command needs.
func (c Config) Validate() error {
	switch c.Backend {
	case BackendHTTP:
		if c.TranslateURL == "" {
			return errors.New("PDFTRANS_TRANSLATE_URL is required for the http backend")
		}
	case BackendGemini:
		if c.TranslateKey == "" {
			return errors.New("PDFTRANS_TRANSLATE_KEY is required for the gemini backend")
		}
	default:
		return fmt.Errorf("unknown backend %q (must be %s or %s)", c.Backend, BackendHTTP, BackendGemini)
	}
	if c.CharLimit < chunker.MinLimit {
		return fmt.Errorf("char limit %d is below the minimum of %d", c.CharLimit, chunker.MinLimit)
	}
	if c.MaxInFlight < 1 {
		return errors.New("max in-flight requests must be at least 1")
	}
	if c.MaxAttempts < 1 {
		return errors.New("max attempts must be at least 1")
	}
	if c.QPS < 0 {
		return errors.New("qps must not be negative")
	}
	if c.OCREnabled && c.OCRDPI < 72 {
		return fmt.Errorf("ocr dpi %d is below 72", c.OCRDPI)
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log level: %s (must be one of: debug, info, warn, error)", c.LogLevel)
	}
	return nil
}

// ValidateServer adds the checks that only apply to the HTTP server.
func (c Config) ValidateServer() error {
	if err := c.Validate(); err != nil {
		return err
	}
	if c.APIKey == "" {
		return errors.New("PDFTRANS_API_KEY is required")
	}
	if n, err := strconv.Atoi(c.Port); err != nil || n < 1 || n > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %q", c.Port)
	}
	if c.WorkerCount < 1 || c.MaxQueueSize < 1 {
		return errors.New("workers and queue size must be at least 1")
	}
	if c.MaxUploadBytes <= 0 {
		return errors.New("max upload bytes must be positive")
	}
	if (c.StorageURL == "") != (c.StorageKey == "") {
		return errors.New("PDFTRANS_STORAGE_URL and PDFTRANS_STORAGE_KEY must be set together")
	}
	return nil
}

// StorageEnabled reports whether a storage backend is configured.
func (c Config) StorageEnabled() bool {
	return c.StorageURL != "" && c.StorageKey != ""
}
