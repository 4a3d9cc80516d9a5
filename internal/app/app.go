// Package app wires configuration into a runnable pipeline and server.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/dgallion1/pdftrans/internal/api"
	"github.com/dgallion1/pdftrans/internal/chunker"
	"github.com/dgallion1/pdftrans/internal/config"
	"github.com/dgallion1/pdftrans/internal/extractor"
	"github.com/dgallion1/pdftrans/internal/jobs"
	"github.com/dgallion1/pdftrans/internal/ocr"
	"github.com/dgallion1/pdftrans/internal/pipeline"
	"github.com/dgallion1/pdftrans/internal/render"
	"github.com/dgallion1/pdftrans/internal/storage"
	"github.com/dgallion1/pdftrans/internal/translate"
)

// Version is the release version, overridable at build time via
// -ldflags "-X github.com/dgallion1/pdftrans/internal/app.Version=...".
var Version = "0.1.0"

// Pipeline is a configured pipeline with the resources it owns.
type Pipeline struct {
	*pipeline.Pipeline
	Translator *translate.Client
	close      func()
}

// Close releases the translation backend.
func (p *Pipeline) Close() {
	if p.close != nil {
		p.close()
	}
}

// NewService builds the translation backend named by cfg.Backend.
func NewService(ctx context.Context, cfg config.Config) (translate.Service, func(), error) {
	switch cfg.Backend {
	case config.BackendGemini:
		svc, err := translate.NewGeminiService(ctx, cfg.TranslateKey, cfg.TranslateModel, cfg.RequestTimeout)
		if err != nil {
			return nil, nil, err
		}
		return svc, func() { _ = svc.Close() }, nil
	case config.BackendHTTP:
		svc := translate.NewHTTPService(cfg.TranslateURL, cfg.TranslateKey, cfg.RequestTimeout)
		return svc, svc.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown backend %q", cfg.Backend)
	}
}

// NewExtractor builds the extractor, with the OCR fallback when enabled.
func NewExtractor(cfg config.Config, log *slog.Logger) *extractor.Extractor {
	opts := extractor.DefaultOptions()
	opts.Language = cfg.SourceLang
	opts.Thresholds = cfg.Layout
	if cfg.MinTextDensity > 0 {
		opts.MinTextDensity = cfg.MinTextDensity
	}
	if cfg.OCREnabled {
		opts.OCR = ocr.NewTesseract(cfg.TesseractPath)
		opts.Rasterizer = &ocr.Poppler{Path: cfg.PdftoppmPath}
		opts.OCRDPI = cfg.OCRDPI
	}
	opts.Log = log
	return extractor.New(opts)
}

// NewRenderer builds the PDF builder.
func NewRenderer(cfg config.Config, log *slog.Logger) *render.Builder {
	opts := render.DefaultOptions()
	opts.FontPath = cfg.FontPath
	opts.BoldFontPath = cfg.BoldFontPath
	opts.Watermark = cfg.Watermark
	opts.IndentStep = cfg.Layout.IndentStep
	opts.Log = log
	return render.New(opts)
}

// NewPipeline wires every stage from cfg.
func NewPipeline(ctx context.Context, cfg config.Config, log *slog.Logger) (*Pipeline, error) {
	svc, closeSvc, err := NewService(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("translation backend: %w", err)
	}
	client := translate.NewClient(svc, translate.Config{
		MaxInFlight: cfg.MaxInFlight,
		MaxAttempts: cfg.MaxAttempts,
		BaseDelay:   cfg.BaseDelay,
		MaxDelay:    cfg.MaxDelay,
		QPS:         cfg.QPS,
	}, log, translate.NewLatencyStats(cfg.StatsWindow))

	p := pipeline.New(
		NewExtractor(cfg, log),
		client,
		NewRenderer(cfg, log),
		chunker.Config{Limit: cfg.CharLimit},
		log,
	)
	return &Pipeline{Pipeline: p, Translator: client, close: closeSvc}, nil
}

// Serve runs the HTTP API until ctx is cancelled, then drains the workers.
func Serve(ctx context.Context, cfg config.Config, log *slog.Logger) error {
	p, err := NewPipeline(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer p.Close()

	var store jobs.Storage
	var storeClient *storage.Client
	if cfg.StorageEnabled() {
		storeClient = storage.NewClient(cfg.StorageURL, cfg.StorageKey, cfg.MaxUploadBytes)
		defer storeClient.Close()
		store = storeClient
	}
	resultBucket := ""
	if store != nil {
		resultBucket = cfg.ResultBucket
	}

	orch := jobs.NewOrchestrator(jobs.Config{
		Workers:      cfg.WorkerCount,
		QueueSize:    cfg.MaxQueueSize,
		TTL:          cfg.JobTTL,
		ResultBucket: resultBucket,
	}, p, store, log)
	orch.Start(ctx)

	srv := api.NewServer(orch, p.Translator.Stats(), log, api.Options{
		APIKey:         cfg.APIKey,
		Version:        Version,
		MaxUploadBytes: cfg.MaxUploadBytes,
		SourceLang:     cfg.SourceLang,
		TargetLang:     cfg.TargetLang,
		RemoteEnabled:  store != nil,
		SourceBucket:   cfg.SourceBucket,
	})

	httpServer := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      srv,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("starting pdftrans", "port", cfg.Port, "version", Version, "backend", cfg.Backend, "storage", store != nil)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		log.Info("shutting down...")
	case err := <-errCh:
		orch.Stop()
		return fmt.Errorf("server error: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err = httpServer.Shutdown(shutdownCtx)
	orch.Stop()
	return err
}
