package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/dgallion1/pdftrans/internal/app"
	"github.com/dgallion1/pdftrans/internal/config"
	"github.com/dgallion1/pdftrans/internal/logger"
)

func main() {
	cfg, err := config.Load(nil)
	log := logger.NewJSON(os.Stdout, logger.ParseLevel(cfg.LogLevel))
	if err != nil {
		log.Error("loading configuration", "error", err)
		os.Exit(1)
	}
	if err := cfg.ValidateServer(); err != nil {
		log.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := app.Serve(ctx, cfg, log); err != nil {
		log.Error("server error", "error", err)
		os.Exit(1)
	}
}
