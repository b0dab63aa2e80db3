package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/markdave123-py/sopassistant/internal/app"
	"github.com/markdave123-py/sopassistant/internal/config"
	"github.com/markdave123-py/sopassistant/internal/logging"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	log := logging.New(cfg.LogLevel, cfg.LogFormat)

	application, err := app.NewApp(ctx, cfg, log)
	if err != nil {
		log.Error(ctx, "startup failed", "err", err)
		os.Exit(1)
	}
	defer application.Close()

	log.Info(ctx, "sop assistant starting", "port", cfg.Port)
	if err := application.Run(ctx); err != nil {
		log.Error(ctx, "server stopped", "err", err)
		application.Close()
		os.Exit(1)
	}
	log.Info(ctx, "shutdown complete")
}
