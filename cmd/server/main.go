// Command server runs the quotagate admission-control gateway.
//
// Configuration is read from a YAML file, a .env file and QUOTAGATE_*
// environment variables; see package config for the full list.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kong"

	"github.com/rhuss/quotagate/pkg/config"
	"github.com/rhuss/quotagate/pkg/debug"
)

var cli struct {
	Config string `short:"c" help:"Path to the YAML config file." type:"path" env:"QUOTAGATE_CONFIG"`
}

func main() {
	kong.Parse(&cli,
		kong.Name("quotagate"),
		kong.Description("Tiered quota and admission-control gateway."),
	)

	if err := run(); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load(cli.Config)
	if err != nil {
		return err
	}

	debug.Init(debug.Options{
		Categories: cfg.Observability.Debug,
		Level:      cfg.Observability.LogLevel,
		Format:     cfg.Observability.LogFormat,
	})
	logger := slog.Default()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := newApp(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("starting gateway: %w", err)
	}
	defer app.Close()

	logger.Info("quotagate configured",
		"store", cfg.Store.Type,
		"auth", cfg.Auth.Type,
		"downstream", cfg.Downstream.URL,
		"routes", len(app.routes),
	)
	return app.Run(ctx)
}
