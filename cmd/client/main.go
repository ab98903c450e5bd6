package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"playlist-sync/internal/config"
	"playlist-sync/internal/shared"

	"github.com/charmbracelet/log"
	"github.com/urfave/cli/v3"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		shared.NewLogger(nil, log.InfoLevel).Fatal(err)
	}
	logger := shared.NewLogger(nil, cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app := &cli.Command{
		Name:  "playlist-sync",
		Usage: "Edit and follow a shared playlist room",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "relay",
				Usage:       "Relay base URL",
				Value:       cfg.RelayURL,
				Destination: &cfg.RelayURL,
			},
			&cli.StringFlag{
				Name:        "room",
				Aliases:     []string{"r"},
				Usage:       "Room to join",
				Value:       cfg.Room,
				Destination: &cfg.Room,
			},
			&cli.StringFlag{
				Name:        "catalog",
				Usage:       "Catalog service base URL",
				Value:       cfg.CatalogURL,
				Destination: &cfg.CatalogURL,
			},
		},
	}

	// flags are parsed before the runner is filled in
	runner := &Runner{}
	app.Commands = runner.register()
	app.Before = func(ctx context.Context, cmd *cli.Command) (context.Context, error) {
		fetcher, err := newCatalog(cfg, logger)
		if err != nil {
			return ctx, err
		}
		*runner = *NewRunner(RunnerOpts{Config: cfg, Logger: logger, Catalog: fetcher})
		return ctx, nil
	}

	if err := app.Run(ctx, os.Args); err != nil {
		logger.Fatalf("application error: %v", err)
	}
}
