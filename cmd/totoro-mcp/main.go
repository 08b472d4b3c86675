package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/ent0n29/totoro/internal/app"
	"github.com/ent0n29/totoro/internal/config"
	"github.com/ent0n29/totoro/internal/logging"
	"github.com/ent0n29/totoro/internal/mcpserver"
)

var version = "dev"

func main() {
	configPath := flag.String("config", "", "optional YAML config file")
	flag.Parse()

	_ = godotenv.Load()

	var (
		cfg config.Config
		err error
	)
	if *configPath != "" {
		cfg, err = config.LoadFile(*configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}

	// stdout carries the protocol; logs go to stderr as JSON.
	log, err := logging.New(cfg.LogLevel, "json", os.Stderr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logging error: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	core, err := app.BuildCore(ctx, cfg, log, nil)
	if err != nil {
		log.Error().Err(err).Msg("init failed")
		os.Exit(1)
	}
	defer core.Archive.Close()

	srv := mcpserver.NewServer(mcpserver.Config{ServerName: "totoro", ServerVersion: version},
		core.Registry, core.Processor, cfg.DefaultRoom, logging.Module(log, "mcp"))
	if err := srv.Run(ctx); err != nil && ctx.Err() == nil {
		log.Error().Err(err).Msg("mcp server stopped")
		os.Exit(1)
	}
}
