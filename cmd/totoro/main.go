package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"github.com/ent0n29/totoro/internal/app"
	"github.com/ent0n29/totoro/internal/config"
	"github.com/ent0n29/totoro/internal/logging"
	"github.com/ent0n29/totoro/internal/session"
)

func main() {
	configPath := flag.String("config", "", "optional YAML config file")
	mode := flag.String("mode", "", "override mode: wake or text")
	flag.Parse()

	_ = godotenv.Load()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}
	if *mode != "" {
		cfg.Mode = *mode
	}

	log, err := logging.New(cfg.LogLevel, cfg.LogFormat, os.Stderr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logging error: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error().Err(err).Msg("exiting")
		os.Exit(1)
	}
}

func loadConfig(path string) (config.Config, error) {
	if strings.TrimSpace(path) == "" {
		return config.Load()
	}
	return config.LoadFile(path)
}

func run(ctx context.Context, cfg config.Config, log zerolog.Logger) error {
	built, err := app.Build(ctx, cfg, log, os.Stdin)
	if err != nil {
		return err
	}
	defer func() {
		if err := built.Cleanup(); err != nil {
			log.Warn().Err(err).Msg("cleanup failed")
		}
	}()

	var httpServer *http.Server
	if cfg.BindAddr != "" {
		httpServer = &http.Server{Addr: cfg.BindAddr, Handler: built.API.Router()}
		go func() {
			log.Info().Str("addr", cfg.BindAddr).Msg("server listening")
			if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error().Err(err).Msg("listen error")
			}
		}()
	}

	if err := built.Controller.Warmup(ctx, built.Engine.Preload); err != nil {
		log.Warn().Err(err).Msg("speech model not loaded, will retry on first reply")
	}
	log.Info().Str("mode", cfg.Mode).Str("wake_word", cfg.WakeWord).Msg("totoro ready")

	switch cfg.Mode {
	case "text":
		textLoop(ctx, built, log)
	default:
		wakeLoop(ctx, built, cfg, log)
	}

	if httpServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.ShutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("graceful shutdown failed")
			_ = httpServer.Close()
		}
	}
	log.Info().Msg("shutdown complete")
	return nil
}

func wakeLoop(ctx context.Context, built *app.BuildResult, cfg config.Config, log zerolog.Logger) {
	for ctx.Err() == nil {
		out := built.Controller.StartWakeSession(ctx, cfg.RecognitionTimeout())
		switch {
		case errors.Is(out.Err, io.EOF):
			return
		case out.Status == session.OutcomeNoWake:
			continue
		}
		logOutcome(log, out)
	}
}

func textLoop(ctx context.Context, built *app.BuildResult, log zerolog.Logger) {
	for {
		line, err := built.Recognizer.Next(ctx)
		if err != nil {
			return
		}
		if strings.TrimSpace(line) == "" {
			continue
		}
		out := built.Controller.DispatchText(ctx, line)
		logOutcome(log, out)
		if out.Result != nil {
			fmt.Fprintln(os.Stdout, out.Result.ResponseText)
		}
	}
}

func logOutcome(log zerolog.Logger, out session.Outcome) {
	ev := log.Info()
	if out.Status == session.OutcomeFailed {
		ev = log.Warn().Err(out.Err)
	}
	ev = ev.Str("session_id", out.SessionID).Str("status", string(out.Status))
	if out.Result != nil {
		ev = ev.Str("kind", string(out.Result.Kind)).Int("tasks", len(out.Result.Tasks)).Int("tool_calls", len(out.Result.ToolCalls))
	}
	ev.Msg("session finished")
}
