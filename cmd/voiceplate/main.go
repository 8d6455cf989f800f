package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/voiceplate/voiceplate/pkg/logging"
	"github.com/voiceplate/voiceplate/pkg/runner"
	"github.com/voiceplate/voiceplate/pkg/voiceplate"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the config file")
	flag.Parse()

	cfg, err := voiceplate.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.InitLogger(logging.ParseLevel(cfg.LogLevel), cfg.LogFormat)
	slog.SetDefault(logger)

	engine, err := voiceplate.NewEngine(cfg, logger)
	if err != nil {
		logger.Error("engine_init_failed", slog.Any("error", err))
		os.Exit(1)
	}
	server := voiceplate.NewServer(cfg, engine, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	life := runner.NewLifecycleRunner(server, runner.Hooks{
		OnStart: func() {
			server.Start(ctx)
			logger.Info("voiceplate_started",
				slog.String("environment", cfg.Environment),
				slog.String("addr", cfg.Server.Addr))
		},
		OnStop: func() {
			logger.Info("voiceplate_stopped")
		},
	}, 15*time.Second)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("shutdown_signal", slog.String("signal", sig.String()))
		cancel()
	}()

	if err := life.Run(ctx); err != nil {
		logger.Error("shutdown_error", slog.Any("error", err))
		os.Exit(1)
	}
}
