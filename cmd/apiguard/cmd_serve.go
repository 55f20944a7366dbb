package main

// ---------------------------------------------------------------------------
// cmd_serve.go — run the engine and the operator API
// ---------------------------------------------------------------------------

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/mariia-hub/apiguard/internal/api"
	"github.com/mariia-hub/apiguard/internal/core"
	"github.com/mariia-hub/apiguard/internal/engine"
)

func cmdServe(args []string) {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := fs.String("config", "apiguard.yaml", "path to config file")
	fs.Parse(args)

	cfg, err := core.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, red("error: ")+"loading config: %v\n", err)
		os.Exit(1)
	}

	logBuf := core.NewLogRingBuffer(2000)
	logger := buildLogger(cfg, logBuf)

	eng, err := engine.New(cfg, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, red("error: ")+"building engine: %v\n", err)
		os.Exit(1)
	}
	eng.LogBuffer = logBuf
	if err := eng.Start(); err != nil {
		fmt.Fprintf(os.Stderr, red("error: ")+"starting engine: %v\n", err)
		os.Exit(1)
	}

	server := api.NewServer(eng)
	if err := server.Start(); err != nil {
		fmt.Fprintf(os.Stderr, red("error: ")+"starting API server: %v\n", err)
		os.Exit(1)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info().Str("signal", sig.String()).Msg("shutdown signal received")

	if err := server.Stop(); err != nil {
		logger.Error().Err(err).Msg("stopping API server")
	}
	if err := eng.Shutdown(); err != nil {
		logger.Error().Err(err).Msg("shutting down engine")
	}
}
