// Package main is the entry point for sessiond, a process supervision core
// exposed as a line-framed JSON-RPC 2.0 server over stdio.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/kdlbs/sessiond/internal/config"
	"github.com/kdlbs/sessiond/internal/coordinator"
	"github.com/kdlbs/sessiond/internal/corelog"
	"github.com/kdlbs/sessiond/internal/portalloc"
	"github.com/kdlbs/sessiond/internal/rpcloop"
)

var (
	configFlag    = flag.String("config", "", "path to a YAML configuration file")
	logLevelFlag  = flag.String("log-level", "info", "log level (debug, info, warn, error)")
	logFormatFlag = flag.String("log-format", "", "log format (console, json); empty auto-detects")
)

func main() {
	flag.Parse()

	cfg, err := config.Load(*configFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logCfg := corelog.Config{
		Level:      getEnvOrFlag("SESSIOND_LOG_LEVEL", *logLevelFlag),
		Format:     getEnvOrFlag("SESSIOND_LOG_FORMAT", *logFormatFlag),
		OutputPath: "stderr",
	}
	if logCfg.Format == "" {
		logCfg.Format = cfg.Logging.Format
	}
	log, err := corelog.New(logCfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()
	corelog.SetDefault(log)

	log.Info("starting sessiond",
		zap.Int("port_range_min", cfg.Ports.RangeMin),
		zap.Int("port_range_max", cfg.Ports.RangeMax),
		zap.String("app_data_dir", cfg.Paths.AppDataDir))

	run(cfg, log)
}

func run(cfg config.Config, log *corelog.Logger) {
	ports := portalloc.New(log, cfg.Ports.RangeMin, cfg.Ports.RangeMax, cfg.Ports.KnownCommon)
	coord := coordinator.New(log, ports, cfg.Paths.AppDataDir)
	if err := coord.Start(); err != nil {
		log.Error("failed to start coordinator", zap.Error(err))
		os.Exit(1)
	}

	loop := rpcloop.New(log, os.Stdout)
	rpcloop.RegisterProtocol(loop, rpcloop.ServerInfo{Name: cfg.Server.Name, Version: cfg.Server.Version})
	rpcloop.RegisterTools(loop, coord)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- loop.Run(ctx, os.Stdin) }()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-done:
		if err != nil {
			log.Error("rpc loop exited with error", zap.Error(err))
		}
	case <-quit:
		log.Info("shutting down sessiond...")
		cancel()
		<-done
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := coord.CleanupAll(shutdownCtx); err != nil {
		log.Error("error during cleanup", zap.Error(err))
	}

	log.Info("sessiond stopped")
}

func getEnvOrFlag(envKey, flagValue string) string {
	if v := os.Getenv(envKey); v != "" {
		return v
	}
	return flagValue
}
