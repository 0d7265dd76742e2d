// Command logqueue runs the log-processing API server, the queue worker, or both.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"
)

// Build variables - set by ldflags during build.
var (
	version   = "dev"
	commit    = "unknown"
	buildTime = "unknown"
)

func main() {
	var (
		configPath  string
		mode        string
		showVersion bool
	)
	flag.StringVar(&configPath, "config", "", "optional config file (yaml, json or toml)")
	flag.StringVar(&mode, "mode", "all", "process mode: server, worker or all")
	flag.BoolVar(&showVersion, "version", false, "print version information")
	flag.Parse()

	if showVersion {
		fmt.Printf("logqueue %s (commit %s, built %s)\n", version, commit, buildTime)
		return
	}

	cfg, err := loadConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}
	logger, err := newLogger(os.Stderr, cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error configuring logger: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("shutting down", "deadline", cfg.ShutdownDeadline)
		cancel()

		deadline := time.NewTimer(cfg.ShutdownDeadline)
		defer deadline.Stop()
		select {
		case <-sigCh:
			logger.Warn("forced shutdown")
		case <-deadline.C:
			logger.Warn("shutdown timed out, forcing exit")
		}
		os.Exit(1)
	}()

	if err := run(ctx, cfg, mode, logger); err != nil {
		logger.Error("exited with error", "error", err)
		os.Exit(1)
	}
	signal.Stop(sigCh)
}
