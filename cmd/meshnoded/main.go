package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"meshnode/internal/meshnode/daemon"
	"meshnode/pkg/config"
	"meshnode/pkg/logger"
)

func main() {
	configPath := flag.String("config", "/etc/meshnode/config.yaml", "path to the daemon configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}

	logger.SetGlobalLevel(logger.ParseLevel(cfg.Logging.Level))
	log := logger.NewWithConfig(logger.Config{Level: logger.ParseLevel(cfg.Logging.Level), Output: os.Stdout})

	d, err := daemon.New(cfg, log)
	if err != nil {
		log.Fatal("failed to start daemon", "error", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := d.Run(ctx); err != nil {
		log.Fatal("daemon failed", "error", err)
	}
}
