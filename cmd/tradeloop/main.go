package main

import (
	"flag"
	"fmt"
	"os"

	"tradeloop/internal/bootstrap"
	"tradeloop/internal/config"
	"tradeloop/internal/logging"
)

var (
	// Version information (set via build flags)
	version   = "dev"
	buildTime = "unknown"
)

func main() {
	configPath := flag.String("config", "configs/tradeloop.yaml", "Path to configuration file")
	showVersion := flag.Bool("version", false, "Show version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("tradeloop version %s (built %s)\n", version, buildTime)
		os.Exit(0)
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.NewZapLogger(cfg.App.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}

	logger.Info("Starting tradeloop",
		"version", version,
		"product_id", cfg.Trading.ProductID,
		"mock_exchange", cfg.Exchange.UseMock,
		"stub_planner", cfg.Planner.StubMode,
	)

	app, err := bootstrap.NewApp(cfg, logger)
	if err != nil {
		logger.Error("Failed to bootstrap application", "error", err)
		os.Exit(1)
	}

	if err := app.Run(); err != nil {
		os.Exit(1)
	}
}
