package main

import (
	"context"
	"flag"
	"fmt"
	"log"

	"paperTrader/config"
	"paperTrader/internal/adapters/binanceclient"
	"paperTrader/internal/adapters/jsonimport"
	"paperTrader/internal/adapters/logger"
	"paperTrader/internal/adapters/sqlite"
	"paperTrader/internal/app"
	"paperTrader/internal/portfolio"
	"paperTrader/internal/ports"
)

func main() {
	filePath := flag.String("file", "trade_history.json", "Path to the legacy trade history JSON file")
	dryRun := flag.Bool("dry-run", false, "Parse and report without writing to the database")
	flag.Parse()

	// 1. Load Configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("FATAL: Failed to load configuration: %v", err) // Use standard log before logger is ready
	}

	// 2. Initialize Logger
	var appLogger ports.Logger
	if cfg.LogFormat == "json" {
		appLogger = logger.NewZeroLogger(cfg.LogLevel)
	} else {
		appLogger = logger.NewStdLogger(cfg.LogLevel)
	}
	ctx := context.Background()

	// 3. Parse the legacy file
	importer, err := jsonimport.NewImporter(appLogger)
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize importer: %v", err)
	}
	trades, err := importer.ImportFile(ctx, *filePath)
	if err != nil {
		appLogger.Error(ctx, err, "FATAL: Failed to parse trade history file")
		log.Fatalf("FATAL: Failed to parse trade history file: %v", err)
	}
	if *dryRun {
		fmt.Printf("Dry run: %d trades would be imported from %s\n", len(trades), *filePath)
		return
	}

	// 4. Initialize storage and exchange client
	repo, err := sqlite.NewRepository(sqlite.Config{DBPath: cfg.DBPath, Logger: appLogger})
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize SQLite repository: %v", err)
	}
	defer repo.Close()

	binanceClient, err := binanceclient.New(binanceclient.Config{
		APIKey:     cfg.APIKey,
		SecretKey:  cfg.SecretKey,
		UseTestnet: cfg.IsTestnet,
		Logger:     appLogger,
		Timeout:    cfg.PriceTimeout,
	})
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize Binance client: %v", err)
	}

	// 5. Assemble the accounting engine
	tracker, err := portfolio.NewTracker(repo, repo.Realized(), repo.Exclusions(), binanceClient, appLogger)
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize position tracker: %v", err)
	}
	if err := tracker.Load(ctx); err != nil {
		log.Fatalf("FATAL: Failed to load position state: %v", err)
	}
	calculator, err := portfolio.NewCalculator(repo, tracker, binanceClient, appLogger)
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize PnL calculator: %v", err)
	}
	aggregator, err := portfolio.NewAggregator(tracker, repo, repo.Realized(), repo, appLogger)
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize analytics aggregator: %v", err)
	}
	service, err := app.NewPortfolioService(cfg, appLogger, binanceClient, repo, repo.Realized(), repo.Exclusions(), tracker, calculator, aggregator)
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize portfolio service: %v", err)
	}

	// 6. Replay trades through the service so position state stays consistent
	imported, failed := 0, 0
	for _, trade := range trades {
		if err := service.RecordTrade(ctx, trade); err != nil {
			appLogger.Warn(ctx, "Skipping trade that failed to import", map[string]interface{}{
				"symbol": trade.Symbol, "timestamp": trade.Timestamp, "error": err.Error(),
			})
			failed++
			continue
		}
		imported++
	}

	fmt.Printf("Imported %d trades from %s (%d failed)\n", imported, *filePath, failed)
}
