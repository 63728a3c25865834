package main

import (
	"context"
	"log" // Use standard log only for initial fatal errors before logger is set up

	"paperTrader/config"
	"paperTrader/internal/adapters/binanceclient"
	"paperTrader/internal/adapters/logger"
	"paperTrader/internal/adapters/sqlite"
	"paperTrader/internal/app"
	"paperTrader/internal/portfolio"
	"paperTrader/internal/ports"
)

func main() {
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
	appLogger.Info(context.Background(), "Logger initialized", map[string]interface{}{
		"level": cfg.LogLevel.String(), "format": cfg.LogFormat,
	})

	// 3. Initialize Repository (Database Adapter)
	repo, err := sqlite.NewRepository(sqlite.Config{
		DBPath: cfg.DBPath,
		Logger: appLogger,
	})
	if err != nil {
		appLogger.Error(context.Background(), err, "FATAL: Failed to initialize database repository")
		log.Fatalf("FATAL: Failed to initialize database repository: %v", err) // Also log to stderr
	}
	defer func() {
		if err := repo.Close(); err != nil {
			appLogger.Error(context.Background(), err, "Error closing database repository")
		}
	}()
	appLogger.Info(context.Background(), "Database repository initialized")

	// 4. Initialize Exchange Client (Binance Adapter)
	binanceClient, err := binanceclient.New(binanceclient.Config{
		APIKey:     cfg.APIKey,
		SecretKey:  cfg.SecretKey,
		UseTestnet: cfg.IsTestnet,
		Logger:     appLogger,
		Timeout:    cfg.PriceTimeout,
	})
	if err != nil {
		appLogger.Error(context.Background(), err, "FATAL: Failed to initialize Binance client")
		log.Fatalf("FATAL: Failed to initialize Binance client: %v", err)
	}
	appLogger.Info(context.Background(), "Binance client initialized")

	// 5. Initialize the Accounting Engine
	tracker, err := portfolio.NewTracker(repo, repo.Realized(), repo.Exclusions(), binanceClient, appLogger)
	if err != nil {
		appLogger.Error(context.Background(), err, "FATAL: Failed to initialize position tracker")
		log.Fatalf("FATAL: Failed to initialize position tracker: %v", err)
	}
	calculator, err := portfolio.NewCalculator(repo, tracker, binanceClient, appLogger)
	if err != nil {
		appLogger.Error(context.Background(), err, "FATAL: Failed to initialize PnL calculator")
		log.Fatalf("FATAL: Failed to initialize PnL calculator: %v", err)
	}
	aggregator, err := portfolio.NewAggregator(tracker, repo, repo.Realized(), repo, appLogger)
	if err != nil {
		appLogger.Error(context.Background(), err, "FATAL: Failed to initialize analytics aggregator")
		log.Fatalf("FATAL: Failed to initialize analytics aggregator: %v", err)
	}
	appLogger.Info(context.Background(), "Accounting engine initialized")

	// 6. Initialize Application Service
	portfolioService, err := app.NewPortfolioService(
		cfg,
		appLogger,
		binanceClient, // Pass the concrete implementation, service expects the interface
		repo,          // Pass the concrete implementation, service expects the interface
		repo.Realized(),
		repo.Exclusions(),
		tracker,
		calculator,
		aggregator,
	)
	if err != nil {
		appLogger.Error(context.Background(), err, "FATAL: Failed to initialize portfolio service")
		log.Fatalf("FATAL: Failed to initialize portfolio service: %v", err)
	}
	appLogger.Info(context.Background(), "Portfolio service initialized")

	// 7. Start the Service
	// Use context.Background() as the base context for the application run
	if err := portfolioService.Start(context.Background()); err != nil {
		appLogger.Error(context.Background(), err, "Portfolio service exited with error")
		log.Fatalf("FATAL: Portfolio service exited with error: %v", err)
	}

	appLogger.Info(context.Background(), "Application finished gracefully.")
}
