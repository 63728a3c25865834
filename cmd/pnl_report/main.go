package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"paperTrader/config"
	"paperTrader/internal/adapters/binanceclient"
	"paperTrader/internal/adapters/logger"
	"paperTrader/internal/adapters/sqlite"
	"paperTrader/internal/portfolio"
	"paperTrader/internal/ports"
	"paperTrader/internal/utils"
)

func main() {
	days := flag.Int("days", 30, "Report window in days ending now (ignored when -start/-end are set)")
	startStr := flag.String("start", "", "Window start, RFC3339 (e.g. 2026-01-01T00:00:00Z)")
	endStr := flag.String("end", "", "Window end, RFC3339; defaults to now when -start is set")
	fifo := flag.Bool("fifo", false, "Produce the FIFO lot-matching report over the full history instead")
	tradesCSV := flag.String("trades-csv", "", "Also export the window's trades to this CSV file")
	realizedCSV := flag.String("realized-csv", "", "Also export the realized-PnL log to this CSV file")
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

	// 3. Initialize storage and exchange client
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

	// 4. Assemble the accounting engine
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

	// 5. Compute the requested report and print it as JSON
	var report interface{}
	startTs, endTs := resolveWindow(*days, *startStr, *endStr)
	if *fifo {
		report, err = calculator.CalculateLifetimeFIFO(ctx)
	} else {
		report, err = calculator.CalculateRange(ctx, startTs, endTs)
	}
	if err != nil {
		appLogger.Error(ctx, err, "FATAL: Failed to compute PnL report")
		log.Fatalf("FATAL: Failed to compute PnL report: %v", err)
	}

	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(report); err != nil {
		log.Fatalf("FATAL: Failed to encode report: %v", err)
	}

	// 6. Optional CSV exports
	if *tradesCSV != "" {
		trades, err := repo.Query(ctx, startTs, endTs)
		if err != nil {
			log.Fatalf("FATAL: Failed to read trades for CSV export: %v", err)
		}
		if err := utils.WriteTradesToCSV(trades, *tradesCSV); err != nil {
			log.Fatalf("FATAL: Failed to write trades CSV: %v", err)
		}
		fmt.Fprintf(os.Stderr, "Wrote %d trades to %s\n", len(trades), *tradesCSV)
	}
	if *realizedCSV != "" {
		entries, err := repo.Realized().All(ctx)
		if err != nil {
			log.Fatalf("FATAL: Failed to read realized PnL log for CSV export: %v", err)
		}
		if err := utils.WriteRealizedPnLToCSV(entries, *realizedCSV); err != nil {
			log.Fatalf("FATAL: Failed to write realized PnL CSV: %v", err)
		}
		fmt.Fprintf(os.Stderr, "Wrote %d realized PnL entries to %s\n", len(entries), *realizedCSV)
	}
}

// resolveWindow turns the flag combination into a millisecond window.
func resolveWindow(days int, startStr, endStr string) (int64, int64) {
	if startStr == "" {
		end := time.Now()
		return end.AddDate(0, 0, -days).UnixMilli(), end.UnixMilli()
	}

	start, err := time.Parse(time.RFC3339, startStr)
	if err != nil {
		log.Fatalf("FATAL: Invalid -start value %q: %v", startStr, err)
	}
	end := time.Now()
	if endStr != "" {
		end, err = time.Parse(time.RFC3339, endStr)
		if err != nil {
			log.Fatalf("FATAL: Invalid -end value %q: %v", endStr, err)
		}
	}
	return start.UnixMilli(), end.UnixMilli()
}
