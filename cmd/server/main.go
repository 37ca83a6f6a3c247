package main

import (
	"context"
	"log" // standard log only for fatal errors before the structured logger exists

	"github.com/adshao/go-binance/v2/futures"

	"github.com/ArialBlack/binance-virtual-trader-tool/config"
	"github.com/ArialBlack/binance-virtual-trader-tool/internal/adapters/binancefeed"
	"github.com/ArialBlack/binance-virtual-trader-tool/internal/adapters/logging"
	"github.com/ArialBlack/binance-virtual-trader-tool/internal/adapters/sqlitestore"
	"github.com/ArialBlack/binance-virtual-trader-tool/internal/supervisor"
)

func main() {
	// 1. Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("FATAL: failed to load configuration: %v", err)
	}

	// 2. Initialize logger
	appLogger := logging.New(logging.Config{Level: cfg.LogLevel, Pretty: cfg.DevMode})
	appLogger.Info(context.Background(), "logger initialized", map[string]interface{}{"level": cfg.LogLevel})

	// 3. Initialize the store
	store, err := sqlitestore.New(sqlitestore.Config{DBPath: cfg.DBPath, Logger: appLogger})
	if err != nil {
		appLogger.Error(context.Background(), err, "FATAL: failed to initialize sqlite store")
		log.Fatalf("FATAL: failed to initialize sqlite store: %v", err)
	}
	appLogger.Info(context.Background(), "sqlite store initialized")

	// 4. Initialize the price feed
	restClient := futures.NewClient("", "")
	feed := binancefeed.New(binancefeed.Config{WSURL: cfg.BinanceWSURL, RESTClient: restClient, Logger: appLogger})
	appLogger.Info(context.Background(), "price feed initialized")

	// 5. Initialize the supervisor and run until SIGINT/SIGTERM
	sup := supervisor.New(supervisor.Config{
		Store:      store,
		Feed:       feed,
		Logger:     appLogger,
		HTTPAddr:   cfg.HTTPAddr,
		QuoteAsset: cfg.QuoteAsset,
		DevMode:    cfg.DevMode,
	})

	if err := sup.Run(context.Background()); err != nil {
		appLogger.Error(context.Background(), err, "supervisor exited with error")
		log.Fatalf("FATAL: supervisor exited with error: %v", err)
	}

	appLogger.Info(context.Background(), "application finished gracefully")
}
