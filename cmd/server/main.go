// Package main is the entry point for the Terminal API
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"

	"github.com/stockterm/terminalapi/internal/alerts"
	"github.com/stockterm/terminalapi/internal/api"
	"github.com/stockterm/terminalapi/internal/api/middleware"
	"github.com/stockterm/terminalapi/internal/config"
	"github.com/stockterm/terminalapi/internal/repository"
	"github.com/stockterm/terminalapi/internal/scanner"
	"github.com/stockterm/terminalapi/internal/service"
	"github.com/stockterm/terminalapi/pkg/utils/zaplogger"
)

// Upstream connection budget for the alert quote stream
const (
	streamMaxConnections          = 5
	streamMaxTickersPerConnection = 500
)

// scanMarkets are the markets the scanner serves
var scanMarkets = []string{"india", "us"}

func main() {
	// Load .env if present
	_ = godotenv.Load()

	mode := flag.String("mode", "scanner",
		"run mode: download-fundamental | download-ms | download-compliance | scan | alerts | scanner")
	flag.Parse()

	// Load configuration
	cfg, err := config.Get()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	switch *mode {
	case "scanner":
		runScanner(cfg)
	case "scan":
		runScanBuild(cfg)
	case "alerts":
		runAlerts(cfg)
	case "download-fundamental":
		runDownload(cfg, *mode)
	case "download-ms":
		runDownload(cfg, *mode)
	case "download-compliance":
		runDownload(cfg, *mode)
	default:
		fmt.Fprintf(os.Stderr, "Invalid mode %q. Use download-fundamental, download-ms, download-compliance, scan, alerts or scanner.\n", *mode)
		os.Exit(1)
	}
}

// runScanner serves the HTTP and WebSocket API
func runScanner(cfg *config.Config) {
	// Print the configuration
	fmt.Println(cfg.String())

	// Connect to Postgres
	db, err := repository.ConnectPostgres(cfg)
	if err != nil {
		log.Fatalf("Failed to connect to Postgres: %v", err)
	}

	// Init logger
	if err := zaplogger.InitLogger(db); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer zaplogger.Sync()
	zaplogger.SetLogLevel(cfg.ServerLogLevel)

	// startUpMessage
	zaplogger.Info(cfg.APIName + " - " + cfg.APIVersion + " initialized")
	zaplogger.Info("Postgres initialized")

	// Build the per-market scan engines
	symbolRepo := repository.NewSymbolRepository(db)
	engines := buildScanEngines(cfg, symbolRepo)

	// Create a new Echo instance
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Setup middleware
	middleware.SetupLoggerMiddleware(e)

	// Setup routes
	api.SetupRoutes(e, engines, symbolRepo)

	// Setup and start cron jobs
	cronService := service.NewCronService(engines)
	cronService.Start()
	defer cronService.Stop()

	// Start the server
	startServer(e, cfg)
}

// runScanBuild refreshes the candle caches for every market and exits
func runScanBuild(cfg *config.Config) {
	db, err := repository.ConnectPostgres(cfg)
	if err != nil {
		log.Fatalf("Failed to connect to Postgres: %v", err)
	}
	if err := zaplogger.InitLogger(db); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer zaplogger.Sync()
	zaplogger.SetLogLevel(cfg.ServerLogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	symbolRepo := repository.NewSymbolRepository(db)
	for _, market := range scanMarkets {
		provider := scanner.NewFileCandleProvider(market, cfg.BaseFilePath, symbolRepo)
		if err := provider.Refresh(ctx); err != nil {
			log.Fatalf("Candle refresh failed for %s: %v", market, err)
		}
	}
	zaplogger.Info("Scan build complete")
}

// runAlerts runs the alert engine until signalled
func runAlerts(cfg *config.Config) {
	if err := cfg.RequireAlertWebhook(); err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	db, err := repository.ConnectPostgres(cfg)
	if err != nil {
		log.Fatalf("Failed to connect to Postgres: %v", err)
	}
	redisClient, err := repository.ConnectRedis(cfg)
	if err != nil {
		log.Fatalf("Failed to connect to Redis: %v", err)
	}
	if err := zaplogger.InitLogger(db); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer zaplogger.Sync()
	zaplogger.SetLogLevel(cfg.ServerLogLevel)

	zaplogger.Info(cfg.APIName + " - " + cfg.APIVersion + " alerts worker initialized")

	store := repository.NewAlertRepository(db, cfg.PostgresDsn)
	provider := alerts.NewStreamDataProvider(streamMaxConnections, streamMaxTickersPerConnection)

	dispatcher := alerts.NewDispatcher()
	dispatcher.RegisterHandler(alerts.WebhookHandler(cfg.AlertWebhookURL))
	publishService := service.NewPublishService(redisClient)
	dispatcher.RegisterHandler(publishService.AlertHandler())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	engine := alerts.NewEngine(store, provider, dispatcher)
	if err := engine.Run(ctx); err != nil {
		log.Fatalf("Alert engine stopped: %v", err)
	}
}

// runDownload stages one external ingestion payload and exits
func runDownload(cfg *config.Config, mode string) {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	downloads := service.NewDownloadService(cfg.FundamentalURL, cfg.BaseFilePath)

	var err error
	switch mode {
	case "download-fundamental":
		err = downloads.DownloadFundamentals(ctx)
	case "download-ms":
		err = downloads.DownloadResearch(ctx)
	case "download-compliance":
		err = downloads.DownloadCompliance(ctx)
	}
	if err != nil {
		log.Fatalf("Download failed: %v", err)
	}
}

// buildScanEngines creates one engine per market
func buildScanEngines(cfg *config.Config, symbolRepo *repository.SymbolRepository) map[string]*scanner.Engine {
	engines := make(map[string]*scanner.Engine, len(scanMarkets))
	for _, market := range scanMarkets {
		candles := scanner.NewFileCandleProvider(market, cfg.BaseFilePath, symbolRepo)
		metadata := scanner.NewDBMetadataProvider(market, symbolRepo)
		engine, err := scanner.NewEngine(candles, metadata, true)
		if err != nil {
			log.Fatalf("Failed to build scan engine for %s: %v", market, err)
		}
		engines[market] = engine
	}
	return engines
}

// startServer starts the Echo server on the specified port
func startServer(e *echo.Echo, cfg *config.Config) {
	port := cfg.ServerPort
	if port == "" {
		port = "8000"
	}
	zaplogger.Info("SERVER STARTED ON PORT " + port)
	e.Logger.Fatal(e.Start(":" + port))
}
