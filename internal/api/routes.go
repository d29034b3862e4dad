// Package api contains the API routes for the Terminal API
package api

import (
	"fmt"
	"log"

	"github.com/labstack/echo/v4"

	"github.com/stockterm/terminalapi/internal/api/handlers"
	"github.com/stockterm/terminalapi/internal/config"
	"github.com/stockterm/terminalapi/internal/repository"
	"github.com/stockterm/terminalapi/internal/scanner"
	"github.com/stockterm/terminalapi/internal/screener"
	"github.com/stockterm/terminalapi/internal/service"
	"github.com/stockterm/terminalapi/pkg/utils/response"
)

// SetupRoutes configures the routes for the API
func SetupRoutes(e *echo.Echo, engines map[string]*scanner.Engine, symbolRepo *repository.SymbolRepository) {

	// Index route
	e.GET("/", indexRoute)

	// Scan routes
	scanHandler := handlers.NewScanHandler(engines, symbolRepo)
	e.POST("/scanner/scan", scanHandler.QueryFeatureTable)
	e.POST("/v2/scan", scanHandler.Scan)
	e.GET("/v2/scan/refresh/:market", scanHandler.Refresh)

	// Symbol detail route
	symbolHandler := handlers.NewSymbolHandler(service.NewSymbolDetailService())
	e.GET("/symbols/:symbol", symbolHandler.Detail)

	// Ideas routes
	ideasHandler := handlers.NewIdeasHandler(service.NewIdeasService())
	e.GET("/ideas/global/:feed", ideasHandler.GlobalFeed)
	e.GET("/ideas/:symbol/:feed", ideasHandler.SymbolFeed)

	// Screener WebSocket route
	screenerHandler := handlers.NewScreenerHandler(symbolRepo, screener.NewUpstoxQuoteFetcher())
	e.GET("/ws", screenerHandler.Connect)

}

// indexRoute sets up the index route for the API
func indexRoute(c echo.Context) error {
	cfg, err := config.Get()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	message := fmt.Sprintf("%s %s", cfg.APIName, cfg.APIVersion)
	return response.SuccessResponse(c, message)
}
