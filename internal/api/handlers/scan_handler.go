// Package handlers contains the handlers for the API
package handlers

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/stockterm/terminalapi/internal/models"
	"github.com/stockterm/terminalapi/internal/repository"
	"github.com/stockterm/terminalapi/internal/scanner"
	"github.com/stockterm/terminalapi/pkg/utils/response"
)

// ScanHandler serves the scan endpoints over the per-market engines and
// the raw feature-table query endpoint.
type ScanHandler struct {
	engines    map[string]*scanner.Engine
	symbolRepo *repository.SymbolRepository
}

// NewScanHandler creates a new scan handler
func NewScanHandler(engines map[string]*scanner.Engine, symbolRepo *repository.SymbolRepository) *ScanHandler {
	return &ScanHandler{engines: engines, symbolRepo: symbolRepo}
}

// QueryFeatureTable executes the request's SQL verbatim against the feature
// table and returns column-keyed records.
func (h *ScanHandler) QueryFeatureTable(c echo.Context) error {
	var body struct {
		Query string `json:"query"`
	}
	if err := c.Bind(&body); err != nil {
		return response.ErrorResponse(c, http.StatusBadRequest, "InputException", "Invalid request body")
	}
	if body.Query == "" {
		return response.ErrorResponse(c, http.StatusBadRequest, "InputException", "No query specified")
	}

	records, err := h.symbolRepo.QueryRecords(body.Query)
	if err != nil {
		return response.ErrorResponse(c, http.StatusInternalServerError, "ServerException", err.Error())
	}
	return c.JSON(http.StatusOK, records)
}

// Scan executes a technical scan
func (h *ScanHandler) Scan(c echo.Context) error {
	var req models.ScanRequest
	if err := c.Bind(&req); err != nil {
		return response.ErrorResponse(c, http.StatusBadRequest, "InputException", "Invalid request body")
	}
	if err := req.Normalize(); err != nil {
		return response.ErrorResponse(c, http.StatusBadRequest, "InputException", err.Error())
	}

	engine, ok := h.engines[req.Market]
	if !ok {
		return response.ErrorResponse(c, http.StatusBadRequest, "InputException", "Unknown market: "+req.Market)
	}

	resp, err := engine.Scan(&req)
	if err != nil {
		return response.ErrorResponse(c, http.StatusInternalServerError, "ServerException", err.Error())
	}
	return c.JSON(http.StatusOK, resp)
}

// Refresh force-refreshes candles and metadata for one market
func (h *ScanHandler) Refresh(c echo.Context) error {
	market := c.Param("market")
	engine, ok := h.engines[market]
	if !ok {
		return response.ErrorResponse(c, http.StatusBadRequest, "InputException", "Unknown market: "+market)
	}

	if err := engine.Refresh(c.Request().Context()); err != nil {
		return response.ErrorResponse(c, http.StatusInternalServerError, "ServerException", err.Error())
	}
	return response.SuccessResponse(c, map[string]interface{}{
		"market": market,
		"stats":  engine.CacheStats(),
	})
}
