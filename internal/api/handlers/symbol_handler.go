package handlers

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/stockterm/terminalapi/internal/service"
	"github.com/stockterm/terminalapi/pkg/utils/response"
)

// SymbolHandler proxies the upstream symbol evaluation payload
type SymbolHandler struct {
	service *service.SymbolDetailService
}

// NewSymbolHandler creates a new symbol handler
func NewSymbolHandler(service *service.SymbolDetailService) *SymbolHandler {
	return &SymbolHandler{service: service}
}

// Detail serves /symbols/:symbol
func (h *SymbolHandler) Detail(c echo.Context) error {
	symbol := c.Param("symbol")
	if symbol == "" {
		return response.ErrorResponse(c, http.StatusBadRequest, "InputException", "No symbol specified")
	}

	payload, err := h.service.SymbolDetail(c.Request().Context(), symbol)
	if err != nil {
		return response.ErrorResponse(c, http.StatusBadGateway, "UpstreamException", err.Error())
	}
	return c.JSON(http.StatusOK, payload)
}
