package handlers

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/stockterm/terminalapi/internal/service"
	"github.com/stockterm/terminalapi/pkg/utils/response"
)

// IdeasHandler proxies the community ideas feeds
type IdeasHandler struct {
	service *service.IdeasService
}

// NewIdeasHandler creates a new ideas handler
func NewIdeasHandler(service *service.IdeasService) *IdeasHandler {
	return &IdeasHandler{service: service}
}

// GlobalFeed serves /ideas/global/:feed, feed in {trending, suggested, popular}
func (h *IdeasHandler) GlobalFeed(c echo.Context) error {
	feed := c.Param("feed")
	if feed != service.FeedTrending && feed != service.FeedSuggested && feed != service.FeedPopular {
		return response.ErrorResponse(c, http.StatusBadRequest, "InputException", "Invalid feed: "+feed)
	}

	payload, err := h.service.GlobalFeed(c.Request().Context(), feed, feedLimit(c))
	if err != nil {
		return response.ErrorResponse(c, http.StatusBadGateway, "UpstreamException", err.Error())
	}
	return c.JSONBlob(http.StatusOK, payload)
}

// SymbolFeed serves /ideas/:symbol/:feed, feed in {trending, popular}
func (h *IdeasHandler) SymbolFeed(c echo.Context) error {
	feed := c.Param("feed")
	if feed != service.FeedTrending && feed != service.FeedPopular {
		return response.ErrorResponse(c, http.StatusBadRequest, "InputException", "Invalid feed: "+feed)
	}

	payload, err := h.service.SymbolFeed(c.Request().Context(), c.Param("symbol"), feed, feedLimit(c))
	if err != nil {
		return response.ErrorResponse(c, http.StatusBadGateway, "UpstreamException", err.Error())
	}
	return c.JSONBlob(http.StatusOK, payload)
}

// feedLimit reads the limit query param, default 10, clamped to [1, 100]
func feedLimit(c echo.Context) int {
	limit, err := strconv.Atoi(c.QueryParam("limit"))
	if err != nil {
		return 10
	}
	if limit < 1 {
		return 1
	}
	if limit > 100 {
		return 100
	}
	return limit
}
