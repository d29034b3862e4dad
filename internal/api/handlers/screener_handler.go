package handlers

import (
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/stockterm/terminalapi/internal/screener"
	"github.com/stockterm/terminalapi/pkg/utils/zaplogger"
)

// ScreenerHandler upgrades /ws connections and runs the screener protocol
// read loop on each.
type ScreenerHandler struct {
	store    screener.SymbolQuerier
	quotes   screener.QuoteFetcher
	upgrader websocket.Upgrader
}

// NewScreenerHandler creates a new screener handler
func NewScreenerHandler(store screener.SymbolQuerier, quotes screener.QuoteFetcher) *ScreenerHandler {
	return &ScreenerHandler{
		store:  store,
		quotes: quotes,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Connect serves one WebSocket connection until the client disconnects
func (h *ScreenerHandler) Connect(c echo.Context) error {
	conn, err := h.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	clientID := uuid.NewString()
	zaplogger.Info("Screener client connected", zaplogger.Fields{"client": clientID})

	manager := screener.NewManager(&wsSender{conn: conn}, h.store, h.quotes)
	defer manager.Close()

	ctx := c.Request().Context()
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		manager.HandleMessage(ctx, data)
	}

	zaplogger.Info("Screener client disconnected", zaplogger.Fields{"client": clientID})
	return nil
}

// wsSender serializes concurrent writes from the read loop and the per
// session realtime dispatchers onto one connection.
type wsSender struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (s *wsSender) SendJSON(v interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteJSON(v)
}
