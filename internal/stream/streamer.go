package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stockterm/terminalapi/pkg/utils/zaplogger"
)

const (
	websocketURL    = "wss://data-wdc.tradingview.com/socket.io/websocket?type=chart"
	websocketOrigin = "https://in.tradingview.com"

	// Anonymous sessions are sufficient for delayed NSE data
	defaultAuthToken = "unauthorized_user_token"

	readTimeout      = 60 * time.Second
	handshakeTimeout = 20 * time.Second
)

// EventType identifies a streamer event
type EventType string

// Streamer event types
const (
	EventConnected      EventType = "connected"
	EventDisconnected   EventType = "disconnected"
	EventQuoteUpdate    EventType = "quote_update"
	EventQuoteCompleted EventType = "quote_completed"
	EventError          EventType = "error"
)

// Event is a single occurrence on the quote stream. Ticker is empty for
// connection-level events.
type Event struct {
	Type   EventType
	Ticker string
	Data   map[string]interface{}
}

const sessionIDLength = 12

var sessionIDAlphabet = []rune("abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789")

// genSessionID returns "<prefix>_<12 random alphanumerics>"
func genSessionID(prefix string) string {
	b := make([]rune, sessionIDLength)
	for i := range b {
		b[i] = sessionIDAlphabet[rand.Intn(len(sessionIDAlphabet))]
	}
	return prefix + "_" + string(b)
}

// dialUpstream opens a WS connection with the origin header the upstream
// expects.
func dialUpstream(ctx context.Context) (*websocket.Conn, error) {
	dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}
	header := http.Header{"Origin": []string{websocketOrigin}}
	conn, _, err := dialer.DialContext(ctx, websocketURL, header)
	if err != nil {
		return nil, fmt.Errorf("failed to dial quote upstream: %w", err)
	}
	return conn, nil
}

func writeText(conn *websocket.Conn, message string) error {
	return conn.WriteMessage(websocket.TextMessage, []byte(message))
}

// QuoteStreamer maintains one upstream WS quote session. Quotes build up by
// merging partial field updates; quote_update events are only emitted for
// tickers that have completed their initial snapshot. Safe for one
// StreamQuotes call plus concurrent RemoveSymbols callers.
type QuoteStreamer struct {
	fields            []string
	authToken         string
	reconnectDelay    time.Duration
	reconnectAttempts int

	mu        sync.Mutex
	conn      *websocket.Conn
	sessionID string
	quotes    map[string]map[string]interface{}
	completed map[string]bool
}

// NewQuoteStreamer creates a streamer requesting the given quote fields.
// An empty field list leaves the upstream defaults in place.
func NewQuoteStreamer(fields []string, reconnectDelay time.Duration, reconnectAttempts int) *QuoteStreamer {
	return &QuoteStreamer{
		fields:            fields,
		authToken:         defaultAuthToken,
		reconnectDelay:    reconnectDelay,
		reconnectAttempts: reconnectAttempts,
		quotes:            make(map[string]map[string]interface{}),
		completed:         make(map[string]bool),
	}
}

// SetAuthToken replaces the anonymous session token
func (s *QuoteStreamer) SetAuthToken(token string) {
	s.authToken = token
}

// send frames and writes one or more commands on the current socket
func (s *QuoteStreamer) send(msgs ...WireMessage) error {
	encoded, err := EncodeMessages(msgs...)
	if err != nil {
		return err
	}
	return s.sendRaw(encoded)
}

func (s *QuoteStreamer) sendRaw(encoded string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return errors.New("socket not connected")
	}
	return s.conn.WriteMessage(websocket.TextMessage, []byte(encoded))
}

// initializeSession brings up a fresh quote session for the ticker list
func (s *QuoteStreamer) initializeSession(tickers []string) error {
	s.mu.Lock()
	s.sessionID = genSessionID("qs")
	sessionID := s.sessionID
	s.mu.Unlock()

	msgs := []WireMessage{
		{M: "set_auth_token", P: []interface{}{s.authToken}},
		{M: "set_locale", P: []interface{}{"en", "IN"}},
		{M: "quote_create_session", P: []interface{}{sessionID}},
		{M: "quote_add_symbols", P: append([]interface{}{sessionID}, toInterfaces(tickers)...)},
	}
	if len(s.fields) > 0 {
		msgs = append(msgs, WireMessage{
			M: "quote_set_fields",
			P: append([]interface{}{sessionID}, toInterfaces(s.fields)...),
		})
	}
	if err := s.send(msgs...); err != nil {
		return err
	}
	zaplogger.Info("Quote session initialized", zaplogger.Fields{"session": sessionID, "tickers": len(tickers)})
	return nil
}

// RemoveSymbols drops symbols from the running session without reconnecting
func (s *QuoteStreamer) RemoveSymbols(symbols []string) error {
	s.mu.Lock()
	sessionID := s.sessionID
	s.mu.Unlock()
	if sessionID == "" {
		return errors.New("no active quote session")
	}

	err := s.send(WireMessage{
		M: "quote_remove_symbols",
		P: append([]interface{}{sessionID}, toInterfaces(symbols)...),
	})
	if err != nil {
		return err
	}

	s.mu.Lock()
	for _, sym := range symbols {
		delete(s.quotes, sym)
		delete(s.completed, sym)
	}
	s.mu.Unlock()
	return nil
}

// Quote returns a copy of the merged quote for the ticker
func (s *QuoteStreamer) Quote(ticker string) map[string]interface{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return copyQuote(s.quotes[ticker])
}

// StreamQuotes connects, subscribes the tickers and emits events until ctx
// is cancelled or the reconnect budget is exhausted. Blocking call. Each
// reconnect wipes quote state and resubscribes the full ticker list.
func (s *QuoteStreamer) StreamQuotes(ctx context.Context, tickers []string, emit func(Event)) {
	for attempt := 0; attempt <= s.reconnectAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(s.reconnectDelay):
			}
		}
		if ctx.Err() != nil {
			return
		}
		if err := s.runConnection(ctx, tickers, emit); err == nil {
			// Clean close
			return
		} else if ctx.Err() != nil {
			return
		} else {
			emit(Event{Type: EventDisconnected, Data: map[string]interface{}{"reason": err.Error()}})
		}
	}
	emit(Event{Type: EventError, Data: map[string]interface{}{"message": "maximum reconnect attempts reached"}})
}

func (s *QuoteStreamer) runConnection(ctx context.Context, tickers []string, emit func(Event)) error {
	conn, err := dialUpstream(ctx)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.conn = conn
	s.quotes = make(map[string]map[string]interface{})
	s.completed = make(map[string]bool)
	s.mu.Unlock()

	defer func() {
		conn.Close()
		s.mu.Lock()
		s.conn = nil
		s.mu.Unlock()
	}()

	// Unblock ReadMessage on cancellation
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	emit(Event{Type: EventConnected, Data: map[string]interface{}{"timestamp": time.Now().Format(time.RFC3339)}})
	if err := s.initializeSession(tickers); err != nil {
		return err
	}

	for {
		conn.SetReadDeadline(time.Now().Add(readTimeout))
		_, message, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				return nil
			}
			return fmt.Errorf("read failed: %w", err)
		}
		s.handleMessage(string(message), emit)
	}
}

// handleMessage splits a WS message into payloads, echoes heartbeats and
// dispatches the JSON events.
func (s *QuoteStreamer) handleMessage(message string, emit func(Event)) {
	for _, payload := range Decode(message) {
		if IsHeartbeat(payload) {
			if err := s.sendRaw(Encode([]string{payload})); err != nil {
				zaplogger.Warn("Failed to echo heartbeat", zaplogger.Fields{"error": err})
			}
			continue
		}
		if !strings.HasPrefix(payload, "{") {
			zaplogger.Debug("Discarding non-JSON payload", zaplogger.Fields{"payload": truncate(payload, 100)})
			continue
		}
		var event WireMessage
		if err := json.Unmarshal([]byte(payload), &event); err != nil {
			zaplogger.Warn("Failed to parse wire event", zaplogger.Fields{"payload": truncate(payload, 100)})
			continue
		}
		s.dispatchEvent(event, emit)
	}
}

func (s *QuoteStreamer) dispatchEvent(event WireMessage, emit func(Event)) {
	switch event.M {
	case "quote_completed":
		if len(event.P) < 2 {
			return
		}
		ticker, _ := event.P[1].(string)
		if ticker == "" {
			return
		}
		s.mu.Lock()
		s.completed[ticker] = true
		quote := copyQuote(s.quotes[ticker])
		s.mu.Unlock()
		emit(Event{Type: EventQuoteCompleted, Ticker: ticker, Data: quote})
	case "qsd":
		ticker, quote, ok := s.mergeQuoteUpdate(event)
		if ok {
			emit(Event{Type: EventQuoteUpdate, Ticker: ticker, Data: quote})
		}
	case "critical_error", "protocol_error":
		message := "unknown error"
		if len(event.P) > 0 {
			if m, ok := event.P[0].(string); ok {
				message = m
			}
		}
		emit(Event{Type: EventError, Data: map[string]interface{}{"message": message}})
	}
}

// mergeQuoteUpdate folds a qsd field delta into the stored quote. Returns
// ok only when the ticker has already completed its snapshot; earlier
// partials are merged but not forwarded.
func (s *QuoteStreamer) mergeQuoteUpdate(event WireMessage) (string, map[string]interface{}, bool) {
	if len(event.P) < 2 {
		return "", nil, false
	}
	body, ok := event.P[1].(map[string]interface{})
	if !ok {
		return "", nil, false
	}
	ticker, _ := body["n"].(string)
	values, _ := body["v"].(map[string]interface{})
	if ticker == "" || len(values) == 0 {
		return "", nil, false
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	current := s.quotes[ticker]
	if current == nil {
		current = make(map[string]interface{}, len(values))
		s.quotes[ticker] = current
	}
	for k, v := range values {
		current[k] = v
	}
	if !s.completed[ticker] {
		return "", nil, false
	}
	return ticker, copyQuote(current), true
}

func copyQuote(q map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(q))
	for k, v := range q {
		out[k] = v
	}
	return out
}

func toInterfaces(values []string) []interface{} {
	out := make([]interface{}, len(values))
	for i, v := range values {
		out[i] = v
	}
	return out
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
