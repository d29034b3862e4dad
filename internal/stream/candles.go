package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/stockterm/terminalapi/internal/models"
	"github.com/stockterm/terminalapi/pkg/utils/zaplogger"
)

const (
	candleChunkSize   = 100
	candleTimezone    = "Asia/Kolkata"
	candleResolution  = "1D"
	candleHistoryBars = 5500
)

// CandleDownloader fetches daily OHLCV history over the chart session
// protocol. Tickers are processed in chunks, each on its own short-lived
// connection; series are requested sequentially within a chunk because the
// upstream serves one series per session at a time.
type CandleDownloader struct {
	authToken string
}

// NewCandleDownloader creates a downloader with an anonymous session
func NewCandleDownloader() *CandleDownloader {
	return &CandleDownloader{authToken: defaultAuthToken}
}

// Download fetches daily candles for every ticker. Failed chunks are logged
// and skipped; the result holds whatever completed.
func (d *CandleDownloader) Download(ctx context.Context, tickers []string) (map[string][]models.Candle, error) {
	result := make(map[string][]models.Candle, len(tickers))
	chunks := chunkTickers(tickers, candleChunkSize)
	for i, chunk := range chunks {
		zaplogger.Info("Downloading candle chunk", zaplogger.Fields{"chunk": i + 1, "total": len(chunks), "tickers": len(chunk)})
		bars, err := d.downloadChunk(ctx, chunk)
		if err != nil {
			if ctx.Err() != nil {
				return result, ctx.Err()
			}
			zaplogger.Error("Candle chunk failed", zaplogger.Fields{"chunk": i + 1, "error": err})
			continue
		}
		for ticker, candles := range bars {
			result[ticker] = candles
		}
	}
	return result, nil
}

// chartSession holds the per-connection state of one candle download
type chartSession struct {
	id       string
	keys     *InstrumentKeyMap
	resolved int
	started  map[string]bool
	complete int
	bars     map[string][]models.Candle
	lastKey  string
}

func (d *CandleDownloader) downloadChunk(ctx context.Context, tickers []string) (map[string][]models.Candle, error) {
	conn, err := dialUpstream(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	sess := &chartSession{
		id:      genSessionID("cs"),
		keys:    NewInstrumentKeyMap(tickers),
		started: make(map[string]bool),
		bars:    make(map[string][]models.Candle, len(tickers)),
	}

	send := func(msgs ...WireMessage) error {
		encoded, err := EncodeMessages(msgs...)
		if err != nil {
			return err
		}
		return writeText(conn, encoded)
	}

	init := []WireMessage{
		{M: "set_auth_token", P: []interface{}{d.authToken}},
		{M: "set_locale", P: []interface{}{"en", "IN"}},
		{M: "chart_create_session", P: []interface{}{sess.id, ""}},
		{M: "switch_timezone", P: []interface{}{sess.id, candleTimezone}},
	}
	for _, key := range sess.keys.Keys() {
		ticker, _ := sess.keys.Ticker(key)
		symbolSpec, err := json.Marshal(map[string]string{
			"adjustment":  "splits",
			"currency-id": "INR",
			"symbol":      ticker,
		})
		if err != nil {
			return nil, err
		}
		init = append(init, WireMessage{
			M: "resolve_symbol",
			P: []interface{}{sess.id, key, "=" + string(symbolSpec)},
		})
	}
	if err := send(init...); err != nil {
		return nil, fmt.Errorf("failed to initialize chart session: %w", err)
	}

	for sess.complete < sess.keys.Len() {
		conn.SetReadDeadline(time.Now().Add(readTimeout))
		_, message, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, fmt.Errorf("chart session read failed: %w", err)
		}
		for _, payload := range Decode(string(message)) {
			if IsHeartbeat(payload) {
				if err := writeText(conn, Encode([]string{payload})); err != nil {
					return nil, err
				}
				continue
			}
			var event WireMessage
			if err := json.Unmarshal([]byte(payload), &event); err != nil {
				continue
			}
			if err := d.handleChartEvent(sess, event, send); err != nil {
				return nil, err
			}
		}
	}
	return sess.bars, nil
}

func (d *CandleDownloader) handleChartEvent(sess *chartSession, event WireMessage, send func(...WireMessage) error) error {
	switch event.M {
	case "symbol_resolved":
		sess.resolved++
		if sess.resolved == sess.keys.Len() {
			return d.requestNextSeries(sess, send, true)
		}
	case "timescale_update":
		d.collectCandles(sess, event)
	case "series_completed":
		sess.complete++
		if sess.complete < sess.keys.Len() {
			return d.requestNextSeries(sess, send, false)
		}
	case "critical_error", "protocol_error":
		return fmt.Errorf("chart session error: %v", event.P)
	}
	return nil
}

// requestNextSeries starts the first pending symbol key. The first series
// uses create_series; subsequent symbols reuse it via modify_series.
func (d *CandleDownloader) requestNextSeries(sess *chartSession, send func(...WireMessage) error, first bool) error {
	for _, key := range sess.keys.Keys() {
		if sess.started[key] {
			continue
		}
		sess.started[key] = true
		sess.lastKey = key
		seriesID := sess.keys.SeriesID(key)
		if first {
			return send(WireMessage{
				M: "create_series",
				P: []interface{}{sess.id, "sds_1", seriesID, key, candleResolution, candleHistoryBars},
			})
		}
		return send(WireMessage{
			M: "modify_series",
			P: []interface{}{sess.id, "sds_1", seriesID, key, candleResolution, ""},
		})
	}
	return nil
}

// collectCandles appends the rows of a timescale_update to the symbol the
// series currently points at. Earlier history for the same symbol arrives
// in later updates, so new rows are prepended.
func (d *CandleDownloader) collectCandles(sess *chartSession, event WireMessage) {
	if len(event.P) < 2 || sess.lastKey == "" {
		return
	}
	body, ok := event.P[1].(map[string]interface{})
	if !ok {
		return
	}
	series, ok := body["sds_1"].(map[string]interface{})
	if !ok {
		return
	}
	rows, ok := series["s"].([]interface{})
	if !ok {
		return
	}

	ticker, _ := sess.keys.Ticker(sess.lastKey)
	candles := make([]models.Candle, 0, len(rows))
	for _, row := range rows {
		entry, ok := row.(map[string]interface{})
		if !ok {
			continue
		}
		values, ok := entry["v"].([]interface{})
		if !ok || len(values) < 5 {
			continue
		}
		c := models.Candle{
			Time:  time.Unix(int64(asFloat(values[0])), 0).UTC().Truncate(24 * time.Hour),
			Open:  asFloat(values[1]),
			High:  asFloat(values[2]),
			Low:   asFloat(values[3]),
			Close: asFloat(values[4]),
		}
		if len(values) > 5 {
			c.Volume = asFloat(values[5])
		}
		candles = append(candles, c)
	}
	sess.bars[ticker] = append(candles, sess.bars[ticker]...)
}

func asFloat(v interface{}) float64 {
	f, _ := v.(float64)
	return f
}

func chunkTickers(tickers []string, size int) [][]string {
	chunks := make([][]string, 0, (len(tickers)+size-1)/size)
	for i := 0; i < len(tickers); i += size {
		end := i + size
		if end > len(tickers) {
			end = len(tickers)
		}
		chunks = append(chunks, tickers[i:end])
	}
	return chunks
}
