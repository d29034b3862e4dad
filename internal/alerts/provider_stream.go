package alerts

import (
	"context"
	"time"

	"github.com/stockterm/terminalapi/internal/models"
	"github.com/stockterm/terminalapi/internal/stream"
	"github.com/stockterm/terminalapi/pkg/utils/zaplogger"
)

// Quote fields the alert path needs from the upstream
var alertQuoteFields = []string{"lp", "lp_time", "volume"}

// StreamDataProvider feeds the alert engine from the live quote scaler.
// Quote updates carrying a last price are translated into ticks; updates
// without one (volume-only deltas) are skipped.
type StreamDataProvider struct {
	scaler *stream.Scaler
	ticks  chan models.ChangeUpdate
	cancel context.CancelFunc
}

// NewStreamDataProvider creates a provider over a fresh scaler
func NewStreamDataProvider(maxConnections, maxTickersPerConnection int) *StreamDataProvider {
	return &StreamDataProvider{
		scaler: stream.NewScaler(alertQuoteFields, maxConnections, maxTickersPerConnection),
		ticks:  make(chan models.ChangeUpdate, 256),
	}
}

// Subscribe adds the symbol to the streamed universe. Idempotent.
func (p *StreamDataProvider) Subscribe(symbol string) {
	p.scaler.AddTickers([]string{symbol})
}

// Unsubscribe removes the symbol from the streamed universe
func (p *StreamDataProvider) Unsubscribe(symbol string) {
	p.scaler.RemoveTickers([]string{symbol})
}

// Start begins translating scaler events into ticks
func (p *StreamDataProvider) Start(ctx context.Context) error {
	ctx, p.cancel = context.WithCancel(ctx)
	p.scaler.Start(ctx)
	go p.run(ctx)
	return nil
}

// Stop tears down the scaler and all its connections
func (p *StreamDataProvider) Stop() {
	if p.cancel != nil {
		p.cancel()
	}
	p.scaler.Stop()
}

// Ticks returns the tick stream
func (p *StreamDataProvider) Ticks() <-chan models.ChangeUpdate {
	return p.ticks
}

func (p *StreamDataProvider) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-p.scaler.Events():
			switch ev.Type {
			case stream.EventQuoteUpdate:
				update, ok := tickFromQuote(ev.Ticker, ev.Data)
				if !ok {
					continue
				}
				select {
				case p.ticks <- update:
				case <-ctx.Done():
					return
				}
			case stream.EventError:
				zaplogger.Warn("Quote stream error", zaplogger.Fields{"data": ev.Data})
			}
		}
	}
}

// tickFromQuote extracts (ltp, ltt, ltq) from a merged quote. The trade
// time falls back to now when the upstream omits it.
func tickFromQuote(ticker string, quote map[string]interface{}) (models.ChangeUpdate, bool) {
	lp, ok := quote["lp"].(float64)
	if !ok {
		return models.ChangeUpdate{}, false
	}
	update := models.ChangeUpdate{Symbol: ticker, Ltp: lp, Ltt: time.Now().UTC()}
	if lpTime, ok := quote["lp_time"].(float64); ok {
		update.Ltt = time.Unix(int64(lpTime), 0).UTC()
	}
	if volume, ok := quote["volume"].(float64); ok {
		update.Ltq = volume
	}
	return update, true
}
