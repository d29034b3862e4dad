package alerts

import (
	"context"
	"math/rand"
	"time"

	"github.com/stockterm/terminalapi/internal/models"
	"github.com/stockterm/terminalapi/pkg/utils/zaplogger"
)

// DataProvider is the quote feed the alert engine drives. Subscribe is
// idempotent; Ticks delivers updates for every subscribed symbol in arrival
// order per symbol.
type DataProvider interface {
	Subscribe(symbol string)
	Unsubscribe(symbol string)
	Start(ctx context.Context) error
	Stop()
	Ticks() <-chan models.ChangeUpdate
}

// MockDataProvider emits a synthetic tick per subscribed symbol every
// second. Used by tests and alerts-mode dry runs.
type MockDataProvider struct {
	symbols map[string]bool
	ticks   chan models.ChangeUpdate
	cancel  context.CancelFunc
	cmds    chan func()
}

// NewMockDataProvider creates a stopped mock feed
func NewMockDataProvider() *MockDataProvider {
	return &MockDataProvider{
		symbols: make(map[string]bool),
		ticks:   make(chan models.ChangeUpdate, 100),
		cmds:    make(chan func(), 16),
	}
}

// Subscribe adds a symbol to the feed
func (p *MockDataProvider) Subscribe(symbol string) {
	p.cmds <- func() { p.symbols[symbol] = true }
	zaplogger.Debug("MockFeed subscribed", zaplogger.Fields{"symbol": symbol})
}

// Unsubscribe removes a symbol from the feed
func (p *MockDataProvider) Unsubscribe(symbol string) {
	p.cmds <- func() { delete(p.symbols, symbol) }
	zaplogger.Debug("MockFeed unsubscribed", zaplogger.Fields{"symbol": symbol})
}

// Start begins emitting ticks until Stop or ctx cancellation
func (p *MockDataProvider) Start(ctx context.Context) error {
	ctx, p.cancel = context.WithCancel(ctx)
	go p.run(ctx)
	return nil
}

// Stop halts the feed
func (p *MockDataProvider) Stop() {
	if p.cancel != nil {
		p.cancel()
	}
}

// Ticks returns the tick stream
func (p *MockDataProvider) Ticks() <-chan models.ChangeUpdate {
	return p.ticks
}

func (p *MockDataProvider) run(ctx context.Context) {
	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case cmd := <-p.cmds:
			cmd()
		case <-ticker.C:
			for symbol := range p.symbols {
				update := models.ChangeUpdate{
					Symbol: symbol,
					Ltp:    100 + rand.Float64()*100,
					Ltq:    10,
					Ltt:    time.Now().UTC(),
				}
				select {
				case p.ticks <- update:
				case <-ctx.Done():
					return
				}
			}
		}
	}
}
