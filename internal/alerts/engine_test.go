package alerts

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stockterm/terminalapi/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStore struct {
	mu        sync.Mutex
	alerts    []models.AlertModel
	triggered []string
	onInsert  func(models.AlertModel)
	onUpdate  func(models.AlertModel)
	onDelete  func(string)
}

func (s *fakeStore) FetchActiveAlerts() ([]models.AlertModel, error) {
	return s.alerts, nil
}

func (s *fakeStore) MarkTriggered(id string, price float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.triggered = append(s.triggered, id)
	return nil
}

func (s *fakeStore) SubscribeToChanges(
	ctx context.Context,
	onInsert func(models.AlertModel),
	onUpdate func(models.AlertModel),
	onDelete func(string),
) error {
	s.onInsert = onInsert
	s.onUpdate = onUpdate
	s.onDelete = onDelete
	return nil
}

func (s *fakeStore) triggeredIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.triggered...)
}

type fakeProvider struct {
	mu         sync.Mutex
	subscribed map[string]bool
	ticks      chan models.ChangeUpdate
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{
		subscribed: make(map[string]bool),
		ticks:      make(chan models.ChangeUpdate),
	}
}

func (p *fakeProvider) Subscribe(symbol string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.subscribed[symbol] = true
}

func (p *fakeProvider) Unsubscribe(symbol string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.subscribed, symbol)
}

func (p *fakeProvider) Start(ctx context.Context) error          { return nil }
func (p *fakeProvider) Stop()                                    {}
func (p *fakeProvider) Ticks() <-chan models.ChangeUpdate        { return p.ticks }
func (p *fakeProvider) isSubscribed(symbol string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.subscribed[symbol]
}

func mustAttr(t *testing.T, value float64) json.RawMessage {
	t.Helper()
	attr, err := json.Marshal(models.RhsAttr{Constant: &value})
	require.NoError(t, err)
	return attr
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}

func TestEngineFiresAlertOnce(t *testing.T) {
	alert := models.AlertModel{
		ID:       "a1",
		Symbol:   "NSE:SBIN",
		IsActive: true,
		LhsType:  "last_price",
		Operator: models.OperatorGT,
		RhsType:  models.RhsTypeConstant,
		RhsAttr:  mustAttr(t, 500),
	}
	store := &fakeStore{alerts: []models.AlertModel{alert}}
	provider := newFakeProvider()
	dispatcher := NewDispatcher()

	var mu sync.Mutex
	var fired []models.AlertModel
	dispatcher.RegisterHandler(func(ctx context.Context, a models.AlertModel) error {
		mu.Lock()
		defer mu.Unlock()
		fired = append(fired, a)
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	engine := NewEngine(store, provider, dispatcher)
	go engine.Run(ctx)

	waitFor(t, func() bool { return provider.isSubscribed("NSE:SBIN") }, "symbol never subscribed")

	// Below the threshold: nothing fires
	provider.ticks <- models.ChangeUpdate{Symbol: "NSE:SBIN", Ltp: 499, Ltt: time.Now()}

	// Crossing tick fires exactly once
	provider.ticks <- models.ChangeUpdate{Symbol: "NSE:SBIN", Ltp: 501, Ltt: time.Now()}
	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(fired) == 1
	}, "alert never dispatched")

	// Another crossing tick must not re-fire the consumed alert, and the
	// now-empty symbol must be unsubscribed.
	provider.ticks <- models.ChangeUpdate{Symbol: "NSE:SBIN", Ltp: 600, Ltt: time.Now()}
	waitFor(t, func() bool { return !provider.isSubscribed("NSE:SBIN") }, "symbol never unsubscribed")

	waitFor(t, func() bool { return len(store.triggeredIDs()) == 1 }, "alert never marked triggered")
	mu.Lock()
	defer mu.Unlock()
	require.Len(t, fired, 1)
	assert.Equal(t, "a1", fired[0].ID)
	assert.Equal(t, []string{"a1"}, store.triggeredIDs())
}

func TestEngineChangeFeed(t *testing.T) {
	store := &fakeStore{}
	provider := newFakeProvider()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	engine := NewEngine(store, provider, NewDispatcher())
	go engine.Run(ctx)

	waitFor(t, func() bool { return store.onInsert != nil }, "change feed never attached")

	alert := models.AlertModel{
		ID:       "a1",
		Symbol:   "NSE:TCS",
		IsActive: true,
		LhsType:  "last_price",
		Operator: models.OperatorGT,
		RhsType:  models.RhsTypeConstant,
		RhsAttr:  mustAttr(t, 4000),
	}
	store.onInsert(alert)
	waitFor(t, func() bool { return provider.isSubscribed("NSE:TCS") }, "insert never subscribed symbol")

	// Update moves the alert to a new symbol; old subscription is released
	moved := alert
	moved.Symbol = "NSE:INFY"
	store.onUpdate(moved)
	waitFor(t, func() bool {
		return provider.isSubscribed("NSE:INFY") && !provider.isSubscribed("NSE:TCS")
	}, "update never moved subscription")

	// Deactivation via update drops the alert entirely
	inactive := moved
	inactive.IsActive = false
	store.onUpdate(inactive)
	waitFor(t, func() bool { return !provider.isSubscribed("NSE:INFY") }, "deactivate never unsubscribed")

	// Delete of an unknown id is a no-op
	store.onDelete("missing")
}
