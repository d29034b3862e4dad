package alerts

import (
	"context"
	"fmt"

	"github.com/stockterm/terminalapi/internal/models"
	"github.com/stockterm/terminalapi/pkg/utils/zaplogger"
)

// AlertStore is the persistence surface the engine needs. Satisfied by
// repository.AlertRepository.
type AlertStore interface {
	FetchActiveAlerts() ([]models.AlertModel, error)
	MarkTriggered(id string, price float64) error
	SubscribeToChanges(
		ctx context.Context,
		onInsert func(models.AlertModel),
		onUpdate func(models.AlertModel),
		onDelete func(string),
	) error
}

// Engine drives alert evaluation. All state (the Manager index and the
// provider subscription set) is owned by the Run goroutine; store change
// callbacks arrive on arbitrary goroutines and are marshalled onto it
// through the command channel.
type Engine struct {
	store      AlertStore
	provider   DataProvider
	manager    *Manager
	dispatcher *Dispatcher
	cmds       chan func()
}

// NewEngine creates a stopped engine
func NewEngine(store AlertStore, provider DataProvider, dispatcher *Dispatcher) *Engine {
	return &Engine{
		store:      store,
		provider:   provider,
		manager:    NewManager(),
		dispatcher: dispatcher,
		cmds:       make(chan func(), 64),
	}
}

// Run loads the active alert set, subscribes to store changes and the quote
// feed, and evaluates ticks until ctx is cancelled. Blocking call.
func (e *Engine) Run(ctx context.Context) error {
	alerts, err := e.store.FetchActiveAlerts()
	if err != nil {
		return fmt.Errorf("failed to load active alerts: %w", err)
	}
	for _, a := range alerts {
		e.addAlert(a)
	}
	zaplogger.Info("Alert engine started", zaplogger.Fields{
		"alerts":  len(alerts),
		"symbols": len(e.manager.Symbols()),
	})

	err = e.store.SubscribeToChanges(ctx,
		func(a models.AlertModel) { e.post(ctx, func() { e.onInsert(a) }) },
		func(a models.AlertModel) { e.post(ctx, func() { e.onUpdate(a) }) },
		func(id string) { e.post(ctx, func() { e.onDelete(id) }) },
	)
	if err != nil {
		return fmt.Errorf("failed to subscribe to alert changes: %w", err)
	}

	if err := e.provider.Start(ctx); err != nil {
		return fmt.Errorf("failed to start quote provider: %w", err)
	}
	defer e.provider.Stop()

	go e.dispatcher.Run(ctx)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case cmd := <-e.cmds:
			cmd()
		case update := <-e.provider.Ticks():
			e.onTick(ctx, update)
		}
	}
}

// post marshals a callback onto the engine goroutine
func (e *Engine) post(ctx context.Context, fn func()) {
	select {
	case e.cmds <- fn:
	case <-ctx.Done():
	}
}

// onTick evaluates every alert on the tick's symbol. A firing alert is
// removed from the index before the store write so it can never fire twice,
// even if MarkTriggered fails.
func (e *Engine) onTick(ctx context.Context, update models.ChangeUpdate) {
	for _, alert := range e.manager.Get(update.Symbol) {
		if !Evaluate(&alert, update) {
			continue
		}
		zaplogger.Info("Alert triggered", zaplogger.Fields{
			"alert":  alert.ID,
			"symbol": alert.Symbol,
			"ltp":    update.Ltp,
		})
		e.manager.Remove(alert)
		e.dispatcher.Enqueue(alert)
		go func(id string, price float64) {
			if err := e.store.MarkTriggered(id, price); err != nil {
				zaplogger.Error("Failed to mark alert triggered", zaplogger.Fields{"alert": id, "error": err})
			}
		}(alert.ID, update.Ltp)
	}
	if !e.manager.Has(update.Symbol) {
		e.provider.Unsubscribe(update.Symbol)
	}
}

// addAlert indexes a live alert and ensures its symbol is subscribed
func (e *Engine) addAlert(alert models.AlertModel) {
	e.manager.Add(alert)
	e.provider.Subscribe(alert.Symbol)
}

func (e *Engine) onInsert(alert models.AlertModel) {
	if !alert.IsLive() {
		return
	}
	e.addAlert(alert)
}

// onUpdate replaces any existing version of the alert. The symbol may have
// changed, so the old symbol's subscription is released when its bucket
// empties; deactivated alerts are simply dropped.
func (e *Engine) onUpdate(alert models.AlertModel) {
	old, existed := e.manager.RemoveByID(alert.ID)
	if alert.IsLive() {
		e.addAlert(alert)
	}
	if existed && !e.manager.Has(old.Symbol) {
		e.provider.Unsubscribe(old.Symbol)
	}
}

func (e *Engine) onDelete(id string) {
	old, existed := e.manager.RemoveByID(id)
	if existed && !e.manager.Has(old.Symbol) {
		e.provider.Unsubscribe(old.Symbol)
	}
}
