package alerts

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/stockterm/terminalapi/internal/models"
	"github.com/stockterm/terminalapi/pkg/utils/zaplogger"
)

const dispatchQueueCapacity = 1024

// Handler consumes a triggered alert. Handlers are invoked in registration
// order; a failing handler never aborts the others.
type Handler func(ctx context.Context, alert models.AlertModel) error

// Dispatcher owns a FIFO queue of triggered alerts and a list of handlers.
// The queue is bounded and Enqueue blocks when it is full: triggered alerts
// are not droppable, unlike quote events.
type Dispatcher struct {
	queue    chan models.AlertModel
	handlers []Handler
}

// NewDispatcher creates an empty dispatcher
func NewDispatcher() *Dispatcher {
	return &Dispatcher{queue: make(chan models.AlertModel, dispatchQueueCapacity)}
}

// RegisterHandler appends a handler. Must be called before Run.
func (d *Dispatcher) RegisterHandler(h Handler) {
	d.handlers = append(d.handlers, h)
}

// Enqueue adds a triggered alert to the queue
func (d *Dispatcher) Enqueue(alert models.AlertModel) {
	d.queue <- alert
}

// Run pops alerts in FIFO order and invokes every handler for each until
// ctx is cancelled.
func (d *Dispatcher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case alert := <-d.queue:
			d.handleAlert(ctx, alert)
		}
	}
}

func (d *Dispatcher) handleAlert(ctx context.Context, alert models.AlertModel) {
	for _, h := range d.handlers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					zaplogger.Error("Panic in alert handler", zaplogger.Fields{"alert": alert.ID, "panic": fmt.Sprint(r)})
				}
			}()
			if err := h(ctx, alert); err != nil {
				zaplogger.Error("Error in alert handler", zaplogger.Fields{"alert": alert.ID, "error": err})
			}
		}()
	}
}

// WebhookHandler POSTs {"alert": <alert>} to the configured URL. Non-2xx
// responses are logged and dropped; retries are left to the webhook
// consumer.
func WebhookHandler(webhookURL string) Handler {
	client := resty.New().SetTimeout(20 * time.Second)
	return func(ctx context.Context, alert models.AlertModel) error {
		resp, err := client.R().
			SetContext(ctx).
			SetHeader("Content-Type", "application/json").
			SetBody(map[string]interface{}{"alert": alert}).
			Post(webhookURL)
		if err != nil {
			return fmt.Errorf("webhook post failed: %w", err)
		}
		if resp.IsError() {
			return fmt.Errorf("webhook returned status %d", resp.StatusCode())
		}
		return nil
	}
}
