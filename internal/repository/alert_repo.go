// Package repository contains the repository layer for the Terminal API
package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/stockterm/terminalapi/internal/models"
	"github.com/stockterm/terminalapi/pkg/utils/zaplogger"
	"gorm.io/gorm"
)

// AlertChangePayload is the JSON body of an alert change notification
type AlertChangePayload struct {
	Action string            `json:"action"`
	Record models.AlertModel `json:"record"`
}

// AlertRepository is the store adapter for alerts. It reads the alert table
// and follows row changes through the Postgres NOTIFY channel installed by
// ConnectPostgres. The repository holds no reference to its consumers; the
// engine passes callbacks into SubscribeToChanges.
type AlertRepository struct {
	db        *gorm.DB
	pgConnStr string
}

// NewAlertRepository creates a new AlertRepository
func NewAlertRepository(db *gorm.DB, pgConnStr string) *AlertRepository {
	return &AlertRepository{db: db, pgConnStr: pgConnStr}
}

// FetchActiveAlerts returns all live alerts
func (r *AlertRepository) FetchActiveAlerts() ([]models.AlertModel, error) {
	var alerts []models.AlertModel
	err := r.db.
		Where("is_active = ? AND deleted_at IS NULL", true).
		Find(&alerts).Error
	if err != nil {
		return nil, fmt.Errorf("failed to fetch active alerts: %w", err)
	}
	return alerts, nil
}

// MarkTriggered deactivates an alert and records the trigger price and time.
// The update is idempotent.
func (r *AlertRepository) MarkTriggered(id string, price float64) error {
	now := time.Now()
	err := r.db.Model(&models.AlertModel{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"is_active":            false,
			"last_triggered_at":    now,
			"last_triggered_price": price,
		}).Error
	if err != nil {
		return fmt.Errorf("failed to mark alert %s triggered: %w", id, err)
	}
	return nil
}

// SubscribeToChanges listens on the alert change channel and invokes the
// given callbacks until ctx is cancelled. Inserts and updates deliver the
// full row; deletes deliver the row id. Per-row causal order is preserved
// by Postgres; no cross-row ordering is guaranteed.
func (r *AlertRepository) SubscribeToChanges(
	ctx context.Context,
	onInsert func(models.AlertModel),
	onUpdate func(models.AlertModel),
	onDelete func(string),
) error {
	listener := pq.NewListener(r.pgConnStr, 10*time.Second, time.Minute, nil)
	if err := listener.Listen(AlertsChangeChannel); err != nil {
		return fmt.Errorf("failed to listen on %s: %w", AlertsChangeChannel, err)
	}

	go func() {
		defer listener.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case n := <-listener.Notify:
				if n == nil {
					// Listener reconnected; state is resynced at next startup
					continue
				}
				r.dispatchChange(n.Extra, onInsert, onUpdate, onDelete)
			case <-time.After(90 * time.Second):
				go func() {
					if err := listener.Ping(); err != nil {
						zaplogger.Error("Error pinging PostgreSQL", zaplogger.Fields{"error": err})
					}
				}()
			}
		}
	}()
	return nil
}

func (r *AlertRepository) dispatchChange(
	payload string,
	onInsert func(models.AlertModel),
	onUpdate func(models.AlertModel),
	onDelete func(string),
) {
	var change AlertChangePayload
	if err := json.Unmarshal([]byte(payload), &change); err != nil {
		zaplogger.Error("Failed to decode alert change payload", zaplogger.Fields{"error": err})
		return
	}
	switch change.Action {
	case "INSERT":
		onInsert(change.Record)
	case "UPDATE":
		onUpdate(change.Record)
	case "DELETE":
		onDelete(change.Record.ID)
	default:
		zaplogger.Warn("Unknown alert change action", zaplogger.Fields{"action": change.Action})
	}
}
