// Package service contains the service layer for the Terminal API
package service

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/stockterm/terminalapi/internal/alerts"
	"github.com/stockterm/terminalapi/internal/models"
	"github.com/stockterm/terminalapi/pkg/utils/zaplogger"
)

// TriggeredAlertsChannel is the Redis channel triggered alerts are
// published on, for consumers beyond the webhook.
var TriggeredAlertsChannel = "terminalapi.alerts.triggered"

// PublishService fans triggered alerts out to Redis
type PublishService struct {
	redisClient *redis.Client
}

// NewPublishService creates a new PublishService
func NewPublishService(redisClient *redis.Client) *PublishService {
	return &PublishService{redisClient: redisClient}
}

// AlertHandler returns a dispatcher handler that publishes each triggered
// alert as JSON on TriggeredAlertsChannel.
func (s *PublishService) AlertHandler() alerts.Handler {
	return func(ctx context.Context, alert models.AlertModel) error {
		payload, err := json.Marshal(alert)
		if err != nil {
			return fmt.Errorf("failed to marshal alert %s: %w", alert.ID, err)
		}
		if err := s.redisClient.Publish(ctx, TriggeredAlertsChannel, payload).Err(); err != nil {
			return fmt.Errorf("failed to publish alert %s: %w", alert.ID, err)
		}
		zaplogger.Debug("Alert published", zaplogger.Fields{"alert": alert.ID, "channel": TriggeredAlertsChannel})
		return nil
	}
}
