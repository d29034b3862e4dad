package service

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/stockterm/terminalapi/internal/scanner"
	"github.com/stockterm/terminalapi/pkg/utils/zaplogger"
)

// refreshTimeout bounds one full candle download per market
const refreshTimeout = 30 * time.Minute

// CronService is the service for the cron jobs
type CronService struct {
	c       *cron.Cron
	engines map[string]*scanner.Engine
}

// NewCronService creates a new CronService over the per-market scan engines
func NewCronService(engines map[string]*scanner.Engine) *CronService {
	return &CronService{
		c:       cron.New(),
		engines: engines,
	}
}

// Start starts the cron service
func (cs *CronService) Start() {
	zaplogger.Info("Initializing CronService")

	// ------------------------------------------------------------
	// Add your SCHEDULED jobs here
	// ------------------------------------------------------------
	cs.addScheduledJob("Scanner Data REFRESH Job", cs.scannerRefreshJob, "0 7 * * 1-5") // Once at 07:00am, Mon-Fri

	cs.c.Start()
}

// Stop stops the cron service
func (cs *CronService) Stop() {
	cs.c.Stop()
}

// addScheduledJob adds a scheduled job to the cron service
func (cs *CronService) addScheduledJob(name string, job func(), schedule string) {
	_, err := cs.c.AddFunc(schedule, func() {
		zaplogger.Info("Scheduled job started", zaplogger.Fields{"job": name})
		job()
		zaplogger.Info("Scheduled job completed", zaplogger.Fields{"job": name})
	})
	if err != nil {
		zaplogger.Error("Failed to schedule job", zaplogger.Fields{"job": name, "error": err})
		return
	}
	zaplogger.Info("Scheduled job added", zaplogger.Fields{"job": name, "schedule": schedule})
}

// scannerRefreshJob re-downloads candles and reloads metadata per market
func (cs *CronService) scannerRefreshJob() {
	for market, engine := range cs.engines {
		ctx, cancel := context.WithTimeout(context.Background(), refreshTimeout)
		if err := engine.Refresh(ctx); err != nil {
			zaplogger.Error("Scanner refresh failed", zaplogger.Fields{"market": market, "error": err})
		}
		cancel()
	}
}
