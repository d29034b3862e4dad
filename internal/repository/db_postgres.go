// Package repository contains the repository layer for the Terminal API
package repository

import (
	"fmt"

	"github.com/stockterm/terminalapi/internal/config"
	"github.com/stockterm/terminalapi/internal/models"
	"github.com/stockterm/terminalapi/pkg/utils/zaplogger"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// SchemaName is the schema holding all Terminal API tables
var SchemaName = "api"

// AlertsChangeChannel is the Postgres NOTIFY channel carrying alert row changes
var AlertsChangeChannel = "CH:API:ALERTS:CHANGES"

// ConnectPostgres connects to a Postgres database and returns a GORM database object
func ConnectPostgres(cfg *config.Config) (*gorm.DB, error) {
	zaplogger.Info(config.SingleLine)
	zaplogger.Info("Initializing Postgres")
	zaplogger.Info(config.SingleLine)

	// Set up GORM logger
	var logLevel logger.LogLevel
	switch cfg.PostgresLog {
	case "silent":
		logLevel = logger.Silent
	case "error":
		logLevel = logger.Error
	case "warn":
		logLevel = logger.Warn
	case "info":
		logLevel = logger.Info
	default:
		logLevel = logger.Warn
	}

	gormConfig := &gorm.Config{
		Logger: logger.Default.LogMode(logLevel),
	}

	// Open database connection
	postgresDSN := cfg.PostgresDsn + " search_path=api,public"
	db, err := gorm.Open(postgres.Open(postgresDSN), gormConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Postgres: %v", err)
	}

	zaplogger.Info("  * connected")

	// Create the schema if it doesn't exist
	createSchemaSql := fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s", SchemaName)
	if err := db.Exec(createSchemaSql).Error; err != nil {
		return nil, fmt.Errorf("failed to create schema: %v", err)
	}
	zaplogger.Info("  * migrating schema: \"" + SchemaName + "\"")

	// AutoMigrate will create tables and add/modify columns
	if err := autoMigrate(db); err != nil {
		return nil, fmt.Errorf("failed to auto migrate: %v", err)
	}

	// Install the alert change-feed trigger
	if err := installAlertChangeTrigger(db); err != nil {
		return nil, err
	}
	zaplogger.Info("  * alert change trigger installed")

	return db, nil
}

func autoMigrate(db *gorm.DB) error {
	tables := []struct {
		name  string
		model interface{}
	}{
		{models.AlertsTableName, &models.AlertModel{}},
		{models.SymbolsTableName, &models.SymbolModel{}},
	}

	zaplogger.Info("  * migrating tables")
	for _, table := range tables {
		err := db.Table(SchemaName + "." + table.name).AutoMigrate(table.model)
		if err != nil {
			return fmt.Errorf("failed to auto migrate table: %s, err:%v", table.name, err)
		}
		zaplogger.Info("    - \"" + SchemaName + "." + table.name + "\"")
	}

	return nil
}

// installAlertChangeTrigger emits a NOTIFY with {action, record} JSON on every
// alert row change so the alert engine can follow the table without polling.
func installAlertChangeTrigger(db *gorm.DB) error {
	fn := fmt.Sprintf(`
CREATE OR REPLACE FUNCTION %s.notify_alert_change() RETURNS trigger AS $$
DECLARE
	payload TEXT;
BEGIN
	IF (TG_OP = 'DELETE') THEN
		payload := json_build_object('action', 'DELETE', 'record', row_to_json(OLD))::text;
	ELSE
		payload := json_build_object('action', TG_OP, 'record', row_to_json(NEW))::text;
	END IF;
	PERFORM pg_notify('%s', payload);
	RETURN NULL;
END;
$$ LANGUAGE plpgsql;`, SchemaName, AlertsChangeChannel)

	if err := db.Exec(fn).Error; err != nil {
		return fmt.Errorf("failed to create alert notify function: %v", err)
	}

	trigger := fmt.Sprintf(`
DROP TRIGGER IF EXISTS alerts_change_notify ON %s.%s;
CREATE TRIGGER alerts_change_notify
AFTER INSERT OR UPDATE OR DELETE ON %s.%s
FOR EACH ROW EXECUTE FUNCTION %s.notify_alert_change();`,
		SchemaName, models.AlertsTableName, SchemaName, models.AlertsTableName, SchemaName)

	if err := db.Exec(trigger).Error; err != nil {
		return fmt.Errorf("failed to create alert notify trigger: %v", err)
	}
	return nil
}
