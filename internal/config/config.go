// Package config loads configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"reflect"
	"strings"
	"sync"
)

// Config represents the application configuration.
// Fields tagged ",optional" fall back to the default tag when unset.
type Config struct {
	APIName         string `env:"TERMINAL_API_APP_NAME,optional" default:"Terminal API"`
	APIVersion      string `env:"TERMINAL_API_APP_VERSION,optional" default:"dev"`
	ServerPort      string `env:"PORT,optional" default:"8000"`
	ServerLogLevel  string `env:"TERMINAL_API_SERVER_LOG_LEVEL,optional" default:"info"`
	PostgresDsn     string `env:"SUPABASE_URL"`
	PostgresKey     string `env:"SUPABASE_SERVICE_KEY"`
	PostgresLog     string `env:"TERMINAL_API_PG_LOG_LEVEL,optional" default:"warn"`
	RedisHost       string `env:"TERMINAL_API_REDIS_HOST,optional" default:"localhost"`
	RedisPort       string `env:"TERMINAL_API_REDIS_PORT,optional" default:"6379"`
	RedisPassword   string `env:"TERMINAL_API_REDIS_PASSWORD,optional" default:""`
	AlertWebhookURL string `env:"ALERT_WEBOOK_URL,optional" default:""`
	FundamentalURL  string `env:"STOCK_FUNDAMENTAL_BASE_URL,optional" default:""`
	BaseFilePath    string `env:"BASE_FILE_PATH,optional" default:""`
}

var (
	SingleLine string = "--------------------------------------------------"
)

var (
	instance *Config
	once     sync.Once
	err      error
)

// Get returns the application configuration
func Get() (*Config, error) {
	once.Do(func() {
		instance, err = loadConfig()
	})
	return instance, err
}

// loadConfig loads configuration from environment variables
func loadConfig() (*Config, error) {
	cfg := &Config{}
	if err := cfg.loadFromEnv(); err != nil {
		return nil, err
	}
	if cfg.BaseFilePath == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, err
		}
		cfg.BaseFilePath = wd
	}
	return cfg, nil
}

// loadFromEnv loads configuration from environment variables
func (c *Config) loadFromEnv() error {
	t := reflect.TypeOf(*c)
	v := reflect.ValueOf(c).Elem()

	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		envTag := field.Tag.Get("env")
		if envTag == "" {
			return fmt.Errorf("missing env tag for field %s", field.Name)
		}

		name, opts, _ := strings.Cut(envTag, ",")
		optional := opts == "optional"

		value := os.Getenv(name)
		if value == "" {
			if !optional {
				return fmt.Errorf("env variable %s is required but not set", name)
			}
			value = field.Tag.Get("default")
		}

		v.Field(i).SetString(value)
	}

	return nil
}

// RequireAlertWebhook fails when the alert webhook URL is not configured.
// Only the alerts mode needs it, so it is not checked in loadFromEnv.
func (c *Config) RequireAlertWebhook() error {
	if c.AlertWebhookURL == "" {
		return fmt.Errorf("env variable ALERT_WEBOOK_URL is required but not set")
	}
	return nil
}

// String returns the configuration as a string
func (c *Config) String() string {
	var sb strings.Builder
	sb.WriteString("\n--------------------------------------\n")
	sb.WriteString("Configuration:\n")
	sb.WriteString("--------------------------------------\n")

	t := reflect.TypeOf(*c)
	v := reflect.ValueOf(*c)

	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		value := v.Field(i).String()

		// Mask sensitive fields
		value = maskSensitiveField(field.Name, value)
		sb.WriteString(fmt.Sprintf("  %s:  %s\n", field.Name, value))
	}

	sb.WriteString("--------------------------------------\n")

	return sb.String()
}

func maskSensitiveField(fieldName, value string) string {
	sensitiveFields := []string{"token", "dsn", "key", "secret", "password", "url"}

	fieldNameLower := strings.ToLower(fieldName)
	for _, sensitive := range sensitiveFields {
		if strings.Contains(fieldNameLower, sensitive) {
			return maskValue(value)
		}
	}

	return value
}

func maskValue(value string) string {
	if len(value) <= 3 {
		return strings.Repeat("*", 7)
	}
	return value[:3] + strings.Repeat("*", 7)
}
