package config

import (
	"fmt"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	// Admin HTTP server (health, metrics, manual run)
	AdminAddr string

	// Storage
	DataBackend  string
	SQLiteDBPath string

	// AMQP (optional)
	AMQPURL          string
	AMQPExchange     string
	AMQPNotifyQueue  string
	AMQPTriggerQueue string

	// Recurring scheduler
	RecurringRunAt        string
	RecurringRunOnStartup bool
	RecurringWorkers      int
	RecurringItemTimeout  time.Duration

	// Notifications
	ReminderLeadDays  int
	DedupeWindow      time.Duration
	BudgetAlertDedupe bool

	// Logging
	LogLevel  string
	LogFormat string
}

func Load() *Config {
	cfg := &Config{
		AdminAddr: getEnv("ADMIN_ADDR", ":8081"),

		DataBackend:  getEnv("DATA_BACKEND", "sqlite"),
		SQLiteDBPath: getEnv("SQLITE_DB_PATH", "./data/finplan.db"),

		AMQPURL:          getEnv("AMQP_URL", ""),
		AMQPExchange:     getEnv("AMQP_EXCHANGE", "finplan"),
		AMQPNotifyQueue:  getEnv("AMQP_NOTIFY_QUEUE", "finplan.notifications"),
		AMQPTriggerQueue: getEnv("AMQP_TRIGGER_QUEUE", "finplan.run_requests"),

		RecurringRunAt:        getEnv("RECURRING_RUN_AT", "06:00"),
		RecurringRunOnStartup: getEnvBool("RECURRING_RUN_ON_STARTUP", true),
		RecurringWorkers:      getEnvInt("RECURRING_WORKERS", 4),
		RecurringItemTimeout:  getEnvDuration("RECURRING_ITEM_TIMEOUT", 30*time.Second),

		ReminderLeadDays:  getEnvInt("REMINDER_LEAD_DAYS", 3),
		DedupeWindow:      getEnvDuration("DEDUPE_WINDOW", 24*time.Hour),
		BudgetAlertDedupe: getEnvBool("BUDGET_ALERT_DEDUPE", false),

		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "text"),
	}

	return cfg
}

// Validate validates the configuration and returns an error if invalid
func (c *Config) Validate() error {
	var errors []string

	// Validate admin address
	if c.AdminAddr != "" {
		if _, portStr, err := net.SplitHostPort(c.AdminAddr); err != nil {
			errors = append(errors, fmt.Sprintf("invalid admin address '%s': %v", c.AdminAddr, err))
		} else if port, err := strconv.Atoi(portStr); err != nil {
			errors = append(errors, fmt.Sprintf("invalid admin port '%s': must be a number", portStr))
		} else if port < 1 || port > 65535 {
			errors = append(errors, fmt.Sprintf("invalid admin port %d: must be between 1 and 65535", port))
		}
	}

	// Validate data backend
	validBackends := []string{"memory", "sqlite"}
	isValidBackend := false
	for _, backend := range validBackends {
		if c.DataBackend == backend {
			isValidBackend = true
			break
		}
	}
	if !isValidBackend {
		errors = append(errors, fmt.Sprintf("invalid data backend '%s': must be one of %v", c.DataBackend, validBackends))
	}

	// Validate SQLite configuration if backend is sqlite
	if c.DataBackend == "sqlite" {
		if c.SQLiteDBPath == "" {
			errors = append(errors, "SQLite database path cannot be empty when using sqlite backend")
		} else {
			// Check if directory exists or can be created
			dir := filepath.Dir(c.SQLiteDBPath)
			if dir != "." && dir != "" {
				if _, err := os.Stat(dir); os.IsNotExist(err) {
					if err := os.MkdirAll(dir, 0755); err != nil {
						errors = append(errors, fmt.Sprintf("cannot create SQLite database directory '%s': %v", dir, err))
					}
				}
			}
		}
	}

	// Validate AMQP settings if a broker is configured
	if c.AMQPURL != "" {
		if parsedURL, err := url.Parse(c.AMQPURL); err != nil {
			errors = append(errors, fmt.Sprintf("invalid AMQP URL '%s': %v", c.AMQPURL, err))
		} else if parsedURL.Scheme != "amqp" && parsedURL.Scheme != "amqps" {
			errors = append(errors, fmt.Sprintf("invalid AMQP URL scheme '%s': must be 'amqp' or 'amqps'", parsedURL.Scheme))
		}
		if c.AMQPExchange == "" {
			errors = append(errors, "AMQP exchange name cannot be empty when AMQP URL is provided")
		}
		if c.AMQPNotifyQueue == "" {
			errors = append(errors, "AMQP notification queue cannot be empty when AMQP URL is provided")
		}
		if c.AMQPTriggerQueue == "" {
			errors = append(errors, "AMQP trigger queue cannot be empty when AMQP URL is provided")
		}
		if c.AMQPNotifyQueue != "" && c.AMQPNotifyQueue == c.AMQPTriggerQueue {
			errors = append(errors, "AMQP notification and trigger queues must differ")
		}
	}

	// Validate scheduler configuration
	if _, err := time.Parse("15:04", c.RecurringRunAt); err != nil {
		errors = append(errors, fmt.Sprintf("invalid run time '%s': must be HH:MM", c.RecurringRunAt))
	}
	if c.RecurringWorkers < 1 {
		errors = append(errors, fmt.Sprintf("invalid worker count %d: must be at least 1", c.RecurringWorkers))
	} else if c.RecurringWorkers > 64 {
		errors = append(errors, fmt.Sprintf("invalid worker count %d: must be at most 64", c.RecurringWorkers))
	}
	if c.RecurringItemTimeout < time.Second {
		errors = append(errors, fmt.Sprintf("invalid item timeout %v: must be at least 1 second", c.RecurringItemTimeout))
	}

	// Validate notification configuration
	if c.ReminderLeadDays < 0 {
		errors = append(errors, fmt.Sprintf("invalid reminder lead days %d: must not be negative", c.ReminderLeadDays))
	}
	if c.DedupeWindow < time.Minute {
		errors = append(errors, fmt.Sprintf("invalid dedupe window %v: must be at least 1 minute", c.DedupeWindow))
	}

	// Validate logging
	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "warning", "error":
	default:
		errors = append(errors, fmt.Sprintf("invalid log level '%s': must be debug, info, warn or error", c.LogLevel))
	}
	if c.LogFormat != "text" && c.LogFormat != "json" {
		errors = append(errors, fmt.Sprintf("invalid log format '%s': must be 'text' or 'json'", c.LogFormat))
	}

	// Return combined errors
	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed:\n- %s", strings.Join(errors, "\n- "))
	}

	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}
