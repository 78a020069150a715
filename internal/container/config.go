// Package container provides dependency injection and lifecycle management
// for the document approval service.
package container

import (
	"fmt"
	"time"
)

// Config holds all configuration for the Container.
// It aggregates configurations for all subsystems.
type Config struct {
	// Database configuration
	Database DatabaseConfig

	// Workflow engine configuration
	Workflow WorkflowConfig

	// Lark notification configuration
	Lark LarkConfig

	// Server configuration
	Server ServerConfig
}

// DatabaseConfig holds database connection settings.
type DatabaseConfig struct {
	// Path to SQLite database file
	Path string

	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	BusyTimeout     time.Duration

	// MigrationsDir overrides the embedded migrations when non-empty
	MigrationsDir string
}

// WorkflowConfig holds engine and background job settings.
type WorkflowConfig struct {
	// AdminRole holders may decide any task
	AdminRole string

	// BulkConcurrency bounds parallel items of one bulk request
	BulkConcurrency int

	TemplateCacheTTL  time.Duration
	TemplateCacheSize uint64

	// ReminderInterval is how often overdue assignees are reminded; zero disables reminders
	ReminderInterval time.Duration
}

// LarkConfig holds Lark API settings.
type LarkConfig struct {
	// Enabled switches notifications from the log to Lark IM
	Enabled bool

	AppID      string
	AppSecret  string
	BaseURL    string
	APITimeout time.Duration
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host            string
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Database: DatabaseConfig{
			Path:            "data/workflow.db",
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
			BusyTimeout:     5 * time.Second,
		},
		Workflow: WorkflowConfig{
			AdminRole:         "ADMIN",
			BulkConcurrency:   4,
			TemplateCacheTTL:  10 * time.Minute,
			TemplateCacheSize: 256,
			ReminderInterval:  15 * time.Minute,
		},
		Lark: LarkConfig{
			APITimeout: 30 * time.Second,
		},
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
	}
}

// Validate checks that required configuration values are present.
func (c *Config) Validate() error {
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}

	if c.Workflow.BulkConcurrency < 1 {
		return fmt.Errorf("workflow.bulk_concurrency must be at least 1")
	}

	if c.Lark.Enabled && (c.Lark.AppID == "" || c.Lark.AppSecret == "") {
		return fmt.Errorf("lark.app_id and lark.app_secret are required when lark is enabled")
	}

	return nil
}
