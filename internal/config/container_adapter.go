package config

import (
	"github.com/garyjia/doc-approval/internal/container"
)

// ToContainerConfig converts the application Config to a container.Config.
// This provides a bridge between the file-based config loaded by viper
// and the container's configuration structure.
func (c *Config) ToContainerConfig() *container.Config {
	return &container.Config{
		Database: container.DatabaseConfig{
			Path:            c.Database.Path,
			MaxOpenConns:    c.Database.MaxOpenConns,
			MaxIdleConns:    c.Database.MaxIdleConns,
			ConnMaxLifetime: c.Database.ConnMaxLifetime,
			BusyTimeout:     c.Database.BusyTimeout,
			MigrationsDir:   c.Database.MigrationsDir,
		},
		Workflow: container.WorkflowConfig{
			AdminRole:         c.Workflow.AdminRole,
			BulkConcurrency:   c.Workflow.BulkConcurrency,
			TemplateCacheTTL:  c.Workflow.TemplateCacheTTL,
			TemplateCacheSize: c.Workflow.TemplateCacheSize,
			ReminderInterval:  c.Workflow.ReminderInterval,
		},
		Lark: container.LarkConfig{
			Enabled:    c.Notification.Lark.Enabled,
			AppID:      c.Notification.Lark.AppID,
			AppSecret:  c.Notification.Lark.AppSecret,
			BaseURL:    c.Notification.Lark.BaseURL,
			APITimeout: c.Notification.Lark.APITimeout,
		},
		Server: container.ServerConfig{
			Host:            c.Server.Host,
			Port:            c.Server.Port,
			ReadTimeout:     c.Server.ReadTimeout,
			WriteTimeout:    c.Server.WriteTimeout,
			ShutdownTimeout: c.Server.ShutdownTimeout,
		},
	}
}
