package container

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/garyjia/doc-approval/internal/application/dispatcher"
	"github.com/garyjia/doc-approval/internal/application/port"
	"github.com/garyjia/doc-approval/internal/application/service"
	"github.com/garyjia/doc-approval/internal/application/workflow"
	"github.com/garyjia/doc-approval/internal/infrastructure/cache"
	infraLark "github.com/garyjia/doc-approval/internal/infrastructure/external/lark"
	"github.com/garyjia/doc-approval/internal/infrastructure/notify"
	"github.com/garyjia/doc-approval/internal/infrastructure/persistence/repository"
	"github.com/garyjia/doc-approval/internal/infrastructure/persistence/sqlite"
	"github.com/garyjia/doc-approval/internal/infrastructure/worker"
	"github.com/garyjia/doc-approval/pkg/database"
)

// DatabaseBundle holds database-related components.
type DatabaseBundle struct {
	DB             *database.DB
	TransactionMgr *sqlite.DB
}

// ProvideDatabase opens the database and applies pending migrations.
// Embedded migrations are used unless cfg.MigrationsDir is set.
func ProvideDatabase(cfg *DatabaseConfig, logger *zap.Logger) (*DatabaseBundle, error) {
	if cfg == nil {
		return nil, fmt.Errorf("database config is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	db, err := database.New(database.Config{
		Path:            cfg.Path,
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
		BusyTimeout:     cfg.BusyTimeout,
	}, logger)
	if err != nil {
		return nil, err
	}

	if err := database.NewMigrator(db, logger).RunMigrations(cfg.MigrationsDir); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &DatabaseBundle{
		DB:             db,
		TransactionMgr: sqlite.NewDB(db.DB, logger),
	}, nil
}

// ProvideRepositories creates all repositories from a database connection.
// Template reads go through a TTL cache.
func ProvideRepositories(db *database.DB, cfg *WorkflowConfig, logger *zap.Logger) (*RepositoryBundle, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	templates := repository.NewTemplateRepository(db.DB, logger)
	directory := repository.NewDirectoryRepository(db.DB, logger)

	return &RepositoryBundle{
		Templates:     cache.NewTemplateCache(templates, int(cfg.TemplateCacheSize), cfg.TemplateCacheTTL, logger),
		TemplateStore: templates,
		Instances:     repository.NewInstanceRepository(db.DB, logger),
		Tasks:         repository.NewTaskRepository(db.DB, logger),
		History:       repository.NewHistoryRepository(db.DB, logger),
		Directory:     directory,
	}, nil
}

// ProvideNotifier returns a Lark IM notifier when enabled, otherwise one that logs.
func ProvideNotifier(cfg *LarkConfig, users port.UserDirectory, logger *zap.Logger) (port.Notifier, error) {
	if cfg == nil {
		return nil, fmt.Errorf("lark config is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	if !cfg.Enabled {
		logger.Info("Lark notifications disabled, notifications go to the log")
		return notify.NewLogNotifier(logger), nil
	}

	client := infraLark.NewClient(infraLark.Config{
		AppID:      cfg.AppID,
		AppSecret:  cfg.AppSecret,
		BaseURL:    cfg.BaseURL,
		APITimeout: cfg.APITimeout,
	}, logger)

	return infraLark.NewNotifier(client, users, logger), nil
}

// ProvideDispatcher creates the event dispatcher.
func ProvideDispatcher(logger *zap.Logger) (dispatcher.Dispatcher, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	return dispatcher.NewDispatcher(
		dispatcher.WithLogger(&zapLoggerAdapter{logger: logger.Named("dispatcher")}),
		dispatcher.WithHandlerTimeout(30*time.Second),
	), nil
}

// WorkflowDeps holds dependencies for the workflow engine.
type WorkflowDeps struct {
	Repos      *RepositoryBundle
	TxManager  port.TransactionManager
	Dispatcher dispatcher.Dispatcher
	Config     *WorkflowConfig
	Logger     *zap.Logger
}

// ProvideWorkflowEngine creates the workflow engine.
func ProvideWorkflowEngine(deps *WorkflowDeps) (workflow.Engine, error) {
	if deps == nil || deps.Repos == nil {
		return nil, fmt.Errorf("workflow deps are required")
	}

	return workflow.NewEngine(
		workflow.Repositories{
			Templates: deps.Repos.Templates,
			Instances: deps.Repos.Instances,
			Tasks:     deps.Repos.Tasks,
			History:   deps.Repos.History,
		},
		workflow.Directory{
			Documents: deps.Repos.Directory,
			Users:     deps.Repos.Directory,
		},
		deps.TxManager,
		workflow.WithDispatcher(deps.Dispatcher),
		workflow.WithLogger(&zapLoggerAdapter{logger: deps.Logger.Named("workflow")}),
		workflow.WithAdminRole(deps.Config.AdminRole),
		workflow.WithBulkConcurrency(deps.Config.BulkConcurrency),
	), nil
}

// ServiceDeps holds dependencies for creating application services.
type ServiceDeps struct {
	Repos      *RepositoryBundle
	TxManager  port.TransactionManager
	Notifier   port.Notifier
	Dispatcher dispatcher.Dispatcher
	Logger     *zap.Logger
}

// ProvideServices creates all application services and subscribes the
// notification handlers on the dispatcher.
func ProvideServices(deps *ServiceDeps) (*ServiceBundle, error) {
	if deps == nil || deps.Repos == nil {
		return nil, fmt.Errorf("service deps are required")
	}

	logger := &zapLoggerAdapter{logger: deps.Logger.Named("service")}
	repos := deps.Repos

	notifications := service.NewNotificationService(repos.Instances, repos.Tasks, repos.Directory, deps.Notifier, logger)
	if deps.Dispatcher != nil {
		notifications.Register(deps.Dispatcher)
	}

	return &ServiceBundle{
		// writes bypass the cache and invalidate it after commit
		Templates:     service.NewTemplateService(repos.TemplateStore, repos.Instances, deps.TxManager, repos.Templates, logger),
		Query:         service.NewQueryService(repos.Templates, repos.Instances, repos.Tasks, repos.History, logger),
		Notifications: notifications,
	}, nil
}

// WorkerDeps holds dependencies for creating workers.
type WorkerDeps struct {
	Cache         *cache.TemplateCache
	Notifications service.NotificationService
	Config        *WorkflowConfig
	Logger        *zap.Logger
}

// ProvideWorkers registers background workers on a new manager.
// The reminder worker is omitted when the interval is zero.
func ProvideWorkers(deps *WorkerDeps) (*worker.WorkerManager, error) {
	if deps == nil {
		return nil, fmt.Errorf("worker deps are required")
	}

	manager := worker.NewWorkerManager(deps.Logger)

	if deps.Cache != nil {
		manager.Register(deps.Cache)
	}

	if deps.Config.ReminderInterval > 0 {
		manager.Register(worker.NewReminderWorker(worker.ReminderWorkerConfig{
			Interval: deps.Config.ReminderInterval,
		}, deps.Notifications, deps.Logger.Named("reminder")))
	}

	return manager, nil
}
