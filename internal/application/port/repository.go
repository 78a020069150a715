package port

import (
	"context"
	"time"

	"github.com/garyjia/doc-approval/internal/domain/entity"
)

// TemplateRepository defines persistence operations for WorkflowTemplate.
// Returned templates carry their steps sorted by order.
type TemplateRepository interface {
	Create(ctx context.Context, template *entity.WorkflowTemplate) error
	GetByID(ctx context.Context, id int64) (*entity.WorkflowTemplate, error)
	List(ctx context.Context, activeOnly bool) ([]*entity.WorkflowTemplate, error)
	// Update changes name, description and active flag only
	Update(ctx context.Context, template *entity.WorkflowTemplate) error
	ReplaceSteps(ctx context.Context, templateID int64, steps []entity.StepDefinition) error
	Delete(ctx context.Context, id int64) error
}

// InstanceScope selects which instances of a user are listed
type InstanceScope string

const (
	ScopeInitiated InstanceScope = "initiated"
	ScopeAssigned  InstanceScope = "assigned"
	ScopeAll       InstanceScope = "all"
)

// InstanceFilter narrows instance listings. Zero values do not filter.
type InstanceFilter struct {
	UserID     string
	Scope      InstanceScope
	Status     string
	TemplateID int64
	DocumentID int64
	Priority   string
}

// InstanceRepository defines persistence operations for WorkflowInstance
type InstanceRepository interface {
	Create(ctx context.Context, instance *entity.WorkflowInstance) error
	GetByID(ctx context.Context, id int64) (*entity.WorkflowInstance, error)
	GetActiveByDocument(ctx context.Context, documentID int64) (*entity.WorkflowInstance, error)
	// Update persists status, step order, comments and end time if the stored
	// version equals instance.Version; on success instance.Version is incremented.
	// Returns apperr InvalidState on a version mismatch.
	Update(ctx context.Context, instance *entity.WorkflowInstance) error
	List(ctx context.Context, filter InstanceFilter, limit, offset int) ([]*entity.WorkflowInstance, int, error)
	CountByStatus(ctx context.Context) (map[string]int, error)
	CountByTemplate(ctx context.Context, templateID int64) (int, error)
}

// TaskRepository defines persistence operations for WorkflowTask
type TaskRepository interface {
	Create(ctx context.Context, task *entity.WorkflowTask) error
	GetByID(ctx context.Context, id int64) (*entity.WorkflowTask, error)
	GetByInstanceID(ctx context.Context, instanceID int64) ([]*entity.WorkflowTask, error)
	GetPendingByInstance(ctx context.Context, instanceID int64) (*entity.WorkflowTask, error)
	// Decide moves a PENDING task to status. It reports false when the task
	// was no longer PENDING, leaving it untouched.
	Decide(ctx context.Context, id int64, status, decidedBy, comments string, at time.Time) (bool, error)
	// ListByAssignee and CountPending skip PENDING tasks whose instance is not
	// PENDING or IN_PROGRESS; ListOverdue does not.
	ListByAssignee(ctx context.Context, userID, status string) ([]*entity.WorkflowTask, error)
	ListOverdue(ctx context.Context, now time.Time) ([]*entity.WorkflowTask, error)
	CountPending(ctx context.Context) (int, error)
}

// HistoryRepository defines persistence operations for WorkflowHistory
type HistoryRepository interface {
	Create(ctx context.Context, history *entity.WorkflowHistory) error
	GetByInstanceID(ctx context.Context, instanceID int64) ([]*entity.WorkflowHistory, error)
}

// TransactionManager handles database transactions
type TransactionManager interface {
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}
