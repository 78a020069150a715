package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/garyjia/doc-approval/internal/application/port"
	"github.com/garyjia/doc-approval/internal/domain/apperr"
	"github.com/garyjia/doc-approval/internal/domain/entity"
)

// Page bounds
const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// Page selects a window of a listing. Page numbers start at 1.
type Page struct {
	Page     int
	PageSize int
}

func (p Page) normalize() Page {
	if p.Page < 1 {
		p.Page = 1
	}
	if p.PageSize <= 0 {
		p.PageSize = DefaultPageSize
	}
	if p.PageSize > MaxPageSize {
		p.PageSize = MaxPageSize
	}
	return p
}

// InstanceView is an instance with its tasks and template name
type InstanceView struct {
	Instance     *entity.WorkflowInstance `json:"instance"`
	TemplateName string                   `json:"template_name"`
	Tasks        []*entity.WorkflowTask   `json:"tasks"`
	CurrentTask  *entity.WorkflowTask     `json:"current_task,omitempty"`
}

// InstancePage is one page of an instance listing
type InstancePage struct {
	Items    []*entity.WorkflowInstance `json:"items"`
	Total    int                        `json:"total"`
	Page     int                        `json:"page"`
	PageSize int                        `json:"page_size"`
}

// Statistics summarizes the instance store
type Statistics struct {
	ByStatus     map[string]int `json:"by_status"`
	Total        int            `json:"total"`
	Active       int            `json:"active"`
	PendingTasks int            `json:"pending_tasks"`
}

// QueryService serves read-only projections of workflow state
type QueryService interface {
	GetInstance(ctx context.Context, id int64) (*InstanceView, error)
	ListInstancesForUser(ctx context.Context, userID string, filter port.InstanceFilter, page Page) (*InstancePage, error)
	ListTasksForUser(ctx context.Context, userID, status string) ([]*entity.WorkflowTask, error)
	GetHistory(ctx context.Context, instanceID int64) ([]*entity.WorkflowHistory, error)
	Statistics(ctx context.Context) (*Statistics, error)
	// ListOverdueTasks returns PENDING tasks due before now; a zero now means the current time
	ListOverdueTasks(ctx context.Context, now time.Time) ([]*entity.WorkflowTask, error)
}

type queryServiceImpl struct {
	templates port.TemplateRepository
	instances port.InstanceRepository
	tasks     port.TaskRepository
	history   port.HistoryRepository
	logger    Logger
}

// NewQueryService creates a new QueryService
func NewQueryService(
	templates port.TemplateRepository,
	instances port.InstanceRepository,
	tasks port.TaskRepository,
	history port.HistoryRepository,
	logger Logger,
) QueryService {
	return &queryServiceImpl{
		templates: templates,
		instances: instances,
		tasks:     tasks,
		history:   history,
		logger:    orNop(logger),
	}
}

// GetInstance returns an instance with its tasks
func (s *queryServiceImpl) GetInstance(ctx context.Context, id int64) (*InstanceView, error) {
	instance, err := s.instances.GetByID(ctx, id)
	if err != nil {
		s.logger.Error("Failed to get instance", "error", err, "instance_id", id)
		return nil, fmt.Errorf("get instance: %w", err)
	}
	if instance == nil {
		return nil, apperr.NotFound("workflow instance %d not found", id)
	}

	tasks, err := s.tasks.GetByInstanceID(ctx, id)
	if err != nil {
		s.logger.Error("Failed to get tasks", "error", err, "instance_id", id)
		return nil, fmt.Errorf("get tasks: %w", err)
	}

	view := &InstanceView{Instance: instance, Tasks: tasks}
	if view.Tasks == nil {
		view.Tasks = []*entity.WorkflowTask{}
	}

	// a cancelled instance keeps its void PENDING task but has no current step
	if instance.CurrentStepOrder != nil {
		for _, t := range tasks {
			if t.IsPending() && t.StepOrder == *instance.CurrentStepOrder {
				view.CurrentTask = t
			}
		}
	}

	tmpl, err := s.templates.GetByID(ctx, instance.TemplateID)
	if err != nil {
		s.logger.Error("Failed to get template", "error", err, "template_id", instance.TemplateID)
		return nil, fmt.Errorf("get template: %w", err)
	}
	if tmpl != nil {
		view.TemplateName = tmpl.Name
	}

	return view, nil
}

// ListInstancesForUser lists the instances a user initiated, is assigned to, or both
func (s *queryServiceImpl) ListInstancesForUser(ctx context.Context, userID string, filter port.InstanceFilter, page Page) (*InstancePage, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, apperr.Validation("user id is required")
	}

	filter.UserID = userID
	switch filter.Scope {
	case "":
		filter.Scope = port.ScopeAll
	case port.ScopeInitiated, port.ScopeAssigned, port.ScopeAll:
	default:
		return nil, apperr.Validation("unknown scope %q", filter.Scope)
	}

	filter.Status = strings.ToUpper(filter.Status)
	if filter.Status != "" && !isInstanceStatus(filter.Status) {
		return nil, apperr.Validation("unknown status %q", filter.Status)
	}
	filter.Priority = strings.ToUpper(filter.Priority)
	if filter.Priority != "" && !entity.IsValidPriority(filter.Priority) {
		return nil, apperr.Validation("unknown priority %q", filter.Priority)
	}

	page = page.normalize()
	items, total, err := s.instances.List(ctx, filter, page.PageSize, (page.Page-1)*page.PageSize)
	if err != nil {
		s.logger.Error("Failed to list instances", "error", err, "user_id", userID)
		return nil, fmt.Errorf("list instances: %w", err)
	}
	if items == nil {
		items = []*entity.WorkflowInstance{}
	}

	return &InstancePage{
		Items:    items,
		Total:    total,
		Page:     page.Page,
		PageSize: page.PageSize,
	}, nil
}

// ListTasksForUser lists tasks assigned to a user, newest first
func (s *queryServiceImpl) ListTasksForUser(ctx context.Context, userID, status string) ([]*entity.WorkflowTask, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, apperr.Validation("user id is required")
	}

	status = strings.ToUpper(status)
	switch status {
	case "", entity.TaskStatusPending, entity.TaskStatusApproved, entity.TaskStatusRejected, entity.TaskStatusCompleted:
	default:
		return nil, apperr.Validation("unknown task status %q", status)
	}

	tasks, err := s.tasks.ListByAssignee(ctx, userID, status)
	if err != nil {
		s.logger.Error("Failed to list tasks", "error", err, "user_id", userID)
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	if tasks == nil {
		tasks = []*entity.WorkflowTask{}
	}
	return tasks, nil
}

// GetHistory returns the audit trail of an instance in insertion order
func (s *queryServiceImpl) GetHistory(ctx context.Context, instanceID int64) ([]*entity.WorkflowHistory, error) {
	instance, err := s.instances.GetByID(ctx, instanceID)
	if err != nil {
		return nil, fmt.Errorf("get instance: %w", err)
	}
	if instance == nil {
		return nil, apperr.NotFound("workflow instance %d not found", instanceID)
	}

	entries, err := s.history.GetByInstanceID(ctx, instanceID)
	if err != nil {
		s.logger.Error("Failed to get history", "error", err, "instance_id", instanceID)
		return nil, fmt.Errorf("get history: %w", err)
	}
	if entries == nil {
		entries = []*entity.WorkflowHistory{}
	}
	return entries, nil
}

// Statistics counts instances by status and outstanding tasks
func (s *queryServiceImpl) Statistics(ctx context.Context) (*Statistics, error) {
	byStatus, err := s.instances.CountByStatus(ctx)
	if err != nil {
		s.logger.Error("Failed to count instances", "error", err)
		return nil, fmt.Errorf("count instances: %w", err)
	}

	pending, err := s.tasks.CountPending(ctx)
	if err != nil {
		s.logger.Error("Failed to count pending tasks", "error", err)
		return nil, fmt.Errorf("count pending tasks: %w", err)
	}

	stats := &Statistics{ByStatus: byStatus, PendingTasks: pending}
	if stats.ByStatus == nil {
		stats.ByStatus = map[string]int{}
	}
	for status, n := range stats.ByStatus {
		stats.Total += n
		if !entity.IsTerminalStatus(status) {
			stats.Active += n
		}
	}

	return stats, nil
}

// ListOverdueTasks returns PENDING tasks past their due time.
// Tasks of held or ended instances are included; the caller decides what to do with them.
func (s *queryServiceImpl) ListOverdueTasks(ctx context.Context, now time.Time) ([]*entity.WorkflowTask, error) {
	if now.IsZero() {
		now = time.Now().UTC()
	}

	tasks, err := s.tasks.ListOverdue(ctx, now.UTC())
	if err != nil {
		s.logger.Error("Failed to list overdue tasks", "error", err)
		return nil, fmt.Errorf("list overdue tasks: %w", err)
	}
	if tasks == nil {
		tasks = []*entity.WorkflowTask{}
	}
	return tasks, nil
}

func isInstanceStatus(status string) bool {
	switch status {
	case entity.StatusPending, entity.StatusInProgress, entity.StatusOnHold:
		return true
	default:
		return entity.IsTerminalStatus(status)
	}
}
