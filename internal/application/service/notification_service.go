package service

import (
	"context"
	"fmt"
	"time"

	"github.com/garyjia/doc-approval/internal/application/dispatcher"
	"github.com/garyjia/doc-approval/internal/application/port"
	"github.com/garyjia/doc-approval/internal/domain/entity"
	"github.com/garyjia/doc-approval/internal/domain/event"
)

// NotificationService turns workflow events into notifier calls.
// Delivery failures are logged and never reach the workflow operation.
type NotificationService interface {
	// Register subscribes the service's handlers on d
	Register(d dispatcher.Dispatcher)

	HandleTaskAssigned(ctx context.Context, evt *event.Event) error
	HandleWorkflowDecided(ctx context.Context, evt *event.Event) error

	// RemindOverdue re-notifies assignees of actionable tasks past their due time
	// and returns how many reminders were delivered
	RemindOverdue(ctx context.Context, now time.Time) (int, error)
}

type notificationServiceImpl struct {
	instances port.InstanceRepository
	tasks     port.TaskRepository
	users     port.UserDirectory
	notifier  port.Notifier
	logger    Logger
}

// NewNotificationService creates a new NotificationService
func NewNotificationService(
	instances port.InstanceRepository,
	tasks port.TaskRepository,
	users port.UserDirectory,
	notifier port.Notifier,
	logger Logger,
) NotificationService {
	return &notificationServiceImpl{
		instances: instances,
		tasks:     tasks,
		users:     users,
		notifier:  notifier,
		logger:    orNop(logger),
	}
}

// Register subscribes to assignment and decision events
func (s *notificationServiceImpl) Register(d dispatcher.Dispatcher) {
	d.SubscribeNamed(event.TypeTaskAssigned, "notify-task-assigned", s.HandleTaskAssigned)
	d.SubscribeNamed(event.TypeWorkflowDecided, "notify-workflow-decided", s.HandleWorkflowDecided)
	d.SubscribeNamed(event.TypeWorkflowCancelled, "notify-workflow-cancelled", s.HandleWorkflowDecided)
}

// HandleTaskAssigned notifies the assignee of a new task
func (s *notificationServiceImpl) HandleTaskAssigned(ctx context.Context, evt *event.Event) error {
	task, err := s.tasks.GetByID(ctx, evt.TaskID)
	if err != nil {
		s.logger.Error("Failed to load task for notification", "error", err, "task_id", evt.TaskID)
		return nil
	}
	if task == nil {
		s.logger.Error("Task for notification not found", "task_id", evt.TaskID, "event_id", evt.ID)
		return nil
	}

	if err := s.notifyAssignee(ctx, task); err != nil {
		s.logger.Error("Failed to notify assignee",
			"error", err,
			"task_id", task.ID,
			"assignee", task.AssignedTo,
			"correlation_id", evt.CorrelationID)
		return nil
	}

	s.logger.Info("Assignee notified", "task_id", task.ID, "assignee", task.AssignedTo)
	return nil
}

// HandleWorkflowDecided notifies the initiator that the instance ended
func (s *notificationServiceImpl) HandleWorkflowDecided(ctx context.Context, evt *event.Event) error {
	instance, err := s.instances.GetByID(ctx, evt.InstanceID)
	if err != nil {
		s.logger.Error("Failed to load instance for notification", "error", err, "instance_id", evt.InstanceID)
		return nil
	}
	if instance == nil {
		s.logger.Error("Instance for notification not found", "instance_id", evt.InstanceID, "event_id", evt.ID)
		return nil
	}

	if err := s.notifier.NotifyWorkflowDecided(ctx, instance); err != nil {
		s.logger.Error("Failed to notify initiator",
			"error", err,
			"instance_id", instance.ID,
			"initiator", instance.InitiatedBy,
			"correlation_id", evt.CorrelationID)
		return nil
	}

	s.logger.Info("Initiator notified", "instance_id", instance.ID, "status", instance.Status)
	return nil
}

// RemindOverdue sends one reminder per overdue task whose instance can still act on it
func (s *notificationServiceImpl) RemindOverdue(ctx context.Context, now time.Time) (int, error) {
	overdue, err := s.tasks.ListOverdue(ctx, now.UTC())
	if err != nil {
		return 0, fmt.Errorf("list overdue tasks: %w", err)
	}

	sent := 0
	actionable := map[int64]bool{}
	for _, task := range overdue {
		ok, seen := actionable[task.InstanceID]
		if !seen {
			instance, err := s.instances.GetByID(ctx, task.InstanceID)
			if err != nil {
				return sent, fmt.Errorf("get instance %d: %w", task.InstanceID, err)
			}
			ok = instance != nil && instance.IsActionable()
			actionable[task.InstanceID] = ok
		}
		if !ok {
			continue
		}

		if err := s.notifyAssignee(ctx, task); err != nil {
			s.logger.Error("Failed to send overdue reminder", "error", err, "task_id", task.ID)
			continue
		}
		sent++
	}

	if sent > 0 {
		s.logger.Info("Overdue reminders sent", "count", sent, "overdue", len(overdue))
	}
	return sent, nil
}

func (s *notificationServiceImpl) notifyAssignee(ctx context.Context, task *entity.WorkflowTask) error {
	user, err := s.users.GetUser(ctx, task.AssignedTo)
	if err != nil {
		return fmt.Errorf("get user: %w", err)
	}
	if user == nil {
		return fmt.Errorf("user %s not found", task.AssignedTo)
	}
	return s.notifier.NotifyTaskAssigned(ctx, user, task)
}
