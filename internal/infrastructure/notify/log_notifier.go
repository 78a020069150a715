// Package notify holds notifier adapters that need no external service.
package notify

import (
	"context"

	"go.uber.org/zap"

	"github.com/garyjia/doc-approval/internal/application/port"
	"github.com/garyjia/doc-approval/internal/domain/entity"
)

// LogNotifier writes notifications to the log instead of delivering them
type LogNotifier struct {
	logger *zap.Logger
}

// NewLogNotifier creates a notifier that logs at info level
func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	return &LogNotifier{logger: logger.Named("notifier")}
}

// NotifyTaskAssigned logs the assignment
func (n *LogNotifier) NotifyTaskAssigned(ctx context.Context, user *port.User, task *entity.WorkflowTask) error {
	fields := []zap.Field{
		zap.String("user_id", user.ID),
		zap.Int64("task_id", task.ID),
		zap.Int64("instance_id", task.InstanceID),
		zap.Int("step_order", task.StepOrder),
		zap.String("step_name", task.StepName),
	}
	if task.DueAt != nil {
		fields = append(fields, zap.Time("due_at", *task.DueAt))
	}
	n.logger.Info("Task assigned", fields...)
	return nil
}

// NotifyWorkflowDecided logs the outcome
func (n *LogNotifier) NotifyWorkflowDecided(ctx context.Context, instance *entity.WorkflowInstance) error {
	n.logger.Info("Workflow decided",
		zap.Int64("instance_id", instance.ID),
		zap.String("initiated_by", instance.InitiatedBy),
		zap.String("status", instance.Status))
	return nil
}

// Verify interface compliance
var _ port.Notifier = (*LogNotifier)(nil)
