package lark

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/garyjia/doc-approval/internal/application/port"
	"github.com/garyjia/doc-approval/internal/domain/entity"
)

// TextSender delivers a text message to a Lark open id
type TextSender interface {
	SendText(ctx context.Context, openID, text string) (string, error)
}

// Notifier implements port.Notifier with Lark instant messages
type Notifier struct {
	sender TextSender
	users  port.UserDirectory
	logger *zap.Logger
}

// NewNotifier creates a Lark notifier. users resolves initiators for decision messages.
func NewNotifier(sender TextSender, users port.UserDirectory, logger *zap.Logger) *Notifier {
	return &Notifier{
		sender: sender,
		users:  users,
		logger: logger,
	}
}

// NotifyTaskAssigned tells the assignee a task awaits their decision
func (n *Notifier) NotifyTaskAssigned(ctx context.Context, user *port.User, task *entity.WorkflowTask) error {
	if user.LarkOpenID == "" {
		n.logger.Warn("Assignee has no Lark open id, skipping notification",
			zap.String("user_id", user.ID),
			zap.Int64("task_id", task.ID))
		return nil
	}

	verb := "approve or reject"
	if task.StepType == entity.StepTypeInformational {
		verb = "acknowledge"
	}
	text := fmt.Sprintf("Workflow #%d: step %d (%s) is waiting for you to %s. Task #%d.",
		task.InstanceID, task.StepOrder, task.StepName, verb, task.ID)
	if task.DueAt != nil {
		text += fmt.Sprintf(" Due %s.", task.DueAt.UTC().Format("2006-01-02 15:04 MST"))
	}

	if _, err := n.sender.SendText(ctx, user.LarkOpenID, text); err != nil {
		return fmt.Errorf("notify assignee %s: %w", user.ID, err)
	}
	return nil
}

// NotifyWorkflowDecided tells the initiator how the instance ended
func (n *Notifier) NotifyWorkflowDecided(ctx context.Context, instance *entity.WorkflowInstance) error {
	user, err := n.users.GetUser(ctx, instance.InitiatedBy)
	if err != nil {
		return fmt.Errorf("get initiator %s: %w", instance.InitiatedBy, err)
	}
	if user == nil || user.LarkOpenID == "" {
		n.logger.Warn("Initiator has no Lark open id, skipping notification",
			zap.String("user_id", instance.InitiatedBy),
			zap.Int64("instance_id", instance.ID))
		return nil
	}

	title := instance.Title
	if title == "" {
		title = fmt.Sprintf("document %d", instance.DocumentID)
	}
	text := fmt.Sprintf("Workflow #%d for %s is %s.", instance.ID, title,
		strings.ToLower(strings.ReplaceAll(instance.Status, "_", " ")))
	if instance.Comments != "" {
		text += " " + instance.Comments
	}

	if _, err := n.sender.SendText(ctx, user.LarkOpenID, text); err != nil {
		return fmt.Errorf("notify initiator %s: %w", user.ID, err)
	}
	return nil
}

// Verify interface compliance
var _ port.Notifier = (*Notifier)(nil)
