package workflow

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/garyjia/doc-approval/internal/application/dispatcher"
	"github.com/garyjia/doc-approval/internal/application/port"
	"github.com/garyjia/doc-approval/internal/domain/apperr"
	"github.com/garyjia/doc-approval/internal/domain/entity"
	"github.com/garyjia/doc-approval/internal/domain/event"
	domainwf "github.com/garyjia/doc-approval/internal/domain/workflow"
)

// Repositories groups the stores the engine writes to
type Repositories struct {
	Templates port.TemplateRepository
	Instances port.InstanceRepository
	Tasks     port.TaskRepository
	History   port.HistoryRepository
}

// Directory groups the host application ports the engine reads from
type Directory struct {
	Documents port.DocumentLookup
	Users     port.UserDirectory
}

type engineImpl struct {
	templates port.TemplateRepository
	instances port.InstanceRepository
	tasks     port.TaskRepository
	history   port.HistoryRepository
	txManager port.TransactionManager
	documents port.DocumentLookup
	users     port.UserDirectory

	dispatcher      dispatcher.Dispatcher
	logger          Logger
	adminRole       string
	bulkConcurrency int
	now             func() time.Time

	locks *keyedMutex
}

// EngineOption configures the workflow engine
type EngineOption func(*engineImpl)

// WithDispatcher sets the event dispatcher for emitting events
func WithDispatcher(d dispatcher.Dispatcher) EngineOption {
	return func(e *engineImpl) {
		e.dispatcher = d
	}
}

// WithLogger sets the engine logger
func WithLogger(logger Logger) EngineOption {
	return func(e *engineImpl) {
		e.logger = logger
	}
}

// WithAdminRole sets the role whose holders may decide any task. Empty disables the override.
func WithAdminRole(role string) EngineOption {
	return func(e *engineImpl) {
		e.adminRole = role
	}
}

// WithBulkConcurrency bounds how many bulk items run at once
func WithBulkConcurrency(n int) EngineOption {
	return func(e *engineImpl) {
		if n > 0 {
			e.bulkConcurrency = n
		}
	}
}

// WithClock overrides the time source
func WithClock(now func() time.Time) EngineOption {
	return func(e *engineImpl) {
		e.now = now
	}
}

// NewEngine creates a new workflow engine
func NewEngine(repos Repositories, dir Directory, txManager port.TransactionManager, opts ...EngineOption) Engine {
	e := &engineImpl{
		templates:       repos.Templates,
		instances:       repos.Instances,
		tasks:           repos.Tasks,
		history:         repos.History,
		txManager:       txManager,
		documents:       dir.Documents,
		users:           dir.Users,
		logger:          nopLogger{},
		adminRole:       "ADMIN",
		bulkConcurrency: 4,
		now:             func() time.Time { return time.Now().UTC() },
		locks:           newKeyedMutex(),
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

// StartWorkflow creates the instance, its first task and the creation history entry in one transaction
func (e *engineImpl) StartWorkflow(ctx context.Context, req StartRequest) (*entity.WorkflowInstance, error) {
	if strings.TrimSpace(req.InitiatorUserID) == "" {
		return nil, apperr.Validation("initiator user id is required")
	}
	if req.DocumentID <= 0 {
		return nil, apperr.Validation("document id is required")
	}
	if req.TemplateID <= 0 {
		return nil, apperr.Validation("template id is required")
	}

	priority := strings.ToUpper(req.Priority)
	if priority == "" {
		priority = entity.PriorityNormal
	}
	if !entity.IsValidPriority(priority) {
		return nil, apperr.Validation("unknown priority %q", req.Priority)
	}

	doc, err := e.documents.GetDocument(ctx, req.DocumentID)
	if err != nil {
		return nil, fmt.Errorf("lookup document %d: %w", req.DocumentID, err)
	}
	if doc == nil || !doc.Exists {
		return nil, apperr.NotFound("document %d not found", req.DocumentID)
	}

	tmpl, err := e.templates.GetByID(ctx, req.TemplateID)
	if err != nil {
		return nil, fmt.Errorf("load template %d: %w", req.TemplateID, err)
	}
	if tmpl == nil {
		return nil, apperr.NotFound("workflow template %d not found", req.TemplateID)
	}
	if !tmpl.IsActive {
		return nil, apperr.Validation("workflow template %d is inactive", tmpl.ID)
	}
	if len(tmpl.Steps) == 0 {
		return nil, apperr.Validation("workflow template %d has no steps", tmpl.ID)
	}

	machine := BuildInstanceStateMachine(domainwf.StateNew, nil)
	if err := machine.Fire(ctx, domainwf.TriggerStart); err != nil {
		return nil, err
	}

	var instance *entity.WorkflowInstance
	var task *entity.WorkflowTask
	var assignee *port.User

	err = e.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		existing, err := e.instances.GetActiveByDocument(txCtx, doc.ID)
		if err != nil {
			return err
		}
		if existing != nil {
			return apperr.InvalidState("document %d already has active workflow instance %d (%s)",
				doc.ID, existing.ID, existing.Status)
		}

		d, err := e.nextDispatchable(txCtx, tmpl.Steps)
		if err != nil {
			return err
		}
		if d.step == nil {
			return apperr.Configuration("workflow template %d has no step with an eligible assignee", tmpl.ID)
		}

		now := e.now()
		order := d.step.Order
		instance = &entity.WorkflowInstance{
			TemplateID:       tmpl.ID,
			DocumentID:       doc.ID,
			Title:            req.Title,
			Description:      req.Description,
			InitiatedBy:      req.InitiatorUserID,
			Status:           machine.State().String(),
			CurrentStepOrder: &order,
			Priority:         priority,
			Version:          1,
			CreatedAt:        now,
			UpdatedAt:        now,
		}
		if instance.Title == "" {
			instance.Title = doc.Title
		}
		if err := e.instances.Create(txCtx, instance); err != nil {
			return err
		}

		task = newTask(instance.ID, d.step, d.assignee.ID, now)
		if err := e.tasks.Create(txCtx, task); err != nil {
			return err
		}
		assignee = d.assignee

		details := fmt.Sprintf("Started by %s from template %q; step %d (%s) assigned to %s",
			req.InitiatorUserID, tmpl.Name, d.step.Order, d.step.Name, d.assignee.ID)
		if len(d.skipped) > 0 {
			details += "; skipped optional steps without holders: " + strings.Join(d.skipped, ", ")
		}

		return e.history.Create(txCtx, &entity.WorkflowHistory{
			InstanceID: instance.ID,
			Action:     entity.ActionWorkflowCreated,
			Details:    details,
			ToStatus:   instance.Status,
			ActionDate: now,
		})
	})
	if err != nil {
		e.logger.Error("Failed to start workflow",
			"document_id", req.DocumentID,
			"template_id", req.TemplateID,
			"error", err)
		return nil, err
	}

	e.logger.Info("Workflow started",
		"instance_id", instance.ID,
		"document_id", instance.DocumentID,
		"assignee", assignee.ID)

	corr := uuid.NewString()
	e.publish(ctx,
		event.NewEventWithCorrelation(event.TypeWorkflowCreated, instance.ID, map[string]interface{}{
			event.KeyActor:    req.InitiatorUserID,
			event.KeyToStatus: instance.Status,
		}, corr),
		taskAssignedEvent(instance.ID, task, corr),
	)

	return instance, nil
}

// ProcessTaskAction decides a task and routes the instance, all in one transaction
func (e *engineImpl) ProcessTaskAction(ctx context.Context, req TaskActionRequest) (*TaskActionResult, error) {
	action := strings.ToUpper(strings.TrimSpace(req.Action))
	if action != ActionApprove && action != ActionReject {
		return nil, apperr.Validation("unknown task action %q", req.Action)
	}
	if strings.TrimSpace(req.ActingUserID) == "" {
		return nil, apperr.Validation("acting user id is required")
	}

	// resolve the owning instance outside the transaction to pick the lock
	probe, err := e.tasks.GetByID(ctx, req.TaskID)
	if err != nil {
		return nil, fmt.Errorf("load task %d: %w", req.TaskID, err)
	}
	if probe == nil {
		return nil, apperr.NotFound("task %d not found", req.TaskID)
	}
	owner, err := e.instances.GetByID(ctx, probe.InstanceID)
	if err != nil {
		return nil, fmt.Errorf("load instance %d: %w", probe.InstanceID, err)
	}
	if owner == nil {
		return nil, apperr.NotFound("workflow instance %d not found", probe.InstanceID)
	}
	// steps of a template in use never change, so the cached copy is authoritative
	tmpl, err := e.templates.GetByID(ctx, owner.TemplateID)
	if err != nil {
		return nil, fmt.Errorf("load template %d: %w", owner.TemplateID, err)
	}
	if tmpl == nil {
		return nil, apperr.NotFound("workflow template %d not found", owner.TemplateID)
	}

	unlock := e.locks.Lock(owner.ID)
	defer unlock()

	result := &TaskActionResult{InstanceID: owner.ID}
	var decided *entity.WorkflowTask
	var next *entity.WorkflowTask
	var instance *entity.WorkflowInstance

	err = e.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		task, err := e.tasks.GetByID(txCtx, req.TaskID)
		if err != nil {
			return err
		}
		if task == nil {
			return apperr.NotFound("task %d not found", req.TaskID)
		}
		if !task.IsPending() {
			return alreadyDecided(task)
		}
		if action == ActionReject && task.StepType == entity.StepTypeInformational {
			return apperr.Validation("step %q is informational and can only be acknowledged", task.StepName)
		}

		instance, err = e.instances.GetByID(txCtx, task.InstanceID)
		if err != nil {
			return err
		}
		if instance == nil {
			return apperr.NotFound("workflow instance %d not found", task.InstanceID)
		}
		if !instance.IsActionable() {
			return apperr.InvalidState("workflow instance %d is %s; task %d can no longer be decided",
				instance.ID, instance.Status, task.ID)
		}
		if instance.CurrentStepOrder == nil || *instance.CurrentStepOrder != task.StepOrder {
			return apperr.InvalidState("task %d does not belong to the current step of workflow instance %d",
				task.ID, instance.ID)
		}

		if err := e.authorize(txCtx, task, req.ActingUserID); err != nil {
			return err
		}

		trigger := domainwf.TriggerReject
		switch {
		case action == ActionApprove && task.StepType == entity.StepTypeInformational:
			trigger = domainwf.TriggerAcknowledge
		case action == ActionApprove:
			trigger = domainwf.TriggerApprove
		}
		taskStatus, err := BuildTaskStateMachine(domainwf.State(task.Status)).Peek(txCtx, trigger)
		if err != nil {
			return alreadyDecided(task)
		}

		now := e.now()
		ok, err := e.tasks.Decide(txCtx, task.ID, taskStatus.String(), req.ActingUserID, req.Comments, now)
		if err != nil {
			return err
		}
		if !ok {
			current, err := e.tasks.GetByID(txCtx, task.ID)
			if err != nil {
				return err
			}
			return alreadyDecided(current)
		}
		task.Status = taskStatus.String()
		task.DecidedBy = req.ActingUserID
		task.Comments = req.Comments
		task.CompletedAt = &now
		decided = task

		fromStatus := instance.Status
		machine := BuildInstanceStateMachine(domainwf.State(instance.Status), nil)
		details := fmt.Sprintf("Step %d (%s) %s by %s", task.StepOrder, task.StepName,
			strings.ToLower(task.Status), req.ActingUserID)
		if req.Comments != "" {
			details += ": " + req.Comments
		}

		if trigger == domainwf.TriggerReject {
			if err := machine.Fire(txCtx, domainwf.TriggerReject); err != nil {
				return apperr.Wrap(apperr.KindInvalidState, err, "cannot reject workflow instance %d", instance.ID)
			}
			instance.Terminate(machine.State().String(), now)
			details += "; workflow rejected"
		} else {
			d, err := e.nextDispatchable(txCtx, tmpl.StepsAfter(task.StepOrder))
			if err != nil {
				return err
			}
			if len(d.skipped) > 0 {
				details += "; skipped optional steps without holders: " + strings.Join(d.skipped, ", ")
			}

			if d.step == nil {
				if err := machine.Fire(txCtx, domainwf.TriggerApprove); err != nil {
					return apperr.Wrap(apperr.KindInvalidState, err, "cannot approve workflow instance %d", instance.ID)
				}
				instance.Terminate(machine.State().String(), now)
				details += "; workflow approved"
			} else {
				if err := machine.Fire(txCtx, domainwf.TriggerAdvance); err != nil {
					return apperr.Wrap(apperr.KindInvalidState, err, "cannot advance workflow instance %d", instance.ID)
				}
				order := d.step.Order
				instance.Status = machine.State().String()
				instance.CurrentStepOrder = &order
				instance.UpdatedAt = now

				next = newTask(instance.ID, d.step, d.assignee.ID, now)
				if err := e.tasks.Create(txCtx, next); err != nil {
					return err
				}
				details += fmt.Sprintf("; advanced to step %d (%s) assigned to %s", d.step.Order, d.step.Name, d.assignee.ID)
			}
		}

		if err := e.instances.Update(txCtx, instance); err != nil {
			return err
		}

		actor := req.ActingUserID
		return e.history.Create(txCtx, &entity.WorkflowHistory{
			InstanceID:  instance.ID,
			Action:      historyActionFor(trigger),
			Details:     details,
			PerformedBy: &actor,
			FromStatus:  fromStatus,
			ToStatus:    instance.Status,
			ActionDate:  now,
		})
	})
	if err != nil {
		e.logger.Error("Failed to process task action",
			"task_id", req.TaskID,
			"action", action,
			"actor", req.ActingUserID,
			"error", err)
		return nil, err
	}

	result.InstanceStatus = instance.Status

	corr := uuid.NewString()
	events := []*event.Event{
		event.NewEventWithCorrelation(event.TypeTaskDecided, instance.ID, map[string]interface{}{
			event.KeyAction:    action,
			event.KeyActor:     req.ActingUserID,
			event.KeyStepOrder: decided.StepOrder,
		}, corr).ForTask(decided.ID),
	}
	if next != nil {
		result.NextStepOrder = instance.CurrentStepOrder
		result.NextTaskID = &next.ID
		result.NextAssignee = next.AssignedTo
		events = append(events, taskAssignedEvent(instance.ID, next, corr))
	} else {
		events = append(events, event.NewEventWithCorrelation(event.TypeWorkflowDecided, instance.ID, map[string]interface{}{
			event.KeyActor:    req.ActingUserID,
			event.KeyToStatus: instance.Status,
		}, corr))
	}

	e.logger.Info("Task decided",
		"task_id", decided.ID,
		"instance_id", instance.ID,
		"task_status", decided.Status,
		"instance_status", instance.Status)

	e.publish(ctx, events...)
	return result, nil
}

// CancelWorkflow ends an active or held instance. Outstanding tasks stay PENDING but become void.
func (e *engineImpl) CancelWorkflow(ctx context.Context, instanceID int64, actingUserID, reason string) (*entity.WorkflowInstance, error) {
	return e.transition(ctx, lifecycleChange{
		instanceID: instanceID,
		actor:      actingUserID,
		trigger:    domainwf.TriggerCancel,
		action:     entity.ActionWorkflowCancelled,
		reason:     reason,
		comments:   true,
		eventType:  event.TypeWorkflowCancelled,
	})
}

// HoldWorkflow pauses an instance; the current step is kept
func (e *engineImpl) HoldWorkflow(ctx context.Context, instanceID int64, actingUserID, reason string) (*entity.WorkflowInstance, error) {
	return e.transition(ctx, lifecycleChange{
		instanceID: instanceID,
		actor:      actingUserID,
		trigger:    domainwf.TriggerHold,
		action:     entity.ActionWorkflowOnHold,
		reason:     reason,
		eventType:  event.TypeStatusChanged,
	})
}

// ResumeWorkflow returns a held instance to IN_PROGRESS if any step was decided, otherwise to PENDING
func (e *engineImpl) ResumeWorkflow(ctx context.Context, instanceID int64, actingUserID string) (*entity.WorkflowInstance, error) {
	return e.transition(ctx, lifecycleChange{
		instanceID: instanceID,
		actor:      actingUserID,
		trigger:    domainwf.TriggerResume,
		action:     entity.ActionWorkflowResumed,
		eventType:  event.TypeStatusChanged,
	})
}

// ExpireWorkflow ends an instance whose SLA lapsed
func (e *engineImpl) ExpireWorkflow(ctx context.Context, instanceID int64, reason string) (*entity.WorkflowInstance, error) {
	return e.transition(ctx, lifecycleChange{
		instanceID: instanceID,
		trigger:    domainwf.TriggerExpire,
		action:     entity.ActionWorkflowExpired,
		reason:     reason,
		comments:   true,
		eventType:  event.TypeWorkflowDecided,
	})
}

// CompleteWorkflow moves an approved instance to COMPLETED
func (e *engineImpl) CompleteWorkflow(ctx context.Context, instanceID int64, actingUserID string) (*entity.WorkflowInstance, error) {
	return e.transition(ctx, lifecycleChange{
		instanceID: instanceID,
		actor:      actingUserID,
		trigger:    domainwf.TriggerComplete,
		action:     entity.ActionWorkflowCompleted,
		eventType:  event.TypeStatusChanged,
	})
}

type lifecycleChange struct {
	instanceID int64
	actor      string
	trigger    domainwf.Trigger
	action     string
	reason     string
	comments   bool // store reason on the instance
	eventType  event.Type
}

func (e *engineImpl) transition(ctx context.Context, c lifecycleChange) (*entity.WorkflowInstance, error) {
	unlock := e.locks.Lock(c.instanceID)
	defer unlock()

	var instance *entity.WorkflowInstance
	var fromStatus string

	err := e.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		var err error
		instance, err = e.instances.GetByID(txCtx, c.instanceID)
		if err != nil {
			return err
		}
		if instance == nil {
			return apperr.NotFound("workflow instance %d not found", c.instanceID)
		}

		var guardErr error
		progressMade := func(ctx context.Context) bool {
			tasks, err := e.tasks.GetByInstanceID(ctx, instance.ID)
			if err != nil {
				guardErr = err
				return false
			}
			for _, t := range tasks {
				if !t.IsPending() {
					return true
				}
			}
			return false
		}

		machine := BuildInstanceStateMachine(domainwf.State(instance.Status), progressMade)
		to, err := machine.Peek(txCtx, c.trigger)
		if guardErr != nil {
			return guardErr
		}
		if err != nil {
			return apperr.Wrap(apperr.KindInvalidState, err, "cannot %s workflow instance %d in status %s",
				strings.ToLower(c.trigger.String()), instance.ID, instance.Status)
		}

		now := e.now()
		fromStatus = instance.Status
		if to.IsTerminal() {
			instance.Terminate(to.String(), now)
		} else {
			instance.Status = to.String()
			instance.UpdatedAt = now
		}
		if c.comments && c.reason != "" {
			instance.Comments = c.reason
		}

		if err := e.instances.Update(txCtx, instance); err != nil {
			return err
		}

		details := fmt.Sprintf("%s -> %s", fromStatus, instance.Status)
		if c.reason != "" {
			details += ": " + c.reason
		}
		var performedBy *string
		if c.actor != "" {
			actor := c.actor
			performedBy = &actor
		}

		return e.history.Create(txCtx, &entity.WorkflowHistory{
			InstanceID:  instance.ID,
			Action:      c.action,
			Details:     details,
			PerformedBy: performedBy,
			FromStatus:  fromStatus,
			ToStatus:    instance.Status,
			ActionDate:  now,
		})
	})
	if err != nil {
		e.logger.Error("Failed to change workflow status",
			"instance_id", c.instanceID,
			"trigger", c.trigger,
			"error", err)
		return nil, err
	}

	e.logger.Info("Workflow status changed",
		"instance_id", instance.ID,
		"from_status", fromStatus,
		"to_status", instance.Status)

	e.publish(ctx, event.NewEvent(c.eventType, instance.ID, map[string]interface{}{
		event.KeyActor:      c.actor,
		event.KeyFromStatus: fromStatus,
		event.KeyToStatus:   instance.Status,
		event.KeyReason:     c.reason,
	}))

	return instance, nil
}

func (e *engineImpl) publish(ctx context.Context, evts ...*event.Event) {
	if e.dispatcher == nil {
		return
	}
	e.dispatcher.DispatchAsync(ctx, evts...)
}

func newTask(instanceID int64, step *entity.StepDefinition, assignee string, now time.Time) *entity.WorkflowTask {
	task := &entity.WorkflowTask{
		InstanceID:       instanceID,
		StepDefinitionID: step.ID,
		StepOrder:        step.Order,
		StepName:         step.Name,
		StepType:         step.StepType,
		AssignedTo:       assignee,
		Status:           entity.TaskStatusPending,
		CreatedAt:        now,
	}
	if task.StepType == "" {
		task.StepType = entity.StepTypeApproval
	}
	if step.SLAHours > 0 {
		due := now.Add(time.Duration(step.SLAHours) * time.Hour)
		task.DueAt = &due
	}
	return task
}

func taskAssignedEvent(instanceID int64, task *entity.WorkflowTask, corr string) *event.Event {
	return event.NewEventWithCorrelation(event.TypeTaskAssigned, instanceID, map[string]interface{}{
		event.KeyAssignee:  task.AssignedTo,
		event.KeyStepOrder: task.StepOrder,
	}, corr).ForTask(task.ID)
}

func historyActionFor(trigger domainwf.Trigger) string {
	switch trigger {
	case domainwf.TriggerAcknowledge:
		return entity.ActionStepAcknowledged
	case domainwf.TriggerReject:
		return entity.ActionStepRejected
	default:
		return entity.ActionStepApproved
	}
}

func alreadyDecided(task *entity.WorkflowTask) error {
	if task.DecidedBy != "" && task.CompletedAt != nil {
		return apperr.InvalidState("task %d was already decided by %s at %s",
			task.ID, task.DecidedBy, task.CompletedAt.UTC().Format(time.RFC3339))
	}
	return apperr.InvalidState("task %d is %s", task.ID, task.Status)
}
