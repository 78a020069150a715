package workflow

import (
	"context"

	"github.com/garyjia/doc-approval/internal/domain/entity"
)

// Task actions
const (
	ActionApprove = "APPROVE"
	ActionReject  = "REJECT"
)

// Bulk actions
const (
	BulkCancel  = "CANCEL"
	BulkHold    = "HOLD"
	BulkResume  = "RESUME"
	BulkApprove = "APPROVE"
	BulkReject  = "REJECT"
)

// StartRequest asks the engine to run a template against a document
type StartRequest struct {
	DocumentID      int64
	TemplateID      int64
	Title           string
	Description     string
	Priority        string
	InitiatorUserID string
}

// TaskActionRequest records a decision on one task
type TaskActionRequest struct {
	TaskID       int64
	Action       string
	Comments     string
	ActingUserID string
}

// TaskActionResult describes where the instance ended up after a decision.
// The Next fields are set only when the instance advanced to another step.
type TaskActionResult struct {
	InstanceID     int64  `json:"instance_id"`
	InstanceStatus string `json:"instance_status"`
	NextStepOrder  *int   `json:"next_step_order,omitempty"`
	NextTaskID     *int64 `json:"next_task_id,omitempty"`
	NextAssignee   string `json:"next_assignee,omitempty"`
}

// BulkRequest applies one action to many instances
type BulkRequest struct {
	Action       string
	InstanceIDs  []int64
	ActingUserID string
	Comments     string
}

// BulkResult is the outcome for one instance of a bulk request
type BulkResult struct {
	InstanceID int64  `json:"instance_id"`
	Success    bool   `json:"success"`
	Error      string `json:"error,omitempty"`
	ErrorKind  string `json:"error_kind,omitempty"`
}

// Engine instantiates workflows and routes their tasks
type Engine interface {
	// StartWorkflow materializes a template into a running instance bound to a document
	// and assigns the task of its first dispatchable step.
	StartWorkflow(ctx context.Context, req StartRequest) (*entity.WorkflowInstance, error)

	// ProcessTaskAction applies an approve or reject decision and advances or ends the instance
	ProcessTaskAction(ctx context.Context, req TaskActionRequest) (*TaskActionResult, error)

	CancelWorkflow(ctx context.Context, instanceID int64, actingUserID, reason string) (*entity.WorkflowInstance, error)
	HoldWorkflow(ctx context.Context, instanceID int64, actingUserID, reason string) (*entity.WorkflowInstance, error)
	ResumeWorkflow(ctx context.Context, instanceID int64, actingUserID string) (*entity.WorkflowInstance, error)

	// ExpireWorkflow is called by the external SLA sweep
	ExpireWorkflow(ctx context.Context, instanceID int64, reason string) (*entity.WorkflowInstance, error)

	// CompleteWorkflow marks an approved instance as finalised by the host application
	CompleteWorkflow(ctx context.Context, instanceID int64, actingUserID string) (*entity.WorkflowInstance, error)

	// BulkAction runs action for each instance independently. Per-item failures are
	// reported in the results, in input order.
	BulkAction(ctx context.Context, req BulkRequest) ([]BulkResult, error)
}

// Logger interface for minimal logging dependency
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
}

type nopLogger struct{}

func (nopLogger) Info(string, ...interface{})  {}
func (nopLogger) Error(string, ...interface{}) {}
