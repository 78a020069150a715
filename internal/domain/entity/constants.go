package entity

// Status constants for WorkflowInstance
const (
	StatusPending    = "PENDING"
	StatusInProgress = "IN_PROGRESS"
	StatusApproved   = "APPROVED"
	StatusRejected   = "REJECTED"
	StatusCancelled  = "CANCELLED"
	StatusExpired    = "EXPIRED"
	StatusOnHold     = "ON_HOLD"
	StatusCompleted  = "COMPLETED"
)

// Task status constants
const (
	TaskStatusPending   = "PENDING"
	TaskStatusApproved  = "APPROVED"
	TaskStatusRejected  = "REJECTED"
	TaskStatusCompleted = "COMPLETED"
)

// Step type constants
const (
	StepTypeApproval      = "APPROVAL"
	StepTypeInformational = "INFORMATIONAL"
)

// Priority constants
const (
	PriorityLow    = "LOW"
	PriorityNormal = "NORMAL"
	PriorityHigh   = "HIGH"
	PriorityUrgent = "URGENT"
)

// History action constants
const (
	ActionWorkflowCreated   = "Workflow Created"
	ActionStepApproved      = "Step Approved"
	ActionStepRejected      = "Step Rejected"
	ActionStepAcknowledged  = "Step Acknowledged"
	ActionWorkflowCancelled = "Workflow Cancelled"
	ActionWorkflowOnHold    = "Workflow On Hold"
	ActionWorkflowResumed   = "Workflow Resumed"
	ActionWorkflowExpired   = "Workflow Expired"
	ActionWorkflowCompleted = "Workflow Completed"
)

// IsTerminalStatus reports whether an instance status ends the workflow
func IsTerminalStatus(status string) bool {
	switch status {
	case StatusApproved, StatusRejected, StatusCancelled, StatusExpired, StatusCompleted:
		return true
	default:
		return false
	}
}

// IsValidPriority reports whether p is a known priority
func IsValidPriority(p string) bool {
	switch p {
	case PriorityLow, PriorityNormal, PriorityHigh, PriorityUrgent:
		return true
	default:
		return false
	}
}
