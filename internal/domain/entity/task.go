package entity

import "time"

// WorkflowTask is step S of instance I awaiting a decision from an assignee
type WorkflowTask struct {
	ID               int64      `json:"id"`
	InstanceID       int64      `json:"instance_id"`
	StepDefinitionID int64      `json:"step_definition_id"`
	StepOrder        int        `json:"step_order"`
	StepName         string     `json:"step_name"`
	StepType         string     `json:"step_type"`
	AssignedTo       string     `json:"assigned_to"`
	Status           string     `json:"status"`
	Comments         string     `json:"comments,omitempty"`
	DecidedBy        string     `json:"decided_by,omitempty"`
	DueAt            *time.Time `json:"due_at,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	CompletedAt      *time.Time `json:"completed_at,omitempty"`
}

// IsPending reports whether the task still awaits a decision
func (t *WorkflowTask) IsPending() bool {
	return t.Status == TaskStatusPending
}

// IsOverdue reports whether a pending task has passed its SLA due time
func (t *WorkflowTask) IsOverdue(now time.Time) bool {
	return t.IsPending() && t.DueAt != nil && t.DueAt.Before(now)
}
