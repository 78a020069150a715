package entity

import "time"

// WorkflowInstance is one run of a template against one document
type WorkflowInstance struct {
	ID               int64      `json:"id"`
	TemplateID       int64      `json:"template_id"`
	DocumentID       int64      `json:"document_id"`
	Title            string     `json:"title,omitempty"`
	Description      string     `json:"description,omitempty"`
	InitiatedBy      string     `json:"initiated_by"`
	Status           string     `json:"status"`
	CurrentStepOrder *int       `json:"current_step_order"`
	Priority         string     `json:"priority"`
	Comments         string     `json:"comments,omitempty"`
	Version          int64      `json:"version"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
	EndedAt          *time.Time `json:"ended_at,omitempty"`
}

// IsTerminal reports whether the instance can no longer change step
func (i *WorkflowInstance) IsTerminal() bool {
	return IsTerminalStatus(i.Status)
}

// IsActionable reports whether tasks of the instance may be decided
func (i *WorkflowInstance) IsActionable() bool {
	return i.Status == StatusPending || i.Status == StatusInProgress
}

// Terminate moves the instance into a terminal status at the given time
func (i *WorkflowInstance) Terminate(status string, at time.Time) {
	i.Status = status
	i.CurrentStepOrder = nil
	i.EndedAt = &at
	i.UpdatedAt = at
}
