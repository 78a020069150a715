package entity

import "time"

// WorkflowHistory is one append-only audit entry of an instance.
// PerformedBy is nil for system actions.
type WorkflowHistory struct {
	ID          int64     `json:"id"`
	InstanceID  int64     `json:"instance_id"`
	Action      string    `json:"action"`
	Details     string    `json:"details,omitempty"`
	PerformedBy *string   `json:"performed_by"`
	FromStatus  string    `json:"from_status,omitempty"`
	ToStatus    string    `json:"to_status,omitempty"`
	ActionDate  time.Time `json:"action_date"`
}

// Actor returns the acting user or "system"
func (h *WorkflowHistory) Actor() string {
	if h.PerformedBy == nil {
		return "system"
	}
	return *h.PerformedBy
}
