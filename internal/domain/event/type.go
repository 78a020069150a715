package event

// Type identifies the type of domain event
type Type string

const (
	TypeWorkflowCreated   Type = "workflow.created"
	TypeTaskAssigned      Type = "task.assigned"
	TypeTaskDecided       Type = "task.decided"
	TypeWorkflowDecided   Type = "workflow.decided"
	TypeWorkflowCancelled Type = "workflow.cancelled"
	TypeStatusChanged     Type = "workflow.status_changed"
)

// String returns the string representation of the event type
func (t Type) String() string {
	return string(t)
}

// IsValid checks if the event type is one of the defined constants
func (t Type) IsValid() bool {
	switch t {
	case TypeWorkflowCreated,
		TypeTaskAssigned,
		TypeTaskDecided,
		TypeWorkflowDecided,
		TypeWorkflowCancelled,
		TypeStatusChanged:
		return true
	default:
		return false
	}
}
