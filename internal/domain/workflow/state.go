package workflow

// State represents a lifecycle state of a workflow instance or task
type State string

const (
	// StateNew is the implicit state of an instance that has not been persisted yet
	StateNew        State = "NEW"
	StatePending    State = "PENDING"
	StateInProgress State = "IN_PROGRESS"
	StateApproved   State = "APPROVED"
	StateRejected   State = "REJECTED"
	StateCancelled  State = "CANCELLED"
	StateExpired    State = "EXPIRED"
	StateOnHold     State = "ON_HOLD"
	StateCompleted  State = "COMPLETED"
)

var validStates = map[State]bool{
	StateNew:        true,
	StatePending:    true,
	StateInProgress: true,
	StateApproved:   true,
	StateRejected:   true,
	StateCancelled:  true,
	StateExpired:    true,
	StateOnHold:     true,
	StateCompleted:  true,
}

// APPROVED is terminal for routing even though COMPLETE may still follow it
var terminalStates = map[State]bool{
	StateApproved:  true,
	StateRejected:  true,
	StateCancelled: true,
	StateExpired:   true,
	StateCompleted: true,
}

// IsTerminal returns true if the state ends step routing
func (s State) IsTerminal() bool {
	return terminalStates[s]
}

// String returns the string representation of the state
func (s State) String() string {
	return string(s)
}

// IsValid returns true if the state is a known workflow state
func (s State) IsValid() bool {
	return validStates[s]
}
