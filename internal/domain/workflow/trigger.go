package workflow

// Trigger represents an event that can cause a state transition
type Trigger string

const (
	TriggerStart       Trigger = "START"
	TriggerAdvance     Trigger = "ADVANCE"
	TriggerApprove     Trigger = "APPROVE"
	TriggerReject      Trigger = "REJECT"
	TriggerAcknowledge Trigger = "ACKNOWLEDGE"
	TriggerCancel      Trigger = "CANCEL"
	TriggerExpire      Trigger = "EXPIRE"
	TriggerHold        Trigger = "HOLD"
	TriggerResume      Trigger = "RESUME"
	TriggerComplete    Trigger = "COMPLETE"
)

// String returns the string representation of the trigger
func (t Trigger) String() string {
	return string(t)
}
