package workflow

import (
	domainwf "github.com/garyjia/doc-approval/internal/domain/workflow"
)

// BuildInstanceStateMachine creates the lifecycle state machine of a workflow instance.
// progressMade decides whether RESUME returns to IN_PROGRESS (some step already
// decided) or to PENDING; a nil guard always resumes to PENDING.
func BuildInstanceStateMachine(initialState domainwf.State, progressMade domainwf.GuardFunc) domainwf.StateMachine {
	builder := domainwf.NewBuilder()

	builder.Configure(domainwf.StateNew).
		Permit(domainwf.TriggerStart, domainwf.StatePending)

	// PENDING: created, no decision yet
	builder.Configure(domainwf.StatePending).
		Permit(domainwf.TriggerAdvance, domainwf.StateInProgress).
		Permit(domainwf.TriggerApprove, domainwf.StateApproved).
		Permit(domainwf.TriggerReject, domainwf.StateRejected).
		Permit(domainwf.TriggerCancel, domainwf.StateCancelled).
		Permit(domainwf.TriggerExpire, domainwf.StateExpired).
		Permit(domainwf.TriggerHold, domainwf.StateOnHold)

	builder.Configure(domainwf.StateInProgress).
		Permit(domainwf.TriggerAdvance, domainwf.StateInProgress).
		Permit(domainwf.TriggerApprove, domainwf.StateApproved).
		Permit(domainwf.TriggerReject, domainwf.StateRejected).
		Permit(domainwf.TriggerCancel, domainwf.StateCancelled).
		Permit(domainwf.TriggerExpire, domainwf.StateExpired).
		Permit(domainwf.TriggerHold, domainwf.StateOnHold)

	onHold := builder.Configure(domainwf.StateOnHold)
	if progressMade != nil {
		onHold.PermitIf(domainwf.TriggerResume, domainwf.StateInProgress, progressMade)
	}
	onHold.
		Permit(domainwf.TriggerResume, domainwf.StatePending).
		Permit(domainwf.TriggerCancel, domainwf.StateCancelled).
		Permit(domainwf.TriggerExpire, domainwf.StateExpired)

	// the host application finalises an approved document
	builder.Configure(domainwf.StateApproved).
		Permit(domainwf.TriggerComplete, domainwf.StateCompleted)

	// REJECTED, CANCELLED, EXPIRED and COMPLETED have no outgoing transitions

	return builder.Build(initialState)
}

// BuildTaskStateMachine creates the decision state machine of a single task
func BuildTaskStateMachine(initialState domainwf.State) domainwf.StateMachine {
	builder := domainwf.NewBuilder()

	builder.Configure(domainwf.StatePending).
		Permit(domainwf.TriggerApprove, domainwf.StateApproved).
		Permit(domainwf.TriggerReject, domainwf.StateRejected).
		Permit(domainwf.TriggerAcknowledge, domainwf.StateCompleted)

	return builder.Build(initialState)
}
