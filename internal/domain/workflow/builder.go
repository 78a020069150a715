package workflow

import (
	"context"
	"fmt"
	"sort"
)

// GuardFunc evaluates whether a transition should be taken
type GuardFunc func(ctx context.Context) bool

// StateMachineBuilder collects transition rules and builds machines from them
type StateMachineBuilder interface {
	// Configure returns a state configuration for the given state
	Configure(state State) StateConfiguration

	// Build creates a new state machine with the given initial state
	Build(initialState State) StateMachine
}

// StateConfiguration configures transitions out of one state
type StateConfiguration interface {
	// Permit allows a trigger to transition to the target state
	Permit(trigger Trigger, toState State) StateConfiguration

	// PermitIf allows a trigger to transition to the target state if the guard passes.
	// Rules for one trigger are evaluated in registration order.
	PermitIf(trigger Trigger, toState State, guard GuardFunc) StateConfiguration
}

// ruleKey identifies the rules of one trigger fired from one state
type ruleKey struct {
	from    State
	trigger Trigger
}

type rule struct {
	to    State
	guard GuardFunc
}

// ruleTable is immutable once a machine holds it
type ruleTable map[ruleKey][]rule

type stateMachineBuilder struct {
	rules ruleTable
}

type stateConfig struct {
	from  State
	rules ruleTable
}

type stateMachine struct {
	current State
	rules   ruleTable
}

// NewBuilder creates a new state machine builder
func NewBuilder() StateMachineBuilder {
	return &stateMachineBuilder{rules: make(ruleTable)}
}

// Configure returns a state configuration for the given state
func (b *stateMachineBuilder) Configure(state State) StateConfiguration {
	if !state.IsValid() {
		panic(fmt.Sprintf("invalid state: %s", state))
	}
	return &stateConfig{from: state, rules: b.rules}
}

// Build snapshots the rules, so later Configure calls do not affect built machines
func (b *stateMachineBuilder) Build(initialState State) StateMachine {
	if !initialState.IsValid() {
		panic(fmt.Sprintf("invalid initial state: %s", initialState))
	}

	snapshot := make(ruleTable, len(b.rules))
	for key, rules := range b.rules {
		snapshot[key] = append([]rule(nil), rules...)
	}

	return &stateMachine{current: initialState, rules: snapshot}
}

// Permit allows a trigger to transition to the target state
func (c *stateConfig) Permit(trigger Trigger, toState State) StateConfiguration {
	return c.PermitIf(trigger, toState, nil)
}

// PermitIf allows a trigger to transition to the target state if the guard passes
func (c *stateConfig) PermitIf(trigger Trigger, toState State, guard GuardFunc) StateConfiguration {
	if !toState.IsValid() {
		panic(fmt.Sprintf("invalid target state: %s", toState))
	}

	key := ruleKey{from: c.from, trigger: trigger}
	c.rules[key] = append(c.rules[key], rule{to: toState, guard: guard})
	return c
}

func (m *stateMachine) State() State {
	return m.current
}

// CanFire reports whether any rule exists for trigger in the current state.
// Guards are not evaluated; use Peek for that.
func (m *stateMachine) CanFire(trigger Trigger) bool {
	return len(m.rules[ruleKey{from: m.current, trigger: trigger}]) > 0
}

// Peek resolves the target state of a trigger without applying it
func (m *stateMachine) Peek(ctx context.Context, trigger Trigger) (State, error) {
	rules := m.rules[ruleKey{from: m.current, trigger: trigger}]
	if len(rules) == 0 {
		return "", &TransitionError{From: m.current, Trigger: trigger, Err: ErrInvalidTransition}
	}

	for _, r := range rules {
		if r.guard == nil || r.guard(ctx) {
			return r.to, nil
		}
	}

	return "", &TransitionError{From: m.current, Trigger: trigger, Err: ErrGuardFailed}
}

// Fire executes the trigger, transitioning to the new state if allowed
func (m *stateMachine) Fire(ctx context.Context, trigger Trigger) error {
	next, err := m.Peek(ctx, trigger)
	if err != nil {
		return err
	}
	m.current = next
	return nil
}

// PermittedTriggers returns the triggers with rules in the current state, sorted by name
func (m *stateMachine) PermittedTriggers() []Trigger {
	triggers := []Trigger{}
	for key := range m.rules {
		if key.from == m.current {
			triggers = append(triggers, key.trigger)
		}
	}
	sort.Slice(triggers, func(i, j int) bool { return triggers[i] < triggers[j] })
	return triggers
}
