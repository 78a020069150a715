package workflow

import (
	"context"
	"fmt"
	"sort"

	"github.com/garyjia/doc-approval/internal/application/port"
	"github.com/garyjia/doc-approval/internal/domain/apperr"
	"github.com/garyjia/doc-approval/internal/domain/entity"
)

// resolveAssignee picks the active holder of role with the smallest username,
// ties broken by id. It returns nil when nobody is eligible.
func (e *engineImpl) resolveAssignee(ctx context.Context, role string) (*port.User, error) {
	users, err := e.users.FindUsersByRole(ctx, role)
	if err != nil {
		return nil, fmt.Errorf("find users for role %s: %w", role, err)
	}

	eligible := make([]port.User, 0, len(users))
	for _, u := range users {
		if u.Active {
			eligible = append(eligible, u)
		}
	}
	if len(eligible) == 0 {
		return nil, nil
	}

	sort.Slice(eligible, func(i, j int) bool {
		if eligible[i].Username != eligible[j].Username {
			return eligible[i].Username < eligible[j].Username
		}
		return eligible[i].ID < eligible[j].ID
	})

	chosen := eligible[0]
	return &chosen, nil
}

// dispatch is the step that will receive the next task
type dispatch struct {
	step     *entity.StepDefinition
	assignee *port.User
	skipped  []string
}

// nextDispatchable walks steps in order and returns the first one with an eligible
// holder. Optional steps without holders are skipped; a required step without a
// holder is a ConfigurationError. A nil step means every remaining step was skipped.
func (e *engineImpl) nextDispatchable(ctx context.Context, steps []entity.StepDefinition) (*dispatch, error) {
	d := &dispatch{}

	for i := range steps {
		step := &steps[i]

		user, err := e.resolveAssignee(ctx, step.RequiredRole)
		if err != nil {
			return nil, err
		}
		if user != nil {
			d.step = step
			d.assignee = user
			return d, nil
		}

		if step.IsRequired {
			return nil, apperr.Configuration("no active user holds role %s required by step %d (%s)",
				step.RequiredRole, step.Order, step.Name)
		}
		d.skipped = append(d.skipped, fmt.Sprintf("%d (%s)", step.Order, step.Name))
	}

	return d, nil
}

// authorize allows the assignee, or an active holder of the admin override role
func (e *engineImpl) authorize(ctx context.Context, task *entity.WorkflowTask, actor string) error {
	if actor == task.AssignedTo {
		return nil
	}

	if e.adminRole != "" {
		user, err := e.users.GetUser(ctx, actor)
		if err != nil {
			return fmt.Errorf("get user %s: %w", actor, err)
		}
		if user != nil && user.Active && user.HasRole(e.adminRole) {
			return nil
		}
	}

	return apperr.Forbidden("user %s is not the assignee of task %d", actor, task.ID)
}
