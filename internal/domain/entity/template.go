package entity

import "time"

// WorkflowTemplate is a reusable, ordered approval chain
type WorkflowTemplate struct {
	ID          int64            `json:"id"`
	Name        string           `json:"name" validate:"required,max=200"`
	Description string           `json:"description,omitempty" validate:"max=2000"`
	IsActive    bool             `json:"is_active"`
	Steps       []StepDefinition `json:"steps" validate:"required,min=1,dive"`
	CreatedAt   time.Time        `json:"created_at"`
	UpdatedAt   time.Time        `json:"updated_at"`
}

// StepDefinition is one stage of a template
type StepDefinition struct {
	ID           int64  `json:"id"`
	TemplateID   int64  `json:"template_id"`
	Order        int    `json:"order" validate:"min=1"`
	Name         string `json:"name" validate:"required,max=200"`
	RequiredRole string `json:"required_role" validate:"required,max=100"`
	IsRequired   bool   `json:"is_required"`
	SLAHours     int    `json:"sla_hours" validate:"min=0"`
	StepType     string `json:"step_type" validate:"oneof=APPROVAL INFORMATIONAL"`
}

// IsInformational reports whether the step only needs acknowledgement
func (s StepDefinition) IsInformational() bool {
	return s.StepType == StepTypeInformational
}

// FirstStep returns the step with the lowest order, or nil for an empty template.
// Steps are kept sorted by order when loaded from the store.
func (t *WorkflowTemplate) FirstStep() *StepDefinition {
	if len(t.Steps) == 0 {
		return nil
	}
	return &t.Steps[0]
}

// StepByOrder returns the step with the given order
func (t *WorkflowTemplate) StepByOrder(order int) *StepDefinition {
	for i := range t.Steps {
		if t.Steps[i].Order == order {
			return &t.Steps[i]
		}
	}
	return nil
}

// StepsAfter returns the steps whose order is greater than order, in order
func (t *WorkflowTemplate) StepsAfter(order int) []StepDefinition {
	var next []StepDefinition
	for _, s := range t.Steps {
		if s.Order > order {
			next = append(next, s)
		}
	}
	return next
}
