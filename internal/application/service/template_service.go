package service

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/garyjia/doc-approval/internal/application/port"
	"github.com/garyjia/doc-approval/internal/domain/apperr"
	"github.com/garyjia/doc-approval/internal/domain/entity"
	"github.com/garyjia/doc-approval/pkg/utils"
)

// CacheInvalidator drops a cached template after its change commits
type CacheInvalidator interface {
	Invalidate(id int64)
}

// TemplateService administers workflow templates.
// Steps of a template that instances already reference are frozen.
type TemplateService interface {
	CreateTemplate(ctx context.Context, tmpl *entity.WorkflowTemplate) (*entity.WorkflowTemplate, error)
	GetTemplate(ctx context.Context, id int64) (*entity.WorkflowTemplate, error)
	ListTemplates(ctx context.Context, activeOnly bool) ([]*entity.WorkflowTemplate, error)
	// UpdateTemplate replaces name, description and active flag, and the steps when
	// tmpl.Steps is non-empty
	UpdateTemplate(ctx context.Context, tmpl *entity.WorkflowTemplate) (*entity.WorkflowTemplate, error)
	SetActive(ctx context.Context, id int64, active bool) (*entity.WorkflowTemplate, error)
	DeleteTemplate(ctx context.Context, id int64) error
}

type templateServiceImpl struct {
	templates port.TemplateRepository
	instances port.InstanceRepository
	txManager port.TransactionManager
	cache     CacheInvalidator
	logger    Logger
}

// NewTemplateService creates a new TemplateService. cache may be nil.
func NewTemplateService(
	templates port.TemplateRepository,
	instances port.InstanceRepository,
	txManager port.TransactionManager,
	cache CacheInvalidator,
	logger Logger,
) TemplateService {
	return &templateServiceImpl{
		templates: templates,
		instances: instances,
		txManager: txManager,
		cache:     cache,
		logger:    orNop(logger),
	}
}

// CreateTemplate validates and stores a new template
func (s *templateServiceImpl) CreateTemplate(ctx context.Context, tmpl *entity.WorkflowTemplate) (*entity.WorkflowTemplate, error) {
	if err := normalizeTemplate(tmpl); err != nil {
		return nil, err
	}

	err := s.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		return s.templates.Create(txCtx, tmpl)
	})
	if err != nil {
		s.logger.Error("Failed to create template", "error", err, "name", tmpl.Name)
		return nil, fmt.Errorf("create template: %w", err)
	}

	s.logger.Info("Template created", "template_id", tmpl.ID, "name", tmpl.Name, "steps", len(tmpl.Steps))
	return tmpl, nil
}

// GetTemplate returns one template with its steps
func (s *templateServiceImpl) GetTemplate(ctx context.Context, id int64) (*entity.WorkflowTemplate, error) {
	tmpl, err := s.templates.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get template: %w", err)
	}
	if tmpl == nil {
		return nil, apperr.NotFound("workflow template %d not found", id)
	}
	return tmpl, nil
}

// ListTemplates returns templates ordered by id
func (s *templateServiceImpl) ListTemplates(ctx context.Context, activeOnly bool) ([]*entity.WorkflowTemplate, error) {
	templates, err := s.templates.List(ctx, activeOnly)
	if err != nil {
		s.logger.Error("Failed to list templates", "error", err)
		return nil, fmt.Errorf("list templates: %w", err)
	}
	if templates == nil {
		templates = []*entity.WorkflowTemplate{}
	}
	return templates, nil
}

// UpdateTemplate changes a template; replacing steps is refused once instances exist
func (s *templateServiceImpl) UpdateTemplate(ctx context.Context, tmpl *entity.WorkflowTemplate) (*entity.WorkflowTemplate, error) {
	replaceSteps := len(tmpl.Steps) > 0

	var updated *entity.WorkflowTemplate
	err := s.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		existing, err := s.templates.GetByID(txCtx, tmpl.ID)
		if err != nil {
			return err
		}
		if existing == nil {
			return apperr.NotFound("workflow template %d not found", tmpl.ID)
		}

		if !replaceSteps {
			tmpl.Steps = existing.Steps
		}
		if err := normalizeTemplate(tmpl); err != nil {
			return err
		}

		if replaceSteps {
			if err := s.ensureUnused(txCtx, tmpl.ID, "replace steps of"); err != nil {
				return err
			}
			if err := s.templates.ReplaceSteps(txCtx, tmpl.ID, tmpl.Steps); err != nil {
				return err
			}
		}

		if err := s.templates.Update(txCtx, tmpl); err != nil {
			return err
		}

		updated, err = s.templates.GetByID(txCtx, tmpl.ID)
		return err
	})
	if err != nil {
		s.logger.Error("Failed to update template", "error", err, "template_id", tmpl.ID)
		return nil, err
	}

	s.invalidate(tmpl.ID)
	s.logger.Info("Template updated", "template_id", tmpl.ID, "steps_replaced", replaceSteps)
	return updated, nil
}

// SetActive activates or retires a template. Running instances are unaffected.
func (s *templateServiceImpl) SetActive(ctx context.Context, id int64, active bool) (*entity.WorkflowTemplate, error) {
	tmpl, err := s.GetTemplate(ctx, id)
	if err != nil {
		return nil, err
	}

	header := *tmpl
	header.IsActive = active
	header.Steps = nil
	return s.UpdateTemplate(ctx, &header)
}

// DeleteTemplate removes a template that no instance references
func (s *templateServiceImpl) DeleteTemplate(ctx context.Context, id int64) error {
	err := s.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		existing, err := s.templates.GetByID(txCtx, id)
		if err != nil {
			return err
		}
		if existing == nil {
			return apperr.NotFound("workflow template %d not found", id)
		}
		if err := s.ensureUnused(txCtx, id, "delete"); err != nil {
			return err
		}
		return s.templates.Delete(txCtx, id)
	})
	if err != nil {
		s.logger.Error("Failed to delete template", "error", err, "template_id", id)
		return err
	}

	s.invalidate(id)
	s.logger.Info("Template deleted", "template_id", id)
	return nil
}

func (s *templateServiceImpl) ensureUnused(ctx context.Context, id int64, verb string) error {
	n, err := s.instances.CountByTemplate(ctx, id)
	if err != nil {
		return err
	}
	if n > 0 {
		return apperr.InvalidState("cannot %s workflow template %d: %d instances reference it", verb, id, n)
	}
	return nil
}

func (s *templateServiceImpl) invalidate(id int64) {
	if s.cache != nil {
		s.cache.Invalidate(id)
	}
}

// normalizeTemplate fills defaults, sorts steps and validates the definition
func normalizeTemplate(tmpl *entity.WorkflowTemplate) error {
	tmpl.Name = strings.TrimSpace(utils.SanitizeString(tmpl.Name))
	for i := range tmpl.Steps {
		step := &tmpl.Steps[i]
		step.Name = strings.TrimSpace(utils.SanitizeString(step.Name))
		step.StepType = strings.ToUpper(step.StepType)
		if step.StepType == "" {
			step.StepType = entity.StepTypeApproval
		}
	}

	if err := utils.ValidateStruct(tmpl); err != nil {
		return apperr.Validation("invalid workflow template: %v", err)
	}

	sort.SliceStable(tmpl.Steps, func(i, j int) bool {
		return tmpl.Steps[i].Order < tmpl.Steps[j].Order
	})
	for i := 1; i < len(tmpl.Steps); i++ {
		if tmpl.Steps[i].Order == tmpl.Steps[i-1].Order {
			return apperr.Validation("invalid workflow template: duplicate step order %d", tmpl.Steps[i].Order)
		}
	}

	return nil
}
