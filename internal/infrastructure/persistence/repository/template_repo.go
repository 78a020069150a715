package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/garyjia/doc-approval/internal/application/port"
	"github.com/garyjia/doc-approval/internal/domain/entity"
	"github.com/garyjia/doc-approval/internal/infrastructure/persistence/sqlite"
	"go.uber.org/zap"
)

// TemplateRepository implements port.TemplateRepository.
// Multi-statement writes expect to run inside a transaction from sqlite.DB.
type TemplateRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewTemplateRepository creates a new template repository
func NewTemplateRepository(db *sql.DB, logger *zap.Logger) port.TemplateRepository {
	return &TemplateRepository{
		db:     db,
		logger: logger,
	}
}

// Create inserts a template together with its steps
func (r *TemplateRepository) Create(ctx context.Context, template *entity.WorkflowTemplate) error {
	now := time.Now().UTC()
	if template.CreatedAt.IsZero() {
		template.CreatedAt = now
	}
	template.UpdatedAt = now

	result, err := r.getExecutor(ctx).ExecContext(ctx, `
		INSERT INTO workflow_templates (name, description, is_active, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
	`, template.Name, template.Description, template.IsActive, template.CreatedAt, template.UpdatedAt)
	if err != nil {
		r.logger.Error("Failed to create template", zap.String("name", template.Name), zap.Error(err))
		return fmt.Errorf("failed to create template: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	template.ID = id

	return r.insertSteps(ctx, template.ID, template.Steps)
}

// GetByID loads a template and its steps sorted by order
func (r *TemplateRepository) GetByID(ctx context.Context, id int64) (*entity.WorkflowTemplate, error) {
	var template entity.WorkflowTemplate
	err := r.getExecutor(ctx).QueryRowContext(ctx, `
		SELECT id, name, description, is_active, created_at, updated_at
		FROM workflow_templates WHERE id = ?
	`, id).Scan(
		&template.ID,
		&template.Name,
		&template.Description,
		&template.IsActive,
		&template.CreatedAt,
		&template.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to get template by ID", zap.Int64("id", id), zap.Error(err))
		return nil, fmt.Errorf("failed to get template: %w", err)
	}

	steps, err := r.getSteps(ctx, id)
	if err != nil {
		return nil, err
	}
	template.Steps = steps

	return &template, nil
}

// List returns all templates with their steps
func (r *TemplateRepository) List(ctx context.Context, activeOnly bool) ([]*entity.WorkflowTemplate, error) {
	query := `SELECT id FROM workflow_templates`
	if activeOnly {
		query += ` WHERE is_active = 1`
	}
	query += ` ORDER BY id ASC`

	rows, err := r.getExecutor(ctx).QueryContext(ctx, query)
	if err != nil {
		r.logger.Error("Failed to list templates", zap.Error(err))
		return nil, fmt.Errorf("failed to list templates: %w", err)
	}

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan template id: %w", err)
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list templates: %w", err)
	}

	templates := make([]*entity.WorkflowTemplate, 0, len(ids))
	for _, id := range ids {
		template, err := r.GetByID(ctx, id)
		if err != nil {
			return nil, err
		}
		if template != nil {
			templates = append(templates, template)
		}
	}

	return templates, nil
}

// Update changes the template header fields
func (r *TemplateRepository) Update(ctx context.Context, template *entity.WorkflowTemplate) error {
	template.UpdatedAt = time.Now().UTC()

	result, err := r.getExecutor(ctx).ExecContext(ctx, `
		UPDATE workflow_templates SET name = ?, description = ?, is_active = ?, updated_at = ?
		WHERE id = ?
	`, template.Name, template.Description, template.IsActive, template.UpdatedAt, template.ID)
	if err != nil {
		r.logger.Error("Failed to update template", zap.Int64("id", template.ID), zap.Error(err))
		return fmt.Errorf("failed to update template: %w", err)
	}

	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("template %d: %w", template.ID, sql.ErrNoRows)
	}
	return nil
}

// ReplaceSteps deletes the existing steps of a template and inserts steps
func (r *TemplateRepository) ReplaceSteps(ctx context.Context, templateID int64, steps []entity.StepDefinition) error {
	if _, err := r.getExecutor(ctx).ExecContext(ctx,
		`DELETE FROM workflow_step_definitions WHERE template_id = ?`, templateID); err != nil {
		r.logger.Error("Failed to delete template steps", zap.Int64("template_id", templateID), zap.Error(err))
		return fmt.Errorf("failed to delete steps: %w", err)
	}
	return r.insertSteps(ctx, templateID, steps)
}

// Delete removes a template; its steps cascade
func (r *TemplateRepository) Delete(ctx context.Context, id int64) error {
	if _, err := r.getExecutor(ctx).ExecContext(ctx, `DELETE FROM workflow_templates WHERE id = ?`, id); err != nil {
		r.logger.Error("Failed to delete template", zap.Int64("id", id), zap.Error(err))
		return fmt.Errorf("failed to delete template: %w", err)
	}
	return nil
}

func (r *TemplateRepository) insertSteps(ctx context.Context, templateID int64, steps []entity.StepDefinition) error {
	query := `
		INSERT INTO workflow_step_definitions (
			template_id, step_order, name, required_role, is_required, sla_hours, step_type
		) VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	for i := range steps {
		step := &steps[i]
		step.TemplateID = templateID
		if step.StepType == "" {
			step.StepType = entity.StepTypeApproval
		}

		result, err := r.getExecutor(ctx).ExecContext(ctx, query,
			templateID,
			step.Order,
			step.Name,
			step.RequiredRole,
			step.IsRequired,
			step.SLAHours,
			step.StepType,
		)
		if err != nil {
			r.logger.Error("Failed to create step",
				zap.Int64("template_id", templateID),
				zap.Int("order", step.Order),
				zap.Error(err))
			return fmt.Errorf("failed to create step %d: %w", step.Order, err)
		}

		id, err := result.LastInsertId()
		if err != nil {
			return fmt.Errorf("failed to get last insert id: %w", err)
		}
		step.ID = id
	}

	return nil
}

func (r *TemplateRepository) getSteps(ctx context.Context, templateID int64) ([]entity.StepDefinition, error) {
	rows, err := r.getExecutor(ctx).QueryContext(ctx, `
		SELECT id, template_id, step_order, name, required_role, is_required, sla_hours, step_type
		FROM workflow_step_definitions
		WHERE template_id = ?
		ORDER BY step_order ASC
	`, templateID)
	if err != nil {
		r.logger.Error("Failed to get template steps", zap.Int64("template_id", templateID), zap.Error(err))
		return nil, fmt.Errorf("failed to get steps: %w", err)
	}
	defer rows.Close()

	var steps []entity.StepDefinition
	for rows.Next() {
		var step entity.StepDefinition
		if err := rows.Scan(
			&step.ID,
			&step.TemplateID,
			&step.Order,
			&step.Name,
			&step.RequiredRole,
			&step.IsRequired,
			&step.SLAHours,
			&step.StepType,
		); err != nil {
			return nil, fmt.Errorf("failed to scan step: %w", err)
		}
		steps = append(steps, step)
	}

	return steps, rows.Err()
}

// getExecutor returns appropriate executor based on context
func (r *TemplateRepository) getExecutor(ctx context.Context) sqlite.Executor {
	return sqlite.ExecutorFor(ctx, r.db)
}

// Verify interface compliance
var _ port.TemplateRepository = (*TemplateRepository)(nil)
