package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/garyjia/doc-approval/internal/application/port"
	"github.com/garyjia/doc-approval/internal/domain/apperr"
	"github.com/garyjia/doc-approval/internal/domain/entity"
	"github.com/garyjia/doc-approval/internal/infrastructure/persistence/sqlite"
	"go.uber.org/zap"
)

const instanceColumns = `
	id, template_id, document_id, title, description, initiated_by, status,
	current_step_order, priority, comments, version, created_at, updated_at, ended_at`

// InstanceRepository implements port.InstanceRepository
type InstanceRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewInstanceRepository creates a new instance repository
func NewInstanceRepository(db *sql.DB, logger *zap.Logger) port.InstanceRepository {
	return &InstanceRepository{
		db:     db,
		logger: logger,
	}
}

// Create inserts a new workflow instance
func (r *InstanceRepository) Create(ctx context.Context, instance *entity.WorkflowInstance) error {
	query := `
		INSERT INTO workflow_instances (
			template_id, document_id, title, description, initiated_by, status,
			current_step_order, priority, comments, version, created_at, updated_at, ended_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	if instance.Version == 0 {
		instance.Version = 1
	}

	result, err := r.getExecutor(ctx).ExecContext(ctx, query,
		instance.TemplateID,
		instance.DocumentID,
		instance.Title,
		instance.Description,
		instance.InitiatedBy,
		instance.Status,
		nullableInt(instance.CurrentStepOrder),
		instance.Priority,
		instance.Comments,
		instance.Version,
		instance.CreatedAt,
		instance.UpdatedAt,
		nullableTime(instance.EndedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return apperr.InvalidState("document %d already has an active workflow", instance.DocumentID)
		}
		r.logger.Error("Failed to create instance", zap.Int64("document_id", instance.DocumentID), zap.Error(err))
		return fmt.Errorf("failed to create instance: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}

	instance.ID = id
	return nil
}

// GetByID retrieves a workflow instance by ID
func (r *InstanceRepository) GetByID(ctx context.Context, id int64) (*entity.WorkflowInstance, error) {
	query := `SELECT ` + instanceColumns + ` FROM workflow_instances WHERE id = ?`

	instance, err := scanInstance(r.getExecutor(ctx).QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to get instance by ID", zap.Int64("id", id), zap.Error(err))
		return nil, fmt.Errorf("failed to get instance: %w", err)
	}

	return instance, nil
}

// GetActiveByDocument returns the non-terminal instance bound to a document, if any
func (r *InstanceRepository) GetActiveByDocument(ctx context.Context, documentID int64) (*entity.WorkflowInstance, error) {
	query := `SELECT ` + instanceColumns + ` FROM workflow_instances WHERE document_id = ? AND ended_at IS NULL`

	instance, err := scanInstance(r.getExecutor(ctx).QueryRowContext(ctx, query, documentID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to get active instance", zap.Int64("document_id", documentID), zap.Error(err))
		return nil, fmt.Errorf("failed to get active instance: %w", err)
	}

	return instance, nil
}

// Update persists the mutable fields guarded by the optimistic version
func (r *InstanceRepository) Update(ctx context.Context, instance *entity.WorkflowInstance) error {
	query := `
		UPDATE workflow_instances
		SET status = ?, current_step_order = ?, comments = ?, updated_at = ?, ended_at = ?,
			version = version + 1
		WHERE id = ? AND version = ?
	`

	result, err := r.getExecutor(ctx).ExecContext(ctx, query,
		instance.Status,
		nullableInt(instance.CurrentStepOrder),
		instance.Comments,
		instance.UpdatedAt,
		nullableTime(instance.EndedAt),
		instance.ID,
		instance.Version,
	)
	if err != nil {
		r.logger.Error("Failed to update instance", zap.Int64("id", instance.ID), zap.Error(err))
		return fmt.Errorf("failed to update instance: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return apperr.InvalidState("workflow instance %d was modified concurrently (version %d)", instance.ID, instance.Version)
	}

	instance.Version++
	return nil
}

// List returns a page of instances matching filter, newest first, and the total match count
func (r *InstanceRepository) List(ctx context.Context, filter port.InstanceFilter, limit, offset int) ([]*entity.WorkflowInstance, int, error) {
	where, args := instanceWhere(filter)

	var total int
	countQuery := `SELECT COUNT(*) FROM workflow_instances` + where
	if err := r.getExecutor(ctx).QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		r.logger.Error("Failed to count instances", zap.Error(err))
		return nil, 0, fmt.Errorf("failed to count instances: %w", err)
	}

	query := `SELECT ` + instanceColumns + ` FROM workflow_instances` + where + ` ORDER BY id DESC LIMIT ? OFFSET ?`
	rows, err := r.getExecutor(ctx).QueryContext(ctx, query, append(args, limit, offset)...)
	if err != nil {
		r.logger.Error("Failed to list instances", zap.Error(err))
		return nil, 0, fmt.Errorf("failed to list instances: %w", err)
	}
	defer rows.Close()

	var instances []*entity.WorkflowInstance
	for rows.Next() {
		instance, err := scanInstance(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan instance: %w", err)
		}
		instances = append(instances, instance)
	}

	return instances, total, rows.Err()
}

// CountByStatus returns the number of instances per status
func (r *InstanceRepository) CountByStatus(ctx context.Context) (map[string]int, error) {
	rows, err := r.getExecutor(ctx).QueryContext(ctx, `SELECT status, COUNT(*) FROM workflow_instances GROUP BY status`)
	if err != nil {
		r.logger.Error("Failed to count instances by status", zap.Error(err))
		return nil, fmt.Errorf("failed to count instances: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("failed to scan status count: %w", err)
		}
		counts[status] = n
	}

	return counts, rows.Err()
}

// CountByTemplate returns how many instances, in any status, reference a template
func (r *InstanceRepository) CountByTemplate(ctx context.Context, templateID int64) (int, error) {
	var n int
	err := r.getExecutor(ctx).QueryRowContext(ctx,
		`SELECT COUNT(*) FROM workflow_instances WHERE template_id = ?`, templateID).Scan(&n)
	if err != nil {
		r.logger.Error("Failed to count instances by template", zap.Int64("template_id", templateID), zap.Error(err))
		return 0, fmt.Errorf("failed to count instances: %w", err)
	}
	return n, nil
}

func instanceWhere(filter port.InstanceFilter) (string, []interface{}) {
	var conds []string
	var args []interface{}

	if filter.UserID != "" {
		assigned := `id IN (SELECT instance_id FROM workflow_tasks WHERE assigned_to = ?)`
		switch filter.Scope {
		case port.ScopeInitiated:
			conds = append(conds, `initiated_by = ?`)
			args = append(args, filter.UserID)
		case port.ScopeAssigned:
			conds = append(conds, assigned)
			args = append(args, filter.UserID)
		default:
			conds = append(conds, `(initiated_by = ? OR `+assigned+`)`)
			args = append(args, filter.UserID, filter.UserID)
		}
	}
	if filter.Status != "" {
		conds = append(conds, `status = ?`)
		args = append(args, filter.Status)
	}
	if filter.TemplateID != 0 {
		conds = append(conds, `template_id = ?`)
		args = append(args, filter.TemplateID)
	}
	if filter.DocumentID != 0 {
		conds = append(conds, `document_id = ?`)
		args = append(args, filter.DocumentID)
	}
	if filter.Priority != "" {
		conds = append(conds, `priority = ?`)
		args = append(args, filter.Priority)
	}

	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func scanInstance(row rowScanner) (*entity.WorkflowInstance, error) {
	var instance entity.WorkflowInstance
	var stepOrder sql.NullInt64
	var endedAt sql.NullTime

	err := row.Scan(
		&instance.ID,
		&instance.TemplateID,
		&instance.DocumentID,
		&instance.Title,
		&instance.Description,
		&instance.InitiatedBy,
		&instance.Status,
		&stepOrder,
		&instance.Priority,
		&instance.Comments,
		&instance.Version,
		&instance.CreatedAt,
		&instance.UpdatedAt,
		&endedAt,
	)
	if err != nil {
		return nil, err
	}

	if stepOrder.Valid {
		order := int(stepOrder.Int64)
		instance.CurrentStepOrder = &order
	}
	if endedAt.Valid {
		instance.EndedAt = &endedAt.Time
	}

	return &instance, nil
}

// getExecutor returns appropriate executor based on context
func (r *InstanceRepository) getExecutor(ctx context.Context) sqlite.Executor {
	return sqlite.ExecutorFor(ctx, r.db)
}

// Verify interface compliance
var _ port.InstanceRepository = (*InstanceRepository)(nil)
