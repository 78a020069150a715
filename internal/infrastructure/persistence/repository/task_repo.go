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

const taskColumns = `
	id, instance_id, step_definition_id, step_order, step_name, step_type,
	assigned_to, status, comments, decided_by, due_at, created_at, completed_at`

// liveTask drops PENDING tasks of instances that can no longer act on them:
// cancelled or expired instances keep their open task, and held ones cannot decide it.
const liveTask = `(status <> 'PENDING' OR instance_id IN (
	SELECT id FROM workflow_instances
	WHERE ended_at IS NULL AND status IN ('PENDING', 'IN_PROGRESS')))`

// TaskRepository implements port.TaskRepository
type TaskRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewTaskRepository creates a new task repository
func NewTaskRepository(db *sql.DB, logger *zap.Logger) port.TaskRepository {
	return &TaskRepository{
		db:     db,
		logger: logger,
	}
}

// Create inserts a new task
func (r *TaskRepository) Create(ctx context.Context, task *entity.WorkflowTask) error {
	query := `
		INSERT INTO workflow_tasks (
			instance_id, step_definition_id, step_order, step_name, step_type,
			assigned_to, status, comments, decided_by, due_at, created_at, completed_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	result, err := r.getExecutor(ctx).ExecContext(ctx, query,
		task.InstanceID,
		task.StepDefinitionID,
		task.StepOrder,
		task.StepName,
		task.StepType,
		task.AssignedTo,
		task.Status,
		task.Comments,
		task.DecidedBy,
		nullableTime(task.DueAt),
		task.CreatedAt,
		nullableTime(task.CompletedAt),
	)
	if err != nil {
		r.logger.Error("Failed to create task",
			zap.Int64("instance_id", task.InstanceID),
			zap.Int("step_order", task.StepOrder),
			zap.Error(err))
		return fmt.Errorf("failed to create task: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}

	task.ID = id
	return nil
}

// GetByID retrieves a task by its ID
func (r *TaskRepository) GetByID(ctx context.Context, id int64) (*entity.WorkflowTask, error) {
	query := `SELECT ` + taskColumns + ` FROM workflow_tasks WHERE id = ?`

	task, err := scanTask(r.getExecutor(ctx).QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to get task by ID", zap.Int64("id", id), zap.Error(err))
		return nil, fmt.Errorf("failed to get task: %w", err)
	}

	return task, nil
}

// GetByInstanceID retrieves all tasks for an instance in creation order
func (r *TaskRepository) GetByInstanceID(ctx context.Context, instanceID int64) ([]*entity.WorkflowTask, error) {
	query := `SELECT ` + taskColumns + ` FROM workflow_tasks WHERE instance_id = ? ORDER BY id ASC`
	return r.query(ctx, "instance", query, instanceID)
}

// GetPendingByInstance returns the PENDING task of an instance, if any
func (r *TaskRepository) GetPendingByInstance(ctx context.Context, instanceID int64) (*entity.WorkflowTask, error) {
	query := `SELECT ` + taskColumns + ` FROM workflow_tasks
		WHERE instance_id = ? AND status = ? ORDER BY id DESC LIMIT 1`

	task, err := scanTask(r.getExecutor(ctx).QueryRowContext(ctx, query, instanceID, entity.TaskStatusPending))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to get pending task", zap.Int64("instance_id", instanceID), zap.Error(err))
		return nil, fmt.Errorf("failed to get pending task: %w", err)
	}

	return task, nil
}

// Decide records a decision on a task that is still PENDING
func (r *TaskRepository) Decide(ctx context.Context, id int64, status, decidedBy, comments string, at time.Time) (bool, error) {
	query := `
		UPDATE workflow_tasks
		SET status = ?, decided_by = ?, comments = ?, completed_at = ?
		WHERE id = ? AND status = ?
	`

	result, err := r.getExecutor(ctx).ExecContext(ctx, query,
		status, decidedBy, comments, at, id, entity.TaskStatusPending)
	if err != nil {
		r.logger.Error("Failed to decide task", zap.Int64("id", id), zap.String("status", status), zap.Error(err))
		return false, fmt.Errorf("failed to decide task: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return affected == 1, nil
}

// ListByAssignee returns the live tasks assigned to a user, optionally filtered by status
func (r *TaskRepository) ListByAssignee(ctx context.Context, userID, status string) ([]*entity.WorkflowTask, error) {
	if status == "" {
		query := `SELECT ` + taskColumns + ` FROM workflow_tasks
			WHERE assigned_to = ? AND ` + liveTask + ` ORDER BY id DESC`
		return r.query(ctx, "assignee", query, userID)
	}
	query := `SELECT ` + taskColumns + ` FROM workflow_tasks
		WHERE assigned_to = ? AND status = ? AND ` + liveTask + ` ORDER BY id DESC`
	return r.query(ctx, "assignee", query, userID, status)
}

// ListOverdue returns PENDING tasks whose due time is before now
func (r *TaskRepository) ListOverdue(ctx context.Context, now time.Time) ([]*entity.WorkflowTask, error) {
	query := `SELECT ` + taskColumns + ` FROM workflow_tasks
		WHERE status = ? AND due_at IS NOT NULL AND due_at < ? ORDER BY due_at ASC`
	return r.query(ctx, "overdue", query, entity.TaskStatusPending, now)
}

// CountPending returns the number of PENDING tasks an actionable instance waits on
func (r *TaskRepository) CountPending(ctx context.Context) (int, error) {
	var n int
	err := r.getExecutor(ctx).QueryRowContext(ctx,
		`SELECT COUNT(*) FROM workflow_tasks WHERE status = ? AND `+liveTask, entity.TaskStatusPending).Scan(&n)
	if err != nil {
		r.logger.Error("Failed to count pending tasks", zap.Error(err))
		return 0, fmt.Errorf("failed to count pending tasks: %w", err)
	}
	return n, nil
}

func (r *TaskRepository) query(ctx context.Context, by, query string, args ...interface{}) ([]*entity.WorkflowTask, error) {
	rows, err := r.getExecutor(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		r.logger.Error("Failed to list tasks", zap.String("by", by), zap.Error(err))
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*entity.WorkflowTask
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan task: %w", err)
		}
		tasks = append(tasks, task)
	}

	return tasks, rows.Err()
}

func scanTask(row rowScanner) (*entity.WorkflowTask, error) {
	var task entity.WorkflowTask
	var dueAt, completedAt sql.NullTime

	err := row.Scan(
		&task.ID,
		&task.InstanceID,
		&task.StepDefinitionID,
		&task.StepOrder,
		&task.StepName,
		&task.StepType,
		&task.AssignedTo,
		&task.Status,
		&task.Comments,
		&task.DecidedBy,
		&dueAt,
		&task.CreatedAt,
		&completedAt,
	)
	if err != nil {
		return nil, err
	}

	task.DueAt = timePtr(dueAt)
	task.CompletedAt = timePtr(completedAt)
	return &task, nil
}

// getExecutor returns appropriate executor based on context
func (r *TaskRepository) getExecutor(ctx context.Context) sqlite.Executor {
	return sqlite.ExecutorFor(ctx, r.db)
}

// Verify interface compliance
var _ port.TaskRepository = (*TaskRepository)(nil)
