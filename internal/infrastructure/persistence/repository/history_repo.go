package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/garyjia/doc-approval/internal/application/port"
	"github.com/garyjia/doc-approval/internal/domain/entity"
	"github.com/garyjia/doc-approval/internal/infrastructure/persistence/sqlite"
	"go.uber.org/zap"
)

// HistoryRepository implements port.HistoryRepository
type HistoryRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewHistoryRepository creates a new history repository
func NewHistoryRepository(db *sql.DB, logger *zap.Logger) port.HistoryRepository {
	return &HistoryRepository{
		db:     db,
		logger: logger,
	}
}

// Create appends a history record
func (r *HistoryRepository) Create(ctx context.Context, history *entity.WorkflowHistory) error {
	query := `
		INSERT INTO workflow_history (
			instance_id, action, details, performed_by, from_status, to_status, action_date
		) VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	result, err := r.getExecutor(ctx).ExecContext(ctx, query,
		history.InstanceID,
		history.Action,
		history.Details,
		nullableString(history.PerformedBy),
		history.FromStatus,
		history.ToStatus,
		history.ActionDate,
	)
	if err != nil {
		r.logger.Error("Failed to create history record",
			zap.Int64("instance_id", history.InstanceID),
			zap.String("action", history.Action),
			zap.Error(err))
		return fmt.Errorf("failed to create history: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}

	history.ID = id
	return nil
}

// GetByInstanceID retrieves all history records for an instance in append order
func (r *HistoryRepository) GetByInstanceID(ctx context.Context, instanceID int64) ([]*entity.WorkflowHistory, error) {
	query := `
		SELECT id, instance_id, action, details, performed_by, from_status, to_status, action_date
		FROM workflow_history
		WHERE instance_id = ?
		ORDER BY id ASC
	`

	rows, err := r.getExecutor(ctx).QueryContext(ctx, query, instanceID)
	if err != nil {
		r.logger.Error("Failed to get history by instance ID", zap.Int64("instance_id", instanceID), zap.Error(err))
		return nil, fmt.Errorf("failed to get history: %w", err)
	}
	defer rows.Close()

	var records []*entity.WorkflowHistory
	for rows.Next() {
		var record entity.WorkflowHistory
		var performedBy sql.NullString
		err := rows.Scan(
			&record.ID,
			&record.InstanceID,
			&record.Action,
			&record.Details,
			&performedBy,
			&record.FromStatus,
			&record.ToStatus,
			&record.ActionDate,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan history record: %w", err)
		}
		if performedBy.Valid {
			record.PerformedBy = &performedBy.String
		}
		records = append(records, &record)
	}

	return records, rows.Err()
}

// getExecutor returns appropriate executor based on context
func (r *HistoryRepository) getExecutor(ctx context.Context) sqlite.Executor {
	return sqlite.ExecutorFor(ctx, r.db)
}

// Verify interface compliance
var _ port.HistoryRepository = (*HistoryRepository)(nil)
