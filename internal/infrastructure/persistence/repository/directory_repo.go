package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/garyjia/doc-approval/internal/application/port"
	"github.com/garyjia/doc-approval/internal/infrastructure/persistence/sqlite"
	"go.uber.org/zap"
)

// DirectoryRepository reads the host application's documents, users and
// user_roles tables. It implements port.DocumentLookup and port.UserDirectory.
type DirectoryRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewDirectoryRepository creates a new directory repository
func NewDirectoryRepository(db *sql.DB, logger *zap.Logger) *DirectoryRepository {
	return &DirectoryRepository{
		db:     db,
		logger: logger,
	}
}

// GetDocument returns the document or nil when it does not exist
func (r *DirectoryRepository) GetDocument(ctx context.Context, id int64) (*port.Document, error) {
	doc := port.Document{ID: id}
	err := r.getExecutor(ctx).QueryRowContext(ctx,
		`SELECT owner_id, title FROM documents WHERE id = ?`, id).Scan(&doc.OwnerID, &doc.Title)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to get document", zap.Int64("id", id), zap.Error(err))
		return nil, fmt.Errorf("failed to get document: %w", err)
	}

	doc.Exists = true
	return &doc, nil
}

// FindUsersByRole returns every user holding role, ordered by username
func (r *DirectoryRepository) FindUsersByRole(ctx context.Context, role string) ([]port.User, error) {
	rows, err := r.getExecutor(ctx).QueryContext(ctx, `
		SELECT u.id FROM users u
		JOIN user_roles ur ON ur.user_id = u.id
		WHERE ur.role = ?
		ORDER BY u.username ASC, u.id ASC
	`, role)
	if err != nil {
		r.logger.Error("Failed to find users by role", zap.String("role", role), zap.Error(err))
		return nil, fmt.Errorf("failed to find users by role: %w", err)
	}

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan user id: %w", err)
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to find users by role: %w", err)
	}

	users := make([]port.User, 0, len(ids))
	for _, id := range ids {
		user, err := r.GetUser(ctx, id)
		if err != nil {
			return nil, err
		}
		if user != nil {
			users = append(users, *user)
		}
	}

	return users, nil
}

// GetUser returns a user with roles, or nil when unknown
func (r *DirectoryRepository) GetUser(ctx context.Context, id string) (*port.User, error) {
	user := port.User{ID: id}
	err := r.getExecutor(ctx).QueryRowContext(ctx, `
		SELECT username, display_name, email, lark_open_id, active FROM users WHERE id = ?
	`, id).Scan(&user.Username, &user.DisplayName, &user.Email, &user.LarkOpenID, &user.Active)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to get user", zap.String("id", id), zap.Error(err))
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	var roles sql.NullString
	err = r.getExecutor(ctx).QueryRowContext(ctx,
		`SELECT group_concat(role, ',') FROM user_roles WHERE user_id = ?`, id).Scan(&roles)
	if err != nil {
		r.logger.Error("Failed to get user roles", zap.String("id", id), zap.Error(err))
		return nil, fmt.Errorf("failed to get user roles: %w", err)
	}
	if roles.Valid && roles.String != "" {
		user.Roles = strings.Split(roles.String, ",")
		sort.Strings(user.Roles)
	}

	return &user, nil
}

// getExecutor returns appropriate executor based on context
func (r *DirectoryRepository) getExecutor(ctx context.Context) sqlite.Executor {
	return sqlite.ExecutorFor(ctx, r.db)
}

// Verify interface compliance
var (
	_ port.DocumentLookup = (*DirectoryRepository)(nil)
	_ port.UserDirectory  = (*DirectoryRepository)(nil)
)
