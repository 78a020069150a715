package port

import (
	"context"

	"github.com/garyjia/doc-approval/internal/domain/entity"
)

// Document is the host application's view of a document under approval
type Document struct {
	ID      int64
	OwnerID string
	Title   string
	Exists  bool
}

// User is a member of the host application's user directory
type User struct {
	ID          string
	Username    string
	DisplayName string
	Email       string
	LarkOpenID  string
	Roles       []string
	Active      bool
}

// HasRole reports whether the user holds role
func (u *User) HasRole(role string) bool {
	for _, r := range u.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// DocumentLookup resolves documents owned by the host application
type DocumentLookup interface {
	// GetDocument returns nil when the document does not exist
	GetDocument(ctx context.Context, id int64) (*Document, error)
}

// UserDirectory resolves users and role membership
type UserDirectory interface {
	FindUsersByRole(ctx context.Context, role string) ([]User, error)
	// GetUser returns nil when the user does not exist
	GetUser(ctx context.Context, id string) (*User, error)
}

// Notifier delivers fire-and-forget workflow notifications
type Notifier interface {
	NotifyTaskAssigned(ctx context.Context, user *User, task *entity.WorkflowTask) error
	NotifyWorkflowDecided(ctx context.Context, instance *entity.WorkflowInstance) error
}
