// Package testutil provides SQLite fixtures shared by repository, service and
// engine tests.
package testutil

import (
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/garyjia/doc-approval/internal/infrastructure/persistence/sqlite"
	"github.com/garyjia/doc-approval/pkg/database"
)

// NewDB opens a migrated SQLite database in a per-test temp directory.
// The database is closed when the test ends.
func NewDB(t testing.TB) (*sql.DB, *sqlite.DB) {
	t.Helper()

	logger := zap.NewNop()
	db, err := database.New(database.Config{
		Path:         filepath.Join(t.TempDir(), "workflow.db"),
		MaxOpenConns: 4,
		MaxIdleConns: 4,
	}, logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	require.NoError(t, database.NewMigrator(db, logger).RunMigrations(""))

	return db.DB, sqlite.NewDB(db.DB, logger)
}

// UserSeed describes a directory user inserted by SeedUser
type UserSeed struct {
	ID       string
	Username string
	Roles    []string
	Inactive bool
	OpenID   string
}

// SeedUser inserts a user and its roles into the host directory tables
func SeedUser(t testing.TB, db *sql.DB, u UserSeed) {
	t.Helper()

	username := u.Username
	if username == "" {
		username = u.ID
	}
	_, err := db.Exec(
		`INSERT INTO users (id, username, display_name, email, lark_open_id, active) VALUES (?, ?, ?, ?, ?, ?)`,
		u.ID, username, username, username+"@example.com", u.OpenID, !u.Inactive,
	)
	require.NoError(t, err)

	for _, role := range u.Roles {
		_, err := db.Exec(`INSERT INTO user_roles (user_id, role) VALUES (?, ?)`, u.ID, role)
		require.NoError(t, err)
	}
}

// SeedDocument inserts a host document and returns its id
func SeedDocument(t testing.TB, db *sql.DB, ownerID, title string) int64 {
	t.Helper()

	res, err := db.Exec(`INSERT INTO documents (owner_id, title) VALUES (?, ?)`, ownerID, title)
	require.NoError(t, err)
	id, err := res.LastInsertId()
	require.NoError(t, err)
	return id
}
