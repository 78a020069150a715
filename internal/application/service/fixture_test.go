package service

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/garyjia/doc-approval/internal/application/port"
	"github.com/garyjia/doc-approval/internal/application/workflow"
	"github.com/garyjia/doc-approval/internal/domain/entity"
	"github.com/garyjia/doc-approval/internal/infrastructure/persistence/repository"
	"github.com/garyjia/doc-approval/internal/infrastructure/persistence/sqlite"
	"github.com/garyjia/doc-approval/internal/testutil"
)

type fixture struct {
	db        *sql.DB
	tx        *sqlite.DB
	templates port.TemplateRepository
	instances port.InstanceRepository
	tasks     port.TaskRepository
	history   port.HistoryRepository
	directory *repository.DirectoryRepository
	engine    workflow.Engine
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	db, tx := testutil.NewDB(t)
	logger := zap.NewNop()

	f := &fixture{
		db:        db,
		tx:        tx,
		templates: repository.NewTemplateRepository(db, logger),
		instances: repository.NewInstanceRepository(db, logger),
		tasks:     repository.NewTaskRepository(db, logger),
		history:   repository.NewHistoryRepository(db, logger),
		directory: repository.NewDirectoryRepository(db, logger),
	}
	f.engine = workflow.NewEngine(
		workflow.Repositories{Templates: f.templates, Instances: f.instances, Tasks: f.tasks, History: f.history},
		workflow.Directory{Documents: f.directory, Users: f.directory},
		tx,
	)

	testutil.SeedUser(t, db, testutil.UserSeed{ID: "u-alice", Username: "alice", Roles: []string{"MANAGER"}, OpenID: "ou_alice"})
	testutil.SeedUser(t, db, testutil.UserSeed{ID: "u-carol", Username: "carol", Roles: []string{"FINANCE"}, OpenID: "ou_carol"})
	testutil.SeedUser(t, db, testutil.UserSeed{ID: "u-owner", Username: "owner", OpenID: "ou_owner"})
	testutil.SeedUser(t, db, testutil.UserSeed{ID: "u-other", Username: "other"})

	return f
}

func (f *fixture) twoStepTemplate(t *testing.T, slaHours int) *entity.WorkflowTemplate {
	t.Helper()
	tmpl := &entity.WorkflowTemplate{
		Name:     "Purchase order",
		IsActive: true,
		Steps: []entity.StepDefinition{
			{Order: 1, Name: "Manager", RequiredRole: "MANAGER", IsRequired: true, SLAHours: slaHours, StepType: entity.StepTypeApproval},
			{Order: 2, Name: "Finance", RequiredRole: "FINANCE", IsRequired: true, StepType: entity.StepTypeApproval},
		},
	}
	require.NoError(t, f.templates.Create(context.Background(), tmpl))
	return tmpl
}

func (f *fixture) start(t *testing.T, templateID int64, initiator string) *entity.WorkflowInstance {
	t.Helper()
	docID := testutil.SeedDocument(t, f.db, initiator, "PO")
	instance, err := f.engine.StartWorkflow(context.Background(), workflow.StartRequest{
		DocumentID:      docID,
		TemplateID:      templateID,
		InitiatorUserID: initiator,
	})
	require.NoError(t, err)
	return instance
}

func (f *fixture) approveCurrent(t *testing.T, instanceID int64, actor string) {
	t.Helper()
	task, err := f.tasks.GetPendingByInstance(context.Background(), instanceID)
	require.NoError(t, err)
	require.NotNil(t, task)
	_, err = f.engine.ProcessTaskAction(context.Background(), workflow.TaskActionRequest{
		TaskID:       task.ID,
		Action:       workflow.ActionApprove,
		ActingUserID: actor,
	})
	require.NoError(t, err)
}
