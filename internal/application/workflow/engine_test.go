package workflow

import (
	"context"
	"database/sql"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/garyjia/doc-approval/internal/application/dispatcher"
	"github.com/garyjia/doc-approval/internal/application/port"
	"github.com/garyjia/doc-approval/internal/domain/apperr"
	"github.com/garyjia/doc-approval/internal/domain/entity"
	"github.com/garyjia/doc-approval/internal/domain/event"
	"github.com/garyjia/doc-approval/internal/infrastructure/persistence/repository"
	"github.com/garyjia/doc-approval/internal/testutil"
)

// recordingDispatcher captures events synchronously
type recordingDispatcher struct {
	dispatcher.Dispatcher

	mu     sync.Mutex
	events []*event.Event
}

func (r *recordingDispatcher) DispatchAsync(_ context.Context, evts ...*event.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evts...)
}

func (r *recordingDispatcher) types() []event.Type {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]event.Type, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Type)
	}
	return out
}

type fixture struct {
	db        *sql.DB
	engine    *engineImpl
	templates port.TemplateRepository
	instances port.InstanceRepository
	tasks     port.TaskRepository
	history   port.HistoryRepository
	events    *recordingDispatcher
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	db, txm := testutil.NewDB(t)
	logger := zap.NewNop()

	f := &fixture{
		db:        db,
		templates: repository.NewTemplateRepository(db, logger),
		instances: repository.NewInstanceRepository(db, logger),
		tasks:     repository.NewTaskRepository(db, logger),
		history:   repository.NewHistoryRepository(db, logger),
		events:    &recordingDispatcher{},
	}
	directory := repository.NewDirectoryRepository(db, logger)

	f.engine = NewEngine(
		Repositories{Templates: f.templates, Instances: f.instances, Tasks: f.tasks, History: f.history},
		Directory{Documents: directory, Users: directory},
		txm,
		WithDispatcher(f.events),
		WithAdminRole("ADMIN"),
	).(*engineImpl)

	testutil.SeedUser(t, db, testutil.UserSeed{ID: "u-alice", Username: "alice", Roles: []string{"MANAGER"}})
	testutil.SeedUser(t, db, testutil.UserSeed{ID: "u-bob", Username: "bob", Roles: []string{"MANAGER"}})
	testutil.SeedUser(t, db, testutil.UserSeed{ID: "u-aaron", Username: "aaron", Roles: []string{"MANAGER"}, Inactive: true})
	testutil.SeedUser(t, db, testutil.UserSeed{ID: "u-carol", Username: "carol", Roles: []string{"FINANCE"}})
	testutil.SeedUser(t, db, testutil.UserSeed{ID: "u-dave", Username: "dave", Roles: []string{"DIRECTOR"}})
	testutil.SeedUser(t, db, testutil.UserSeed{ID: "u-root", Username: "root", Roles: []string{"ADMIN"}})

	return f
}

func step(order int, name, role string) entity.StepDefinition {
	return entity.StepDefinition{Order: order, Name: name, RequiredRole: role, IsRequired: true, StepType: entity.StepTypeApproval}
}

func (f *fixture) template(t *testing.T, steps ...entity.StepDefinition) int64 {
	t.Helper()
	tmpl := &entity.WorkflowTemplate{Name: "Contract review", IsActive: true, Steps: steps}
	require.NoError(t, f.templates.Create(context.Background(), tmpl))
	return tmpl.ID
}

func (f *fixture) threeStep(t *testing.T) int64 {
	return f.template(t,
		step(1, "Manager", "MANAGER"),
		step(2, "Finance", "FINANCE"),
		step(3, "Director", "DIRECTOR"),
	)
}

func (f *fixture) start(t *testing.T, templateID int64) *entity.WorkflowInstance {
	t.Helper()
	docID := testutil.SeedDocument(t, f.db, "u-owner", "Supplier agreement")
	instance, err := f.engine.StartWorkflow(context.Background(), StartRequest{
		DocumentID:      docID,
		TemplateID:      templateID,
		InitiatorUserID: "u-owner",
	})
	require.NoError(t, err)
	return instance
}

func (f *fixture) pending(t *testing.T, instanceID int64) *entity.WorkflowTask {
	t.Helper()
	task, err := f.tasks.GetPendingByInstance(context.Background(), instanceID)
	require.NoError(t, err)
	require.NotNil(t, task)
	return task
}

func (f *fixture) decide(t *testing.T, instanceID int64, action, actor string) *TaskActionResult {
	t.Helper()
	task := f.pending(t, instanceID)
	res, err := f.engine.ProcessTaskAction(context.Background(), TaskActionRequest{
		TaskID:       task.ID,
		Action:       action,
		ActingUserID: actor,
	})
	require.NoError(t, err)
	return res
}

func TestStartWorkflow_AssignsFirstStep(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	instance := f.start(t, f.threeStep(t))

	assert.Equal(t, entity.StatusPending, instance.Status)
	require.NotNil(t, instance.CurrentStepOrder)
	assert.Equal(t, 1, *instance.CurrentStepOrder)
	assert.Equal(t, entity.PriorityNormal, instance.Priority)
	assert.Equal(t, "Supplier agreement", instance.Title)
	assert.Nil(t, instance.EndedAt)

	// aaron sorts first but is inactive
	task := f.pending(t, instance.ID)
	assert.Equal(t, "u-alice", task.AssignedTo)
	assert.Equal(t, 1, task.StepOrder)
	assert.Equal(t, entity.StepTypeApproval, task.StepType)

	entries, err := f.history.GetByInstanceID(ctx, instance.ID)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, entity.ActionWorkflowCreated, entries[0].Action)
	assert.Nil(t, entries[0].PerformedBy)
	assert.Equal(t, "system", entries[0].Actor())

	assert.Equal(t, []event.Type{event.TypeWorkflowCreated, event.TypeTaskAssigned}, f.events.types())
	assert.Equal(t, f.events.events[0].CorrelationID, f.events.events[1].CorrelationID)
	assert.Equal(t, 0, f.engine.locks.size())
}

func TestStartWorkflow_SetsDueDateFromSLA(t *testing.T) {
	f := newFixture(t)
	fixed := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	f.engine.now = func() time.Time { return fixed }

	s := step(1, "Manager", "MANAGER")
	s.SLAHours = 24
	instance := f.start(t, f.template(t, s))

	task := f.pending(t, instance.ID)
	require.NotNil(t, task.DueAt)
	assert.True(t, task.DueAt.Equal(fixed.Add(24*time.Hour)))
}

func TestStartWorkflow_Errors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	tmplID := f.threeStep(t)
	inactive := &entity.WorkflowTemplate{Name: "Retired", IsActive: false, Steps: []entity.StepDefinition{step(1, "Manager", "MANAGER")}}
	require.NoError(t, f.templates.Create(ctx, inactive))
	docID := testutil.SeedDocument(t, f.db, "u-owner", "NDA")

	tests := []struct {
		name string
		req  StartRequest
		kind apperr.Kind
	}{
		{"missing initiator", StartRequest{DocumentID: docID, TemplateID: tmplID}, apperr.KindValidation},
		{"unknown priority", StartRequest{DocumentID: docID, TemplateID: tmplID, Priority: "someday", InitiatorUserID: "u-owner"}, apperr.KindValidation},
		{"unknown document", StartRequest{DocumentID: 9999, TemplateID: tmplID, InitiatorUserID: "u-owner"}, apperr.KindNotFound},
		{"unknown template", StartRequest{DocumentID: docID, TemplateID: 9999, InitiatorUserID: "u-owner"}, apperr.KindNotFound},
		{"inactive template", StartRequest{DocumentID: docID, TemplateID: inactive.ID, InitiatorUserID: "u-owner"}, apperr.KindValidation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.engine.StartWorkflow(ctx, tt.req)
			require.Error(t, err)
			assert.Equal(t, tt.kind, apperr.KindOf(err))
		})
	}

	existing, err := f.instances.GetActiveByDocument(ctx, docID)
	require.NoError(t, err)
	assert.Nil(t, existing)
}

func TestStartWorkflow_RejectsSecondActiveInstance(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tmplID := f.threeStep(t)

	first := f.start(t, tmplID)

	_, err := f.engine.StartWorkflow(ctx, StartRequest{
		DocumentID:      first.DocumentID,
		TemplateID:      tmplID,
		InitiatorUserID: "u-owner",
	})
	require.Error(t, err)
	assert.True(t, apperr.IsKind(err, apperr.KindInvalidState))

	// once the first run ends the document may be routed again
	_, err = f.engine.CancelWorkflow(ctx, first.ID, "u-owner", "superseded")
	require.NoError(t, err)

	second, err := f.engine.StartWorkflow(ctx, StartRequest{
		DocumentID:      first.DocumentID,
		TemplateID:      tmplID,
		Priority:        "high",
		InitiatorUserID: "u-owner",
	})
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, second.ID)
	assert.Equal(t, entity.PriorityHigh, second.Priority)
}

func TestStartWorkflow_RequiredStepWithoutHolder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tmplID := f.template(t, step(1, "Legal", "LEGAL"), step(2, "Manager", "MANAGER"))
	docID := testutil.SeedDocument(t, f.db, "u-owner", "Lease")

	_, err := f.engine.StartWorkflow(ctx, StartRequest{DocumentID: docID, TemplateID: tmplID, InitiatorUserID: "u-owner"})
	require.Error(t, err)
	assert.Equal(t, apperr.KindConfiguration, apperr.KindOf(err))
	assert.Contains(t, err.Error(), "LEGAL")

	existing, err := f.instances.GetActiveByDocument(ctx, docID)
	require.NoError(t, err)
	assert.Nil(t, existing, "failed start must not leave an instance behind")
	assert.Empty(t, f.events.types())
}

func TestStartWorkflow_SkipsOptionalStepWithoutHolder(t *testing.T) {
	f := newFixture(t)
	legal := step(1, "Legal", "LEGAL")
	legal.IsRequired = false
	instance := f.start(t, f.template(t, legal, step(2, "Manager", "MANAGER")))

	require.NotNil(t, instance.CurrentStepOrder)
	assert.Equal(t, 2, *instance.CurrentStepOrder)
	assert.Equal(t, "u-alice", f.pending(t, instance.ID).AssignedTo)

	entries, err := f.history.GetByInstanceID(context.Background(), instance.ID)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Contains(t, entries[0].Details, "Legal")
}

func TestProcessTaskAction_ApprovesThroughEveryStep(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	instance := f.start(t, f.threeStep(t))

	res := f.decide(t, instance.ID, "approve", "u-alice")
	assert.Equal(t, entity.StatusInProgress, res.InstanceStatus)
	require.NotNil(t, res.NextStepOrder)
	assert.Equal(t, 2, *res.NextStepOrder)
	assert.Equal(t, "u-carol", res.NextAssignee)

	res = f.decide(t, instance.ID, ActionApprove, "u-carol")
	assert.Equal(t, entity.StatusInProgress, res.InstanceStatus)
	assert.Equal(t, "u-dave", res.NextAssignee)

	res = f.decide(t, instance.ID, ActionApprove, "u-dave")
	assert.Equal(t, entity.StatusApproved, res.InstanceStatus)
	assert.Nil(t, res.NextTaskID)

	got, err := f.instances.GetByID(ctx, instance.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.StatusApproved, got.Status)
	assert.Nil(t, got.CurrentStepOrder)
	assert.NotNil(t, got.EndedAt)

	tasks, err := f.tasks.GetByInstanceID(ctx, instance.ID)
	require.NoError(t, err)
	require.Len(t, tasks, 3)
	for _, task := range tasks {
		assert.Equal(t, entity.TaskStatusApproved, task.Status)
		assert.Equal(t, task.AssignedTo, task.DecidedBy)
		assert.NotNil(t, task.CompletedAt)
	}

	entries, err := f.history.GetByInstanceID(ctx, instance.ID)
	require.NoError(t, err)
	require.Len(t, entries, 4)
	assert.Equal(t, entity.ActionStepApproved, entries[3].Action)
	assert.Equal(t, entity.StatusApproved, entries[3].ToStatus)

	types := f.events.types()
	assert.Equal(t, event.TypeWorkflowDecided, types[len(types)-1])
}

func TestProcessTaskAction_RejectEndsWorkflow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	instance := f.start(t, f.threeStep(t))

	f.decide(t, instance.ID, ActionApprove, "u-alice")
	res := f.decide(t, instance.ID, ActionReject, "u-carol")
	assert.Equal(t, entity.StatusRejected, res.InstanceStatus)

	tasks, err := f.tasks.GetByInstanceID(ctx, instance.ID)
	require.NoError(t, err)
	require.Len(t, tasks, 2, "no task is created after a rejection")
	assert.Equal(t, entity.TaskStatusRejected, tasks[1].Status)

	entries, err := f.history.GetByInstanceID(ctx, instance.ID)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, entity.ActionStepRejected, entries[2].Action)
	require.NotNil(t, entries[2].PerformedBy)
	assert.Equal(t, "u-carol", *entries[2].PerformedBy)
}

func TestProcessTaskAction_Authorization(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	instance := f.start(t, f.threeStep(t))
	task := f.pending(t, instance.ID)

	_, err := f.engine.ProcessTaskAction(ctx, TaskActionRequest{TaskID: task.ID, Action: ActionApprove, ActingUserID: "u-bob"})
	require.Error(t, err)
	assert.Equal(t, apperr.KindForbidden, apperr.KindOf(err))

	got := f.pending(t, instance.ID)
	assert.Equal(t, task.ID, got.ID, "forbidden attempt must not decide the task")

	res, err := f.engine.ProcessTaskAction(ctx, TaskActionRequest{TaskID: task.ID, Action: ActionApprove, ActingUserID: "u-root"})
	require.NoError(t, err)
	assert.Equal(t, entity.StatusInProgress, res.InstanceStatus)

	decided, err := f.tasks.GetByID(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, "u-root", decided.DecidedBy)
}

func TestProcessTaskAction_InvalidRequests(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	instance := f.start(t, f.threeStep(t))
	task := f.pending(t, instance.ID)

	tests := []struct {
		name string
		req  TaskActionRequest
		kind apperr.Kind
	}{
		{"unknown action", TaskActionRequest{TaskID: task.ID, Action: "DELEGATE", ActingUserID: "u-alice"}, apperr.KindValidation},
		{"missing actor", TaskActionRequest{TaskID: task.ID, Action: ActionApprove}, apperr.KindValidation},
		{"unknown task", TaskActionRequest{TaskID: 9999, Action: ActionApprove, ActingUserID: "u-alice"}, apperr.KindNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.engine.ProcessTaskAction(ctx, tt.req)
			require.Error(t, err)
			assert.Equal(t, tt.kind, apperr.KindOf(err))
		})
	}
}

func TestProcessTaskAction_AlreadyDecided(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	instance := f.start(t, f.threeStep(t))
	task := f.pending(t, instance.ID)

	f.decide(t, instance.ID, ActionApprove, "u-alice")

	_, err := f.engine.ProcessTaskAction(ctx, TaskActionRequest{TaskID: task.ID, Action: ActionReject, ActingUserID: "u-alice"})
	require.Error(t, err)
	assert.Equal(t, apperr.KindInvalidState, apperr.KindOf(err))
	assert.Contains(t, err.Error(), "already decided by u-alice")
}

func TestProcessTaskAction_ConcurrentDecisionsAtMostOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	instance := f.start(t, f.threeStep(t))
	task := f.pending(t, instance.ID)

	const workers = 8
	var wg sync.WaitGroup
	errs := make([]error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			action := ActionApprove
			if i%2 == 1 {
				action = ActionReject
			}
			_, errs[i] = f.engine.ProcessTaskAction(ctx, TaskActionRequest{
				TaskID:       task.ID,
				Action:       action,
				ActingUserID: "u-alice",
			})
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		assert.Equal(t, apperr.KindInvalidState, apperr.KindOf(err))
	}
	assert.Equal(t, 1, succeeded)

	entries, err := f.history.GetByInstanceID(ctx, instance.ID)
	require.NoError(t, err)
	assert.Len(t, entries, 2)
	assert.Equal(t, 0, f.engine.locks.size())
}

func TestCancelWorkflow_RacesDecision(t *testing.T) {
	tests := []struct {
		name    string
		action  string
		decided string
		steps   func(t *testing.T, f *fixture) int64
	}{
		{"reject", ActionReject, entity.StatusRejected, func(t *testing.T, f *fixture) int64 { return f.threeStep(t) }},
		{"approve last step", ActionApprove, entity.StatusApproved, func(t *testing.T, f *fixture) int64 {
			return f.template(t, step(1, "Manager", "MANAGER"))
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			ctx := context.Background()
			templateID := tt.steps(t, f)

			for i := 0; i < 10; i++ {
				instance := f.start(t, templateID)
				task := f.pending(t, instance.ID)

				var wg sync.WaitGroup
				var decideErr, cancelErr error
				wg.Add(2)
				go func() {
					defer wg.Done()
					_, decideErr = f.engine.ProcessTaskAction(ctx, TaskActionRequest{
						TaskID:       task.ID,
						Action:       tt.action,
						ActingUserID: "u-alice",
					})
				}()
				go func() {
					defer wg.Done()
					_, cancelErr = f.engine.CancelWorkflow(ctx, instance.ID, "u-owner", "withdrawn")
				}()
				wg.Wait()

				require.True(t, (decideErr == nil) != (cancelErr == nil),
					"exactly one side wins: decide=%v cancel=%v", decideErr, cancelErr)

				stored, err := f.instances.GetByID(ctx, instance.ID)
				require.NoError(t, err)
				storedTask, err := f.tasks.GetByID(ctx, task.ID)
				require.NoError(t, err)

				if cancelErr == nil {
					assert.ErrorIs(t, decideErr, apperr.ErrInvalidState)
					assert.Equal(t, entity.StatusCancelled, stored.Status)
					assert.Equal(t, entity.TaskStatusPending, storedTask.Status)
				} else {
					assert.ErrorIs(t, cancelErr, apperr.ErrInvalidState)
					assert.Equal(t, tt.decided, stored.Status)
					assert.NotEqual(t, entity.TaskStatusPending, storedTask.Status)
				}
				assert.Nil(t, stored.CurrentStepOrder)
			}
			assert.Equal(t, 0, f.engine.locks.size())
		})
	}
}

func TestProcessTaskAction_InformationalStep(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	fyi := step(2, "Finance FYI", "FINANCE")
	fyi.StepType = entity.StepTypeInformational
	instance := f.start(t, f.template(t, step(1, "Manager", "MANAGER"), fyi))

	f.decide(t, instance.ID, ActionApprove, "u-alice")
	task := f.pending(t, instance.ID)
	assert.Equal(t, entity.StepTypeInformational, task.StepType)

	_, err := f.engine.ProcessTaskAction(ctx, TaskActionRequest{TaskID: task.ID, Action: ActionReject, ActingUserID: "u-carol"})
	require.Error(t, err)
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))

	res, err := f.engine.ProcessTaskAction(ctx, TaskActionRequest{TaskID: task.ID, Action: ActionApprove, ActingUserID: "u-carol"})
	require.NoError(t, err)
	assert.Equal(t, entity.StatusApproved, res.InstanceStatus)

	acked, err := f.tasks.GetByID(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.TaskStatusCompleted, acked.Status)

	_, err = f.engine.ProcessTaskAction(ctx, TaskActionRequest{TaskID: task.ID, Action: ActionReject, ActingUserID: "u-carol"})
	require.Error(t, err)
	assert.Equal(t, apperr.KindInvalidState, apperr.KindOf(err))
	assert.Contains(t, err.Error(), "already decided by u-carol")

	entries, err := f.history.GetByInstanceID(ctx, instance.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.ActionStepAcknowledged, entries[len(entries)-1].Action)
}

func TestProcessTaskAction_TrailingOptionalStepsSkipped(t *testing.T) {
	f := newFixture(t)
	legal := step(2, "Legal", "LEGAL")
	legal.IsRequired = false
	instance := f.start(t, f.template(t, step(1, "Manager", "MANAGER"), legal))

	res := f.decide(t, instance.ID, ActionApprove, "u-alice")
	assert.Equal(t, entity.StatusApproved, res.InstanceStatus)
}

func TestCancelWorkflow_BlocksFurtherActions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	instance := f.start(t, f.threeStep(t))
	task := f.pending(t, instance.ID)

	cancelled, err := f.engine.CancelWorkflow(ctx, instance.ID, "u-owner", "withdrawn by owner")
	require.NoError(t, err)
	assert.Equal(t, entity.StatusCancelled, cancelled.Status)
	assert.Equal(t, "withdrawn by owner", cancelled.Comments)
	assert.Nil(t, cancelled.CurrentStepOrder)
	assert.NotNil(t, cancelled.EndedAt)

	_, err = f.engine.ProcessTaskAction(ctx, TaskActionRequest{TaskID: task.ID, Action: ActionApprove, ActingUserID: "u-alice"})
	require.Error(t, err)
	assert.Equal(t, apperr.KindInvalidState, apperr.KindOf(err))

	_, err = f.engine.CancelWorkflow(ctx, instance.ID, "u-owner", "again")
	assert.Equal(t, apperr.KindInvalidState, apperr.KindOf(err))

	_, err = f.engine.CancelWorkflow(ctx, 9999, "u-owner", "")
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))

	entries, err := f.history.GetByInstanceID(ctx, instance.ID)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, entity.ActionWorkflowCancelled, entries[1].Action)

	assert.Contains(t, f.events.types(), event.TypeWorkflowCancelled)
}

func TestHoldAndResume(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	t.Run("resume without progress returns to pending", func(t *testing.T) {
		instance := f.start(t, f.threeStep(t))
		task := f.pending(t, instance.ID)

		held, err := f.engine.HoldWorkflow(ctx, instance.ID, "u-owner", "waiting on supplier")
		require.NoError(t, err)
		assert.Equal(t, entity.StatusOnHold, held.Status)
		require.NotNil(t, held.CurrentStepOrder)
		assert.Equal(t, 1, *held.CurrentStepOrder)

		_, err = f.engine.ProcessTaskAction(ctx, TaskActionRequest{TaskID: task.ID, Action: ActionApprove, ActingUserID: "u-alice"})
		assert.Equal(t, apperr.KindInvalidState, apperr.KindOf(err))

		resumed, err := f.engine.ResumeWorkflow(ctx, instance.ID, "u-owner")
		require.NoError(t, err)
		assert.Equal(t, entity.StatusPending, resumed.Status)

		f.decide(t, instance.ID, ActionApprove, "u-alice")
	})

	t.Run("resume after progress returns to in progress", func(t *testing.T) {
		instance := f.start(t, f.threeStep(t))
		f.decide(t, instance.ID, ActionApprove, "u-alice")

		_, err := f.engine.HoldWorkflow(ctx, instance.ID, "u-owner", "")
		require.NoError(t, err)

		resumed, err := f.engine.ResumeWorkflow(ctx, instance.ID, "u-owner")
		require.NoError(t, err)
		assert.Equal(t, entity.StatusInProgress, resumed.Status)
		require.NotNil(t, resumed.CurrentStepOrder)
		assert.Equal(t, 2, *resumed.CurrentStepOrder)
	})

	t.Run("resume requires hold", func(t *testing.T) {
		instance := f.start(t, f.threeStep(t))
		_, err := f.engine.ResumeWorkflow(ctx, instance.ID, "u-owner")
		assert.Equal(t, apperr.KindInvalidState, apperr.KindOf(err))
	})
}

func TestExpireAndComplete(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tmplID := f.template(t, step(1, "Manager", "MANAGER"))

	expiring := f.start(t, tmplID)
	expired, err := f.engine.ExpireWorkflow(ctx, expiring.ID, "SLA lapsed")
	require.NoError(t, err)
	assert.Equal(t, entity.StatusExpired, expired.Status)

	entries, err := f.history.GetByInstanceID(ctx, expiring.ID)
	require.NoError(t, err)
	assert.Nil(t, entries[len(entries)-1].PerformedBy)

	approving := f.start(t, tmplID)
	_, err = f.engine.CompleteWorkflow(ctx, approving.ID, "u-owner")
	assert.Equal(t, apperr.KindInvalidState, apperr.KindOf(err), "only approved instances complete")

	f.decide(t, approving.ID, ActionApprove, "u-alice")
	completed, err := f.engine.CompleteWorkflow(ctx, approving.ID, "u-owner")
	require.NoError(t, err)
	assert.Equal(t, entity.StatusCompleted, completed.Status)
	assert.Greater(t, completed.Version, approving.Version)
}

func TestBulkAction(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tmplID := f.threeStep(t)

	a := f.start(t, tmplID)
	b := f.start(t, tmplID)
	done := f.start(t, tmplID)
	_, err := f.engine.CancelWorkflow(ctx, done.ID, "u-owner", "")
	require.NoError(t, err)

	results, err := f.engine.BulkAction(ctx, BulkRequest{
		Action:       "cancel",
		InstanceIDs:  []int64{a.ID, done.ID, 9999, a.ID, b.ID},
		ActingUserID: "u-owner",
		Comments:     "quarter close",
	})
	require.NoError(t, err)
	require.Len(t, results, 5)

	expected := []struct {
		id      int64
		success bool
		kind    string
	}{
		{a.ID, true, ""},
		{done.ID, false, string(apperr.KindInvalidState)},
		{9999, false, string(apperr.KindNotFound)},
		{a.ID, false, string(apperr.KindValidation)},
		{b.ID, true, ""},
	}
	for i, want := range expected {
		assert.Equal(t, want.id, results[i].InstanceID, "result %d", i)
		assert.Equal(t, want.success, results[i].Success, "result %d", i)
		assert.Equal(t, want.kind, results[i].ErrorKind, "result %d", i)
	}

	got, err := f.instances.GetByID(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.StatusCancelled, got.Status)
	assert.Equal(t, "quarter close", got.Comments)
	assert.Equal(t, 0, f.engine.locks.size())
}

func TestBulkAction_ApproveCurrentTasks(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tmplID := f.threeStep(t)

	a := f.start(t, tmplID)
	b := f.start(t, tmplID)

	results, err := f.engine.BulkAction(ctx, BulkRequest{
		Action:       BulkApprove,
		InstanceIDs:  []int64{a.ID, b.ID},
		ActingUserID: "u-alice",
	})
	require.NoError(t, err)
	for _, r := range results {
		assert.True(t, r.Success, r.Error)
	}

	// alice is not the finance assignee and holds no admin role
	results, err = f.engine.BulkAction(ctx, BulkRequest{
		Action:       BulkApprove,
		InstanceIDs:  []int64{a.ID},
		ActingUserID: "u-alice",
	})
	require.NoError(t, err)
	assert.Equal(t, string(apperr.KindForbidden), results[0].ErrorKind)
}

func TestBulkAction_InvalidRequest(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.engine.BulkAction(ctx, BulkRequest{Action: "ARCHIVE", InstanceIDs: []int64{1}, ActingUserID: "u-owner"})
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))

	_, err = f.engine.BulkAction(ctx, BulkRequest{Action: BulkCancel, ActingUserID: "u-owner"})
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
}

func TestKeyedMutex(t *testing.T) {
	k := newKeyedMutex()

	unlock := k.Lock(1)
	acquired := make(chan struct{})
	go func() {
		release := k.Lock(1)
		close(acquired)
		release()
	}()

	select {
	case <-acquired:
		t.Fatal("second Lock on the same key must wait")
	case <-time.After(20 * time.Millisecond):
	}

	other := k.Lock(2)
	other()

	unlock()
	<-acquired
	assert.Eventually(t, func() bool { return k.size() == 0 }, time.Second, 5*time.Millisecond)
}
