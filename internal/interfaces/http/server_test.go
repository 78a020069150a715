package http

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"github.com/garyjia/doc-approval/internal/application/service"
	"github.com/garyjia/doc-approval/internal/application/workflow"
	"github.com/garyjia/doc-approval/internal/domain/entity"
	"github.com/garyjia/doc-approval/internal/infrastructure/export"
	"github.com/garyjia/doc-approval/internal/infrastructure/persistence/repository"
	"github.com/garyjia/doc-approval/internal/testutil"
)

type nopLogger struct{}

func (nopLogger) Info(string, ...interface{})  {}
func (nopLogger) Error(string, ...interface{}) {}

type apiFixture struct {
	db     *sql.DB
	router *gin.Engine
	tmpl   *entity.WorkflowTemplate
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()

	db, tx := testutil.NewDB(t)
	logger := zap.NewNop()

	templates := repository.NewTemplateRepository(db, logger)
	instances := repository.NewInstanceRepository(db, logger)
	tasks := repository.NewTaskRepository(db, logger)
	history := repository.NewHistoryRepository(db, logger)
	directory := repository.NewDirectoryRepository(db, logger)

	engine := workflow.NewEngine(
		workflow.Repositories{Templates: templates, Instances: instances, Tasks: tasks, History: history},
		workflow.Directory{Documents: directory, Users: directory},
		tx,
	)

	server := NewServer(DefaultServerConfig(), Services{
		Engine:    engine,
		Query:     service.NewQueryService(templates, instances, tasks, history, nil),
		Templates: service.NewTemplateService(templates, instances, tx, nil, nil),
		Exporter:  export.NewAuditWorkbook(logger),
	}, nopLogger{})

	testutil.SeedUser(t, db, testutil.UserSeed{ID: "u-alice", Username: "alice", Roles: []string{"MANAGER"}})
	testutil.SeedUser(t, db, testutil.UserSeed{ID: "u-carol", Username: "carol", Roles: []string{"FINANCE"}})
	testutil.SeedUser(t, db, testutil.UserSeed{ID: "u-owner", Username: "owner"})

	tmpl := &entity.WorkflowTemplate{
		Name:     "Contract review",
		IsActive: true,
		Steps: []entity.StepDefinition{
			{Order: 1, Name: "Manager", RequiredRole: "MANAGER", IsRequired: true, StepType: entity.StepTypeApproval},
			{Order: 2, Name: "Finance", RequiredRole: "FINANCE", IsRequired: true, StepType: entity.StepTypeApproval},
		},
	}
	require.NoError(t, templates.Create(context.Background(), tmpl))

	return &apiFixture{db: db, router: server.Router(), tmpl: tmpl}
}

func (f *apiFixture) do(t *testing.T, method, path, user string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if user != "" {
		req.Header.Set(userHeader, user)
	}

	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func decodeData(t *testing.T, w *httptest.ResponseRecorder, out interface{}) {
	t.Helper()
	var resp struct {
		Success bool            `json:"success"`
		Data    json.RawMessage `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.True(t, resp.Success)
	require.NoError(t, json.Unmarshal(resp.Data, out))
}

func decodeProblem(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	assert.Equal(t, problemContentType, w.Header().Get("Content-Type"))
	var problem map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &problem))
	return problem
}

func (f *apiFixture) startWorkflow(t *testing.T) *entity.WorkflowInstance {
	t.Helper()
	docID := testutil.SeedDocument(t, f.db, "u-owner", "Lease")
	w := f.do(t, http.MethodPost, "/api/v1/workflows", "u-owner", StartWorkflowRequest{
		DocumentID: docID,
		TemplateID: f.tmpl.ID,
		Title:      "Lease",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var instance entity.WorkflowInstance
	decodeData(t, w, &instance)
	return &instance
}

func TestHealthCheck(t *testing.T) {
	f := newAPIFixture(t)

	w := f.do(t, http.MethodGet, "/health", "", nil)

	assert.Equal(t, http.StatusOK, w.Code)
	var health HealthResponse
	decodeData(t, w, &health)
	assert.Equal(t, "healthy", health.Status)
}

func TestRequireUser(t *testing.T) {
	f := newAPIFixture(t)

	w := f.do(t, http.MethodGet, "/api/v1/workflows", "", nil)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	problem := decodeProblem(t, w)
	assert.Equal(t, "unauthenticated", problem["type"])
}

func TestWorkflowLifecycleOverHTTP(t *testing.T) {
	f := newAPIFixture(t)
	instance := f.startWorkflow(t)
	assert.Equal(t, entity.StatusPending, instance.Status)

	var view service.InstanceView
	decodeData(t, f.do(t, http.MethodGet, fmt.Sprintf("/api/v1/workflows/%d", instance.ID), "u-owner", nil), &view)
	require.NotNil(t, view.CurrentTask)
	assert.Equal(t, "u-alice", view.CurrentTask.AssignedTo)
	assert.Equal(t, "Contract review", view.TemplateName)

	w := f.do(t, http.MethodPost, fmt.Sprintf("/api/v1/tasks/%d/action", view.CurrentTask.ID), "u-alice",
		TaskActionRequest{Action: "approve", Comments: "ok"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var result workflow.TaskActionResult
	decodeData(t, w, &result)
	assert.Equal(t, entity.StatusInProgress, result.InstanceStatus)
	assert.Equal(t, "u-carol", result.NextAssignee)
	require.NotNil(t, result.NextTaskID)

	var tasks []*entity.WorkflowTask
	decodeData(t, f.do(t, http.MethodGet, "/api/v1/tasks?status=pending", "u-carol", nil), &tasks)
	require.Len(t, tasks, 1)
	assert.Equal(t, *result.NextTaskID, tasks[0].ID)

	w = f.do(t, http.MethodPost, fmt.Sprintf("/api/v1/tasks/%d/action", *result.NextTaskID), "u-carol",
		TaskActionRequest{Action: "APPROVE"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	decodeData(t, w, &result)
	assert.Equal(t, entity.StatusApproved, result.InstanceStatus)

	var history []*entity.WorkflowHistory
	decodeData(t, f.do(t, http.MethodGet, fmt.Sprintf("/api/v1/workflows/%d/history", instance.ID), "u-owner", nil), &history)
	assert.Len(t, history, 3)

	var stats service.Statistics
	decodeData(t, f.do(t, http.MethodGet, "/api/v1/statistics", "u-owner", nil), &stats)
	assert.Equal(t, 1, stats.ByStatus[entity.StatusApproved])
	assert.Equal(t, 0, stats.PendingTasks)
}

func TestErrorMapping(t *testing.T) {
	f := newAPIFixture(t)
	instance := f.startWorkflow(t)

	var view service.InstanceView
	decodeData(t, f.do(t, http.MethodGet, fmt.Sprintf("/api/v1/workflows/%d", instance.ID), "u-owner", nil), &view)
	require.NotNil(t, view.CurrentTask)
	taskPath := fmt.Sprintf("/api/v1/tasks/%d/action", view.CurrentTask.ID)

	tests := []struct {
		name       string
		method     string
		path       string
		user       string
		body       interface{}
		wantStatus int
		wantType   string
	}{
		{"missing instance", http.MethodGet, "/api/v1/workflows/9999", "u-owner", nil, http.StatusNotFound, "NOT_FOUND"},
		{"malformed id", http.MethodGet, "/api/v1/workflows/abc", "u-owner", nil, http.StatusBadRequest, "validation_error"},
		{"unknown action", http.MethodPost, taskPath, "u-alice", TaskActionRequest{Action: "ESCALATE"}, http.StatusBadRequest, "VALIDATION"},
		{"not assignee", http.MethodPost, taskPath, "u-carol", TaskActionRequest{Action: "APPROVE"}, http.StatusForbidden, "FORBIDDEN"},
		{"resume running", http.MethodPost, fmt.Sprintf("/api/v1/workflows/%d/resume", instance.ID), "u-owner", nil, http.StatusConflict, "INVALID_STATE"},
		{"missing body fields", http.MethodPost, "/api/v1/workflows", "u-owner", map[string]string{}, http.StatusBadRequest, "validation_error"},
		{"unknown scope", http.MethodGet, "/api/v1/workflows?scope=everyone", "u-owner", nil, http.StatusBadRequest, "VALIDATION"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := f.do(t, tt.method, tt.path, tt.user, tt.body)

			assert.Equal(t, tt.wantStatus, w.Code, w.Body.String())
			problem := decodeProblem(t, w)
			assert.Equal(t, tt.wantType, problem["type"])
			assert.NotEmpty(t, problem["detail"])
		})
	}
}

func TestCancelAndListWorkflows(t *testing.T) {
	f := newAPIFixture(t)
	instance := f.startWorkflow(t)

	w := f.do(t, http.MethodPost, fmt.Sprintf("/api/v1/workflows/%d/cancel", instance.ID), "u-owner",
		ReasonRequest{Reason: "withdrawn"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var cancelled entity.WorkflowInstance
	decodeData(t, w, &cancelled)
	assert.Equal(t, entity.StatusCancelled, cancelled.Status)

	var page service.InstancePage
	decodeData(t, f.do(t, http.MethodGet, "/api/v1/workflows?scope=initiated&status=cancelled", "u-owner", nil), &page)
	assert.Equal(t, 1, page.Total)
	assert.Equal(t, service.DefaultPageSize, page.PageSize)

	decodeData(t, f.do(t, http.MethodGet, "/api/v1/workflows?scope=initiated&status=pending", "u-owner", nil), &page)
	assert.Equal(t, 0, page.Total)
	assert.Empty(t, page.Items)
}

func TestBulkActionOverHTTP(t *testing.T) {
	f := newAPIFixture(t)
	first := f.startWorkflow(t)
	second := f.startWorkflow(t)

	w := f.do(t, http.MethodPost, "/api/v1/workflows/bulk", "u-owner", BulkActionRequest{
		Action:      "HOLD",
		InstanceIDs: []int64{first.ID, 9999, second.ID},
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var results []workflow.BulkResult
	decodeData(t, w, &results)
	require.Len(t, results, 3)
	assert.True(t, results[0].Success)
	assert.False(t, results[1].Success)
	assert.Equal(t, "NOT_FOUND", results[1].ErrorKind)
	assert.True(t, results[2].Success)

	w = f.do(t, http.MethodPost, "/api/v1/workflows/bulk", "u-owner", BulkActionRequest{Action: "HOLD"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestTemplateEndpoints(t *testing.T) {
	f := newAPIFixture(t)

	body := map[string]interface{}{
		"name":      "NDA",
		"is_active": true,
		"steps": []map[string]interface{}{
			{"order": 1, "name": "Legal", "required_role": "MANAGER", "is_required": true},
		},
	}
	w := f.do(t, http.MethodPost, "/api/v1/templates", "u-owner", body)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var created entity.WorkflowTemplate
	decodeData(t, w, &created)
	require.Len(t, created.Steps, 1)
	assert.Equal(t, entity.StepTypeApproval, created.Steps[0].StepType)

	var list []*entity.WorkflowTemplate
	decodeData(t, f.do(t, http.MethodGet, "/api/v1/templates?active=true", "u-owner", nil), &list)
	assert.Len(t, list, 2)

	w = f.do(t, http.MethodPost, "/api/v1/templates", "u-owner", map[string]interface{}{"name": "Empty"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	f.startWorkflow(t)
	w = f.do(t, http.MethodDelete, fmt.Sprintf("/api/v1/templates/%d", f.tmpl.ID), "u-owner", nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = f.do(t, http.MethodDelete, fmt.Sprintf("/api/v1/templates/%d", created.ID), "u-owner", nil)
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = f.do(t, http.MethodGet, fmt.Sprintf("/api/v1/templates/%d", created.ID), "u-owner", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestExportWorkflow(t *testing.T) {
	f := newAPIFixture(t)
	instance := f.startWorkflow(t)

	w := f.do(t, http.MethodGet, fmt.Sprintf("/api/v1/workflows/%d/export", instance.ID), "u-owner", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, export.ContentType, w.Header().Get("Content-Type"))
	assert.Contains(t, w.Header().Get("Content-Disposition"), fmt.Sprintf("workflow-%d.xlsx", instance.ID))

	book, err := excelize.OpenReader(w.Body)
	require.NoError(t, err)
	defer book.Close()

	rows, err := book.GetRows("History")
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, entity.ActionWorkflowCreated, rows[1][1])

	w = f.do(t, http.MethodGet, "/api/v1/workflows/9999/export", "u-owner", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}
