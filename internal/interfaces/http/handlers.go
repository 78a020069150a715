package http

import (
	"bytes"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/garyjia/doc-approval/internal/application/port"
	"github.com/garyjia/doc-approval/internal/application/service"
	"github.com/garyjia/doc-approval/internal/application/workflow"
	"github.com/garyjia/doc-approval/internal/domain/entity"
	"github.com/garyjia/doc-approval/internal/infrastructure/export"
)

const (
	userHeader = "X-User-ID"
	userKey    = "user_id"
)

// Handlers contains all HTTP request handlers
type Handlers struct {
	engine    workflow.Engine
	query     service.QueryService
	templates service.TemplateService
	exporter  AuditExporter
	logger    Logger
}

// NewHandlers creates a new Handlers instance
func NewHandlers(services Services, logger Logger) *Handlers {
	return &Handlers{
		engine:    services.Engine,
		query:     services.Query,
		templates: services.Templates,
		exporter:  services.Exporter,
		logger:    logger,
	}
}

// Response represents a standard JSON response
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
}

// StartWorkflowRequest is the body of POST /workflows
type StartWorkflowRequest struct {
	DocumentID  int64  `json:"document_id" binding:"required,gt=0"`
	TemplateID  int64  `json:"template_id" binding:"required,gt=0"`
	Title       string `json:"title" binding:"max=200"`
	Description string `json:"description" binding:"max=2000"`
	Priority    string `json:"priority"`
}

// TaskActionRequest is the body of POST /tasks/:id/action
type TaskActionRequest struct {
	Action   string `json:"action" binding:"required"`
	Comments string `json:"comments" binding:"max=2000"`
}

// ReasonRequest is the optional body of lifecycle endpoints
type ReasonRequest struct {
	Reason string `json:"reason" binding:"max=2000"`
}

// BulkActionRequest is the body of POST /workflows/bulk
type BulkActionRequest struct {
	Action      string  `json:"action" binding:"required"`
	InstanceIDs []int64 `json:"instance_ids" binding:"required,min=1,max=500"`
	Comments    string  `json:"comments" binding:"max=2000"`
}

// ListWorkflowsQuery holds the query parameters of GET /workflows
type ListWorkflowsQuery struct {
	Scope      string `form:"scope"`
	Status     string `form:"status"`
	TemplateID int64  `form:"template_id"`
	DocumentID int64  `form:"document_id"`
	Priority   string `form:"priority"`
	Page       int    `form:"page"`
	PageSize   int    `form:"page_size"`
}

// requireUser rejects requests without an acting user header
func requireUser() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.GetHeader(userHeader)
		if userID == "" {
			writeProblem(c, http.StatusUnauthorized, "unauthenticated", userHeader+" header is required")
			return
		}
		c.Set(userKey, userID)
		c.Next()
	}
}

func currentUser(c *gin.Context) string {
	return c.GetString(userKey)
}

func pathID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		badRequest(c, "invalid id")
		return 0, false
	}
	return id, true
}

func ok(c *gin.Context, status int, data interface{}) {
	c.JSON(status, Response{Success: true, Data: data})
}

// HealthCheck handles GET /health
func (h *Handlers) HealthCheck(c *gin.Context) {
	ok(c, http.StatusOK, HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

// StartWorkflow handles POST /api/v1/workflows
func (h *Handlers) StartWorkflow(c *gin.Context) {
	var req StartWorkflowRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	instance, err := h.engine.StartWorkflow(c.Request.Context(), workflow.StartRequest{
		DocumentID:      req.DocumentID,
		TemplateID:      req.TemplateID,
		Title:           req.Title,
		Description:     req.Description,
		Priority:        req.Priority,
		InitiatorUserID: currentUser(c),
	})
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	ok(c, http.StatusCreated, instance)
}

// ListWorkflows handles GET /api/v1/workflows
func (h *Handlers) ListWorkflows(c *gin.Context) {
	var q ListWorkflowsQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		badRequest(c, "invalid query parameters")
		return
	}

	page, err := h.query.ListInstancesForUser(c.Request.Context(), currentUser(c), port.InstanceFilter{
		Scope:      port.InstanceScope(q.Scope),
		Status:     q.Status,
		TemplateID: q.TemplateID,
		DocumentID: q.DocumentID,
		Priority:   q.Priority,
	}, service.Page{Page: q.Page, PageSize: q.PageSize})
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	ok(c, http.StatusOK, page)
}

// GetWorkflow handles GET /api/v1/workflows/:id
func (h *Handlers) GetWorkflow(c *gin.Context) {
	id, valid := pathID(c)
	if !valid {
		return
	}

	view, err := h.query.GetInstance(c.Request.Context(), id)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	ok(c, http.StatusOK, view)
}

// GetHistory handles GET /api/v1/workflows/:id/history
func (h *Handlers) GetHistory(c *gin.Context) {
	id, valid := pathID(c)
	if !valid {
		return
	}

	entries, err := h.query.GetHistory(c.Request.Context(), id)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	ok(c, http.StatusOK, entries)
}

// CancelWorkflow handles POST /api/v1/workflows/:id/cancel
func (h *Handlers) CancelWorkflow(c *gin.Context) {
	h.lifecycle(c, func(id int64, reason string) (*entity.WorkflowInstance, error) {
		return h.engine.CancelWorkflow(c.Request.Context(), id, currentUser(c), reason)
	})
}

// HoldWorkflow handles POST /api/v1/workflows/:id/hold
func (h *Handlers) HoldWorkflow(c *gin.Context) {
	h.lifecycle(c, func(id int64, reason string) (*entity.WorkflowInstance, error) {
		return h.engine.HoldWorkflow(c.Request.Context(), id, currentUser(c), reason)
	})
}

// ResumeWorkflow handles POST /api/v1/workflows/:id/resume
func (h *Handlers) ResumeWorkflow(c *gin.Context) {
	h.lifecycle(c, func(id int64, _ string) (*entity.WorkflowInstance, error) {
		return h.engine.ResumeWorkflow(c.Request.Context(), id, currentUser(c))
	})
}

// ExpireWorkflow handles POST /api/v1/workflows/:id/expire, called by the SLA job
func (h *Handlers) ExpireWorkflow(c *gin.Context) {
	h.lifecycle(c, func(id int64, reason string) (*entity.WorkflowInstance, error) {
		return h.engine.ExpireWorkflow(c.Request.Context(), id, reason)
	})
}

// CompleteWorkflow handles POST /api/v1/workflows/:id/complete
func (h *Handlers) CompleteWorkflow(c *gin.Context) {
	h.lifecycle(c, func(id int64, _ string) (*entity.WorkflowInstance, error) {
		return h.engine.CompleteWorkflow(c.Request.Context(), id, currentUser(c))
	})
}

func (h *Handlers) lifecycle(c *gin.Context, fn func(id int64, reason string) (*entity.WorkflowInstance, error)) {
	id, valid := pathID(c)
	if !valid {
		return
	}

	var req ReasonRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err.Error())
			return
		}
	}

	instance, err := fn(id, req.Reason)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	ok(c, http.StatusOK, instance)
}

// BulkAction handles POST /api/v1/workflows/bulk
func (h *Handlers) BulkAction(c *gin.Context) {
	var req BulkActionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	results, err := h.engine.BulkAction(c.Request.Context(), workflow.BulkRequest{
		Action:       req.Action,
		InstanceIDs:  req.InstanceIDs,
		ActingUserID: currentUser(c),
		Comments:     req.Comments,
	})
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	ok(c, http.StatusOK, results)
}

// ListTasks handles GET /api/v1/tasks
func (h *Handlers) ListTasks(c *gin.Context) {
	tasks, err := h.query.ListTasksForUser(c.Request.Context(), currentUser(c), c.Query("status"))
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	ok(c, http.StatusOK, tasks)
}

// ListOverdueTasks handles GET /api/v1/tasks/overdue
func (h *Handlers) ListOverdueTasks(c *gin.Context) {
	now := time.Now().UTC()
	if at := c.Query("at"); at != "" {
		parsed, err := time.Parse(time.RFC3339, at)
		if err != nil {
			badRequest(c, "at must be an RFC3339 timestamp")
			return
		}
		now = parsed
	}

	tasks, err := h.query.ListOverdueTasks(c.Request.Context(), now)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	ok(c, http.StatusOK, tasks)
}

// TaskAction handles POST /api/v1/tasks/:id/action
func (h *Handlers) TaskAction(c *gin.Context) {
	id, valid := pathID(c)
	if !valid {
		return
	}

	var req TaskActionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	result, err := h.engine.ProcessTaskAction(c.Request.Context(), workflow.TaskActionRequest{
		TaskID:       id,
		Action:       req.Action,
		Comments:     req.Comments,
		ActingUserID: currentUser(c),
	})
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	ok(c, http.StatusOK, result)
}

// Statistics handles GET /api/v1/statistics
func (h *Handlers) Statistics(c *gin.Context) {
	stats, err := h.query.Statistics(c.Request.Context())
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	ok(c, http.StatusOK, stats)
}

// ExportWorkflow handles GET /api/v1/workflows/:id/export
func (h *Handlers) ExportWorkflow(c *gin.Context) {
	id, valid := pathID(c)
	if !valid {
		return
	}

	ctx := c.Request.Context()
	view, err := h.query.GetInstance(ctx, id)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}
	entries, err := h.query.GetHistory(ctx, id)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	var buf bytes.Buffer
	err = h.exporter.Write(&buf, &export.AuditRecord{
		Instance:     view.Instance,
		TemplateName: view.TemplateName,
		Tasks:        view.Tasks,
		History:      entries,
	})
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="workflow-%d.xlsx"`, id))
	c.Data(http.StatusOK, export.ContentType, buf.Bytes())
}
