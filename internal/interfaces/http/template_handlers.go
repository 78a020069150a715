package http

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/garyjia/doc-approval/internal/domain/entity"
)

// ListTemplates handles GET /api/v1/templates
func (h *Handlers) ListTemplates(c *gin.Context) {
	activeOnly, _ := strconv.ParseBool(c.DefaultQuery("active", "false"))

	templates, err := h.templates.ListTemplates(c.Request.Context(), activeOnly)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	ok(c, http.StatusOK, templates)
}

// CreateTemplate handles POST /api/v1/templates
func (h *Handlers) CreateTemplate(c *gin.Context) {
	var tmpl entity.WorkflowTemplate
	if err := c.ShouldBindJSON(&tmpl); err != nil {
		badRequest(c, err.Error())
		return
	}
	tmpl.ID = 0

	created, err := h.templates.CreateTemplate(c.Request.Context(), &tmpl)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	h.logger.Info("Template created via API", "template_id", created.ID, "user_id", currentUser(c))
	ok(c, http.StatusCreated, created)
}

// GetTemplate handles GET /api/v1/templates/:id
func (h *Handlers) GetTemplate(c *gin.Context) {
	id, valid := pathID(c)
	if !valid {
		return
	}

	tmpl, err := h.templates.GetTemplate(c.Request.Context(), id)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	ok(c, http.StatusOK, tmpl)
}

// UpdateTemplate handles PUT /api/v1/templates/:id.
// Omitting steps keeps the current ones.
func (h *Handlers) UpdateTemplate(c *gin.Context) {
	id, valid := pathID(c)
	if !valid {
		return
	}

	var tmpl entity.WorkflowTemplate
	if err := c.ShouldBindJSON(&tmpl); err != nil {
		badRequest(c, err.Error())
		return
	}
	tmpl.ID = id

	updated, err := h.templates.UpdateTemplate(c.Request.Context(), &tmpl)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	ok(c, http.StatusOK, updated)
}

// DeleteTemplate handles DELETE /api/v1/templates/:id
func (h *Handlers) DeleteTemplate(c *gin.Context) {
	id, valid := pathID(c)
	if !valid {
		return
	}

	if err := h.templates.DeleteTemplate(c.Request.Context(), id); err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}
