package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/moogar0880/problems"

	"github.com/garyjia/doc-approval/internal/domain/apperr"
)

const problemContentType = "application/problem+json"

var kindStatus = map[apperr.Kind]int{
	apperr.KindNotFound:      http.StatusNotFound,
	apperr.KindValidation:    http.StatusBadRequest,
	apperr.KindInvalidState:  http.StatusConflict,
	apperr.KindForbidden:     http.StatusForbidden,
	apperr.KindConfiguration: http.StatusUnprocessableEntity,
}

func writeProblem(c *gin.Context, status int, problemType, detail string) {
	problem := problems.NewStatusProblem(status).
		WithInstance(c.Request.URL.Path).
		WithType(problemType).
		WithDetail(detail)

	c.Header("Content-Type", problemContentType)
	c.AbortWithStatusJSON(status, problem)
}

func badRequest(c *gin.Context, detail string) {
	writeProblem(c, http.StatusBadRequest, "validation_error", detail)
}

// handleServiceError maps an application error to an RFC 7807 response.
// Unclassified errors are internal and their detail is not exposed.
func (h *Handlers) handleServiceError(c *gin.Context, err error) {
	kind := apperr.KindOf(err)
	status, ok := kindStatus[kind]
	if !ok {
		h.logger.Error("Internal error", "path", c.Request.URL.Path, "error", err)
		writeProblem(c, http.StatusInternalServerError, "internal_error", "internal server error")
		return
	}

	writeProblem(c, status, string(kind), err.Error())
}
