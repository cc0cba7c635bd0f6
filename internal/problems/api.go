package problems

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/lektio/lektio/internal/security"
)

// HTTPHandler handles problem-bank HTTP requests. The security pipeline has
// already run; handlers fetch the resource, then ask the engine before
// touching it.
type HTTPHandler struct {
	store  Store
	engine *security.PolicyEngine
	logger *zap.Logger
}

// NewHTTPHandler creates the problems HTTP handler.
func NewHTTPHandler(store Store, engine *security.PolicyEngine, logger *zap.Logger) *HTTPHandler {
	return &HTTPHandler{store: store, engine: engine, logger: logger}
}

// RegisterRoutes registers problem-bank routes.
func (h *HTTPHandler) RegisterRoutes(rg *gin.RouterGroup) {
	probs := rg.Group("/problems")
	{
		probs.POST("", h.createProblem)
		probs.GET("/:id", h.getProblem)
		probs.PUT("/:id", h.updateProblem)
		probs.DELETE("/:id", h.deleteProblem)
	}

	sets := rg.Group("/problem-sets")
	{
		sets.GET("/:id", h.getProblemSet)
		sets.POST("/:id/assign", h.assignProblemSet)
	}

	answers := rg.Group("/answers")
	{
		answers.GET("/:id", h.getAnswer)
		answers.POST("", h.createAnswer)
	}
}

func (h *HTTPHandler) authContext(c *gin.Context) (*security.AuthContext, bool) {
	ac, ok := security.AuthContextFrom(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid session"})
		return nil, false
	}
	return ac, true
}

func (h *HTTPHandler) createProblem(c *gin.Context) {
	ac, ok := h.authContext(c)
	if !ok {
		return
	}
	if d := h.engine.Authorize(c.Request.Context(), ac, "problem", "create", nil); !d.Allowed {
		c.JSON(http.StatusForbidden, gin.H{"error": d.Reason})
		return
	}

	var body struct {
		Title  string `json:"title" binding:"required"`
		Body   string `json:"body" binding:"required"`
		Active bool   `json:"active"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	p, err := h.store.CreateProblem(c.Request.Context(), Problem{
		TenantID:  ac.TenantID,
		TeacherID: ac.UserID,
		Title:     body.Title,
		Body:      body.Body,
		Active:    body.Active,
	})
	if err != nil {
		h.logger.Error("failed to create problem", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create problem"})
		return
	}
	c.JSON(http.StatusCreated, p)
}

func (h *HTTPHandler) getProblem(c *gin.Context) {
	ac, ok := h.authContext(c)
	if !ok {
		return
	}
	p, err := h.store.GetProblem(c.Request.Context(), ac.TenantID, c.Param("id"))
	if err != nil {
		h.notFoundOrError(c, err, "failed to load problem")
		return
	}

	// Students go through the availability shortcut; teachers and admins
	// through the general pass with the resource attributes.
	var d security.Decision
	if ac.Role == security.RoleStudent {
		d = h.engine.AuthorizeStudentAccess(c.Request.Context(), ac, p.ID, "view")
	} else {
		d = h.engine.Authorize(c.Request.Context(), ac, "problem", "read", resourceData(p.TeacherID, p.Active))
	}
	if !d.Allowed {
		c.JSON(http.StatusForbidden, gin.H{"error": d.Reason})
		return
	}
	c.JSON(http.StatusOK, p)
}

func (h *HTTPHandler) updateProblem(c *gin.Context) {
	ac, ok := h.authContext(c)
	if !ok {
		return
	}
	p, err := h.store.GetProblem(c.Request.Context(), ac.TenantID, c.Param("id"))
	if err != nil {
		h.notFoundOrError(c, err, "failed to load problem")
		return
	}
	if d := h.engine.Authorize(c.Request.Context(), ac, "problem", "update", resourceData(p.TeacherID, p.Active)); !d.Allowed {
		c.JSON(http.StatusForbidden, gin.H{"error": d.Reason})
		return
	}

	var body struct {
		Title  string `json:"title" binding:"required"`
		Body   string `json:"body" binding:"required"`
		Active bool   `json:"active"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	p.Title = body.Title
	p.Body = body.Body
	p.Active = body.Active
	if err := h.store.UpdateProblem(c.Request.Context(), p); err != nil {
		h.notFoundOrError(c, err, "failed to update problem")
		return
	}
	c.JSON(http.StatusOK, p)
}

func (h *HTTPHandler) deleteProblem(c *gin.Context) {
	ac, ok := h.authContext(c)
	if !ok {
		return
	}
	p, err := h.store.GetProblem(c.Request.Context(), ac.TenantID, c.Param("id"))
	if err != nil {
		h.notFoundOrError(c, err, "failed to load problem")
		return
	}
	if d := h.engine.Authorize(c.Request.Context(), ac, "problem", "delete", resourceData(p.TeacherID, p.Active)); !d.Allowed {
		c.JSON(http.StatusForbidden, gin.H{"error": d.Reason})
		return
	}
	if err := h.store.DeleteProblem(c.Request.Context(), ac.TenantID, p.ID); err != nil {
		h.notFoundOrError(c, err, "failed to delete problem")
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *HTTPHandler) getProblemSet(c *gin.Context) {
	ac, ok := h.authContext(c)
	if !ok {
		return
	}
	ps, err := h.store.GetProblemSet(c.Request.Context(), ac.TenantID, c.Param("id"))
	if err != nil {
		h.notFoundOrError(c, err, "failed to load problem set")
		return
	}
	if d := h.engine.Authorize(c.Request.Context(), ac, "problem_set", "read", resourceData(ps.TeacherID, ps.Active)); !d.Allowed {
		c.JSON(http.StatusForbidden, gin.H{"error": d.Reason})
		return
	}
	c.JSON(http.StatusOK, ps)
}

func (h *HTTPHandler) assignProblemSet(c *gin.Context) {
	ac, ok := h.authContext(c)
	if !ok {
		return
	}
	ps, err := h.store.GetProblemSet(c.Request.Context(), ac.TenantID, c.Param("id"))
	if err != nil {
		h.notFoundOrError(c, err, "failed to load problem set")
		return
	}
	if d := h.engine.Authorize(c.Request.Context(), ac, "problem_set", "assign", resourceData(ps.TeacherID, ps.Active)); !d.Allowed {
		c.JSON(http.StatusForbidden, gin.H{"error": d.Reason})
		return
	}

	var body struct {
		StudentIDs []string `json:"student_ids" binding:"required,min=1"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.store.AssignProblemSet(c.Request.Context(), ac.TenantID, ps.ID, body.StudentIDs); err != nil {
		h.logger.Error("failed to assign problem set", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to assign problem set"})
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *HTTPHandler) getAnswer(c *gin.Context) {
	ac, ok := h.authContext(c)
	if !ok {
		return
	}
	a, err := h.store.GetAnswer(c.Request.Context(), ac.TenantID, c.Param("id"))
	if err != nil {
		h.notFoundOrError(c, err, "failed to load answer")
		return
	}

	data := map[string]any{"studentId": a.StudentID, "problemId": a.ProblemID}
	if d := h.engine.Authorize(c.Request.Context(), ac, "student_answer", "read", data); !d.Allowed {
		c.JSON(http.StatusForbidden, gin.H{"error": d.Reason})
		return
	}
	c.JSON(http.StatusOK, a)
}

func (h *HTTPHandler) createAnswer(c *gin.Context) {
	ac, ok := h.authContext(c)
	if !ok {
		return
	}

	var body struct {
		ProblemID string `json:"problem_id" binding:"required"`
		Body      string `json:"body" binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	// Submitting is solving: the problem must be active for this student.
	if d := h.engine.AuthorizeStudentAccess(c.Request.Context(), ac, body.ProblemID, "solve"); !d.Allowed {
		c.JSON(http.StatusForbidden, gin.H{"error": d.Reason})
		return
	}

	a, err := h.store.CreateAnswer(c.Request.Context(), StudentAnswer{
		TenantID:  ac.TenantID,
		ProblemID: body.ProblemID,
		StudentID: ac.UserID,
		Body:      body.Body,
	})
	if err != nil {
		h.logger.Error("failed to store answer", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to store answer"})
		return
	}
	c.JSON(http.StatusCreated, a)
}

func (h *HTTPHandler) notFoundOrError(c *gin.Context, err error, msg string) {
	if errors.Is(err, ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
		return
	}
	h.logger.Error(msg, zap.Error(err))
	c.JSON(http.StatusInternalServerError, gin.H{"error": msg})
}

func resourceData(teacherID string, active bool) map[string]any {
	return map[string]any{"teacherId": teacherID, "isActive": active}
}
