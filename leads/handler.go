package leads

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/charmbracelet/log"
	"github.com/gin-gonic/gin"

	"github.com/AnastRaja/chatbot-sub000/projects"
)

// Module serves the dashboard lead endpoints.
type Module struct {
	store    *Store
	projects *projects.Store
}

func RegisterRoutes(router *gin.Engine, requireAuth gin.HandlerFunc, store *Store, projectStore *projects.Store) *Module {
	module := &Module{store: store, projects: projectStore}

	group := router.Group("/api/projects/:slug/leads", requireAuth)
	group.GET("", module.handleList)
	group.PATCH("/:leadID", module.handleUpdate)
	group.DELETE("/:leadID", module.handleDelete)
	return module
}

type updateLeadRequest struct {
	Status string `json:"status" binding:"required"`
}

func (m *Module) handleList(c *gin.Context) {
	project, ok := projects.ResolveOwned(c, m.projects)
	if !ok {
		return
	}

	list, err := m.store.List(c.Request.Context(), project.ID, c.Query("status"))
	if err != nil {
		writeError(c, err, "failed to load leads")
		return
	}
	c.JSON(http.StatusOK, gin.H{"leads": list})
}

func (m *Module) handleUpdate(c *gin.Context) {
	project, ok := projects.ResolveOwned(c, m.projects)
	if !ok {
		return
	}
	leadID, ok := parseLeadID(c)
	if !ok {
		return
	}

	var req updateLeadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "status is required"})
		return
	}

	lead, err := m.store.UpdateStatus(c.Request.Context(), project.ID, leadID, req.Status)
	if err != nil {
		writeError(c, err, "failed to update lead")
		return
	}
	c.JSON(http.StatusOK, gin.H{"lead": lead})
}

func (m *Module) handleDelete(c *gin.Context) {
	project, ok := projects.ResolveOwned(c, m.projects)
	if !ok {
		return
	}
	leadID, ok := parseLeadID(c)
	if !ok {
		return
	}

	if err := m.store.Delete(c.Request.Context(), project.ID, leadID); err != nil {
		writeError(c, err, "failed to delete lead")
		return
	}
	c.Status(http.StatusNoContent)
}

func parseLeadID(c *gin.Context) (uint64, bool) {
	id, err := strconv.ParseUint(c.Param("leadID"), 10, 64)
	if err != nil || id == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid lead id"})
		return 0, false
	}
	return id, true
}

func writeError(c *gin.Context, err error, fallback string) {
	switch {
	case errors.Is(err, ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "lead not found"})
	case errors.Is(err, ErrInvalidStatus):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		log.Error("leads: "+fallback, "err", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": fallback})
	}
}
