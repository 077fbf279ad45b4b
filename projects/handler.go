package projects

import (
	"errors"
	"net/http"

	"github.com/charmbracelet/log"
	"github.com/gin-gonic/gin"

	"github.com/AnastRaja/chatbot-sub000/authorization"
)

// Module exposes project management to the dashboard and widget config to visitors.
type Module struct {
	store *Store
}

// RegisterRoutes mounts dashboard routes behind requireAuth and the public widget config route.
func RegisterRoutes(router *gin.Engine, requireAuth gin.HandlerFunc, store *Store) *Module {
	module := &Module{store: store}

	group := router.Group("/api/projects", requireAuth)
	group.GET("", module.handleList)
	group.POST("", module.handleCreate)
	group.GET("/:slug", module.handleGet)
	group.PUT("/:slug", module.handleUpdate)
	group.DELETE("/:slug", module.handleDelete)

	router.GET("/widget/:slug/config", module.handleWidgetConfig)
	return module
}

// ResolveOwned loads the :slug project owned by the caller, writing the error response on failure.
func ResolveOwned(c *gin.Context, store *Store) (*Project, bool) {
	accountID := authorization.CurrentAccountID(c)
	if accountID == 0 {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
		return nil, false
	}

	project, err := store.FindOwned(c.Request.Context(), accountID, c.Param("slug"))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "project not found"})
		} else {
			log.Error("projects: resolve owned project", "slug", c.Param("slug"), "err", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load project"})
		}
		return nil, false
	}
	return project, true
}

func (m *Module) handleList(c *gin.Context) {
	accountID := authorization.CurrentAccountID(c)
	if accountID == 0 {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
		return
	}

	list, err := m.store.ListByOwner(c.Request.Context(), accountID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load projects"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"projects": list})
}

func (m *Module) handleCreate(c *gin.Context) {
	accountID := authorization.CurrentAccountID(c)
	if accountID == 0 {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
		return
	}

	var input Input
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request payload"})
		return
	}

	project, err := m.store.Create(c.Request.Context(), accountID, input)
	if err != nil {
		writeStoreError(c, err, "failed to create project")
		return
	}
	c.JSON(http.StatusCreated, gin.H{"project": project})
}

func (m *Module) handleGet(c *gin.Context) {
	project, ok := ResolveOwned(c, m.store)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{"project": project})
}

func (m *Module) handleUpdate(c *gin.Context) {
	project, ok := ResolveOwned(c, m.store)
	if !ok {
		return
	}

	var input Input
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request payload"})
		return
	}

	if err := m.store.Update(c.Request.Context(), project, input); err != nil {
		writeStoreError(c, err, "failed to update project")
		return
	}
	c.JSON(http.StatusOK, gin.H{"project": project})
}

func (m *Module) handleDelete(c *gin.Context) {
	project, ok := ResolveOwned(c, m.store)
	if !ok {
		return
	}

	if err := m.store.Delete(c.Request.Context(), project.ID); err != nil {
		writeStoreError(c, err, "failed to delete project")
		return
	}
	c.Status(http.StatusNoContent)
}

// handleWidgetConfig godoc
// @Summary Public widget configuration
// @Tags Widget
// @Produce json
// @Param slug path string true "project slug"
// @Success 200 {object} WidgetConfig
// @Failure 404 {object} map[string]string
func (m *Module) handleWidgetConfig(c *gin.Context) {
	project, err := m.store.FindBySlug(c.Request.Context(), c.Param("slug"))
	if err != nil {
		writeStoreError(c, err, "failed to load project")
		return
	}
	c.JSON(http.StatusOK, project.Widget())
}

func writeStoreError(c *gin.Context, err error, fallback string) {
	switch {
	case errors.Is(err, ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "project not found"})
	case errors.Is(err, ErrInvalid):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		log.Error("projects: "+fallback, "err", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": fallback})
	}
}
