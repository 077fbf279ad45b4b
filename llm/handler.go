package llm

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

type Module struct {
	catalog *Catalog
}

// RegisterRoutes exposes the selectable model list to the dashboard.
func RegisterRoutes(router *gin.Engine, requireAuth gin.HandlerFunc, catalog *Catalog) *Module {
	module := &Module{catalog: catalog}

	group := router.Group("/api/models")
	group.Use(requireAuth)
	group.GET("", module.handleListModels)

	return module
}

func (m *Module) handleListModels(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"models": m.catalog.Options()})
}
