package realtime

import (
	"context"
	"net/http"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/AnastRaja/chatbot-sub000/authorization"
)

// ProjectLister resolves the projects a dashboard account may observe.
type ProjectLister interface {
	IDsByOwner(ctx context.Context, ownerID uint64) ([]uint64, error)
}

// SessionLookup checks that a widget session exists before it may subscribe.
type SessionLookup interface {
	SessionExists(ctx context.Context, sessionID string) (bool, error)
}

// Module serves the dashboard and widget websocket endpoints.
type Module struct {
	hub      *Hub
	projects ProjectLister
	sessions SessionLookup
	// Widget sockets are opened from customer sites, so they check origins separately.
	dashboard websocket.Upgrader
	widget    websocket.Upgrader
}

func RegisterRoutes(router *gin.Engine, requireAuth gin.HandlerFunc, hub *Hub, projects ProjectLister, sessions SessionLookup, dashboardOrigins, widgetOrigins []string) *Module {
	module := &Module{
		hub:       hub,
		projects:  projects,
		sessions:  sessions,
		dashboard: newUpgrader(dashboardOrigins),
		widget:    newUpgrader(widgetOrigins),
	}

	router.GET("/api/ws", requireAuth, module.handleDashboard)
	router.GET("/widget/ws/:sessionId", module.handleWidget)
	return module
}

func (m *Module) handleDashboard(c *gin.Context) {
	accountID := authorization.CurrentAccountID(c)
	if accountID == 0 {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
		return
	}

	projectIDs, err := m.projects.IDsByOwner(c.Request.Context(), accountID)
	if err != nil {
		log.Error("realtime: load dashboard projects", "account", accountID, "err", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load projects"})
		return
	}

	conn, err := m.dashboard.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Warn("realtime: dashboard upgrade failed", "err", err)
		return
	}

	client := &wsClient{hub: m.hub, conn: conn, sub: m.hub.Subscribe(ChannelDashboard, projectIDs, 0)}
	log.Debug("realtime: dashboard connected", "account", accountID, "projects", len(projectIDs))
	client.serve()
}

func (m *Module) handleWidget(c *gin.Context) {
	sessionID := strings.TrimSpace(c.Param("sessionId"))
	if sessionID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "session id is required"})
		return
	}

	exists, err := m.sessions.SessionExists(c.Request.Context(), sessionID)
	if err != nil {
		log.Error("realtime: check widget session", "session", sessionID, "err", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load session"})
		return
	}
	if !exists {
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
		return
	}

	conn, err := m.widget.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Warn("realtime: widget upgrade failed", "err", err)
		return
	}

	client := &wsClient{hub: m.hub, conn: conn, sub: m.hub.Subscribe(WidgetChannel(sessionID), nil, 0)}
	client.serve()
}
