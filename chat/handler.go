package chat

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/gin-gonic/gin"

	"github.com/AnastRaja/chatbot-sub000/authorization"
	"github.com/AnastRaja/chatbot-sub000/llm"
	"github.com/AnastRaja/chatbot-sub000/projects"
)

const maxSessionPage = 200

// Module serves the widget chat endpoints and the dashboard live-chat endpoints.
type Module struct {
	pipeline *Pipeline
	ledger   *Ledger
	projects *projects.Store
}

func RegisterRoutes(router *gin.Engine, requireAuth gin.HandlerFunc, pipeline *Pipeline, ledger *Ledger, projectStore *projects.Store) *Module {
	module := &Module{pipeline: pipeline, ledger: ledger, projects: projectStore}

	widget := router.Group("/widget/:slug")
	widget.POST("/session", module.handleStartSession)
	widget.POST("/chat", module.handleChat)

	router.GET("/api/projects/:slug/sessions", requireAuth, module.handleListSessions)

	sessions := router.Group("/api/sessions/:id", requireAuth)
	sessions.GET("/messages", module.handleMessages)
	sessions.POST("/messages", module.handleAgentMessage)
	sessions.POST("/takeover", module.handleTakeover)
	sessions.POST("/release", module.handleRelease)
	sessions.POST("/end", module.handleEnd)
	sessions.POST("/archive", module.handleArchive)
	return module
}

type startSessionRequest struct {
	Metadata *ClientMetadata `json:"metadata"`
}

type chatRequest struct {
	SessionID   string           `json:"sessionId"`
	Message     string           `json:"message" binding:"required"`
	PageContext *llm.PageContext `json:"pageContext"`
	Metadata    *ClientMetadata  `json:"metadata"`
}

type agentMessageRequest struct {
	Content string `json:"content" binding:"required"`
}

type takeoverRequest struct {
	AgentName string `json:"agentName"`
}

func (m *Module) handleStartSession(c *gin.Context) {
	var req startSessionRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request payload"})
			return
		}
	}

	session, project, err := m.pipeline.StartSession(c.Request.Context(), c.Param("slug"), clientMetadata(c, req.Metadata))
	if err != nil {
		writeError(c, err, "failed to start session")
		return
	}
	c.JSON(http.StatusCreated, gin.H{"sessionId": session.ID, "config": project.Widget()})
}

// handleChat godoc
// @Summary Send a visitor message
// @Tags Widget
// @Accept json
// @Produce json
// @Param slug path string true "project slug"
// @Success 200 {object} TurnResult
// @Failure 404 {object} map[string]string
func (m *Module) handleChat(c *gin.Context) {
	var req chatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "message is required"})
		return
	}

	result, err := m.pipeline.HandleTurn(c.Request.Context(), TurnRequest{
		ProjectSlug: c.Param("slug"),
		SessionID:   req.SessionID,
		Text:        req.Message,
		Page:        req.PageContext,
		Metadata:    clientMetadata(c, req.Metadata),
	})
	if err != nil {
		writeError(c, err, "failed to process message")
		return
	}
	c.JSON(http.StatusOK, result)
}

func (m *Module) handleListSessions(c *gin.Context) {
	project, ok := projects.ResolveOwned(c, m.projects)
	if !ok {
		return
	}

	limit := 50
	if raw := strings.TrimSpace(c.Query("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
			return
		}
		limit = min(parsed, maxSessionPage)
	}

	list, err := m.ledger.ListSessions(c.Request.Context(), project.ID, c.Query("status"), limit)
	if err != nil {
		writeError(c, err, "failed to load sessions")
		return
	}
	c.JSON(http.StatusOK, gin.H{"sessions": list})
}

func (m *Module) handleMessages(c *gin.Context) {
	session, ok := m.ownedSession(c)
	if !ok {
		return
	}

	messages, err := m.ledger.Messages(c.Request.Context(), session.ID)
	if err != nil {
		writeError(c, err, "failed to load messages")
		return
	}
	c.JSON(http.StatusOK, gin.H{"session": session, "messages": messages})
}

func (m *Module) handleAgentMessage(c *gin.Context) {
	session, ok := m.ownedSession(c)
	if !ok {
		return
	}

	var req agentMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "content is required"})
		return
	}

	msg, err := m.pipeline.SendAgentMessage(c.Request.Context(), session.ID, req.Content)
	if err != nil {
		writeError(c, err, "failed to send message")
		return
	}
	c.JSON(http.StatusCreated, gin.H{"message": msg})
}

func (m *Module) handleTakeover(c *gin.Context) {
	session, ok := m.ownedSession(c)
	if !ok {
		return
	}

	var req takeoverRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request payload"})
			return
		}
	}

	updated, err := m.pipeline.Takeover(c.Request.Context(), session.ID, authorization.CurrentAccountID(c), req.AgentName)
	m.writeSession(c, updated, err, "failed to take over session")
}

func (m *Module) handleRelease(c *gin.Context) {
	session, ok := m.ownedSession(c)
	if !ok {
		return
	}
	updated, err := m.pipeline.Release(c.Request.Context(), session.ID)
	m.writeSession(c, updated, err, "failed to release session")
}

func (m *Module) handleEnd(c *gin.Context) {
	session, ok := m.ownedSession(c)
	if !ok {
		return
	}
	updated, err := m.pipeline.EndSession(c.Request.Context(), session.ID)
	m.writeSession(c, updated, err, "failed to end session")
}

func (m *Module) handleArchive(c *gin.Context) {
	session, ok := m.ownedSession(c)
	if !ok {
		return
	}
	updated, err := m.pipeline.ArchiveSession(c.Request.Context(), session.ID)
	m.writeSession(c, updated, err, "failed to archive session")
}

func (m *Module) ownedSession(c *gin.Context) (*Session, bool) {
	accountID := authorization.CurrentAccountID(c)
	if accountID == 0 {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
		return nil, false
	}
	session, err := m.pipeline.OwnedSession(c.Request.Context(), accountID, c.Param("id"))
	if err != nil {
		writeError(c, err, "failed to load session")
		return nil, false
	}
	return session, true
}

func (m *Module) writeSession(c *gin.Context, session *Session, err error, fallback string) {
	if err != nil {
		writeError(c, err, fallback)
		return
	}
	c.JSON(http.StatusOK, gin.H{"session": session})
}

func clientMetadata(c *gin.Context, supplied *ClientMetadata) ClientMetadata {
	var meta ClientMetadata
	if supplied != nil {
		meta = *supplied
	}
	if meta.UserAgent == "" {
		meta.UserAgent = c.Request.UserAgent()
	}
	if meta.Referrer == "" {
		meta.Referrer = c.Request.Referer()
	}
	if meta.Language == "" {
		meta.Language = c.GetHeader("Accept-Language")
	}
	return meta
}

func writeError(c *gin.Context, err error, fallback string) {
	switch {
	case errors.Is(err, ErrProjectNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "project not found"})
	case errors.Is(err, ErrSessionNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
	case errors.Is(err, ErrInvalidTransition):
		c.JSON(http.StatusConflict, gin.H{"error": "session is not in a state that allows this action"})
	case errors.Is(err, ErrEmptyMessage), errors.Is(err, ErrMessageTooLong):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		log.Error("chat: "+fallback, "err", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": fallback})
	}
}
