package knowledge

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/gin-gonic/gin"

	"github.com/AnastRaja/chatbot-sub000/projects"
	"github.com/AnastRaja/chatbot-sub000/storage"
)

// Module serves the dashboard knowledge-base endpoints.
type Module struct {
	service        *Service
	projects       *projects.Store
	maxUploadBytes int64
}

func RegisterRoutes(router *gin.Engine, requireAuth gin.HandlerFunc, service *Service, projectStore *projects.Store, maxUploadBytes int64) *Module {
	if maxUploadBytes <= 0 {
		maxUploadBytes = 10 << 20
	}
	module := &Module{service: service, projects: projectStore, maxUploadBytes: maxUploadBytes}

	group := router.Group("/api/projects/:slug", requireAuth)
	group.GET("/documents", module.handleList)
	group.POST("/documents", module.handleUpload)
	group.GET("/documents/:docID", module.handleGet)
	group.GET("/documents/:docID/download", module.handleDownload)
	group.DELETE("/documents/:docID", module.handleDelete)
	group.POST("/search", module.handleSearch)
	return module
}

func (m *Module) handleList(c *gin.Context) {
	project, ok := projects.ResolveOwned(c, m.projects)
	if !ok {
		return
	}

	documents, err := m.service.ListDocuments(c.Request.Context(), project.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load documents"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"documents": documents})
}

// handleUpload godoc
// @Summary Upload a knowledge-base file
// @Tags Knowledge
// @Accept multipart/form-data
// @Param slug path string true "project slug"
// @Param file formData file true "PDF, DOCX, HTML, Markdown or plain text"
// @Success 202 {object} map[string]any
// @Failure 400 {object} map[string]string
// @Failure 413 {object} map[string]string
func (m *Module) handleUpload(c *gin.Context) {
	project, ok := projects.ResolveOwned(c, m.projects)
	if !ok {
		return
	}

	header, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "file is required"})
		return
	}
	if header.Size > m.maxUploadBytes {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "file too large"})
		return
	}

	file, err := header.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read file"})
		return
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, m.maxUploadBytes+1))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read file"})
		return
	}
	if int64(len(data)) > m.maxUploadBytes {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "file too large"})
		return
	}

	ctx := c.Request.Context()
	doc, err := m.service.CreateDocument(ctx, project.ID, Upload{
		FileName:    header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		Data:        data,
	})
	if err != nil {
		log.Error("knowledge: create document", "project", project.ID, "err", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to store document"})
		return
	}

	if err := m.service.Submit(ctx, doc.ID, data); err != nil {
		log.Error("knowledge: queue document", "document", doc.ID, "err", err)
		m.service.markFailed(doc.ID, err)
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "ingestion queue unavailable"})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"document": doc})
}

func (m *Module) handleGet(c *gin.Context) {
	doc, ok := m.resolveDocument(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{"document": doc})
}

func (m *Module) handleDownload(c *gin.Context) {
	doc, ok := m.resolveDocument(c)
	if !ok {
		return
	}

	url, err := m.service.DownloadURL(c.Request.Context(), doc)
	if err != nil {
		if errors.Is(err, storage.ErrNotConfigured) {
			c.JSON(http.StatusNotFound, gin.H{"error": "original file not stored"})
		} else {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to sign download"})
		}
		return
	}
	c.Redirect(http.StatusFound, url)
}

func (m *Module) handleDelete(c *gin.Context) {
	project, ok := projects.ResolveOwned(c, m.projects)
	if !ok {
		return
	}
	docID, err := strconv.ParseUint(c.Param("docID"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid document id"})
		return
	}

	if err := m.service.DeleteDocument(c.Request.Context(), project.ID, docID); err != nil {
		if errors.Is(err, ErrDocumentNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "document not found"})
		} else {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to delete document"})
		}
		return
	}
	c.Status(http.StatusNoContent)
}

type searchRequest struct {
	Query string `json:"query" binding:"required"`
	K     int    `json:"k"`
}

// handleSearch lets the owner preview which chunks a question would retrieve.
func (m *Module) handleSearch(c *gin.Context) {
	project, ok := projects.ResolveOwned(c, m.projects)
	if !ok {
		return
	}

	var req searchRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Query) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "query is required"})
		return
	}
	if req.K <= 0 || req.K > 20 {
		req.K = 0
	}

	results, err := m.service.Search(c.Request.Context(), project.ID, req.Query, req.K)
	if err != nil {
		log.Warn("knowledge: search failed", "project", project.ID, "err", err)
		c.JSON(http.StatusBadGateway, gin.H{"error": "embedding provider unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"results": results})
}

func (m *Module) resolveDocument(c *gin.Context) (*Document, bool) {
	project, ok := projects.ResolveOwned(c, m.projects)
	if !ok {
		return nil, false
	}
	docID, err := strconv.ParseUint(c.Param("docID"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid document id"})
		return nil, false
	}

	doc, err := m.service.GetDocument(c.Request.Context(), project.ID, docID)
	if err != nil {
		if errors.Is(err, ErrDocumentNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "document not found"})
		} else {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load document"})
		}
		return nil, false
	}
	return doc, true
}
