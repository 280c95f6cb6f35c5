package api

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"chainflow/internal/chain"
	"chainflow/internal/models"
	"chainflow/internal/store"
)

// Querier runs one query for a session; the worker dispatcher is the
// production implementation.
type Querier interface {
	Query(ctx context.Context, sessionID, query string, hint chain.Complexity) (string, error)
	CancelSession(sessionID string)
}

// Handler wires HTTP routes to the context store and the query pipeline.
type Handler struct {
	store   *store.Store
	queries Querier
}

// NewHandler constructs a Handler instance.
func NewHandler(st *store.Store, queries Querier) *Handler {
	return &Handler{store: st, queries: queries}
}

// RegisterRoutes attaches all HTTP routes to the router.
func (h *Handler) RegisterRoutes(router *gin.Engine) {
	api := router.Group("/api")
	api.GET("/healthz", h.health)
	api.POST("/sessions", h.createSession)
	api.GET("/sessions/:id", h.getSession)
	api.GET("/sessions/:id/messages", h.getMessages)
	api.POST("/sessions/:id/query", h.runQuery)
	api.PUT("/sessions/:id/knowledge", h.putKnowledge)
	api.DELETE("/sessions/:id/queue", h.cancelQueue)
	api.POST("/maintenance/cleanup", h.cleanup)
}

func (h *Handler) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "sessions": h.store.SessionCount()})
}

type createSessionRequest struct {
	ID      string             `json:"id"`
	Profile models.UserProfile `json:"profile"`
}

func (h *Handler) createSession(c *gin.Context) {
	var req createSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	id := strings.TrimSpace(req.ID)
	if id == "" {
		id = uuid.NewString()
	}
	sess := h.store.CreateSession(id, req.Profile)
	c.JSON(http.StatusCreated, gin.H{
		"session_id": sess.ID,
		"style":      sess.Profile.Style,
		"created":    sess.LastUpdated,
	})
}

func (h *Handler) getSession(c *gin.Context) {
	sess, err := h.store.GetSession(c.Param("id"))
	if err != nil {
		h.sessionError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"session_id": sess.ID,
		"profile":    sess.Profile,
		"state":      sess.State,
		"knowledge":  sess.Knowledge,
		"updated_at": sess.LastUpdated,
	})
}

func (h *Handler) getMessages(c *gin.Context) {
	sess, err := h.store.GetSession(c.Param("id"))
	if err != nil {
		h.sessionError(c, err)
		return
	}
	if len(sess.Messages) == 0 {
		c.JSON(http.StatusOK, gin.H{"messages": make([]*models.Message, 0)})
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": sess.Messages})
}

type queryRequest struct {
	Query      string `json:"query"`
	Complexity string `json:"complexity"`
}

func (h *Handler) runQuery(c *gin.Context) {
	var req queryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "query is required"})
		return
	}
	hint, ok := parseComplexity(req.Complexity)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid complexity"})
		return
	}

	response, err := h.queries.Query(c.Request.Context(), c.Param("id"), req.Query, hint)
	if err != nil {
		h.sessionError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"response": response})
}

type knowledgeRequest struct {
	Domain        string                `json:"domain"`
	Concepts      map[string]string     `json:"concepts"`
	Relationships []models.Relationship `json:"relationships"`
}

func (h *Handler) putKnowledge(c *gin.Context) {
	var req knowledgeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if strings.TrimSpace(req.Domain) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "domain is required"})
		return
	}
	sessionID := c.Param("id")
	if err := h.store.UpdateDomainKnowledge(sessionID, req.Domain, req.Concepts); err != nil {
		h.sessionError(c, err)
		return
	}
	for _, rel := range req.Relationships {
		if err := h.store.AddRelationship(sessionID, req.Domain, rel); err != nil {
			h.sessionError(c, err)
			return
		}
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) cancelQueue(c *gin.Context) {
	h.queries.CancelSession(c.Param("id"))
	c.Status(http.StatusNoContent)
}

type cleanupRequest struct {
	MaxAgeMinutes int `json:"max_age_minutes"`
}

func (h *Handler) cleanup(c *gin.Context) {
	var req cleanupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if req.MaxAgeMinutes <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "max_age_minutes must be positive"})
		return
	}
	removed := h.store.Cleanup(time.Duration(req.MaxAgeMinutes) * time.Minute)
	c.JSON(http.StatusOK, gin.H{"removed": removed})
}

func (h *Handler) sessionError(c *gin.Context, err error) {
	if errors.Is(err, store.ErrSessionNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
}

func parseComplexity(s string) (chain.Complexity, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "":
		return "", true
	case string(chain.ComplexitySimple):
		return chain.ComplexitySimple, true
	case string(chain.ComplexityMedium):
		return chain.ComplexityMedium, true
	case string(chain.ComplexityComplex):
		return chain.ComplexityComplex, true
	default:
		return "", false
	}
}
