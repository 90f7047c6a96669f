package api

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"cordai/internal/relay"
	"cordai/internal/service/conversation"
)

// ThreadForgetter drops the agent memory of a deleted conversation.
type ThreadForgetter interface {
	Forget(ctx context.Context, resourceID, threadID string) error
}

// Handler wires HTTP routes to the chat relay and the conversation registry.
type Handler struct {
	relay         *relay.Relay
	conversations *conversation.Service
	threads       ThreadForgetter
	requireUserID bool
}

// NewHandler constructs a Handler instance. threads may be nil.
// requireUserID makes userId mandatory on chat requests.
func NewHandler(r *relay.Relay, conversations *conversation.Service, threads ThreadForgetter, requireUserID bool) *Handler {
	return &Handler{
		relay:         r,
		conversations: conversations,
		threads:       threads,
		requireUserID: requireUserID,
	}
}

// RegisterRoutes attaches all HTTP routes to the router.
func (h *Handler) RegisterRoutes(router *gin.Engine) {
	api := router.Group("/api")
	api.GET("/health", h.health)
	api.POST("/chat", h.chat)
	api.GET("/conversations", h.listConversations)
	api.POST("/conversations", h.saveConversation)
	api.DELETE("/conversations", h.deleteConversation)
}

func (h *Handler) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
