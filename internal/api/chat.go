package api

import (
	"log"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"cordai/internal/models"
	"cordai/internal/relay"
)

const conversationHeader = "X-Conversation-Id"

type chatRequest struct {
	ID      string          `json:"id"`
	Message *models.Message `json:"message"`
	UserID  string          `json:"userId"`
}

func (h *Handler) chat(c *gin.Context) {
	streaming := false
	defer func() {
		if rec := recover(); rec != nil {
			log.Printf("[chat] unexpected error: %v", rec)
			if !streaming {
				c.String(http.StatusInternalServerError, "Internal Server Error")
			}
		}
	}()

	var req chatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		log.Printf("[chat] malformed body: %v", err)
		c.String(http.StatusBadRequest, "Bad Request")
		return
	}
	if req.Message.Empty() {
		c.String(http.StatusBadRequest, "No message found")
		return
	}
	if req.Message.Role == "" {
		req.Message.Role = models.RoleUser
	}
	if !req.Message.Role.Valid() {
		c.String(http.StatusBadRequest, "Invalid message role")
		return
	}
	req.UserID = strings.TrimSpace(req.UserID)
	if req.UserID == "" && h.requireUserID {
		c.String(http.StatusBadRequest, "User ID required")
		return
	}
	agent, err := h.relay.Agent()
	if err != nil {
		log.Printf("[chat] %v", err)
		c.String(http.StatusInternalServerError, "Agent not configured")
		return
	}

	conversationID := strings.TrimSpace(req.ID)
	if conversationID == "" {
		conversationID = uuid.NewString()
	}

	sse, ok := newSSEWriter(c)
	if !ok {
		c.String(http.StatusInternalServerError, "Internal Server Error")
		return
	}
	c.Header(conversationHeader, conversationID)
	streaming = true
	sse.open()

	err = h.relay.Run(c.Request.Context(), agent, relay.Request{
		ConversationID: conversationID,
		UserID:         req.UserID,
		Message:        *req.Message,
	}, sse)
	if err != nil {
		log.Printf("[chat] conversation=%s ended with error: %v", conversationID, err)
	}
}
