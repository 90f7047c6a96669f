package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"

	"cordai/internal/models"
	"cordai/internal/service/conversation"
)

type saveConversationRequest struct {
	UserID       string          `json:"userId"`
	Conversation json.RawMessage `json:"conversation"`
}

type deleteConversationRequest struct {
	UserID         string `json:"userId"`
	ConversationID string `json:"conversationId"`
}

func (h *Handler) listConversations(c *gin.Context) {
	list, err := h.conversations.List(c.Request.Context(), c.Query("userId"))
	if err != nil {
		if errors.Is(err, conversation.ErrMissingUserID) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "User ID required"})
			return
		}
		log.Printf("[conversations] list: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load conversations"})
		return
	}
	c.JSON(http.StatusOK, list)
}

func (h *Handler) saveConversation(c *gin.Context) {
	var req saveConversationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		log.Printf("[conversations] save: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to save conversation"})
		return
	}
	conv, err := decodeConversation(req.Conversation)
	if err != nil {
		log.Printf("[conversations] save: %v", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid conversation"})
		return
	}
	saved, err := h.conversations.Upsert(c.Request.Context(), req.UserID, conv)
	if err != nil {
		if errors.Is(err, conversation.ErrMissingFields) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "User ID and conversation required"})
			return
		}
		log.Printf("[conversations] save: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to save conversation"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "conversation": saved})
}

func (h *Handler) deleteConversation(c *gin.Context) {
	var req deleteConversationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		log.Printf("[conversations] delete: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to delete conversation"})
		return
	}
	if err := h.conversations.Remove(c.Request.Context(), req.UserID, req.ConversationID); err != nil {
		if errors.Is(err, conversation.ErrMissingFields) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "User ID and conversation ID required"})
			return
		}
		log.Printf("[conversations] delete: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to delete conversation"})
		return
	}
	if h.threads != nil {
		if err := h.threads.Forget(c.Request.Context(), req.UserID, req.ConversationID); err != nil {
			log.Printf("[conversations] forget thread %s: %v", req.ConversationID, err)
		}
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// decodeConversation accepts only the known summary fields. An absent or
// null conversation decodes to nil.
func decodeConversation(raw json.RawMessage) (*models.Conversation, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	var conv *models.Conversation
	if err := dec.Decode(&conv); err != nil {
		return nil, err
	}
	return conv, nil
}
