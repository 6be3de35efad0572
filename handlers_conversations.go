package main

import (
	"net/http"
	"strings"

	"github.com/cartorio-digital/cartorio_backend/aiflows"
	"github.com/cartorio-digital/cartorio_backend/config"
	"github.com/cartorio-digital/cartorio_backend/models"
	"github.com/gin-gonic/gin"
)

func (a *App) listConversationsHandler(c *gin.Context) {
	username, ok := sessionUsername(c)
	if !ok {
		return
	}
	convs, err := models.ListConversations(c.Request.Context(), username)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": convs})
}

func (a *App) createConversationHandler(c *gin.Context) {
	username, ok := sessionUsername(c)
	if !ok {
		return
	}
	var req struct {
		Title string `json:"title"`
	}
	// the body is optional
	_ = c.ShouldBindJSON(&req)
	conv, err := models.CreateConversation(c.Request.Context(), username, req.Title)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"data": conv})
}

func (a *App) getConversationHandler(c *gin.Context) {
	username, ok := sessionUsername(c)
	if !ok {
		return
	}
	conv, err := models.GetConversation(c.Request.Context(), username, c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": conv})
}

func (a *App) deleteConversationHandler(c *gin.Context) {
	username, ok := sessionUsername(c)
	if !ok {
		return
	}
	conv, err := models.DeleteConversation(c.Request.Context(), username, c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": conv})
}

// sendMessageHandler runs one assistant turn. The user message and the reply
// are stored together, so a failed model call leaves the conversation as it was.
func (a *App) sendMessageHandler(c *gin.Context) {
	username, ok := sessionUsername(c)
	if !ok {
		return
	}
	var req struct {
		Content string `json:"content"`
	}
	if !bindJSON(c, &req) {
		return
	}
	content := strings.TrimSpace(req.Content)
	if content == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "content is required"})
		return
	}
	ctx := c.Request.Context()
	conv, err := models.GetConversation(ctx, username, c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	history := make([]aiflows.Message, 0, len(conv.Messages))
	for _, m := range conv.Messages {
		history = append(history, aiflows.Message{Role: aiflows.Role(m.Role), Text: m.Content})
	}
	reply, err := a.Flows.ConversationalAgent(ctx, history, content)
	if err != nil {
		respondError(c, err)
		return
	}

	title := ""
	if conv.Title == "" && len(conv.Messages) == 0 {
		title, err = a.Flows.GenerateConvoTitle(ctx, content)
		if err != nil {
			config.LogError(config.GetLogger(), "main", "sendMessageHandler", "GenerateConvoTitle", conv.ID, err)
			title = aiflows.FallbackTitle(content)
		}
	}

	userMsg := &models.ConversationMessage{Role: models.MessageRoleUser, Content: content}
	modelMsg := &models.ConversationMessage{Role: models.MessageRoleModel, Content: reply}
	if err := models.AppendConversationMessages(ctx, conv, title, userMsg, modelMsg); err != nil {
		respondError(c, err)
		return
	}
	if title != "" {
		conv.Title = title
	}
	c.JSON(http.StatusOK, gin.H{"data": gin.H{
		"conversationId": conv.ID,
		"title":          conv.Title,
		"messages":       []*models.ConversationMessage{userMsg, modelMsg},
	}})
}
