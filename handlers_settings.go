package main

import (
	"net/http"
	"strings"

	"github.com/cartorio-digital/cartorio_backend/config"
	"github.com/cartorio-digital/cartorio_backend/models"
	"github.com/cartorio-digital/cartorio_backend/utils"
	"github.com/gin-gonic/gin"
)

func (a *App) meHandler(c *gin.Context) {
	username, ok := sessionUsername(c)
	if !ok {
		return
	}
	user, err := models.GetUserByUsername(c.Request.Context(), username)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": user})
}

func (a *App) logoutHandler(c *gin.Context) {
	ctx := c.Request.Context()
	token, ok := utils.GetTokenFromContext(ctx)
	if !ok || token == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	if err := models.RevokeSession(ctx, token); err != nil {
		respondError(c, err)
		return
	}
	userId, _ := utils.GetUserIdFromContext(ctx)
	config.GetLogger().WithField("user_id", userId).Info("[session.logout]")
	c.Status(http.StatusNoContent)
}

func (a *App) listPresetsHandler(c *gin.Context) {
	presets, err := models.ListPresets(c.Request.Context(), models.PresetKind(c.Param("kind")))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": presets})
}

func (a *App) createPresetHandler(c *gin.Context) {
	var input models.NewPreset
	if !bindJSON(c, &input) {
		return
	}
	preset, err := models.CreatePreset(c.Request.Context(), models.PresetKind(c.Param("kind")), &input)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"data": preset})
}

func (a *App) deletePresetHandler(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	preset, err := models.DeletePreset(c.Request.Context(), models.PresetKind(c.Param("kind")), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": preset})
}

func (a *App) listPromptsHandler(c *gin.Context) {
	prompts, err := models.ListSystemPrompts(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": prompts})
}

func (a *App) updatePromptHandler(c *gin.Context) {
	author, ok := sessionAuthor(c)
	if !ok {
		return
	}
	var input models.NewSystemPrompt
	if !bindJSON(c, &input) {
		return
	}
	prompt, err := models.UpsertSystemPrompt(c.Request.Context(), strings.TrimSpace(c.Param("key")), &input, author)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": prompt})
}

func (a *App) getAppConfigHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"data": a.Config.Settings()})
}

// fields missing from the body keep their current value
func (a *App) updateAppConfigHandler(c *gin.Context) {
	next := a.Config.Settings()
	if !bindJSON(c, &next) {
		return
	}
	if next.ExpiryScanDays < 0 || next.AIRateLimitPerMin < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "limits must not be negative"})
		return
	}
	saved := a.Config.Update(func(s *config.AppSettings) { *s = next })
	if username, ok := utils.GetUsernameFromContext(c.Request.Context()); ok {
		config.LogInfo(config.GetLogger(), "main", "updateAppConfigHandler", "app settings updated", username)
	}
	c.JSON(http.StatusOK, gin.H{"data": saved})
}
