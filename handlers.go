package main

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/cartorio-digital/cartorio_backend/aiflows"
	"github.com/cartorio-digital/cartorio_backend/config"
	"github.com/cartorio-digital/cartorio_backend/models"
	"github.com/cartorio-digital/cartorio_backend/reconcile"
	"github.com/cartorio-digital/cartorio_backend/utils"
	"github.com/cartorio-digital/cartorio_backend/workflow"
	"github.com/gin-gonic/gin"
)

// App carries the long-lived collaborators every handler needs.
type App struct {
	Config *config.AppConfig
	Flows  *aiflows.Flows
	Sync   *workflow.ClientSync
	Pdf    *workflow.LivroPdfProcessor
	// Now is replaced in tests.
	Now func() time.Time
}

func (a *App) today() time.Time {
	if a.Now != nil {
		return a.Now()
	}
	return time.Now()
}

func (a *App) reconcileOptions() reconcile.Options {
	s := a.Config.Settings()
	return reconcile.Options{NormalizeNames: s.NameMatchNormalize, RequireMatch: s.MinuteCheckRequireMatch}
}

// respondError maps domain errors to HTTP statuses.
func respondError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, utils.ErrValidation), errors.Is(err, aiflows.ErrNotPdf):
		status = http.StatusBadRequest
	case errors.Is(err, utils.ErrUnauthorized):
		status = http.StatusUnauthorized
	case errors.Is(err, utils.ErrorRecordNotFound):
		status = http.StatusNotFound
	case errors.Is(err, reconcile.ErrNoMatchingClients):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, aiflows.ErrFlowFailed):
		status = http.StatusBadGateway
	case errors.Is(err, utils.ErrObjectTooLarge):
		status = http.StatusRequestEntityTooLarge
	case config.IsDuplicateKey(err), errors.Is(err, models.ErrLivroProcessing):
		status = http.StatusConflict
	}
	if status == http.StatusInternalServerError {
		_ = c.Error(err)
	}
	message := err.Error()
	if status == http.StatusInternalServerError && config.IsProduction() {
		message = "internal error"
	}
	c.JSON(status, gin.H{"error": message})
}

func idParam(c *gin.Context, name string) (int, bool) {
	id, err := strconv.Atoi(c.Param(name))
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid " + name})
		return 0, false
	}
	return id, true
}

func bindJSON(c *gin.Context, dest interface{}) bool {
	if err := c.ShouldBindJSON(dest); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
		return false
	}
	return true
}

// sessionAuthor is the attribution for writes made by the logged-in user.
func sessionAuthor(c *gin.Context) (string, bool) {
	author, ok := utils.GetAuthorFromContext(c.Request.Context())
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return "", false
	}
	return author, true
}

func sessionUsername(c *gin.Context) (string, bool) {
	username, ok := utils.GetUsernameFromContext(c.Request.Context())
	if !ok || username == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return "", false
	}
	return username, true
}

func queryFlag(c *gin.Context, name string) bool {
	v, _ := strconv.ParseBool(c.Query(name))
	return v
}
