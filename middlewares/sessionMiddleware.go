package middlewares

import (
	"errors"
	"net/http"
	"strings"

	"github.com/cartorio-digital/cartorio_backend/config"
	"github.com/cartorio-digital/cartorio_backend/models"
	"github.com/cartorio-digital/cartorio_backend/utils"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const correlationHeader = "X-Correlation-Id"

// SessionMiddleware resolves the session token (header "token" or a Bearer
// Authorization header) and stores the user in the request context. Requests
// without a token pass through anonymous; RequireSession rejects them.
func SessionMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		correlationId := c.Request.Header.Get(correlationHeader)
		if correlationId == "" {
			correlationId = uuid.NewString()
		}
		c.Header(correlationHeader, correlationId)
		ctx = utils.SetCorrelationIdInContext(ctx, correlationId)

		token := sessionToken(c.Request)
		if token == "" {
			c.Request = c.Request.WithContext(ctx)
			c.Next()
			return
		}
		user, err := models.ResolveSession(ctx, token)
		if err != nil {
			if !errors.Is(err, utils.ErrUnauthorized) {
				config.LogError(config.GetLogger(), "middlewares", "SessionMiddleware", "resolve session", nil, err)
			}
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			c.Abort()
			return
		}

		ctx = utils.SetTokenInContext(ctx, token)
		ctx = utils.SetUsernameInContext(ctx, user.Username)
		ctx = utils.SetUserNameInContext(ctx, user.Name)
		ctx = utils.SetUserIdInContext(ctx, user.ID)
		ctx = utils.SetUserRoleInContext(ctx, string(user.Role))
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

func sessionToken(r *http.Request) string {
	if token := strings.TrimSpace(r.Header.Get("token")); token != "" {
		return token
	}
	auth := r.Header.Get("Authorization")
	const bearer = "Bearer "
	if len(auth) > len(bearer) && strings.EqualFold(auth[:len(bearer)], bearer) {
		return strings.TrimSpace(auth[len(bearer):])
	}
	return ""
}
