package middlewares

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"bitbucket.org/mmdatafocus/exchange_backend/appctx"
	"bitbucket.org/mmdatafocus/exchange_backend/config"
	"bitbucket.org/mmdatafocus/exchange_backend/utils"
)

// session is what the auth service caches in redis per token. The engine
// never issues tokens itself.
type session struct {
	UserId     int    `json:"user_id"`
	UserName   string `json:"user_name"`
	ScopeId    string `json:"scope_id"`
	IsOperator bool   `json:"is_operator"`
}

func SessionMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := c.Request.Header.Get("token")
		if token == "" {
			c.Next()
			return
		}

		var sess session
		exists, err := config.GetRedisObject("Token:"+token, &sess)
		if err != nil || !exists {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			c.Abort()
			return
		}

		ctx := utils.SetTokenInContext(c.Request.Context(), token)
		ctx = utils.SetUserIdInContext(ctx, sess.UserId)
		ctx = utils.SetUserNameInContext(ctx, sess.UserName)
		if sess.ScopeId != "" {
			ctx = utils.SetScopeIdInContext(ctx, sess.ScopeId)
		}
		if sess.IsOperator {
			ctx = context.WithValue(ctx, appctx.ContextKeyIsOperator, true)
			// Operators may act on another scope explicitly.
			if scopeId := strings.TrimSpace(c.Query("scope_id")); scopeId != "" {
				ctx = utils.SetScopeIdInContext(ctx, scopeId)
			}
		}
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// RequireOperator guards operator-only endpoints.
func RequireOperator() gin.HandlerFunc {
	return func(c *gin.Context) {
		isOperator, _ := appctx.GetBool(c.Request.Context(), appctx.ContextKeyIsOperator)
		if !isOperator {
			c.JSON(http.StatusForbidden, gin.H{"error": "operator access required"})
			c.Abort()
			return
		}
		c.Next()
	}
}

// internal service-to-service calls authenticate with a static key.
func InternalAuthMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		expected := strings.TrimSpace(utils.StringFromEnv("INTERNAL_API_KEY", ""))
		if expected == "" {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "internal api disabled"})
			c.Abort()
			return
		}
		if c.GetHeader("X-Internal-Key") != expected {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			c.Abort()
			return
		}
		c.Next()
	}
}
