package auth

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

const authorizationHeader = "Authorization"
const bearerPrefix = "Bearer "

// RequireAccessToken verifies an access token and injects identity and the raw token into request context.
// It does not perform RBAC checks; those belong to internal/rbac.
// EventSource clients cannot set headers, so the token is also accepted as ?access_token= on GET requests.
func RequireAccessToken(m *Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := strings.TrimSpace(c.GetHeader(authorizationHeader))
		tok := ""
		switch {
		case strings.HasPrefix(raw, bearerPrefix):
			tok = strings.TrimPrefix(raw, bearerPrefix)
		case raw == "" && c.Request.Method == http.MethodGet:
			tok = c.Query("access_token")
		}
		if tok == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			return
		}

		claims, err := m.Verify(tok, TokenTypeAccess, time.Now())
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		ctx := WithIdentity(c.Request.Context(), claims.UserID, claims.DisplayName, claims.Role)
		ctx = WithAccessToken(ctx, tok)
		c.Request = c.Request.WithContext(ctx)

		c.Set("user_id", claims.UserID)
		c.Set("role", claims.Role)

		c.Next()
	}
}
