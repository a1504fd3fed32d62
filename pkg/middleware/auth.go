package middleware

import (
	"net/http"
	"slices"

	"github.com/chongs12/asset-knowledge-base/pkg/logger"
	"github.com/chongs12/asset-knowledge-base/pkg/utils"
	"github.com/gin-gonic/gin"
)

const (
	ctxUserID = "user_id"
	ctxRole   = "user_role"
	ctxClaims = "claims"
)

// AuthMiddleware 校验外部认证服务签发的 Bearer 令牌
type AuthMiddleware struct {
	verifier *utils.TokenVerifier
}

func NewAuthMiddleware(secret, issuer, audience string) *AuthMiddleware {
	return &AuthMiddleware{verifier: utils.NewTokenVerifier(secret, issuer, audience)}
}

func (a *AuthMiddleware) RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, err := utils.BearerToken(c.GetHeader("Authorization"))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "bearer token required"})
			return
		}

		claims, err := a.verifier.Verify(token)
		if err != nil {
			logger.Warn(c.Request.Context(), "Rejected token", "error", err.Error(), "path", c.FullPath())
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid or expired token"})
			return
		}

		c.Set(ctxUserID, claims.UserID)
		c.Set(ctxRole, claims.Role)
		c.Set(ctxClaims, claims)
		InjectUserIDToContext(c, claims.UserID)
		c.Next()
	}
}

// RequireRole 必须挂在 RequireAuth 之后
func (a *AuthMiddleware) RequireRole(roles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		role := c.GetString(ctxRole)
		if role == "" || !slices.Contains(roles, role) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "insufficient permissions"})
			return
		}
		c.Next()
	}
}
