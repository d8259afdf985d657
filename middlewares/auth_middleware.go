package middlewares

import (
	"net/http"
	"strings"

	"github.com/manodhiambo/school-management-system-sub003/utils"

	"github.com/gin-gonic/gin"
)

const (
	CtxTenantID = "tenant_id"
	CtxUserID   = "user_id"
	CtxRole     = "role"
)

// AuthMiddleware verifies the bearer token and puts the tenant scope on the context.
func AuthMiddleware(secret []byte) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"message": "authorization header is missing"})
			return
		}
		if !strings.HasPrefix(authHeader, "Bearer ") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"message": "invalid authorization header format"})
			return
		}

		claims, err := utils.VerifyToken(secret, strings.TrimPrefix(authHeader, "Bearer "))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"message": "invalid token"})
			return
		}

		c.Set(CtxTenantID, claims.TenantID)
		c.Set(CtxUserID, claims.UserID)
		c.Set(CtxRole, claims.Role)
		c.Next()
	}
}
