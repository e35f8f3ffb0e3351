package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/ignatzorin/servicedesk-backend/internal/models"
	"github.com/ignatzorin/servicedesk-backend/internal/pkg/apperror"
	"github.com/ignatzorin/servicedesk-backend/internal/service"
)

// Context ключи для gin.Context.
const (
	ContextUserIDKey       = "userID"
	ContextRoleKey         = "role"
	ContextAutoCompleteKey = "autoComplete"
)

// HeaderAutoCompleteToken заголовок доверенного вызова автозавершения.
const HeaderAutoCompleteToken = "X-Auto-Complete-Token"

// AuthMiddleware проверяет JWT access токен.
func AuthMiddleware(tokens *service.TokenManager) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !authenticate(c, tokens) {
			return
		}
		c.Next()
	}
}

// AuthOrAutoComplete пропускает либо пользователя с JWT, либо доверенный вызов с общим секретом.
func AuthOrAutoComplete(tokens *service.TokenManager, autoCompleteToken string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if raw := c.GetHeader(HeaderAutoCompleteToken); raw != "" {
			if autoCompleteToken == "" || subtle.ConstantTimeCompare([]byte(raw), []byte(autoCompleteToken)) != 1 {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "неверный токен автозавершения"})
				return
			}
			c.Set(ContextAutoCompleteKey, true)
			c.Next()
			return
		}
		if !authenticate(c, tokens) {
			return
		}
		c.Next()
	}
}

// RequireRole пускает только пользователей с указанной ролью. Ставится после AuthMiddleware.
func RequireRole(role string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.GetString(ContextRoleKey) != role {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "недостаточно прав"})
			return
		}
		c.Next()
	}
}

// RequireAdmin сокращение для RequireRole(models.RoleAdmin).
func RequireAdmin() gin.HandlerFunc {
	return RequireRole(models.RoleAdmin)
}

func authenticate(c *gin.Context, tokens *service.TokenManager) bool {
	auth := c.GetHeader("Authorization")
	if auth == "" || !strings.HasPrefix(auth, "Bearer ") {
		c.AbortWithStatusJSON(ErrorResponse(apperror.ErrUnauthorized))
		return false
	}

	raw := strings.TrimPrefix(auth, "Bearer ")
	userID, role, err := tokens.ParseAccess(raw)
	if err != nil || userID == uuid.Nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "токен невалиден"})
		return false
	}

	c.Set(ContextUserIDKey, userID)
	c.Set(ContextRoleKey, role)
	return true
}
