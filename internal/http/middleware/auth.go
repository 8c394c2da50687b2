package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/ignatzorin/escrow-broker/internal/pkg/apperror"
	"github.com/ignatzorin/escrow-broker/internal/service"
)

const (
	ContextUserIDKey = "userID"
	ContextRoleKey   = "role"
)

var errInvalidToken = apperror.New(apperror.ErrCodeUnauthorized, "токен невалиден")

// AuthMiddleware кладёт в контекст id пользователя и роль из Bearer токена.
func AuthMiddleware(tokens *service.TokenManager) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw, ok := BearerToken(c.GetHeader("Authorization"))
		if !ok {
			abortWith(c, apperror.ErrUnauthorized)
			return
		}

		userID, role, err := tokens.ParseAccess(raw)
		if err != nil {
			abortWith(c, errInvalidToken)
			return
		}

		c.Set(ContextUserIDKey, userID)
		c.Set(ContextRoleKey, role)
		c.Next()
	}
}

// RequireAdmin ставится после AuthMiddleware.
func RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.GetString(ContextRoleKey) != service.RoleAdmin {
			abortWith(c, apperror.ErrForbidden)
			return
		}
		c.Next()
	}
}

// BearerToken достаёт токен из заголовка Authorization. Схема без учёта регистра.
func BearerToken(header string) (string, bool) {
	scheme, token, found := strings.Cut(strings.TrimSpace(header), " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

func abortWith(c *gin.Context, err error) {
	status, body := ErrorBody(err)
	c.AbortWithStatusJSON(status, body)
}
