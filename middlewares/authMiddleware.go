package middlewares

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const userIDKey = "UserID"

// IdentityResolver は資格情報を呼び出し元のユーザーIDに解決する
type IdentityResolver interface {
	Resolve(ctx context.Context, credential string) (uint, error)
}

// AuthMiddleware は Authorization ヘッダーのトークンを検証し、ユーザーIDをコンテキストにセットします。
func AuthMiddleware(resolver IdentityResolver, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		credential := c.GetHeader("Authorization")
		if credential == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized", "message": "token is required"})
			return
		}

		userID, err := resolver.Resolve(c.Request.Context(), credential)
		if err != nil {
			logger.Warn("認証失敗", zap.String("path", c.Request.URL.Path), zap.Error(err))
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized", "message": err.Error()})
			return
		}

		c.Set(userIDKey, userID)
		c.Next()
	}
}

var ErrNoUser = errors.New("no authenticated user in context")

// GetUserID は AuthMiddleware がセットしたユーザーIDを返します。
func GetUserID(c *gin.Context) (uint, error) {
	v, ok := c.Get(userIDKey)
	if !ok {
		return 0, ErrNoUser
	}
	userID, ok := v.(uint)
	if !ok || userID == 0 {
		return 0, ErrNoUser
	}
	return userID, nil
}
