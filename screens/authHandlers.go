package screens

import (
	"errors"
	"net/http"

	"trophyserver/internal/apperr"
	"trophyserver/models"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ImpersonateHandler は開発モード専用で、指定ユーザーのトークンを発行します。
func ImpersonateHandler(c *gin.Context, env *Env) {
	userID, ok := idParam(c, "userId")
	if !ok {
		return
	}

	var user models.User
	if err := env.DB.First(&user, userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			respondError(c, env.Logger, apperr.NotFound("user"))
			return
		}
		respondError(c, env.Logger, err)
		return
	}

	token, expiresAt, err := env.Tokens.Issue(user.ID, user.Username)
	if err != nil {
		respondError(c, env.Logger, err)
		return
	}

	env.Logger.Warn("Issued impersonation token", zap.Uint("userID", user.ID))
	c.JSON(http.StatusOK, gin.H{
		"token":     token,
		"userId":    user.ID,
		"username":  user.Username,
		"expiresAt": expiresAt,
	})
}

// LogoutHandler は現在のトークンを失効させます。
func LogoutHandler(c *gin.Context, env *Env) {
	if err := env.Tokens.Revoke(c.Request.Context(), c.GetHeader("Authorization")); err != nil {
		respondError(c, env.Logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "logged_out"})
}

// MeHandler は呼び出し元のユーザー情報と残高を返します。
func MeHandler(c *gin.Context, env *Env) {
	userID, ok := callerID(c)
	if !ok {
		return
	}

	var user models.User
	if err := env.DB.WithContext(c.Request.Context()).First(&user, userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			respondError(c, env.Logger, apperr.NotFound("user"))
			return
		}
		respondError(c, env.Logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"userId":   user.ID,
		"username": user.Username,
		"trophies": user.Trophies,
	})
}
