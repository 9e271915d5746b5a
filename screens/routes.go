// Package screens はフレンド申請とチャレンジ台帳の操作をHTTPで公開します。
package screens

import (
	"errors"
	"net/http"
	"strconv"

	"trophyserver/auth"
	"trophyserver/internal/apperr"
	"trophyserver/internal/challenge"
	"trophyserver/internal/friends"
	"trophyserver/middlewares"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Env はハンドラが使う依存をまとめたもの
type Env struct {
	DB      *gorm.DB
	Friends *friends.Registry
	Ledger  *challenge.Ledger
	Tokens  *auth.TokenIssuer
	Logger  *zap.Logger
	DevMode bool
}

// RegisterRoutes は各HTTPリクエストのルーティングを登録します。
func RegisterRoutes(router gin.IRouter, env *Env) {
	if env.DevMode {
		router.POST("/auth/dev/impersonate/:userId", func(c *gin.Context) {
			ImpersonateHandler(c, env)
		})
	}

	authed := router.Group("/", middlewares.AuthMiddleware(env.Tokens, env.Logger))
	authed.POST("/auth/logout", func(c *gin.Context) {
		LogoutHandler(c, env)
	})
	authed.GET("/me", func(c *gin.Context) {
		MeHandler(c, env)
	})

	authed.GET("/friends", func(c *gin.Context) {
		ListFriendsHandler(c, env)
	})
	authed.GET("/friends/requests/incoming", func(c *gin.Context) {
		ListIncomingRequestsHandler(c, env)
	})
	authed.GET("/friends/requests/outgoing", func(c *gin.Context) {
		ListOutgoingRequestsHandler(c, env)
	})
	authed.POST("/friends/requests", func(c *gin.Context) {
		SendFriendRequestHandler(c, env)
	})
	authed.POST("/friends/requests/by-username", func(c *gin.Context) {
		SendFriendRequestByUsernameHandler(c, env)
	})
	authed.POST("/friends/requests/:otherUserId/:action", func(c *gin.Context) {
		RespondFriendRequestHandler(c, env)
	})
	authed.DELETE("/friends/:friendUserId", func(c *gin.Context) {
		RemoveFriendHandler(c, env)
	})

	authed.POST("/challenges", func(c *gin.Context) {
		ProposeChallengeHandler(c, env)
	})
	authed.GET("/challenges/mine", func(c *gin.Context) {
		ListMyChallengesHandler(c, env)
	})
	authed.GET("/challenges/proposed", func(c *gin.Context) {
		ListProposedChallengesHandler(c, env)
	})
	authed.GET("/challenges/:id", func(c *gin.Context) {
		GetChallengeHandler(c, env)
	})
	authed.POST("/challenges/:id/:action", func(c *gin.Context) {
		ChallengeActionHandler(c, env)
	})
}

// respondError はドメインエラーの種別をHTTPステータスに変換して返します。
func respondError(c *gin.Context, logger *zap.Logger, err error) {
	kind := apperr.KindOf(err)
	status := http.StatusInternalServerError
	switch kind {
	case apperr.KindValidation:
		status = http.StatusBadRequest
		if errors.Is(err, apperr.ErrNotFound) {
			status = http.StatusNotFound
		}
	case apperr.KindAuthorization:
		status = http.StatusForbidden
	case apperr.KindStateConflict:
		status = http.StatusConflict
	case apperr.KindInsufficientFunds:
		status = http.StatusUnprocessableEntity
	}

	if status == http.StatusInternalServerError {
		logger.Error("Request failed", zap.String("path", c.Request.URL.Path), zap.Error(err))
		c.JSON(status, gin.H{"error": "internal", "message": "internal server error"})
		return
	}
	if status == http.StatusNotFound {
		c.JSON(status, gin.H{"error": "not_found", "message": err.Error()})
		return
	}
	c.JSON(status, gin.H{"error": kind.String(), "message": err.Error()})
}

// callerID は認証済みユーザーのIDを返します。取得できなければ 401 を返して false
func callerID(c *gin.Context) (uint, bool) {
	userID, err := middlewares.GetUserID(c)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized", "message": err.Error()})
		return 0, false
	}
	return userID, true
}

// idParam はパスパラメータを正のIDとして読み取ります。
func idParam(c *gin.Context, name string) (uint, bool) {
	id, err := strconv.ParseUint(c.Param(name), 10, 64)
	if err != nil || id == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation", "message": "invalid " + name})
		return 0, false
	}
	return uint(id), true
}
