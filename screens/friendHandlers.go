package screens

import (
	"context"
	"net/http"

	"trophyserver/models"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// SendFriendRequest はフレンド申請のボディ
type SendFriendRequest struct {
	TargetUserID uint `json:"targetUserId" binding:"required"`
}

// SendFriendRequestByUsername はユーザー名指定のフレンド申請のボディ
type SendFriendRequestByUsername struct {
	Username string `json:"username" binding:"required"`
}

func listFriendships(c *gin.Context, env *Env, list func(ctx context.Context, userID uint) ([]models.Friendship, error)) {
	userID, ok := callerID(c)
	if !ok {
		return
	}
	rows, err := list(c.Request.Context(), userID)
	if err != nil {
		respondError(c, env.Logger, err)
		return
	}
	views, err := friendshipViews(env.DB, userID, rows)
	if err != nil {
		respondError(c, env.Logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"friendships": views})
}

func ListFriendsHandler(c *gin.Context, env *Env) {
	listFriendships(c, env, env.Friends.ListAccepted)
}

func ListIncomingRequestsHandler(c *gin.Context, env *Env) {
	listFriendships(c, env, env.Friends.ListIncomingPending)
}

func ListOutgoingRequestsHandler(c *gin.Context, env *Env) {
	listFriendships(c, env, env.Friends.ListOutgoingPending)
}

func respondFriendship(c *gin.Context, env *Env, status int, me uint, f *models.Friendship) {
	views, err := friendshipViews(env.DB, me, []models.Friendship{*f})
	if err != nil {
		respondError(c, env.Logger, err)
		return
	}
	c.JSON(status, views[0])
}

func SendFriendRequestHandler(c *gin.Context, env *Env) {
	userID, ok := callerID(c)
	if !ok {
		return
	}
	var req SendFriendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		env.Logger.Info("Request binding error", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation", "message": "targetUserId is required"})
		return
	}

	f, err := env.Friends.SendRequest(c.Request.Context(), userID, req.TargetUserID)
	if err != nil {
		respondError(c, env.Logger, err)
		return
	}
	respondFriendship(c, env, http.StatusCreated, userID, f)
}

func SendFriendRequestByUsernameHandler(c *gin.Context, env *Env) {
	userID, ok := callerID(c)
	if !ok {
		return
	}
	var req SendFriendRequestByUsername
	if err := c.ShouldBindJSON(&req); err != nil {
		env.Logger.Info("Request binding error", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation", "message": "username is required"})
		return
	}

	f, err := env.Friends.SendRequestByUsername(c.Request.Context(), userID, req.Username)
	if err != nil {
		respondError(c, env.Logger, err)
		return
	}
	respondFriendship(c, env, http.StatusCreated, userID, f)
}

// RespondFriendRequestHandler は accept / decline / cancel を処理します。
func RespondFriendRequestHandler(c *gin.Context, env *Env) {
	userID, ok := callerID(c)
	if !ok {
		return
	}
	otherID, ok := idParam(c, "otherUserId")
	if !ok {
		return
	}

	var (
		f   *models.Friendship
		err error
	)
	ctx := c.Request.Context()
	switch c.Param("action") {
	case "accept":
		f, err = env.Friends.Accept(ctx, userID, otherID)
	case "decline":
		f, err = env.Friends.Decline(ctx, userID, otherID)
	case "cancel":
		f, err = env.Friends.Cancel(ctx, userID, otherID)
	default:
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": "unknown action"})
		return
	}
	if err != nil {
		respondError(c, env.Logger, err)
		return
	}
	respondFriendship(c, env, http.StatusOK, userID, f)
}

func RemoveFriendHandler(c *gin.Context, env *Env) {
	userID, ok := callerID(c)
	if !ok {
		return
	}
	friendID, ok := idParam(c, "friendUserId")
	if !ok {
		return
	}
	if err := env.Friends.Remove(c.Request.Context(), userID, friendID); err != nil {
		respondError(c, env.Logger, err)
		return
	}
	c.Status(http.StatusNoContent)
}
