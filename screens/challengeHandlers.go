package screens

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"trophyserver/internal/apperr"
	"trophyserver/internal/challenge"
	"trophyserver/models"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// ProposeChallengeRequest はチャレンジ作成のボディ。日付は "2006-01-02" 形式
type ProposeChallengeRequest struct {
	OpponentID    uint   `json:"opponentId" binding:"required"`
	GoalList      string `json:"goalList"`
	StartDate     string `json:"startDate"`
	EndDate       string `json:"endDate"`
	TrophiesStake int    `json:"trophiesStake"`
}

func parseDate(field, value string) (*time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, nil
	}
	t, err := time.Parse(dateLayout, value)
	if err != nil {
		return nil, apperr.Validation("%s must be YYYY-MM-DD", field)
	}
	return &t, nil
}

func (r ProposeChallengeRequest) input() (challenge.ProposeInput, error) {
	start, err := parseDate("startDate", r.StartDate)
	if err != nil {
		return challenge.ProposeInput{}, err
	}
	end, err := parseDate("endDate", r.EndDate)
	if err != nil {
		return challenge.ProposeInput{}, err
	}
	return challenge.ProposeInput{
		OpponentID:    r.OpponentID,
		GoalList:      r.GoalList,
		StartDate:     start,
		EndDate:       end,
		TrophiesStake: r.TrophiesStake,
	}, nil
}

func respondChallenge(c *gin.Context, env *Env, status int, fc *models.FriendChallenge) {
	view, err := challengeView(env.DB, fc)
	if err != nil {
		respondError(c, env.Logger, err)
		return
	}
	c.JSON(status, view)
}

func ProposeChallengeHandler(c *gin.Context, env *Env) {
	userID, ok := callerID(c)
	if !ok {
		return
	}
	var req ProposeChallengeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		env.Logger.Info("Request binding error", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation", "message": "invalid request body"})
		return
	}
	in, err := req.input()
	if err != nil {
		respondError(c, env.Logger, err)
		return
	}

	fc, err := env.Ledger.Propose(c.Request.Context(), userID, in)
	if err != nil {
		respondError(c, env.Logger, err)
		return
	}
	respondChallenge(c, env, http.StatusCreated, fc)
}

func listChallenges(c *gin.Context, env *Env, list func(ctx context.Context, userID uint) ([]models.FriendChallenge, error)) {
	userID, ok := callerID(c)
	if !ok {
		return
	}
	rows, err := list(c.Request.Context(), userID)
	if err != nil {
		respondError(c, env.Logger, err)
		return
	}
	views, err := challengeViews(env.DB, rows)
	if err != nil {
		respondError(c, env.Logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"challenges": views})
}

func ListMyChallengesHandler(c *gin.Context, env *Env) {
	listChallenges(c, env, env.Ledger.ListMine)
}

func ListProposedChallengesHandler(c *gin.Context, env *Env) {
	listChallenges(c, env, env.Ledger.ListProposedFor)
}

func GetChallengeHandler(c *gin.Context, env *Env) {
	userID, ok := callerID(c)
	if !ok {
		return
	}
	challengeID, ok := idParam(c, "id")
	if !ok {
		return
	}
	fc, err := env.Ledger.Get(c.Request.Context(), userID, challengeID)
	if err != nil {
		respondError(c, env.Logger, err)
		return
	}
	respondChallenge(c, env, http.StatusOK, fc)
}

// ChallengeActionHandler はチャレンジの状態遷移を処理します。
func ChallengeActionHandler(c *gin.Context, env *Env) {
	userID, ok := callerID(c)
	if !ok {
		return
	}
	challengeID, ok := idParam(c, "id")
	if !ok {
		return
	}

	var (
		fc  *models.FriendChallenge
		err error
	)
	ctx := c.Request.Context()
	switch c.Param("action") {
	case "accept":
		fc, err = env.Ledger.Accept(ctx, userID, challengeID)
	case "decline":
		fc, err = env.Ledger.Decline(ctx, userID, challengeID)
	case "request-completion":
		fc, err = env.Ledger.RequestCompletion(ctx, userID, challengeID)
	case "confirm-completion":
		fc, err = env.Ledger.ConfirmCompletion(ctx, userID, challengeID)
	case "reject-completion":
		fc, err = env.Ledger.RejectCompletion(ctx, userID, challengeID)
	case "complete":
		winnerID, perr := strconv.ParseUint(c.Query("winnerUserId"), 10, 64)
		if perr != nil || winnerID == 0 {
			respondError(c, env.Logger, apperr.Validation("winnerUserId is required"))
			return
		}
		fc, err = env.Ledger.Complete(ctx, userID, challengeID, uint(winnerID))
	default:
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": "unknown action"})
		return
	}
	if err != nil {
		respondError(c, env.Logger, err)
		return
	}
	respondChallenge(c, env, http.StatusOK, fc)
}
