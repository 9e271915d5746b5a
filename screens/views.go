package screens

import (
	"fmt"
	"time"

	"trophyserver/models"

	"gorm.io/gorm"
)

const dateLayout = "2006-01-02"

// FriendshipView は自分から見たフレンド関係
type FriendshipView struct {
	ID             uint                    `json:"id"`
	FriendID       uint                    `json:"friendId"`
	FriendUsername string                  `json:"friendUsername"`
	Status         models.FriendshipStatus `json:"status"`
	Outgoing       bool                    `json:"outgoing"` // 自分が申請した場合 true
	RequestedAt    time.Time               `json:"requestedAt"`
	RespondedAt    *time.Time              `json:"respondedAt"`
}

// ChallengeView はチャレンジのレスポンス
type ChallengeView struct {
	ID                    uint                   `json:"id"`
	ChallengerID          uint                   `json:"challengerId"`
	ChallengerUsername    string                 `json:"challengerUsername"`
	OpponentID            uint                   `json:"opponentId"`
	OpponentUsername      string                 `json:"opponentUsername"`
	GoalList              string                 `json:"goalList"`
	StartDate             *string                `json:"startDate"`
	EndDate               *string                `json:"endDate"`
	TrophiesStake         int                    `json:"trophiesStake"`
	Status                models.ChallengeStatus `json:"status"`
	Escrowed              bool                   `json:"escrowed"`
	WinnerID              *uint                  `json:"winnerId"`
	WinnerUsername        *string                `json:"winnerUsername"`
	CompletionRequestedBy *uint                  `json:"completionRequestedBy"`
	CompletionRequestedAt *time.Time             `json:"completionRequestedAt"`
	CompletionConfirmedBy *uint                  `json:"completionConfirmedBy"`
	CompletionConfirmedAt *time.Time             `json:"completionConfirmedAt"`
	CreatedAt             time.Time              `json:"createdAt"`
	UpdatedAt             time.Time              `json:"updatedAt"`
}

// usernames は ids のユーザー名をまとめて取得します。
func usernames(db *gorm.DB, ids []uint) (map[uint]string, error) {
	out := make(map[uint]string, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	var users []models.User
	if err := db.Select("id", "username").Where("id IN ?", ids).Find(&users).Error; err != nil {
		return nil, fmt.Errorf("load usernames: %w", err)
	}
	for _, u := range users {
		out[u.ID] = u.Username
	}
	return out, nil
}

func friendshipViews(db *gorm.DB, me uint, rows []models.Friendship) ([]FriendshipView, error) {
	ids := make([]uint, 0, len(rows))
	for i := range rows {
		ids = append(ids, rows[i].Other(me))
	}
	names, err := usernames(db, ids)
	if err != nil {
		return nil, err
	}

	views := make([]FriendshipView, 0, len(rows))
	for i := range rows {
		f := &rows[i]
		friendID := f.Other(me)
		views = append(views, FriendshipView{
			ID:             f.ID,
			FriendID:       friendID,
			FriendUsername: names[friendID],
			Status:         f.Status,
			Outgoing:       f.RequestedBy == me,
			RequestedAt:    f.RequestedAt,
			RespondedAt:    f.RespondedAt,
		})
	}
	return views, nil
}

func formatDate(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.Format(dateLayout)
	return &s
}

func challengeViews(db *gorm.DB, rows []models.FriendChallenge) ([]ChallengeView, error) {
	ids := make([]uint, 0, 2*len(rows))
	for i := range rows {
		ids = append(ids, rows[i].ChallengerID, rows[i].OpponentID)
	}
	names, err := usernames(db, ids)
	if err != nil {
		return nil, err
	}

	views := make([]ChallengeView, 0, len(rows))
	for i := range rows {
		fc := &rows[i]
		v := ChallengeView{
			ID:                    fc.ID,
			ChallengerID:          fc.ChallengerID,
			ChallengerUsername:    names[fc.ChallengerID],
			OpponentID:            fc.OpponentID,
			OpponentUsername:      names[fc.OpponentID],
			GoalList:              fc.GoalList,
			StartDate:             formatDate(fc.StartDate),
			EndDate:               formatDate(fc.EndDate),
			TrophiesStake:         fc.TrophiesStake,
			Status:                fc.Status,
			Escrowed:              fc.Escrowed,
			WinnerID:              fc.WinnerID,
			CompletionRequestedBy: fc.CompletionRequestedBy,
			CompletionRequestedAt: fc.CompletionRequestedAt,
			CompletionConfirmedBy: fc.CompletionConfirmedBy,
			CompletionConfirmedAt: fc.CompletionConfirmedAt,
			CreatedAt:             fc.CreatedAt,
			UpdatedAt:             fc.UpdatedAt,
		}
		if fc.WinnerID != nil {
			name := names[*fc.WinnerID]
			v.WinnerUsername = &name
		}
		views = append(views, v)
	}
	return views, nil
}

func challengeView(db *gorm.DB, fc *models.FriendChallenge) (*ChallengeView, error) {
	views, err := challengeViews(db, []models.FriendChallenge{*fc})
	if err != nil {
		return nil, err
	}
	return &views[0], nil
}
