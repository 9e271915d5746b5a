package models

import (
	"time"
)

// ChallengeStatus はフレンドチャレンジの状態
type ChallengeStatus string

const (
	ChallengeProposed            ChallengeStatus = "proposed"
	ChallengeAccepted            ChallengeStatus = "accepted"
	ChallengeDeclined            ChallengeStatus = "declined"
	ChallengeActive              ChallengeStatus = "active"
	ChallengeCompletionRequested ChallengeStatus = "completion_requested"
	ChallengeCompleted           ChallengeStatus = "completed"
	ChallengeExpired             ChallengeStatus = "expired"
)

// IsTerminal は終端状態（COMPLETED, DECLINED, EXPIRED）かどうか
func (s ChallengeStatus) IsTerminal() bool {
	switch s {
	case ChallengeCompleted, ChallengeDeclined, ChallengeExpired:
		return true
	}
	return false
}

// FriendChallenge はフレンド同士のトロフィーを賭けたチャレンジ
type FriendChallenge struct {
	ID            uint            `gorm:"primaryKey"`
	ChallengerID  uint            `gorm:"not null;index:idx_challenger_status,priority:1"`
	OpponentID    uint            `gorm:"not null;index:idx_opponent_status,priority:1"`
	GoalList      string          `gorm:"type:text;not null"`
	StartDate     *time.Time      `gorm:"type:date"`
	EndDate       *time.Time      `gorm:"type:date"`
	TrophiesStake int             `gorm:"not null;default:0;check:chk_friend_challenges_stake_non_negative,trophies_stake >= 0"`
	Status        ChallengeStatus `gorm:"type:varchar(24);not null;index:idx_challenger_status,priority:2;index:idx_opponent_status,priority:2"`
	// 完了申請前の状態（ACCEPTED または ACTIVE）。申請が却下されたときにここへ戻す
	ResumeStatus ChallengeStatus `gorm:"type:varchar(24)"`
	// true の間は両者のステークが引き落とし済みで、プールが未払い
	Escrowed bool `gorm:"not null"`
	WinnerID *uint

	CompletionRequestedBy *uint
	CompletionRequestedAt *time.Time
	CompletionConfirmedBy *uint
	CompletionConfirmedAt *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// IsParticipant は userID が挑戦者または対戦相手かどうか
func (fc *FriendChallenge) IsParticipant(userID uint) bool {
	return fc.ChallengerID == userID || fc.OpponentID == userID
}

// OtherParticipant は userID から見た相手のID
func (fc *FriendChallenge) OtherParticipant(userID uint) uint {
	if fc.ChallengerID == userID {
		return fc.OpponentID
	}
	return fc.ChallengerID
}
