// Package challenge はフレンドチャレンジの状態遷移とトロフィーのエスクローを管理します。
//
// 状態を変更する操作はすべて1トランザクションで実行し、
// チャレンジ行 → 参加者2人のユーザー行（ID昇順）の順にロックする。
package challenge

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"trophyserver/internal/apperr"
	"trophyserver/internal/trophy"
	"trophyserver/models"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// FriendChecker はチャレンジ作成前のフレンド確認に使う
type FriendChecker interface {
	AreFriends(tx *gorm.DB, a, b uint) (bool, error)
}

// Ledger はチャレンジの唯一の書き込み口で、エスクローに伴う残高変更もここだけが行う
type Ledger struct {
	db       *gorm.DB
	accounts *trophy.Account
	friends  FriendChecker
	logger   *zap.Logger
	now      func() time.Time
}

func NewLedger(db *gorm.DB, accounts *trophy.Account, friends FriendChecker, logger *zap.Logger) *Ledger {
	return &Ledger{db: db, accounts: accounts, friends: friends, logger: logger, now: time.Now}
}

// ProposeInput はチャレンジ作成時の入力
type ProposeInput struct {
	OpponentID    uint
	GoalList      string
	StartDate     *time.Time
	EndDate       *time.Time
	TrophiesStake int
}

func (in ProposeInput) validate(challengerID uint) error {
	if in.OpponentID == 0 {
		return apperr.Validation("opponent required")
	}
	if challengerID == in.OpponentID {
		return apperr.Validation("cannot challenge yourself")
	}
	if strings.TrimSpace(in.GoalList) == "" {
		return apperr.Validation("goal list required")
	}
	if in.TrophiesStake < 0 {
		return apperr.Validation("trophies stake must not be negative")
	}
	if in.StartDate != nil && in.EndDate != nil && in.EndDate.Before(*in.StartDate) {
		return apperr.Validation("end date is before start date")
	}
	return nil
}

// Propose は challengerID から相手へのチャレンジを PROPOSED で作成します。
// 相手とACCEPTEDのフレンドであること、挑戦者の残高がステーク以上であることが条件
func (l *Ledger) Propose(ctx context.Context, challengerID uint, in ProposeInput) (*models.FriendChallenge, error) {
	if err := in.validate(challengerID); err != nil {
		return nil, err
	}

	var fc *models.FriendChallenge
	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		users, err := l.accounts.LockUsers(tx, challengerID, in.OpponentID)
		if err != nil {
			return err
		}
		ok, err := l.friends.AreFriends(tx, challengerID, in.OpponentID)
		if err != nil {
			return err
		}
		if !ok {
			return apperr.Authorization("challenges are only allowed between friends")
		}
		if balance := users[challengerID].Trophies; balance < in.TrophiesStake {
			return apperr.InsufficientFunds("challenger has %d trophies, stake is %d", balance, in.TrophiesStake)
		}

		fc = &models.FriendChallenge{
			ChallengerID:  challengerID,
			OpponentID:    in.OpponentID,
			GoalList:      strings.TrimSpace(in.GoalList),
			StartDate:     in.StartDate,
			EndDate:       in.EndDate,
			TrophiesStake: in.TrophiesStake,
			Status:        models.ChallengeProposed,
		}
		if err := tx.Create(fc).Error; err != nil {
			return fmt.Errorf("create challenge: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	l.logger.Info("Challenge proposed",
		zap.Uint("challengeID", fc.ID),
		zap.Uint("challengerID", challengerID),
		zap.Uint("opponentID", in.OpponentID),
		zap.Int("stake", in.TrophiesStake))
	return fc, nil
}

// Accept は相手（opponent）がチャレンジを受けます。
// 双方の残高をこの時点で再確認し、両者からステークを引き落としてエスクローする
func (l *Ledger) Accept(ctx context.Context, callerID, challengeID uint) (*models.FriendChallenge, error) {
	return l.transition(ctx, callerID, challengeID, opAccept, func(tx *gorm.DB, fc *models.FriendChallenge) error {
		users, err := l.accounts.LockUsers(tx, fc.ChallengerID, fc.OpponentID)
		if err != nil {
			return err
		}
		for _, id := range []uint{fc.ChallengerID, fc.OpponentID} {
			if balance := users[id].Trophies; balance < fc.TrophiesStake {
				return apperr.InsufficientFunds("user %d has %d trophies, stake is %d", id, balance, fc.TrophiesStake)
			}
		}
		for _, id := range []uint{fc.ChallengerID, fc.OpponentID} {
			if _, err := l.accounts.Debit(tx, users[id], fc.TrophiesStake); err != nil {
				return err
			}
		}
		fc.Escrowed = true
		return nil
	})
}

// Decline は相手がチャレンジを断ります。
func (l *Ledger) Decline(ctx context.Context, callerID, challengeID uint) (*models.FriendChallenge, error) {
	return l.transition(ctx, callerID, challengeID, opDecline, nil)
}

// RequestCompletion は参加者のどちらかが完了を申請します。
func (l *Ledger) RequestCompletion(ctx context.Context, callerID, challengeID uint) (*models.FriendChallenge, error) {
	return l.transition(ctx, callerID, challengeID, opRequestCompletion, func(_ *gorm.DB, fc *models.FriendChallenge) error {
		now := l.now()
		fc.ResumeStatus = fc.Status
		fc.CompletionRequestedBy = &callerID
		fc.CompletionRequestedAt = &now
		return nil
	})
}

// ConfirmCompletion は申請者ではない側が完了を承認します。承認者が勝者になる。
// エスクロー中なら 2×ステークを勝者に払い出し、エスクローを解除する
func (l *Ledger) ConfirmCompletion(ctx context.Context, callerID, challengeID uint) (*models.FriendChallenge, error) {
	return l.transition(ctx, callerID, challengeID, opConfirmCompletion, func(tx *gorm.DB, fc *models.FriendChallenge) error {
		if err := requireOtherThanRequester(fc, callerID); err != nil {
			return err
		}
		if fc.Escrowed {
			users, err := l.accounts.LockUsers(tx, fc.ChallengerID, fc.OpponentID)
			if err != nil {
				return err
			}
			if _, err := l.accounts.Credit(tx, users[callerID], 2*fc.TrophiesStake); err != nil {
				return err
			}
			fc.Escrowed = false
		}
		now := l.now()
		fc.WinnerID = &callerID
		fc.CompletionConfirmedBy = &callerID
		fc.CompletionConfirmedAt = &now
		fc.ResumeStatus = ""
		return nil
	})
}

// RejectCompletion は申請者ではない側が完了申請を却下し、申請前の状態に戻します。
func (l *Ledger) RejectCompletion(ctx context.Context, callerID, challengeID uint) (*models.FriendChallenge, error) {
	return l.transition(ctx, callerID, challengeID, opRejectCompletion, func(_ *gorm.DB, fc *models.FriendChallenge) error {
		if err := requireOtherThanRequester(fc, callerID); err != nil {
			return err
		}
		fc.CompletionRequestedBy = nil
		fc.CompletionRequestedAt = nil
		return nil
	})
}

// Complete はエスクローを経ていないチャレンジの勝者を直接確定し、
// 敗者から勝者へステーク分を移します。エスクロー中のチャレンジには使えない
func (l *Ledger) Complete(ctx context.Context, callerID, challengeID, winnerID uint) (*models.FriendChallenge, error) {
	return l.transition(ctx, callerID, challengeID, opComplete, func(tx *gorm.DB, fc *models.FriendChallenge) error {
		if fc.Escrowed {
			return apperr.StateConflict("escrowed challenge must be settled by completion request and confirmation")
		}
		if !fc.IsParticipant(winnerID) {
			return apperr.Validation("winner must be a participant")
		}
		loserID := fc.OtherParticipant(winnerID)
		users, err := l.accounts.LockUsers(tx, fc.ChallengerID, fc.OpponentID)
		if err != nil {
			return err
		}
		if _, err := l.accounts.Debit(tx, users[loserID], fc.TrophiesStake); err != nil {
			return err
		}
		if _, err := l.accounts.Credit(tx, users[winnerID], fc.TrophiesStake); err != nil {
			return err
		}
		fc.WinnerID = &winnerID
		fc.ResumeStatus = ""
		return nil
	})
}

// transition はチャレンジ行をロックし、遷移表に従って権限と状態を確認してから apply を実行します。
// apply がエラーを返した場合はトランザクションごと巻き戻る
func (l *Ledger) transition(ctx context.Context, callerID, challengeID uint, op operation,
	apply func(tx *gorm.DB, fc *models.FriendChallenge) error) (*models.FriendChallenge, error) {
	rule, ok := transitions[op]
	if !ok {
		return nil, fmt.Errorf("unknown challenge operation %q", op)
	}

	var (
		fc   *models.FriendChallenge
		from models.ChallengeStatus
	)
	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		fc, err = lockChallenge(tx, challengeID)
		if err != nil {
			return err
		}
		if err := rule.authorize(fc, callerID); err != nil {
			return err
		}
		if !rule.allows(fc.Status) {
			return apperr.StateConflict("cannot %s a challenge that is %s", op, fc.Status)
		}

		from = fc.Status
		if apply != nil {
			if err := apply(tx, fc); err != nil {
				return err
			}
		}
		fc.Status = rule.target(fc)
		if op == opRejectCompletion {
			fc.ResumeStatus = ""
		}
		if err := tx.Save(fc).Error; err != nil {
			return fmt.Errorf("update challenge %d: %w", fc.ID, err)
		}
		return nil
	})
	if err != nil {
		if apperr.KindOf(err) == apperr.KindUnknown {
			l.logger.Error("Challenge transition failed",
				zap.String("operation", string(op)),
				zap.Uint("challengeID", challengeID),
				zap.Error(err))
		}
		return nil, err
	}

	l.logger.Info("Challenge transition",
		zap.String("operation", string(op)),
		zap.Uint("challengeID", fc.ID),
		zap.Uint("callerID", callerID),
		zap.String("from", string(from)),
		zap.String("to", string(fc.Status)))
	return fc, nil
}

func lockChallenge(tx *gorm.DB, challengeID uint) (*models.FriendChallenge, error) {
	var fc models.FriendChallenge
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&fc, challengeID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.NotFound("challenge")
	}
	if err != nil {
		return nil, fmt.Errorf("load challenge %d: %w", challengeID, err)
	}
	return &fc, nil
}

func requireOtherThanRequester(fc *models.FriendChallenge, callerID uint) error {
	if fc.CompletionRequestedBy == nil {
		return apperr.StateConflict("no completion request recorded")
	}
	if *fc.CompletionRequestedBy == callerID {
		return apperr.Authorization("the completion requester cannot answer their own request")
	}
	return nil
}

// Get は参加者のみがチャレンジを参照できます。
func (l *Ledger) Get(ctx context.Context, callerID, challengeID uint) (*models.FriendChallenge, error) {
	var fc models.FriendChallenge
	err := l.db.WithContext(ctx).First(&fc, challengeID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.NotFound("challenge")
	}
	if err != nil {
		return nil, fmt.Errorf("load challenge %d: %w", challengeID, err)
	}
	if !fc.IsParticipant(callerID) {
		return nil, apperr.Authorization("not a participant of this challenge")
	}
	return &fc, nil
}

// ListProposedFor は userID が受け取った未回答のチャレンジを返します。
func (l *Ledger) ListProposedFor(ctx context.Context, userID uint) ([]models.FriendChallenge, error) {
	var out []models.FriendChallenge
	err := l.db.WithContext(ctx).
		Where("opponent_id = ? AND status = ?", userID, models.ChallengeProposed).
		Order("created_at DESC").Order("id DESC").
		Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("list proposed challenges: %w", err)
	}
	return out, nil
}

// ListMine は userID が参加している進行中のチャレンジを新しい順に返します。
func (l *Ledger) ListMine(ctx context.Context, userID uint) ([]models.FriendChallenge, error) {
	var out []models.FriendChallenge
	err := l.db.WithContext(ctx).
		Where("(challenger_id = ? OR opponent_id = ?) AND status IN ?", userID, userID, openStatuses).
		Order("created_at DESC").Order("id DESC").
		Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("list challenges: %w", err)
	}
	return out, nil
}

var openStatuses = []models.ChallengeStatus{
	models.ChallengeProposed,
	models.ChallengeAccepted,
	models.ChallengeActive,
	models.ChallengeCompletionRequested,
}
