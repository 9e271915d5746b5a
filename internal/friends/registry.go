// Package friends はフレンド関係（申請・承認・拒否・取消・解除）を管理します。
//
// 2ユーザー間の関係は (小さいID, 大きいID) に正規化した1行だけで保持し、
// 一意性はDBの uq_friend_pair インデックスで保証する。
package friends

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"trophyserver/internal/apperr"
	"trophyserver/models"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Registry はフレンド関係の書き込みと参照を担当します。
type Registry struct {
	db     *gorm.DB
	logger *zap.Logger
	now    func() time.Time
}

func NewRegistry(db *gorm.DB, logger *zap.Logger) *Registry {
	return &Registry{db: db, logger: logger, now: time.Now}
}

// CanonicalPair は2つのIDを小さい順に並べて返します。
func CanonicalPair(a, b uint) (low, high uint) {
	if a < b {
		return a, b
	}
	return b, a
}

// SendRequest は requesterID から targetID へのフレンド申請を行います。
// DECLINED / CANCELED の既存行があればPENDINGとして再利用する。
// 初回挿入が同時実行で一意制約に衝突した場合は、一度だけ読み直して同じ判定をやり直す
func (r *Registry) SendRequest(ctx context.Context, requesterID, targetID uint) (*models.Friendship, error) {
	if requesterID == targetID {
		return nil, apperr.Validation("cannot friend yourself")
	}

	var result *models.Friendship
	attempt := func(tx *gorm.DB) error {
		if err := requireUsers(tx, requesterID, targetID); err != nil {
			return err
		}
		f, err := r.openRequest(tx, requesterID, targetID)
		if err != nil {
			return err
		}
		result = f
		return nil
	}

	err := r.db.WithContext(ctx).Transaction(attempt)
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		r.logger.Info("Friend pair inserted concurrently, retrying as reopen",
			zap.Uint("requesterID", requesterID), zap.Uint("targetID", targetID))
		err = r.db.WithContext(ctx).Transaction(attempt)
	}
	if err != nil {
		r.logFailure("send request", err)
		return nil, err
	}

	r.logger.Info("Friend request sent",
		zap.Uint("friendshipID", result.ID),
		zap.Uint("requesterID", requesterID),
		zap.Uint("targetID", targetID))
	return result, nil
}

// SendRequestByUsername はユーザー名（大文字小文字を区別しない）で相手を指定して申請します。
func (r *Registry) SendRequestByUsername(ctx context.Context, requesterID uint, username string) (*models.Friendship, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return nil, apperr.Validation("username required")
	}

	var target models.User
	err := r.db.WithContext(ctx).Where("LOWER(username) = ?", strings.ToLower(username)).First(&target).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.NotFound("target user")
	}
	if err != nil {
		return nil, fmt.Errorf("find user by username: %w", err)
	}
	return r.SendRequest(ctx, requesterID, target.ID)
}

// openRequest は既存行の状態に応じて申請を作成または再オープンします。
func (r *Registry) openRequest(tx *gorm.DB, requesterID, targetID uint) (*models.Friendship, error) {
	low, high := CanonicalPair(requesterID, targetID)
	now := r.now()

	existing, err := findPair(tx, low, high)
	if err != nil && !errors.Is(err, apperr.ErrNotFound) {
		return nil, err
	}
	if existing == nil {
		f := &models.Friendship{
			UserLowID:   low,
			UserHighID:  high,
			Status:      models.FriendshipPending,
			RequestedBy: requesterID,
			RequestedAt: now,
			UpdatedAt:   now,
		}
		if err := tx.Create(f).Error; err != nil {
			return nil, fmt.Errorf("create friendship: %w", err)
		}
		return f, nil
	}

	switch {
	case existing.Status == models.FriendshipAccepted:
		return nil, apperr.StateConflict("already friends")
	case existing.Status == models.FriendshipPending:
		return nil, apperr.StateConflict("request already pending")
	case !existing.Status.Reopenable():
		return nil, apperr.StateConflict("cannot send request while %s", existing.Status)
	}

	existing.Status = models.FriendshipPending
	existing.RequestedBy = requesterID
	existing.RespondedBy = nil
	existing.RespondedAt = nil
	existing.RequestedAt = now
	existing.UpdatedAt = now
	if err := tx.Save(existing).Error; err != nil {
		return nil, fmt.Errorf("reopen friendship %d: %w", existing.ID, err)
	}
	return existing, nil
}

// Accept は meID 宛ての申請を承認します。申請者本人は承認できない
func (r *Registry) Accept(ctx context.Context, meID, otherID uint) (*models.Friendship, error) {
	return r.respond(ctx, meID, otherID, models.FriendshipAccepted)
}

// Decline は meID 宛ての申請を拒否します。申請者本人は拒否できない
func (r *Registry) Decline(ctx context.Context, meID, otherID uint) (*models.Friendship, error) {
	return r.respond(ctx, meID, otherID, models.FriendshipDeclined)
}

// Cancel は meID が送った申請を取り消します。
func (r *Registry) Cancel(ctx context.Context, meID, otherID uint) (*models.Friendship, error) {
	return r.respond(ctx, meID, otherID, models.FriendshipCanceled)
}

func (r *Registry) respond(ctx context.Context, meID, otherID uint, to models.FriendshipStatus) (*models.Friendship, error) {
	if meID == otherID {
		return nil, apperr.Validation("cannot respond to yourself")
	}

	var result *models.Friendship
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := requireUsers(tx, meID, otherID); err != nil {
			return err
		}
		low, high := CanonicalPair(meID, otherID)
		f, err := findPair(tx, low, high)
		if err != nil {
			return err
		}
		if f.Status != models.FriendshipPending {
			return apperr.StateConflict("friend request is %s, not pending", f.Status)
		}

		requester := f.RequestedBy == meID
		if to == models.FriendshipCanceled && !requester {
			return apperr.Authorization("only the requester can cancel")
		}
		if to != models.FriendshipCanceled && requester {
			return apperr.Authorization("cannot respond to your own request")
		}

		now := r.now()
		f.Status = to
		f.RespondedBy = &meID
		f.RespondedAt = &now
		f.UpdatedAt = now
		if err := tx.Save(f).Error; err != nil {
			return fmt.Errorf("update friendship %d: %w", f.ID, err)
		}
		result = f
		return nil
	})
	if err != nil {
		r.logFailure(string(to), err)
		return nil, err
	}

	r.logger.Info("Friend request answered",
		zap.Uint("friendshipID", result.ID),
		zap.Uint("userID", meID),
		zap.String("status", string(to)))
	return result, nil
}

// Remove はフレンド関係を解除し、行を物理削除します。
func (r *Registry) Remove(ctx context.Context, meID, otherID uint) error {
	if meID == otherID {
		return apperr.Validation("cannot unfriend yourself")
	}

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		low, high := CanonicalPair(meID, otherID)
		f, err := findPair(tx, low, high)
		if err != nil {
			return err
		}
		if f.Status != models.FriendshipAccepted {
			return apperr.StateConflict("not friends")
		}
		if err := tx.Delete(f).Error; err != nil {
			return fmt.Errorf("delete friendship %d: %w", f.ID, err)
		}
		return nil
	})
	if err != nil {
		r.logFailure("remove", err)
		return err
	}

	r.logger.Info("Friendship removed", zap.Uint("userID", meID), zap.Uint("otherID", otherID))
	return nil
}

// ListAccepted は userID のフレンド一覧を返します。
func (r *Registry) ListAccepted(ctx context.Context, userID uint) ([]models.Friendship, error) {
	var out []models.Friendship
	err := r.db.WithContext(ctx).
		Where("(user_low_id = ? OR user_high_id = ?) AND status = ?", userID, userID, models.FriendshipAccepted).
		Order("updated_at DESC").
		Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("list friends: %w", err)
	}
	return out, nil
}

// ListIncomingPending は userID 宛てで未回答の申請を返します。
func (r *Registry) ListIncomingPending(ctx context.Context, userID uint) ([]models.Friendship, error) {
	var out []models.Friendship
	err := r.db.WithContext(ctx).
		Where("(user_low_id = ? OR user_high_id = ?) AND status = ? AND requested_by <> ?",
			userID, userID, models.FriendshipPending, userID).
		Order("requested_at DESC").
		Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("list incoming requests: %w", err)
	}
	return out, nil
}

// ListOutgoingPending は userID が送って未回答の申請を返します。
func (r *Registry) ListOutgoingPending(ctx context.Context, userID uint) ([]models.Friendship, error) {
	var out []models.Friendship
	err := r.db.WithContext(ctx).
		Where("status = ? AND requested_by = ?", models.FriendshipPending, userID).
		Order("requested_at DESC").
		Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("list outgoing requests: %w", err)
	}
	return out, nil
}

// AreFriends は tx 内で2ユーザーがACCEPTEDの関係にあるかを確認します。
// チャレンジ台帳が自身のトランザクションから呼び出す
func (r *Registry) AreFriends(tx *gorm.DB, a, b uint) (bool, error) {
	if a == b {
		return false, nil
	}
	low, high := CanonicalPair(a, b)
	var count int64
	err := tx.Model(&models.Friendship{}).
		Where("user_low_id = ? AND user_high_id = ? AND status = ?", low, high, models.FriendshipAccepted).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("check friendship: %w", err)
	}
	return count > 0, nil
}

// logFailure はドメインエラー以外（DB障害など）だけを Error で記録します。
func (r *Registry) logFailure(op string, err error) {
	if apperr.KindOf(err) == apperr.KindUnknown {
		r.logger.Error("Friendship operation failed", zap.String("operation", op), zap.Error(err))
	}
}

// findPair は正規化済みペアの行を FOR UPDATE で取得します。
func findPair(tx *gorm.DB, low, high uint) (*models.Friendship, error) {
	var f models.Friendship
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Where("user_low_id = ? AND user_high_id = ?", low, high).First(&f).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.NotFound("friend request")
	}
	if err != nil {
		return nil, fmt.Errorf("find friendship: %w", err)
	}
	return &f, nil
}

func requireUsers(tx *gorm.DB, ids ...uint) error {
	var count int64
	if err := tx.Model(&models.User{}).Where("id IN ?", ids).Count(&count).Error; err != nil {
		return fmt.Errorf("check users: %w", err)
	}
	if count != int64(len(ids)) {
		return apperr.NotFound("user")
	}
	return nil
}
