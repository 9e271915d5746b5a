// Package trophy はユーザーのトロフィー残高に対する加算・減算の基本操作を提供します。
//
// 残高は常に 0 以上。減算で 0 を下回る場合はエラーにせず 0 に丸める（clamp）。
// 残高が足りることを保証したい呼び出し元は、事前に Balance で確認すること。
// 丸めが実際に発生した場合は Warn ログを出す。
package trophy

import (
	"errors"
	"fmt"
	"sort"

	"trophyserver/internal/apperr"
	"trophyserver/models"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Account はトロフィー残高の操作口
type Account struct {
	logger *zap.Logger
}

func NewAccount(logger *zap.Logger) *Account {
	return &Account{logger: logger}
}

// Clamp は balance に delta を適用した結果を 0 で下限クリップして返します。
// clamped は要求された delta がそのまま適用できなかった場合に true
func Clamp(balance, delta int) (next int, clamped bool) {
	next = balance + delta
	if next < 0 {
		return 0, true
	}
	return next, false
}

// LockUsers は指定ユーザーの行を FOR UPDATE で取得します。
// デッドロックを避けるため常にID昇順でロックする
func (a *Account) LockUsers(tx *gorm.DB, ids ...uint) (map[uint]*models.User, error) {
	sorted := append([]uint(nil), ids...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	users := make(map[uint]*models.User, len(sorted))
	for _, id := range sorted {
		if _, ok := users[id]; ok {
			continue
		}
		var user models.User
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&user, id).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFound("user")
		}
		if err != nil {
			return nil, fmt.Errorf("lock user %d: %w", id, err)
		}
		users[id] = &user
	}
	return users, nil
}

// Balance は現在の残高を返します。
func (a *Account) Balance(tx *gorm.DB, userID uint) (int, error) {
	var user models.User
	err := tx.Select("id", "trophies").First(&user, userID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, apperr.NotFound("user")
	}
	if err != nil {
		return 0, fmt.Errorf("load balance of user %d: %w", userID, err)
	}
	return user.Trophies, nil
}

// Credit は amount を加算し、更新後の残高を返します。
func (a *Account) Credit(tx *gorm.DB, user *models.User, amount int) (int, error) {
	if amount < 0 {
		return user.Trophies, apperr.Validation("credit amount must not be negative")
	}
	return a.addTrophies(tx, user, amount)
}

// Debit は amount を減算し、更新後の残高を返します。0 未満にはならない
func (a *Account) Debit(tx *gorm.DB, user *models.User, amount int) (int, error) {
	if amount < 0 {
		return user.Trophies, apperr.Validation("debit amount must not be negative")
	}
	return a.addTrophies(tx, user, -amount)
}

func (a *Account) addTrophies(tx *gorm.DB, user *models.User, delta int) (int, error) {
	if delta == 0 {
		return user.Trophies, nil
	}
	next, clamped := Clamp(user.Trophies, delta)
	if clamped {
		a.logger.Warn("trophy balance clamped at zero",
			zap.Uint("userID", user.ID),
			zap.Int("balance", user.Trophies),
			zap.Int("requestedDelta", delta),
			zap.Int("appliedDelta", next-user.Trophies),
		)
	}
	if err := tx.Model(user).Update("trophies", next).Error; err != nil {
		return user.Trophies, fmt.Errorf("update trophies of user %d: %w", user.ID, err)
	}
	user.Trophies = next
	return next, nil
}
