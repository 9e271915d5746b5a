package models

import (
	"errors"
	"time"

	"gorm.io/gorm"
)

// FriendshipStatus はフレンド関係の状態
type FriendshipStatus string

const (
	FriendshipPending  FriendshipStatus = "pending"
	FriendshipAccepted FriendshipStatus = "accepted"
	FriendshipDeclined FriendshipStatus = "declined"
	FriendshipCanceled FriendshipStatus = "canceled"
	FriendshipBlocked  FriendshipStatus = "blocked"
)

// Reopenable は再申請でPENDINGに戻せる状態かどうか
func (s FriendshipStatus) Reopenable() bool {
	return s == FriendshipDeclined || s == FriendshipCanceled
}

var ErrNonCanonicalPair = errors.New("friendship pair must be stored lower id first")

// Friendship は2ユーザー間の双方向の関係を1行で保持します。
// (UserLowID, UserHighID) は常に小さいIDが先の正規化済みペア。
// 削除は論理削除ではなく物理削除のため gorm.Model は使わない
type Friendship struct {
	ID          uint             `gorm:"primaryKey"`
	UserLowID   uint             `gorm:"not null;uniqueIndex:uq_friend_pair,priority:1;check:chk_friendships_canonical,user_low_id < user_high_id"`
	UserHighID  uint             `gorm:"not null;uniqueIndex:uq_friend_pair,priority:2;index"`
	Status      FriendshipStatus `gorm:"type:varchar(16);not null;index"`
	RequestedBy uint             `gorm:"not null"`
	RespondedBy *uint
	RequestedAt time.Time `gorm:"not null"`
	RespondedAt *time.Time
	UpdatedAt   time.Time
}

// BeforeSave で正規化されていないペアの書き込みを拒否
func (f *Friendship) BeforeSave(_ *gorm.DB) error {
	if f.UserLowID >= f.UserHighID {
		return ErrNonCanonicalPair
	}
	return nil
}

// IsMember は userID がこの関係の当事者かどうか
func (f *Friendship) IsMember(userID uint) bool {
	return f.UserLowID == userID || f.UserHighID == userID
}

// Other は userID から見た相手のID
func (f *Friendship) Other(userID uint) uint {
	if f.UserLowID == userID {
		return f.UserHighID
	}
	return f.UserLowID
}
