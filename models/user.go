package models

import (
	"gorm.io/gorm"
)

// User モデルの定義
// トロフィー残高は他のサブシステム（勝利記録など）からも更新されるため、
// 直接フィールドを書き換えず trophy.Account の Credit/Debit を経由すること
type User struct {
	gorm.Model
	Username string `gorm:"size:50;uniqueIndex;not null"`
	Trophies int    `gorm:"not null;default:0;check:chk_users_trophies_non_negative,trophies >= 0"`
}
