// Package migrations はテーブル作成と補助インデックスの作成を行います。
package migrations

import (
	"fmt"

	"trophyserver/models"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// 部分インデックス等、タグで表現できないDDL。postgres と sqlite の両方で有効な構文のみ使う
var indexStatements = []string{
	// エスクロー監査で escrowed=true の行だけを走査する
	"CREATE INDEX IF NOT EXISTS idx_friend_challenges_escrowed ON friend_challenges (id) WHERE escrowed",
	// 受信中のフレンド申請一覧用
	"CREATE INDEX IF NOT EXISTS idx_friendships_pending ON friendships (user_low_id, user_high_id) WHERE status = 'pending'",
}

// Migrate はすべてのモデルのマイグレーションを実行します。
func Migrate(db *gorm.DB, logger *zap.Logger) error {
	if err := db.AutoMigrate(&models.User{}, &models.Friendship{}, &models.FriendChallenge{}); err != nil {
		logger.Error("Error migrating tables", zap.Error(err))
		return fmt.Errorf("auto migrate: %w", err)
	}

	for _, stmt := range indexStatements {
		if err := db.Exec(stmt).Error; err != nil {
			logger.Error("Error creating index", zap.String("statement", stmt), zap.Error(err))
			return fmt.Errorf("create index: %w", err)
		}
	}

	logger.Info("users, friendships and friend_challenges tables migrated")
	return nil
}
