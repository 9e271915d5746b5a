// Package dbtest はテスト用のインメモリ SQLite データベースを用意します。
package dbtest

import (
	"fmt"
	"strings"
	"sync/atomic"
	"testing"

	"trophyserver/migrations"
	"trophyserver/models"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var seq atomic.Int64

// Open はテストごとに独立したマイグレーション済みのDBを返します。
// 接続を1本に固定するため、並行トランザクションは直列に実行される
func Open(t *testing.T) *gorm.DB {
	t.Helper()

	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:%s_%d?mode=memory&cache=shared&_foreign_keys=on", name, seq.Add(1))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	require.NoError(t, migrations.Migrate(db, zaptest.NewLogger(t)))
	return db
}

// CreateUser は指定の残高を持つユーザーを作成します。
func CreateUser(t *testing.T, db *gorm.DB, username string, trophies int) *models.User {
	t.Helper()
	user := &models.User{Username: username, Trophies: trophies}
	require.NoError(t, db.Create(user).Error)
	return user
}

// Trophies はユーザーの現在の残高をDBから読み直します。
func Trophies(t *testing.T, db *gorm.DB, userID uint) int {
	t.Helper()
	var user models.User
	require.NoError(t, db.First(&user, userID).Error)
	return user.Trophies
}
