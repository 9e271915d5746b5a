package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"trophyserver/models"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// DefaultConfig は config.json も環境変数もない場合の設定
func DefaultConfig() models.Config {
	return models.Config{
		DBDriver:            "postgres",
		DBHost:              "localhost",
		DBSSLMode:           "disable",
		SQLitePath:          "trophyserver.db",
		RedisAddr:           "localhost:6379",
		TokenTTLHours:       72,
		ListenAddr:          ":8080",
		EscrowAuditSchedule: "@daily",
	}
}

// LoadConfig は config.json を読み込みます。ファイルが存在しない場合はデフォルト値を返す
func LoadConfig(filename string) (models.Config, error) {
	config := DefaultConfig()
	configFile, err := os.Open(filename)
	if errors.Is(err, fs.ErrNotExist) {
		return config, nil
	}
	if err != nil {
		return config, err
	}
	defer configFile.Close()

	jsonParser := json.NewDecoder(configFile)
	if err := jsonParser.Decode(&config); err != nil {
		return config, fmt.Errorf("decode %s: %w", filename, err)
	}
	return config, nil
}

// ApplyEnv は環境変数で設定を上書きします。
func ApplyEnv(config *models.Config, lookup func(string) (string, bool)) error {
	strs := map[string]*string{
		"DB_DRIVER":      &config.DBDriver,
		"DB_HOST":        &config.DBHost,
		"DB_USER":        &config.DBUser,
		"DB_PASSWORD":    &config.DBPassword,
		"DB_NAME":        &config.DBName,
		"DB_SSLMODE":     &config.DBSSLMode,
		"SQLITE_PATH":    &config.SQLitePath,
		"REDIS_ADDR":     &config.RedisAddr,
		"REDIS_PASSWORD": &config.RedisPassword,
		"JWT_SECRET":     &config.JWTSecret,
		"LISTEN_ADDR":    &config.ListenAddr,
	}
	for key, dst := range strs {
		if v, ok := lookup(key); ok {
			*dst = v
		}
	}

	if v, ok := lookup("REDIS_DB"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("REDIS_DB: %w", err)
		}
		config.RedisDB = n
	}
	if v, ok := lookup("DEV_MODE"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("DEV_MODE: %w", err)
		}
		config.DevMode = b
	}
	return nil
}

// Load は CONFIG_PATH（未設定なら config.json）を読み込み、環境変数を適用します。
func Load() (models.Config, error) {
	path := os.Getenv("CONFIG_PATH")
	if path == "" {
		path = "config.json"
	}
	config, err := LoadConfig(path)
	if err != nil {
		return config, err
	}
	if err := ApplyEnv(&config, os.LookupEnv); err != nil {
		return config, err
	}
	if config.JWTSecret == "" {
		return config, errors.New("jwt_secret is not configured")
	}
	return config, nil
}

func gormConfig() *gorm.Config {
	// 一意制約違反を gorm.ErrDuplicatedKey として扱うため TranslateError を有効にする
	return &gorm.Config{TranslateError: true}
}

// Open は設定されたドライバでデータベースに接続します。
func Open(config models.Config, logger *zap.Logger) (*gorm.DB, error) {
	switch strings.ToLower(config.DBDriver) {
	case "", "postgres":
		return InitPostgreSQL(config, logger)
	case "sqlite":
		return InitSQLite(config, logger)
	default:
		return nil, fmt.Errorf("unsupported db_driver %q", config.DBDriver)
	}
}

func InitPostgreSQL(config models.Config, logger *zap.Logger) (*gorm.DB, error) {
	dsn := fmt.Sprintf("host=%s user=%s dbname=%s password=%s sslmode=%s",
		config.DBHost, config.DBUser, config.DBName, config.DBPassword, config.DBSSLMode)

	const maxRetries = 3
	const retryInterval = 5 * time.Second
	var err error
	for i := 0; i <= maxRetries; i++ {
		var gormDB *gorm.DB
		gormDB, err = gorm.Open(postgres.Open(dsn), gormConfig())
		if err == nil {
			logger.Info("Connected to PostgreSQL", zap.String("host", config.DBHost), zap.String("db", config.DBName))
			return gormDB, nil
		}
		logger.Error("データベース接続のリトライ", zap.Int("retry", i), zap.Error(err))
		if i < maxRetries {
			time.Sleep(retryInterval)
		}
	}
	return nil, fmt.Errorf("データベース接続に失敗しました: %w", err)
}

// InitSQLite はローカル開発用に SQLite ファイルを開きます。
func InitSQLite(config models.Config, logger *zap.Logger) (*gorm.DB, error) {
	dsn := config.SQLitePath + "?_foreign_keys=on&_busy_timeout=5000"
	gormDB, err := gorm.Open(sqlite.Open(dsn), gormConfig())
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", config.SQLitePath, err)
	}
	sqlDB, err := gormDB.DB()
	if err != nil {
		return nil, err
	}
	// SQLite は行ロックを持たないため、書き込みは1接続で直列化する
	sqlDB.SetMaxOpenConns(1)
	logger.Info("Opened SQLite database", zap.String("path", config.SQLitePath))
	return gormDB, nil
}

func InitRedis(config models.Config, logger *zap.Logger) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     config.RedisAddr,
		Password: config.RedisPassword,
		DB:       config.RedisDB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := rdb.Ping(ctx).Result(); err != nil {
		logger.Error("Failed to connect to Redis", zap.Error(err))
		return nil, err
	}

	logger.Info("Connected to Redis", zap.String("addr", config.RedisAddr))
	return rdb, nil
}
