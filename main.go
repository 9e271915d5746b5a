package main

import (
	"time"

	"go.uber.org/zap"

	"trophyserver/auth"               //JWTの発行・検証とログアウト時の失効
	"trophyserver/database"           //設定の読み込み、PostgreSQL(SQLite)とRedisの初期化
	"trophyserver/internal/challenge" //チャレンジ台帳とエスクロー
	"trophyserver/internal/friends"   //フレンド申請
	"trophyserver/internal/trophy"    //トロフィー残高の操作
	"trophyserver/migrations"         //テーブルとインデックスの作成
	"trophyserver/screens"            //HTTPリクエストの処理
	"trophyserver/utils"              //ロガーの初期化とCronジョブ(エスクロー監査)

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"gorm.io/gorm"
)

func main() {
	config, configErr := database.Load()

	logger, err := utils.InitLogger(config.DevMode) // ロガーの初期化
	if err != nil {
		panic(err) // 失敗した場合はプログラム停止
	}
	defer logger.Sync() // ロガーのクリーンアップ

	if configErr != nil {
		logger.Fatal("設定の読み込みに失敗しました", zap.Error(configErr))
	}

	// 非同期でデータベースとRedisの初期化
	var db *gorm.DB
	var rdb *redis.Client
	done := make(chan bool)

	go func() {
		var err error
		db, err = database.Open(config, logger)
		if err != nil {
			logger.Fatal("データベースの初期化に失敗しました", zap.Error(err))
		}
		done <- true
	}()

	go func() {
		var err error
		rdb, err = database.InitRedis(config, logger)
		if err != nil {
			logger.Fatal("Failed to initialize Redis", zap.Error(err))
		}
		done <- true
	}()

	// 2つの初期化が完了するのを待つ
	<-done
	<-done

	if err := migrations.Migrate(db, logger); err != nil {
		logger.Fatal("マイグレーションに失敗しました", zap.Error(err))
	}

	registry := friends.NewRegistry(db, logger)
	ledger := challenge.NewLedger(db, trophy.NewAccount(logger), registry, logger)
	ttl := time.Duration(config.TokenTTLHours) * time.Hour
	tokens := auth.NewTokenIssuer(config.JWTSecret, ttl, auth.NewRedisRevocations(rdb))

	// クーロンスケジューラのセットアップと呼び出し
	scheduler, err := utils.StartEscrowAudit(ledger, config.EscrowAuditSchedule, logger)
	if err != nil {
		logger.Fatal("Cronジョブの登録に失敗しました", zap.Error(err))
	}
	defer scheduler.Stop()

	if !config.DevMode {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	//リクエストロガーを起動
	router.Use(gin.Recovery(), utils.RequestLogger(logger))

	//CORS（Cross-Origin Resource Sharing）ポリシーを設定
	allowOrigins := config.AllowOrigins
	if len(allowOrigins) == 0 {
		allowOrigins = []string{"http://localhost:3000"}
	}
	router.Use(cors.New(cors.Config{
		AllowOrigins:     allowOrigins,
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", utils.RequestIDHeader},
		ExposeHeaders:    []string{"Content-Length", utils.RequestIDHeader},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	//各HTTPリクエストのルーティング
	screens.RegisterRoutes(router, &screens.Env{
		DB:      db,
		Friends: registry,
		Ledger:  ledger,
		Tokens:  tokens,
		Logger:  logger,
		DevMode: config.DevMode,
	})

	logger.Info("Starting server", zap.String("addr", config.ListenAddr), zap.Bool("devMode", config.DevMode))
	if err := router.Run(config.ListenAddr); err != nil {
		logger.Fatal("Failed to run HTTP server", zap.Error(err))
	}
}
