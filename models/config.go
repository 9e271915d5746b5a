package models

// Config 構造体はサーバー全体の設定情報を保持します。
// config.json から読み込んだ後、環境変数で上書きされます
type Config struct {
	DBDriver   string `json:"db_driver"` // "postgres" または "sqlite"
	DBHost     string `json:"db_host"`
	DBUser     string `json:"db_user"`
	DBPassword string `json:"db_password"`
	DBName     string `json:"db_name"`
	DBSSLMode  string `json:"db_sslmode"`
	SQLitePath string `json:"sqlite_path"`

	RedisAddr     string `json:"redis_addr"`
	RedisPassword string `json:"redis_password"`
	RedisDB       int    `json:"redis_db"`

	JWTSecret     string `json:"jwt_secret"`
	TokenTTLHours int    `json:"token_ttl_hours"`

	ListenAddr   string   `json:"listen_addr"`
	AllowOrigins []string `json:"allow_origins"`
	DevMode      bool     `json:"dev_mode"`

	// エスクロー監査ジョブのcron式
	EscrowAuditSchedule string `json:"escrow_audit_schedule"`
}
