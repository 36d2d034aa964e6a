// Package config は環境変数から設定を読み込み、アプリケーション全体で使用する設定を提供します。
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
	BackendAsynq  = "asynq"
)

// Config はアプリケーションの設定を保持する構造体です。
type Config struct {
	// ログイン設定
	AppUsername     string            // ログイン用ユーザー名
	AppPasswordHash string            // bcryptでハッシュ化されたパスワード
	Users           map[string]string // 追加ユーザー（ユーザー名 -> bcryptハッシュ）

	// トークン設定
	TokenSecret     string // アクセストークン署名用の秘密鍵（必須）
	TokenTTLSeconds int    // アクセストークンの有効期間（秒）

	// サーバー設定
	Port    string // APIサーバーのポート番号
	GinMode string // Ginの実行モード (debug, release, test)

	// CORS設定
	CORSAllowedOrigins string // CORS許可オリジン（カンマ区切り）

	// ドキュメント制限
	MaxDocumentSize int64 // 単一ドキュメントの最大サイズ（バイト）
	MaxPages        int   // PDFの最大ページ数（0で無効）

	// 上流サービス設定
	UpstreamURL            string // ドキュメント処理サービスのエンドポイント
	UpstreamTimeoutSeconds int    // 上流呼び出しのタイムアウト（秒）

	// ジョブ/キュー設定
	QueueBackend     string // memory または asynq
	QueueCapacity    int    // メモリキューの上限（0で無制限）
	QueueRedisURL    string // Asynq用Redis接続URL
	StoreBackend     string // memory または redis
	StoreRedisURL    string // ジョブテーブル用Redis接続URL
	JobExpireMinutes int    // Redis上のジョブの有効期限（分、0で無期限）

	// ログ設定
	LogLevel  string
	LogFormat string
}

// Load は環境変数から設定を読み込みます。
// .env.local ファイルが存在する場合はそこから読み込みます。
func Load() (*Config, error) {
	// .env.local ファイルを読み込む（存在しない場合はスキップ）
	loadEnvFile()

	users, err := parseUsers(getEnv("APP_USERS", ""))
	if err != nil {
		return nil, err
	}

	config := &Config{
		AppUsername:     getEnv("APP_USERNAME", ""),
		AppPasswordHash: getEnv("APP_PASSWORD_HASH", ""),
		Users:           users,

		TokenSecret:     getEnv("TOKEN_SECRET", ""),
		TokenTTLSeconds: getEnvAsInt("TOKEN_TTL_SECONDS", 900),

		Port:    getEnv("PORT", "8080"),
		GinMode: getEnv("GIN_MODE", "debug"),

		CORSAllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:5173"),

		MaxDocumentSize: getEnvAsInt64("MAX_DOCUMENT_SIZE", 104857600), // 100MB
		MaxPages:        getEnvAsInt("MAX_PAGES", 200),

		UpstreamURL:            getEnv("UPSTREAM_URL", "http://127.0.0.1:9998/tika"),
		UpstreamTimeoutSeconds: getEnvAsInt("UPSTREAM_TIMEOUT_SECONDS", 300),

		QueueBackend:     strings.ToLower(getEnv("QUEUE_BACKEND", BackendMemory)),
		QueueCapacity:    getEnvAsInt("QUEUE_CAPACITY", 1024),
		QueueRedisURL:    getEnv("QUEUE_REDIS_URL", "redis://127.0.0.1:6379/0"),
		StoreBackend:     strings.ToLower(getEnv("STORE_BACKEND", BackendMemory)),
		StoreRedisURL:    getEnv("STORE_REDIS_URL", "redis://127.0.0.1:6379/1"),
		JobExpireMinutes: getEnvAsInt("JOB_EXPIRE_MINUTES", 0),

		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "text"),
	}

	// 必須設定のバリデーション
	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

func loadEnvFile() {
	if err := godotenv.Load(".env.local"); err == nil {
		return
	}

	cwd, err := os.Getwd()
	if err != nil {
		return
	}

	parent := filepath.Dir(cwd)
	if parent == "" || parent == cwd {
		return
	}

	_ = godotenv.Load(filepath.Join(parent, ".env.local"))
}

// Validate は設定の妥当性を検証します。
func (c *Config) Validate() error {
	// 署名鍵が空だと署名なしトークンを許すことになるため、モードに関係なく必須
	if c.TokenSecret == "" {
		return fmt.Errorf("TOKEN_SECRET is required")
	}
	if c.TokenTTLSeconds <= 0 {
		return fmt.Errorf("TOKEN_TTL_SECONDS must be positive")
	}
	if c.QueueCapacity < 0 {
		return fmt.Errorf("QUEUE_CAPACITY must not be negative")
	}

	switch c.QueueBackend {
	case BackendMemory:
	case BackendAsynq:
		if c.QueueRedisURL == "" {
			return fmt.Errorf("QUEUE_REDIS_URL is required for the asynq queue backend")
		}
	default:
		return fmt.Errorf("unknown QUEUE_BACKEND: %q", c.QueueBackend)
	}

	switch c.StoreBackend {
	case BackendMemory:
	case BackendRedis:
		if c.StoreRedisURL == "" {
			return fmt.Errorf("STORE_REDIS_URL is required for the redis store backend")
		}
	default:
		return fmt.Errorf("unknown STORE_BACKEND: %q", c.StoreBackend)
	}

	if c.JobExpireMinutes < 0 {
		return fmt.Errorf("JOB_EXPIRE_MINUTES must not be negative")
	}
	// メモリキューのタスクは再起動で失われるため、Redis に残った Pending を失効させる必要がある
	if c.StoreBackend == BackendRedis && c.QueueBackend == BackendMemory && c.JobExpireMinutes == 0 {
		return fmt.Errorf("JOB_EXPIRE_MINUTES is required when STORE_BACKEND=redis is combined with QUEUE_BACKEND=memory")
	}

	// ローカル開発ではログイン設定は任意
	if c.GinMode == "release" {
		if len(c.Credentials()) == 0 {
			return fmt.Errorf("APP_USERNAME/APP_PASSWORD_HASH or APP_USERS is required in release mode")
		}
		if c.UpstreamURL == "" {
			return fmt.Errorf("UPSTREAM_URL is required in release mode")
		}
	}

	return nil
}

// Credentials はログイン可能なユーザーとbcryptハッシュの一覧を返します。
func (c *Config) Credentials() map[string]string {
	creds := make(map[string]string, len(c.Users)+1)
	for user, hash := range c.Users {
		creds[user] = hash
	}
	if c.AppUsername != "" && c.AppPasswordHash != "" {
		creds[c.AppUsername] = c.AppPasswordHash
	}
	return creds
}

// parseUsers は "user:hash,user2:hash2" 形式を解析します。
// bcrypt ハッシュには ':' と ',' が含まれないため単純な分割で足ります。
func parseUsers(raw string) (map[string]string, error) {
	users := make(map[string]string)
	if strings.TrimSpace(raw) == "" {
		return users, nil
	}
	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		name, hash, ok := strings.Cut(entry, ":")
		name = strings.TrimSpace(name)
		hash = strings.TrimSpace(hash)
		if !ok || name == "" || hash == "" {
			return nil, fmt.Errorf("invalid APP_USERS entry: %q", entry)
		}
		users[name] = hash
	}
	return users, nil
}

// getEnv は環境変数を取得し、存在しない場合はデフォルト値を返します。
func getEnv(key string, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

// getEnvAsInt は環境変数を整数として取得します。
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsInt64 は環境変数を64ビット整数として取得します。
func getEnvAsInt64(key string, defaultValue int64) int64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseInt(valueStr, 10, 64)
	if err != nil {
		return defaultValue
	}
	return value
}
