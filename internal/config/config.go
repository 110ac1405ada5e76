package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// BackendConfig はフロントエンドへ公開するバックエンド接続パラメータ。
// いずれも必須で、デフォルト値を持たない。
type BackendConfig struct {
	APIKey            string `json:"apiKey"`
	ProjectID         string `json:"projectId"`
	AuthDomain        string `json:"authDomain"`
	StorageBucket     string `json:"storageBucket"`
	MessagingSenderID string `json:"messagingSenderId"`
	AppID             string `json:"appId"`
}

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL    string
	DBMaxOpenConns int
	DBMaxIdleConns int

	// OAuth
	GoogleClientID     string
	GoogleClientSecret string
	GoogleRedirectURL  string

	// Session / ID token
	SessionSecret string
	SessionMaxAge int
	IDTokenTTL    time.Duration

	// Backend
	Backend BackendConfig

	// Rate Limit
	RateLimitGeneral int
	RateLimitSignIn  int
	RateLimitAddress int

	// Dashboard clients
	ClientIdleTTL  time.Duration
	SuccessDisplay time.Duration

	// Locale
	DefaultCountryCode string
	DefaultLocale      string
	Location           *time.Location

	// Cleanup
	SessionRetentionDays int

	// Logging
	LogLevel string

	// Server
	ServerPort string
	BaseURL    string

	// Cookie
	CookieSecure bool
	CookieDomain string

	// CORS
	CORSAllowedOrigin string
}

// Load はカレントディレクトリの.envを読み込んだ後、環境変数からConfigを読み込む。
func Load() (*Config, error) {
	return LoadWithEnvFile(".env")
}

// LoadWithEnvFile はenvFileを読み込んだ後、環境変数からConfigを読み込む。
// envFileは任意で、既に設定済みの環境変数は上書きしない。
// 必須環境変数が未設定の場合はエラーを返す。
func LoadWithEnvFile(envFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to load %s: %w", envFile, err)
		}
	}

	cfg := &Config{}

	// Required fields
	var missing []string
	required := func(key string) string {
		v := os.Getenv(key)
		if v == "" {
			missing = append(missing, key)
		}
		return v
	}

	cfg.DatabaseURL = required("DATABASE_URL")
	cfg.GoogleClientID = required("GOOGLE_CLIENT_ID")
	cfg.GoogleClientSecret = required("GOOGLE_CLIENT_SECRET")
	cfg.GoogleRedirectURL = required("GOOGLE_REDIRECT_URL")
	cfg.SessionSecret = required("SESSION_SECRET")
	cfg.BaseURL = required("BASE_URL")
	cfg.Backend = BackendConfig{
		APIKey:            required("BACKEND_API_KEY"),
		ProjectID:         required("BACKEND_PROJECT_ID"),
		AuthDomain:        required("BACKEND_AUTH_DOMAIN"),
		StorageBucket:     required("BACKEND_STORAGE_BUCKET"),
		MessagingSenderID: required("BACKEND_MESSAGING_SENDER_ID"),
		AppID:             required("BACKEND_APP_ID"),
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	// Optional fields with defaults
	cfg.DBMaxOpenConns = getEnvInt("DB_MAX_OPEN_CONNS", 20)
	cfg.DBMaxIdleConns = getEnvInt("DB_MAX_IDLE_CONNS", 5)
	cfg.SessionMaxAge = getEnvInt("SESSION_MAX_AGE", 1209600)
	cfg.IDTokenTTL = getEnvDuration("ID_TOKEN_TTL", time.Hour)
	cfg.RateLimitGeneral = getEnvInt("RATE_LIMIT_GENERAL", 120)
	cfg.RateLimitSignIn = getEnvInt("RATE_LIMIT_SIGN_IN", 10)
	cfg.RateLimitAddress = getEnvInt("RATE_LIMIT_ADDRESS", 600)
	cfg.ClientIdleTTL = getEnvDuration("CLIENT_IDLE_TTL", 30*time.Minute)
	cfg.SuccessDisplay = getEnvDuration("SUCCESS_DISPLAY", 3*time.Second)
	cfg.DefaultCountryCode = strings.TrimPrefix(getEnvString("DEFAULT_COUNTRY_CODE", "91"), "+")
	cfg.DefaultLocale = getEnvString("DEFAULT_LOCALE", "en")
	cfg.SessionRetentionDays = getEnvInt("SESSION_RETENTION_DAYS", 7)
	cfg.LogLevel = getEnvString("LOG_LEVEL", "info")
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.CookieSecure = strings.HasPrefix(cfg.BaseURL, "https://")
	cfg.CookieDomain = getEnvString("COOKIE_DOMAIN", "")
	cfg.CORSAllowedOrigin = getEnvString("CORS_ALLOWED_ORIGIN", "http://localhost:3000")

	loc, err := time.LoadLocation(getEnvString("TIMEZONE", "UTC"))
	if err != nil {
		return nil, fmt.Errorf("invalid TIMEZONE: %w", err)
	}
	cfg.Location = loc

	return cfg, nil
}

func getEnvString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}
