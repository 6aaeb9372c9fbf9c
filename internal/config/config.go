package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
// ルートドメインやデプロイメントサフィックスはここからResolver/Rewriterへ明示的に注入する。
type Config struct {
	// Database
	DatabaseURL string

	// Tenant routing
	RootDomain       string // 例: "example.com"
	DeploymentSuffix string // プレビューデプロイのホストサフィックス（例: "vercel.app"）
	MarketingHost    string
	MarketingURL     string
	DevPort          string // ローカル開発時のポート（"*.localhost:<DevPort>"）
	Production       bool   // DEPLOYMENT_URL が設定されていれば本番デプロイとみなす

	// Session
	SessionSecret string
	SessionMaxAge int

	// OAuth（ClientIDとSecretが両方設定されたプロバイダーのみ有効）
	GitHubClientID     string
	GitHubClientSecret string
	GoogleClientID     string
	GoogleClientSecret string

	// Email（パスワードレス認証のリンク送信）
	SMTPHost                string
	SMTPPort                int
	SMTPUsername            string
	SMTPPassword            string
	EmailFrom               string
	VerificationTokenMaxAge time.Duration

	// Rate Limit
	RateLimitSignIn int // メールリンク要求のreq/min/IP

	// Server
	ServerPort string
	StatusPort string // /healthと/metricsを提供するステータスサーバーのポート
	AppURL     string // app サブドメインの外部URL（リンク生成、OAuthコールバックに使用）

	// Cookie
	CookieSecure bool
	CookieDomain string
}

// DefaultStatusPort はSTATUS_PORT未設定時のステータスサーバーのポート。
const DefaultStatusPort = "9090"

// LoadDotEnv は指定された.envファイルが存在すれば環境変数に読み込む。
// 既に設定済みの環境変数は上書きしない。ファイルが無い場合は何もしない。
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("failed to load %s: %w", p, err)
		}
	}
	return nil
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合はエラーを返す。
func Load() (*Config, error) {
	cfg := &Config{}

	// Required fields
	var missing []string

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}

	cfg.RootDomain = os.Getenv("ROOT_DOMAIN")
	if cfg.RootDomain == "" {
		missing = append(missing, "ROOT_DOMAIN")
	}

	cfg.DeploymentSuffix = os.Getenv("DEPLOYMENT_SUFFIX")
	if cfg.DeploymentSuffix == "" {
		missing = append(missing, "DEPLOYMENT_SUFFIX")
	}

	cfg.SessionSecret = os.Getenv("SESSION_SECRET")
	if cfg.SessionSecret == "" {
		missing = append(missing, "SESSION_SECRET")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	// Optional fields with defaults
	cfg.MarketingHost = getEnvString("MARKETING_HOST", "vercel.pub")
	cfg.MarketingURL = getEnvString("MARKETING_URL", "https://vercel.com/blog/platforms-starter-kit")
	cfg.DevPort = getEnvString("DEV_PORT", "3000")
	cfg.Production = os.Getenv("DEPLOYMENT_URL") != ""
	cfg.SessionMaxAge = getEnvInt("SESSION_MAX_AGE", 30*86400)
	cfg.GitHubClientID = os.Getenv("AUTH_GITHUB_ID")
	cfg.GitHubClientSecret = os.Getenv("AUTH_GITHUB_SECRET")
	cfg.GoogleClientID = os.Getenv("GOOGLE_CLIENT_ID")
	cfg.GoogleClientSecret = os.Getenv("GOOGLE_CLIENT_SECRET")
	cfg.SMTPHost = getEnvString("SMTP_HOST", "smtp.sendgrid.net")
	cfg.SMTPPort = getEnvInt("SMTP_PORT", 587)
	cfg.SMTPUsername = getEnvString("SMTP_USERNAME", "apikey")
	cfg.SMTPPassword = os.Getenv("SENDGRID_API_KEY")
	cfg.EmailFrom = getEnvString("EMAIL_FROM", "noreply@"+cfg.RootDomain)
	cfg.VerificationTokenMaxAge = getEnvDuration("VERIFICATION_TOKEN_MAX_AGE", 24*time.Hour)
	cfg.RateLimitSignIn = getEnvInt("RATE_LIMIT_SIGNIN", 5)
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.StatusPort = getEnvString("STATUS_PORT", DefaultStatusPort)

	// 本番ではCookieをルートドメイン配下の全サブドメインで共有する。
	// localhostではdomain属性を付けてはならない。
	cfg.CookieSecure = cfg.Production
	if cfg.Production {
		cfg.CookieDomain = "." + cfg.RootDomain
		cfg.AppURL = getEnvString("APP_URL", "https://app."+cfg.RootDomain)
	} else {
		cfg.AppURL = getEnvString("APP_URL", "http://app.localhost:"+cfg.DevPort)
	}

	return cfg, nil
}

// GitHubEnabled はGitHub OAuthが設定されているかを返す。
func (c *Config) GitHubEnabled() bool {
	return c.GitHubClientID != "" && c.GitHubClientSecret != ""
}

// GoogleEnabled はGoogle OAuthが設定されているかを返す。
func (c *Config) GoogleEnabled() bool {
	return c.GoogleClientID != "" && c.GoogleClientSecret != ""
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
