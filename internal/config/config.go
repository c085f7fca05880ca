// Package config は環境変数からアプリケーション設定を読み込む。
// カレントディレクトリに.envがあれば先に読み込み、既存の環境変数は上書きしない。
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/netip"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

// devSessionSecret はSESSION_SECRET未設定時に使う開発用の署名鍵。
const devSessionSecret = "dev-secret-key"

// Config はアプリケーション設定。
type Config struct {
	// Port はHTTPサーバーのリッスンポート。
	Port string
	// BaseURL は外部から見たサーバーのURL。OAuthのリダイレクトURLに使う。
	BaseURL string
	// FrontendURL はCORSで許可するオリジン。空の場合はBaseURL。
	FrontendURL string

	DatabaseDriver string
	DatabaseURL    string

	SessionSecret string
	SessionTTL    time.Duration
	SecureCookies bool

	GoogleClientID     string
	GoogleClientSecret string

	// AuthDomain はウォレットログインのペイロードで要求するドメイン。
	AuthDomain string
	// AuthPrivateKey は認証トークンの発行者となる管理者ウォレットの秘密鍵（16進数）。
	AuthPrivateKey string
	AuthTokenTTL   time.Duration

	EditionDropAddress  string
	EngineURL           string
	EngineAccessToken   string
	EngineBackendWallet string
	// EngineTimeout はEngineへの1リクエストあたりのタイムアウト。
	EngineTimeout       time.Duration
	Chain               string
	RewardTokenID       int64
	MintTimeout         time.Duration

	// RedisURL が空の場合、イベントはログに出力する。
	RedisURL     string
	EventChannel string

	RateLimitRPS   float64
	RateLimitBurst int
	// TrustedProxies はX-Forwarded-Forを信頼するプロキシのIPまたはCIDR。
	// 空の場合はどのプロキシも信頼せず、接続元のアドレスを使う。
	TrustedProxies []string

	LogLevel  string
	LogFormat string
}

// Load は.envと環境変数から設定を読み込む。
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf(".envの読み込みに失敗: %w", err)
	}
	return load(os.Getenv)
}

// load は指定された参照関数で設定を組み立てる。
func load(getenv func(string) string) (*Config, error) {
	r := reader{getenv: getenv}

	cfg := &Config{
		Port:                r.str("PORT", "8080"),
		DatabaseDriver:      r.str("DATABASE_DRIVER", "sqlite"),
		SessionSecret:       r.str("SESSION_SECRET", devSessionSecret),
		SessionTTL:          r.duration("SESSION_TTL", 30*24*time.Hour),
		SecureCookies:       r.bool("SECURE_COOKIES", true),
		GoogleClientID:      r.str("GOOGLE_CLIENT_ID", ""),
		GoogleClientSecret:  r.str("GOOGLE_CLIENT_SECRET", ""),
		AuthDomain:          r.str("AUTH_DOMAIN", "thirdweb.com"),
		AuthPrivateKey:      strings.TrimPrefix(r.str("THIRDWEB_AUTH_PRIVATE_KEY", ""), "0x"),
		AuthTokenTTL:        r.duration("AUTH_TOKEN_TTL", 24*time.Hour),
		EditionDropAddress:  r.str("EDITION_DROP_ADDRESS", ""),
		EngineURL:           strings.TrimSuffix(r.str("ENGINE_URL", ""), "/"),
		EngineAccessToken:   r.str("ENGINE_ACCESS_TOKEN", ""),
		EngineBackendWallet: r.str("ENGINE_BACKEND_WALLET", ""),
		EngineTimeout:       r.duration("ENGINE_TIMEOUT", 10*time.Second),
		Chain:               r.str("CHAIN", "avalanche-fuji"),
		RewardTokenID:       r.int64("REWARD_TOKEN_ID", 0),
		MintTimeout:         r.duration("MINT_TIMEOUT", 2*time.Minute),
		RedisURL:            r.str("REDIS_URL", ""),
		EventChannel:        r.str("EVENT_CHANNEL", "reviewdrop:events"),
		RateLimitRPS:        r.float("RATE_LIMIT_RPS", 5),
		RateLimitBurst:      int(r.int64("RATE_LIMIT_BURST", 10)),
		TrustedProxies:      r.list("TRUSTED_PROXIES"),
		LogLevel:            r.str("LOG_LEVEL", "info"),
		LogFormat:           r.str("LOG_FORMAT", "json"),
	}
	cfg.BaseURL = strings.TrimSuffix(r.str("BASE_URL", "http://localhost:"+cfg.Port), "/")
	cfg.FrontendURL = strings.TrimSuffix(r.str("FRONTEND_URL", cfg.BaseURL), "/")
	cfg.DatabaseURL = r.str("DATABASE_URL", defaultDatabaseURL(cfg.DatabaseDriver))

	if len(r.errs) > 0 {
		return nil, errors.Join(r.errs...)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// defaultDatabaseURL はドライバごとのデフォルトDSNを返す。
func defaultDatabaseURL(driver string) string {
	if driver == "sqlite" {
		return "file:reviewdrop.db?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	}
	return ""
}

// validate は設定値の整合性を検証する。
func (c *Config) validate() error {
	switch c.DatabaseDriver {
	case "sqlite", "pgx":
	default:
		return fmt.Errorf("DATABASE_DRIVERはsqliteまたはpgxを指定してください: %q", c.DatabaseDriver)
	}
	if c.DatabaseURL == "" {
		return errors.New("DATABASE_URLが設定されていません")
	}
	if c.RewardTokenID < 0 {
		return fmt.Errorf("REWARD_TOKEN_IDは0以上を指定してください: %d", c.RewardTokenID)
	}
	if (c.GoogleClientID == "") != (c.GoogleClientSecret == "") {
		return errors.New("GOOGLE_CLIENT_IDとGOOGLE_CLIENT_SECRETは両方設定してください")
	}
	if c.EditionDropAddress != "" && c.EngineURL == "" {
		return errors.New("EDITION_DROP_ADDRESSを設定する場合はENGINE_URLも設定してください")
	}
	if c.EngineTimeout <= 0 {
		return fmt.Errorf("ENGINE_TIMEOUTは正の値を指定してください: %s", c.EngineTimeout)
	}
	for _, p := range c.TrustedProxies {
		if _, err := netip.ParseAddr(p); err == nil {
			continue
		}
		if _, err := netip.ParsePrefix(p); err != nil {
			return fmt.Errorf("TRUSTED_PROXIESにIPまたはCIDR以外が含まれています: %q", p)
		}
	}
	return nil
}

// GoogleEnabled はGoogleログインが設定されているかを返す。
func (c *Config) GoogleEnabled() bool {
	return c.GoogleClientID != "" && c.GoogleClientSecret != ""
}

// UsesDevSecret はセッション署名鍵が開発用のままかを返す。
func (c *Config) UsesDevSecret() bool {
	return c.SessionSecret == devSessionSecret
}

// NewLogger はLOG_LEVELとLOG_FORMATに従ってロガーを生成する。
func (c *Config) NewLogger() (*logrus.Logger, error) {
	level, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("LOG_LEVELが不正です: %w", err)
	}

	logger := logrus.New()
	logger.SetLevel(level)
	switch c.LogFormat {
	case "json":
		logger.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339Nano})
	case "text":
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	default:
		return nil, fmt.Errorf("LOG_FORMATはjsonまたはtextを指定してください: %q", c.LogFormat)
	}
	return logger, nil
}

// reader は環境変数を型変換しながら読み、変換エラーを蓄積する。
type reader struct {
	getenv func(string) string
	errs   []error
}

func (r *reader) str(key, defaultValue string) string {
	if v := strings.TrimSpace(r.getenv(key)); v != "" {
		return v
	}
	return defaultValue
}

// list はカンマ区切りの値を読む。空要素は無視する。
func (r *reader) list(key string) []string {
	var values []string
	for _, v := range strings.Split(r.str(key, ""), ",") {
		if v = strings.TrimSpace(v); v != "" {
			values = append(values, v)
		}
	}
	return values
}

func (r *reader) duration(key string, defaultValue time.Duration) time.Duration {
	v := r.str(key, "")
	if v == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("%sの形式が不正です: %w", key, err))
		return defaultValue
	}
	return d
}

func (r *reader) bool(key string, defaultValue bool) bool {
	v := r.str(key, "")
	if v == "" {
		return defaultValue
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("%sの形式が不正です: %w", key, err))
		return defaultValue
	}
	return b
}

func (r *reader) int64(key string, defaultValue int64) int64 {
	v := r.str(key, "")
	if v == "" {
		return defaultValue
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("%sの形式が不正です: %w", key, err))
		return defaultValue
	}
	return n
}

func (r *reader) float(key string, defaultValue float64) float64 {
	v := r.str(key, "")
	if v == "" {
		return defaultValue
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("%sの形式が不正です: %w", key, err))
		return defaultValue
	}
	return f
}
