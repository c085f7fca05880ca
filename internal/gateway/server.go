package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/nao1215/reviewdrop/internal/metrics"
	"github.com/nao1215/reviewdrop/pkg/middleware"
	"github.com/nao1215/reviewdrop/pkg/walletauth"
	"github.com/sirupsen/logrus"
)

// shutdownTimeout はグレースフルシャットダウンの待ち時間。
const shutdownTimeout = 10 * time.Second

// WalletAuthenticator はウォレットのログインペイロードを認証トークンに変換し、検証する。
type WalletAuthenticator interface {
	GenerateAuthToken(ctx context.Context, domain string, payload walletauth.LoginPayload) (string, error)
	Authenticate(ctx context.Context, domain, token string) (string, error)
}

// RouteRegistrar はゲートウェイのルーターにルートを追加する。
type RouteRegistrar interface {
	// RegisterAPI は /api 配下のルートを登録する。
	RegisterAPI(api gin.IRouter)
	// RegisterPage はページのルートを登録する。
	RegisterPage(root gin.IRouter)
}

// Pinger はヘルスチェックで疎通を確認する依存先。
type Pinger interface {
	PingContext(ctx context.Context) error
}

// Config はゲートウェイの設定。
type Config struct {
	// Port はリッスンポート。
	Port string
	// AllowedOrigins はCORSで許可するオリジン。
	AllowedOrigins []string
	// AuthDomain はウォレットログインで要求するドメイン。
	AuthDomain string
	// SecureCookies はOAuthのstate CookieにSecure属性を付与するかどうか。
	SecureCookies bool
	// RateLimitRPS と RateLimitBurst は /api 配下のクライアントIPごとの制限。
	RateLimitRPS   float64
	RateLimitBurst int
	// TrustedProxies はX-Forwarded-Forを信頼するプロキシのIPまたはCIDR。
	// 空の場合はクライアントIPに接続元のアドレスを使う。
	TrustedProxies []string
}

// Dependencies はゲートウェイが利用するコンポーネント。
// GoogleとDBはnilでもよい。
type Dependencies struct {
	Sessions *middleware.SessionManager
	Wallet   WalletAuthenticator
	Google   IdentityProvider
	Metrics  *metrics.Metrics
	Logger   logrus.FieldLogger
	DB       Pinger
	Routes   []RouteRegistrar
}

// Server はゲートウェイのHTTPサーバー。
type Server struct {
	// router はGinのHTTPルーター。
	router *gin.Engine
	// port はサーバーのリッスンポート。
	port string
	// authDomain はウォレットログインで要求するドメイン。
	authDomain string
	// secureCookies はstate CookieのSecure属性。
	secureCookies bool

	sessions *middleware.SessionManager
	wallet   WalletAuthenticator
	google   IdentityProvider
	metrics  *metrics.Metrics
	logger   logrus.FieldLogger
	db       Pinger
	limiter  *middleware.RateLimiter
	routes   []RouteRegistrar
}

// NewServer は新しいゲートウェイサーバーを生成する。
func NewServer(cfg Config, deps Dependencies) (*Server, error) {
	logger := deps.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	m := deps.Metrics
	if m == nil {
		m = metrics.New()
	}

	router := gin.New()
	if err := router.SetTrustedProxies(cfg.TrustedProxies); err != nil {
		return nil, fmt.Errorf("信頼するプロキシの設定に失敗: %w", err)
	}
	router.Use(middleware.Recovery(logger))
	router.Use(middleware.Logger(logger))
	router.Use(m.Middleware())
	router.Use(middleware.CORS(cfg.AllowedOrigins))
	router.Use(deps.Sessions.LoadSession())

	s := &Server{
		router:        router,
		port:          cfg.Port,
		authDomain:    cfg.AuthDomain,
		secureCookies: cfg.SecureCookies,
		sessions:      deps.Sessions,
		wallet:        deps.Wallet,
		google:        deps.Google,
		metrics:       m,
		logger:        logger,
		db:            deps.DB,
		limiter:       middleware.NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst),
		routes:        deps.Routes,
	}
	s.setupRoutes()

	return s, nil
}

// Handler はルーターをhttp.Handlerとして返す。
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run はHTTPサーバーを起動し、ctxがキャンセルされたらグレースフルシャットダウンする。
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%s", s.port),
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.WithField("addr", srv.Addr).Info("HTTPサーバーを起動します")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("HTTPサーバーの起動に失敗: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	s.logger.Info("HTTPサーバーを停止します")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("HTTPサーバーの停止に失敗: %w", err)
	}
	return nil
}

// setupRoutes はルーティングを設定する。
func (s *Server) setupRoutes() {
	api := s.router.Group("/api", s.limiter.Handler())
	{
		auth := api.Group("/auth")
		{
			// Googleログイン
			auth.GET("/signin/google", s.handleGoogleSignIn())
			auth.GET("/callback/google", s.handleGoogleCallback())
			// ウォレットログイン
			auth.POST("/callback/credentials", s.handleCredentialsCallback())
			// セッション
			auth.GET("/session", s.handleSession())
			auth.POST("/signout", s.handleSignOut())
		}

		for _, r := range s.routes {
			r.RegisterAPI(api)
		}
	}

	for _, r := range s.routes {
		r.RegisterPage(s.router)
	}

	// ヘルスチェック
	s.router.GET("/health", s.handleHealth())
	// Prometheusメトリクス
	s.router.GET("/metrics", s.metrics.Handler())
}

// handleHealth はヘルスチェックのハンドラを返す。
// DBが設定されていれば疎通も確認する。
func (s *Server) handleHealth() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.db != nil {
			ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
			defer cancel()
			if err := s.db.PingContext(ctx); err != nil {
				s.logger.WithError(err).Warn("ヘルスチェックでDBに接続できません")
				c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "service": "reviewdrop"})
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "reviewdrop"})
	}
}
