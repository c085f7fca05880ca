// レビューサービスのエントリポイント。
// ログイン（Google / ウォレット）、レビューの投稿と一覧、初回レビュー報酬のミントを
// 1つのHTTPサーバーで提供する。
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/nao1215/reviewdrop/internal/config"
	"github.com/nao1215/reviewdrop/internal/gateway"
	"github.com/nao1215/reviewdrop/internal/metrics"
	"github.com/nao1215/reviewdrop/internal/review"
	reviewdb "github.com/nao1215/reviewdrop/internal/review/db"
	"github.com/nao1215/reviewdrop/internal/reward"
	"github.com/nao1215/reviewdrop/pkg/event"
	"github.com/nao1215/reviewdrop/pkg/middleware"
	"github.com/nao1215/reviewdrop/pkg/walletauth"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("設定の読み込みに失敗")
	}
	logger, err := cfg.NewLogger()
	if err != nil {
		logrus.WithError(err).Fatal("ロガーの初期化に失敗")
	}
	logrus.SetLevel(logger.GetLevel())
	logrus.SetFormatter(logger.Formatter)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.WithError(err).Fatal("レビューサービスが異常終了しました")
	}
}

// run は依存関係を組み立ててサーバーを起動し、停止後に実行中のミントを待つ。
func run(ctx context.Context, cfg *config.Config, logger *logrus.Logger) error {
	conn, err := reviewdb.Open(ctx, cfg.DatabaseDriver, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer conn.Close()

	if err := reviewdb.Migrate(ctx, conn); err != nil {
		return fmt.Errorf("マイグレーションに失敗: %w", err)
	}
	queries := reviewdb.New(conn)

	wallet, err := newWalletAuth(cfg, logger)
	if err != nil {
		return err
	}

	bus, closeBus, err := newBusPublisher(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeBus()
	// イベントはeventsテーブルに追記し、あわせてRedisまたはログに流す。
	publisher := event.Fanout(queries, bus)

	m := metrics.New()

	drop, err := reward.NewEditionDrop(reward.EngineConfig{
		BaseURL:         cfg.EngineURL,
		AccessToken:     cfg.EngineAccessToken,
		BackendWallet:   cfg.EngineBackendWallet,
		Chain:           cfg.Chain,
		ContractAddress: cfg.EditionDropAddress,
		Timeout:         cfg.EngineTimeout,
	})
	if err != nil {
		return fmt.Errorf("エディションドロップの初期化に失敗: %w", err)
	}
	if cfg.EditionDropAddress == "" {
		logger.Warn("EDITION_DROP_ADDRESSが未設定のため、NFT報酬は付与されません")
	}
	rewards := reward.NewService(drop, queries,
		reward.WithTokenID(cfg.RewardTokenID),
		reward.WithMintTimeout(cfg.MintTimeout),
		reward.WithPublisher(publisher),
		reward.WithMetrics(m),
		reward.WithLogger(logger),
	)
	defer rewards.Wait()

	if cfg.UsesDevSecret() {
		logger.Warn("SESSION_SECRETが未設定のため、開発用の署名鍵を使用します")
	}
	sessions := middleware.NewSessionManager(cfg.SessionSecret,
		middleware.WithSessionTTL(cfg.SessionTTL),
		middleware.WithSecureCookies(cfg.SecureCookies),
		middleware.WithAddressResolver(cfg.AuthDomain, wallet),
	)

	var google gateway.IdentityProvider
	if cfg.GoogleEnabled() {
		google = gateway.NewGoogleProvider(cfg.GoogleClientID, cfg.GoogleClientSecret, cfg.BaseURL+"/api/auth/callback/google")
	}

	reviews := review.NewHandler(queries,
		review.WithRewarder(rewards),
		review.WithPublisher(publisher),
		review.WithMetrics(m),
		review.WithLogger(logger),
		review.WithPageOptions(review.PageOptions{
			GoogleEnabled: cfg.GoogleEnabled(),
			AuthDomain:    cfg.AuthDomain,
		}),
	)

	server, err := gateway.NewServer(gateway.Config{
		Port:           cfg.Port,
		AllowedOrigins: []string{cfg.FrontendURL},
		AuthDomain:     cfg.AuthDomain,
		SecureCookies:  cfg.SecureCookies,
		RateLimitRPS:   cfg.RateLimitRPS,
		RateLimitBurst: cfg.RateLimitBurst,
		TrustedProxies: cfg.TrustedProxies,
	}, gateway.Dependencies{
		Sessions: sessions,
		Wallet:   wallet,
		Google:   google,
		Metrics:  m,
		Logger:   logger,
		DB:       conn,
		Routes:   []gateway.RouteRegistrar{reviews, reward.NewHandler(queries, logger)},
	})
	if err != nil {
		return err
	}

	return server.Run(ctx)
}

// newWalletAuth はウォレット認証を生成する。
// 秘密鍵が未設定の場合は起動ごとに鍵を生成するため、再起動で認証トークンは無効になる。
func newWalletAuth(cfg *config.Config, logger logrus.FieldLogger) (*walletauth.Auth, error) {
	opts := []walletauth.Option{walletauth.WithTokenTTL(cfg.AuthTokenTTL)}
	if cfg.AuthPrivateKey != "" {
		auth, err := walletauth.New(cfg.AuthPrivateKey, opts...)
		if err != nil {
			return nil, err
		}
		return auth, nil
	}

	key, err := crypto.GenerateKey()
	if err != nil {
		return nil, fmt.Errorf("管理用ウォレットの鍵生成に失敗: %w", err)
	}
	auth := walletauth.NewFromKey(key, opts...)
	logger.WithField("issuer", auth.Issuer()).Warn("THIRDWEB_AUTH_PRIVATE_KEYが未設定のため、一時的な鍵を使用します")
	return auth, nil
}

// newBusPublisher はイベントフィードの発行先を生成する。
// REDIS_URLが未設定の場合はログに出力する。
func newBusPublisher(ctx context.Context, cfg *config.Config, logger logrus.FieldLogger) (event.Publisher, func(), error) {
	if cfg.RedisURL == "" {
		return event.NewLogPublisher(logger), func() {}, nil
	}

	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, nil, fmt.Errorf("REDIS_URLの解析に失敗: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		logger.WithError(err).Warn("Redisに接続できません。イベントの発行は失敗時にログへ記録されます")
	}
	closeFn := func() {
		if err := client.Close(); err != nil {
			logger.WithError(err).Warn("Redisクライアントのクローズに失敗")
		}
	}
	return event.NewRedisPublisher(client, cfg.EventChannel), closeFn, nil
}
