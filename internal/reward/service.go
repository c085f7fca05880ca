package reward

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/nao1215/reviewdrop/internal/metrics"
	"github.com/nao1215/reviewdrop/pkg/event"
	"github.com/sirupsen/logrus"
)

// ErrInvalidAddress はウォレットアドレスの形式が不正であることを表す。
var ErrInvalidAddress = errors.New("ウォレットアドレスの形式が不正です")

const (
	// DefaultMintTimeout はミント依頼1件あたりのデフォルトタイムアウト。
	DefaultMintTimeout = 2 * time.Minute
	// releaseTimeout は請求の取り消しに使うタイムアウト。
	releaseTimeout = 10 * time.Second
)

// Outcome は報酬判定の結果。
type Outcome string

const (
	// OutcomeHolder は既にトークンを保有していることを表す。
	OutcomeHolder Outcome = "holder"
	// OutcomeMinting はこのリクエストが請求権を確保し、ミントを開始したことを表す。
	OutcomeMinting Outcome = "minting"
	// OutcomeAlreadyClaimed は他のリクエストが先に請求権を確保していたことを表す。
	OutcomeAlreadyClaimed Outcome = "already_claimed"
)

// ClaimStore は報酬請求の永続化を行う。
type ClaimStore interface {
	ReserveRewardClaim(ctx context.Context, address string, tokenID int64) (bool, error)
	MarkRewardClaimMinted(ctx context.Context, address, queueID string) error
	DeleteRewardClaim(ctx context.Context, address string) error
}

// Service はウォレットアドレスへの報酬付与を行う。
type Service struct {
	drop        EditionDrop
	claims      ClaimStore
	tokenID     int64
	mintTimeout time.Duration
	publisher   event.Publisher
	metrics     *metrics.Metrics
	logger      logrus.FieldLogger

	// wg は実行中のミントを追跡する。
	wg sync.WaitGroup
}

// Option はServiceの設定を変更する関数。
type Option func(*Service)

// WithTokenID は付与するトークンIDを設定する。
func WithTokenID(id int64) Option {
	return func(s *Service) {
		s.tokenID = id
	}
}

// WithMintTimeout はミント依頼のタイムアウトを設定する。
func WithMintTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.mintTimeout = d
		}
	}
}

// WithPublisher はイベントの発行先を設定する。
func WithPublisher(p event.Publisher) Option {
	return func(s *Service) {
		s.publisher = p
	}
}

// WithMetrics はメトリクスの記録先を設定する。
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// WithLogger はロガーを設定する。
func WithLogger(l logrus.FieldLogger) Option {
	return func(s *Service) {
		s.logger = l
	}
}

// NewService は新しいServiceを生成する。
func NewService(drop EditionDrop, claims ClaimStore, opts ...Option) *Service {
	s := &Service{
		drop:        drop,
		claims:      claims,
		mintTimeout: DefaultMintTimeout,
		logger:      logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Grant はアドレスに報酬を付与すべきか判定し、必要ならミントを開始する。
// ミントの完了は待たずにOutcomeMintingを返す。
func (s *Service) Grant(ctx context.Context, address string) (Outcome, error) {
	if !common.IsHexAddress(address) {
		return "", fmt.Errorf("%w: %q", ErrInvalidAddress, address)
	}
	addr := common.HexToAddress(address).Hex()

	balance, err := s.drop.BalanceOf(ctx, addr, s.tokenID)
	if err != nil {
		return "", fmt.Errorf("保有数の確認に失敗: %w", err)
	}
	if balance.Sign() > 0 {
		s.metrics.RewardOutcome(string(OutcomeHolder))
		return OutcomeHolder, nil
	}

	won, err := s.claims.ReserveRewardClaim(ctx, addr, s.tokenID)
	if err != nil {
		return "", fmt.Errorf("報酬請求の確保に失敗: %w", err)
	}
	if !won {
		s.metrics.RewardOutcome(string(OutcomeAlreadyClaimed))
		return OutcomeAlreadyClaimed, nil
	}

	event.Emit(ctx, s.publisher, addr, event.AggregateTypeReward, event.TypeRewardClaimReserved,
		event.RewardClaimReservedData{Address: addr, TokenID: s.tokenID})
	s.metrics.RewardOutcome(string(OutcomeMinting))

	s.wg.Add(1)
	go s.mint(addr)

	return OutcomeMinting, nil
}

// Wait は実行中のミントがすべて終わるまで待つ。
func (s *Service) Wait() {
	s.wg.Wait()
}

// mint はリクエストから切り離したコンテキストでミントを依頼する。
func (s *Service) mint(addr string) {
	defer s.wg.Done()

	ctx, cancel := context.WithTimeout(context.Background(), s.mintTimeout)
	defer cancel()

	log := s.logger.WithFields(logrus.Fields{
		"address":  addr,
		"token_id": s.tokenID,
	})

	queueID, err := s.drop.ClaimTo(ctx, addr, s.tokenID, 1)
	if err != nil {
		s.metrics.RewardMint(metrics.MintResultFailure)
		// 拒否が確定した場合のみ請求を取り消す。タイムアウトや5xxでは
		// キューに積まれている可能性があるため請求を残す。
		released := errors.Is(err, ErrMintRejected) || errors.Is(err, ErrDropNotConfigured)
		if released {
			log.WithError(err).Error("NFTのミントが拒否されました。請求を取り消します")
			s.release(addr, log)
		} else {
			log.WithError(err).Error("NFTのミント結果が不明です。請求は確保したままにします")
		}
		event.Emit(context.Background(), s.publisher, addr, event.AggregateTypeReward, event.TypeRewardMintFailed,
			event.RewardMintFailedData{Address: addr, TokenID: s.tokenID, Reason: err.Error(), Released: released})
		return
	}

	s.metrics.RewardMint(metrics.MintResultSuccess)
	if err := s.claims.MarkRewardClaimMinted(ctx, addr, queueID); err != nil {
		log.WithError(err).WithField("queue_id", queueID).Warn("報酬請求の更新に失敗")
	}
	log.WithField("queue_id", queueID).Info("NFTのミントを依頼しました")
	event.Emit(ctx, s.publisher, addr, event.AggregateTypeReward, event.TypeRewardMinted,
		event.RewardMintedData{Address: addr, TokenID: s.tokenID, QueueID: queueID})
}

// release はミントに失敗した請求を取り消す。
// ミントのタイムアウト後でも実行できるよう、別のコンテキストを使う。
func (s *Service) release(addr string, log logrus.FieldLogger) {
	ctx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
	defer cancel()

	if err := s.claims.DeleteRewardClaim(ctx, addr); err != nil {
		log.WithError(err).Error("報酬請求の取り消しに失敗")
	}
}
