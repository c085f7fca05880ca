package reward

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"net/url"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/nao1215/reviewdrop/pkg/httpclient"
)

// ErrDropNotConfigured はエディションドロップのコントラクトが設定されていないことを表す。
var ErrDropNotConfigured = errors.New("エディションドロップが設定されていません")

// ErrMintRejected はEngineがミントの依頼を4xxで拒否したことを表す。
// この場合トランザクションはキューに積まれていない。
var ErrMintRejected = errors.New("ミントの依頼がEngineに拒否されました")

// EditionDrop はERC1155エディションドロップコントラクトへの操作。
type EditionDrop interface {
	// BalanceOf はアドレスが保有するトークン数を返す。
	BalanceOf(ctx context.Context, address string, tokenID int64) (*big.Int, error)
	// ClaimTo はアドレスへのミントを依頼し、トランザクションのキューIDを返す。
	// 依頼が確実に受け付けられなかった場合はErrMintRejectedを返す。
	ClaimTo(ctx context.Context, address string, tokenID, quantity int64) (string, error)
}

// EngineConfig はEngine経由でコントラクトを操作するための設定。
type EngineConfig struct {
	// BaseURL はEngineのベースURL。
	BaseURL string
	// AccessToken はEngineのアクセストークン。
	AccessToken string
	// BackendWallet はトランザクションを送信するバックエンドウォレットのアドレス。
	BackendWallet string
	// Chain はチェーン名またはチェーンID（例: avalanche-fuji）。
	Chain string
	// ContractAddress はエディションドロップのコントラクトアドレス。
	ContractAddress string
	// Timeout は1リクエストあたりのタイムアウト。
	Timeout time.Duration
}

// EngineDrop はEngineのREST APIでエディションドロップを操作する。
type EngineDrop struct {
	client *httpclient.Client
	// basePath は /contract/{chain}/{contract}/erc1155。
	basePath string
}

// NewEditionDrop は設定からEditionDropを生成する。
// コントラクトアドレスが空の場合は、常にErrDropNotConfiguredを返す無効なドロップになる。
func NewEditionDrop(cfg EngineConfig) (EditionDrop, error) {
	if cfg.ContractAddress == "" {
		return disabledDrop{}, nil
	}
	if !common.IsHexAddress(cfg.ContractAddress) {
		return nil, fmt.Errorf("コントラクトアドレスが不正です: %q", cfg.ContractAddress)
	}
	if cfg.BaseURL == "" {
		return nil, errors.New("EngineのURLが設定されていません")
	}

	opts := []httpclient.Option{
		httpclient.WithBearerToken(cfg.AccessToken),
		httpclient.WithHeader("x-backend-wallet-address", cfg.BackendWallet),
	}
	if cfg.Timeout > 0 {
		opts = append(opts, httpclient.WithTimeout(cfg.Timeout))
	}

	return &EngineDrop{
		client: httpclient.New(cfg.BaseURL, opts...),
		basePath: fmt.Sprintf("/contract/%s/%s/erc1155",
			url.PathEscape(cfg.Chain), common.HexToAddress(cfg.ContractAddress).Hex()),
	}, nil
}

// balanceOfResponse はbalance-ofのレスポンス。
type balanceOfResponse struct {
	Result string `json:"result"`
}

// BalanceOf はアドレスが保有するトークン数を返す。
func (d *EngineDrop) BalanceOf(ctx context.Context, address string, tokenID int64) (*big.Int, error) {
	query := url.Values{}
	query.Set("walletAddress", address)
	query.Set("tokenId", strconv.FormatInt(tokenID, 10))

	var resp balanceOfResponse
	if err := d.client.GetJSON(ctx, d.basePath+"/balance-of", query, &resp); err != nil {
		return nil, fmt.Errorf("残高の取得に失敗: %w", err)
	}
	balance, ok := math.ParseBig256(resp.Result)
	if !ok || resp.Result == "" {
		return nil, fmt.Errorf("残高の形式が不正です: %q", resp.Result)
	}
	return balance, nil
}

// claimToRequest はclaim-toのリクエストボディ。
type claimToRequest struct {
	Receiver string `json:"receiver"`
	TokenID  string `json:"tokenId"`
	Quantity string `json:"quantity"`
}

// claimToResponse はclaim-toのレスポンス。
type claimToResponse struct {
	Result struct {
		QueueID string `json:"queueId"`
	} `json:"result"`
}

// ClaimTo はアドレスへのミントを依頼する。
// Engineはトランザクションをキューに積んだ時点で応答する。
func (d *EngineDrop) ClaimTo(ctx context.Context, address string, tokenID, quantity int64) (string, error) {
	req := claimToRequest{
		Receiver: address,
		TokenID:  strconv.FormatInt(tokenID, 10),
		Quantity: strconv.FormatInt(quantity, 10),
	}

	var resp claimToResponse
	if err := d.client.PostJSON(ctx, d.basePath+"/claim-to", req, &resp); err != nil {
		var statusErr *httpclient.StatusError
		if errors.As(err, &statusErr) && statusErr.StatusCode >= 400 && statusErr.StatusCode < 500 {
			return "", fmt.Errorf("%w: %w", ErrMintRejected, err)
		}
		return "", fmt.Errorf("ミントの依頼に失敗: %w", err)
	}
	if resp.Result.QueueID == "" {
		return "", errors.New("ミントの依頼に失敗: キューIDが返されませんでした")
	}
	return resp.Result.QueueID, nil
}

// disabledDrop はコントラクト未設定時のEditionDrop。
type disabledDrop struct{}

func (disabledDrop) BalanceOf(context.Context, string, int64) (*big.Int, error) {
	return nil, ErrDropNotConfigured
}

func (disabledDrop) ClaimTo(context.Context, string, int64, int64) (string, error) {
	return "", ErrDropNotConfigured
}
