package walletauth

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var (
	// ErrInvalidPayload はログインペイロードの形式が不正であることを表す。
	ErrInvalidPayload = errors.New("walletauth: ログインペイロードが不正です")
	// ErrDomainMismatch はペイロードのドメインが期待値と異なることを表す。
	ErrDomainMismatch = errors.New("walletauth: ドメインが一致しません")
	// ErrExpired はログインペイロードの有効期限切れを表す。
	ErrExpired = errors.New("walletauth: ログインペイロードの有効期限が切れています")
	// ErrInvalidSignature は署名が不正、または署名者がペイロードのアドレスと異なることを表す。
	ErrInvalidSignature = errors.New("walletauth: 署名が不正です")
	// ErrInvalidToken は認証トークンの検証に失敗したことを表す。
	ErrInvalidToken = errors.New("walletauth: 認証トークンが無効です")
)

// DefaultTokenTTL は認証トークンの最大有効期間のデフォルト値。
const DefaultTokenTTL = 24 * time.Hour

// Auth はウォレットログインの検証と認証トークンの発行を行う。
type Auth struct {
	// issuer はトークン発行者（管理用ウォレット）のアドレス。
	issuer common.Address
	// secret はトークン署名用の鍵。管理用ウォレットの秘密鍵から導出する。
	secret []byte
	// maxTTL はトークンの最大有効期間。
	maxTTL time.Duration
	// now は現在時刻を返す関数。
	now func() time.Time
}

// Option はAuthの設定を変更する関数。
type Option func(*Auth)

// WithTokenTTL はトークンの最大有効期間を設定する。
func WithTokenTTL(d time.Duration) Option {
	return func(a *Auth) {
		if d > 0 {
			a.maxTTL = d
		}
	}
}

// WithClock は現在時刻を返す関数を差し替える。
func WithClock(now func() time.Time) Option {
	return func(a *Auth) {
		a.now = now
	}
}

// New は16進数の秘密鍵（0xプレフィックス可）から新しいAuthを生成する。
func New(privateKeyHex string, opts ...Option) (*Auth, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("管理用ウォレットの秘密鍵の読み込みに失敗: %w", err)
	}
	return NewFromKey(key, opts...), nil
}

// NewFromKey は秘密鍵から新しいAuthを生成する。
func NewFromKey(key *ecdsa.PrivateKey, opts ...Option) *Auth {
	a := &Auth{
		issuer: crypto.PubkeyToAddress(key.PublicKey),
		secret: crypto.Keccak256(crypto.FromECDSA(key), []byte("walletauth-token")),
		maxTTL: DefaultTokenTTL,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Issuer はトークン発行者のアドレスを返す。
func (a *Auth) Issuer() string {
	return a.issuer.Hex()
}

// GenerateAuthToken は署名済みログインペイロードを検証し、認証トークンを発行する。
// 有効期限はペイロードの有効期限と最大有効期間の早い方になる。
func (a *Auth) GenerateAuthToken(_ context.Context, domain string, payload LoginPayload) (string, error) {
	data := payload.Payload
	if data.Domain != domain {
		return "", fmt.Errorf("%w: got %q, want %q", ErrDomainMismatch, data.Domain, domain)
	}
	if !common.IsHexAddress(data.Address) {
		return "", fmt.Errorf("%w: address %q", ErrInvalidPayload, data.Address)
	}
	if data.Nonce == "" {
		return "", fmt.Errorf("%w: nonceが空です", ErrInvalidPayload)
	}

	exp, err := data.expiration()
	if err != nil {
		return "", err
	}
	now := a.now()
	if !now.Before(exp) {
		return "", ErrExpired
	}

	signer, err := recoverAddress(Message(data), payload.Signature)
	if err != nil {
		return "", err
	}
	if signer != common.HexToAddress(data.Address) {
		return "", fmt.Errorf("%w: 署名者 %s がペイロードのアドレスと一致しません", ErrInvalidSignature, signer.Hex())
	}

	if limit := now.Add(a.maxTTL); exp.After(limit) {
		exp = limit
	}
	claims := jwt.RegisteredClaims{
		Issuer:    a.issuer.Hex(),
		Subject:   signer.Hex(),
		Audience:  jwt.ClaimStrings{domain},
		ExpiresAt: jwt.NewNumericDate(exp),
		NotBefore: jwt.NewNumericDate(now),
		IssuedAt:  jwt.NewNumericDate(now),
		ID:        uuid.New().String(),
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
	if err != nil {
		return "", fmt.Errorf("認証トークンの署名に失敗: %w", err)
	}
	return signed, nil
}

// Authenticate は認証トークンを検証し、ログインしたウォレットのアドレスを返す。
func (a *Auth) Authenticate(_ context.Context, domain, token string) (string, error) {
	if token == "" {
		return "", fmt.Errorf("%w: トークンが空です", ErrInvalidToken)
	}

	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(token, claims, func(_ *jwt.Token) (any, error) {
		return a.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(a.issuer.Hex()),
		jwt.WithAudience(domain),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(a.now),
	)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !common.IsHexAddress(claims.Subject) {
		return "", fmt.Errorf("%w: subject %q", ErrInvalidToken, claims.Subject)
	}
	return claims.Subject, nil
}
