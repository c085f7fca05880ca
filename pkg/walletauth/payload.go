package walletauth

import (
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
)

// LoginPayloadData はウォレットが署名するログイン情報。
// 日時はクライアントが生成した文字列のまま保持し、署名メッセージの再構築に使う。
type LoginPayloadData struct {
	// Domain はログイン先のドメイン。
	Domain string `json:"domain"`
	// Address はログインするウォレットのアドレス。
	Address string `json:"address"`
	// ChainID はウォレットが接続しているチェーンID。省略可。
	ChainID string `json:"chain_id,omitempty"`
	// Nonce はリプレイ防止用のランダム値。
	Nonce string `json:"nonce"`
	// IssuedAt はペイロードの作成日時（RFC3339）。省略可。
	IssuedAt string `json:"issued_at,omitempty"`
	// ExpirationTime はペイロードの有効期限（RFC3339）。
	ExpirationTime string `json:"expiration_time"`
}

// LoginPayload は署名済みのログインペイロード。
type LoginPayload struct {
	// Payload は署名対象のログイン情報。
	Payload LoginPayloadData `json:"payload"`
	// Signature は0xプレフィックス付き16進数の65バイト署名。
	Signature string `json:"signature"`
}

// Message はウォレットに署名させるメッセージを組み立てる。
// ブラウザ側のログインスクリプトも同じ書式で組み立てる。
func Message(d LoginPayloadData) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s wants you to sign in with your account:\n", d.Domain)
	b.WriteString(d.Address)
	b.WriteString("\n\nMake sure that the requesting domain above matches the URL of the current website.\n\n")
	if d.ChainID != "" {
		fmt.Fprintf(&b, "Chain ID: %s\n", d.ChainID)
	}
	fmt.Fprintf(&b, "Nonce: %s\n", d.Nonce)
	if d.IssuedAt != "" {
		fmt.Fprintf(&b, "Issued At: %s\n", d.IssuedAt)
	}
	fmt.Fprintf(&b, "Expiration Time: %s", d.ExpirationTime)
	return b.String()
}

// expiration はペイロードの有効期限をパースする。
func (d LoginPayloadData) expiration() (time.Time, error) {
	exp, err := time.Parse(time.RFC3339, d.ExpirationTime)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: expiration_time: %v", ErrInvalidPayload, err)
	}
	return exp, nil
}

// recoverAddress は署名からEIP-191メッセージの署名者アドレスを復元する。
func recoverAddress(message, signature string) (common.Address, error) {
	sig, err := hexutil.Decode(signature)
	if err != nil || len(sig) != crypto.SignatureLength {
		return common.Address{}, ErrInvalidSignature
	}
	// ウォレットはVを27/28で返すため、go-ethereumの0/1に戻す
	if sig[crypto.RecoveryIDOffset] >= 27 {
		sig[crypto.RecoveryIDOffset] -= 27
	}

	pub, err := crypto.SigToPub(accounts.TextHash([]byte(message)), sig)
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	return crypto.PubkeyToAddress(*pub), nil
}
