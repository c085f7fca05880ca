// Package walletauthtest はwalletauthを使うコードのテスト用ユーティリティを提供する。
package walletauthtest

import (
	"crypto/ecdsa"
	"fmt"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/nao1215/reviewdrop/pkg/walletauth"
)

// Sign はブラウザのウォレットと同じ手順でログイン情報に署名する。
// personal_signと同じくVは27/28になる。
func Sign(key *ecdsa.PrivateKey, d walletauth.LoginPayloadData) (walletauth.LoginPayload, error) {
	sig, err := crypto.Sign(accounts.TextHash([]byte(walletauth.Message(d))), key)
	if err != nil {
		return walletauth.LoginPayload{}, fmt.Errorf("ログインペイロードの署名に失敗: %w", err)
	}
	sig[crypto.RecoveryIDOffset] += 27
	return walletauth.LoginPayload{Payload: d, Signature: hexutil.Encode(sig)}, nil
}
