// Package walletauth はウォレット署名によるログインを提供する。
//
// クライアントはログインペイロード（ドメイン、アドレス、ノンス、有効期限）から
// 組み立てたメッセージをウォレットでpersonal_sign（EIP-191）し、
// ペイロードと署名をサーバーに送る。GenerateAuthTokenは署名から復元した
// アドレスがペイロードのアドレスと一致することを確認して認証トークン（JWT）を
// 発行し、Authenticateはトークンを検証してアドレスを返す。
//
// トークンの発行者は設定された管理用ウォレットのアドレスであり、
// 呼び出し側はトークンの中身を解釈せず不透明な文字列として扱う。
package walletauth
