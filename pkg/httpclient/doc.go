// Package httpclient は外部サービスとのJSON形式のHTTP通信を行うクライアントを提供する。
//
// エディションドロップのコントラクトサービス（残高照会、クレーム発行）の呼び出しに
// 使用する。認証ヘッダー等の固定ヘッダーはOptionで指定する。
package httpclient
