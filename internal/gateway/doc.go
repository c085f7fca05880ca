// Package gateway はレビューサービスの入口となるHTTPサーバーを提供する。
//
// Google OAuth2とウォレット署名の2つのログイン方式、セッションCookieの発行と
// 失効、ヘルスチェックとメトリクスを担当し、レビューのルートを同じルーターに
// 載せる。セッションはリクエストごとにCookieから解決し、サーバー側には保持しない。
package gateway
