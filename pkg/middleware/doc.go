// Package middleware はGinベースのHTTP APIで使用する共通ミドルウェアを提供する。
//
// セッションCookie（JWT）の発行と検証、ウォレット認証トークンの再検証、
// リクエストログ、パニックリカバリ、CORS設定、レート制限を含む。
package middleware
