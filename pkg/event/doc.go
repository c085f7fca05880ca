// Package event はレビューと報酬のドメインイベントを定義し、外部のフィードに配信する。
//
// イベントはRedisのPub/Subチャネルに発行される。Redisが設定されていない場合は
// 構造化ログとして出力する。配信はベストエフォートであり、失敗しても
// 呼び出し元のリクエストは失敗させない。
package event
