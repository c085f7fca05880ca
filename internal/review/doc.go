// Package review はレビューの投稿と一覧のAPI、およびトップページを提供する。
//
// 一覧は認証不要で新しい順に返す。投稿にはセッションが必要で、投稿者が
// ウォレットでログインしている場合は初回レビュー報酬の付与を試みる。
package review
