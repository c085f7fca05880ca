// Package reward は初回レビュー報酬（エディションドロップNFT）の付与を扱う。
//
// 付与はウォレットアドレスごとに1回だけ行う。残高確認の後、
// 報酬請求の行を一意キーで挿入できたリクエストだけがミントを依頼する。
// ミントはリクエストから切り離したゴルーチンで実行し、
// 失敗した場合は請求を取り消して次のレビューで再試行できるようにする。
package reward
