package db

import (
	"context"
	"fmt"
)

const createReview = `INSERT INTO reviews (user_id, review, image) VALUES (?, ?, ?) RETURNING id`

// CreateReview はレビューを保存し、採番されたIDを返す。
func (q *Queries) CreateReview(ctx context.Context, arg CreateReviewParams) (int64, error) {
	var id int64
	if err := q.db.QueryRowxContext(ctx, q.db.Rebind(createReview), arg.User, arg.Review, arg.Image).Scan(&id); err != nil {
		return 0, fmt.Errorf("レビューの保存に失敗: %w", err)
	}
	return id, nil
}

const listReviews = `SELECT id, user_id, review, image, created_at FROM reviews ORDER BY id DESC`

// ListReviews は全レビューを新しい順に返す。0件の場合は空スライスを返す。
func (q *Queries) ListReviews(ctx context.Context) ([]Review, error) {
	reviews := []Review{}
	if err := q.db.SelectContext(ctx, &reviews, listReviews); err != nil {
		return nil, fmt.Errorf("レビュー一覧の取得に失敗: %w", err)
	}
	return reviews, nil
}

const reserveRewardClaim = `INSERT INTO reward_claims (address, token_id, status) VALUES (?, ?, ?)
ON CONFLICT (address) DO NOTHING`

// ReserveRewardClaim はアドレスの報酬請求権を確保する。
// 行を挿入できた場合のみtrueを返す。既に請求済みのアドレスではfalseになる。
func (q *Queries) ReserveRewardClaim(ctx context.Context, address string, tokenID int64) (bool, error) {
	res, err := q.db.ExecContext(ctx, q.db.Rebind(reserveRewardClaim), address, tokenID, ClaimStatusReserved)
	if err != nil {
		return false, fmt.Errorf("報酬請求の確保に失敗: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("報酬請求の確保結果の取得に失敗: %w", err)
	}
	return n == 1, nil
}

const markRewardClaimMinted = `UPDATE reward_claims SET status = ?, queue_id = ?, updated_at = CURRENT_TIMESTAMP
WHERE address = ?`

// MarkRewardClaimMinted は報酬請求をミント済みにする。
func (q *Queries) MarkRewardClaimMinted(ctx context.Context, address, queueID string) error {
	if _, err := q.db.ExecContext(ctx, q.db.Rebind(markRewardClaimMinted), ClaimStatusMinted, queueID, address); err != nil {
		return fmt.Errorf("報酬請求の更新に失敗: %w", err)
	}
	return nil
}

const deleteRewardClaim = `DELETE FROM reward_claims WHERE address = ? AND status = ?`

// DeleteRewardClaim はミント待ちの報酬請求を取り消す。
// ミント済みの請求は削除しない。
func (q *Queries) DeleteRewardClaim(ctx context.Context, address string) error {
	if _, err := q.db.ExecContext(ctx, q.db.Rebind(deleteRewardClaim), address, ClaimStatusReserved); err != nil {
		return fmt.Errorf("報酬請求の取り消しに失敗: %w", err)
	}
	return nil
}

const getRewardClaim = `SELECT address, token_id, status, queue_id, created_at, updated_at
FROM reward_claims WHERE address = ?`

// GetRewardClaim はアドレスの報酬請求を取得する。
func (q *Queries) GetRewardClaim(ctx context.Context, address string) (RewardClaim, error) {
	var claim RewardClaim
	if err := q.db.GetContext(ctx, &claim, q.db.Rebind(getRewardClaim), address); err != nil {
		return RewardClaim{}, fmt.Errorf("報酬請求の取得に失敗: %w", err)
	}
	return claim, nil
}
