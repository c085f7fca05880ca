package db

import "time"

// ClaimStatus は報酬請求の状態。
type ClaimStatus string

const (
	// ClaimStatusReserved はミント待ちで請求権を確保した状態。
	ClaimStatusReserved ClaimStatus = "reserved"
	// ClaimStatusMinted はミントを依頼済みの状態。
	ClaimStatusMinted ClaimStatus = "minted"
)

// Review は保存されたレビュー。
type Review struct {
	ID        int64     `db:"id" json:"id"`
	User      string    `db:"user_id" json:"user"`
	Review    string    `db:"review" json:"review"`
	Image     string    `db:"image" json:"image"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// CreateReviewParams はレビュー作成の入力。
type CreateReviewParams struct {
	User   string
	Review string
	Image  string
}

// RewardClaim はウォレットアドレスごとの報酬請求。
type RewardClaim struct {
	Address   string      `db:"address" json:"address"`
	TokenID   int64       `db:"token_id" json:"token_id"`
	Status    ClaimStatus `db:"status" json:"status"`
	QueueID   string      `db:"queue_id" json:"queue_id"`
	CreatedAt time.Time   `db:"created_at" json:"created_at"`
	UpdatedAt time.Time   `db:"updated_at" json:"updated_at"`
}
