package event

import (
	"encoding/json"
	"time"
)

// AggregateType はイベントの対象となるエンティティの種類を表す。
type AggregateType string

const (
	// AggregateTypeReview はレビューエンティティを表す。
	AggregateTypeReview AggregateType = "Review"
	// AggregateTypeReward は初回レビュー報酬（NFTクレーム）を表す。
	AggregateTypeReward AggregateType = "Reward"
)

// Type はイベントの種類を表す。
type Type string

const (
	// TypeReviewSubmitted はレビューが投稿されたことを表す。
	TypeReviewSubmitted Type = "ReviewSubmitted"

	// TypeRewardClaimReserved はウォレットアドレスの報酬クレームを確保したことを表す。
	TypeRewardClaimReserved Type = "RewardClaimReserved"
	// TypeRewardMinted はNFTのミントがコントラクトサービスに受け付けられたことを表す。
	TypeRewardMinted Type = "RewardMinted"
	// TypeRewardMintFailed はNFTのミントが失敗し、クレームを解放したことを表す。
	TypeRewardMintFailed Type = "RewardMintFailed"
)

// Event はレビューフィードに配信されるイベントレコードを表す。
type Event struct {
	// ID はイベントの一意識別子（UUID）。
	ID string `json:"id"`
	// AggregateID は対象エンティティの識別子。
	AggregateID string `json:"aggregate_id"`
	// AggregateType は対象エンティティの種類。
	AggregateType AggregateType `json:"aggregate_type"`
	// EventType はイベントの種類。
	EventType Type `json:"event_type"`
	// Data はイベント固有のデータ（JSON形式）。
	Data json.RawMessage `json:"data"`
	// CreatedAt はイベントが作成された日時。
	CreatedAt time.Time `json:"created_at"`
}

// ReviewSubmittedData はReviewSubmittedイベントのデータ。
type ReviewSubmittedData struct {
	// ReviewID は保存されたレビューのID。
	ReviewID int64 `json:"review_id"`
	// User はレビュー投稿者の識別子（ウォレットアドレスまたはメールアドレス）。
	User string `json:"user"`
	// Provider はログインに使われた認証方式（google / wallet）。
	Provider string `json:"provider"`
}

// RewardClaimReservedData はRewardClaimReservedイベントのデータ。
type RewardClaimReservedData struct {
	// Address はクレームしたウォレットアドレス。
	Address string `json:"address"`
	// TokenID はエディションドロップのトークンID。
	TokenID int64 `json:"token_id"`
}

// RewardMintedData はRewardMintedイベントのデータ。
type RewardMintedData struct {
	// Address はミント先のウォレットアドレス。
	Address string `json:"address"`
	// TokenID はエディションドロップのトークンID。
	TokenID int64 `json:"token_id"`
	// QueueID はコントラクトサービスが返したトランザクションキューID。
	QueueID string `json:"queue_id"`
}

// RewardMintFailedData はRewardMintFailedイベントのデータ。
type RewardMintFailedData struct {
	// Address はミント先のウォレットアドレス。
	Address string `json:"address"`
	// TokenID はエディションドロップのトークンID。
	TokenID int64 `json:"token_id"`
	// Reason は失敗の理由。
	Reason string `json:"reason"`
	// Released は請求を取り消し、次回のレビューで再試行できるかどうか。
	Released bool `json:"released"`
}
