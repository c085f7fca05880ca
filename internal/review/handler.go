package review

import (
	"context"
	"html/template"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/nao1215/reviewdrop/internal/metrics"
	reviewdb "github.com/nao1215/reviewdrop/internal/review/db"
	"github.com/nao1215/reviewdrop/internal/reward"
	"github.com/nao1215/reviewdrop/pkg/event"
	"github.com/nao1215/reviewdrop/pkg/middleware"
	"github.com/sirupsen/logrus"
)

// 投稿成功時のメッセージ。
const (
	MessageSignedIn = "Successfully signed in."
	MessageRewarded = "Successfully signed in. You've also received an NFT for joining!"
)

// Store はレビューの永続化を行う。
type Store interface {
	CreateReview(ctx context.Context, arg reviewdb.CreateReviewParams) (int64, error)
	ListReviews(ctx context.Context) ([]reviewdb.Review, error)
}

// Rewarder はウォレットアドレスへの初回レビュー報酬を判定する。
type Rewarder interface {
	Grant(ctx context.Context, address string) (reward.Outcome, error)
}

// Handler はレビューのAPIとページを扱う。
type Handler struct {
	store     Store
	rewarder  Rewarder
	publisher event.Publisher
	metrics   *metrics.Metrics
	logger    logrus.FieldLogger
	page      *template.Template
	pageOpts  PageOptions
}

// Option はHandlerの設定を変更する関数。
type Option func(*Handler)

// WithRewarder は報酬の付与先を設定する。未設定の場合は報酬を付与しない。
func WithRewarder(r Rewarder) Option {
	return func(h *Handler) {
		h.rewarder = r
	}
}

// WithPublisher はイベントの発行先を設定する。
func WithPublisher(p event.Publisher) Option {
	return func(h *Handler) {
		h.publisher = p
	}
}

// WithMetrics はメトリクスの記録先を設定する。
func WithMetrics(m *metrics.Metrics) Option {
	return func(h *Handler) {
		h.metrics = m
	}
}

// WithLogger はロガーを設定する。
func WithLogger(l logrus.FieldLogger) Option {
	return func(h *Handler) {
		h.logger = l
	}
}

// WithPageOptions はトップページの表示設定を行う。
func WithPageOptions(o PageOptions) Option {
	return func(h *Handler) {
		h.pageOpts = o
	}
}

// NewHandler は新しいHandlerを生成する。
func NewHandler(store Store, opts ...Option) *Handler {
	h := &Handler{
		store:  store,
		logger: logrus.StandardLogger(),
		page:   pageTemplate,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// RegisterAPI は /reviews のルートを登録する。
// GETとPOST以外のメソッドにはボディなしの400を返す。
func (h *Handler) RegisterAPI(api gin.IRouter) {
	// レビュー一覧取得
	api.GET("/reviews", h.handleList())
	// レビュー投稿
	api.POST("/reviews", middleware.RequireSession(), h.handleCreate())

	for _, method := range []string{
		http.MethodPut,
		http.MethodPatch,
		http.MethodDelete,
		http.MethodHead,
		http.MethodConnect,
		http.MethodTrace,
	} {
		api.Handle(method, "/reviews", h.handleUnsupported())
	}
}

// RegisterPage はトップページのルートを登録する。
func (h *Handler) RegisterPage(root gin.IRouter) {
	root.GET("/", h.handlePage())
}

// handleList はレビュー一覧を新しい順に返すハンドラを返す。
func (h *Handler) handleList() gin.HandlerFunc {
	return func(c *gin.Context) {
		reviews, err := h.store.ListReviews(c.Request.Context())
		if err != nil {
			h.logger.WithError(err).Error("レビュー一覧の取得に失敗")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "レビュー一覧の取得に失敗しました"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"reviews": reviews})
	}
}

// createReviewRequest はレビュー投稿リクエストのJSON構造。
type createReviewRequest struct {
	// Review はレビュー本文。
	Review string `json:"review"`
}

// handleCreate はレビューを保存し、必要なら報酬を付与するハンドラを返す。
func (h *Handler) handleCreate() gin.HandlerFunc {
	return func(c *gin.Context) {
		session, _ := middleware.GetSession(c)

		var req createReviewRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "リクエストの形式が不正です"})
			return
		}

		ctx := c.Request.Context()
		user := session.Identity()
		id, err := h.store.CreateReview(ctx, reviewdb.CreateReviewParams{
			User:   user,
			Review: req.Review,
			Image:  session.User.Image,
		})
		if err != nil {
			h.logger.WithError(err).WithField("user", user).Error("レビューの保存に失敗")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "レビューの保存に失敗しました"})
			return
		}
		h.metrics.ReviewCreated()
		event.Emit(ctx, h.publisher, user, event.AggregateTypeReview, event.TypeReviewSubmitted,
			event.ReviewSubmittedData{ReviewID: id, User: user, Provider: session.Provider})

		c.JSON(http.StatusOK, gin.H{"message": h.grant(ctx, session.User.Address)})
	}
}

// grant はウォレットアドレスに報酬を付与し、返すメッセージを決める。
// 判定に失敗してもレビューの投稿自体は成功として扱う。
func (h *Handler) grant(ctx context.Context, address string) string {
	if address == "" || h.rewarder == nil {
		return MessageSignedIn
	}

	outcome, err := h.rewarder.Grant(ctx, address)
	if err != nil {
		h.logger.WithError(err).WithField("address", address).Warn("報酬の判定に失敗")
		return MessageSignedIn
	}
	if outcome == reward.OutcomeMinting {
		return MessageRewarded
	}
	return MessageSignedIn
}

// handleUnsupported は未対応のメソッドに400を返すハンドラを返す。
func (h *Handler) handleUnsupported() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.AbortWithStatus(http.StatusBadRequest)
	}
}
