package reward

import (
	"context"
	"database/sql"
	"errors"
	"net/http"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
	reviewdb "github.com/nao1215/reviewdrop/internal/review/db"
	"github.com/nao1215/reviewdrop/pkg/event"
	"github.com/sirupsen/logrus"
)

// StatusStore は報酬請求とその履歴を参照する。
type StatusStore interface {
	GetRewardClaim(ctx context.Context, address string) (reviewdb.RewardClaim, error)
	ListEventsByAggregate(ctx context.Context, aggregateID string) ([]event.Event, error)
}

// Handler は報酬の状態を返すAPIを扱う。
type Handler struct {
	store  StatusStore
	logger logrus.FieldLogger
}

// NewHandler は新しいHandlerを生成する。
func NewHandler(store StatusStore, logger logrus.FieldLogger) *Handler {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Handler{store: store, logger: logger}
}

// statusResponse は報酬状態のレスポンス。請求がなければClaimはnull。
type statusResponse struct {
	Address string                `json:"address"`
	Claim   *reviewdb.RewardClaim `json:"claim"`
	Events  []event.Event         `json:"events"`
}

// RegisterAPI は /api/rewards 配下のルートを登録する。
func (h *Handler) RegisterAPI(api gin.IRouter) {
	api.GET("/rewards/:address", h.handleGetStatus())
}

// RegisterPage はページを持たないため何もしない。
func (h *Handler) RegisterPage(gin.IRouter) {}

// handleGetStatus はアドレスの報酬請求とイベント履歴を返す。
func (h *Handler) handleGetStatus() gin.HandlerFunc {
	return func(c *gin.Context) {
		address := c.Param("address")
		if !common.IsHexAddress(address) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "ウォレットアドレスの形式が不正です"})
			return
		}
		addr := common.HexToAddress(address).Hex()

		resp := statusResponse{Address: addr}
		claim, err := h.store.GetRewardClaim(c.Request.Context(), addr)
		switch {
		case err == nil:
			resp.Claim = &claim
		case errors.Is(err, sql.ErrNoRows):
		default:
			h.logger.WithError(err).WithField("address", addr).Error("報酬請求の取得に失敗")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "報酬状態の取得に失敗しました"})
			return
		}

		events, err := h.store.ListEventsByAggregate(c.Request.Context(), addr)
		if err != nil {
			h.logger.WithError(err).WithField("address", addr).Error("報酬イベントの取得に失敗")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "報酬状態の取得に失敗しました"})
			return
		}
		resp.Events = events

		c.JSON(http.StatusOK, resp)
	}
}
