package review

import (
	"bytes"
	"embed"
	"html/template"
	"net/http"

	"github.com/gin-gonic/gin"
	reviewdb "github.com/nao1215/reviewdrop/internal/review/db"
	"github.com/nao1215/reviewdrop/pkg/middleware"
)

//go:embed templates/index.html
var templates embed.FS

var pageTemplate = template.Must(template.ParseFS(templates, "templates/index.html"))

// PageOptions はトップページの表示設定。
type PageOptions struct {
	// GoogleEnabled はGoogleログインボタンを表示するかどうか。
	GoogleEnabled bool
	// AuthDomain はウォレットに署名させるログインメッセージのドメイン。
	AuthDomain string
}

// pageData はテンプレートに渡す値。
type pageData struct {
	Options PageOptions
	Session *middleware.Session
	Reviews []reviewdb.Review
	Error   string
}

// handlePage はトップページを描画するハンドラを返す。
func (h *Handler) handlePage() gin.HandlerFunc {
	return func(c *gin.Context) {
		reviews, err := h.store.ListReviews(c.Request.Context())
		if err != nil {
			h.logger.WithError(err).Error("レビュー一覧の取得に失敗")
			c.String(http.StatusInternalServerError, "レビュー一覧の取得に失敗しました")
			return
		}

		data := pageData{
			Options: h.pageOpts,
			Reviews: reviews,
			Error:   c.Query("error"),
		}
		if session, ok := middleware.GetSession(c); ok {
			data.Session = session
		}

		var buf bytes.Buffer
		if err := h.page.Execute(&buf, data); err != nil {
			h.logger.WithError(err).Error("ページの描画に失敗")
			c.String(http.StatusInternalServerError, "ページの描画に失敗しました")
			return
		}
		c.Data(http.StatusOK, "text/html; charset=utf-8", buf.Bytes())
	}
}
