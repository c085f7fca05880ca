package gateway

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/nao1215/reviewdrop/pkg/middleware"
	"github.com/nao1215/reviewdrop/pkg/walletauth"
)

const (
	// stateCookieName はOAuthのstateを保持するCookie名。
	stateCookieName = "reviewdrop.oauth-state"
	// stateTTL はstate Cookieの有効期間。
	stateTTL = 10 * time.Minute
	// googleCallbackPath はGoogleのコールバックパス。state Cookieのパスにも使う。
	googleCallbackPath = "/api/auth/callback/google"
)

// handleGoogleSignIn はGoogleログインを開始するハンドラを返す。
func (s *Server) handleGoogleSignIn() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.google == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Google OAuth2が設定されていません"})
			return
		}

		state := uuid.New().String()
		http.SetCookie(c.Writer, &http.Cookie{
			Name:     stateCookieName,
			Value:    state,
			Path:     googleCallbackPath,
			MaxAge:   int(stateTTL.Seconds()),
			HttpOnly: true,
			Secure:   s.secureCookies,
			SameSite: http.SameSiteLaxMode,
		})
		c.Redirect(http.StatusTemporaryRedirect, s.google.AuthCodeURL(state))
	}
}

// handleGoogleCallback はGoogleからのコールバックを処理するハンドラを返す。
// 失敗した場合はエラーコード付きでトップページにリダイレクトする。
func (s *Server) handleGoogleCallback() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.google == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Google OAuth2が設定されていません"})
			return
		}

		state, err := c.Cookie(stateCookieName)
		http.SetCookie(c.Writer, &http.Cookie{
			Name:     stateCookieName,
			Path:     googleCallbackPath,
			MaxAge:   -1,
			HttpOnly: true,
			Secure:   s.secureCookies,
			SameSite: http.SameSiteLaxMode,
		})
		if err != nil || state == "" || state != c.Query("state") {
			s.logger.Warn("OAuthのstateが一致しません")
			c.Redirect(http.StatusFound, "/?error=OAuthState")
			return
		}
		if e := c.Query("error"); e != "" {
			s.logger.WithField("error", e).Info("Googleログインが拒否されました")
			c.Redirect(http.StatusFound, "/?error=OAuthCallback")
			return
		}

		identity, err := s.google.Exchange(c.Request.Context(), c.Query("code"))
		if err != nil {
			s.logger.WithError(err).Error("Googleログインに失敗")
			c.Redirect(http.StatusFound, "/?error=OAuthCallback")
			return
		}

		claims := middleware.SessionClaims{
			Provider: middleware.ProviderGoogle,
			Email:    identity.Email,
			Name:     identity.Name,
			Image:    identity.Image,
		}
		claims.Subject = identity.Email
		if err := s.sessions.StartSession(c, claims); err != nil {
			s.logger.WithError(err).Error("セッションの開始に失敗")
			c.Redirect(http.StatusFound, "/?error=SessionRequired")
			return
		}
		c.Redirect(http.StatusFound, "/")
	}
}

// credentialsRequest はウォレットログインのリクエスト。
// payloadはLoginPayloadをJSON文字列にしたもの。
type credentialsRequest struct {
	Payload string `json:"payload" binding:"required"`
}

// handleCredentialsCallback はウォレットのログインペイロードでログインするハンドラを返す。
// 認証に失敗した場合はCookieを設定せず401を返す。
func (s *Server) handleCredentialsCallback() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req credentialsRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "ログインペイロードがありません"})
			return
		}

		var payload walletauth.LoginPayload
		if err := json.Unmarshal([]byte(req.Payload), &payload); err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "ログインペイロードの形式が不正です"})
			return
		}

		ctx := c.Request.Context()
		token, err := s.wallet.GenerateAuthToken(ctx, s.authDomain, payload)
		if err != nil {
			s.logger.WithError(err).Info("認証トークンの発行に失敗")
			c.JSON(http.StatusUnauthorized, gin.H{"error": "ウォレット認証に失敗しました"})
			return
		}
		address, err := s.wallet.Authenticate(ctx, s.authDomain, token)
		if err != nil {
			s.logger.WithError(err).Warn("発行した認証トークンの検証に失敗")
			c.JSON(http.StatusUnauthorized, gin.H{"error": "ウォレット認証に失敗しました"})
			return
		}

		claims := middleware.SessionClaims{Provider: middleware.ProviderWallet}
		claims.Subject = address
		if err := s.sessions.StartSession(c, claims); err != nil {
			s.logger.WithError(err).Error("セッションの開始に失敗")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "セッションの開始に失敗しました"})
			return
		}
		s.sessions.SetAuthTokenCookie(c, token)

		s.logger.WithField("address", address).Info("ウォレットでログインしました")
		c.JSON(http.StatusOK, gin.H{"url": "/"})
	}
}

// handleSession は現在のセッションを返すハンドラを返す。
// セッションがない場合は空のオブジェクトを返す。
func (s *Server) handleSession() gin.HandlerFunc {
	return func(c *gin.Context) {
		session, ok := middleware.GetSession(c)
		if !ok {
			c.JSON(http.StatusOK, gin.H{})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"user":    session.User,
			"expires": session.Expires.UTC().Format(time.RFC3339),
		})
	}
}

// handleSignOut はセッションCookieと認証トークンCookieを失効させるハンドラを返す。
func (s *Server) handleSignOut() gin.HandlerFunc {
	return func(c *gin.Context) {
		s.sessions.EndSession(c)
		c.JSON(http.StatusOK, gin.H{"url": "/"})
	}
}
