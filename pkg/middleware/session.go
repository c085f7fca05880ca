package middleware

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/sirupsen/logrus"
)

const (
	// SessionCookieName はセッショントークンを保持するCookie名。
	SessionCookieName = "reviewdrop.session-token"
	// AuthTokenCookieName はウォレット認証トークンを保持するCookie名。
	AuthTokenCookieName = "thirdweb_auth_token"

	// sessionIssuer はセッショントークンの発行者。
	sessionIssuer = "reviewdrop-gateway"
	// contextKeySession はGinコンテキストにセッションを格納するキー。
	contextKeySession = "session"
	// defaultSessionTTL はセッションの有効期間のデフォルト値。
	defaultSessionTTL = 30 * 24 * time.Hour
)

// ProviderGoogle と ProviderWallet はセッションを作成した認証方式を表す。
const (
	ProviderGoogle = "google"
	ProviderWallet = "wallet"
)

// SessionClaims はセッショントークンのクレーム（ペイロード）を表す。
type SessionClaims struct {
	jwt.RegisteredClaims
	// Provider はログインに使われた認証方式。
	Provider string `json:"provider"`
	// Email はユーザーのメールアドレス。
	Email string `json:"email,omitempty"`
	// Name はユーザーの表示名。
	Name string `json:"name,omitempty"`
	// Image はユーザーのアバター画像URL。
	Image string `json:"image,omitempty"`
}

// User はセッションに含まれるユーザー情報。
type User struct {
	// Name はユーザーの表示名。
	Name string `json:"name,omitempty"`
	// Email はユーザーのメールアドレス。
	Email string `json:"email,omitempty"`
	// Image はユーザーのアバター画像URL。
	Image string `json:"image,omitempty"`
	// Address は認証トークンから解決したウォレットアドレス。
	Address string `json:"address,omitempty"`
}

// Session はリクエストごとに解決されたログインセッション。
type Session struct {
	// User はユーザー情報。
	User User `json:"user"`
	// Expires はセッションの有効期限。
	Expires time.Time `json:"expires"`
	// Provider はログインに使われた認証方式。
	Provider string `json:"-"`
}

// Identity はレビューの投稿者として記録する識別子を返す。
// ウォレットアドレスを優先し、なければメールアドレス、どちらもなければ空文字列。
func (s *Session) Identity() string {
	if s.User.Address != "" {
		return s.User.Address
	}
	return s.User.Email
}

// AddressResolver はウォレット認証トークンを検証してアドレスを返す。
type AddressResolver interface {
	Authenticate(ctx context.Context, domain, token string) (string, error)
}

// SessionManager はセッションCookieの発行、検証、削除を行う。
type SessionManager struct {
	// secret はセッショントークンの署名鍵。
	secret []byte
	// ttl はセッションの有効期間。
	ttl time.Duration
	// secure はCookieにSecure属性を付与するかどうか。
	secure bool
	// authDomain はウォレット認証トークンの検証に使うドメイン。
	authDomain string
	// resolver はウォレット認証トークンの検証器。nilの場合はアドレスを解決しない。
	resolver AddressResolver
	// now は現在時刻を返す関数。
	now func() time.Time
}

// SessionOption はSessionManagerの設定を変更する関数。
type SessionOption func(*SessionManager)

// WithSessionTTL はセッションの有効期間を設定する。
func WithSessionTTL(d time.Duration) SessionOption {
	return func(m *SessionManager) {
		if d > 0 {
			m.ttl = d
		}
	}
}

// WithSecureCookies はCookieのSecure属性を設定する。
// ローカル開発でHTTPを使う場合のみfalseにする。
func WithSecureCookies(secure bool) SessionOption {
	return func(m *SessionManager) {
		m.secure = secure
	}
}

// WithAddressResolver はウォレット認証トークンの検証器とドメインを設定する。
func WithAddressResolver(domain string, resolver AddressResolver) SessionOption {
	return func(m *SessionManager) {
		m.authDomain = domain
		m.resolver = resolver
	}
}

// WithSessionClock は現在時刻を返す関数を差し替える。
func WithSessionClock(now func() time.Time) SessionOption {
	return func(m *SessionManager) {
		m.now = now
	}
}

// NewSessionManager は新しいSessionManagerを生成する。
func NewSessionManager(secret string, opts ...SessionOption) *SessionManager {
	m := &SessionManager{
		secret: []byte(secret),
		ttl:    defaultSessionTTL,
		secure: true,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// GenerateSessionToken はセッションのクレームから署名済みトークンを生成する。
func (m *SessionManager) GenerateSessionToken(claims SessionClaims) (string, error) {
	now := m.now()
	claims.Issuer = sessionIssuer
	claims.IssuedAt = jwt.NewNumericDate(now)
	claims.ExpiresAt = jwt.NewNumericDate(now.Add(m.ttl))

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(m.secret)
	if err != nil {
		return "", fmt.Errorf("セッショントークンの署名に失敗: %w", err)
	}
	return signed, nil
}

// parseSessionToken はセッショントークンを検証してクレームを返す。
func (m *SessionManager) parseSessionToken(tokenString string) (*SessionClaims, error) {
	claims := &SessionClaims{}
	_, err := jwt.ParseWithClaims(tokenString, claims, func(_ *jwt.Token) (any, error) {
		return m.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(sessionIssuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(m.now),
	)
	if err != nil {
		return nil, err
	}
	return claims, nil
}

// StartSession はセッショントークンを発行してCookieに設定する。
func (m *SessionManager) StartSession(c *gin.Context, claims SessionClaims) error {
	token, err := m.GenerateSessionToken(claims)
	if err != nil {
		return err
	}
	http.SetCookie(c.Writer, &http.Cookie{
		Name:     SessionCookieName,
		Value:    token,
		Path:     "/",
		Expires:  m.now().Add(m.ttl),
		MaxAge:   int(m.ttl.Seconds()),
		HttpOnly: true,
		Secure:   m.secure,
		SameSite: http.SameSiteLaxMode,
	})
	return nil
}

// SetAuthTokenCookie はウォレット認証トークンをCookieに設定する。
// フロントエンドのスクリプトから読めないようHttpOnlyとし、全エンドポイントで使えるようPathを/にする。
func (m *SessionManager) SetAuthTokenCookie(c *gin.Context, token string) {
	http.SetCookie(c.Writer, &http.Cookie{
		Name:     AuthTokenCookieName,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteStrictMode,
	})
}

// EndSession はセッションCookieとウォレット認証トークンCookieを即時に失効させる。
func (m *SessionManager) EndSession(c *gin.Context) {
	expired := time.Unix(0, 0)
	http.SetCookie(c.Writer, &http.Cookie{
		Name:     SessionCookieName,
		Value:    "",
		Path:     "/",
		Expires:  expired,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   m.secure,
		SameSite: http.SameSiteLaxMode,
	})
	http.SetCookie(c.Writer, &http.Cookie{
		Name:     AuthTokenCookieName,
		Value:    "",
		Path:     "/",
		Expires:  expired,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteStrictMode,
	})
}

// Resolve はリクエストのCookieからセッションを解決する。
// セッションが無効な場合はnilを返す。ウォレット認証トークンの検証失敗は
// エラーにせず、アドレスなしのセッションとして扱う。
func (m *SessionManager) Resolve(c *gin.Context) *Session {
	raw, err := c.Cookie(SessionCookieName)
	if err != nil || raw == "" {
		return nil
	}

	claims, err := m.parseSessionToken(raw)
	if err != nil {
		logrus.WithError(err).Debug("セッショントークンの検証に失敗")
		return nil
	}

	session := &Session{
		User: User{
			Name:  claims.Name,
			Email: claims.Email,
			Image: claims.Image,
		},
		Expires:  claims.ExpiresAt.Time,
		Provider: claims.Provider,
	}

	if m.resolver == nil {
		return session
	}
	authToken, err := c.Cookie(AuthTokenCookieName)
	if err != nil || authToken == "" {
		return session
	}
	address, err := m.resolver.Authenticate(c.Request.Context(), m.authDomain, authToken)
	if err != nil {
		logrus.WithError(err).Debug("ウォレット認証トークンの検証に失敗")
		return session
	}
	session.User.Address = address
	return session
}

// LoadSession はリクエストごとにセッションを解決してコンテキストに設定するGinミドルウェアを返す。
// セッションがなくてもリクエストは中断しない。
func (m *SessionManager) LoadSession() gin.HandlerFunc {
	return func(c *gin.Context) {
		if session := m.Resolve(c); session != nil {
			c.Set(contextKeySession, session)
		}
		c.Next()
	}
}

// RequireSession はセッションがないリクエストを401で中断するGinミドルウェアを返す。
// LoadSessionが事前に適用されている必要がある。
func RequireSession() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, ok := GetSession(c); !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"message": "Not authorized.",
			})
			return
		}
		c.Next()
	}
}

// GetSession はGinコンテキストからセッションを取得する。
func GetSession(c *gin.Context) (*Session, bool) {
	v, ok := c.Get(contextKeySession)
	if !ok {
		return nil, false
	}
	session, ok := v.(*Session)
	return session, ok && session != nil
}
