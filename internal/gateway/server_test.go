package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/gin-gonic/gin"
	"github.com/nao1215/reviewdrop/pkg/middleware"
	"github.com/nao1215/reviewdrop/pkg/walletauth"
	"github.com/nao1215/reviewdrop/pkg/walletauth/walletauthtest"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

const (
	// testSessionSecret はテスト用のセッション署名鍵。
	testSessionSecret = "test-secret-key"
	// testAuthDomain はテスト用のウォレット認証ドメイン。
	testAuthDomain = "thirdweb.com"
)

// fakeGoogle は固定のユーザー情報を返すIdentityProvider。
type fakeGoogle struct {
	err error
}

func (g *fakeGoogle) AuthCodeURL(state string) string {
	return "https://accounts.example.com/auth?state=" + url.QueryEscape(state)
}

func (g *fakeGoogle) Exchange(_ context.Context, code string) (*Identity, error) {
	if g.err != nil {
		return nil, g.err
	}
	if code != "good-code" {
		return nil, errors.New("invalid code")
	}
	return &Identity{Email: "alice@example.com", Name: "Alice", Image: "https://example.com/alice.png"}, nil
}

// fakePinger はPingの結果を固定で返す。
type fakePinger struct {
	err error
}

func (p fakePinger) PingContext(context.Context) error {
	return p.err
}

// stubRoutes はAPIとページに1つずつルートを登録する。
type stubRoutes struct{}

func (stubRoutes) RegisterAPI(api gin.IRouter) {
	api.GET("/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"pong": true})
	})
}

func (stubRoutes) RegisterPage(root gin.IRouter) {
	root.GET("/", func(c *gin.Context) {
		c.String(http.StatusOK, "page")
	})
}

type testServerOptions struct {
	google         IdentityProvider
	db             Pinger
	rateLimit      float64
	trustedProxies []string
}

// newTestServer はテスト用のゲートウェイサーバーを生成する。
func newTestServer(t *testing.T, opts testServerOptions) *Server {
	t.Helper()

	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	wallet := walletauth.NewFromKey(key)

	logger, _ := test.NewNullLogger()
	sessions := middleware.NewSessionManager(testSessionSecret,
		middleware.WithSecureCookies(false),
		middleware.WithAddressResolver(testAuthDomain, wallet),
	)

	s, err := NewServer(Config{
		Port:           "0",
		AllowedOrigins: []string{"http://localhost:3000"},
		AuthDomain:     testAuthDomain,
		RateLimitRPS:   opts.rateLimit,
		RateLimitBurst: 1,
		TrustedProxies: opts.trustedProxies,
	}, Dependencies{
		Sessions: sessions,
		Wallet:   wallet,
		Google:   opts.google,
		Logger:   logger,
		DB:       opts.db,
		Routes:   []RouteRegistrar{stubRoutes{}},
	})
	require.NoError(t, err)
	return s
}

// doRequest はテスト用のHTTPリクエストを実行する。
func doRequest(s *Server, method, path, body string, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	for _, c := range cookies {
		req.AddCookie(c)
	}
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	return w
}

// parseJSON はレスポンスボディをmapにパースする。
func parseJSON(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()

	var result map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &result), "body=%s", w.Body.String())
	return result
}

// findCookie はレスポンスから指定名のCookieを探す。
func findCookie(w *httptest.ResponseRecorder, name string) *http.Cookie {
	for _, c := range w.Result().Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}

// credentialsBody はウォレットで署名したログインペイロードをリクエストボディにする。
func credentialsBody(t *testing.T, mutate func(*walletauth.LoginPayloadData)) (string, string) {
	t.Helper()

	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	address := crypto.PubkeyToAddress(key.PublicKey).Hex()

	now := time.Now().UTC()
	data := walletauth.LoginPayloadData{
		Domain:         testAuthDomain,
		Address:        address,
		Nonce:          "c0ffee",
		IssuedAt:       now.Add(-time.Minute).Format(time.RFC3339),
		ExpirationTime: now.Add(10 * time.Minute).Format(time.RFC3339),
	}
	payload, err := walletauthtest.Sign(key, data)
	require.NoError(t, err)
	if mutate != nil {
		mutate(&payload.Payload)
	}

	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	body, err := json.Marshal(map[string]string{"payload": string(raw)})
	require.NoError(t, err)
	return string(body), address
}

func TestHealth(t *testing.T) {
	t.Parallel()

	t.Run("DBに接続できる場合は200を返すこと", func(t *testing.T) {
		t.Parallel()

		s := newTestServer(t, testServerOptions{db: fakePinger{}})
		w := doRequest(s, http.MethodGet, "/health", "")

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "ok", parseJSON(t, w)["status"])
	})

	t.Run("DBに接続できない場合は503を返すこと", func(t *testing.T) {
		t.Parallel()

		s := newTestServer(t, testServerOptions{db: fakePinger{err: errors.New("down")}})
		w := doRequest(s, http.MethodGet, "/health", "")

		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	})

	t.Run("メトリクスが公開されること", func(t *testing.T) {
		t.Parallel()

		s := newTestServer(t, testServerOptions{})
		doRequest(s, http.MethodGet, "/health", "")
		w := doRequest(s, http.MethodGet, "/metrics", "")

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), "reviewdrop_http_requests_total")
	})
}

func TestRoutes(t *testing.T) {
	t.Parallel()

	t.Run("登録されたルートがAPIとページに載ること", func(t *testing.T) {
		t.Parallel()

		s := newTestServer(t, testServerOptions{})
		assert.Equal(t, http.StatusOK, doRequest(s, http.MethodGet, "/api/ping", "").Code)
		assert.Equal(t, "page", doRequest(s, http.MethodGet, "/", "").Body.String())
	})

	t.Run("API配下はレート制限されること", func(t *testing.T) {
		t.Parallel()

		s := newTestServer(t, testServerOptions{rateLimit: 0.001})
		assert.Equal(t, http.StatusOK, doRequest(s, http.MethodGet, "/api/ping", "").Code)
		assert.Equal(t, http.StatusTooManyRequests, doRequest(s, http.MethodGet, "/api/ping", "").Code)
		assert.Equal(t, http.StatusOK, doRequest(s, http.MethodGet, "/health", "").Code)
	})

	// pingFrom はX-Forwarded-For付きで /api/ping を呼び出す。
	// httptestの接続元アドレスは192.0.2.1になる。
	pingFrom := func(s *Server, forwardedFor string) int {
		req := httptest.NewRequest(http.MethodGet, "/api/ping", nil)
		req.Header.Set("X-Forwarded-For", forwardedFor)
		w := httptest.NewRecorder()
		s.Handler().ServeHTTP(w, req)
		return w.Code
	}

	t.Run("プロキシ未設定ではX-Forwarded-Forを偽装してもレート制限を回避できないこと", func(t *testing.T) {
		t.Parallel()

		s := newTestServer(t, testServerOptions{rateLimit: 0.001})
		assert.Equal(t, http.StatusOK, pingFrom(s, "203.0.113.1"))
		assert.Equal(t, http.StatusTooManyRequests, pingFrom(s, "203.0.113.2"))
	})

	t.Run("信頼するプロキシ経由ではX-Forwarded-ForのIPごとに制限されること", func(t *testing.T) {
		t.Parallel()

		s := newTestServer(t, testServerOptions{rateLimit: 0.001, trustedProxies: []string{"192.0.2.0/24"}})
		assert.Equal(t, http.StatusOK, pingFrom(s, "203.0.113.1"))
		assert.Equal(t, http.StatusOK, pingFrom(s, "203.0.113.2"))
		assert.Equal(t, http.StatusTooManyRequests, pingFrom(s, "203.0.113.1"))
	})

	t.Run("信頼するプロキシの形式が不正な場合はエラーになること", func(t *testing.T) {
		t.Parallel()

		_, err := NewServer(Config{TrustedProxies: []string{"not-an-ip"}}, Dependencies{
			Sessions: middleware.NewSessionManager(testSessionSecret),
		})
		require.Error(t, err)
	})
}

func TestCredentialsCallback(t *testing.T) {
	t.Parallel()

	t.Run("署名済みペイロードでログインするとアドレス付きのセッションになること", func(t *testing.T) {
		t.Parallel()

		s := newTestServer(t, testServerOptions{})
		body, address := credentialsBody(t, nil)

		w := doRequest(s, http.MethodPost, "/api/auth/callback/credentials", body)
		require.Equal(t, http.StatusOK, w.Code, "body=%s", w.Body.String())
		assert.Equal(t, "/", parseJSON(t, w)["url"])

		authCookie := findCookie(w, middleware.AuthTokenCookieName)
		require.NotNil(t, authCookie)
		assert.True(t, authCookie.HttpOnly)
		assert.True(t, authCookie.Secure)
		assert.Equal(t, http.SameSiteStrictMode, authCookie.SameSite)
		assert.Equal(t, "/", authCookie.Path)
		sessionCookie := findCookie(w, middleware.SessionCookieName)
		require.NotNil(t, sessionCookie)

		w = doRequest(s, http.MethodGet, "/api/auth/session", "", sessionCookie, authCookie)
		require.Equal(t, http.StatusOK, w.Code)
		result := parseJSON(t, w)
		user, ok := result["user"].(map[string]any)
		require.True(t, ok, "user がない: %v", result)
		assert.Equal(t, address, user["address"])
		assert.NotEmpty(t, result["expires"])
	})

	tests := []struct {
		name string
		body func(t *testing.T) string
	}{
		{
			name: "ドメインが異なる",
			body: func(t *testing.T) string {
				b, _ := credentialsBody(t, func(d *walletauth.LoginPayloadData) { d.Domain = "evil.example.com" })
				return b
			},
		},
		{
			name: "署名後に内容が改ざんされている",
			body: func(t *testing.T) string {
				b, _ := credentialsBody(t, func(d *walletauth.LoginPayloadData) { d.Nonce = "tampered" })
				return b
			},
		},
		{
			name: "有効期限切れ",
			body: func(t *testing.T) string {
				b, _ := credentialsBody(t, func(d *walletauth.LoginPayloadData) {
					d.ExpirationTime = time.Now().Add(-time.Hour).UTC().Format(time.RFC3339)
				})
				return b
			},
		},
		{
			name: "payloadがJSONでない",
			body: func(*testing.T) string { return `{"payload":"not json"}` },
		},
		{
			name: "payloadがない",
			body: func(*testing.T) string { return `{}` },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name+"場合は401でCookieが設定されないこと", func(t *testing.T) {
			t.Parallel()

			s := newTestServer(t, testServerOptions{})
			w := doRequest(s, http.MethodPost, "/api/auth/callback/credentials", tt.body(t))

			assert.Equal(t, http.StatusUnauthorized, w.Code)
			assert.NotEmpty(t, parseJSON(t, w)["error"])
			assert.Empty(t, w.Result().Cookies())
		})
	}
}

func TestSession(t *testing.T) {
	t.Parallel()

	t.Run("セッションがない場合は空のオブジェクトを返すこと", func(t *testing.T) {
		t.Parallel()

		s := newTestServer(t, testServerOptions{})
		w := doRequest(s, http.MethodGet, "/api/auth/session", "")

		assert.Equal(t, http.StatusOK, w.Code)
		assert.JSONEq(t, `{}`, w.Body.String())
	})

	t.Run("改ざんされたセッションCookieは無視されること", func(t *testing.T) {
		t.Parallel()

		s := newTestServer(t, testServerOptions{})
		w := doRequest(s, http.MethodGet, "/api/auth/session", "",
			&http.Cookie{Name: middleware.SessionCookieName, Value: "not-a-jwt"})

		assert.JSONEq(t, `{}`, w.Body.String())
	})
}

func TestSignOut(t *testing.T) {
	t.Parallel()

	t.Run("ログアウトで両方のCookieの有効期限が過去になること", func(t *testing.T) {
		t.Parallel()

		s := newTestServer(t, testServerOptions{})
		body, _ := credentialsBody(t, nil)
		login := doRequest(s, http.MethodPost, "/api/auth/callback/credentials", body)
		require.Equal(t, http.StatusOK, login.Code)

		w := doRequest(s, http.MethodPost, "/api/auth/signout", "",
			findCookie(login, middleware.SessionCookieName), findCookie(login, middleware.AuthTokenCookieName))
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "/", parseJSON(t, w)["url"])

		for _, name := range []string{middleware.SessionCookieName, middleware.AuthTokenCookieName} {
			c := findCookie(w, name)
			require.NotNil(t, c, "%s が設定されていない", name)
			assert.True(t, c.Expires.Before(time.Now()), "%s の有効期限が過去でない: %v", name, c.Expires)
			assert.Less(t, c.MaxAge, 0)
		}
	})
}

func TestGoogleLogin(t *testing.T) {
	t.Parallel()

	t.Run("Googleが未設定の場合は503を返すこと", func(t *testing.T) {
		t.Parallel()

		s := newTestServer(t, testServerOptions{})
		assert.Equal(t, http.StatusServiceUnavailable, doRequest(s, http.MethodGet, "/api/auth/signin/google", "").Code)
		assert.Equal(t, http.StatusServiceUnavailable, doRequest(s, http.MethodGet, "/api/auth/callback/google", "").Code)
	})

	t.Run("ログイン開始でstate Cookieを設定して同意画面にリダイレクトすること", func(t *testing.T) {
		t.Parallel()

		s := newTestServer(t, testServerOptions{google: &fakeGoogle{}})
		w := doRequest(s, http.MethodGet, "/api/auth/signin/google", "")

		require.Equal(t, http.StatusTemporaryRedirect, w.Code)
		state := findCookie(w, stateCookieName)
		require.NotNil(t, state)
		assert.True(t, state.HttpOnly)
		assert.Equal(t, googleCallbackPath, state.Path)
		assert.Contains(t, w.Header().Get("Location"), "state="+state.Value)
	})

	t.Run("コールバックでセッションが開始されること", func(t *testing.T) {
		t.Parallel()

		s := newTestServer(t, testServerOptions{google: &fakeGoogle{}})
		state := &http.Cookie{Name: stateCookieName, Value: "state-1"}
		w := doRequest(s, http.MethodGet, "/api/auth/callback/google?state=state-1&code=good-code", "", state)

		require.Equal(t, http.StatusFound, w.Code)
		assert.Equal(t, "/", w.Header().Get("Location"))
		sessionCookie := findCookie(w, middleware.SessionCookieName)
		require.NotNil(t, sessionCookie)

		w = doRequest(s, http.MethodGet, "/api/auth/session", "", sessionCookie)
		user, ok := parseJSON(t, w)["user"].(map[string]any)
		require.True(t, ok)
		assert.Equal(t, "alice@example.com", user["email"])
		assert.Equal(t, "Alice", user["name"])
		assert.Equal(t, "https://example.com/alice.png", user["image"])
		assert.NotContains(t, user, "address")
	})

	t.Run("stateが一致しない場合はエラー付きでリダイレクトすること", func(t *testing.T) {
		t.Parallel()

		s := newTestServer(t, testServerOptions{google: &fakeGoogle{}})
		state := &http.Cookie{Name: stateCookieName, Value: "state-1"}
		w := doRequest(s, http.MethodGet, "/api/auth/callback/google?state=other&code=good-code", "", state)

		require.Equal(t, http.StatusFound, w.Code)
		assert.Equal(t, "/?error=OAuthState", w.Header().Get("Location"))
		assert.Nil(t, findCookie(w, middleware.SessionCookieName))
	})

	t.Run("トークン交換に失敗した場合はエラー付きでリダイレクトすること", func(t *testing.T) {
		t.Parallel()

		s := newTestServer(t, testServerOptions{google: &fakeGoogle{err: errors.New("boom")}})
		state := &http.Cookie{Name: stateCookieName, Value: "state-1"}
		w := doRequest(s, http.MethodGet, "/api/auth/callback/google?state=state-1&code=good-code", "", state)

		require.Equal(t, http.StatusFound, w.Code)
		assert.Equal(t, "/?error=OAuthCallback", w.Header().Get("Location"))
		assert.Nil(t, findCookie(w, middleware.SessionCookieName))
	})
}
