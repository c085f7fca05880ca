package gateway

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	googleoauth2 "google.golang.org/api/oauth2/v2"
	"google.golang.org/api/option"
)

// Identity は外部IDプロバイダーから取得したユーザー情報。
type Identity struct {
	Email string
	Name  string
	Image string
}

// IdentityProvider はOAuth2の認可コードフローでユーザーを識別する。
type IdentityProvider interface {
	// AuthCodeURL は同意画面のURLを返す。
	AuthCodeURL(state string) string
	// Exchange は認可コードをトークンに交換し、ユーザー情報を返す。
	Exchange(ctx context.Context, code string) (*Identity, error)
}

// GoogleProvider はGoogleアカウントでのログインを扱う。
type GoogleProvider struct {
	config *oauth2.Config
	// apiOptions はuserinfo APIクライアントへの追加オプション。
	apiOptions []option.ClientOption
}

// NewGoogleProvider は新しいGoogleProviderを生成する。
// redirectURLには /api/auth/callback/google の絶対URLを指定する。
func NewGoogleProvider(clientID, clientSecret, redirectURL string) *GoogleProvider {
	return &GoogleProvider{
		config: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  redirectURL,
			Scopes: []string{
				googleoauth2.OpenIDScope,
				googleoauth2.UserinfoEmailScope,
				googleoauth2.UserinfoProfileScope,
			},
			Endpoint: google.Endpoint,
		},
	}
}

// AuthCodeURL は同意画面のURLを返す。
func (p *GoogleProvider) AuthCodeURL(state string) string {
	return p.config.AuthCodeURL(state)
}

// Exchange は認可コードをトークンに交換し、userinfo APIでユーザー情報を取得する。
func (p *GoogleProvider) Exchange(ctx context.Context, code string) (*Identity, error) {
	token, err := p.config.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("認可コードの交換に失敗: %w", err)
	}

	opts := append([]option.ClientOption{option.WithTokenSource(p.config.TokenSource(ctx, token))}, p.apiOptions...)
	svc, err := googleoauth2.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("userinfoクライアントの生成に失敗: %w", err)
	}

	info, err := svc.Userinfo.Get().Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("ユーザー情報の取得に失敗: %w", err)
	}
	if info.Email == "" {
		return nil, errors.New("ユーザー情報にメールアドレスが含まれていません")
	}
	return &Identity{
		Email: info.Email,
		Name:  info.Name,
		Image: info.Picture,
	}, nil
}
