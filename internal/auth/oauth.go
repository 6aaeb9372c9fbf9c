package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/endpoints"
)

const (
	// ProviderGitHub はGitHub OAuthプロバイダーの識別子。
	ProviderGitHub = "github"
	// ProviderGoogle はGoogle OAuthプロバイダーの識別子。
	ProviderGoogle = "google"
)

const (
	defaultGitHubUserInfoURL = "https://api.github.com/user"
	defaultGoogleUserInfoURL = "https://www.googleapis.com/oauth2/v3/userinfo"
)

// OAuthProvider はOAuth認証プロバイダーのインターフェース。
type OAuthProvider interface {
	// Name はプロバイダーの識別子を返す。
	Name() string
	// LoginURL はOAuth認証URLを生成する。
	LoginURL(state string) string
	// Exchange は認可コードをトークンに交換し、プロフィールを取得する。
	Exchange(ctx context.Context, code string) (Identity, error)
}

// OAuthConfig はOAuthプロバイダーの設定。
type OAuthConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string

	// HTTPClient はトークン交換とユーザー情報取得に使う。nilの場合はhttp.DefaultClient。
	HTTPClient *http.Client

	// テスト用にオーバーライド可能なURL
	AuthURL     string
	TokenURL    string
	UserInfoURL string
}

// OAuth2Provider はx/oauth2による認可コードフローを提供する。
// プロフィールのデコードはプロバイダーごとに異なる。
type OAuth2Provider struct {
	name        string
	conf        *oauth2.Config
	userInfoURL string
	httpClient  *http.Client
	decode      func(body []byte) (Profile, error)
}

// NewGitHubProvider はGitHub用のOAuth2Providerを生成する。
func NewGitHubProvider(cfg OAuthConfig) *OAuth2Provider {
	return newProvider(ProviderGitHub, cfg, endpoints.GitHub, defaultGitHubUserInfoURL,
		[]string{"read:user", "user:email"},
		func(body []byte) (Profile, error) {
			var p GitHubProfile
			if err := json.Unmarshal(body, &p); err != nil {
				return nil, err
			}
			if p.ID == 0 {
				return nil, fmt.Errorf("empty id in github profile")
			}
			return p, nil
		})
}

// NewGoogleProvider はGoogle用のOAuth2Providerを生成する。
func NewGoogleProvider(cfg OAuthConfig) *OAuth2Provider {
	return newProvider(ProviderGoogle, cfg, endpoints.Google, defaultGoogleUserInfoURL,
		[]string{"openid", "email", "profile"},
		func(body []byte) (Profile, error) {
			var p GoogleProfile
			if err := json.Unmarshal(body, &p); err != nil {
				return nil, err
			}
			if p.Sub == "" && p.ID == "" {
				return nil, fmt.Errorf("empty sub in google profile")
			}
			return p, nil
		})
}

func newProvider(name string, cfg OAuthConfig, endpoint oauth2.Endpoint, userInfoURL string, scopes []string, decode func([]byte) (Profile, error)) *OAuth2Provider {
	if cfg.AuthURL != "" {
		endpoint.AuthURL = cfg.AuthURL
	}
	if cfg.TokenURL != "" {
		endpoint.TokenURL = cfg.TokenURL
	}
	if cfg.UserInfoURL != "" {
		userInfoURL = cfg.UserInfoURL
	}
	return &OAuth2Provider{
		name: name,
		conf: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Endpoint:     endpoint,
			Scopes:       scopes,
		},
		userInfoURL: userInfoURL,
		httpClient:  cfg.HTTPClient,
		decode:      decode,
	}
}

// Name はプロバイダーの識別子を返す。
func (p *OAuth2Provider) Name() string {
	return p.name
}

// LoginURL はOAuth認証URLを生成する。
func (p *OAuth2Provider) LoginURL(state string) string {
	return p.conf.AuthCodeURL(state)
}

// Exchange は認可コードをアクセストークンに交換し、ユーザー情報を取得する。
func (p *OAuth2Provider) Exchange(ctx context.Context, code string) (Identity, error) {
	if p.httpClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, p.httpClient)
	}

	// 1. 認可コードをアクセストークンに交換
	token, err := p.conf.Exchange(ctx, code)
	if err != nil {
		return Identity{}, fmt.Errorf("failed to exchange token: %w", err)
	}

	// 2. アクセストークンでユーザー情報を取得
	profile, err := p.fetchProfile(ctx, token)
	if err != nil {
		return Identity{}, fmt.Errorf("failed to fetch user info: %w", err)
	}

	identity := profile.Identity()
	if identity.Email == "" {
		return Identity{}, fmt.Errorf("%s profile has no email", p.name)
	}
	return identity, nil
}

// fetchProfile はアクセストークンでユーザー情報エンドポイントを呼び出す。
func (p *OAuth2Provider) fetchProfile(ctx context.Context, token *oauth2.Token) (Profile, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.userInfoURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create user info request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := p.conf.Client(ctx, token).Do(req)
	if err != nil {
		return nil, fmt.Errorf("user info request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read user info response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("user info fetch failed with status %d: %s", resp.StatusCode, string(body))
	}

	profile, err := p.decode(body)
	if err != nil {
		return nil, fmt.Errorf("failed to parse user info response: %w", err)
	}
	return profile, nil
}

// compile-time interface check
var _ OAuthProvider = (*OAuth2Provider)(nil)
