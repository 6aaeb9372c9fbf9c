// Package session は署名付きセッショントークンの発行と検証を提供する。
// トークンはHS256で署名したJWTで、HTTP Only Cookieで受け渡す。
package session

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"github.com/hitoshi/platforms/internal/model"
)

const baseCookieName = "session-token"

// securePrefix は本番環境でCookie名に付与するプレフィックス。
// ブラウザはSecure属性のないCookieにこのプレフィックスを許可しない。
const securePrefix = "__Secure-"

// ErrInvalidSession はトークンの署名不正・期限切れ・形式不正を表す。
var ErrInvalidSession = errors.New("invalid session token")

// Config はセッションストアの設定。
type Config struct {
	Secret string        // 署名鍵（必須）
	MaxAge time.Duration // セッション有効期間
	Secure bool          // 本番デプロイ時はtrue（Secure属性と__Secure-プレフィックス）
	Domain string        // 本番ではルートドメイン配下で共有するため ".<root>" を指定する
}

// claims はセッショントークンのペイロード。
type claims struct {
	Email    string `json:"email,omitempty"`
	Name     string `json:"name,omitempty"`
	Username string `json:"username,omitempty"`
	Image    string `json:"picture,omitempty"`
	jwtlib.RegisteredClaims
}

// Store はセッショントークンの発行と検証を行う。
type Store struct {
	config Config
	now    func() time.Time
}

// NewStore はStoreを生成する。
func NewStore(config Config) *Store {
	return &Store{config: config, now: time.Now}
}

// CookieName はセッションCookieの名前を返す。
func (s *Store) CookieName() string {
	if s.config.Secure {
		return securePrefix + baseCookieName
	}
	return baseCookieName
}

// Issue はユーザーのセッショントークンを発行する。
func (s *Store) Issue(user *model.User) (string, *model.Session, error) {
	if user == nil || user.ID == "" {
		return "", nil, fmt.Errorf("user is required to issue a session")
	}

	now := s.now()
	sess := &model.Session{
		UserID:    user.ID,
		Email:     user.Email,
		Name:      deref(user.Name),
		Username:  deref(user.Username),
		Image:     deref(user.Image),
		ExpiresAt: now.Add(s.config.MaxAge).Truncate(time.Second),
	}

	c := claims{
		Email:    sess.Email,
		Name:     sess.Name,
		Username: sess.Username,
		Image:    sess.Image,
		RegisteredClaims: jwtlib.RegisteredClaims{
			Subject:   sess.UserID,
			IssuedAt:  jwtlib.NewNumericDate(now),
			ExpiresAt: jwtlib.NewNumericDate(sess.ExpiresAt),
		},
	}

	token, err := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, c).SignedString([]byte(s.config.Secret))
	if err != nil {
		return "", nil, fmt.Errorf("failed to sign session token: %w", err)
	}
	return token, sess, nil
}

// Parse はトークンを検証してセッションを復元する。
func (s *Store) Parse(raw string) (*model.Session, error) {
	var c claims
	_, err := jwtlib.ParseWithClaims(raw, &c,
		func(t *jwtlib.Token) (interface{}, error) {
			return []byte(s.config.Secret), nil
		},
		jwtlib.WithValidMethods([]string{jwtlib.SigningMethodHS256.Alg()}),
		jwtlib.WithExpirationRequired(),
		jwtlib.WithTimeFunc(s.now),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSession, err)
	}
	if c.Subject == "" {
		return nil, fmt.Errorf("%w: missing subject", ErrInvalidSession)
	}

	return &model.Session{
		UserID:    c.Subject,
		Email:     c.Email,
		Name:      c.Name,
		Username:  c.Username,
		Image:     c.Image,
		ExpiresAt: c.ExpiresAt.Time,
	}, nil
}

// FromRequest はリクエストのCookieからセッションを取得する。
// Cookieが無い場合は (nil, nil) を返す。
func (s *Store) FromRequest(r *http.Request) (*model.Session, error) {
	cookie, err := r.Cookie(s.CookieName())
	if err != nil || cookie.Value == "" {
		return nil, nil
	}
	return s.Parse(cookie.Value)
}

// SetCookie はセッションCookieを設定する（HTTP Only, SameSite=Lax）。
func (s *Store) SetCookie(w http.ResponseWriter, token string) {
	http.SetCookie(w, &http.Cookie{
		Name:     s.CookieName(),
		Value:    token,
		Path:     "/",
		Domain:   s.config.Domain,
		MaxAge:   int(s.config.MaxAge.Seconds()),
		HttpOnly: true,
		Secure:   s.config.Secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// ClearCookie はセッションCookieを削除する。
func (s *Store) ClearCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     s.CookieName(),
		Value:    "",
		Path:     "/",
		Domain:   s.config.Domain,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   s.config.Secure,
		SameSite: http.SameSiteLaxMode,
	})
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
