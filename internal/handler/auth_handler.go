// Package handler はHTTPハンドラーを提供する。
package handler

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/platforms/internal/auth"
	"github.com/hitoshi/platforms/internal/metrics"
	"github.com/hitoshi/platforms/internal/middleware"
	"github.com/hitoshi/platforms/internal/model"
)

const oauthStateCookie = "oauth_state"

// サインイン失敗時のリダイレクト先。/login ページがerrorクエリを表示する。
const (
	loginErrorVerification = "/login?error=Verification"
	loginErrorCallback     = "/login?error=Callback"
	loginErrorNotLinked    = "/login?error=OAuthAccountNotLinked"
)

// OAuthServiceInterface はOAuthサインインに必要なサービスインターフェース。
type OAuthServiceInterface interface {
	HasProvider(name string) bool
	LoginURL(provider, state string) (string, error)
	HandleCallback(ctx context.Context, provider, code string) (*model.User, error)
}

// EmailSignInInterface はメールリンクサインインに必要なサービスインターフェース。
type EmailSignInInterface interface {
	RequestLink(ctx context.Context, email string) (auth.LinkResult, error)
	ConfirmLink(ctx context.Context, email, token string) (*model.User, error)
}

// SessionManager はセッションの発行・取得・破棄のインターフェース。
// session.Storeが実装する。
type SessionManager interface {
	Issue(user *model.User) (string, *model.Session, error)
	FromRequest(r *http.Request) (*model.Session, error)
	SetCookie(w http.ResponseWriter, token string)
	ClearCookie(w http.ResponseWriter)
}

// AuthHandlerConfig は認証ハンドラーの設定。
type AuthHandlerConfig struct {
	CookieSecure bool
}

// AuthHandler はサインイン・サインアウト・セッション取得のHTTPハンドラー。
type AuthHandler struct {
	oauth     OAuthServiceInterface
	email     EmailSignInInterface
	sessions  SessionManager
	collector metrics.MetricsCollector
	config    AuthHandlerConfig
}

// NewAuthHandler はAuthHandlerを生成する。collectorはnilでもよい。
func NewAuthHandler(
	oauth OAuthServiceInterface,
	email EmailSignInInterface,
	sessions SessionManager,
	collector metrics.MetricsCollector,
	config AuthHandlerConfig,
) *AuthHandler {
	return &AuthHandler{
		oauth:     oauth,
		email:     email,
		sessions:  sessions,
		collector: collector,
		config:    config,
	}
}

// sessionResponse はGET /api/auth/sessionのレスポンス型。
type sessionResponse struct {
	User    sessionUser `json:"user"`
	Expires time.Time   `json:"expires"`
}

type sessionUser struct {
	ID       string `json:"id"`
	Email    string `json:"email"`
	Name     string `json:"name,omitempty"`
	Username string `json:"username,omitempty"`
	Image    string `json:"image,omitempty"`
}

// Session は現在のセッションを返す。未ログインの場合は空のオブジェクトを返す。
// GET /api/auth/session
func (h *AuthHandler) Session(w http.ResponseWriter, r *http.Request) {
	sess, err := h.sessions.FromRequest(r)
	if err != nil {
		slog.Warn("invalid session token", slog.String("error", err.Error()))
		sess = nil
	}
	if sess == nil {
		middleware.WriteJSON(w, http.StatusOK, struct{}{})
		return
	}

	middleware.WriteJSON(w, http.StatusOK, sessionResponse{
		User: sessionUser{
			ID:       sess.UserID,
			Email:    sess.Email,
			Name:     sess.Name,
			Username: sess.Username,
			Image:    sess.Image,
		},
		Expires: sess.ExpiresAt,
	})
}

// SignOut はセッションCookieを削除してトップページへリダイレクトする。
// POST /api/auth/signout
func (h *AuthHandler) SignOut(w http.ResponseWriter, r *http.Request) {
	h.sessions.ClearCookie(w)
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

// emailSignInRequest はPOST /api/auth/signin/emailのリクエストボディ。
type emailSignInRequest struct {
	Email string `json:"email"`
}

// emailSignInResponse はPOST /api/auth/signin/emailのレスポンス。
type emailSignInResponse struct {
	Redirect string `json:"redirect"`
	Sent     bool   `json:"sent"`
}

// EmailSignIn はメールアドレス宛にサインインリンクを送信する。
// 未登録のメールアドレスの場合はサインアップページへのリダイレクト先を返す。
// POST /api/auth/signin/email
func (h *AuthHandler) EmailSignIn(w http.ResponseWriter, r *http.Request) {
	var req emailSignInRequest
	if err := decodeJSONBody(w, r, &req); err != nil {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError())
		return
	}

	res, err := h.email.RequestLink(r.Context(), req.Email)
	switch {
	case errors.Is(err, auth.ErrInvalidEmail):
		h.recordSignIn(auth.ProviderEmail, "invalid_email")
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewInvalidEmailError(req.Email))
		return
	case errors.Is(err, auth.ErrRateLimited):
		h.recordSignIn(auth.ProviderEmail, "rate_limited")
		middleware.WriteErrorResponse(w, http.StatusTooManyRequests, model.NewRateLimitedError())
		return
	case err != nil:
		h.recordSignIn(auth.ProviderEmail, "failure")
		slog.Error("failed to request verification link", slog.String("error", err.Error()))
		middleware.WriteInternalServerError(w)
		return
	}

	if res.Sent {
		h.recordSignIn(auth.ProviderEmail, "link_sent")
	} else {
		h.recordSignIn(auth.ProviderEmail, "signup_required")
	}
	middleware.WriteJSON(w, http.StatusOK, emailSignInResponse{
		Redirect: res.RedirectTo,
		Sent:     res.Sent,
	})
}

// EmailCallback はメールリンクのトークンを確認してセッションを発行する。
// GET /api/auth/callback/email?email=xxx&token=yyy
func (h *AuthHandler) EmailCallback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	user, err := h.email.ConfirmLink(r.Context(), q.Get("email"), q.Get("token"))
	if err != nil {
		h.recordSignIn(auth.ProviderEmail, "failure")
		if errors.Is(err, auth.ErrInvalidVerificationToken) {
			slog.Warn("email verification failed", slog.String("error", err.Error()))
		} else {
			slog.Error("email verification failed", slog.String("error", err.Error()))
		}
		http.Redirect(w, r, loginErrorVerification, http.StatusTemporaryRedirect)
		return
	}

	h.completeSignIn(w, r, auth.ProviderEmail, user, loginErrorVerification)
}

// ProviderLogin はOAuthフローを開始する。
// GET /api/auth/signin/{provider}
func (h *AuthHandler) ProviderLogin(w http.ResponseWriter, r *http.Request) {
	provider := chi.URLParam(r, "provider")
	if !h.oauth.HasProvider(provider) {
		middleware.WriteErrorResponse(w, http.StatusNotFound, model.NewUnknownProviderError(provider))
		return
	}

	state, err := generateState()
	if err != nil {
		slog.Error("failed to generate oauth state", slog.String("error", err.Error()))
		middleware.WriteInternalServerError(w)
		return
	}

	loginURL, err := h.oauth.LoginURL(provider, state)
	if err != nil {
		slog.Error("failed to build login url", slog.String("error", err.Error()))
		middleware.WriteInternalServerError(w)
		return
	}

	// stateをCookieに保存（CSRF対策）
	http.SetCookie(w, &http.Cookie{
		Name:     oauthStateCookie,
		Value:    state,
		Path:     "/",
		MaxAge:   600, // 10分
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})

	http.Redirect(w, r, loginURL, http.StatusTemporaryRedirect)
}

// ProviderCallback はOAuthコールバックを処理する。
// GET /api/auth/callback/{provider}?code=xxx&state=yyy
func (h *AuthHandler) ProviderCallback(w http.ResponseWriter, r *http.Request) {
	provider := chi.URLParam(r, "provider")
	if !h.oauth.HasProvider(provider) {
		middleware.WriteErrorResponse(w, http.StatusNotFound, model.NewUnknownProviderError(provider))
		return
	}

	// 1. stateの検証（CSRF対策）
	state := r.URL.Query().Get("state")
	stateCookie, err := r.Cookie(oauthStateCookie)
	if err != nil || state == "" || stateCookie.Value != state {
		slog.Warn("oauth state mismatch", slog.String("provider", provider))
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError())
		return
	}

	// stateクッキーを削除
	http.SetCookie(w, &http.Cookie{
		Name:     oauthStateCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})

	// 2. 認可コードの取得
	code := r.URL.Query().Get("code")
	if code == "" {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError())
		return
	}

	// 3. 認証処理
	user, err := h.oauth.HandleCallback(r.Context(), provider, code)
	if err != nil {
		h.recordSignIn(provider, "failure")
		if errors.Is(err, auth.ErrAccountNotLinked) {
			slog.Warn("oauth account not linked", slog.String("provider", provider))
			http.Redirect(w, r, loginErrorNotLinked, http.StatusTemporaryRedirect)
			return
		}
		slog.Error("oauth callback failed",
			slog.String("provider", provider),
			slog.String("error", err.Error()),
		)
		http.Redirect(w, r, loginErrorCallback, http.StatusTemporaryRedirect)
		return
	}

	h.completeSignIn(w, r, provider, user, loginErrorCallback)
}

// completeSignIn はセッションCookieを発行し、サインアップ未完了ならサインアップページへ、
// 完了していればダッシュボードへリダイレクトする。
func (h *AuthHandler) completeSignIn(w http.ResponseWriter, r *http.Request, provider string, user *model.User, failureURL string) {
	token, _, err := h.sessions.Issue(user)
	if err != nil {
		h.recordSignIn(provider, "failure")
		slog.Error("failed to issue session",
			slog.String("provider", provider),
			slog.String("error", err.Error()),
		)
		http.Redirect(w, r, failureURL, http.StatusTemporaryRedirect)
		return
	}

	h.sessions.SetCookie(w, token)
	h.recordSignIn(provider, "success")
	slog.Info("user signed in",
		slog.String("user_id", user.ID),
		slog.String("provider", provider),
	)

	dest := "/"
	if !user.SignupCompleted() {
		dest = auth.SignupURL(user.Email)
	}
	http.Redirect(w, r, dest, http.StatusTemporaryRedirect)
}

func (h *AuthHandler) recordSignIn(provider, result string) {
	if h.collector != nil {
		h.collector.RecordSignIn(provider, result)
	}
}

// generateState はCSRF対策用のランダムなstate値を生成する。
func generateState() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
