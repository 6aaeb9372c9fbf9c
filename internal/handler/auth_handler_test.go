package handler

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

	"github.com/hitoshi/platforms/internal/auth"
	"github.com/hitoshi/platforms/internal/middleware"
	"github.com/hitoshi/platforms/internal/model"
)

func newTestAuthHandler(oauth *mockOAuthService, email *mockEmailSignIn, sessions *mockSessionManager, collector *recordingCollector) *AuthHandler {
	if oauth == nil {
		oauth = &mockOAuthService{}
	}
	if email == nil {
		email = &mockEmailSignIn{}
	}
	if sessions == nil {
		sessions = &mockSessionManager{}
	}
	if collector == nil {
		collector = &recordingCollector{}
	}
	return NewAuthHandler(oauth, email, sessions, collector, AuthHandlerConfig{})
}

func findCookie(resp *http.Response, name string) *http.Cookie {
	for _, c := range resp.Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}

// TestSession_Authenticated はログイン中のセッション情報を返すことを検証する。
func TestSession_Authenticated(t *testing.T) {
	expires := time.Date(2026, 11, 1, 0, 0, 0, 0, time.UTC)
	sessions := &mockSessionManager{
		fromRequestFn: func(r *http.Request) (*model.Session, error) {
			return &model.Session{UserID: "user-1", Email: "a@example.com", Name: "alice", ExpiresAt: expires}, nil
		},
	}
	h := newTestAuthHandler(nil, nil, sessions, nil)

	w := httptest.NewRecorder()
	h.Session(w, httptest.NewRequest(http.MethodGet, "/api/auth/session", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	var body sessionResponse
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode: %v", err)
	}
	if body.User.ID != "user-1" || body.User.Email != "a@example.com" || body.User.Name != "alice" {
		t.Errorf("user = %+v", body.User)
	}
	if !body.Expires.Equal(expires) {
		t.Errorf("expires = %v, want %v", body.Expires, expires)
	}
}

// TestSession_Unauthenticated は未ログイン時に空オブジェクトを返すことを検証する。
func TestSession_Unauthenticated(t *testing.T) {
	tests := []struct {
		name string
		fn   func(r *http.Request) (*model.Session, error)
	}{
		{"no session", func(r *http.Request) (*model.Session, error) { return nil, nil }},
		{"broken token", func(r *http.Request) (*model.Session, error) { return nil, errors.New("bad signature") }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newTestAuthHandler(nil, nil, &mockSessionManager{fromRequestFn: tt.fn}, nil)

			w := httptest.NewRecorder()
			h.Session(w, httptest.NewRequest(http.MethodGet, "/api/auth/session", nil))

			if w.Code != http.StatusOK {
				t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
			}
			if got := strings.TrimSpace(w.Body.String()); got != "{}" {
				t.Errorf("body = %q, want {}", got)
			}
		})
	}
}

// TestSignOut はセッションCookieを削除してリダイレクトすることを検証する。
func TestSignOut(t *testing.T) {
	sessions := &mockSessionManager{}
	h := newTestAuthHandler(nil, nil, sessions, nil)

	w := httptest.NewRecorder()
	h.SignOut(w, httptest.NewRequest(http.MethodPost, "/api/auth/signout", nil))

	if w.Code != http.StatusSeeOther {
		t.Errorf("status = %d, want %d", w.Code, http.StatusSeeOther)
	}
	if loc := w.Header().Get("Location"); loc != "/" {
		t.Errorf("Location = %q, want %q", loc, "/")
	}
	if !sessions.cleared {
		t.Error("expected session cookie to be cleared")
	}
}

// TestEmailSignIn_Results はリンク要求の結果ごとのレスポンスを検証する。
func TestEmailSignIn_Results(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		result     auth.LinkResult
		err        error
		wantStatus int
		wantCode   string
		wantMetric string
	}{
		{
			name:       "link sent",
			body:       `{"email":"a@example.com"}`,
			result:     auth.LinkResult{RedirectTo: "/verify", Sent: true},
			wantStatus: http.StatusOK,
			wantMetric: "email:link_sent",
		},
		{
			name:       "signup required",
			body:       `{"email":"new@example.com"}`,
			result:     auth.LinkResult{RedirectTo: "/signup?email=new%40example.com"},
			wantStatus: http.StatusOK,
			wantMetric: "email:signup_required",
		},
		{
			name:       "invalid email",
			body:       `{"email":"nope"}`,
			err:        auth.ErrInvalidEmail,
			wantStatus: http.StatusBadRequest,
			wantCode:   model.ErrCodeInvalidEmail,
			wantMetric: "email:invalid_email",
		},
		{
			name:       "rate limited",
			body:       `{"email":"a@example.com"}`,
			err:        auth.ErrRateLimited,
			wantStatus: http.StatusTooManyRequests,
			wantCode:   model.ErrCodeRateLimited,
			wantMetric: "email:rate_limited",
		},
		{
			name:       "mailer failure",
			body:       `{"email":"a@example.com"}`,
			err:        errors.New("smtp down"),
			wantStatus: http.StatusInternalServerError,
			wantCode:   model.ErrCodeInternal,
			wantMetric: "email:failure",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			email := &mockEmailSignIn{
				requestLinkFn: func(ctx context.Context, email string) (auth.LinkResult, error) {
					return tt.result, tt.err
				},
			}
			collector := &recordingCollector{}
			h := newTestAuthHandler(nil, email, nil, collector)

			req := httptest.NewRequest(http.MethodPost, "/api/auth/signin/email", strings.NewReader(tt.body))
			w := httptest.NewRecorder()
			h.EmailSignIn(w, req)

			if w.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			if tt.wantCode != "" {
				var body middleware.ErrorResponseBody
				if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
					t.Fatalf("failed to decode: %v", err)
				}
				if body.Code != tt.wantCode {
					t.Errorf("code = %q, want %q", body.Code, tt.wantCode)
				}
			} else {
				var body emailSignInResponse
				if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
					t.Fatalf("failed to decode: %v", err)
				}
				if body.Redirect != tt.result.RedirectTo || body.Sent != tt.result.Sent {
					t.Errorf("body = %+v, want %+v", body, tt.result)
				}
			}
			if len(collector.signIns) != 1 || collector.signIns[0] != tt.wantMetric {
				t.Errorf("signIns = %v, want [%s]", collector.signIns, tt.wantMetric)
			}
		})
	}
}

// TestEmailSignIn_InvalidBody は不正なJSONボディで400を返すことを検証する。
func TestEmailSignIn_InvalidBody(t *testing.T) {
	called := false
	email := &mockEmailSignIn{
		requestLinkFn: func(ctx context.Context, email string) (auth.LinkResult, error) {
			called = true
			return auth.LinkResult{}, nil
		},
	}
	h := newTestAuthHandler(nil, email, nil, nil)

	w := httptest.NewRecorder()
	h.EmailSignIn(w, httptest.NewRequest(http.MethodPost, "/api/auth/signin/email", strings.NewReader("{")))

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
	if called {
		t.Error("RequestLink should not be called for an invalid body")
	}
}

// TestEmailCallback_SignsIn はトークン確認後にセッションを発行してリダイレクトすることを検証する。
func TestEmailCallback_SignsIn(t *testing.T) {
	tests := []struct {
		name    string
		user    *model.User
		wantLoc string
	}{
		{"signup completed", &model.User{ID: "user-1", Email: "a@example.com", Name: strPtr("alice")}, "/"},
		{"signup pending", &model.User{ID: "user-2", Email: "b@example.com"}, "/signup?email=b%40example.com"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var gotEmail, gotToken string
			email := &mockEmailSignIn{
				confirmLinkFn: func(ctx context.Context, email, token string) (*model.User, error) {
					gotEmail, gotToken = email, token
					return tt.user, nil
				},
			}
			collector := &recordingCollector{}
			h := newTestAuthHandler(nil, email, nil, collector)

			req := httptest.NewRequest(http.MethodGet, "/api/auth/callback/email?email=a%40example.com&token=tok", nil)
			w := httptest.NewRecorder()
			h.EmailCallback(w, req)

			if gotEmail != "a@example.com" || gotToken != "tok" {
				t.Errorf("ConfirmLink(%q, %q)", gotEmail, gotToken)
			}
			if w.Code != http.StatusTemporaryRedirect {
				t.Fatalf("status = %d, want %d", w.Code, http.StatusTemporaryRedirect)
			}
			if loc := w.Header().Get("Location"); loc != tt.wantLoc {
				t.Errorf("Location = %q, want %q", loc, tt.wantLoc)
			}
			if c := findCookie(w.Result(), "platforms_session"); c == nil || c.Value != "session-token" {
				t.Errorf("session cookie = %v, want session-token", c)
			}
			if len(collector.signIns) != 1 || collector.signIns[0] != "email:success" {
				t.Errorf("signIns = %v", collector.signIns)
			}
		})
	}
}

// TestEmailCallback_InvalidToken は確認失敗時にログインページへ戻すことを検証する。
func TestEmailCallback_InvalidToken(t *testing.T) {
	email := &mockEmailSignIn{
		confirmLinkFn: func(ctx context.Context, email, token string) (*model.User, error) {
			return nil, auth.ErrInvalidVerificationToken
		},
	}
	h := newTestAuthHandler(nil, email, nil, nil)

	w := httptest.NewRecorder()
	h.EmailCallback(w, httptest.NewRequest(http.MethodGet, "/api/auth/callback/email?email=a%40example.com&token=bad", nil))

	if w.Code != http.StatusTemporaryRedirect {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusTemporaryRedirect)
	}
	if loc := w.Header().Get("Location"); loc != loginErrorVerification {
		t.Errorf("Location = %q, want %q", loc, loginErrorVerification)
	}
	if c := findCookie(w.Result(), "platforms_session"); c != nil {
		t.Error("session cookie should not be set")
	}
}

// TestEmailCallback_IssueFailure はセッション発行失敗時にログインページへ戻すことを検証する。
func TestEmailCallback_IssueFailure(t *testing.T) {
	email := &mockEmailSignIn{
		confirmLinkFn: func(ctx context.Context, email, token string) (*model.User, error) {
			return &model.User{ID: "user-1", Email: email}, nil
		},
	}
	sessions := &mockSessionManager{
		issueFn: func(user *model.User) (string, *model.Session, error) {
			return "", nil, errors.New("signing failed")
		},
	}
	collector := &recordingCollector{}
	h := newTestAuthHandler(nil, email, sessions, collector)

	w := httptest.NewRecorder()
	h.EmailCallback(w, httptest.NewRequest(http.MethodGet, "/api/auth/callback/email?email=a%40example.com&token=tok", nil))

	if loc := w.Header().Get("Location"); loc != loginErrorVerification {
		t.Errorf("Location = %q, want %q", loc, loginErrorVerification)
	}
	if len(collector.signIns) != 1 || collector.signIns[0] != "email:failure" {
		t.Errorf("signIns = %v", collector.signIns)
	}
}

// TestProviderLogin_RedirectsWithState はstate Cookieを設定してプロバイダーへリダイレクトすることを検証する。
func TestProviderLogin_RedirectsWithState(t *testing.T) {
	h := newTestAuthHandler(nil, nil, nil, nil)

	req := withChiURLParam(httptest.NewRequest(http.MethodGet, "/api/auth/signin/github", nil), "provider", "github")
	w := httptest.NewRecorder()
	h.ProviderLogin(w, req)

	if w.Code != http.StatusTemporaryRedirect {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusTemporaryRedirect)
	}
	stateCookie := findCookie(w.Result(), oauthStateCookie)
	if stateCookie == nil || stateCookie.Value == "" {
		t.Fatal("expected oauth_state cookie")
	}
	if !stateCookie.HttpOnly {
		t.Error("oauth_state cookie should be HttpOnly")
	}

	loc, err := url.Parse(w.Header().Get("Location"))
	if err != nil {
		t.Fatalf("invalid Location: %v", err)
	}
	if loc.Query().Get("state") != stateCookie.Value {
		t.Errorf("state = %q, want %q", loc.Query().Get("state"), stateCookie.Value)
	}
}

// TestProviderLogin_UnknownProvider は未設定のプロバイダーで404を返すことを検証する。
func TestProviderLogin_UnknownProvider(t *testing.T) {
	h := newTestAuthHandler(nil, nil, nil, nil)

	req := withChiURLParam(httptest.NewRequest(http.MethodGet, "/api/auth/signin/myspace", nil), "provider", "myspace")
	w := httptest.NewRecorder()
	h.ProviderLogin(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want %d", w.Code, http.StatusNotFound)
	}
	var body middleware.ErrorResponseBody
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode: %v", err)
	}
	if body.Code != model.ErrCodeUnknownProvider {
		t.Errorf("code = %q, want %q", body.Code, model.ErrCodeUnknownProvider)
	}
}

func newCallbackRequest(query string, state string) *http.Request {
	req := httptest.NewRequest(http.MethodGet, "/api/auth/callback/github?"+query, nil)
	if state != "" {
		req.AddCookie(&http.Cookie{Name: oauthStateCookie, Value: state})
	}
	return withChiURLParam(req, "provider", "github")
}

// TestProviderCallback_StateValidation はstateの不一致・欠落で400を返すことを検証する。
func TestProviderCallback_StateValidation(t *testing.T) {
	tests := []struct {
		name   string
		query  string
		cookie string
	}{
		{"missing cookie", "code=c&state=s1", ""},
		{"mismatch", "code=c&state=s1", "s2"},
		{"missing state", "code=c", "s1"},
		{"missing code", "state=s1", "s1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			oauth := &mockOAuthService{
				handleCallbackFn: func(ctx context.Context, provider, code string) (*model.User, error) {
					t.Error("HandleCallback should not be called")
					return nil, nil
				},
			}
			h := newTestAuthHandler(oauth, nil, nil, nil)

			w := httptest.NewRecorder()
			h.ProviderCallback(w, newCallbackRequest(tt.query, tt.cookie))

			if w.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
			}
		})
	}
}

// TestProviderCallback_Results はコールバック結果ごとのリダイレクト先を検証する。
func TestProviderCallback_Results(t *testing.T) {
	tests := []struct {
		name       string
		user       *model.User
		err        error
		wantLoc    string
		wantMetric string
	}{
		{"new user", &model.User{ID: "user-1", Email: "a@example.com"}, nil, "/signup?email=a%40example.com", "github:success"},
		{"returning user", &model.User{ID: "user-1", Email: "a@example.com", Name: strPtr("alice")}, nil, "/", "github:success"},
		{"not linked", nil, auth.ErrAccountNotLinked, loginErrorNotLinked, "github:failure"},
		{"exchange failed", nil, errors.New("token exchange failed"), loginErrorCallback, "github:failure"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var gotCode string
			oauth := &mockOAuthService{
				handleCallbackFn: func(ctx context.Context, provider, code string) (*model.User, error) {
					gotCode = code
					return tt.user, tt.err
				},
			}
			collector := &recordingCollector{}
			h := newTestAuthHandler(oauth, nil, nil, collector)

			w := httptest.NewRecorder()
			h.ProviderCallback(w, newCallbackRequest("code=auth-code&state=s1", "s1"))

			if gotCode != "auth-code" {
				t.Errorf("code = %q, want %q", gotCode, "auth-code")
			}
			if w.Code != http.StatusTemporaryRedirect {
				t.Fatalf("status = %d, want %d", w.Code, http.StatusTemporaryRedirect)
			}
			if loc := w.Header().Get("Location"); loc != tt.wantLoc {
				t.Errorf("Location = %q, want %q", loc, tt.wantLoc)
			}
			if c := findCookie(w.Result(), oauthStateCookie); c == nil || c.MaxAge >= 0 {
				t.Error("expected oauth_state cookie to be cleared")
			}
			if len(collector.signIns) != 1 || collector.signIns[0] != tt.wantMetric {
				t.Errorf("signIns = %v, want [%s]", collector.signIns, tt.wantMetric)
			}
		})
	}
}
