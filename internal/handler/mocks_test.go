package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/platforms/internal/auth"
	"github.com/hitoshi/platforms/internal/middleware"
	"github.com/hitoshi/platforms/internal/model"
)

// mockOAuthService はテスト用のOAuthServiceInterfaceモック。
type mockOAuthService struct {
	hasProviderFn    func(name string) bool
	loginURLFn       func(provider, state string) (string, error)
	handleCallbackFn func(ctx context.Context, provider, code string) (*model.User, error)
}

func (m *mockOAuthService) HasProvider(name string) bool {
	if m.hasProviderFn != nil {
		return m.hasProviderFn(name)
	}
	return name == "github"
}

func (m *mockOAuthService) LoginURL(provider, state string) (string, error) {
	if m.loginURLFn != nil {
		return m.loginURLFn(provider, state)
	}
	return "https://github.com/login/oauth/authorize?state=" + state, nil
}

func (m *mockOAuthService) HandleCallback(ctx context.Context, provider, code string) (*model.User, error) {
	if m.handleCallbackFn != nil {
		return m.handleCallbackFn(ctx, provider, code)
	}
	return nil, nil
}

// mockEmailSignIn はテスト用のEmailSignInInterfaceモック。
type mockEmailSignIn struct {
	requestLinkFn func(ctx context.Context, email string) (auth.LinkResult, error)
	confirmLinkFn func(ctx context.Context, email, token string) (*model.User, error)
}

func (m *mockEmailSignIn) RequestLink(ctx context.Context, email string) (auth.LinkResult, error) {
	if m.requestLinkFn != nil {
		return m.requestLinkFn(ctx, email)
	}
	return auth.LinkResult{}, nil
}

func (m *mockEmailSignIn) ConfirmLink(ctx context.Context, email, token string) (*model.User, error) {
	if m.confirmLinkFn != nil {
		return m.confirmLinkFn(ctx, email, token)
	}
	return nil, nil
}

// mockSessionManager はテスト用のSessionManagerモック。
type mockSessionManager struct {
	issueFn       func(user *model.User) (string, *model.Session, error)
	fromRequestFn func(r *http.Request) (*model.Session, error)
	cleared       bool
}

func (m *mockSessionManager) Issue(user *model.User) (string, *model.Session, error) {
	if m.issueFn != nil {
		return m.issueFn(user)
	}
	return "session-token", &model.Session{UserID: user.ID, Email: user.Email}, nil
}

func (m *mockSessionManager) FromRequest(r *http.Request) (*model.Session, error) {
	if m.fromRequestFn != nil {
		return m.fromRequestFn(r)
	}
	return nil, nil
}

func (m *mockSessionManager) SetCookie(w http.ResponseWriter, token string) {
	http.SetCookie(w, &http.Cookie{Name: "platforms_session", Value: token, Path: "/"})
}

func (m *mockSessionManager) ClearCookie(w http.ResponseWriter) {
	m.cleared = true
	http.SetCookie(w, &http.Cookie{Name: "platforms_session", Value: "", Path: "/", MaxAge: -1})
}

// mockUserService はテスト用のUserServiceInterfaceモック。
type mockUserService struct {
	meFn             func(ctx context.Context, userID string) (*model.User, error)
	completeSignupFn func(ctx context.Context, userID, name string, role model.Role) (*model.User, error)
}

func (m *mockUserService) Me(ctx context.Context, userID string) (*model.User, error) {
	if m.meFn != nil {
		return m.meFn(ctx, userID)
	}
	return &model.User{ID: userID}, nil
}

func (m *mockUserService) CompleteSignup(ctx context.Context, userID, name string, role model.Role) (*model.User, error) {
	if m.completeSignupFn != nil {
		return m.completeSignupFn(ctx, userID, name, role)
	}
	return &model.User{ID: userID, Name: &name, Role: role}, nil
}

// mockSiteService はテスト用のSiteServiceInterfaceモック。
type mockSiteService struct {
	getSiteFn func(ctx context.Context, sess *model.Session, siteID string) (any, *auth.ActionResult, error)
	getPostFn func(ctx context.Context, sess *model.Session, postID string) (any, *auth.ActionResult, error)
}

func (m *mockSiteService) GetSite(ctx context.Context, sess *model.Session, siteID string) (any, *auth.ActionResult, error) {
	if m.getSiteFn != nil {
		return m.getSiteFn(ctx, sess, siteID)
	}
	return nil, nil, nil
}

func (m *mockSiteService) GetPost(ctx context.Context, sess *model.Session, postID string) (any, *auth.ActionResult, error) {
	if m.getPostFn != nil {
		return m.getPostFn(ctx, sess, postID)
	}
	return nil, nil, nil
}

// recordingCollector はテスト用のメトリクスコレクター。
type recordingCollector struct {
	routes  []string
	signIns []string
}

func (c *recordingCollector) RecordRoute(hostKind, action string) {
	c.routes = append(c.routes, hostKind+":"+action)
}

func (c *recordingCollector) RecordSignIn(provider, result string) {
	c.signIns = append(c.signIns, provider+":"+result)
}

func (c *recordingCollector) RecordHTTPStatus(int)               {}
func (c *recordingCollector) RecordRequestLatency(time.Duration) {}
func (c *recordingCollector) RecordTokensPurged(int64)           {}

// withUserID はテスト用にセッションをコンテキストに注入するヘルパー。
func withUserID(r *http.Request, userID string) *http.Request {
	ctx := middleware.ContextWithSession(r.Context(), &model.Session{UserID: userID})
	return r.WithContext(ctx)
}

// withChiURLParam はテスト用にchiのURLパラメータを注入するヘルパー。
func withChiURLParam(r *http.Request, key, value string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add(key, value)
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

func strPtr(s string) *string {
	return &s
}
