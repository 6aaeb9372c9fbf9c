package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/hitoshi/platforms/internal/metrics"
	"github.com/hitoshi/platforms/internal/middleware"
	"github.com/prometheus/client_golang/prometheus"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	Logger             *slog.Logger
	Collector          metrics.MetricsCollector
	RouteResolver      middleware.RouteResolver
	Sessions           SessionManager
	RateLimiter        *middleware.RateLimiter
	CSRFConfig         middleware.CSRFConfig
	CORSAllowedOrigins []string
	Production         bool

	// 認証
	OAuthService OAuthServiceInterface
	EmailSignIn  EmailSignInInterface
	AuthConfig   AuthHandlerConfig

	// ユーザー
	UserService UserServiceInterface

	// サイト・記事
	SiteService SiteServiceInterface
}

// NewRouter は全エンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	RequestID → RealIP → Recovery → SecurityHeaders → Logging
//
// /api/* はホストに関係なく処理する。それ以外のパスはTenantMiddlewareで内部ルートに書き換えてからページルーターへ渡す。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewSecurityHeadersMiddleware(deps.Production))
	r.Use(middleware.NewLoggingMiddleware(deps.Logger, deps.Collector))

	authHandler := NewAuthHandler(deps.OAuthService, deps.EmailSignIn, deps.Sessions, deps.Collector, deps.AuthConfig)
	userHandler := NewUserHandler(deps.UserService)
	siteHandler := NewSiteHandler(deps.SiteService, deps.Sessions)
	pageHandler := NewPageHandler()

	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigins...))
		r.Use(middleware.NewCSRFMiddleware(deps.CSRFConfig))

		r.Get("/csrf-token", middleware.NewCSRFTokenHandler(deps.CSRFConfig).ServeHTTP)

		// 認証ルート
		r.Route("/auth", func(r chi.Router) {
			r.Get("/session", authHandler.Session)
			r.Post("/signout", authHandler.SignOut)

			// メールリンク（リンク要求はIPごとにレート制限）
			r.With(deps.RateLimiter.SignInMiddleware()).Post("/signin/email", authHandler.EmailSignIn)
			r.Get("/callback/email", authHandler.EmailCallback)

			// OAuthフロー
			r.Get("/signin/{provider}", authHandler.ProviderLogin)
			r.Get("/callback/{provider}", authHandler.ProviderCallback)
		})

		// --- 認証が必要なルート ---
		r.Group(func(r chi.Router) {
			r.Use(middleware.NewSessionMiddleware(deps.Sessions))

			r.Route("/users/me", func(r chi.Router) {
				r.Get("/", userHandler.Me)
				r.Post("/signup", userHandler.CompleteSignup)
			})
		})

		// サイト・記事（認可失敗はActionResultで返す）
		r.Get("/sites/{id}", siteHandler.GetSite)
		r.Get("/posts/{id}", siteHandler.GetPost)
	})

	// テナントパイプライン
	r.Handle("/*", middleware.NewTenantMiddleware(deps.RouteResolver, deps.Collector)(pageHandler.Routes()))

	return r
}

// NewStatusRouter は/healthと/metricsのみを提供するルーターを返す。
// テナントのホストに公開しないよう、APIサーバーとは別のポートで待ち受ける。
// gathererがnilの場合は/metricsを提供しない。
func NewStatusRouter(checker HealthChecker, gatherer prometheus.Gatherer) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.NewRecoveryMiddleware())
	r.Get("/health", NewHealthHandler(checker))
	if gatherer != nil {
		r.Handle("/metrics", metrics.Handler(gatherer))
	}
	return r
}
