package middleware

import (
	"errors"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/hitoshi/platforms/internal/metrics"
	"github.com/hitoshi/platforms/internal/model"
	"github.com/hitoshi/platforms/internal/routing"
)

// RouteResolver はリクエストの最終ルートを決定するインターフェース。
// routing.Rewriterが実装する。
type RouteResolver interface {
	Resolve(r *http.Request) (routing.Result, error)
}

// NewTenantMiddleware はホストとパスから内部ルートを決定し適用するミドルウェアを返す。
// Redirectの場合は307を返し、Rewriteの場合はURLを書き換えて次のハンドラーへ渡す。
// API・静的ファイルのパスは書き換えずに通す。collectorはnilでもよい。
func NewTenantMiddleware(resolver RouteResolver, collector metrics.MetricsCollector) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if routing.Bypass(r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}

			res, err := resolver.Resolve(r)
			if errors.Is(err, routing.ErrMissingHost) {
				WriteErrorResponse(w, http.StatusBadRequest, model.NewMissingHostError())
				return
			}
			if err != nil {
				slog.Error("failed to resolve route", slog.String("error", err.Error()))
				WriteInternalServerError(w)
				return
			}

			if collector != nil {
				collector.RecordRoute(string(res.Host.Kind), string(res.Decision.Action))
			}
			annotate(r.Context(),
				slog.String("host_kind", string(res.Host.Kind)),
				slog.String("route_action", string(res.Decision.Action)),
				slog.String("route_target", res.Decision.Target),
			)

			ctx := r.Context()
			if res.Session != nil {
				annotate(ctx, slog.String("user_id", res.Session.UserID))
				ctx = ContextWithSession(ctx, res.Session)
			}

			if res.Decision.Action == routing.Redirect {
				http.Redirect(w, r, res.Decision.Target, http.StatusTemporaryRedirect)
				return
			}

			rewritten, err := rewriteRequest(r.WithContext(ctx), res.Decision.Target)
			if err != nil {
				slog.Error("invalid rewrite target",
					slog.String("target", res.Decision.Target),
					slog.String("error", err.Error()),
				)
				WriteInternalServerError(w)
				return
			}
			next.ServeHTTP(w, rewritten)
		})
	}
}

// OriginalPathHeader は書き換え前のパスを内部ハンドラーに伝えるヘッダー。
const OriginalPathHeader = "X-Original-Path"

// rewriteRequest はリクエストのパスとクエリを書き換えたコピーを返す。
// targetはエスケープ済みのリクエストURIで、PathとRawPathの両方を設定する。
func rewriteRequest(r *http.Request, target string) (*http.Request, error) {
	u, err := url.ParseRequestURI(target)
	if err != nil {
		return nil, err
	}

	r2 := r.Clone(r.Context())
	r2.Header.Set(OriginalPathHeader, r.URL.Path)
	r2.URL.Path = u.Path
	r2.URL.RawPath = u.RawPath
	r2.URL.RawQuery = u.RawQuery
	r2.RequestURI = u.RequestURI()
	return r2, nil
}
