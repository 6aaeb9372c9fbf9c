package routing

import (
	"errors"
	"net/http"

	"github.com/hitoshi/platforms/internal/model"
	"github.com/hitoshi/platforms/internal/tenant"
)

// ErrMissingHost はHostヘッダーが空のリクエストを表す。
var ErrMissingHost = errors.New("request has no host")

// HostResolver はHostヘッダーをテナント種別に分類するインターフェース。
type HostResolver interface {
	Resolve(hostHeader string) tenant.Host
}

// Result はRewriterの判定結果と、判定の過程で得た情報。
type Result struct {
	Decision Decision
	Host     tenant.Host
	Session  *model.Session // appホストで取得したセッション（未ログイン時はnil）
}

// Rewriter はホスト判定と認証ゲートを組み合わせて最終ルートを決定する。
type Rewriter struct {
	resolver     HostResolver
	gate         *Gate
	marketingURL string
}

// NewRewriter はRewriterを生成する。
func NewRewriter(resolver HostResolver, gate *Gate, marketingURL string) *Rewriter {
	return &Rewriter{
		resolver:     resolver,
		gate:         gate,
		marketingURL: marketingURL,
	}
}

// Rewrite はリクエストの最終ルートを決定する。
func (rw *Rewriter) Rewrite(r *http.Request) (Decision, error) {
	res, err := rw.Resolve(r)
	if err != nil {
		return Decision{}, err
	}
	return res.Decision, nil
}

// Resolve はRewriteと同じ判定を行い、ホスト種別とセッションも返す。
func (rw *Rewriter) Resolve(r *http.Request) (Result, error) {
	if r.Host == "" {
		return Result{}, ErrMissingHost
	}

	host := rw.resolver.Resolve(r.Host)
	// 書き換え先はエスケープ済みのパスで組み立てる（%2F、%3F、%23をパスに残す）
	path := r.URL.EscapedPath()
	query := r.URL.RawQuery

	switch host.Kind {
	case tenant.MarketingHost:
		return Result{Decision: RedirectTo(rw.marketingURL), Host: host}, nil
	case tenant.AppHost:
		decision, sess := rw.gate.Evaluate(r)
		return Result{Decision: decision, Host: host, Session: sess}, nil
	case tenant.RootHost:
		return Result{Decision: RewriteTo(withQuery(prefixed("/home", path), query)), Host: host}, nil
	default:
		return Result{Decision: RewriteTo(withQuery("/"+host.Value+path, query)), Host: host}, nil
	}
}
