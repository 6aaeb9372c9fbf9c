package routing

import (
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/hitoshi/platforms/internal/model"
)

const (
	loginPath  = "/login"
	signupPath = "/signup"
	verifyPath = "/verify"
)

// SessionSource はリクエストからセッションを取得するインターフェース。
// session.Storeが実装する。セッションが無い場合は (nil, nil) を返す。
type SessionSource interface {
	FromRequest(r *http.Request) (*model.Session, error)
}

// Decide はappホストに対する認証ゲートの判定を行う。
// escapedPathはクエリを含まないエスケープ済みのパス（URL.EscapedPath）、
// rawQueryはエスケープ済みのクエリ文字列。
// 規則の照合はデコードしたパスで行い、書き換え先はエスケープ済みのパスから組み立てる。
// 上から順に評価し、最初に該当した規則の結果を返す。
func Decide(authenticated bool, escapedPath, rawQuery string) Decision {
	path := unescapePath(escapedPath)

	// 1. 検証ページはログイン前でも到達できる
	if strings.HasPrefix(path, verifyPath) {
		return RewriteTo(withQuery("/app"+escapedPath, rawQuery))
	}

	// 2. 未ログイン
	if !authenticated && path != loginPath {
		if hasErrorParam(rawQuery) {
			return RewriteTo(withQuery("/app"+loginPath, rawQuery))
		}
		if strings.HasPrefix(path, signupPath) {
			return RewriteTo(withQuery("/app"+signupPath, rawQuery))
		}
		return RedirectTo(loginPath)
	}

	// 3. ログイン済みでログインページを開いた
	if authenticated && path == loginPath {
		return RedirectTo("/")
	}

	return RewriteTo(withQuery(prefixed("/app", escapedPath), rawQuery))
}

// unescapePath はエスケープ済みのパスをデコードする。不正なエスケープはそのまま返す。
func unescapePath(escapedPath string) string {
	path, err := url.PathUnescape(escapedPath)
	if err != nil {
		return escapedPath
	}
	return path
}

func hasErrorParam(rawQuery string) bool {
	if rawQuery == "" {
		return false
	}
	// 不正なペアがあっても解析できた部分で判定する
	values, _ := url.ParseQuery(rawQuery)
	_, ok := values["error"]
	return ok
}

// Gate はセッションを取得して認証ゲートを評価する。
type Gate struct {
	sessions SessionSource
}

// NewGate はGateを生成する。
func NewGate(sessions SessionSource) *Gate {
	return &Gate{sessions: sessions}
}

// Evaluate はリクエストのセッションを1回だけ取得し、ゲートの判定結果を返す。
// セッションの検証に失敗した場合は未ログインとして扱う。
func (g *Gate) Evaluate(r *http.Request) (Decision, *model.Session) {
	sess, err := g.sessions.FromRequest(r)
	if err != nil {
		slog.Warn("failed to read session, treating as unauthenticated",
			slog.String("error", err.Error()),
			slog.String("path", r.URL.Path),
		)
		sess = nil
	}
	return Decide(sess != nil, r.URL.EscapedPath(), r.URL.RawQuery), sess
}
