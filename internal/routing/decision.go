// Package routing はリクエストのホストとパスから内部ルートを決定する。
// 決定は「書き換え（Rewrite）」と「リダイレクト（Redirect）」の2種類で、
// HTTP層（middleware.TenantRewrite）がこれを適用する。
package routing

import "regexp"

// Action はルーティング決定の種別。
type Action string

const (
	// Rewrite はサーバー内部でルートを差し替える。ブラウザのURLは変わらない。
	Rewrite Action = "rewrite"
	// Redirect はHTTPリダイレクトを返す。ブラウザのURLが変わる。
	Redirect Action = "redirect"
)

// Decision はルーティングの決定結果。
// Rewriteの場合Targetはエスケープ済みのパスとクエリ文字列からなるリクエストURI、
// Redirectの場合はLocationヘッダーに設定するURL。
type Decision struct {
	Action Action
	Target string
}

// RewriteTo は書き換えの決定を生成する。
func RewriteTo(target string) Decision {
	return Decision{Action: Rewrite, Target: target}
}

// RedirectTo はリダイレクトの決定を生成する。
func RedirectTo(target string) Decision {
	return Decision{Action: Redirect, Target: target}
}

// bypassPattern はテナントルーティングの対象外とするパス。
// API、ビルド成果物、静的ファイル（拡張子付きのパス）が該当する。
var bypassPattern = regexp.MustCompile(`^/(api/|_next/|_static/|_vercel|[\w-]+\.\w+)`)

// Bypass はパスがテナントルーティングの対象外かどうかを返す。
func Bypass(path string) bool {
	return bypassPattern.MatchString(path)
}

// withQuery はターゲットパスにクエリ文字列を付け直す。
func withQuery(path, rawQuery string) string {
	if rawQuery == "" {
		return path
	}
	return path + "?" + rawQuery
}

// prefixed はパスにプレフィックスを付ける。ルートパス "/" はプレフィックスそのものになる。
func prefixed(prefix, path string) string {
	if path == "" || path == "/" {
		return prefix
	}
	return prefix + path
}
