// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/hitoshi/platforms/internal/model"
)

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

// sessionContextKey はリクエストコンテキストにセッションを格納するためのキー。
var sessionContextKey = contextKey("session")

// SessionReader はリクエストからセッションを取得するインターフェース。
// session.Storeが実装する。セッションが無い場合は (nil, nil) を返す。
type SessionReader interface {
	FromRequest(r *http.Request) (*model.Session, error)
}

// NewSessionMiddleware はCookieのセッショントークンを検証し、
// セッションをリクエストコンテキストに注入するミドルウェアを返す。
// 未認証リクエストには401を返す。
func NewSessionMiddleware(sessions SessionReader) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sess, err := sessions.FromRequest(r)
			if err != nil {
				slog.Warn("invalid session token",
					slog.String("error", err.Error()),
				)
			}
			if err != nil || sess == nil {
				WriteErrorResponse(w, http.StatusUnauthorized, model.NewNotAuthenticatedError())
				return
			}

			annotate(r.Context(), slog.String("user_id", sess.UserID))
			next.ServeHTTP(w, r.WithContext(ContextWithSession(r.Context(), sess)))
		})
	}
}

// SessionFromContext はリクエストコンテキストからセッションを取得する。
// セッションミドルウェアを通過していない場合はnilを返す。
func SessionFromContext(ctx context.Context) *model.Session {
	sess, _ := ctx.Value(sessionContextKey).(*model.Session)
	return sess
}

// UserIDFromContext はリクエストコンテキストからユーザーIDを取得する。
// セッションミドルウェアを通過したリクエストでのみ有効。
func UserIDFromContext(ctx context.Context) (string, error) {
	sess := SessionFromContext(ctx)
	if sess == nil || sess.UserID == "" {
		return "", fmt.Errorf("user ID not found in context")
	}
	return sess.UserID, nil
}

// ContextWithSession はコンテキストにセッションを注入する。
// テストやミドルウェア以外のコンテキスト生成で使用する。
func ContextWithSession(ctx context.Context, sess *model.Session) context.Context {
	return context.WithValue(ctx, sessionContextKey, sess)
}
