package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/platforms/internal/auth"
	"github.com/hitoshi/platforms/internal/middleware"
	"github.com/hitoshi/platforms/internal/model"
)

// SiteServiceInterface はサイト・記事ハンドラーが必要とするサービスインターフェース。
// 認可に失敗した場合はActionResultを返す。
type SiteServiceInterface interface {
	GetSite(ctx context.Context, sess *model.Session, siteID string) (any, *auth.ActionResult, error)
	GetPost(ctx context.Context, sess *model.Session, postID string) (any, *auth.ActionResult, error)
}

// SessionReader はリクエストからセッションを取得するインターフェース。
type SessionReader interface {
	FromRequest(r *http.Request) (*model.Session, error)
}

// SiteHandler はサイト・記事参照のHTTPハンドラー。
type SiteHandler struct {
	service  SiteServiceInterface
	sessions SessionReader
}

// NewSiteHandler はSiteHandlerを生成する。
func NewSiteHandler(service SiteServiceInterface, sessions SessionReader) *SiteHandler {
	return &SiteHandler{
		service:  service,
		sessions: sessions,
	}
}

// GetSite はログイン中のユーザーが所有するサイトを返す。
// GET /api/sites/{id}
func (h *SiteHandler) GetSite(w http.ResponseWriter, r *http.Request) {
	h.serve(w, r, h.service.GetSite)
}

// GetPost はログイン中のユーザーが所有する記事を返す。
// GET /api/posts/{id}
func (h *SiteHandler) GetPost(w http.ResponseWriter, r *http.Request) {
	h.serve(w, r, h.service.GetPost)
}

func (h *SiteHandler) serve(w http.ResponseWriter, r *http.Request, action auth.GuardedAction) {
	sess, err := h.sessions.FromRequest(r)
	if err != nil {
		slog.Warn("invalid session token", slog.String("error", err.Error()))
		sess = nil
	}

	v, result, err := action(r.Context(), sess, chi.URLParam(r, "id"))
	if err != nil {
		slog.Error("guarded action failed", slog.String("error", err.Error()))
		middleware.WriteInternalServerError(w)
		return
	}
	if result != nil {
		middleware.WriteJSON(w, result.Status, result)
		return
	}

	middleware.WriteJSON(w, http.StatusOK, v)
}
