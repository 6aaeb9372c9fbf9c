package handler

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/platforms/internal/middleware"
)

// pageResponse は書き換え後の内部ページが返す情報。
// 画面の描画はフロントエンドが担い、ここでは解決済みのルートを返す。
type pageResponse struct {
	Surface      string `json:"surface"`
	Domain       string `json:"domain,omitempty"`
	Path         string `json:"path"`
	Query        string `json:"query,omitempty"`
	OriginalPath string `json:"original_path,omitempty"`
	UserID       string `json:"user_id,omitempty"`
}

// PageHandler はテナントパイプラインで書き換えられた内部ルートを処理する。
type PageHandler struct{}

// NewPageHandler はPageHandlerを生成する。
func NewPageHandler() *PageHandler {
	return &PageHandler{}
}

// Routes は内部ページのルーティングを返す。
//
//	/app/*      ダッシュボード（appホスト）
//	/home/*     ルートドメインのトップページ
//	/{domain}/* テナントサイト
func (h *PageHandler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Get("/app", h.App)
	r.Get("/app/*", h.App)
	r.Get("/home", h.Home)
	r.Get("/home/*", h.Home)
	r.Get("/{domain}/*", h.Site)
	return r
}

// App はダッシュボードのページ。
func (h *PageHandler) App(w http.ResponseWriter, r *http.Request) {
	resp := h.page(r, "app", strings.TrimPrefix(r.URL.Path, "/app"))
	if sess := middleware.SessionFromContext(r.Context()); sess != nil {
		resp.UserID = sess.UserID
	}
	middleware.WriteJSON(w, http.StatusOK, resp)
}

// Home はルートドメインのページ。
func (h *PageHandler) Home(w http.ResponseWriter, r *http.Request) {
	middleware.WriteJSON(w, http.StatusOK, h.page(r, "home", strings.TrimPrefix(r.URL.Path, "/home")))
}

// Site はテナントサイトのページ。
func (h *PageHandler) Site(w http.ResponseWriter, r *http.Request) {
	// ワイルドカードはRawPathで照合された場合エスケープされたままのため、デコード済みのPathから切り出す
	domain := chi.URLParam(r, "domain")
	resp := h.page(r, "site", strings.TrimPrefix(r.URL.Path, "/"+domain))
	resp.Domain = domain
	middleware.WriteJSON(w, http.StatusOK, resp)
}

func (h *PageHandler) page(r *http.Request, surface, path string) pageResponse {
	if path == "" {
		path = "/"
	}
	return pageResponse{
		Surface:      surface,
		Path:         path,
		Query:        r.URL.RawQuery,
		OriginalPath: r.Header.Get(middleware.OriginalPathHeader),
	}
}
