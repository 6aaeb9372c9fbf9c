package auth

import (
	"context"
	"fmt"
	"net/http"

	"github.com/hitoshi/platforms/internal/model"
	"github.com/hitoshi/platforms/internal/repository"
)

// ActionResult は認可に失敗した操作の結果。
// 例外ではなく値として返し、呼び出し側がメッセージを表示する。
type ActionResult struct {
	Error  string `json:"error"`
	Status int    `json:"-"`
}

func notAuthenticated() *ActionResult {
	return &ActionResult{Error: "Not authenticated", Status: http.StatusUnauthorized}
}

func notAuthorized() *ActionResult {
	return &ActionResult{Error: "Not authorized", Status: http.StatusForbidden}
}

func postNotFound() *ActionResult {
	return &ActionResult{Error: "Post not found", Status: http.StatusNotFound}
}

// SiteAction は所有者確認済みのサイトに対する操作。
type SiteAction func(ctx context.Context, site *model.Site) (any, error)

// PostAction は所有者確認済みの記事に対する操作。
type PostAction func(ctx context.Context, post *model.Post) (any, error)

// GuardedAction は認可ガードを通した操作。
// 認可に失敗した場合はActionResultを返し、リポジトリの失敗はerrorで返す。
type GuardedAction func(ctx context.Context, sess *model.Session, id string) (any, *ActionResult, error)

// Guard はサイト・記事の所有者確認を行う。
type Guard struct {
	sites repository.SiteRepository
	posts repository.PostRepository
}

// NewGuard はGuardを生成する。
func NewGuard(sites repository.SiteRepository, posts repository.PostRepository) *Guard {
	return &Guard{sites: sites, posts: posts}
}

// WithSiteAuth はセッションのユーザーがサイトの所有者である場合のみactionを実行する。
func (g *Guard) WithSiteAuth(action SiteAction) GuardedAction {
	return func(ctx context.Context, sess *model.Session, siteID string) (any, *ActionResult, error) {
		if sess == nil {
			return nil, notAuthenticated(), nil
		}

		site, err := g.sites.FindByID(ctx, siteID)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to find site: %w", err)
		}
		if site == nil || site.UserID != sess.UserID {
			return nil, notAuthorized(), nil
		}

		v, err := action(ctx, site)
		return v, nil, err
	}
}

// WithPostAuth はセッションのユーザーが記事の所有者である場合のみactionを実行する。
// 他人の記事は存在しない記事と区別しない。
func (g *Guard) WithPostAuth(action PostAction) GuardedAction {
	return func(ctx context.Context, sess *model.Session, postID string) (any, *ActionResult, error) {
		if sess == nil {
			return nil, notAuthenticated(), nil
		}

		post, err := g.posts.FindByID(ctx, postID)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to find post: %w", err)
		}
		if post == nil || post.UserID != sess.UserID {
			return nil, postNotFound(), nil
		}

		v, err := action(ctx, post)
		return v, nil, err
	}
}
