package handler

import (
	"context"
	"time"

	"github.com/hitoshi/platforms/internal/auth"
	"github.com/hitoshi/platforms/internal/model"
)

// userResponse はユーザー情報のレスポンス型。
type userResponse struct {
	ID              string     `json:"id"`
	Email           string     `json:"email"`
	Name            *string    `json:"name"`
	Username        *string    `json:"username"`
	Image           *string    `json:"image"`
	Role            model.Role `json:"role"`
	SignupCompleted bool       `json:"signup_completed"`
}

func toUserResponse(u *model.User) userResponse {
	return userResponse{
		ID:              u.ID,
		Email:           u.Email,
		Name:            u.Name,
		Username:        u.Username,
		Image:           u.Image,
		Role:            u.Role,
		SignupCompleted: u.SignupCompleted(),
	}
}

// siteResponse はサイト情報のレスポンス型。
type siteResponse struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Subdomain    string    `json:"subdomain"`
	CustomDomain *string   `json:"custom_domain"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func toSiteResponse(s *model.Site) *siteResponse {
	return &siteResponse{
		ID:           s.ID,
		Name:         s.Name,
		Subdomain:    s.Subdomain,
		CustomDomain: s.CustomDomain,
		CreatedAt:    s.CreatedAt,
		UpdatedAt:    s.UpdatedAt,
	}
}

// postResponse は記事情報のレスポンス型。
type postResponse struct {
	ID        string    `json:"id"`
	SiteID    string    `json:"site_id"`
	Title     string    `json:"title"`
	Slug      string    `json:"slug"`
	Published bool      `json:"published"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func toPostResponse(p *model.Post) *postResponse {
	return &postResponse{
		ID:        p.ID,
		SiteID:    p.SiteID,
		Title:     p.Title,
		Slug:      p.Slug,
		Published: p.Published,
		CreatedAt: p.CreatedAt,
		UpdatedAt: p.UpdatedAt,
	}
}

// SiteServiceAdapter は auth.Guard を SiteServiceInterface に適合させるアダプタ。
// 所有者確認を通った場合のみサイト・記事をレスポンス型に変換して返す。
type SiteServiceAdapter struct {
	getSite auth.GuardedAction
	getPost auth.GuardedAction
}

// NewSiteServiceAdapter はSiteServiceAdapterを生成する。
func NewSiteServiceAdapter(guard *auth.Guard) *SiteServiceAdapter {
	return &SiteServiceAdapter{
		getSite: guard.WithSiteAuth(func(ctx context.Context, site *model.Site) (any, error) {
			return toSiteResponse(site), nil
		}),
		getPost: guard.WithPostAuth(func(ctx context.Context, post *model.Post) (any, error) {
			return toPostResponse(post), nil
		}),
	}
}

// GetSite はセッションのユーザーが所有するサイトを返す。
func (a *SiteServiceAdapter) GetSite(ctx context.Context, sess *model.Session, siteID string) (any, *auth.ActionResult, error) {
	return a.getSite(ctx, sess, siteID)
}

// GetPost はセッションのユーザーが所有する記事を返す。
func (a *SiteServiceAdapter) GetPost(ctx context.Context, sess *model.Session, postID string) (any, *auth.ActionResult, error) {
	return a.getPost(ctx, sess, postID)
}
