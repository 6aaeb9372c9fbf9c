package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/platforms/internal/model"
)

// PostgresSiteRepo はPostgreSQLを使用したサイトリポジトリ。
type PostgresSiteRepo struct {
	db *sql.DB
}

// NewPostgresSiteRepo はPostgresSiteRepoを生成する。
func NewPostgresSiteRepo(db *sql.DB) *PostgresSiteRepo {
	return &PostgresSiteRepo{db: db}
}

// FindByID は指定IDのサイトを取得する。見つからない場合はnilを返す。
func (r *PostgresSiteRepo) FindByID(ctx context.Context, id string) (*model.Site, error) {
	site := &model.Site{}
	var customDomain sql.NullString

	err := r.db.QueryRowContext(ctx,
		`SELECT id, user_id, name, subdomain, custom_domain, created_at, updated_at
		 FROM sites WHERE id = $1`,
		id,
	).Scan(&site.ID, &site.UserID, &site.Name, &site.Subdomain, &customDomain, &site.CreatedAt, &site.UpdatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find site: %w", err)
	}

	site.CustomDomain = nullStringPtr(customDomain)
	return site, nil
}

// PostgresPostRepo はPostgreSQLを使用した記事リポジトリ。
type PostgresPostRepo struct {
	db *sql.DB
}

// NewPostgresPostRepo はPostgresPostRepoを生成する。
func NewPostgresPostRepo(db *sql.DB) *PostgresPostRepo {
	return &PostgresPostRepo{db: db}
}

// FindByID は指定IDの記事を取得する。見つからない場合はnilを返す。
func (r *PostgresPostRepo) FindByID(ctx context.Context, id string) (*model.Post, error) {
	post := &model.Post{}
	err := r.db.QueryRowContext(ctx,
		`SELECT id, site_id, user_id, title, slug, published, created_at, updated_at
		 FROM posts WHERE id = $1`,
		id,
	).Scan(&post.ID, &post.SiteID, &post.UserID, &post.Title, &post.Slug, &post.Published, &post.CreatedAt, &post.UpdatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find post: %w", err)
	}

	return post, nil
}

// compile-time interface check
var (
	_ SiteRepository = (*PostgresSiteRepo)(nil)
	_ PostRepository = (*PostgresPostRepo)(nil)
)
