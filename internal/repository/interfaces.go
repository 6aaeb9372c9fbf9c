// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/hitoshi/platforms/internal/model"
)

// ErrDuplicateEmail は同じメールアドレスのユーザーが既に存在することを表す。
// 一意制約違反をストレージ層で検出して返す。
var ErrDuplicateEmail = errors.New("user with this email already exists")

// UserRepository はユーザーデータの永続化インターフェース。
type UserRepository interface {
	// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.User, error)

	// FindByEmail はメールアドレス（大文字小文字を区別しない）でユーザーを取得する。
	// 見つからない場合はnilを返す。
	FindByEmail(ctx context.Context, email string) (*model.User, error)

	// Create は名前未設定のユーザーを作成する。
	// 同じメールアドレスのユーザーが存在する場合はErrDuplicateEmailを返す。
	Create(ctx context.Context, email string, role model.Role) (*model.User, error)

	// CreateWithAccount はユーザーと外部IdPアカウントを同一トランザクションで作成する。
	CreateWithAccount(ctx context.Context, user *model.User, account *model.Account) error

	// CompleteSignup はユーザー名と役割を設定する。
	CompleteSignup(ctx context.Context, id, name string, role model.Role) (*model.User, error)
}

// AccountRepository は外部IdP紐付け情報の永続化インターフェース。
type AccountRepository interface {
	// FindByProviderAccount はproviderとprovider_account_idでアカウントを検索する。
	// 見つからない場合はnilを返す。
	FindByProviderAccount(ctx context.Context, provider, providerAccountID string) (*model.Account, error)

	// Create は既存ユーザーに外部IdPアカウントを紐付ける。
	Create(ctx context.Context, account *model.Account) error
}

// VerificationTokenRepository はメールリンク認証トークンの永続化インターフェース。
type VerificationTokenRepository interface {
	// Create はトークンを保存する。
	Create(ctx context.Context, token *model.VerificationToken) error

	// Consume は一致するトークンを削除して返す。見つからない場合はnilを返す。
	// 期限切れのトークンも削除するが、nilを返す。
	Consume(ctx context.Context, identifier, tokenHash string) (*model.VerificationToken, error)

	// DeleteExpired は指定時刻以前に期限切れとなったトークンを削除し、削除件数を返す。
	DeleteExpired(ctx context.Context, before time.Time) (int64, error)
}

// SiteRepository はサイトデータの参照インターフェース。
type SiteRepository interface {
	// FindByID は指定IDのサイトを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Site, error)
}

// PostRepository は記事データの参照インターフェース。
type PostRepository interface {
	// FindByID は指定IDの記事を取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Post, error)
}
