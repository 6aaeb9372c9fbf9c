package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/platforms/internal/model"
)

// PostgresAccountRepo はPostgreSQLを使用した外部IdPアカウントリポジトリ。
type PostgresAccountRepo struct {
	db *sql.DB
}

// NewPostgresAccountRepo はPostgresAccountRepoを生成する。
func NewPostgresAccountRepo(db *sql.DB) *PostgresAccountRepo {
	return &PostgresAccountRepo{db: db}
}

// FindByProviderAccount はproviderとprovider_account_idでアカウントを検索する。
// 見つからない場合はnilを返す。
func (r *PostgresAccountRepo) FindByProviderAccount(ctx context.Context, provider, providerAccountID string) (*model.Account, error) {
	account := &model.Account{}
	err := r.db.QueryRowContext(ctx,
		`SELECT id, user_id, provider, provider_account_id, created_at
		 FROM accounts
		 WHERE provider = $1 AND provider_account_id = $2`,
		provider, providerAccountID,
	).Scan(&account.ID, &account.UserID, &account.Provider, &account.ProviderAccountID, &account.CreatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find account: %w", err)
	}

	return account, nil
}

// Create は既存ユーザーに外部IdPアカウントを紐付ける。
func (r *PostgresAccountRepo) Create(ctx context.Context, account *model.Account) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO accounts (id, user_id, provider, provider_account_id, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		account.ID, account.UserID, account.Provider, account.ProviderAccountID, account.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert account: %w", err)
	}
	return nil
}

// compile-time interface check
var _ AccountRepository = (*PostgresAccountRepo)(nil)
