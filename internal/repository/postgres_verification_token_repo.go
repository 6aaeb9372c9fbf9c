package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hitoshi/platforms/internal/model"
)

// PostgresVerificationTokenRepo はPostgreSQLを使用したメールリンク認証トークンリポジトリ。
type PostgresVerificationTokenRepo struct {
	db  *sql.DB
	now func() time.Time
}

// NewPostgresVerificationTokenRepo はPostgresVerificationTokenRepoを生成する。
func NewPostgresVerificationTokenRepo(db *sql.DB) *PostgresVerificationTokenRepo {
	return &PostgresVerificationTokenRepo{db: db, now: time.Now}
}

// Create はトークンを保存する。
func (r *PostgresVerificationTokenRepo) Create(ctx context.Context, token *model.VerificationToken) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO verification_tokens (identifier, token_hash, expires_at)
		 VALUES ($1, $2, $3)`,
		token.Identifier, token.TokenHash, token.ExpiresAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create verification token: %w", err)
	}
	return nil
}

// Consume は一致するトークンを削除して返す。
// DELETE ... RETURNING により、同じトークンを2回消費することはできない。
// 見つからない場合、または期限切れの場合はnilを返す。
func (r *PostgresVerificationTokenRepo) Consume(ctx context.Context, identifier, tokenHash string) (*model.VerificationToken, error) {
	token := &model.VerificationToken{}
	err := r.db.QueryRowContext(ctx,
		`DELETE FROM verification_tokens
		 WHERE identifier = $1 AND token_hash = $2
		 RETURNING identifier, token_hash, expires_at`,
		identifier, tokenHash,
	).Scan(&token.Identifier, &token.TokenHash, &token.ExpiresAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to consume verification token: %w", err)
	}

	if !token.ExpiresAt.After(r.now()) {
		return nil, nil
	}

	return token, nil
}

// DeleteExpired は期限切れのトークンを削除する。
func (r *PostgresVerificationTokenRepo) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM verification_tokens WHERE expires_at <= $1`,
		before,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired verification tokens: %w", err)
	}
	return result.RowsAffected()
}

// compile-time interface check
var _ VerificationTokenRepository = (*PostgresVerificationTokenRepo)(nil)
