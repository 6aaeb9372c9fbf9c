package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hitoshi/platforms/internal/model"
)

const userColumns = `id, email, name, username, image, role, created_at, updated_at`

// PostgresUserRepo はPostgreSQLを使用したユーザーリポジトリ。
// メールアドレスの一意性は users(lower(email)) のユニークインデックスで保証する。
type PostgresUserRepo struct {
	db *sql.DB
}

// NewPostgresUserRepo はPostgresUserRepoを生成する。
func NewPostgresUserRepo(db *sql.DB) *PostgresUserRepo {
	return &PostgresUserRepo{db: db}
}

// rowScanner は*sql.Rowと*sql.Rowsの共通インターフェース。
type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*model.User, error) {
	user := &model.User{}
	var name, username, image sql.NullString
	var role string

	if err := row.Scan(
		&user.ID, &user.Email, &name, &username, &image, &role,
		&user.CreatedAt, &user.UpdatedAt,
	); err != nil {
		return nil, err
	}

	user.Name = nullStringPtr(name)
	user.Username = nullStringPtr(username)
	user.Image = nullStringPtr(image)
	user.Role = model.Role(role)
	return user, nil
}

// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
func (r *PostgresUserRepo) FindByID(ctx context.Context, id string) (*model.User, error) {
	user, err := scanUser(r.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = $1`,
		id,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find user by ID: %w", err)
	}
	return user, nil
}

// FindByEmail はメールアドレスでユーザーを取得する。見つからない場合はnilを返す。
func (r *PostgresUserRepo) FindByEmail(ctx context.Context, email string) (*model.User, error) {
	user, err := scanUser(r.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE lower(email) = lower($1)`,
		email,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find user by email: %w", err)
	}
	return user, nil
}

// Create は名前未設定のユーザーを作成する。
// 一意制約違反の場合はErrDuplicateEmailを返す。
func (r *PostgresUserRepo) Create(ctx context.Context, email string, role model.Role) (*model.User, error) {
	now := time.Now().UTC()

	user, err := scanUser(r.db.QueryRowContext(ctx,
		`INSERT INTO users (id, email, role, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $4)
		 RETURNING `+userColumns,
		uuid.New().String(), email, string(role), now,
	))
	if isUniqueViolation(err) {
		return nil, ErrDuplicateEmail
	}
	if err != nil {
		return nil, fmt.Errorf("failed to insert user: %w", err)
	}
	return user, nil
}

// CreateWithAccount はユーザーと外部IdPアカウントを同一トランザクションで作成する。
func (r *PostgresUserRepo) CreateWithAccount(ctx context.Context, user *model.User, account *model.Account) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	// ユーザーを作成
	_, err = tx.ExecContext(ctx,
		`INSERT INTO users (id, email, name, username, image, role, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		user.ID, user.Email, user.Name, user.Username, user.Image, string(user.Role),
		user.CreatedAt, user.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return ErrDuplicateEmail
	}
	if err != nil {
		return fmt.Errorf("failed to insert user: %w", err)
	}

	// アカウントを作成
	_, err = tx.ExecContext(ctx,
		`INSERT INTO accounts (id, user_id, provider, provider_account_id, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		account.ID, account.UserID, account.Provider, account.ProviderAccountID, account.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert account: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// CompleteSignup はユーザー名と役割を設定する。ユーザーが存在しない場合はnilを返す。
func (r *PostgresUserRepo) CompleteSignup(ctx context.Context, id, name string, role model.Role) (*model.User, error) {
	user, err := scanUser(r.db.QueryRowContext(ctx,
		`UPDATE users SET name = $2, role = $3, updated_at = $4
		 WHERE id = $1
		 RETURNING `+userColumns,
		id, name, string(role), time.Now().UTC(),
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update user: %w", err)
	}
	return user, nil
}

// compile-time interface check
var _ UserRepository = (*PostgresUserRepo)(nil)
