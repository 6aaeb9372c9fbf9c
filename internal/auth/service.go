// Package auth はサインインフロー（OAuthとメールリンク）と、
// サイト・記事に対する操作の認可ガードを提供する。
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/hitoshi/platforms/internal/model"
	"github.com/hitoshi/platforms/internal/repository"
	"github.com/hitoshi/platforms/internal/security"
)

// ErrUnknownProvider は設定されていないプロバイダーが指定されたことを表す。
var ErrUnknownProvider = errors.New("unknown sign-in provider")

// ErrAccountNotLinked は同じメールアドレスのユーザーが別の方法で登録済みであることを表す。
// 未確認のメールアドレスで既存ユーザーに紐付けないため、サインインを拒否する。
var ErrAccountNotLinked = errors.New("email is registered with another sign-in method")

// Service はOAuthによるサインインを提供する。
type Service struct {
	providers map[string]OAuthProvider
	userRepo  repository.UserRepository
	accounts  repository.AccountRepository
	flow      *VerificationFlow
	sanitizer *security.TextSanitizer
	guard     *security.SSRFGuard
	now       func() time.Time
}

// NewService はServiceを生成する。providersのうちnilは無視する。
func NewService(
	userRepo repository.UserRepository,
	accounts repository.AccountRepository,
	flow *VerificationFlow,
	providers ...OAuthProvider,
) *Service {
	m := make(map[string]OAuthProvider, len(providers))
	for _, p := range providers {
		if p != nil {
			m[p.Name()] = p
		}
	}
	return &Service{
		providers: m,
		userRepo:  userRepo,
		accounts:  accounts,
		flow:      flow,
		sanitizer: security.NewTextSanitizer(),
		guard:     security.NewSSRFGuard(),
		now:       time.Now,
	}
}

// HasProvider はプロバイダーが設定されているかを返す。
func (s *Service) HasProvider(name string) bool {
	_, ok := s.providers[name]
	return ok
}

// LoginURL はOAuth認証URLを生成する。
func (s *Service) LoginURL(provider, state string) (string, error) {
	p, ok := s.providers[provider]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownProvider, provider)
	}
	return p.LoginURL(state), nil
}

// HandleCallback はOAuthコールバックを処理し、サインインしたユーザーを返す。
// 未登録ユーザーの場合はusersレコードとaccountsレコードを同時に作成する。
// 登録済みユーザーの場合はaccountsテーブルで既存ユーザーを特定する。
func (s *Service) HandleCallback(ctx context.Context, provider, code string) (*model.User, error) {
	p, ok := s.providers[provider]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, provider)
	}

	// 1. 認可コードをトークンに交換し、プロフィールを取得
	identity, err := p.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("failed to exchange oauth code: %w", err)
	}

	// 2. accountsテーブルで既存ユーザーを検索
	user, err := s.findLinkedUser(ctx, identity)
	if err != nil {
		return nil, err
	}

	if user != nil {
		slog.Info("existing user logged in",
			slog.String("user_id", user.ID),
			slog.String("provider", provider),
		)
	} else {
		// 3. 新規ユーザー: usersレコードとaccountsレコードを同時に作成
		user, err = s.createUser(ctx, identity)
		if err != nil {
			return nil, err
		}
	}

	// 4. サインイン判定（OAuthでは常に許可される）
	outcome, err := s.flow.SignIn(ctx, Attempt{Provider: provider, Email: user.Email})
	if err != nil {
		return nil, fmt.Errorf("sign-in rejected: %w", err)
	}
	if !outcome.Allowed {
		return nil, fmt.Errorf("sign-in not allowed for provider %s", provider)
	}

	return user, nil
}

func (s *Service) findLinkedUser(ctx context.Context, identity Identity) (*model.User, error) {
	account, err := s.accounts.FindByProviderAccount(ctx, identity.Provider, identity.ProviderAccountID)
	if err != nil {
		return nil, fmt.Errorf("failed to find account: %w", err)
	}
	if account == nil {
		return nil, nil
	}

	user, err := s.userRepo.FindByID(ctx, account.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	if user == nil {
		return nil, fmt.Errorf("account %s references missing user %s", account.ID, account.UserID)
	}
	return user, nil
}

func (s *Service) createUser(ctx context.Context, identity Identity) (*model.User, error) {
	// IdPのプロフィールはテナントサイトに表示されるため、タグを除去する
	image := identity.Image
	if image != "" {
		if err := s.guard.ValidateURL(image); err != nil {
			slog.Warn("profile image dropped",
				slog.String("provider", identity.Provider),
				slog.String("error", err.Error()),
			)
			image = ""
		}
	}

	now := s.now()
	user := &model.User{
		ID:        uuid.New().String(),
		Email:     identity.Email,
		Name:      optional(s.sanitizer.Clean(identity.Name)),
		Username:  optional(s.sanitizer.Clean(identity.Username)),
		Image:     optional(image),
		Role:      identity.Role,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if user.Role == "" {
		user.Role = model.RoleIndecisive
	}

	account := &model.Account{
		ID:                uuid.New().String(),
		UserID:            user.ID,
		Provider:          identity.Provider,
		ProviderAccountID: identity.ProviderAccountID,
		CreatedAt:         now,
	}

	err := s.userRepo.CreateWithAccount(ctx, user, account)
	if errors.Is(err, repository.ErrDuplicateEmail) {
		return nil, ErrAccountNotLinked
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create user and account: %w", err)
	}

	slog.Info("new user created",
		slog.String("user_id", user.ID),
		slog.String("provider", identity.Provider),
	)
	return user, nil
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
