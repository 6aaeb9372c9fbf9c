// Package user はユーザー管理のドメインロジックを提供する。
package user

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/hitoshi/platforms/internal/model"
	"github.com/hitoshi/platforms/internal/security"
)

// maxNameLength はユーザー名の最大文字数。
const maxNameLength = 64

// Store はユーザーの参照・更新インターフェース。
// repository.UserRepositoryが実装する。
type Store interface {
	FindByID(ctx context.Context, id string) (*model.User, error)
	CompleteSignup(ctx context.Context, id, name string, role model.Role) (*model.User, error)
}

// Service はユーザー管理のサービス層。
// オンボーディング（ユーザー名と役割の設定）のビジネスロジックを提供する。
type Service struct {
	users     Store
	sanitizer *security.TextSanitizer
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(users Store) *Service {
	return &Service{
		users:     users,
		sanitizer: security.NewTextSanitizer(),
	}
}

// Me はユーザーを取得する。存在しない場合はUserNotFoundエラーを返す。
func (s *Service) Me(ctx context.Context, userID string) (*model.User, error) {
	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	if user == nil {
		return nil, model.NewUserNotFoundError()
	}
	return user, nil
}

// CompleteSignup はユーザー名と役割を設定してサインアップを完了する。
// 名前は前後の空白を除いて1文字以上64文字以下でHTMLタグを含まないこと。
// 役割はReaderまたはWriterのみ選択できる。
func (s *Service) CompleteSignup(ctx context.Context, userID, name string, role model.Role) (*model.User, error) {
	name = strings.TrimSpace(name)
	if name == "" || utf8.RuneCountInString(name) > maxNameLength || s.sanitizer.HasMarkup(name) {
		return nil, model.NewInvalidNameError()
	}
	if role != model.RoleReader && role != model.RoleWriter {
		return nil, model.NewInvalidRoleError(string(role))
	}

	user, err := s.users.CompleteSignup(ctx, userID, name, role)
	if err != nil {
		return nil, fmt.Errorf("failed to complete signup: %w", err)
	}
	if user == nil {
		return nil, model.NewUserNotFoundError()
	}

	slog.Info("signup completed",
		slog.String("user_id", userID),
		slog.String("role", string(role)),
	)
	return user, nil
}
