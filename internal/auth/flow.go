package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/hitoshi/platforms/internal/model"
	"github.com/hitoshi/platforms/internal/repository"
	"golang.org/x/sync/singleflight"
)

// ProviderEmail はメールリンク認証プロバイダーの識別子。
const ProviderEmail = "email"

// EventKind はメールリンク認証のイベント種別。
type EventKind int

const (
	// EventRequested はリンク送信前の段階（ユーザーはまだ本人確認されていない）。
	EventRequested EventKind = iota + 1
	// EventConfirmed はユーザーがリンクを開き、本人確認が完了した段階。
	EventConfirmed
)

func (k EventKind) String() string {
	switch k {
	case EventRequested:
		return "requested"
	case EventConfirmed:
		return "confirmed"
	default:
		return "unknown"
	}
}

// ErrMissingVerificationEvent はメールプロバイダーのサインインにイベントが無いことを表す。
var ErrMissingVerificationEvent = errors.New("email sign-in requires a verification event")

// ErrEmptyEmail はメールアドレスが空であることを表す。
var ErrEmptyEmail = errors.New("email is required")

// confirmTimeout はConfirmedイベントでのユーザー検索・作成の上限時間。
// 処理は呼び出し元のキャンセルから切り離して実行する。
const confirmTimeout = 10 * time.Second

// VerificationEvent はメールリンク認証のイベント。永続化はされない。
type VerificationEvent struct {
	Kind  EventKind
	Email string
}

// Attempt はサインインの試行。
// Emailは確認済みの本人情報から得たメールアドレスで、空の場合はEvent.Emailを使う。
type Attempt struct {
	Provider string
	Email    string
	Event    *VerificationEvent
}

// Outcome はサインイン試行の結果。
// Allowedがfalseの場合、RedirectToへ誘導してサインインを中断する。
type Outcome struct {
	Allowed    bool
	RedirectTo string
	User       *model.User
}

// AccountStore はVerificationFlowが使うユーザー検索・作成のインターフェース。
// repository.UserRepositoryの部分集合として定義する。
type AccountStore interface {
	FindByEmail(ctx context.Context, email string) (*model.User, error)
	Create(ctx context.Context, email string, role model.Role) (*model.User, error)
}

// VerificationFlow はメールリンク認証の2段階（Requested / Confirmed）を処理する。
type VerificationFlow struct {
	accounts AccountStore
	inflight singleflight.Group
}

// NewVerificationFlow はVerificationFlowを生成する。
func NewVerificationFlow(accounts AccountStore) *VerificationFlow {
	return &VerificationFlow{accounts: accounts}
}

// SignIn はサインイン試行を評価する。
// メール以外のプロバイダーでは何もせず許可する。
// リポジトリのエラーはそのまま返し、呼び出し側はセッションを発行してはならない。
func (f *VerificationFlow) SignIn(ctx context.Context, a Attempt) (Outcome, error) {
	if a.Provider != ProviderEmail {
		return Outcome{Allowed: true}, nil
	}
	if a.Event == nil {
		return Outcome{}, ErrMissingVerificationEvent
	}

	switch a.Event.Kind {
	case EventRequested:
		return f.requested(ctx, NormalizeEmail(a.Event.Email))
	case EventConfirmed:
		email := NormalizeEmail(a.Email)
		if email == "" {
			email = NormalizeEmail(a.Event.Email)
		}
		return f.confirmed(ctx, email)
	default:
		return Outcome{}, fmt.Errorf("unknown verification event kind: %d", a.Event.Kind)
	}
}

// requested は未登録のメールアドレスをサインアップページへ誘導する。
func (f *VerificationFlow) requested(ctx context.Context, email string) (Outcome, error) {
	if email == "" {
		return Outcome{}, ErrEmptyEmail
	}

	user, err := f.accounts.FindByEmail(ctx, email)
	if err != nil {
		return Outcome{}, fmt.Errorf("failed to find user by email: %w", err)
	}
	if user == nil {
		return Outcome{RedirectTo: SignupURL(email)}, nil
	}
	return Outcome{Allowed: true, User: user}, nil
}

// confirmed はユーザーを検索し、存在しなければ作成する。
// 同一プロセス内での同じメールアドレスへの同時要求は1回にまとめる。
// 共有される処理は最初の呼び出し元のキャンセルでは中断せず、
// 各呼び出し元は自分のctxが終了した時点で待機をやめる。
func (f *VerificationFlow) confirmed(ctx context.Context, email string) (Outcome, error) {
	if email == "" {
		return Outcome{}, ErrEmptyEmail
	}

	ch := f.inflight.DoChan(email, func() (interface{}, error) {
		shared, cancel := context.WithTimeout(context.WithoutCancel(ctx), confirmTimeout)
		defer cancel()
		return f.findOrCreate(shared, email)
	})

	var res singleflight.Result
	select {
	case res = <-ch:
	case <-ctx.Done():
		return Outcome{}, fmt.Errorf("confirmed sign-in aborted: %w", ctx.Err())
	}
	if res.Err != nil {
		return Outcome{}, res.Err
	}

	// 呼び出し元ごとにコピーを返す
	user := *res.Val.(*model.User)
	if !user.SignupCompleted() {
		slog.Info("verified user has not completed signup",
			slog.String("user_id", user.ID),
		)
	}
	return Outcome{Allowed: true, User: &user}, nil
}

func (f *VerificationFlow) findOrCreate(ctx context.Context, email string) (*model.User, error) {
	user, err := f.accounts.FindByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("failed to find user by email: %w", err)
	}
	if user != nil {
		return user, nil
	}

	user, err = f.accounts.Create(ctx, email, model.RoleIndecisive)
	if err == nil {
		slog.Info("user created by email verification",
			slog.String("user_id", user.ID),
		)
		return user, nil
	}
	if !errors.Is(err, repository.ErrDuplicateEmail) {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	// 別プロセスが先に作成した
	user, err = f.accounts.FindByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("failed to find user after conflict: %w", err)
	}
	if user == nil {
		return nil, fmt.Errorf("user for %q vanished after create conflict", email)
	}
	return user, nil
}

// SignupURL は未登録ユーザーを誘導するサインアップページのURLを返す。
func SignupURL(email string) string {
	return "/signup?email=" + url.QueryEscape(email)
}

// NormalizeEmail は前後の空白を除き、小文字化する。
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
