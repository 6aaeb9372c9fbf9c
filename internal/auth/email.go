package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"net/url"
	"strings"
	"time"

	"github.com/hitoshi/platforms/internal/model"
	"github.com/hitoshi/platforms/internal/repository"
)

// VerifyRequestPath はリンク送信後に表示する「メールを確認してください」ページ。
const VerifyRequestPath = "/verify"

// CallbackPath はメールリンクの遷移先。
const CallbackPath = "/api/auth/callback/email"

var (
	// ErrInvalidEmail はメールアドレスの形式が不正であることを表す。
	ErrInvalidEmail = errors.New("invalid email address")
	// ErrInvalidVerificationToken はトークンが存在しない、使用済み、または期限切れであることを表す。
	ErrInvalidVerificationToken = errors.New("invalid or expired verification token")
	// ErrRateLimited は同じメールアドレスへの送信が多すぎることを表す。
	ErrRateLimited = errors.New("too many verification requests")
)

// Mailer はメールリンクを送信するインターフェース。
type Mailer interface {
	SendVerificationLink(ctx context.Context, to, link string) error
}

// DispatchLimiter はメールアドレスごとの送信回数を制限するインターフェース。
type DispatchLimiter interface {
	AllowEmail(email string) bool
}

// EmailSignInConfig はメールリンク認証の設定。
type EmailSignInConfig struct {
	AppURL      string        // リンクのベースURL（例: https://app.example.com）
	TokenMaxAge time.Duration // トークンの有効期間
}

// LinkResult はリンク要求の結果。
type LinkResult struct {
	RedirectTo string // 次に表示するページ
	Sent       bool   // リンクを送信したかどうか
}

// EmailSignIn はメールリンク認証の要求と確認を扱う。
type EmailSignIn struct {
	flow    *VerificationFlow
	tokens  repository.VerificationTokenRepository
	mailer  Mailer
	limiter DispatchLimiter
	config  EmailSignInConfig
	now     func() time.Time
}

// NewEmailSignIn はEmailSignInを生成する。limiterはnilでもよい。
func NewEmailSignIn(
	flow *VerificationFlow,
	tokens repository.VerificationTokenRepository,
	mailer Mailer,
	limiter DispatchLimiter,
	config EmailSignInConfig,
) *EmailSignIn {
	return &EmailSignIn{
		flow:    flow,
		tokens:  tokens,
		mailer:  mailer,
		limiter: limiter,
		config:  config,
		now:     time.Now,
	}
}

// RequestLink はメールアドレスにサインイン用リンクを送信する。
// 未登録のメールアドレスの場合はリンクを送らず、サインアップページへ誘導する。
func (e *EmailSignIn) RequestLink(ctx context.Context, rawEmail string) (LinkResult, error) {
	email, err := ValidateEmail(rawEmail)
	if err != nil {
		return LinkResult{}, err
	}

	outcome, err := e.flow.SignIn(ctx, Attempt{
		Provider: ProviderEmail,
		Event:    &VerificationEvent{Kind: EventRequested, Email: email},
	})
	if err != nil {
		return LinkResult{}, err
	}
	if !outcome.Allowed {
		return LinkResult{RedirectTo: outcome.RedirectTo}, nil
	}

	if e.limiter != nil && !e.limiter.AllowEmail(email) {
		return LinkResult{}, ErrRateLimited
	}

	token, err := generateToken()
	if err != nil {
		return LinkResult{}, fmt.Errorf("failed to generate verification token: %w", err)
	}

	if err := e.tokens.Create(ctx, &model.VerificationToken{
		Identifier: email,
		TokenHash:  hashToken(token),
		ExpiresAt:  e.now().Add(e.config.TokenMaxAge),
	}); err != nil {
		return LinkResult{}, fmt.Errorf("failed to store verification token: %w", err)
	}

	if err := e.mailer.SendVerificationLink(ctx, email, e.link(email, token)); err != nil {
		return LinkResult{}, fmt.Errorf("failed to send verification link: %w", err)
	}

	slog.Info("verification link sent", slog.String("user_id", outcome.User.ID))
	return LinkResult{RedirectTo: VerifyRequestPath, Sent: true}, nil
}

// ConfirmLink はリンクのトークンを消費し、ユーザーを確定する。
// トークンは1回しか使用できない。呼び出し側は返されたユーザーでセッションを発行する。
func (e *EmailSignIn) ConfirmLink(ctx context.Context, rawEmail, token string) (*model.User, error) {
	email := NormalizeEmail(rawEmail)
	if email == "" || token == "" {
		return nil, ErrInvalidVerificationToken
	}

	consumed, err := e.tokens.Consume(ctx, email, hashToken(token))
	if err != nil {
		return nil, fmt.Errorf("failed to consume verification token: %w", err)
	}
	if consumed == nil {
		return nil, ErrInvalidVerificationToken
	}

	outcome, err := e.flow.SignIn(ctx, Attempt{
		Provider: ProviderEmail,
		Email:    consumed.Identifier,
		Event:    &VerificationEvent{Kind: EventConfirmed, Email: email},
	})
	if err != nil {
		return nil, err
	}
	if !outcome.Allowed || outcome.User == nil {
		return nil, fmt.Errorf("email sign-in not allowed")
	}
	return outcome.User, nil
}

func (e *EmailSignIn) link(email, token string) string {
	q := url.Values{}
	q.Set("email", email)
	q.Set("token", token)
	return strings.TrimRight(e.config.AppURL, "/") + CallbackPath + "?" + q.Encode()
}

// ValidateEmail はメールアドレスを正規化し、形式を検証する。
// 表示名付きの形式（"Name <a@b>"）は受け付けない。
func ValidateEmail(raw string) (string, error) {
	email := NormalizeEmail(raw)
	if email == "" {
		return "", ErrInvalidEmail
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "", ErrInvalidEmail
	}
	return email, nil
}

// generateToken は暗号的に安全なトークンを生成する。
func generateToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// hashToken は保存用のトークンハッシュを返す。平文のトークンは保存しない。
func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
