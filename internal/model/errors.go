// Package model はドメインモデルを定義する。
package model

import "fmt"

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, site, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeNotAuthenticated = "NOT_AUTHENTICATED"
	ErrCodeNotAuthorized    = "NOT_AUTHORIZED"
	ErrCodePostNotFound     = "POST_NOT_FOUND"
	ErrCodeUserNotFound     = "USER_NOT_FOUND"
	ErrCodeInvalidEmail     = "INVALID_EMAIL"
	ErrCodeInvalidName      = "INVALID_NAME"
	ErrCodeInvalidRole      = "INVALID_ROLE"
	ErrCodeRateLimited      = "RATE_LIMITED"
	ErrCodeUnknownProvider  = "UNKNOWN_PROVIDER"
	ErrCodeMissingHost      = "MISSING_HOST"
	ErrCodeCSRFFailed       = "CSRF_FAILED"
	ErrCodeInvalidRequest   = "INVALID_REQUEST"
	ErrCodeInternal         = "INTERNAL_ERROR"
)

// NewNotAuthenticatedError は未ログインエラーを生成する。
func NewNotAuthenticatedError() *APIError {
	return &APIError{
		Code:     ErrCodeNotAuthenticated,
		Message:  "Not authenticated",
		Category: "auth",
		Action:   "ログインしてから再度お試しください。",
	}
}

// NewNotAuthorizedError はリソースの所有者でない場合のエラーを生成する。
func NewNotAuthorizedError() *APIError {
	return &APIError{
		Code:     ErrCodeNotAuthorized,
		Message:  "Not authorized",
		Category: "auth",
		Action:   "このサイトを管理しているアカウントでログインしてください。",
	}
}

// NewPostNotFoundError は記事が見つからない（または所有者でない）場合のエラーを生成する。
func NewPostNotFoundError() *APIError {
	return &APIError{
		Code:     ErrCodePostNotFound,
		Message:  "Post not found",
		Category: "site",
		Action:   "記事IDを確認してください。",
	}
}

// NewUserNotFoundError はユーザーが見つからない場合のエラーを生成する。
func NewUserNotFoundError() *APIError {
	return &APIError{
		Code:     ErrCodeUserNotFound,
		Message:  "ユーザーが見つかりません。",
		Category: "auth",
		Action:   "ログインし直してください。",
	}
}

// NewInvalidEmailError は無効なメールアドレスのエラーを生成する。
func NewInvalidEmailError(email string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidEmail,
		Message:  fmt.Sprintf("無効なメールアドレスです: %s", email),
		Category: "validation",
		Action:   "正しいメールアドレスを入力してください。",
	}
}

// NewInvalidNameError はユーザー名が無効な場合のエラーを生成する。
func NewInvalidNameError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidName,
		Message:  "ユーザー名を入力してください。",
		Category: "validation",
		Action:   "1文字以上64文字以下のユーザー名を指定してください。",
	}
}

// NewInvalidRoleError は選択できない役割が指定された場合のエラーを生成する。
func NewInvalidRoleError(role string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidRole,
		Message:  fmt.Sprintf("無効な役割です: %s", role),
		Category: "validation",
		Action:   "役割には Reader または Writer を指定してください。",
	}
}

// NewRateLimitedError はメールリンク要求が多すぎる場合のエラーを生成する。
func NewRateLimitedError() *APIError {
	return &APIError{
		Code:     ErrCodeRateLimited,
		Message:  "リクエストが多すぎます。",
		Category: "auth",
		Action:   "しばらく待ってから再度お試しください。",
	}
}

// NewUnknownProviderError は未設定の認証プロバイダーが指定された場合のエラーを生成する。
func NewUnknownProviderError(provider string) *APIError {
	return &APIError{
		Code:     ErrCodeUnknownProvider,
		Message:  fmt.Sprintf("認証プロバイダーが有効ではありません: %s", provider),
		Category: "auth",
		Action:   "別のログイン方法をお試しください。",
	}
}

// NewMissingHostError はHostヘッダーが無いリクエストのエラーを生成する。
func NewMissingHostError() *APIError {
	return &APIError{
		Code:     ErrCodeMissingHost,
		Message:  "Hostヘッダーがありません。",
		Category: "validation",
		Action:   "Hostヘッダーを付けて再度お試しください。",
	}
}

// NewCSRFError はCSRFトークンの検証に失敗した場合のエラーを生成する。
func NewCSRFError() *APIError {
	return &APIError{
		Code:     ErrCodeCSRFFailed,
		Message:  "CSRFトークンの検証に失敗しました。",
		Category: "auth",
		Action:   "ページを再読み込みしてから再度お試しください。",
	}
}

// NewInvalidRequestError はリクエストボディが不正な場合のエラーを生成する。
func NewInvalidRequestError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidRequest,
		Message:  "リクエストの形式が正しくありません。",
		Category: "validation",
		Action:   "入力内容を確認してください。",
	}
}

// NewInternalError は内部エラーを生成する。詳細はログのみに記録する。
func NewInternalError() *APIError {
	return &APIError{
		Code:     ErrCodeInternal,
		Message:  "内部エラーが発生しました。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	}
}
