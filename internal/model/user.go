// Package model はドメインモデルを定義する。
package model

import "time"

// Role はユーザーがオンボーディングで選択する役割を表す。
// 権限レベルではなく、UIの出し分けに使うソフトなフラグ。
type Role string

const (
	// RoleIndecisive はまだ役割を選択していない状態（新規アカウントのデフォルト）。
	RoleIndecisive Role = "Indecisive"
	// RoleReader は閲覧中心のユーザー。
	RoleReader Role = "Reader"
	// RoleWriter はサイトを運営し記事を書くユーザー。
	RoleWriter Role = "Writer"
)

// Valid はRoleが定義済みの値かを返す。
func (r Role) Valid() bool {
	switch r {
	case RoleIndecisive, RoleReader, RoleWriter:
		return true
	default:
		return false
	}
}

// User はサービス利用ユーザーを表す。
// Nameがnilのユーザーはサインアップ（ユーザー名の設定）を完了していない。
type User struct {
	ID        string
	Email     string
	Name      *string
	Username  *string
	Image     *string
	Role      Role
	CreatedAt time.Time
	UpdatedAt time.Time
}

// SignupCompleted はサインアップが完了しているかを返す。
func (u *User) SignupCompleted() bool {
	return u.Name != nil && *u.Name != ""
}

// Account は外部IdPとの紐付け情報を表す。
type Account struct {
	ID                string
	UserID            string
	Provider          string
	ProviderAccountID string
	CreatedAt         time.Time
}

// Session はユーザーのログインセッションを表す。
// セッションストアが発行する署名付きトークンから復元される。
type Session struct {
	UserID    string
	Email     string
	Name      string
	Username  string
	Image     string
	ExpiresAt time.Time
}

// VerificationToken はメールリンク認証のワンタイムトークンを表す。
// TokenHashにはトークン本体ではなくSHA-256ハッシュを保持する。
type VerificationToken struct {
	Identifier string // メールアドレス
	TokenHash  string
	ExpiresAt  time.Time
}
