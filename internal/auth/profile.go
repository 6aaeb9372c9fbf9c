package auth

import (
	"strconv"

	"github.com/hitoshi/platforms/internal/model"
)

// Identity は外部IdPのプロフィールから取り出した、アプリが信頼する項目のみを持つ。
type Identity struct {
	Provider          string
	ProviderAccountID string
	Email             string
	Name              string
	Username          string
	Image             string
	Role              model.Role
}

// Profile はプロバイダーごとのプロフィール。Identityへの変換関数を持つ。
type Profile interface {
	Identity() Identity
}

// GitHubProfile はGitHubの /user レスポンスのうち利用する項目。
type GitHubProfile struct {
	ID        int64  `json:"id"`
	Login     string `json:"login"`
	Name      string `json:"name"`
	Email     string `json:"email"`
	AvatarURL string `json:"avatar_url"`
}

// Identity はGitHubプロフィールを変換する。名前が未設定の場合はログイン名を使う。
func (p GitHubProfile) Identity() Identity {
	name := p.Name
	if name == "" {
		name = p.Login
	}
	return Identity{
		Provider:          ProviderGitHub,
		ProviderAccountID: strconv.FormatInt(p.ID, 10),
		Email:             NormalizeEmail(p.Email),
		Name:              name,
		Username:          p.Login,
		Image:             p.AvatarURL,
		Role:              model.RoleIndecisive,
	}
}

// GoogleProfile はGoogleのuserinfoレスポンスのうち利用する項目。
type GoogleProfile struct {
	Sub     string `json:"sub"`
	ID      string `json:"id"`
	Name    string `json:"name"`
	Email   string `json:"email"`
	Picture string `json:"picture"`
}

// Identity はGoogleプロフィールを変換する。
// v3 userinfoはsub、v2はidを返すため、どちらか存在する方を使う。
func (p GoogleProfile) Identity() Identity {
	id := p.Sub
	if id == "" {
		id = p.ID
	}
	return Identity{
		Provider:          ProviderGoogle,
		ProviderAccountID: id,
		Email:             NormalizeEmail(p.Email),
		Name:              p.Name,
		Image:             p.Picture,
		Role:              model.RoleIndecisive,
	}
}

// compile-time interface check
var (
	_ Profile = GitHubProfile{}
	_ Profile = GoogleProfile{}
)
