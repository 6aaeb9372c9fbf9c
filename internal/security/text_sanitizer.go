// Package security は外部から受け取る値の無害化と、外部への通信のSSRF対策を提供する。
package security

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// TextSanitizer は表示用テキスト（ユーザー名、IdPのプロフィール名）からHTMLを除去する。
// テナントサイトにそのまま表示されるため、タグは一切許可しない。
// bluemondayのポリシーはゴルーチン安全なため、1つのインスタンスを共有してよい。
type TextSanitizer struct {
	policy *bluemonday.Policy
}

// NewTextSanitizer はStrictPolicyのTextSanitizerを生成する。
func NewTextSanitizer() *TextSanitizer {
	return &TextSanitizer{policy: bluemonday.StrictPolicy()}
}

// Clean はタグを除去し、前後の空白を除いたプレーンテキストを返す。
// StrictPolicyがエスケープした文字参照は元の文字に戻す。
func (s *TextSanitizer) Clean(raw string) string {
	return strings.TrimSpace(html.UnescapeString(s.policy.Sanitize(raw)))
}

// HasMarkup はテキストにタグが含まれるかを返す。
func (s *TextSanitizer) HasMarkup(raw string) bool {
	trimmed := strings.TrimSpace(raw)
	return s.Clean(trimmed) != trimmed
}
