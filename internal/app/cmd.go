// Package app はサブコマンドの解析と、起動モードごとの依存関係の組み立てを行う。
package app

import (
	"fmt"
	"strings"
)

// Command はアプリケーションの起動モードを表す。
type Command string

const (
	// CommandServe はAPIサーバー（テナントルーティングと認証API）を起動する。
	CommandServe Command = "serve"
	// CommandWorker は期限切れ検証トークンのクリーンアップワーカーを起動する。
	CommandWorker Command = "worker"
	// CommandMigrate はplatformsスキーマのマイグレーションを適用する。
	CommandMigrate Command = "migrate"
	// CommandHealthcheck はステータスサーバーの/healthを確認する。
	// distroless環境でのDockerヘルスチェック用。
	CommandHealthcheck Command = "healthcheck"
	// CommandHelp は使い方を表示する。
	CommandHelp Command = "help"
)

// commands はサブコマンドと説明。Usageの表示順を兼ねる。
var commands = []struct {
	cmd  Command
	desc string
}{
	{CommandServe, "テナントルーティングと認証APIを提供する（デフォルト）"},
	{CommandWorker, "期限切れの検証トークンを定期的に削除する"},
	{CommandMigrate, "データベースマイグレーションを適用する"},
	{CommandHealthcheck, "ステータスサーバーの/healthを確認する"},
	{CommandHelp, "この使い方を表示する"},
}

// ParseCommand はコマンドライン引数からサブコマンドを解析する。
// 引数が空またはサポート外のコマンドの場合はCommandServeを返す。
// -h、--helpはCommandHelpとして扱う。
func ParseCommand(args []string) Command {
	if len(args) == 0 {
		return CommandServe
	}

	switch args[0] {
	case "-h", "--help":
		return CommandHelp
	}
	for _, c := range commands {
		if args[0] == string(c.cmd) {
			return c.cmd
		}
	}
	return CommandServe
}

// Usage はサブコマンドの一覧を返す。
func Usage() string {
	var b strings.Builder
	b.WriteString("usage: platforms [command]\n\ncommands:\n")
	for _, c := range commands {
		fmt.Fprintf(&b, "  %-12s %s\n", c.cmd, c.desc)
	}
	return b.String()
}
