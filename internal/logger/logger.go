// Package logger はplatformsのJSON構造化ログを設定する。
package logger

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// ServiceName は全ログに付与するservice属性の値。
const ServiceName = "platforms"

// Setup はJSON構造化ログ出力のslog.Loggerを生成して返す。
// 出力レベルは環境変数LOG_LEVEL（debug / info / warn / error）で指定し、未設定時はinfo。
// 全エントリにservice属性を付与する。
func Setup(w io.Writer) *slog.Logger {
	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: ParseLevel(os.Getenv("LOG_LEVEL")),
	})
	return slog.New(handler).With(slog.String("service", ServiceName))
}

// SetupDefault はJSON構造化ログ出力をグローバルロガーとして設定する。
// writerがnilの場合はos.Stdoutに出力する。
func SetupDefault(w io.Writer) {
	if w == nil {
		w = os.Stdout
	}
	slog.SetDefault(Setup(w))
}

// WithMode は起動モード（serve / worker / migrate）のmode属性を付けたロガーを返す。
func WithMode(l *slog.Logger, mode string) *slog.Logger {
	return l.With(slog.String("mode", mode))
}

// ParseLevel はログレベル名を解析する。不明な値はinfoとして扱う。
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
