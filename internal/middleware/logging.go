package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/hitoshi/platforms/internal/metrics"
)

// statusRecorder はhttp.ResponseWriterをラップし、ステータスコードを記録する。
type statusRecorder struct {
	http.ResponseWriter
	statusCode int
	written    bool
}

// WriteHeader はステータスコードを記録してから委譲する。
func (sr *statusRecorder) WriteHeader(code int) {
	if !sr.written {
		sr.statusCode = code
		sr.written = true
	}
	sr.ResponseWriter.WriteHeader(code)
}

// Write はデータを書き込む。WriteHeaderが未呼び出しの場合は200を記録する。
func (sr *statusRecorder) Write(b []byte) (int, error) {
	if !sr.written {
		sr.statusCode = http.StatusOK
		sr.written = true
	}
	return sr.ResponseWriter.Write(b)
}

// logFieldsContextKey は内側のミドルウェアがログ属性を追加するためのキー。
var logFieldsContextKey = contextKey("log_fields")

// logFields は1リクエスト分の追加ログ属性。
type logFields struct {
	mu    sync.Mutex
	attrs []slog.Attr
}

// annotate はリクエストログに属性を追加する。ロギングミドルウェアの外では何もしない。
func annotate(ctx context.Context, attrs ...slog.Attr) {
	lf, ok := ctx.Value(logFieldsContextKey).(*logFields)
	if !ok {
		return
	}
	lf.mu.Lock()
	lf.attrs = append(lf.attrs, attrs...)
	lf.mu.Unlock()
}

// NewLoggingMiddleware はリクエストのJSON構造化ログを出力するミドルウェアを返す。
// ログにはmethod、host、path、status、duration_msと、内側のミドルウェアが追加した
// 属性（user_id、route_action、route_target）を含む。collectorはnilでもよい。
func NewLoggingMiddleware(logger *slog.Logger, collector metrics.MetricsCollector) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			rec := &statusRecorder{
				ResponseWriter: w,
				statusCode:     http.StatusOK,
			}
			lf := &logFields{}
			// 書き換え前のパスを記録する
			path := r.URL.Path

			next.ServeHTTP(rec, r.WithContext(context.WithValue(r.Context(), logFieldsContextKey, lf)))

			duration := time.Since(start)
			durationMs := float64(duration.Nanoseconds()) / float64(time.Millisecond)

			if collector != nil {
				collector.RecordHTTPStatus(rec.statusCode)
				collector.RecordRequestLatency(duration)
			}

			attrs := []slog.Attr{
				slog.String("method", r.Method),
				slog.String("host", r.Host),
				slog.String("path", path),
				slog.Int("status", rec.statusCode),
				slog.Float64("duration_ms", durationMs),
			}
			if id := chimw.GetReqID(r.Context()); id != "" {
				attrs = append(attrs, slog.String("request_id", id))
			}
			lf.mu.Lock()
			attrs = append(attrs, lf.attrs...)
			lf.mu.Unlock()

			// slogのログレベルをステータスコードに応じて変更
			level := slog.LevelInfo
			if rec.statusCode >= 500 {
				level = slog.LevelError
			} else if rec.statusCode >= 400 {
				level = slog.LevelWarn
			}

			logger.LogAttrs(r.Context(), level, "http_request", attrs...)
		})
	}
}
