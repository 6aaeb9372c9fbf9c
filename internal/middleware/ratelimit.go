package middleware

import (
	"log/slog"
	"math"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/hitoshi/platforms/internal/model"
	"golang.org/x/time/rate"
)

// RateLimiterConfig はレート制限の設定を保持する。
type RateLimiterConfig struct {
	SignInRate      rate.Limit    // IPごとのサインイン要求のレート（req/sec）
	SignInBurst     int           // IPごとのサインイン要求のバーストサイズ
	DispatchRate    rate.Limit    // メールアドレスごとのリンク送信のレート（req/sec）
	DispatchBurst   int           // メールアドレスごとのリンク送信のバーストサイズ
	CleanupInterval time.Duration // 期限切れエントリのクリーンアップ間隔
}

// DefaultRateLimiterConfig はデフォルトのレート制限設定を返す。
// サインイン要求 perMinute req/min/IP、リンク送信 3 req/10min/email
func DefaultRateLimiterConfig(perMinute int) RateLimiterConfig {
	if perMinute <= 0 {
		perMinute = 5
	}
	return RateLimiterConfig{
		SignInRate:      rate.Limit(float64(perMinute) / 60.0),
		SignInBurst:     perMinute,
		DispatchRate:    rate.Limit(3.0 / 600.0),
		DispatchBurst:   3,
		CleanupInterval: 5 * time.Minute,
	}
}

// keyedLimiter はキー（IP、メールアドレス）ごとのレートリミッターとアクセス時刻を保持する。
type keyedLimiter struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

// limiterSet はキーごとのリミッターの集合。
type limiterSet struct {
	mu       sync.RWMutex
	limiters map[string]*keyedLimiter
	limit    rate.Limit
	burst    int
}

func newLimiterSet(limit rate.Limit, burst int) *limiterSet {
	return &limiterSet{
		limiters: make(map[string]*keyedLimiter),
		limit:    limit,
		burst:    burst,
	}
}

// get はキーのリミッターを取得または作成する。
func (s *limiterSet) get(key string) *rate.Limiter {
	s.mu.RLock()
	kl, exists := s.limiters[key]
	s.mu.RUnlock()

	if exists {
		s.mu.Lock()
		kl.lastAccess = time.Now()
		s.mu.Unlock()
		return kl.limiter
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// ダブルチェック
	if kl, exists := s.limiters[key]; exists {
		kl.lastAccess = time.Now()
		return kl.limiter
	}

	limiter := rate.NewLimiter(s.limit, s.burst)
	s.limiters[key] = &keyedLimiter{
		limiter:    limiter,
		lastAccess: time.Now(),
	}
	return limiter
}

func (s *limiterSet) len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.limiters)
}

// evict は最終アクセスがttlより古いエントリを削除する。
func (s *limiterSet) evict(now time.Time, ttl time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, kl := range s.limiters {
		if now.Sub(kl.lastAccess) > ttl {
			delete(s.limiters, key)
		}
	}
}

// RateLimiter はサインイン関連のレート制限を管理する。
// IPごとのサインイン要求の制限と、メールアドレスごとのリンク送信の制限の2種類を提供する。
type RateLimiter struct {
	config   RateLimiterConfig
	signIn   *limiterSet
	dispatch *limiterSet
	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewRateLimiter は新しいRateLimiterを生成する。
// バックグラウンドで期限切れエントリのクリーンアップを開始する。
func NewRateLimiter(config RateLimiterConfig) *RateLimiter {
	rl := &RateLimiter{
		config:   config,
		signIn:   newLimiterSet(config.SignInRate, config.SignInBurst),
		dispatch: newLimiterSet(config.DispatchRate, config.DispatchBurst),
		stopCh:   make(chan struct{}),
	}

	go rl.cleanupLoop()

	return rl
}

// Stop はクリーンアップのバックグラウンドゴルーチンを停止する。
func (rl *RateLimiter) Stop() {
	rl.stopOnce.Do(func() { close(rl.stopCh) })
}

// SignInMiddleware はクライアントIPごとにサインイン要求を制限するミドルウェアを返す。
// chiのRealIPミドルウェアの後に配置する。
func (rl *RateLimiter) SignInMiddleware() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := clientIP(r)

			if !rl.signIn.get(ip).Allow() {
				writeRateLimitResponse(w, rl.config.SignInRate)
				slog.Warn("rate limit exceeded",
					slog.String("client_ip", ip),
					slog.String("limit_type", "sign_in"),
				)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// AllowEmail はメールアドレスへのリンク送信を許可するかを返す。
func (rl *RateLimiter) AllowEmail(email string) bool {
	if rl.dispatch.get(email).Allow() {
		return true
	}
	slog.Warn("rate limit exceeded", slog.String("limit_type", "dispatch"))
	return false
}

// SignInLimiterCount は現在管理されているIPごとのリミッターのエントリ数を返す。
// テストおよびメトリクス用。
func (rl *RateLimiter) SignInLimiterCount() int {
	return rl.signIn.len()
}

// DispatchLimiterCount は現在管理されているメールアドレスごとのリミッターのエントリ数を返す。
// テストおよびメトリクス用。
func (rl *RateLimiter) DispatchLimiterCount() int {
	return rl.dispatch.len()
}

// cleanupLoop はバックグラウンドで期限切れエントリを定期的にクリーンアップする。
func (rl *RateLimiter) cleanupLoop() {
	ticker := time.NewTicker(rl.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.cleanup()
		case <-rl.stopCh:
			return
		}
	}
}

// cleanup は最終アクセス時刻がCleanupIntervalの2倍を超えたエントリを削除する。
func (rl *RateLimiter) cleanup() {
	ttl := rl.config.CleanupInterval * 2
	now := time.Now()
	rl.signIn.evict(now, ttl)
	rl.dispatch.evict(now, ttl)
}

// clientIP はRemoteAddrからポートを除いたアドレスを返す。
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// writeRateLimitResponse は429 Too Many Requestsレスポンスを書き込む。
// Retry-Afterヘッダーにはトークンが補充されるまでの推定秒数を設定する。
func writeRateLimitResponse(w http.ResponseWriter, r rate.Limit) {
	// Retry-Afterの算出: 1トークンが補充されるまでの秒数
	retryAfterSec := int(math.Ceil(1.0 / float64(r)))
	if retryAfterSec < 1 {
		retryAfterSec = 1
	}

	w.Header().Set("Retry-After", strconv.Itoa(retryAfterSec))
	WriteErrorResponse(w, http.StatusTooManyRequests, model.NewRateLimitedError())
}
