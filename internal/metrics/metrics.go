// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsCollector はメトリクス収集のインターフェース。
// ミドルウェア、ハンドラー、ワーカーから利用する。
type MetricsCollector interface {
	RecordRoute(hostKind, action string)
	RecordSignIn(provider, result string)
	RecordHTTPStatus(statusCode int)
	RecordRequestLatency(duration time.Duration)
	RecordTokensPurged(count int64)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	routeDecisions *prometheus.CounterVec
	signIns        *prometheus.CounterVec
	httpStatus     *prometheus.CounterVec
	requestLatency prometheus.Histogram
	tokensPurged   prometheus.Counter
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		routeDecisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "platforms_route_decisions_total",
			Help: "ホスト種別・決定種別ごとのルーティング決定数",
		}, []string{"host_kind", "action"}),
		signIns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "platforms_sign_in_total",
			Help: "プロバイダー・結果ごとのサインイン試行数",
		}, []string{"provider", "result"}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "platforms_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
		requestLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "platforms_request_latency_seconds",
			Help:    "リクエスト処理のレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}),
		tokensPurged: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "platforms_verification_tokens_purged_total",
			Help: "削除された期限切れ認証トークンの合計数",
		}),
	}

	reg.MustRegister(
		c.routeDecisions,
		c.signIns,
		c.httpStatus,
		c.requestLatency,
		c.tokensPurged,
	)

	return c
}

// RecordRoute はルーティング決定を記録する。
func (c *Collector) RecordRoute(hostKind, action string) {
	c.routeDecisions.WithLabelValues(hostKind, action).Inc()
}

// RecordSignIn はサインイン試行の結果を記録する。
func (c *Collector) RecordSignIn(provider, result string) {
	c.signIns.WithLabelValues(provider, result).Inc()
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// RecordRequestLatency はリクエストのレイテンシを記録する。
func (c *Collector) RecordRequestLatency(duration time.Duration) {
	c.requestLatency.Observe(duration.Seconds())
}

// RecordTokensPurged は削除された期限切れトークン数を記録する。
func (c *Collector) RecordTokensPurged(count int64) {
	c.tokensPurged.Add(float64(count))
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// SetupMetricsRoute は/metricsエンドポイントを提供するHTTPハンドラーを返す。
// Prometheusスクレイプに対応する。
func SetupMetricsRoute(gatherer prometheus.Gatherer) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler(gatherer))
	return mux
}

// compile-time interface check
var _ MetricsCollector = (*Collector)(nil)
