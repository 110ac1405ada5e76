// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "organizer"

// Collector はPrometheusメトリクスを収集する実装。
// イベントリポジトリ、プロフィール、クライアントレジストリ、HTTP層から利用する。
type Collector struct {
	eventsCreated       prometheus.Counter
	eventsDeleted       prometheus.Counter
	validationFailures  *prometheus.CounterVec
	repositoryErrors    *prometheus.CounterVec
	snapshotSize        prometheus.Histogram
	activeSubscriptions prometheus.Gauge
	profilesEnsured     *prometheus.CounterVec
	signIns             *prometheus.CounterVec
	activeClients       prometheus.Gauge
	rateLimited         *prometheus.CounterVec
	httpStatus          *prometheus.CounterVec
	httpLatency         *prometheus.HistogramVec
	sessionsPurged      prometheus.Counter
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		eventsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_created_total",
			Help:      "作成されたイベントの合計数",
		}),
		eventsDeleted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_deleted_total",
			Help:      "削除されたイベントの合計数",
		}),
		validationFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "event_validation_failures_total",
			Help:      "理由別のイベント入力検証失敗数",
		}, []string{"reason"}),
		repositoryErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "event_repository_errors_total",
			Help:      "操作別のイベントストア失敗数",
		}, []string{"op"}),
		snapshotSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "event_snapshot_size",
			Help:      "購読者へ配信したスナップショットのイベント数",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 10),
		}),
		activeSubscriptions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "event_subscriptions_active",
			Help:      "有効なイベント購読数",
		}),
		profilesEnsured: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "profiles_ensured_total",
			Help:      "結果別のプロフィール作成・更新数",
		}, []string{"result"}),
		signIns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sign_ins_total",
			Help:      "プロバイダと結果別のサインイン試行数",
		}, []string{"provider", "result"}),
		activeClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "clients_active",
			Help:      "メモリ上に保持しているブラウザクライアント数",
		}),
		rateLimited: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limited_total",
			Help:      "種類別のレート制限による拒否数",
		}, []string{"limit_type"}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_status_total",
			Help:      "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
		httpLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTPリクエストの処理時間（秒）",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),
		sessionsPurged: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_sessions_purged_total",
			Help:      "クリーンアップで削除された期限切れセッション数",
		}),
	}

	reg.MustRegister(
		c.eventsCreated,
		c.eventsDeleted,
		c.validationFailures,
		c.repositoryErrors,
		c.snapshotSize,
		c.activeSubscriptions,
		c.profilesEnsured,
		c.signIns,
		c.activeClients,
		c.rateLimited,
		c.httpStatus,
		c.httpLatency,
		c.sessionsPurged,
	)

	return c
}

// RecordEventCreated はイベント作成を記録する。
func (c *Collector) RecordEventCreated() {
	c.eventsCreated.Inc()
}

// RecordEventDeleted はイベント削除を記録する。
func (c *Collector) RecordEventDeleted() {
	c.eventsDeleted.Inc()
}

// RecordValidationFailure は入力検証失敗を記録する。
func (c *Collector) RecordValidationFailure(reason string) {
	c.validationFailures.WithLabelValues(reason).Inc()
}

// RecordRepositoryError はイベントストア操作の失敗を記録する。
func (c *Collector) RecordRepositoryError(op string) {
	c.repositoryErrors.WithLabelValues(op).Inc()
}

// RecordSnapshot は配信したスナップショットのサイズを記録する。
func (c *Collector) RecordSnapshot(size int) {
	c.snapshotSize.Observe(float64(size))
}

// SubscriptionOpened は購読の開始を記録する。
func (c *Collector) SubscriptionOpened() {
	c.activeSubscriptions.Inc()
}

// SubscriptionClosed は購読の終了を記録する。
func (c *Collector) SubscriptionClosed() {
	c.activeSubscriptions.Dec()
}

// RecordProfileEnsured はプロフィールの作成・更新結果を記録する。
func (c *Collector) RecordProfileEnsured(created bool, err error) {
	result := "updated"
	switch {
	case err != nil:
		result = "error"
	case created:
		result = "created"
	}
	c.profilesEnsured.WithLabelValues(result).Inc()
}

// RecordSignIn はサインイン試行の結果を記録する。
func (c *Collector) RecordSignIn(provider string, err error) {
	result := "success"
	if err != nil {
		result = "failure"
	}
	c.signIns.WithLabelValues(provider, result).Inc()
}

// SetActiveClients は保持しているクライアント数を記録する。
func (c *Collector) SetActiveClients(n int) {
	c.activeClients.Set(float64(n))
}

// RecordRateLimited はレート制限による拒否を記録する。
func (c *Collector) RecordRateLimited(limitType string) {
	c.rateLimited.WithLabelValues(limitType).Inc()
}

// ObserveRequest はHTTPリクエストのステータスコードと処理時間を記録する。
func (c *Collector) ObserveRequest(method string, status int, duration time.Duration) {
	c.httpStatus.WithLabelValues(strconv.Itoa(status)).Inc()
	c.httpLatency.WithLabelValues(method).Observe(duration.Seconds())
}

// RecordSessionsPurged はクリーンアップで削除したセッション数を記録する。
func (c *Collector) RecordSessionsPurged(count int64) {
	c.sessionsPurged.Add(float64(count))
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
// 収集エラーは該当メトリクスを除いて返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{
		ErrorHandling: promhttp.ContinueOnError,
	})
}

// SetupMetricsRoute はワーカー用の単独メトリクスサーバーのハンドラーを返す。
// GET /metricsのほかは404を返す。
func SetupMetricsRoute(gatherer prometheus.Gatherer) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", Handler(gatherer))
	return mux
}
