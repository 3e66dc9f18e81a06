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
// 同期処理とリモートストアのクライアントから利用する。
type MetricsCollector interface {
	RecordSequence(op, outcome string, duration time.Duration)
	RecordNotification(op string, delivered bool)
	RecordCompensation(op string, succeeded bool)
	RecordRemoteCall(op string, statusCode int, duration time.Duration)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	sequences     *prometheus.CounterVec
	sequenceTime  *prometheus.HistogramVec
	notifications *prometheus.CounterVec
	compensations *prometheus.CounterVec
	remoteCalls   *prometheus.CounterVec
	remoteLatency *prometheus.HistogramVec
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		sequences: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "reporelay_sync_sequences_total",
			Help: "購読同期シーケンスの合計数（操作・結果別）",
		}, []string{"op", "outcome"}),
		sequenceTime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "reporelay_sync_duration_seconds",
			Help:    "購読同期シーケンスの所要時間（秒）",
			Buckets: prometheus.DefBuckets,
		}, []string{"op"}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "reporelay_notifications_total",
			Help: "通知ゲートウェイ呼び出しの合計数（操作・結果別）",
		}, []string{"op", "result"}),
		compensations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "reporelay_compensations_total",
			Help: "補償処理の合計数（操作・結果別）",
		}, []string{"op", "result"}),
		remoteCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "reporelay_remote_calls_total",
			Help: "リモートストア呼び出しの合計数（操作・ステータスコード別）",
		}, []string{"op", "status_code"}),
		remoteLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "reporelay_remote_call_duration_seconds",
			Help:    "リモートストア呼び出しのレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}, []string{"op"}),
	}

	reg.MustRegister(
		c.sequences,
		c.sequenceTime,
		c.notifications,
		c.compensations,
		c.remoteCalls,
		c.remoteLatency,
	)

	return c
}

// RecordSequence は同期シーケンスの結果を記録する。
// 前提条件違反のシーケンスは所要時間を記録しない。
func (c *Collector) RecordSequence(op, outcome string, duration time.Duration) {
	c.sequences.WithLabelValues(op, outcome).Inc()
	if duration > 0 {
		c.sequenceTime.WithLabelValues(op).Observe(duration.Seconds())
	}
}

// RecordNotification は通知の成否を記録する。
func (c *Collector) RecordNotification(op string, delivered bool) {
	c.notifications.WithLabelValues(op, result(delivered, "delivered", "failed")).Inc()
}

// RecordCompensation は補償処理の成否を記録する。
func (c *Collector) RecordCompensation(op string, succeeded bool) {
	c.compensations.WithLabelValues(op, result(succeeded, "succeeded", "failed")).Inc()
}

// RecordRemoteCall はリモートストア呼び出しを記録する。
// トランスポートエラーはstatus_code="error"として記録する。
func (c *Collector) RecordRemoteCall(op string, statusCode int, duration time.Duration) {
	code := "error"
	if statusCode > 0 {
		code = strconv.Itoa(statusCode)
	}
	c.remoteCalls.WithLabelValues(op, code).Inc()
	c.remoteLatency.WithLabelValues(op).Observe(duration.Seconds())
}

func result(ok bool, yes, no string) string {
	if ok {
		return yes
	}
	return no
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
