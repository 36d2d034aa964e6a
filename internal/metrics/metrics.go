// Package metrics はジョブ処理の Prometheus メトリクスを提供します。
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "paper_profile"

// Jobs はジョブのライフサイクルに関するメトリクスです。nil のまま使っても何も記録しません。
type Jobs struct {
	registry  *prometheus.Registry
	submitted prometheus.Counter
	rejected  *prometheus.CounterVec
	finished  *prometheus.CounterVec
	consumed  *prometheus.CounterVec
	queued    prometheus.Gauge
	duration  prometheus.Histogram
}

// NewJobs はレジストリを作成してメトリクスを登録します。
func NewJobs() *Jobs {
	registry := prometheus.NewRegistry()
	m := &Jobs{
		registry: registry,
		submitted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_submitted_total",
			Help:      "Number of accepted document submissions.",
		}),
		rejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_rejected_total",
			Help:      "Number of submissions refused before dispatch.",
		}, []string{"reason"}),
		finished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_finished_total",
			Help:      "Number of jobs that reached a terminal state.",
		}, []string{"state"}),
		consumed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_retrieved_total",
			Help:      "Number of terminal results handed to their owner.",
		}, []string{"state"}),
		queued: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "jobs_queued",
			Help:      "Number of tasks waiting for the dispatch worker.",
		}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "upstream_duration_seconds",
			Help:      "Latency of upstream deliveries.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
		}),
	}
	registry.MustRegister(m.submitted, m.rejected, m.finished, m.consumed, m.queued, m.duration)
	return m
}

// Handler は /metrics 用の HTTP ハンドラーを返します。
func (m *Jobs) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry は登録先のレジストリを返します。
func (m *Jobs) Registry() *prometheus.Registry {
	return m.registry
}

// Submitted は受け付けたジョブを1件記録します。
func (m *Jobs) Submitted() {
	if m == nil {
		return
	}
	m.submitted.Inc()
}

// Rejected はキューに載せられなかった投入を理由ごとに記録します。
func (m *Jobs) Rejected(reason string) {
	if m == nil {
		return
	}
	m.rejected.WithLabelValues(reason).Inc()
}

// Finished は終端状態に達したジョブと上流呼び出しの所要時間を記録します。
func (m *Jobs) Finished(state string, seconds float64) {
	if m == nil {
		return
	}
	m.finished.WithLabelValues(state).Inc()
	m.duration.Observe(seconds)
}

// Consumed は所有者へ返却した終端結果を記録します。
func (m *Jobs) Consumed(state string) {
	if m == nil {
		return
	}
	m.consumed.WithLabelValues(state).Inc()
}

// SetQueued は待機中のタスク数を設定します。
func (m *Jobs) SetQueued(n int) {
	if m == nil {
		return
	}
	m.queued.Set(float64(n))
}
