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
// ミドルウェア・貸出サービス・延滞スキャナーから利用する。
type MetricsCollector interface {
	RecordBorrow()
	RecordReturn()
	RecordLoanRejected(code string)
	RecordHTTPRequest(method string, statusCode int, duration time.Duration)
	SetOverdueLoans(count int)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	borrows      prometheus.Counter
	returns      prometheus.Counter
	loanRejected *prometheus.CounterVec
	httpStatus   *prometheus.CounterVec
	httpLatency  *prometheus.HistogramVec
	overdueLoans prometheus.Gauge
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		borrows: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "libraryapi_loans_borrowed_total",
			Help: "貸出成功の合計数",
		}),
		returns: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "libraryapi_loans_returned_total",
			Help: "返却成功の合計数",
		}),
		loanRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "libraryapi_loans_rejected_total",
			Help: "エラーコード別の貸出・返却拒否数",
		}, []string{"code"}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "libraryapi_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"method", "status_code"}),
		httpLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "libraryapi_http_request_duration_seconds",
			Help:    "HTTPリクエストの処理時間（秒）",
			Buckets: prometheus.DefBuckets,
		}, []string{"method"}),
		overdueLoans: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "libraryapi_overdue_loans",
			Help: "直近のスキャン時点で延滞中の貸出数",
		}),
	}

	reg.MustRegister(
		c.borrows,
		c.returns,
		c.loanRejected,
		c.httpStatus,
		c.httpLatency,
		c.overdueLoans,
	)

	return c
}

// RecordBorrow は貸出成功を記録する。
func (c *Collector) RecordBorrow() {
	c.borrows.Inc()
}

// RecordReturn は返却成功を記録する。
func (c *Collector) RecordReturn() {
	c.returns.Inc()
}

// RecordLoanRejected は貸出・返却の拒否をエラーコード別に記録する。
func (c *Collector) RecordLoanRejected(code string) {
	c.loanRejected.WithLabelValues(code).Inc()
}

// RecordHTTPRequest はHTTPレスポンスのステータスコードと処理時間を記録する。
func (c *Collector) RecordHTTPRequest(method string, statusCode int, duration time.Duration) {
	c.httpStatus.WithLabelValues(method, strconv.Itoa(statusCode)).Inc()
	c.httpLatency.WithLabelValues(method).Observe(duration.Seconds())
}

// SetOverdueLoans は延滞中の貸出数を設定する。
func (c *Collector) SetOverdueLoans(count int) {
	c.overdueLoans.Set(float64(count))
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
