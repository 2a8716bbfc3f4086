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
// サービス層・ミドルウェア・同期ワーカーから利用する。
type MetricsCollector interface {
	RecordInvitation(event string)
	RecordProvisioningSuccess(reused bool)
	RecordProvisioningFailure(stage string)
	RecordOwnerBlock(reason string)
	RecordSyncResult(ok bool, duration time.Duration)
	RecordSyncDropped()
	RecordHTTPStatus(statusCode int)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	invitations      *prometheus.CounterVec
	provisioned      *prometheus.CounterVec
	provisioningFail *prometheus.CounterVec
	ownerBlocks      *prometheus.CounterVec
	syncResults      *prometheus.CounterVec
	syncDropped      prometheus.Counter
	syncLatency      prometheus.Histogram
	httpStatus       *prometheus.CounterVec
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		invitations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "factory_invitation_events_total",
			Help: "招待イベント（created, accepted, rejected）の合計数",
		}, []string{"event"}),
		provisioned: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "factory_provisioning_success_total",
			Help: "プロビジョニング成功の合計数（既存IdPアカウント再利用の有無別）",
		}, []string{"reused"}),
		provisioningFail: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "factory_provisioning_failure_total",
			Help: "段階別のプロビジョニング失敗の合計数",
		}, []string{"stage"}),
		ownerBlocks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "factory_owner_guard_blocks_total",
			Help: "オーナー保護で拒否された操作の合計数",
		}, []string{"reason"}),
		syncResults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "factory_stock_sync_total",
			Help: "共有在庫への同期結果の合計数",
		}, []string{"result"}),
		syncDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "factory_stock_sync_dropped_total",
			Help: "キュー満杯で破棄された同期ジョブの合計数",
		}),
		syncLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "factory_stock_sync_latency_seconds",
			Help:    "共有在庫への同期のレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "factory_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
	}

	reg.MustRegister(
		c.invitations,
		c.provisioned,
		c.provisioningFail,
		c.ownerBlocks,
		c.syncResults,
		c.syncDropped,
		c.syncLatency,
		c.httpStatus,
	)

	return c
}

// RecordInvitation は招待イベントを記録する。
func (c *Collector) RecordInvitation(event string) {
	c.invitations.WithLabelValues(event).Inc()
}

// RecordProvisioningSuccess はプロビジョニング成功を記録する。
func (c *Collector) RecordProvisioningSuccess(reused bool) {
	c.provisioned.WithLabelValues(strconv.FormatBool(reused)).Inc()
}

// RecordProvisioningFailure はプロビジョニング失敗を段階別に記録する。
func (c *Collector) RecordProvisioningFailure(stage string) {
	c.provisioningFail.WithLabelValues(stage).Inc()
}

// RecordOwnerBlock はオーナー保護による拒否を記録する。
func (c *Collector) RecordOwnerBlock(reason string) {
	c.ownerBlocks.WithLabelValues(reason).Inc()
}

// RecordSyncResult は同期結果とレイテンシを記録する。
func (c *Collector) RecordSyncResult(ok bool, duration time.Duration) {
	result := "success"
	if !ok {
		result = "failure"
	}
	c.syncResults.WithLabelValues(result).Inc()
	c.syncLatency.Observe(duration.Seconds())
}

// RecordSyncDropped はキュー満杯による同期ジョブの破棄を記録する。
func (c *Collector) RecordSyncDropped() {
	c.syncDropped.Inc()
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// Nop は何も記録しないMetricsCollector。メトリクスが不要なテストやサブコマンドで使う。
type Nop struct{}

func (Nop) RecordInvitation(string)              {}
func (Nop) RecordProvisioningSuccess(bool)       {}
func (Nop) RecordProvisioningFailure(string)     {}
func (Nop) RecordOwnerBlock(string)              {}
func (Nop) RecordSyncResult(bool, time.Duration) {}
func (Nop) RecordSyncDropped()                   {}
func (Nop) RecordHTTPStatus(int)                 {}

// compile-time interface check
var (
	_ MetricsCollector = (*Collector)(nil)
	_ MetricsCollector = Nop{}
)
