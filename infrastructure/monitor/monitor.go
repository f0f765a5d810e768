package monitor

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Monitor Prometheus监控指标收集器。OMS 与 venue 进程各自持有一个实例。
type Monitor struct {
	registry *prometheus.Registry

	// OMS 订单指标
	ordersSubmitted prometheus.Counter
	ordersSent      prometheus.Counter
	cancelsSent     prometheus.Counter
	ordersRejected  *prometheus.CounterVec
	ackLatency      prometheus.Histogram

	// 成交指标
	fillsTotal   prometheus.Counter
	tradedVolume prometheus.Counter

	// 仓位指标
	position    prometheus.Gauge
	avgCost     prometheus.Gauge
	realizedPnL prometheus.Gauge
	openOrders  prometheus.Gauge

	// 协议异常
	anomalies       *prometheus.CounterVec
	unknownMessages prometheus.Counter

	// venue 指标
	venueAccepted  prometheus.Counter
	venueFills     prometheus.Counter
	venueCancels   prometheus.Counter
	venueRejects   *prometheus.CounterVec
	venueScheduled prometheus.Gauge
}

// Config 监控配置
type Config struct {
	Namespace string
	Subsystem string
}

// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	return Config{
		Namespace: "roundtrip",
		Subsystem: "oms",
	}
}

// New 创建新的Monitor实例
func New(cfg Config) *Monitor {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	counter := func(name, help string) prometheus.Counter {
		return factory.NewCounter(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      name,
			Help:      help,
		})
	}
	gauge := func(name, help string) prometheus.Gauge {
		return factory.NewGauge(prometheus.GaugeOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      name,
			Help:      help,
		})
	}
	counterVec := func(name, help string, labels ...string) *prometheus.CounterVec {
		return factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      name,
			Help:      help,
		}, labels)
	}

	return &Monitor{
		registry: reg,

		ordersSubmitted: counter("orders_submitted_total", "登记的新订单总数"),
		ordersSent:      counter("orders_sent_total", "发往 venue 的 NEW 总数"),
		cancelsSent:     counter("cancels_sent_total", "发往 venue 的 CANCEL 总数"),
		ordersRejected:  counterVec("orders_rejected_total", "订单拒绝总数", "source", "reason"),
		ackLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "ack_latency_seconds",
			Help:      "NEW 到 ACK 的延迟分布（秒）",
			Buckets:   []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0},
		}),

		fillsTotal:   counter("fills_total", "成交笔数总数"),
		tradedVolume: counter("traded_volume_total", "累计成交量"),

		position:    gauge("position", "当前净仓位"),
		avgCost:     gauge("avg_cost", "加权平均成本"),
		realizedPnL: gauge("realized_pnl", "已实现盈亏"),
		openOrders:  gauge("open_orders", "当前挂单数"),

		anomalies:       counterVec("protocol_anomalies_total", "协议异常次数", "kind"),
		unknownMessages: counter("unknown_messages_total", "无法识别的入站消息"),

		venueAccepted:  counter("venue_orders_accepted_total", "venue 接受的订单数"),
		venueFills:     counter("venue_fills_sent_total", "venue 发出的成交数"),
		venueCancels:   counter("venue_cancels_total", "venue 确认的撤单数"),
		venueRejects:   counterVec("venue_rejects_total", "venue 拒绝次数", "reason"),
		venueScheduled: gauge("venue_scheduled_fills", "待触发的成交计划数"),
	}
}

// 订单相关方法
func (m *Monitor) RecordOrderSubmitted() { m.ordersSubmitted.Inc() }

func (m *Monitor) RecordOrderSent() { m.ordersSent.Inc() }

func (m *Monitor) RecordCancelSent() { m.cancelsSent.Inc() }

func (m *Monitor) RecordOrderRejected(source, reason string) {
	m.ordersRejected.WithLabelValues(source, reason).Inc()
}

func (m *Monitor) RecordAckLatency(seconds float64) { m.ackLatency.Observe(seconds) }

// 成交相关方法
func (m *Monitor) RecordFill(qty int64) {
	m.fillsTotal.Inc()
	m.tradedVolume.Add(float64(qty))
}

// UpdatePosition 刷新仓位相关仪表。
func (m *Monitor) UpdatePosition(position int64, avgCost, realizedPnL float64) {
	m.position.Set(float64(position))
	m.avgCost.Set(avgCost)
	m.realizedPnL.Set(realizedPnL)
}

func (m *Monitor) UpdateOpenOrders(n int) { m.openOrders.Set(float64(n)) }

func (m *Monitor) RecordAnomaly(kind string) { m.anomalies.WithLabelValues(kind).Inc() }

func (m *Monitor) RecordUnknownMessage() { m.unknownMessages.Inc() }

// venue 相关方法
func (m *Monitor) RecordVenueAccepted() { m.venueAccepted.Inc() }

func (m *Monitor) RecordVenueFill() { m.venueFills.Inc() }

func (m *Monitor) RecordVenueCancel() { m.venueCancels.Inc() }

func (m *Monitor) RecordVenueReject(reason string) { m.venueRejects.WithLabelValues(reason).Inc() }

func (m *Monitor) UpdateScheduledFills(n int) { m.venueScheduled.Set(float64(n)) }

// Handler 返回HTTP handler用于暴露指标
func (m *Monitor) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry 返回prometheus registry
func (m *Monitor) Registry() *prometheus.Registry {
	return m.registry
}
