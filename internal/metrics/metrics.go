package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics 汇总系统核心链路的监控指标。
type Metrics struct {
	SignalsTotal    *prometheus.CounterVec // 按信号方向统计
	SignalFailures  prometheus.Counter     // 批量信号生成中的单标的失败数
	TradesTotal     *prometheus.CounterVec // 按交易方向统计已完成交易
	TradeRejections *prometheus.CounterVec // 按拒绝原因统计
	PriceFallbacks  prometheus.Counter     // 行情服务不可用退回模拟价的次数
	TradeExecDur    prometheus.Histogram   // 交易执行耗时（含落库）
}

// NewMetrics 创建并注册全部指标。
func NewMetrics() *Metrics {
	m := &Metrics{
		SignalsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "quantsim_signals_total",
			Help: "Total strategy signals generated (by signal kind)",
		}, []string{"kind"}),
		SignalFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "quantsim_signal_failures_total",
			Help: "Per-instrument failures during batch signal generation",
		}),
		TradesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "quantsim_trades_total",
			Help: "Total completed simulated trades (by trade kind)",
		}, []string{"kind"}),
		TradeRejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "quantsim_trade_rejections_total",
			Help: "Rejected trade instructions (by reason)",
		}, []string{"reason"}),
		PriceFallbacks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "quantsim_price_fallbacks_total",
			Help: "Price lookups served by the local simulated price",
		}),
		TradeExecDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "quantsim_trade_execution_duration_seconds",
			Help:    "Trade execution latency including persistence",
			Buckets: prometheus.DefBuckets,
		}),
	}

	prometheus.MustRegister(
		m.SignalsTotal,
		m.SignalFailures,
		m.TradesTotal,
		m.TradeRejections,
		m.PriceFallbacks,
		m.TradeExecDur,
	)

	return m
}
