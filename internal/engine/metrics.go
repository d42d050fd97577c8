package engine

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ============================================================
// Prometheus метрики торгового ядра
// ============================================================

// ============ Латентность ============

// MatchLatency - время обработки одного ордера от извлечения из очереди до коммита
var MatchLatency = promauto.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: "spotex",
		Subsystem: "engine",
		Name:      "match_latency_ms",
		Help:      "Time to match and settle one order in milliseconds",
		Buckets:   []float64{0.5, 1, 2, 5, 10, 25, 50, 100, 250, 1000},
	},
	[]string{"symbol"},
)

// QueueWait - время ожидания команды в очереди
var QueueWait = promauto.NewHistogram(
	prometheus.HistogramOpts{
		Namespace: "spotex",
		Subsystem: "engine",
		Name:      "queue_wait_ms",
		Help:      "Time a command spends in the intake queue in milliseconds",
		Buckets:   []float64{0.1, 0.5, 1, 5, 10, 50, 100, 500, 2000},
	},
)

// ============ Счётчики ============

// OrdersSubmitted - принятые ордера
var OrdersSubmitted = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "spotex",
		Subsystem: "engine",
		Name:      "orders_submitted_total",
		Help:      "Orders accepted into the intake queue",
	},
	[]string{"symbol", "side", "type"},
)

// OrdersRejected - ордера, отклонённые до постановки в очередь
var OrdersRejected = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "spotex",
		Subsystem: "engine",
		Name:      "orders_rejected_total",
		Help:      "Orders rejected by validation or balance checks",
	},
	[]string{"reason"},
)

// OrdersCompleted - итоговый статус обработанных ордеров
var OrdersCompleted = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "spotex",
		Subsystem: "engine",
		Name:      "orders_completed_total",
		Help:      "Processed orders by resulting status",
	},
	[]string{"symbol", "status"},
)

// TradesExecuted - количество сделок
var TradesExecuted = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "spotex",
		Subsystem: "engine",
		Name:      "trades_executed_total",
		Help:      "Executed trades",
	},
	[]string{"symbol"},
)

// TradedVolume - объём сделок в базовом активе
var TradedVolume = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "spotex",
		Subsystem: "engine",
		Name:      "traded_base_volume_total",
		Help:      "Traded volume in base asset units",
	},
	[]string{"symbol"},
)

// SettlementFailures - откаты матчинга с компенсацией
var SettlementFailures = promauto.NewCounter(
	prometheus.CounterOpts{
		Namespace: "spotex",
		Subsystem: "engine",
		Name:      "settlement_failures_total",
		Help:      "Matching transactions rolled back and compensated",
	},
)

// ============ Состояние ============

// QueueDepth - текущая длина очереди
var QueueDepth = promauto.NewGauge(
	prometheus.GaugeOpts{
		Namespace: "spotex",
		Subsystem: "engine",
		Name:      "queue_depth",
		Help:      "Commands waiting in the intake queue",
	},
)

// ============ Хелперы ============

// RecordSubmitted записывает принятый ордер
func RecordSubmitted(symbol, side, orderType string) {
	OrdersSubmitted.WithLabelValues(symbol, side, orderType).Inc()
}

// RecordRejected записывает отказ с причиной
func RecordRejected(reason string) {
	OrdersRejected.WithLabelValues(reason).Inc()
}

// RecordMatch записывает обработку ордера
func RecordMatch(symbol, status string, took time.Duration) {
	MatchLatency.WithLabelValues(symbol).Observe(float64(took.Microseconds()) / 1000)
	OrdersCompleted.WithLabelValues(symbol, status).Inc()
}

// RecordTrade записывает сделку
func RecordTrade(symbol string, quantity float64) {
	TradesExecuted.WithLabelValues(symbol).Inc()
	TradedVolume.WithLabelValues(symbol).Add(quantity)
}

// RecordQueueWait записывает время ожидания команды
func RecordQueueWait(took time.Duration) {
	QueueWait.Observe(float64(took.Microseconds()) / 1000)
}

// RecordSettlementFailure записывает компенсированный откат
func RecordSettlementFailure() {
	SettlementFailures.Inc()
}

// UpdateQueueDepth обновляет длину очереди
func UpdateQueueDepth(n int) {
	QueueDepth.Set(float64(n))
}
