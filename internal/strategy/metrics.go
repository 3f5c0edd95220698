package strategy

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ============================================================
// Prometheus метрики стратегии
// ============================================================

// ticksTotal - число тиков стратегии
var ticksTotal = promauto.NewCounter(
	prometheus.CounterOpts{
		Namespace: "cryptotrader",
		Subsystem: "strategy",
		Name:      "ticks_total",
		Help:      "Total number of strategy ticks",
	},
)

// windowsDetected - число найденных открытых окон
var windowsDetected = promauto.NewCounter(
	prometheus.CounterOpts{
		Namespace: "cryptotrader",
		Subsystem: "strategy",
		Name:      "windows_detected_total",
		Help:      "Number of open arbitrage windows detected",
	},
)

// ordersPlaced - число успешно размещённых прямых ордеров
var ordersPlaced = promauto.NewCounter(
	prometheus.CounterOpts{
		Namespace: "cryptotrader",
		Subsystem: "strategy",
		Name:      "orders_placed_total",
		Help:      "Number of direct arbitrage orders successfully placed",
	},
)

// ordersReversed - число успешно размещённых реверсивных ордеров
var ordersReversed = promauto.NewCounter(
	prometheus.CounterOpts{
		Namespace: "cryptotrader",
		Subsystem: "strategy",
		Name:      "orders_reversed_total",
		Help:      "Number of reversing orders successfully placed",
	},
)

// queueDepth - глубина очереди реверса после тика
var queueDepth = promauto.NewGauge(
	prometheus.GaugeOpts{
		Namespace: "cryptotrader",
		Subsystem: "strategy",
		Name:      "reverse_queue_depth",
		Help:      "Number of order pairs waiting for reversal",
	},
)

// tickDuration - длительность тика стратегии
var tickDuration = promauto.NewHistogram(
	prometheus.HistogramOpts{
		Namespace: "cryptotrader",
		Subsystem: "strategy",
		Name:      "tick_duration_seconds",
		Help:      "Duration of one strategy tick in seconds",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
	},
)
