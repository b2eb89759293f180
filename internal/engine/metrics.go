package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ============================================================
// Prometheus метрики торгового движка
// ============================================================
//
// - Счётчики ордеров, сделок и ликвидаций
// - Gauge'и открытого интереса и глубины книги
// - Латентность матчинга и цикла ликвидаций
//
// Экспортируются через /metrics (Grafana + Alertmanager).

// ============ Счётчики событий ============

// OrdersTotal - количество принятых ордеров
var OrdersTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "perpdex",
		Subsystem: "engine",
		Name:      "orders_total",
		Help:      "Total number of accepted orders",
	},
	[]string{"market", "side", "type"},
)

// OrdersRejected - количество отклонённых ордеров по причинам
var OrdersRejected = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "perpdex",
		Subsystem: "engine",
		Name:      "orders_rejected_total",
		Help:      "Total number of rejected orders",
	},
	[]string{"reason"}, // invalid_signature, size_limit, leverage, balance, market
)

// TradesTotal - количество сделок
var TradesTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "perpdex",
		Subsystem: "engine",
		Name:      "trades_total",
		Help:      "Total number of executed trades",
	},
	[]string{"market"},
)

// TradeVolume - нотиональный объём сделок в USD
var TradeVolume = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "perpdex",
		Subsystem: "engine",
		Name:      "trade_volume_usd",
		Help:      "Cumulative notional trade volume in USD",
	},
	[]string{"market"},
)

// LiquidationsTotal - количество ликвидаций
var LiquidationsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "perpdex",
		Subsystem: "risk",
		Name:      "liquidations_total",
		Help:      "Total number of forced liquidations",
	},
	[]string{"market", "side"},
)

// LiquidationLoss - суммарные потери трейдеров при ликвидациях
var LiquidationLoss = promauto.NewCounter(
	prometheus.CounterOpts{
		Namespace: "perpdex",
		Subsystem: "risk",
		Name:      "liquidation_loss_usd",
		Help:      "Cumulative trader loss from liquidations in USD",
	},
)

// ============ Метрики состояния ============

// OpenPositions - текущее количество открытых позиций
var OpenPositions = promauto.NewGaugeVec(
	prometheus.GaugeOpts{
		Namespace: "perpdex",
		Subsystem: "engine",
		Name:      "open_positions",
		Help:      "Current number of open positions",
	},
	[]string{"market"},
)

// OpenInterest - открытый интерес в USD
var OpenInterest = promauto.NewGaugeVec(
	prometheus.GaugeOpts{
		Namespace: "perpdex",
		Subsystem: "engine",
		Name:      "open_interest_usd",
		Help:      "Current open interest in USD",
	},
	[]string{"market"},
)

// BookDepth - количество ценовых уровней в книге
var BookDepth = promauto.NewGaugeVec(
	prometheus.GaugeOpts{
		Namespace: "perpdex",
		Subsystem: "engine",
		Name:      "book_depth_levels",
		Help:      "Current number of price levels in the order book",
	},
	[]string{"market", "side"},
)

// MarkPrice - текущая цена рынка
var MarkPrice = promauto.NewGaugeVec(
	prometheus.GaugeOpts{
		Namespace: "perpdex",
		Subsystem: "oracle",
		Name:      "mark_price",
		Help:      "Current mark price per market",
	},
	[]string{"market"},
)

// OracleFallbacks - переходы фида на симуляцию
var OracleFallbacks = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "perpdex",
		Subsystem: "oracle",
		Name:      "fallbacks_total",
		Help:      "Number of price updates served by the simulated walk",
	},
	[]string{"market"},
)

// ============ Метрики латентности ============

// MatchLatency - время матчинга одного ордера
var MatchLatency = promauto.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: "perpdex",
		Subsystem: "engine",
		Name:      "match_latency_ms",
		Help:      "Time to match one incoming order in milliseconds",
		Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
	},
	[]string{"market"},
)

// LiquidationSweepLatency - время одного прохода монитора ликвидаций
var LiquidationSweepLatency = promauto.NewHistogram(
	prometheus.HistogramOpts{
		Namespace: "perpdex",
		Subsystem: "risk",
		Name:      "sweep_latency_ms",
		Help:      "Time of one liquidation sweep in milliseconds",
		Buckets:   []float64{0.1, 0.5, 1, 5, 10, 50, 100},
	},
)

// ============ Вспомогательные функции ============

// RecordOrder записывает принятый ордер
func RecordOrder(market, side, orderType string) {
	OrdersTotal.WithLabelValues(market, side, orderType).Inc()
}

// RecordRejection записывает отклонённый ордер
func RecordRejection(reason string) {
	OrdersRejected.WithLabelValues(reason).Inc()
}

// RecordTrade записывает сделку
func RecordTrade(market string, notional float64) {
	TradesTotal.WithLabelValues(market).Inc()
	TradeVolume.WithLabelValues(market).Add(notional)
}

// RecordLiquidation записывает ликвидацию
func RecordLiquidation(market, side string, loss float64) {
	LiquidationsTotal.WithLabelValues(market, side).Inc()
	LiquidationLoss.Add(loss)
}

// UpdateMarkPrice обновляет текущую цену рынка
func UpdateMarkPrice(market string, price float64) {
	MarkPrice.WithLabelValues(market).Set(price)
}

// UpdateBookDepth обновляет глубину книги
func UpdateBookDepth(market string, bidLevels, askLevels int) {
	BookDepth.WithLabelValues(market, "bid").Set(float64(bidLevels))
	BookDepth.WithLabelValues(market, "ask").Set(float64(askLevels))
}
