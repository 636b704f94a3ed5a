// Package metrics содержит Prometheus-метрики движка выкупа.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	ReserveOperations = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "liquidity_reserve_operations_total",
		Help: "Reserve ledger operations by kind and result",
	}, []string{"operation", "result"})

	ReserveRatio = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "liquidity_reserve_ratio",
		Help: "Reserve balance divided by target, per offering",
	}, []string{"offering"})

	LowBalanceAlerts = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "liquidity_reserve_low_alerts_total",
		Help: "Edge-triggered low reserve alerts, per offering",
	}, []string{"offering"})

	Transitions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "liquidity_redemption_transitions_total",
		Help: "Redemption request transitions by target status and result",
	}, []string{"status", "result"})

	Deliveries = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "liquidity_notification_deliveries_total",
		Help: "Notification deliveries by channel and outcome",
	}, []string{"channel", "outcome"})

	DeliveryDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "liquidity_notification_delivery_seconds",
		Help:    "Time spent delivering one notification task",
		Buckets: prometheus.DefBuckets,
	}, []string{"channel"})
)

func init() {
	prometheus.MustRegister(
		ReserveOperations, ReserveRatio, LowBalanceAlerts,
		Transitions, Deliveries, DeliveryDuration,
	)
}

// Handler отдает метрики в формате Prometheus
func Handler() http.Handler {
	return promhttp.Handler()
}
