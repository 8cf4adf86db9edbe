package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// PoolMetrics aggregates the counters the accounting core emits. All methods
// are nil-safe so the core can run without a registry in tests.
type PoolMetrics struct {
	settlements   *prometheus.CounterVec
	accruals      *prometheus.CounterVec
	routed        *prometheus.CounterVec
	facadeOps     *prometheus.CounterVec
	activeCredits prometheus.Gauge
}

var (
	poolOnce     sync.Once
	poolRegistry *PoolMetrics
)

// Pool returns the process-wide pool metrics registry.
func Pool() *PoolMetrics {
	poolOnce.Do(func() {
		poolRegistry = &PoolMetrics{
			settlements: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "pool_settlements_total",
				Help: "Count of index settlements applied by stream.",
			}, []string{"stream"}),
			accruals: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "pool_accruals_total",
				Help: "Count of index accruals by stream and income source.",
			}, []string{"stream", "source"}),
			routed: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "pool_fees_routed_total",
				Help: "Count of routed fee splits by destination and source.",
			}, []string{"destination", "source"}),
			facadeOps: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "pool_facade_operations_total",
				Help: "Count of facade operations settled against the core.",
			}, []string{"facade", "op"}),
			activeCredits: prometheus.NewGauge(prometheus.GaugeOpts{
				Name: "pool_active_credit_principal",
				Help: "Matured active-credit principal currently earning rewards.",
			}),
		}
		prometheus.MustRegister(
			poolRegistry.settlements,
			poolRegistry.accruals,
			poolRegistry.routed,
			poolRegistry.facadeOps,
			poolRegistry.activeCredits,
		)
	})
	return poolRegistry
}

// ObserveSettlement records an index settlement for the named stream.
func (m *PoolMetrics) ObserveSettlement(stream string) {
	if m == nil {
		return
	}
	if stream == "" {
		stream = "unknown"
	}
	m.settlements.WithLabelValues(stream).Inc()
}

// ObserveAccrual records an index accrual with its income source tag.
func (m *PoolMetrics) ObserveAccrual(stream, source string) {
	if m == nil {
		return
	}
	if stream == "" {
		stream = "unknown"
	}
	if source == "" {
		source = "unknown"
	}
	m.accruals.WithLabelValues(stream, source).Inc()
}

// ObserveRouted records one leg of a routed fee split.
func (m *PoolMetrics) ObserveRouted(destination, source string) {
	if m == nil {
		return
	}
	if destination == "" {
		destination = "unknown"
	}
	if source == "" {
		source = "unknown"
	}
	m.routed.WithLabelValues(destination, source).Inc()
}

// ObserveFacadeOp records a facade operation settling against the core.
func (m *PoolMetrics) ObserveFacadeOp(facade, op string) {
	if m == nil {
		return
	}
	m.facadeOps.WithLabelValues(facade, op).Inc()
}

// SetActiveCreditPrincipal publishes the pool's matured weight total.
func (m *PoolMetrics) SetActiveCreditPrincipal(value float64) {
	if m == nil {
		return
	}
	m.activeCredits.Set(value)
}
