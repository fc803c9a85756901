package bank

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics instruments the core services. Constructed once in main and
// attached to services via their SetMetrics hooks; every call site is
// nil-safe so tests can run without a registry.
type Metrics struct {
	transfersTotal      *prometheus.CounterVec
	withdrawalsTotal    *prometheus.CounterVec
	cashoutsTotal       *prometheus.CounterVec
	tanIssuedTotal      *prometheus.CounterVec
	tanValidationsTotal *prometheus.CounterVec
	tokensIssuedTotal   prometheus.Counter
	longPollWaiters     prometheus.Gauge
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		transfersTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "bankd",
				Subsystem: "ledger",
				Name:      "transfers_total",
				Help:      "Transfers partitioned by flavor and outcome.",
			},
			[]string{"flavor", "outcome"},
		),
		withdrawalsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "bankd",
				Subsystem: "withdrawal",
				Name:      "operations_total",
				Help:      "Withdrawal operation events partitioned by transition.",
			},
			[]string{"event"},
		),
		cashoutsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "bankd",
				Subsystem: "cashout",
				Name:      "operations_total",
				Help:      "Cashout operation events partitioned by transition.",
			},
			[]string{"event"},
		),
		tanIssuedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "bankd",
				Subsystem: "tan",
				Name:      "issued_total",
				Help:      "TAN challenges issued partitioned by channel.",
			},
			[]string{"channel"},
		),
		tanValidationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "bankd",
				Subsystem: "tan",
				Name:      "validations_total",
				Help:      "TAN validation attempts partitioned by result.",
			},
			[]string{"result"},
		),
		tokensIssuedTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: "bankd",
				Subsystem: "auth",
				Name:      "tokens_issued_total",
				Help:      "Bearer tokens issued, including refreshes.",
			},
		),
		longPollWaiters: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "bankd",
				Subsystem: "http",
				Name:      "long_poll_waiters",
				Help:      "Long-poll requests currently parked on the change hub.",
			},
		),
	}
}

func (m *Metrics) LongPollStarted() {
	if m != nil {
		m.longPollWaiters.Inc()
	}
}

func (m *Metrics) LongPollFinished() {
	if m != nil {
		m.longPollWaiters.Dec()
	}
}

func (m *Metrics) TokenIssued() {
	if m != nil {
		m.tokensIssuedTotal.Inc()
	}
}
