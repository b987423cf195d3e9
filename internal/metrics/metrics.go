// Package metrics exposes prometheus collectors for the order workflow.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

type Metrics struct {
	Registry *prometheus.Registry

	OrdersCreated      prometheus.Counter
	Transitions        *prometheus.CounterVec
	OrdersExpired      prometheus.Counter
	OrdersRecovered    prometheus.Counter
	EventsPublished    prometheus.Counter
	SubscribersDropped prometheus.Counter
	SweepRuns          prometheus.Counter
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		Registry: reg,
		OrdersCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "orderledger_orders_created_total",
			Help: "Orders accepted into the ledger.",
		}),
		Transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "orderledger_order_transitions_total",
			Help: "Order status transitions by action.",
		}, []string{"action"}),
		OrdersExpired: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "orderledger_orders_expired_total",
			Help: "Processing orders auto-approved by the timeout sweep.",
		}),
		OrdersRecovered: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "orderledger_orders_recovered_total",
			Help: "Orders resurrected by the recovery matcher.",
		}),
		EventsPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "orderledger_events_published_total",
			Help: "Events handed to the distributor after dedup.",
		}),
		SubscribersDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "orderledger_event_subscribers_dropped_total",
			Help: "Subscribers dropped after their buffer overflowed.",
		}),
		SweepRuns: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "orderledger_timeout_sweeps_total",
			Help: "Timeout supervisor sweep passes.",
		}),
	}
	reg.MustRegister(
		collectors.NewGoCollector(),
		m.OrdersCreated,
		m.Transitions,
		m.OrdersExpired,
		m.OrdersRecovered,
		m.EventsPublished,
		m.SubscribersDropped,
		m.SweepRuns,
	)
	return m
}
