package workers

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	eventsReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relayer_events_received_total",
			Help: "Total number of router events received, by chain and event name",
		}, []string{"chain", "event"})
	relayOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relayer_deposits_total",
			Help: "Total number of deposits handled, by destination chain and outcome",
		}, []string{"dest_chain", "outcome"})
	lockWait = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "relayer_lock_wait_seconds",
			Help:    "Time spent waiting for the relay lock",
			Buckets: prometheus.ExponentialBuckets(0.001, 4, 10),
		})
	chainsDeployed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "relayer_chains_deployed_total",
			Help: "Total number of chains whose bridge contracts were deployed and registered",
		})
)
