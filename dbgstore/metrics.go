package dbgstore

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	storeStored = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "debugbar",
		Subsystem: "store",
		Name:      "dumps_stored_total",
		Help:      "Dumps written to the store.",
	}, []string{"backend"})

	storeBytes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "debugbar",
		Subsystem: "store",
		Name:      "dump_bytes_total",
		Help:      "Serialized bytes of dumps written to the store.",
	}, []string{"backend"})

	storeRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "debugbar",
		Subsystem: "store",
		Name:      "dumps_rejected_total",
		Help:      "Dumps which were not written, by reason: capacity, invalid, error.",
	}, []string{"backend", "reason"})

	storeRetrieved = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "debugbar",
		Subsystem: "store",
		Name:      "dumps_retrieved_total",
		Help:      "Retrieve calls, by outcome: found, not_found, error.",
	}, []string{"backend", "outcome"})

	storePurged = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "debugbar",
		Subsystem: "store",
		Name:      "dumps_purged_total",
		Help:      "Expired dumps removed from the store.",
	}, []string{"backend"})
)
