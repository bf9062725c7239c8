// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

// Package packmetrics exports pack statistics to prometheus.
package packmetrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"storj.io/relstore/packundo"
)

const namespace = "relstore"

// Metrics implements packundo.Observer.
type Metrics struct {
	RefsUnits                prometheus.Counter
	RefsStored               prometheus.Counter
	ReachableObjects         prometheus.Gauge
	PlannedStates            prometheus.Gauge
	RemovedStates            prometheus.Counter
	PackedTransactions       prometheus.Counter
	DeletedEmptyTransactions prometheus.Counter
	PhaseDuration            *prometheus.HistogramVec
	PhaseFailures            *prometheus.CounterVec
}

var _ packundo.Observer = (*Metrics)(nil)

// New creates pack metrics registered with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		RefsUnits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pack",
			Name:      "refs_units_analyzed_total",
			Help:      "Transactions or objects whose references were analyzed.",
		}),
		RefsStored: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pack",
			Name:      "refs_stored_total",
			Help:      "Reference edges stored by reference analysis.",
		}),
		ReachableObjects: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "pack",
			Name:      "reachable_objects",
			Help:      "Objects found reachable by the last traversal.",
		}),
		PlannedStates: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "pack",
			Name:      "planned_states",
			Help:      "Object states the last pre pack planned to remove.",
		}),
		RemovedStates: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pack",
			Name:      "states_removed_total",
			Help:      "Object states removed by pack.",
		}),
		PackedTransactions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pack",
			Name:      "transactions_packed_total",
			Help:      "Transactions marked packed.",
		}),
		DeletedEmptyTransactions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pack",
			Name:      "empty_transactions_deleted_total",
			Help:      "Empty transactions deleted after packing.",
		}),
		PhaseDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "pack",
			Name:      "phase_duration_seconds",
			Help:      "Duration of pack phases.",
			Buckets:   prometheus.ExponentialBuckets(0.1, 4, 10),
		}, []string{"phase"}),
		PhaseFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pack",
			Name:      "phase_failures_total",
			Help:      "Pack phases that returned an error.",
		}, []string{"phase"}),
	}

	reg.MustRegister(
		m.RefsUnits,
		m.RefsStored,
		m.ReachableObjects,
		m.PlannedStates,
		m.RemovedStates,
		m.PackedTransactions,
		m.DeletedEmptyTransactions,
		m.PhaseDuration,
		m.PhaseFailures,
	)
	return m
}

// RefsAnalyzed implements packundo.Observer.
func (m *Metrics) RefsAnalyzed(units, refs int) {
	m.RefsUnits.Add(float64(units))
	m.RefsStored.Add(float64(refs))
}

// Reachable implements packundo.Observer.
func (m *Metrics) Reachable(count int) { m.ReachableObjects.Set(float64(count)) }

// Planned implements packundo.Observer.
func (m *Metrics) Planned(states int) { m.PlannedStates.Set(float64(states)) }

// StatesRemoved implements packundo.Observer.
func (m *Metrics) StatesRemoved(count int) { m.RemovedStates.Add(float64(count)) }

// TransactionsPacked implements packundo.Observer.
func (m *Metrics) TransactionsPacked(count int) { m.PackedTransactions.Add(float64(count)) }

// EmptyTransactionsDeleted implements packundo.Observer.
func (m *Metrics) EmptyTransactionsDeleted(count int) { m.DeletedEmptyTransactions.Add(float64(count)) }

// PhaseDone implements packundo.Observer.
func (m *Metrics) PhaseDone(phase string, duration time.Duration, err error) {
	m.PhaseDuration.WithLabelValues(phase).Observe(duration.Seconds())
	if err != nil {
		m.PhaseFailures.WithLabelValues(phase).Inc()
	}
}
