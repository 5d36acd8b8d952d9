package opaqueauth

import (
	"sync/atomic"
)

// MetricID names one engine counter.
type MetricID uint16

const (
	// MetricRegisterStartSuccess counts opened registration handshakes.
	MetricRegisterStartSuccess MetricID = iota
	// MetricRegisterStartFailure counts rejected registration openings.
	MetricRegisterStartFailure
	// MetricRegisterFinishSuccess counts persisted pending accounts.
	MetricRegisterFinishSuccess
	// MetricRegisterFinishFailure counts failed registration closings.
	MetricRegisterFinishFailure
	// MetricLoginStartSuccess counts opened login handshakes.
	MetricLoginStartSuccess
	// MetricLoginStartFailure counts rejected login openings.
	MetricLoginStartFailure
	// MetricLoginFinishSuccess counts issued session keys.
	MetricLoginFinishSuccess
	// MetricLoginFinishFailure counts failed login closings.
	MetricLoginFinishFailure
	// MetricConfirmSuccess counts email confirmations that activated an account.
	MetricConfirmSuccess
	// MetricConfirmFailure counts rejected confirmation attempts.
	MetricConfirmFailure
	// MetricThrottleHit counts attempts refused by the per-flow windows.
	MetricThrottleHit
	// MetricDummyCredentialServed counts login openings answered from the
	// decoy credential for an unknown username.
	MetricDummyCredentialServed
	// MetricSessionIssued counts session keys written to the session slot.
	MetricSessionIssued
	// MetricSessionRemoved counts explicit session removals.
	MetricSessionRemoved
	// MetricMailDispatched counts confirmation mails handed to the mailer.
	MetricMailDispatched
	metricIDCount
)

const cacheLineSize = 64

type paddedCounter struct {
	value uint64
	_     [cacheLineSize - 8]byte
}

// Metrics is a fixed set of lock-free counters, one per MetricID.
type Metrics struct {
	enabled  bool
	counters [metricIDCount]paddedCounter
}

// MetricsSnapshot is a point-in-time copy of every counter.
type MetricsSnapshot struct {
	Counters map[MetricID]uint64
}

func NewMetrics(cfg MetricsConfig) *Metrics {
	return &Metrics{enabled: cfg.Enabled}
}

func (m *Metrics) Enabled() bool {
	return m != nil && m.enabled
}

func (m *Metrics) Inc(id MetricID) {
	if m == nil || !m.enabled || id >= metricIDCount {
		return
	}
	atomic.AddUint64(&m.counters[id].value, 1)
}

func (m *Metrics) Value(id MetricID) uint64 {
	if m == nil || id >= metricIDCount {
		return 0
	}
	return atomic.LoadUint64(&m.counters[id].value)
}

func (m *Metrics) Snapshot() MetricsSnapshot {
	if m == nil || !m.enabled {
		return MetricsSnapshot{Counters: map[MetricID]uint64{}}
	}

	s := MetricsSnapshot{Counters: make(map[MetricID]uint64, int(metricIDCount))}
	for id := MetricID(0); id < metricIDCount; id++ {
		s.Counters[id] = atomic.LoadUint64(&m.counters[id].value)
	}
	return s
}
