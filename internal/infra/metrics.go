package infra

import (
	"sync/atomic"
	"time"
)

// Metrics holds the engine's operational counters: atomic, lock-free,
// cheap enough to bump from the compute core's hot path. No external
// dependency is wired here on purpose — a counter is a single
// instruction, and nothing in the retrieved corpus reaches for a
// library just to add one.
type Metrics struct {
	depthUpdatesProcessed atomic.Uint64
	tradesProcessed       atomic.Uint64
	parseErrors           atomic.Uint64
	sequenceGaps          atomic.Uint64
	resyncsTriggered      atomic.Uint64
	spscDrops             atomic.Uint64
	broadcastEvictions    atomic.Uint64
	activeSubscribers     atomic.Int32
}

// GlobalMetrics is the singleton instance shared by the compute core
// and the broadcast fan-out, so neither needs a reference threaded
// through every call site that only wants to bump a counter.
var GlobalMetrics = &Metrics{}

func (m *Metrics) IncDepthUpdatesProcessed() { m.depthUpdatesProcessed.Add(1) }
func (m *Metrics) IncTradesProcessed()       { m.tradesProcessed.Add(1) }
func (m *Metrics) IncParseErrors()           { m.parseErrors.Add(1) }
func (m *Metrics) IncSequenceGaps()          { m.sequenceGaps.Add(1) }
func (m *Metrics) IncResyncs()               { m.resyncsTriggered.Add(1) }
func (m *Metrics) IncSPSCDrops()             { m.spscDrops.Add(1) }
func (m *Metrics) IncBroadcastEvictions()    { m.broadcastEvictions.Add(1) }

// SetActiveSubscribers updates the current subscriber-count gauge.
func (m *Metrics) SetActiveSubscribers(n int32) { m.activeSubscribers.Store(n) }

// MetricsSnapshot is a point-in-time view of every counter, suitable
// for logging or persisting via the storage journal.
type MetricsSnapshot struct {
	DepthUpdatesProcessed uint64
	TradesProcessed       uint64
	ParseErrors           uint64
	SequenceGaps          uint64
	ResyncsTriggered      uint64
	SPSCDrops             uint64
	BroadcastEvictions    uint64
	ActiveSubscribers     int32
	Timestamp             time.Time
}

// Snapshot returns the current counters as a value type.
func (m *Metrics) Snapshot() MetricsSnapshot {
	return MetricsSnapshot{
		DepthUpdatesProcessed: m.depthUpdatesProcessed.Load(),
		TradesProcessed:       m.tradesProcessed.Load(),
		ParseErrors:           m.parseErrors.Load(),
		SequenceGaps:          m.sequenceGaps.Load(),
		ResyncsTriggered:      m.resyncsTriggered.Load(),
		SPSCDrops:             m.spscDrops.Load(),
		BroadcastEvictions:    m.broadcastEvictions.Load(),
		ActiveSubscribers:     m.activeSubscribers.Load(),
		Timestamp:             time.Now(),
	}
}

// Reset clears every counter. Used by tests.
func (m *Metrics) Reset() {
	m.depthUpdatesProcessed.Store(0)
	m.tradesProcessed.Store(0)
	m.parseErrors.Store(0)
	m.sequenceGaps.Store(0)
	m.resyncsTriggered.Store(0)
	m.spscDrops.Store(0)
	m.broadcastEvictions.Store(0)
	m.activeSubscribers.Store(0)
}
