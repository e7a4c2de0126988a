// Package compute implements the engine's single-consumer compute
// core (C9): it drains the SPSC ring, applies each event to the order
// book and trade-flow aggregator, and periodically broadcasts the
// resulting analytics. It never touches the network.
package compute

import (
	"context"
	"log/slog"
	"time"

	"feedengine/internal/domain"
	"feedengine/internal/orderbook"
	"feedengine/internal/tradeflow"
)

// idlePollInterval bounds how long the drain loop sleeps when the
// ring is empty, per the spec's "poll and sleep briefly (<= 1ms) when
// idle" requirement.
const idlePollInterval = time.Millisecond

// syncState tracks whether the book is currently trustworthy enough
// to broadcast. It is distinct from feed.Machine's FeedState: the
// compute core only needs to know whether it has a coherent book, not
// which connection phase produced that state.
type syncState int

const (
	syncWaitingSnapshot syncState = iota
	syncSynced
)

// Source is the consumer side of the SPSC ring: anything that yields
// the next EngineEvent, or reports none available.
type Source interface {
	TryPop() (*domain.EngineEvent, bool)
}

// GapSignaler is implemented by the feed state machine: the compute
// core calls it when a sequence gap forces a fresh snapshot cycle.
type GapSignaler interface {
	OnSequenceGapSignal()
}

// Broadcaster is implemented by the broadcast fan-out (C10).
type Broadcaster interface {
	BroadcastMetrics(book domain.BookSnapshot, trade domain.TradeFlowMetrics)
	BroadcastAlert(alert domain.TradeAlert)
	BroadcastStatus(connected bool)
}

// Metrics is the subset of infra.Metrics the compute core bumps.
// Defined locally so this package does not import infra and create a
// cycle; infra.Metrics satisfies it.
type Metrics interface {
	IncDepthUpdatesProcessed()
	IncTradesProcessed()
	IncSequenceGaps()
	IncResyncs()
}

// Core is the compute context: single-threaded owner of the order
// book and trade-flow aggregator.
type Core struct {
	source  Source
	book    *orderbook.Book
	flow    *tradeflow.Aggregator
	gap     GapSignaler
	out     Broadcaster
	metrics Metrics
	logger  *slog.Logger

	sync          syncState
	metricsEvery  time.Duration
	lastEmit      time.Time
	forceNextEmit bool
}

// New constructs a Core in the WaitingSnapshot sync state.
func New(source Source, book *orderbook.Book, flow *tradeflow.Aggregator, gap GapSignaler, out Broadcaster, metrics Metrics, logger *slog.Logger, metricsInterval time.Duration) *Core {
	return &Core{
		source:       source,
		book:         book,
		flow:         flow,
		gap:          gap,
		out:          out,
		metrics:      metrics,
		logger:       logger,
		sync:         syncWaitingSnapshot,
		metricsEvery: metricsInterval,
	}
}

// Run drains the ring until a Shutdown event is observed or ctx is
// canceled. It owns the book and aggregator exclusively for its
// lifetime — no other goroutine may touch them.
func (c *Core) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		ev, ok := c.source.TryPop()
		if !ok {
			c.maybeEmitMetrics()
			time.Sleep(idlePollInterval)
			continue
		}

		if c.dispatch(ev) {
			domain.ReleaseEvent(ev)
			return
		}
		domain.ReleaseEvent(ev)
		c.maybeEmitMetrics()
	}
}

// dispatch applies one event and reports whether the loop should
// exit (true only for Shutdown).
func (c *Core) dispatch(ev *domain.EngineEvent) bool {
	switch ev.Kind {
	case domain.EventSnapshot:
		c.book.ApplySnapshot(ev.Snapshot)
		c.sync = syncSynced
		c.forceNextEmit = true

	case domain.EventDepthUpdate:
		c.handleDepthUpdate(ev.DepthUpdate)

	case domain.EventAggTrade:
		c.handleAggTrade(ev.AggTrade)

	case domain.EventConnectionLost:
		c.sync = syncWaitingSnapshot
		c.out.BroadcastStatus(false)

	case domain.EventConnectionRestored:
		c.sync = syncWaitingSnapshot
		c.out.BroadcastStatus(true)

	case domain.EventSequenceGap:
		c.sync = syncWaitingSnapshot
		c.book.Clear()
		c.gap.OnSequenceGapSignal()
		if c.metrics != nil {
			c.metrics.IncSequenceGaps()
		}

	case domain.EventShutdown:
		return true
	}
	return false
}

func (c *Core) handleDepthUpdate(u *domain.DepthUpdate) {
	if c.sync != syncSynced {
		return
	}
	if c.book.HasSequenceGap(u.FirstUpdateID, u.PrevFinalUpdateID) {
		c.sync = syncWaitingSnapshot
		c.book.Clear()
		c.gap.OnSequenceGapSignal()
		if c.metrics != nil {
			c.metrics.IncSequenceGaps()
			c.metrics.IncResyncs()
		}
		return
	}
	c.book.ApplyUpdate(u)
	if c.metrics != nil {
		c.metrics.IncDepthUpdatesProcessed()
	}
}

func (c *Core) handleAggTrade(t *domain.AggTrade) {
	result := c.flow.AddTrade(t)
	if c.metrics != nil {
		c.metrics.IncTradesProcessed()
	}
	if result.LastAlert != nil {
		c.out.BroadcastAlert(*result.LastAlert)
	}
}

// maybeEmitMetrics broadcasts the current book/trade-flow view if
// enough wall-time has elapsed since the last emission, or if a fresh
// snapshot forced an out-of-cadence emission. Emission requires the
// book to currently be in sync — a WaitingSnapshot core has nothing
// trustworthy to publish.
func (c *Core) maybeEmitMetrics() {
	if c.sync != syncSynced {
		return
	}
	now := time.Now()
	if !c.forceNextEmit && now.Sub(c.lastEmit) < c.metricsEvery {
		return
	}
	c.forceNextEmit = false
	c.lastEmit = now
	c.out.BroadcastMetrics(c.book.Snapshot(), c.flow.Current())
}
