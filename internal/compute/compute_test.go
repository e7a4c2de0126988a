package compute

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"feedengine/internal/domain"
	"feedengine/internal/orderbook"
	"feedengine/internal/tradeflow"
	"feedengine/pkg/fixed"
)

type fakeSource struct {
	events []*domain.EngineEvent
}

func (f *fakeSource) push(ev *domain.EngineEvent) {
	f.events = append(f.events, ev)
}

func (f *fakeSource) TryPop() (*domain.EngineEvent, bool) {
	if len(f.events) == 0 {
		return nil, false
	}
	ev := f.events[0]
	f.events = f.events[1:]
	return ev, true
}

type fakeGapSignaler struct {
	signals int
}

func (f *fakeGapSignaler) OnSequenceGapSignal() { f.signals++ }

type fakeBroadcaster struct {
	metricsCalls int
	alerts       []domain.TradeAlert
	statuses     []bool
}

func (f *fakeBroadcaster) BroadcastMetrics(book domain.BookSnapshot, trade domain.TradeFlowMetrics) {
	f.metricsCalls++
}

func (f *fakeBroadcaster) BroadcastAlert(alert domain.TradeAlert) {
	f.alerts = append(f.alerts, alert)
}

func (f *fakeBroadcaster) BroadcastStatus(connected bool) {
	f.statuses = append(f.statuses, connected)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func lvl(p string, q float64) domain.PriceLevel {
	price, err := fixed.Parse(p)
	if err != nil {
		panic(err)
	}
	return domain.PriceLevel{Price: price, Qty: q}
}

func newTestCore(source *fakeSource, gap *fakeGapSignaler, out *fakeBroadcaster, interval time.Duration) *Core {
	book := orderbook.New("btcusdt", 10)
	flow := tradeflow.New(10, 2.0)
	return New(source, book, flow, gap, out, nil, testLogger(), interval)
}

func drainAll(t *testing.T, source *fakeSource, c *Core) {
	t.Helper()
	source.push(domain.NewSimpleEvent(domain.EventShutdown))
	ctx := context.Background()
	c.Run(ctx)
}

func TestDispatch_SnapshotAppliesAndForcesEmit(t *testing.T) {
	source := &fakeSource{}
	gap := &fakeGapSignaler{}
	out := &fakeBroadcaster{}
	c := newTestCore(source, gap, out, time.Hour)

	source.push(domain.NewSnapshotEvent(&domain.DepthSnapshot{
		LastUpdateID: 100,
		Bids:         []domain.PriceLevel{lvl("100.00", 1)},
		Asks:         []domain.PriceLevel{lvl("100.10", 1)},
	}))
	drainAll(t, source, c)

	if c.sync != syncSynced {
		t.Error("expected sync state Synced after snapshot")
	}
	if out.metricsCalls != 1 {
		t.Errorf("expected exactly one forced metrics emission, got %d", out.metricsCalls)
	}
}

func TestDispatch_DepthUpdateDroppedWhileWaitingSnapshot(t *testing.T) {
	source := &fakeSource{}
	gap := &fakeGapSignaler{}
	out := &fakeBroadcaster{}
	c := newTestCore(source, gap, out, time.Hour)

	source.push(domain.NewDepthUpdateEvent(&domain.DepthUpdate{FirstUpdateID: 1, FinalUpdateID: 1}))
	drainAll(t, source, c)

	if len(c.book.BidLevels()) != 0 {
		t.Error("depth update should have been dropped before a snapshot arrived")
	}
}

func TestDispatch_DepthUpdateGapTriggersResync(t *testing.T) {
	source := &fakeSource{}
	gap := &fakeGapSignaler{}
	out := &fakeBroadcaster{}
	c := newTestCore(source, gap, out, time.Hour)

	source.push(domain.NewSnapshotEvent(&domain.DepthSnapshot{LastUpdateID: 100}))
	// PrevFinalUpdateID should be 100 to chain cleanly; supply a gap instead.
	source.push(domain.NewDepthUpdateEvent(&domain.DepthUpdate{FirstUpdateID: 150, FinalUpdateID: 155, PrevFinalUpdateID: 149}))
	drainAll(t, source, c)

	if gap.signals != 1 {
		t.Errorf("expected exactly one gap signal, got %d", gap.signals)
	}
	if c.sync != syncWaitingSnapshot {
		t.Error("expected sync state to revert to WaitingSnapshot after a gap")
	}
}

func TestDispatch_DepthUpdateAppliesWhenChained(t *testing.T) {
	source := &fakeSource{}
	gap := &fakeGapSignaler{}
	out := &fakeBroadcaster{}
	c := newTestCore(source, gap, out, time.Hour)

	source.push(domain.NewSnapshotEvent(&domain.DepthSnapshot{
		LastUpdateID: 100,
		Bids:         []domain.PriceLevel{lvl("100.00", 1)},
		Asks:         []domain.PriceLevel{lvl("100.10", 1)},
	}))
	source.push(domain.NewDepthUpdateEvent(&domain.DepthUpdate{
		FirstUpdateID: 101, FinalUpdateID: 101, PrevFinalUpdateID: 100,
		Bids: []domain.PriceLevel{lvl("100.00", 5)},
	}))
	drainAll(t, source, c)

	if gap.signals != 0 {
		t.Error("expected no gap signal for a chained update")
	}
	if c.book.LastUpdateID() != 101 {
		t.Errorf("last update id = %d, want 101", c.book.LastUpdateID())
	}
}

func TestDispatch_AggTradeBroadcastsAlertWhenPresent(t *testing.T) {
	source := &fakeSource{}
	gap := &fakeGapSignaler{}
	out := &fakeBroadcaster{}
	c := newTestCore(source, gap, out, time.Hour)

	price, _ := fixed.Parse("100.00")
	for i := 0; i < 5; i++ {
		source.push(domain.NewAggTradeEvent(&domain.AggTrade{Price: price, Qty: 1.0, IsBuyerMaker: true}))
	}
	source.push(domain.NewAggTradeEvent(&domain.AggTrade{Price: price, Qty: 1000.0, IsBuyerMaker: false}))
	drainAll(t, source, c)

	if len(out.alerts) != 1 {
		t.Fatalf("expected exactly one alert, got %d", len(out.alerts))
	}
	if !out.alerts[0].IsBuy {
		t.Error("expected the large trade to be flagged as a buy")
	}
}

func TestDispatch_ConnectionEventsBroadcastStatusAndResetSync(t *testing.T) {
	source := &fakeSource{}
	gap := &fakeGapSignaler{}
	out := &fakeBroadcaster{}
	c := newTestCore(source, gap, out, time.Hour)
	c.sync = syncSynced

	source.push(domain.NewSimpleEvent(domain.EventConnectionLost))
	drainAll(t, source, c)

	if c.sync != syncWaitingSnapshot {
		t.Error("expected ConnectionLost to revert sync state to WaitingSnapshot")
	}
	if len(out.statuses) != 1 || out.statuses[0] != false {
		t.Errorf("expected one disconnected status broadcast, got %+v", out.statuses)
	}
}

func TestDispatch_SequenceGapEventClearsBookAndSignals(t *testing.T) {
	source := &fakeSource{}
	gap := &fakeGapSignaler{}
	out := &fakeBroadcaster{}
	c := newTestCore(source, gap, out, time.Hour)

	source.push(domain.NewSnapshotEvent(&domain.DepthSnapshot{
		LastUpdateID: 1,
		Bids:         []domain.PriceLevel{lvl("1.00", 1)},
		Asks:         []domain.PriceLevel{lvl("1.10", 1)},
	}))
	source.push(domain.NewSimpleEvent(domain.EventSequenceGap))
	drainAll(t, source, c)

	if len(c.book.BidLevels()) != 0 {
		t.Error("expected book to be cleared on a sequence gap event")
	}
	if gap.signals != 1 {
		t.Errorf("expected exactly one gap signal, got %d", gap.signals)
	}
}

func TestRun_ExitsOnShutdownEvent(t *testing.T) {
	source := &fakeSource{}
	gap := &fakeGapSignaler{}
	out := &fakeBroadcaster{}
	c := newTestCore(source, gap, out, time.Hour)

	source.push(domain.NewSimpleEvent(domain.EventShutdown))

	done := make(chan struct{})
	go func() {
		c.Run(context.Background())
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after a Shutdown event")
	}
}

func TestRun_ExitsOnContextCancel(t *testing.T) {
	source := &fakeSource{}
	gap := &fakeGapSignaler{}
	out := &fakeBroadcaster{}
	c := newTestCore(source, gap, out, time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	done := make(chan struct{})
	go func() {
		c.Run(ctx)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return promptly after context cancellation")
	}
}
