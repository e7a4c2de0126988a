package infra

import "testing"

func TestMetrics_CountersAccumulate(t *testing.T) {
	m := &Metrics{}

	m.IncDepthUpdatesProcessed()
	m.IncDepthUpdatesProcessed()
	m.IncTradesProcessed()
	m.IncParseErrors()
	m.IncSequenceGaps()
	m.IncResyncs()
	m.IncSPSCDrops()
	m.IncBroadcastEvictions()

	snap := m.Snapshot()
	if snap.DepthUpdatesProcessed != 2 {
		t.Errorf("DepthUpdatesProcessed = %d, want 2", snap.DepthUpdatesProcessed)
	}
	if snap.TradesProcessed != 1 {
		t.Errorf("TradesProcessed = %d, want 1", snap.TradesProcessed)
	}
	if snap.ParseErrors != 1 || snap.SequenceGaps != 1 || snap.ResyncsTriggered != 1 {
		t.Errorf("unexpected counters: %+v", snap)
	}
	if snap.SPSCDrops != 1 || snap.BroadcastEvictions != 1 {
		t.Errorf("unexpected counters: %+v", snap)
	}
}

func TestMetrics_ActiveSubscribersGauge(t *testing.T) {
	m := &Metrics{}

	m.SetActiveSubscribers(5)
	if snap := m.Snapshot(); snap.ActiveSubscribers != 5 {
		t.Errorf("ActiveSubscribers = %d, want 5", snap.ActiveSubscribers)
	}

	m.SetActiveSubscribers(2)
	if snap := m.Snapshot(); snap.ActiveSubscribers != 2 {
		t.Errorf("ActiveSubscribers = %d, want 2", snap.ActiveSubscribers)
	}
}

func TestMetrics_Reset(t *testing.T) {
	m := &Metrics{}

	m.IncDepthUpdatesProcessed()
	m.IncTradesProcessed()
	m.SetActiveSubscribers(3)

	m.Reset()
	snap := m.Snapshot()

	if snap.DepthUpdatesProcessed != 0 || snap.TradesProcessed != 0 || snap.ActiveSubscribers != 0 {
		t.Errorf("expected all counters zeroed after Reset, got %+v", snap)
	}
}
